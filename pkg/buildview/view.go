// Package buildview turns stored builds into the presentation objects used by
// the public status page.
package buildview

import (
	"net/url"
	"strings"
	"time"

	"github.com/phpci/buildstatus/pkg/ci"
)

// View is a build hydrated with project-specific links and labels.
type View struct {
	ci.Build
	ShortCommitID string
	CommitLink    string
	BranchLink    string
	StatusLabel   string
	StatusClass   string
	Duration      time.Duration
	HasDuration   bool
}

type linker interface {
	commitLink(reference, commitID string) string
	branchLink(reference, branch string) string
}

// New hydrates b using the link scheme of p's project type.
func New(p ci.Project, b ci.Build) View {
	v := View{
		Build:         b,
		ShortCommitID: shortCommit(b.CommitID),
		StatusLabel:   Label(b.Status),
		StatusClass:   Class(b.Status),
	}
	if l := linkerFor(p.Type); l != nil && p.Reference != "" {
		if b.CommitID != "" {
			v.CommitLink = l.commitLink(p.Reference, b.CommitID)
		}
		if b.Branch != "" {
			v.BranchLink = l.branchLink(p.Reference, b.Branch)
		}
	}
	if b.Started != nil && b.Finished != nil && !b.Finished.Before(*b.Started) {
		v.Duration = b.Finished.Sub(*b.Started).Round(time.Second)
		v.HasDuration = true
	}
	return v
}

// Hydrate converts builds in order.
func Hydrate(p ci.Project, builds []ci.Build) []View {
	views := make([]View, 0, len(builds))
	for _, b := range builds {
		views = append(views, New(p, b))
	}
	return views
}

// Label is the human readable status name.
func Label(s ci.BuildStatus) string {
	switch s {
	case ci.StatusPending:
		return "Pending"
	case ci.StatusRunning:
		return "Running"
	case ci.StatusSuccess:
		return "Success"
	case ci.StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Class is the CSS modifier used to colour a status.
func Class(s ci.BuildStatus) string {
	switch s {
	case ci.StatusPending:
		return "info"
	case ci.StatusRunning:
		return "warning"
	case ci.StatusSuccess:
		return "success"
	case ci.StatusFailed:
		return "danger"
	default:
		return "default"
	}
}

func shortCommit(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

func linkerFor(projectType string) linker {
	switch projectType {
	case ci.TypeGithub:
		return hostLinker{base: "https://github.com", commitPath: "/commit/", branchPath: "/tree/"}
	case ci.TypeBitbucket:
		return hostLinker{base: "https://bitbucket.org", commitPath: "/commits/", branchPath: "/src/?at="}
	case ci.TypeGitlab:
		return gitlabLinker{}
	default:
		return nil
	}
}

type hostLinker struct {
	base       string
	commitPath string
	branchPath string
}

func (h hostLinker) commitLink(reference, commitID string) string {
	return h.base + "/" + strings.Trim(reference, "/") + h.commitPath + url.PathEscape(commitID)
}

func (h hostLinker) branchLink(reference, branch string) string {
	escaped := escapePath(branch)
	if strings.HasSuffix(h.branchPath, "=") {
		escaped = url.QueryEscape(branch)
	}
	return h.base + "/" + strings.Trim(reference, "/") + h.branchPath + escaped
}

// gitlabLinker accepts "host/group/project" or "git@host:group/project".
type gitlabLinker struct{}

func (gitlabLinker) base(reference string) string {
	ref := strings.TrimSuffix(strings.TrimSpace(reference), ".git")
	if at := strings.Index(ref, "@"); at >= 0 {
		ref = strings.Replace(ref[at+1:], ":", "/", 1)
	}
	ref = strings.TrimPrefix(ref, "https://")
	ref = strings.TrimPrefix(ref, "http://")
	return "https://" + strings.Trim(ref, "/")
}

func (g gitlabLinker) commitLink(reference, commitID string) string {
	return g.base(reference) + "/commit/" + url.PathEscape(commitID)
}

func (g gitlabLinker) branchLink(reference, branch string) string {
	return g.base(reference) + "/tree/" + escapePath(branch)
}

// escapePath escapes each segment of p and keeps the slashes between them.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
