package ci

import "time"

// BuildStatus is the persisted lifecycle state of a build.
type BuildStatus int

const (
	StatusPending BuildStatus = 0
	StatusRunning BuildStatus = 1
	StatusSuccess BuildStatus = 2
	StatusFailed  BuildStatus = 3
)

// Project types understood by the build view layer.
const (
	TypeGithub     = "github"
	TypeBitbucket  = "bitbucket"
	TypeGitlab     = "gitlab"
	TypeRemote     = "remote"
	TypeLocal      = "local"
	TypeMercurial  = "hg"
	TypeSubversion = "svn"
)

// Project describes a CI project.
type Project struct {
	ID                int    `json:"id"`
	Title             string `json:"title"`
	Reference         string `json:"reference"`
	Type              string `json:"type"`
	Branch            string `json:"branch"`
	AllowPublicStatus bool   `json:"allow_public_status"`
}

// Build is a single run of a project's pipeline for one commit.
type Build struct {
	ID             int         `json:"id"`
	ProjectID      int         `json:"project_id"`
	Branch         string      `json:"branch"`
	CommitID       string      `json:"commit_id"`
	CommitMessage  string      `json:"commit_message,omitempty"`
	CommitterEmail string      `json:"committer_email,omitempty"`
	Status         BuildStatus `json:"status"`
	Created        time.Time   `json:"created"`
	Started        *time.Time  `json:"started,omitempty"`
	Finished       *time.Time  `json:"finished,omitempty"`
}

// Order selects the id ordering of a build query.
type Order string

const (
	OrderIDDesc Order = "id DESC"
	OrderIDAsc  Order = "id ASC"
)

// BuildQuery captures the criteria accepted by BuildStore.GetWhere.
// ProjectID is always filtered on unless AllProjects is set. Empty string
// and nil fields are not filtered on.
type BuildQuery struct {
	ProjectID   int
	AllProjects bool
	Branch      string
	CommitID    string
	Status      *BuildStatus
	Limit       int
	Offset      int
	Order       Order
}

// BuildList is a page of builds plus the total number matching the criteria.
type BuildList struct {
	Items []Build `json:"items"`
	Count int     `json:"count"`
}
