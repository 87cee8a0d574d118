package badge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/phpci/buildstatus/pkg/ci"
	"github.com/phpci/buildstatus/pkg/metrics"
)

// DefaultBranch is used when a request names no branch.
const DefaultBranch = "master"

// Logger is the subset of slog.Logger the resolver writes to.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Request identifies the build whose status is wanted.
type Request struct {
	ProjectID int
	Branch    string
	CommitID  string
}

// Resolver maps a project's latest build to a badge key.
type Resolver struct {
	projects      ci.ProjectStore
	builds        ci.BuildStore
	cache         Cache
	cacheTTL      time.Duration
	defaultBranch string
	logger        Logger
	recorder      metrics.Recorder
	tracer        trace.Tracer
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithCache enables caching of resolved keys for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithDefaultBranch overrides DefaultBranch.
func WithDefaultBranch(branch string) Option {
	return func(r *Resolver) {
		if strings.TrimSpace(branch) != "" {
			r.defaultBranch = branch
		}
	}
}

func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Resolver) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

func NewResolver(projects ci.ProjectStore, builds ci.BuildStore, logger Logger, opts ...Option) *Resolver {
	r := &Resolver{
		projects:      projects,
		builds:        builds,
		defaultBranch: DefaultBranch,
		logger:        logger,
		recorder:      metrics.NoopRecorder{},
		tracer:        otel.Tracer("github.com/phpci/buildstatus/pkg/badge"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the badge key for req. ok is false when the project does
// not exist or does not publish its status. Lookup failures resolve to
// KeyError rather than an error.
func (r *Resolver) Resolve(ctx context.Context, req Request) (key Key, ok bool) {
	if strings.TrimSpace(req.Branch) == "" {
		req.Branch = r.defaultBranch
	}

	ctx, span := r.tracer.Start(ctx, "badge.Resolve", trace.WithAttributes(
		attribute.Int("project.id", req.ProjectID),
		attribute.String("build.branch", req.Branch),
		attribute.String("build.commit_id", req.CommitID),
	))
	start := time.Now()
	cached := false
	defer func() {
		span.SetAttributes(attribute.String("badge.key", string(key)), attribute.Bool("badge.cached", cached))
		span.End()
		if ok {
			r.recorder.ObserveResolve(string(key), cached, time.Since(start))
		}
	}()

	project, err := r.projects.GetByID(ctx, req.ProjectID)
	if errors.Is(err, ci.ErrNotFound) || (err == nil && project == nil) {
		return NoStatus, false
	}
	if err != nil {
		r.fail(span, "project", req, err)
		return KeyError, true
	}
	if !project.AllowPublicStatus {
		return NoStatus, false
	}

	// Only the build-derived key is cached; visibility is checked every time.
	ck := cacheKey(req)
	if r.cache != nil && r.cacheTTL > 0 {
		hit, found, err := r.cache.Get(ctx, ck)
		if err != nil {
			r.recorder.IncLookupError("cache")
			r.logger.Warn("badge cache read failed", "project_id", req.ProjectID, "error", err)
		} else if found {
			cached = true
			return hit, true
		}
	}

	build, err := ci.LatestBuild(ctx, r.builds, project.ID, req.Branch, req.CommitID)
	if err != nil {
		r.fail(span, "build", req, err)
		return KeyError, true
	}

	key = KeyNew
	if build != nil {
		key = ForStatus(build.Status)
	}

	if r.cache != nil && r.cacheTTL > 0 && key != KeyError {
		if err := r.cache.Set(ctx, ck, key, r.cacheTTL); err != nil {
			r.recorder.IncLookupError("cache")
			r.logger.Warn("badge cache write failed", "project_id", req.ProjectID, "error", err)
		}
	}
	return key, true
}

// cacheKey length-prefixes the branch so separators inside branch or commit
// names cannot make two requests share an entry.
func cacheKey(req Request) string {
	return fmt.Sprintf("%d:%d:%s:%s", req.ProjectID, len(req.Branch), req.Branch, req.CommitID)
}

func (r *Resolver) fail(span trace.Span, stage string, req Request, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.recorder.IncLookupError(stage)
	r.logger.Error("status lookup failed", "stage", stage, "project_id", req.ProjectID, "branch", req.Branch, "error", err)
}
