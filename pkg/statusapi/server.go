// Package statusapi serves public build status: SVG badges, a JSON status and
// an HTML status page.
package statusapi

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/phpci/buildstatus/pkg/badge"
	"github.com/phpci/buildstatus/pkg/buildview"
	"github.com/phpci/buildstatus/pkg/ci"
	"github.com/phpci/buildstatus/pkg/metrics"
)

//go:embed templates/*.html
var templatesFS embed.FS

// latestBuildsLimit caps the builds listed on the status page.
const latestBuildsLimit = 10

// Config wires a Server to its collaborators.
type Config struct {
	Projects      ci.ProjectStore
	Builds        ci.BuildStore
	Resolver      *badge.Resolver
	Assets        *badge.Assets
	Logger        *slog.Logger
	Recorder      metrics.Recorder
	DefaultBranch string
}

// Server holds the status handlers.
type Server struct {
	projects      ci.ProjectStore
	builds        ci.BuildStore
	resolver      *badge.Resolver
	assets        *badge.Assets
	logger        *slog.Logger
	recorder      metrics.Recorder
	tracer        trace.Tracer
	defaultBranch string
	pages         *template.Template
}

type viewPage struct {
	Project ci.Project
	Branch  string
	Latest  *buildview.View
	Builds  []buildview.View
}

type errorPage struct {
	Code    int
	Title   string
	Message string
}

type statusResponse struct {
	ProjectID int    `json:"project_id"`
	Branch    string `json:"branch"`
	CommitID  string `json:"commit_id,omitempty"`
	Status    string `json:"status"`
}

func New(cfg Config) (*Server, error) {
	if cfg.Projects == nil || cfg.Builds == nil {
		return nil, fmt.Errorf("project and build stores are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NoopRecorder{}
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = badge.DefaultBranch
	}
	if cfg.Resolver == nil {
		cfg.Resolver = badge.NewResolver(cfg.Projects, cfg.Builds, cfg.Logger,
			badge.WithDefaultBranch(cfg.DefaultBranch), badge.WithRecorder(cfg.Recorder))
	}
	if cfg.Assets == nil {
		cfg.Assets = badge.DefaultAssets()
	}

	pages, err := template.New("pages").Funcs(template.FuncMap{
		"formatTime": formatTime,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	return &Server{
		projects:      cfg.Projects,
		builds:        cfg.Builds,
		resolver:      cfg.Resolver,
		assets:        cfg.Assets,
		logger:        cfg.Logger,
		recorder:      cfg.Recorder,
		tracer:        otel.Tracer("github.com/phpci/buildstatus/pkg/statusapi"),
		defaultBranch: cfg.DefaultBranch,
		pages:         pages,
	}, nil
}

// Routes returns the status router, meant to be mounted at /status.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/image/{projectID}", s.handleImage)
	r.Get("/json/{projectID}", s.handleJSON)
	r.Get("/view/{projectID}", s.handleView)
	return r
}

func (s *Server) resolve(r *http.Request) (badge.Request, badge.Key, bool) {
	q := r.URL.Query()
	req := badge.Request{
		Branch:   q.Get("branch"),
		CommitID: q.Get("commitId"),
	}
	if req.Branch == "" {
		req.Branch = s.defaultBranch
	}
	id, err := strconv.Atoi(chi.URLParam(r, "projectID"))
	if err != nil {
		return req, badge.NoStatus, false
	}
	req.ProjectID = id
	key, ok := s.resolver.Resolve(r.Context(), req)
	return req, key, ok
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	_, key, ok := s.resolve(r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	image, err := s.assets.Load(key)
	if err != nil {
		s.logger.Error("load badge asset", "key", key, "error", err)
		if key != badge.KeyError {
			image, err = s.assets.Load(badge.KeyError)
		}
		if err != nil {
			http.Error(w, "badge unavailable", http.StatusInternalServerError)
			return
		}
		key = badge.KeyError
	}

	s.recorder.IncBadgeServed("svg", string(key))
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(image)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	req, key, ok := s.resolve(r)
	if !ok {
		respondError(w, http.StatusNotFound, "project not found")
		return
	}

	s.recorder.IncBadgeServed("json", string(key))
	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, statusResponse{
		ProjectID: req.ProjectID,
		Branch:    req.Branch,
		CommitID:  req.CommitID,
		Status:    string(key),
	}, http.StatusOK)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "projectID")
	id, err := strconv.Atoi(raw)
	if err != nil {
		s.recorder.IncStatusPage("not_found")
		s.renderError(w, http.StatusNotFound, fmt.Sprintf("Project with id: %s not found", raw))
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "statusapi.View", trace.WithAttributes(attribute.Int("project.id", id)))
	defer span.End()

	project, err := s.projects.GetByID(ctx, id)
	if errors.Is(err, ci.ErrNotFound) || (err == nil && (project == nil || !project.AllowPublicStatus)) {
		s.recorder.IncStatusPage("not_found")
		s.renderError(w, http.StatusNotFound, fmt.Sprintf("Project with id: %d not found", id))
		return
	}
	if err != nil {
		s.viewFailed(ctx, w, span, id, err)
		return
	}

	builds, err := s.latestBuilds(ctx, *project)
	if err != nil {
		s.viewFailed(ctx, w, span, id, err)
		return
	}

	branch := project.Branch
	if branch == "" {
		branch = s.defaultBranch
	}
	page := viewPage{Project: *project, Branch: branch, Builds: builds}
	if len(builds) > 0 {
		page.Latest = &builds[0]
	}
	span.SetAttributes(attribute.Int("builds.count", len(builds)))

	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, "view.html", page); err != nil {
		s.viewFailed(ctx, w, span, id, fmt.Errorf("render status page: %w", err))
		return
	}

	s.recorder.IncStatusPage("ok")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) latestBuilds(ctx context.Context, project ci.Project) ([]buildview.View, error) {
	list, err := s.builds.GetWhere(ctx, ci.BuildQuery{
		ProjectID: project.ID,
		Limit:     latestBuildsLimit,
		Order:     ci.OrderIDDesc,
	})
	if err != nil {
		return nil, fmt.Errorf("list builds for project %d: %w", project.ID, err)
	}
	items := list.Items
	if len(items) > latestBuildsLimit {
		items = items[:latestBuildsLimit]
	}
	return buildview.Hydrate(project, items), nil
}

func (s *Server) viewFailed(ctx context.Context, w http.ResponseWriter, span trace.Span, id int, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.recorder.IncStatusPage("error")
	s.logger.ErrorContext(ctx, "status page failed", "project_id", id, "error", err)
	s.renderError(w, http.StatusInternalServerError, "The status page could not be loaded.")
}

func (s *Server) renderError(w http.ResponseWriter, code int, message string) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, "error.html", errorPage{
		Code:    code,
		Title:   http.StatusText(code),
		Message: message,
	}); err != nil {
		http.Error(w, message, code)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}
