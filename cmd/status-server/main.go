package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phpci/buildstatus/pkg/badge"
	"github.com/phpci/buildstatus/pkg/ci"
	"github.com/phpci/buildstatus/pkg/config"
	"github.com/phpci/buildstatus/pkg/logging"
	"github.com/phpci/buildstatus/pkg/metrics"
	"github.com/phpci/buildstatus/pkg/statusapi"
	"github.com/phpci/buildstatus/pkg/telemetry"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type app struct {
	logger *slog.Logger
	checks map[string]pinger
}

func main() {
	cfg, err := config.LoadStatus()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "buildstatus", cfg.TraceExporter, logger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}()

	a := &app{logger: logger, checks: map[string]pinger{}}

	repo, closeRepo, err := a.openRepository(ctx, cfg)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(reg)

	opts := []badge.Option{
		badge.WithDefaultBranch(cfg.DefaultBranch),
		badge.WithRecorder(recorder),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := badge.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("badge cache disabled", "error", err)
		} else {
			opts = append(opts, badge.WithCache(cache, cfg.BadgeCacheTTL))
			a.checks["redis"] = cache
			defer func() {
				if err := cache.Close(); err != nil {
					logger.Error("redis close error", "error", err)
				}
			}()
		}
	}

	assets := badge.AssetsFromDir(cfg.AssetsDir)
	if err := assets.Check(); err != nil {
		logger.Error("badge assets incomplete", "dir", cfg.AssetsDir, "error", err)
		os.Exit(1)
	}

	srv, err := statusapi.New(statusapi.Config{
		Projects:      repo,
		Builds:        repo,
		Resolver:      badge.NewResolver(repo, repo, logger, opts...),
		Assets:        assets,
		Logger:        logger,
		Recorder:      recorder,
		DefaultBranch: cfg.DefaultBranch,
	})
	if err != nil {
		logger.Error("status server init failed", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(timeoutMiddleware(cfg.RequestTimeout))

	router.Get("/healthz", a.handleHealth)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.Mount("/status", srv.Routes())

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", "error", err)
		}
	}()

	logger.Info("status server listening", "addr", cfg.ListenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("status server failed", "error", err)
		return
	}

	<-ctx.Done()
	logger.Info("status server stopped")
}

// openRepository selects Postgres when a database URL is configured and the
// in-memory store otherwise.
func (a *app) openRepository(ctx context.Context, cfg config.StatusConfig) (ci.Repository, func(), error) {
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := ci.NewPostgresStore(connectCtx, dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(connectCtx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		a.checks["postgres"] = pg
		a.logger.Info("using postgres store")
		return pg, func() {
			if err := pg.Close(); err != nil {
				a.logger.Error("postgres close error", "error", err)
			}
		}, nil
	}

	mem, err := ci.LoadMemStore(cfg.DataFile)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("using in-memory store", "data_file", cfg.DataFile)
	return mem, func() {}, nil
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	status := http.StatusOK
	for name, check := range a.checks {
		if err := check.Ping(r.Context()); err != nil {
			a.logger.Warn("health check failed", "check", name, "error", err)
			resp[name] = "error"
			resp["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func timeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if timeout <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
