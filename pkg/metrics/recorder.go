package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Recorder receives status service observations.
type Recorder interface {
	ObserveResolve(key string, cached bool, d time.Duration)
	IncLookupError(stage string)
	IncBadgeServed(format, key string)
	IncStatusPage(outcome string)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) ObserveResolve(string, bool, time.Duration) {}
func (NoopRecorder) IncLookupError(string)                      {}
func (NoopRecorder) IncBadgeServed(string, string)              {}
func (NoopRecorder) IncStatusPage(string)                       {}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	resolveDuration *prom.HistogramVec
	lookupErrors    *prom.CounterVec
	badgesServed    *prom.CounterVec
	statusPages     *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		resolveDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "buildstatus",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a project's badge key",
			Buckets:   prom.DefBuckets,
		}, []string{"key", "cached"}),
		lookupErrors: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildstatus",
			Name:      "lookup_errors_total",
			Help:      "Store or cache failures swallowed while resolving status",
		}, []string{"stage"}),
		badgesServed: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildstatus",
			Name:      "badges_served_total",
			Help:      "Status responses served by format and badge key",
		}, []string{"format", "key"}),
		statusPages: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildstatus",
			Name:      "status_pages_total",
			Help:      "Public status page requests by outcome",
		}, []string{"outcome"}),
	}
	reg.MustRegister(pr.resolveDuration, pr.lookupErrors, pr.badgesServed, pr.statusPages)
	return pr
}

func (p *PrometheusRecorder) ObserveResolve(key string, cached bool, d time.Duration) {
	c := "false"
	if cached {
		c = "true"
	}
	p.resolveDuration.WithLabelValues(key, c).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncLookupError(stage string) {
	p.lookupErrors.WithLabelValues(stage).Inc()
}

func (p *PrometheusRecorder) IncBadgeServed(format, key string) {
	p.badgesServed.WithLabelValues(format, key).Inc()
}

func (p *PrometheusRecorder) IncStatusPage(outcome string) {
	p.statusPages.WithLabelValues(outcome).Inc()
}
