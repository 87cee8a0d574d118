package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prom.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.IncBadgeServed("svg", "passing-green")
	rec.IncBadgeServed("svg", "passing-green")
	rec.IncLookupError("project")
	rec.IncStatusPage("ok")
	rec.ObserveResolve("passing-green", false, 5*time.Millisecond)

	if got := testutil.ToFloat64(rec.badgesServed.WithLabelValues("svg", "passing-green")); got != 2 {
		t.Fatalf("expected 2 badges served, got %v", got)
	}
	if got := testutil.ToFloat64(rec.lookupErrors.WithLabelValues("project")); got != 1 {
		t.Fatalf("expected 1 lookup error, got %v", got)
	}
	if got := testutil.ToFloat64(rec.statusPages.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected 1 status page, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.resolveDuration); n != 1 {
		t.Fatalf("expected one resolve histogram series, got %d", n)
	}
}
