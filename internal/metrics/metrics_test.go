package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glizzus/voice-relay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewDoesNotCollideAcrossRegistries(t *testing.T) {
	a := metrics.New(prometheus.NewRegistry())
	b := metrics.New(prometheus.NewRegistry())

	a.FramesForwarded.Inc()
	if got := testutil.ToFloat64(b.FramesForwarded); got != 0 {
		t.Errorf("expected independent counters, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.FramesDropped.WithLabelValues(metrics.DropNotOpen).Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := `voicerelay_frames_dropped_total{reason="not_open"} 3`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("expected body to contain %q, got:\n%s", want, rec.Body.String())
	}
}
