package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

func TestPipelineMetricsRecordsObservations(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPipelineMetrics("api", registry)

	m.ObserveStage("Retrieving", 20*time.Millisecond)
	m.ObserveDegraded(domain.DegradedDense)
	m.ObserveDegraded(domain.DegradedDense)
	m.ObserveAnswer(domain.ConfidenceHigh, 2)
	m.ObserveBreakerState("ollama.embed", gobreaker.StateOpen)

	if got := testutil.ToFloat64(m.degradedTotal.WithLabelValues("api", domain.DegradedDense)); got != 2 {
		t.Fatalf("degraded dense = %v", got)
	}
	if got := testutil.ToFloat64(m.answersTotal.WithLabelValues("api", string(domain.ConfidenceHigh))); got != 1 {
		t.Fatalf("answers high = %v", got)
	}
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("api", "ollama.embed")); got != 2 {
		t.Fatalf("breaker state = %v", got)
	}
	if n := testutil.CollectAndCount(m.stageDuration); n != 1 {
		t.Fatalf("expected one stage series, got %d", n)
	}
}

func TestHTTPMiddlewareNormalizesIDs(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	for _, path := range []string{"/v1/documents/a", "/v1/documents/b"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodGet, "/v1/documents/{document_id}", "404"))
	if got != 2 {
		t.Fatalf("requests_total = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "gqa_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}
