package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const namespace = "gqa"

// PipelineMetrics observes the answer pipeline. It satisfies
// ports.PipelineObserver and doubles as a circuit breaker state observer.
type PipelineMetrics struct {
	service string

	stageDuration *prometheus.HistogramVec
	degradedTotal *prometheus.CounterVec
	answersTotal  *prometheus.CounterVec
	citations     prometheus.Histogram
	breakerState  *prometheus.GaugeVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each answer pipeline state.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 90},
		},
		[]string{"service", "stage"},
	)
	degradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "degraded_total",
			Help:      "Answers produced with a degraded path (dense, sparse, rerank, judge).",
		},
		[]string{"service", "path"},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "answers_total",
			Help:      "Completed answers by confidence tier.",
		},
		[]string{"service", "confidence"},
	)
	citations := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "citations",
			Help:        "Citations attached per answer.",
			Buckets:     []float64{0, 1, 2, 3, 4, 6, 8},
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)

	registerer.MustRegister(stageDuration, degradedTotal, answersTotal, citations, breakerState)

	return &PipelineMetrics{
		service:       service,
		stageDuration: stageDuration,
		degradedTotal: degradedTotal,
		answersTotal:  answersTotal,
		citations:     citations,
		breakerState:  breakerState,
	}
}

func (m *PipelineMetrics) ObserveStage(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(m.service, stage).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveDegraded(path string) {
	m.degradedTotal.WithLabelValues(m.service, path).Inc()
}

func (m *PipelineMetrics) ObserveAnswer(confidence domain.Confidence, citations int) {
	m.answersTotal.WithLabelValues(m.service, string(confidence)).Inc()
	m.citations.Observe(float64(citations))
}

func (m *PipelineMetrics) ObserveBreakerState(operation string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(v)
}
