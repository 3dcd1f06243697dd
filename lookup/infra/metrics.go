package infra

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lookup-gateway/lookup/domain"
)

const subsystem = "lookup"

// PromObserver exporta os eventos do motor como métricas Prometheus.
// Satisfaz application.Observer.
type PromObserver struct {
	batches        prometheus.Counter
	batchSize      prometheus.Histogram
	batchOutcomes  *prometheus.CounterVec
	attempts       *prometheus.CounterVec
	attemptLatency prometheus.Histogram
	resolutions    *prometheus.CounterVec
}

// NewPromObserver cria e registra as métricas em reg.
func NewPromObserver(reg prometheus.Registerer) (*PromObserver, error) {
	o := &PromObserver{
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "batches_dispatched_total",
			Help:      "Count of batches handed to the upstream worker.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "batch_size",
			Help:      "Number of unique keys per dispatched batch.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 75, 100},
		}),
		batchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "batches_completed_total",
			Help:      "Count of completed batches by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "upstream_attempts_total",
			Help:      "Count of upstream calls by result.",
		}, []string{"result"}),
		attemptLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "upstream_attempt_duration_seconds",
			Help:      "Latency of a single upstream call.",
			Buckets:   prometheus.DefBuckets,
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "resolutions_total",
			Help:      "Count of resolutions by source.",
		}, []string{"source"}),
	}

	for _, c := range []prometheus.Collector{o.batches, o.batchSize, o.batchOutcomes, o.attempts, o.attemptLatency, o.resolutions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PromObserver) BatchDispatched(size int) {
	o.batches.Inc()
	o.batchSize.Observe(float64(size))
}

func (o *PromObserver) UpstreamAttempt(err error, took time.Duration) {
	o.attemptLatency.Observe(took.Seconds())
	o.attempts.WithLabelValues(attemptResult(err)).Inc()
}

func (o *PromObserver) BatchCompleted(_ int, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	o.batchOutcomes.WithLabelValues(outcome).Inc()
}

func (o *PromObserver) Resolved(src domain.Source) {
	o.resolutions.WithLabelValues(string(src)).Inc()
}

func attemptResult(err error) string {
	var te *domain.TransportError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &te):
		return "transient"
	case domain.IsRetryable(err):
		return "timeout"
	default:
		return "permanent"
	}
}
