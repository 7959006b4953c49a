package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by a Worker.
type Metrics struct {
	Requests   *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	QueueDepth prometheus.Gauge
}

// NewMetrics creates and registers worker metrics with registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "psbthsm_sign_requests_total",
				Help: "Signing requests processed, by kind and outcome code",
			},
			[]string{"kind", "outcome"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "psbthsm_sign_duration_seconds",
				Help:    "Time spent authorizing and signing a request",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"kind"},
		),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "psbthsm_sign_queue_depth",
			Help: "Requests waiting for the signing worker",
		}),
	}
}

func (m *Metrics) observe(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(kind, outcome).Inc()
	m.Duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) setDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
