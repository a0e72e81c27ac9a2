package statistics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/studiowebux/searchmeter/internal/types"
)

func init() {
	RegisterFactory(ImplPrometheus, func(d Descriptor, _ Deps) (Sink, error) {
		return NewPrometheusSink(d.Param("namespace", "searchmeter")), nil
	})
}

// PrometheusSink exports observations as prometheus metrics.
//
// Each instance owns its own registry so a restarted run starts from zero instead of
// colliding with the previous run's collectors.
type PrometheusSink struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	qtime      *prometheus.HistogramVec
}

// NewPrometheusSink creates a sink with a private registry
func NewPrometheusSink(namespace string) *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations observed by kind and outcome category",
		}, []string{"kind", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Client-measured operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"kind"}),
		qtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "server_qtime_seconds",
			Help:      "Server-reported processing time",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"kind"}),
	}
	s.registry.MustRegister(s.operations, s.latency, s.qtime)
	return s
}

// Publish records one observation
func (s *PrometheusSink) Publish(obs types.Observation) {
	outcome := SuccessLabel
	if !obs.Success {
		outcome = obs.Category.String()
	}
	kind := obs.Kind.String()
	s.operations.WithLabelValues(kind, outcome).Inc()
	if obs.Issued {
		s.latency.WithLabelValues(kind).Observe(obs.Latency.Seconds())
	}
	if obs.Success && obs.Meta.QTime >= 0 {
		s.qtime.WithLabelValues(kind).Observe(float64(obs.Meta.QTime) / 1000)
	}
}

// Gather implements prometheus.Gatherer
func (s *PrometheusSink) Gather() ([]*dto.MetricFamily, error) {
	return s.registry.Gather()
}
