package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated by partition passes.
type Metrics struct {
	PassDuration   *prometheus.HistogramVec
	Contributions  *prometheus.CounterVec
	DataErrors     prometheus.Counter
	SlotsPruned    prometheus.Counter
	BoundaryRounds prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PassDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "facetd",
			Name:      "partition_pass_duration_seconds",
			Help:      "Time spent in one pass over one partition.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pass"}),
		Contributions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facetd",
			Name:      "contributions_total",
			Help:      "Contributions read per partition.",
		}, []string{"partition"}),
		DataErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "facetd",
			Name:      "data_errors_total",
			Help:      "Contributions recorded as data faults.",
		}),
		SlotsPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "facetd",
			Name:      "slots_pruned_total",
			Help:      "Slots dropped by segment boundaries.",
		}),
		BoundaryRounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: "facetd",
			Name:      "boundary_rounds_total",
			Help:      "Completed boundary negotiation rounds.",
		}),
	}
}
