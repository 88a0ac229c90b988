package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records tracker outcomes. A nil *Metrics records nothing.
type Metrics struct {
	TrackerOutcomes  *prometheus.CounterVec
	InclusionLatency prometheus.Histogram
}

// NewMetrics creates client metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TrackerOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_client_tracker_outcomes_total",
			Help: "Tracked transactions by terminal state",
		}, []string{"state"}),
		InclusionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "registry_client_apply_latency_seconds",
			Help:    "Time from submission to applied outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) observeTerminal(s State) {
	if m != nil {
		m.TrackerOutcomes.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) observeInclusion(d time.Duration) {
	if m != nil {
		m.InclusionLatency.Observe(d.Seconds())
	}
}
