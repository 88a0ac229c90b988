package node

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blockberries/registry"
)

// Metrics provides observability for block production and the mempool.
// A nil *Metrics records nothing.
type Metrics struct {
	BlocksProduced prometheus.Counter
	BlockDuration  prometheus.Histogram
	TxsExecuted    *prometheus.CounterVec
	Submissions    *prometheus.CounterVec
	TxsDropped     prometheus.Counter
	MempoolSize    prometheus.Gauge
}

// NewMetrics creates node metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BlocksProduced: f.NewCounter(prometheus.CounterOpts{
			Name: "registry_node_blocks_total",
			Help: "Total number of blocks produced and committed",
		}),
		BlockDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "registry_node_block_duration_seconds",
			Help:    "Duration of block production from proposal to commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		TxsExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_node_txs_executed_total",
			Help: "Transactions executed in blocks by result class",
		}, []string{"class"}), // class: "ok", "dispatch", "rejection"
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_node_submissions_total",
			Help: "Transaction submissions by result and code",
		}, []string{"result", "code"}),
		TxsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "registry_node_txs_dropped_total",
			Help: "Pending transactions dropped on revalidation",
		}),
		MempoolSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "registry_node_mempool_size",
			Help: "Number of transactions waiting in the mempool",
		}),
	}
}

func (m *Metrics) observeBlock(start time.Time) {
	if m != nil {
		m.BlocksProduced.Inc()
		m.BlockDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) observeOutcome(c registry.Code) {
	if m == nil {
		return
	}
	class := "ok"
	switch {
	case c.IsRejection():
		class = "rejection"
	case c.IsDispatch():
		class = "dispatch"
	}
	m.TxsExecuted.WithLabelValues(class).Inc()
}

func (m *Metrics) observeSubmission(err *registry.TxError) {
	if m == nil {
		return
	}
	if err == nil {
		m.Submissions.WithLabelValues("accepted", registry.CodeOK.String()).Inc()
		return
	}
	m.Submissions.WithLabelValues("rejected", err.Code.String()).Inc()
}

func (m *Metrics) observeDropped(n int) {
	if m != nil {
		m.TxsDropped.Add(float64(n))
	}
}

func (m *Metrics) setMempool(n int) {
	if m != nil {
		m.MempoolSize.Set(float64(n))
	}
}
