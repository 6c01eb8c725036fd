package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	relaysync "github.com/relaysync/core/sync"
)

// Metrics is a prometheus-backed relaysync.MetricsSink. Wiring it is
// optional: an Engine built without Options.Metrics simply skips
// instrumentation.
type Metrics struct {
	committed   *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	ringSize    prometheus.Gauge
	subscribers prometheus.Gauge
	recovers    prometheus.Counter
}

// NewMetrics registers the engine's operational metrics on reg and
// returns a relaysync.MetricsSink ready to pass as Options.Metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		committed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaysync_mutations_committed_total",
			Help: "Mutations and mutator invocations committed, by operation.",
		}, []string{"op"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaysync_mutations_rejected_total",
			Help: "Mutations and mutator invocations rejected, by operation and error code.",
		}, []string{"op", "code"}),
		ringSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaysync_ring_frames",
			Help: "Current number of frames retained in the event ring.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaysync_subscribers",
			Help: "Current number of attached subscriber sessions.",
		}),
		recovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaysync_recover_markers_total",
			Help: "Recover markers emitted to subscribers whose resume point was evicted or who fell behind.",
		}),
	}
	reg.MustRegister(m.committed, m.rejected, m.ringSize, m.subscribers, m.recovers)
	return m
}

func (m *Metrics) MutationCommitted(op string) {
	m.committed.WithLabelValues(op).Inc()
}

func (m *Metrics) MutationRejected(op string, code relaysync.Code) {
	m.rejected.WithLabelValues(op, string(code)).Inc()
}

func (m *Metrics) RingSizeSet(n int) { m.ringSize.Set(float64(n)) }

func (m *Metrics) SubscribersSet(n int) { m.subscribers.Set(float64(n)) }

func (m *Metrics) RecoverInc() { m.recovers.Inc() }
