package cleanup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carries the cleanup counters. A nil *Metrics disables
// instrumentation.
type Metrics struct {
	KeysRead       prometheus.Counter
	KeysDeleted    prometheus.Counter
	DeleteErrors   prometheus.Counter
	ThrottlePauses prometheus.Counter
}

// NewMetrics registers the cleanup counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		KeysRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dsbench",
			Subsystem: "cleanup",
			Name:      "keys_read_total",
			Help:      "Keys returned by the cleanup pagination loop.",
		}),
		KeysDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dsbench",
			Subsystem: "cleanup",
			Name:      "keys_deleted_total",
			Help:      "Keys submitted in successful delete chunks.",
		}),
		DeleteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dsbench",
			Subsystem: "cleanup",
			Name:      "delete_errors_total",
			Help:      "Delete chunks that failed.",
		}),
		ThrottlePauses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dsbench",
			Subsystem: "cleanup",
			Name:      "throttle_pauses_total",
			Help:      "Pauses taken by the pagination throttle.",
		}),
	}
}

func (m *Metrics) addRead(n int) {
	if m == nil {
		return
	}
	m.KeysRead.Add(float64(n))
}

func (m *Metrics) addDeleted(n int) {
	if m == nil {
		return
	}
	m.KeysDeleted.Add(float64(n))
}

func (m *Metrics) incDeleteError() {
	if m == nil {
		return
	}
	m.DeleteErrors.Inc()
}

func (m *Metrics) incThrottle() {
	if m == nil {
		return
	}
	m.ThrottlePauses.Inc()
}
