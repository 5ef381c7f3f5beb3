package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the hub's observable behavior. Handler failures are the
// observability counterpart of the at-most-once delivery policy: a failed
// message is counted here, never redelivered.
type Metrics struct {
	Connections     prometheus.Gauge
	Dispatched      *prometheus.CounterVec
	HandlerFailures prometheus.Counter
	DroppedSends    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle",
			Subsystem: "dispatch",
			Name:      "connections",
			Help:      "Live signaling connections.",
		}),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Inbound messages dispatched, by type.",
		}, []string{"type"}),
		HandlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "dispatch",
			Name:      "handler_failures_total",
			Help:      "Messages whose handler chain failed; not redelivered.",
		}),
		DroppedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "dispatch",
			Name:      "dropped_sends_total",
			Help:      "Outbound messages dropped for lack of a live connection.",
		}),
	}
	reg.MustRegister(m.Connections, m.Dispatched, m.HandlerFailures, m.DroppedSends)
	return m
}
