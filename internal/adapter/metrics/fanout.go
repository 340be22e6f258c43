package metrics

import "github.com/prometheus/client_golang/prometheus"

// FanoutMetrics holds Prometheus metrics for cross-instance relay.
type FanoutMetrics struct {
	Published *prometheus.CounterVec
	Received  *prometheus.CounterVec
}

// NewFanoutMetrics creates and registers fan-out metrics on the given registry.
func NewFanoutMetrics(reg prometheus.Registerer) *FanoutMetrics {
	m := &FanoutMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "published_total",
			Help:      "Total number of relay messages published, by result.",
		}, []string{"result"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "received_total",
			Help:      "Total number of relay messages received, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.Published, m.Received)
	return m
}
