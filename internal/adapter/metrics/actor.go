package metrics

import "github.com/prometheus/client_golang/prometheus"

// Mutation results recorded by ActorMetrics.Mutations.
const (
	ResultApplied    = "applied"
	ResultRejected   = "rejected"
	ResultConflict   = "conflict"
	ResultPersist    = "persist_failed"
	ResultDuplicate  = "duplicate"
	ResultNotFound   = "not_found"
	ResultAdopted    = "adopted"
	ResultStaleRelay = "stale_relay"
)

// ActorMetrics holds Prometheus metrics for match actors and their viewers.
type ActorMetrics struct {
	ActiveActors     prometheus.Gauge
	ConnectedClients prometheus.Gauge
	Mutations        *prometheus.CounterVec
	MutationDuration prometheus.Histogram
	EvictedClients   *prometheus.CounterVec
	SendDuration     prometheus.Histogram
	CommandTimeouts  prometheus.Counter
	Panics           prometheus.Counter
	Reaped           prometheus.Counter
}

// NewActorMetrics creates and registers actor metrics on the given registry.
func NewActorMetrics(reg prometheus.Registerer) *ActorMetrics {
	m := &ActorMetrics{
		ActiveActors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "active",
			Help:      "Number of match actors currently running.",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "connected_clients",
			Help:      "Number of viewers connected across all matches.",
		}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "mutations_total",
			Help:      "Total number of mutations handled, by result.",
		}, []string{"result"}),
		MutationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "mutation_duration_seconds",
			Help:      "Duration of validate, persist and broadcast for accepted mutations.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		EvictedClients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "evicted_clients_total",
			Help:      "Total number of viewers dropped by the actor, by reason.",
		}, []string{"reason"}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "send_duration_seconds",
			Help:      "Duration of a single write to a viewer connection.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		CommandTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "command_timeouts_total",
			Help:      "Total number of actor commands that timed out waiting for a reply.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "panics_total",
			Help:      "Total number of panics recovered in actor loops.",
		}),
		Reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      "reaped_total",
			Help:      "Total number of idle actors stopped.",
		}),
	}

	reg.MustRegister(m.ActiveActors, m.ConnectedClients, m.Mutations, m.MutationDuration,
		m.EvictedClients, m.SendDuration, m.CommandTimeouts, m.Panics, m.Reaped)
	return m
}
