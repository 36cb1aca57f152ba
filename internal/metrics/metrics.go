// Package metrics exposes the Prometheus instrumentation for the
// queueing and matchmaking control loops, the way Aeolun-superchat
// instruments its live server with prometheus/client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every gauge/counter/histogram this module emits.
type Metrics struct {
	QueueLength      *prometheus.GaugeVec
	JoiningCount     *prometheus.GaugeVec
	DequeueTotal      *prometheus.CounterVec
	JoinAttemptsTotal *prometheus.CounterVec
	ProbeLatency      prometheus.Histogram
	ProbeFailureTotal prometheus.Counter
	MatchmakingOutcome *prometheus.CounterVec
}

// New registers and returns a fresh Metrics bundle against reg. Pass
// prometheus.NewRegistry() in tests to avoid the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "matchqueue_queue_length",
			Help: "Current number of players queued per game server.",
		}, []string{"server"}),
		JoiningCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "matchqueue_joining_count",
			Help: "Current number of reserved (Joining) slots per game server.",
		}, []string{"server"}),
		DequeueTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchqueue_dequeue_total",
			Help: "Dequeue events by reason.",
		}, []string{"server", "reason"}),
		JoinAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchqueue_join_attempts_total",
			Help: "NotifyJoin dispatches per server.",
		}, []string{"server"}),
		ProbeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchqueue_probe_latency_seconds",
			Help:    "Game server probe round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}),
		ProbeFailureTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchqueue_probe_failure_total",
			Help: "Probes that timed out or failed to send.",
		}),
		MatchmakingOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchqueue_matchmaking_outcome_total",
			Help: "Matchmaking ticks resolved into a match or a failure.",
		}, []string{"outcome"}),
	}
}
