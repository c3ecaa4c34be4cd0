// Package metrics exposes Prometheus collectors for the routing and
// orchestration engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's Prometheus collectors. A nil *Metrics is
// valid everywhere and disables instrumentation.
type Metrics struct {
	RoutingDecisions *prometheus.CounterVec
	RoutingFailures  *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	QueueDepth       prometheus.Gauge
	JobRetries       prometheus.Counter
	DeadLetters      prometheus.Counter
	StepDuration     prometheus.Histogram
	StepQuality      prometheus.Histogram
}

// New creates the engine collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by policy and selected provider.",
		}, []string{"policy", "provider"}),
		RoutingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "routing_failures_total",
			Help:      "Routing calls that produced no decision, by reason.",
		}, []string{"reason"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "conductor",
			Name:      "breaker_open",
			Help:      "1 when a provider's circuit is open, 0 otherwise.",
		}, []string{"provider"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conductor",
			Name:      "queue_depth",
			Help:      "Jobs currently pending or running.",
		}),
		JobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "job_retries_total",
			Help:      "Queue-level transient retries.",
		}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "dead_letters_total",
			Help:      "Jobs moved to the dead-letter state.",
		}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conductor",
			Name:      "step_duration_seconds",
			Help:      "Wall time of executed plan steps.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		StepQuality: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conductor",
			Name:      "step_quality",
			Help:      "Quality scores of executed plan steps.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RoutingDecisions,
			m.RoutingFailures,
			m.BreakerState,
			m.QueueDepth,
			m.JobRetries,
			m.DeadLetters,
			m.StepDuration,
			m.StepQuality,
		)
	}
	return m
}

// ObserveDecision records a routing decision. Safe on a nil receiver.
func (m *Metrics) ObserveDecision(policy, providerID string) {
	if m == nil {
		return
	}
	m.RoutingDecisions.WithLabelValues(policy, providerID).Inc()
}

// ObserveRoutingFailure records a failed routing call. Safe on a nil receiver.
func (m *Metrics) ObserveRoutingFailure(reason string) {
	if m == nil {
		return
	}
	m.RoutingFailures.WithLabelValues(reason).Inc()
}

// ObserveBreakerState records whether a provider's circuit is open. Safe
// on a nil receiver.
func (m *Metrics) ObserveBreakerState(providerID string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerState.WithLabelValues(providerID).Set(v)
}

// ObserveStep records a completed step. Safe on a nil receiver.
func (m *Metrics) ObserveStep(seconds, quality float64) {
	if m == nil {
		return
	}
	m.StepDuration.Observe(seconds)
	m.StepQuality.Observe(quality)
}
