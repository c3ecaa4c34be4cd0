// Package recorder is the single point of truth for turning completed-step
// outcomes into learning updates: registry metrics, circuit-breaker
// reports, and bandit arm statistics. Recording is idempotent per attempt
// so replayed acks never double-count.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/conductor/bandit"
	"github.com/c360studio/conductor/breaker"
	"github.com/c360studio/conductor/metrics"
	"github.com/c360studio/conductor/provider"
	"github.com/c360studio/conductor/store"
	"github.com/c360studio/conductor/task"
)

// outcomeKeyPrefix namespaces dedupe markers in the KV store.
const outcomeKeyPrefix = "outcomes."

// Outcome is one completed execution observation.
type Outcome struct {
	// AttemptID identifies the job attempt. Replays of the same attempt
	// are dropped.
	AttemptID string

	Bucket bandit.Bucket
	Arm    bandit.Arm

	Success bool
	Quality float64
	Cost    float64
	Latency time.Duration

	// Timeout marks a per-step timeout, which counts as a provider
	// failure for breaker and bandit purposes.
	Timeout bool

	// Constraints is the originating request's envelope, used to
	// normalize the reward.
	Constraints task.Constraints
}

// Recorder fans an outcome out to the registry, breaker, and bandit.
type Recorder struct {
	registry *provider.Registry
	brk      *breaker.Breaker
	router   *bandit.Router
	kv       store.KV
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// New creates a recorder. kv backs attempt deduplication; pass a fresh
// store.Memory when durability across restarts is not needed.
func New(registry *provider.Registry, brk *breaker.Breaker, router *bandit.Router, kv store.KV, opts ...Option) *Recorder {
	r := &Recorder{
		registry: registry,
		brk:      brk,
		router:   router,
		kv:       kv,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record applies an outcome exactly once. A replayed AttemptID is a no-op.
func (r *Recorder) Record(ctx context.Context, o Outcome) error {
	if o.AttemptID == "" {
		return fmt.Errorf("record outcome: attempt id is required")
	}

	// Claim the attempt before mutating any statistics. Losing the claim
	// means another delivery of the same attempt already recorded it.
	if _, err := r.kv.Create(ctx, outcomeKeyPrefix+o.AttemptID, []byte(o.Arm.Key())); err != nil {
		if errors.Is(err, store.ErrKeyExists) {
			r.logger.Debug("Dropping replayed outcome", "attempt_id", o.AttemptID)
			return nil
		}
		return fmt.Errorf("claim outcome %s: %w", o.AttemptID, err)
	}

	success := o.Success && !o.Timeout

	if err := r.registry.UpdateMetrics(o.Arm.ProviderID, provider.Outcome{
		Success: success,
		Quality: o.Quality,
		Cost:    o.Cost,
		Latency: o.Latency,
	}); err != nil {
		// The provider may have been removed by a config reload; the
		// breaker and bandit updates still apply.
		r.logger.Warn("Failed to update provider metrics",
			"provider", o.Arm.ProviderID, "error", err)
	}

	r.brk.RecordResult(o.Arm.ProviderID, success)
	r.metrics.ObserveBreakerState(o.Arm.ProviderID,
		r.brk.State(o.Arm.ProviderID) == breaker.StateOpen)

	reward := bandit.Reward(provider.Outcome{
		Success: success,
		Quality: o.Quality,
		Cost:    o.Cost,
		Latency: o.Latency,
	}, o.Constraints, r.router.Weights())
	r.router.Update(ctx, o.Bucket, o.Arm, reward, success)

	r.logger.Debug("Recorded outcome",
		"attempt_id", o.AttemptID,
		"provider", o.Arm.ProviderID,
		"model", o.Arm.Model,
		"success", success,
		"reward", reward)
	return nil
}

// ReleaseProbe abandons a claimed half-open probe for a provider whose
// attempt ended without an observable outcome (cancelled mid-flight, or no
// executor was registered for it). Without the release the probe slot
// would stay claimed forever and the provider could never be routed again.
func (r *Recorder) ReleaseProbe(providerID string) {
	r.brk.ReleaseProbe(providerID)
}
