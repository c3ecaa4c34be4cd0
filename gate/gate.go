// Package gate implements the quality gate: the policy that accepts a
// step's output, retries it, or escalates the step to failure based on its
// quality score.
package gate

import (
	"log/slog"

	"github.com/c360studio/conductor/task"
)

// Verdict is the gate's decision for one step result.
type Verdict int

const (
	// Accept passes the result through.
	Accept Verdict = iota

	// RetrySameAgent retries the step with the same arm. Used for
	// borderline results on the first attempt, where the same agent is
	// likely to clear the bar.
	RetrySameAgent

	// RetryDifferentAgent retries the step with the failing arm excluded,
	// forcing the router to pick another agent.
	RetryDifferentAgent

	// Escalate marks the step as terminally failed.
	Escalate
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case RetrySameAgent:
		return "retry_same_agent"
	case RetryDifferentAgent:
		return "retry_different_agent"
	default:
		return "escalate"
	}
}

// Policy tunes the gate.
type Policy struct {
	// DefaultMinQuality applies when a deliverable sets no threshold.
	DefaultMinQuality float64

	// MaxQualityRetries bounds gate-driven retries per step, separate
	// from the queue's transient-failure retry budget.
	MaxQualityRetries int

	// BorderlineFraction of the threshold under which a first failure
	// retries the same agent instead of switching. Zero disables
	// same-agent retries.
	BorderlineFraction float64
}

// DefaultPolicy returns the default gate policy: accept at 0.7, two
// quality retries, same-agent retry within 10% of the threshold.
func DefaultPolicy() Policy {
	return Policy{
		DefaultMinQuality:  0.7,
		MaxQualityRetries:  2,
		BorderlineFraction: 0.9,
	}
}

// Gate evaluates step results against quality thresholds.
type Gate struct {
	policy Policy
	logger *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// New creates a gate with the given policy.
func New(policy Policy, opts ...Option) *Gate {
	if policy.DefaultMinQuality <= 0 {
		policy.DefaultMinQuality = DefaultPolicy().DefaultMinQuality
	}
	if policy.MaxQualityRetries <= 0 {
		policy.MaxQualityRetries = DefaultPolicy().MaxQualityRetries
	}

	g := &Gate{policy: policy, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate decides what happens to a step result. minQuality is the
// deliverable's threshold (zero uses the policy default); qualityRetries
// is how many gate-driven retries the step already consumed.
func (g *Gate) Evaluate(result task.StepResult, minQuality float64, qualityRetries int) Verdict {
	threshold := minQuality
	if threshold <= 0 {
		threshold = g.policy.DefaultMinQuality
	}

	if result.Quality >= threshold {
		return Accept
	}

	if qualityRetries >= g.policy.MaxQualityRetries {
		g.logger.Warn("Quality gate escalating step",
			"step", result.Step,
			"quality", result.Quality,
			"threshold", threshold,
			"quality_retries", qualityRetries)
		return Escalate
	}

	verdict := RetryDifferentAgent
	if qualityRetries == 0 && g.policy.BorderlineFraction > 0 &&
		result.Quality >= threshold*g.policy.BorderlineFraction {
		verdict = RetrySameAgent
	}

	g.logger.Debug("Quality gate retrying step",
		"step", result.Step,
		"quality", result.Quality,
		"threshold", threshold,
		"verdict", verdict.String())
	return verdict
}
