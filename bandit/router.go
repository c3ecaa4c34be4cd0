package bandit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/conductor/breaker"
	"github.com/c360studio/conductor/metrics"
	"github.com/c360studio/conductor/provider"
	"github.com/c360studio/conductor/store"
	"github.com/c360studio/conductor/task"
)

// statsKeyPrefix namespaces persisted arm statistics in the KV store.
const statsKeyPrefix = "arms."

// confidencePrior is the pseudo-count pulling confidence toward 0.5 for
// arms with little evidence.
const confidencePrior = 2.0

// Router selects a (provider, model) arm for each request using a bandit
// policy over per-bucket statistics, filtered by circuit-breaker state,
// declared capabilities, and the request's hard constraints.
type Router struct {
	registry *provider.Registry
	brk      *breaker.Breaker
	policy   Policy
	weights  RewardWeights
	logger   *slog.Logger
	metrics  *metrics.Metrics
	kv       store.KV

	// buckets maps bucket key to its arm statistics. The outer lock only
	// guards the map; each bucket serializes its own updates so concurrent
	// completions for different buckets never contend.
	mu      sync.RWMutex
	buckets map[string]*bucketStats

	rngMu sync.Mutex
	rng   *rand.Rand
}

// bucketStats holds the arm statistics of one context bucket.
type bucketStats struct {
	mu   sync.Mutex
	arms map[string]*ArmStats
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithPolicy sets the selection policy. Default is epsilon-greedy with
// epsilon 0.1.
func WithPolicy(p Policy) RouterOption {
	return func(r *Router) { r.policy = p }
}

// WithRewardWeights sets the reward weighting.
func WithRewardWeights(w RewardWeights) RouterOption {
	return func(r *Router) { r.weights = w }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithRand sets the random source. Tests pass a seeded source for
// reproducible selection.
func WithRand(rng *rand.Rand) RouterOption {
	return func(r *Router) { r.rng = rng }
}

// WithStore enables arm-statistics persistence. Call LoadStats after
// construction to restore state from a previous run.
func WithStore(kv store.KV) RouterOption {
	return func(r *Router) { r.kv = kv }
}

// NewRouter creates a router over the given registry and breaker.
func NewRouter(registry *provider.Registry, brk *breaker.Breaker, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		brk:      brk,
		policy:   EpsilonGreedy{Epsilon: 0.1},
		weights:  DefaultRewardWeights(),
		logger:   slog.Default(),
		buckets:  make(map[string]*bucketStats),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		now := uint64(time.Now().UnixNano())
		r.rng = rand.New(rand.NewPCG(now, now>>32))
	}
	return r
}

// Weights returns the router's reward weighting, shared with the recorder
// so decisions and learning use the same signal.
func (r *Router) Weights() RewardWeights {
	return r.weights
}

// routeOptions carries per-call routing options.
type routeOptions struct {
	excluded map[string]bool
}

// RouteOption adjusts a single routing call.
type RouteOption func(*routeOptions)

// WithoutArms excludes specific arms from this routing call. The quality
// gate uses this to force a different agent after a sub-threshold result.
func WithoutArms(arms ...Arm) RouteOption {
	return func(o *routeOptions) {
		if o.excluded == nil {
			o.excluded = make(map[string]bool, len(arms))
		}
		for _, a := range arms {
			o.excluded[a.Key()] = true
		}
	}
}

// candidate is one eligible arm with its routing estimates.
type candidate struct {
	arm         Arm
	stats       ArmStats
	estCost     float64
	estLatency  time.Duration
	successRate float64
	avgCost     float64
}

// Route selects an arm for the request. It returns ErrNoEligibleProvider
// when no arm survives the eligibility filter, and a *BudgetExceededError
// (which unwraps to ErrNoEligibleProvider) when healthy arms exist but
// none fits the request's hard constraints.
func (r *Router) Route(_ context.Context, req task.Request, opts ...RouteOption) (*Decision, error) {
	var ro routeOptions
	for _, opt := range opts {
		opt(&ro)
	}

	bucket := BucketFor(req)
	capability := provider.CapabilityForCategory(req.Category)

	providers := r.registry.ListActive(capability)
	if len(providers) == 0 {
		r.metrics.ObserveRoutingFailure("no_capability")
		return nil, fmt.Errorf("%w: no active provider declares capability %s",
			ErrNoEligibleProvider, capability)
	}

	candidates, filtered := r.eligible(providers, req, ro.excluded)
	if len(candidates) == 0 {
		if filtered.costFiltered == 0 && filtered.latencyFiltered == 0 {
			r.metrics.ObserveRoutingFailure("circuits_open")
			return nil, fmt.Errorf("%w: all circuits open for capability %s",
				ErrNoEligibleProvider, capability)
		}
		r.metrics.ObserveRoutingFailure("budget")
		if filtered.costFiltered >= filtered.latencyFiltered {
			return nil, &BudgetExceededError{
				RequestID:    req.ID,
				Constraint:   "max_cost",
				BestEstimate: filtered.bestCost,
			}
		}
		return nil, &BudgetExceededError{
			RequestID:    req.ID,
			Constraint:   "max_latency",
			BestEstimate: filtered.bestLatency.Seconds(),
		}
	}

	r.attachStats(bucket, candidates)
	sortByTieBreak(candidates)

	// The policy picks among eligible candidates; the breaker then claims
	// admission for the choice. A Reject here means another request won a
	// half-open probe race, so the loser falls through to the next pick.
	var chosen candidate
	probe := false
	for {
		views := make([]ArmSample, len(candidates))
		for i, c := range candidates {
			views[i] = ArmSample{Arm: c.arm, Stats: c.stats}
		}

		r.rngMu.Lock()
		idx := r.policy.Select(r.rng, views)
		r.rngMu.Unlock()

		verdict := r.brk.Allow(candidates[idx].arm.ProviderID)
		if verdict != breaker.Reject {
			chosen = candidates[idx]
			probe = verdict == breaker.Probe
			candidates = append(candidates[:idx], candidates[idx+1:]...)
			break
		}

		candidates = append(candidates[:idx], candidates[idx+1:]...)
		if len(candidates) == 0 {
			r.metrics.ObserveRoutingFailure("probe_race")
			return nil, fmt.Errorf("%w: remaining arms lost half-open probe races",
				ErrNoEligibleProvider)
		}
	}

	fallbacks := rankFallbacks(candidates)

	decision := &Decision{
		RequestID:        req.ID,
		ProviderID:       chosen.arm.ProviderID,
		Model:            chosen.arm.Model,
		Reasoning:        r.reason(chosen, bucket, len(fallbacks)+1, probe),
		Confidence:       confidence(chosen.stats),
		EstimatedCost:    chosen.estCost,
		EstimatedLatency: chosen.estLatency,
		Fallbacks:        fallbacks,
		Policy:           r.policy.Name(),
		Bucket:           bucket.Key(),
		Probe:            probe,
		Considered:       len(fallbacks) + 1,
		DecidedAt:        time.Now(),
	}

	r.metrics.ObserveDecision(decision.Policy, decision.ProviderID)
	r.logger.Debug("Routed request",
		"request_id", req.ID,
		"bucket", decision.Bucket,
		"provider", decision.ProviderID,
		"model", decision.Model,
		"probe", probe,
		"considered", decision.Considered)

	return decision, nil
}

// filterStats records why arms were dropped, for budget error reporting.
type filterStats struct {
	costFiltered    int
	latencyFiltered int
	bestCost        float64
	bestLatency     time.Duration
}

// eligible builds the candidate list: arms whose provider circuit admits
// requests, that aren't excluded, and whose estimates fit the request's
// hard constraints.
func (r *Router) eligible(providers []provider.Provider, req task.Request, excluded map[string]bool) ([]candidate, filterStats) {
	var candidates []candidate
	var fs filterStats

	for _, p := range providers {
		if !r.brk.ProbeDue(p.ID) {
			continue
		}

		estCost := p.EstimatedCost()
		estLatency := p.EstimatedLatency()

		for _, model := range p.Models {
			arm := Arm{ProviderID: p.ID, Model: model}
			if excluded[arm.Key()] {
				continue
			}

			if req.Constraints.MaxCost > 0 && estCost > req.Constraints.MaxCost {
				fs.costFiltered++
				if fs.bestCost == 0 || estCost < fs.bestCost {
					fs.bestCost = estCost
				}
				continue
			}
			if req.Constraints.MaxLatency > 0 && estLatency > req.Constraints.MaxLatency {
				fs.latencyFiltered++
				if fs.bestLatency == 0 || estLatency < fs.bestLatency {
					fs.bestLatency = estLatency
				}
				continue
			}

			candidates = append(candidates, candidate{
				arm:         arm,
				estCost:     estCost,
				estLatency:  estLatency,
				successRate: p.Metrics.SuccessRate,
				avgCost:     p.Metrics.AvgCost,
			})
		}
	}
	return candidates, fs
}

// attachStats copies each candidate's learned statistics for its bucket.
func (r *Router) attachStats(bucket Bucket, candidates []candidate) {
	bs := r.bucketFor(bucket.Key(), false)
	if bs == nil {
		return
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	for i := range candidates {
		if s, ok := bs.arms[candidates[i].arm.Key()]; ok {
			candidates[i].stats = *s
		}
	}
}

// sortByTieBreak orders candidates by historical success rate, then lower
// average cost, then provider/model lexical order. Policies resolve equal
// scores by first index, making selection deterministic.
func sortByTieBreak(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.successRate != b.successRate {
			return a.successRate > b.successRate
		}
		if a.avgCost != b.avgCost {
			return a.avgCost < b.avgCost
		}
		if a.arm.ProviderID != b.arm.ProviderID {
			return a.arm.ProviderID < b.arm.ProviderID
		}
		return a.arm.Model < b.arm.Model
	})
}

// rankFallbacks orders the remaining candidates by observed mean reward,
// falling back to the deterministic tie-break order.
func rankFallbacks(candidates []candidate) []Arm {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].stats.Mean() > sorted[j].stats.Mean()
	})

	arms := make([]Arm, len(sorted))
	for i, c := range sorted {
		arms[i] = c.arm
	}
	return arms
}

// confidence shrinks the observed mean reward toward 0.5 by a small
// pseudo-count so barely-tried arms don't look certain.
func confidence(s ArmStats) float64 {
	return (s.RewardSum + 0.5*confidencePrior) / (float64(s.Trials) + confidencePrior)
}

// reason builds the human-readable decision explanation.
func (r *Router) reason(c candidate, bucket Bucket, considered int, probe bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s picked %s/%s for bucket %s from %d eligible arms",
		r.policy.Name(), c.arm.ProviderID, c.arm.Model, bucket.Key(), considered)
	if c.stats.Trials > 0 {
		fmt.Fprintf(&sb, " (mean reward %.2f over %d trials)", c.stats.Mean(), c.stats.Trials)
	} else {
		sb.WriteString(" (untried arm)")
	}
	if probe {
		sb.WriteString("; admitted as half-open circuit probe")
	}
	return sb.String()
}

// Update folds a completed outcome's reward into the arm's bucket
// statistics. Per-bucket updates are serialized so concurrent completions
// never lose counts. If a store is configured the stats are persisted
// best-effort.
func (r *Router) Update(ctx context.Context, bucket Bucket, arm Arm, reward float64, success bool) {
	bs := r.bucketFor(bucket.Key(), true)

	bs.mu.Lock()
	s, ok := bs.arms[arm.Key()]
	if !ok {
		s = &ArmStats{}
		bs.arms[arm.Key()] = s
	}
	s.observe(reward, success)
	snapshot := *s
	bs.mu.Unlock()

	r.persist(ctx, bucket, arm, snapshot)
}

// StatsFor returns a copy of the learned statistics for an arm in a bucket.
func (r *Router) StatsFor(bucket Bucket, arm Arm) ArmStats {
	bs := r.bucketFor(bucket.Key(), false)
	if bs == nil {
		return ArmStats{}
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if s, ok := bs.arms[arm.Key()]; ok {
		return *s
	}
	return ArmStats{}
}

// bucketFor returns the stats container for a bucket key, optionally
// creating it.
func (r *Router) bucketFor(key string, create bool) *bucketStats {
	r.mu.RLock()
	bs, ok := r.buckets[key]
	r.mu.RUnlock()
	if ok || !create {
		return bs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if bs, ok = r.buckets[key]; ok {
		return bs
	}
	bs = &bucketStats{arms: make(map[string]*ArmStats)}
	r.buckets[key] = bs
	return bs
}

// persistedArm is the KV representation of one arm's bucket statistics.
type persistedArm struct {
	Bucket Bucket   `json:"bucket"`
	Arm    Arm      `json:"arm"`
	Stats  ArmStats `json:"stats"`
}

// persist writes an arm's statistics to the store. Persistence failures
// are logged, never surfaced: losing a sample is cheaper than failing an
// otherwise-complete outcome report.
func (r *Router) persist(ctx context.Context, bucket Bucket, arm Arm, stats ArmStats) {
	if r.kv == nil {
		return
	}

	data, err := json.Marshal(persistedArm{Bucket: bucket, Arm: arm, Stats: stats})
	if err != nil {
		r.logger.Warn("Failed to marshal arm stats", "bucket", bucket.Key(), "arm", arm.Key(), "error", err)
		return
	}

	key := statsKeyPrefix + sanitizeKey(bucket.Key()+"."+arm.Key())
	if _, err := r.kv.Put(ctx, key, data); err != nil {
		r.logger.Warn("Failed to persist arm stats", "key", key, "error", err)
	}
}

// LoadStats restores persisted arm statistics from the configured store.
func (r *Router) LoadStats(ctx context.Context) error {
	if r.kv == nil {
		return nil
	}

	keys, err := r.kv.Keys(ctx, statsKeyPrefix)
	if err != nil {
		return fmt.Errorf("list arm stats: %w", err)
	}

	for _, key := range keys {
		entry, err := r.kv.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("load arm stats %s: %w", key, err)
		}

		var pa persistedArm
		if err := json.Unmarshal(entry.Value, &pa); err != nil {
			return fmt.Errorf("unmarshal arm stats %s: %w", key, err)
		}

		bs := r.bucketFor(pa.Bucket.Key(), true)
		bs.mu.Lock()
		stats := pa.Stats
		bs.arms[pa.Arm.Key()] = &stats
		bs.mu.Unlock()
	}

	r.logger.Debug("Loaded arm stats", "entries", len(keys))
	return nil
}

// sanitizeKey maps arbitrary bucket/arm text onto the KV key alphabet.
func sanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_' || r == '/' || r == '=':
			return r
		default:
			return '_'
		}
	}, s)
}
