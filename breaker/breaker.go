// Package breaker implements a per-provider circuit breaker. Repeated
// failures open a provider's circuit; after a cooldown exactly one probe
// request is admitted, and the probe's outcome decides whether the circuit
// closes or re-opens with a longer cooldown.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit state of one provider.
type State string

const (
	// StateClosed admits all requests.
	StateClosed State = "closed"

	// StateOpen rejects all requests until the cooldown elapses.
	StateOpen State = "open"

	// StateHalfOpen admits exactly one probe request.
	StateHalfOpen State = "half_open"
)

// Verdict is the admission decision for one request.
type Verdict int

const (
	// Admit lets the request through normally.
	Admit Verdict = iota

	// Probe lets the request through as the single half-open probe.
	Probe

	// Reject refuses the request; the provider must not be selected.
	Reject
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case Admit:
		return "admit"
	case Probe:
		return "probe"
	default:
		return "reject"
	}
}

// Config tunes the breaker thresholds. All values are defaults, not fixed
// requirements; operators override them in configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// FailureRate opens the circuit when the failure fraction within
	// Window reaches this value. Zero disables rate-based tripping.
	FailureRate float64

	// Window is the sliding window for rate-based tripping.
	Window time.Duration

	// MinSamples is the minimum number of observations inside Window
	// before the failure rate is considered.
	MinSamples int

	// Cooldown is the initial open-state cooldown before a probe.
	Cooldown time.Duration

	// MaxCooldown caps the exponential cooldown growth on failed probes.
	MaxCooldown time.Duration
}

// DefaultConfig returns sensible breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureRate:      0.5,
		Window:           60 * time.Second,
		MinSamples:       10,
		Cooldown:         30 * time.Second,
		MaxCooldown:      10 * time.Minute,
	}
}

// observation is one recorded outcome inside the sliding window.
type observation struct {
	at      time.Time
	success bool
}

// circuit is the per-provider state. It is only touched while its shard
// lock is held, giving single-writer semantics per provider.
type circuit struct {
	state               State
	consecutiveFailures int
	window              []observation
	lastFailure         time.Time
	openedAt            time.Time
	cooldown            time.Duration
	nextProbeAt         time.Time
	probeInFlight       bool
}

const shardCount = 16

// shard holds a slice of the provider keyspace under one mutex so that
// concurrent outcome reports for different providers don't contend.
type shard struct {
	mu       sync.Mutex
	circuits map[string]*circuit
}

// Breaker tracks circuit state for all providers.
type Breaker struct {
	cfg    Config
	shards [shardCount]*shard

	// now is swappable for tests.
	now func() time.Time
}

// New creates a breaker with the given configuration.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = DefaultConfig().MaxCooldown
	}

	b := &Breaker{cfg: cfg, now: time.Now}
	for i := range b.shards {
		b.shards[i] = &shard{circuits: make(map[string]*circuit)}
	}
	return b
}

// shardFor returns the shard owning a provider key (FNV-1a).
func (b *Breaker) shardFor(id string) *shard {
	var h uint32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return b.shards[h%shardCount]
}

// getOrCreate returns the circuit for a provider. Caller holds the shard lock.
func (s *shard) getOrCreate(id string, cooldown time.Duration) *circuit {
	c, ok := s.circuits[id]
	if !ok {
		c = &circuit{state: StateClosed, cooldown: cooldown}
		s.circuits[id] = c
	}
	return c
}

// Allow decides whether a request to the provider may proceed. In the open
// state a request is rejected until the cooldown elapses; the first request
// after the cooldown transitions the circuit to half-open and is admitted
// as the single probe.
func (b *Breaker) Allow(providerID string) Verdict {
	s := b.shardFor(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreate(providerID, b.cfg.Cooldown)
	now := b.now()

	switch c.state {
	case StateClosed:
		return Admit

	case StateOpen:
		if now.Before(c.nextProbeAt) {
			return Reject
		}
		c.state = StateHalfOpen
		c.probeInFlight = true
		return Probe

	case StateHalfOpen:
		if c.probeInFlight {
			return Reject
		}
		c.probeInFlight = true
		return Probe
	}
	return Reject
}

// RecordResult reports a request outcome for the provider and applies any
// resulting state transition atomically.
func (b *Breaker) RecordResult(providerID string, success bool) {
	s := b.shardFor(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreate(providerID, b.cfg.Cooldown)
	now := b.now()

	switch c.state {
	case StateHalfOpen:
		c.probeInFlight = false
		if success {
			b.reset(c)
			return
		}
		// Failed probe: re-open with doubled cooldown.
		c.cooldown = min(c.cooldown*2, b.cfg.MaxCooldown)
		b.open(c, now)

	case StateClosed:
		c.window = append(c.window, observation{at: now, success: success})
		b.trimWindow(c, now)

		if success {
			c.consecutiveFailures = 0
			return
		}

		c.consecutiveFailures++
		c.lastFailure = now
		if c.consecutiveFailures >= b.cfg.FailureThreshold || b.rateTripped(c) {
			c.cooldown = b.cfg.Cooldown
			b.open(c, now)
		}

	case StateOpen:
		// Late reports for requests admitted before the circuit opened
		// carry no transition.
		if !success {
			c.lastFailure = now
		}
	}
}

// ReleaseProbe abandons a claimed half-open probe that will never report
// an outcome, such as an attempt cancelled before the provider answered.
// The circuit stays half-open with the probe slot free, so the next
// admitted request claims it; the cooldown is not doubled because the
// provider was never actually observed.
func (b *Breaker) ReleaseProbe(providerID string) {
	s := b.shardFor(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.circuits[providerID]
	if !ok || c.state != StateHalfOpen {
		return
	}
	c.probeInFlight = false
}

// State returns the provider's current circuit state. Providers with no
// recorded outcomes are closed.
func (b *Breaker) State(providerID string) State {
	s := b.shardFor(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.circuits[providerID]
	if !ok {
		return StateClosed
	}
	return c.state
}

// ProbeDue reports whether a request to the provider could currently be
// admitted (closed circuit, or half-open/cooled-down circuit with no probe
// in flight). Unlike Allow it has no side effects, so the router can use
// it to filter candidates before claiming the probe for its final choice.
func (b *Breaker) ProbeDue(providerID string) bool {
	s := b.shardFor(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.circuits[providerID]
	if !ok {
		return true
	}
	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		return !b.now().Before(c.nextProbeAt)
	case StateHalfOpen:
		return !c.probeInFlight
	}
	return false
}

// open transitions a circuit to the open state. Caller holds the shard lock.
func (b *Breaker) open(c *circuit, now time.Time) {
	c.state = StateOpen
	c.openedAt = now
	c.nextProbeAt = now.Add(c.cooldown)
	c.probeInFlight = false
	c.window = nil
}

// reset transitions a circuit back to closed. Caller holds the shard lock.
func (b *Breaker) reset(c *circuit) {
	c.state = StateClosed
	c.consecutiveFailures = 0
	c.cooldown = b.cfg.Cooldown
	c.window = nil
	c.probeInFlight = false
}

// rateTripped reports whether the windowed failure rate reached the
// configured threshold. Caller holds the shard lock.
func (b *Breaker) rateTripped(c *circuit) bool {
	if b.cfg.FailureRate <= 0 || b.cfg.Window <= 0 {
		return false
	}
	if len(c.window) < b.cfg.MinSamples {
		return false
	}

	failures := 0
	for _, o := range c.window {
		if !o.success {
			failures++
		}
	}
	return float64(failures)/float64(len(c.window)) >= b.cfg.FailureRate
}

// trimWindow drops observations older than the sliding window. Caller
// holds the shard lock.
func (b *Breaker) trimWindow(c *circuit, now time.Time) {
	if b.cfg.Window <= 0 {
		c.window = nil
		return
	}
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for ; i < len(c.window); i++ {
		if c.window[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		c.window = append(c.window[:0], c.window[i:]...)
	}
}
