package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a provider is not registered.
var ErrNotFound = errors.New("provider not found")

// Metrics holds rolling performance metrics for a provider. All averages
// are exponentially-weighted moving averages so memory stays bounded and
// recent behavior dominates.
type Metrics struct {
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
	AvgCost     float64       `json:"avg_cost"`
	AvgQuality  float64       `json:"avg_quality"`

	// Samples counts recorded outcomes.
	Samples uint64 `json:"samples"`
}

// Outcome is a completed-call observation fed into the registry.
type Outcome struct {
	Success bool          `json:"success"`
	Quality float64       `json:"quality"`
	Cost    float64       `json:"cost"`
	Latency time.Duration `json:"latency"`
}

// Provider describes a registered capability provider.
type Provider struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Models       []string     `json:"models"`
	Capabilities []Capability `json:"capabilities"`

	// CostPerCall and LatencyHint seed routing estimates until the
	// registry has observed real outcomes.
	CostPerCall float64       `json:"cost_per_call,omitempty"`
	LatencyHint time.Duration `json:"latency_hint,omitempty"`

	Active  bool    `json:"active"`
	Metrics Metrics `json:"metrics"`
}

// HasCapability reports whether the provider declares a capability.
func (p Provider) HasCapability(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// EstimatedCost returns the best cost estimate for the provider: observed
// average once outcomes exist, the configured seed before that.
func (p Provider) EstimatedCost() float64 {
	if p.Metrics.Samples > 0 {
		return p.Metrics.AvgCost
	}
	return p.CostPerCall
}

// EstimatedLatency returns the best latency estimate for the provider.
func (p Provider) EstimatedLatency() time.Duration {
	if p.Metrics.Samples > 0 {
		return p.Metrics.AvgLatency
	}
	return p.LatencyHint
}

// Registry holds the known providers. All mutation goes through its
// accessor methods; callers receive copies, never shared pointers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	decay     float64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDecay sets the EWMA decay factor in (0, 1]. Higher values weight
// recent outcomes more heavily.
func WithDecay(decay float64) RegistryOption {
	return func(r *Registry) {
		if decay > 0 && decay <= 1 {
			r.decay = decay
		}
	}
}

// defaultDecay weights each new outcome at 20%.
const defaultDecay = 0.2

// NewRegistry creates an empty provider registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		providers: make(map[string]*Provider),
		decay:     defaultDecay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a provider. New providers start active unless
// explicitly deactivated.
func (r *Registry) Register(p Provider) error {
	if p.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if len(p.Models) == 0 {
		return fmt.Errorf("provider %s declares no models", p.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cp := p
	r.providers[p.ID] = &cp
	return nil
}

// Get returns a copy of the provider with the given ID.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *p, nil
}

// ListActive returns copies of all active providers declaring the given
// capability, sorted by ID for deterministic iteration.
func (r *Registry) ListActive(c Capability) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []Provider
	for _, p := range r.providers {
		if p.Active && p.HasCapability(c) {
			active = append(active, *p)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active
}

// List returns copies of all providers, sorted by ID.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		all = append(all, *p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// UpdateMetrics folds a completed outcome into the provider's rolling
// metrics using the configured EWMA decay. The first sample initializes
// the averages directly.
func (r *Registry) UpdateMetrics(id string, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	success := 0.0
	if o.Success {
		success = 1.0
	}

	m := &p.Metrics
	if m.Samples == 0 {
		m.SuccessRate = success
		m.AvgLatency = o.Latency
		m.AvgCost = o.Cost
		m.AvgQuality = o.Quality
	} else {
		d := r.decay
		m.SuccessRate = (1-d)*m.SuccessRate + d*success
		m.AvgLatency = time.Duration((1-d)*float64(m.AvgLatency) + d*float64(o.Latency))
		m.AvgCost = (1-d)*m.AvgCost + d*o.Cost
		m.AvgQuality = (1-d)*m.AvgQuality + d*o.Quality
	}
	m.Samples++
	return nil
}

// SetActive toggles a provider's active flag.
func (r *Registry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.Active = active
	return nil
}

// ApplyConfig reconciles the registry against a desired provider set.
// Listed providers are upserted keeping their accumulated metrics;
// providers absent from the set are deactivated rather than removed so
// their learning history survives a reload.
func (r *Registry) ApplyConfig(desired []Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(desired))
	for _, p := range desired {
		if p.ID == "" {
			continue
		}
		seen[p.ID] = true

		if existing, ok := r.providers[p.ID]; ok {
			metrics := existing.Metrics
			cp := p
			cp.Metrics = metrics
			r.providers[p.ID] = &cp
			continue
		}
		cp := p
		r.providers[p.ID] = &cp
	}

	for id, p := range r.providers {
		if !seen[id] {
			p.Active = false
		}
	}
}
