package provider

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/c360studio/conductor/task"
)

func testProvider(id string, caps ...Capability) Provider {
	if len(caps) == 0 {
		caps = []Capability{CapabilityCoding}
	}
	return Provider{
		ID:           id,
		Name:         id,
		Models:       []string{"model-a"},
		Capabilities: caps,
		CostPerCall:  0.01,
		LatencyHint:  2 * time.Second,
		Active:       true,
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(testProvider("openai")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	p, err := r.Get("openai")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.ID != "openai" {
		t.Errorf("Get().ID = %q, want %q", p.ID, "openai")
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want %v", err, ErrNotFound)
	}
}

func TestRegistryRegisterValidates(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Provider{Models: []string{"m"}}); err == nil {
		t.Error("Register() with empty ID should fail")
	}
	if err := r.Register(Provider{ID: "x"}); err == nil {
		t.Error("Register() with no models should fail")
	}
}

func TestRegistryListActiveFiltersAndSorts(t *testing.T) {
	r := NewRegistry()

	_ = r.Register(testProvider("zeta", CapabilityCoding))
	_ = r.Register(testProvider("alpha", CapabilityCoding))
	_ = r.Register(testProvider("writer", CapabilityWriting))

	inactive := testProvider("off", CapabilityCoding)
	inactive.Active = false
	_ = r.Register(inactive)

	got := r.ListActive(CapabilityCoding)
	if len(got) != 2 {
		t.Fatalf("ListActive() returned %d providers, want 2", len(got))
	}
	if got[0].ID != "alpha" || got[1].ID != "zeta" {
		t.Errorf("ListActive() order = [%s %s], want [alpha zeta]", got[0].ID, got[1].ID)
	}
}

func TestRegistryUpdateMetricsFirstSample(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(testProvider("openai"))

	err := r.UpdateMetrics("openai", Outcome{
		Success: true,
		Quality: 0.9,
		Cost:    0.05,
		Latency: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("UpdateMetrics() error = %v", err)
	}

	p, _ := r.Get("openai")
	m := p.Metrics
	if m.Samples != 1 {
		t.Errorf("Samples = %d, want 1", m.Samples)
	}
	// First sample initializes directly instead of decaying from zero.
	if m.SuccessRate != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", m.SuccessRate)
	}
	if m.AvgQuality != 0.9 {
		t.Errorf("AvgQuality = %v, want 0.9", m.AvgQuality)
	}
	if m.AvgCost != 0.05 {
		t.Errorf("AvgCost = %v, want 0.05", m.AvgCost)
	}
	if m.AvgLatency != 3*time.Second {
		t.Errorf("AvgLatency = %v, want 3s", m.AvgLatency)
	}
}

func TestRegistryUpdateMetricsEWMA(t *testing.T) {
	r := NewRegistry(WithDecay(0.5))
	_ = r.Register(testProvider("openai"))

	_ = r.UpdateMetrics("openai", Outcome{Success: true, Quality: 1.0, Cost: 0.1})
	_ = r.UpdateMetrics("openai", Outcome{Success: false, Quality: 0.0, Cost: 0.2})

	p, _ := r.Get("openai")
	m := p.Metrics
	if math.Abs(m.SuccessRate-0.5) > 1e-9 {
		t.Errorf("SuccessRate = %v, want 0.5", m.SuccessRate)
	}
	if math.Abs(m.AvgCost-0.15) > 1e-9 {
		t.Errorf("AvgCost = %v, want 0.15", m.AvgCost)
	}
	if m.Samples != 2 {
		t.Errorf("Samples = %d, want 2", m.Samples)
	}
}

func TestRegistryUpdateMetricsUnknownProvider(t *testing.T) {
	r := NewRegistry()
	if err := r.UpdateMetrics("ghost", Outcome{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateMetrics(ghost) error = %v, want %v", err, ErrNotFound)
	}
}

func TestProviderEstimatesSeedUntilObserved(t *testing.T) {
	p := testProvider("openai")

	if got := p.EstimatedCost(); got != 0.01 {
		t.Errorf("EstimatedCost() = %v, want seed 0.01", got)
	}
	if got := p.EstimatedLatency(); got != 2*time.Second {
		t.Errorf("EstimatedLatency() = %v, want seed 2s", got)
	}

	p.Metrics = Metrics{Samples: 3, AvgCost: 0.5, AvgLatency: 9 * time.Second}
	if got := p.EstimatedCost(); got != 0.5 {
		t.Errorf("EstimatedCost() = %v, want observed 0.5", got)
	}
	if got := p.EstimatedLatency(); got != 9*time.Second {
		t.Errorf("EstimatedLatency() = %v, want observed 9s", got)
	}
}

func TestRegistryApplyConfig(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(testProvider("openai"))
	_ = r.Register(testProvider("anthropic"))
	_ = r.UpdateMetrics("openai", Outcome{Success: true, Quality: 0.8})

	updated := testProvider("openai")
	updated.Models = []string{"model-b"}
	fresh := testProvider("mistral")
	r.ApplyConfig([]Provider{updated, fresh})

	// Upserted provider keeps its accumulated metrics.
	p, _ := r.Get("openai")
	if p.Metrics.Samples != 1 {
		t.Errorf("openai Samples = %d, want 1 (metrics must survive reload)", p.Metrics.Samples)
	}
	if len(p.Models) != 1 || p.Models[0] != "model-b" {
		t.Errorf("openai Models = %v, want [model-b]", p.Models)
	}

	// New provider appears.
	if _, err := r.Get("mistral"); err != nil {
		t.Errorf("Get(mistral) error = %v", err)
	}

	// Absent provider is deactivated, not deleted.
	p, err := r.Get("anthropic")
	if err != nil {
		t.Fatalf("Get(anthropic) error = %v", err)
	}
	if p.Active {
		t.Error("anthropic still active after being dropped from config")
	}
}

func TestRegistryReturnsCopies(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(testProvider("openai"))

	p, _ := r.Get("openai")
	p.Active = false

	got, _ := r.Get("openai")
	if !got.Active {
		t.Error("mutating a returned copy changed registry state")
	}
}

func TestCapabilityForCategory(t *testing.T) {
	tests := []struct {
		category string
		want     Capability
	}{
		{"planning", CapabilityPlanning},
		{"coding", CapabilityCoding},
		{"writing", CapabilityWriting},
		{"reviewing", CapabilityReviewing},
		{"fast", CapabilityFast},
		{"unknown", CapabilityWriting},
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			if got := CapabilityForCategory(task.Category(tt.category)); got != tt.want {
				t.Errorf("CapabilityForCategory(%q) = %v, want %v", tt.category, got, tt.want)
			}
		})
	}
}
