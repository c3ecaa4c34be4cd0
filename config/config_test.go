package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/conductor/bandit"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
	if cfg.Bandit.Policy != "epsilon_greedy" {
		t.Errorf("Bandit.Policy = %q, want epsilon_greedy", cfg.Bandit.Policy)
	}
	if cfg.Gate.DefaultMinQuality != 0.7 {
		t.Errorf("Gate.DefaultMinQuality = %v, want 0.7", cfg.Gate.DefaultMinQuality)
	}
	if cfg.NATS.Bucket != "conductor" {
		t.Errorf("NATS.Bucket = %q, want conductor", cfg.NATS.Bucket)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown policy", func(c *Config) { c.Bandit.Policy = "roulette" }},
		{"epsilon out of range", func(c *Config) { c.Bandit.Epsilon = 1.5 }},
		{"zero metrics decay", func(c *Config) { c.Bandit.MetricsDecay = 0 }},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"failure rate above one", func(c *Config) { c.Breaker.FailureRate = 2 }},
		{"negative max retries", func(c *Config) { c.Queue.MaxRetries = -1 }},
		{"min quality above one", func(c *Config) { c.Gate.DefaultMinQuality = 1.2 }},
		{"negative workers", func(c *Config) { c.Orchestrator.Workers = -1 }},
		{"provider without id", func(c *Config) {
			c.Providers = []ProviderConfig{{Models: []string{"m"}}}
		}},
		{"duplicate provider ids", func(c *Config) {
			c.Providers = []ProviderConfig{
				{ID: "openai", Models: []string{"m"}},
				{ID: "openai", Models: []string{"m"}},
			}
		}},
		{"provider without models", func(c *Config) {
			c.Providers = []ProviderConfig{{ID: "openai"}}
		}},
		{"unknown capability", func(c *Config) {
			c.Providers = []ProviderConfig{
				{ID: "openai", Models: []string{"m"}, Capabilities: []string{"juggling"}},
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestValidateAcceptsProviders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{
		{
			ID:           "openai",
			Name:         "OpenAI",
			Models:       []string{"gpt-4o", "gpt-4o-mini"},
			Capabilities: []string{"coding", "writing", "fast"},
			CostPerCall:  0.02,
			LatencyHint:  3 * time.Second,
		},
		{
			ID:           "anthropic",
			Models:       []string{"claude"},
			Capabilities: []string{"planning", "reviewing"},
			Disabled:     true,
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestProviderList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{
		{ID: "a", Models: []string{"m1"}, Capabilities: []string{"coding"}, CostPerCall: 0.01},
		{ID: "b", Models: []string{"m2"}, Disabled: true},
	}

	list := cfg.ProviderList()
	if len(list) != 2 {
		t.Fatalf("len(ProviderList()) = %d, want 2", len(list))
	}
	if !list[0].Active {
		t.Error("enabled provider converted as inactive")
	}
	if list[1].Active {
		t.Error("disabled provider converted as active")
	}
	if list[0].Capabilities[0].String() != "coding" {
		t.Errorf("Capabilities[0] = %v, want coding", list[0].Capabilities[0])
	}
}

func TestPolicyMapping(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Bandit.Policy = "thompson"
	if _, ok := cfg.Policy().(bandit.ThompsonSampling); !ok {
		t.Errorf("Policy() = %T, want bandit.ThompsonSampling", cfg.Policy())
	}

	cfg.Bandit.Policy = "ucb1"
	if _, ok := cfg.Policy().(bandit.UCB1); !ok {
		t.Errorf("Policy() = %T, want bandit.UCB1", cfg.Policy())
	}

	cfg.Bandit.Policy = "epsilon_greedy"
	cfg.Bandit.Epsilon = 0.25
	eg, ok := cfg.Policy().(bandit.EpsilonGreedy)
	if !ok {
		t.Fatalf("Policy() = %T, want bandit.EpsilonGreedy", cfg.Policy())
	}
	if eg.Epsilon != 0.25 {
		t.Errorf("Epsilon = %v, want 0.25", eg.Epsilon)
	}
}

func TestMergePrecedence(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{
		Providers: []ProviderConfig{{ID: "openai", Models: []string{"m"}}},
		Bandit:    BanditConfig{Policy: "ucb1"},
		Queue:     QueueConfig{MaxRetries: 7},
		NATS:      NATSConfig{URL: "nats://localhost:4222"},
	})

	if base.Bandit.Policy != "ucb1" {
		t.Errorf("Bandit.Policy = %q, want ucb1", base.Bandit.Policy)
	}
	if base.Queue.MaxRetries != 7 {
		t.Errorf("Queue.MaxRetries = %d, want 7", base.Queue.MaxRetries)
	}
	if base.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS.URL = %q", base.NATS.URL)
	}
	if len(base.Providers) != 1 {
		t.Fatalf("len(Providers) = %d, want 1", len(base.Providers))
	}

	// Zero values in the overlay keep the base settings.
	if base.Bandit.Epsilon != 0.1 {
		t.Errorf("Bandit.Epsilon = %v, want default 0.1", base.Bandit.Epsilon)
	}
	if base.Queue.BackoffBase != 2*time.Second {
		t.Errorf("Queue.BackoffBase = %v, want default 2s", base.Queue.BackoffBase)
	}
	if base.NATS.Bucket != "conductor" {
		t.Errorf("NATS.Bucket = %q, want default conductor", base.NATS.Bucket)
	}
}

func TestMergeNilIsNoOp(t *testing.T) {
	base := DefaultConfig()
	base.Merge(nil)
	if err := base.Validate(); err != nil {
		t.Errorf("Validate() after nil merge error = %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "conductor.yaml")

	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{
		{ID: "openai", Name: "OpenAI", Models: []string{"gpt-4o"},
			Capabilities: []string{"coding"}, CostPerCall: 0.02, LatencyHint: 3 * time.Second},
	}
	cfg.Bandit.Policy = "thompson"
	cfg.Metrics.ListenAddr = ":9090"

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.Bandit.Policy != "thompson" {
		t.Errorf("Bandit.Policy = %q, want thompson", loaded.Bandit.Policy)
	}
	if loaded.Metrics.ListenAddr != ":9090" {
		t.Errorf("Metrics.ListenAddr = %q, want :9090", loaded.Metrics.ListenAddr)
	}
	if len(loaded.Providers) != 1 || loaded.Providers[0].ID != "openai" {
		t.Fatalf("Providers = %+v, want one openai entry", loaded.Providers)
	}
	if loaded.Providers[0].LatencyHint != 3*time.Second {
		t.Errorf("LatencyHint = %v, want 3s", loaded.Providers[0].LatencyHint)
	}
}

func TestLoadFromFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	partial := "bandit:\n  policy: ucb1\n"
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Bandit.Policy != "ucb1" {
		t.Errorf("Bandit.Policy = %q, want ucb1", cfg.Bandit.Policy)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("Queue.MaxRetries = %d, want default 3", cfg.Queue.MaxRetries)
	}
}

func TestLoadFromFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	if err := os.WriteFile(path, []byte("{not yaml::"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile() = nil, want parse error")
	}
}

func TestLoaderExplicitPathMustExist(t *testing.T) {
	l := NewLoader(nil)
	if _, err := l.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() with missing explicit path = nil, want error")
	}
}

func TestLoaderExplicitPathOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	cfg := DefaultConfig()
	cfg.Bandit.Policy = "thompson"
	cfg.Orchestrator.Workers = 9
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewLoader(nil).Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Bandit.Policy != "thompson" {
		t.Errorf("Bandit.Policy = %q, want thompson", loaded.Bandit.Policy)
	}
	if loaded.Orchestrator.Workers != 9 {
		t.Errorf("Orchestrator.Workers = %d, want 9", loaded.Orchestrator.Workers)
	}
}

func TestLoaderRejectsInvalidExplicitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	bad := "bandit:\n  policy: roulette\n"
	if err := os.WriteFile(path, []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(nil).Load(path); err == nil {
		t.Error("Load() with invalid policy = nil, want validation error")
	}
}
