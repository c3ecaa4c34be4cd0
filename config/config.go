// Package config provides configuration loading and management for
// Conductor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/conductor/bandit"
	"github.com/c360studio/conductor/provider"
)

// Config represents the complete Conductor configuration.
type Config struct {
	Providers    []ProviderConfig   `yaml:"providers"`
	Bandit       BanditConfig       `yaml:"bandit"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Queue        QueueConfig        `yaml:"queue"`
	Gate         GateConfig         `yaml:"gate"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	NATS         NATSConfig         `yaml:"nats"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ProviderConfig declares one routable provider.
type ProviderConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Models       []string `yaml:"models"`
	Capabilities []string `yaml:"capabilities"`
	// CostPerCall seeds routing cost estimates until real outcomes arrive.
	CostPerCall float64 `yaml:"cost_per_call"`
	// LatencyHint seeds routing latency estimates.
	LatencyHint time.Duration `yaml:"latency_hint"`
	// Disabled excludes the provider from routing without removing its
	// accumulated metrics.
	Disabled bool `yaml:"disabled"`
}

// BanditConfig configures the routing policy.
type BanditConfig struct {
	// Policy selects the exploration strategy: epsilon_greedy, thompson,
	// or ucb1.
	Policy string `yaml:"policy"`
	// Epsilon is the exploration rate for epsilon_greedy.
	Epsilon float64 `yaml:"epsilon"`
	// RewardWeights blends quality, cost, and latency into the scalar
	// reward. They should sum to 1.
	RewardWeights bandit.RewardWeights `yaml:"reward_weights"`
	// MetricsDecay is the EWMA factor for provider metrics (0, 1].
	MetricsDecay float64 `yaml:"metrics_decay"`
}

// BreakerConfig configures per provider/model circuit breaking.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureRate      float64       `yaml:"failure_rate"`
	Window           time.Duration `yaml:"window"`
	MinSamples       int           `yaml:"min_samples"`
	Cooldown         time.Duration `yaml:"cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
}

// QueueConfig configures the durable task queue.
type QueueConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// GateConfig configures the quality gate.
type GateConfig struct {
	DefaultMinQuality  float64 `yaml:"default_min_quality"`
	MaxQualityRetries  int     `yaml:"max_quality_retries"`
	BorderlineFraction float64 `yaml:"borderline_fraction"`
}

// OrchestratorConfig configures task execution.
type OrchestratorConfig struct {
	Workers     int           `yaml:"workers"`
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// NATSConfig configures the NATS connection backing durable state.
type NATSConfig struct {
	// URL is the NATS server URL. Empty runs on the in-memory store.
	URL string `yaml:"url"`
	// Bucket is the JetStream KV bucket name.
	Bucket string `yaml:"bucket"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics when non-empty (e.g. ":9090").
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Bandit: BanditConfig{
			Policy:        "epsilon_greedy",
			Epsilon:       0.1,
			RewardWeights: bandit.DefaultRewardWeights(),
			MetricsDecay:  0.2,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureRate:      0.5,
			Window:           time.Minute,
			MinSamples:       10,
			Cooldown:         30 * time.Second,
			MaxCooldown:      10 * time.Minute,
		},
		Queue: QueueConfig{
			MaxRetries:  3,
			BackoffBase: 2 * time.Second,
			BackoffMax:  30 * time.Second,
		},
		Gate: GateConfig{
			DefaultMinQuality:  0.7,
			MaxQualityRetries:  2,
			BorderlineFraction: 0.9,
		},
		Orchestrator: OrchestratorConfig{
			Workers:     4,
			StepTimeout: 2 * time.Minute,
		},
		NATS: NATSConfig{
			URL:    "",
			Bucket: "conductor",
		},
		Metrics: MetricsConfig{
			ListenAddr: "",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Bandit.Policy {
	case "epsilon_greedy", "thompson", "ucb1":
	default:
		return fmt.Errorf("bandit.policy must be epsilon_greedy, thompson, or ucb1, got %q", c.Bandit.Policy)
	}
	if c.Bandit.Epsilon < 0 || c.Bandit.Epsilon > 1 {
		return fmt.Errorf("bandit.epsilon must be between 0 and 1")
	}
	if c.Bandit.MetricsDecay <= 0 || c.Bandit.MetricsDecay > 1 {
		return fmt.Errorf("bandit.metrics_decay must be in (0, 1]")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Breaker.FailureRate < 0 || c.Breaker.FailureRate > 1 {
		return fmt.Errorf("breaker.failure_rate must be between 0 and 1")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative")
	}
	if c.Gate.DefaultMinQuality < 0 || c.Gate.DefaultMinQuality > 1 {
		return fmt.Errorf("gate.default_min_quality must be between 0 and 1")
	}
	if c.Orchestrator.Workers < 0 {
		return fmt.Errorf("orchestrator.workers must not be negative")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s: at least one model is required", p.ID)
		}
		for _, cap := range p.Capabilities {
			if !provider.Capability(cap).IsValid() {
				return fmt.Errorf("provider %s: unknown capability %q", p.ID, cap)
			}
		}
	}
	return nil
}

// ProviderList converts the declared providers into registry entries.
func (c *Config) ProviderList() []provider.Provider {
	out := make([]provider.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		caps := make([]provider.Capability, 0, len(p.Capabilities))
		for _, cap := range p.Capabilities {
			caps = append(caps, provider.Capability(cap))
		}
		out = append(out, provider.Provider{
			ID:           p.ID,
			Name:         p.Name,
			Models:       p.Models,
			Capabilities: caps,
			CostPerCall:  p.CostPerCall,
			LatencyHint:  p.LatencyHint,
			Active:       !p.Disabled,
		})
	}
	return out
}

// Policy builds the configured bandit policy.
func (c *Config) Policy() bandit.Policy {
	switch c.Bandit.Policy {
	case "thompson":
		return bandit.ThompsonSampling{}
	case "ucb1":
		return bandit.UCB1{}
	default:
		return bandit.EpsilonGreedy{Epsilon: c.Bandit.Epsilon}
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if len(other.Providers) > 0 {
		c.Providers = other.Providers
	}

	if other.Bandit.Policy != "" {
		c.Bandit.Policy = other.Bandit.Policy
	}
	if other.Bandit.Epsilon != 0 {
		c.Bandit.Epsilon = other.Bandit.Epsilon
	}
	if other.Bandit.MetricsDecay != 0 {
		c.Bandit.MetricsDecay = other.Bandit.MetricsDecay
	}
	if w := other.Bandit.RewardWeights; w.Quality != 0 || w.Cost != 0 || w.Latency != 0 {
		c.Bandit.RewardWeights = w
	}

	if other.Breaker.FailureThreshold != 0 {
		c.Breaker.FailureThreshold = other.Breaker.FailureThreshold
	}
	if other.Breaker.FailureRate != 0 {
		c.Breaker.FailureRate = other.Breaker.FailureRate
	}
	if other.Breaker.Window != 0 {
		c.Breaker.Window = other.Breaker.Window
	}
	if other.Breaker.MinSamples != 0 {
		c.Breaker.MinSamples = other.Breaker.MinSamples
	}
	if other.Breaker.Cooldown != 0 {
		c.Breaker.Cooldown = other.Breaker.Cooldown
	}
	if other.Breaker.MaxCooldown != 0 {
		c.Breaker.MaxCooldown = other.Breaker.MaxCooldown
	}

	if other.Queue.MaxRetries != 0 {
		c.Queue.MaxRetries = other.Queue.MaxRetries
	}
	if other.Queue.BackoffBase != 0 {
		c.Queue.BackoffBase = other.Queue.BackoffBase
	}
	if other.Queue.BackoffMax != 0 {
		c.Queue.BackoffMax = other.Queue.BackoffMax
	}

	if other.Gate.DefaultMinQuality != 0 {
		c.Gate.DefaultMinQuality = other.Gate.DefaultMinQuality
	}
	if other.Gate.MaxQualityRetries != 0 {
		c.Gate.MaxQualityRetries = other.Gate.MaxQualityRetries
	}
	if other.Gate.BorderlineFraction != 0 {
		c.Gate.BorderlineFraction = other.Gate.BorderlineFraction
	}

	if other.Orchestrator.Workers != 0 {
		c.Orchestrator.Workers = other.Orchestrator.Workers
	}
	if other.Orchestrator.StepTimeout != 0 {
		c.Orchestrator.StepTimeout = other.Orchestrator.StepTimeout
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Bucket != "" {
		c.NATS.Bucket = other.NATS.Bucket
	}

	if other.Metrics.ListenAddr != "" {
		c.Metrics.ListenAddr = other.Metrics.ListenAddr
	}
}
