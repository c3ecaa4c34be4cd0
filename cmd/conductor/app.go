package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/conductor/bandit"
	"github.com/c360studio/conductor/breaker"
	"github.com/c360studio/conductor/config"
	"github.com/c360studio/conductor/executor"
	"github.com/c360studio/conductor/gate"
	"github.com/c360studio/conductor/metrics"
	"github.com/c360studio/conductor/orchestrator"
	"github.com/c360studio/conductor/planner"
	"github.com/c360studio/conductor/provider"
	"github.com/c360studio/conductor/queue"
	"github.com/c360studio/conductor/recorder"
	"github.com/c360studio/conductor/store"
	"github.com/c360studio/conductor/store/natskv"
)

// engine bundles the wired routing and orchestration components.
type engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *provider.Registry
	breaker  *breaker.Breaker
	router   *bandit.Router
	queue    *queue.Queue
	execs    *executor.Registry
	gate     *gate.Gate
	recorder *recorder.Recorder
	control  *orchestrator.Controller
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry

	nc *nats.Conn
}

// newEngine wires the engine from config. With a NATS URL the durable
// state (jobs, bandit stats, outcome dedupe) lives in JetStream KV;
// without one it runs on the in-memory store.
func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	e := &engine{cfg: cfg, logger: logger}

	var kv store.KV
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("conductor"))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		kv, err = natskv.New(ctx, js, cfg.NATS.Bucket)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("open KV bucket %s: %w", cfg.NATS.Bucket, err)
		}
		e.nc = nc
		logger.Info("Connected to NATS", "url", cfg.NATS.URL, "bucket", cfg.NATS.Bucket)
	} else {
		kv = store.NewMemory()
		logger.Info("Running on in-memory store")
	}

	e.promReg = prometheus.NewRegistry()
	e.metrics = metrics.New(e.promReg)

	e.registry = provider.NewRegistry(provider.WithDecay(cfg.Bandit.MetricsDecay))
	e.registry.ApplyConfig(cfg.ProviderList())

	e.breaker = breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureRate:      cfg.Breaker.FailureRate,
		Window:           cfg.Breaker.Window,
		MinSamples:       cfg.Breaker.MinSamples,
		Cooldown:         cfg.Breaker.Cooldown,
		MaxCooldown:      cfg.Breaker.MaxCooldown,
	})

	e.router = bandit.NewRouter(e.registry, e.breaker,
		bandit.WithPolicy(cfg.Policy()),
		bandit.WithRewardWeights(cfg.Bandit.RewardWeights),
		bandit.WithLogger(logger),
		bandit.WithMetrics(e.metrics),
		bandit.WithStore(kv),
	)
	if err := e.router.LoadStats(ctx); err != nil {
		logger.Warn("Failed to load persisted bandit stats", "error", err)
	}

	q, err := queue.New(ctx, kv, queue.Config{
		MaxRetries:  cfg.Queue.MaxRetries,
		BackoffBase: cfg.Queue.BackoffBase,
		BackoffMax:  cfg.Queue.BackoffMax,
	}, queue.WithLogger(logger), queue.WithMetrics(e.metrics))
	if err != nil {
		e.close()
		return nil, fmt.Errorf("restore queue: %w", err)
	}
	e.queue = q

	e.execs = executor.NewRegistry()
	e.gate = gate.New(gate.Policy{
		DefaultMinQuality:  cfg.Gate.DefaultMinQuality,
		MaxQualityRetries:  cfg.Gate.MaxQualityRetries,
		BorderlineFraction: cfg.Gate.BorderlineFraction,
	}, gate.WithLogger(logger))
	e.recorder = recorder.New(e.registry, e.breaker, e.router, kv,
		recorder.WithLogger(logger), recorder.WithMetrics(e.metrics))

	e.control = orchestrator.New(orchestrator.Config{
		Workers:     cfg.Orchestrator.Workers,
		StepTimeout: cfg.Orchestrator.StepTimeout,
	}, planner.New(planner.WithLogger(logger)), e.router, e.queue, e.execs, e.gate, e.recorder,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(e.metrics),
	)

	return e, nil
}

// reload applies a changed configuration. Only the provider set is
// applied live; other sections need a restart.
func (e *engine) reload(cfg *config.Config) {
	e.registry.ApplyConfig(cfg.ProviderList())
	e.logger.Info("Applied provider config", "providers", len(cfg.Providers))
}

func (e *engine) close() {
	if e.nc != nil {
		e.nc.Close()
	}
}
