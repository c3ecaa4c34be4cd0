// Package orchestrator drives composite tasks from planned through running
// to a terminal state: it turns plans into queued jobs, routes each step
// through the bandit router, applies the quality gate, records outcomes,
// and aggregates step results into the final execution result.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/conductor/bandit"
	"github.com/c360studio/conductor/executor"
	"github.com/c360studio/conductor/gate"
	"github.com/c360studio/conductor/metrics"
	"github.com/c360studio/conductor/planner"
	"github.com/c360studio/conductor/queue"
	"github.com/c360studio/conductor/recorder"
	"github.com/c360studio/conductor/task"
)

// Config tunes the controller.
type Config struct {
	// Workers is the number of concurrent execution units pulling from
	// the queue.
	Workers int

	// StepTimeout bounds each step's executor call when the task carries
	// no tighter latency constraint. A timed-out step counts as a
	// provider failure, not a quality failure.
	StepTimeout time.Duration
}

// DefaultConfig returns sensible controller defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		StepTimeout: 2 * time.Minute,
	}
}

// Controller executes composite tasks.
type Controller struct {
	cfg       Config
	planner   *planner.Planner
	router    *bandit.Router
	queue     *queue.Queue
	executors *executor.Registry
	gate      *gate.Gate
	recorder  *recorder.Recorder
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a controller over the engine's components.
func New(cfg Config, pl *planner.Planner, router *bandit.Router, q *queue.Queue,
	executors *executor.Registry, g *gate.Gate, rec *recorder.Recorder, opts ...Option) *Controller {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultConfig().StepTimeout
	}

	c := &Controller{
		cfg:       cfg,
		planner:   pl,
		router:    router,
		queue:     q,
		executors: executors,
		gate:      g,
		recorder:  rec,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Route is the single-shot path: it routes a request without planning or
// queueing. Callers execute the decision themselves and report the outcome
// through the recorder.
func (c *Controller) Route(ctx context.Context, req task.Request, opts ...bandit.RouteOption) (*bandit.Decision, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("route request: %w", err)
	}
	return c.router.Route(ctx, req, opts...)
}

// Execute drives a composite task to a terminal state and returns its
// execution result. Cancelling ctx cancels the task: no new steps are
// enqueued, queued jobs are drained to the dead-letter state, in-flight
// executor calls are interrupted, and the partial result is returned.
func (c *Controller) Execute(ctx context.Context, t task.Composite) (*task.ExecutionResult, error) {
	plan, err := c.planner.Plan(t)
	if err != nil {
		return nil, err
	}

	graph, err := planner.NewStepGraph(plan.Steps)
	if err != nil {
		return nil, fmt.Errorf("build step graph: %w", err)
	}

	run := newRun(t, plan, graph, c.stepConstraints(t, len(plan.Steps)))

	c.logger.Info("Executing composite task",
		"task_id", t.ID,
		"plan_id", plan.ID,
		"mode", t.Mode,
		"steps", len(plan.Steps),
		"workers", c.cfg.Workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.enqueueSteps(runCtx, run, graph.Ready()); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(runCtx, run)
		}()
	}

	cancelled := false
	select {
	case <-run.done:
	case <-ctx.Done():
		cancelled = true
	}

	cancel()
	wg.Wait()

	if cancelled {
		drained := c.queue.Drain(context.WithoutCancel(ctx), run.plan.ID)
		c.logger.Info("Cancelled composite task",
			"task_id", t.ID, "drained_jobs", len(drained))
	}

	return run.aggregate(cancelled), nil
}

// worker pulls jobs until the run context is cancelled.
func (c *Controller) worker(ctx context.Context, run *run) {
	for {
		job, err := c.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		c.runJob(ctx, run, job)

		if run.graph.Remaining() == 0 {
			run.finish()
		}
	}
}

// stepConstraints derives the per-step constraint envelope from the task's
// budgets. The cost budget is split evenly across steps; latency is
// bounded by the controller's step timeout.
func (c *Controller) stepConstraints(t task.Composite, steps int) task.Constraints {
	cons := task.Constraints{MaxLatency: c.cfg.StepTimeout}
	if t.Requirements.MaxCost > 0 && steps > 0 {
		cons.MaxCost = t.Requirements.MaxCost / float64(steps)
	}
	if t.Requirements.MaxDuration > 0 && t.Requirements.MaxDuration < cons.MaxLatency {
		cons.MaxLatency = t.Requirements.MaxDuration
	}
	return cons
}

// enqueueSteps adds jobs for the given plan steps.
func (c *Controller) enqueueSteps(ctx context.Context, run *run, steps []*planner.Step) error {
	for _, step := range steps {
		if err := c.enqueueStep(ctx, run, step.Number, 0); err != nil {
			return err
		}
	}
	return nil
}

// enqueueStep adds one job for a step attempt. qualityAttempt
// differentiates gate-driven retries so they get fresh idempotency keys,
// keeping the quality retry budget separate from transient retries.
func (c *Controller) enqueueStep(ctx context.Context, run *run, stepNumber, qualityAttempt int) error {
	payload, err := encodeStepRef(stepRef{
		TaskID:         run.task.ID,
		Step:           stepNumber,
		QualityAttempt: qualityAttempt,
	})
	if err != nil {
		return fmt.Errorf("encode step %d: %w", stepNumber, err)
	}

	if _, _, err := c.queue.Enqueue(ctx, run.plan.ID, stepNumber, payload); err != nil {
		return fmt.Errorf("enqueue step %d: %w", stepNumber, err)
	}
	return nil
}
