package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/conductor/bandit"
	"github.com/c360studio/conductor/executor"
	"github.com/c360studio/conductor/gate"
	"github.com/c360studio/conductor/planner"
	"github.com/c360studio/conductor/provider"
	"github.com/c360studio/conductor/queue"
	"github.com/c360studio/conductor/recorder"
	"github.com/c360studio/conductor/task"
)

// stepRef is the queue job payload: a reference to a plan step attempt.
type stepRef struct {
	TaskID         string `json:"task_id"`
	Step           int    `json:"step"`
	QualityAttempt int    `json:"quality_attempt"`
}

func encodeStepRef(ref stepRef) ([]byte, error) {
	return json.Marshal(ref)
}

// run is the mutable state of one Execute call.
type run struct {
	task        task.Composite
	plan        *planner.Plan
	graph       *planner.StepGraph
	constraints task.Constraints
	startedAt   time.Time

	mu             sync.Mutex
	results        map[int]task.StepResult
	outputs        map[int]string // accepted outputs, keyed by step number
	qualityRetries map[int]int
	excluded       map[int][]bandit.Arm

	done     chan struct{}
	doneOnce sync.Once
}

func newRun(t task.Composite, plan *planner.Plan, graph *planner.StepGraph, cons task.Constraints) *run {
	return &run{
		task:           t,
		plan:           plan,
		graph:          graph,
		constraints:    cons,
		startedAt:      time.Now(),
		results:        make(map[int]task.StepResult),
		outputs:        make(map[int]string),
		qualityRetries: make(map[int]int),
		excluded:       make(map[int][]bandit.Arm),
		done:           make(chan struct{}),
	}
}

// finish signals that every step reached a terminal state.
func (r *run) finish() {
	r.doneOnce.Do(func() { close(r.done) })
}

// excludedArms returns the arms the quality gate banned for a step.
func (r *run) excludedArms(step int) []bandit.Arm {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bandit.Arm(nil), r.excluded[step]...)
}

// setResult stores a step's terminal result.
func (r *run) setResult(res task.StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.Step] = res
	if res.Status == task.StepSucceeded {
		r.outputs[res.Step] = res.Output
	}
}

// stepContext renders the executor context for a step: the shared snapshot
// for collaborative steps, otherwise the accepted outputs of its
// dependencies.
func (r *run) stepContext(step *planner.Step) string {
	if step.SharedContext {
		return r.task.Description
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var parts []string
	for _, dep := range step.DependsOn {
		if out, ok := r.outputs[dep]; ok && out != "" {
			parts = append(parts, fmt.Sprintf("## Output of step %d\n%s", dep, out))
		}
	}
	return strings.Join(parts, "\n\n")
}

// runJob executes one dequeued job end to end: route, invoke, gate, record.
func (c *Controller) runJob(ctx context.Context, run *run, job queue.Job) {
	var ref stepRef
	if err := json.Unmarshal(job.Payload, &ref); err != nil {
		c.logger.Error("Dropping undecodable job", "job_id", job.ID, "error", err)
		if _, err := c.queue.Fail(ctx, job.ID, err); err != nil {
			c.logger.Error("Failed to fail job", "job_id", job.ID, "error", err)
		}
		return
	}

	step := run.plan.Step(ref.Step)
	if step == nil {
		c.logger.Error("Job references unknown step", "job_id", job.ID, "step", ref.Step)
		c.ackQuietly(ctx, job.ID)
		return
	}

	req := task.Request{
		ID:          job.AttemptID(),
		TenantID:    run.task.TenantID,
		UserID:      run.task.UserID,
		Category:    categoryForCapability(step.Capability),
		Priority:    priorityOrDefault(run.task.Priority),
		Constraints: run.constraints,
		CreatedAt:   job.EnqueuedAt,
	}

	decision, err := c.router.Route(ctx, req, bandit.WithoutArms(run.excludedArms(step.Number)...))
	if err != nil {
		// No eligible provider fails fast: retrying without a healthy
		// arm only burns the retry budget.
		c.logger.Warn("No route for step",
			"task_id", run.task.ID, "step", step.Number, "error", err)
		c.ackQuietly(ctx, job.ID)
		c.failStep(run, step, job.Retries, err)
		return
	}

	exec, ok := c.executors.Get(decision.ProviderID)
	if !ok {
		err := fmt.Errorf("no executor registered for provider %s", decision.ProviderID)
		c.logger.Error("Executor missing", "provider", decision.ProviderID)
		// Routing may have claimed the provider's half-open probe; the
		// attempt records no outcome, so hand the probe slot back.
		c.recorder.ReleaseProbe(decision.ProviderID)
		c.ackQuietly(ctx, job.ID)
		c.failStep(run, step, job.Retries, err)
		return
	}

	timeout := run.constraints.MaxLatency
	if timeout <= 0 {
		timeout = c.cfg.StepTimeout
	}
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	started := time.Now()
	inv, invErr := exec.Invoke(invokeCtx, executor.Request{
		Provider:    decision.ProviderID,
		Model:       decision.Model,
		Input:       step.Input,
		Context:     run.stepContext(step),
		Constraints: run.constraints,
	})
	cancel()
	elapsed := time.Since(started)

	arm := decision.SelectedArm()
	bucket := bandit.BucketFor(req)

	if invErr != nil {
		if ctx.Err() != nil {
			// Task-level cancellation: leave the job for the drain pass.
			// No outcome will ever be recorded for this attempt, so a
			// claimed half-open probe must be handed back or the provider
			// stays unroutable for the life of the process.
			c.recorder.ReleaseProbe(decision.ProviderID)
			return
		}
		c.handleInvokeError(ctx, run, step, job, arm, bucket, elapsed, invErr)
		return
	}

	result := task.StepResult{
		Step:           step.Number,
		Name:           step.Name,
		ProviderID:     decision.ProviderID,
		Model:          decision.Model,
		Status:         task.StepSucceeded,
		Output:         inv.Output,
		Quality:        inv.Quality,
		Cost:           inv.Cost,
		Duration:       elapsed,
		Retries:        job.Retries,
		QualityRetries: run.qualityRetryCount(step.Number),
	}

	c.recordOutcome(ctx, run, job, arm, bucket, recorder.Outcome{
		Success: true,
		Quality: inv.Quality,
		Cost:    inv.Cost,
		Latency: elapsed,
	})
	c.metrics.ObserveStep(elapsed.Seconds(), inv.Quality)

	verdict := c.gate.Evaluate(result, step.Deliverable.MinQuality, run.qualityRetryCount(step.Number))
	c.ackQuietly(ctx, job.ID)

	switch verdict {
	case gate.Accept:
		run.setResult(result)
		c.completeStep(ctx, run, step.Number)

	case gate.RetrySameAgent:
		attempt := run.bumpQualityRetries(step.Number)
		c.logger.Info("Quality gate retrying step with same agent",
			"task_id", run.task.ID, "step", step.Number, "quality", inv.Quality)
		c.requeueStep(ctx, run, step, attempt)

	case gate.RetryDifferentAgent:
		run.excludeArm(step.Number, arm)
		attempt := run.bumpQualityRetries(step.Number)
		c.logger.Info("Quality gate retrying step with different agent",
			"task_id", run.task.ID, "step", step.Number,
			"quality", inv.Quality, "excluded", arm.Key())
		c.requeueStep(ctx, run, step, attempt)

	case gate.Escalate:
		result.Status = task.StepFailed
		result.Error = fmt.Sprintf("quality gate escalated after %d retries (quality %.2f)",
			run.qualityRetryCount(step.Number), inv.Quality)
		run.setResult(result)
		c.blockDependents(run, step.Number)
	}
}

// handleInvokeError classifies an executor failure and applies the retry
// policy: transient failures (including timeouts) go back to the queue
// with backoff, fatal failures end the step immediately.
func (c *Controller) handleInvokeError(ctx context.Context, run *run, step *planner.Step,
	job queue.Job, arm bandit.Arm, bucket bandit.Bucket, elapsed time.Duration, invErr error) {

	timedOut := errors.Is(invErr, context.DeadlineExceeded)

	c.recordOutcome(ctx, run, job, arm, bucket, recorder.Outcome{
		Success: false,
		Latency: elapsed,
		Timeout: timedOut,
	})

	if executor.IsFatal(invErr) {
		c.logger.Warn("Step failed with fatal provider error",
			"task_id", run.task.ID, "step", step.Number, "provider", arm.ProviderID, "error", invErr)
		c.ackQuietly(ctx, job.ID)
		c.failStep(run, step, job.Retries, invErr)
		return
	}

	failed, err := c.queue.Fail(ctx, job.ID, invErr)
	if err != nil {
		c.logger.Error("Failed to fail job", "job_id", job.ID, "error", err)
		return
	}

	if failed.Status == queue.StatusDeadLettered {
		c.logger.Warn("Step exhausted transient retries",
			"task_id", run.task.ID, "step", step.Number, "retries", failed.Retries)
		c.failStep(run, step, failed.Retries,
			fmt.Errorf("queue exhausted after %d retries: %w", failed.Retries, invErr))
		return
	}

	c.logger.Debug("Step attempt failed, retrying",
		"task_id", run.task.ID, "step", step.Number,
		"retries", failed.Retries, "next_attempt_at", failed.NextAttemptAt, "error", invErr)
}

// completeStep marks a step done in the graph and enqueues newly ready steps.
func (c *Controller) completeStep(ctx context.Context, run *run, stepNumber int) {
	newlyReady := run.graph.MarkCompleted(stepNumber)
	if err := c.enqueueSteps(ctx, run, newlyReady); err != nil {
		c.logger.Error("Failed to enqueue unblocked steps", "error", err)
		for _, s := range newlyReady {
			c.failStep(run, s, 0, err)
		}
	}
}

// failStep records a terminal step failure and skips its dependents.
func (c *Controller) failStep(run *run, step *planner.Step, retries int, cause error) {
	run.setResult(task.StepResult{
		Step:    step.Number,
		Name:    step.Name,
		Status:  task.StepFailed,
		Retries: retries,
		Error:   cause.Error(),
	})
	c.blockDependents(run, step.Number)
}

// blockDependents marks a failed step's transitive dependents as skipped.
func (c *Controller) blockDependents(run *run, stepNumber int) {
	for _, blocked := range run.graph.MarkFailed(stepNumber) {
		name := ""
		if s := run.plan.Step(blocked); s != nil {
			name = s.Name
		}
		run.setResult(task.StepResult{
			Step:   blocked,
			Name:   name,
			Status: task.StepSkipped,
			Error:  fmt.Sprintf("dependency step %d failed", stepNumber),
		})
	}
}

// requeueStep enqueues a fresh quality attempt of a step.
func (c *Controller) requeueStep(ctx context.Context, run *run, step *planner.Step, attempt int) {
	if err := c.enqueueStep(ctx, run, step.Number, attempt); err != nil {
		c.logger.Error("Failed to requeue step", "step", step.Number, "error", err)
		c.failStep(run, step, 0, err)
	}
}

// recordOutcome reports an attempt outcome to the recorder.
func (c *Controller) recordOutcome(ctx context.Context, run *run, job queue.Job,
	arm bandit.Arm, bucket bandit.Bucket, o recorder.Outcome) {

	o.AttemptID = job.AttemptID()
	o.Arm = arm
	o.Bucket = bucket
	o.Constraints = run.constraints

	if err := c.recorder.Record(ctx, o); err != nil {
		c.logger.Warn("Failed to record outcome", "attempt_id", o.AttemptID, "error", err)
	}
}

// ackQuietly acks a job, logging rather than propagating bookkeeping errors.
func (c *Controller) ackQuietly(ctx context.Context, jobID string) {
	if err := c.queue.Ack(ctx, jobID); err != nil {
		c.logger.Error("Failed to ack job", "job_id", jobID, "error", err)
	}
}

// qualityRetryCount returns the gate-driven retries a step consumed.
func (r *run) qualityRetryCount(step int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.qualityRetries[step]
}

// bumpQualityRetries increments and returns a step's quality retry count.
func (r *run) bumpQualityRetries(step int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.qualityRetries[step]++
	return r.qualityRetries[step]
}

// excludeArm bans an arm for future attempts of a step.
func (r *run) excludeArm(step int, arm bandit.Arm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.excluded[step] = append(r.excluded[step], arm)
}

// aggregate folds the step results into the final execution result.
func (r *run) aggregate(cancelled bool) *task.ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &task.ExecutionResult{
		TaskID:      r.task.ID,
		PlanID:      r.plan.ID,
		StartedAt:   r.startedAt,
		CompletedAt: time.Now(),
	}
	res.Elapsed = res.CompletedAt.Sub(res.StartedAt)

	completed := 0
	failed := 0
	qualitySum := 0.0
	accepted := 0

	for _, step := range r.plan.Steps {
		sr, ok := r.results[step.Number]
		if !ok {
			sr = task.StepResult{Step: step.Number, Name: step.Name, Status: task.StepSkipped}
		}
		res.Steps = append(res.Steps, sr)
		res.TotalCost += sr.Cost

		switch sr.Status {
		case task.StepSucceeded:
			completed++
			accepted++
			qualitySum += sr.Quality
		case task.StepFailed:
			failed++
		}
	}

	sort.Slice(res.Steps, func(i, j int) bool { return res.Steps[i].Step < res.Steps[j].Step })

	if accepted > 0 {
		res.Quality = qualitySum / float64(accepted)
	}
	res.FinalOutput = r.finalOutputLocked()

	switch {
	case cancelled:
		res.Status = task.StatusCancelled
	case failed > 0 || completed < len(r.plan.Steps):
		res.Status = task.StatusFailed
	default:
		res.Status = task.StatusCompleted
	}
	return res
}

// finalOutputLocked picks the final output: the highest-numbered accepted
// step, which is the synthesis/review/reduce step in the modes that have
// one. Caller holds the run lock.
func (r *run) finalOutputLocked() string {
	best := -1
	output := ""
	for step, out := range r.outputs {
		if step > best {
			best = step
			output = out
		}
	}
	return output
}

// categoryForCapability maps a step's capability requirement back to a
// task category. The two enumerations are aligned by value.
func categoryForCapability(c provider.Capability) task.Category {
	cat := task.Category(c)
	if cat.IsValid() {
		return cat
	}
	return task.CategoryWriting
}

// priorityOrDefault substitutes the default priority for unset values.
func priorityOrDefault(p task.Priority) task.Priority {
	if p.IsValid() {
		return p
	}
	return task.PriorityMedium
}
