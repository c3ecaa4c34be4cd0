package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/conductor/metrics"
	"github.com/c360studio/conductor/store"
)

// jobKeyPrefix namespaces persisted jobs in the KV store.
const jobKeyPrefix = "jobs."

// ErrJobNotFound is returned when a job ID is unknown.
var ErrJobNotFound = errors.New("job not found")

// Config tunes queue retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt before
	// a job is dead-lettered.
	MaxRetries int

	// BackoffBase is the delay before the first retry; each further retry
	// doubles it.
	BackoffBase time.Duration

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration
}

// DefaultConfig returns sensible retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		BackoffBase: 2 * time.Second,
		BackoffMax:  30 * time.Second,
	}
}

// Queue is a durable job queue. Scheduling state lives in memory for fast
// dequeue; every transition is written through to the KV store so jobs
// survive restarts.
type Queue struct {
	kv      store.KV
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	jobs   map[string]*Job   // by job ID
	byKey  map[string]string // idempotency key -> job ID
	signal chan struct{}     // closed and replaced to wake waiters
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New creates a queue over the given store and restores any persisted
// jobs. Jobs found in the running state are treated as redelivered and
// rescheduled; outcome recording is idempotent per attempt, so a job whose
// ack was lost re-executes without double-counting.
func New(ctx context.Context, kv store.KV, cfg Config, opts ...Option) (*Queue, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = DefaultConfig().BackoffMax
	}

	q := &Queue{
		kv:     kv,
		cfg:    cfg,
		logger: slog.Default(),
		jobs:   make(map[string]*Job),
		byKey:  make(map[string]string),
		signal: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.restore(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// restore loads persisted jobs into the scheduling index.
func (q *Queue) restore(ctx context.Context) error {
	keys, err := q.kv.Keys(ctx, jobKeyPrefix)
	if err != nil {
		return fmt.Errorf("restore queue: %w", err)
	}

	restored := 0
	for _, key := range keys {
		entry, err := q.kv.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("restore job %s: %w", key, err)
		}

		var job Job
		if err := json.Unmarshal(entry.Value, &job); err != nil {
			return fmt.Errorf("unmarshal job %s: %w", key, err)
		}

		if job.Status == StatusRunning {
			job.Status = StatusPending
		}

		q.jobs[job.ID] = &job
		q.byKey[job.IdempotencyKey] = job.ID
		restored++

		// Keep the depth gauge in step with the rebuilt index; acks and
		// dead-letters decrement it later.
		if !job.Status.Terminal() && q.metrics != nil {
			q.metrics.QueueDepth.Inc()
		}
	}

	if restored > 0 {
		q.logger.Info("Restored queue jobs", "count", restored)
	}
	return nil
}

// Enqueue adds a step execution to the queue. If a job with the same
// idempotency key already exists, the existing job is returned and created
// is false.
func (q *Queue) Enqueue(ctx context.Context, planID string, step int, payload []byte) (Job, bool, error) {
	key := IdempotencyKey(planID, step, payload)

	q.mu.Lock()
	if id, ok := q.byKey[key]; ok {
		job := *q.jobs[id]
		q.mu.Unlock()
		return job, false, nil
	}

	now := time.Now()
	job := &Job{
		ID:             uuid.New().String(),
		PlanID:         planID,
		Step:           step,
		IdempotencyKey: key,
		Payload:        payload,
		Status:         StatusPending,
		NextAttemptAt:  now,
		EnqueuedAt:     now,
		UpdatedAt:      now,
	}
	q.jobs[job.ID] = job
	q.byKey[key] = job.ID
	snapshot := *job
	q.wakeLocked()
	q.mu.Unlock()

	if err := q.persistCreate(ctx, &snapshot); err != nil {
		return Job{}, false, err
	}

	if q.metrics != nil {
		q.metrics.QueueDepth.Inc()
	}
	q.logger.Debug("Enqueued job", "job_id", snapshot.ID, "plan_id", planID, "step", step)
	return snapshot, true, nil
}

// Dequeue blocks cooperatively until a job is due and returns it in the
// running state. It returns the context error when ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		job, wait := q.nextDueLocked()
		var signal chan struct{}
		if job == nil {
			signal = q.signal
		} else {
			job.Status = StatusRunning
			job.UpdatedAt = time.Now()
		}
		var snapshot Job
		if job != nil {
			snapshot = *job
		}
		q.mu.Unlock()

		if job != nil {
			q.persistBestEffort(ctx, &snapshot)
			return snapshot, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Job{}, ctx.Err()
		case <-signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// nextDueLocked returns the earliest due job, or the wait until one is
// due. Caller holds the queue lock.
func (q *Queue) nextDueLocked() (*Job, time.Duration) {
	now := time.Now()
	wait := time.Minute

	var due *Job
	for _, job := range q.jobs {
		if job.Status != StatusPending && job.Status != StatusFailed {
			continue
		}
		if job.NextAttemptAt.After(now) {
			if d := job.NextAttemptAt.Sub(now); d < wait {
				wait = d
			}
			continue
		}
		if due == nil || job.NextAttemptAt.Before(due.NextAttemptAt) {
			due = job
		}
	}
	return due, wait
}

// Ack marks a job succeeded.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	job.Status = StatusSucceeded
	job.UpdatedAt = time.Now()
	snapshot := *job
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.QueueDepth.Dec()
	}
	q.persistBestEffort(ctx, &snapshot)
	return nil
}

// Fail records a failed attempt. The job is rescheduled with exponential
// backoff and jitter, or dead-lettered once its retry budget is exhausted.
// The updated job is returned so callers can observe the terminal state.
func (q *Queue) Fail(ctx context.Context, jobID string, cause error) (Job, error) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	job.Retries++
	job.UpdatedAt = time.Now()
	if cause != nil {
		job.LastError = cause.Error()
	}

	deadLettered := job.Retries > q.cfg.MaxRetries
	if deadLettered {
		job.Status = StatusDeadLettered
	} else {
		job.Status = StatusFailed
		job.NextAttemptAt = time.Now().Add(q.backoff(job.Retries))
		q.wakeLocked()
	}
	snapshot := *job
	q.mu.Unlock()

	if q.metrics != nil {
		if deadLettered {
			q.metrics.DeadLetters.Inc()
			q.metrics.QueueDepth.Dec()
		} else {
			q.metrics.JobRetries.Inc()
		}
	}

	if deadLettered {
		q.logger.Warn("Job dead-lettered",
			"job_id", jobID, "plan_id", snapshot.PlanID, "step", snapshot.Step,
			"retries", snapshot.Retries, "error", snapshot.LastError)
	}

	q.persistBestEffort(ctx, &snapshot)
	return snapshot, nil
}

// Get returns a copy of the job with the given ID.
func (q *Queue) Get(jobID string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return *job, nil
}

// Drain moves all non-terminal jobs of a plan to the dead-letter state.
// Cancellation uses it so already-queued work is recorded, not executed.
func (q *Queue) Drain(ctx context.Context, planID string) []Job {
	q.mu.Lock()
	var drained []Job
	for _, job := range q.jobs {
		if job.PlanID != planID || job.Status.Terminal() {
			continue
		}
		job.Status = StatusDeadLettered
		job.UpdatedAt = time.Now()
		job.LastError = "drained: task cancelled"
		drained = append(drained, *job)
	}
	q.mu.Unlock()

	for i := range drained {
		if q.metrics != nil {
			q.metrics.DeadLetters.Inc()
			q.metrics.QueueDepth.Dec()
		}
		q.persistBestEffort(ctx, &drained[i])
	}
	return drained
}

// DeadLettered returns copies of all dead-lettered jobs.
func (q *Queue) DeadLettered() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var jobs []Job
	for _, job := range q.jobs {
		if job.Status == StatusDeadLettered {
			jobs = append(jobs, *job)
		}
	}
	return jobs
}

// Depth returns the number of jobs pending, failed-awaiting-retry, or
// running.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := 0
	for _, job := range q.jobs {
		if !job.Status.Terminal() {
			depth++
		}
	}
	return depth
}

// backoff computes the delay before retry n: base × 2^(n-1), capped, with
// ±25% jitter to avoid synchronized retries.
func (q *Queue) backoff(retries int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 1; i < retries; i++ {
		d *= 2
		if d >= q.cfg.BackoffMax {
			d = q.cfg.BackoffMax
			break
		}
	}

	jitter := float64(d) * 0.25 * (rand.Float64()*2 - 1)
	return d + time.Duration(jitter)
}

// wakeLocked wakes all Dequeue waiters. Caller holds the queue lock.
func (q *Queue) wakeLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// persistCreate writes a new job to the store, treating an existing key
// as a concurrent duplicate (the stored job wins).
func (q *Queue) persistCreate(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := q.kv.Create(ctx, jobKeyPrefix+job.IdempotencyKey, data); err != nil && !errors.Is(err, store.ErrKeyExists) {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	return nil
}

// persistBestEffort writes a job transition to the store. Transition
// persistence failures degrade durability, not correctness, so they are
// logged rather than surfaced.
func (q *Queue) persistBestEffort(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		q.logger.Warn("Failed to marshal job", "job_id", job.ID, "error", err)
		return
	}
	if _, err := q.kv.Put(ctx, jobKeyPrefix+job.IdempotencyKey, data); err != nil {
		q.logger.Warn("Failed to persist job transition", "job_id", job.ID, "status", job.Status, "error", err)
	}
}
