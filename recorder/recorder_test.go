package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/c360studio/conductor/bandit"
	"github.com/c360studio/conductor/breaker"
	"github.com/c360studio/conductor/metrics"
	"github.com/c360studio/conductor/provider"
	"github.com/c360studio/conductor/store"
	"github.com/c360studio/conductor/task"
)

func newTestRecorder(t *testing.T) (*Recorder, *provider.Registry, *breaker.Breaker, *bandit.Router) {
	t.Helper()

	registry := provider.NewRegistry()
	err := registry.Register(provider.Provider{
		ID:           "openai",
		Name:         "openai",
		Models:       []string{"default"},
		Capabilities: []provider.Capability{provider.CapabilityCoding},
		Active:       true,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	brk := breaker.New(breaker.Config{FailureThreshold: 2, Cooldown: time.Hour})
	router := bandit.NewRouter(registry, brk)
	rec := New(registry, brk, router, store.NewMemory())
	return rec, registry, brk, router
}

func testOutcome(attemptID string, success bool) Outcome {
	return Outcome{
		AttemptID: attemptID,
		Bucket:    bandit.Bucket{Category: task.CategoryCoding, Priority: task.PriorityMedium, Envelope: "anycost-anylat"},
		Arm:       bandit.Arm{ProviderID: "openai", Model: "default"},
		Success:   success,
		Quality:   0.8,
		Cost:      0.05,
		Latency:   2 * time.Second,
	}
}

func TestRecordFansOut(t *testing.T) {
	rec, registry, _, router := newTestRecorder(t)
	o := testOutcome("job-1.00000000", true)

	if err := rec.Record(context.Background(), o); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	p, _ := registry.Get("openai")
	if p.Metrics.Samples != 1 {
		t.Errorf("registry Samples = %d, want 1", p.Metrics.Samples)
	}
	if p.Metrics.SuccessRate != 1.0 {
		t.Errorf("registry SuccessRate = %v, want 1.0", p.Metrics.SuccessRate)
	}

	s := router.StatsFor(o.Bucket, o.Arm)
	if s.Trials != 1 || s.Successes != 1 {
		t.Errorf("arm stats = %+v, want one successful trial", s)
	}
	if s.RewardSum <= 0 {
		t.Errorf("RewardSum = %v, want > 0 for a successful outcome", s.RewardSum)
	}
}

func TestRecordReplayIsNoOp(t *testing.T) {
	rec, registry, _, router := newTestRecorder(t)
	o := testOutcome("job-1.00000000", true)

	if err := rec.Record(context.Background(), o); err != nil {
		t.Fatalf("first Record() error = %v", err)
	}
	// Redelivered ack for the same attempt.
	if err := rec.Record(context.Background(), o); err != nil {
		t.Fatalf("replayed Record() error = %v", err)
	}

	p, _ := registry.Get("openai")
	if p.Metrics.Samples != 1 {
		t.Errorf("registry Samples = %d after replay, want 1", p.Metrics.Samples)
	}
	s := router.StatsFor(o.Bucket, o.Arm)
	if s.Trials != 1 {
		t.Errorf("arm Trials = %d after replay, want 1", s.Trials)
	}
}

func TestRecordDistinctAttemptsBothCount(t *testing.T) {
	rec, registry, _, _ := newTestRecorder(t)

	// A retried job shares its job ID but carries a new attempt ID; both
	// attempts are legitimate observations.
	if err := rec.Record(context.Background(), testOutcome("job-1.00000000", false)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := rec.Record(context.Background(), testOutcome("job-1.00000001", true)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	p, _ := registry.Get("openai")
	if p.Metrics.Samples != 2 {
		t.Errorf("registry Samples = %d, want 2", p.Metrics.Samples)
	}
}

func TestRecordFailureTripsBreaker(t *testing.T) {
	rec, _, brk, _ := newTestRecorder(t)

	_ = rec.Record(context.Background(), testOutcome("a.00000000", false))
	_ = rec.Record(context.Background(), testOutcome("b.00000000", false))

	if got := brk.State("openai"); got != breaker.StateOpen {
		t.Errorf("breaker state = %v, want %v after two failures", got, breaker.StateOpen)
	}
}

func TestRecordTimeoutCountsAsFailure(t *testing.T) {
	rec, registry, _, router := newTestRecorder(t)

	o := testOutcome("job-1.00000000", true)
	o.Timeout = true
	if err := rec.Record(context.Background(), o); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	p, _ := registry.Get("openai")
	if p.Metrics.SuccessRate != 0 {
		t.Errorf("SuccessRate = %v, want 0 (timeout is a failure)", p.Metrics.SuccessRate)
	}
	s := router.StatsFor(o.Bucket, o.Arm)
	if s.RewardSum != 0 {
		t.Errorf("RewardSum = %v, want 0 (failures earn no reward)", s.RewardSum)
	}
}

func TestRecordUnknownProviderStillLearns(t *testing.T) {
	rec, _, _, router := newTestRecorder(t)

	o := testOutcome("job-1.00000000", true)
	o.Arm.ProviderID = "removed"

	// A provider dropped by a config reload can still have in-flight
	// outcomes; breaker and bandit updates must not be lost.
	if err := rec.Record(context.Background(), o); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	s := router.StatsFor(o.Bucket, o.Arm)
	if s.Trials != 1 {
		t.Errorf("arm Trials = %d, want 1", s.Trials)
	}
}

func TestRecordRequiresAttemptID(t *testing.T) {
	rec, _, _, _ := newTestRecorder(t)

	o := testOutcome("", true)
	if err := rec.Record(context.Background(), o); err == nil {
		t.Error("Record() with empty attempt ID should fail")
	}
}

func TestReleaseProbeFreesBreakerSlot(t *testing.T) {
	registry := provider.NewRegistry()
	brk := breaker.New(breaker.Config{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})
	router := bandit.NewRouter(registry, brk)
	rec := New(registry, brk, router, store.NewMemory())

	brk.RecordResult("openai", false)
	time.Sleep(15 * time.Millisecond)

	if got := brk.Allow("openai"); got != breaker.Probe {
		t.Fatalf("Allow() after cooldown = %v, want %v", got, breaker.Probe)
	}

	// The probe attempt ends without a recordable outcome; releasing it
	// through the recorder must free the slot for the next attempt.
	rec.ReleaseProbe("openai")

	if got := brk.Allow("openai"); got != breaker.Probe {
		t.Errorf("Allow() after release = %v, want %v", got, breaker.Probe)
	}
}

func TestRecordUpdatesBreakerGauge(t *testing.T) {
	registry := provider.NewRegistry()
	brk := breaker.New(breaker.Config{FailureThreshold: 2, Cooldown: time.Hour})
	router := bandit.NewRouter(registry, brk)
	m := metrics.New(nil)
	rec := New(registry, brk, router, store.NewMemory(), WithMetrics(m))

	_ = rec.Record(context.Background(), testOutcome("a.00000000", false))
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("openai")); got != 0 {
		t.Errorf("breaker gauge after one failure = %v, want 0", got)
	}

	_ = rec.Record(context.Background(), testOutcome("b.00000000", false))
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("openai")); got != 1 {
		t.Errorf("breaker gauge after circuit opened = %v, want 1", got)
	}
}
