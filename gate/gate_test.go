package gate

import (
	"testing"

	"github.com/c360studio/conductor/task"
)

func result(quality float64) task.StepResult {
	return task.StepResult{Step: 1, Name: "implement", Quality: quality, Status: task.StepSucceeded}
}

func TestEvaluateAccepts(t *testing.T) {
	g := New(DefaultPolicy())

	if got := g.Evaluate(result(0.7), 0.7, 0); got != Accept {
		t.Errorf("Evaluate(0.7 vs 0.7) = %v, want %v", got, Accept)
	}
	if got := g.Evaluate(result(0.95), 0.7, 2); got != Accept {
		t.Errorf("Evaluate(0.95) = %v, want %v even with retries consumed", got, Accept)
	}
}

func TestEvaluateUsesDefaultThreshold(t *testing.T) {
	g := New(DefaultPolicy())

	// minQuality zero falls back to the policy default of 0.7.
	if got := g.Evaluate(result(0.69), 0, 1); got == Accept {
		t.Errorf("Evaluate(0.69, default threshold) = %v, want a retry or escalation", got)
	}
	if got := g.Evaluate(result(0.71), 0, 0); got != Accept {
		t.Errorf("Evaluate(0.71, default threshold) = %v, want %v", got, Accept)
	}
}

func TestEvaluateBorderlineRetriesSameAgent(t *testing.T) {
	g := New(DefaultPolicy())

	// 0.65 is within 90% of the 0.7 threshold: first failure retries the
	// same agent.
	if got := g.Evaluate(result(0.65), 0.7, 0); got != RetrySameAgent {
		t.Errorf("Evaluate(borderline, first failure) = %v, want %v", got, RetrySameAgent)
	}

	// A repeat borderline failure switches agents.
	if got := g.Evaluate(result(0.65), 0.7, 1); got != RetryDifferentAgent {
		t.Errorf("Evaluate(borderline, second failure) = %v, want %v", got, RetryDifferentAgent)
	}
}

func TestEvaluateFarMissSwitchesAgent(t *testing.T) {
	g := New(DefaultPolicy())

	if got := g.Evaluate(result(0.3), 0.7, 0); got != RetryDifferentAgent {
		t.Errorf("Evaluate(far miss) = %v, want %v", got, RetryDifferentAgent)
	}
}

func TestEvaluateEscalatesWhenBudgetExhausted(t *testing.T) {
	g := New(DefaultPolicy())

	if got := g.Evaluate(result(0.69), 0.7, 2); got != Escalate {
		t.Errorf("Evaluate(retries exhausted) = %v, want %v", got, Escalate)
	}
}

func TestEvaluateBorderlineDisabled(t *testing.T) {
	g := New(Policy{DefaultMinQuality: 0.7, MaxQualityRetries: 2, BorderlineFraction: 0})

	if got := g.Evaluate(result(0.69), 0.7, 0); got != RetryDifferentAgent {
		t.Errorf("Evaluate(borderline, feature disabled) = %v, want %v", got, RetryDifferentAgent)
	}
}

func TestVerdictString(t *testing.T) {
	tests := []struct {
		v    Verdict
		want string
	}{
		{Accept, "accept"},
		{RetrySameAgent, "retry_same_agent"},
		{RetryDifferentAgent, "retry_different_agent"},
		{Escalate, "escalate"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
