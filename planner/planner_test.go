package planner

import (
	"testing"

	"github.com/c360studio/conductor/provider"
	"github.com/c360studio/conductor/task"
)

func compositeTask(mode task.CompositionMode, deliverables ...task.Deliverable) task.Composite {
	t := task.NewComposite("build feature", "implement the widget", mode, task.Requirements{
		Deliverables: deliverables,
	})
	return t
}

func deliverable(name, typ string) task.Deliverable {
	return task.Deliverable{Name: name, Type: typ, Description: name + " for the widget"}
}

func TestPlanSingleAgent(t *testing.T) {
	p := New()
	plan, err := p.Plan(compositeTask(task.ModeSingleAgent))
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if len(plan.Steps) != 1 {
		t.Fatalf("len(Steps) = %d, want 1", len(plan.Steps))
	}
	s := plan.Steps[0]
	if s.Number != 1 || len(s.DependsOn) != 0 {
		t.Errorf("step = %+v, want number 1 with no dependencies", s)
	}
}

func TestPlanSequentialChain(t *testing.T) {
	p := New()
	plan, err := p.Plan(compositeTask(task.ModeSequential,
		deliverable("spec", "spec"),
		deliverable("implementation", "code"),
		deliverable("tests", "test"),
	))
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if len(plan.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 3", len(plan.Steps))
	}

	// Step 1 has no dependencies; each later step depends on its
	// predecessor only.
	if len(plan.Steps[0].DependsOn) != 0 {
		t.Errorf("step 1 DependsOn = %v, want none", plan.Steps[0].DependsOn)
	}
	for i := 1; i < 3; i++ {
		deps := plan.Steps[i].DependsOn
		if len(deps) != 1 || deps[0] != i {
			t.Errorf("step %d DependsOn = %v, want [%d]", i+1, deps, i)
		}
	}

	// Deliverable types drive capabilities.
	if got := plan.Steps[0].Capability; got != provider.CapabilityPlanning {
		t.Errorf("spec step capability = %v, want %v", got, provider.CapabilityPlanning)
	}
	if got := plan.Steps[1].Capability; got != provider.CapabilityCoding {
		t.Errorf("code step capability = %v, want %v", got, provider.CapabilityCoding)
	}
	if got := plan.Steps[2].Capability; got != provider.CapabilityCoding {
		t.Errorf("test step capability = %v, want %v", got, provider.CapabilityCoding)
	}
}

func TestPlanParallelWithSynthesis(t *testing.T) {
	p := New()
	plan, err := p.Plan(compositeTask(task.ModeParallel,
		deliverable("a", "document"),
		deliverable("b", "document"),
		deliverable("c", "document"),
	))
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if len(plan.Steps) != 4 {
		t.Fatalf("len(Steps) = %d, want 3 work + 1 synthesis", len(plan.Steps))
	}

	for i := 0; i < 3; i++ {
		if len(plan.Steps[i].DependsOn) != 0 {
			t.Errorf("work step %d DependsOn = %v, want none", i+1, plan.Steps[i].DependsOn)
		}
	}

	syn := plan.Steps[3]
	if syn.Role != RoleSynthesis {
		t.Errorf("final step role = %v, want %v", syn.Role, RoleSynthesis)
	}
	if len(syn.DependsOn) != 3 {
		t.Errorf("synthesis DependsOn = %v, want all three work steps", syn.DependsOn)
	}
	if syn.Capability != provider.CapabilityWriting {
		t.Errorf("synthesis capability = %v, want %v", syn.Capability, provider.CapabilityWriting)
	}
}

func TestPlanCollaborative(t *testing.T) {
	p := New()
	plan, err := p.Plan(compositeTask(task.ModeCollaborative,
		deliverable("a", "document"),
		deliverable("b", "document"),
	))
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if len(plan.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 2 work + 1 review", len(plan.Steps))
	}

	for i := 0; i < 2; i++ {
		if !plan.Steps[i].SharedContext {
			t.Errorf("work step %d SharedContext = false, want true", i+1)
		}
	}

	review := plan.Steps[2]
	if review.Role != RoleReview {
		t.Errorf("final step role = %v, want %v", review.Role, RoleReview)
	}
	if review.Capability != provider.CapabilityReviewing {
		t.Errorf("review capability = %v, want %v", review.Capability, provider.CapabilityReviewing)
	}
	if len(review.DependsOn) != 2 {
		t.Errorf("review DependsOn = %v, want both work steps", review.DependsOn)
	}
}

func TestPlanHierarchical(t *testing.T) {
	p := New()
	plan, err := p.Plan(compositeTask(task.ModeHierarchical,
		deliverable("a", "code"),
		deliverable("b", "code"),
	))
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if len(plan.Steps) != 4 {
		t.Fatalf("len(Steps) = %d, want coordinator + 2 work + reduce", len(plan.Steps))
	}

	coord := plan.Steps[0]
	if coord.Role != RoleCoordinator || coord.Capability != provider.CapabilityPlanning {
		t.Errorf("first step = %+v, want planning coordinator", coord)
	}

	// Children hang off the coordinator.
	for i := 1; i < 3; i++ {
		deps := plan.Steps[i].DependsOn
		if len(deps) != 1 || deps[0] != 1 {
			t.Errorf("child step %d DependsOn = %v, want [1]", i+1, deps)
		}
	}

	reduce := plan.Steps[3]
	if reduce.Role != RoleSynthesis {
		t.Errorf("final step role = %v, want %v", reduce.Role, RoleSynthesis)
	}
	if len(reduce.DependsOn) != 2 {
		t.Errorf("reduce DependsOn = %v, want both children", reduce.DependsOn)
	}
}

func TestPlanRejectsInvalidTask(t *testing.T) {
	p := New()

	// Multi-step modes need deliverables.
	if _, err := p.Plan(compositeTask(task.ModeSequential)); err == nil {
		t.Error("Plan() of sequential task without deliverables should fail")
	}

	bad := compositeTask(task.ModeSingleAgent)
	bad.Mode = task.CompositionMode("spiral")
	if _, err := p.Plan(bad); err == nil {
		t.Error("Plan() with unknown mode should fail")
	}
}

func TestStepGraphReadyAndCompletion(t *testing.T) {
	steps := []Step{
		{Number: 1, Name: "a"},
		{Number: 2, Name: "b", DependsOn: []int{1}},
		{Number: 3, Name: "c", DependsOn: []int{1}},
		{Number: 4, Name: "d", DependsOn: []int{2, 3}},
	}

	g, err := NewStepGraph(steps)
	if err != nil {
		t.Fatalf("NewStepGraph() error = %v", err)
	}

	ready := g.Ready()
	if len(ready) != 1 || ready[0].Number != 1 {
		t.Fatalf("Ready() = %v, want just step 1", stepNumbers(ready))
	}

	unblocked := g.MarkCompleted(1)
	if len(unblocked) != 2 {
		t.Fatalf("MarkCompleted(1) unblocked %v, want steps 2 and 3", stepNumbers(unblocked))
	}

	if got := g.MarkCompleted(2); len(got) != 0 {
		t.Errorf("MarkCompleted(2) unblocked %v, want none (4 still waits on 3)", stepNumbers(got))
	}
	unblocked = g.MarkCompleted(3)
	if len(unblocked) != 1 || unblocked[0].Number != 4 {
		t.Errorf("MarkCompleted(3) unblocked %v, want step 4", stepNumbers(unblocked))
	}

	g.MarkCompleted(4)
	if got := g.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestStepGraphMarkFailedBlocksDependents(t *testing.T) {
	steps := []Step{
		{Number: 1, Name: "a"},
		{Number: 2, Name: "b", DependsOn: []int{1}},
		{Number: 3, Name: "c", DependsOn: []int{2}},
		{Number: 4, Name: "d"},
	}

	g, err := NewStepGraph(steps)
	if err != nil {
		t.Fatalf("NewStepGraph() error = %v", err)
	}

	blocked := g.MarkFailed(1)
	if len(blocked) != 2 {
		t.Fatalf("MarkFailed(1) blocked %v, want steps 2 and 3", blocked)
	}

	// The independent step survives.
	ready := g.Ready()
	if len(ready) != 1 || ready[0].Number != 4 {
		t.Errorf("Ready() = %v, want just step 4", stepNumbers(ready))
	}
	if got := g.Remaining(); got != 1 {
		t.Errorf("Remaining() = %d, want 1", got)
	}
}

func TestStepGraphRejectsCycles(t *testing.T) {
	steps := []Step{
		{Number: 1, DependsOn: []int{2}},
		{Number: 2, DependsOn: []int{1}},
	}
	if _, err := NewStepGraph(steps); err == nil {
		t.Error("NewStepGraph() with a cycle should fail")
	}
}

func TestStepGraphRejectsMissingDependency(t *testing.T) {
	steps := []Step{{Number: 1, DependsOn: []int{9}}}
	if _, err := NewStepGraph(steps); err == nil {
		t.Error("NewStepGraph() with a missing dependency should fail")
	}
}

func TestStepGraphRejectsDuplicateNumbers(t *testing.T) {
	steps := []Step{{Number: 1}, {Number: 1}}
	if _, err := NewStepGraph(steps); err == nil {
		t.Error("NewStepGraph() with duplicate step numbers should fail")
	}
}

func stepNumbers(steps []*Step) []int {
	out := make([]int, len(steps))
	for i, s := range steps {
		out[i] = s.Number
	}
	return out
}
