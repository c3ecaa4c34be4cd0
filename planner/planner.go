// Package planner decomposes composite tasks into execution plans: step
// graphs whose steps carry capability requirements but bind no provider.
// Binding happens lazily per step at execution time so routing reflects
// current provider health.
package planner

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/conductor/provider"
	"github.com/c360studio/conductor/task"
)

// StepRole distinguishes structural steps the planner inserts from
// deliverable-derived work steps.
type StepRole string

const (
	RoleWork        StepRole = "work"
	RoleCoordinator StepRole = "coordinator"
	RoleSynthesis   StepRole = "synthesis"
	RoleReview      StepRole = "review"
)

// Step is one node of an execution plan.
type Step struct {
	// Number is the step's position in the plan, starting at 1.
	Number int `json:"number"`

	Name string   `json:"name"`
	Role StepRole `json:"role"`

	// Capability is the requirement the router resolves to a provider at
	// execution time.
	Capability provider.Capability `json:"capability"`

	// Deliverable is the expected output descriptor; empty for structural
	// steps inserted by the planner.
	Deliverable task.Deliverable `json:"deliverable"`

	// DependsOn lists step numbers that must reach a terminal state
	// before this step may run.
	DependsOn []int `json:"depends_on,omitempty"`

	// Input is the work description handed to the capability executor.
	Input string `json:"input"`

	// SharedContext marks steps that receive the same context snapshot
	// (collaborative mode).
	SharedContext bool `json:"shared_context,omitempty"`
}

// Plan is an immutable execution plan. Re-planning creates a new plan.
type Plan struct {
	ID        string               `json:"id"`
	TaskID    string               `json:"task_id"`
	Mode      task.CompositionMode `json:"mode"`
	Steps     []Step               `json:"steps"`
	CreatedAt time.Time            `json:"created_at"`
}

// Step returns the plan step with the given number, or nil.
func (p *Plan) Step(number int) *Step {
	for i := range p.Steps {
		if p.Steps[i].Number == number {
			return &p.Steps[i]
		}
	}
	return nil
}

// Planner builds execution plans from composite tasks.
type Planner struct {
	logger *slog.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PlannerOption {
	return func(p *Planner) { p.logger = logger }
}

// New creates a planner.
func New(opts ...PlannerOption) *Planner {
	p := &Planner{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan decomposes a composite task into an execution plan according to
// its composition mode.
func (p *Planner) Plan(t task.Composite) (*Plan, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("plan task: %w", err)
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		TaskID:    t.ID,
		Mode:      t.Mode,
		CreatedAt: time.Now(),
	}

	switch t.Mode {
	case task.ModeSingleAgent:
		plan.Steps = p.planSingleAgent(t)
	case task.ModeSequential:
		plan.Steps = p.planSequential(t)
	case task.ModeParallel:
		plan.Steps = p.planParallel(t)
	case task.ModeCollaborative:
		plan.Steps = p.planCollaborative(t)
	case task.ModeHierarchical:
		plan.Steps = p.planHierarchical(t)
	default:
		return nil, fmt.Errorf("plan task: unknown composition mode %s", t.Mode)
	}

	// Reject malformed graphs up front; the dependency graph also runs a
	// cycle check, but a plan should never leave here broken.
	if _, err := NewStepGraph(plan.Steps); err != nil {
		return nil, fmt.Errorf("plan task: %w", err)
	}

	p.logger.Debug("Planned composite task",
		"task_id", t.ID,
		"plan_id", plan.ID,
		"mode", t.Mode,
		"steps", len(plan.Steps))

	return plan, nil
}

// planSingleAgent produces one step with no dependencies.
func (p *Planner) planSingleAgent(t task.Composite) []Step {
	d := task.Deliverable{Name: "result", Type: "document", Description: t.Description}
	if len(t.Requirements.Deliverables) > 0 {
		d = t.Requirements.Deliverables[0]
	}
	return []Step{workStep(1, t, d, nil)}
}

// planSequential chains deliverables in the given order.
func (p *Planner) planSequential(t task.Composite) []Step {
	steps := make([]Step, 0, len(t.Requirements.Deliverables))
	for i, d := range t.Requirements.Deliverables {
		var deps []int
		if i > 0 {
			deps = []int{i}
		}
		steps = append(steps, workStep(i+1, t, d, deps))
	}
	return steps
}

// planParallel runs deliverables independently and closes with a synthesis
// step depending on all of them.
func (p *Planner) planParallel(t task.Composite) []Step {
	steps := make([]Step, 0, len(t.Requirements.Deliverables)+1)
	deps := make([]int, 0, len(t.Requirements.Deliverables))
	for i, d := range t.Requirements.Deliverables {
		steps = append(steps, workStep(i+1, t, d, nil))
		deps = append(deps, i+1)
	}
	steps = append(steps, synthesisStep(len(steps)+1, t, deps))
	return steps
}

// planCollaborative is parallel with a shared context snapshot plus a
// mandatory review step depending on all work steps.
func (p *Planner) planCollaborative(t task.Composite) []Step {
	steps := make([]Step, 0, len(t.Requirements.Deliverables)+1)
	deps := make([]int, 0, len(t.Requirements.Deliverables))
	for i, d := range t.Requirements.Deliverables {
		s := workStep(i+1, t, d, nil)
		s.SharedContext = true
		steps = append(steps, s)
		deps = append(deps, i+1)
	}
	steps = append(steps, Step{
		Number:     len(steps) + 1,
		Name:       "review",
		Role:       RoleReview,
		Capability: provider.CapabilityReviewing,
		DependsOn:  deps,
		Input:      fmt.Sprintf("Review and reconcile the collaborative outputs for: %s", t.Title),
	})
	return steps
}

// planHierarchical opens with a coordinator step, fans child steps out
// under it (one level), and reduces their outputs in a closing step.
func (p *Planner) planHierarchical(t task.Composite) []Step {
	steps := []Step{{
		Number:     1,
		Name:       "coordinate",
		Role:       RoleCoordinator,
		Capability: provider.CapabilityPlanning,
		Input:      fmt.Sprintf("Break down and coordinate the work for: %s\n%s", t.Title, t.Description),
	}}

	deps := make([]int, 0, len(t.Requirements.Deliverables))
	for i, d := range t.Requirements.Deliverables {
		steps = append(steps, workStep(i+2, t, d, []int{1}))
		deps = append(deps, i+2)
	}

	steps = append(steps, Step{
		Number:     len(steps) + 1,
		Name:       "reduce",
		Role:       RoleSynthesis,
		Capability: provider.CapabilityReviewing,
		DependsOn:  deps,
		Input:      fmt.Sprintf("Combine the coordinated outputs into the final result for: %s", t.Title),
	})
	return steps
}

// workStep builds a deliverable-derived step.
func workStep(number int, t task.Composite, d task.Deliverable, deps []int) Step {
	return Step{
		Number:      number,
		Name:        d.Name,
		Role:        RoleWork,
		Capability:  capabilityForDeliverable(d.Type),
		Deliverable: d,
		DependsOn:   deps,
		Input:       stepInput(t, d),
	}
}

// synthesisStep builds the closing step of a parallel plan.
func synthesisStep(number int, t task.Composite, deps []int) Step {
	return Step{
		Number:     number,
		Name:       "synthesize",
		Role:       RoleSynthesis,
		Capability: provider.CapabilityWriting,
		DependsOn:  deps,
		Input:      fmt.Sprintf("Synthesize the parallel outputs into the final result for: %s", t.Title),
	}
}

// stepInput renders the executor input for a deliverable.
func stepInput(t task.Composite, d task.Deliverable) string {
	desc := d.Description
	if desc == "" {
		desc = t.Description
	}
	return fmt.Sprintf("Task: %s\nDeliverable: %s (%s)\n%s", t.Title, d.Name, d.Type, desc)
}

// deliverableCapabilities maps deliverable types to required capabilities.
var deliverableCapabilities = map[string]provider.Capability{
	"code":     provider.CapabilityCoding,
	"test":     provider.CapabilityCoding,
	"plan":     provider.CapabilityPlanning,
	"spec":     provider.CapabilityPlanning,
	"design":   provider.CapabilityPlanning,
	"review":   provider.CapabilityReviewing,
	"document": provider.CapabilityWriting,
	"summary":  provider.CapabilityFast,
}

// capabilityForDeliverable returns the capability required to produce a
// deliverable type. Unknown types fall back to writing.
func capabilityForDeliverable(deliverableType string) provider.Capability {
	if c, ok := deliverableCapabilities[deliverableType]; ok {
		return c
	}
	return provider.CapabilityWriting
}
