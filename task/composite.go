package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CompositionMode determines how a composite task is decomposed into steps.
type CompositionMode string

const (
	// ModeSingleAgent runs the whole task as one step.
	ModeSingleAgent CompositionMode = "single_agent"

	// ModeSequential runs deliverables in order, each depending on the previous.
	ModeSequential CompositionMode = "sequential"

	// ModeParallel runs deliverables independently with a final synthesis step.
	ModeParallel CompositionMode = "parallel"

	// ModeCollaborative runs deliverables in parallel with a shared context
	// snapshot and a mandatory review step.
	ModeCollaborative CompositionMode = "collaborative"

	// ModeHierarchical runs a coordinator step, fans out child steps, and
	// reduces their outputs in a closing step.
	ModeHierarchical CompositionMode = "hierarchical"
)

// IsValid checks if a composition mode is known.
func (m CompositionMode) IsValid() bool {
	switch m {
	case ModeSingleAgent, ModeSequential, ModeParallel, ModeCollaborative, ModeHierarchical:
		return true
	}
	return false
}

// Complexity is a coarse tier describing how demanding a composite task is.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Deliverable describes one expected output of a composite task.
type Deliverable struct {
	// Name is a short identifier for the deliverable (e.g. "spec", "implement").
	Name string `json:"name"`

	// Type determines the capability required to produce it
	// (e.g. "code", "document", "plan", "review").
	Type string `json:"type"`

	// Description explains what the deliverable should contain.
	Description string `json:"description,omitempty"`

	// MinQuality is the quality-gate threshold for accepting this
	// deliverable. Zero uses the orchestrator default.
	MinQuality float64 `json:"min_quality,omitempty"`
}

// Requirements bundles the deliverables and budgets of a composite task.
type Requirements struct {
	Deliverables []Deliverable `json:"deliverables"`

	// MaxCost is the overall cost budget for the task. Zero means unbounded.
	MaxCost float64 `json:"max_cost,omitempty"`

	// MaxDuration is the overall time budget for the task. Zero means unbounded.
	MaxDuration time.Duration `json:"max_duration,omitempty"`
}

// CompositeStatus is the lifecycle state of a composite task.
type CompositeStatus string

const (
	StatusPlanned   CompositeStatus = "planned"
	StatusRunning   CompositeStatus = "running"
	StatusCompleted CompositeStatus = "completed"
	StatusFailed    CompositeStatus = "failed"
	StatusCancelled CompositeStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s CompositeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Composite is a multi-agent task that the planner decomposes into steps.
type Composite struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Mode         CompositionMode `json:"mode"`
	Complexity   Complexity      `json:"complexity,omitempty"`
	Requirements Requirements    `json:"requirements"`
	Priority     Priority        `json:"priority"`
	Status       CompositeStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewComposite creates a composite task in the planned state.
func NewComposite(title, description string, mode CompositionMode, reqs Requirements) Composite {
	now := time.Now()
	return Composite{
		ID:           uuid.New().String(),
		Title:        title,
		Description:  description,
		Mode:         mode,
		Requirements: reqs,
		Priority:     PriorityMedium,
		Status:       StatusPlanned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Validate checks that the composite task can be planned.
func (c Composite) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("composite task id is required")
	}
	if !c.Mode.IsValid() {
		return fmt.Errorf("unknown composition mode: %s", c.Mode)
	}
	if c.Mode != ModeSingleAgent && len(c.Requirements.Deliverables) == 0 {
		return fmt.Errorf("mode %s requires at least one deliverable", c.Mode)
	}
	if c.Priority != "" && !c.Priority.IsValid() {
		return fmt.Errorf("unknown priority: %s", c.Priority)
	}
	return nil
}
