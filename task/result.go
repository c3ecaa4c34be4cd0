package task

import "time"

// StepStatus is the lifecycle state of a single plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"

	// StepSkipped marks steps that never ran because a dependency failed
	// or the task was cancelled.
	StepSkipped StepStatus = "skipped"
)

// StepResult records the outcome of one executed plan step.
type StepResult struct {
	Step       int           `json:"step"`
	Name       string        `json:"name,omitempty"`
	ProviderID string        `json:"provider_id,omitempty"`
	Model      string        `json:"model,omitempty"`
	Status     StepStatus    `json:"status"`
	Output     string        `json:"output,omitempty"`
	Quality    float64       `json:"quality"`
	Cost       float64       `json:"cost"`
	Duration   time.Duration `json:"duration"`

	// Retries counts queue-level transient retries this step consumed.
	Retries int `json:"retries"`

	// QualityRetries counts gate-driven agent-switch retries.
	QualityRetries int `json:"quality_retries,omitempty"`

	Error string `json:"error,omitempty"`
}

// ExecutionResult is the aggregate outcome of a composite task.
type ExecutionResult struct {
	TaskID string          `json:"task_id"`
	PlanID string          `json:"plan_id"`
	Status CompositeStatus `json:"status"`

	// FinalOutput is the output of the terminal step (synthesis, review,
	// or last sequential step), or empty if no step was accepted.
	FinalOutput string `json:"final_output,omitempty"`

	// Quality is the overall quality assessment: the mean quality of
	// accepted steps.
	Quality float64 `json:"quality"`

	TotalCost   float64       `json:"total_cost"`
	Steps       []StepResult  `json:"step_results"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Elapsed     time.Duration `json:"elapsed"`
}
