package bandit

import "time"

// Decision captures one routing decision. Decisions are values: created
// once per routing call, immutable, never reused across requests.
type Decision struct {
	RequestID  string `json:"request_id"`
	ProviderID string `json:"provider_id"`
	Model      string `json:"model"`

	// Reasoning is a human-readable explanation of the decision.
	Reasoning string `json:"reasoning"`

	// Confidence in [0, 1] reflects how much evidence backs the choice.
	Confidence float64 `json:"confidence"`

	EstimatedCost    float64       `json:"estimated_cost"`
	EstimatedLatency time.Duration `json:"estimated_latency"`

	// Fallbacks lists the next-best eligible arms in order.
	Fallbacks []Arm `json:"fallbacks,omitempty"`

	// Policy is the name of the selection policy used.
	Policy string `json:"policy"`

	// Bucket is the context bucket key the decision was learned under.
	Bucket string `json:"bucket"`

	// Probe is true when the selected provider was admitted as a
	// half-open circuit probe.
	Probe bool `json:"probe,omitempty"`

	// Considered is the number of eligible arms the policy chose from.
	Considered int `json:"considered"`

	DecidedAt time.Time `json:"decided_at"`
}

// SelectedArm returns the decision's primary arm.
func (d *Decision) SelectedArm() Arm {
	return Arm{ProviderID: d.ProviderID, Model: d.Model}
}
