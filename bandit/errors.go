package bandit

import (
	"errors"
	"fmt"
)

// ErrNoEligibleProvider is returned when no arm survives the eligibility
// filter: every candidate is circuit-open, lacks the capability, or fails
// the request's hard constraints. Routing fails fast; there is nothing to
// retry.
var ErrNoEligibleProvider = errors.New("no eligible provider")

// BudgetExceededError reports that healthy, capable arms existed but none
// could satisfy the request's hard cost or latency constraints.
type BudgetExceededError struct {
	RequestID  string
	Constraint string
	// BestEstimate is the lowest estimate among otherwise-eligible arms.
	BestEstimate float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("request %s: no arm satisfies %s constraint (best estimate %.4f)",
		e.RequestID, e.Constraint, e.BestEstimate)
}

// Unwrap makes BudgetExceededError match ErrNoEligibleProvider, since a
// budget miss is one way for the eligible set to be empty.
func (e *BudgetExceededError) Unwrap() error {
	return ErrNoEligibleProvider
}
