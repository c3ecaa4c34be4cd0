// Package provider manages the registry of AI capability providers:
// their declared capabilities, rolling performance metrics, and activation
// state. The registry is the shared substrate the router, circuit breaker,
// and outcome recorder synchronize on.
package provider

import "github.com/c360studio/conductor/task"

// Capability represents a semantic capability a provider declares.
// Requests specify categories; the router resolves them to capabilities
// and selects among providers that declare them.
type Capability string

const (
	// CapabilityPlanning is for high-level reasoning, decomposition, coordination.
	CapabilityPlanning Capability = "planning"

	// CapabilityWriting is for documentation, proposals, prose deliverables.
	CapabilityWriting Capability = "writing"

	// CapabilityCoding is for code generation, implementation.
	CapabilityCoding Capability = "coding"

	// CapabilityReviewing is for review, quality analysis, synthesis.
	CapabilityReviewing Capability = "reviewing"

	// CapabilityFast is for quick responses, simple tasks.
	CapabilityFast Capability = "fast"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityPlanning, CapabilityWriting, CapabilityCoding, CapabilityReviewing, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// CapabilityForCategory maps a task category to the capability required to
// serve it. Unknown categories fall back to writing.
func CapabilityForCategory(cat task.Category) Capability {
	switch cat {
	case task.CategoryPlanning:
		return CapabilityPlanning
	case task.CategoryCoding:
		return CapabilityCoding
	case task.CategoryReviewing:
		return CapabilityReviewing
	case task.CategoryFast:
		return CapabilityFast
	default:
		return CapabilityWriting
	}
}
