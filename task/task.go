// Package task defines the core task data model shared across the routing
// and orchestration engine: single-shot task requests, composite multi-agent
// tasks, and their execution results.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category classifies what kind of work a task request asks for.
// Categories partition bandit learning statistics and map to provider
// capabilities during routing.
type Category string

const (
	CategoryPlanning  Category = "planning"
	CategoryCoding    Category = "coding"
	CategoryWriting   Category = "writing"
	CategoryReviewing Category = "reviewing"
	CategoryFast      Category = "fast"
)

// IsValid checks if a category is a known task category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryPlanning, CategoryCoding, CategoryWriting, CategoryReviewing, CategoryFast:
		return true
	}
	return false
}

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// Priority indicates how urgently a request should be served.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid checks if a priority is a known priority tier.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Constraints is the hard-constraint envelope attached to a request.
// Zero values mean "no constraint".
type Constraints struct {
	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// MaxCost is the maximum acceptable cost for serving the request.
	MaxCost float64 `json:"max_cost,omitempty"`

	// MaxLatency is the maximum acceptable end-to-end latency.
	MaxLatency time.Duration `json:"max_latency,omitempty"`
}

// Request is a validated single-shot task request. It is immutable once
// created; the engine never mutates a Request after construction.
type Request struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	Category    Category        `json:"category"`
	Priority    Priority        `json:"priority"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Constraints Constraints     `json:"constraints"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewRequest creates a request with a generated ID and creation timestamp.
func NewRequest(category Category, priority Priority, payload json.RawMessage) Request {
	return Request{
		ID:        uuid.New().String(),
		Category:  category,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Validate checks that the request carries the fields the engine requires.
func (r Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request id is required")
	}
	if !r.Category.IsValid() {
		return fmt.Errorf("unknown task category: %s", r.Category)
	}
	if !r.Priority.IsValid() {
		return fmt.Errorf("unknown priority: %s", r.Priority)
	}
	return nil
}
