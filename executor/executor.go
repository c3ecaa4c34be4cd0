// Package executor defines the capability-executor contract: the external
// collaborator that actually performs a step's work on a provider. The
// engine consumes executors as interfaces and never implements providers
// itself.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/c360studio/conductor/task"
)

// Request is the payload handed to a capability executor for one
// invocation.
type Request struct {
	// Provider and Model identify the routed arm.
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Input is the work description.
	Input string `json:"input"`

	// Context carries upstream step outputs or the shared context
	// snapshot for collaborative steps.
	Context string `json:"context,omitempty"`

	// Constraints is the request's hard-constraint envelope.
	Constraints task.Constraints `json:"constraints"`
}

// Invocation is the result of one successful executor call.
type Invocation struct {
	Output  string        `json:"output"`
	Cost    float64       `json:"cost"`
	Latency time.Duration `json:"latency"`

	// Quality is the executor's self-reported quality score in [0, 1],
	// consumed by the quality gate.
	Quality float64 `json:"quality"`
}

// Executor invokes a capability on a provider. Implementations must honor
// context cancellation: the orchestrator uses it for per-step timeouts and
// best-effort interruption of cancelled tasks.
type Executor interface {
	Invoke(ctx context.Context, req Request) (*Invocation, error)
}

// Registry maps provider IDs to their executors. It is injected into the
// orchestrator rather than held as package state so tests get a fresh
// registry each time.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds an executor to a provider ID.
func (r *Registry) Register(providerID string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[providerID] = e
}

// Get returns the executor for a provider ID.
func (r *Registry) Get(providerID string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[providerID]
	return e, ok
}
