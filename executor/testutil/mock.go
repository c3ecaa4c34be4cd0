// Package testutil provides test doubles for the executor package.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/conductor/executor"
)

// Response is one scripted executor result.
type Response struct {
	Invocation *executor.Invocation
	Err        error
}

// ScriptedExecutor is a thread-safe executor double. It returns scripted
// responses in sequence, or delegates to Handler when set.
//
// Usage:
//
//	// Fail twice, then succeed
//	exec := &ScriptedExecutor{
//	    Responses: []Response{
//	        {Err: executor.NewTransientError(errors.New("overloaded"))},
//	        {Err: executor.NewTransientError(errors.New("overloaded"))},
//	        {Invocation: &executor.Invocation{Output: "done", Quality: 0.9}},
//	    },
//	}
type ScriptedExecutor struct {
	mu    sync.Mutex
	index int
	calls []executor.Request

	// Responses are returned in order. After the script is exhausted the
	// last response repeats.
	Responses []Response

	// Handler, when set, overrides Responses entirely.
	Handler func(ctx context.Context, req executor.Request) (*executor.Invocation, error)
}

// Invoke implements executor.Executor.
func (s *ScriptedExecutor) Invoke(ctx context.Context, req executor.Request) (*executor.Invocation, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	handler := s.Handler
	var resp Response
	if handler == nil {
		if len(s.Responses) == 0 {
			s.mu.Unlock()
			return &executor.Invocation{Output: "ok", Quality: 1.0}, nil
		}
		i := s.index
		if i >= len(s.Responses) {
			i = len(s.Responses) - 1
		}
		resp = s.Responses[i]
		s.index++
	}
	s.mu.Unlock()

	if handler != nil {
		return handler(ctx, req)
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Invocation, nil
}

// Calls returns a copy of all requests the executor received.
func (s *ScriptedExecutor) Calls() []executor.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]executor.Request, len(s.calls))
	copy(calls, s.calls)
	return calls
}

// CallCount returns the number of invocations.
func (s *ScriptedExecutor) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
