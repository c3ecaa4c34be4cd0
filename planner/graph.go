package planner

import (
	"fmt"
	"sync"
)

// StepGraph tracks step dependencies and determines execution order.
// All methods are safe for concurrent use.
type StepGraph struct {
	mu         sync.Mutex
	steps      map[int]*Step
	inDegree   map[int]int   // Number of unmet dependencies
	dependents map[int][]int // Steps that depend on this step
	remaining  int
}

// NewStepGraph creates a dependency graph from a plan's steps. It rejects
// references to missing steps and cyclic dependencies.
func NewStepGraph(steps []Step) (*StepGraph, error) {
	g := &StepGraph{
		steps:      make(map[int]*Step),
		inDegree:   make(map[int]int),
		dependents: make(map[int][]int),
		remaining:  len(steps),
	}

	for i := range steps {
		s := &steps[i]
		if _, exists := g.steps[s.Number]; exists {
			return nil, fmt.Errorf("duplicate step number %d", s.Number)
		}
		g.steps[s.Number] = s
		g.inDegree[s.Number] = 0
		g.dependents[s.Number] = nil
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, exists := g.steps[dep]; !exists {
				return nil, fmt.Errorf("step %d depends on non-existent step %d", s.Number, dep)
			}
			g.inDegree[s.Number]++
			g.dependents[dep] = append(g.dependents[dep], s.Number)
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	return g, nil
}

// detectCycles uses Kahn's algorithm to detect cycles.
func (g *StepGraph) detectCycles() error {
	tempDegree := make(map[int]int, len(g.inDegree))
	for n, deg := range g.inDegree {
		tempDegree[n] = deg
	}

	var queue []int
	for n, deg := range tempDegree {
		if deg == 0 {
			queue = append(queue, n)
		}
	}

	processed := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		processed++

		for _, dep := range g.dependents[n] {
			tempDegree[dep]--
			if tempDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if processed != len(g.steps) {
		return fmt.Errorf("circular step dependency detected: %d steps could not be ordered", len(g.steps)-processed)
	}

	return nil
}

// Ready returns all steps with no unmet dependencies that haven't been
// marked terminal yet.
func (g *StepGraph) Ready() []*Step {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []*Step
	for n, deg := range g.inDegree {
		if deg == 0 {
			ready = append(ready, g.steps[n])
		}
	}
	return ready
}

// MarkCompleted marks a step as completed and returns the newly unblocked
// steps.
func (g *StepGraph) MarkCompleted(number int) []*Step {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, active := g.inDegree[number]; !active {
		return nil
	}

	var newlyReady []*Step
	for _, dep := range g.dependents[number] {
		if _, active := g.inDegree[dep]; !active {
			continue
		}
		g.inDegree[dep]--
		if g.inDegree[dep] == 0 {
			newlyReady = append(newlyReady, g.steps[dep])
		}
	}

	delete(g.inDegree, number)
	g.remaining--
	return newlyReady
}

// MarkFailed marks a step as terminally failed and returns the step
// numbers that can no longer run (the failed step's transitive
// dependents), removing them from the graph.
func (g *StepGraph) MarkFailed(number int) []int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, active := g.inDegree[number]; !active {
		return nil
	}

	delete(g.inDegree, number)
	g.remaining--

	var blocked []int
	queue := append([]int(nil), g.dependents[number]...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if _, active := g.inDegree[n]; !active {
			continue
		}
		delete(g.inDegree, n)
		g.remaining--
		blocked = append(blocked, n)
		queue = append(queue, g.dependents[n]...)
	}
	return blocked
}

// Remaining returns the number of steps that haven't reached a terminal
// state.
func (g *StepGraph) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining
}
