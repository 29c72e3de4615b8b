// internal/session/machine.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when the current state has no edge for
// the fired event
var ErrInvalidTransition = errors.New("invalid transition")

// Transition is one edge of a machine
type Transition[S comparable, E comparable] struct {
	From S
	On   E
	To   S
}

// Action runs on entry to a state and returns its result code
type Action func(ctx context.Context) int

// Machine is a table-driven state machine. Firing an event moves to the
// target state and then runs the target's action.
type Machine[S comparable, E comparable] struct {
	mu           sync.RWMutex
	initial      S
	current      S
	edges        map[S]map[E]S
	actions      map[S]Action
	onTransition func(from S, on E, to S)
}

// NewMachine builds a machine resting in initial
func NewMachine[S comparable, E comparable](initial S, transitions []Transition[S, E], actions map[S]Action) *Machine[S, E] {
	edges := make(map[S]map[E]S)
	for _, t := range transitions {
		if edges[t.From] == nil {
			edges[t.From] = make(map[E]S)
		}
		edges[t.From][t.On] = t.To
	}
	return &Machine[S, E]{
		initial: initial,
		current: initial,
		edges:   edges,
		actions: actions,
	}
}

// OnTransition installs a hook called after every state change
func (m *Machine[S, E]) OnTransition(fn func(from S, on E, to S)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// Fire moves along the edge for ev and runs the new state's action
func (m *Machine[S, E]) Fire(ctx context.Context, ev E) (int, error) {
	m.mu.Lock()
	from := m.current
	to, ok := m.edges[from][ev]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %v on %v", ErrInvalidTransition, from, ev)
	}
	m.current = to
	hook := m.onTransition
	m.mu.Unlock()

	if hook != nil {
		hook(from, ev, to)
	}
	return m.run(ctx, to), nil
}

// Run executes the action of s without changing state
func (m *Machine[S, E]) Run(ctx context.Context, s S) int {
	return m.run(ctx, s)
}

func (m *Machine[S, E]) run(ctx context.Context, s S) int {
	if a := m.actions[s]; a != nil {
		return a(ctx)
	}
	return 0
}

// Can reports whether ev has an edge from the current state
func (m *Machine[S, E]) Can(ev E) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.edges[m.current][ev]
	return ok
}

// State returns the current state
func (m *Machine[S, E]) State() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Set moves to s without running its action or the transition hook
func (m *Machine[S, E]) Set(s S) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = s
}

// Reset returns to the initial state without running any action
func (m *Machine[S, E]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.initial
}
