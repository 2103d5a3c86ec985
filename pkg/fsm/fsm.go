// Package fsm implements a generic compiled finite state machine with
// per-state visit counting, transition callbacks, and structural
// compile-time validation.
//
// Reachability analysis (acyclic vs. bounded-revisit) is intentionally not
// performed here: it is delegated to the scheduler, which is the component
// that knows about end states and retry policy. Machine.Compile only
// validates internal structural consistency.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TransitionFunc is invoked after a transition has been applied. It may not
// call HandleEvent reentrantly on the same Machine instance.
type TransitionFunc[S comparable, E comparable] func(ctx context.Context, m *Machine[S, E]) error

// Transition is the target state and optional callback for a (from, event)
// pair.
type Transition[S comparable, E comparable] struct {
	To       S
	Callback TransitionFunc[S, E]
}

// Machine is a generic compiled finite state machine over states S and
// events E.
type Machine[S comparable, E comparable] struct {
	mu sync.Mutex

	id          string
	validStates map[S]struct{}
	initState   S
	transitions map[Key[S, E]]Transition[S, E]

	currentState S
	visitCounts  map[S]int
	compiled     bool
	inTransition bool
}

// Key identifies a transition by its source state and triggering event.
// Callers assemble the transition table passed to New as a
// map[fsm.Key[S,E]]fsm.Transition[S,E] literal.
type Key[S comparable, E comparable] struct {
	From S
	Evt  E
}

var (
	// ErrCompile is returned by Compile when structural validation fails.
	ErrCompile = errors.New("fsm: compile error")
	// ErrUnknownTransition is returned by HandleEvent when there is no
	// transition registered for (current state, event).
	ErrUnknownTransition = errors.New("fsm: unknown transition")
	// ErrReentrantTransition is returned when a transition callback calls
	// HandleEvent on the same Machine instance before returning.
	ErrReentrantTransition = errors.New("fsm: reentrant handle_event")
	// ErrNotCompiled is returned by HandleEvent when the
	// machine has not completed Compile yet.
	ErrNotCompiled = errors.New("fsm: machine is not compiled")
)

// New constructs an uncompiled Machine. Callers must register transitions via
// the embedding type (see task.Task, workflow.Machine) and call Compile
// before the first HandleEvent.
func New[S comparable, E comparable](validStates []S, initState S, transitions map[Key[S, E]]Transition[S, E]) *Machine[S, E] {
	vs := make(map[S]struct{}, len(validStates))
	for _, s := range validStates {
		vs[s] = struct{}{}
	}
	tm := make(map[Key[S, E]]Transition[S, E], len(transitions))
	for k, v := range transitions {
		tm[k] = v
	}
	return &Machine[S, E]{
		id:          uuid.NewString(),
		validStates: vs,
		initState:   initState,
		transitions: tm,
	}
}

// NewTransitionKey builds the map key type used by callers assembling a
// transition table. Exported so embedding packages can construct
// map[fsm.Key]fsm.Transition literals without reaching into package
// internals.
func NewTransitionKey[S comparable, E comparable](from S, evt E) Key[S, E] {
	return Key[S, E]{From: from, Evt: evt}
}

// GetID returns the machine's process-stable identifier.
func (m *Machine[S, E]) GetID() string {
	return m.id
}

// GetCurrentState returns the current state.
func (m *Machine[S, E]) GetCurrentState() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentState
}

// GetValidStates returns a copy of the valid state set.
func (m *Machine[S, E]) GetValidStates() map[S]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[S]struct{}, len(m.validStates))
	for s := range m.validStates {
		out[s] = struct{}{}
	}
	return out
}

// GetTransitions returns a copy of the transition table.
func (m *Machine[S, E]) GetTransitions() map[Key[S, E]]Transition[S, E] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Key[S, E]]Transition[S, E], len(m.transitions))
	for k, v := range m.transitions {
		out[k] = v
	}
	return out
}

// GetStateVisitCount returns how many times state s has been entered since
// the last Reset (including the initial entry).
func (m *Machine[S, E]) GetStateVisitCount(s S) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visitCounts[s]
}

// IsCompiled reports whether Compile has run successfully.
func (m *Machine[S, E]) IsCompiled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compiled
}

// Compile validates structural consistency and freezes the transition table.
// It must be called exactly once, before the first HandleEvent.
func (m *Machine[S, E]) Compile() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.validStates) == 0 {
		return fmt.Errorf("%w: no valid states configured", ErrCompile)
	}
	if _, ok := m.validStates[m.initState]; !ok {
		return fmt.Errorf("%w: init state is not a valid state", ErrCompile)
	}
	if len(m.transitions) == 0 {
		return fmt.Errorf("%w: no transitions configured", ErrCompile)
	}
	for k, t := range m.transitions {
		if _, ok := m.validStates[k.From]; !ok {
			return fmt.Errorf("%w: transition source state is not a valid state", ErrCompile)
		}
		if _, ok := m.validStates[t.To]; !ok {
			return fmt.Errorf("%w: transition target state is not a valid state", ErrCompile)
		}
	}

	m.currentState = m.initState
	m.visitCounts = map[S]int{m.initState: 1}
	m.compiled = true
	return nil
}

// HandleEvent looks up the transition for (current state, event) and applies
// it: the state advances, the target's visit count increments, and the
// transition callback (if any) runs. The callback must not call HandleEvent
// on the same Machine; doing so returns ErrReentrantTransition instead of
// corrupting machine state.
func (m *Machine[S, E]) HandleEvent(ctx context.Context, evt E) error {
	m.mu.Lock()
	if !m.compiled {
		m.mu.Unlock()
		return ErrNotCompiled
	}
	if m.inTransition {
		m.mu.Unlock()
		return ErrReentrantTransition
	}
	key := Key[S, E]{From: m.currentState, Evt: evt}
	t, ok := m.transitions[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: no transition from current state on this event", ErrUnknownTransition)
	}

	m.currentState = t.To
	m.visitCounts[t.To]++
	m.inTransition = true
	cb := t.Callback
	m.mu.Unlock()

	if cb == nil {
		m.mu.Lock()
		m.inTransition = false
		m.mu.Unlock()
		return nil
	}

	err := cb(ctx, m)

	m.mu.Lock()
	m.inTransition = false
	m.mu.Unlock()
	return err
}

// Reset returns the machine to its init state and clears visit counts.
// Embedding types such as task.Task override Reset to additionally clear
// their own derived state, then call this method.
func (m *Machine[S, E]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentState = m.initState
	m.visitCounts = map[S]int{m.initState: 1}
}
