// Package scheduler implements the Scheduler component: compile-time
// reachability validation over a state-change graph (acyclic or
// bounded-revisit), and the runtime loop that drives one task's outer FSM
// to an end state, invoking on_state_fn/on_state_changed_fn at each step.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/task"
)

// Sentinel errors for the operations in this package.
var (
	ErrNoEndStates             = errors.New("scheduler: no end states configured")
	ErrNoOnStateChangedFn      = errors.New("scheduler: no on_state_changed_fn configured")
	ErrEndStateNotInGraph      = errors.New("scheduler: end state does not appear in the transition graph")
	ErrMissingOnStateFn        = errors.New("scheduler: missing on_state_fn for a non-end source state")
	ErrHasCycleInAcyclicMode   = errors.New("scheduler: cycle detected in acyclic mode")
	ErrEndStateUnreachable     = errors.New("scheduler: end state unreachable from a non-end state")
	ErrAlreadyCompiled         = errors.New("scheduler: already compiled")
	ErrNotCompiled             = errors.New("scheduler: not compiled")
	ErrTaskSchedulerMismatch   = errors.New("scheduler: task state not covered by scheduler")
	ErrMissingEventFromOnState = errors.New("scheduler: on_state_fn returned no event")
)

// Task is the surface Schedule needs beyond task.Handle: direct access to
// the task's own compiled FSM state and transition driving. task.Task[S,E]
// and tree.Node[S,E] satisfy this automatically via their embedded
// *fsm.Machine[S,E].
type Task[S comparable, E comparable] interface {
	task.Handle
	GetCurrentState() S
	GetValidStates() map[S]struct{}
	GetStateVisitCount(s S) int
	HandleEvent(ctx context.Context, evt E) error
	Reset()
}

// OnStateFn produces the event that drives a task out of a non-terminal
// state. Returning the zero value of E alongside a nil error is treated as
// MissingEventFromOnState.
type OnStateFn[S comparable, E comparable] func(
	ctx context.Context,
	sched *Scheduler[S, E],
	q *queue.Queue[message.Message],
	t Task[S, E],
) (E, error)

// OnStateChangedFn runs as a side effect immediately after a transition
// lands on the next state. It may itself mutate the task (e.g. Reset,
// CleanErrorInfo) before the scheduler re-reads the current state.
type OnStateChangedFn[S comparable, E comparable] func(
	ctx context.Context,
	sched *Scheduler[S, E],
	q *queue.Queue[message.Message],
	t Task[S, E],
) error

// Edge keys a transition in the scheduler's own state-change graph. This is
// distinct from the task's own (state,event)-keyed FSM transition table:
// the scheduler only knows which states can change into which, not which
// event caused it.
type Edge[S comparable] struct {
	From S
	To   S
}

// Config bundles Scheduler construction inputs.
type Config[S comparable, E comparable] struct {
	EndStates        []S
	OnStateFn        map[S]OnStateFn[S, E]
	OnStateChangedFn map[Edge[S]]OnStateChangedFn[S, E]

	// MaxRevisitCount selects acyclic mode (< 0) or bounded-revisit mode
	// (>= 0). A value of 0 means one entry allowed, zero revisits.
	MaxRevisitCount int
}

// Scheduler drives a task's outer FSM to a terminal state per the compiled
// reachability shape.
type Scheduler[S comparable, E comparable] struct {
	endStates        map[S]struct{}
	onStateFn        map[S]OnStateFn[S, E]
	onStateChangedFn map[Edge[S]]OnStateChangedFn[S, E]
	maxRevisitCount  int
	compiled         bool

	adj       map[S]map[S]struct{}
	allStates map[S]struct{}
}

// New constructs an uncompiled Scheduler from cfg.
func New[S comparable, E comparable](cfg Config[S, E]) *Scheduler[S, E] {
	end := make(map[S]struct{}, len(cfg.EndStates))
	for _, s := range cfg.EndStates {
		end[s] = struct{}{}
	}
	onStateFn := make(map[S]OnStateFn[S, E], len(cfg.OnStateFn))
	for k, v := range cfg.OnStateFn {
		onStateFn[k] = v
	}
	onChanged := make(map[Edge[S]]OnStateChangedFn[S, E], len(cfg.OnStateChangedFn))
	for k, v := range cfg.OnStateChangedFn {
		onChanged[k] = v
	}
	return &Scheduler[S, E]{
		endStates:        end,
		onStateFn:        onStateFn,
		onStateChangedFn: onChanged,
		maxRevisitCount:  cfg.MaxRevisitCount,
	}
}

func (s *Scheduler[S, E]) isEnd(st S) bool {
	_, ok := s.endStates[st]
	return ok
}

// IsCompiled reports whether Compile has succeeded.
func (s *Scheduler[S, E]) IsCompiled() bool { return s.compiled }

// Compile validates the scheduler's construction inputs and freezes it.
// Validation order follows the documented algorithm: non-empty end states
// and transition map, every end state present in the transition graph,
// every non-end source state has an on_state_fn entry, then a per-source
// reachability/shape check (acyclic BFS when MaxRevisitCount < 0, bounded-
// revisit BFS otherwise).
func (s *Scheduler[S, E]) Compile() error {
	if s.compiled {
		return ErrAlreadyCompiled
	}
	if len(s.endStates) == 0 {
		return ErrNoEndStates
	}
	if len(s.onStateChangedFn) == 0 {
		return ErrNoOnStateChangedFn
	}

	adj := make(map[S]map[S]struct{})
	allStates := make(map[S]struct{})
	for edge := range s.onStateChangedFn {
		allStates[edge.From] = struct{}{}
		allStates[edge.To] = struct{}{}
		if adj[edge.From] == nil {
			adj[edge.From] = make(map[S]struct{})
		}
		adj[edge.From][edge.To] = struct{}{}
	}

	for end := range s.endStates {
		if _, ok := allStates[end]; !ok {
			return fmt.Errorf("%w: %v", ErrEndStateNotInGraph, end)
		}
	}

	for src := range adj {
		if s.isEnd(src) {
			continue
		}
		if _, ok := s.onStateFn[src]; !ok {
			return fmt.Errorf("%w: %v", ErrMissingOnStateFn, src)
		}
	}

	for src := range adj {
		if s.isEnd(src) {
			continue
		}
		var err error
		if s.maxRevisitCount < 0 {
			err = acyclicReachable(src, adj, s.isEnd)
		} else {
			err = boundedReachable(src, adj, s.isEnd, s.maxRevisitCount)
		}
		if err != nil {
			return fmt.Errorf("%w: from state %v", err, src)
		}
	}

	s.adj = adj
	s.allStates = allStates
	s.compiled = true
	return nil
}

// acyclicReachable runs a BFS from start over adj, failing if any node is
// revisited (a cycle, which acyclic mode forbids outright) or if no end
// state is ever reached.
func acyclicReachable[S comparable](start S, adj map[S]map[S]struct{}, isEnd func(S) bool) error {
	visited := map[S]bool{start: true}
	frontier := []S{start}
	reachedEnd := isEnd(start)
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for next := range adj[cur] {
			if visited[next] {
				return ErrHasCycleInAcyclicMode
			}
			visited[next] = true
			if isEnd(next) {
				reachedEnd = true
			}
			frontier = append(frontier, next)
		}
	}
	if !reachedEnd {
		return ErrEndStateUnreachable
	}
	return nil
}

// boundedReachable runs a BFS from start that allows revisiting a state up
// to maxRevisit+1 total visits (0 means one entry, zero revisits), failing
// only if no end state is reachable within that bound.
func boundedReachable[S comparable](start S, adj map[S]map[S]struct{}, isEnd func(S) bool, maxRevisit int) error {
	limit := maxRevisit + 1
	counts := map[S]int{start: 1}
	frontier := []S{start}
	reachedEnd := isEnd(start)
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for next := range adj[cur] {
			counts[next]++
			if counts[next] > limit {
				continue
			}
			if isEnd(next) {
				reachedEnd = true
			}
			frontier = append(frontier, next)
		}
	}
	if !reachedEnd {
		return ErrEndStateUnreachable
	}
	return nil
}

// Schedule drives t from its current state to an end state, invoking
// on_state_fn then the matching on_state_changed_fn (if any) at each step.
// It is a no-op if t already sits in an end state.
func (s *Scheduler[S, E]) Schedule(ctx context.Context, q *queue.Queue[message.Message], t Task[S, E]) error {
	if !s.compiled {
		return ErrNotCompiled
	}
	if s.isEnd(t.GetCurrentState()) {
		return nil
	}

	for st := range t.GetValidStates() {
		if s.isEnd(st) {
			continue
		}
		_, inGraph := s.allStates[st]
		_, hasFn := s.onStateFn[st]
		if !inGraph || !hasFn {
			return fmt.Errorf("%w: state %v", ErrTaskSchedulerMismatch, st)
		}
	}

	t.SetMaxRevisitCount(s.maxRevisitCount)

	for !s.isEnd(t.GetCurrentState()) {
		current := t.GetCurrentState()
		fn, ok := s.onStateFn[current]
		if !ok {
			return fmt.Errorf("%w: state %v", ErrMissingOnStateFn, current)
		}
		event, err := fn(ctx, s, q, t)
		if err != nil {
			return err
		}
		var zero E
		if event == zero {
			return fmt.Errorf("%w: state %v", ErrMissingEventFromOnState, current)
		}
		if err := t.HandleEvent(ctx, event); err != nil {
			return err
		}
		next := t.GetCurrentState()
		if cb, ok := s.onStateChangedFn[Edge[S]{From: current, To: next}]; ok {
			if err := cb(ctx, s, q, t); err != nil {
				return err
			}
		}
	}
	return nil
}
