package scheduler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koko12137/tasking-community-sub000/pkg/fsm"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/scheduler"
	"github.com/Koko12137/tasking-community-sub000/pkg/task"
)

type state string
type event string

const (
	created  state = "CREATED"
	running  state = "RUNNING"
	finished state = "FINISHED"
	canceled state = "CANCELED"
)

const (
	evPlaned event = "PLANED"
	evDone   event = "DONE"
	evCancel event = "CANCEL"
	evInit   event = "INIT"
)

func newFixtureTask(t *testing.T) *task.Task[state, event] {
	t.Helper()
	table := map[fsm.Key[state, event]]fsm.Transition[state, event]{
		fsm.NewTransitionKey(created, evPlaned): {To: running},
		fsm.NewTransitionKey(running, evDone):   {To: finished},
	}
	tk, err := task.New[state, event]([]state{created, running, finished}, created, table, "fixture", nil, nil)
	require.NoError(t, err)
	return tk
}

func simpleConfig() scheduler.Config[state, event] {
	return scheduler.Config[state, event]{
		EndStates: []state{finished},
		OnStateFn: map[state]scheduler.OnStateFn[state, event]{
			created: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) (event, error) {
				return evPlaned, nil
			},
			running: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) (event, error) {
				return evDone, nil
			},
		},
		OnStateChangedFn: map[scheduler.Edge[state]]scheduler.OnStateChangedFn[state, event]{
			{From: created, To: running}: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) error {
				return nil
			},
			{From: running, To: finished}: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) error {
				return nil
			},
		},
		MaxRevisitCount: 3,
	}
}

func TestCompileSucceedsOnBoundedReachableGraph(t *testing.T) {
	s := scheduler.New(simpleConfig())
	require.NoError(t, s.Compile())
	assert.True(t, s.IsCompiled())
}

func TestCompileRejectsNoEndStates(t *testing.T) {
	cfg := simpleConfig()
	cfg.EndStates = nil
	s := scheduler.New(cfg)
	assert.ErrorIs(t, s.Compile(), scheduler.ErrNoEndStates)
}

func TestCompileRejectsMissingOnStateFn(t *testing.T) {
	cfg := simpleConfig()
	delete(cfg.OnStateFn, running)
	s := scheduler.New(cfg)
	assert.ErrorIs(t, s.Compile(), scheduler.ErrMissingOnStateFn)
}

func TestCompileRejectsEndStateNotInGraph(t *testing.T) {
	cfg := simpleConfig()
	cfg.EndStates = []state{"UNREACHABLE"}
	s := scheduler.New(cfg)
	assert.ErrorIs(t, s.Compile(), scheduler.ErrEndStateNotInGraph)
}

func TestCompileAcyclicModeRejectsCycle(t *testing.T) {
	cfg := scheduler.Config[state, event]{
		EndStates: []state{finished},
		OnStateFn: map[state]scheduler.OnStateFn[state, event]{
			created: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) (event, error) {
				return evPlaned, nil
			},
			running: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) (event, error) {
				return evInit, nil
			},
		},
		OnStateChangedFn: map[scheduler.Edge[state]]scheduler.OnStateChangedFn[state, event]{
			{From: created, To: running}: nil,
			{From: running, To: created}: nil,
			{From: running, To: finished}: nil,
		},
		MaxRevisitCount: -1,
	}
	s := scheduler.New(cfg)
	assert.ErrorIs(t, s.Compile(), scheduler.ErrHasCycleInAcyclicMode)
}

const limbo state = "LIMBO"
const other state = "OTHER"

// TestCompileRejectsEndStateUnreachable builds a graph where finished is
// present (reachable from OTHER, satisfying the "end state appears in the
// graph" check) but unreachable from created/running/limbo, so at least
// one non-end source fails its own reachability check.
func TestCompileRejectsEndStateUnreachable(t *testing.T) {
	cfg := scheduler.Config[state, event]{
		EndStates: []state{finished},
		OnStateFn: map[state]scheduler.OnStateFn[state, event]{
			created: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) (event, error) {
				return evPlaned, nil
			},
			running: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) (event, error) {
				return evInit, nil
			},
			limbo: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) (event, error) {
				return evInit, nil
			},
			other: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) (event, error) {
				return evDone, nil
			},
		},
		OnStateChangedFn: map[scheduler.Edge[state]]scheduler.OnStateChangedFn[state, event]{
			{From: created, To: running}: nil,
			{From: running, To: limbo}:   nil,
			{From: other, To: finished}:  nil,
		},
		MaxRevisitCount: -1,
	}
	s := scheduler.New(cfg)
	assert.ErrorIs(t, s.Compile(), scheduler.ErrEndStateUnreachable)
}

func TestAlreadyCompiledRejectsSecondCompile(t *testing.T) {
	s := scheduler.New(simpleConfig())
	require.NoError(t, s.Compile())
	assert.ErrorIs(t, s.Compile(), scheduler.ErrAlreadyCompiled)
}

func TestScheduleBeforeCompileFails(t *testing.T) {
	s := scheduler.New(simpleConfig())
	err := s.Schedule(context.Background(), nil, newFixtureTask(t))
	assert.ErrorIs(t, err, scheduler.ErrNotCompiled)
}

func TestScheduleDrivesTaskToFinished(t *testing.T) {
	s := scheduler.New(simpleConfig())
	require.NoError(t, s.Compile())

	tk := newFixtureTask(t)
	q := queue.New[message.Message](0)
	require.NoError(t, s.Schedule(context.Background(), q, tk))
	assert.Equal(t, finished, tk.GetCurrentState())
	assert.Equal(t, 1, tk.GetStateVisitCount(created))
	assert.Equal(t, 1, tk.GetStateVisitCount(running))
	assert.Equal(t, 1, tk.GetStateVisitCount(finished))
}

func TestScheduleNoOpOnAlreadyEndState(t *testing.T) {
	s := scheduler.New(simpleConfig())
	require.NoError(t, s.Compile())
	tk := newFixtureTask(t)
	require.NoError(t, tk.HandleEvent(context.Background(), evPlaned))
	require.NoError(t, tk.HandleEvent(context.Background(), evDone))
	require.NoError(t, s.Schedule(context.Background(), queue.New[message.Message](0), tk))
	assert.Equal(t, finished, tk.GetCurrentState())
}

func TestScheduleRetriesUpToBoundThenCancels(t *testing.T) {
	table := map[fsm.Key[state, event]]fsm.Transition[state, event]{
		fsm.NewTransitionKey(created, evPlaned): {To: running},
		fsm.NewTransitionKey(running, evPlaned): {To: running},
		fsm.NewTransitionKey(running, evCancel): {To: canceled},
	}
	tk, err := task.New[state, event]([]state{created, running, canceled}, created, table, "fixture", nil, nil)
	require.NoError(t, err)

	cfg := scheduler.Config[state, event]{
		EndStates: []state{canceled},
		OnStateFn: map[state]scheduler.OnStateFn[state, event]{
			created: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) (event, error) {
				return evPlaned, nil
			},
			running: func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) (event, error) {
				if t.GetStateVisitCount(running) >= 3 {
					return evCancel, nil
				}
				return evPlaned, nil
			},
		},
		OnStateChangedFn: map[scheduler.Edge[state]]scheduler.OnStateChangedFn[state, event]{
			{From: created, To: running}: nil,
			{From: running, To: running}: nil,
			{From: running, To: canceled}: nil,
		},
		MaxRevisitCount: 3,
	}
	s := scheduler.New(cfg)
	require.NoError(t, s.Compile())
	require.NoError(t, s.Schedule(context.Background(), queue.New[message.Message](0), tk))
	assert.Equal(t, canceled, tk.GetCurrentState())
	assert.Equal(t, 3, tk.GetStateVisitCount(running))
	assert.True(t, tk.IsError() == false) // this fixture never sets an error; cancellation is event-driven here
}

func TestScheduleMissingEventFromOnState(t *testing.T) {
	cfg := simpleConfig()
	cfg.OnStateFn[created] = func(ctx context.Context, sched *scheduler.Scheduler[state, event], q *queue.Queue[message.Message], t scheduler.Task[state, event]) (event, error) {
		return "", nil
	}
	s := scheduler.New(cfg)
	require.NoError(t, s.Compile())
	err := s.Schedule(context.Background(), queue.New[message.Message](0), newFixtureTask(t))
	assert.ErrorIs(t, err, scheduler.ErrMissingEventFromOnState)
}
