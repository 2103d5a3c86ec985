package fsm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koko12137/tasking-community-sub000/pkg/fsm"
)

type state int

const (
	stateA state = iota
	stateB
	stateC
)

type event int

const (
	evAB event = iota
	evBC
	evBA
)

func buildMachine(t *testing.T) *fsm.Machine[state, event] {
	t.Helper()
	table := map[fsm.Key[state, event]]fsm.Transition[state, event]{
		fsm.NewTransitionKey(stateA, evAB): {To: stateB},
		fsm.NewTransitionKey(stateB, evBC): {To: stateC},
		fsm.NewTransitionKey(stateB, evBA): {To: stateA},
	}
	m := fsm.New([]state{stateA, stateB, stateC}, stateA, table)
	require.NoError(t, m.Compile())
	return m
}

func TestCompileRejectsEmptyStates(t *testing.T) {
	m := fsm.New[state, event](nil, stateA, map[fsm.Key[state, event]]fsm.Transition[state, event]{
		fsm.NewTransitionKey(stateA, evAB): {To: stateB},
	})
	err := m.Compile()
	assert.ErrorIs(t, err, fsm.ErrCompile)
}

func TestCompileRejectsUnknownInitState(t *testing.T) {
	m := fsm.New([]state{stateB, stateC}, stateA, map[fsm.Key[state, event]]fsm.Transition[state, event]{
		fsm.NewTransitionKey(stateB, evBC): {To: stateC},
	})
	err := m.Compile()
	assert.ErrorIs(t, err, fsm.ErrCompile)
}

func TestHandleEventBeforeCompile(t *testing.T) {
	m := fsm.New([]state{stateA, stateB}, stateA, map[fsm.Key[state, event]]fsm.Transition[state, event]{
		fsm.NewTransitionKey(stateA, evAB): {To: stateB},
	})
	err := m.HandleEvent(context.Background(), evAB)
	assert.ErrorIs(t, err, fsm.ErrNotCompiled)
}

func TestHandleEventAdvancesState(t *testing.T) {
	m := buildMachine(t)
	require.NoError(t, m.HandleEvent(context.Background(), evAB))
	assert.Equal(t, stateB, m.GetCurrentState())
	assert.Equal(t, 1, m.GetStateVisitCount(stateA))
	assert.Equal(t, 1, m.GetStateVisitCount(stateB))
}

func TestHandleEventUnknownTransition(t *testing.T) {
	m := buildMachine(t)
	err := m.HandleEvent(context.Background(), evBC)
	assert.ErrorIs(t, err, fsm.ErrUnknownTransition)
}

func TestHandleEventRevisitIncrementsCount(t *testing.T) {
	m := buildMachine(t)
	require.NoError(t, m.HandleEvent(context.Background(), evAB))
	require.NoError(t, m.HandleEvent(context.Background(), evBA))
	require.NoError(t, m.HandleEvent(context.Background(), evAB))
	assert.Equal(t, 2, m.GetStateVisitCount(stateA))
	assert.Equal(t, 2, m.GetStateVisitCount(stateB))
}

func TestReentrantHandleEventIsRejected(t *testing.T) {
	table := map[fsm.Key[state, event]]fsm.Transition[state, event]{}
	var m *fsm.Machine[state, event]
	reentryErr := make(chan error, 1)

	table[fsm.NewTransitionKey(stateA, evAB)] = fsm.Transition[state, event]{
		To: stateB,
		Callback: func(ctx context.Context, mm *fsm.Machine[state, event]) error {
			reentryErr <- mm.HandleEvent(ctx, evBC)
			return nil
		},
	}
	table[fsm.NewTransitionKey(stateB, evBC)] = fsm.Transition[state, event]{To: stateC}

	m = fsm.New([]state{stateA, stateB, stateC}, stateA, table)
	require.NoError(t, m.Compile())

	require.NoError(t, m.HandleEvent(context.Background(), evAB))
	err := <-reentryErr
	assert.ErrorIs(t, err, fsm.ErrReentrantTransition)
	// the outer transition still completed and left the machine usable.
	assert.Equal(t, stateB, m.GetCurrentState())
	require.NoError(t, m.HandleEvent(context.Background(), evBC))
	assert.Equal(t, stateC, m.GetCurrentState())
}

func TestResetClearsVisitCounts(t *testing.T) {
	m := buildMachine(t)
	require.NoError(t, m.HandleEvent(context.Background(), evAB))
	m.Reset()
	assert.Equal(t, stateA, m.GetCurrentState())
	assert.Equal(t, 1, m.GetStateVisitCount(stateA))
	assert.Equal(t, 0, m.GetStateVisitCount(stateB))
}

func TestTransitionCallbackErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	table := map[fsm.Key[state, event]]fsm.Transition[state, event]{
		fsm.NewTransitionKey(stateA, evAB): {
			To: stateB,
			Callback: func(ctx context.Context, mm *fsm.Machine[state, event]) error {
				return boom
			},
		},
	}
	m := fsm.New([]state{stateA, stateB}, stateA, table)
	require.NoError(t, m.Compile())
	err := m.HandleEvent(context.Background(), evAB)
	assert.ErrorIs(t, err, boom)
	// state still advances even when the callback errors, matching the
	// source semantics of "transition then notify".
	assert.Equal(t, stateB, m.GetCurrentState())
}
