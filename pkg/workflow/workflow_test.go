package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koko12137/tasking-community-sub000/pkg/fsm"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/task"
	"github.com/Koko12137/tasking-community-sub000/pkg/workflow"
)

type stage string

const (
	reasoning  stage = "REASONING"
	reflecting stage = "REFLECTING"
	done       stage = "FINISHED"
)

type stageEvent string

const (
	evReason  stageEvent = "REASON"
	evReflect stageEvent = "REFLECT"
	evDone    stageEvent = "DONE"
)

func buildWorkflow(t *testing.T) *workflow.Machine[stage, stageEvent] {
	t.Helper()
	table := map[fsm.Key[stage, stageEvent]]fsm.Transition[stage, stageEvent]{
		fsm.NewTransitionKey(reasoning, evReflect): {To: reflecting},
		fsm.NewTransitionKey(reflecting, evReason):  {To: reasoning},
		fsm.NewTransitionKey(reasoning, evDone):     {To: done},
	}
	reasonAction := func(ctx context.Context, wf *workflow.Machine[stage, stageEvent], q *queue.Queue[message.Message], t task.Handle) (stageEvent, error) {
		return evDone, nil
	}
	cfg := workflow.Config[stage, stageEvent]{
		Name:        "reflect",
		ValidStates: []stage{reasoning, reflecting, done},
		InitState:   reasoning,
		Transitions: table,
		Prompts:     map[stage]string{reasoning: "think it through"},
		Actions:     map[stage]workflow.ActionFunc[stage, stageEvent]{reasoning: reasonAction},
		EventChain:  []stageEvent{evReflect, evDone},
		Tools: map[string]workflow.ToolBinding{
			"search": {
				Descriptor:   workflow.ToolDescriptor{Name: "search"},
				RequiredTags: map[string]struct{}{"search": {}},
				Call: func(ctx context.Context, t task.Handle, inject map[string]any, arguments []byte) (workflow.ToolResult, error) {
					return workflow.ToolResult{Content: []message.Block{message.TextBlock{Text: "ok"}}}, nil
				},
			},
		},
	}
	wf, err := workflow.New(cfg)
	require.NoError(t, err)
	return wf
}

func TestNewRejectsEmptyEventChain(t *testing.T) {
	_, err := workflow.New(workflow.Config[stage, stageEvent]{
		ValidStates: []stage{reasoning},
		InitState:   reasoning,
		Transitions: map[fsm.Key[stage, stageEvent]]fsm.Transition[stage, stageEvent]{
			fsm.NewTransitionKey(reasoning, evDone): {To: done},
		},
	})
	assert.ErrorIs(t, err, workflow.ErrEmptyEventChain)
}

func TestGetActionForCurrentStage(t *testing.T) {
	wf := buildWorkflow(t)
	action, err := wf.GetAction()
	require.NoError(t, err)
	event, err := action(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, evDone, event)
}

func TestGetActionMissingForStage(t *testing.T) {
	wf := buildWorkflow(t)
	require.NoError(t, wf.HandleEvent(context.Background(), evReflect))
	_, err := wf.GetAction()
	assert.ErrorIs(t, err, workflow.ErrMissingAction)
}

func TestGetPromptForCurrentStage(t *testing.T) {
	wf := buildWorkflow(t)
	assert.Equal(t, "think it through", wf.GetPrompt())
}

func TestGetEventChainReturnsCopy(t *testing.T) {
	wf := buildWorkflow(t)
	chain := wf.GetEventChain()
	chain[0] = evDone
	assert.Equal(t, evReflect, wf.GetEventChain()[0])
}

func TestToolLookupAndCall(t *testing.T) {
	wf := buildWorkflow(t)
	binding, ok := wf.GetTool("search")
	require.True(t, ok)
	_, hasTag := binding.RequiredTags["search"]
	assert.True(t, hasTag)

	result, err := wf.CallTool(context.Background(), "search", nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "ok", result.Content[0].(message.TextBlock).Text)
}

func TestToolNotFound(t *testing.T) {
	wf := buildWorkflow(t)
	_, err := wf.CallTool(context.Background(), "missing", nil, nil, nil)
	assert.ErrorIs(t, err, workflow.ErrToolNotFound)
}
