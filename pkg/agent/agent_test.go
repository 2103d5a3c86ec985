package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koko12137/tasking-community-sub000/pkg/agent"
	"github.com/Koko12137/tasking-community-sub000/pkg/fsm"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/task"
	"github.com/Koko12137/tasking-community-sub000/pkg/workflow"
)

type stage string

const (
	thinking stage = "THINKING"
	acting   stage = "ACTING"
	done     stage = "FINISHED"
)

type stageEvent string

const (
	evAct  stageEvent = "ACT"
	evDone stageEvent = "DONE"
)

func newTestTask(t *testing.T) task.Handle {
	t.Helper()
	table := map[fsm.Key[stage, stageEvent]]fsm.Transition[stage, stageEvent]{
		fsm.NewTransitionKey(thinking, evDone): {To: done},
	}
	tk, err := task.New[stage, stageEvent]([]stage{thinking, done}, thinking, table, "test", nil, []string{"search"})
	require.NoError(t, err)
	return tk
}

type fakeLLM struct {
	completeResp message.Message
	completeErr  error
	chunks       []message.Message
	streamErr    error
}

func (f *fakeLLM) Complete(ctx context.Context, req model.Request) (message.Message, error) {
	return f.completeResp, f.completeErr
}

func (f *fakeLLM) Stream(ctx context.Context, req model.Request, sink *queue.Queue[message.Message]) (message.Message, error) {
	if f.streamErr != nil {
		return message.Message{}, f.streamErr
	}
	for _, c := range f.chunks {
		if err := sink.Put(ctx, c); err != nil {
			return message.Message{}, err
		}
	}
	if err := sink.Put(ctx, model.StreamDone); err != nil {
		return message.Message{}, err
	}
	return f.completeResp, nil
}

func (f *fakeLLM) Embed(ctx context.Context, content []message.Block, dimensions int) ([]float64, error) {
	return nil, nil
}

func (f *fakeLLM) EmbedBatch(ctx context.Context, contents [][]message.Block, dimensions int) ([][]float64, error) {
	return nil, nil
}

func TestRunTaskStreamDrivesToTerminalEvent(t *testing.T) {
	ran := false
	action := func(ctx context.Context, wf *workflow.Machine[stage, stageEvent], q *queue.Queue[message.Message], th task.Handle) (stageEvent, error) {
		ran = true
		return evDone, nil
	}
	factory := func() *workflow.Machine[stage, stageEvent] {
		table := map[fsm.Key[stage, stageEvent]]fsm.Transition[stage, stageEvent]{
			fsm.NewTransitionKey(thinking, evAct):  {To: thinking},
			fsm.NewTransitionKey(thinking, evDone): {To: done},
		}
		cfg := workflow.Config[stage, stageEvent]{
			Name:        "test-workflow",
			ValidStates: []stage{thinking, done},
			InitState:   thinking,
			Transitions: table,
			Actions:     map[stage]workflow.ActionFunc[stage, stageEvent]{thinking: action},
			EventChain:  []stageEvent{evAct, evDone},
		}
		wf, err := workflow.New(cfg)
		require.NoError(t, err)
		return wf
	}

	a := agent.New(agent.Config[stage, stageEvent]{
		Name:            "runner",
		WorkflowFactory: factory,
	})

	tk := newTestTask(t)
	q := queue.New[message.Message](0)
	_, err := a.RunTaskStream(context.Background(), q, tk)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRunTaskStreamNoFactory(t *testing.T) {
	a := agent.New(agent.Config[stage, stageEvent]{Name: "runner"})
	_, err := a.RunTaskStream(context.Background(), queue.New[message.Message](0), newTestTask(t))
	assert.ErrorIs(t, err, agent.ErrNoWorkflowFactory)
}

func TestObserveAppendsAndRunsHooks(t *testing.T) {
	var preRan, postRan bool
	hooks := agent.Hooks{
		PreObserve:  []agent.Hook{agent.HookFunc(func(ctx context.Context, args agent.HookArgs) (agent.HookOutcome, error) { preRan = true; return agent.Continue(), nil })},
		PostObserve: []agent.Hook{agent.HookFunc(func(ctx context.Context, args agent.HookArgs) (agent.HookOutcome, error) { postRan = true; return agent.Continue(), nil })},
	}
	a := agent.New(agent.Config[stage, stageEvent]{Name: "observer", Hooks: hooks})
	tk := newTestTask(t)

	observeFn := func(th task.Handle, kwargs map[string]any) message.Message {
		return message.Message{Role: message.RoleUser, Content: []message.Block{message.TextBlock{Text: "hello"}}}
	}

	msgs, err := a.Observe(context.Background(), queue.New[message.Message](0), tk, observeFn, nil)
	require.NoError(t, err)
	require.True(t, preRan)
	require.True(t, postRan)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text())
}

func TestThinkNonStreamAppendsAssistantMessage(t *testing.T) {
	llm := &fakeLLM{completeResp: message.Message{Role: message.RoleAssistant, Content: []message.Block{message.TextBlock{Text: "answer"}}}}
	a := agent.New(agent.Config[stage, stageEvent]{Name: "thinker", LLM: llm})
	tk := newTestTask(t)
	require.NoError(t, tk.AppendContext(message.Message{Role: message.RoleUser, Content: []message.Block{message.TextBlock{Text: "question"}}}))

	final, err := a.Think(context.Background(), queue.New[message.Message](0), tk, agent.ThinkOptions{})
	require.NoError(t, err)
	assert.Equal(t, "answer", final.Text())
}

func TestThinkNoLLMConfigured(t *testing.T) {
	a := agent.New(agent.Config[stage, stageEvent]{Name: "thinker"})
	tk := newTestTask(t)
	_, err := a.Think(context.Background(), queue.New[message.Message](0), tk, agent.ThinkOptions{})
	assert.ErrorIs(t, err, agent.ErrNoLLMClient)
}

func TestThinkStreamRelaysChunksAndAggregates(t *testing.T) {
	chunks := make([]message.Message, 0, 7)
	for i := 0; i < 7; i++ {
		chunks = append(chunks, message.Message{Role: message.RoleAssistant, IsChunking: true, Content: []message.Block{message.TextBlock{Text: "chunk"}}})
	}
	llm := &fakeLLM{
		chunks:       chunks,
		completeResp: message.Message{Role: message.RoleAssistant, Content: []message.Block{message.TextBlock{Text: "final answer"}}},
	}

	var relayed []message.Message
	relayHook := agent.HookFunc(func(ctx context.Context, args agent.HookArgs) (agent.HookOutcome, error) {
		for {
			m, ok, err := args.StreamQueue.Get(ctx)
			if err != nil {
				return agent.HookOutcome{}, err
			}
			if !ok {
				return agent.Continue(), nil
			}
			if model.IsStreamDone(m) {
				return agent.Continue(), nil
			}
			relayed = append(relayed, m)
			if args.Queue != nil {
				_ = args.Queue.Put(ctx, m)
			}
		}
	})

	a := agent.New(agent.Config[stage, stageEvent]{
		Name: "streamer",
		LLM:  llm,
		Hooks: agent.Hooks{
			PostThink: []agent.Hook{relayHook},
		},
	})
	tk := newTestTask(t)
	require.NoError(t, tk.AppendContext(message.Message{Role: message.RoleUser, Content: []message.Block{message.TextBlock{Text: "question"}}}))

	q := queue.New[message.Message](0)
	final, err := a.Think(context.Background(), q, tk, agent.ThinkOptions{
		CompletionConfig: message.NewCompletionConfig(message.WithStream(true)),
	})
	require.NoError(t, err)
	assert.Len(t, relayed, 7)
	assert.Equal(t, "final answer", final.Text())
}

func TestActToolTagMismatch(t *testing.T) {
	tk, err := task.New[stage, stageEvent](
		[]stage{thinking, done}, thinking,
		map[fsm.Key[stage, stageEvent]]fsm.Transition[stage, stageEvent]{fsm.NewTransitionKey(thinking, evDone): {To: done}},
		"test", nil, nil, // no tags
	)
	require.NoError(t, err)

	wf, err := workflow.New(workflow.Config[stage, stageEvent]{
		Name:        "acter",
		ValidStates: []stage{thinking, done},
		InitState:   thinking,
		Transitions: map[fsm.Key[stage, stageEvent]]fsm.Transition[stage, stageEvent]{fsm.NewTransitionKey(thinking, evDone): {To: done}},
		EventChain:  []stageEvent{evAct, evDone},
		Tools: map[string]workflow.ToolBinding{
			"search": {
				Descriptor:   workflow.ToolDescriptor{Name: "search"},
				RequiredTags: map[string]struct{}{"search": {}},
				Call: func(ctx context.Context, th task.Handle, inject map[string]any, arguments []byte) (workflow.ToolResult, error) {
					return workflow.ToolResult{}, nil
				},
			},
		},
	})
	require.NoError(t, err)

	a := agent.New(agent.Config[stage, stageEvent]{Name: "acter"})
	_, err = a.Act(context.Background(), queue.New[message.Message](0), wf, message.ToolCallRequest{ID: "1", Name: "search"}, tk)
	assert.ErrorIs(t, err, agent.ErrToolTagMismatch)
	assert.True(t, tk.IsError())
}

func TestActToolNotFound(t *testing.T) {
	tk := newTestTask(t)
	a := agent.New(agent.Config[stage, stageEvent]{Name: "acter"})
	_, err := a.Act(context.Background(), queue.New[message.Message](0), nil, message.ToolCallRequest{ID: "1", Name: "missing"}, tk)
	assert.ErrorIs(t, err, agent.ErrToolNotFound)
}

func TestActSuccessfulWorkflowTool(t *testing.T) {
	tk := newTestTask(t) // tagged with "search"
	wf, err := workflow.New(workflow.Config[stage, stageEvent]{
		Name:        "acter",
		ValidStates: []stage{thinking, done},
		InitState:   thinking,
		Transitions: map[fsm.Key[stage, stageEvent]]fsm.Transition[stage, stageEvent]{fsm.NewTransitionKey(thinking, evDone): {To: done}},
		EventChain:  []stageEvent{evAct, evDone},
		Tools: map[string]workflow.ToolBinding{
			"search": {
				Descriptor:   workflow.ToolDescriptor{Name: "search"},
				RequiredTags: map[string]struct{}{"search": {}},
				Call: func(ctx context.Context, th task.Handle, inject map[string]any, arguments []byte) (workflow.ToolResult, error) {
					return workflow.ToolResult{Content: []message.Block{message.TextBlock{Text: "found it"}}}, nil
				},
			},
		},
	})
	require.NoError(t, err)

	a := agent.New(agent.Config[stage, stageEvent]{Name: "acter"})
	msg, err := a.Act(context.Background(), queue.New[message.Message](0), wf, message.ToolCallRequest{ID: "1", Name: "search"}, tk)
	require.NoError(t, err)
	assert.Equal(t, "found it", msg.Text())
	assert.False(t, msg.IsError)
}

func TestInterfereAppendsUserMessageAndReenters(t *testing.T) {
	attempts := 0
	interfereHook := agent.HookFunc(func(ctx context.Context, args agent.HookArgs) (agent.HookOutcome, error) {
		attempts++
		if attempts < 2 {
			return agent.Interfere("please clarify"), nil
		}
		return agent.Continue(), nil
	})

	a := agent.New(agent.Config[stage, stageEvent]{
		Name:                       "interferer",
		MaxHumanInterfereReentries: 5,
		Hooks:                      agent.Hooks{PreObserve: []agent.Hook{interfereHook}},
	})
	tk := newTestTask(t)

	observeFn := func(th task.Handle, kwargs map[string]any) message.Message {
		return message.Message{Role: message.RoleUser, Content: []message.Block{message.TextBlock{Text: "observed"}}}
	}

	_, err := a.Observe(context.Background(), queue.New[message.Message](0), tk, observeFn, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestInterfereExceedsReentryBound(t *testing.T) {
	interfereHook := agent.HookFunc(func(ctx context.Context, args agent.HookArgs) (agent.HookOutcome, error) {
		return agent.Interfere("still unclear"), nil
	})

	a := agent.New(agent.Config[stage, stageEvent]{
		Name:                       "interferer",
		MaxHumanInterfereReentries: 1,
		Hooks:                      agent.Hooks{PreObserve: []agent.Hook{interfereHook}},
	})
	tk := newTestTask(t)

	observeFn := func(th task.Handle, kwargs map[string]any) message.Message {
		return message.Message{Role: message.RoleUser, Content: []message.Block{message.TextBlock{Text: "observed"}}}
	}

	_, err := a.Observe(context.Background(), queue.New[message.Message](0), tk, observeFn, nil)
	assert.ErrorIs(t, err, agent.ErrHumanInterfereReentriesExceeded)
}

func TestPreRunOnceHookErrorPropagates(t *testing.T) {
	failErr := errors.New("boom")
	failHook := agent.HookFunc(func(ctx context.Context, args agent.HookArgs) (agent.HookOutcome, error) {
		return agent.HookOutcome{}, failErr
	})
	factory := func() *workflow.Machine[stage, stageEvent] {
		wf, err := workflow.New(workflow.Config[stage, stageEvent]{
			Name:        "wf",
			ValidStates: []stage{thinking, done},
			InitState:   thinking,
			Transitions: map[fsm.Key[stage, stageEvent]]fsm.Transition[stage, stageEvent]{fsm.NewTransitionKey(thinking, evDone): {To: done}},
			Actions: map[stage]workflow.ActionFunc[stage, stageEvent]{thinking: func(ctx context.Context, wf *workflow.Machine[stage, stageEvent], q *queue.Queue[message.Message], th task.Handle) (stageEvent, error) {
				return evDone, nil
			}},
			EventChain: []stageEvent{evAct, evDone},
		})
		require.NoError(t, err)
		return wf
	}
	a := agent.New(agent.Config[stage, stageEvent]{
		Name:            "runner",
		WorkflowFactory: factory,
		Hooks:           agent.Hooks{PreRunOnce: []agent.Hook{failHook}},
	})
	_, err := a.RunTaskStream(context.Background(), queue.New[message.Message](0), newTestTask(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, failErr)
}
