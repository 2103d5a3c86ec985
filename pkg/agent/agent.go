// Package agent implements the Agent component: observe/think/act against a
// workflow-driven stage machine, with eight ordered hook lists and the
// run_task_stream outer/inner loop that drives one task to completion.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/task"
	"github.com/Koko12137/tasking-community-sub000/pkg/telemetry"
	"github.com/Koko12137/tasking-community-sub000/pkg/toolservice"
	"github.com/Koko12137/tasking-community-sub000/pkg/workflow"
)

// Sentinel errors for the operations in this package.
var (
	// ErrToolTagMismatch is returned by Act when a task lacks the tags a
	// workflow tool requires.
	ErrToolTagMismatch = errors.New("agent: tool tag mismatch")
	// ErrToolNotFound is returned by Act when a tool call resolves to
	// neither a workflow-local tool nor the tool-service fallback.
	ErrToolNotFound = errors.New("agent: tool not found")
	// ErrNoWorkflowFactory is returned by RunTaskStream when the agent was
	// constructed without a workflow factory.
	ErrNoWorkflowFactory = errors.New("agent: no workflow factory configured")
	// ErrNoLLMClient is returned by Think when the agent has no model
	// client configured.
	ErrNoLLMClient = errors.New("agent: no LLM client configured")
)

// HookOutcomeKind distinguishes ordinary hook completion from a request to
// pause for a human response.
type HookOutcomeKind int

const (
	OutcomeContinue HookOutcomeKind = iota
	OutcomeInterfere
)

// HookOutcome is a hook's typed result: either "continue normally" or
// "pause and let a human respond", carrying the message to surface. This
// replaces modeling HumanInterfere as a raised exception.
type HookOutcome struct {
	Kind    HookOutcomeKind
	Message string
}

// Continue is the ordinary hook outcome.
func Continue() HookOutcome { return HookOutcome{Kind: OutcomeContinue} }

// Interfere requests that the surrounding operation pause, append msg to
// the task context as a USER-role message, and re-enter.
func Interfere(msg string) HookOutcome { return HookOutcome{Kind: OutcomeInterfere, Message: msg} }

// HookArgs carries the canonical hook parameters: the caller's queue, the
// task being driven, and operation-specific extras.
type HookArgs struct {
	Queue *queue.Queue[message.Message]
	Task  task.Handle

	// ToolCall is set for pre_act/post_act hooks.
	ToolCall *message.ToolCallRequest
	// StreamQueue is set for post_think hooks when streaming is enabled;
	// nil in non-stream mode.
	StreamQueue *queue.Queue[message.Message]
	// Kwargs carries observe-specific caller-supplied parameters.
	Kwargs map[string]any
}

// Hook is one entry in an agent's ordered hook lists.
type Hook interface {
	Invoke(ctx context.Context, args HookArgs) (HookOutcome, error)
}

// HookFunc adapts a plain function to Hook.
type HookFunc func(ctx context.Context, args HookArgs) (HookOutcome, error)

func (f HookFunc) Invoke(ctx context.Context, args HookArgs) (HookOutcome, error) {
	return f(ctx, args)
}

// Hooks bundles the eight ordered hook lists an Agent dispatches.
type Hooks struct {
	PreRunOnce  []Hook
	PostRunOnce []Hook
	PreObserve  []Hook
	PostObserve []Hook
	PreThink    []Hook
	PostThink   []Hook
	PreAct      []Hook
	PostAct     []Hook
}

// Config bundles Agent construction inputs.
type Config[Stage comparable, StageEvent comparable] struct {
	Name            string
	Type            string
	WorkflowFactory func() *workflow.Machine[Stage, StageEvent]
	LLM             model.Client
	ToolService     toolservice.Service
	Hooks           Hooks

	// MaxHumanInterfereReentries bounds how many times a hook list (at any
	// hook point) is re-run after an Interfere outcome before giving up with
	// an error. 0 means
	// unbounded, matching the source's default.
	MaxHumanInterfereReentries int

	Logger telemetry.Logger
}

// Agent drives a workflow-defined stage machine against one task per
// RunTaskStream invocation.
type Agent[Stage comparable, StageEvent comparable] struct {
	id              string
	name            string
	typ             string
	workflowFactory func() *workflow.Machine[Stage, StageEvent]
	llm             model.Client
	toolService     toolservice.Service
	hooks           Hooks
	maxReentries    int
	logger          telemetry.Logger
}

// New constructs an Agent from cfg.
func New[Stage comparable, StageEvent comparable](cfg Config[Stage, StageEvent]) *Agent[Stage, StageEvent] {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewSlogLogger(nil)
	}
	return &Agent[Stage, StageEvent]{
		id:              uuid.NewString(),
		name:            cfg.Name,
		typ:             cfg.Type,
		workflowFactory: cfg.WorkflowFactory,
		llm:             cfg.LLM,
		toolService:     cfg.ToolService,
		hooks:           cfg.Hooks,
		maxReentries:    cfg.MaxHumanInterfereReentries,
		logger:          logger,
	}
}

func (a *Agent[Stage, StageEvent]) GetID() string   { return a.id }
func (a *Agent[Stage, StageEvent]) GetName() string { return a.name }
func (a *Agent[Stage, StageEvent]) GetType() string  { return a.typ }

// ToolService returns the agent's configured tool-service fallback, or nil
// if none was supplied. Workflow actions use this to list tool-service
// tools available for the current task's tags, beyond the workflow's own
// static tool registry.
func (a *Agent[Stage, StageEvent]) ToolService() toolservice.Service { return a.toolService }

// runHooks runs hooks in order. It stops and returns the Interfere outcome
// at the first hook that requests it (subsequent hooks in the list do not
// run for that pass), or the first error.
func runHooks(ctx context.Context, hooks []Hook, args HookArgs) (HookOutcome, error) {
	for _, h := range hooks {
		outcome, err := h.Invoke(ctx, args)
		if err != nil {
			return HookOutcome{}, err
		}
		if outcome.Kind == OutcomeInterfere {
			return outcome, nil
		}
	}
	return Continue(), nil
}

// ErrHumanInterfereReentriesExceeded is returned when a hook list keeps
// requesting Interfere past the agent's configured bound.
var ErrHumanInterfereReentriesExceeded = errors.New("agent: human interfere reentries exceeded")

// runHooksWithInterfere runs hooks, and on an Interfere outcome appends the
// outcome's message to the task as a USER-role message and re-runs the same
// hook list, bounded by a.maxReentries (0 = unbounded). This realizes
// "caught ... converted into a user-role message ... followed by re-entering
// the action" without modeling HumanInterfere as an exception.
func (a *Agent[Stage, StageEvent]) runHooksWithInterfere(ctx context.Context, hooks []Hook, args HookArgs) error {
	attempts := 0
	for {
		outcome, err := runHooks(ctx, hooks, args)
		if err != nil {
			return err
		}
		if outcome.Kind != OutcomeInterfere {
			return nil
		}
		attempts++
		if a.maxReentries > 0 && attempts > a.maxReentries {
			return fmt.Errorf("%w: after %d attempts", ErrHumanInterfereReentriesExceeded, attempts)
		}
		interfereMsg := message.Message{
			Role:    message.RoleUser,
			Content: []message.Block{message.TextBlock{Text: outcome.Message}},
		}
		if err := args.Task.AppendContext(interfereMsg); err != nil {
			return fmt.Errorf("agent: interfere append: %w", err)
		}
	}
}

// Runner is the subset of Agent's surface usable without pinning a caller
// to the agent's own Stage/StageEvent type parameters, letting a scheduler
// invoke an orchestrator or executor agent of any workflow type against a
// task.Handle.
type Runner interface {
	RunTaskStream(ctx context.Context, q *queue.Queue[message.Message], t task.Handle) (task.Handle, error)
}

// RunTaskStream drives task through one complete workflow run: it
// instantiates a fresh workflow from the factory, then loops rounds until
// the workflow's event chain reaches its terminal event.
func (a *Agent[Stage, StageEvent]) RunTaskStream(
	ctx context.Context,
	q *queue.Queue[message.Message],
	t task.Handle,
) (task.Handle, error) {
	if a.workflowFactory == nil {
		return t, ErrNoWorkflowFactory
	}
	wf := a.workflowFactory()
	chain := wf.GetEventChain()
	if len(chain) == 0 {
		return t, fmt.Errorf("agent: %w", workflow.ErrEmptyEventChain)
	}
	first, last := chain[0], chain[len(chain)-1]
	event := first

	terminated := false
	for !terminated {
		if err := a.runHooksWithInterfere(ctx, a.hooks.PreRunOnce, HookArgs{Queue: q, Task: t}); err != nil {
			return t, fmt.Errorf("agent: pre_run_once hooks: %w", err)
		}

		for {
			if err := wf.HandleEvent(ctx, event); err != nil {
				return t, fmt.Errorf("agent: workflow transition: %w", err)
			}
			if event == last {
				terminated = true
				break
			}
			action, err := wf.GetAction()
			if err != nil {
				return t, fmt.Errorf("agent: %w", err)
			}
			event, err = action(ctx, wf, q, t)
			if err != nil {
				return t, fmt.Errorf("agent: stage action: %w", err)
			}
			if event == first {
				break
			}
		}

		if err := a.runHooksWithInterfere(ctx, a.hooks.PostRunOnce, HookArgs{Queue: q, Task: t}); err != nil {
			return t, fmt.Errorf("agent: post_run_once hooks: %w", err)
		}
	}

	return t, nil
}

// Observe computes the next context message via observeFn and appends it to
// the task, running pre/post hooks around the computation. kwargs is passed
// through to observeFn verbatim.
func (a *Agent[Stage, StageEvent]) Observe(
	ctx context.Context,
	q *queue.Queue[message.Message],
	t task.Handle,
	observeFn workflow.ObserveFunc,
	kwargs map[string]any,
) ([]message.Message, error) {
	args := HookArgs{Queue: q, Task: t, Kwargs: kwargs}
	if err := a.runHooksWithInterfere(ctx, a.hooks.PreObserve, args); err != nil {
		return nil, fmt.Errorf("agent: pre_observe hooks: %w", err)
	}

	msg := observeFn(t, kwargs)
	if err := t.AppendContext(msg); err != nil {
		return nil, fmt.Errorf("agent: observe append: %w", err)
	}

	if err := a.runHooksWithInterfere(ctx, a.hooks.PostObserve, args); err != nil {
		return nil, fmt.Errorf("agent: post_observe hooks: %w", err)
	}

	return t.GetContext().Messages(), nil
}

// ThinkOptions configures a Think call.
type ThinkOptions struct {
	Tools            []model.ToolDefinition
	CompletionConfig *message.CompletionConfig
}

// Think runs one completion against the task's current context, appending
// the result and returning the aggregated assistant message. When
// opts.CompletionConfig.Stream is set, chunks are drained via an internal
// queue and delivered to post_think hooks through HookArgs.StreamQueue,
// using the sentinel-based protocol from model.StreamDone rather than
// polling for queue emptiness.
func (a *Agent[Stage, StageEvent]) Think(
	ctx context.Context,
	q *queue.Queue[message.Message],
	t task.Handle,
	opts ThinkOptions,
) (message.Message, error) {
	if a.llm == nil {
		return message.Message{}, ErrNoLLMClient
	}
	if err := a.runHooksWithInterfere(ctx, a.hooks.PreThink, HookArgs{Queue: q, Task: t}); err != nil {
		return message.Message{}, fmt.Errorf("agent: pre_think hooks: %w", err)
	}

	cfg := opts.CompletionConfig
	if cfg == nil {
		cfg = message.NewCompletionConfig()
	}
	req := model.Request{
		Messages:         t.GetContext().Messages(),
		Tools:            opts.Tools,
		CompletionConfig: cfg,
	}

	var final message.Message
	if !cfg.Stream {
		resp, err := a.llm.Complete(ctx, req)
		if err != nil {
			return message.Message{}, fmt.Errorf("agent: completion: %w", err)
		}
		final = resp
		if err := t.AppendContext(final); err != nil {
			return message.Message{}, fmt.Errorf("agent: think append: %w", err)
		}
		if err := a.runHooksWithInterfere(ctx, a.hooks.PostThink, HookArgs{Queue: q, Task: t, StreamQueue: nil}); err != nil {
			return message.Message{}, fmt.Errorf("agent: post_think hooks: %w", err)
		}
		return final, nil
	}

	// The internal stream queue is unbounded: the model adapter's Put calls
	// never block on it, so the drainer hook and the completion call below
	// can run concurrently without risk of deadlock even if no post_think
	// hook is registered to relay chunks onward.
	internal := queue.New[message.Message](0)
	drainErr := make(chan error, 1)
	go func() {
		// post_think hooks receive the raw stream queue and are
		// responsible for draining it — reading until model.StreamDone or
		// closure — and relaying chunks onward to q themselves.
		err := a.runHooksWithInterfere(ctx, a.hooks.PostThink, HookArgs{Queue: q, Task: t, StreamQueue: internal})
		drainErr <- err
	}()

	resp, err := a.llm.Stream(ctx, req, internal)
	if err != nil {
		internal.Close()
		<-drainErr
		return message.Message{}, fmt.Errorf("agent: stream completion: %w", err)
	}
	if err := <-drainErr; err != nil {
		return message.Message{}, fmt.Errorf("agent: stream drain: %w", err)
	}
	internal.Close()

	final = resp
	if err := t.AppendContext(final); err != nil {
		return message.Message{}, fmt.Errorf("agent: think append: %w", err)
	}
	return final, nil
}

// Act resolves toolCall against the workflow's static registry first, then
// the agent's tool-service fallback, invokes it, converts the result into a
// TOOL-role message, appends it to the task, and runs pre/post hooks.
func (a *Agent[Stage, StageEvent]) Act(
	ctx context.Context,
	q *queue.Queue[message.Message],
	wf *workflow.Machine[Stage, StageEvent],
	toolCall message.ToolCallRequest,
	t task.Handle,
) (message.Message, error) {
	args := HookArgs{Queue: q, Task: t, ToolCall: &toolCall}
	if err := a.runHooksWithInterfere(ctx, a.hooks.PreAct, args); err != nil {
		return message.Message{}, fmt.Errorf("agent: pre_act hooks: %w", err)
	}

	result, err := a.resolveAndCall(ctx, wf, toolCall, t)
	var toolMsg message.Message
	if err != nil {
		t.SetError(err.Error())
		toolMsg = message.Message{
			Role:       message.RoleTool,
			ToolCallID: toolCall.ID,
			IsError:    true,
			Content:    []message.Block{message.TextBlock{Text: err.Error()}},
		}
	} else {
		toolMsg = message.Message{
			Role:       message.RoleTool,
			ToolCallID: toolCall.ID,
			IsError:    result.IsError,
			Content:    result.Content,
			Metadata:   result.StructuredOutput,
		}
	}

	if appendErr := t.AppendContext(toolMsg); appendErr != nil {
		return message.Message{}, fmt.Errorf("agent: act append: %w", appendErr)
	}

	if hookErr := a.runHooksWithInterfere(ctx, a.hooks.PostAct, args); hookErr != nil {
		return message.Message{}, fmt.Errorf("agent: post_act hooks: %w", hookErr)
	}

	return toolMsg, err
}

func (a *Agent[Stage, StageEvent]) resolveAndCall(
	ctx context.Context,
	wf *workflow.Machine[Stage, StageEvent],
	toolCall message.ToolCallRequest,
	t task.Handle,
) (workflow.ToolResult, error) {
	if wf != nil {
		if binding, ok := wf.GetTool(toolCall.Name); ok {
			tags := t.GetTags()
			for required := range binding.RequiredTags {
				if _, ok := tags[required]; !ok {
					return workflow.ToolResult{}, fmt.Errorf("%w: tool %s requires tag %s", ErrToolTagMismatch, toolCall.Name, required)
				}
			}
			inject := map[string]any{"task": t, "workflow": wf}
			return wf.CallTool(ctx, toolCall.Name, t, inject, toolCall.Arguments)
		}
	}
	if a.toolService != nil {
		return a.toolService.CallTool(ctx, toolCall.Name, toolCall.Arguments)
	}
	return workflow.ToolResult{}, fmt.Errorf("%w: %s", ErrToolNotFound, toolCall.Name)
}
