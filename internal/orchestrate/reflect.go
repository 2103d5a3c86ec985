package orchestrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/Koko12137/tasking-community-sub000/pkg/agent"
	"github.com/Koko12137/tasking-community-sub000/pkg/bus"
	"github.com/Koko12137/tasking-community-sub000/pkg/fsm"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/task"
	"github.com/Koko12137/tasking-community-sub000/pkg/telemetry"
	"github.com/Koko12137/tasking-community-sub000/pkg/toolservice"
	"github.com/Koko12137/tasking-community-sub000/pkg/workflow"
)

// ReflectStage is the executor workflow's stage set: it reasons and acts via
// tool calls, then reflects on whether the task is actually done.
type ReflectStage string

const (
	StageReasoning  ReflectStage = "REASONING"
	StageReflecting ReflectStage = "REFLECTING"
	StageReflFinished ReflectStage = "FINISHED"
)

// ReflectEvent drives transitions between ReflectStage values.
type ReflectEvent string

const (
	EventReason  ReflectEvent = "REASON"
	EventReflect ReflectEvent = "REFLECT"
	EventReflFinish ReflectEvent = "FINISH"
)

const reasoningPrompt = "Work the task using the available tools. Call whichever tools you need; " +
	"when you believe the task is done, stop calling tools."

const reflectingPrompt = "Review what was done. If the task is genuinely complete, call end_workflow " +
	"with the final output, or respond with <finish>true</finish>. Otherwise explain what remains " +
	"and the work will continue."

func reflectTransitions() map[fsm.Key[ReflectStage, ReflectEvent]]fsm.Transition[ReflectStage, ReflectEvent] {
	return map[fsm.Key[ReflectStage, ReflectEvent]]fsm.Transition[ReflectStage, ReflectEvent]{
		{From: StageReasoning, Evt: EventReason}:  {To: StageReasoning},
		{From: StageReasoning, Evt: EventReflect}: {To: StageReflecting},
		// A tool failure during REASONING ends the run directly rather
		// than looping; see reasoningAction's doc comment.
		{From: StageReasoning, Evt: EventReflFinish}:  {To: StageReflFinished},
		{From: StageReflecting, Evt: EventReason}:     {To: StageReasoning},
		{From: StageReflecting, Evt: EventReflFinish}: {To: StageReflFinished},
	}
}

// reasoningAction observes, thinks with the full set of available tools
// offered, and runs any tool calls the model made. A tool failure ends the
// run immediately with the error recorded, mirroring the asymmetry against
// reflectingAction below: reasoning does not retry tool failures itself, it
// surfaces them and lets the outer tree scheduler decide whether to retry
// the whole run. Anything else proceeds to REFLECTING.
func reasoningAction(ag *agent.Agent[ReflectStage, ReflectEvent], events bus.Bus[ToolEvent]) workflow.ActionFunc[ReflectStage, ReflectEvent] {
	return func(ctx context.Context, wf *workflow.Machine[ReflectStage, ReflectEvent], q *queue.Queue[message.Message], t task.Handle) (ReflectEvent, error) {
		cfg := wf.GetCompletionConfig().Clone()
		cfg.StopWords = append(cfg.StopWords, "</finish>", "</finish_flag>", "</end_flag>")

		if err := appendPrompt(t, wf.GetPrompt()); err != nil {
			return "", fmt.Errorf("orchestrate: append prompt: %w", err)
		}
		if err := observeStage(ctx, ag, q, t, wf); err != nil {
			return "", err
		}
		// See thinkingAction in orchestrate.go: the previous error has now
		// been rendered into the observed view, so clear it before this
		// round's own outcome is decided.
		t.CleanErrorInfo()

		tools, err := availableTools(ctx, ag.ToolService(), wf, t)
		if err != nil {
			return "", err
		}
		reply, err := ag.Think(ctx, q, t, agent.ThinkOptions{Tools: tools, CompletionConfig: cfg})
		if err != nil {
			return "", fmt.Errorf("orchestrate: think: %w", err)
		}

		if reply.StopReason == message.StopReasonToolCall {
			if msg := runToolCalls(ctx, ag, q, wf, t, reply.ToolCalls, events); msg != "" {
				return EventReflFinish, nil
			}
		}
		return EventReflect, nil
	}
}

// reflectingAction reviews the reasoning round's work. A tool failure here
// loops back to REASONING instead of ending the run, giving the executor a
// chance to recover within the same workflow instance. Success finishes the
// workflow, recording the model's last message as the output unless a tool
// call (e.g. end_workflow) or the finish label already did so.
func reflectingAction(ag *agent.Agent[ReflectStage, ReflectEvent], events bus.Bus[ToolEvent]) workflow.ActionFunc[ReflectStage, ReflectEvent] {
	return func(ctx context.Context, wf *workflow.Machine[ReflectStage, ReflectEvent], q *queue.Queue[message.Message], t task.Handle) (ReflectEvent, error) {
		cfg := wf.GetCompletionConfig().Clone()
		cfg.StopWords = append(cfg.StopWords, "</finish>", "</finish_flag>")

		if err := appendPrompt(t, wf.GetPrompt()); err != nil {
			return "", fmt.Errorf("orchestrate: append prompt: %w", err)
		}
		if err := observeStage(ctx, ag, q, t, wf); err != nil {
			return "", err
		}

		tools, err := availableTools(ctx, ag.ToolService(), wf, t)
		if err != nil {
			return "", err
		}
		reply, err := ag.Think(ctx, q, t, agent.ThinkOptions{Tools: tools, CompletionConfig: cfg})
		if err != nil {
			return "", fmt.Errorf("orchestrate: think: %w", err)
		}

		calledTool := false
		if reply.StopReason == message.StopReasonToolCall {
			calledTool = true
			runToolCalls(ctx, ag, q, wf, t, reply.ToolCalls, events)
		} else if finish := extractByLabel(reply.Text(), "finish", "finish_flag"); strings.EqualFold(finish, "true") {
			t.SetCompleted(reply.Content)
		}

		if t.IsError() {
			return EventReason, nil
		}
		if !calledTool && !t.IsCompleted() {
			t.SetCompleted(reply.Content)
		}
		return EventReflFinish, nil
	}
}

// BuildExecutorConfig supplies BuildExecutor's dependencies.
type BuildExecutorConfig struct {
	Name                       string
	LLM                        model.Client
	ToolService                toolservice.Service
	MaxTokens                  int
	Hooks                      agent.Hooks
	MaxHumanInterfereReentries int
	Logger                     telemetry.Logger
	// Events, if non-nil, receives a ToolEvent after every tool call this
	// executor makes, in both REASONING and REFLECTING.
	Events bus.Bus[ToolEvent]
}

// BuildExecutor constructs the reflection agent: a REASONING <->
// REFLECTING -> FINISHED workflow that drives a leaf task to completion via
// tool calls, ending when REFLECTING judges the work done. The returned
// agent satisfies agent.Runner and is meant to be wired in as
// scheduler.TreeBindingsConfig.Executor.
func BuildExecutor(cfg BuildExecutorConfig) *agent.Agent[ReflectStage, ReflectEvent] {
	endTool := endWorkflowTool()

	// See BuildOrchestrator for why ag must be forward-declared: the action
	// closures below need a live *Agent to call Observe/Think/Act on, but
	// the factory that builds them is itself one of ag's construction
	// arguments.
	var ag *agent.Agent[ReflectStage, ReflectEvent]

	factory := func() *workflow.Machine[ReflectStage, ReflectEvent] {
		completionConfigs := map[ReflectStage]*message.CompletionConfig{
			StageReasoning:  message.NewCompletionConfig(message.WithMaxTokens(cfg.MaxTokens)),
			StageReflecting: message.NewCompletionConfig(message.WithMaxTokens(cfg.MaxTokens)),
		}
		m, err := workflow.New(workflow.Config[ReflectStage, ReflectEvent]{
			Name:        "reflect",
			ValidStates: []ReflectStage{StageReasoning, StageReflecting, StageReflFinished},
			InitState:   StageReasoning,
			Transitions: reflectTransitions(),
			Prompts: map[ReflectStage]string{
				StageReasoning:  reasoningPrompt,
				StageReflecting: reflectingPrompt,
			},
			ObserveFuncs: map[ReflectStage]workflow.ObserveFunc{
				StageReasoning:  observeTaskView,
				StageReflecting: observeTaskView,
			},
			Actions: map[ReflectStage]workflow.ActionFunc[ReflectStage, ReflectEvent]{
				StageReasoning:  reasoningAction(ag, cfg.Events),
				StageReflecting: reflectingAction(ag, cfg.Events),
			},
			CompletionConfigs: completionConfigs,
			EventChain:        []ReflectEvent{EventReason, EventReflect, EventReflFinish},
			Tools: map[string]workflow.ToolBinding{
				"end_workflow": endTool,
			},
		})
		if err != nil {
			panic(fmt.Sprintf("orchestrate: build workflow: %v", err))
		}
		return m
	}

	ag = agent.New(agent.Config[ReflectStage, ReflectEvent]{
		Name:                       cfg.Name,
		Type:                       "executor",
		WorkflowFactory:            factory,
		LLM:                        cfg.LLM,
		ToolService:                cfg.ToolService,
		Hooks:                      cfg.Hooks,
		MaxHumanInterfereReentries: cfg.MaxHumanInterfereReentries,
		Logger:                     cfg.Logger,
	})
	return ag
}
