package orchestrate

import (
	"context"
	"encoding/json"
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

// OrchestrateStage is the orchestrator workflow's stage set: it reasons
// about how to split a task, then emits the sub-tasks it decided on.
type OrchestrateStage string

const (
	StageThinking      OrchestrateStage = "THINKING"
	StageOrchestrating OrchestrateStage = "ORCHESTRATING"
	StageOrchFinished  OrchestrateStage = "FINISHED"
)

// OrchestrateEvent drives transitions between OrchestrateStage values.
type OrchestrateEvent string

const (
	EventThink       OrchestrateEvent = "THINK"
	EventOrchestrate OrchestrateEvent = "ORCHESTRATE"
	EventOrchFinish  OrchestrateEvent = "FINISH"
)

const thinkingPrompt = "Decide how to split this task. If it can be completed directly without " +
	"any sub-tasks, respond with exactly <orchestration>skip</orchestration>. Otherwise describe " +
	"your decomposition inside an <orchestration>...</orchestration> block."

const orchestratingPrompt = "Emit the sub-tasks for this decomposition by calling create_sub_tasks " +
	"with a JSON array of {title, type, input} objects; do not call any other tool."

func orchestrateTransitions() map[fsm.Key[OrchestrateStage, OrchestrateEvent]]fsm.Transition[OrchestrateStage, OrchestrateEvent] {
	return map[fsm.Key[OrchestrateStage, OrchestrateEvent]]fsm.Transition[OrchestrateStage, OrchestrateEvent]{
		{From: StageThinking, Evt: EventThink}:          {To: StageThinking},
		{From: StageThinking, Evt: EventOrchestrate}:    {To: StageOrchestrating},
		// A THINKING round that finds no decomposition needed (or fails to
		// produce one) ends the workflow directly rather than forcing an
		// empty create_sub_tasks call.
		{From: StageThinking, Evt: EventOrchFinish}:      {To: StageOrchFinished},
		{From: StageOrchestrating, Evt: EventThink}:      {To: StageThinking},
		{From: StageOrchestrating, Evt: EventOrchFinish}: {To: StageOrchFinished},
	}
}

// thinkingAction observes the task, asks the model whether and how to
// split it, and either records an error (empty decomposition) or proceeds
// to ORCHESTRATING to actually emit the sub-tasks.
func thinkingAction(ag *agent.Agent[OrchestrateStage, OrchestrateEvent]) workflow.ActionFunc[OrchestrateStage, OrchestrateEvent] {
	return func(ctx context.Context, wf *workflow.Machine[OrchestrateStage, OrchestrateEvent], q *queue.Queue[message.Message], t task.Handle) (OrchestrateEvent, error) {
		if err := appendPrompt(t, wf.GetPrompt()); err != nil {
			return "", fmt.Errorf("orchestrate: append prompt: %w", err)
		}
		if err := observeStage(ctx, ag, q, t, wf); err != nil {
			return "", err
		}
		// Any error from a prior round has now been rendered into the
		// observed view; clear it so a successful round doesn't leave the
		// task permanently marked as errored.
		t.CleanErrorInfo()

		reply, err := ag.Think(ctx, q, t, agent.ThinkOptions{CompletionConfig: wf.GetCompletionConfig()})
		if err != nil {
			return "", fmt.Errorf("orchestrate: think: %w", err)
		}

		decomposition := extractByLabel(reply.Text(), "orchestration", "orchestrate")
		if decomposition == "" {
			t.SetError("orchestration output did not include an <orchestration> block")
			return EventOrchFinish, nil
		}
		if strings.EqualFold(decomposition, "skip") {
			return EventOrchFinish, nil
		}
		return EventOrchestrate, nil
	}
}

// orchestratingAction asks the model to emit sub-tasks as JSON, wraps its
// raw text in a well-formed envelope, and dispatches it to create_sub_tasks.
// A failed call sends the workflow back to THINKING with the error recorded
// so the next round can recover; success finishes the workflow.
func orchestratingAction(ag *agent.Agent[OrchestrateStage, OrchestrateEvent], events bus.Bus[ToolEvent]) workflow.ActionFunc[OrchestrateStage, OrchestrateEvent] {
	return func(ctx context.Context, wf *workflow.Machine[OrchestrateStage, OrchestrateEvent], q *queue.Queue[message.Message], t task.Handle) (OrchestrateEvent, error) {
		cfg := wf.GetCompletionConfig().Clone()
		cfg.FormatJSON = true

		if err := appendPrompt(t, wf.GetPrompt()); err != nil {
			return "", fmt.Errorf("orchestrate: append prompt: %w", err)
		}
		if err := observeStage(ctx, ag, q, t, wf); err != nil {
			return "", err
		}

		reply, err := ag.Think(ctx, q, t, agent.ThinkOptions{CompletionConfig: cfg})
		if err != nil {
			return "", fmt.Errorf("orchestrate: think: %w", err)
		}

		payload, err := json.Marshal(createSubTasksArgs{SubTasks: reply.Text()})
		if err != nil {
			return "", fmt.Errorf("orchestrate: encode create_sub_tasks envelope: %w", err)
		}
		call := message.ToolCallRequest{
			ID:        "orchestrate-create-sub-tasks",
			Name:      "create_sub_tasks",
			Arguments: payload,
		}

		if msg := runToolCalls(ctx, ag, q, wf, t, []message.ToolCallRequest{call}, events); msg != "" {
			return EventThink, nil
		}
		return EventOrchFinish, nil
	}
}

// BuildOrchestratorConfig supplies BuildOrchestrator's dependencies.
type BuildOrchestratorConfig struct {
	Name                       string
	LLM                        model.Client
	ToolService                toolservice.Service
	TaskFactories              map[string]TaskFactory
	MaxTokens                  int
	Hooks                      agent.Hooks
	MaxHumanInterfereReentries int
	Logger                     telemetry.Logger
	// Events, if non-nil, receives a ToolEvent after every create_sub_tasks
	// call this orchestrator makes.
	Events bus.Bus[ToolEvent]
}

// BuildOrchestrator constructs the orchestrator agent: a THINKING ->
// ORCHESTRATING -> FINISHED workflow that decomposes a tree task into
// sub-tasks via create_sub_tasks. The returned agent satisfies
// agent.Runner and is meant to be wired in as
// scheduler.TreeBindingsConfig.Orchestrator.
func BuildOrchestrator(cfg BuildOrchestratorConfig) *agent.Agent[OrchestrateStage, OrchestrateEvent] {
	createTool := createSubTasksTool(cfg.TaskFactories)

	// ag is forward-declared so the workflow factory closure (built from
	// thinkingAction/orchestratingAction, which both need a live *Agent to
	// call Observe/Think/Act on) can reference it; factory is only invoked
	// once RunTaskStream runs it, by which point ag is assigned below.
	var ag *agent.Agent[OrchestrateStage, OrchestrateEvent]

	factory := func() *workflow.Machine[OrchestrateStage, OrchestrateEvent] {
		completionConfigs := map[OrchestrateStage]*message.CompletionConfig{
			StageThinking:      message.NewCompletionConfig(message.WithMaxTokens(cfg.MaxTokens)),
			StageOrchestrating: message.NewCompletionConfig(message.WithMaxTokens(cfg.MaxTokens), message.WithFormatJSON(true)),
		}
		m, err := workflow.New(workflow.Config[OrchestrateStage, OrchestrateEvent]{
			Name:        "orchestrate",
			ValidStates: []OrchestrateStage{StageThinking, StageOrchestrating, StageOrchFinished},
			InitState:   StageThinking,
			Transitions: orchestrateTransitions(),
			Prompts: map[OrchestrateStage]string{
				StageThinking:      thinkingPrompt,
				StageOrchestrating: orchestratingPrompt,
			},
			ObserveFuncs: map[OrchestrateStage]workflow.ObserveFunc{
				StageThinking:      observeTaskView,
				StageOrchestrating: observeTaskView,
			},
			Actions: map[OrchestrateStage]workflow.ActionFunc[OrchestrateStage, OrchestrateEvent]{
				StageThinking:      thinkingAction(ag),
				StageOrchestrating: orchestratingAction(ag, cfg.Events),
			},
			CompletionConfigs: completionConfigs,
			EventChain:        []OrchestrateEvent{EventThink, EventOrchestrate, EventOrchFinish},
			Tools: map[string]workflow.ToolBinding{
				"create_sub_tasks": createTool,
			},
		})
		if err != nil {
			// The transition table and event chain above are fixed at
			// compile time; a construction error here means a programming
			// mistake in this package, not a runtime condition callers
			// could recover from.
			panic(fmt.Sprintf("orchestrate: build workflow: %v", err))
		}
		return m
	}

	ag = agent.New(agent.Config[OrchestrateStage, OrchestrateEvent]{
		Name:                       cfg.Name,
		Type:                       "orchestrator",
		WorkflowFactory:            factory,
		LLM:                        cfg.LLM,
		ToolService:                cfg.ToolService,
		Hooks:                      cfg.Hooks,
		MaxHumanInterfereReentries: cfg.MaxHumanInterfereReentries,
		Logger:                     cfg.Logger,
	})
	return ag
}
