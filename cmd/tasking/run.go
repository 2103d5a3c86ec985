package main

import (
	"context"
	"fmt"

	"github.com/Koko12137/tasking-community-sub000/internal/config"
	"github.com/Koko12137/tasking-community-sub000/internal/durable"
	"github.com/Koko12137/tasking-community-sub000/internal/orchestrate"
	"github.com/Koko12137/tasking-community-sub000/pkg/agent"
	"github.com/Koko12137/tasking-community-sub000/pkg/bus"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/scheduler"
	"github.com/Koko12137/tasking-community-sub000/pkg/telemetry"
	"github.com/Koko12137/tasking-community-sub000/pkg/tree"
)

// taskType is the single registered tree-task type this CLI builds: every
// node, root or sub-task, is decomposed and executed the same way.
const taskType = "task"

// maxTreeDepth bounds how many orchestration levels a run may decompose
// into before create_sub_tasks starts failing with tree.ErrDepthExceeded.
const maxTreeDepth = 6

// buildTaskFactories returns the create_sub_tasks registry BuildOrchestrator
// needs: the only registered type builds a fresh, unscheduled tree node of
// the same shape as the root.
func buildTaskFactories() map[string]orchestrate.TaskFactory {
	return map[string]orchestrate.TaskFactory{
		taskType: func(title string, input []message.Block) (*tree.Node[scheduler.TreeState, scheduler.TreeEvent], error) {
			node, err := tree.New[scheduler.TreeState, scheduler.TreeEvent](
				[]scheduler.TreeState{scheduler.Created, scheduler.Running, scheduler.Finished, scheduler.Canceled},
				scheduler.Created,
				scheduler.TreeTransitions(),
				taskType,
				nil,
				nil,
				maxTreeDepth,
			)
			if err != nil {
				return nil, err
			}
			node.SetTitle(title)
			node.SetInput(input)
			return node, nil
		},
	}
}

// runTask builds the orchestrator/executor agents and tree-task scheduler
// from s, runs one root task titled title with the given input text to
// completion (through Temporal if s.TemporalHostPort is set, in-process
// otherwise), and returns its final output text. A canceled run (exhausted
// retries) is reported as an error.
func runTask(ctx context.Context, s config.Settings, title, input string) (string, error) {
	llm, err := buildModelClient(ctx, s)
	if err != nil {
		return "", err
	}
	logger := telemetry.NewSlogLogger(nil)

	recorder, err := buildRunRecorder(s)
	if err != nil {
		return "", err
	}
	defer recorder.Close()

	toolEvents := bus.New[orchestrate.ToolEvent]()
	defer toolEvents.Close()
	toolEvents.Register(bus.SubscriberFunc[orchestrate.ToolEvent](func(ctx context.Context, event orchestrate.ToolEvent) error {
		if event.IsError {
			logger.Error(ctx, "tool call failed", "task", event.TaskUID, "tool", event.Tool, "error", event.Err)
		} else {
			logger.Info(ctx, "tool call succeeded", "task", event.TaskUID, "tool", event.Tool)
		}
		return nil
	}))

	orchestratorHooks := agent.Hooks{}
	if h, ok, err := buildEpisodicHooks(s, llm, "orchestrator"); err != nil {
		return "", err
	} else if ok {
		orchestratorHooks.PreRunOnce = append(orchestratorHooks.PreRunOnce, h.PreRunOnce())
		orchestratorHooks.PostRunOnce = append(orchestratorHooks.PostRunOnce, h.PostRunOnce())
	}
	executorHooks := agent.Hooks{}
	if h, ok, err := buildEpisodicHooks(s, llm, "executor"); err != nil {
		return "", err
	} else if ok {
		executorHooks.PreRunOnce = append(executorHooks.PreRunOnce, h.PreRunOnce())
		executorHooks.PostRunOnce = append(executorHooks.PostRunOnce, h.PostRunOnce())
	}

	orchestrator := orchestrate.BuildOrchestrator(orchestrate.BuildOrchestratorConfig{
		Name:                       "orchestrator",
		LLM:                        llm,
		TaskFactories:              buildTaskFactories(),
		MaxTokens:                  s.ModelMaxTokens,
		Hooks:                      orchestratorHooks,
		MaxHumanInterfereReentries: s.MaxHumanInterfereReentries,
		Logger:                     logger,
		Events:                     toolEvents,
	})
	executor := orchestrate.BuildExecutor(orchestrate.BuildExecutorConfig{
		Name:                       "executor",
		LLM:                        llm,
		MaxTokens:                  s.ModelMaxTokens,
		Hooks:                      executorHooks,
		MaxHumanInterfereReentries: s.MaxHumanInterfereReentries,
		Logger:                     logger,
		Events:                     toolEvents,
	})

	onState, onChanged := scheduler.DefaultTreeBindings(scheduler.TreeBindingsConfig{
		Orchestrator: orchestrator,
		Executor:     executor,
		Logger:       logger,
	})
	sched := scheduler.New(scheduler.Config[scheduler.TreeState, scheduler.TreeEvent]{
		EndStates:        []scheduler.TreeState{scheduler.Finished, scheduler.Canceled},
		OnStateFn:        onState,
		OnStateChangedFn: onChanged,
		MaxRevisitCount:  s.DefaultMaxRevisitCount,
	})
	if err := sched.Compile(); err != nil {
		return "", fmt.Errorf("tasking: compile scheduler: %w", err)
	}

	root, err := tree.New[scheduler.TreeState, scheduler.TreeEvent](
		[]scheduler.TreeState{scheduler.Created, scheduler.Running, scheduler.Finished, scheduler.Canceled},
		scheduler.Created,
		scheduler.TreeTransitions(),
		taskType,
		nil,
		nil,
		maxTreeDepth,
	)
	if err != nil {
		return "", fmt.Errorf("tasking: build root task: %w", err)
	}
	root.SetTitle(title)
	root.SetInput([]message.Block{message.TextBlock{Text: input}})

	if err := recorder.RecordStart(ctx, root.GetUID(), title); err != nil {
		return "", err
	}

	if s.TemporalHostPort != "" {
		if err := runDurable(ctx, s, sched, root); err != nil {
			return "", err
		}
	} else {
		q := queue.New[message.Message](0)
		if err := sched.Schedule(ctx, q, root); err != nil {
			return "", fmt.Errorf("tasking: schedule: %w", err)
		}
	}

	output := message.Message{Content: root.GetOutput()}.Text()
	if err := recorder.RecordFinish(ctx, root.GetUID(), string(root.GetCurrentState()), output); err != nil {
		return "", err
	}

	if root.GetCurrentState() == scheduler.Canceled {
		return "", fmt.Errorf("tasking: run canceled: %s", root.GetErrorInfo())
	}
	return output, nil
}

// runDurable routes root's schedule through a Temporal workflow instead of
// running it directly in-process.
func runDurable(ctx context.Context, s config.Settings, sched *scheduler.Scheduler[scheduler.TreeState, scheduler.TreeEvent], root *tree.Node[scheduler.TreeState, scheduler.TreeEvent]) error {
	runner, err := durable.NewRunner(sched, durable.RunnerOptions{
		ClientOptions: temporalClientOptions(s),
		TaskQueue:     s.TemporalTaskQueue,
	})
	if err != nil {
		return fmt.Errorf("tasking: build durable runner: %w", err)
	}
	defer runner.Close()

	w := runner.NewWorker()
	if err := w.Start(); err != nil {
		return fmt.Errorf("tasking: start temporal worker: %w", err)
	}
	defer w.Stop()

	run, err := runner.RunTree(ctx, root.GetUID(), root)
	if err != nil {
		return err
	}
	var finalState string
	if err := run.Get(ctx, &finalState); err != nil {
		return fmt.Errorf("tasking: durable schedule: %w", err)
	}
	return nil
}
