package scheduler

import (
	"context"
	"fmt"

	"github.com/Koko12137/tasking-community-sub000/pkg/agent"
	"github.com/Koko12137/tasking-community-sub000/pkg/fsm"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/telemetry"
	"github.com/Koko12137/tasking-community-sub000/pkg/tree"
)

// TreeState is the default outer state set for a tree task node.
type TreeState string

// Default tree-task states.
const (
	Created  TreeState = "CREATED"
	Running  TreeState = "RUNNING"
	Finished TreeState = "FINISHED"
	Canceled TreeState = "CANCELED"
)

// TreeEvent is the default outer event set driving a tree task node.
type TreeEvent string

// Default tree-task events.
const (
	EventInit   TreeEvent = "INIT"
	EventPlaned TreeEvent = "PLANED"
	EventDone   TreeEvent = "DONE"
	EventCancel TreeEvent = "CANCEL"
)

// TreeTransitions is the task-level FSM transition table backing the
// default tree-task outer state machine, for use with tree.New.
func TreeTransitions() map[fsm.Key[TreeState, TreeEvent]]fsm.Transition[TreeState, TreeEvent] {
	return map[fsm.Key[TreeState, TreeEvent]]fsm.Transition[TreeState, TreeEvent]{
		fsm.NewTransitionKey(Created, EventPlaned): {To: Running},
		fsm.NewTransitionKey(Running, EventDone):   {To: Finished},
		fsm.NewTransitionKey(Running, EventPlaned): {To: Running},
		fsm.NewTransitionKey(Running, EventCancel): {To: Canceled},
		fsm.NewTransitionKey(Running, EventInit):   {To: Created},
	}
}

// TreeBindingsConfig configures the default tree-task scheduling policy.
type TreeBindingsConfig struct {
	// Orchestrator, if non-nil, runs against a node on CREATED to populate
	// its sub-tasks before the first RUNNING pass.
	Orchestrator agent.Runner
	// Executor runs the actual work during each RUNNING pass.
	Executor agent.Runner
	Logger   telemetry.Logger
}

// DefaultTreeBindings returns the on_state_fn/on_state_changed_fn maps
// implementing the default tree-task policy: the orchestrator populates
// sub-tasks on CREATED; RUNNING recursively schedules sub-tasks in order,
// resetting and re-planning the parent if any sub-task was canceled,
// otherwise running the executor and returning DONE, PLANED (retry), or
// CANCEL depending on error state and the RUNNING visit bound. The
// returned maps require t to be a *tree.Node[TreeState, TreeEvent] at
// runtime; Schedule's caller must use this concrete type with these
// bindings.
func DefaultTreeBindings(cfg TreeBindingsConfig) (
	map[TreeState]OnStateFn[TreeState, TreeEvent],
	map[Edge[TreeState]]OnStateChangedFn[TreeState, TreeEvent],
) {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewSlogLogger(nil)
	}

	onState := map[TreeState]OnStateFn[TreeState, TreeEvent]{
		Created: func(ctx context.Context, sched *Scheduler[TreeState, TreeEvent], q *queue.Queue[message.Message], t Task[TreeState, TreeEvent]) (TreeEvent, error) {
			if cfg.Orchestrator != nil {
				if _, err := cfg.Orchestrator.RunTaskStream(ctx, q, t); err != nil {
					return "", fmt.Errorf("scheduler: orchestrator run: %w", err)
				}
			}
			return EventPlaned, nil
		},
		Running: func(ctx context.Context, sched *Scheduler[TreeState, TreeEvent], q *queue.Queue[message.Message], t Task[TreeState, TreeEvent]) (TreeEvent, error) {
			node, ok := t.(*tree.Node[TreeState, TreeEvent])
			if !ok {
				return "", fmt.Errorf("scheduler: default tree bindings require a *tree.Node[TreeState, TreeEvent]")
			}

			anyCanceled := false
			for _, sub := range node.SubTasks() {
				if err := sched.Schedule(ctx, q, sub); err != nil {
					return "", fmt.Errorf("scheduler: sub-task schedule: %w", err)
				}
				if sub.GetCurrentState() == Canceled {
					anyCanceled = true
				}
			}
			if anyCanceled {
				return EventInit, nil
			}

			if cfg.Executor != nil {
				if _, err := cfg.Executor.RunTaskStream(ctx, q, t); err != nil {
					return "", fmt.Errorf("scheduler: executor run: %w", err)
				}
			}

			if t.IsError() {
				if t.GetStateVisitCount(Running) >= sched.maxRevisitCount {
					return EventCancel, nil
				}
				return EventPlaned, nil
			}
			return EventDone, nil
		},
	}

	onChanged := map[Edge[TreeState]]OnStateChangedFn[TreeState, TreeEvent]{
		{From: Running, To: Running}: func(ctx context.Context, sched *Scheduler[TreeState, TreeEvent], q *queue.Queue[message.Message], t Task[TreeState, TreeEvent]) error {
			errMsg := message.Message{
				Role:    message.RoleSystem,
				Content: []message.Block{message.TextBlock{Text: t.GetErrorInfo()}},
			}
			if q != nil {
				_ = q.PutNoWait(errMsg)
			}
			if err := t.AppendContext(errMsg); err != nil {
				return fmt.Errorf("scheduler: append retry notice: %w", err)
			}
			t.CleanErrorInfo()
			return nil
		},
		{From: Running, To: Created}: func(ctx context.Context, sched *Scheduler[TreeState, TreeEvent], q *queue.Queue[message.Message], t Task[TreeState, TreeEvent]) error {
			node, ok := t.(*tree.Node[TreeState, TreeEvent])
			if !ok {
				return fmt.Errorf("scheduler: default tree bindings require a *tree.Node[TreeState, TreeEvent]")
			}
			canceledCount := 0
			for _, sub := range node.SubTasks() {
				switch sub.GetCurrentState() {
				case Finished, Canceled:
					continue
				}
				if err := sub.HandleEvent(ctx, EventCancel); err != nil {
					return fmt.Errorf("scheduler: cancel sub-task: %w", err)
				}
				canceledCount++
			}
			summary := message.Message{
				Role: message.RoleSystem,
				Content: []message.Block{message.TextBlock{
					Text: fmt.Sprintf("canceled %d sub-task(s) before re-planning", canceledCount),
				}},
			}
			if err := t.AppendContext(summary); err != nil {
				return fmt.Errorf("scheduler: append cancellation summary: %w", err)
			}
			t.Reset()
			t.CleanErrorInfo()
			return nil
		},
		{From: Running, To: Finished}: func(ctx context.Context, sched *Scheduler[TreeState, TreeEvent], q *queue.Queue[message.Message], t Task[TreeState, TreeEvent]) error {
			logger.Info(ctx, "tree task finished", "task_id", t.GetUID())
			return nil
		},
		{From: Running, To: Canceled}: func(ctx context.Context, sched *Scheduler[TreeState, TreeEvent], q *queue.Queue[message.Message], t Task[TreeState, TreeEvent]) error {
			logger.Warn(ctx, "tree task canceled", "task_id", t.GetUID())
			return nil
		},
	}

	return onState, onChanged
}
