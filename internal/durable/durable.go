// Package durable adapts a *scheduler.Scheduler tree schedule onto Temporal,
// running each tree execution as a Temporal workflow. It is strictly
// additive: scheduler.Schedule keeps working standalone, in-process, with no
// Temporal dependency at all; Runner is an optional wrapper callers reach
// for when they want that schedule to be durable.
//
// tree.Node and task.Task hold live, unexported state (completion config,
// hooks, context) that cannot round-trip through Temporal's data converter,
// so Runner does not serialize nodes across the workflow/activity boundary.
// Instead it tracks in-flight nodes in a process-local registry keyed by
// task UID, and passes only that UID as the Temporal-visible argument. This
// only works when the activity executes in the same worker process, and the
// same process lifetime, that registered the node. After a restart, or on a
// different worker, the registry holds no node for the UID and the activity
// fails; Temporal keeps the workflow's history, but the tree run itself does
// not resume.
package durable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/scheduler"
	"github.com/Koko12137/tasking-community-sub000/pkg/telemetry"
	"github.com/Koko12137/tasking-community-sub000/pkg/tree"
)

// WorkflowName is the Temporal workflow type Runner registers and starts.
const WorkflowName = "ScheduleTree"

const activityName = "scheduleTreeNode"

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Client, if set, is used as-is; Runner does not take ownership of it
	// and will not close it. If nil, NewRunner dials one with ClientOptions,
	// which Runner does own and will close.
	Client        client.Client
	ClientOptions client.Options

	// TaskQueue is the Temporal task queue this Runner's worker polls and
	// its workflows execute on. Required.
	TaskQueue string

	// ActivityTimeout bounds a single tree schedule's wall-clock time; it
	// must cover however long the slowest tree this Runner schedules is
	// expected to take, since the whole schedule runs as one activity
	// attempt. Defaults to 24 hours.
	ActivityTimeout time.Duration

	Logger telemetry.Logger
}

// Runner drives tree schedules through a Temporal workflow. The nodes it
// schedules are tracked only in this process's memory, so an activity that
// runs after this process restarts finds no node and fails. It wraps one
// *scheduler.Scheduler[scheduler.TreeState, scheduler.TreeEvent] — the
// default tree-task outer FSM — since Temporal's worker registration needs
// concrete, named function signatures rather than generic ones.
type Runner struct {
	sched     *scheduler.Scheduler[scheduler.TreeState, scheduler.TreeEvent]
	client    client.Client
	ownClient bool
	taskQueue string
	actTimeout time.Duration
	logger    telemetry.Logger

	mu    sync.Mutex
	nodes map[string]*tree.Node[scheduler.TreeState, scheduler.TreeEvent]
}

// NewRunner constructs a Runner around an already-compiled sched.
func NewRunner(sched *scheduler.Scheduler[scheduler.TreeState, scheduler.TreeEvent], opts RunnerOptions) (*Runner, error) {
	if sched == nil {
		return nil, fmt.Errorf("durable: scheduler is required")
	}
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("durable: task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewSlogLogger(nil)
	}
	timeout := opts.ActivityTimeout
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}

	cli := opts.Client
	ownClient := false
	if cli == nil {
		var err error
		cli, err = client.Dial(opts.ClientOptions)
		if err != nil {
			return nil, fmt.Errorf("durable: dial temporal client: %w", err)
		}
		ownClient = true
	}

	return &Runner{
		sched:      sched,
		client:     cli,
		ownClient:  ownClient,
		taskQueue:  opts.TaskQueue,
		actTimeout: timeout,
		logger:     logger,
		nodes:      make(map[string]*tree.Node[scheduler.TreeState, scheduler.TreeEvent]),
	}, nil
}

// Close releases the Temporal client, if Runner dialed it itself.
func (r *Runner) Close() {
	if r.ownClient {
		r.client.Close()
	}
}

// NewWorker builds a Temporal worker polling r's task queue, with the
// schedule workflow and its backing activity registered. Callers start it
// with worker.Run or worker.Start themselves so they control process
// lifecycle (e.g. wiring it to the same signal handling as the rest of a
// command's startup).
func (r *Runner) NewWorker() worker.Worker {
	w := worker.New(r.client, r.taskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(r.scheduleTreeWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(r.scheduleTreeActivity, activity.RegisterOptions{Name: activityName})
	return w
}

// track registers node under its task UID so the activity can find it by
// that UID alone, and returns the UID.
func (r *Runner) track(node *tree.Node[scheduler.TreeState, scheduler.TreeEvent]) string {
	uid := node.GetUID()
	r.mu.Lock()
	r.nodes[uid] = node
	r.mu.Unlock()
	return uid
}

func (r *Runner) untrack(uid string) {
	r.mu.Lock()
	delete(r.nodes, uid)
	r.mu.Unlock()
}

func (r *Runner) lookup(uid string) (*tree.Node[scheduler.TreeState, scheduler.TreeEvent], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[uid]
	return node, ok
}

// RunTree starts a durable schedule of root on Temporal and returns the
// workflow run handle; callers use it to await completion (Get) or to
// reattach to an in-flight run after a restart (client.GetWorkflow with the
// same workflow ID).
func (r *Runner) RunTree(ctx context.Context, workflowID string, root *tree.Node[scheduler.TreeState, scheduler.TreeEvent]) (client.WorkflowRun, error) {
	uid := r.track(root)
	run, err := r.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: r.taskQueue,
	}, WorkflowName, uid)
	if err != nil {
		r.untrack(uid)
		return nil, fmt.Errorf("durable: start workflow: %w", err)
	}
	return run, nil
}

// scheduleTreeWorkflow is the Temporal workflow definition: it executes the
// schedule as a single activity attempt (the retry policy allows one attempt,
// so a failed activity is not retried) and returns the root node's final
// outer state.
func (r *Runner) scheduleTreeWorkflow(ctx workflow.Context, uid string) (string, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: r.actTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	actx := workflow.WithActivityOptions(ctx, ao)

	var finalState string
	err := workflow.ExecuteActivity(actx, activityName, uid).Get(actx, &finalState)
	return finalState, err
}

// scheduleTreeActivity looks up the node registered under uid and runs it
// to completion through the wrapped scheduler, exactly as
// scheduler.Schedule would in-process.
func (r *Runner) scheduleTreeActivity(ctx context.Context, uid string) (string, error) {
	node, ok := r.lookup(uid)
	if !ok {
		return "", fmt.Errorf("durable: no tracked node for uid %q (activity retried on a different worker process?)", uid)
	}
	defer r.untrack(uid)

	q := queue.New[message.Message](0)
	if err := r.sched.Schedule(ctx, q, node); err != nil {
		r.logger.Error(ctx, "durable: tree schedule failed", "uid", uid, "error", err)
		return string(node.GetCurrentState()), err
	}
	return string(node.GetCurrentState()), nil
}
