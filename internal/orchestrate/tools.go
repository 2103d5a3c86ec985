package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"

	"github.com/Koko12137/tasking-community-sub000/pkg/agent"
	"github.com/Koko12137/tasking-community-sub000/pkg/bus"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/scheduler"
	"github.com/Koko12137/tasking-community-sub000/pkg/task"
	"github.com/Koko12137/tasking-community-sub000/pkg/toolservice"
	"github.com/Koko12137/tasking-community-sub000/pkg/tree"
	"github.com/Koko12137/tasking-community-sub000/pkg/workflow"
)

// TaskFactory builds a fresh sub-task node for a given title and input,
// registered by the caller under the sub-task's task type. The orchestrator
// only knows type names as strings; it has no notion of what a "research"
// or "coding" task actually does.
type TaskFactory func(title string, input []message.Block) (*tree.Node[scheduler.TreeState, scheduler.TreeEvent], error)

// createSubTasksArgs is the well-formed envelope the ORCHESTRATING action
// wraps the model's raw (possibly malformed) JSON text in, so the tool call
// itself always decodes cleanly; repair happens one level down, on the
// embedded string.
type createSubTasksArgs struct {
	SubTasks string `json:"sub_tasks"`
}

// subTaskSpec describes one sub-task the model asked to create. Specs are
// decoded from a JSON array rather than an object keyed by title, because
// Go's encoding/json does not preserve object key order and the scheduler
// runs sub-tasks in the order they were attached.
type subTaskSpec struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	Input string `json:"input"`
}

const createSubTasksDescription = "Creates one or more sub-tasks and attaches them to the current task. " +
	"Call with an object whose \"sub_tasks\" field is a string holding a JSON array of objects, each shaped {\"title\": string, \"type\": a registered task type, \"input\": string}."

const createSubTasksSchema = `{
	"type": "object",
	"properties": {
		"sub_tasks": {
			"type": "string",
			"description": "A JSON array of {title, type, input} objects."
		}
	},
	"required": ["sub_tasks"]
}`

// createSubTasksTool builds the create_sub_tasks binding. factories maps
// task-type name to the constructor that builds that kind of sub-task node.
func createSubTasksTool(factories map[string]TaskFactory) workflow.ToolBinding {
	return workflow.ToolBinding{
		Descriptor: workflow.ToolDescriptor{
			Name:        "create_sub_tasks",
			Description: createSubTasksDescription,
			InputSchema: []byte(createSubTasksSchema),
		},
		Call: func(ctx context.Context, t task.Handle, inject map[string]any, arguments []byte) (workflow.ToolResult, error) {
			node, ok := t.(*tree.Node[scheduler.TreeState, scheduler.TreeEvent])
			if !ok {
				return workflow.ToolResult{}, fmt.Errorf("orchestrate: create_sub_tasks requires a tree node task")
			}

			var args createSubTasksArgs
			if err := json.Unmarshal(arguments, &args); err != nil {
				return workflow.ToolResult{}, fmt.Errorf("orchestrate: decode create_sub_tasks arguments: %w", err)
			}

			repaired, err := jsonrepair.JSONRepair(args.SubTasks)
			if err != nil {
				return errResult("sub-task JSON could not be repaired: " + err.Error()), nil
			}

			var specs []subTaskSpec
			if err := json.Unmarshal([]byte(repaired), &specs); err != nil {
				return errResult("repaired sub-task JSON is not an array of sub-task objects: " + err.Error()), nil
			}
			if len(specs) == 0 {
				return errResult("sub-task JSON described no sub-tasks"), nil
			}

			for _, spec := range specs {
				factory, ok := factories[spec.Type]
				if !ok {
					return errResult(fmt.Sprintf("unknown sub-task type %q", spec.Type)), nil
				}
				child, err := factory(spec.Title, []message.Block{message.TextBlock{Text: spec.Input}})
				if err != nil {
					return errResult(fmt.Sprintf("could not build sub-task %q: %v", spec.Title, err)), nil
				}
				if err := node.AddSubTask(child); err != nil {
					return errResult(fmt.Sprintf("could not attach sub-task %q: %v", spec.Title, err)), nil
				}
			}

			return workflow.ToolResult{
				Content: []message.Block{message.TextBlock{Text: fmt.Sprintf("created %d sub-task(s)", len(specs))}},
			}, nil
		},
	}
}

const endWorkflowDescription = "Ends the current reflection workflow, recording the given text as the task's final output."

const endWorkflowSchema = `{
	"type": "object",
	"properties": {
		"output": {"type": "string"}
	},
	"required": ["output"]
}`

// endWorkflowTool lets the model signal completion explicitly rather than
// relying solely on a finish label in its final message.
func endWorkflowTool() workflow.ToolBinding {
	return workflow.ToolBinding{
		Descriptor: workflow.ToolDescriptor{
			Name:        "end_workflow",
			Description: endWorkflowDescription,
			InputSchema: []byte(endWorkflowSchema),
		},
		Call: func(ctx context.Context, t task.Handle, inject map[string]any, arguments []byte) (workflow.ToolResult, error) {
			var args struct {
				Output string `json:"output"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil {
				return workflow.ToolResult{}, fmt.Errorf("orchestrate: decode end_workflow arguments: %w", err)
			}
			t.SetCompleted([]message.Block{message.TextBlock{Text: args.Output}})
			return workflow.ToolResult{
				Content: []message.Block{message.TextBlock{Text: "workflow ended"}},
			}, nil
		},
	}
}

func errResult(text string) workflow.ToolResult {
	return workflow.ToolResult{
		IsError: true,
		Content: []message.Block{message.TextBlock{Text: text}},
	}
}

// appendPrompt appends a stage's prompt template as a USER message.
func appendPrompt(t task.Handle, prompt string) error {
	if prompt == "" {
		return nil
	}
	return t.AppendContext(message.Message{
		Role:    message.RoleUser,
		Content: []message.Block{message.TextBlock{Text: prompt}},
	})
}

// observeStage runs the current stage's observe function, if any, through
// the agent so pre/post observe hooks fire around it.
func observeStage[Stage comparable, StageEvent comparable](
	ctx context.Context,
	ag *agent.Agent[Stage, StageEvent],
	q *queue.Queue[message.Message],
	t task.Handle,
	wf *workflow.Machine[Stage, StageEvent],
) error {
	observeFn, ok := wf.GetObserveFn()
	if !ok {
		return nil
	}
	_, err := ag.Observe(ctx, q, t, observeFn, nil)
	return err
}

// availableTools merges the workflow's static tool registry with the
// tool-service's tools that the task is tagged to use, as
// model.ToolDefinitions the next completion can be offered.
func availableTools[Stage comparable, StageEvent comparable](
	ctx context.Context,
	svc toolservice.Service,
	wf *workflow.Machine[Stage, StageEvent],
	t task.Handle,
) ([]model.ToolDefinition, error) {
	var defs []model.ToolDefinition
	for _, binding := range wf.GetTools() {
		defs = append(defs, model.ToolDefinition{
			Name:        binding.Descriptor.Name,
			Description: binding.Descriptor.Description,
			InputSchema: binding.Descriptor.InputSchema,
		})
	}
	if svc == nil {
		return defs, nil
	}
	descriptors, err := svc.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: list tools: %w", err)
	}
	tags := t.GetTags()
	for _, d := range descriptors {
		if !hasAllTags(tags, d.Tags) {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return defs, nil
}

func hasAllTags(have, required map[string]struct{}) bool {
	for tag := range required {
		if _, ok := have[tag]; !ok {
			return false
		}
	}
	return true
}

// ToolEvent is one tool-call lifecycle notification published to a
// BuildOrchestratorConfig.Events/BuildExecutorConfig.Events bus, for callers
// that want to observe tool activity without sitting inside the agent's
// ordered hook lists (telemetry sinks, progress UIs, audit logs).
type ToolEvent struct {
	TaskUID string
	Tool    string
	IsError bool
	Err     string
}

// runToolCalls executes calls sequentially via ag.Act, stopping at the
// first failure (business-level IsError or a hard error) and returning its
// message. An empty string means every call succeeded. Task-level error
// state is set by ag.Act itself for hard errors; runToolCalls sets it for
// business-level tool errors, which ag.Act leaves to the caller. events may
// be nil, in which case no events are published.
func runToolCalls[Stage comparable, StageEvent comparable](
	ctx context.Context,
	ag *agent.Agent[Stage, StageEvent],
	q *queue.Queue[message.Message],
	wf *workflow.Machine[Stage, StageEvent],
	t task.Handle,
	calls []message.ToolCallRequest,
	events bus.Bus[ToolEvent],
) string {
	for _, call := range calls {
		result, err := ag.Act(ctx, q, wf, call, t)
		if err != nil {
			publishToolEvent(ctx, events, t, call.Name, err.Error())
			return err.Error()
		}
		if result.IsError {
			msg := result.Text()
			t.SetError(msg)
			publishToolEvent(ctx, events, t, call.Name, msg)
			return msg
		}
		publishToolEvent(ctx, events, t, call.Name, "")
	}
	return ""
}

// publishToolEvent is a best-effort notification: a subscriber error is
// logged-by-discard here rather than failing the tool call it describes,
// since the call itself already succeeded or already carries its own error.
func publishToolEvent(ctx context.Context, events bus.Bus[ToolEvent], t task.Handle, tool, errText string) {
	if events == nil {
		return
	}
	_ = events.Publish(ctx, ToolEvent{
		TaskUID: t.GetUID(),
		Tool:    tool,
		IsError: errText != "",
		Err:     errText,
	})
}
