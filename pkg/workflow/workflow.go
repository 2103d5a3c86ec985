// Package workflow implements the Workflow component: an FSM whose states
// are execution stages and whose events drive an agent's inner "round"
// loop, carrying per-stage prompts, observation functions, actions,
// completion configs, and a static tool registry.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Koko12137/tasking-community-sub000/pkg/fsm"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/task"
)

// ErrMissingAction is returned by GetAction when the current stage has no
// registered action.
var ErrMissingAction = errors.New("workflow: stage has no action")

// ErrEmptyEventChain is returned by New when no event chain is supplied.
var ErrEmptyEventChain = errors.New("workflow: empty event chain")

// ErrToolNotFound is returned by GetTool/CallTool for an unregistered name.
var ErrToolNotFound = errors.New("workflow: tool not found")

// ErrInvalidToolSchema is returned by New when a tool's InputSchema does not
// compile as JSON Schema.
var ErrInvalidToolSchema = errors.New("workflow: invalid tool input schema")

// ErrToolArgumentsInvalid is returned by CallTool when arguments fails
// validation against the tool's InputSchema.
var ErrToolArgumentsInvalid = errors.New("workflow: tool arguments invalid")

// ObserveFunc computes the next context message for a stage from the task
// and caller-supplied keyword-style arguments.
type ObserveFunc func(t task.Handle, kwargs map[string]any) message.Message

// ActionFunc is the body of a stage: it drives the stage's work (typically
// observe/think/act calls on the owning agent) and returns the event that
// advances the inner loop.
type ActionFunc[Stage comparable, StageEvent comparable] func(
	ctx context.Context,
	wf *Machine[Stage, StageEvent],
	q *queue.Queue[message.Message],
	t task.Handle,
) (StageEvent, error)

// ToolResult is what a tool invocation returns: content blocks plus
// optional structured data and an error flag.
type ToolResult struct {
	Content          []message.Block
	StructuredOutput map[string]any
	IsError          bool
}

// ToolDescriptor is the metadata a caller needs to decide whether and how to
// invoke a tool.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema []byte // raw JSON Schema
}

// ToolCallFunc executes a tool call. inject carries extra parameters the
// scheduler/agent supply (e.g. the owning task and workflow), beyond the
// caller-supplied structured arguments.
type ToolCallFunc func(ctx context.Context, t task.Handle, inject map[string]any, arguments []byte) (ToolResult, error)

// ToolBinding pairs a tool descriptor with the tags a task must carry to be
// allowed to invoke it, and the function that performs the call.
type ToolBinding struct {
	Descriptor   ToolDescriptor
	RequiredTags map[string]struct{}
	Call         ToolCallFunc
}

// Machine is the Workflow component: an FSM over Stage/StageEvent plus the
// per-stage materials an agent needs to drive one task.
type Machine[Stage comparable, StageEvent comparable] struct {
	*fsm.Machine[Stage, StageEvent]

	name string

	prompts           map[Stage]string
	observeFuncs      map[Stage]ObserveFunc
	actions           map[Stage]ActionFunc[Stage, StageEvent]
	completionConfigs map[Stage]*message.CompletionConfig

	eventChain []StageEvent
	tools      map[string]ToolBinding
	schemas    map[string]*jsonschema.Schema
}

// Config bundles the construction inputs for a Machine so New's signature
// stays manageable as stages accumulate materials.
type Config[Stage comparable, StageEvent comparable] struct {
	Name              string
	ValidStates       []Stage
	InitState         Stage
	Transitions       map[fsm.Key[Stage, StageEvent]]fsm.Transition[Stage, StageEvent]
	Prompts           map[Stage]string
	ObserveFuncs      map[Stage]ObserveFunc
	Actions           map[Stage]ActionFunc[Stage, StageEvent]
	CompletionConfigs map[Stage]*message.CompletionConfig
	EventChain        []StageEvent
	Tools             map[string]ToolBinding
}

// New constructs and compiles a Machine from cfg. Tool registration is
// static: there is no mutator to add tools after construction.
func New[Stage comparable, StageEvent comparable](cfg Config[Stage, StageEvent]) (*Machine[Stage, StageEvent], error) {
	if len(cfg.EventChain) == 0 {
		return nil, ErrEmptyEventChain
	}
	m := fsm.New(cfg.ValidStates, cfg.InitState, cfg.Transitions)
	if err := m.Compile(); err != nil {
		return nil, err
	}

	tools := make(map[string]ToolBinding, len(cfg.Tools))
	for k, v := range cfg.Tools {
		tools[k] = v
	}

	schemas, err := compileToolSchemas(tools)
	if err != nil {
		return nil, err
	}

	return &Machine[Stage, StageEvent]{
		Machine:           m,
		name:              cfg.Name,
		prompts:           copyMap(cfg.Prompts),
		observeFuncs:      copyMap(cfg.ObserveFuncs),
		actions:           copyMap(cfg.Actions),
		completionConfigs: copyMap(cfg.CompletionConfigs),
		eventChain:        append([]StageEvent(nil), cfg.EventChain...),
		tools:             tools,
		schemas:           schemas,
	}, nil
}

// compileToolSchemas compiles every non-empty InputSchema in tools up front,
// so a malformed schema fails New instead of surfacing as a confusing
// validation error on the first call.
func compileToolSchemas(tools map[string]ToolBinding) (map[string]*jsonschema.Schema, error) {
	schemas := make(map[string]*jsonschema.Schema, len(tools))
	for name, b := range tools {
		if len(b.Descriptor.InputSchema) == 0 {
			continue
		}
		var doc any
		if err := json.Unmarshal(b.Descriptor.InputSchema, &doc); err != nil {
			return nil, fmt.Errorf("%w: tool %s: %w", ErrInvalidToolSchema, name, err)
		}
		c := jsonschema.NewCompiler()
		resource := name + ".json"
		if err := c.AddResource(resource, doc); err != nil {
			return nil, fmt.Errorf("%w: tool %s: %w", ErrInvalidToolSchema, name, err)
		}
		schema, err := c.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("%w: tool %s: %w", ErrInvalidToolSchema, name, err)
		}
		schemas[name] = schema
	}
	return schemas, nil
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetName returns the workflow's configured name.
func (m *Machine[Stage, StageEvent]) GetName() string { return m.name }

// GetEventChain returns the ordered event sequence driving one round. The
// first element restarts a round; the last terminates the outer loop.
func (m *Machine[Stage, StageEvent]) GetEventChain() []StageEvent {
	return append([]StageEvent(nil), m.eventChain...)
}

// GetAction returns the action function for the current stage.
func (m *Machine[Stage, StageEvent]) GetAction() (ActionFunc[Stage, StageEvent], error) {
	stage := m.GetCurrentState()
	a, ok := m.actions[stage]
	if !ok {
		return nil, fmt.Errorf("%w: stage %v", ErrMissingAction, stage)
	}
	return a, nil
}

// GetPrompt returns the prompt template for the current stage.
func (m *Machine[Stage, StageEvent]) GetPrompt() string {
	return m.prompts[m.GetCurrentState()]
}

// GetPrompts returns a copy of the full stage->prompt map.
func (m *Machine[Stage, StageEvent]) GetPrompts() map[Stage]string {
	return copyMap(m.prompts)
}

// GetObserveFn returns the observe function for the current stage, if any.
func (m *Machine[Stage, StageEvent]) GetObserveFn() (ObserveFunc, bool) {
	fn, ok := m.observeFuncs[m.GetCurrentState()]
	return fn, ok
}

// GetObserveFuncs returns a copy of the full stage->observe-function map.
func (m *Machine[Stage, StageEvent]) GetObserveFuncs() map[Stage]ObserveFunc {
	return copyMap(m.observeFuncs)
}

// GetCompletionConfig returns the completion config for the current stage,
// falling back to defaults if the stage has none configured.
func (m *Machine[Stage, StageEvent]) GetCompletionConfig() *message.CompletionConfig {
	if c, ok := m.completionConfigs[m.GetCurrentState()]; ok && c != nil {
		return c
	}
	return message.NewCompletionConfig()
}

// GetCompletionConfigs returns a copy of the full stage->config map.
func (m *Machine[Stage, StageEvent]) GetCompletionConfigs() map[Stage]*message.CompletionConfig {
	return copyMap(m.completionConfigs)
}

// GetTool returns the binding registered under name, if any.
func (m *Machine[Stage, StageEvent]) GetTool(name string) (ToolBinding, bool) {
	b, ok := m.tools[name]
	return b, ok
}

// GetTools returns a copy of the full tool registry.
func (m *Machine[Stage, StageEvent]) GetTools() map[string]ToolBinding {
	return copyMap(m.tools)
}

// CallTool resolves name in the static registry and invokes it. inject
// carries scheduler/agent-supplied extra parameters (e.g. {"task": t,
// "workflow": m}); arguments is the caller-supplied structured payload.
func (m *Machine[Stage, StageEvent]) CallTool(
	ctx context.Context,
	name string,
	t task.Handle,
	inject map[string]any,
	arguments []byte,
) (ToolResult, error) {
	b, ok := m.tools[name]
	if !ok {
		return ToolResult{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if schema, ok := m.schemas[name]; ok {
		var doc any
		if err := json.Unmarshal(arguments, &doc); err != nil {
			return ToolResult{}, fmt.Errorf("%w: tool %s: %w", ErrToolArgumentsInvalid, name, err)
		}
		if err := schema.Validate(doc); err != nil {
			return ToolResult{}, fmt.Errorf("%w: tool %s: %w", ErrToolArgumentsInvalid, name, err)
		}
	}
	return b.Call(ctx, t, inject, arguments)
}
