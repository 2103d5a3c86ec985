// Package task implements the Task component: an FSM whose derived state is
// a per-state message log, input/output content, and retry bookkeeping.
package task

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Koko12137/tasking-community-sub000/pkg/fsm"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
)

// ErrUnknownState is returned when a context lookup targets a state the
// task's FSM does not know about.
var ErrUnknownState = errors.New("task: unknown state")

// Task extends a compiled FSM with the content, tagging, and per-state
// context log a scheduler and agent need to drive and observe a unit of
// work.
type Task[S comparable, E comparable] struct {
	*fsm.Machine[S, E]

	mu sync.Mutex

	uid      string
	title    string
	taskType string
	tags     map[string]struct{}

	input           []message.Block
	output          []message.Block
	uniqueProtocol  []message.Block
	errorInfo       string
	hasError        bool
	completed       bool

	contexts map[S]*message.Context

	completionConfig *message.CompletionConfig
	maxRevisitLimit  int
}

// New constructs a Task wrapping a freshly built, compiled FSM. taskType and
// protocol are type-level metadata; tags is copied.
func New[S comparable, E comparable](
	validStates []S,
	initState S,
	transitions map[fsm.Key[S, E]]fsm.Transition[S, E],
	taskType string,
	protocol []message.Block,
	tags []string,
) (*Task[S, E], error) {
	m := fsm.New(validStates, initState, transitions)
	if err := m.Compile(); err != nil {
		return nil, err
	}
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}
	t := &Task[S, E]{
		Machine:          m,
		uid:              uuid.NewString(),
		taskType:         taskType,
		tags:             tagSet,
		uniqueProtocol:   protocol,
		contexts:         map[S]*message.Context{initState: message.NewContext()},
		completionConfig: message.NewCompletionConfig(),
		maxRevisitLimit:  -1,
	}
	return t, nil
}

// Handle is the subset of Task's surface that does not depend on the task's
// own FSM type parameters. Workflows and agents operate on tasks through
// this interface so a single workflow/agent implementation can drive tasks
// built over different state/event types.
type Handle interface {
	GetUID() string
	GetTitle() string
	SetTitle(string)
	GetTaskType() string
	GetTags() map[string]struct{}
	GetProtocol() []message.Block

	GetInput() []message.Block
	SetInput([]message.Block)
	GetOutput() []message.Block
	SetCompleted(output []message.Block)
	IsCompleted() bool

	IsError() bool
	GetErrorInfo() string
	SetError(msg string)
	CleanErrorInfo()

	GetContext() *message.Context
	AppendContext(msg message.Message) error

	GetCompletionConfig() *message.CompletionConfig
	SetCompletionConfig(*message.CompletionConfig)

	GetMaxRevisitLimit() int
	SetMaxRevisitCount(int)
}

// GetUID returns the task's stable identifier (distinct from the embedded
// FSM's GetID, which is process-local to the state machine instance).
func (t *Task[S, E]) GetUID() string { return t.uid }

func (t *Task[S, E]) GetTitle() string     { return t.title }
func (t *Task[S, E]) SetTitle(title string) { t.title = title }

func (t *Task[S, E]) GetTaskType() string { return t.taskType }

func (t *Task[S, E]) GetTags() map[string]struct{} {
	out := make(map[string]struct{}, len(t.tags))
	for k := range t.tags {
		out[k] = struct{}{}
	}
	return out
}

func (t *Task[S, E]) GetProtocol() []message.Block { return t.uniqueProtocol }

func (t *Task[S, E]) GetInput() []message.Block  { return t.input }
func (t *Task[S, E]) SetInput(b []message.Block) { t.input = b }
func (t *Task[S, E]) GetOutput() []message.Block { return t.output }

// SetCompleted records the output and marks the task completed. It does not
// itself drive a state transition; callers fire the FINISHED event
// separately via HandleEvent.
func (t *Task[S, E]) SetCompleted(output []message.Block) {
	t.output = output
	t.completed = true
}

func (t *Task[S, E]) IsCompleted() bool { return t.completed }
func (t *Task[S, E]) IsError() bool     { return t.hasError }

func (t *Task[S, E]) GetErrorInfo() string { return t.errorInfo }

func (t *Task[S, E]) SetError(msg string) {
	t.errorInfo = msg
	t.hasError = true
}

func (t *Task[S, E]) CleanErrorInfo() {
	t.errorInfo = ""
	t.hasError = false
}

// GetContext returns the Context for the current state, creating it lazily.
func (t *Task[S, E]) GetContext() *message.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.contextLocked(t.GetCurrentState())
}

// GetContexts returns the full per-state context map. Callers must not
// mutate the returned map.
func (t *Task[S, E]) GetContexts() map[S]*message.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[S]*message.Context, len(t.contexts))
	for k, v := range t.contexts {
		out[k] = v
	}
	return out
}

func (t *Task[S, E]) contextLocked(s S) *message.Context {
	c, ok := t.contexts[s]
	if !ok {
		c = message.NewContext()
		t.contexts[s] = c
	}
	return c
}

// AppendContext routes msg to the current state's Context, upholding the
// role-ordering invariant.
func (t *Task[S, E]) AppendContext(msg message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.contextLocked(t.GetCurrentState())
	if err := c.Append(msg); err != nil {
		return fmt.Errorf("task: append context: %w", err)
	}
	return nil
}

func (t *Task[S, E]) SetMaxRevisitCount(n int) { t.maxRevisitLimit = n }
func (t *Task[S, E]) GetMaxRevisitLimit() int  { return t.maxRevisitLimit }

func (t *Task[S, E]) GetCompletionConfig() *message.CompletionConfig { return t.completionConfig }
func (t *Task[S, E]) SetCompletionConfig(c *message.CompletionConfig) {
	t.completionConfig = c
}

// Reset returns the task to its init state, clearing visit counts (via the
// embedded Machine) and per-state contexts, but preserving input, output,
// title, protocol, tags, and max-revisit limit. Error info is left
// untouched; callers that want it cleared must call CleanErrorInfo
// explicitly.
func (t *Task[S, E]) Reset() {
	t.mu.Lock()
	t.Machine.Reset()
	init := t.Machine.GetCurrentState()
	t.contexts = map[S]*message.Context{init: message.NewContext()}
	t.mu.Unlock()
}
