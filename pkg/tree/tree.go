// Package tree implements the tree task node: a Task augmented with
// parent/child pointers and depth bounds, traversed in insertion order.
package tree

import (
	"errors"
	"fmt"

	"github.com/Koko12137/tasking-community-sub000/pkg/fsm"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/task"
)

// ErrDepthExceeded is returned when inserting a node would push that node's
// own depth past its max_depth; nodes already attached below it are not
// checked.
var ErrDepthExceeded = errors.New("tree: depth exceeded")

// Node wraps a Task with tree pointers. S and E are the task's FSM type
// parameters (e.g. tree lifecycle states CREATED/RUNNING/FINISHED/CANCELED).
type Node[S comparable, E comparable] struct {
	*task.Task[S, E]

	parent       *Node[S, E]
	subTasks     []*Node[S, E]
	currentDepth int
	maxDepth     int
}

// New constructs a root Node (current_depth=0, parent=nil) wrapping a fresh
// Task, with the given max_depth as its own depth bound; each node added
// below it is checked against that node's own max_depth, not this one.
// Initial sub-tasks, if any, are linked bidirectionally.
func New[S comparable, E comparable](
	validStates []S,
	initState S,
	transitions map[fsm.Key[S, E]]fsm.Transition[S, E],
	taskType string,
	protocol []message.Block,
	tags []string,
	maxDepth int,
	subTasks ...*Node[S, E],
) (*Node[S, E], error) {
	t, err := task.New(validStates, initState, transitions, taskType, protocol, tags)
	if err != nil {
		return nil, err
	}
	n := &Node[S, E]{
		Task:     t,
		maxDepth: maxDepth,
	}
	for _, child := range subTasks {
		if err := n.AddSubTask(child); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// IsRoot reports whether the node has no parent.
func (n *Node[S, E]) IsRoot() bool { return n.parent == nil }

// IsLeaf reports whether the node has no sub-tasks.
func (n *Node[S, E]) IsLeaf() bool { return len(n.subTasks) == 0 }

// GetCurrentDepth returns the node's depth from the tree root.
func (n *Node[S, E]) GetCurrentDepth() int { return n.currentDepth }

// GetMaxDepth returns the node's configured depth bound.
func (n *Node[S, E]) GetMaxDepth() int { return n.maxDepth }

// GetParent returns the parent node, or nil at the root.
func (n *Node[S, E]) GetParent() *Node[S, E] { return n.parent }

// SubTasks returns the child nodes in insertion order. Callers must not
// mutate the returned slice.
func (n *Node[S, E]) SubTasks() []*Node[S, E] {
	return n.subTasks
}

// AddSubTask appends child, linking it bidirectionally to n and setting its
// depth to n's depth + 1. Fails with ErrDepthExceeded (no mutation) if the
// new depth would exceed child's own max_depth bound.
func (n *Node[S, E]) AddSubTask(child *Node[S, E]) error {
	newDepth := n.currentDepth + 1
	if newDepth > child.maxDepth {
		return fmt.Errorf("%w: depth %d exceeds bound %d", ErrDepthExceeded, newDepth, child.maxDepth)
	}
	child.parent = n
	child.currentDepth = newDepth
	n.subTasks = append(n.subTasks, child)
	return nil
}

// PopSubTask removes child by identity, clearing its parent pointer and
// resetting its depth to 0. A no-op if child is not among n's sub-tasks.
func (n *Node[S, E]) PopSubTask(child *Node[S, E]) {
	for i, c := range n.subTasks {
		if c == child {
			n.subTasks = append(n.subTasks[:i], n.subTasks[i+1:]...)
			child.parent = nil
			child.currentDepth = 0
			return
		}
	}
}

// SetParent atomically moves n from its current parent (if any) to p,
// updating depth accordingly. p == nil detaches n, making it a root.
func (n *Node[S, E]) SetParent(p *Node[S, E]) error {
	if p == n.parent {
		return nil
	}
	if p != nil && p.currentDepth+1 > n.maxDepth {
		return fmt.Errorf("%w: depth %d exceeds bound %d", ErrDepthExceeded, p.currentDepth+1, n.maxDepth)
	}
	if n.parent != nil {
		n.parent.PopSubTask(n)
	}
	if p == nil {
		n.parent = nil
		n.currentDepth = 0
		return nil
	}
	return p.AddSubTask(n)
}
