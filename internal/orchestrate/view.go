// Package orchestrate provides the default orchestrator and reflection
// agents: a THINKING->ORCHESTRATING->FINISHED workflow that decomposes a
// tree task into sub-tasks (grounded on
// tasking/core/agent/orchestrate.py), and a REASONING<->REFLECTING->
// FINISHED workflow that drives a leaf task to completion via tool calls
// (grounded on tasking/core/agent/reflect.py).
package orchestrate

import (
	"fmt"
	"strings"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/task"
)

// renderTaskView renders a task's identifying fields and current context as
// one text block, standing in for the source's RequirementTaskView /
// ProtocolTaskView renderers: this module has no template-file loader, so
// the view is built directly as a Go string rather than ported template by
// template.
func renderTaskView(t task.Handle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<task>\n<title>%s</title>\n<type>%s</type>\n", t.GetTitle(), t.GetTaskType())
	if input := (message.Message{Content: t.GetInput()}).Text(); input != "" {
		fmt.Fprintf(&b, "<input>%s</input>\n", input)
	}
	if t.IsError() {
		fmt.Fprintf(&b, "<previous_error>%s</previous_error>\n", t.GetErrorInfo())
	}
	b.WriteString("</task>")
	return b.String()
}

// observeTaskView is the shared ObserveFunc both workflows register: it
// renders the task's current view as a USER message, mirroring the
// source's observe_task_view closure.
func observeTaskView(t task.Handle, _ map[string]any) message.Message {
	return message.Message{
		Role:    message.RoleUser,
		Content: []message.Block{message.TextBlock{Text: renderTaskView(t)}},
	}
}

// extractByLabel returns the trimmed text between the first <label>...
// </label> pair found for any of labels, tried in order, tolerating
// attributes on the opening tag. It returns "" when none are present.
func extractByLabel(content string, labels ...string) string {
	for _, label := range labels {
		open := "<" + label
		closeTag := "</" + label + ">"
		start := strings.Index(content, open)
		if start < 0 {
			continue
		}
		tagEnd := strings.Index(content[start:], ">")
		if tagEnd < 0 {
			continue
		}
		contentStart := start + tagEnd + 1
		end := strings.Index(content[contentStart:], closeTag)
		if end < 0 {
			continue
		}
		return strings.TrimSpace(content[contentStart : contentStart+end])
	}
	return ""
}
