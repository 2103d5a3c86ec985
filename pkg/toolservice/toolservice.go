// Package toolservice defines the external tool-service port an agent falls
// back to when a tool is not registered on the current workflow.
package toolservice

import (
	"context"

	"github.com/Koko12137/tasking-community-sub000/pkg/workflow"
)

// Service lists and invokes tools hosted outside the current workflow
// (e.g. behind an RPC boundary). Workflow-local tools use the same
// descriptor/result shapes but bypass this port entirely.
type Service interface {
	ListTools(ctx context.Context) ([]Descriptor, error)
	CallTool(ctx context.Context, name string, arguments []byte) (workflow.ToolResult, error)
}

// Descriptor is a tool-service-hosted tool's metadata, including the tag
// set an agent checks against a task's tags before invoking it.
type Descriptor struct {
	workflow.ToolDescriptor
	Tags map[string]struct{}
}
