// Package grpcadapter adapts a generated gRPC tool-service client to the
// toolservice.Service port, mirroring the teacher's registry client adapter
// pattern: a thin conversion layer over a generated client interface rather
// than a bespoke wire protocol.
package grpcadapter

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/toolservice"
	"github.com/Koko12137/tasking-community-sub000/pkg/workflow"
)

// ToolServiceClient is the shape of the protoc-gen-go-grpc client generated
// from the tool service's .proto definition. Production code injects the
// real generated client; tests inject a hand-written fake satisfying this
// interface.
type ToolServiceClient interface {
	ListTools(ctx context.Context, in *ListToolsRequest, opts ...grpc.CallOption) (*ListToolsResponse, error)
	CallTool(ctx context.Context, in *CallToolRequest, opts ...grpc.CallOption) (*CallToolResponse, error)
}

// ListToolsRequest is the wire shape of a ListTools call.
type ListToolsRequest struct{}

// ToolDescriptorPB is the wire shape of a single tool descriptor.
type ToolDescriptorPB struct {
	Name        string
	Description string
	InputSchema []byte
	Tags        []string
}

// ListToolsResponse is the wire shape of a ListTools response.
type ListToolsResponse struct {
	Tools []*ToolDescriptorPB
}

// CallToolRequest is the wire shape of a CallTool call.
type CallToolRequest struct {
	Name      string
	Arguments []byte
}

// CallToolResponse is the wire shape of a CallTool response.
// StructuredOutput is a google.protobuf.Struct (the well-known type for
// arbitrary JSON-like data on the wire), not a JSON-encoded byte blob: a
// real protoc-gen-go service would carry ToolResult.structured_output that
// way rather than nesting an opaque bytes field.
type CallToolResponse struct {
	ContentText      []string
	StructuredOutput *structpb.Struct
	IsError          bool
}

// Client adapts a ToolServiceClient to toolservice.Service.
type Client struct {
	rpc ToolServiceClient
}

// NewClient wraps rpc as a toolservice.Service.
func NewClient(rpc ToolServiceClient) *Client {
	return &Client{rpc: rpc}
}

func (c *Client) ListTools(ctx context.Context) ([]toolservice.Descriptor, error) {
	resp, err := c.rpc.ListTools(ctx, &ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("toolservice: list tools: %w", err)
	}
	out := make([]toolservice.Descriptor, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		tags := make(map[string]struct{}, len(t.Tags))
		for _, tag := range t.Tags {
			tags[tag] = struct{}{}
		}
		out = append(out, toolservice.Descriptor{
			ToolDescriptor: workflow.ToolDescriptor{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			},
			Tags: tags,
		})
	}
	return out, nil
}

func (c *Client) CallTool(ctx context.Context, name string, arguments []byte) (workflow.ToolResult, error) {
	resp, err := c.rpc.CallTool(ctx, &CallToolRequest{Name: name, Arguments: arguments})
	if err != nil {
		return workflow.ToolResult{}, fmt.Errorf("toolservice: call tool %s: %w", name, err)
	}
	blocks := make([]message.Block, 0, len(resp.ContentText))
	for _, text := range resp.ContentText {
		blocks = append(blocks, message.TextBlock{Text: text})
	}
	var structured map[string]any
	if resp.StructuredOutput != nil {
		structured = resp.StructuredOutput.AsMap()
	}
	return workflow.ToolResult{
		Content:          blocks,
		StructuredOutput: structured,
		IsError:          resp.IsError,
	}, nil
}
