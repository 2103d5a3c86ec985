package anthropicclient

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
)

func newTestQueue(t *testing.T) *queue.Queue[message.Message] {
	t.Helper()
	return queue.New[message.Message](4)
}

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	dec := &noopDecoder{}
	return ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

func TestNewRequiresMessagesClientAndDefaultModel(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "claude"})
	assert.Error(t, err)

	_, err = New(&stubMessagesClient{}, Options{})
	assert.Error(t, err)
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "world"},
			},
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	req := model.Request{
		Messages: []message.Message{
			{Role: message.RoleUser, Content: []message.Block{message.TextBlock{Text: "hello"}}},
		},
	}

	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "world", resp.Text())
	assert.Equal(t, message.StopReasonStop, resp.StopReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, int64(128), stub.lastParams.MaxTokens)
}

func TestCompleteTranslatesToolCallResponse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "tool_use", ID: "call-1", Name: "search", Input: []byte(`{"q":"go"}`)},
			},
			StopReason: sdk.StopReasonToolUse,
		},
	}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	req := model.Request{
		Messages: []message.Message{
			{Role: message.RoleUser, Content: []message.Block{message.TextBlock{Text: "search for go"}}},
		},
		Tools: []model.ToolDefinition{
			{Name: "search", Description: "search the web", InputSchema: []byte(`{"type":"object"}`)},
		},
	}

	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
	assert.Equal(t, "call-1", resp.ToolCalls[0].ID)
	assert.Equal(t, message.StopReasonToolCall, resp.StopReason)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	cl, err := New(&stubMessagesClient{}, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), model.Request{})
	assert.Error(t, err)
}

func TestCompleteFoldsConsecutiveToolMessagesIntoOneUserTurn(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{StopReason: sdk.StopReasonEndTurn}}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	req := model.Request{
		Messages: []message.Message{
			{Role: message.RoleUser, Content: []message.Block{message.TextBlock{Text: "run two tools"}}},
			{Role: message.RoleAssistant, ToolCalls: []message.ToolCallRequest{
				{ID: "a", Name: "search", Arguments: []byte(`{}`)},
				{ID: "b", Name: "search", Arguments: []byte(`{}`)},
			}},
			{Role: message.RoleTool, ToolCallID: "a", Content: []message.Block{message.TextBlock{Text: "result a"}}},
			{Role: message.RoleTool, ToolCallID: "b", Content: []message.Block{message.TextBlock{Text: "result b"}}},
		},
		Tools: []model.ToolDefinition{
			{Name: "search", Description: "search the web", InputSchema: []byte(`{"type":"object"}`)},
		},
	}

	_, err = cl.Complete(context.Background(), req)
	require.NoError(t, err)
	// user "run two tools", assistant with two tool_use blocks, then one
	// folded user turn carrying both tool_result blocks.
	require.Len(t, stub.lastParams.Messages, 3)
}

func TestEmbedUnsupported(t *testing.T) {
	cl, err := New(&stubMessagesClient{}, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)
	_, err = cl.Embed(context.Background(), nil, 0)
	assert.ErrorIs(t, err, model.ErrEmbeddingUnsupported)
	_, err = cl.EmbedBatch(context.Background(), nil, 0)
	assert.ErrorIs(t, err, model.ErrEmbeddingUnsupported)
}

func TestStreamReturnsStreamDoneWithNoEvents(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	q := newTestQueue(t)
	req := model.Request{
		Messages: []message.Message{
			{Role: message.RoleUser, Content: []message.Block{message.TextBlock{Text: "hi"}}},
		},
	}
	_, err = cl.Stream(context.Background(), req, q)
	require.NoError(t, err)

	msg, gerr := q.GetNoWait()
	require.NoError(t, gerr)
	assert.True(t, model.IsStreamDone(msg))
}
