package openaiclient

import (
	"context"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

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

type stubChatClient struct {
	lastParams openai.ChatCompletionNewParams
	resp       *openai.ChatCompletion
	err        error
}

func (s *stubChatClient) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubChatClient) NewStreaming(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	s.lastParams = body
	return ssestream.NewStream[openai.ChatCompletionChunk](&noopDecoder{}, nil)
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

type stubEmbeddingsClient struct {
	lastParams openai.EmbeddingNewParams
	resp       *openai.CreateEmbeddingResponse
	err        error
}

func (s *stubEmbeddingsClient) New(_ context.Context, body openai.EmbeddingNewParams, _ ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestNewRequiresChatClientAndDefaultModel(t *testing.T) {
	_, err := New(nil, nil, Options{DefaultModel: "gpt-4o"})
	assert.Error(t, err)

	_, err = New(&stubChatClient{}, nil, Options{})
	assert.Error(t, err)
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	stub := &stubChatClient{
		resp: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{
					Message:      openai.ChatCompletionMessage{Content: "world"},
					FinishReason: "stop",
				},
			},
			Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	cl, err := New(stub, nil, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
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
	require.NotNil(t, stub.lastParams.MaxCompletionTokens)
	assert.Equal(t, int64(128), stub.lastParams.MaxCompletionTokens.Value)
}

func TestCompleteTranslatesToolCallResponse(t *testing.T) {
	stub := &stubChatClient{
		resp: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						ToolCalls: []openai.ChatCompletionMessageToolCall{
							{ID: "call-1", Function: openai.ChatCompletionMessageToolCallFunction{Name: "search", Arguments: `{"q":"go"}`}},
						},
					},
					FinishReason: "tool_calls",
				},
			},
		},
	}
	cl, err := New(stub, nil, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
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
	cl, err := New(&stubChatClient{}, nil, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), model.Request{})
	assert.Error(t, err)
}

func TestCompleteSendsToolResultsAsIndividualMessages(t *testing.T) {
	stub := &stubChatClient{resp: &openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{{FinishReason: "stop"}}}}
	cl, err := New(stub, nil, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
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
	// user, assistant-with-two-tool-calls, tool-a, tool-b: four distinct
	// messages since OpenAI accepts tool results inline, unlike Anthropic.
	require.Len(t, stub.lastParams.Messages, 4)
}

func TestEmbedUnsupportedWithoutEmbeddingsClient(t *testing.T) {
	cl, err := New(&stubChatClient{}, nil, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)
	_, err = cl.Embed(context.Background(), nil, 0)
	assert.ErrorIs(t, err, model.ErrEmbeddingUnsupported)
}

func TestEmbedBatchUsesEmbeddingsClient(t *testing.T) {
	embeddings := &stubEmbeddingsClient{
		resp: &openai.CreateEmbeddingResponse{
			Data: []openai.Embedding{
				{Embedding: []float64{0.1, 0.2, 0.3}},
			},
		},
	}
	cl, err := New(&stubChatClient{}, embeddings, Options{DefaultModel: "gpt-4o", EmbeddingModel: "text-embedding-3-small", MaxTokens: 128})
	require.NoError(t, err)

	vec, err := cl.Embed(context.Background(), []message.Block{message.TextBlock{Text: "hello"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestStreamReturnsStreamDoneWithNoEvents(t *testing.T) {
	stub := &stubChatClient{}
	cl, err := New(stub, nil, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
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
