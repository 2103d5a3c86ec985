package openaiclient

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
)

// Stream invokes Chat.Completions.NewStreaming, pushes one chunk message per
// delta onto sink, then model.StreamDone, and returns the aggregated final
// message built the same way Complete does.
func (c *Client) Stream(ctx context.Context, req model.Request, sink *queue.Queue[message.Message]) (message.Message, error) {
	if sink == nil {
		return message.Message{}, fmt.Errorf("openaiclient: stream sink queue is required")
	}
	params, names, err := c.prepareRequest(req)
	if err != nil {
		return message.Message{}, err
	}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return message.Message{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return message.Message{}, fmt.Errorf("openaiclient: chat completions new streaming: %w", err)
	}
	defer func() { _ = stream.Close() }()

	agg := &streamAggregator{names: names, toolBuffers: map[int64]*toolBuffer{}}

	for stream.Next() {
		chunk := stream.Current()
		agg.handle(chunk)
		for _, msg := range agg.drainChunks() {
			if err := sink.Put(ctx, msg); err != nil {
				return message.Message{}, fmt.Errorf("openaiclient: stream sink: %w", err)
			}
		}
	}
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return message.Message{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return message.Message{}, fmt.Errorf("openaiclient: stream: %w", err)
	}
	if err := sink.Put(ctx, model.StreamDone); err != nil {
		return message.Message{}, fmt.Errorf("openaiclient: stream sink: %w", err)
	}
	return agg.final(), nil
}

// toolBuffer accumulates a streamed tool-call's partial argument fragments,
// keyed by the chunk's tool_call index.
type toolBuffer struct {
	id        string
	name      string
	fragments []byte
}

// streamAggregator converts a sequence of ChatCompletionChunk deltas into
// chunk messages (queued immediately by the caller) plus the final
// aggregated message (read once the stream ends).
type streamAggregator struct {
	names *toolNameMap

	text        []byte
	toolBuffers map[int64]*toolBuffer
	toolOrder   []int64

	pending    []message.Message
	toolCalls  []message.ToolCallRequest
	usage      message.Usage
	stopReason message.StopReason
}

func (a *streamAggregator) drainChunks() []message.Message {
	out := a.pending
	a.pending = nil
	return out
}

func (a *streamAggregator) emit(msg message.Message) {
	a.pending = append(a.pending, msg)
}

func (a *streamAggregator) final() message.Message {
	var content []message.Block
	if len(a.text) > 0 {
		content = []message.Block{message.TextBlock{Text: string(a.text)}}
	}
	for _, idx := range a.toolOrder {
		tb := a.toolBuffers[idx]
		args := tb.fragments
		if len(args) == 0 {
			args = []byte("{}")
		}
		a.toolCalls = append(a.toolCalls, message.ToolCallRequest{ID: tb.id, Name: tb.name, Arguments: args})
	}
	return message.Message{
		Role:       message.RoleAssistant,
		Content:    content,
		ToolCalls:  a.toolCalls,
		Usage:      a.usage,
		StopReason: a.stopReason,
	}
}

func (a *streamAggregator) handle(chunk openai.ChatCompletionChunk) {
	if chunk.Usage.TotalTokens > 0 {
		a.usage = message.Usage{
			PromptTokens:     int(chunk.Usage.PromptTokens),
			CompletionTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:      int(chunk.Usage.TotalTokens),
		}
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		a.stopReason = translateStopReason(choice.FinishReason)
	}
	if delta := choice.Delta.Content; delta != "" {
		a.text = append(a.text, delta...)
		a.emit(message.Message{
			Role:       message.RoleAssistant,
			Content:    []message.Block{message.TextBlock{Text: delta}},
			IsChunking: true,
			StopReason: message.StopReasonNone,
		})
	}
	for _, tc := range choice.Delta.ToolCalls {
		idx := tc.Index
		tb := a.toolBuffers[idx]
		if tb == nil {
			name := tc.Function.Name
			if canonical, ok := a.names.sanToCanon[name]; ok {
				name = canonical
			}
			tb = &toolBuffer{id: tc.ID, name: name}
			a.toolBuffers[idx] = tb
			a.toolOrder = append(a.toolOrder, idx)
		}
		if tc.Function.Arguments != "" {
			tb.fragments = append(tb.fragments, tc.Function.Arguments...)
			a.emit(message.Message{
				Role:       message.RoleAssistant,
				ToolCalls:  []message.ToolCallRequest{{ID: tb.id, Name: tb.name, Arguments: []byte(tc.Function.Arguments)}},
				IsChunking: true,
				StopReason: message.StopReasonNone,
			})
		}
	}
}
