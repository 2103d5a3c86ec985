package bedrockclient

import (
	"context"
	"errors"
	"fmt"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
)

// Stream invokes ConverseStream, pushes one chunk message per delta onto
// sink, then model.StreamDone, and returns the aggregated final message
// built the same way Complete does.
func (c *Client) Stream(ctx context.Context, req model.Request, sink *queue.Queue[message.Message]) (message.Message, error) {
	if sink == nil {
		return message.Message{}, errors.New("bedrockclient: stream sink queue is required")
	}
	parts, err := c.prepareRequest(req)
	if err != nil {
		return message.Message{}, err
	}
	input := c.buildConverseStreamInput(parts, req)
	out, err := c.runtime.ConverseStream(ctx, input, c.streamOptions(req)...)
	if err != nil {
		if isRateLimited(err) {
			return message.Message{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return message.Message{}, fmt.Errorf("bedrockclient: converse stream: %w", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return message.Message{}, errors.New("bedrockclient: stream output missing event stream")
	}
	defer func() { _ = stream.Close() }()

	agg := &streamAggregator{names: parts.sanToCanon, textBlocks: map[int32]*[]byte{}, toolBuffers: map[int32]*toolBuffer{}}

	for event := range stream.Events() {
		agg.handle(event)
		for _, chunk := range agg.drainChunks() {
			if err := sink.Put(ctx, chunk); err != nil {
				return message.Message{}, fmt.Errorf("bedrockclient: stream sink: %w", err)
			}
		}
	}
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return message.Message{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return message.Message{}, fmt.Errorf("bedrockclient: stream: %w", err)
	}
	if err := sink.Put(ctx, model.StreamDone); err != nil {
		return message.Message{}, fmt.Errorf("bedrockclient: stream sink: %w", err)
	}
	return agg.final(), nil
}

type toolBuffer struct {
	name      string
	id        string
	fragments []byte
}

// streamAggregator converts a sequence of Bedrock ConverseStream events
// into chunk messages (queued immediately by the caller) plus the final
// aggregated message (read once the stream ends).
type streamAggregator struct {
	names map[string]string

	textBlocks  map[int32]*[]byte
	toolBuffers map[int32]*toolBuffer

	pending    []message.Message
	content    []message.Block
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
	return message.Message{
		Role:       message.RoleAssistant,
		Content:    a.content,
		ToolCalls:  a.toolCalls,
		Usage:      a.usage,
		StopReason: a.stopReason,
	}
}

func (a *streamAggregator) handle(event brtypes.ConverseStreamOutput) {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := ev.Value.ContentBlockIndex
		if idx == nil {
			return
		}
		if toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			name := ""
			if toolUse.Value.Name != nil {
				name = *toolUse.Value.Name
				if canonical, ok := a.names[name]; ok {
					name = canonical
				}
			}
			id := ""
			if toolUse.Value.ToolUseId != nil {
				id = *toolUse.Value.ToolUseId
			}
			a.toolBuffers[*idx] = &toolBuffer{name: name, id: id}
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := ev.Value.ContentBlockIndex
		if idx == nil {
			return
		}
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return
			}
			buf := a.textBlocks[*idx]
			if buf == nil {
				buf = &[]byte{}
				a.textBlocks[*idx] = buf
			}
			*buf = append(*buf, delta.Value...)
			a.emit(message.Message{
				Role:       message.RoleAssistant,
				Content:    []message.Block{message.TextBlock{Text: delta.Value}},
				IsChunking: true,
				StopReason: message.StopReasonNone,
			})
		case *brtypes.ContentBlockDeltaMemberToolUse:
			tb := a.toolBuffers[*idx]
			if tb == nil || delta.Value.Input == nil {
				return
			}
			frag := *delta.Value.Input
			tb.fragments = append(tb.fragments, frag...)
			a.emit(message.Message{
				Role:       message.RoleAssistant,
				ToolCalls:  []message.ToolCallRequest{{ID: tb.id, Name: tb.name, Arguments: []byte(frag)}},
				IsChunking: true,
				StopReason: message.StopReasonNone,
			})
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx := ev.Value.ContentBlockIndex
		if idx == nil {
			return
		}
		if buf := a.textBlocks[*idx]; buf != nil {
			a.content = append(a.content, message.TextBlock{Text: string(*buf)})
			delete(a.textBlocks, *idx)
		}
		if tb := a.toolBuffers[*idx]; tb != nil {
			args := tb.fragments
			if len(args) == 0 {
				args = []byte("{}")
			}
			a.toolCalls = append(a.toolCalls, message.ToolCallRequest{ID: tb.id, Name: tb.name, Arguments: args})
			delete(a.toolBuffers, *idx)
		}
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if usage := ev.Value.Usage; usage != nil {
			a.usage = message.Usage{
				PromptTokens:     int(ptrValue(usage.InputTokens)),
				CompletionTokens: int(ptrValue(usage.OutputTokens)),
				TotalTokens:      int(ptrValue(usage.TotalTokens)),
			}
		}
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		a.stopReason = translateStopReason(string(ev.Value.StopReason))
	}
}
