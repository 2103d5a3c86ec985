package anthropicclient

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
)

// Stream invokes Messages.NewStreaming, pushes one chunk message per text
// delta onto sink, then model.StreamDone, and returns the aggregated final
// message built the same way Complete does.
func (c *Client) Stream(ctx context.Context, req model.Request, sink *queue.Queue[message.Message]) (message.Message, error) {
	if sink == nil {
		return message.Message{}, fmt.Errorf("anthropicclient: stream sink queue is required")
	}
	params, names, err := c.prepareRequest(req)
	if err != nil {
		return message.Message{}, err
	}
	events := c.msg.NewStreaming(ctx, *params)
	if err := events.Err(); err != nil {
		if isRateLimited(err) {
			return message.Message{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return message.Message{}, fmt.Errorf("anthropicclient: messages.new streaming: %w", err)
	}
	defer func() { _ = events.Close() }()

	agg := &streamAggregator{names: names, toolBuffers: map[int]*toolBuffer{}}

	for events.Next() {
		event := events.Current()
		if err := agg.handle(event); err != nil {
			return message.Message{}, err
		}
		for _, chunk := range agg.drainChunks() {
			if err := sink.Put(ctx, chunk); err != nil {
				return message.Message{}, fmt.Errorf("anthropicclient: stream sink: %w", err)
			}
		}
	}
	if err := events.Err(); err != nil {
		if isRateLimited(err) {
			return message.Message{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return message.Message{}, fmt.Errorf("anthropicclient: stream: %w", err)
	}
	if err := sink.Put(ctx, model.StreamDone); err != nil {
		return message.Message{}, fmt.Errorf("anthropicclient: stream sink: %w", err)
	}
	return agg.final(), nil
}

// toolBuffer accumulates a streamed tool_use block's partial JSON fragments.
type toolBuffer struct {
	name      string
	id        string
	fragments []byte
}

// streamAggregator converts a sequence of Anthropic streaming events into
// chunk messages (queued immediately by the caller) plus the final
// aggregated message (read once the stream ends).
type streamAggregator struct {
	names *toolNameMap

	textBlocks  map[int]*[]byte
	toolBuffers map[int]*toolBuffer

	pending []message.Message

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

func (a *streamAggregator) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		a.textBlocks = map[int]*[]byte{}
		a.toolBuffers = map[int]*toolBuffer{}
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if toolUse.ID == "" || toolUse.Name == "" {
				return fmt.Errorf("anthropicclient: stream tool_use block missing id or name")
			}
			name := toolUse.Name
			if canonical, ok := a.names.sanToCanon[name]; ok {
				name = canonical
			}
			a.toolBuffers[idx] = &toolBuffer{id: toolUse.ID, name: name}
		}
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			buf := a.textBlocks[idx]
			if buf == nil {
				buf = &[]byte{}
				a.textBlocks[idx] = buf
			}
			*buf = append(*buf, delta.Text...)
			a.emit(message.Message{
				Role:       message.RoleAssistant,
				Content:    []message.Block{message.TextBlock{Text: delta.Text}},
				IsChunking: true,
				StopReason: message.StopReasonNone,
			})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			tb := a.toolBuffers[idx]
			if tb == nil {
				return nil
			}
			tb.fragments = append(tb.fragments, delta.PartialJSON...)
		}
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		if buf := a.textBlocks[idx]; buf != nil {
			a.content = append(a.content, message.TextBlock{Text: string(*buf)})
			delete(a.textBlocks, idx)
		}
		if tb := a.toolBuffers[idx]; tb != nil {
			args := tb.fragments
			if len(args) == 0 {
				args = []byte("{}")
			}
			a.toolCalls = append(a.toolCalls, message.ToolCallRequest{ID: tb.id, Name: tb.name, Arguments: args})
			a.emit(message.Message{
				Role:       message.RoleAssistant,
				ToolCalls:  []message.ToolCallRequest{{ID: tb.id, Name: tb.name, Arguments: args}},
				IsChunking: true,
				StopReason: message.StopReasonNone,
			})
			delete(a.toolBuffers, idx)
		}
	case sdk.MessageDeltaEvent:
		a.usage = message.Usage{
			PromptTokens:     int(ev.Usage.InputTokens),
			CompletionTokens: int(ev.Usage.OutputTokens),
			TotalTokens:      int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
		}
		a.stopReason = translateStopReason(string(ev.Delta.StopReason))
	case sdk.MessageStopEvent:
		// Final bookkeeping already applied by the preceding MessageDeltaEvent.
	}
	return nil
}
