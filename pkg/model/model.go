// Package model defines the provider-agnostic LLM port: a completion
// request/response shape and a streaming variant that pushes chunk messages
// onto a caller-supplied queue before returning the aggregated result.
package model

import (
	"context"
	"errors"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
)

// ErrStreamingUnsupported is returned by Stream on an adapter that only
// implements Complete.
var ErrStreamingUnsupported = errors.New("model: streaming unsupported")

// ErrRateLimited is returned when the provider signals backoff is required.
// Retry/backoff policy lives in the adapter, not the core; this sentinel
// lets callers distinguish it from other failures when they do want to act
// on it (e.g. surfacing a friendlier task error message).
var ErrRateLimited = errors.New("model: rate limited")

// ErrEmbeddingUnsupported is returned by Embed/EmbedBatch on an adapter
// backed by a chat-only completion endpoint.
var ErrEmbeddingUnsupported = errors.New("model: embedding unsupported")

// ToolDefinition describes a callable tool to the model, independent of how
// the tool is ultimately resolved and invoked by the agent.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema []byte // raw JSON Schema
}

// Request bundles everything a completion call needs.
type Request struct {
	Messages         []message.Message
	Tools            []ToolDefinition
	CompletionConfig *message.CompletionConfig
}

// streamDoneKey is the metadata key used to mark the sentinel chunk message
// a Stream implementation pushes after its last real chunk, letting a
// drainer stop on an explicit signal instead of polling for queue
// emptiness.
const streamDoneKey = "__stream_done__"

// StreamDone is the sentinel chunk message a Client.Stream implementation
// must push onto the stream queue immediately after its final content
// chunk, and before returning the aggregated Message. Drainers recognize it
// via IsStreamDone rather than inspecting queue state.
var StreamDone = message.Message{
	IsChunking: true,
	StopReason: message.StopReasonNone,
	Metadata:   map[string]any{streamDoneKey: true},
}

// IsStreamDone reports whether msg is the stream-completion sentinel.
func IsStreamDone(msg message.Message) bool {
	if msg.Metadata == nil {
		return false
	}
	done, _ := msg.Metadata[streamDoneKey].(bool)
	return done
}

// Client is the provider-agnostic completion port.
type Client interface {
	// Complete runs a single non-streaming completion.
	Complete(ctx context.Context, req Request) (message.Message, error)

	// Stream runs a completion, pushing each chunk onto sink as it arrives
	// (IsChunking=true, StopReason=NONE), then StreamDone, then returns the
	// aggregated final message. sink must not be nil.
	Stream(ctx context.Context, req Request, sink *queue.Queue[message.Message]) (message.Message, error)

	// Embed computes a single embedding vector for content.
	Embed(ctx context.Context, content []message.Block, dimensions int) ([]float64, error)

	// EmbedBatch computes embedding vectors for a batch of content.
	EmbedBatch(ctx context.Context, contents [][]message.Block, dimensions int) ([][]float64, error)
}
