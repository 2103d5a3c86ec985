// Package anthropicclient adapts github.com/anthropics/anthropic-sdk-go's
// Messages API to the model.Client port: requests are translated into
// sdk.MessageNewParams and responses/stream events are translated back into
// message.Message values.
package anthropicclient

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter uses, so callers can pass either a real client or a test double.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures optional Anthropic adapter behavior.
type Options struct {
	// DefaultModel is the Claude model identifier used for every request.
	// Use the typed model constants from anthropic-sdk-go (for example
	// string(sdk.ModelClaudeSonnet4_5_20250929)).
	DefaultModel string

	// MaxTokens is the completion cap used when the request's
	// CompletionConfig does not specify one.
	MaxTokens int

	// ThinkingBudget is the extended-thinking token budget used when a
	// request's CompletionConfig has AllowThinking set. Anthropic's
	// extended-thinking trace is not surfaced back through message.Message
	// (message.Block has no thinking variant); this only shapes how the
	// model reasons before producing the blocks we do translate.
	ThinkingBudget int64
}

// Client implements model.Client on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTok       int
	think        int64
}

// New builds an Anthropic-backed model client from msg and opts.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropicclient: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropicclient: default model identifier is required")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		think:        opts.ThinkingBudget,
	}, nil
}

// NewFromAPIKey constructs a client reading ANTHROPIC_API_KEY-compatible
// defaults via sdk.NewClient(option.WithAPIKey(apiKey)).
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropicclient: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel, MaxTokens: 8192})
}

var _ model.Client = (*Client)(nil)

// Complete issues a non-streaming Messages.New request and translates the
// response into a single aggregated message.Message.
func (c *Client) Complete(ctx context.Context, req model.Request) (message.Message, error) {
	params, names, err := c.prepareRequest(req)
	if err != nil {
		return message.Message{}, err
	}
	resp, err := c.msg.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return message.Message{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return message.Message{}, fmt.Errorf("anthropicclient: messages.new: %w", err)
	}
	return translateResponse(resp, names)
}

// Embed is unsupported: Claude Messages is a chat-completion endpoint with
// no embedding vector output.
func (c *Client) Embed(ctx context.Context, content []message.Block, dimensions int) ([]float64, error) {
	return nil, model.ErrEmbeddingUnsupported
}

// EmbedBatch is unsupported for the same reason as Embed.
func (c *Client) EmbedBatch(ctx context.Context, contents [][]message.Block, dimensions int) ([][]float64, error) {
	return nil, model.ErrEmbeddingUnsupported
}

func (c *Client) prepareRequest(req model.Request) (*sdk.MessageNewParams, *toolNameMap, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropicclient: messages are required")
	}
	toolList, names, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, names)
	if err != nil {
		return nil, nil, err
	}

	cfg := req.CompletionConfig
	maxTokens := c.maxTok
	if cfg != nil && cfg.MaxTokens > 0 {
		maxTokens = cfg.MaxTokens
	}
	if maxTokens <= 0 {
		return nil, nil, errors.New("anthropicclient: max_tokens must be positive")
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(c.defaultModel),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(toolList) > 0 {
		params.Tools = toolList
	}
	if cfg != nil {
		if cfg.Temperature > 0 {
			params.Temperature = sdk.Float(cfg.Temperature)
		}
		if cfg.TopP > 0 {
			params.TopP = sdk.Float(cfg.TopP)
		}
		if len(cfg.StopWords) > 0 {
			params.StopSequences = cfg.StopWords
		}
		if cfg.AllowThinking && c.think > 0 {
			if c.think >= int64(maxTokens) {
				return nil, nil, fmt.Errorf("anthropicclient: thinking budget %d must be less than max_tokens %d", c.think, maxTokens)
			}
			params.Thinking = sdk.ThinkingConfigParamOfEnabled(c.think)
		}
	}
	return &params, names, nil
}

func isRateLimited(err error) bool {
	return err != nil && errors.Is(err, model.ErrRateLimited)
}
