// Package openaiclient adapts github.com/openai/openai-go's Chat
// Completions and Embeddings APIs to the model.Client port, the same way
// anthropicclient adapts the Anthropic Messages API: requests translate
// into openai-go params and responses/stream events translate back into
// message.Message values.
package openaiclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
)

// ChatClient captures the subset of the openai-go client this adapter uses.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// EmbeddingsClient captures the subset of the openai-go client used for
// Embed/EmbedBatch.
type EmbeddingsClient interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	DefaultModel    string
	EmbeddingModel  string
	MaxTokens       int
}

// Client implements model.Client via OpenAI Chat Completions + Embeddings.
type Client struct {
	chat       ChatClient
	embeddings EmbeddingsClient
	model      string
	embedModel string
	maxTok     int
}

// New builds an OpenAI-backed model client from the provided clients and
// options. embeddings may be nil if the caller never exercises Embed.
func New(chat ChatClient, embeddings EmbeddingsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openaiclient: chat client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openaiclient: default model is required")
	}
	return &Client{
		chat:       chat,
		embeddings: embeddings,
		model:      modelID,
		embedModel: opts.EmbeddingModel,
		maxTok:     opts.MaxTokens,
	}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP
// client, reading OPENAI_API_KEY-compatible defaults.
func NewFromAPIKey(apiKey, defaultModel, embeddingModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openaiclient: api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, &oc.Embeddings, Options{
		DefaultModel:   defaultModel,
		EmbeddingModel: embeddingModel,
		MaxTokens:      4096,
	})
}

var _ model.Client = (*Client)(nil)

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req model.Request) (message.Message, error) {
	params, names, err := c.prepareRequest(req)
	if err != nil {
		return message.Message{}, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return message.Message{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return message.Message{}, fmt.Errorf("openaiclient: chat completions: %w", err)
	}
	return translateResponse(resp, names)
}

// Embed computes a single embedding vector via the Embeddings API.
func (c *Client) Embed(ctx context.Context, content []message.Block, dimensions int) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, [][]message.Block{content}, dimensions)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("openaiclient: embeddings response had no vectors")
	}
	return vectors[0], nil
}

// EmbedBatch computes embedding vectors for a batch of content blocks.
func (c *Client) EmbedBatch(ctx context.Context, contents [][]message.Block, dimensions int) ([][]float64, error) {
	if c.embeddings == nil {
		return nil, fmt.Errorf("%w: no embeddings client configured", model.ErrEmbeddingUnsupported)
	}
	if len(contents) == 0 {
		return nil, errors.New("openaiclient: contents are required")
	}
	inputs := make([]string, len(contents))
	for i, blocks := range contents {
		inputs[i] = (message.Message{Content: blocks}).Text()
	}
	modelID := c.embedModel
	if modelID == "" {
		return nil, errors.New("openaiclient: embedding model is required")
	}
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(modelID),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	}
	if dimensions > 0 {
		params.Dimensions = openai.Int(int64(dimensions))
	}
	resp, err := c.embeddings.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openaiclient: embeddings: %w", err)
	}
	out := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (c *Client) prepareRequest(req model.Request) (*openai.ChatCompletionNewParams, *toolNameMap, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("openaiclient: messages are required")
	}
	tools, names, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := encodeMessages(req.Messages, names)
	if err != nil {
		return nil, nil, err
	}

	cfg := req.CompletionConfig
	maxTokens := c.maxTok
	if cfg != nil && cfg.MaxTokens > 0 {
		maxTokens = cfg.MaxTokens
	}

	params := &openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: msgs,
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if cfg != nil {
		if cfg.Temperature > 0 {
			params.Temperature = openai.Float(cfg.Temperature)
		}
		if cfg.TopP > 0 {
			params.TopP = openai.Float(cfg.TopP)
		}
		if cfg.FrequencyPenalty > 0 {
			params.FrequencyPenalty = openai.Float(cfg.FrequencyPenalty)
		}
		if len(cfg.StopWords) > 0 {
			params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: cfg.StopWords}
		}
		if cfg.FormatJSON {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
			}
		}
	}
	return params, names, nil
}

func isRateLimited(err error) bool {
	return err != nil && errors.Is(err, model.ErrRateLimited)
}
