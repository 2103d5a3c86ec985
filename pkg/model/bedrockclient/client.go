// Package bedrockclient adapts the AWS Bedrock Converse API to the
// model.Client port: requests are split into system/conversational
// content blocks and a ToolConfiguration, and Converse responses
// translate back into message.Message values.
package bedrockclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
)

const defaultThinkingBudget = 16384

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client this
// adapter uses, so callers can pass either a real client or a test double.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	DefaultModel   string
	MaxTokens      int
	Temperature    float32
	ThinkingBudget int
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
	temp         float32
	think        int
}

type requestParts struct {
	modelID    string
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
	sanToCanon map[string]string
}

// New builds a Bedrock-backed model client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrockclient: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrockclient: default model identifier is required")
	}
	think := opts.ThinkingBudget
	if think <= 0 {
		think = defaultThinkingBudget
	}
	return &Client{
		runtime:      runtime,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
		think:        think,
	}, nil
}

// NewFromConfig wraps a concrete *bedrockruntime.Client built from an
// aws.Config by the caller (aws.Config construction is environment/region
// specific and out of scope for this adapter).
func NewFromConfig(rt *bedrockruntime.Client, opts Options) (*Client, error) {
	return New(rt, opts)
}

var _ model.Client = (*Client)(nil)

// Complete issues a Converse request and translates the response into a
// single aggregated message.Message.
func (c *Client) Complete(ctx context.Context, req model.Request) (message.Message, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return message.Message{}, err
	}
	output, err := c.runtime.Converse(ctx, c.buildConverseInput(parts, req))
	if err != nil {
		if isRateLimited(err) {
			return message.Message{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return message.Message{}, fmt.Errorf("bedrockclient: converse: %w", err)
	}
	return translateResponse(output, parts.sanToCanon)
}

// Embed is unsupported: Converse is a chat-completion endpoint with no
// embedding vector output.
func (c *Client) Embed(ctx context.Context, content []message.Block, dimensions int) ([]float64, error) {
	return nil, model.ErrEmbeddingUnsupported
}

// EmbedBatch is unsupported for the same reason as Embed.
func (c *Client) EmbedBatch(ctx context.Context, contents [][]message.Block, dimensions int) ([][]float64, error) {
	return nil, model.ErrEmbeddingUnsupported
}

func (c *Client) prepareRequest(req model.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrockclient: messages are required")
	}
	toolConfig, canonToSan, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	if toolConfig == nil && messagesHaveToolBlocks(req.Messages) {
		return nil, errors.New("bedrockclient: messages contain tool calls/results but no tools were provided in the request")
	}
	msgs, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, err
	}
	return &requestParts{
		modelID:    c.defaultModel,
		messages:   msgs,
		system:     system,
		toolConfig: toolConfig,
		sanToCanon: sanToCanon,
	}, nil
}

func (c *Client) buildConverseInput(parts *requestParts, req model.Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.CompletionConfig); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) buildConverseStreamInput(parts *requestParts, req model.Request) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.CompletionConfig); cfg != nil {
		input.InferenceConfig = cfg
	}
	if req.CompletionConfig != nil && req.CompletionConfig.AllowThinking {
		fields := map[string]any{
			"thinking": map[string]any{"type": "enabled", "budget_tokens": c.think},
		}
		input.AdditionalModelRequestFields = document.NewLazyDocument(&fields)
	}
	return input
}

func (c *Client) streamOptions(req model.Request) []func(*bedrockruntime.Options) {
	if req.CompletionConfig == nil || !req.CompletionConfig.AllowThinking {
		return nil
	}
	return []func(*bedrockruntime.Options){
		bedrockruntime.WithAPIOptions(
			smithyhttp.AddHeaderValue("x-amzn-bedrock-beta", "interleaved-thinking-2025-05-14"),
		),
	}
}

func (c *Client) inferenceConfig(cfg *message.CompletionConfig) *brtypes.InferenceConfiguration {
	maxTokens := c.maxTok
	temp := c.temp
	if cfg != nil {
		if cfg.MaxTokens > 0 {
			maxTokens = cfg.MaxTokens
		}
		if cfg.Temperature > 0 {
			temp = float32(cfg.Temperature)
		}
	}
	var out brtypes.InferenceConfiguration
	if maxTokens > 0 {
		out.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if temp > 0 {
		out.Temperature = aws.Float32(temp)
	}
	if cfg != nil && len(cfg.StopWords) > 0 {
		out.StopSequences = cfg.StopWords
	}
	if out.MaxTokens == nil && out.Temperature == nil && len(out.StopSequences) == 0 {
		return nil
	}
	return &out
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

func messagesHaveToolBlocks(msgs []message.Message) bool {
	for _, m := range msgs {
		if m.Role == message.RoleTool || len(m.ToolCalls) > 0 {
			return true
		}
	}
	return false
}

func toDocument(raw []byte) document.Interface {
	if len(raw) == 0 {
		m := map[string]any{"type": "object"}
		return document.NewLazyDocument(&m)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		m := map[string]any{"type": "object"}
		return document.NewLazyDocument(&m)
	}
	return document.NewLazyDocument(&decoded)
}

func decodeDocument(doc document.Interface) []byte {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}

// sanitizeToolName maps a canonical tool name onto Bedrock's
// [a-zA-Z0-9_-]{1,64} alphabet, truncating and appending a stable hash
// suffix when the sanitized form would exceed 64 characters.
func sanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	const hashLen = 8
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	prefixLen := maxLen - (1 + hashLen)
	if prefixLen < 1 {
		prefixLen = 1
	}
	return sanitized[:prefixLen] + "_" + suffix
}

func isProviderSafeToolUseID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
