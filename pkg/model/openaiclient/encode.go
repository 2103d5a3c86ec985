package openaiclient

import (
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
)

// toolNameMap round-trips between our canonical tool names and OpenAI's
// function-name alphabet ([a-zA-Z0-9_-]{1,64}).
type toolNameMap struct {
	canonToSan map[string]string
	sanToCanon map[string]string
}

func encodeTools(defs []model.ToolDefinition) ([]openai.ChatCompletionToolParam, *toolNameMap, error) {
	names := &toolNameMap{canonToSan: map[string]string{}, sanToCanon: map[string]string{}}
	if len(defs) == 0 {
		return nil, names, nil
	}
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := names.sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, fmt.Errorf("openaiclient: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		names.sanToCanon[sanitized] = def.Name
		names.canonToSan[def.Name] = sanitized

		schema, err := toolParameters(def.InputSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("openaiclient: tool %q schema: %w", def.Name, err)
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        sanitized,
				Description: openai.String(def.Description),
				Parameters:  schema,
			},
		})
	}
	return tools, names, nil
}

func toolParameters(raw []byte) (shared.FunctionParameters, error) {
	if len(raw) == 0 {
		return shared.FunctionParameters{"type": "object"}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return shared.FunctionParameters(m), nil
}

func sanitizeToolName(in string) string {
	if isProviderSafeToolName(in) {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// encodeMessages renders our role-tagged message slice into OpenAI's chat
// message union. Unlike Anthropic, OpenAI accepts tool results as individual
// "tool" role messages directly, so no folding is required here.
func encodeMessages(msgs []message.Message, names *toolNameMap) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			if text := m.Text(); text != "" {
				out = append(out, openai.SystemMessage(text))
			}
		case message.RoleUser:
			if text := m.Text(); text != "" {
				out = append(out, openai.UserMessage(text))
			}
		case message.RoleTool:
			if m.ToolCallID == "" {
				return nil, errors.New("openaiclient: tool message missing tool_call_id")
			}
			out = append(out, openai.ToolMessage(m.Text(), m.ToolCallID))
		case message.RoleAssistant:
			assistant := openai.AssistantMessage(m.Text())
			if len(m.ToolCalls) > 0 {
				calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					sanitized, ok := names.canonToSan[tc.Name]
					if !ok {
						return nil, fmt.Errorf("openaiclient: tool call references %q which is not in the current tool configuration", tc.Name)
					}
					calls = append(calls, openai.ChatCompletionMessageToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      sanitized,
							Arguments: string(tc.Arguments),
						},
					})
				}
				assistant.OfAssistant.ToolCalls = calls
			}
			out = append(out, assistant)
		default:
			return nil, fmt.Errorf("openaiclient: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openaiclient: at least one message is required")
	}
	return out, nil
}

func translateResponse(resp *openai.ChatCompletion, names *toolNameMap) (message.Message, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return message.Message{}, errors.New("openaiclient: response had no choices")
	}
	choice := resp.Choices[0]
	out := message.Message{Role: message.RoleAssistant}
	if text := choice.Message.Content; text != "" {
		out.Content = append(out.Content, message.TextBlock{Text: text})
	}
	for _, call := range choice.Message.ToolCalls {
		canonical := call.Function.Name
		if c, ok := names.sanToCanon[call.Function.Name]; ok {
			canonical = c
		}
		out.ToolCalls = append(out.ToolCalls, message.ToolCallRequest{
			ID:        call.ID,
			Name:      canonical,
			Arguments: []byte(call.Function.Arguments),
		})
	}
	out.Usage = message.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	out.StopReason = translateStopReason(string(choice.FinishReason))
	return out, nil
}

func translateStopReason(reason string) message.StopReason {
	switch reason {
	case "stop":
		return message.StopReasonStop
	case "length":
		return message.StopReasonLength
	case "tool_calls":
		return message.StopReasonToolCall
	default:
		return message.StopReasonNone
	}
}
