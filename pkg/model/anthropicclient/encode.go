package anthropicclient

import (
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
)

// toolNameMap round-trips between our canonical tool names and Anthropic's
// sanitized tool-name alphabet ([a-zA-Z0-9_-]{1,128}).
type toolNameMap struct {
	canonToSan map[string]string
	sanToCanon map[string]string
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ToolUnionParam, *toolNameMap, error) {
	names := &toolNameMap{canonToSan: map[string]string{}, sanToCanon: map[string]string{}}
	if len(defs) == 0 {
		return nil, names, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := names.sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, fmt.Errorf("anthropicclient: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		names.sanToCanon[sanitized] = def.Name
		names.canonToSan[def.Name] = sanitized
		if def.Description == "" {
			return nil, nil, fmt.Errorf("anthropicclient: tool %q is missing description", def.Name)
		}
		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropicclient: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	return toolList, names, nil
}

func toolInputSchema(raw []byte) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// sanitizeToolName replaces any rune outside Anthropic's allowed tool-name
// alphabet with '_'.
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
	return string(out)
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 128 {
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

// encodeMessages splits msgs into Anthropic's system-prompt text blocks and
// the user/assistant conversation. Consecutive TOOL-role messages are
// folded into a single user turn of tool_result blocks, matching
// Anthropic's requirement that every tool_use in an assistant turn be
// answered by tool_result content in the very next user turn.
func encodeMessages(msgs []message.Message, names *toolNameMap) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	var pendingToolResults []sdk.ContentBlockParamUnion
	flushToolResults := func() {
		if len(pendingToolResults) == 0 {
			return
		}
		conversation = append(conversation, sdk.NewUserMessage(pendingToolResults...))
		pendingToolResults = nil
	}

	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			flushToolResults()
			for _, b := range m.Content {
				if tb, ok := b.(message.TextBlock); ok && tb.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: tb.Text})
				}
			}
		case message.RoleTool:
			if m.ToolCallID == "" {
				return nil, nil, errors.New("anthropicclient: tool message missing tool_call_id")
			}
			pendingToolResults = append(pendingToolResults, sdk.NewToolResultBlock(m.ToolCallID, m.Text(), m.IsError))
		case message.RoleUser:
			flushToolResults()
			blocks, err := encodeContentBlocks(m.Content)
			if err != nil {
				return nil, nil, err
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case message.RoleAssistant:
			flushToolResults()
			blocks, err := encodeContentBlocks(m.Content)
			if err != nil {
				return nil, nil, err
			}
			for _, tc := range m.ToolCalls {
				sanitized, ok := names.canonToSan[tc.Name]
				if !ok {
					return nil, nil, fmt.Errorf("anthropicclient: tool_use references %q which is not in the current tool configuration", tc.Name)
				}
				var input any = json.RawMessage(tc.Arguments)
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, sanitized))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropicclient: unsupported message role %q", m.Role)
		}
	}
	flushToolResults()

	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropicclient: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeContentBlocks(content []message.Block) ([]sdk.ContentBlockParamUnion, error) {
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(content))
	for _, b := range content {
		switch v := b.(type) {
		case message.TextBlock:
			if v.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(v.Text))
			}
		default:
			return nil, fmt.Errorf("anthropicclient: unsupported content block %T", b)
		}
	}
	return blocks, nil
}

func translateResponse(msg *sdk.Message, names *toolNameMap) (message.Message, error) {
	if msg == nil {
		return message.Message{}, errors.New("anthropicclient: response message is nil")
	}
	out := message.Message{Role: message.RoleAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				out.Content = append(out.Content, message.TextBlock{Text: block.Text})
			}
		case "tool_use":
			canonical := block.Name
			if c, ok := names.sanToCanon[block.Name]; ok {
				canonical = c
			}
			out.ToolCalls = append(out.ToolCalls, message.ToolCallRequest{
				ID:        block.ID,
				Name:      canonical,
				Arguments: []byte(block.Input),
			})
		}
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		out.Usage = message.Usage{
			PromptTokens:     int(u.InputTokens),
			CompletionTokens: int(u.OutputTokens),
			TotalTokens:      int(u.InputTokens + u.OutputTokens),
		}
	}
	out.StopReason = translateStopReason(string(msg.StopReason))
	return out, nil
}

func translateStopReason(reason string) message.StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return message.StopReasonStop
	case "max_tokens":
		return message.StopReasonLength
	case "tool_use":
		return message.StopReasonToolCall
	default:
		return message.StopReasonNone
	}
}
