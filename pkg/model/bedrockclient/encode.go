package bedrockclient

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
)

// encodeTools builds a ToolConfiguration from our tool definitions plus
// the canonical<->sanitized name maps later used to translate tool_use
// names back and forth across the wire.
func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf("bedrockclient: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized
		if def.Description == "" {
			return nil, nil, nil, fmt.Errorf("bedrockclient: tool %q is missing description", def.Name)
		}
		spec := brtypes.ToolSpecification{
			Name:        awsString(sanitized),
			Description: awsString(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(def.InputSchema)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(toolList) == 0 {
		return nil, nil, nil, nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, canonToSan, sanToCanon, nil
}

// encodeMessages renders our role-tagged message slice into Bedrock's
// Converse message list. Bedrock's tool_result blocks live inside a
// "user"-role Message just like ours (message.RoleTool), so each TOOL
// message maps onto its own content block within the surrounding
// conversation rather than requiring the fold-into-one-turn treatment
// Anthropic's Messages API needs.
func encodeMessages(msgs []message.Message, canonToSan map[string]string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	toolUseIDs := make(map[string]string)
	next := 0
	toolUseIDFor := func(canonical string) string {
		if canonical == "" {
			return ""
		}
		if isProviderSafeToolUseID(canonical) {
			return canonical
		}
		if id, ok := toolUseIDs[canonical]; ok {
			return id
		}
		next++
		id := fmt.Sprintf("t%d", next)
		toolUseIDs[canonical] = id
		return id
	}

	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))

	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: text})
			}
			continue
		}

		var blocks []brtypes.ContentBlock
		var role brtypes.ConversationRole

		switch m.Role {
		case message.RoleUser:
			role = brtypes.ConversationRoleUser
			if text := m.Text(); text != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: text})
			}
		case message.RoleTool:
			role = brtypes.ConversationRoleUser
			if m.ToolCallID == "" {
				return nil, nil, errors.New("bedrockclient: tool message missing tool_call_id")
			}
			tr := brtypes.ToolResultBlock{
				ToolUseId: awsString(toolUseIDFor(m.ToolCallID)),
				Content: []brtypes.ToolResultContentBlock{
					&brtypes.ToolResultContentBlockMemberText{Value: m.Text()},
				},
			}
			if m.IsError {
				tr.Status = brtypes.ToolResultStatusError
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
		case message.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
			if text := m.Text(); text != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: text})
			}
			for _, tc := range m.ToolCalls {
				sanitized, ok := canonToSan[tc.Name]
				if !ok {
					return nil, nil, fmt.Errorf("bedrockclient: tool_use references %q which is not in the current tool configuration", tc.Name)
				}
				tb := brtypes.ToolUseBlock{
					Name:      awsString(sanitized),
					ToolUseId: awsString(toolUseIDFor(tc.ID)),
					Input:     toDocument(tc.Arguments),
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			}
		default:
			return nil, nil, fmt.Errorf("bedrockclient: unsupported message role %q", m.Role)
		}

		if len(blocks) == 0 {
			continue
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}

	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrockclient: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func translateResponse(output *bedrockruntime.ConverseOutput, sanToCanon map[string]string) (message.Message, error) {
	if output == nil {
		return message.Message{}, errors.New("bedrockclient: response is nil")
	}
	out := message.Message{Role: message.RoleAssistant}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value != "" {
					out.Content = append(out.Content, message.TextBlock{Text: v.Value})
				}
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					name = *v.Value.Name
					if canonical, ok := sanToCanon[name]; ok {
						name = canonical
					}
				}
				var id string
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				out.ToolCalls = append(out.ToolCalls, message.ToolCallRequest{
					ID:        id,
					Name:      name,
					Arguments: decodeDocument(v.Value.Input),
				})
			}
		}
	}
	if usage := output.Usage; usage != nil {
		out.Usage = message.Usage{
			PromptTokens:     int(ptrValue(usage.InputTokens)),
			CompletionTokens: int(ptrValue(usage.OutputTokens)),
			TotalTokens:      int(ptrValue(usage.TotalTokens)),
		}
	}
	out.StopReason = translateStopReason(string(output.StopReason))
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

func awsString(s string) *string { return &s }
