package adapter

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/pkg/anthropic"
	"github.com/modelrelay/modelrelay/pkg/openai"
)

// CustomFieldMapping routes non-standard downstream message fields to
// Anthropic block types.
var CustomFieldMapping = map[string]string{
	"reasoning_content": anthropic.BlockThinking,
	"thinking_content":  anthropic.BlockThinking,
	"reasoning":         anthropic.BlockThinking,
	"thinking":          anthropic.BlockThinking,
}

// NewMessageID mints a fresh envelope id.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// MapStopReason converts an OpenAI finish reason to an Anthropic stop
// reason.
func MapStopReason(finish string) string {
	switch finish {
	case "stop":
		return anthropic.StopEndTurn
	case "length":
		return anthropic.StopMaxTokens
	case "tool_calls":
		return anthropic.StopToolUse
	case "content_filter":
		return anthropic.StopStopSequence
	default:
		return anthropic.StopEndTurn
	}
}

// FromResponses converts a non-streaming Responses API reply into an
// Anthropic message.
func FromResponses(resp *openai.ResponsesResponse, model string) *anthropic.Response {
	out := &anthropic.Response{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    []anthropic.ContentBlock{},
		StopReason: anthropic.StopEndTurn,
	}

	for _, item := range resp.Output {
		switch item.Type {
		case openai.ItemReasoning:
			out.Content = append(out.Content, anthropic.ContentBlock{
				Type:                              anthropic.BlockThinking,
				Thinking:                          item.SummaryText(),
				ExtractedOpenAIRSID:               item.ID,
				ExtractedOpenAIRSEncryptedContent: item.EncryptedContent,
			})

		case openai.ItemMessage:
			for _, part := range item.Content {
				if part.Type == "output_text" || part.Type == "text" {
					out.Content = append(out.Content, anthropic.ContentBlock{
						Type: anthropic.BlockText,
						Text: part.Text,
					})
				}
			}

		case openai.ItemFunctionCall:
			out.Content = append(out.Content, anthropic.ContentBlock{
				Type:  anthropic.BlockToolUse,
				ID:    item.CallID,
				Name:  item.Name,
				Input: argumentsJSON(item.Arguments),
			})
			out.StopReason = anthropic.StopToolUse
		}
	}

	if resp.IncompleteDetails != nil && resp.IncompleteDetails.Reason == "max_output_tokens" {
		out.StopReason = anthropic.StopMaxTokens
	}

	if resp.Usage != nil {
		out.Usage = anthropic.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		}
	}

	return out
}

// FromChat converts a non-streaming Chat Completions reply into an
// Anthropic message. Custom fields mapped to thinking blocks come first,
// mirroring the order reasoning precedes content in generated output.
func FromChat(resp *openai.ChatResponse, model string) *anthropic.Response {
	out := &anthropic.Response{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    []anthropic.ContentBlock{},
		StopReason: anthropic.StopEndTurn,
	}

	if resp.Usage != nil {
		out.Usage = anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]

	for _, field := range CustomFieldOrder(choice.Message.Extra) {
		text := stringField(choice.Message.Extra[field])
		if text == "" {
			continue
		}
		out.Content = append(out.Content, anthropic.ContentBlock{
			Type:     CustomFieldMapping[field],
			Thinking: text,
		})
	}

	if choice.Message.Content != "" {
		out.Content = append(out.Content, anthropic.ContentBlock{
			Type: anthropic.BlockText,
			Text: choice.Message.Content,
		})
	}

	for _, call := range choice.Message.ToolCalls {
		out.Content = append(out.Content, anthropic.ContentBlock{
			Type:  anthropic.BlockToolUse,
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: argumentsJSON(call.Function.Arguments),
		})
	}

	out.StopReason = MapStopReason(choice.FinishReason)

	return out
}

// customFieldPriority fixes the surfacing order of mapped custom fields.
var customFieldPriority = []string{"reasoning_content", "thinking_content", "reasoning", "thinking"}

// CustomFieldOrder returns the mapped custom fields present in extra, in
// priority order.
func CustomFieldOrder(extra map[string]json.RawMessage) []string {
	var out []string
	for _, field := range customFieldPriority {
		if _, ok := extra[field]; ok {
			out = append(out, field)
		}
	}
	return out
}

func stringField(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return ""
	}
	return text
}

// argumentsJSON coerces a function-call arguments string to valid JSON,
// quoting it when the downstream produced a bare fragment.
func argumentsJSON(arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}
	quoted, _ := json.Marshal(arguments)
	return quoted
}
