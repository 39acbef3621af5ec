// Package adapter translates between the Anthropic Messages surface and
// the OpenAI Responses / Chat Completions wire formats, in both
// directions, including the streaming event correlator.
package adapter

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelrelay/modelrelay/pkg/anthropic"
	"github.com/modelrelay/modelrelay/pkg/config"
	"github.com/modelrelay/modelrelay/pkg/openai"
)

// ErrInvalidRequest marks translation failures caused by the inbound
// request shape: unknown block types, malformed tool calls.
var ErrInvalidRequest = errors.New("invalid request")

// ToResponses converts an Anthropic request into a Responses API request.
func ToResponses(req *anthropic.Request, model string, cfg config.OpenAIConfig) (*openai.ResponsesRequest, error) {
	out := &openai.ResponsesRequest{
		Model:           model,
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
	}

	if text := req.System.Text(); text != "" {
		out.Input = append(out.Input, openai.Item{
			Type:    openai.ItemMessage,
			Role:    "system",
			Content: []openai.ItemContent{{Type: "input_text", Text: text}},
		})
	}

	for _, msg := range req.Messages {
		items, err := messageToItems(msg)
		if err != nil {
			return nil, err
		}
		out.Input = append(out.Input, items...)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.ResponsesTool{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		})
	}
	// First-party search stays available even though web-search tool
	// declarations are stripped upstream.
	out.Tools = append(out.Tools, openai.ResponsesTool{Type: "web_search"})

	out.Reasoning = reasoningFor(req, cfg)

	return out, nil
}

// reasoningFor resolves the reasoning effort: a config-patch override wins,
// then the thinking budget through the threshold table, then the default.
func reasoningFor(req *anthropic.Request, cfg config.OpenAIConfig) *openai.Reasoning {
	effort := cfg.ReasoningEffortDefault
	switch {
	case req.Reasoning != nil && req.Reasoning.Effort != "":
		effort = req.Reasoning.Effort
	case req.Thinking != nil && req.Thinking.BudgetTokens > 0:
		effort = cfg.ReasoningThresholds.EffortForBudget(req.Thinking.BudgetTokens)
	}

	reasoning := &openai.Reasoning{Effort: effort}
	if effort != "minimal" {
		reasoning.Summary = "auto"
	}
	return reasoning
}

// messageToItems expands one Anthropic message into Responses API items.
// Contiguous text and image blocks collapse into one message item;
// reasoning references, function calls, and outputs are standalone items.
func messageToItems(msg anthropic.Message) ([]openai.Item, error) {
	contentType := "input_text"
	if msg.Role == "assistant" {
		contentType = "output_text"
	}

	var items []openai.Item
	var parts []openai.ItemContent

	flush := func() {
		if len(parts) == 0 {
			return
		}
		items = append(items, openai.Item{
			Type:    openai.ItemMessage,
			Role:    msg.Role,
			Content: parts,
		})
		parts = nil
	}

	for _, block := range msg.Content {
		switch block.Type {
		case anthropic.BlockText:
			parts = append(parts, openai.ItemContent{Type: contentType, Text: block.Text})

		case anthropic.BlockImage:
			parts = append(parts, openai.ItemContent{Type: "input_image", ImageURL: imageURL(block.Source)})

		case anthropic.BlockThinking:
			switch {
			case block.ExtractedOpenAIRSEncryptedContent != "":
				flush()
				items = append(items, openai.Item{
					Type:             openai.ItemReasoning,
					ID:               block.ExtractedOpenAIRSID,
					EncryptedContent: block.ExtractedOpenAIRSEncryptedContent,
				})
			case block.ExtractedOpenAIRSID != "":
				flush()
				items = append(items, openai.Item{
					Type: openai.ItemReasoning,
					ID:   block.ExtractedOpenAIRSID,
				})
			default:
				// No reasoning reference to replay: degrade to visible text.
				parts = append(parts, openai.ItemContent{Type: contentType, Text: thinkTag(block.Thinking)})
			}

		case anthropic.BlockToolUse:
			if err := validateToolUse(block); err != nil {
				return nil, err
			}
			flush()
			items = append(items, openai.Item{
				Type:      openai.ItemFunctionCall,
				CallID:    block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})

		case anthropic.BlockToolResult:
			flush()
			items = append(items, openai.Item{
				Type:   openai.ItemFunctionCallOutput,
				CallID: block.ToolUseID,
				Output: block.TextContent(),
			})

		default:
			return nil, fmt.Errorf("%w: unknown content block type %q", ErrInvalidRequest, block.Type)
		}
	}
	flush()

	return items, nil
}

// ToChat converts an Anthropic request into a Chat Completions request.
// Reasoning references are not replayed on this path; only the final
// turn's thinking text is carried forward.
func ToChat(req *anthropic.Request, model string) (*openai.ChatRequest, error) {
	out := &openai.ChatRequest{
		Model:       model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}

	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
		if out.MaxTokens < 16 {
			out.MaxTokens = 16
		}
	}

	if text := req.System.Text(); text != "" {
		out.Messages = append(out.Messages, openai.ChatMessage{Role: "system", Content: text})
	}

	finalTurn := lastUserIndex(req.Messages)

	for i, msg := range req.Messages {
		converted, err := messageToChat(msg, i > finalTurn)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.ChatTool{
			Type: "function",
			Function: openai.ChatFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	return out, nil
}

// lastUserIndex returns the index of the last user-role message, or -1.
func lastUserIndex(messages []anthropic.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return i
		}
	}
	return -1
}

// messageToChat flattens one Anthropic message into chat messages.
// Thinking text is included only for messages in the final turn.
func messageToChat(msg anthropic.Message, finalTurn bool) ([]openai.ChatMessage, error) {
	var out []openai.ChatMessage
	var text string
	var toolCalls []openai.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case anthropic.BlockText:
			text += block.Text

		case anthropic.BlockThinking:
			if finalTurn && block.Thinking != "" {
				text += thinkTag(block.Thinking)
			}

		case anthropic.BlockImage:
			// Chat Completions carries plain string content on this path;
			// images have no representation and are dropped.

		case anthropic.BlockToolUse:
			if err := validateToolUse(block); err != nil {
				return nil, err
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})

		case anthropic.BlockToolResult:
			out = append(out, openai.ChatMessage{
				Role:       "tool",
				Content:    block.TextContent(),
				ToolCallID: block.ToolUseID,
			})

		default:
			return nil, fmt.Errorf("%w: unknown content block type %q", ErrInvalidRequest, block.Type)
		}
	}

	if text != "" || len(toolCalls) > 0 {
		converted := openai.ChatMessage{Role: msg.Role, Content: text, ToolCalls: toolCalls}
		// Tool results were already emitted as their own tool messages;
		// keep conversation order by placing the main message first.
		out = append([]openai.ChatMessage{converted}, out...)
	}

	return out, nil
}

func validateToolUse(block anthropic.ContentBlock) error {
	if block.Name == "" {
		return fmt.Errorf("%w: tool_use block missing name", ErrInvalidRequest)
	}
	if len(block.Input) == 0 || !json.Valid(block.Input) {
		return fmt.Errorf("%w: tool_use block %q missing input", ErrInvalidRequest, block.Name)
	}
	return nil
}

func thinkTag(text string) string {
	return "<think>" + text + "</think>"
}

// imageURL renders an Anthropic image source as a Responses API image URL.
func imageURL(source map[string]any) string {
	if source == nil {
		return ""
	}
	if u, ok := source["url"].(string); ok && u != "" {
		return u
	}
	mediaType, _ := source["media_type"].(string)
	data, _ := source["data"].(string)
	if data == "" {
		return ""
	}
	return "data:" + mediaType + ";base64," + data
}
