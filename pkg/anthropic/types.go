// Package anthropic models the Anthropic Messages API wire format: request
// bodies, response envelopes, and the SSE stream events.
package anthropic

import (
	"encoding/json"
	"fmt"
)

// Content block types.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
)

// Request is a Messages API request body.
type Request struct {
	Model         string    `json:"model"`
	System        System    `json:"system,omitempty"`
	Messages      []Message `json:"messages"`
	Tools         []Tool    `json:"tools,omitempty"`
	Thinking      *Thinking `json:"thinking,omitempty"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	TopK          *int      `json:"top_k,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`

	// Reasoning is not part of the Anthropic surface; override rules
	// inject it to steer the openai adapter.
	Reasoning *ReasoningOverride `json:"reasoning,omitempty"`
}

// ReasoningOverride carries an effort injected by a config patch.
type ReasoningOverride struct {
	Effort string `json:"effort,omitempty"`
}

// Thinking enables extended thinking with a token budget.
type Thinking struct {
	Type         string `json:"type,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Tool is a client-declared tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is a message's block list. The wire form may be a bare string,
// which decodes to a single text block.
type Content []ContentBlock

func (c *Content) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*c = Content{{Type: BlockText, Text: plain}}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content is neither string nor block list: %w", err)
	}
	*c = blocks
	return nil
}

// System is the top-level system prompt: a bare string or a list of text
// blocks on the wire.
type System []ContentBlock

func (s *System) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*s = System{{Type: BlockText, Text: plain}}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system is neither string nor block list: %w", err)
	}
	*s = blocks
	return nil
}

// Text concatenates the system's text blocks.
func (s System) Text() string {
	var out string
	for _, block := range s {
		if block.Type == BlockText {
			out += block.Text
		}
	}
	return out
}

// ContentBlock is one element of a message's content array. Exactly the
// fields for its Type are meaningful; MarshalJSON emits only those.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking                          string `json:"thinking,omitempty"`
	Signature                         string `json:"signature,omitempty"`
	ExtractedOpenAIRSID               string `json:"extracted_openai_rs_id,omitempty"`
	ExtractedOpenAIRSEncryptedContent string `json:"extracted_openai_rs_encrypted_content,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image
	Source map[string]any `json:"source,omitempty"`
}

// MarshalJSON emits the exact field set for the block's type. Text and
// thinking blocks always carry their text field, even when empty, so
// stream block-start events have the documented shape.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": b.Type}

	switch b.Type {
	case BlockText:
		out["text"] = b.Text
	case BlockThinking:
		out["thinking"] = b.Thinking
		if b.Signature != "" {
			out["signature"] = b.Signature
		}
		if b.ExtractedOpenAIRSID != "" {
			out["extracted_openai_rs_id"] = b.ExtractedOpenAIRSID
		}
		if b.ExtractedOpenAIRSEncryptedContent != "" {
			out["extracted_openai_rs_encrypted_content"] = b.ExtractedOpenAIRSEncryptedContent
		}
	case BlockToolUse:
		out["id"] = b.ID
		out["name"] = b.Name
		if len(b.Input) > 0 {
			out["input"] = json.RawMessage(b.Input)
		} else {
			out["input"] = map[string]any{}
		}
	case BlockToolResult:
		out["tool_use_id"] = b.ToolUseID
		if len(b.Content) > 0 {
			out["content"] = json.RawMessage(b.Content)
		}
		if b.IsError {
			out["is_error"] = true
		}
	case BlockImage:
		out["source"] = b.Source
	default:
		return nil, fmt.Errorf("unknown content block type %q", b.Type)
	}

	return json.Marshal(out)
}

// TextContent flattens a tool_result content payload to plain text.
func (b ContentBlock) TextContent() string {
	if len(b.Content) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(b.Content, &plain); err == nil {
		return plain
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err != nil {
		return string(b.Content)
	}
	var out string
	for _, inner := range blocks {
		if inner.Type == BlockText {
			out += inner.Text
		}
	}
	return out
}

// Response is a Messages API response envelope.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage is the token accounting snapshot.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Stop reasons.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopToolUse      = "tool_use"
	StopStopSequence = "stop_sequence"
)
