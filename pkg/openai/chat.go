package openai

import "encoding/json"

// ChatRequest is a Chat Completions request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []ChatTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatMessage is one flattened conversation turn.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatTool declares a function tool.
type ChatTool struct {
	Type     string       `json:"type"`
	Function ChatFunction `json:"function"`
}

type ChatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is an assistant-issued function call.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Index    *int         `json:"index,omitempty"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatResponse is a non-streaming Chat Completions reply.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
	Error   *APIError    `json:"error,omitempty"`
}

type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ChatChoiceReply `json:"message"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// ChatChoiceReply is the assistant message of one choice. Non-standard
// fields (reasoning_content and friends) land in Extra.
type ChatChoiceReply struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatStreamChunk is one parsed Chat Completions SSE chunk. Err is set on
// transport-level failures; the channel closes after it.
type ChatStreamChunk struct {
	ID      string             `json:"id"`
	Choices []ChatStreamChoice `json:"choices"`
	Usage   *ChatUsage         `json:"usage,omitempty"`
	Error   *APIError          `json:"error,omitempty"`

	Err error `json:"-"`
}

type ChatStreamChoice struct {
	Index        int        `json:"index"`
	Delta        ChatDelta  `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// ChatDelta is an incremental message fragment. Keys outside the standard
// field set are captured in Extra for custom-field surfacing.
type ChatDelta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// StandardFields are the Chat Completions keys that are never treated as
// custom fields.
var StandardFields = map[string]struct{}{
	"content": {}, "role": {}, "name": {}, "refusal": {},
	"tool_calls": {}, "tool_call_id": {}, "function_call": {},
	"finish_reason": {}, "index": {}, "logprobs": {}, "delta": {}, "usage": {},
}

func (d *ChatDelta) UnmarshalJSON(data []byte) error {
	type plain ChatDelta
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = ChatDelta(p)
	d.Extra = extractExtra(data)
	return nil
}

func (m *ChatChoiceReply) UnmarshalJSON(data []byte) error {
	type plain ChatChoiceReply
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = ChatChoiceReply(p)
	m.Extra = extractExtra(data)
	return nil
}

// extractExtra returns the keys outside StandardFields, or nil.
func extractExtra(data []byte) map[string]json.RawMessage {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil
	}
	var extra map[string]json.RawMessage
	for key, val := range all {
		if _, standard := StandardFields[key]; standard {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[key] = val
	}
	return extra
}
