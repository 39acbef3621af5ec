// Package openai models the downstream OpenAI wire formats (Responses API
// and Chat Completions) and provides HTTP/SSE clients for both.
package openai

import "encoding/json"

// Responses API item types.
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
	ItemReasoning          = "reasoning"
)

// ResponsesRequest is a Responses API request body.
type ResponsesRequest struct {
	Model           string          `json:"model"`
	Input           []Item          `json:"input"`
	Tools           []ResponsesTool `json:"tools,omitempty"`
	Reasoning       *Reasoning      `json:"reasoning,omitempty"`
	Include         []string        `json:"include,omitempty"`
	Store           *bool           `json:"store,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	PromptCacheKey  string          `json:"prompt_cache_key,omitempty"`
}

// Reasoning configures hidden chain-of-thought generation.
type Reasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ResponsesTool is a tool declaration: a function tool or a builtin such
// as web_search.
type ResponsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Item is a Responses API input or output item. Exactly the fields for its
// Type are meaningful.
type Item struct {
	Type string `json:"type"`

	// message
	Role    string        `json:"role,omitempty"`
	Content []ItemContent `json:"content,omitempty"`

	// function_call / function_call_output
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`

	// reasoning
	ID               string        `json:"id,omitempty"`
	Summary          []SummaryPart `json:"summary,omitempty"`
	EncryptedContent string        `json:"encrypted_content,omitempty"`
}

// ItemContent is one part of a message item's content.
type ItemContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// SummaryPart is one part of a reasoning item's summary.
type SummaryPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SummaryText concatenates a reasoning item's summary parts.
func (i Item) SummaryText() string {
	var out string
	for _, part := range i.Summary {
		out += part.Text
	}
	return out
}

// ResponsesResponse is a non-streaming Responses API reply.
type ResponsesResponse struct {
	ID                string             `json:"id"`
	Status            string             `json:"status,omitempty"`
	Model             string             `json:"model,omitempty"`
	Output            []Item             `json:"output"`
	Usage             *ResponsesUsage    `json:"usage,omitempty"`
	Error             *APIError          `json:"error,omitempty"`
	IncompleteDetails *IncompleteDetails `json:"incomplete_details,omitempty"`
}

type ResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// APIError is the error object OpenAI embeds in replies and stream events.
type APIError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Responses API stream event types handled by the proxy.
const (
	StreamOutputItemAdded      = "response.output_item.added"
	StreamOutputItemDone       = "response.output_item.done"
	StreamOutputTextDelta      = "response.output_text.delta"
	StreamReasoningSummaryText = "response.reasoning_summary_text.delta"
	StreamFunctionCallArgs     = "response.function_call_arguments.delta"
	StreamCompleted            = "response.completed"
	StreamFailed               = "response.failed"
	StreamError                = "error"
)

// ResponsesStreamEvent is one parsed Responses API SSE event. Err is set
// on transport-level failures; the channel closes after it.
type ResponsesStreamEvent struct {
	Type        string             `json:"type"`
	Item        *Item              `json:"item,omitempty"`
	Delta       string             `json:"delta,omitempty"`
	OutputIndex int                `json:"output_index,omitempty"`
	Response    *ResponsesResponse `json:"response,omitempty"`
	Error       *APIError          `json:"error,omitempty"`

	Err error `json:"-"`
}
