package relay

import (
	"encoding/json"

	"github.com/modelrelay/modelrelay/pkg/adapter"
	"github.com/modelrelay/modelrelay/pkg/anthropic"
	"github.com/modelrelay/modelrelay/pkg/openai"
)

// pumpResponses drains a Responses API event stream into the correlator,
// emitting Anthropic SSE events in block order.
func pumpResponses(events <-chan openai.ResponsesStreamEvent, c *adapter.Correlator) {
	if err := c.Start(); err != nil {
		return
	}

	for event := range events {
		if event.Err != nil {
			failure := Classify(event.Err)
			_ = c.Fail(failure.WireType(), failure.Message)
			return
		}

		var err error
		switch event.Type {
		case openai.StreamOutputItemAdded:
			if event.Item == nil {
				continue
			}
			switch event.Item.Type {
			case openai.ItemReasoning:
				err = c.ReasoningStart(event.Item.ID, event.Item.EncryptedContent)
			case openai.ItemFunctionCall:
				err = c.ToolStart(event.Item.CallID, event.Item.Name)
			}

		case openai.StreamReasoningSummaryText:
			err = c.ReasoningDelta(event.Delta)

		case openai.StreamOutputTextDelta:
			err = c.TextDelta(event.Delta)

		case openai.StreamFunctionCallArgs:
			err = c.ToolArgsDelta(event.Delta)

		case openai.StreamCompleted:
			stop := anthropic.StopEndTurn
			if event.Response != nil {
				if event.Response.Usage != nil {
					c.AddUsage(event.Response.Usage.InputTokens, event.Response.Usage.OutputTokens)
				}
				stop = responsesStopReason(event.Response)
			}
			_ = c.Finish(stop)
			return

		case openai.StreamFailed, openai.StreamError:
			message := "downstream stream failed"
			if event.Error != nil && event.Error.Message != "" {
				message = event.Error.Message
			} else if event.Response != nil && event.Response.Error != nil {
				message = event.Response.Error.Message
			}
			_ = c.Fail("api_error", message)
			return
		}
		if err != nil {
			return
		}
	}

	// Channel closed without a terminal event; finish what we have.
	_ = c.Finish(anthropic.StopEndTurn)
}

// responsesStopReason derives the stop reason from a completed response.
func responsesStopReason(resp *openai.ResponsesResponse) string {
	if resp.Status == "incomplete" && resp.IncompleteDetails != nil &&
		resp.IncompleteDetails.Reason == "max_output_tokens" {
		return anthropic.StopMaxTokens
	}
	for _, item := range resp.Output {
		if item.Type == openai.ItemFunctionCall {
			return anthropic.StopToolUse
		}
	}
	return anthropic.StopEndTurn
}

// pumpChat drains a Chat Completions chunk stream into the correlator.
// Custom reasoning fields become thinking deltas; tool call fragments are
// grouped by their delta index.
func pumpChat(chunks <-chan openai.ChatStreamChunk, c *adapter.Correlator) {
	if err := c.Start(); err != nil {
		return
	}

	stop := anthropic.StopEndTurn
	sawToolCall := false
	openToolIndex := -1

	for chunk := range chunks {
		if chunk.Err != nil {
			failure := Classify(chunk.Err)
			_ = c.Fail(failure.WireType(), failure.Message)
			return
		}
		if chunk.Error != nil {
			failure := classifyStatus(0, chunk.Error.Message)
			_ = c.Fail(failure.WireType(), failure.Message)
			return
		}
		if chunk.Usage != nil {
			c.AddUsage(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		var err error
		for _, field := range adapter.CustomFieldOrder(choice.Delta.Extra) {
			if text := rawString(choice.Delta.Extra[field]); text != "" {
				// Any non-tool block closes the open tool call.
				openToolIndex = -1
				if err = c.CustomDelta(adapter.CustomFieldMapping[field], text); err != nil {
					return
				}
			}
		}

		if choice.Delta.Content != "" {
			openToolIndex = -1
			if err = c.TextDelta(choice.Delta.Content); err != nil {
				return
			}
		}

		for _, call := range choice.Delta.ToolCalls {
			index := 0
			if call.Index != nil {
				index = *call.Index
			}
			// A new index opens a new call. Providers that omit the index
			// signal a new call by resending the id or name.
			newCall := index != openToolIndex ||
				(call.Index == nil && (call.ID != "" || call.Function.Name != ""))
			if newCall {
				if err = c.ToolStart(call.ID, call.Function.Name); err != nil {
					return
				}
				openToolIndex = index
				sawToolCall = true
			}
			if call.Function.Arguments != "" {
				if err = c.ToolArgsDelta(call.Function.Arguments); err != nil {
					return
				}
			}
		}

		if choice.FinishReason != "" {
			stop = adapter.MapStopReason(choice.FinishReason)
		}
	}

	if sawToolCall && stop == anthropic.StopEndTurn {
		stop = anthropic.StopToolUse
	}
	_ = c.Finish(stop)
}

func rawString(raw json.RawMessage) string {
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}
	return ""
}
