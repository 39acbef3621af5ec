package anthropic

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Stream event types.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// Delta types within content_block_delta events.
const (
	DeltaText      = "text_delta"
	DeltaThinking  = "thinking_delta"
	DeltaInputJSON = "input_json_delta"
)

type MessageStartEvent struct {
	Type    string   `json:"type"`
	Message Response `json:"message"`
}

type ContentBlockStartEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

type ContentBlockDeltaEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta Delta  `json:"delta"`
}

// Delta is the payload of a content_block_delta; exactly one field besides
// Type is set.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type MessageDeltaEvent struct {
	Type  string       `json:"type"`
	Delta MessageDelta `json:"delta"`
	Usage Usage        `json:"usage"`
}

type MessageDelta struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type MessageStopEvent struct {
	Type string `json:"type"`
}

type ErrorEvent struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EventName extracts the type of a marshalled stream event.
func EventName(payload any) string {
	switch e := payload.(type) {
	case MessageStartEvent:
		return e.Type
	case ContentBlockStartEvent:
		return e.Type
	case ContentBlockDeltaEvent:
		return e.Type
	case ContentBlockStopEvent:
		return e.Type
	case MessageDeltaEvent:
		return e.Type
	case MessageStopEvent:
		return e.Type
	case ErrorEvent:
		return e.Type
	default:
		return ""
	}
}

// EventWriter frames Anthropic stream events as SSE and flushes after each
// event so clients observe them as they are produced.
type EventWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEventWriter wraps an http.ResponseWriter (or any io.Writer) for SSE
// output. The caller is responsible for the Content-Type header.
func NewEventWriter(w io.Writer) *EventWriter {
	ew := &EventWriter{w: w}
	if flusher, ok := w.(http.Flusher); ok {
		ew.flusher = flusher
	}
	return ew
}

// Send writes one event frame. The event name is taken from the payload's
// type field.
func (ew *EventWriter) Send(payload any) error {
	name := EventName(payload)
	if name == "" {
		return fmt.Errorf("payload is not a stream event: %T", payload)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}

	if _, err := fmt.Fprintf(ew.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	if ew.flusher != nil {
		ew.flusher.Flush()
	}
	return nil
}
