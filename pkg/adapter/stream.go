package adapter

import (
	"fmt"

	"github.com/modelrelay/modelrelay/pkg/anthropic"
)

// blockKind is the correlator's tagged block state.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockToolUse
)

// Correlator turns normalized downstream stream fragments into a
// well-formed Anthropic event sequence: at most one open block, indices
// strictly monotonic from 0, encrypted reasoning payloads only ever in
// content_block_start events.
//
// A Correlator serves exactly one stream and is not safe for concurrent
// use; each request owns its own.
type Correlator struct {
	send  func(event any) error
	model string

	started   bool
	finished  bool
	open      blockKind
	openIndex int
	nextIndex int

	// Downstream tool-call id to assigned block index.
	toolIndex map[string]int

	usage anthropic.Usage
}

// NewCorrelator creates a correlator emitting through send, typically an
// EventWriter.
func NewCorrelator(model string, send func(event any) error) *Correlator {
	return &Correlator{
		send:      send,
		model:     model,
		open:      blockNone,
		toolIndex: make(map[string]int),
	}
}

// Start emits message_start with a fresh envelope. Must be called first.
func (c *Correlator) Start() error {
	if c.started {
		return nil
	}
	c.started = true
	return c.send(anthropic.MessageStartEvent{
		Type: anthropic.EventMessageStart,
		Message: anthropic.Response{
			ID:      NewMessageID(),
			Type:    "message",
			Role:    "assistant",
			Model:   c.model,
			Content: []anthropic.ContentBlock{},
		},
	})
}

// ReasoningStart opens a thinking block carrying the reasoning item's id
// and encrypted payload. The payload appears here and never in a delta.
func (c *Correlator) ReasoningStart(rsID, encryptedContent string) error {
	return c.openBlock(blockThinking, anthropic.ContentBlock{
		Type:                              anthropic.BlockThinking,
		ExtractedOpenAIRSID:               rsID,
		ExtractedOpenAIRSEncryptedContent: encryptedContent,
	})
}

// ReasoningDelta emits summary text into the open thinking block, opening
// a plain one if none is open.
func (c *Correlator) ReasoningDelta(text string) error {
	if c.open != blockThinking {
		if err := c.openBlock(blockThinking, anthropic.ContentBlock{Type: anthropic.BlockThinking}); err != nil {
			return err
		}
	}
	return c.delta(anthropic.Delta{Type: anthropic.DeltaThinking, Thinking: text})
}

// TextDelta emits visible text, opening a text block if none is open.
func (c *Correlator) TextDelta(text string) error {
	if c.open != blockText {
		if err := c.openBlock(blockText, anthropic.ContentBlock{Type: anthropic.BlockText}); err != nil {
			return err
		}
	}
	return c.delta(anthropic.Delta{Type: anthropic.DeltaText, Text: text})
}

// ToolStart opens a tool_use block for a downstream call.
func (c *Correlator) ToolStart(callID, name string) error {
	if err := c.openBlock(blockToolUse, anthropic.ContentBlock{
		Type: anthropic.BlockToolUse,
		ID:   callID,
		Name: name,
	}); err != nil {
		return err
	}
	c.toolIndex[callID] = c.openIndex
	return nil
}

// ToolArgsDelta emits incremental argument JSON into the open tool block.
// Fragments arriving with no open tool block are dropped.
func (c *Correlator) ToolArgsDelta(partial string) error {
	if c.open != blockToolUse {
		return nil
	}
	return c.delta(anthropic.Delta{Type: anthropic.DeltaInputJSON, PartialJSON: partial})
}

// CustomDelta surfaces a mapped custom field fragment as its block type.
func (c *Correlator) CustomDelta(blockType, text string) error {
	if blockType != anthropic.BlockThinking {
		return fmt.Errorf("unsupported custom block type %q", blockType)
	}
	return c.ReasoningDelta(text)
}

// AddUsage folds a downstream usage snapshot into the cumulative total.
func (c *Correlator) AddUsage(inputTokens, outputTokens int) {
	if inputTokens > 0 {
		c.usage.InputTokens = inputTokens
	}
	if outputTokens > 0 {
		c.usage.OutputTokens = outputTokens
	}
}

// Finish closes the stream cleanly: open block closed, message_delta with
// the final stop reason and cumulative usage, then message_stop.
func (c *Correlator) Finish(stopReason string) error {
	if c.finished {
		return nil
	}
	c.finished = true

	if err := c.Start(); err != nil {
		return err
	}
	if err := c.closeBlock(); err != nil {
		return err
	}
	if err := c.send(anthropic.MessageDeltaEvent{
		Type:  anthropic.EventMessageDelta,
		Delta: anthropic.MessageDelta{StopReason: stopReason},
		Usage: c.usage,
	}); err != nil {
		return err
	}
	return c.send(anthropic.MessageStopEvent{Type: anthropic.EventMessageStop})
}

// Fail terminates the stream after a mid-stream downstream error: the open
// block is closed, the envelope ends with end_turn, then an error event
// and message_stop, so clients always reach a consistent state.
func (c *Correlator) Fail(errType, message string) error {
	if c.finished {
		return nil
	}
	c.finished = true

	if err := c.Start(); err != nil {
		return err
	}
	if err := c.closeBlock(); err != nil {
		return err
	}
	if err := c.send(anthropic.MessageDeltaEvent{
		Type:  anthropic.EventMessageDelta,
		Delta: anthropic.MessageDelta{StopReason: anthropic.StopEndTurn},
		Usage: c.usage,
	}); err != nil {
		return err
	}
	if err := c.send(anthropic.ErrorEvent{
		Type:  anthropic.EventError,
		Error: anthropic.ErrorDetail{Type: errType, Message: message},
	}); err != nil {
		return err
	}
	return c.send(anthropic.MessageStopEvent{Type: anthropic.EventMessageStop})
}

func (c *Correlator) openBlock(kind blockKind, block anthropic.ContentBlock) error {
	if err := c.Start(); err != nil {
		return err
	}
	if err := c.closeBlock(); err != nil {
		return err
	}

	c.open = kind
	c.openIndex = c.nextIndex
	c.nextIndex++

	return c.send(anthropic.ContentBlockStartEvent{
		Type:         anthropic.EventContentBlockStart,
		Index:        c.openIndex,
		ContentBlock: block,
	})
}

func (c *Correlator) closeBlock() error {
	if c.open == blockNone {
		return nil
	}
	c.open = blockNone
	return c.send(anthropic.ContentBlockStopEvent{
		Type:  anthropic.EventContentBlockStop,
		Index: c.openIndex,
	})
}

func (c *Correlator) delta(delta anthropic.Delta) error {
	return c.send(anthropic.ContentBlockDeltaEvent{
		Type:  anthropic.EventContentBlockDelta,
		Index: c.openIndex,
		Delta: delta,
	})
}
