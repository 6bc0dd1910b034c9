package anthropic

import (
	"encoding/json"
	"fmt"
)

// Stream event types.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// Content block delta types.
const (
	DeltaText      = "text_delta"
	DeltaInputJSON = "input_json_delta"
)

// Event is one decoded upstream stream event. The concrete types are
// MessageStart, ContentBlockStart, ContentBlockDelta, ContentBlockStop,
// MessageDelta, MessageStop, Ping, Error and UnknownEvent.
type Event interface {
	EventType() string
}

// MessageStart opens the stream and carries the message envelope.
type MessageStart struct {
	Message struct {
		ID    string `json:"id"`
		Role  string `json:"role"`
		Model string `json:"model"`
		Usage Usage  `json:"usage"`
	} `json:"message"`
}

// ContentBlockStart opens the block at Index.
type ContentBlockStart struct {
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// ContentBlockDelta carries an increment for the block at Index.
type ContentBlockDelta struct {
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// BlockDelta is either a text_delta (Text) or an input_json_delta
// (PartialJSON).
type BlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockStop closes the block at Index.
type ContentBlockStop struct {
	Index int `json:"index"`
}

// MessageDelta carries the stop reason and cumulative usage.
type MessageDelta struct {
	Delta struct {
		StopReason   string  `json:"stop_reason"`
		StopSequence *string `json:"stop_sequence"`
	} `json:"delta"`
	Usage *DeltaUsage `json:"usage,omitempty"`
}

// DeltaUsage is the usage object of a message_delta. Upstream reports
// cumulative counts; InputTokens is often absent.
type DeltaUsage struct {
	InputTokens  *int `json:"input_tokens,omitempty"`
	OutputTokens int  `json:"output_tokens"`
}

// MessageStop ends the stream.
type MessageStop struct{}

// Ping is a keep-alive.
type Ping struct{}

// Error is an in-stream upstream failure.
type Error struct {
	Error ErrorDetail `json:"error"`
}

// UnknownEvent holds an event type this package does not know. It is
// surfaced so newer upstream event kinds can be skipped, not rejected.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (MessageStart) EventType() string      { return EventMessageStart }
func (ContentBlockStart) EventType() string { return EventContentBlockStart }
func (ContentBlockDelta) EventType() string { return EventContentBlockDelta }
func (ContentBlockStop) EventType() string  { return EventContentBlockStop }
func (MessageDelta) EventType() string      { return EventMessageDelta }
func (MessageStop) EventType() string       { return EventMessageStop }
func (Ping) EventType() string              { return EventPing }
func (Error) EventType() string             { return EventError }
func (e UnknownEvent) EventType() string    { return e.Type }

// ParseEvent decodes the JSON payload of one data line.
func ParseEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var ev Event
	var err error
	switch head.Type {
	case EventMessageStart:
		ev, err = decodeEvent[MessageStart](data)
	case EventContentBlockStart:
		ev, err = decodeEvent[ContentBlockStart](data)
	case EventContentBlockDelta:
		ev, err = decodeEvent[ContentBlockDelta](data)
	case EventContentBlockStop:
		ev, err = decodeEvent[ContentBlockStop](data)
	case EventMessageDelta:
		ev, err = decodeEvent[MessageDelta](data)
	case EventMessageStop:
		ev = MessageStop{}
	case EventPing:
		ev = Ping{}
	case EventError:
		ev, err = decodeEvent[Error](data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		ev = UnknownEvent{Type: head.Type, Raw: raw}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return ev, nil
}

func decodeEvent[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
