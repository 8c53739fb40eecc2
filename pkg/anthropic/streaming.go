package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Streaming event type tags.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
)

// ErrUnknownEvent reports a payload that does not validate against the
// streaming event union.
var ErrUnknownEvent = errors.New("unknown streaming event")

// Event is one member of the Anthropic streaming event union. Raw always
// holds the JSON payload the event was decoded from (or marshaled to, for
// synthetic events), so encoding back to SSE is byte-stable.
type Event struct {
	Type  string
	Index int // -1 when the event kind defines no index

	Message      *MessageInfo
	ContentBlock *ContentBlock
	Delta        *Delta
	Usage        *Usage

	// Unknown marks a fallback event for payloads outside the union.
	Unknown bool

	Raw json.RawMessage
}

// MessageInfo is the message object carried by message_start.
type MessageInfo struct {
	ID           string          `json:"id"`
	Type         string          `json:"type,omitempty"`
	Role         string          `json:"role,omitempty"`
	Model        string          `json:"model,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	StopReason   *string         `json:"stop_reason"`
	StopSequence *string         `json:"stop_sequence"`
	Usage        *Usage          `json:"usage,omitempty"`
}

// Delta covers both content_block_delta payloads and the message_delta
// stop-reason object.
type Delta struct {
	Type         string          `json:"type,omitempty"`
	Text         string          `json:"text,omitempty"`
	PartialJSON  string          `json:"partial_json,omitempty"`
	Thinking     string          `json:"thinking,omitempty"`
	Signature    string          `json:"signature,omitempty"`
	Citation     json.RawMessage `json:"citation,omitempty"`
	StopReason   string          `json:"stop_reason,omitempty"`
	StopSequence *string         `json:"stop_sequence,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

type eventEnvelope struct {
	Type         string        `json:"type"`
	Index        *int          `json:"index,omitempty"`
	Message      *MessageInfo  `json:"message,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *Delta        `json:"delta,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
}

// ParseEvent validates data against the streaming event union.
// Payloads with an unrecognized type, or recognized types missing their
// required members, return ErrUnknownEvent; the caller decides between
// dropping the payload and wrapping it in a fallback Unknown event.
func ParseEvent(data []byte) (*Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}

	ev := &Event{
		Type:         env.Type,
		Index:        -1,
		Message:      env.Message,
		ContentBlock: env.ContentBlock,
		Delta:        env.Delta,
		Usage:        env.Usage,
		Raw:          json.RawMessage(data),
	}
	if env.Index != nil {
		ev.Index = *env.Index
	}

	switch env.Type {
	case EventMessageStart:
		if env.Message == nil {
			return nil, fmt.Errorf("%w: message_start without message", ErrUnknownEvent)
		}
	case EventContentBlockStart:
		if env.Index == nil || env.ContentBlock == nil {
			return nil, fmt.Errorf("%w: content_block_start missing index or content_block", ErrUnknownEvent)
		}
	case EventContentBlockDelta:
		if env.Index == nil || env.Delta == nil {
			return nil, fmt.Errorf("%w: content_block_delta missing index or delta", ErrUnknownEvent)
		}
	case EventContentBlockStop:
		if env.Index == nil {
			return nil, fmt.Errorf("%w: content_block_stop missing index", ErrUnknownEvent)
		}
	case EventMessageDelta:
		if env.Delta == nil {
			return nil, fmt.Errorf("%w: message_delta without delta", ErrUnknownEvent)
		}
	case EventMessageStop, EventPing:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	return ev, nil
}

// NewUnknownEvent wraps an unvalidated payload in a fallback event that
// preserves the original type tag and body.
func NewUnknownEvent(eventType string, data []byte) *Event {
	raw, _ := json.Marshal(map[string]any{
		"type": eventType,
		"data": json.RawMessage(data),
	})
	return &Event{
		Type:    eventType,
		Index:   -1,
		Unknown: true,
		Raw:     raw,
	}
}

// NewToolUseMessageDelta builds the synthetic message_delta that terminates
// a client tool-use stream. It carries stop_reason only, no usage.
func NewToolUseMessageDelta() *Event {
	delta := &Delta{StopReason: "tool_use"}
	raw, _ := json.Marshal(eventEnvelope{
		Type:  EventMessageDelta,
		Delta: delta,
	})
	return &Event{
		Type:  EventMessageDelta,
		Index: -1,
		Delta: delta,
		Raw:   raw,
	}
}

// NewMessageStop builds a synthetic message_stop event.
func NewMessageStop() *Event {
	raw, _ := json.Marshal(eventEnvelope{Type: EventMessageStop})
	return &Event{
		Type:  EventMessageStop,
		Index: -1,
		Raw:   raw,
	}
}

// IsToolUseStart reports whether the event opens a tool_use content block.
func (e *Event) IsToolUseStart() bool {
	return e.Type == EventContentBlockStart && e.ContentBlock != nil && e.ContentBlock.Type == "tool_use"
}

// IsToolResultStart reports whether the event opens a tool_result content
// block. Claude-web emits these privately; they never reach API clients.
func (e *Event) IsToolResultStart() bool {
	return e.Type == EventContentBlockStart && e.ContentBlock != nil && e.ContentBlock.Type == "tool_result"
}
