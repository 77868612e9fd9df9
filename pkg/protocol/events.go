// Package protocol defines the wire contracts shared by both transports:
// the channel event envelope, the send-message acknowledgement, and the
// persistence write contract. The router consumes these types; nothing in
// this package touches the network.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates inbound channel frames.
type EventType string

const (
	EventStreamStart   EventType = "stream_start"
	EventTextChunk     EventType = "text_chunk"
	EventThinkingChunk EventType = "thinking_chunk"
	EventStreamEnd     EventType = "stream_end"
	EventToolStart     EventType = "tool_start"
	EventToolResult    EventType = "tool_result"
	EventNotification  EventType = "notification"
	EventUserMessage   EventType = "user_message"
	EventCustom        EventType = "custom_event"
	EventStreamError   EventType = "stream_error"
)

// CustomEventName discriminates the nested payload of a custom_event frame.
type CustomEventName string

const (
	CustomChartStarted      CustomEventName = "chartGenerationStarted"
	CustomChartGenerated    CustomEventName = "chartGenerated"
	CustomChartError        CustomEventName = "chartError"
	CustomResearchStarted   CustomEventName = "deepResearchStarted"
	CustomResearchProgress  CustomEventName = "deepResearchProgress"
	CustomResearchCompleted CustomEventName = "deepResearchCompleted"
)

// knownEvents is the closed taxonomy; anything else is a protocol error.
var knownEvents = map[EventType]struct{}{
	EventStreamStart:   {},
	EventTextChunk:     {},
	EventThinkingChunk: {},
	EventStreamEnd:     {},
	EventToolStart:     {},
	EventToolResult:    {},
	EventNotification:  {},
	EventUserMessage:   {},
	EventCustom:        {},
	EventStreamError:   {},
}

// Event is the envelope for every inbound channel frame.
//
// StreamID correlates frames belonging to one logical response so that a
// late frame from a superseded stream can still find its original target
// message after a newer turn has been appended.
type Event struct {
	Type      EventType `json:"event_type"`
	SessionID string    `json:"session_id,omitempty"`
	StreamID  string    `json:"stream_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Text carries the delta for text_chunk/thinking_chunk and the full
	// notification or error text for notification/stream_error frames.
	Text string `json:"text,omitempty"`

	// MessageID is the durable server id delivered on stream_end and
	// user_message frames.
	MessageID int64 `json:"message_id,omitempty"`

	// ToolName is set on tool_start/tool_result frames.
	ToolName string `json:"tool_name,omitempty"`

	// Character names the persona that produced this frame.
	Character string `json:"character,omitempty"`

	// Custom is the nested payload of a custom_event frame.
	Custom *CustomEvent `json:"custom,omitempty"`
}

// CustomEvent is the nested discriminated payload of a custom_event frame.
type CustomEvent struct {
	Name      CustomEventName `json:"name"`
	ChartID   string          `json:"chart_id,omitempty"`
	ChartType string          `json:"chart_type,omitempty"`
	Title     string          `json:"title,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Mermaid   string          `json:"mermaid_source,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`

	// Phase carries deep-research progress text.
	Phase string `json:"phase,omitempty"`
	Error string `json:"error,omitempty"`
}

// DecodeEvent parses a raw frame and rejects anything outside the closed
// taxonomy. Malformed frames are dropped by the router, never applied.
func DecodeEvent(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("decoding event frame: %w", err)
	}
	if _, ok := knownEvents[evt.Type]; !ok {
		return Event{}, fmt.Errorf("unknown event_type %q", evt.Type)
	}
	if evt.Type == EventCustom && evt.Custom == nil {
		return Event{}, fmt.Errorf("custom_event frame without payload")
	}
	return evt, nil
}

// SendKind selects the channel sub-protocol for an outbound message.
type SendKind string

const (
	// SendKindText is the generic streamed-text sub-protocol.
	SendKindText SendKind = "text"
	// SendKindAgentic is the session-scoped sub-protocol that streams
	// tool, reasoning and text events for tool-enabled personas.
	SendKindAgentic SendKind = "agentic"
)

// SendRequest is the outbound channel payload for one user turn.
type SendRequest struct {
	Message     string       `json:"message"`
	Kind        SendKind     `json:"kind"`
	Character   string       `json:"character"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// CallID correlates the acknowledgement frame with this request.
	CallID string `json:"call_id"`
}

// SendAck acknowledges receipt of a SendRequest. It resolves the send call;
// all response content arrives later as Event frames.
type SendAck struct {
	CallID    string `json:"call_id"`
	SessionID string `json:"session_id"`
	Queued    bool   `json:"queued"`
	MessageID int64  `json:"message_id"`
}
