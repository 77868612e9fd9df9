// Package chat holds the authoritative in-memory conversation state: every
// open session and its ordered message list. The Store is the only mutable
// structure in the engine; transports and the router feed it, the
// presentation layer only observes it.
package chat

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Session is one open conversation with a persona.
type Session struct {
	// LocalID identifies the session on this client and never changes.
	LocalID string

	// SessionID is the durable backend id. It is empty until the first
	// persistence write or channel acknowledgement assigns it, and is
	// immutable afterwards.
	SessionID string

	// ActiveCharacter is the persona currently answering in this session.
	ActiveCharacter string

	// FallbackCharacter is set while a one-off persona override is
	// pending, and cleared once the override turn completes.
	FallbackCharacter string

	// SuppressRefetch marks a session that sent with a temporary client
	// id, so a competing session re-fetch must not race the in-flight id
	// assignment.
	SuppressRefetch bool

	Messages []Message

	// ChartBanner is transient session-level chart state, not tied to
	// any message. Nil when no chart is loading or failed.
	ChartBanner *ChartBanner
}

// Message is one turn in a session, either from the user or a persona.
type Message struct {
	// LocalID identifies the message on this client and never changes.
	LocalID string

	Text      string
	FromUser  bool
	CreatedAt time.Time

	// ServerID is the durable backend id, 0 until persistence confirms
	// the message. Once set it never changes.
	ServerID int64

	ImageRefs []string
	FileRefs  []string

	// Character is the persona that produced an assistant message.
	Character string

	// Reasoning accumulates thinking text while a response streams.
	Reasoning string

	// ToolActivity is ephemeral narrative state shown while a tool or
	// background task runs; overwritten per update, cleared on stream end.
	ToolActivity string

	// Charts collects generated chart payloads, unique by ChartID.
	Charts []ChartPayload

	IsError bool
}

// ChartPayload is a generated chart attached to an assistant message. The
// engine treats it as opaque beyond its id.
type ChartPayload struct {
	ChartID   string
	ChartType string
	Title     string
	Data      json.RawMessage
	Mermaid   string
	Metadata  map[string]any
}

// ChartBannerState distinguishes the loading banner from the error banner.
type ChartBannerState string

const (
	ChartBannerLoading ChartBannerState = "loading"
	ChartBannerError   ChartBannerState = "error"
)

// ChartBanner is the session-level transient banner driven by the chart
// lifecycle. The error state stays until explicitly dismissed.
type ChartBanner struct {
	State     ChartBannerState
	ChartType string
	Title     string
	Error     string
}

// NewLocalID mints a client-side identifier for sessions and messages.
func NewLocalID() string {
	return ulid.Make().String()
}

// NewUserMessage builds an optimistic user turn.
func NewUserMessage(text string, imageRefs, fileRefs []string) Message {
	return Message{
		LocalID:   NewLocalID(),
		Text:      text,
		FromUser:  true,
		CreatedAt: time.Now(),
		ImageRefs: imageRefs,
		FileRefs:  fileRefs,
	}
}

// NewPlaceholder builds the empty assistant message appended before any
// backend content arrives.
func NewPlaceholder(character string) Message {
	return Message{
		LocalID:   NewLocalID(),
		FromUser:  false,
		CreatedAt: time.Now(),
		Character: character,
	}
}

// HasChart reports whether a chart id is already attached to the message.
func (m *Message) HasChart(chartID string) bool {
	for _, c := range m.Charts {
		if c.ChartID == chartID {
			return true
		}
	}
	return false
}

// clone returns a deep copy so store reads never alias live state.
func (m Message) clone() Message {
	out := m
	out.ImageRefs = append([]string(nil), m.ImageRefs...)
	out.FileRefs = append([]string(nil), m.FileRefs...)
	if m.Charts != nil {
		out.Charts = make([]ChartPayload, len(m.Charts))
		copy(out.Charts, m.Charts)
	}
	return out
}

func (s Session) clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.clone()
	}
	if s.ChartBanner != nil {
		banner := *s.ChartBanner
		out.ChartBanner = &banner
	}
	return out
}
