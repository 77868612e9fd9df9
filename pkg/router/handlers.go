package router

import (
	"errors"
	"fmt"

	"github.com/aurelia-ai/aurelia/pkg/chat"
	"github.com/aurelia-ai/aurelia/pkg/logging"
	"github.com/aurelia-ai/aurelia/pkg/protocol"
	"github.com/aurelia-ai/aurelia/pkg/telemetry"
)

// errStreamUnknown marks a frame whose stream was superseded or never
// started here; it is dropped rather than misapplied.
var errStreamUnknown = errors.New("unknown stream id")

func (r *Router) onStreamStart(evt protocol.Event) error {
	localID, ok := r.resolveSession(evt)
	if !ok {
		return chat.ErrSessionNotFound
	}

	// Synthesized chunked streams use the placeholder's local id as the
	// stream id; bind directly when it names an existing message, else
	// bind whatever assistant message is last right now.
	if evt.StreamID != "" {
		if err := r.store.UpdateMessage(localID, evt.StreamID, func(*chat.Message) {}); err == nil {
			r.mu.Lock()
			r.streams[evt.StreamID] = streamBinding{sessionLocalID: localID, messageLocalID: evt.StreamID}
			r.mu.Unlock()
		} else {
			r.bindStream(evt.StreamID, localID)
		}
	}

	if r.hub != nil {
		r.hub.Publish(telemetry.Notice{Type: telemetry.NoticeStreamStart, SessionID: evt.SessionID})
	}

	return r.updateTarget(evt, func(m *chat.Message) {
		m.Text = ""
		m.Reasoning = ""
		m.IsError = false
	})
}

// onTextChunk appends the delta; text only ever accumulates, in arrival
// order, never replaces.
func (r *Router) onTextChunk(evt protocol.Event) error {
	return r.updateTarget(evt, func(m *chat.Message) {
		m.Text += evt.Text
	})
}

// onThinkingChunk accumulates reasoning text, gated by the user's
// show-reasoning preference.
func (r *Router) onThinkingChunk(evt protocol.Event) error {
	if !r.prefs() {
		return nil
	}
	return r.updateTarget(evt, func(m *chat.Message) {
		m.Reasoning += evt.Text
	})
}

// onToolStart overwrites the tool-activity status line. Unlike reasoning,
// tool activity never accumulates.
func (r *Router) onToolStart(evt protocol.Event) error {
	status := evt.Text
	if status == "" {
		status = fmt.Sprintf("Using %s…", evt.ToolName)
	}
	return r.updateTarget(evt, func(m *chat.Message) {
		m.ToolActivity = status
	})
}

func (r *Router) onToolResult(evt protocol.Event) error {
	return r.updateTarget(evt, func(m *chat.Message) {
		m.ToolActivity = ""
	})
}

// onStreamEnd attaches the durable server id and clears transient state.
// The id transition is monotonic; a duplicate end frame changes nothing.
func (r *Router) onStreamEnd(evt protocol.Event) error {
	err := r.updateTarget(evt, func(m *chat.Message) {
		if m.ServerID == 0 && evt.MessageID != 0 {
			m.ServerID = evt.MessageID
		}
		m.ToolActivity = ""
	})
	r.unbindStream(evt.StreamID)
	if err == nil && r.hub != nil {
		r.hub.Publish(telemetry.Notice{Type: telemetry.NoticeStreamEnd, SessionID: evt.SessionID})
	}
	return err
}

func (r *Router) onStreamError(evt protocol.Event) error {
	text := evt.Text
	if text == "" {
		text = "The response failed. Please try again."
	}
	err := r.updateTarget(evt, func(m *chat.Message) {
		m.Text = text
		m.IsError = true
		m.ToolActivity = ""
	})
	r.unbindStream(evt.StreamID)
	if r.hub != nil {
		r.hub.Publish(telemetry.Notice{Type: telemetry.NoticeStreamError, SessionID: evt.SessionID, Text: text})
	}
	r.logger.Error(logging.CategoryStream, "stream_error", text, map[string]any{"session_id": evt.SessionID})
	return err
}

func (r *Router) onNotification(evt protocol.Event) {
	if r.hub != nil {
		r.hub.Publish(telemetry.Notice{Type: telemetry.NoticeNotification, SessionID: evt.SessionID, Text: evt.Text})
	}
	r.logger.Info(logging.CategoryRouter, "notification", evt.Text, map[string]any{"session_id": evt.SessionID})
}
