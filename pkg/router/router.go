// Package router demultiplexes the typed event stream into store
// mutations. Every handler resolves its target message fresh at invocation
// time: either through a stream correlation binding or as the current last
// assistant message of the resolved session. No handler ever captures an
// array position.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/aurelia-ai/aurelia/pkg/channel"
	"github.com/aurelia-ai/aurelia/pkg/chat"
	"github.com/aurelia-ai/aurelia/pkg/logging"
	"github.com/aurelia-ai/aurelia/pkg/persona"
	"github.com/aurelia-ai/aurelia/pkg/protocol"
	"github.com/aurelia-ai/aurelia/pkg/telemetry"
)

// Prefs supplies the current per-turn preferences the router consults.
type Prefs func() (showReasoning bool)

// Router consumes events from the channel client and from the dispatcher's
// synthesized chunked-stream events, and applies them to the store.
type Router struct {
	store    *chat.Store
	personas *persona.Registry
	channel  *channel.Client
	hub      *telemetry.Hub
	logger   *logging.Logger
	prefs    Prefs

	// ingest carries events synthesized by the dispatcher so both
	// transports share one ordered receive loop.
	ingest chan protocol.Event

	mu     sync.Mutex
	active string // local id of the session the user is looking at

	// streams binds a stream correlation id to its target message, so a
	// late frame from a superseded stream cannot touch a newer turn.
	streams map[string]streamBinding
}

type streamBinding struct {
	sessionLocalID string
	messageLocalID string
}

// New wires a router. channel may be nil when only the chunked transport
// is in play (tests, http-only deployments).
func New(store *chat.Store, personas *persona.Registry, ch *channel.Client, hub *telemetry.Hub, logger *logging.Logger, prefs Prefs) *Router {
	if logger == nil {
		logger = logging.Discard()
	}
	if prefs == nil {
		prefs = func() bool { return false }
	}
	return &Router{
		store:    store,
		personas: personas,
		channel:  ch,
		hub:      hub,
		logger:   logger,
		prefs:    prefs,
		ingest:   make(chan protocol.Event, 128),
		streams:  make(map[string]streamBinding),
	}
}

// Ingest feeds a synthesized event into the router loop. Implements the
// dispatcher's EventSink.
func (r *Router) Ingest(evt protocol.Event) {
	r.ingest <- evt
}

// SetActiveSession records which session receives events that carry no
// session id of their own.
func (r *Router) SetActiveSession(localID string) {
	r.mu.Lock()
	r.active = localID
	r.mu.Unlock()
}

// ActiveSession returns the active session's local id.
func (r *Router) ActiveSession() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Run consumes events until ctx is cancelled. Events are applied strictly
// in arrival order, which preserves delta ordering within a connection.
func (r *Router) Run(ctx context.Context) {
	var channelEvents <-chan protocol.Event
	if r.channel != nil {
		channelEvents = r.channel.Events()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-r.ingest:
			r.Apply(evt)
		case evt := <-channelEvents:
			r.Apply(evt)
		}
	}
}

// SwitchPersona changes the active persona of a session. For
// channel-carried personas the channel is explicitly torn down and
// reconnected; an in-flight response from the old persona is dropped.
func (r *Router) SwitchPersona(ctx context.Context, sessionLocalID, name string) error {
	if !r.personas.Has(name) {
		return fmt.Errorf("unknown persona %q", name)
	}
	p := r.personas.Get(name)

	err := r.store.Mutate(sessionLocalID, func(s *chat.Session) error {
		s.ActiveCharacter = name
		return nil
	})
	if err != nil {
		return err
	}

	if r.channel != nil && (p.ToolEnabled || p.ChannelPreferred) {
		sess, ok := r.store.Session(sessionLocalID)
		if !ok {
			return chat.ErrSessionNotFound
		}
		r.channel.Close()
		if err := r.channel.Connect(ctx, sess.SessionID); err != nil {
			return err
		}
	}
	return nil
}

// Apply routes one event to its handler. Unknown types are dropped with a
// protocol error; a handler failure never propagates beyond a log line.
func (r *Router) Apply(evt protocol.Event) {
	telemetry.MetricEventsRouted.WithLabelValues(string(evt.Type)).Inc()

	var err error
	switch evt.Type {
	case protocol.EventStreamStart:
		err = r.onStreamStart(evt)
	case protocol.EventTextChunk:
		err = r.onTextChunk(evt)
	case protocol.EventThinkingChunk:
		err = r.onThinkingChunk(evt)
	case protocol.EventToolStart:
		err = r.onToolStart(evt)
	case protocol.EventToolResult:
		err = r.onToolResult(evt)
	case protocol.EventStreamEnd:
		err = r.onStreamEnd(evt)
	case protocol.EventStreamError:
		err = r.onStreamError(evt)
	case protocol.EventUserMessage:
		err = r.onUserMessageEcho(evt)
	case protocol.EventNotification:
		r.onNotification(evt)
	case protocol.EventCustom:
		err = r.onCustomEvent(evt)
	default:
		telemetry.MetricEventsDropped.WithLabelValues("protocol").Inc()
		r.logger.Warn(logging.CategoryRouter, "unknown_event", string(evt.Type), nil)
		return
	}

	if err != nil {
		telemetry.MetricEventsDropped.WithLabelValues("unroutable").Inc()
		r.logger.Warn(logging.CategoryRouter, "event_not_applied", err.Error(), map[string]any{
			"event_type": string(evt.Type), "session_id": evt.SessionID,
		})
	}
}

// resolveSession maps an event onto a local session: by durable session id
// when the event carries one, otherwise the active session.
func (r *Router) resolveSession(evt protocol.Event) (string, bool) {
	if localID, ok := r.store.ResolveSessionID(evt.SessionID); ok {
		return localID, true
	}
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	return active, active != ""
}

// updateTarget applies fn to the event's target message. An event with a
// bound stream id routes to that exact message wherever it now sits; a
// stream id that is set but unknown means the stream was superseded and
// the event is dropped rather than applied to an unrelated message. Events
// without a stream id mutate the freshly resolved last assistant message.
func (r *Router) updateTarget(evt protocol.Event, fn func(*chat.Message)) error {
	if evt.StreamID != "" {
		r.mu.Lock()
		binding, ok := r.streams[evt.StreamID]
		r.mu.Unlock()
		if !ok {
			return errStreamUnknown
		}
		return r.store.UpdateMessage(binding.sessionLocalID, binding.messageLocalID, fn)
	}

	localID, ok := r.resolveSession(evt)
	if !ok {
		return chat.ErrSessionNotFound
	}
	return r.store.UpdateLastAssistant(localID, fn)
}

// bindStream records the correlation for a starting stream: its target is
// whatever assistant message is last right now.
func (r *Router) bindStream(streamID, sessionLocalID string) {
	if streamID == "" {
		return
	}
	sess, ok := r.store.Session(sessionLocalID)
	if !ok || len(sess.Messages) == 0 {
		return
	}
	last := sess.Messages[len(sess.Messages)-1]
	if last.FromUser {
		return
	}
	r.mu.Lock()
	r.streams[streamID] = streamBinding{sessionLocalID: sessionLocalID, messageLocalID: last.LocalID}
	r.mu.Unlock()
}

func (r *Router) unbindStream(streamID string) {
	if streamID == "" {
		return
	}
	r.mu.Lock()
	delete(r.streams, streamID)
	r.mu.Unlock()
}
