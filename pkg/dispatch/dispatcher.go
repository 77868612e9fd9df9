// Package dispatch turns user input into optimistic store mutations plus a
// transport send. The optimistic pair is visible in the store before any
// network activity starts; the network side runs on goroutines and reports
// back exclusively through the event router and the store.
package dispatch

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/aurelia-ai/aurelia/pkg/channel"
	"github.com/aurelia-ai/aurelia/pkg/chat"
	"github.com/aurelia-ai/aurelia/pkg/config"
	"github.com/aurelia-ai/aurelia/pkg/logging"
	"github.com/aurelia-ai/aurelia/pkg/persona"
	"github.com/aurelia-ai/aurelia/pkg/protocol"
	"github.com/aurelia-ai/aurelia/pkg/telemetry"
	"github.com/aurelia-ai/aurelia/pkg/transport"
)

// responseErrorText replaces the placeholder body when a transport fails.
// The placeholder itself is never removed.
const responseErrorText = "Something went wrong while answering. Please try again."

// tempSessionPrefix marks client-generated session ids used before the
// backend assigns a durable one.
const tempSessionPrefix = "local-"

// Transport names used for logs, metrics and spans.
const (
	transportChunked        = "chunked"
	transportChannelText    = "channel_text"
	transportChannelAgentic = "channel_agentic"
	transportPersistOnly    = "persist_only"
)

// NoEdit submits the turn as a fresh append rather than an edit.
const NoEdit = -1

// EventSink receives synthesized events from the chunked transport so that
// HTTP deltas and channel frames flow through the same router.
type EventSink interface {
	Ingest(evt protocol.Event)
}

// TurnInput is one user turn: text and/or uploaded asset references.
type TurnInput struct {
	Text      string
	ImageRefs []string
	FileRefs  []string
}

func (in TurnInput) empty() bool {
	return strings.TrimSpace(in.Text) == "" && len(in.ImageRefs) == 0 && len(in.FileRefs) == 0
}

// Dispatcher selects a transport per turn and performs the optimistic
// store writes.
type Dispatcher struct {
	store    *chat.Store
	personas *persona.Registry
	chunked  *transport.ChunkedClient
	persist  *transport.PersistenceClient
	channel  *channel.Client
	sink     EventSink
	logger   *logging.Logger
}

// New wires a dispatcher.
func New(store *chat.Store, personas *persona.Registry, chunked *transport.ChunkedClient, persist *transport.PersistenceClient, ch *channel.Client, sink EventSink, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		store:    store,
		personas: personas,
		chunked:  chunked,
		persist:  persist,
		channel:  ch,
		sink:     sink,
		logger:   logger,
	}
}

// SubmitTurn validates the input, appends the optimistic user message and
// assistant placeholder (or replaces the pair at editPos and truncates the
// rest), then hands the turn to the selected transport. The store mutation
// is complete before SubmitTurn starts any network work. Only validation
// and the no-autoresponse persistence path can fail synchronously.
func (d *Dispatcher) SubmitTurn(ctx context.Context, cfg config.TurnSnapshot, sessionLocalID string, input TurnInput, editPos int) error {
	ctx, span := telemetry.StartSpan(ctx, "dispatch.SubmitTurn")
	defer span.End()

	if input.empty() {
		return ValidationError("message is empty and has no attachments")
	}

	sess, ok := d.store.Session(sessionLocalID)
	if !ok {
		return chat.ErrSessionNotFound
	}
	character := sess.ActiveCharacter
	if sess.FallbackCharacter != "" {
		// One-off persona override: consume it for this turn only.
		character = sess.FallbackCharacter
		_ = d.store.Mutate(sessionLocalID, func(s *chat.Session) error {
			s.FallbackCharacter = ""
			return nil
		})
	}
	p := d.personas.Get(character)
	span.SetAttributes(telemetry.AttrSessionID.String(sessionLocalID), telemetry.AttrCharacter.String(p.Name))

	// History of the prior turns, excluding anything an edit replaces.
	historyLimit := len(sess.Messages)
	if editPos != NoEdit {
		historyLimit = editPos
	}
	history := chat.History(sess, historyLimit)

	// The server id of the user message being edited, needed for
	// db_edit_message. Captured from the snapshot before replacement.
	var editedServerID int64
	if editPos != NoEdit {
		if editPos < 0 || editPos >= len(sess.Messages) || !sess.Messages[editPos].FromUser {
			return ValidationError("edit position does not address a user message")
		}
		editedServerID = sess.Messages[editPos].ServerID
	}

	user := chat.NewUserMessage(input.Text, input.ImageRefs, input.FileRefs)

	// No-autoresponse personas persist the user message synchronously and
	// never create a placeholder.
	if !p.AutoRespond {
		if err := d.appendOrReplace(sessionLocalID, editPos, user, nil); err != nil {
			return err
		}
		return d.persistTurn(ctx, cfg, sessionLocalID, user.LocalID, p.Name, input.Text, history, editedServerID, editPos != NoEdit)
	}

	placeholder := chat.NewPlaceholder(p.Name)
	if err := d.appendOrReplace(sessionLocalID, editPos, user, &placeholder); err != nil {
		return err
	}

	tr := d.selectTransport(cfg, p)
	span.SetAttributes(telemetry.AttrTransport.String(tr))
	telemetry.MetricTurnsSubmitted.WithLabelValues(tr).Inc()
	d.logger.Info(logging.CategoryDispatch, "turn_submitted", "", map[string]any{
		"session": sessionLocalID, "character": p.Name, "transport": tr, "edit": editPos != NoEdit,
	})

	switch tr {
	case transportChannelAgentic, transportChannelText:
		kind := protocol.SendKindText
		if tr == transportChannelAgentic {
			kind = protocol.SendKindAgentic
		}
		d.submitViaChannel(ctx, sessionLocalID, sess, p, kind, input, user.LocalID, placeholder.LocalID)
	default:
		d.submitViaChunked(ctx, cfg, sessionLocalID, sess, p, input, history, user.LocalID, placeholder.LocalID, editedServerID, editPos != NoEdit)
	}
	return nil
}

// selectTransport is the decision table keyed by persona capabilities and
// the global streaming-mode preference.
func (d *Dispatcher) selectTransport(cfg config.TurnSnapshot, p persona.Character) string {
	switch {
	case p.ToolEnabled:
		return transportChannelAgentic
	case cfg.StreamingMode == config.StreamingModeChannel || p.ChannelPreferred:
		return transportChannelText
	default:
		return transportChunked
	}
}

func (d *Dispatcher) appendOrReplace(sessionLocalID string, editPos int, user chat.Message, placeholder *chat.Message) error {
	if editPos == NoEdit {
		return d.store.AppendTurn(sessionLocalID, user, placeholder)
	}
	return d.store.ReplaceTurnAt(sessionLocalID, editPos, user, placeholder)
}

// submitViaChannel sends over the persistent channel and applies the
// acknowledgement: durable session id and user message id. The response
// itself arrives on the channel's event stream.
func (d *Dispatcher) submitViaChannel(ctx context.Context, sessionLocalID string, sess chat.Session, p persona.Character, kind protocol.SendKind, input TurnInput, userLocalID, placeholderLocalID string) {
	sendSession := sess.SessionID
	if sendSession == "" {
		// First send on a brand-new session: use a temporary client id
		// and suppress the competing session re-fetch until the durable
		// id lands.
		sendSession = tempSessionPrefix + uuid.NewString()
		_ = d.store.Mutate(sessionLocalID, func(s *chat.Session) error {
			s.SuppressRefetch = true
			return nil
		})
	}

	go func() {
		if d.channel.State() != channel.StateConnected {
			if err := d.channel.Connect(ctx, sendSession); err != nil {
				d.failPlaceholder(sessionLocalID, placeholderLocalID, &TransportError{Transport: "channel", Err: err})
				return
			}
		}

		attachments := append(protocol.ImageAttachments(input.ImageRefs), protocol.FileAttachments(input.FileRefs)...)
		ack, err := d.channel.SendMessage(ctx, input.Text, kind, p.Name, attachments)
		if err != nil {
			d.failPlaceholder(sessionLocalID, placeholderLocalID, &TransportError{Transport: "channel", Err: err})
			return
		}

		d.applySessionID(sessionLocalID, ack.SessionID, "channel_ack")
		if err := d.store.SetServerID(sessionLocalID, userLocalID, ack.MessageID); err != nil {
			d.logger.Warn(logging.CategoryDispatch, "ack_apply_failed", err.Error(), nil)
		}
	}()
}

// submitViaChunked streams the response over one-shot HTTP, synthesizing
// router events so the chunked path and the channel path share mutation
// logic, then persists the finished pair.
func (d *Dispatcher) submitViaChunked(ctx context.Context, cfg config.TurnSnapshot, sessionLocalID string, sess chat.Session, p persona.Character, input TurnInput, history []protocol.HistoryTurn, userLocalID, placeholderLocalID string, editedServerID int64, isEdit bool) {
	turn := protocol.HistoryTurn{Role: "user", Content: input.Text}
	turn.Attachments = append(protocol.ImageAttachments(input.ImageRefs), protocol.FileAttachments(input.FileRefs)...)
	fullHistory := append(append([]protocol.HistoryTurn(nil), history...), turn)

	req := protocol.StreamRequest{
		CustomerID:   cfg.CustomerID,
		SessionID:    sess.SessionID,
		Character:    p.Name,
		ChatHistory:  fullHistory,
		AssetContext: cfg.AssetContext,
	}

	// The placeholder's local id doubles as the stream correlation id, so
	// late frames keep finding this turn after newer turns are appended.
	streamID := placeholderLocalID

	go func() {
		d.sink.Ingest(protocol.Event{
			Type:      protocol.EventStreamStart,
			SessionID: sess.SessionID,
			StreamID:  streamID,
			Character: p.Name,
		})

		d.chunked.Stream(ctx, req, transport.StreamCallbacks{
			OnDelta: func(text string) {
				d.sink.Ingest(protocol.Event{
					Type:      protocol.EventTextChunk,
					SessionID: sess.SessionID,
					StreamID:  streamID,
					Text:      text,
				})
			},
			OnComplete: func(fullText string) {
				resp, _ := d.persistPair(ctx, cfg, sessionLocalID, p.Name, input.Text, fullText, history, editedServerID, isEdit)
				end := protocol.Event{
					Type:      protocol.EventStreamEnd,
					SessionID: sess.SessionID,
					StreamID:  streamID,
				}
				if resp != nil {
					end.MessageID = resp.AIMessageID
					if err := d.store.SetServerID(sessionLocalID, userLocalID, resp.UserMessageID); err != nil {
						d.logger.Warn(logging.CategoryDispatch, "persist_apply_failed", err.Error(), nil)
					}
				}
				d.sink.Ingest(end)
			},
			OnError: func(err error) {
				telemetry.RecordError(ctx, err)
				d.sink.Ingest(protocol.Event{
					Type:      protocol.EventStreamError,
					SessionID: sess.SessionID,
					StreamID:  streamID,
					Text:      responseErrorText,
				})
				d.logger.Error(logging.CategoryStream, "stream_failed", err.Error(), map[string]any{"session": sessionLocalID})
			},
		})
	}()
}

// persistPair writes the finished turn through the persistence contract and
// applies the returned session id. A failed write degrades to missing
// durable ids, never to lost text.
func (d *Dispatcher) persistPair(ctx context.Context, cfg config.TurnSnapshot, sessionLocalID, character, userText, aiText string, history []protocol.HistoryTurn, editedServerID int64, isEdit bool) (*protocol.WriteResponse, error) {
	sess, ok := d.store.Session(sessionLocalID)
	if !ok {
		return nil, chat.ErrSessionNotFound
	}

	var resp *protocol.WriteResponse
	var err error
	if isEdit && editedServerID != 0 {
		resp, err = d.persist.EditMessage(ctx, protocol.EditMessageRequest{
			CustomerID:      cfg.CustomerID,
			SessionID:       sess.SessionID,
			UserMessageID:   editedServerID,
			UserMessage:     userText,
			AIResponse:      aiText,
			AICharacterName: character,
			ChatHistory:     history,
		})
	} else {
		resp, err = d.persist.NewMessage(ctx, protocol.NewMessageRequest{
			CustomerID:      cfg.CustomerID,
			SessionID:       sess.SessionID,
			UserMessage:     userText,
			AIResponse:      aiText,
			AICharacterName: character,
			ChatHistory:     history,
		})
	}
	if err != nil {
		d.logger.Error(logging.CategoryNetwork, "persist_failed", err.Error(), map[string]any{"session": sessionLocalID})
		return nil, err
	}

	d.applySessionID(sessionLocalID, resp.SessionID, "persistence")
	return resp, nil
}

// persistTurn is the no-autoresponse path: one synchronous write, no
// placeholder, no streaming.
func (d *Dispatcher) persistTurn(ctx context.Context, cfg config.TurnSnapshot, sessionLocalID, userLocalID, character, userText string, history []protocol.HistoryTurn, editedServerID int64, isEdit bool) error {
	resp, err := d.persistPair(ctx, cfg, sessionLocalID, character, userText, "", history, editedServerID, isEdit)
	if err != nil {
		return &TransportError{Transport: "persistence", Err: err}
	}
	return d.store.SetServerID(sessionLocalID, userLocalID, resp.UserMessageID)
}

// applySessionID records a durable session id from either source,
// first-writer-wins. A conflicting second value is an anomaly: logged and
// counted, never overwritten.
func (d *Dispatcher) applySessionID(sessionLocalID, sessionID, source string) {
	if sessionID == "" || strings.HasPrefix(sessionID, tempSessionPrefix) {
		return
	}
	err := d.store.AssignSessionID(sessionLocalID, sessionID)
	if err == chat.ErrSessionIDConflict {
		telemetry.MetricReconcileAnomalies.Inc()
		d.logger.Error(logging.CategoryReconcile, "session_id_conflict", "", map[string]any{
			"session": sessionLocalID, "rejected": sessionID, "source": source,
		})
		return
	}
	if err != nil {
		d.logger.Warn(logging.CategoryReconcile, "session_id_apply_failed", err.Error(), nil)
	}
}

// failPlaceholder surfaces a transport failure on the placeholder message.
func (d *Dispatcher) failPlaceholder(sessionLocalID, placeholderLocalID string, terr *TransportError) {
	d.logger.Error(logging.CategoryDispatch, "transport_failed", terr.Error(), map[string]any{"session": sessionLocalID})
	err := d.store.UpdateMessage(sessionLocalID, placeholderLocalID, func(m *chat.Message) {
		m.Text = responseErrorText
		m.IsError = true
		m.ToolActivity = ""
	})
	if err != nil {
		d.logger.Warn(logging.CategoryDispatch, "placeholder_update_failed", err.Error(), nil)
	}
}
