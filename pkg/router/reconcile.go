package router

import (
	"github.com/aurelia-ai/aurelia/pkg/chat"
	"github.com/aurelia-ai/aurelia/pkg/logging"
	"github.com/aurelia-ai/aurelia/pkg/protocol"
)

// onUserMessageEcho reconciles a server-pushed user message against the
// local optimistic state. The push may report a message this client just
// sent (echo) or a turn added by another device sharing the session.
//
// Dedup rule: the echo is skipped when an existing user message either
// carries the same server id, or — when the echo has no id — has identical
// text and no server id yet. Only when neither holds is a new user message
// appended, together with a fresh assistant placeholder for the response
// that will follow it.
func (r *Router) onUserMessageEcho(evt protocol.Event) error {
	localID, ok := r.resolveSession(evt)
	if !ok {
		return chat.ErrSessionNotFound
	}

	appended := false
	err := r.store.Mutate(localID, func(sess *chat.Session) error {
		for i := range sess.Messages {
			m := &sess.Messages[i]
			if !m.FromUser {
				continue
			}
			if evt.MessageID != 0 && m.ServerID == evt.MessageID {
				return nil
			}
			if evt.MessageID == 0 && m.ServerID == 0 && m.Text == evt.Text {
				return nil
			}
		}

		// A second client added this turn: materialize it locally.
		user := chat.NewUserMessage(evt.Text, nil, nil)
		user.ServerID = evt.MessageID
		character := sess.ActiveCharacter
		if evt.Character != "" {
			character = evt.Character
		}
		placeholder := chat.NewPlaceholder(character)
		sess.Messages = append(sess.Messages, user, placeholder)
		appended = true
		return nil
	})
	if err != nil {
		return err
	}

	if appended {
		r.logger.Info(logging.CategoryReconcile, "echo_appended", "", map[string]any{
			"session_id": evt.SessionID, "message_id": evt.MessageID,
		})
	} else {
		r.logger.Debug(logging.CategoryReconcile, "echo_deduped", "", map[string]any{
			"session_id": evt.SessionID, "message_id": evt.MessageID,
		})
	}
	return nil
}
