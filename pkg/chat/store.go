package chat

import (
	"errors"
	"sync"

	"github.com/aurelia-ai/aurelia/pkg/telemetry"
)

var (
	// ErrSessionNotFound is returned when no session matches the local id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoTarget is returned when a mutation needs a streaming target but
	// the session's last message is not an assistant message.
	ErrNoTarget = errors.New("no assistant target message")

	// ErrSessionIDConflict is returned when an assignment would overwrite
	// a durable session id with a different value. The first writer wins;
	// the caller logs the anomaly.
	ErrSessionIDConflict = errors.New("session id already assigned")
)

// Change notifies subscribers that a session's state advanced. Subscribers
// re-read the store; the change itself carries no payload.
type Change struct {
	SessionLocalID string
}

// Store owns every open session. All mutations run under the store lock
// against the latest state, so a mutation can never act on a stale snapshot
// even when events arrive back-to-back. Reads return deep copies.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string

	subMu       sync.RWMutex
	subscribers map[chan Change]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions:    make(map[string]*Session),
		subscribers: make(map[chan Change]struct{}),
	}
}

// NewSession creates an empty session for the given persona and returns a
// snapshot of it.
func (s *Store) NewSession(character string) Session {
	sess := &Session{
		LocalID:         NewLocalID(),
		ActiveCharacter: character,
	}
	s.mu.Lock()
	s.sessions[sess.LocalID] = sess
	s.order = append(s.order, sess.LocalID)
	s.mu.Unlock()

	telemetry.MetricSessionsActive.Inc()
	s.notify(sess.LocalID)
	return sess.clone()
}

// RemoveSession drops a session outright. Messages are destroyed only here
// or through turn replacement, never implicitly.
func (s *Store) RemoveSession(localID string) {
	s.mu.Lock()
	_, existed := s.sessions[localID]
	delete(s.sessions, localID)
	for i, id := range s.order {
		if id == localID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if existed {
		telemetry.MetricSessionsActive.Dec()
	}
	s.notify(localID)
}

// Session returns a deep copy of the session, if present.
func (s *Store) Session(localID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[localID]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Sessions returns deep copies of all sessions in creation order.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		if sess, ok := s.sessions[id]; ok {
			out = append(out, sess.clone())
		}
	}
	return out
}

// ResolveSessionID maps a durable backend session id onto the local id.
func (s *Store) ResolveSessionID(sessionID string) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if sess, ok := s.sessions[id]; ok && sess.SessionID == sessionID {
			return id, true
		}
	}
	return "", false
}

// Mutate applies fn to the live session under the store lock. fn always
// sees the latest state; it must not retain the pointer after returning.
func (s *Store) Mutate(localID string, fn func(*Session) error) error {
	s.mu.Lock()
	sess, ok := s.sessions[localID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	err := fn(sess)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify(localID)
	return nil
}

// AppendTurn appends the optimistic user message and, unless the persona
// suppresses auto-response, the assistant placeholder, as one atomic pair.
func (s *Store) AppendTurn(localID string, user Message, placeholder *Message) error {
	return s.Mutate(localID, func(sess *Session) error {
		sess.Messages = append(sess.Messages, user)
		if placeholder != nil {
			sess.Messages = append(sess.Messages, *placeholder)
		}
		return nil
	})
}

// ReplaceTurnAt replaces the user message at pos, discards everything after
// it, and appends a fresh placeholder. The resulting list has pos+2
// messages (pos+1 without a placeholder).
func (s *Store) ReplaceTurnAt(localID string, pos int, user Message, placeholder *Message) error {
	return s.Mutate(localID, func(sess *Session) error {
		if pos < 0 || pos >= len(sess.Messages) {
			return errors.New("edit position out of range")
		}
		sess.Messages = append(sess.Messages[:pos], user)
		if placeholder != nil {
			sess.Messages = append(sess.Messages, *placeholder)
		}
		return nil
	})
}

// UpdateLastAssistant applies fn to the session's last message, which must
// be an assistant message. The target is resolved fresh on every call;
// nothing may address a captured position.
func (s *Store) UpdateLastAssistant(localID string, fn func(*Message)) error {
	return s.Mutate(localID, func(sess *Session) error {
		n := len(sess.Messages)
		if n == 0 || sess.Messages[n-1].FromUser {
			return ErrNoTarget
		}
		fn(&sess.Messages[n-1])
		return nil
	})
}

// UpdateMessage applies fn to the message with the given local id,
// wherever it now sits in the list. Used for stream-correlated events that
// must keep routing to a superseded turn.
func (s *Store) UpdateMessage(localID, messageLocalID string, fn func(*Message)) error {
	return s.Mutate(localID, func(sess *Session) error {
		for i := range sess.Messages {
			if sess.Messages[i].LocalID == messageLocalID {
				fn(&sess.Messages[i])
				return nil
			}
		}
		return ErrNoTarget
	})
}

// AssignSessionID records the durable session id. The transition happens
// exactly once: re-assigning the same value is a no-op, a different value
// returns ErrSessionIDConflict and leaves the first value in place.
func (s *Store) AssignSessionID(localID, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.Mutate(localID, func(sess *Session) error {
		switch sess.SessionID {
		case "":
			sess.SessionID = sessionID
			sess.SuppressRefetch = false
			return nil
		case sessionID:
			return nil
		default:
			return ErrSessionIDConflict
		}
	})
}

// SetServerID records a message's durable id. Once set it never changes or
// regresses; later deliveries of any id are ignored.
func (s *Store) SetServerID(localID, messageLocalID string, serverID int64) error {
	if serverID == 0 {
		return nil
	}
	return s.UpdateMessage(localID, messageLocalID, func(m *Message) {
		if m.ServerID == 0 {
			m.ServerID = serverID
		}
	})
}

// SetChartBanner replaces the session-level chart banner.
func (s *Store) SetChartBanner(localID string, banner ChartBanner) error {
	return s.Mutate(localID, func(sess *Session) error {
		sess.ChartBanner = &banner
		return nil
	})
}

// ClearChartBanner removes the loading banner. The error banner survives
// until DismissChartBanner so the user has to see it.
func (s *Store) ClearChartBanner(localID string) error {
	return s.Mutate(localID, func(sess *Session) error {
		if sess.ChartBanner != nil && sess.ChartBanner.State == ChartBannerLoading {
			sess.ChartBanner = nil
		}
		return nil
	})
}

// DismissChartBanner removes the banner regardless of state. Called from
// the presentation layer when the user dismisses the error.
func (s *Store) DismissChartBanner(localID string) error {
	return s.Mutate(localID, func(sess *Session) error {
		sess.ChartBanner = nil
		return nil
	})
}

// Subscribe returns a channel receiving a Change per mutation and an
// unsubscribe func. Slow subscribers drop changes rather than blocking the
// engine; the store is re-read on receive so drops lose nothing.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ch := make(chan Change, 64)
	s.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

func (s *Store) notify(localID string) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- Change{SessionLocalID: localID}:
		default:
		}
	}
}
