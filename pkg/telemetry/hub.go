package telemetry

import (
	"sync"
	"time"
)

// NoticeType identifies the kind of user-facing notice.
type NoticeType string

const (
	NoticeNotification NoticeType = "notification"
	NoticeStreamStart  NoticeType = "stream.start"
	NoticeStreamEnd    NoticeType = "stream.end"
	NoticeStreamError  NoticeType = "stream.error"
)

// Notice is a transient user-facing signal that is not conversation state:
// server notifications and stream lifecycle markers the presentation layer
// may toast or badge.
type Notice struct {
	Type      NoticeType `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	SessionID string     `json:"sessionId,omitempty"`
	Text      string     `json:"text,omitempty"`
}

// Hub fan-outs notices to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Notice]struct{}
	closed      bool
}

// NewHub constructs a notice hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Notice]struct{})}
}

// Publish notifies all subscribers. Non-blocking; drops if a buffer is full.
func (h *Hub) Publish(notice Notice) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if notice.Timestamp.IsZero() {
		notice.Timestamp = time.Now()
	}
	for ch := range h.subscribers {
		select {
		case ch <- notice:
		default:
			// Drop if subscriber can't keep up; never blocks the router.
		}
	}
}

// Subscribe returns a channel that will receive future notices and a
// cleanup func.
func (h *Hub) Subscribe() (<-chan Notice, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Notice)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Notice, 64)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}
