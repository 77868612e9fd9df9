// Package chattest provides an in-process fake backend for engine tests:
// the chunked stream endpoint, the persistence write endpoints, and the
// websocket channel, all scriptable per test. No test in this module talks
// to a real network.
package chattest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/aurelia-ai/aurelia/pkg/protocol"
)

// Server is a scriptable fake backend.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	// StreamFragments are served by /chat/stream, one data: line each.
	StreamFragments []string
	// StreamStatus, when non-zero, fails the stream request outright.
	StreamStatus int

	// SessionID is the durable id handed out by persistence writes and
	// channel acks.
	SessionID string

	// OnSend scripts the events emitted after acknowledging a channel
	// send. Nil means ack only.
	OnSend func(req protocol.SendRequest) []protocol.Event

	nextMessageID int64

	newRequests  []protocol.NewMessageRequest
	editRequests []protocol.EditMessageRequest
	streamReqs   []protocol.StreamRequest
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewServer starts the fake backend. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		SessionID:     "sess-" + fmt.Sprint(time.Now().UnixNano()%100000),
		nextMessageID: 100,
	}

	r := chi.NewRouter()
	r.Post("/chat/stream", s.handleStream)
	r.Post("/db_new_message", s.handleNewMessage)
	r.Post("/db_edit_message", s.handleEditMessage)
	r.Get("/channel", s.handleChannel)

	s.Server = httptest.NewServer(r)
	return s
}

// ChannelURL returns the websocket endpoint.
func (s *Server) ChannelURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/channel"
}

// NewMessageRequests returns the recorded db_new_message payloads.
func (s *Server) NewMessageRequests() []protocol.NewMessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.NewMessageRequest(nil), s.newRequests...)
}

// EditMessageRequests returns the recorded db_edit_message payloads.
func (s *Server) EditMessageRequests() []protocol.EditMessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.EditMessageRequest(nil), s.editRequests...)
}

// StreamRequests returns the recorded chunked stream payloads.
func (s *Server) StreamRequests() []protocol.StreamRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.StreamRequest(nil), s.streamReqs...)
}

func (s *Server) allocID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessageID++
	return s.nextMessageID
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req protocol.StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.streamReqs = append(s.streamReqs, req)
	status := s.StreamStatus
	fragments := append([]string(nil), s.StreamFragments...)
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, "scripted failure", status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, frag := range fragments {
		payload, _ := json.Marshal(map[string]string{"text": frag})
		fmt.Fprintf(w, "data: %s\n", payload)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n")
	flusher.Flush()
}

func (s *Server) handleNewMessage(w http.ResponseWriter, r *http.Request) {
	var req protocol.NewMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.newRequests = append(s.newRequests, req)
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.SessionID
	}
	s.mu.Unlock()

	resp := protocol.WriteResponse{
		SessionID:     sessionID,
		UserMessageID: s.allocID(),
		AIMessageID:   s.allocID(),
	}
	writeJSON(w, resp)
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req protocol.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.editRequests = append(s.editRequests, req)
	s.mu.Unlock()

	resp := protocol.WriteResponse{
		SessionID:     req.SessionID,
		UserMessageID: s.allocID(),
		AIMessageID:   s.allocID(),
	}
	writeJSON(w, resp)
}

// handleChannel acknowledges each send and then plays the scripted events.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var g errgroup.Group
	for {
		var req protocol.SendRequest
		if err := conn.ReadJSON(&req); err != nil {
			break
		}

		ack := protocol.SendAck{
			CallID:    req.CallID,
			SessionID: s.SessionID,
			Queued:    true,
			MessageID: s.allocID(),
		}
		if err := s.writeFrame(conn, ack); err != nil {
			break
		}

		if s.OnSend != nil {
			events := s.OnSend(req)
			g.Go(func() error {
				for _, evt := range events {
					if err := s.writeFrame(conn, evt); err != nil {
						return err
					}
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (s *Server) writeFrame(conn *websocket.Conn, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn.WriteJSON(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
