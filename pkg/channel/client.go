// Package channel implements the persistent bidirectional connection to the
// backend: one websocket per (user, session) pair carrying a typed inbound
// event stream and a request/ack send call. Reconnection is never silent;
// the router decides when a fresh Connect is warranted.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aurelia-ai/aurelia/pkg/logging"
	"github.com/aurelia-ai/aurelia/pkg/protocol"
	"github.com/aurelia-ai/aurelia/pkg/telemetry"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

var (
	// ErrNotConnected is returned by SendMessage when no connection is up.
	ErrNotConnected = errors.New("channel not connected")

	// ErrAckTimeout is returned when the backend does not acknowledge a
	// send within the configured window.
	ErrAckTimeout = errors.New("send acknowledgement timed out")
)

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint.
	URL       string
	AuthToken string

	DialTimeout    time.Duration
	Keepalive      time.Duration
	ReadLimit      int64
	SendAckTimeout time.Duration
}

// Client owns one live websocket connection. All inbound frames are decoded
// and delivered on Events(); acknowledgement frames resolve their pending
// SendMessage call instead.
type Client struct {
	opts   Options
	logger *logging.Logger

	// limiter throttles dials so rapid persona flips cannot hammer the
	// backend with connection attempts.
	limiter *rate.Limiter

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	readStop  context.CancelFunc
	sessionID string

	pendingMu sync.Mutex
	pending   map[string]chan protocol.SendAck

	events chan protocol.Event
}

// NewClient creates a disconnected client. The Events channel lives for the
// client's whole lifetime, across any number of connections.
func NewClient(opts Options, logger *logging.Logger) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = 30 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	if opts.SendAckTimeout <= 0 {
		opts.SendAckTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		opts:    opts,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		state:   StateDisconnected,
		pending: make(map[string]chan protocol.SendAck),
		events:  make(chan protocol.Event, 128),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns the typed inbound event stream. Frames that fail to decode
// are logged and dropped, never delivered.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Connect dials the channel for the given session. Any existing connection
// is torn down first; an in-flight response on the old connection is lost,
// which is the intended behavior on persona or session switches.
func (c *Client) Connect(ctx context.Context, sessionID string) error {
	c.Close()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = StateConnecting
	c.sessionID = sessionID
	c.mu.Unlock()

	header := http.Header{}
	if c.opts.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.opts.AuthToken)
	}

	endpoint := c.opts.URL
	if sessionID != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "session_id=" + sessionID
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, resp, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{HTTPHeader: header})
	cancel()
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		telemetry.MetricChannelConnects.WithLabelValues("error").Inc()
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.logger.Error(logging.CategoryChannel, "connect_failed", err.Error(), map[string]any{
			"status": status, "session_id": sessionID,
		})
		return fmt.Errorf("channel dial failed: %w", err)
	}
	conn.SetReadLimit(c.opts.ReadLimit)

	readCtx, readStop := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.readStop = readStop
	c.state = StateConnected
	c.mu.Unlock()

	telemetry.MetricChannelConnects.WithLabelValues("ok").Inc()
	c.logger.Info(logging.CategoryChannel, "connected", "", map[string]any{"session_id": sessionID})

	go c.pingLoop(readCtx, conn)
	go c.readLoop(readCtx, conn)
	return nil
}

// Close tears down the connection deterministically. Pending sends fail,
// the event channel stays open for the next connection.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	stop := c.readStop
	c.conn = nil
	c.readStop = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	c.failPending()
}

// SendMessage transmits one user turn and blocks until the backend
// acknowledges receipt. The ack confirms queuing only; response content
// arrives later on Events().
func (c *Client) SendMessage(ctx context.Context, text string, kind protocol.SendKind, character string, attachments []protocol.Attachment) (*protocol.SendAck, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	callID := uuid.NewString()
	ackCh := make(chan protocol.SendAck, 1)
	c.pendingMu.Lock()
	c.pending[callID] = ackCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, callID)
		c.pendingMu.Unlock()
	}()

	req := protocol.SendRequest{
		Message:     text,
		Kind:        kind,
		Character:   character,
		Attachments: attachments,
		CallID:      callID,
	}
	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := wsjson.Write(writeCtx, conn, req)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("channel write failed: %w", err)
	}

	select {
	case ack, ok := <-ackCh:
		if !ok {
			return nil, ErrNotConnected
		}
		return &ack, nil
	case <-time.After(c.opts.SendAckTimeout):
		return nil, ErrAckTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Read loop observes the broken connection and winds down.
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.state = StateDisconnected
			}
			c.mu.Unlock()
			c.failPending()
			if !errors.Is(err, context.Canceled) {
				c.logger.Warn(logging.CategoryChannel, "disconnected", err.Error(), nil)
			}
			return
		}
		c.dispatchFrame(data)
	}
}

// dispatchFrame routes one raw frame: acknowledgements resolve their
// pending call, everything else is decoded into the event stream.
func (c *Client) dispatchFrame(data []byte) {
	var probe struct {
		EventType string `json:"event_type"`
		CallID    string `json:"call_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		telemetry.MetricEventsDropped.WithLabelValues("malformed").Inc()
		c.logger.Warn(logging.CategoryChannel, "bad_frame", err.Error(), nil)
		return
	}

	if probe.EventType == "" && probe.CallID != "" {
		var ack protocol.SendAck
		if err := json.Unmarshal(data, &ack); err != nil {
			telemetry.MetricEventsDropped.WithLabelValues("malformed").Inc()
			return
		}
		c.pendingMu.Lock()
		if ch, ok := c.pending[ack.CallID]; ok {
			// Buffered; resolving under the lock cannot block and keeps
			// failPending from closing the channel mid-send.
			ch <- ack
			delete(c.pending, ack.CallID)
		}
		c.pendingMu.Unlock()
		return
	}

	evt, err := protocol.DecodeEvent(data)
	if err != nil {
		telemetry.MetricEventsDropped.WithLabelValues("protocol").Inc()
		c.logger.Warn(logging.CategoryChannel, "protocol_error", err.Error(), nil)
		return
	}

	select {
	case c.events <- evt:
	default:
		telemetry.MetricEventsDropped.WithLabelValues("backpressure").Inc()
		c.logger.Warn(logging.CategoryChannel, "event_dropped", "", map[string]any{"event_type": string(evt.Type)})
	}
}

// failPending closes every waiting ack channel; the blocked SendMessage
// calls surface ErrNotConnected.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// DeriveURL turns an http(s) base URL into the ws(s) channel endpoint.
func DeriveURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/channel"
}
