package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-ai/aurelia/pkg/chattest"
	"github.com/aurelia-ai/aurelia/pkg/protocol"
)

func newTestClient(srv *chattest.Server) *Client {
	return NewClient(Options{
		URL:            srv.ChannelURL(),
		AuthToken:      "tok-1",
		DialTimeout:    2 * time.Second,
		SendAckTimeout: 2 * time.Second,
	}, nil)
}

func TestConnectAndClose(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()

	client := newTestClient(srv)
	require.NoError(t, client.Connect(context.Background(), ""))
	assert.Equal(t, StateConnected, client.State())

	client.Close()
	assert.Equal(t, StateDisconnected, client.State())
}

func TestSendMessageResolvesAck(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()
	srv.SessionID = "sess-9"

	client := newTestClient(srv)
	require.NoError(t, client.Connect(context.Background(), ""))
	defer client.Close()

	ack, err := client.SendMessage(context.Background(), "Hello", protocol.SendKindText, "aria", nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-9", ack.SessionID)
	assert.True(t, ack.Queued)
	assert.Positive(t, ack.MessageID)
}

func TestSendMessageRequiresConnection(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()

	client := newTestClient(srv)
	_, err := client.SendMessage(context.Background(), "Hello", protocol.SendKindText, "aria", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEventsDeliveredAfterAck(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()
	srv.OnSend = func(req protocol.SendRequest) []protocol.Event {
		return []protocol.Event{
			{Type: protocol.EventStreamStart, SessionID: srv.SessionID, StreamID: "st-1"},
			{Type: protocol.EventTextChunk, SessionID: srv.SessionID, StreamID: "st-1", Text: "Hi"},
			{Type: protocol.EventStreamEnd, SessionID: srv.SessionID, StreamID: "st-1", MessageID: 42},
		}
	}

	client := newTestClient(srv)
	require.NoError(t, client.Connect(context.Background(), ""))
	defer client.Close()

	_, err := client.SendMessage(context.Background(), "Hello", protocol.SendKindAgentic, "atlas", nil)
	require.NoError(t, err)

	var got []protocol.Event
	timeout := time.After(3 * time.Second)
	for len(got) < 3 {
		select {
		case evt := <-client.Events():
			got = append(got, evt)
		case <-timeout:
			t.Fatalf("timed out with %d events", len(got))
		}
	}

	assert.Equal(t, protocol.EventStreamStart, got[0].Type)
	assert.Equal(t, protocol.EventTextChunk, got[1].Type)
	assert.Equal(t, "Hi", got[1].Text)
	assert.Equal(t, protocol.EventStreamEnd, got[2].Type)
	assert.Equal(t, int64(42), got[2].MessageID)
}

func TestReconnectSurvivesEventChannel(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()

	client := newTestClient(srv)
	require.NoError(t, client.Connect(context.Background(), ""))

	events := client.Events()
	require.NoError(t, client.Connect(context.Background(), "sess-9"))
	defer client.Close()

	// Same channel across connections; consumers never resubscribe.
	assert.Equal(t, events, client.Events())
	assert.Equal(t, StateConnected, client.State())
}

func TestCloseFailsPendingSends(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()

	client := newTestClient(srv)
	require.NoError(t, client.Connect(context.Background(), ""))

	done := make(chan error, 1)
	go func() {
		// The fake backend acks quickly, so race Close against the send;
		// either outcome must resolve rather than hang.
		_, err := client.SendMessage(context.Background(), "Hello", protocol.SendKindText, "aria", nil)
		done <- err
	}()
	client.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("SendMessage hung after Close")
	}
}

func TestDeriveURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:9000/channel", DeriveURL("http://localhost:9000"))
	assert.Equal(t, "wss://api.aurelia.chat/channel", DeriveURL("https://api.aurelia.chat/"))
}
