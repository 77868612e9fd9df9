package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-ai/aurelia/pkg/chattest"
	"github.com/aurelia-ai/aurelia/pkg/protocol"
)

func TestStreamDeliversFragmentsInOrder(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()
	srv.StreamFragments = []string{"Hi", " there", "!"}

	client := NewChunkedClient(srv.URL, "tok-1")

	var deltas []string
	var full string
	done := make(chan struct{})
	client.Stream(context.Background(), protocol.StreamRequest{
		CustomerID: "cust-1",
		Character:  "aria",
		ChatHistory: []protocol.HistoryTurn{
			{Role: "user", Content: "Hello"},
		},
	}, StreamCallbacks{
		OnDelta: func(text string) { deltas = append(deltas, text) },
		OnComplete: func(text string) {
			full = text
			close(done)
		},
		OnError: func(err error) { t.Errorf("unexpected stream error: %v", err) },
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never completed")
	}

	assert.Equal(t, []string{"Hi", " there", "!"}, deltas)
	assert.Equal(t, "Hi there!", full)

	reqs := srv.StreamRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "cust-1", reqs[0].CustomerID)
	assert.Equal(t, "aria", reqs[0].Character)
}

func TestStreamReportsNonOKStatus(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()
	srv.StreamStatus = 503

	client := NewChunkedClient(srv.URL, "")

	var gotErr error
	client.Stream(context.Background(), protocol.StreamRequest{Character: "aria"}, StreamCallbacks{
		OnComplete: func(string) { t.Error("OnComplete must not fire on failure") },
		OnError:    func(err error) { gotErr = err },
	})

	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "503")
}

func TestStreamHonorsContextCancellation(t *testing.T) {
	srv := chattest.NewServer()
	defer srv.Close()

	client := NewChunkedClient(srv.URL, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	client.Stream(ctx, protocol.StreamRequest{Character: "aria"}, StreamCallbacks{
		OnError: func(err error) { gotErr = err },
	})
	require.Error(t, gotErr)
}
