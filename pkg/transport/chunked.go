// Package transport holds the one-shot HTTP delivery mechanisms: the
// chunked stream reader and the persistence client. The persistent channel
// lives in pkg/channel.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aurelia-ai/aurelia/pkg/protocol"
)

// StreamCallbacks receives the incremental results of one chunked request.
// OnDelta fires per text fragment in arrival order; exactly one of
// OnComplete or OnError fires afterwards. A failed request is terminal for
// the turn, there is no reconnection.
type StreamCallbacks struct {
	OnDelta    func(text string)
	OnComplete func(fullText string)
	OnError    func(err error)
}

// ChunkedClient performs one-shot streaming chat requests.
type ChunkedClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewChunkedClient creates a chunked stream client. A zero timeout leaves
// the stream open until the backend completes it.
func NewChunkedClient(baseURL, authToken string) *ChunkedClient {
	return &ChunkedClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: &http.Client{},
	}
}

// SetTimeout updates the client timeout (0 disables timeout).
func (c *ChunkedClient) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// Stream sends the request and consumes the response incrementally,
// invoking the callbacks as fragments arrive. It blocks until the stream
// ends; callers run it on a goroutine.
func (c *ChunkedClient) Stream(ctx context.Context, req protocol.StreamRequest, cb StreamCallbacks) {
	if err := c.stream(ctx, req, cb); err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}
}

func (c *ChunkedClient) stream(ctx context.Context, req protocol.StreamRequest, cb StreamCallbacks) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream request failed: %s", resp.Status)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		data := scanner.Text()
		if data == "" {
			continue
		}
		if len(data) > 6 && data[:6] == "data: " {
			data = data[6:]
		}
		if data == "[DONE]" {
			break
		}

		var frag struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(data), &frag); err != nil {
			return fmt.Errorf("decoding chunk: %w", err)
		}
		full.WriteString(frag.Text)
		if cb.OnDelta != nil {
			cb.OnDelta(frag.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if cb.OnComplete != nil {
		cb.OnComplete(full.String())
	}
	return nil
}
