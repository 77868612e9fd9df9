package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aurelia-ai/aurelia/pkg/protocol"
)

// PersistenceClient writes turns to the backend database service. The
// engine never touches storage directly; this fixed request/response
// contract is the whole surface.
type PersistenceClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewPersistenceClient creates a persistence client.
func NewPersistenceClient(baseURL, authToken string) *PersistenceClient {
	return &PersistenceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewMessage persists a fresh user/assistant pair via db_new_message.
func (c *PersistenceClient) NewMessage(ctx context.Context, req protocol.NewMessageRequest) (*protocol.WriteResponse, error) {
	return c.post(ctx, "/db_new_message", req)
}

// EditMessage replaces an existing turn via db_edit_message.
func (c *PersistenceClient) EditMessage(ctx context.Context, req protocol.EditMessageRequest) (*protocol.WriteResponse, error) {
	return c.post(ctx, "/db_edit_message", req)
}

func (c *PersistenceClient) post(ctx context.Context, path string, payload any) (*protocol.WriteResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("persistence request failed: %s", resp.Status)
	}

	var out protocol.WriteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}
