// Package poller implements the client-side session poller: a single
// cooperative loop that tracks a session through provisioning and reacts to
// disconnects from the remote surface.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"training-lab-control-plane/internal/session/domain"
)

// TokenSource supplies a fresh signed token per request. Tokens are single
// use, so the source must mint a new one every call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the poller's view of the control-plane API.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: timeout},
	}
}

type sessionEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Session *domain.Session `json:"session"`
	} `json:"data"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GetSession reads the session's current state, advancing it server-side.
func (c *Client) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("poller: mint token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("poller: build request: %w", err)
	}
	req.Header.Set("X-Session-Token", tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poller: get session: %w", err)
	}
	defer resp.Body.Close()

	var env sessionEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return nil, fmt.Errorf("poller: decode response: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("poller: %s: %s", env.Code, env.Message)
	}
	if env.Data.Session == nil {
		return nil, fmt.Errorf("poller: response carries no session")
	}
	return env.Data.Session, nil
}
