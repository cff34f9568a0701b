package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
)

// Client is the HTTP gateway client. Every request carries a short-lived
// HS256 token minted from the shared API key and secret, so no long-lived
// credential crosses the wire.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret []byte
	http      *http.Client
}

func NewClient(baseURL, apiKey, apiSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: []byte(apiSecret),
		http:      &http.Client{Timeout: timeout},
	}
}

func (c *Client) requestToken() (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    c.apiKey,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.apiSecret)
}

type createConnectionRequest struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	InstanceIP string `json:"instance_ip"`
}

type createConnectionResponse struct {
	ConnectionID string `json:"connection_id"`
}

func (c *Client) CreateConnection(ctx context.Context, sessionID, userID, instanceIP string) (string, error) {
	body, err := json.Marshal(createConnectionRequest{
		SessionID:  sessionID,
		UserID:     userID,
		InstanceIP: instanceIP,
	})
	if err != nil {
		return "", fmt.Errorf("gateway: marshal create request: %w", err)
	}

	var out createConnectionResponse
	err = c.do(ctx, http.MethodPost, "/v1/connections", body, &out)
	if err != nil {
		return "", err
	}
	if out.ConnectionID == "" {
		return "", fmt.Errorf("gateway: empty connection id")
	}
	return out.ConnectionID, nil
}

func (c *Client) State(ctx context.Context, connectionID string) (*ConnectionState, error) {
	var out ConnectionState
	err := c.do(ctx, http.MethodGet, "/v1/connections/"+connectionID, nil, &out)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteConnection(ctx context.Context, connectionID string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/connections/"+connectionID, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway: status %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

// do performs one request with a single retry on transport errors and 5xx
// responses. 4xx responses are terminal.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		token, err := c.requestToken()
		if err != nil {
			return fmt.Errorf("gateway: sign request token: %w", err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("gateway: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("gateway: %s %s: %w", method, path, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return retry.RetryableError(&statusError{code: resp.StatusCode, body: string(data)})
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return &statusError{code: resp.StatusCode, body: string(data)}
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("gateway: decode response: %w", err)
		}
		return nil
	})
}
