package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Token is one ephemeral credential for one provider session. Owned by the
// pool; it never travels further than the adapter it configures.
type Token struct {
	Value     string
	Endpoint  string
	ExpiresAt time.Time
}

// Fresh reports whether the token may still open a connection. A token
// inside the refresh buffer of its real expiry counts as expired, forcing
// proactive re-acquisition instead of reacting to a live disconnect.
func (t Token) Fresh(buffer time.Duration) bool {
	if t.Value == "" {
		return false
	}
	return time.Now().Before(t.ExpiresAt.Add(-buffer))
}

// tokenRequest is the issuance request body.
type tokenRequest struct {
	SessionID string `json:"session_id"`
}

// tokenResponse is the issuance service's response. The service mints a
// short-lived credential per session and never exposes a long-lived secret.
type tokenResponse struct {
	Token             string `json:"token"`
	WebsocketEndpoint string `json:"websocket_endpoint"`
	ExpiresAtEpochMs  int64  `json:"expires_at_epoch_ms"`
}

// TokenClient fetches ephemeral tokens from an issuance endpoint.
type TokenClient struct {
	client *http.Client
}

// NewTokenClient creates a token client with the given request timeout.
func NewTokenClient(timeout time.Duration) *TokenClient {
	return &TokenClient{client: &http.Client{Timeout: timeout}}
}

// Fetch requests one ephemeral token for the given session.
func (c *TokenClient) Fetch(ctx context.Context, url, sessionID string) (Token, error) {
	body, err := json.Marshal(tokenRequest{SessionID: sessionID})
	if err != nil {
		return Token{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Token{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("token service error (status %d): %s", resp.StatusCode, string(data))
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.Token == "" || tr.WebsocketEndpoint == "" {
		return Token{}, fmt.Errorf("token service returned incomplete credential")
	}

	return Token{
		Value:     tr.Token,
		Endpoint:  tr.WebsocketEndpoint,
		ExpiresAt: time.UnixMilli(tr.ExpiresAtEpochMs),
	}, nil
}
