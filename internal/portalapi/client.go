// Package portalapi talks to the identity server on behalf of the portal.
package portalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jobportal/identity/internal/session"
	"github.com/jobportal/identity/internal/user"
	"golang.org/x/oauth2"
)

// maxBodySize bounds how much of a response is read
const maxBodySize = 1 << 20

// Client is an HTTP client for the identity server
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL. A zero timeout means no timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Login exchanges credentials for a grant
// POST /auth/login
func (c *Client) Login(ctx context.Context, email, password string) (*session.Grant, error) {
	var grant session.Grant
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// Register creates an account
// POST /auth/register
func (c *Client) Register(ctx context.Context, reg session.Registration) (*session.Grant, error) {
	var grant session.Grant
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, reg, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// Me fetches the profile behind an access token
// GET /auth/me
func (c *Client) Me(ctx context.Context, accessToken string) (*user.Profile, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/auth/me", staticToken(accessToken), nil, &raw); err != nil {
		return nil, err
	}

	var wrapped struct {
		User *user.Profile `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.User != nil {
		return wrapped.User, nil
	}

	// Some deployments answer with the bare profile
	var profile user.Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

// Refresh rotates a refresh token
// POST /auth/refresh
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.Grant, error) {
	var grant session.Grant
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, body, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// Logout revokes a refresh token
// POST /auth/logout
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refresh_token": refreshToken}
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, body, nil)
}

// Fetch GETs a protected resource, authorizing with ts
func (c *Client) Fetch(ctx context.Context, ts oauth2.TokenSource, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, ts, nil, out)
}

func staticToken(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
}

// httpClient returns the base client, or one that adds bearer tokens from ts
func (c *Client) httpClient(ts oauth2.TokenSource) *http.Client {
	if ts == nil {
		return c.http
	}
	return &http.Client{
		Timeout:   c.http.Timeout,
		Transport: &oauth2.Transport{Source: ts, Base: c.http.Transport},
	}
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, ts oauth2.TokenSource, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient(ts).Do(req)
	if err != nil {
		// Token source failures are not transport failures
		var remote *session.RemoteError
		if errors.As(err, &remote) || errors.Is(err, session.ErrNoSession) {
			return err
		}
		return fmt.Errorf("%w: %v", session.ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrRemoteUnreachable, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		remote := &session.RemoteError{Status: resp.StatusCode}
		if decodeErr == nil {
			if env.Error != nil && env.Error.Message != "" {
				remote.Message = env.Error.Message
			} else {
				remote.Message = env.Message
			}
		}
		return remote
	}

	if out == nil {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, decodeErr)
	}

	payload := env.Data
	if len(payload) == 0 {
		payload = raw
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
