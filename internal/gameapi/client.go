package gameapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcoot/mastermind-go/internal/auth"
	"github.com/mcoot/mastermind-go/internal/model"
)

// Client is an HTTP client for the game server API. Every request
// carries the bearer credential from the injected provider; a 401-class
// response invalidates the provider and surfaces model.ErrAuthExpired.
type Client struct {
	baseURL    string
	creds      auth.CredentialProvider
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new API client
func NewClient(baseURL string, creds auth.CredentialProvider, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// do performs an HTTP request against the API
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	token, err := c.creds.Token()
	switch {
	case err == nil:
		req.Header.Set("Authorization", "Bearer "+token)
	case errors.Is(err, model.ErrNoToken):
		// Unauthenticated request; the auth endpoints allow it
	case errors.Is(err, model.ErrAuthExpired):
		return model.ErrAuthExpired
	default:
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if invErr := c.creds.Invalidate(); invErr != nil {
			c.logger.Warn("failed to invalidate credentials",
				slog.String("error", invErr.Error()),
			)
		}
		return model.ErrAuthExpired
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Code != "" {
			return fmt.Errorf("%s (%s)", errResp.Error.Message, errResp.Error.Code)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// CreateSession creates a new game session on the server
func (c *Client) CreateSession(ctx context.Context, mode model.GameMode, secret, difficulty string) (*SessionSnapshot, error) {
	req := CreateSessionRequest{
		Mode:       string(mode),
		Secret:     secret,
		Difficulty: difficulty,
	}
	var snap SessionSnapshot
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetSession fetches the server's view of a session
func (c *Client) GetSession(ctx context.Context, id model.SessionID) (*SessionSnapshot, error) {
	var snap SessionSnapshot
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sessions/%d", id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SubmitGuess submits a guess for the local player
func (c *Client) SubmitGuess(ctx context.Context, id model.SessionID, code string) (*SessionSnapshot, error) {
	var snap SessionSnapshot
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/guesses", id), GuessRequest{Code: code}, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// OpponentGuesses requests the server's view of the opponent's progress
func (c *Client) OpponentGuesses(ctx context.Context, id model.SessionID) (*SessionSnapshot, error) {
	var snap SessionSnapshot
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/opponent-guesses", id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// AbandonSession notifies the server the local player is leaving
func (c *Client) AbandonSession(ctx context.Context, id model.SessionID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/abandon", id), nil, nil)
}

// CreateGuest creates a guest player and returns a fresh credential
func (c *Client) CreateGuest(ctx context.Context, displayName string) (*AuthResult, error) {
	req := map[string]string{"display_name": displayName}
	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/guest", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Login authenticates an existing account
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	req := map[string]string{"username": username, "password": password}
	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Register creates a new account
func (c *Client) Register(ctx context.Context, username, password, displayName string) (*AuthResult, error) {
	req := map[string]string{
		"username":     username,
		"password":     password,
		"display_name": displayName,
	}
	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CurrentPlayer fetches the authenticated player's profile
func (c *Client) CurrentPlayer(ctx context.Context) (*Player, error) {
	var result Player
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Logout revokes the current credential server-side
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}
