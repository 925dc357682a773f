package backend

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

	"github.com/user/chatstream/internal/config"
	"github.com/user/chatstream/internal/types"
)

// ErrBackendUnavailable is returned by WaitReady when the backend never
// becomes ready within the probe budget.
var ErrBackendUnavailable = errors.New("backend unavailable")

const requestTimeout = 10 * time.Second

// Client talks to the agent backend over HTTP. The run stream is
// long-lived, so the underlying http.Client carries no global timeout;
// short calls bound themselves with per-request contexts.
type Client struct {
	baseURL    string
	appName    string
	userID     string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client from the backend section of the config.
func New(cfg *config.Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.Backend.BaseURL, "/"),
		appName:    cfg.Backend.AppName,
		userID:     cfg.Backend.UserID,
		apiKey:     cfg.Backend.APIKey,
		httpClient: &http.Client{},
	}
}

// sessionResponse is the backend's session creation response body.
type sessionResponse struct {
	UserID  string `json:"userId"`
	ID      string `json:"id"`
	AppName string `json:"appName"`
}

// CreateSession establishes a backend session under a freshly generated
// identifier and returns the resulting handle. Non-2xx statuses are
// returned as errors so the caller's retry policy can take over.
func (c *Client) CreateSession(ctx context.Context) (*types.SessionHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	generated := types.NewSessionID()
	url := fmt.Sprintf("%s/apps/%s/users/%s/sessions/%s", c.baseURL, c.appName, c.userID, generated)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("create session: status %d: %s", resp.StatusCode, string(body))
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing session response: %w", err)
	}

	return &types.SessionHandle{
		UserID:    sr.UserID,
		SessionID: types.SessionID(sr.ID),
		AppName:   sr.AppName,
	}, nil
}

// runRequest is the body for the streamed run endpoint.
type runRequest struct {
	AppName    string     `json:"appName"`
	UserID     string     `json:"userId"`
	SessionID  string     `json:"sessionId"`
	NewMessage runMessage `json:"newMessage"`
	Streaming  bool       `json:"streaming"`
}

type runMessage struct {
	Parts []runPart `json:"parts"`
	Role  string    `json:"role"`
}

type runPart struct {
	Text string `json:"text"`
}

// OpenRun submits a query against the session and returns the raw
// response body, an SSE byte stream the caller must close. The stream
// lives until end-of-data or until ctx is cancelled.
func (c *Client) OpenRun(ctx context.Context, handle *types.SessionHandle, query string) (io.ReadCloser, error) {
	body, err := json.Marshal(runRequest{
		AppName:   handle.AppName,
		UserID:    handle.UserID,
		SessionID: string(handle.SessionID),
		NewMessage: runMessage{
			Parts: []runPart{{Text: query}},
			Role:  "user",
		},
		Streaming: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run_sse", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("run: status %d: %s", resp.StatusCode, string(msg))
	}

	return resp.Body, nil
}

// Ready probes the backend once and reports whether it responded.
func (c *Client) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/docs", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// WaitReady polls the readiness probe up to maxAttempts times, sleeping
// interval between probes. Once the budget is exhausted it returns
// ErrBackendUnavailable; there is no automatic further polling.
func (c *Client) WaitReady(ctx context.Context, maxAttempts int, interval time.Duration) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if c.Ready(ctx) {
			return nil
		}
		slog.Debug("backend not ready yet", "attempt", attempt)
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ErrBackendUnavailable
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
