// Package api provides the HTTP client for the media server's session and
// progress endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Client talks to the media server. Failures never reach the UI; callers
// feed them into sync-failure bookkeeping and retry later.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Config represents API client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// CreateSessionRequest starts a server-side listening session for an item.
type CreateSessionRequest struct {
	DeviceInfo   DeviceInfo `json:"deviceInfo"`
	MediaPlayer  string     `json:"mediaPlayer"`
	ForceDirect  bool       `json:"forceDirectPlay"`
	CurrentTime  float64    `json:"currentTime"`
	PlaybackRate float64    `json:"playbackRate"`
}

// DeviceInfo identifies this client to the server.
type DeviceInfo struct {
	DeviceID   string `json:"deviceId"`
	ClientName string `json:"clientName"`
}

// CreateSessionResponse carries the server-assigned session id.
type CreateSessionResponse struct {
	ID            string  `json:"id"`
	UserID        string  `json:"userId"`
	LibraryItemID string  `json:"libraryItemId"`
	CurrentTime   float64 `json:"currentTime"`
	Duration      float64 `json:"duration"`
}

// SyncSessionRequest is the periodic progress push payload.
type SyncSessionRequest struct {
	CurrentTime  float64 `json:"currentTime"`
	TimeListened float64 `json:"timeListened"`
	Duration     float64 `json:"duration,omitempty"`
}

// MediaProgress is the server's authoritative progress for an item.
type MediaProgress struct {
	ID            string  `json:"id"`
	LibraryItemID string  `json:"libraryItemId"`
	UserID        string  `json:"userId"`
	IsFinished    bool    `json:"isFinished"`
	Progress      float64 `json:"progress"`
	CurrentTime   float64 `json:"currentTime"`
	Duration      float64 `json:"duration"`
	LastUpdate    int64   `json:"lastUpdate"`
	TimeListening float64 `json:"timeListening"`
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// CreateSession opens a server session for the library item and returns
// the server-assigned identifiers.
func (c *Client) CreateSession(ctx context.Context, libraryItemID string, req CreateSessionRequest) (*CreateSessionResponse, error) {
	var resp CreateSessionResponse
	path := fmt.Sprintf("/api/items/%s/play", libraryItemID)
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	return &resp, nil
}

// SyncSession pushes a progress sample for an open server session.
func (c *Client) SyncSession(ctx context.Context, serverSessionID string, req SyncSessionRequest) error {
	path := fmt.Sprintf("/api/session/%s/sync", serverSessionID)
	if err := c.post(ctx, path, req, nil); err != nil {
		return errors.Wrap(err, "sync session")
	}
	return nil
}

// CloseSession pushes the final progress sample and closes the server
// session.
func (c *Client) CloseSession(ctx context.Context, serverSessionID string, req SyncSessionRequest) error {
	path := fmt.Sprintf("/api/session/%s/close", serverSessionID)
	if err := c.post(ctx, path, req, nil); err != nil {
		return errors.Wrap(err, "close session")
	}
	return nil
}

// GetProgress pulls the server's authoritative progress for an item.
func (c *Client) GetProgress(ctx context.Context, libraryItemID string) (*MediaProgress, error) {
	var resp MediaProgress
	path := fmt.Sprintf("/api/me/progress/%s", libraryItemID)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, errors.Wrap(err, "get progress")
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return errors.Newf("server returned %d: %s", resp.StatusCode, string(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
