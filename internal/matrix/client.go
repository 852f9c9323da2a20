// Package matrix stores replicated state as Matrix room state events and
// watches the room timeline for chat commands.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const maxResponseBytes = 16 << 20

// Error is the error body every Matrix endpoint returns.
type Error struct {
	Code       string `json:"errcode"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

const (
	ErrCodeNotFound  = "M_NOT_FOUND"
	ErrCodeForbidden = "M_FORBIDDEN"
)

func isMatrixError(err error, code string) bool {
	var merr *Error
	return errors.As(err, &merr) && merr.Code == code
}

type Config struct {
	HomeserverURL string
	AccessToken   string
	RoomID        string
	HTTPClient    *http.Client
	Logger        *slog.Logger
	// SyncTimeout is the long-poll wait passed to /sync.
	SyncTimeout time.Duration
}

// Client talks to one room on a homeserver with a fixed access token.
type Client struct {
	baseURL     string
	token       string
	roomID      string
	httpClient  *http.Client
	logger      *slog.Logger
	syncTimeout time.Duration
	txn         atomic.Int64
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: homeserver url is required")
	}
	if _, err := url.Parse(cfg.HomeserverURL); err != nil {
		return nil, fmt.Errorf("matrix: invalid homeserver url %q: %w", cfg.HomeserverURL, err)
	}
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("matrix: room id is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 30 * time.Second
	}
	c := &Client{
		baseURL:     strings.TrimRight(cfg.HomeserverURL, "/"),
		token:       cfg.AccessToken,
		roomID:      cfg.RoomID,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
		syncTimeout: cfg.SyncTimeout,
	}
	c.txn.Store(time.Now().UnixNano())
	return c, nil
}

func (c *Client) RoomID() string { return c.roomID }

func (c *Client) roomPath(parts ...string) string {
	var b strings.Builder
	b.WriteString("/_matrix/client/v3/rooms/")
	b.WriteString(url.PathEscape(c.roomID))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func (c *Client) nextTxnID() string {
	return "barcamp-" + strconv.FormatInt(c.txn.Add(1), 36)
}

// doRequest sends a JSON request and returns the body of a 2xx response.
// Any other status yields an *Error.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("matrix: encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("matrix: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matrix: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("matrix: read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	var merr Error
	if jsonErr := json.Unmarshal(data, &merr); jsonErr != nil || merr.Code == "" {
		return nil, fmt.Errorf("matrix: unexpected %d response from %s %s: %s", resp.StatusCode, method, path, string(data))
	}
	merr.StatusCode = resp.StatusCode
	return nil, &merr
}

// Ping checks that the homeserver accepts the access token.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil)
	return err
}
