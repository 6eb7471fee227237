package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned by Status when the daemon does not supervise the name.
var ErrNotFound = errors.New("service not found")

// Client talks to the healthsup control API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:9180/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new control API client.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Statuses returns the status of every supervised service.
func (c *Client) Statuses(ctx context.Context) ([]ServiceStatus, error) {
	var out []ServiceStatus
	if err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns one service's status.
func (c *Client) Status(ctx context.Context, name string) (ServiceStatus, error) {
	var out ServiceStatus
	if err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/status/"+url.PathEscape(name), &out); err != nil {
		return ServiceStatus{}, err
	}
	return out, nil
}

// Shutdown asks the daemon to stop every supervisor and exit.
func (c *Client) Shutdown(ctx context.Context) error {
	c.logger.Debug("Requesting daemon shutdown", "url", c.baseURL)
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/shutdown", nil)
}

// doRequest performs the request and decodes a 2xx body into out when non-nil.
func (c *Client) doRequest(ctx context.Context, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("HTTP %d: %w", resp.StatusCode, ErrNotFound)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("API error: %s: %w", errorResp.Error, ErrNotFound)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
