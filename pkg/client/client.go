// Package client provides HTTP client functionality to communicate
// with a running presencer daemon.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/presencer/internal/presence"
	"github.com/loykin/presencer/internal/server"
)

// Client talks to the daemon's status API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// Records fetches the current presence records.
func (c *Client) Records(ctx context.Context) ([]presence.Record, error) {
	var out []presence.Record
	if err := c.get(ctx, "/records", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// State fetches supervisor, agent, and watcher state.
func (c *Client) State(ctx context.Context) (server.StateResp, error) {
	var out server.StateResp
	err := c.get(ctx, "/state", &out)
	return out, err
}

// Stop asks the daemon to end the current run early.
func (c *Client) Stop(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stop", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var er struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			return fmt.Errorf("daemon %s: %s", req.URL.Path, er.Error)
		}
		return fmt.Errorf("daemon %s: status %d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
