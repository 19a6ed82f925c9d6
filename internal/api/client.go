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

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// StatusError is a non-2xx reply.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Code, e.Message)
}

// Client talks to a running daemon.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client // no timeout; streams stay open
}

// NewClient creates a client for addr ("host:port" or a full URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: DefaultClientTimeout},
		stream:  &http.Client{},
	}
}

// Command sends a one-shot command. A rejected command returns the reply and a *StatusError.
func (c *Client) Command(ctx context.Context, req domain.CommandRequest) (*domain.CommandResponse, error) {
	var resp domain.CommandResponse
	err := c.do(ctx, http.MethodPost, "/command", req, &resp)
	if err != nil {
		if resp.Error != "" {
			return &resp, err
		}
		return nil, err
	}
	return &resp, nil
}

// Start sends START_TIMER.
func (c *Client) Start(ctx context.Context) error {
	_, err := c.Command(ctx, domain.CommandRequest{Command: domain.CommandStartTimer})
	return err
}

// Stop sends STOP_TIMER with the unlock password (empty when none is set).
func (c *Client) Stop(ctx context.Context, password string) error {
	_, err := c.Command(ctx, domain.CommandRequest{Command: domain.CommandStopTimer, Password: password})
	return err
}

// TimerData sends GET_TIMER_DATA.
func (c *Client) TimerData(ctx context.Context) (domain.TimerRecord, error) {
	var record domain.TimerRecord
	err := c.do(ctx, http.MethodPost, "/command", domain.CommandRequest{Command: domain.CommandGetTimerData}, &record)
	return record, err
}

// Settings returns the redacted settings.
func (c *Client) Settings(ctx context.Context) (*SettingsView, error) {
	var view SettingsView
	if err := c.do(ctx, http.MethodGet, "/settings", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// UpdateSettings applies a partial settings edit.
func (c *Client) UpdateSettings(ctx context.Context, u domain.SettingsUpdate) (*SettingsView, error) {
	var view SettingsView
	if err := c.do(ctx, http.MethodPut, "/settings", u, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Health checks the daemon.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// OpenPage registers a page.
func (c *Client) OpenPage(ctx context.Context, url string, active bool) (domain.Tab, error) {
	var tab domain.Tab
	err := c.do(ctx, http.MethodPost, "/pages", PageRequest{URL: &url, Active: &active}, &tab)
	return tab, err
}

// UpdatePage reports navigation or a focus change.
func (c *Client) UpdatePage(ctx context.Context, id string, url *string, active *bool) (domain.Tab, error) {
	var tab domain.Tab
	err := c.do(ctx, http.MethodPatch, "/pages/"+id, PageRequest{URL: url, Active: active}, &tab)
	return tab, err
}

// ClosePage unregisters a page.
func (c *Client) ClosePage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/pages/"+id, nil, nil)
}

// Events streams TIMER_UPDATED until ctx is done, fn fails or the daemon goes away.
func (c *Client) Events(ctx context.Context, fn func(domain.Message) error) error {
	return c.subscribe(ctx, "/events", fn)
}

// PageEvents attaches as the receiver of page id.
func (c *Client) PageEvents(ctx context.Context, id string, fn func(domain.Message) error) error {
	return c.subscribe(ctx, "/pages/"+id+"/events", fn)
}

func (c *Client) subscribe(ctx context.Context, path string, fn func(domain.Message) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	err = readEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		statusErr := &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		// Command replies keep their JSON body so callers can read the error field.
		if out != nil && json.Unmarshal(data, out) == nil {
			if cr, ok := out.(*domain.CommandResponse); ok && cr.Error != "" {
				statusErr.Message = cr.Error
			}
		}
		return statusErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
