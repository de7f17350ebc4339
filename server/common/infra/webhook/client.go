// Package webhook posts JSON payloads to an external HTTP endpoint. A run of
// consecutive failures puts the endpoint in a cooldown during which posts are
// skipped without a request.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultHTTPTimeout      = 5 * time.Second
	defaultFailThreshold    = 3
	defaultEndpointCooldown = 10 * time.Second
)

var ErrCoolingDown = errors.New("webhook endpoint cooling down")

type Client struct {
	endpoint string
	http     *http.Client

	failThreshold    int
	endpointCooldown time.Duration

	mu         sync.Mutex
	failureCnt int
	cooldownTo time.Time
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithCooldown(threshold int, cooldown time.Duration) Option {
	return func(c *Client) {
		if threshold > 0 {
			c.failThreshold = threshold
		}
		if cooldown > 0 {
			c.endpointCooldown = cooldown
		}
	}
}

func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:         strings.TrimSpace(endpoint),
		http:             &http.Client{Timeout: defaultHTTPTimeout},
		failThreshold:    defaultFailThreshold,
		endpointCooldown: defaultEndpointCooldown,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

// Post sends payload once. Non-2xx answers are errors; the response body is
// discarded.
func (c *Client) Post(ctx context.Context, payload any) error {
	if !c.Enabled() {
		return fmt.Errorf("webhook endpoint is not configured")
	}
	if c.isCoolingDown(time.Now()) {
		return ErrCoolingDown
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.onFailure(time.Now())
		return fmt.Errorf("webhook request failed: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.onFailure(time.Now())
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	c.onSuccess()
	return nil
}

func (c *Client) isCoolingDown(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cooldownTo.IsZero() {
		return false
	}
	if now.After(c.cooldownTo) {
		c.cooldownTo = time.Time{}
		return false
	}
	return true
}

func (c *Client) onFailure(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCnt++
	if c.failureCnt >= c.failThreshold {
		c.cooldownTo = now.Add(c.endpointCooldown)
		c.failureCnt = 0
	}
}

func (c *Client) onSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCnt = 0
	c.cooldownTo = time.Time{}
}
