// Package remote carries queued commands to other devices. The wire shape
// is a small JSON delivery document keyed by the queue row id, so receivers
// can deduplicate redelivered commands.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Delivery is one queued command on the wire. ID doubles as the
// idempotency key: a receiver that has already seen the id acknowledges
// without re-executing.
type Delivery struct {
	ID           int64             `json:"id"`
	CommandText  string            `json:"command_text"`
	TargetDevice string            `json:"target_device"`
	QueuedAt     time.Time         `json:"queued_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Channel is a transport for deliveries.
type Channel interface {
	// Available reports whether the channel can currently deliver.
	Available(ctx context.Context) bool
	// Deliver hands one command to the remote side. A nil return means the
	// remote acknowledged it; redelivery of an acknowledged id must be
	// harmless.
	Deliver(ctx context.Context, d Delivery) error
}

// HTTPChannel delivers over a companion HTTP endpoint: GET /healthz for
// availability, POST /commands for delivery.
type HTTPChannel struct {
	base   string
	client *http.Client
}

// NewHTTPChannel builds a channel against the relay's base URL.
func NewHTTPChannel(baseURL string) (*HTTPChannel, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url %q: scheme must be http or https", baseURL)
	}
	return &HTTPChannel{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *HTTPChannel) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *HTTPChannel) Deliver(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/commands", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver command %d: %w", d.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("deliver command %d: relay returned %s", d.ID, resp.Status)
	}
	return nil
}
