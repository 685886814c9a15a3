// Package marzban pushes verified configs into the external host
// inventory over its HTTP API. The inventory schema itself lives on the
// other side; this client only speaks the write-through contract:
// list inbounds, list hosts, add a host to an inbound, bulk-replace the
// host map on explicit cleanup.
package marzban

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const requestTimeout = 15 * time.Second

// Inbound is one proxy-entry grouping in the inventory.
type Inbound struct {
	Tag      string `json:"tag"`
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
}

// Host is one inventory row under an inbound tag.
type Host struct {
	Remark      string `json:"remark"`
	Address     string `json:"address"`
	Port        int    `json:"port,omitempty"`
	Path        string `json:"path"`
	SNI         string `json:"sni"`
	Host        string `json:"host"`
	Security    string `json:"security"`
	ALPN        string `json:"alpn"`
	Fingerprint string `json:"fingerprint"`
}

// Client talks to the inventory API. A nil Client means push-through is
// disabled; all methods tolerate it.
type Client struct {
	baseURL     string
	token       string
	fallbackTag string
	httpClient  *http.Client
}

// NewClient builds a client, or nil when no base URL or token is
// configured (push-through disabled).
func NewClient(baseURL, token, fallbackTag string) *Client {
	if baseURL == "" || token == "" {
		return nil
	}
	return &Client{
		baseURL:     baseURL,
		token:       token,
		fallbackTag: fallbackTag,
		httpClient:  &http.Client{Timeout: requestTimeout},
	}
}

// Enabled reports whether push-through is configured.
func (c *Client) Enabled() bool { return c != nil }

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marzban: encode body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("marzban: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("marzban: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("marzban: %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("marzban: decode %s response: %w", path, err)
	}
	return nil
}

// Inbounds lists all inbounds grouped by protocol.
func (c *Client) Inbounds(ctx context.Context) (map[string][]Inbound, error) {
	var out map[string][]Inbound
	if err := c.doJSON(ctx, http.MethodGet, "/api/inbounds", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Hosts returns the full host map keyed by inbound tag.
func (c *Client) Hosts(ctx context.Context) (map[string][]Host, error) {
	var out map[string][]Host
	if err := c.doJSON(ctx, http.MethodGet, "/api/hosts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddHost appends one host row to an inbound.
func (c *Client) AddHost(ctx context.Context, tag string, h Host) error {
	return c.doJSON(ctx, http.MethodPost, "/api/hosts/"+url.PathEscape(tag), h, nil)
}

// ReplaceHosts bulk-replaces the entire host map. Used only by the
// explicit cleanup path.
func (c *Client) ReplaceHosts(ctx context.Context, hosts map[string][]Host) error {
	return c.doJSON(ctx, http.MethodPut, "/api/hosts", hosts, nil)
}
