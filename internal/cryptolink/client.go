// Package cryptolink wraps the external link-signing service. The
// service takes a subscription URL (optionally annotated with an HWID
// binding) and returns an encrypted link; its response shape varies, so
// decoding probes a few known keys before falling back to plain text.
package cryptolink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const requestTimeout = 15 * time.Second

// responseKeys are probed in order when the service answers with a JSON
// object.
var responseKeys = []string{"url", "link", "result", "data", "encrypted", "encrypted_link"}

// UpstreamError marks a failure of the signing service itself, so the
// caller can map it to a gateway error rather than a bad request.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("cryptolink: %v", e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Client posts link-encryption requests to the signing endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient builds a client for the given endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type request struct {
	URL  string `json:"url"`
	HWID string `json:"hwid,omitempty"`
}

// Encrypt sends a link to the signing service and returns the encrypted
// form. hwid, when non-empty, rides along so the signed link carries the
// device binding.
func (c *Client) Encrypt(ctx context.Context, link, hwid string) (string, error) {
	payload, err := json.Marshal(request{URL: strings.TrimSpace(link), HWID: hwid})
	if err != nil {
		return "", &UpstreamError{Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &UpstreamError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UpstreamError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &UpstreamError{Err: fmt.Errorf("read response: %w", err)}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if link, ok := decodeJSONLink(body); ok {
			return link, nil
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", &UpstreamError{Err: fmt.Errorf("empty response")}
	}
	return text, nil
}

// decodeJSONLink handles the two JSON shapes the service is known to
// produce: a bare string, or an object with the link under one of
// several keys.
func decodeJSONLink(body []byte) (string, bool) {
	var asString string
	if err := json.Unmarshal(body, &asString); err == nil && asString != "" {
		return asString, true
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(body, &asObject); err != nil {
		return "", false
	}
	for _, key := range responseKeys {
		raw, ok := asObject[key]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err == nil && value != "" {
			return value, true
		}
	}
	return "", false
}
