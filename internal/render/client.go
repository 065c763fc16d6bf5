// Package render is the client for the external fetch/render service used for
// pages that block direct scraping or need JavaScript to show their metadata.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrDisabled = errors.New("render service not configured")

type Product struct {
	Name        string `json:"name"`
	Image       string `json:"image"`
	Description string `json:"description"`
}

type Result struct {
	HTML             string   `json:"html"`
	ExtractedProduct *Product `json:"extractedProduct,omitempty"`
}

type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

type Client struct {
	mu      sync.RWMutex
	baseURL string
	apiKey  string
	HTTP    *http.Client
	MaxBody int64
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
		MaxBody: 8 << 20,
	}
}

func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL != ""
}

// Configure swaps the endpoint at runtime. Empty values keep the current one,
// except that a new base URL never inherits the previous key.
func (c *Client) Configure(baseURL, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" && baseURL != c.baseURL {
		c.baseURL = baseURL
		c.apiKey = apiKey
		return
	}
	if apiKey != "" {
		c.apiKey = apiKey
	}
}

func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Fetch asks the service to load pageURL and return the rendered document.
func (c *Client) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	c.mu.RLock()
	endpoint, apiKey := c.baseURL, c.apiKey
	c.mu.RUnlock()

	payload, _ := json.Marshal(map[string]string{"url": pageURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "render request")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	var out Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.MaxBody)).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode render response")
	}
	return &out, nil
}
