// Package ai talks to the external asset-analysis service that derives
// descriptive metadata (dimensions, tags, colors, extracted text) from files.
package ai

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

var ErrDisabled = errors.New("asset analysis service not configured")

type Client struct {
	mu      sync.RWMutex
	baseURL string
	apiKey  string
	HTTP    *http.Client
}

type AssetRequest struct {
	AssetURL         string `json:"assetUrl"`
	OriginalURL      string `json:"originalUrl,omitempty"`
	UserID           string `json:"userId"`
	OriginalFilename string `json:"originalFilename,omitempty"`
}

// AssetMetadata is the subset of the service response the item card uses. The
// full response is kept verbatim in Raw.
type AssetMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Width       int      `json:"width,omitempty"`
	Height      int      `json:"height,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Colors      []string `json:"colors,omitempty"`
	Text        string   `json:"text,omitempty"`
	Language    string   `json:"language,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		HTTP: &http.Client{
			Timeout: timeout,
		},
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

func (c *Client) Describe(ctx context.Context, in AssetRequest) (AssetMetadata, error) {
	if !c.Enabled() {
		return AssetMetadata{}, ErrDisabled
	}
	c.mu.RLock()
	endpoint, apiKey := c.baseURL, c.apiKey
	c.mu.RUnlock()

	payload, err := json.Marshal(in)
	if err != nil {
		return AssetMetadata{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return AssetMetadata{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return AssetMetadata{}, errors.Wrap(err, "asset analysis request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return AssetMetadata{}, &HTTPError{StatusCode: resp.StatusCode, URL: endpoint, Body: strings.TrimSpace(string(body))}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return AssetMetadata{}, errors.Wrap(err, "read asset analysis response")
	}
	var out AssetMetadata
	if err := json.Unmarshal(raw, &out); err != nil {
		return AssetMetadata{}, errors.Wrap(err, "decode asset analysis response")
	}
	out.Tags = normalizeList(out.Tags)
	out.Raw = raw
	return out, nil
}

func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]bool{}
	for _, item := range items {
		v := strings.TrimSpace(item)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
