// Package processor downloads web pages and extracts card metadata from them.
package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const DesktopUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

var ErrNotHTML = errors.New("response is not html")

type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

type Processor struct {
	Client    *http.Client
	UserAgent string
	MaxBody   int64
}

func New(timeout time.Duration, userAgent string, maxBody int64) *Processor {
	if userAgent == "" {
		userAgent = DesktopUserAgent
	}
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	return &Processor{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		MaxBody:   maxBody,
	}
}

// FetchHTML downloads pageURL and returns at most MaxBody bytes of its body.
func (p *Processor) FetchHTML(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", pageURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: pageURL}
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" && !strings.Contains(ct, "html") {
		return nil, ErrNotHTML
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.MaxBody))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}
