package enrich

import (
	"context"
	"encoding/json"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/pkg/errors"

	"stash/internal/models"
	"stash/internal/sanitize"
	"stash/internal/urlutil"
)

// RedditStrategy reads posts through reddit's JSON API instead of scraping
// the page, which reddit blocks for most clients.
type RedditStrategy struct {
	Client    *http.Client
	UserAgent string
	// APIBase replaces scheme and host of the API request when set.
	APIBase string
	MaxBody int64
}

func NewRedditStrategy(timeout time.Duration, userAgent string) *RedditStrategy {
	return &RedditStrategy{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		MaxBody:   4 << 20,
	}
}

func (s *RedditStrategy) Name() string { return "reddit" }

func isRedditHost(raw string) bool {
	host := urlutil.Hostname(raw)
	return host == "reddit.com" || strings.HasSuffix(host, ".reddit.com")
}

type redditSource struct {
	URL string `json:"url"`
}

type redditImage struct {
	Source   redditSource `json:"source"`
	Variants struct {
		Obfuscated *struct {
			Source redditSource `json:"source"`
		} `json:"obfuscated"`
	} `json:"variants"`
}

type redditPost struct {
	Title                 string `json:"title"`
	Selftext              string `json:"selftext"`
	SelftextHTML          string `json:"selftext_html"`
	Thumbnail             string `json:"thumbnail"`
	Author                string `json:"author"`
	SubredditNamePrefixed string `json:"subreddit_name_prefixed"`
	Over18                bool   `json:"over_18"`
	URL                   string `json:"url"`
	Preview               *struct {
		Images []redditImage `json:"images"`
	} `json:"preview"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (s *RedditStrategy) endpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/") + ".json"
	u.RawPath = ""
	if s.APIBase != "" {
		base, err := url.Parse(s.APIBase)
		if err != nil {
			return "", err
		}
		u.Scheme, u.Host = base.Scheme, base.Host
	}
	return u.String(), nil
}

func (s *RedditStrategy) Attempt(ctx context.Context, t Target) (*Result, error) {
	if !isRedditHost(t.URL) {
		return nil, ErrSkip
	}
	endpoint, err := s.endpoint(t.URL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "reddit api")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("reddit api: bad status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.MaxBody))
	if err != nil {
		return nil, errors.Wrap(err, "read reddit response")
	}
	post, err := decodeRedditPost(raw)
	if err != nil {
		return nil, err
	}

	blob := mapRedditPost(post)
	blob.URL = t.URL
	if !blob.Usable() {
		return nil, errors.New("reddit post has no usable fields")
	}
	return &Result{Blob: blob, Source: s.Name()}, nil
}

// decodeRedditPost accepts both a post page ([post, comments]) and a bare listing.
func decodeRedditPost(raw []byte) (*redditPost, error) {
	var listings []redditListing
	if err := json.Unmarshal(raw, &listings); err != nil {
		var single redditListing
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, errors.Wrap(err, "decode reddit response")
		}
		listings = []redditListing{single}
	}
	for _, l := range listings {
		if len(l.Data.Children) > 0 {
			return &l.Data.Children[0].Data, nil
		}
	}
	return nil, errors.New("reddit response has no posts")
}

func mapRedditPost(p *redditPost) models.MetadataBlob {
	body := p.Selftext
	if body == "" && p.SelftextHTML != "" {
		converter := md.NewConverter("", true, nil)
		if text, err := converter.ConvertString(html.UnescapeString(p.SelftextHTML)); err == nil {
			body = text
		}
	}

	var image string
	if p.Preview != nil && len(p.Preview.Images) > 0 {
		img := p.Preview.Images[0]
		image = img.Source.URL
		if p.Over18 && img.Variants.Obfuscated != nil && img.Variants.Obfuscated.Source.URL != "" {
			image = img.Variants.Obfuscated.Source.URL
		}
	}
	if image == "" && strings.HasPrefix(p.Thumbnail, "http") {
		image = p.Thumbnail
	}

	return models.MetadataBlob{
		Title:       sanitize.PlatformText(p.Title, models.MaxTitleLength),
		Description: sanitize.PlatformText(body, models.MaxDescriptionLength),
		Image:       html.UnescapeString(image),
		Author:      p.Author,
		SiteName:    p.SubredditNamePrefixed,
		Publisher:   "Reddit",
		Logo:        "https://www.redditstatic.com/desktop2x/img/favicon/favicon-96x96.png",
		Type:        "article",
	}
}
