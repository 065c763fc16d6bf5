// Package urlutil holds the URL helpers shared by classification, caching and
// enrichment.
package urlutil

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"_ga":    true,
	"ref":    true,
	"source": true,
}

func isTracking(key string) bool {
	k := strings.ToLower(key)
	return trackingParams[k] || strings.HasPrefix(k, "utm_")
}

// Canonicalize strips tracking query parameters so the result can be used as a
// stable cache key. Input that does not parse as an absolute URL is returned
// unchanged.
func Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	if u.RawQuery == "" {
		u.ForceQuery = false
		return u.String()
	}

	// Walk the raw query so surviving parameters keep their order and encoding.
	kept := make([]string, 0)
	for _, part := range strings.Split(u.RawQuery, "&") {
		if part == "" {
			continue
		}
		key := part
		if i := strings.IndexByte(part, '='); i >= 0 {
			key = part[:i]
		}
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if isTracking(key) {
			continue
		}
		kept = append(kept, part)
	}
	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	return u.String()
}

// Origin returns scheme://host of u, or "" when u is not absolute.
func Origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Hostname returns the lower-cased host of raw without a leading "www.".
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// PrepareURL resolves a thumbnail or favicon reference found on pageURL.
func PrepareURL(candidate, pageURL string) string {
	candidate = strings.TrimSpace(html.UnescapeString(candidate))
	if candidate == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(candidate); err == nil && !strings.ContainsAny(unescaped, " \t\n") {
		candidate = unescaped
	}
	switch {
	case strings.HasPrefix(candidate, "//"):
		scheme := "https"
		if u, err := url.Parse(pageURL); err == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		return scheme + ":" + candidate
	case strings.Contains(candidate, "://"), strings.HasPrefix(candidate, "data:"):
		return candidate
	}

	origin := Origin(pageURL)
	if origin == "" {
		return candidate
	}
	if strings.HasPrefix(candidate, "/") {
		return origin + candidate
	}
	return origin + "/" + candidate
}

var urlShape = regexp.MustCompile(`^(?i)(https?://)?([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,63}(:\d{1,5})?(/\S*)?$`)

// LooksLikeURL is a conservative shape check: an optional http(s) scheme, a
// domain-like host and an optional path, with no whitespace anywhere.
func LooksLikeURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 4096 {
		return false
	}
	return urlShape.MatchString(s)
}

// EnsureScheme prefixes scheme-less input with https://.
func EnsureScheme(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return s
	}
	return "https://" + s
}

var siteNames = map[string]string{
	"amazon.com":        "Amazon",
	"facebook.com":      "Facebook",
	"github.com":        "GitHub",
	"google.com":        "Google",
	"instagram.com":     "Instagram",
	"linkedin.com":      "LinkedIn",
	"microsoft.com":     "Microsoft",
	"netflix.com":       "Netflix",
	"notion.com":        "Notion",
	"notion.so":         "Notion",
	"quora.com":         "Quora",
	"reddit.com":        "Reddit",
	"spotify.com":       "Spotify",
	"stackoverflow.com": "Stack Overflow",
	"tiktok.com":        "TikTok",
	"twitter.com":       "Twitter",
	"x.com":             "X",
	"youtube.com":       "YouTube",
}

// SiteName maps well-known hosts to a display name and falls back to the host.
func SiteName(raw string) string {
	host := Hostname(raw)
	if name, ok := siteNames[host]; ok {
		return name
	}
	return host
}
