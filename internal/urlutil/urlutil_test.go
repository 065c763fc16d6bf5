package urlutil

import "testing"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.com/a?utm_source=x&utm_medium=y", "https://example.com/a"},
		{"https://example.com/a?id=3&fbclid=abc&b=2", "https://example.com/a?id=3&b=2"},
		{"https://example.com/a?gclid=1&_ga=2&ref=hn&source=tw", "https://example.com/a"},
		{"https://example.com/a?", "https://example.com/a"},
		{"https://example.com/a?q=go#frag", "https://example.com/a?q=go#frag"},
		{"https://example.com/a?UTM_Campaign=z&keep=1", "https://example.com/a?keep=1"},
		{"not a url", "not a url"},
		{"://broken", "://broken"},
		{"example.com/no-scheme?utm_source=x", "example.com/no-scheme?utm_source=x"},
	}
	for _, tt := range tests {
		if got := Canonicalize(tt.in); got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://example.com/a?utm_source=x&id=1&ref=y",
		"https://example.com/path%20with%20space?x=%2F&fbclid=1",
		"http://sub.example.org:8080/?",
		"https://example.com/#section",
		"garbage %%",
		"",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		if twice := Canonicalize(once); twice != once {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestPrepareURL(t *testing.T) {
	page := "https://blog.example.com/posts/1?x=y"
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"https://cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"//cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"/favicon.ico", "https://blog.example.com/favicon.ico"},
		{"img/logo.png", "https://blog.example.com/img/logo.png"},
		{"/img/a&amp;b.png", "https://blog.example.com/img/a&b.png"},
		{"https%3A%2F%2Fcdn.example.com%2Fx.png", "https://cdn.example.com/x.png"},
	}
	for _, tt := range tests {
		if got := PrepareURL(tt.in, page); got != tt.want {
			t.Errorf("PrepareURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLooksLikeURL(t *testing.T) {
	yes := []string{
		"https://example.com",
		"http://example.com/doc.pdf",
		"example.com",
		"www.example.co.uk/path?q=1",
		"https://example.com:8443/a",
	}
	no := []string{
		"hello world",
		"",
		"just-a-word",
		"https://exa mple.com",
		"ftp://example.com",
		"note: example.com is nice",
	}
	for _, s := range yes {
		if !LooksLikeURL(s) {
			t.Errorf("LooksLikeURL(%q) = false, want true", s)
		}
	}
	for _, s := range no {
		if LooksLikeURL(s) {
			t.Errorf("LooksLikeURL(%q) = true, want false", s)
		}
	}
}

func TestSiteName(t *testing.T) {
	if got := SiteName("https://www.github.com/x"); got != "GitHub" {
		t.Errorf("SiteName = %q", got)
	}
	if got := SiteName("https://unknown.dev/x"); got != "unknown.dev" {
		t.Errorf("SiteName = %q", got)
	}
}
