// Package sanitize cleans text scraped from third-party pages before it is
// stored or displayed.
package sanitize

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// UTF8 drops invalid byte sequences and every rune outside the Basic
// Multilingual Plane. Many pages emit broken 4-byte sequences, and the item
// columns are not guaranteed to accept them.
func UTF8(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r == utf8.RuneError && size <= 1 {
			continue
		}
		if size >= 4 || (r >= 0xD800 && r <= 0xDFFF) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}

// Field prepares a title or description column value.
func Field(s string, max int) string {
	s = strings.TrimSpace(UTF8(s))
	return Truncate(s, max)
}

var zeroWidth = strings.NewReplacer(
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\u2060", "",
	"\ufeff", "",
)

// PlatformText normalizes text returned by platform APIs: entities
// unescaped, NFKC normalized, zero-width characters removed and all line
// breaks collapsed into single spaces.
func PlatformText(s string, max int) string {
	s = html.UnescapeString(s)
	s = norm.NFKC.String(s)
	s = zeroWidth.Replace(s)
	s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	return Field(s, max)
}
