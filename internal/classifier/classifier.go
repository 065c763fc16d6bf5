// Package classifier decides what kind of content a raw submission is.
package classifier

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"stash/internal/models"
	"stash/internal/urlutil"
)

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

var imageExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".svg": true, ".bmp": true, ".ico": true, ".heic": true, ".avif": true, ".tiff": true,
}

var videoExt = map[string]bool{
	".mp4": true, ".mov": true, ".webm": true, ".mkv": true, ".avi": true, ".m4v": true,
}

var documentExt = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true,
	".pptx": true, ".odt": true, ".ods": true, ".odp": true, ".rtf": true, ".txt": true,
	".csv": true, ".epub": true, ".md": true,
}

var downloadExt = map[string]bool{
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".rar": true, ".7z": true,
	".dmg": true, ".exe": true, ".msi": true, ".pkg": true, ".deb": true, ".rpm": true,
	".apk": true, ".iso": true, ".bin": true, ".mp3": true, ".wav": true, ".flac": true,
}

var documentMIME = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument",
	"application/vnd.ms-",
	"application/vnd.oasis.opendocument",
	"application/rtf",
	"application/epub+zip",
	"text/plain",
	"text/csv",
	"text/markdown",
}

// Classifier probes candidate URLs to tell web pages from downloadable files.
type Classifier struct {
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
}

func New(timeout time.Duration, userAgent string) *Classifier {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Classifier{
		Client:    &http.Client{Timeout: timeout},
		Timeout:   timeout,
		UserAgent: userAgent,
	}
}

// Classify never fails: anything the probe cannot settle is treated as a web
// page.
func (c *Classifier) Classify(ctx context.Context, raw string) models.ItemType {
	raw = strings.TrimSpace(raw)
	if !urlutil.LooksLikeURL(raw) {
		return models.TypeText
	}
	return c.probe(ctx, urlutil.EnsureScheme(raw))
}

func (c *Classifier) probe(ctx context.Context, target string) models.ItemType {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return unreachable(target)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.Client.Do(req)
	if err != nil {
		return unreachable(target)
	}
	// Only the headers matter; the body is never read.
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unreachable(target)
	}
	return FromResponse(target, resp.Header)
}

// unreachable is the optimistic fallback for failed probes. A well-known file
// extension in the path is still trusted; everything else is a web page.
func unreachable(target string) models.ItemType {
	if t := fromExtension(extOf(target)); t != "" {
		return t
	}
	return models.TypeURL
}

// FromResponse classifies a successful probe from its headers and URL path.
func FromResponse(target string, header http.Header) models.ItemType {
	ext := extOf(target)
	if disp := header.Get("Content-Disposition"); disp != "" {
		kind, params, err := mime.ParseMediaType(disp)
		if err == nil && kind == "attachment" {
			if name := params["filename"]; name != "" {
				ext = strings.ToLower(path.Ext(name))
			}
			if t := fromExtension(ext); t != "" {
				return t
			}
			return models.TypeFile
		}
	}

	mediaType := mediaTypeOf(header.Get("Content-Type"))
	switch {
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return models.TypeURL
	case mediaType == "":
	default:
		if t := fromMIME(mediaType); t != "" {
			return t
		}
	}

	if t := fromExtension(ext); t != "" {
		return t
	}
	if downloadExt[ext] {
		return models.TypeFile
	}
	if mediaType == "application/octet-stream" {
		return models.TypeFile
	}
	return models.TypeURL
}

// ClassifyFile categorizes an upload. The filename extension wins over the
// declared MIME type.
func ClassifyFile(filename, declaredMIME string) models.ItemType {
	ext := strings.ToLower(path.Ext(filename))
	if t := fromExtension(ext); t != "" {
		return t
	}
	if t := fromMIME(mediaTypeOf(declaredMIME)); t != "" {
		return t
	}
	return models.TypeFile
}

func fromExtension(ext string) models.ItemType {
	switch {
	case imageExt[ext]:
		return models.TypeImage
	case videoExt[ext]:
		return models.TypeVideo
	case documentExt[ext]:
		return models.TypeDocument
	}
	return ""
}

func fromMIME(mediaType string) models.ItemType {
	switch {
	case mediaType == "":
		return ""
	case strings.HasPrefix(mediaType, "image/"):
		return models.TypeImage
	case strings.HasPrefix(mediaType, "video/"):
		return models.TypeVideo
	}
	for _, prefix := range documentMIME {
		if strings.HasPrefix(mediaType, prefix) {
			return models.TypeDocument
		}
	}
	return ""
}

func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if i := strings.Index(contentType, ";"); i > -1 {
			contentType = contentType[:i]
		}
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func extOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}
