package classifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stash/internal/models"
)

func TestClassifyPlainText(t *testing.T) {
	c := New(time.Second, "")
	for _, in := range []string{"hello world", "", "a note\nwith lines", "just-a-word"} {
		if got := c.Classify(context.Background(), in); got != models.TypeText {
			t.Errorf("Classify(%q) = %q, want text", in, got)
		}
	}
}

func TestClassifyByContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		case "/pic":
			w.Header().Set("Content-Type", "image/png")
		case "/clip":
			w.Header().Set("Content-Type", "video/mp4")
		case "/doc.pdf":
			w.Header().Set("Content-Type", "application/pdf")
		case "/download":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Disposition", `attachment; filename="archive.zip"`)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()

	c := New(2*time.Second, "")
	c.Client = srv.Client()

	tests := []struct {
		path string
		want models.ItemType
	}{
		{"/page", models.TypeURL},
		{"/pic", models.TypeImage},
		{"/clip", models.TypeVideo},
		{"/doc.pdf", models.TypeDocument},
		{"/download", models.TypeFile},
		{"/missing", models.TypeURL},
	}
	for _, tt := range tests {
		// httptest listens on an IP literal, which the shape check rejects.
		got := c.probe(context.Background(), srv.URL+tt.path)
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestClassifyUnreachableHostFallsBackToURL(t *testing.T) {
	c := New(300*time.Millisecond, "")
	got := c.Classify(context.Background(), "https://nonexistent.invalid/some/page")
	if got != models.TypeURL {
		t.Errorf("got %q, want url", got)
	}
}

func TestClassifyUnreachableKeepsKnownExtension(t *testing.T) {
	c := New(300*time.Millisecond, "")
	got := c.Classify(context.Background(), "https://nonexistent.invalid/doc.pdf")
	if got != models.TypeDocument {
		t.Errorf("got %q, want document", got)
	}
}

func TestFromResponseAttachmentWithoutKnownExtension(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Disposition", "attachment")
	h.Set("Content-Type", "text/html")
	if got := FromResponse("https://example.com/get", h); got != models.TypeFile {
		t.Errorf("got %q, want file", got)
	}
}

func TestClassifyFile(t *testing.T) {
	tests := []struct {
		name, mime string
		want       models.ItemType
	}{
		{"photo.JPG", "application/octet-stream", models.TypeImage},
		{"report.pdf", "", models.TypeDocument},
		{"clip.mov", "application/octet-stream", models.TypeVideo},
		{"blob", "image/webp", models.TypeImage},
		{"data.bin", "application/octet-stream", models.TypeFile},
		{"notes", "", models.TypeFile},
	}
	for _, tt := range tests {
		if got := ClassifyFile(tt.name, tt.mime); got != tt.want {
			t.Errorf("ClassifyFile(%q, %q) = %q, want %q", tt.name, tt.mime, got, tt.want)
		}
	}
}
