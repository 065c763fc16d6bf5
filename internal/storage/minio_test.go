package storage

import "testing"

func TestUploadKey(t *testing.T) {
	tests := []struct {
		user, id, ext, want string
	}{
		{"u1", "01ABC", ".PNG", "uploads/u1/01ABC.png"},
		{"u1", "01ABC", "pdf", "uploads/u1/01ABC.pdf"},
		{"u1", "01ABC", "", "uploads/u1/01ABC"},
	}
	for _, tt := range tests {
		if got := UploadKey(tt.user, tt.id, tt.ext); got != tt.want {
			t.Errorf("UploadKey(%q, %q, %q) = %q, want %q", tt.user, tt.id, tt.ext, got, tt.want)
		}
	}
}

func TestGuessContentType(t *testing.T) {
	if got := GuessContentType("a.png", ""); got != "image/png" {
		t.Errorf("got %q", got)
	}
	if got := GuessContentType("noext", "text/plain"); got != "text/plain" {
		t.Errorf("got %q", got)
	}
	if got := GuessContentType("noext", " "); got != "application/octet-stream" {
		t.Errorf("got %q", got)
	}
}

func TestPublicURL(t *testing.T) {
	s := &MinioStore{PublicBaseURL: "https://cdn.example.com"}
	if got := s.PublicURL("/uploads/u1/x.png"); got != "https://cdn.example.com/uploads/u1/x.png" {
		t.Errorf("got %q", got)
	}
}
