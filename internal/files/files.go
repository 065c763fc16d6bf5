// Package files stores uploaded or downloaded file bytes in the object store
// and asks the asset-analysis service to describe them.
package files

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"stash/internal/ai"
	"stash/internal/storage"
)

var (
	ErrUpload   = errors.New("file upload failed")
	ErrTooLarge = errors.New("file exceeds size limit")
	ErrEmpty    = errors.New("file is empty")
)

// Describer is implemented by *ai.Client.
type Describer interface {
	Enabled() bool
	Describe(ctx context.Context, in ai.AssetRequest) (ai.AssetMetadata, error)
}

type Handler struct {
	Objects   storage.ObjectStore
	Assets    Describer
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
}

func NewHandler(objects storage.ObjectStore, assets Describer, timeout time.Duration, userAgent string, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return &Handler{
		Objects:   objects,
		Assets:    assets,
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		MaxBytes:  maxBytes,
	}
}

type StoreInput struct {
	UserID      string
	FileID      string
	Filename    string
	ContentType string
	Body        []byte
}

type StoredFile struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	PublicURL   string `json:"publicUrl"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Remove deletes a stored object, for uploads whose item was never saved.
func (h *Handler) Remove(ctx context.Context, key string) error {
	return h.Objects.RemoveObject(ctx, key)
}

// Store uploads in.Body under uploads/{user}/{id}{ext}. Every failure from
// the object store is reported as ErrUpload.
func (h *Handler) Store(ctx context.Context, in StoreInput) (*StoredFile, error) {
	if len(in.Body) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(in.Body)) > h.MaxBytes {
		return nil, ErrTooLarge
	}

	id := in.FileID
	if id == "" {
		id = ulid.Make().String()
	}

	contentType := mediaType(in.ContentType)
	detected := mimetype.Detect(in.Body)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = storage.GuessContentType(in.Filename, detected.String())
	}

	ext := path.Ext(in.Filename)
	if ext == "" {
		ext = detected.Extension()
	}
	key := storage.UploadKey(in.UserID, id, ext)

	publicURL, err := h.Objects.PutObject(ctx, key, in.Body, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	return &StoredFile{
		ID:          id,
		Key:         key,
		PublicURL:   publicURL,
		Filename:    in.Filename,
		ContentType: contentType,
		Size:        int64(len(in.Body)),
	}, nil
}

// FetchAndStore downloads remoteURL and stores the bytes for userID.
func (h *Handler) FetchAndStore(ctx context.Context, userID, remoteURL string) (*StoredFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, err
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "download %s", remoteURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("download %s: bad status %d", remoteURL, resp.StatusCode)
	}
	if resp.ContentLength > h.MaxBytes {
		return nil, ErrTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.MaxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read download")
	}
	if int64(len(body)) > h.MaxBytes {
		return nil, ErrTooLarge
	}

	return h.Store(ctx, StoreInput{
		UserID:      userID,
		Filename:    FilenameFromURL(remoteURL),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	})
}

type ExtractInput struct {
	AssetURL    string
	OriginalURL string
	UserID      string
	Filename    string
}

// Extract asks the analysis service to describe the stored asset.
func (h *Handler) Extract(ctx context.Context, in ExtractInput) (*ai.AssetMetadata, error) {
	if h.Assets == nil || !h.Assets.Enabled() {
		return nil, ai.ErrDisabled
	}
	meta, err := h.Assets.Describe(ctx, ai.AssetRequest{
		AssetURL:         in.AssetURL,
		OriginalURL:      in.OriginalURL,
		UserID:           in.UserID,
		OriginalFilename: in.Filename,
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// FilenameFromURL returns the last path segment of raw, or "download".
func FilenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "download"
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}

func mediaType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
