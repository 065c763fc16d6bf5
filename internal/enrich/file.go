package enrich

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"stash/internal/classifier"
	"stash/internal/files"
	"stash/internal/models"
	"stash/internal/storage"
	"stash/internal/store"
)

const failWriteTimeout = 5 * time.Second

// isUpload reports whether the item URL points at the object the item was
// created from. Uploaded files share their id with the item.
func isUpload(item *models.Item) bool {
	return strings.Contains(item.URLValue(), storage.UploadKey(item.UserID, item.ID, ""))
}

type fileDetails struct {
	Key         string          `json:"key,omitempty"`
	AssetURL    string          `json:"assetUrl"`
	ContentType string          `json:"contentType,omitempty"`
	Size        int64           `json:"size,omitempty"`
	Analysis    json.RawMessage `json:"analysis,omitempty"`
}

// enrichFile handles items backed by bytes. Files seen only as a remote URL
// are copied into the object store first. A failed analysis still completes
// the item; only a failed copy marks it failed.
func (w *Worker) enrichFile(ctx context.Context, item *models.Item, p *progress) (string, error) {
	src := item.URLValue()
	if src == "" {
		src = item.Content
	}

	details := fileDetails{AssetURL: src}
	filename := item.Title
	if !isUpload(item) {
		p.update("copying file")
		stored, err := w.Files.FetchAndStore(ctx, item.UserID, src)
		if err != nil {
			w.fail(ctx, item.ID, err)
			return "", err
		}
		details = fileDetails{
			Key:         stored.Key,
			AssetURL:    stored.PublicURL,
			ContentType: stored.ContentType,
			Size:        stored.Size,
		}
		if filename == "" {
			filename = stored.Filename
		}
	}
	if filename == "" {
		filename = files.FilenameFromURL(src)
	}

	patch := store.Patch{
		Title:  filename,
		Type:   classifier.ClassifyFile(filename, details.ContentType),
		Status: models.StatusCompleted,
	}

	var message string
	p.update("analyzing file")
	meta, err := w.Files.Extract(ctx, files.ExtractInput{
		AssetURL:    details.AssetURL,
		OriginalURL: src,
		UserID:      item.UserID,
		Filename:    filename,
	})
	if err != nil {
		w.Log.WithField("item", item.ID).WithError(err).Info("file analysis unavailable")
		message = "file metadata unavailable"
		patch.StatusMessage = message
	} else {
		if meta.Title != "" {
			patch.Title = meta.Title
		}
		patch.Description = meta.Description
		patch.Tags.Language = meta.Language
		details.Analysis = meta.Raw
		if len(details.Analysis) == 0 {
			details.Analysis, _ = json.Marshal(meta)
		}
	}

	refined := item.Type.Refine(patch.Type)
	if refined == models.TypeImage {
		patch.ThumbnailURL = details.AssetURL
	}
	patch.FileMetadata, _ = json.Marshal(details)

	return message, w.Store.ApplyEnrichment(ctx, item.ID, patch)
}
