package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"stash/internal/models"
	"stash/internal/sanitize"
)

// ItemView is an item joined with its shared metadata, shaped for display.
type ItemView struct {
	models.Item
	Metadata *models.MetadataBlob `json:"metadata"`
}

func (s *Store) ListWithMetadata(ctx context.Context, userID string, limit, offset int) ([]ItemView, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var items []models.Item
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Limit(limit).
		Offset(offset).
		Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "list items")
	}

	ids := make([]string, 0)
	for _, item := range items {
		if item.MetadataID != nil {
			ids = append(ids, *item.MetadataID)
		}
	}
	blobs := map[string]models.MetadataBlob{}
	if len(ids) > 0 {
		var rows []models.Metadata
		if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, errors.Wrap(err, "load item metadata")
		}
		for _, row := range rows {
			var blob models.MetadataBlob
			if len(row.Metadata) > 0 {
				_ = json.Unmarshal(row.Metadata, &blob)
			}
			blobs[row.ID] = blob
		}
	}

	out := make([]ItemView, 0, len(items))
	for _, item := range items {
		out = append(out, view(item, blobs))
	}
	return out, nil
}

func (s *Store) GetView(ctx context.Context, userID, id string) (*ItemView, error) {
	item, err := s.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	blobs := map[string]models.MetadataBlob{}
	if item.MetadataID != nil {
		var row models.Metadata
		if err := s.DB.WithContext(ctx).First(&row, "id = ?", *item.MetadataID).Error; err == nil {
			var blob models.MetadataBlob
			_ = json.Unmarshal(row.Metadata, &blob)
			blobs[row.ID] = blob
		}
	}
	v := view(*item, blobs)
	return &v, nil
}

// view prefers shared metadata for title and description, then the item's own
// columns, then the raw content. Cached text is bounded like the item columns.
func view(item models.Item, blobs map[string]models.MetadataBlob) ItemView {
	v := ItemView{Item: item}
	if item.MetadataID != nil {
		if blob, ok := blobs[*item.MetadataID]; ok {
			blob.Title = sanitize.Field(blob.Title, models.MaxTitleLength)
			blob.Description = sanitize.Field(blob.Description, models.MaxDescriptionLength)
			v.Metadata = &blob
			if blob.Title != "" {
				v.Title = blob.Title
			}
			if blob.Description != "" {
				v.Description = blob.Description
			}
		}
	}
	if v.Title == "" {
		v.Title = sanitize.Field(item.Content, models.MaxTitleLength)
	}
	return v
}
