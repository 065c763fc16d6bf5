// Package store persists items: the primary record written synchronously at
// ingestion and the enrichment results written back later.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stash/internal/models"
	"stash/internal/sanitize"
)

var ErrNotFound = errors.New("item not found")

// MessageInterrupted marks items whose enrichment was cut short by shutdown.
const MessageInterrupted = "interrupted"

type Store struct {
	DB  *gorm.DB
	Now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

type SaveInput struct {
	UserID  string
	Content string
	URL     string
	Type    models.ItemType
	Title   string
	Status  models.Status
	// FileID is the identifier already used for an uploaded object. When set
	// it becomes the item id so both records agree on identity.
	FileID string
}

// DedupKey is the per-user uniqueness key for a piece of content.
func DedupKey(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}

// SavePrimary stores content for a user, or bumps updated_at on the row that
// already holds it. Concurrent duplicates are settled by the unique
// (user_id, dedup_key) index: the loser of the insert race reads the winner's
// row instead of creating a second one.
func (s *Store) SavePrimary(ctx context.Context, in SaveInput) (string, bool, error) {
	content := strings.TrimSpace(in.Content)
	if in.UserID == "" {
		return "", false, errors.New("user id required")
	}
	if content == "" {
		return "", false, errors.New("content required")
	}
	key := DedupKey(content)
	now := s.Now()

	var (
		id      string
		existed bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found models.Item
		err := tx.Select("id").
			Where("user_id = ? AND (dedup_key = ? OR content = ? OR url = ?)", in.UserID, key, content, content).
			Take(&found).Error
		if err == nil {
			id, existed = found.ID, true
			return touch(tx, id, now)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "dedup lookup")
		}

		item := models.Item{
			ID:             in.FileID,
			UserID:         in.UserID,
			DedupKey:       key,
			Content:        content,
			Type:           in.Type,
			Title:          sanitize.Field(in.Title, models.MaxTitleLength),
			Status:         in.Status,
			Tags:           datatypes.JSON("{}"),
			FileMetadata:   datatypes.JSON("{}"),
			CreatedAt:      now,
			UpdatedAt:      now,
			LastAccessedAt: &now,
		}
		if item.ID == "" {
			item.ID = ulid.Make().String()
		}
		if item.Type == "" {
			item.Type = models.TypeText
		}
		if item.Status == "" {
			item.Status = models.StatusPending
		}
		if in.URL != "" {
			u := in.URL
			item.URL = &u
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "dedup_key"}},
			DoNothing: true,
		}).Create(&item)
		if res.Error != nil {
			return errors.Wrap(res.Error, "insert item")
		}
		if res.RowsAffected == 1 {
			id = item.ID
			return nil
		}

		// A concurrent submission inserted the same content first.
		q := tx.Select("id").Where("user_id = ? AND dedup_key = ?", in.UserID, key)
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.Take(&found).Error; err != nil {
			return errors.Wrap(err, "dedup reread")
		}
		id, existed = found.ID, true
		return touch(tx, id, now)
	})
	if err != nil {
		return "", false, err
	}
	return id, existed, nil
}

func touch(tx *gorm.DB, id string, now time.Time) error {
	return tx.Model(&models.Item{}).Where("id = ?", id).
		UpdateColumns(map[string]any{"updated_at": now, "last_accessed_at": now}).Error
}

func (s *Store) Get(ctx context.Context, id string) (*models.Item, error) {
	var item models.Item
	if err := s.DB.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get item")
	}
	return &item, nil
}

func (s *Store) GetForUser(ctx context.Context, userID, id string) (*models.Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, ErrNotFound
	}
	return item, nil
}

// Patch carries enrichment output. Empty fields leave the column untouched.
type Patch struct {
	Title         string
	Description   string
	ThumbnailURL  string
	FaviconURL    string
	URL           string
	MetadataID    string
	Type          models.ItemType
	Tags          models.ItemTags
	FileMetadata  json.RawMessage
	Status        models.Status
	StatusMessage string
}

// ApplyEnrichment writes p onto the item. An item deleted in the meantime is
// not an error; the update simply touches no rows.
func (s *Store) ApplyEnrichment(ctx context.Context, id string, p Patch) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Item
		err := tx.Select("id", "type").Where("id = ?", id).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "load item for enrichment")
		}

		updates := map[string]any{"updated_at": s.Now()}
		if v := sanitize.Field(p.Title, models.MaxTitleLength); v != "" {
			updates["title"] = v
		}
		if v := sanitize.Field(p.Description, models.MaxDescriptionLength); v != "" {
			updates["description"] = v
		}
		if p.ThumbnailURL != "" {
			updates["thumbnail_url"] = p.ThumbnailURL
		}
		if p.FaviconURL != "" {
			updates["favicon_url"] = p.FaviconURL
		}
		if p.URL != "" {
			updates["url"] = p.URL
		}
		if p.MetadataID != "" {
			updates["metadata_id"] = p.MetadataID
		}
		if refined := current.Type.Refine(p.Type); refined != current.Type {
			updates["type"] = refined
		}
		if !p.Tags.Empty() {
			tags, _ := json.Marshal(p.Tags)
			updates["tags"] = datatypes.JSON(tags)
		}
		if len(p.FileMetadata) > 0 {
			updates["file_metadata"] = datatypes.JSON(p.FileMetadata)
		}
		if p.Status != "" {
			updates["status"] = p.Status
			updates["status_message"] = p.StatusMessage
		}
		return tx.Model(&models.Item{}).Where("id = ?", id).UpdateColumns(updates).Error
	})
}

// SetStatus moves an item through its lifecycle. Missing items are ignored.
func (s *Store) SetStatus(ctx context.Context, id string, status models.Status, message string) error {
	err := s.DB.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":         status,
			"status_message": message,
			"updated_at":     s.Now(),
		}).Error
	return errors.Wrap(err, "set item status")
}

func (s *Store) Touch(ctx context.Context, id string) error {
	now := s.Now()
	err := s.DB.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).
		UpdateColumn("last_accessed_at", now).Error
	return errors.Wrap(err, "touch item")
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	res := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Item{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete item")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Requeue puts an interrupted item back to pending so the next stale sweep
// picks it up regardless of age.
func (s *Store) Requeue(ctx context.Context, id string) error {
	err := s.DB.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":         models.StatusPending,
			"status_message": MessageInterrupted,
		}).Error
	return errors.Wrap(err, "requeue item")
}

// Stale returns items whose enrichment never finished, oldest first, so they
// can be dispatched again after a restart.
func (s *Store) Stale(ctx context.Context, olderThan time.Duration, limit int) ([]models.Item, error) {
	var items []models.Item
	err := s.DB.WithContext(ctx).
		Where("status IN ? AND (updated_at < ? OR status_message = ?)",
			[]models.Status{models.StatusPending, models.StatusPartial}, s.Now().Add(-olderThan), MessageInterrupted).
		Order("updated_at asc").
		Limit(limit).
		Find(&items).Error
	return items, errors.Wrap(err, "list stale items")
}
