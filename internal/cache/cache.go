// Package cache is the cross-user metadata cache keyed by canonical URL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stash/internal/models"
)

type Cache struct {
	DB  *gorm.DB
	Now func() time.Time
}

func New(db *gorm.DB) *Cache {
	return &Cache{DB: db, Now: time.Now}
}

// Key hashes a canonical URL into the indexed lookup column.
func Key(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

// Decode unpacks the stored blob. A corrupt blob decodes as empty.
func Decode(row *models.Metadata) models.MetadataBlob {
	var blob models.MetadataBlob
	if row != nil && len(row.Metadata) > 0 {
		_ = json.Unmarshal(row.Metadata, &blob)
	}
	return blob
}

// Lookup returns the cached row for canonicalURL, or nil when there is none.
func (c *Cache) Lookup(ctx context.Context, canonicalURL string) (*models.Metadata, error) {
	var row models.Metadata
	err := c.DB.WithContext(ctx).Where("url_hash = ?", Key(canonicalURL)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "metadata lookup")
	}
	return &row, nil
}

// Upsert stores blob for canonicalURL. When a row exists, fields it already
// has are kept and only empty ones are filled from blob.
func (c *Cache) Upsert(ctx context.Context, canonicalURL string, blob models.MetadataBlob) (*models.Metadata, error) {
	key := Key(canonicalURL)
	var out models.Metadata
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := lockRow(tx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			payload, _ := json.Marshal(blob)
			now := c.Now()
			row := models.Metadata{
				ID:          uuid.New().String(),
				URLHash:     key,
				StrippedURL: canonicalURL,
				Metadata:    datatypes.JSON(payload),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "url_hash"}},
				DoNothing: true,
			}).Create(&row)
			if res.Error != nil {
				return errors.Wrap(res.Error, "insert metadata")
			}
			if res.RowsAffected == 1 {
				out = row
				return nil
			}
			// Another enrichment created the row first; merge into it.
			if existing, err = lockRow(tx, key); err != nil {
				return err
			}
			if existing == nil {
				return errors.New("metadata row vanished during upsert")
			}
		}

		merged := Decode(existing).Merge(blob)
		payload, _ := json.Marshal(merged)
		existing.Metadata = datatypes.JSON(payload)
		existing.UpdatedAt = c.Now()
		if err := tx.Model(&models.Metadata{}).Where("id = ?", existing.ID).
			UpdateColumns(map[string]any{"metadata": existing.Metadata, "updated_at": existing.UpdatedAt}).Error; err != nil {
			return errors.Wrap(err, "update metadata")
		}
		out = *existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func lockRow(tx *gorm.DB, key string) (*models.Metadata, error) {
	q := tx.Where("url_hash = ?", key)
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row models.Metadata
	err := q.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock metadata row")
	}
	return &row, nil
}
