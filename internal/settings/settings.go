// Package settings persists runtime overrides for the external services.
package settings

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stash/internal/models"
)

const (
	KeyRenderBaseURL = "render.base_url"
	KeyRenderAPIKey  = "render.api_key"
	KeyAssetsBaseURL = "assets.base_url"
	KeyAssetsAPIKey  = "assets.api_key"
)

type Services struct {
	RenderBaseURL string `json:"renderBaseUrl"`
	RenderAPIKey  string `json:"renderApiKey,omitempty"`
	AssetsBaseURL string `json:"assetsBaseUrl"`
	AssetsAPIKey  string `json:"assetsApiKey,omitempty"`
}

// Redacted hides the API keys for display.
func (s Services) Redacted() Services {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return "********"
	}
	s.RenderAPIKey = mask(s.RenderAPIKey)
	s.AssetsAPIKey = mask(s.AssetsAPIKey)
	return s
}

func LoadServices(ctx context.Context, db *gorm.DB) (Services, error) {
	out := Services{}
	keys := []string{KeyRenderBaseURL, KeyRenderAPIKey, KeyAssetsBaseURL, KeyAssetsAPIKey}
	var rows []models.AppSetting
	if err := db.WithContext(ctx).Where("setting_key IN ?", keys).Find(&rows).Error; err != nil {
		return out, errors.Wrap(err, "load service settings")
	}
	for _, row := range rows {
		switch row.Key {
		case KeyRenderBaseURL:
			out.RenderBaseURL = row.Value
		case KeyRenderAPIKey:
			out.RenderAPIKey = row.Value
		case KeyAssetsBaseURL:
			out.AssetsBaseURL = row.Value
		case KeyAssetsAPIKey:
			out.AssetsAPIKey = row.Value
		}
	}
	return out, nil
}

// SaveServices stores the non-empty fields of cfg. Empty fields keep the
// value already saved, except that a changed base URL saved without a key
// drops the stored key for that service.
func SaveServices(ctx context.Context, db *gorm.DB, cfg Services) error {
	candidates := []models.AppSetting{
		{Key: KeyRenderBaseURL, Value: cfg.RenderBaseURL},
		{Key: KeyRenderAPIKey, Value: cfg.RenderAPIKey},
		{Key: KeyAssetsBaseURL, Value: cfg.AssetsBaseURL},
		{Key: KeyAssetsAPIKey, Value: cfg.AssetsAPIKey},
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := LoadServices(ctx, tx)
		if err != nil {
			return err
		}
		var stale []string
		if cfg.RenderBaseURL != "" && cfg.RenderBaseURL != current.RenderBaseURL && cfg.RenderAPIKey == "" {
			stale = append(stale, KeyRenderAPIKey)
		}
		if cfg.AssetsBaseURL != "" && cfg.AssetsBaseURL != current.AssetsBaseURL && cfg.AssetsAPIKey == "" {
			stale = append(stale, KeyAssetsAPIKey)
		}
		if len(stale) > 0 {
			if err := tx.Where("setting_key IN ?", stale).Delete(&models.AppSetting{}).Error; err != nil {
				return errors.Wrap(err, "clear service keys")
			}
		}

		for _, row := range candidates {
			if row.Value == "" {
				continue
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "setting_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return errors.Wrapf(err, "save setting %s", row.Key)
			}
		}
		return nil
	})
}
