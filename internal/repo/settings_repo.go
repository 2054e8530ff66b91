// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file persists the single Setting row behind the
// hot-reloadable settings snapshot store.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/confchat/go-confchat-backend/internal/domain"
)

// settingRowID pins the settings table to a single row.
const settingRowID = 1

// GetSetting loads the settings row, or ErrNotFound when the installation
// has never been configured.
func GetSetting(ctx context.Context, db *gorm.DB) (*domain.Setting, error) {
	var s domain.Setting
	err := db.WithContext(ctx).Where("id = ?", settingRowID).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveSetting writes all settings fields together and bumps Version by one,
// inside a transaction so a concurrent reader never sees a torn write. The
// stored row's new version is returned.
func SaveSetting(ctx context.Context, db *gorm.DB, s *domain.Setting) (int64, error) {
	var version int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur domain.Setting
		err := tx.Where("id = ?", settingRowID).First(&cur).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.ID = settingRowID
			s.Version = 1
			s.UpdatedAt = time.Now().UTC()
			version = s.Version
			return tx.Create(s).Error
		case err != nil:
			return err
		}
		s.ID = settingRowID
		s.Version = cur.Version + 1
		s.UpdatedAt = time.Now().UTC()
		version = s.Version
		return tx.Model(&domain.Setting{}).Where("id = ?", settingRowID).Updates(map[string]any{
			"version":           s.Version,
			"base_prompt":       s.BasePrompt,
			"safety_prompt":     s.SafetyPrompt,
			"context_mode":      s.ContextMode,
			"chunk_size":        s.ChunkSize,
			"chunk_overlap":     s.ChunkOverlap,
			"retrieval_top_k":   s.RetrievalTopK,
			"max_context_chars": s.MaxContextChars,
			"active_provider":   s.ActiveProvider,
			"provider_models":   s.ProviderModels,
			"updated_at":        s.UpdatedAt,
		}).Error
	})
	return version, err
}
