// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Thread
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a thread is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/confchat/go-confchat-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateThread inserts a new Thread row owned by userID with the given title
// and initial provider id. The thread ID is a randomly generated UUID, and
// CreatedAt is set to UTC.
func CreateThread(ctx context.Context, db *gorm.DB, userID, title, activeModel string) (*domain.Thread, error) {
	t := &domain.Thread{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       title,
		ActiveModel: activeModel,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// ListThreads returns all threads belonging to userID, most recent first.
func ListThreads(ctx context.Context, db *gorm.DB, userID string) ([]domain.Thread, error) {
	var out []domain.Thread
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// CountThreads returns the total number of threads owned by userID.
func CountThreads(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Thread{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListThreadsPage returns a paginated slice of threads for userID, most
// recent first. The caller is responsible for computing offset and limit.
func ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Thread, error) {
	var out []domain.Thread
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetThread fetches a single thread by its ID and owner (userID). If the
// record does not exist, it returns ErrNotFound.
func GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error) {
	var t domain.Thread
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateThreadTitle applies a manual rename to a thread identified by id and
// owned by userID. It clears the auto-titled flag, pinning the title against
// the pipeline's rename step. If no rows are affected (thread missing or not
// owned by userID), it returns ErrNotFound.
func UpdateThreadTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Thread{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"title": title, "auto_titled": false})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetAutoTitle writes a pipeline-derived title and marks the thread as
// auto-titled, so the rename step after the second user prompt may still
// replace it.
func SetAutoTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Thread{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"title": title, "auto_titled": true})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateThreadModel sets the provider id used for the thread's next
// generation. In-flight generations keep the provider they started with.
func UpdateThreadModel(ctx context.Context, db *gorm.DB, id, userID, activeModel string) error {
	res := db.WithContext(ctx).
		Model(&domain.Thread{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("active_model", activeModel)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
