// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Document
// and Chunk models that back the retrieval pipeline.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/confchat/go-confchat-backend/internal/domain"
)

// ErrDuplicateName indicates a document with the same name already exists.
var ErrDuplicateName = errors.New("document name already exists")

// CreateDocument inserts an admin-uploaded document. Names are unique per
// installation; a UNIQUE violation surfaces as ErrDuplicateName.
func CreateDocument(ctx context.Context, db *gorm.DB, name, content, mode string, enabled bool) (*domain.Document, error) {
	d := &domain.Document{
		ID:        uuid.NewString(),
		Name:      name,
		Content:   content,
		ByteSize:  int64(len(content)),
		Mode:      mode,
		Enabled:   enabled,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(d).Error; err != nil {
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	return d, nil
}

// ListDocuments returns all documents in upload order (CreatedAt ASC, ID ASC).
// Upload order is the stable sequence used for window-mode concatenation.
func ListDocuments(ctx context.Context, db *gorm.DB) ([]domain.Document, error) {
	var out []domain.Document
	err := db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListEnabledDocumentsByMode returns enabled documents of the given mode in
// upload order.
func ListEnabledDocumentsByMode(ctx context.Context, db *gorm.DB, mode string) ([]domain.Document, error) {
	var out []domain.Document
	err := db.WithContext(ctx).
		Where("mode = ? AND enabled = ?", mode, true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// GetDocument fetches a document by ID or returns ErrNotFound.
func GetDocument(ctx context.Context, db *gorm.DB, id string) (*domain.Document, error) {
	var d domain.Document
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDocument applies mode/enabled/name changes. Updates is a column map
// so a false "enabled" is not swallowed by GORM's zero-value handling. A
// rename that collides with an existing name surfaces as ErrDuplicateName.
func UpdateDocument(ctx context.Context, db *gorm.DB, id string, updates map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Document{}).
		Where("id = ?", id).
		Updates(updates)
	if err := res.Error; err != nil {
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicateName
		}
		return err
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteDocument removes a document and its chunks.
func DeleteDocument(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&domain.Chunk{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// ReplaceChunks discards a document's stored chunks and inserts the given
// replacement set in one transaction. Chunks are derived data; reprocessing
// always regenerates a document's full set, never a partial update.
func ReplaceChunks(ctx context.Context, db *gorm.DB, documentID string, chunks []domain.Chunk) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&domain.Chunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		for i := range chunks {
			if chunks[i].ID == "" {
				chunks[i].ID = uuid.NewString()
			}
		}
		return tx.CreateInBatches(chunks, 100).Error
	})
}

// ListChunks returns a document's stored chunks ordered by ordinal.
func ListChunks(ctx context.Context, db *gorm.DB, documentID string) ([]domain.Chunk, error) {
	var out []domain.Chunk
	err := db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("ordinal ASC").
		Find(&out).Error
	return out, err
}

// CountChunks returns the number of stored chunks.
func CountChunks(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Chunk{}).Count(&total).Error
	return total, err
}
