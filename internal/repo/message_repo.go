// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/confchat/go-confchat-backend/internal/domain"
)

// MessageUsage carries the token counters attached to an assistant message
// when its generation completes.
type MessageUsage struct {
	InputTokens       int64
	OutputTokens      int64
	CachedInputTokens int64
}

// CreateUserMessage appends a user message row.
func CreateUserMessage(ctx context.Context, db *gorm.DB, threadID, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      "user",
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// CreateAssistantMessage appends an assistant message row with its producing
// model and final usage counters. The row is written once, after streaming
// has completed; partial output is never persisted.
func CreateAssistantMessage(ctx context.Context, db *gorm.DB, threadID, content, model string, usage MessageUsage) (*domain.Message, error) {
	m := &domain.Message{
		ID:                uuid.NewString(),
		ThreadID:          threadID,
		Role:              "assistant",
		Content:           content,
		Model:             model,
		InputTokens:       usage.InputTokens,
		OutputTokens:      usage.OutputTokens,
		CachedInputTokens: usage.CachedInputTokens,
		CreatedAt:         time.Now().UTC(),
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// ListMessages returns messages ordered deterministically (CreatedAt ASC, ID ASC).
func ListMessages(ctx context.Context, db *gorm.DB, threadID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Where("thread_id = ?", threadID).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListRecentMessages returns the last n messages of a thread in chronological
// order. It queries newest-first with a limit, then reverses in memory.
func ListRecentMessages(ctx context.Context, db *gorm.DB, threadID string, n int) ([]domain.Message, error) {
	if n <= 0 {
		return []domain.Message{}, nil
	}
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, threadID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE thread_id = ?", threadID).Scan(&total).Error
	return total, err
}

// ListFirstUserMessages returns the thread's earliest user-authored messages
// in chronological order, at most n of them. The auto-rename step derives
// titles from these.
func ListFirstUserMessages(ctx context.Context, db *gorm.DB, threadID string, n int) ([]domain.Message, error) {
	if n <= 0 {
		return []domain.Message{}, nil
	}
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("thread_id = ? AND role = ?", threadID, "user").
		Order("created_at ASC, id ASC").
		Limit(n).
		Find(&out).Error
	return out, err
}

// CountUserMessages returns how many user-authored messages the thread holds.
// The auto-rename step fires only while this count is 1 or 2.
func CountUserMessages(ctx context.Context, db *gorm.DB, threadID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("thread_id = ? AND role = ?", threadID, "user").
		Count(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, threadID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
