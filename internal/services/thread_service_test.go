package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/confchat/go-confchat-backend/internal/domain"
)

func newServicesDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(
		&domain.Thread{}, &domain.Message{},
		&domain.Document{}, &domain.Chunk{},
		&domain.Setting{}, &domain.Idempotency{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestThreadCreate_DefaultsTitleAndProvider(t *testing.T) {
	svc := NewThreadService(newServicesDB(t))

	th, err := svc.Create(context.Background(), "u1", "   ", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if th.Title != domain.DefaultThreadTitle {
		t.Fatalf("expected default title, got %q", th.Title)
	}
	if th.ActiveModel != "openai" {
		t.Fatalf("expected default provider openai, got %q", th.ActiveModel)
	}
}

func TestThreadCreate_NormalizesAndClipsTitle(t *testing.T) {
	svc := NewThreadService(newServicesDB(t))
	svc.TitleMaxLen = 10

	th, err := svc.Create(context.Background(), "u1", "  many    spaces   here  ", "anthropic")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if strings.Contains(th.Title, "  ") {
		t.Fatalf("whitespace not collapsed: %q", th.Title)
	}
	if got := len([]rune(th.Title)); got > 10 {
		t.Fatalf("title not clipped: %q (%d runes)", th.Title, got)
	}
	if th.ActiveModel != "anthropic" {
		t.Fatalf("provider lost: %q", th.ActiveModel)
	}
}

func TestThreadCreate_UnknownProviderRejected(t *testing.T) {
	svc := NewThreadService(newServicesDB(t))
	_, err := svc.Create(context.Background(), "u1", "t", "grok")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestThreadGet_MapsNotFound(t *testing.T) {
	svc := NewThreadService(newServicesDB(t))
	_, err := svc.Get(context.Background(), "u1", "missing")
	if !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
}

func TestThreadUpdateTitle_BlankFallsBackToUntitled(t *testing.T) {
	db := newServicesDB(t)
	svc := NewThreadService(db)
	th, err := svc.Create(context.Background(), "u1", "orig", "openai")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.UpdateTitle(context.Background(), "u1", th.ID, "   "); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}
	var got domain.Thread
	if err := db.First(&got, "id = ?", th.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Title != domain.UntitledThreadTitle {
		t.Fatalf("expected Untitled fallback, got %q", got.Title)
	}
}

func TestThreadUpdateTitle_OwnershipEnforced(t *testing.T) {
	svc := NewThreadService(newServicesDB(t))
	th, err := svc.Create(context.Background(), "owner", "t", "openai")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.UpdateTitle(context.Background(), "intruder", th.ID, "hijacked"); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound for non-owner, got %v", err)
	}
}

func TestThreadUpdateModel_KnownAndUnknown(t *testing.T) {
	db := newServicesDB(t)
	svc := NewThreadService(db)
	th, err := svc.Create(context.Background(), "u1", "t", "openai")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.UpdateModel(context.Background(), "u1", th.ID, "compat"); err != nil {
		t.Fatalf("UpdateModel: %v", err)
	}
	var got domain.Thread
	if err := db.First(&got, "id = ?", th.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ActiveModel != "compat" {
		t.Fatalf("provider switch lost: %q", got.ActiveModel)
	}

	if err := svc.UpdateModel(context.Background(), "u1", th.ID, "gemini"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestThreadListPage_DefaultsAndTotal(t *testing.T) {
	svc := NewThreadService(newServicesDB(t))
	for i := 0; i < 3; i++ {
		if _, err := svc.Create(context.Background(), "u1", fmt.Sprintf("t%d", i), "openai"); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	items, total, err := svc.ListPage(context.Background(), "u1", 0, -5) // invalid inputs get defaults
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 3 || len(items) != 3 {
		t.Fatalf("unexpected page: total=%d len=%d", total, len(items))
	}

	items, total, err = svc.ListPage(context.Background(), "nobody", 1, 20)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("expected empty page: total=%d len=%d err=%v", total, len(items), err)
	}
}
