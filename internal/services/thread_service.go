// Package services – ThreadService
//
// This file implements the ThreadService, which manages the lifecycle of
// conversation threads. It validates and normalizes titles, enforces
// ownership rules, and coordinates repository operations for creating,
// listing (with pagination), and updating threads. Title handling is
// intentionally minimal here because automatic title generation is performed
// by StreamService on the first user messages.
//
// Service-level errors (e.g., ErrThreadNotFound) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/confchat/go-confchat-backend/internal/domain"
	"github.com/confchat/go-confchat-backend/internal/provider"
	"github.com/confchat/go-confchat-backend/internal/repo"
)

// ThreadRepo defines the repository contract required by ThreadService.
// Implementations are responsible for persistence of thread aggregates.
type ThreadRepo interface {
	// CreateThread inserts a new thread row for the given user.
	CreateThread(ctx context.Context, db *gorm.DB, userID, title, activeModel string) (*domain.Thread, error)

	// ListThreads returns all threads belonging to the user (non-paginated).
	ListThreads(ctx context.Context, db *gorm.DB, userID string) ([]domain.Thread, error)

	// GetThread fetches a thread by ID ensuring it belongs to the user.
	GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error)

	// UpdateThreadTitle updates a thread's title (only if it belongs to the user).
	UpdateThreadTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error

	// UpdateThreadModel switches the thread's active provider id.
	UpdateThreadModel(ctx context.Context, db *gorm.DB, id, userID, activeModel string) error

	// CountThreads returns the total number of threads for pagination.
	CountThreads(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListThreadsPage returns a page of threads belonging to the user.
	ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Thread, error)
}

// gormThreadRepo adapts the free-function repo package to ThreadRepo.
type gormThreadRepo struct{}

func (gormThreadRepo) CreateThread(ctx context.Context, db *gorm.DB, userID, title, activeModel string) (*domain.Thread, error) {
	return repo.CreateThread(ctx, db, userID, title, activeModel)
}
func (gormThreadRepo) ListThreads(ctx context.Context, db *gorm.DB, userID string) ([]domain.Thread, error) {
	return repo.ListThreads(ctx, db, userID)
}
func (gormThreadRepo) GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error) {
	return repo.GetThread(ctx, db, id, userID)
}
func (gormThreadRepo) UpdateThreadTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateThreadTitle(ctx, db, id, userID, title)
}
func (gormThreadRepo) UpdateThreadModel(ctx context.Context, db *gorm.DB, id, userID, activeModel string) error {
	return repo.UpdateThreadModel(ctx, db, id, userID, activeModel)
}
func (gormThreadRepo) CountThreads(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountThreads(ctx, db, userID)
}
func (gormThreadRepo) ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Thread, error) {
	return repo.ListThreadsPage(ctx, db, userID, offset, limit)
}

// ThreadService provides thread-level operations such as creating, listing,
// and updating thread metadata. It enforces title rules and ensures
// ownership constraints.
type ThreadService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the thread repository used by this service.
	Repo ThreadRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewThreadService constructs a ThreadService with sane defaults for title
// handling.
func NewThreadService(db *gorm.DB) *ThreadService {
	return &ThreadService{
		DB:          db,
		Repo:        gormThreadRepo{},
		TitleMaxLen: 60,
	}
}

// Create inserts a new thread owned by userID. Titles are normalized,
// trimmed, clipped, and a default fallback is applied; the active provider
// defaults to OpenAI unless a known provider id is given.
func (s *ThreadService) Create(ctx context.Context, userID, title, activeModel string) (*domain.Thread, error) {
	title = normalizeTitle(title)
	if title == "" {
		title = domain.DefaultThreadTitle
	}
	if activeModel == "" {
		activeModel = provider.IDOpenAI
	}
	if !knownProvider(activeModel) {
		return nil, ErrUnknownProvider
	}
	return s.Repo.CreateThread(ctx, s.DB, userID, s.clip(title), activeModel)
}

// List returns all threads for a user (non-paginated).
// Prefer ListPage for scalability on large datasets.
func (s *ThreadService) List(ctx context.Context, userID string) ([]domain.Thread, error) {
	return s.Repo.ListThreads(ctx, s.DB, userID)
}

// ListPage returns a page of threads for a user (paginated).
// It applies defaults for invalid page/pageSize and returns total count.
func (s *ThreadService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Thread, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountThreads(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Thread{}, 0, nil
	}

	items, err := s.Repo.ListThreadsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Get fetches a thread owned by the user.
func (s *ThreadService) Get(ctx context.Context, userID, threadID string) (*domain.Thread, error) {
	t, err := s.Repo.GetThread(ctx, s.DB, threadID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	return t, nil
}

// UpdateTitle updates a thread's title, ensuring the thread exists and
// belongs to the given user. Falls back to "Untitled" if title is blank.
func (s *ThreadService) UpdateTitle(ctx context.Context, userID, threadID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = domain.UntitledThreadTitle
	}
	if _, err := s.Get(ctx, userID, threadID); err != nil {
		return err
	}
	return s.Repo.UpdateThreadTitle(ctx, s.DB, threadID, userID, s.clip(title))
}

// UpdateModel switches the thread's active provider. The id must be one of
// the supported providers; availability of credentials is checked at
// generation time, not here, so an admin can pre-stage a switch.
func (s *ThreadService) UpdateModel(ctx context.Context, userID, threadID, providerID string) error {
	if !knownProvider(providerID) {
		return ErrUnknownProvider
	}
	if _, err := s.Get(ctx, userID, threadID); err != nil {
		return err
	}
	return s.Repo.UpdateThreadModel(ctx, s.DB, threadID, userID, providerID)
}

func knownProvider(id string) bool {
	switch id {
	case provider.IDOpenAI, provider.IDAnthropic, provider.IDCompat:
		return true
	}
	return false
}

// clip truncates a thread title to the configured maximum rune length.
func (s *ThreadService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
