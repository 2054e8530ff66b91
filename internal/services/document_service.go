// Package services – DocumentService
//
// This file implements DocumentService, the admin-facing component that owns
// the document corpus. Uploads and patches invalidate derived chunk data;
// reprocessing re-chunks and re-embeds the vector corpus through the
// retrieval engine and atomically swaps the live index.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/confchat/go-confchat-backend/internal/domain"
	"github.com/confchat/go-confchat-backend/internal/repo"
	"github.com/confchat/go-confchat-backend/internal/retrieval"
	"github.com/confchat/go-confchat-backend/internal/settings"
)

// DocumentService manages the uploaded document corpus and its derived
// chunk index.
type DocumentService struct {
	DB       *gorm.DB
	Engine   *retrieval.Engine
	Settings *settings.Store

	// EmbedTimeout bounds a full reprocess run. Zero means the caller's
	// context is the only bound.
	EmbedTimeout time.Duration
}

// NewDocumentService wires the corpus store to the retrieval engine.
func NewDocumentService(db *gorm.DB, engine *retrieval.Engine, st *settings.Store) *DocumentService {
	return &DocumentService{DB: db, Engine: engine, Settings: st}
}

// DocumentPatch carries optional field updates; nil means leave unchanged.
type DocumentPatch struct {
	Name    *string
	Content *string
	Mode    *string
	Enabled *bool
}

// Upload stores a new document. Names must be unique; mode must be one of
// window or vector. Vector documents are not searchable until the next
// reprocess builds their chunks.
func (s *DocumentService) Upload(ctx context.Context, name, content, mode string, enabled bool) (*domain.Document, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(content) == "" {
		return nil, ErrInvalidDocument
	}
	if mode != domain.ModeWindow && mode != domain.ModeVector {
		return nil, ErrInvalidDocument
	}
	doc, err := repo.CreateDocument(ctx, s.DB, name, content, mode, enabled)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateName) {
			return nil, ErrDuplicateDocument
		}
		return nil, err
	}
	return doc, nil
}

// List returns all documents in upload order.
func (s *DocumentService) List(ctx context.Context) ([]domain.Document, error) {
	return repo.ListDocuments(ctx, s.DB)
}

// Get fetches a document by id.
func (s *DocumentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := repo.GetDocument(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// Patch applies a partial update. Mode or content changes leave the
// persisted chunks stale until reprocessing; toggling enabled takes effect
// for window inclusion immediately and for vector search at the next index
// load.
func (s *DocumentService) Patch(ctx context.Context, id string, p DocumentPatch) (*domain.Document, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, ErrInvalidDocument
		}
		fields["name"] = name
	}
	if p.Content != nil {
		if strings.TrimSpace(*p.Content) == "" {
			return nil, ErrInvalidDocument
		}
		fields["content"] = *p.Content
		fields["byte_size"] = int64(len(*p.Content))
	}
	if p.Mode != nil {
		if *p.Mode != domain.ModeWindow && *p.Mode != domain.ModeVector {
			return nil, ErrInvalidDocument
		}
		fields["mode"] = *p.Mode
	}
	if p.Enabled != nil {
		fields["enabled"] = *p.Enabled
	}
	if len(fields) > 0 {
		if err := repo.UpdateDocument(ctx, s.DB, id, fields); err != nil {
			if errors.Is(err, repo.ErrDuplicateName) {
				return nil, ErrDuplicateDocument
			}
			return nil, err
		}
	}
	if p.Enabled != nil || p.Mode != nil {
		if err := s.Engine.LoadIndex(ctx); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// Delete removes a document and its chunks, then reloads the index so the
// deleted chunks drop out of search immediately.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := repo.DeleteDocument(ctx, s.DB, id); err != nil {
		return err
	}
	return s.Engine.LoadIndex(ctx)
}

// Reprocess re-chunks and re-embeds the enabled vector corpus under the
// current settings snapshot and swaps in the fresh index. Queries running
// concurrently keep the previous index until the swap. The run gets its own
// generous deadline; embedding a large corpus far outlives a chat request.
func (s *DocumentService) Reprocess(ctx context.Context) error {
	if s.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.EmbedTimeout)
		defer cancel()
	}
	snap := s.Settings.Current()

	tr := otel.Tracer("services/DocumentService")
	ctx, span := tr.Start(ctx, "Reprocess",
		trace.WithAttributes(
			attribute.Int64("settings.version", snap.Version),
			attribute.Int("chunk.size", snap.ChunkSize),
			attribute.Int("chunk.overlap", snap.ChunkOverlap),
		),
	)
	defer span.End()

	return s.Engine.Rebuild(ctx, snap)
}
