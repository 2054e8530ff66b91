package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/confchat/go-confchat-backend/internal/domain"
	"github.com/confchat/go-confchat-backend/internal/retrieval"
	"github.com/confchat/go-confchat-backend/internal/settings"
)

// constEmbedder returns the same vector for every input.
type constEmbedder struct {
	vec []float32
	err error
}

func (c *constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *constEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = c.vec
	}
	return out, nil
}

func newDocService(t *testing.T, db *gorm.DB, eng *retrieval.Engine) *DocumentService {
	t.Helper()
	if eng == nil {
		eng = retrieval.NewEngine(db, nil)
	}
	return NewDocumentService(db, eng, settings.NewStore(db))
}

func strptr(s string) *string { return &s }
func boolptr(b bool) *bool    { return &b }

func TestUpload_Validation(t *testing.T) {
	db := newServicesDB(t)
	svc := newDocService(t, db, nil)

	cases := []struct {
		name    string
		docName string
		content string
		mode    string
	}{
		{"blank name", "  ", "body", domain.ModeWindow},
		{"blank content", "doc.txt", "   ", domain.ModeWindow},
		{"bad mode", "doc.txt", "body", "hybrid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Upload(context.Background(), tc.docName, tc.content, tc.mode, true); !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}

func TestUpload_StoresAndRejectsDuplicates(t *testing.T) {
	db := newServicesDB(t)
	svc := newDocService(t, db, nil)

	doc, err := svc.Upload(context.Background(), " schedule.txt ", "Day 1: keynotes.", domain.ModeWindow, true)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.Name != "schedule.txt" {
		t.Fatalf("name not trimmed: %q", doc.Name)
	}
	if doc.ByteSize != int64(len("Day 1: keynotes.")) {
		t.Fatalf("byte size %d", doc.ByteSize)
	}

	if _, err := svc.Upload(context.Background(), "schedule.txt", "other body", domain.ModeVector, true); !errors.Is(err, ErrDuplicateDocument) {
		t.Fatalf("expected ErrDuplicateDocument, got %v", err)
	}
}

func TestGet_MapsNotFound(t *testing.T) {
	db := newServicesDB(t)
	svc := newDocService(t, db, nil)

	if _, err := svc.Get(context.Background(), "no-such-id"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestPatch_PartialUpdates(t *testing.T) {
	db := newServicesDB(t)
	svc := newDocService(t, db, nil)

	doc, err := svc.Upload(context.Background(), "venue.txt", "Hall A and Hall B.", domain.ModeWindow, true)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	got, err := svc.Patch(context.Background(), doc.ID, DocumentPatch{Content: strptr("Hall A only.")})
	if err != nil {
		t.Fatalf("Patch content: %v", err)
	}
	if got.Content != "Hall A only." || got.ByteSize != int64(len("Hall A only.")) {
		t.Fatalf("content patch did not recompute size: %+v", got)
	}
	if got.Name != "venue.txt" || !got.Enabled {
		t.Fatalf("untouched fields changed: %+v", got)
	}

	got, err = svc.Patch(context.Background(), doc.ID, DocumentPatch{Enabled: boolptr(false), Mode: strptr(domain.ModeVector)})
	if err != nil {
		t.Fatalf("Patch mode/enabled: %v", err)
	}
	if got.Enabled || got.Mode != domain.ModeVector {
		t.Fatalf("mode/enabled patch lost: %+v", got)
	}

	if _, err := svc.Patch(context.Background(), doc.ID, DocumentPatch{Name: strptr("  ")}); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("blank name must be rejected, got %v", err)
	}
	if _, err := svc.Patch(context.Background(), doc.ID, DocumentPatch{Mode: strptr("graph")}); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("bad mode must be rejected, got %v", err)
	}
	if _, err := svc.Patch(context.Background(), "missing", DocumentPatch{}); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestPatch_DuplicateRename(t *testing.T) {
	db := newServicesDB(t)
	svc := newDocService(t, db, nil)

	if _, err := svc.Upload(context.Background(), "a.txt", "a", domain.ModeWindow, true); err != nil {
		t.Fatalf("Upload a: %v", err)
	}
	b, err := svc.Upload(context.Background(), "b.txt", "b", domain.ModeWindow, true)
	if err != nil {
		t.Fatalf("Upload b: %v", err)
	}
	if _, err := svc.Patch(context.Background(), b.ID, DocumentPatch{Name: strptr("a.txt")}); !errors.Is(err, ErrDuplicateDocument) {
		t.Fatalf("expected ErrDuplicateDocument, got %v", err)
	}
}

func TestDelete_RemovesDocumentAndChunks(t *testing.T) {
	db := newServicesDB(t)
	eng := retrieval.NewEngine(db, &constEmbedder{vec: []float32{1, 0}})
	svc := newDocService(t, db, eng)

	doc, err := svc.Upload(context.Background(), "talks.txt", "Go talk. Rust talk.", domain.ModeVector, true)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := svc.Reprocess(context.Background()); err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	var before int64
	if err := db.Model(&domain.Chunk{}).Where("document_id = ?", doc.ID).Count(&before).Error; err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	if before == 0 {
		t.Fatalf("reprocess produced no chunks")
	}

	if err := svc.Delete(context.Background(), doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(context.Background(), doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("document still readable after delete: %v", err)
	}
	var after int64
	if err := db.Model(&domain.Chunk{}).Where("document_id = ?", doc.ID).Count(&after).Error; err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	if after != 0 {
		t.Fatalf("chunks survived delete: %d", after)
	}

	if err := svc.Delete(context.Background(), doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("second delete must be not-found, got %v", err)
	}
}

func TestReprocess_BuildsChunksUnderCurrentSettings(t *testing.T) {
	db := newServicesDB(t)
	eng := retrieval.NewEngine(db, &constEmbedder{vec: []float32{0.6, 0.8}})
	svc := newDocService(t, db, eng)

	if _, err := svc.Upload(context.Background(), "faq.txt", "abcdefghij", domain.ModeVector, true); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	st := settings.NewStore(db)
	snap := st.Current()
	snap.ChunkSize = 4
	snap.ChunkOverlap = 0
	if _, err := st.Save(context.Background(), snap); err != nil {
		t.Fatalf("Save settings: %v", err)
	}
	svc.Settings = st

	if err := svc.Reprocess(context.Background()); err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	var chunks []domain.Chunk
	if err := db.Order("ordinal ASC").Find(&chunks).Error; err != nil {
		t.Fatalf("load chunks: %v", err)
	}
	// "abcdefghij" at size 4 without overlap splits into abcd/efgh/ij.
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Content != "abcd" || chunks[2].Content != "ij" {
		t.Fatalf("unexpected chunk contents: %q %q", chunks[0].Content, chunks[2].Content)
	}
	if v := chunks[0].Vector(); len(v) != 2 || v[0] != 0.6 {
		t.Fatalf("embedding not persisted: %v", v)
	}
}

// stallingEmbedder never returns vectors; it waits for its context.
type stallingEmbedder struct{}

func (stallingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestReprocess_EmbedTimeoutBoundsRun(t *testing.T) {
	db := newServicesDB(t)
	eng := retrieval.NewEngine(db, stallingEmbedder{})
	svc := newDocService(t, db, eng)
	svc.EmbedTimeout = 50 * time.Millisecond

	if _, err := svc.Upload(context.Background(), "big.txt", "slide notes for every session", domain.ModeVector, true); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- svc.Reprocess(context.Background()) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected a deadline error from a stalled embedder")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Reprocess did not stop at its deadline")
	}
}

func TestReprocess_WithoutEmbedderFails(t *testing.T) {
	db := newServicesDB(t)
	svc := newDocService(t, db, nil) // engine without embedder

	if _, err := svc.Upload(context.Background(), "v.txt", "body text here", domain.ModeVector, true); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := svc.Reprocess(context.Background()); err == nil {
		t.Fatalf("expected error without an embedder")
	}
}
