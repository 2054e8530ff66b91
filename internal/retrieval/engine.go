package retrieval

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/confchat/go-confchat-backend/internal/domain"
	"github.com/confchat/go-confchat-backend/internal/provider"
	"github.com/confchat/go-confchat-backend/internal/repo"
	"github.com/confchat/go-confchat-backend/internal/settings"
)

// WindowDoc is an always-included document in upload order.
type WindowDoc struct {
	Name    string
	Content string
}

// Result is what a query resolves to under the current settings snapshot:
// window documents are always present, Chunks only in vector mode.
type Result struct {
	WindowDocs []WindowDoc
	Chunks     []Scored
}

// Engine owns the chunk index lifecycle and serves retrieval queries.
// Rebuilds re-chunk and re-embed enabled vector documents, persist the new
// chunks, then swap a freshly built index in; queries racing a rebuild see
// either the old or the new index, never a partial one.
type Engine struct {
	db       *gorm.DB
	embedder provider.Embedder
	holder   Holder
}

// NewEngine builds an engine. embedder may be nil; vector retrieval and
// rebuilds then report provider.ErrNotConfigured.
func NewEngine(db *gorm.DB, embedder provider.Embedder) *Engine {
	return &Engine{db: db, embedder: embedder}
}

// IndexSize reports the number of chunks in the live index.
func (e *Engine) IndexSize() int {
	ix := e.holder.Load()
	if ix == nil {
		return 0
	}
	return ix.Len()
}

// Retrieve resolves query under snap. Enabled window documents are always
// returned, in upload order, regardless of mode. In vector mode the query
// is embedded and matched against the live index; an index that has never
// been built yields no chunks and no error.
func (e *Engine) Retrieve(ctx context.Context, snap settings.Snapshot, query string) (*Result, error) {
	docs, err := repo.ListEnabledDocumentsByMode(ctx, e.db, domain.ModeWindow)
	if err != nil {
		return nil, fmt.Errorf("list window documents: %w", err)
	}
	res := &Result{WindowDocs: make([]WindowDoc, 0, len(docs))}
	for _, d := range docs {
		res.WindowDocs = append(res.WindowDocs, WindowDoc{Name: d.Name, Content: d.Content})
	}

	if snap.ContextMode != domain.ModeVector {
		return res, nil
	}
	ix := e.holder.Load()
	if ix == nil || ix.Len() == 0 {
		return res, nil
	}
	if e.embedder == nil {
		return nil, fmt.Errorf("embed query: %w", provider.ErrNotConfigured)
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	res.Chunks = ix.TopK(vec, snap.RetrievalTopK)
	return res, nil
}

// Rebuild re-chunks and re-embeds every enabled vector document under the
// given snapshot's chunking parameters, replaces the persisted chunks, and
// swaps the in-memory index. Documents are processed one at a time so a
// failure leaves earlier documents persisted and the previous index live.
func (e *Engine) Rebuild(ctx context.Context, snap settings.Snapshot) error {
	if e.embedder == nil {
		return fmt.Errorf("rebuild index: %w", provider.ErrNotConfigured)
	}
	docs, err := repo.ListEnabledDocumentsByMode(ctx, e.db, domain.ModeVector)
	if err != nil {
		return fmt.Errorf("list vector documents: %w", err)
	}

	for _, d := range docs {
		pieces := Split(d.Content, snap.ChunkSize, snap.ChunkOverlap)
		chunks := make([]domain.Chunk, 0, len(pieces))
		if len(pieces) > 0 {
			vecs, err := e.embedder.EmbedBatch(ctx, pieces)
			if err != nil {
				return fmt.Errorf("embed document %s: %w", d.Name, err)
			}
			for i, p := range pieces {
				ch := domain.Chunk{DocumentID: d.ID, Content: p, Ordinal: i}
				ch.SetVector(vecs[i])
				chunks = append(chunks, ch)
			}
		}
		if err := repo.ReplaceChunks(ctx, e.db, d.ID, chunks); err != nil {
			return fmt.Errorf("store chunks for %s: %w", d.Name, err)
		}
		log.Info().Str("document", d.Name).Int("chunks", len(chunks)).Msg("document reindexed")
	}
	return e.LoadIndex(ctx)
}

// LoadIndex builds a fresh index from the persisted chunks of enabled
// vector documents and swaps it in. Called at startup and after rebuilds.
func (e *Engine) LoadIndex(ctx context.Context) error {
	docs, err := repo.ListEnabledDocumentsByMode(ctx, e.db, domain.ModeVector)
	if err != nil {
		return fmt.Errorf("list vector documents: %w", err)
	}
	var entries []Entry
	for _, d := range docs {
		chunks, err := repo.ListChunks(ctx, e.db, d.ID)
		if err != nil {
			return fmt.Errorf("list chunks for %s: %w", d.Name, err)
		}
		for _, ch := range chunks {
			entries = append(entries, Entry{
				ChunkID:    ch.ID,
				DocumentID: d.ID,
				DocName:    d.Name,
				Content:    ch.Content,
				Ordinal:    ch.Ordinal,
				Vector:     ch.Vector(),
			})
		}
	}
	e.holder.Swap(NewIndex(entries))
	log.Info().Int("chunks", len(entries)).Msg("chunk index loaded")
	return nil
}
