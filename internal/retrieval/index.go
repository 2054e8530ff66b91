package retrieval

import (
	"math"
	"sort"
	"sync/atomic"
)

// Entry is one indexed chunk with its parent document identity.
type Entry struct {
	ChunkID    string
	DocumentID string
	DocName    string
	Content    string
	Ordinal    int
	Vector     []float32
}

// Scored pairs an entry with its cosine similarity to a query.
type Scored struct {
	Entry
	Score float64
}

// Index is an immutable snapshot of all indexed chunks. Queries never
// mutate it; rebuilds produce a fresh Index and swap it into a Holder.
type Index struct {
	entries []Entry
}

// NewIndex builds an index over the given entries. The slice is owned by
// the index after the call.
func NewIndex(entries []Entry) *Index {
	return &Index{entries: entries}
}

// Len reports the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.entries) }

// TopK returns up to k entries ranked by cosine similarity descending,
// breaking score ties by document name then ordinal so results are stable
// across runs.
func (ix *Index) TopK(query []float32, k int) []Scored {
	if k <= 0 || len(ix.entries) == 0 || len(query) == 0 {
		return nil
	}
	scored := make([]Scored, 0, len(ix.entries))
	for _, e := range ix.entries {
		scored = append(scored, Scored{Entry: e, Score: cosine(query, e.Vector)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].DocName != scored[j].DocName {
			return scored[i].DocName < scored[j].DocName
		}
		return scored[i].Ordinal < scored[j].Ordinal
	})
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

// cosine returns the cosine similarity of two vectors, 0 when either has
// zero magnitude or the dimensions differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Holder publishes the current index to concurrent readers. Load may return
// nil before the first rebuild; callers treat that as an empty index.
type Holder struct {
	cur atomic.Pointer[Index]
}

// Load returns the current index or nil.
func (h *Holder) Load() *Index { return h.cur.Load() }

// Swap atomically replaces the current index. In-flight queries keep using
// the snapshot they already loaded.
func (h *Holder) Swap(ix *Index) { h.cur.Store(ix) }
