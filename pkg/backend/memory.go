package backend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/texgrep/texgrep/pkg/core"
)

// MemoryBackend is the reference implementation: a linear scan over an
// in-memory document map with deterministic path-lexical ordering. It exists
// for tests and local development; every other backend must produce the same
// response contract.
type MemoryBackend struct {
	mu           sync.RWMutex
	documents    map[string]core.IndexDocument
	snippetLines int
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(snippetLines int) *MemoryBackend {
	return &MemoryBackend{
		documents:    make(map[string]core.IndexDocument),
		snippetLines: snippetLines,
	}
}

func (b *MemoryBackend) Search(_ context.Context, req core.SearchRequest) (*core.SearchResponse, error) {
	start := time.Now()

	b.mu.RLock()
	docs := make([]core.IndexDocument, 0, len(b.documents))
	for _, doc := range b.documents {
		docs = append(docs, doc)
	}
	b.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })

	var hits []core.SearchHit
	for _, doc := range docs {
		if !filtersMatch(req, doc) {
			continue
		}
		if hit, ok := buildHit(doc, req, b.snippetLines, false); ok {
			hits = append(hits, hit)
		}
	}

	return paginate(hits, req, time.Since(start).Milliseconds()), nil
}

func (b *MemoryBackend) IndexDocuments(_ context.Context, docs []core.IndexDocument) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, doc := range docs {
		b.documents[doc.FileID] = doc
	}
	return nil
}

func (b *MemoryBackend) CreateIndex(context.Context) error {
	return nil
}

func (b *MemoryBackend) DeleteIndex(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.documents = make(map[string]core.IndexDocument)
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
