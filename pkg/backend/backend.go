// Package backend presents one search/index/reset contract over the
// interchangeable search providers: the OpenSearch index engine, a local
// SQLite FTS index, the Zoekt code-search daemon and an in-memory reference
// implementation.
//
// Backends normalize heterogeneous provider responses into the shared
// core.SearchResponse contract; the package also owns pagination and cursor
// semantics and the post-processing fallbacks that keep hit counts stable
// when a provider match cannot be reproduced by the snippet engine.
package backend

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/texgrep/texgrep/pkg/config"
	"github.com/texgrep/texgrep/pkg/core"
)

// Backend is the capability set every provider implements. Reindexing is
// delete-then-create-then-bulk-index; the index swap is the unit of
// atomicity, so searches racing a reindex may observe an empty or partially
// populated index.
type Backend interface {
	Search(ctx context.Context, req core.SearchRequest) (*core.SearchResponse, error)
	IndexDocuments(ctx context.Context, docs []core.IndexDocument) error
	CreateIndex(ctx context.Context) error
	DeleteIndex(ctx context.Context) error
	Close() error
}

// ProviderError wraps a failure talking to a search provider. It is
// surfaced to callers as an opaque internal error and never retried here;
// retry policy belongs to the transport layer.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func providerErrorf(provider, format string, args ...any) error {
	return &ProviderError{Provider: provider, Err: fmt.Errorf(format, args...)}
}

// Service wraps a backend with the operations the CLI and API expose.
type Service struct {
	backend Backend
}

// NewService wraps an already-constructed backend.
func NewService(b Backend) *Service {
	return &Service{backend: b}
}

// NewServiceFromConfig selects and constructs the configured backend.
func NewServiceFromConfig(cfg *config.Config) (*Service, error) {
	switch cfg.Provider {
	case config.ProviderOpenSearch:
		return NewService(NewOpenSearchBackend(cfg.OpenSearch, cfg.SnippetLines)), nil
	case config.ProviderZoekt:
		return NewService(NewZoektBackend(cfg.Zoekt, cfg.StorageDir, cfg.SnippetLines)), nil
	case config.ProviderSQLite:
		b, err := NewSQLiteBackend(filepath.Join(cfg.StorageDir, "texgrep.db"), cfg.SnippetLines)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite backend: %w", err)
		}
		return NewService(b), nil
	case config.ProviderMemory:
		return NewService(NewMemoryBackend(cfg.SnippetLines)), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Search executes a validated request against the backend.
func (s *Service) Search(ctx context.Context, req core.SearchRequest) (*core.SearchResponse, error) {
	return s.backend.Search(ctx, req)
}

// IndexDocuments bulk-indexes documents.
func (s *Service) IndexDocuments(ctx context.Context, docs []core.IndexDocument) error {
	return s.backend.IndexDocuments(ctx, docs)
}

// EnsureIndex creates the index when it does not exist yet.
func (s *Service) EnsureIndex(ctx context.Context) error {
	return s.backend.CreateIndex(ctx)
}

// ResetIndex deletes and recreates the index.
func (s *Service) ResetIndex(ctx context.Context) error {
	if err := s.backend.DeleteIndex(ctx); err != nil {
		return err
	}
	return s.backend.CreateIndex(ctx)
}

// Reindex replaces the whole index with the given documents.
func (s *Service) Reindex(ctx context.Context, docs []core.IndexDocument) error {
	if err := s.ResetIndex(ctx); err != nil {
		return err
	}
	return s.IndexDocuments(ctx, docs)
}

// Close releases backend resources.
func (s *Service) Close() error {
	return s.backend.Close()
}
