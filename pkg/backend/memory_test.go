package backend

import (
	"context"
	"strings"
	"testing"

	"github.com/texgrep/texgrep/pkg/core"
)

func testCorpus() []core.IndexDocument {
	return []core.IndexDocument{
		{
			FileID:      "c.tex",
			Path:        "c.tex",
			Year:        "2021",
			Source:      "arxiv",
			Content:     "intro\n\\frac{a}{b} appears here\noutro",
			LineOffsets: []int{1, 2, 3},
		},
		{
			FileID:      "a.tex",
			Path:        "a.tex",
			Year:        "2020",
			Source:      "samples",
			Content:     "\\frac{x}{y}\nsecond line",
			LineOffsets: []int{1, 2},
		},
		{
			FileID:      "b.tex",
			Path:        "b.tex",
			Year:        "2020",
			Source:      "arxiv",
			Content:     "nothing to see",
			LineOffsets: []int{1},
		},
	}
}

func newIndexedMemory(t *testing.T) *MemoryBackend {
	t.Helper()
	b := NewMemoryBackend(2)
	if err := b.IndexDocuments(context.Background(), testCorpus()); err != nil {
		t.Fatalf("IndexDocuments() error = %v", err)
	}
	return b
}

func TestMemorySearchLiteral(t *testing.T) {
	b := newIndexedMemory(t)

	resp, err := b.Search(context.Background(), core.SearchRequest{
		Query: `\\frac`, Mode: core.ModeLiteral, Page: 1, Size: 20,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 2 || len(resp.Hits) != 2 {
		t.Fatalf("Total = %d, hits = %d, want 2 and 2", resp.Total, len(resp.Hits))
	}
	// path-lexical order
	if resp.Hits[0].Path != "a.tex" || resp.Hits[1].Path != "c.tex" {
		t.Errorf("order = %s, %s", resp.Hits[0].Path, resp.Hits[1].Path)
	}
	if resp.Hits[1].Line != 2 {
		t.Errorf("Line = %d, want 2", resp.Hits[1].Line)
	}
	if !strings.Contains(resp.Hits[0].Snippet, "<mark>") {
		t.Errorf("snippet missing highlight: %q", resp.Hits[0].Snippet)
	}
	if resp.NextCursor != "" {
		t.Errorf("NextCursor = %q, want empty", resp.NextCursor)
	}
}

func TestMemorySearchRegex(t *testing.T) {
	b := newIndexedMemory(t)

	resp, err := b.Search(context.Background(), core.SearchRequest{
		Query: `frac\\{[a-z]\\}`, Mode: core.ModeRegex, Page: 1, Size: 20,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("Total = %d, want 2", resp.Total)
	}
}

func TestMemorySearchFilters(t *testing.T) {
	b := newIndexedMemory(t)

	tests := []struct {
		name    string
		filters map[string]string
		want    []string
	}{
		{"year", map[string]string{"year": "2021"}, []string{"c.tex"}},
		{"source", map[string]string{"source": "samples"}, []string{"a.tex"}},
		{"both miss", map[string]string{"year": "2021", "source": "samples"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := b.Search(context.Background(), core.SearchRequest{
				Query: `\\frac`, Mode: core.ModeLiteral, Filters: tt.filters, Page: 1, Size: 20,
			})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			var got []string
			for _, hit := range resp.Hits {
				got = append(got, hit.Path)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("paths = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("paths = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestMemorySearchPagination(t *testing.T) {
	b := newIndexedMemory(t)

	first, err := b.Search(context.Background(), core.SearchRequest{
		Query: `\\frac`, Mode: core.ModeLiteral, Page: 1, Size: 1,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(first.Hits) != 1 || first.Total != 2 {
		t.Fatalf("page 1: hits = %d, total = %d", len(first.Hits), first.Total)
	}
	if first.NextCursor != "1" {
		t.Errorf("NextCursor = %q, want \"1\"", first.NextCursor)
	}

	second, err := b.Search(context.Background(), core.SearchRequest{
		Query: `\\frac`, Mode: core.ModeLiteral, Page: 1, Size: 1, Cursor: first.NextCursor,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(second.Hits) != 1 || second.Hits[0].Path != "c.tex" {
		t.Fatalf("cursor page hits = %+v", second.Hits)
	}
	if second.NextCursor != "" {
		t.Errorf("NextCursor = %q, want empty on last page", second.NextCursor)
	}
}

func TestMemorySearchNoHits(t *testing.T) {
	b := newIndexedMemory(t)

	resp, err := b.Search(context.Background(), core.SearchRequest{
		Query: "nonexistent needle", Mode: core.ModeLiteral, Page: 1, Size: 20,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Hits == nil {
		t.Error("Hits is nil, want empty slice")
	}
	if resp.Total != 0 {
		t.Errorf("Total = %d, want 0", resp.Total)
	}
}

func TestMemoryDeleteIndex(t *testing.T) {
	b := newIndexedMemory(t)
	if err := b.DeleteIndex(context.Background()); err != nil {
		t.Fatalf("DeleteIndex() error = %v", err)
	}
	resp, err := b.Search(context.Background(), core.SearchRequest{
		Query: `\\frac`, Mode: core.ModeLiteral, Page: 1, Size: 20,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("Total = %d after delete, want 0", resp.Total)
	}
}

func TestMemoryReindexReplaces(t *testing.T) {
	b := newIndexedMemory(t)
	svc := NewService(b)
	if err := svc.Reindex(context.Background(), []core.IndexDocument{
		{FileID: "only.tex", Path: "only.tex", Content: `\frac{1}{2}`, LineOffsets: []int{1}},
	}); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	resp, err := svc.Search(context.Background(), core.SearchRequest{
		Query: `\\frac`, Mode: core.ModeLiteral, Page: 1, Size: 20,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 1 || resp.Hits[0].Path != "only.tex" {
		t.Errorf("after reindex: total = %d, hits = %+v", resp.Total, resp.Hits)
	}
}
