package backend

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/texgrep/texgrep/pkg/core"
)

func newSQLiteTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "index.db"), 2)
	if err != nil {
		t.Fatalf("NewSQLiteBackend() error = %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	if err := b.IndexDocuments(context.Background(), testCorpus()); err != nil {
		t.Fatalf("IndexDocuments() error = %v", err)
	}
	return b
}

func TestSQLiteSearchLiteral(t *testing.T) {
	b := newSQLiteTestBackend(t)

	resp, err := b.Search(context.Background(), core.SearchRequest{
		Query: `\\frac`, Mode: core.ModeLiteral, Page: 1, Size: 20,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("Total = %d, want 2", resp.Total)
	}
	if resp.Hits[0].Path != "a.tex" || resp.Hits[1].Path != "c.tex" {
		t.Errorf("order = %s, %s", resp.Hits[0].Path, resp.Hits[1].Path)
	}
	if !strings.Contains(resp.Hits[0].Snippet, "<mark>") && !strings.Contains(resp.Hits[0].Snippet, "mjx-hl") {
		t.Errorf("snippet lacks highlight: %q", resp.Hits[0].Snippet)
	}
}

func TestSQLiteSearchWithPrefilterableTokens(t *testing.T) {
	b := newSQLiteTestBackend(t)

	// "appears" is an interior run of the needle, so this query exercises
	// the FTS prefilter path.
	resp, err := b.Search(context.Background(), core.SearchRequest{
		Query: `} appears here`, Mode: core.ModeLiteral, Page: 1, Size: 20,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 1 || resp.Hits[0].Path != "c.tex" {
		t.Errorf("Total = %d, hits = %+v", resp.Total, resp.Hits)
	}
}

func TestSQLiteSearchNonASCIINeedle(t *testing.T) {
	b := newSQLiteTestBackend(t)

	// unicode61 indexes "éabcé" as one token; a byte-level prefilter would
	// MATCH on "abc" and drop the document.
	if err := b.IndexDocuments(context.Background(), []core.IndexDocument{{
		FileID:      "accents.tex",
		Path:        "accents.tex",
		Content:     "prefix éabcé suffix",
		LineOffsets: []int{1},
	}}); err != nil {
		t.Fatalf("IndexDocuments() error = %v", err)
	}

	resp, err := b.Search(context.Background(), core.SearchRequest{
		Query: "éabcé", Mode: core.ModeLiteral, Page: 1, Size: 20,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 1 || resp.Hits[0].Path != "accents.tex" {
		t.Errorf("Total = %d, hits = %+v, want the accented document", resp.Total, resp.Hits)
	}
}

func TestSQLiteSearchRegex(t *testing.T) {
	b := newSQLiteTestBackend(t)

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

func TestSQLiteSearchFilters(t *testing.T) {
	b := newSQLiteTestBackend(t)

	resp, err := b.Search(context.Background(), core.SearchRequest{
		Query: `\\frac`, Mode: core.ModeLiteral,
		Filters: map[string]string{"source": "samples"},
		Page:    1, Size: 20,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 1 || resp.Hits[0].Path != "a.tex" {
		t.Errorf("Total = %d, hits = %+v", resp.Total, resp.Hits)
	}
}

func TestSQLiteIndexDocumentsReplaces(t *testing.T) {
	b := newSQLiteTestBackend(t)

	updated := testCorpus()[0]
	updated.Content = "replaced content without the command"
	updated.LineOffsets = []int{1}
	if err := b.IndexDocuments(context.Background(), []core.IndexDocument{updated}); err != nil {
		t.Fatalf("IndexDocuments() error = %v", err)
	}

	resp, err := b.Search(context.Background(), core.SearchRequest{
		Query: `\\frac`, Mode: core.ModeLiteral, Page: 1, Size: 20,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 1 || resp.Hits[0].Path != "a.tex" {
		t.Errorf("Total = %d, hits = %+v", resp.Total, resp.Hits)
	}
}

func TestSQLiteDeleteAndRecreate(t *testing.T) {
	b := newSQLiteTestBackend(t)

	if err := b.DeleteIndex(context.Background()); err != nil {
		t.Fatalf("DeleteIndex() error = %v", err)
	}
	if err := b.CreateIndex(context.Background()); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	resp, err := b.Search(context.Background(), core.SearchRequest{
		Query: `\\frac`, Mode: core.ModeLiteral, Page: 1, Size: 20,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("Total = %d after reset, want 0", resp.Total)
	}
}

func TestInteriorTokens(t *testing.T) {
	tests := []struct {
		needle string
		want   []string
	}{
		{`\frac`, nil},
		{`\newcommand{`, []string{"newcommand"}},
		{`\frac{alpha}{beta}`, []string{"alpha", "beta", "frac"}},
		{"plain words", nil},
		{"x ab y", nil},
		{`\a{one}{two}{three}{four}{five}`, []string{"five", "four", "one", "three"}},
		{`\frac{alpha}{alpha}`, []string{"alpha", "frac"}},
		{"éabcé", nil},
		{`\frac{ação}{beta}`, nil},
	}
	for _, tt := range tests {
		got := interiorTokens(tt.needle)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("interiorTokens(%q) = %v, want %v", tt.needle, got, tt.want)
		}
	}
}

func TestFtsMatchExpression(t *testing.T) {
	got := ftsMatchExpression([]string{"alpha", `be"ta`})
	want := `"alpha" AND "be""ta"`
	if got != want {
		t.Errorf("ftsMatchExpression() = %q, want %q", got, want)
	}
}
