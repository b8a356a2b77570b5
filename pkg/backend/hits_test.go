package backend

import (
	"strings"
	"testing"

	"github.com/texgrep/texgrep/pkg/core"
)

func TestMatchWithRetryTogglesBackslash(t *testing.T) {
	// The provider matched through the backslash-stripped phrase, so the
	// raw needle misses and the toggled one hits.
	content := "uses newcommand without a backslash"
	match, needle := matchWithRetry(content, core.ModeLiteral, `\newcommand`)
	if match == nil {
		t.Fatal("expected a match after toggling")
	}
	if needle != "newcommand" {
		t.Errorf("needle = %q, want %q", needle, "newcommand")
	}
	if content[match.Start:match.End] != "newcommand" {
		t.Errorf("matched %q", content[match.Start:match.End])
	}
}

func TestMatchWithRetryNoToggleForRegex(t *testing.T) {
	match, _ := matchWithRetry("plain newcommand", core.ModeRegex, `\\newcommand`)
	if match != nil {
		t.Error("regex queries must not retry with a toggled needle")
	}
}

func TestBuildHitKeepOnMiss(t *testing.T) {
	doc := core.IndexDocument{
		FileID:      "f.tex",
		Path:        "f.tex",
		Content:     "line one\nline two\nline three",
		LineOffsets: []int{4, 5, 6},
	}
	req := core.SearchRequest{Query: "absent", Mode: core.ModeLiteral, Page: 1, Size: 20}

	if _, ok := buildHit(doc, req, 2, false); ok {
		t.Error("strict mode must drop documents without a reproducible match")
	}

	hit, ok := buildHit(doc, req, 2, true)
	if !ok {
		t.Fatal("keepOnMiss must keep the document")
	}
	if hit.Line != 4 {
		t.Errorf("Line = %d, want the mapped first line 4", hit.Line)
	}
	if strings.Contains(hit.Snippet, "<mark>") {
		t.Errorf("naive snippet must be unhighlighted: %q", hit.Snippet)
	}
	if hit.Snippet == "" {
		t.Error("naive snippet is empty")
	}
}

func TestBuildHitMapsOriginalLine(t *testing.T) {
	doc := core.IndexDocument{
		FileID:      "g.tex",
		Path:        "g.tex",
		Content:     "first\nneedle here",
		LineOffsets: []int{10, 42},
	}
	req := core.SearchRequest{Query: "needle", Mode: core.ModeLiteral, Page: 1, Size: 20}
	hit, ok := buildHit(doc, req, 1, false)
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Line != 42 {
		t.Errorf("Line = %d, want 42", hit.Line)
	}
}

func TestFiltersMatch(t *testing.T) {
	doc := core.IndexDocument{Year: "2020", Source: "arxiv"}
	tests := []struct {
		name    string
		filters map[string]string
		want    bool
	}{
		{"nil", nil, true},
		{"empty values", map[string]string{"year": "", "source": ""}, true},
		{"year hit", map[string]string{"year": "2020"}, true},
		{"year miss", map[string]string{"year": "2021"}, false},
		{"source miss", map[string]string{"source": "samples"}, false},
		{"both hit", map[string]string{"year": "2020", "source": "arxiv"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filtersMatch(core.SearchRequest{Filters: tt.filters}, doc); got != tt.want {
				t.Errorf("filtersMatch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPaginateOffsetBeyondTotal(t *testing.T) {
	hits := []core.SearchHit{{Path: "a"}, {Path: "b"}}
	resp := paginate(hits, core.SearchRequest{Page: 5, Size: 10}, 3)
	if len(resp.Hits) != 0 || resp.Hits == nil {
		t.Errorf("Hits = %v, want empty non-nil slice", resp.Hits)
	}
	if resp.Total != 2 {
		t.Errorf("Total = %d, want 2", resp.Total)
	}
	if resp.TookProviderMS != 3 {
		t.Errorf("TookProviderMS = %d", resp.TookProviderMS)
	}
}

func TestPaginateCursorOverridesPage(t *testing.T) {
	hits := []core.SearchHit{{Path: "a"}, {Path: "b"}, {Path: "c"}}
	resp := paginate(hits, core.SearchRequest{Page: 1, Size: 2, Cursor: "2"}, 0)
	if len(resp.Hits) != 1 || resp.Hits[0].Path != "c" {
		t.Errorf("Hits = %v, want just c", resp.Hits)
	}
	if resp.NextCursor != "" {
		t.Errorf("NextCursor = %q", resp.NextCursor)
	}
}
