package core

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOffset(t *testing.T) {
	tests := []struct {
		name string
		req  SearchRequest
		want int
	}{
		{"first page", SearchRequest{Page: 1, Size: 20}, 0},
		{"third page", SearchRequest{Page: 3, Size: 20}, 40},
		{"cursor wins", SearchRequest{Page: 3, Size: 20, Cursor: "100"}, 100},
		{"bad cursor", SearchRequest{Page: 1, Size: 20, Cursor: "later"}, 0},
		{"negative cursor", SearchRequest{Page: 1, Size: 20, Cursor: "-5"}, 0},
		{"zero page", SearchRequest{Page: 0, Size: 20}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Offset(); got != tt.want {
				t.Errorf("Offset() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolvedPage(t *testing.T) {
	tests := []struct {
		name string
		req  SearchRequest
		want int
	}{
		{"no cursor", SearchRequest{Page: 4, Size: 20}, 4},
		{"cursor aligned", SearchRequest{Page: 1, Size: 20, Cursor: "40"}, 3},
		{"cursor unaligned", SearchRequest{Page: 1, Size: 20, Cursor: "45"}, 3},
		{"cursor zero", SearchRequest{Page: 9, Size: 20, Cursor: "0"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.ResolvedPage(); got != tt.want {
				t.Errorf("ResolvedPage() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNextCursor(t *testing.T) {
	if got := NextCursor(0, 20, 100); got != "20" {
		t.Errorf("NextCursor(0, 20, 100) = %q", got)
	}
	if got := NextCursor(80, 20, 100); got != "" {
		t.Errorf("NextCursor(80, 20, 100) = %q, want empty", got)
	}
	if got := NextCursor(0, 20, 5); got != "" {
		t.Errorf("NextCursor(0, 20, 5) = %q, want empty", got)
	}
}

func TestOriginalLine(t *testing.T) {
	doc := IndexDocument{LineOffsets: []int{3, 0, 7}}
	tests := []struct {
		line int
		want int
	}{
		{1, 3},
		{2, 2}, // zero entry falls back to the expanded line
		{3, 7},
		{4, 4}, // beyond the mapping
		{0, 0}, // nonsense input passes through
	}
	for _, tt := range tests {
		if got := doc.OriginalLine(tt.line); got != tt.want {
			t.Errorf("OriginalLine(%d) = %d, want %d", tt.line, got, tt.want)
		}
	}
}

func TestSnippetBlockJSON(t *testing.T) {
	text := SnippetBlock{Kind: TextBlock, HTML: "a <mark>b</mark>"}
	data, err := json.Marshal(text)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "tex") || !strings.Contains(string(data), "html") {
		t.Errorf("text block JSON = %s", data)
	}

	math := SnippetBlock{Kind: MathBlock, Tex: `\frac{1}{2}`, Display: true, Marked: true}
	data, err = json.Marshal(math)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "html") || !strings.Contains(string(data), "display") {
		t.Errorf("math block JSON = %s", data)
	}

	var back SnippetBlock
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Kind != MathBlock || back.Tex != math.Tex || !back.Display || !back.Marked {
		t.Errorf("roundtrip = %+v", back)
	}
}
