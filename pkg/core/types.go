// Package core defines the data model shared by the query compiler, the
// snippet engine and the search backends: requests, indexed documents,
// matches and the response contract returned to callers.
//
// All types here are plain values. Requests and hits are per-call and
// ephemeral; IndexDocument is created at ingest time and replaced wholesale
// on reindex, never partially updated.
package core

import (
	"encoding/json"
	"strconv"
)

// SearchMode selects how the query text is interpreted.
type SearchMode string

const (
	// ModeLiteral matches the query as an exact substring after
	// escape-decoding.
	ModeLiteral SearchMode = "literal"

	// ModeRegex matches the query as a regular expression. Regex queries
	// must pass safety/syntax validation before a SearchRequest is built.
	ModeRegex SearchMode = "regex"
)

// SearchRequest is a validated search operation. It is produced by
// query.ParsePayload; constructing one by hand skips validation and should
// only be done in tests.
type SearchRequest struct {
	// Query is the raw query text as received, before escape decoding.
	Query string

	// Mode is literal or regex.
	Mode SearchMode

	// Filters holds the structured filters. Only "year" and "source" are
	// recognized; an absent or empty value means no filtering on that key.
	Filters map[string]string

	// Page is the 1-based page number.
	Page int

	// Size is the page size, already clamped to the provider-independent
	// maximum.
	Size int

	// Cursor is an opaque offset token. When present it overrides the
	// page-derived offset.
	Cursor string
}

// Offset resolves the result offset for this request: the cursor value when
// one was supplied (an unparseable cursor resolves to 0), otherwise
// (page-1)*size.
func (r SearchRequest) Offset() int {
	if r.Cursor != "" {
		n, err := strconv.Atoi(r.Cursor)
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	offset := (r.Page - 1) * r.Size
	if offset < 0 {
		return 0
	}
	return offset
}

// ResolvedPage returns the page number to report back to the caller. When a
// cursor drove the offset, the page is reconstructed from it so that cursor
// and page navigation stay mutually consistent.
func (r SearchRequest) ResolvedPage() int {
	if r.Cursor == "" {
		return r.Page
	}
	if r.Size <= 0 {
		return 1
	}
	page := r.Offset()/r.Size + 1
	if page < 1 {
		return 1
	}
	return page
}

// NextCursor returns the cursor for the page following offset, or "" when
// offset+size already covers the result set.
func NextCursor(offset, size, total int) string {
	next := offset + size
	if next >= total {
		return ""
	}
	return strconv.Itoa(next)
}

// IndexDocument is one preprocessed LaTeX source file as stored in a search
// index. Content is the comment-stripped (and, when latexpand is available,
// macro-expanded) text; LineOffsets maps each of its lines back to the
// 1-based line number in the original source.
type IndexDocument struct {
	FileID string `json:"file_id"`
	Path   string `json:"path"`
	URL    string `json:"url"`
	Year   string `json:"year,omitempty"`
	Source string `json:"source,omitempty"`

	Content string `json:"content"`

	// Commands holds the normalized LaTeX command names appearing in
	// Content, leading backslash stripped, deduplicated.
	Commands []string `json:"commands"`

	// LineOffsets has one entry per line of Content. A zero (or missing)
	// entry means no mapping exists for that line.
	LineOffsets []int `json:"line_offsets"`
}

// OriginalLine maps a 1-based line number in Content back to the original
// source. Lines without a stored mapping fall back to the expanded line
// number itself; that is never an error.
func (d IndexDocument) OriginalLine(line int) int {
	idx := line - 1
	if idx < 0 || idx >= len(d.LineOffsets) {
		return line
	}
	if mapped := d.LineOffsets[idx]; mapped > 0 {
		return mapped
	}
	return line
}

// MatchResult locates a query match inside searched content. Start and End
// are byte offsets forming a half-open interval; LineNumber is the 1-based
// line containing Start.
type MatchResult struct {
	Start      int
	End        int
	LineNumber int
}

// BlockKind discriminates snippet blocks on the wire.
type BlockKind string

const (
	TextBlock BlockKind = "text"
	MathBlock BlockKind = "math"
)

// SnippetBlock is one rendered block of a snippet: either escaped HTML for a
// text run, or a TeX string for a math run. Math stays valid TeX so clients
// can render it; highlights inside math use \class{mjx-hl}{...} instead of
// <mark>.
type SnippetBlock struct {
	Kind BlockKind

	// HTML is set for text blocks.
	HTML string

	// Tex, Display and Marked are set for math blocks. Marked records
	// whether the block received at least one highlight span.
	Tex     string
	Display bool
	Marked  bool
}

// MarshalJSON emits only the fields relevant to the block kind, matching the
// response contract consumed by clients.
func (b SnippetBlock) MarshalJSON() ([]byte, error) {
	if b.Kind == MathBlock {
		return json.Marshal(struct {
			Kind    BlockKind `json:"kind"`
			Tex     string    `json:"tex"`
			Display bool      `json:"display"`
			Marked  bool      `json:"marked"`
		}{b.Kind, b.Tex, b.Display, b.Marked})
	}
	return json.Marshal(struct {
		Kind BlockKind `json:"kind"`
		HTML string    `json:"html"`
	}{b.Kind, b.HTML})
}

// UnmarshalJSON accepts either block shape.
func (b *SnippetBlock) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind    BlockKind `json:"kind"`
		HTML    string    `json:"html"`
		Tex     string    `json:"tex"`
		Display bool      `json:"display"`
		Marked  bool      `json:"marked"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = SnippetBlock{
		Kind:    raw.Kind,
		HTML:    raw.HTML,
		Tex:     raw.Tex,
		Display: raw.Display,
		Marked:  raw.Marked,
	}
	return nil
}

// SnippetResult is the rendered snippet for one hit: a flat highlighted
// string for legacy consumers plus per-segment blocks.
type SnippetResult struct {
	Snippet string
	Blocks  []SnippetBlock
}

// SearchHit is one result returned to the caller. Line is already corrected
// to the original source line number where offsets are available.
type SearchHit struct {
	FileID  string         `json:"file_id"`
	Path    string         `json:"path"`
	Line    int            `json:"line"`
	Snippet string         `json:"snippet"`
	URL     string         `json:"url"`
	Blocks  []SnippetBlock `json:"blocks"`
}

// SearchResponse is the normalized response contract shared by all backends.
type SearchResponse struct {
	Hits           []SearchHit `json:"hits"`
	Total          int         `json:"total"`
	TookProviderMS int64       `json:"took_provider_ms"`
	Page           int         `json:"page"`
	Size           int         `json:"size"`
	NextCursor     string      `json:"next_cursor,omitempty"`
}
