package backend

import (
	"github.com/texgrep/texgrep/pkg/core"
	"github.com/texgrep/texgrep/pkg/query"
	"github.com/texgrep/texgrep/pkg/snippet"
)

// matchWithRetry locates the query in content and, for literal queries that
// miss, retries once with the leading backslash toggled. The index can match
// through the alternate-backslash phrase or an ngram decomposition, so a
// provider hit is not guaranteed to contain the raw query string. Returns
// the match and the needle that produced it.
func matchWithRetry(content string, mode core.SearchMode, decoded string) (*core.MatchResult, string) {
	match := snippet.FindMatch(content, mode, decoded)
	if match != nil || mode != core.ModeLiteral {
		return match, decoded
	}
	alt := query.ToggleBackslash(decoded)
	if alt != decoded {
		if m := snippet.FindMatch(content, core.ModeLiteral, alt); m != nil {
			return m, alt
		}
	}
	return nil, decoded
}

// buildHit renders a hit for a document the provider reported as matching.
// When keepOnMiss is set, a document whose match cannot be reproduced gets a
// naive unhighlighted snippet instead of being dropped, keeping result
// counts stable; otherwise the document is skipped.
func buildHit(doc core.IndexDocument, req core.SearchRequest, snippetLines int, keepOnMiss bool) (core.SearchHit, bool) {
	decoded := query.Decode(req.Query)

	var match *core.MatchResult
	needle := decoded
	if keepOnMiss {
		match, needle = matchWithRetry(doc.Content, req.Mode, decoded)
	} else {
		match = snippet.FindMatch(doc.Content, req.Mode, decoded)
	}

	if match == nil {
		if !keepOnMiss {
			return core.SearchHit{}, false
		}
		naive := snippet.BuildNaive(doc.Content, snippetLines)
		return core.SearchHit{
			FileID:  doc.FileID,
			Path:    doc.Path,
			Line:    doc.OriginalLine(1),
			Snippet: naive.Snippet,
			URL:     doc.URL,
			Blocks:  naive.Blocks,
		}, true
	}

	rendered := snippet.Build(doc.Content, *match, snippetLines, req.Mode, needle)
	return core.SearchHit{
		FileID:  doc.FileID,
		Path:    doc.Path,
		Line:    doc.OriginalLine(match.LineNumber),
		Snippet: rendered.Snippet,
		URL:     doc.URL,
		Blocks:  rendered.Blocks,
	}, true
}

// filtersMatch applies the structured year/source filters to a document.
func filtersMatch(req core.SearchRequest, doc core.IndexDocument) bool {
	if year := req.Filters["year"]; year != "" && year != doc.Year {
		return false
	}
	if source := req.Filters["source"]; source != "" && source != doc.Source {
		return false
	}
	return true
}

// paginate slices hits according to the request's offset and size and fills
// in the pagination metadata shared by the scan-based backends.
func paginate(hits []core.SearchHit, req core.SearchRequest, tookMS int64) *core.SearchResponse {
	total := len(hits)
	offset := req.Offset()

	var page []core.SearchHit
	if offset < total {
		end := offset + req.Size
		if end > total {
			end = total
		}
		page = hits[offset:end]
	}
	if page == nil {
		page = []core.SearchHit{}
	}

	return &core.SearchResponse{
		Hits:           page,
		Total:          total,
		TookProviderMS: tookMS,
		Page:           req.ResolvedPage(),
		Size:           req.Size,
		NextCursor:     core.NextCursor(offset, req.Size, total),
	}
}
