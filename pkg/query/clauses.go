package query

import (
	"strings"

	"github.com/texgrep/texgrep/pkg/core"
)

const (
	// SafeRegexMaxLen is the longest pattern the index engine is allowed
	// to execute directly.
	SafeRegexMaxLen = 64

	// minTokenLen is the token length below which a token is emitted as a
	// single gram instead of being decomposed.
	minTokenLen = 2

	// maxGramLen caps individual gram length, matching the ngram analyzer
	// configured on the content field.
	maxGramLen = 15

	// maxUniqueGrams caps how many grams one pattern may contribute.
	maxUniqueGrams = 20
)

const safeMetaChars = "[](){}|"

// BuildSearchBody compiles a validated request into the index engine's query
// body: a bool query with exactly one must clause, zero or more exact-term
// filters, and a highlight directive. The engine's highlighter output is only
// a secondary signal; the authoritative highlight is computed by the snippet
// engine.
func BuildSearchBody(req core.SearchRequest) map[string]any {
	var must map[string]any
	if req.Mode == core.ModeLiteral {
		must = literalClause(req.Query)
	} else {
		must = regexClause(req.Query)
	}
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must":   []any{must},
				"filter": buildFilters(req.Filters),
			},
		},
		"highlight": highlightDefinition(),
	}
}

// literalClause builds a disjunction covering the ways a LaTeX command is
// typically searched: the exact phrase, the phrase with the leading backslash
// toggled, the normalized command term, and a prefix match against the
// edge-ngram command field.
func literalClause(rawQuery string) map[string]any {
	literal := Decode(rawQuery)
	norm := NormalizeCommand(literal)

	should := []any{
		map[string]any{"match_phrase": map[string]any{"content": map[string]any{"query": literal}}},
	}
	if alt := ToggleBackslash(literal); alt != literal {
		should = append(should,
			map[string]any{"match_phrase": map[string]any{"content": map[string]any{"query": alt}}})
	}
	should = append(should,
		map[string]any{"term": map[string]any{"commands": norm}},
		map[string]any{"match": map[string]any{"commands.prefix": map[string]any{"query": norm, "operator": "and"}}},
	)

	return map[string]any{
		"bool": map[string]any{
			"should":               should,
			"minimum_should_match": 1,
		},
	}
}

func regexClause(rawPattern string) map[string]any {
	decoded := Decode(rawPattern)
	if IsSafeRegex(decoded) {
		return map[string]any{"regexp": map[string]any{"content": map[string]any{"value": decoded}}}
	}
	return ngramClause(decoded)
}

// IsSafeRegex reports whether a decoded pattern may be handed to the index
// engine's own regex execution. Anything else is routed through the ngram
// fallback, bounding regex-DoS exposure while preserving fuzzy recall.
func IsSafeRegex(pattern string) bool {
	if len([]rune(pattern)) > SafeRegexMaxLen {
		return false
	}
	if strings.HasPrefix(pattern, ".*") || strings.HasSuffix(pattern, ".*") {
		return false
	}
	if strings.ContainsAny(pattern, safeMetaChars) {
		return false
	}
	return !hasUnescapedQuantifier(pattern)
}

func hasUnescapedQuantifier(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '+', '?', '*':
			if i == 0 || pattern[i-1] != '\\' {
				return true
			}
		}
	}
	return false
}

// ngramClause decomposes an unsafe pattern into an all-must conjunction of
// short literal substrings. An empty gram set degenerates to match-everything.
func ngramClause(pattern string) map[string]any {
	grams := collectNgrams(pattern)
	if len(grams) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	must := make([]any, 0, len(grams))
	for _, gram := range grams {
		must = append(must, map[string]any{"term": map[string]any{"content.ngram": gram}})
	}
	return map[string]any{"bool": map[string]any{"must": must}}
}

// collectNgrams strips regex syntax down to a literal skeleton and emits
// every contiguous substring of length 2..min(len,15) per whitespace token,
// short tokens whole, deduplicated in first-seen order and capped.
func collectNgrams(pattern string) []string {
	literal := stripRegexSyntax(pattern)

	seen := make(map[string]bool)
	var unique []string
	add := func(gram string) bool {
		if seen[gram] {
			return true
		}
		seen[gram] = true
		unique = append(unique, gram)
		return len(unique) < maxUniqueGrams
	}

	for _, token := range strings.Fields(literal) {
		runes := []rune(token)
		if len(runes) <= minTokenLen {
			if !add(token) {
				return unique
			}
			continue
		}
		maxLen := len(runes)
		if maxLen > maxGramLen {
			maxLen = maxGramLen
		}
		for size := 2; size <= maxLen; size++ {
			for start := 0; start+size <= len(runes); start++ {
				if !add(string(runes[start : start+size])) {
					return unique
				}
			}
		}
	}
	return unique
}

// stripRegexSyntax replaces unescaped regex metacharacters with spaces while
// keeping escaped characters, producing the literal skeleton used for gram
// collection.
func stripRegexSyntax(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	escape := false
	for _, char := range pattern {
		if escape {
			b.WriteRune(char)
			escape = false
			continue
		}
		if char == '\\' {
			b.WriteRune('\\')
			escape = true
			continue
		}
		if strings.ContainsRune(".*+?[](){}|", char) {
			b.WriteRune(' ')
		} else {
			b.WriteRune(char)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func highlightDefinition() map[string]any {
	return map[string]any{
		"pre_tags":  []any{"<mark>"},
		"post_tags": []any{"</mark>"},
		"fields": map[string]any{
			"content": map[string]any{
				"type":                "fvh",
				"number_of_fragments": 0,
			},
		},
	}
}

func buildFilters(filters map[string]string) []any {
	clauses := make([]any, 0, len(filters))
	for _, key := range FilterKeys {
		if value := filters[key]; value != "" {
			clauses = append(clauses, map[string]any{"term": map[string]any{key: value}})
		}
	}
	return clauses
}
