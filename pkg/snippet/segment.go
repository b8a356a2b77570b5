// Package snippet reconstructs highlighted snippets from matching documents.
//
// It has two halves: a structural segmenter that partitions LaTeX content
// into text, math and verbatim runs, and a snippet engine that windows
// context around a match, extends the window so math is never truncated
// mid-expression, and renders per-segment highlighted blocks.
package snippet

import (
	"regexp"
	"strings"
)

// SegmentKind classifies a segment. Verbatim runs are deliberately classified
// as text: their content must render literally, never as TeX.
type SegmentKind string

const (
	KindText SegmentKind = "text"
	KindMath SegmentKind = "math"
)

// Segment is a half-open [Start,End) span over the document. For math
// segments PrefixLen and SuffixLen give the delimiter lengths stripped before
// rendering (2 for \[...\], 1 for $...$, 0 for environments whose markers
// stay part of the rendered TeX).
type Segment struct {
	Kind      SegmentKind
	Start     int
	End       int
	PrefixLen int
	SuffixLen int
	Display   bool
}

var mathEnvironments = map[string]bool{
	"equation": true, "equation*": true,
	"align": true, "align*": true,
	"gather": true, "gather*": true,
	"multline": true, "multline*": true,
	"flalign": true, "flalign*": true,
}

var verbatimEnvironments = map[string]bool{
	"verbatim":     true,
	"lstlisting":   true,
	"minted":       true,
	"filecontents": true,
}

// Split partitions content into ordered, non-overlapping segments covering
// [0, len(content)) exactly; text fills every gap between structured runs.
// The scan is a single left-to-right cursor testing, in priority order:
// inline \verb, verbatim-class environments, math-class environments,
// \[...\] and \(...\) delimiters, then $$ and $ with escape-parity checks.
// Unterminated constructs fail open into plain text.
func Split(content string) []Segment {
	var segments []Segment
	length := len(content)
	pos := 0
	textStart := 0

	flushText := func(end int) {
		if textStart < end {
			segments = append(segments, Segment{Kind: KindText, Start: textStart, End: end})
		}
	}

	for pos < length {
		if strings.HasPrefix(content[pos:], `\verb`) {
			if verbEnd, ok := extractVerb(content, pos); ok {
				flushText(pos)
				segments = append(segments, Segment{Kind: KindText, Start: pos, End: verbEnd})
				pos = verbEnd
				textStart = pos
				continue
			}
		}

		if strings.HasPrefix(content[pos:], `\begin{`) {
			if name, nameEnd, ok := readEnvironmentName(content, pos+len(`\begin{`)); ok {
				if envClose, found := findEnvironmentEnd(content, name, nameEnd); found {
					if verbatimEnvironments[name] {
						flushText(pos)
						segments = append(segments, Segment{Kind: KindText, Start: pos, End: envClose})
						pos = envClose
						textStart = pos
						continue
					}
					if mathEnvironments[name] {
						flushText(pos)
						segments = append(segments, Segment{
							Kind:    KindMath,
							Start:   pos,
							End:     envClose,
							Display: true,
						})
						pos = envClose
						textStart = pos
						continue
					}
				}
			}
		}

		if strings.HasPrefix(content[pos:], `\[`) {
			if closing, ok := findMathDelimiter(content, pos, `\[`, `\]`); ok {
				flushText(pos)
				segments = append(segments, Segment{
					Kind: KindMath, Start: pos, End: closing,
					PrefixLen: 2, SuffixLen: 2, Display: true,
				})
				pos = closing
				textStart = pos
				continue
			}
		}

		if strings.HasPrefix(content[pos:], `\(`) {
			if closing, ok := findMathDelimiter(content, pos, `\(`, `\)`); ok {
				flushText(pos)
				segments = append(segments, Segment{
					Kind: KindMath, Start: pos, End: closing,
					PrefixLen: 2, SuffixLen: 2,
				})
				pos = closing
				textStart = pos
				continue
			}
		}

		if strings.HasPrefix(content[pos:], "$$") && !isEscaped(content, pos) {
			if closing, ok := findDoubleDollar(content, pos); ok {
				flushText(pos)
				segments = append(segments, Segment{
					Kind: KindMath, Start: pos, End: closing,
					PrefixLen: 2, SuffixLen: 2, Display: true,
				})
				pos = closing
				textStart = pos
				continue
			}
		}

		if content[pos] == '$' && !isEscaped(content, pos) {
			if closing, ok := findSingleDollar(content, pos); ok {
				flushText(pos)
				segments = append(segments, Segment{
					Kind: KindMath, Start: pos, End: closing,
					PrefixLen: 1, SuffixLen: 1,
				})
				pos = closing
				textStart = pos
				continue
			}
		}

		pos++
	}

	flushText(length)
	return segments
}

// extractVerb consumes \verb<delim>...<delim> (optionally starred). The
// delimiter is the first character after the command; a newline delimiter or
// a missing terminator fails open.
func extractVerb(text string, start int) (int, bool) {
	pos := start + len(`\verb`)
	if pos < len(text) && text[pos] == '*' {
		pos++
	}
	if pos >= len(text) {
		return 0, false
	}
	delimiter := text[pos]
	if delimiter == '\n' {
		return 0, false
	}
	pos++
	end := strings.IndexByte(text[pos:], delimiter)
	if end == -1 {
		return 0, false
	}
	return pos + end + 1, true
}

func readEnvironmentName(text string, start int) (string, int, bool) {
	end := strings.IndexByte(text[start:], '}')
	if end == -1 {
		return "", start, false
	}
	name := strings.TrimSpace(text[start : start+end])
	if name == "" {
		return "", start, false
	}
	return name, start + end + 1, true
}

// findEnvironmentEnd scans forward for the \end{name} balancing the opening
// \begin{name}, tracking nesting depth so inner environments of the same
// name stay balanced. LaTeX environments do not nest semantically beyond
// name-matched balance, so a depth counter is sufficient.
func findEnvironmentEnd(text, name string, pos int) (int, bool) {
	pattern := regexp.MustCompile(`\\(begin|end)\{` + regexp.QuoteMeta(name) + `\}`)
	depth := 1
	for {
		loc := pattern.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			return 0, false
		}
		kind := text[pos+loc[2] : pos+loc[3]]
		matchEnd := pos + loc[1]
		if kind == "begin" {
			depth++
		} else {
			depth--
			if depth == 0 {
				return matchEnd, true
			}
		}
		pos = matchEnd
	}
}

func findMathDelimiter(text string, start int, opening, closing string) (int, bool) {
	pos := start + len(opening)
	for {
		idx := strings.Index(text[pos:], closing)
		if idx == -1 {
			return 0, false
		}
		abs := pos + idx
		if !isEscaped(text, abs) {
			return abs + len(closing), true
		}
		pos = abs + len(closing)
	}
}

func findDoubleDollar(text string, start int) (int, bool) {
	pos := start + 2
	for {
		idx := strings.Index(text[pos:], "$$")
		if idx == -1 {
			return 0, false
		}
		abs := pos + idx
		if !isEscaped(text, abs) {
			return abs + 2, true
		}
		pos = abs + 2
	}
}

func findSingleDollar(text string, start int) (int, bool) {
	pos := start + 1
	for {
		idx := strings.IndexByte(text[pos:], '$')
		if idx == -1 {
			return 0, false
		}
		abs := pos + idx
		if !isEscaped(text, abs) {
			return abs + 1, true
		}
		pos = abs + 1
	}
}

// isEscaped computes escape parity by counting the consecutive backslashes
// immediately preceding index.
func isEscaped(text string, index int) bool {
	backslashes := 0
	for i := index - 1; i >= 0 && text[i] == '\\'; i-- {
		backslashes++
	}
	return backslashes%2 == 1
}
