package snippet

import (
	"html"
	"sort"
	"strings"

	"github.com/texgrep/texgrep/pkg/core"
	"github.com/texgrep/texgrep/pkg/query"
)

// FindMatch locates the first occurrence of the decoded query q in content.
// Literal mode is a substring search; regex mode compiles with multiline
// semantics under the engine's budget and takes the first match, treating a
// budget overrun as a best-effort miss. Returns nil when there is no match.
func FindMatch(content string, mode core.SearchMode, q string) *core.MatchResult {
	var start, end int
	if mode == core.ModeLiteral {
		idx := strings.Index(content, q)
		if idx == -1 {
			return nil
		}
		start, end = idx, idx+len(q)
	} else {
		re, err := query.Compile(q)
		if err != nil {
			return nil
		}
		loc := re.FindStringIndex(content)
		if loc == nil {
			return nil
		}
		start, end = loc[0], loc[1]
	}
	return &core.MatchResult{
		Start:      start,
		End:        end,
		LineNumber: strings.Count(content[:start], "\n") + 1,
	}
}

// Build renders the snippet for a located match: a context window of
// contextLines lines on each side of the match line, extended outward so any
// partially-overlapped math segment is included whole, with highlight spans
// recomputed inside the window. The query q is already decoded.
//
// Build is deterministic: identical inputs yield byte-identical output.
func Build(content string, match core.MatchResult, contextLines int, mode core.SearchMode, q string) core.SnippetResult {
	segments := Split(content)
	lines := SplitLines(content)

	lineIndex := match.LineNumber - 1
	if lineIndex < 0 {
		lineIndex = 0
	}
	startLine := lineIndex - contextLines
	if startLine < 0 {
		startLine = 0
	}
	endLine := lineIndex + contextLines + 1
	if endLine > len(lines) {
		endLine = len(lines)
	}

	snippetStart := offsetForLine(lines, startLine)
	snippetEnd := offsetForLine(lines, endLine)
	if endLine >= len(lines) {
		snippetEnd = len(content)
	}

	snippetStart, snippetEnd = extendToFullSegments(snippetStart, snippetEnd, segments)
	snippetText := content[snippetStart:snippetEnd]

	spans := computeHighlightSpans(snippetText, mode, q)
	if len(spans) == 0 {
		// The original match can sit exactly on a boundary the window
		// later clamped away; recover a single span from its offsets.
		fallbackStart := match.Start - snippetStart
		if fallbackStart < 0 {
			fallbackStart = 0
		}
		fallbackEnd := match.End - snippetStart
		if fallbackEnd > len(snippetText) {
			fallbackEnd = len(snippetText)
		}
		if fallbackEnd > fallbackStart {
			spans = []span{{fallbackStart, fallbackEnd}}
		}
	}

	return core.SnippetResult{
		Snippet: renderTextHighlight(snippetText, spans),
		Blocks:  buildBlocks(content, snippetStart, snippetEnd, segments, spans),
	}
}

// BuildNaive synthesizes an unhighlighted snippet from the first contextLines
// lines of content. Backends use it when a provider reported a match the
// snippet engine cannot reproduce, so result sets never silently shrink.
func BuildNaive(content string, contextLines int) core.SnippetResult {
	lines := SplitLines(content)
	if len(lines) > contextLines {
		lines = lines[:contextLines]
	}
	text := strings.Join(lines, "\n")
	escaped := html.EscapeString(text)
	return core.SnippetResult{
		Snippet: escaped,
		Blocks: []core.SnippetBlock{{
			Kind: core.TextBlock,
			HTML: strings.ReplaceAll(escaped, "\n", "<br />"),
		}},
	}
}

type span struct {
	start int
	end   int
}

// SplitLines splits on newlines without a trailing empty line for
// newline-terminated content, so line arithmetic and offset sums stay
// consistent with the stored line offsets.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" && strings.HasSuffix(content, "\n") {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func offsetForLine(lines []string, targetLine int) int {
	if targetLine > len(lines) {
		targetLine = len(lines)
	}
	offset := 0
	for i := 0; i < targetLine; i++ {
		offset += len(lines[i]) + 1
	}
	return offset
}

// extendToFullSegments widens the window to fully contain every math segment
// it partially overlaps. Truncating a formula mid-expression would break
// client-side rendering and silently drop a highlight.
func extendToFullSegments(snippetStart, snippetEnd int, segments []Segment) (int, int) {
	extStart, extEnd := snippetStart, snippetEnd
	for _, seg := range segments {
		if seg.Kind == KindMath && seg.End > snippetStart && seg.Start < snippetEnd {
			if seg.Start < extStart {
				extStart = seg.Start
			}
			if seg.End > extEnd {
				extEnd = seg.End
			}
		}
	}
	if extEnd < extStart {
		extEnd = extStart
	}
	return extStart, extEnd
}

// computeHighlightSpans finds every highlightable occurrence inside the
// windowed snippet text: all non-overlapping occurrences of the needle in
// literal mode, all non-empty regex matches otherwise.
func computeHighlightSpans(snippetText string, mode core.SearchMode, q string) []span {
	if snippetText == "" {
		return nil
	}
	if mode == core.ModeLiteral {
		if q == "" {
			return nil
		}
		var spans []span
		for start := 0; ; {
			idx := strings.Index(snippetText[start:], q)
			if idx == -1 {
				break
			}
			abs := start + idx
			spans = append(spans, span{abs, abs + len(q)})
			start = abs + len(q)
		}
		return spans
	}

	re, err := query.Compile(q)
	if err != nil {
		return nil
	}
	var spans []span
	for _, loc := range re.FindAllStringIndex(snippetText, -1) {
		if loc[1] > loc[0] {
			spans = append(spans, span{loc[0], loc[1]})
		}
	}
	return spans
}

// buildBlocks renders one block per segment intersecting the window. Text
// segments become escaped HTML with <mark> highlights; math segments keep
// their TeX verbatim, wrapping highlighted spans in \class{mjx-hl}{...} so
// the block remains renderable TeX.
func buildBlocks(content string, snippetStart, snippetEnd int, segments []Segment, highlights []span) []core.SnippetBlock {
	var blocks []core.SnippetBlock
	for _, seg := range segments {
		if seg.End <= snippetStart || seg.Start >= snippetEnd {
			continue
		}
		blockStart := seg.Start
		if blockStart < snippetStart {
			blockStart = snippetStart
		}
		blockEnd := seg.End
		if blockEnd > snippetEnd {
			blockEnd = snippetEnd
		}
		blockText := content[blockStart:blockEnd]
		blockOffset := blockStart - snippetStart

		if seg.Kind == KindText {
			spans := relativeSpans(blockOffset, len(blockText), highlights)
			htmlContent := renderTextHighlight(blockText, spans)
			blocks = append(blocks, core.SnippetBlock{
				Kind: core.TextBlock,
				HTML: strings.ReplaceAll(htmlContent, "\n", "<br />"),
			})
			continue
		}

		prefixLen := seg.PrefixLen - (blockStart - seg.Start)
		if prefixLen < 0 {
			prefixLen = 0
		}
		suffixLen := seg.SuffixLen - (seg.End - blockEnd)
		if suffixLen < 0 {
			suffixLen = 0
		}
		end := len(blockText) - suffixLen
		if end == 0 {
			end = len(blockText)
		}
		if prefixLen > end {
			prefixLen = end
		}
		mathContent := blockText[prefixLen:end]
		spans := relativeSpans(blockOffset+prefixLen, len(mathContent), highlights)
		blocks = append(blocks, core.SnippetBlock{
			Kind:    core.MathBlock,
			Tex:     renderMathHighlight(mathContent, spans),
			Display: seg.Display,
			Marked:  len(spans) > 0,
		})
	}
	return blocks
}

// relativeSpans projects window-level highlight spans into a block's local
// coordinates, dropping anything that does not intersect.
func relativeSpans(blockOffset, blockLength int, highlights []span) []span {
	blockEnd := blockOffset + blockLength
	var result []span
	for _, hl := range highlights {
		localStart := hl.start
		if localStart < blockOffset {
			localStart = blockOffset
		}
		localEnd := hl.end
		if localEnd > blockEnd {
			localEnd = blockEnd
		}
		if localEnd > localStart {
			result = append(result, span{localStart - blockOffset, localEnd - blockOffset})
		}
	}
	return result
}

func sortedSpans(spans []span) []span {
	valid := make([]span, 0, len(spans))
	for _, s := range spans {
		if s.end > s.start {
			valid = append(valid, s)
		}
	}
	sort.Slice(valid, func(i, j int) bool {
		if valid[i].start != valid[j].start {
			return valid[i].start < valid[j].start
		}
		return valid[i].end < valid[j].end
	})
	return valid
}

// renderTextHighlight produces HTML with <mark> around highlighted spans,
// escaping everything else.
func renderTextHighlight(text string, spans []span) string {
	ordered := sortedSpans(spans)
	if len(ordered) == 0 {
		return html.EscapeString(text)
	}
	var b strings.Builder
	cursor := 0
	for _, s := range ordered {
		if s.end <= cursor {
			continue
		}
		if s.start < cursor {
			s.start = cursor
		}
		if s.start > cursor {
			b.WriteString(html.EscapeString(text[cursor:s.start]))
		}
		b.WriteString("<mark>")
		b.WriteString(html.EscapeString(text[s.start:s.end]))
		b.WriteString("</mark>")
		cursor = s.end
	}
	if cursor < len(text) {
		b.WriteString(html.EscapeString(text[cursor:]))
	}
	return b.String()
}

// renderMathHighlight wraps highlighted spans in \class{mjx-hl}{...},
// keeping the output valid TeX.
func renderMathHighlight(tex string, spans []span) string {
	ordered := sortedSpans(spans)
	if len(ordered) == 0 {
		return tex
	}
	var b strings.Builder
	cursor := 0
	for _, s := range ordered {
		if s.end <= cursor {
			continue
		}
		if s.start < cursor {
			s.start = cursor
		}
		if s.start > cursor {
			b.WriteString(tex[cursor:s.start])
		}
		b.WriteString(`\class{mjx-hl}{`)
		b.WriteString(tex[s.start:s.end])
		b.WriteString("}")
		cursor = s.end
	}
	if cursor < len(tex) {
		b.WriteString(tex[cursor:])
	}
	return b.String()
}
