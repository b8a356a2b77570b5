package ingest

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
)

// PreprocessedFile is the result of ingesting one .tex source file.
type PreprocessedFile struct {
	Path string

	// Content is comment-stripped and, when latexpand is available,
	// macro-expanded.
	Content string

	// Commands lists the LaTeX commands found in Content, backslash
	// included, sorted and deduplicated.
	Commands []string

	// LineOffsets maps each line of Content to its original source line.
	LineOffsets []int
}

var commandPattern = regexp.MustCompile(`\\[A-Za-z@]+`)

// PreprocessFile reads, strips and optionally macro-expands a source file,
// then diffs the expanded lines against the original to recover the
// per-line offset mapping.
func PreprocessFile(path string) (*PreprocessedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	originalText := normalizeNewlines(string(raw))
	originalStripped := StripComments(originalText)

	expanded := maybeLatexpand(path, originalText)
	expandedStripped := StripComments(expanded)

	commands := extractCommands(expandedStripped)
	offsets := ComputeLineOffsets(splitLines(originalStripped), splitLines(expandedStripped))

	return &PreprocessedFile{
		Path:        path,
		Content:     expandedStripped,
		Commands:    commands,
		LineOffsets: offsets,
	}, nil
}

// StripComments removes TeX comments: everything from an unescaped % to the
// end of its line. Newlines are preserved so line numbering is unaffected.
func StripComments(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		for j := 0; j < len(line); j++ {
			if line[j] == '%' && (j == 0 || line[j-1] != '\\') {
				lines[i] = line[:j]
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

// maybeLatexpand expands \input/\include and user macros through latexpand
// when the binary is on PATH. Any failure falls back to the unexpanded text;
// expansion is an enhancement, never a requirement.
func maybeLatexpand(path, original string) string {
	bin, err := exec.LookPath("latexpand")
	if err != nil {
		return original
	}
	out, err := exec.Command(bin, "--empty-comments", path).Output()
	if err != nil {
		return original
	}
	return normalizeNewlines(string(out))
}

func extractCommands(content string) []string {
	found := commandPattern.FindAllString(content, -1)
	seen := make(map[string]bool, len(found))
	var commands []string
	for _, cmd := range found {
		if !seen[cmd] {
			seen[cmd] = true
			commands = append(commands, cmd)
		}
	}
	sort.Strings(commands)
	return commands
}

// NormalizeCommands strips the leading backslash from each command and
// deduplicates in first-seen order. Index queries always use the normalized
// form.
func NormalizeCommands(commands []string) []string {
	seen := make(map[string]bool, len(commands))
	var normalized []string
	for _, cmd := range commands {
		if cmd == "" {
			continue
		}
		norm := strings.TrimPrefix(cmd, "\\")
		if seen[norm] {
			continue
		}
		seen[norm] = true
		normalized = append(normalized, norm)
	}
	return normalized
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// splitLines mirrors the line semantics used when offsets are consumed:
// newline-terminated content has no trailing empty line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" && strings.HasSuffix(text, "\n") {
		lines = lines[:len(lines)-1]
	}
	return lines
}
