package ingest

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestStripComments(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain comment", "text % comment", "text "},
		{"full line comment", "% all comment", ""},
		{"escaped percent kept", `50\% done`, `50\% done`},
		{"escaped then real", `50\% done % note`, `50\% done `},
		{"newlines preserved", "a % x\nb % y\nc", "a \nb \nc"},
		{"no comment", "untouched", "untouched"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripComments(tt.text); got != tt.want {
				t.Errorf("StripComments(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestPreprocessFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.tex")
	content := "\\documentclass{article} % preamble\r\n\\begin{document}\r\n\\frac{1}{2}\r\n\\end{document}\r\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := PreprocessFile(path)
	if err != nil {
		t.Fatalf("PreprocessFile() error = %v", err)
	}

	if strings.Contains(result.Content, "% preamble") {
		t.Errorf("Content = %q, comments not stripped", result.Content)
	}
	if strings.Contains(result.Content, "\r") {
		t.Error("Content contains carriage returns")
	}

	wantCommands := []string{`\begin`, `\documentclass`, `\end`, `\frac`}
	if !reflect.DeepEqual(result.Commands, wantCommands) {
		t.Errorf("Commands = %v, want %v", result.Commands, wantCommands)
	}

	lines := strings.Split(strings.TrimSuffix(result.Content, "\n"), "\n")
	if len(result.LineOffsets) != len(lines) {
		t.Errorf("LineOffsets has %d entries for %d lines", len(result.LineOffsets), len(lines))
	}
	for i, off := range result.LineOffsets {
		if off < 1 {
			t.Errorf("LineOffsets[%d] = %d, want >= 1", i, off)
		}
	}
}

func TestPreprocessFileMissing(t *testing.T) {
	if _, err := PreprocessFile(filepath.Join(t.TempDir(), "absent.tex")); err == nil {
		t.Error("PreprocessFile() expected error for missing file")
	}
}

func TestNormalizeCommands(t *testing.T) {
	got := NormalizeCommands([]string{`\frac`, `\sum`, "frac", "", `\frac`})
	want := []string{"frac", "sum"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeCommands() = %v, want %v", got, want)
	}
}

func TestNormalizeNewlines(t *testing.T) {
	if got := normalizeNewlines("a\r\nb\rc\nd"); got != "a\nb\nc\nd" {
		t.Errorf("normalizeNewlines() = %q", got)
	}
}
