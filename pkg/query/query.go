// Package query validates raw search payloads and compiles them into
// provider-specific query bodies.
//
// Validation is a pure transform: a payload either becomes a
// core.SearchRequest or fails with a ValidationError, before any provider is
// contacted. The compiler also owns the regex safety classifier that decides
// whether a pattern may be handed to the index engine directly or must be
// decomposed into the ngram fallback.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/texgrep/texgrep/pkg/core"
)

const (
	// DefaultPageSize is used when the payload does not specify a size.
	DefaultPageSize = 20

	// MaxPageSize is the provider-independent page size ceiling. Larger
	// requested sizes are clamped, not rejected.
	MaxPageSize = 50

	// MaxQueryLength bounds the query text, counted in runes.
	MaxQueryLength = 256

	// MaxPageOffset bounds page-derived offsets so deep pagination cannot
	// be used to run expensive scans. Cursor-derived offsets are exempt:
	// a cursor encodes an offset that was already validated when issued.
	MaxPageOffset = 5000

	// CompileBudget is the wall-clock budget for regex compilation during
	// validation.
	CompileBudget = 100 * time.Millisecond
)

// ValidationError reports a rejected payload. It always carries a
// human-readable reason and is raised before any provider call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ErrCompileTimeout is returned when regex compilation does not finish
// within CompileBudget.
var ErrCompileTimeout = errors.New("regex compilation timed out")

// Payload is the raw search request as received from the transport layer.
// Page and Size are pointers so that absent values can take defaults while
// explicit invalid values are rejected.
type Payload struct {
	Q       string            `json:"q"`
	Mode    string            `json:"mode"`
	Filters map[string]string `json:"filters"`
	Page    *int              `json:"page"`
	Size    *int              `json:"size"`
	Cursor  string            `json:"cursor"`
}

// ParsePayload validates a raw payload and builds a core.SearchRequest.
// All rejections surface as a *ValidationError; no partial state is created.
func ParsePayload(payload Payload) (core.SearchRequest, error) {
	var req core.SearchRequest

	q := strings.TrimSpace(payload.Q)
	if q == "" {
		return req, validationErrorf("query must not be empty")
	}
	if utf8.RuneCountInString(q) > MaxQueryLength {
		return req, validationErrorf("query too long (max %d characters)", MaxQueryLength)
	}

	mode := core.SearchMode(payload.Mode)
	if mode == "" {
		mode = core.ModeLiteral
	}
	if mode != core.ModeLiteral && mode != core.ModeRegex {
		return req, validationErrorf("unknown mode %q", payload.Mode)
	}

	page := 1
	if payload.Page != nil {
		page = *payload.Page
	}
	if page < 1 {
		return req, validationErrorf("page must be >= 1")
	}

	size := DefaultPageSize
	if payload.Size != nil {
		size = *payload.Size
	}
	if size < 1 {
		return req, validationErrorf("size must be >= 1")
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	if payload.Cursor == "" {
		if offset := (page - 1) * size; offset > MaxPageOffset {
			return req, validationErrorf("page offset %d exceeds the maximum of %d", offset, MaxPageOffset)
		}
	}

	filters := make(map[string]string)
	for _, key := range FilterKeys {
		if v, ok := payload.Filters[key]; ok && v != "" {
			filters[key] = v
		}
	}

	if mode == core.ModeRegex {
		if err := ValidateRegex(q); err != nil {
			return req, err
		}
	}

	return core.SearchRequest{
		Query:   q,
		Mode:    mode,
		Filters: filters,
		Page:    page,
		Size:    size,
		Cursor:  payload.Cursor,
	}, nil
}

// FilterKeys lists the structured filters recognized by the compiler, in the
// order they appear in provider query bodies.
var FilterKeys = []string{"year", "source"}

// ValidateRegex decodes the pattern and attempts to compile it under the
// compile budget. Syntax errors and budget overruns both surface as
// validation errors.
func ValidateRegex(pattern string) error {
	decoded := Decode(pattern)
	if _, err := Compile(decoded); err != nil {
		if errors.Is(err, ErrCompileTimeout) {
			return validationErrorf("regex pattern timed out during validation")
		}
		return validationErrorf("invalid regex: %v", err)
	}
	return nil
}

// Compile compiles a decoded pattern with multiline semantics under
// CompileBudget. Go's regexp engine guarantees linear-time matching, so the
// budget only needs to cover compilation itself; a pattern that cannot be
// compiled in time is rejected rather than truncated.
func Compile(pattern string) (*regexp.Regexp, error) {
	type compiled struct {
		re  *regexp.Regexp
		err error
	}
	ch := make(chan compiled, 1)
	go func() {
		re, err := regexp.Compile("(?m)" + pattern)
		ch <- compiled{re, err}
	}()
	select {
	case c := <-ch:
		return c.re, c.err
	case <-time.After(CompileBudget):
		return nil, ErrCompileTimeout
	}
}

// Decode unescapes backslash escape sequences (\n, \t, \xHH, \uHHHH, ...)
// in the raw query exactly once, uniformly for literal and regex modes.
// Unknown escapes are preserved verbatim so that \newcommand style input
// written as \\newcommand round-trips to a single backslash. A malformed
// escape makes the whole decode fall back to the raw string.
func Decode(raw string) string {
	if !strings.ContainsRune(raw, '\\') {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); {
		c := raw[i]
		if c != '\\' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(raw) {
			b.WriteByte('\\')
			break
		}
		esc := raw[i+1]
		switch esc {
		case 'n':
			b.WriteByte('\n')
			i += 2
		case 't':
			b.WriteByte('\t')
			i += 2
		case 'r':
			b.WriteByte('\r')
			i += 2
		case 'f':
			b.WriteByte('\f')
			i += 2
		case 'v':
			b.WriteByte('\v')
			i += 2
		case 'b':
			b.WriteByte('\b')
			i += 2
		case 'a':
			b.WriteByte('\a')
			i += 2
		case '0', '1', '2', '3', '4', '5', '6', '7':
			// octal escape, up to three digits
			val := 0
			n := 0
			for n < 3 && i+1+n < len(raw) && raw[i+1+n] >= '0' && raw[i+1+n] <= '7' {
				val = val*8 + int(raw[i+1+n]-'0')
				n++
			}
			b.WriteRune(rune(val))
			i += 1 + n
		case '\\':
			b.WriteByte('\\')
			i += 2
		case '\'', '"':
			b.WriteByte(esc)
			i += 2
		case 'x':
			r, n, ok := decodeHex(raw[i+2:], 2)
			if !ok {
				return raw
			}
			b.WriteRune(r)
			i += 2 + n
		case 'u':
			r, n, ok := decodeHex(raw[i+2:], 4)
			if !ok {
				return raw
			}
			b.WriteRune(r)
			i += 2 + n
		case 'U':
			r, n, ok := decodeHex(raw[i+2:], 8)
			if !ok {
				return raw
			}
			b.WriteRune(r)
			i += 2 + n
		default:
			// Unknown escape: keep the backslash and the character.
			b.WriteByte('\\')
			b.WriteByte(esc)
			i += 2
		}
	}
	return b.String()
}

func decodeHex(s string, width int) (rune, int, bool) {
	if len(s) < width {
		return 0, 0, false
	}
	var r rune
	for i := 0; i < width; i++ {
		c := s[i]
		var d rune
		switch {
		case c >= '0' && c <= '9':
			d = rune(c - '0')
		case c >= 'a' && c <= 'f':
			d = rune(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = rune(c-'A') + 10
		default:
			return 0, 0, false
		}
		r = r<<4 | d
	}
	if !utf8.ValidRune(r) {
		return 0, 0, false
	}
	return r, width, true
}

// ToggleBackslash flips the leading backslash of a decoded literal: added
// when absent, stripped when present. LaTeX commands are searched both ways.
func ToggleBackslash(literal string) string {
	if strings.HasPrefix(literal, "\\") {
		return literal[1:]
	}
	return "\\" + literal
}

// NormalizeCommand strips the leading backslash from a command name.
func NormalizeCommand(command string) string {
	return strings.TrimPrefix(command, "\\")
}
