package query

import (
	"reflect"
	"strings"
	"testing"

	"github.com/texgrep/texgrep/pkg/core"
)

func TestIsSafeRegex(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    bool
	}{
		{"plain literal", `newcommand`, true},
		{"escaped quantifier", `a\+b`, true},
		{"leading wildcard", `.*frac`, false},
		{"trailing wildcard", `frac.*`, false},
		{"star quantifier", `fra*c`, false},
		{"plus quantifier", `fra+c`, false},
		{"optional quantifier", `fra?c`, false},
		{"quantifier at start", `+frac`, false},
		{"character class", `[abc]`, false},
		{"grouping", `(frac)`, false},
		{"alternation", `a|b`, false},
		{"too long", strings.Repeat("a", SafeRegexMaxLen+1), false},
		{"exactly max length", strings.Repeat("a", SafeRegexMaxLen), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSafeRegex(tt.pattern); got != tt.want {
				t.Errorf("IsSafeRegex(%q) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestHasUnescapedQuantifierBackslashParity(t *testing.T) {
	// only the immediately preceding byte counts, an even run of
	// backslashes before a quantifier still reads as escaped
	if hasUnescapedQuantifier(`a\\+`) {
		t.Error(`a\\+ treated as unescaped`)
	}
	if !hasUnescapedQuantifier(`a+`) {
		t.Error("a+ not detected")
	}
}

func TestStripRegexSyntax(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{`a|b`, "a b"},
		{`\frac.*x`, `\frac x`},
		{`foo(bar)?baz`, "foo bar baz"},
		{`a\.b`, `a.b`},
		{"  spaced   out  ", "spaced out"},
	}
	for _, tt := range tests {
		if got := stripRegexSyntax(tt.pattern); got != tt.want {
			t.Errorf("stripRegexSyntax(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestCollectNgrams(t *testing.T) {
	t.Run("short tokens kept whole", func(t *testing.T) {
		got := collectNgrams("a|b")
		want := []string{"a", "b"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("collectNgrams(a|b) = %v, want %v", got, want)
		}
	})

	t.Run("substring decomposition", func(t *testing.T) {
		got := collectNgrams("abc")
		want := []string{"ab", "bc", "abc"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("collectNgrams(abc) = %v, want %v", got, want)
		}
	})

	t.Run("dedupe keeps first occurrence", func(t *testing.T) {
		got := collectNgrams("aa aa")
		want := []string{"aa"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("collectNgrams(aa aa) = %v, want %v", got, want)
		}
	})

	t.Run("gram cap", func(t *testing.T) {
		got := collectNgrams("abcdefghijklmnopqrstuvwxyz")
		if len(got) != maxUniqueGrams {
			t.Errorf("len = %d, want %d", len(got), maxUniqueGrams)
		}
	})

	t.Run("gram length cap", func(t *testing.T) {
		long := strings.Repeat("x", 30) + "y"
		for _, gram := range collectNgrams(long) {
			if n := len([]rune(gram)); n > maxGramLen {
				t.Errorf("gram %q has length %d, cap is %d", gram, n, maxGramLen)
			}
		}
	})
}

func TestBuildSearchBodyLiteral(t *testing.T) {
	req := core.SearchRequest{
		Query:   `\\newcommand`,
		Mode:    core.ModeLiteral,
		Filters: map[string]string{"year": "2020"},
		Page:    1,
		Size:    20,
	}
	body := BuildSearchBody(req)

	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	must := boolQuery["must"].([]any)
	if len(must) != 1 {
		t.Fatalf("must has %d clauses, want 1", len(must))
	}

	should := must[0].(map[string]any)["bool"].(map[string]any)["should"].([]any)
	if len(should) != 4 {
		t.Fatalf("should has %d clauses, want 4 (phrase, toggled phrase, term, prefix)", len(should))
	}

	phrase := should[0].(map[string]any)["match_phrase"].(map[string]any)["content"].(map[string]any)
	if phrase["query"] != `\newcommand` {
		t.Errorf("first phrase = %q, want decoded \\newcommand", phrase["query"])
	}
	toggled := should[1].(map[string]any)["match_phrase"].(map[string]any)["content"].(map[string]any)
	if toggled["query"] != "newcommand" {
		t.Errorf("toggled phrase = %q, want newcommand", toggled["query"])
	}
	term := should[2].(map[string]any)["term"].(map[string]any)
	if term["commands"] != "newcommand" {
		t.Errorf("commands term = %q, want newcommand", term["commands"])
	}

	filter := boolQuery["filter"].([]any)
	if len(filter) != 1 {
		t.Fatalf("filter has %d clauses, want 1", len(filter))
	}
	yearTerm := filter[0].(map[string]any)["term"].(map[string]any)
	if yearTerm["year"] != "2020" {
		t.Errorf("year filter = %v", yearTerm)
	}

	highlight := body["highlight"].(map[string]any)
	content := highlight["fields"].(map[string]any)["content"].(map[string]any)
	if content["number_of_fragments"] != 0 {
		t.Errorf("number_of_fragments = %v, want 0", content["number_of_fragments"])
	}
}

func TestBuildSearchBodyRegexSafe(t *testing.T) {
	req := core.SearchRequest{Query: "newcommand", Mode: core.ModeRegex, Page: 1, Size: 20}
	body := BuildSearchBody(req)

	must := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	regexp := must[0].(map[string]any)["regexp"]
	if regexp == nil {
		t.Fatal("safe pattern should produce a regexp clause")
	}
}

func TestBuildSearchBodyRegexUnsafe(t *testing.T) {
	req := core.SearchRequest{Query: "frac.*tion", Mode: core.ModeRegex, Page: 1, Size: 20}
	body := BuildSearchBody(req)

	must := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	clause := must[0].(map[string]any)
	if _, hasRegexp := clause["regexp"]; hasRegexp {
		t.Fatal("unsafe pattern must not produce a regexp clause")
	}
	inner := clause["bool"].(map[string]any)["must"].([]any)
	if len(inner) == 0 {
		t.Fatal("ngram clause is empty")
	}
	for _, c := range inner {
		if _, ok := c.(map[string]any)["term"].(map[string]any)["content.ngram"]; !ok {
			t.Errorf("unexpected ngram clause shape: %v", c)
		}
	}
}

func TestBuildSearchBodyRegexNoGrams(t *testing.T) {
	req := core.SearchRequest{Query: ".*", Mode: core.ModeRegex, Page: 1, Size: 20}
	body := BuildSearchBody(req)

	must := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	if _, ok := must[0].(map[string]any)["match_all"]; !ok {
		t.Error("pattern with no literal skeleton should degrade to match_all")
	}
}
