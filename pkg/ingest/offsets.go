// Package ingest turns a LaTeX source corpus into indexable documents:
// comment stripping, optional macro expansion through latexpand, command
// extraction, and the line-offset mapping that lets query-time hits report
// original source line numbers.
package ingest

import (
	"github.com/pmezard/go-difflib/difflib"
)

// ComputeLineOffsets aligns the lines of a processed (macro-expanded)
// document back to the original source. The result has one entry per
// processed line holding the 1-based original line number.
//
// Equal diff runs map 1:1. Lines inside inserted or replaced runs are
// attributed to the original line immediately preceding the run, clamped to
// >= 1: content introduced by a macro belongs to the line that invoked it,
// not to an arbitrary downstream line. The mapping runs once at ingest and
// is persisted with the document; query-time correction is an array lookup.
func ComputeLineOffsets(original, processed []string) []int {
	if len(processed) == 0 {
		return nil
	}

	matcher := difflib.NewMatcherWithJunk(original, processed, false, nil)
	offsets := make([]int, len(processed))
	for _, op := range matcher.GetOpCodes() {
		if op.Tag == 'e' {
			for j := op.J1; j < op.J2; j++ {
				offsets[j] = op.I1 + (j - op.J1) + 1
			}
			continue
		}
		fallback := 1
		if len(original) > 0 {
			fallback = op.I1 + 1
			if fallback > len(original) {
				fallback = len(original)
			}
		}
		if fallback < 1 {
			fallback = 1
		}
		for j := op.J1; j < op.J2; j++ {
			offsets[j] = fallback
		}
	}
	return offsets
}
