// Package ocr turns recognizer word boxes into text lines and runs the
// multi-orientation recognition passes over a page.
package ocr

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	iface "FloorAuditServer/interface"
)

const (
	rowBand       = 15.0
	maxLineDY     = 20.0
	maxLineGap    = 60.0
	tightGapRatio = 0.5
	minLineLen    = 2
)

// Assemble groups recognized words into text lines in reading order. Words on
// roughly the same row that sit close together continue a line; fragments
// closer than half a character width are glued without a space. Lines of two
// characters or fewer are dropped.
func Assemble(words []iface.RecognizedWord) []string {
	lines := []string{}
	if len(words) == 0 {
		return lines
	}
	sorted := make([]iface.RecognizedWord, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		dy := sorted[i].BBox.Y0 - sorted[j].BBox.Y0
		if math.Abs(dy) > rowBand {
			return dy < 0
		}
		return sorted[i].BBox.X0 < sorted[j].BBox.X0
	})

	var buf strings.Builder
	flush := func() {
		if line := collapse(buf.String()); utf8.RuneCountInString(line) > minLineLen {
			lines = append(lines, line)
		}
		buf.Reset()
	}

	prev := sorted[0]
	buf.WriteString(prev.Text)
	for _, w := range sorted[1:] {
		dy := math.Abs(w.BBox.Y0 - prev.BBox.Y0)
		gap := w.BBox.X0 - prev.BBox.X1
		if dy < maxLineDY && gap < maxLineGap {
			if gap >= tightGapRatio*charWidth(prev) {
				buf.WriteByte(' ')
			}
			buf.WriteString(w.Text)
		} else {
			flush()
			buf.WriteString(w.Text)
		}
		prev = w
	}
	flush()
	return lines
}

func charWidth(w iface.RecognizedWord) float64 {
	n := utf8.RuneCountInString(w.Text)
	if n < 1 {
		n = 1
	}
	return (w.BBox.X1 - w.BBox.X0) / float64(n)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// MergeAcrossPasses flattens per-pass lines in pass order, keeping the first
// occurrence of each exact string.
func MergeAcrossPasses(passes [][]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, lines := range passes {
		for _, l := range lines {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}
