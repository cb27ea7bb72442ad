// Package rooms picks room labels out of recognized text lines.
package rooms

import (
	"strings"
	"unicode/utf8"
)

// DefaultKeywords are lower-case substrings that mark a line as a room or
// space label on residential and hospital plans. Abbreviations like "w.c."
// and "el-" match inside longer strings.
var DefaultKeywords = []string{
	"bedroom", "kitchen", "bathroom", "toilet", "living", "dining",
	"office", "storage", "utility", "garage", "balcony", "hall",
	"entry", "foyer", "lobby", "corridor", "pantry", "laundry",
	"stair", "staircase", "stairwell", "lift", "elevator", "exit", "exe",
	"v.c.", "w.c.", "st-", "fhc", "el-",
	"x-ray", "mri", "ultra", "sound", "er", "emergency", "waiting", "patient", "clinic", "exam", "consult", "cabin",
	"intensive care", "icu", "ward", "ot", "operation", "pharmacy", "lab",
}

// Identify returns the lines that contain any keyword, in input order and
// without exact duplicates. Matching is case-insensitive; the original
// casing is kept in the output.
func Identify(lines, keywords []string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))
		if utf8.RuneCountInString(lower) < 2 || !containsAny(lower, keywords) {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(s, k) {
			return true
		}
	}
	return false
}
