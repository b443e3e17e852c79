package options

import (
	"regexp"
	"strings"
)

var (
	bracketRe  = regexp.MustCompile(`【(.*?)】`)
	listItemRe = regexp.MustCompile(`^(?:[-*]|\d+\.)\s+(.*)$`)
)

// Parse extracts suggestions from a model response. Text inside 【】 wins;
// when there is none, list items ("- a", "* a", "1. a") are used instead.
// The result is never nil.
func Parse(text string) []string {
	out := []string{}
	for _, m := range bracketRe.FindAllStringSubmatch(text, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := listItemRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if s := strings.TrimSpace(m[1]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Dedupe drops repeated suggestions, keeping the first occurrence.
func Dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
