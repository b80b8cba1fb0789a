package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Topic holds a normalized topic alongside the original string.
type Topic struct {
	Original  string `json:"original"`
	Canonical string `json:"canonical"`
}

// NormalizeTopic trims, strips control characters, collapses internal
// whitespace, and applies Unicode NFKC. The original string is preserved
// for display; the canonical form feeds slug derivation and dedupe.
func NormalizeTopic(s string) Topic {
	canonical := norm.NFKC.String(s)
	canonical = strings.Map(func(r rune) rune {
		// Tabs and newlines are control characters too; they must survive
		// this pass so the whitespace collapse can turn them into spaces.
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, canonical)
	canonical = strings.Join(strings.Fields(canonical), " ")
	return Topic{Original: s, Canonical: canonical}
}

// TopicSlug derives the article slug from a raw topic.
func TopicSlug(s string) string {
	return Slug(NormalizeTopic(s).Canonical)
}
