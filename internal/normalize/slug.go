// Package normalize derives deterministic canonical forms: slugs, URLs,
// and topic strings. Every function here is idempotent so the same input
// always maps to the same idempotency handle.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLen caps derived slugs.
const MaxSlugLen = 100

// foldDiacritics decomposes to NFD, strips combining marks, then recomposes.
var foldDiacritics = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Slug derives a URL-safe key from free text: diacritic-fold, lowercase,
// non-alphanumerics to '-', collapse runs, trim, truncate to MaxSlugLen.
// Slug(Slug(x)) == Slug(x).
func Slug(s string) string {
	folded, _, err := transform.String(foldDiacritics, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	prevDash := true // leading dashes are trimmed
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevDash = false
			continue
		}
		if !prevDash {
			b.WriteByte('-')
			prevDash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > MaxSlugLen {
		out = strings.TrimRight(out[:MaxSlugLen], "-")
	}
	return out
}

// DomainSlug derives a company slug from a host name, dropping the
// public-suffix tail so "acme.co.uk" and "acme.com" both slug to "acme".
func DomainSlug(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return Slug(host)
}
