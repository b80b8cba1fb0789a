package entity

import (
	"strings"

	"github.com/agext/levenshtein"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/normalize"
	"github.com/quest-group/content-engine/internal/store"
)

// fuzzyFloor is the minimum name similarity for a fuzzy match
// (equivalent to a normalized edit distance of 0.15).
const fuzzyFloor = 0.85

// LinkResult pairs resolved mentions with the candidates that could not
// be matched. Unresolved candidates are recorded, never linked.
type LinkResult struct {
	Mentions   []model.CompanyMention
	Unresolved []Candidate
}

// Link resolves candidates against the company dictionary using a
// three-pass cascade: exact slug, fuzzy legal name, then domain match.
func Link(candidates []Candidate, refs []store.CompanyRef) LinkResult {
	bySlug := make(map[string]store.CompanyRef, len(refs))
	byDomainBase := make(map[string]store.CompanyRef, len(refs))
	for _, r := range refs {
		bySlug[r.Slug] = r
		if base := domainBase(r.Domain); base != "" {
			byDomainBase[base] = r
		}
	}

	result := LinkResult{}
	linked := make(map[string]bool)

	for _, c := range candidates {
		ref, ok := resolve(c, refs, bySlug, byDomainBase)
		if !ok {
			result.Unresolved = append(result.Unresolved, c)
			continue
		}
		if linked[ref.ID] {
			continue
		}
		linked[ref.ID] = true
		result.Mentions = append(result.Mentions, model.CompanyMention{
			CompanyID: ref.ID,
			Relevance: c.Relevance,
		})
	}
	return result
}

func resolve(c Candidate, refs []store.CompanyRef, bySlug, byDomainBase map[string]store.CompanyRef) (store.CompanyRef, bool) {
	// Pass 1: exact slug.
	if ref, ok := bySlug[c.Slug()]; ok {
		return ref, true
	}

	// Pass 2: fuzzy legal name.
	candidate := normalizeName(c.Name)
	best := store.CompanyRef{}
	bestSim := 0.0
	for _, r := range refs {
		sim := levenshtein.Similarity(candidate, normalizeName(r.LegalName), nil)
		if sim > bestSim {
			bestSim = sim
			best = r
		}
	}
	if bestSim >= fuzzyFloor {
		return best, true
	}

	// Pass 3: domain match on the compacted candidate name.
	compact := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, strings.ToLower(c.Name))
	if ref, ok := byDomainBase[compact]; ok {
		return ref, true
	}

	return store.CompanyRef{}, false
}

// legalSuffixes are the legal-form markers dropped for name comparison.
// The broader extraction hint list (Partners, Holdings, Group) stays:
// those words distinguish one company from another.
var legalSuffixes = []string{"inc", "llc", "ltd", "llp", "gmbh", "ag", "sa", "plc"}

// normalizeName lowercases and drops legal-form suffixes so "Acme Partners
// Inc." and "acme partners" compare equal.
func normalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range legalSuffixes {
		low := " " + suffix
		s = strings.TrimSuffix(strings.TrimSuffix(s, low+"."), low)
	}
	return normalize.Slug(s)
}

func domainBase(domain string) string {
	host := normalize.Host(domain)
	if host == "" {
		host = strings.ToLower(domain)
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}
