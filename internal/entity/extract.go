// Package entity extracts organization mentions from article bodies and
// resolves them against the company store.
package entity

import (
	"sort"
	"strings"

	"github.com/quest-group/content-engine/internal/normalize"
)

// Candidate is one potential organization mention with its evidence.
type Candidate struct {
	Name        string
	Frequency   int
	FirstOffset int
	// InIntro is true when the first mention falls in the opening of the
	// article, InHeading when any mention sits on an H2/H3 line.
	InIntro   bool
	InHeading bool
	// CoMentions counts paragraphs shared with other candidates.
	CoMentions int
	Relevance  float64
}

// MinRelevance is the floor below which candidates are discarded.
const MinRelevance = 0.3

// introWindow is how far into the body a mention still counts as "intro".
const introWindow = 600

// corporateSuffixes mark capitalized phrases that are almost certainly
// organization names.
var corporateSuffixes = []string{
	"Inc", "Inc.", "LLC", "Ltd", "Ltd.", "LLP", "GmbH", "AG", "SA", "PLC",
	"Group", "Partners", "Capital", "Advisors", "Advisory", "Consulting",
	"Holdings", "Ventures", "Associates",
}

// stopPhrases are capitalized phrases that look like names but never are.
var stopPhrases = map[string]bool{
	"United States": true, "European Union": true, "New York": true,
	"United Kingdom": true, "Middle East": true, "North America": true,
	"South America": true, "Digital Nomad": true, "Golden Visa": true,
}

// Extract finds organization candidates in a markdown body. Dictionary
// names are matched first; a capitalized-phrase heuristic catches
// organizations the store has not seen yet. Results are scored and
// filtered to MinRelevance, ordered by relevance then first mention.
func Extract(body string, dictionary []string) []Candidate {
	byName := make(map[string]*Candidate)

	collect := func(name string, offset int) {
		key := strings.ToLower(name)
		c, ok := byName[key]
		if !ok {
			c = &Candidate{Name: name, FirstOffset: offset}
			byName[key] = c
		}
		c.Frequency++
		if offset < c.FirstOffset {
			c.FirstOffset = offset
		}
		if c.FirstOffset < introWindow {
			c.InIntro = true
		}
	}

	lowerBody := strings.ToLower(body)
	for _, name := range dictionary {
		if name == "" {
			continue
		}
		lowerName := strings.ToLower(name)
		for at := 0; ; {
			i := strings.Index(lowerBody[at:], lowerName)
			if i < 0 {
				break
			}
			collect(name, at+i)
			at += i + len(lowerName)
		}
	}

	for _, m := range capitalizedPhrases(body) {
		if stopPhrases[m.text] {
			continue
		}
		collect(m.text, m.offset)
	}

	markHeadings(body, byName)
	markCoMentions(body, byName)

	var out []Candidate
	for _, c := range byName {
		c.Relevance = score(c)
		if c.Relevance >= MinRelevance {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].FirstOffset < out[j].FirstOffset
	})
	return out
}

// score combines frequency, position, and co-mention context into [0,1].
// Frequency dominates; intro/heading placement and co-mentions add fixed
// boosts.
func score(c *Candidate) float64 {
	s := 0.15 * float64(c.Frequency)
	if s > 0.6 {
		s = 0.6
	}
	if c.InIntro {
		s += 0.2
	}
	if c.InHeading {
		s += 0.15
	}
	if c.CoMentions > 0 {
		s += 0.1
	}
	if s > 1 {
		s = 1
	}
	return s
}

type phraseMatch struct {
	text   string
	offset int
}

// capitalizedPhrases scans for runs of two or more capitalized words, or a
// single capitalized word followed by a corporate suffix.
func capitalizedPhrases(body string) []phraseMatch {
	var out []phraseMatch
	words := strings.Fields(body)
	offset := 0
	offsets := make([]int, len(words))
	for i, w := range words {
		idx := strings.Index(body[offset:], w)
		if idx >= 0 {
			offsets[i] = offset + idx
			offset = offsets[i] + len(w)
		} else {
			offsets[i] = offset
		}
	}

	isCap := func(w string) bool {
		w = strings.TrimLeft(w, "([\"'")
		return len(w) > 1 && w[0] >= 'A' && w[0] <= 'Z' && strings.ToLower(w[1:]) == w[1:]
	}

	for i := 0; i < len(words); i++ {
		if !isCap(words[i]) {
			continue
		}
		j := i
		for j+1 < len(words) && (isCap(words[j+1]) || isSuffix(words[j+1])) {
			j++
		}
		if j > i || (j+1 < len(words) && isSuffix(words[j+1])) {
			phrase := strings.Join(words[i:j+1], " ")
			phrase = strings.Trim(phrase, ".,;:()[]\"'")
			if len(strings.Fields(phrase)) >= 2 || isSuffix(lastWord(phrase)) {
				out = append(out, phraseMatch{text: phrase, offset: offsets[i]})
			}
		}
		i = j
	}
	return out
}

func isSuffix(w string) bool {
	w = strings.Trim(w, ".,;:()[]\"'")
	for _, s := range corporateSuffixes {
		if strings.EqualFold(w, s) {
			return true
		}
	}
	return false
}

func lastWord(phrase string) string {
	fields := strings.Fields(phrase)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// markHeadings flags candidates that appear on H2/H3 lines.
func markHeadings(body string, byName map[string]*Candidate) {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "## ") && !strings.HasPrefix(trimmed, "### ") {
			continue
		}
		lower := strings.ToLower(trimmed)
		for key, c := range byName {
			if strings.Contains(lower, key) {
				c.InHeading = true
			}
		}
	}
}

// markCoMentions counts, per candidate, paragraphs it shares with another
// candidate.
func markCoMentions(body string, byName map[string]*Candidate) {
	for _, para := range strings.Split(body, "\n\n") {
		lower := strings.ToLower(para)
		var present []*Candidate
		for key, c := range byName {
			if strings.Contains(lower, key) {
				present = append(present, c)
			}
		}
		if len(present) >= 2 {
			for _, c := range present {
				c.CoMentions++
			}
		}
	}
}

// Slug derives the store-comparable slug of a candidate name.
func (c Candidate) Slug() string {
	return normalize.Slug(c.Name)
}
