package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ProfileSection is one narrative section of a company profile. Sections
// exist only when gathered evidence supports them: at least two sentences
// and confidence at or above SectionConfidenceFloor.
type ProfileSection struct {
	Title           string   `json:"title"`
	MarkdownContent string   `json:"markdown_content"`
	Confidence      float64  `json:"confidence"`
	SourceURLs      []string `json:"source_urls,omitempty"`
}

// SectionConfidenceFloor is the minimum confidence for a narrative section
// to be included in a profile.
const SectionConfidenceFloor = 0.5

// MinSectionSentences is the minimum sentence count for a narrative section.
const MinSectionSentences = 2

// Supported reports whether the section meets the evidence bar.
func (s ProfileSection) Supported() bool {
	return s.Confidence >= SectionConfidenceFloor && SentenceCount(s.MarkdownContent) >= MinSectionSentences
}

// abbreviations whose trailing period does not end a sentence.
var abbreviations = map[string]bool{
	"inc": true, "ltd": true, "llc": true, "llp": true, "co": true,
	"corp": true, "dr": true, "mr": true, "mrs": true, "ms": true,
	"st": true, "no": true, "vs": true, "etc": true, "approx": true,
	"e.g": true, "i.e": true, "u.s": true, "u.k": true,
}

// SentenceCount approximates the number of sentences in markdown text.
// A sentence ends at a word with a trailing terminator, unless the word
// is a known abbreviation; terminator runs ("?!") count once.
func SentenceCount(text string) int {
	n := 0
	for _, w := range strings.Fields(text) {
		if !strings.HasSuffix(w, ".") && !strings.HasSuffix(w, "!") && !strings.HasSuffix(w, "?") {
			continue
		}
		base := strings.ToLower(strings.TrimRight(w, `.!?")`))
		if abbreviations[base] {
			continue
		}
		n++
	}
	return n
}

// ProfileSectionEntry pairs a stable section key with its content,
// preserving insertion order (the payload's section mapping is ordered).
type ProfileSectionEntry struct {
	Key     string         `json:"key"`
	Section ProfileSection `json:"section"`
}

// AmbiguitySignals carries the five identity-confidence measures for a
// company, each in [0,1].
type AmbiguitySignals struct {
	NameURLMatch     float64 `json:"name_url_match"`
	CategoryCoverage float64 `json:"category_coverage"`
	CrossConsistency float64 `json:"cross_consistency"`
	NoHomonymWarning float64 `json:"no_homonym_warning"`
	CoreFieldsFilled float64 `json:"core_fields_filled"`
}

// ProfilePayload is the narrative-first output of the company pipeline.
type ProfilePayload struct {
	// Essential fields.
	LegalName   string `json:"legal_name"`
	Domain      string `json:"domain"`
	Slug        string `json:"slug"`
	CompanyType string `json:"company_type"`
	Website     string `json:"website"`

	// Optional structured facets.
	Industry            string   `json:"industry,omitempty"`
	HeadquartersCity    string   `json:"headquarters_city,omitempty"`
	HeadquartersCountry string   `json:"headquarters_country,omitempty"`
	FoundedYear         int      `json:"founded_year,omitempty"`
	EmployeeRange       string   `json:"employee_range,omitempty"`
	GeographicTags      []string `json:"geographic_tags,omitempty"`
	SpecializationTags  []string `json:"specialization_tags,omitempty"`
	DealTags            []string `json:"deal_tags,omitempty"`

	Sections []ProfileSectionEntry `json:"profile_sections"`

	Images ImageBundle `json:"images"`

	// Research metadata.
	Confidence   float64          `json:"confidence"`
	ResearchCost float64          `json:"research_cost"`
	Signals      AmbiguitySignals `json:"ambiguity_signals"`
	DataSources  []string         `json:"data_sources,omitempty"`

	Events []Event `json:"events,omitempty"`
}

// Section returns the section for a key, or nil.
func (p *ProfilePayload) Section(key string) *ProfileSection {
	for i := range p.Sections {
		if p.Sections[i].Key == key {
			return &p.Sections[i].Section
		}
	}
	return nil
}

// AddSection appends a section if it meets the evidence bar; unsupported
// sections are silently dropped (consumers tolerate absent sections).
func (p *ProfilePayload) AddSection(key string, s ProfileSection) bool {
	if !s.Supported() {
		return false
	}
	p.Sections = append(p.Sections, ProfileSectionEntry{Key: key, Section: s})
	return true
}

// Validate enforces the profile invariants.
func (p *ProfilePayload) Validate() error {
	if strings.TrimSpace(p.LegalName) == "" {
		return eris.New("payload: legal_name is required")
	}
	if strings.TrimSpace(p.Domain) == "" {
		return eris.New("payload: domain is required")
	}
	if strings.TrimSpace(p.Slug) == "" {
		return eris.New("payload: slug is required")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return eris.Errorf("payload: confidence %f out of [0,1]", p.Confidence)
	}
	for _, e := range p.Sections {
		if !e.Section.Supported() {
			return eris.Errorf("payload: section %q does not meet the evidence bar", e.Key)
		}
	}
	return nil
}
