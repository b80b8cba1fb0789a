// Package scoring implements the completeness and identity-confidence
// scores that gate persistence and publication.
package scoring

import (
	"strings"

	"github.com/quest-group/content-engine/internal/model"
)

// FieldWeight assigns part of the 100-point completeness budget to one
// canonical field. Weights over a field list must sum to 100.
type FieldWeight struct {
	Field  string
	Weight float64
}

// articleFields is the canonical weighted field list for articles.
var articleFields = []FieldWeight{
	{"title", 10},
	{"slug", 5},
	{"markdown", 20},
	{"excerpt", 5},
	{"sections", 15},
	{"meta_description", 5},
	{"tags", 5},
	{"classification", 5},
	{"featured_image", 10},
	{"hero_image", 5},
	{"content_images", 5},
	{"mentioned_companies", 5},
	{"source_urls", 5},
}

// companyFields is the canonical weighted field list for company profiles.
var companyFields = []FieldWeight{
	{"legal_name", 10},
	{"domain", 5},
	{"company_type", 5},
	{"website", 5},
	{"industry", 5},
	{"headquarters", 10},
	{"founded_year", 5},
	{"employee_range", 5},
	{"sections", 30},
	{"featured_image", 5},
	{"tags", 5},
	{"data_sources", 10},
}

// ArticleCompleteness scores an article payload in [0,100]: the sum of
// weights of fields that are present and non-empty. Readability and
// confidence are reported alongside but never reduce the base score.
func ArticleCompleteness(p *model.ArticlePayload) float64 {
	present := map[string]bool{
		"title":               strings.TrimSpace(p.Title) != "",
		"slug":                p.Slug != "",
		"markdown":            strings.TrimSpace(p.Markdown) != "",
		"excerpt":             strings.TrimSpace(p.Excerpt) != "",
		"sections":            len(p.Sections) > 0,
		"meta_description":    strings.TrimSpace(p.MetaDescription) != "",
		"tags":                len(p.Tags) > 0,
		"classification":      p.Classification != "",
		"featured_image":      p.Images.Featured != nil,
		"hero_image":          p.Images.Hero != nil,
		"content_images":      contentImageCount(&p.Images) > 0,
		"mentioned_companies": len(p.MentionedCompanies) > 0,
		"source_urls":         len(p.SourceURLs) > 0,
	}
	return sumPresent(articleFields, present)
}

// CompanyCompleteness scores a profile payload in [0,100].
func CompanyCompleteness(p *model.ProfilePayload) float64 {
	present := map[string]bool{
		"legal_name":     strings.TrimSpace(p.LegalName) != "",
		"domain":         p.Domain != "",
		"company_type":   p.CompanyType != "",
		"website":        p.Website != "",
		"industry":       p.Industry != "",
		"headquarters":   p.HeadquartersCity != "" || p.HeadquartersCountry != "",
		"founded_year":   p.FoundedYear > 0,
		"employee_range": p.EmployeeRange != "",
		"sections":       len(p.Sections) > 0,
		"featured_image": p.Images.Featured != nil,
		"tags":           len(p.GeographicTags)+len(p.SpecializationTags)+len(p.DealTags) > 0,
		"data_sources":   len(p.DataSources) > 0,
	}
	return sumPresent(companyFields, present)
}

func sumPresent(weights []FieldWeight, present map[string]bool) float64 {
	score := 0.0
	for _, fw := range weights {
		if present[fw.Field] {
			score += fw.Weight
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

func contentImageCount(b *model.ImageBundle) int {
	n := 0
	for _, c := range b.Content {
		if c != nil {
			n++
		}
	}
	return n
}

// Floors holds the persistence floors per record kind.
type Floors struct {
	Article float64
	Company float64
}

// DefaultFloors matches the policy defaults: articles 60, companies 50.
func DefaultFloors() Floors {
	return Floors{Article: 60, Company: 50}
}
