package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/normalize"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/pkg/anthropic"
)

// profileSectionKeys is the ordered set of narrative sections the profile
// synthesizer asks for. Sections the evidence cannot support are dropped,
// never padded.
var profileSectionKeys = []string{
	"overview",
	"services",
	"history",
	"leadership",
	"market_position",
	"recent_developments",
}

type rawProfile struct {
	LegalName           string              `json:"legal_name"`
	CompanyType         string              `json:"company_type"`
	Industry            string              `json:"industry"`
	HeadquartersCity    string              `json:"headquarters_city"`
	HeadquartersCountry string              `json:"headquarters_country"`
	FoundedYear         int                 `json:"founded_year"`
	EmployeeRange       string              `json:"employee_range"`
	GeographicTags      []string            `json:"geographic_tags"`
	SpecializationTags  []string            `json:"specialization_tags"`
	DealTags            []string            `json:"deal_tags"`
	Sections            []rawProfileSection `json:"profile_sections"`
}

type rawProfileSection struct {
	Key             string   `json:"key"`
	Title           string   `json:"title"`
	MarkdownContent string   `json:"markdown_content"`
	Confidence      float64  `json:"confidence"`
	SourceURLs      []string `json:"source_urls"`
}

// SynthesizeProfile generates a narrative company profile from the research
// bundle. Citations are restricted to URLs actually present in the bundle,
// and each section's confidence is capped by how much distinct evidence
// backs it; sections that end up under the evidence bar are dropped.
func (s *Synthesizer) SynthesizeProfile(ctx context.Context, in model.CompanyInput, research model.ResearchBundle) (*model.ProfilePayload, Result, error) {
	var res Result

	messages := []anthropic.Message{
		{Role: "user", Content: s.profilePrompt(in, research)},
	}
	schemaLeft := s.policy.MaxSchemaRetries

	for {
		resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.models.SonnetModel,
			MaxTokens: 8192,
			System:    []anthropic.SystemBlock{{Text: profileSystem}},
			Messages:  messages,
		})
		if err != nil {
			return nil, res, eris.Wrap(err, "synth: profile draft")
		}
		res.add(resp.Usage, s.models.SonnetModel)

		raw := resp.Text()
		var draft rawProfile
		parseErr := json.Unmarshal([]byte(cleanJSON(raw)), &draft)
		if parseErr == nil {
			parseErr = draft.validate()
		}
		if parseErr != nil {
			if schemaLeft == 0 {
				return nil, res, resilience.NewAppError(resilience.KindData, resilience.CodeSchemaInvalid,
					eris.Wrap(parseErr, "synth: profile draft invalid after repairs"))
			}
			schemaLeft--
			res.SchemaRepairs++
			zap.L().Warn("synth: profile draft failed validation, requesting repair",
				zap.Error(parseErr),
				zap.Int("repairs_left", schemaLeft),
			)
			messages = append(messages,
				anthropic.Message{Role: "assistant", Content: raw},
				anthropic.Message{Role: "user", Content: fmt.Sprintf(
					"Your previous response was not valid: %s. Return the complete corrected JSON object, nothing else.",
					parseErr.Error(),
				)},
			)
			continue
		}

		return draft.toPayload(in, research), res, nil
	}
}

func (r rawProfile) validate() error {
	if strings.TrimSpace(r.LegalName) == "" {
		return eris.New("legal_name is empty")
	}
	if len(r.Sections) == 0 {
		return eris.New("profile_sections is empty")
	}
	for i, sec := range r.Sections {
		if strings.TrimSpace(sec.Key) == "" {
			return eris.Errorf("section %d has no key", i)
		}
		if sec.Confidence < 0 || sec.Confidence > 1 {
			return eris.Errorf("section %q confidence %f out of [0,1]", sec.Key, sec.Confidence)
		}
	}
	return nil
}

func (r rawProfile) toPayload(in model.CompanyInput, research model.ResearchBundle) *model.ProfilePayload {
	host := in.Host()
	payload := &model.ProfilePayload{
		LegalName:           strings.TrimSpace(r.LegalName),
		Domain:              host,
		Slug:                normalize.DomainSlug(host),
		CompanyType:         strings.TrimSpace(r.CompanyType),
		Website:             "https://" + host,
		Industry:            strings.TrimSpace(r.Industry),
		HeadquartersCity:    strings.TrimSpace(r.HeadquartersCity),
		HeadquartersCountry: strings.TrimSpace(r.HeadquartersCountry),
		FoundedYear:         r.FoundedYear,
		EmployeeRange:       strings.TrimSpace(r.EmployeeRange),
		GeographicTags:      r.GeographicTags,
		SpecializationTags:  r.SpecializationTags,
		DealTags:            r.DealTags,
		ResearchCost:        research.TotalCost(),
		DataSources:         research.SourceURLs(),
	}

	citable := sourceURLSet(research)
	for _, raw := range r.Sections {
		section := model.ProfileSection{
			Title:           strings.TrimSpace(raw.Title),
			MarkdownContent: strings.TrimSpace(raw.MarkdownContent),
			SourceURLs:      filterCitations(raw.SourceURLs, citable),
		}
		section.Confidence = cappedConfidence(raw.Confidence, section.SourceURLs)
		if !payload.AddSection(strings.TrimSpace(raw.Key), section) {
			zap.L().Debug("synth: profile section dropped",
				zap.String("key", raw.Key),
				zap.Float64("confidence", section.Confidence),
			)
		}
	}
	return payload
}

// filterCitations keeps only URLs that exist in the research bundle. The
// model occasionally cites from memory; those citations are discarded.
func filterCitations(urls []string, citable map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] || !citable[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// cappedConfidence bounds the model's self-reported confidence by the
// amount and diversity of surviving evidence: no citations caps at 0.35,
// one at 0.60, and two or more lift the cap with a bonus for distinct
// hosts.
func cappedConfidence(reported float64, citations []string) float64 {
	hosts := make(map[string]bool)
	for _, u := range citations {
		if h := normalize.Host(u); h != "" {
			hosts[h] = true
		}
	}
	var ceiling float64
	switch {
	case len(citations) == 0:
		ceiling = 0.35
	case len(citations) == 1:
		ceiling = 0.60
	case len(hosts) >= 2:
		ceiling = 1.0
	default:
		ceiling = 0.85
	}
	if reported > ceiling {
		return ceiling
	}
	return reported
}

const profileSystem = `You are a corporate research analyst producing a company profile from gathered evidence.
Write only what the sources support; omit any section the evidence cannot fill with at least two substantive sentences. Cite the exact source URLs you relied on per section. You respond with a single JSON object and nothing else.`

func (s *Synthesizer) profilePrompt(in model.CompanyInput, research model.ResearchBundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Profile the company operating %s.\n", in.Host())
	if in.Category != "" {
		fmt.Fprintf(&b, "Expected category: %s.\n", in.Category)
	}
	if in.Jurisdiction != "" {
		fmt.Fprintf(&b, "Jurisdictional focus: %s.\n", in.Jurisdiction)
	}

	fmt.Fprintf(&b, `
Respond with exactly this JSON shape:
{
  "legal_name": "...",
  "company_type": "...",
  "industry": "...",
  "headquarters_city": "...",
  "headquarters_country": "...",
  "founded_year": 0,
  "employee_range": "e.g. 51-200",
  "geographic_tags": ["..."],
  "specialization_tags": ["..."],
  "deal_tags": ["..."],
  "profile_sections": [
    {"key": "...", "title": "...", "markdown_content": "...", "confidence": 0.0, "source_urls": ["..."]}
  ]
}

Rules:
- Section keys, in order, drawn from: %s. Skip any key the evidence cannot support.
- Each section needs at least two substantive sentences grounded in the sources.
- confidence is your honest estimate in [0,1] of how well the sources support that section.
- source_urls must be copied verbatim from the research sources below; cite nothing else.
- Leave unknown scalar fields empty or zero. Never guess.

Research sources:

`, strings.Join(profileSectionKeys, ", "))
	b.WriteString(renderResearch(research))
	return b.String()
}
