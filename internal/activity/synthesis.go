package activity

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/internal/scoring"
)

// SynthesizeArticleRequest carries the directive and gathered research.
type SynthesizeArticleRequest struct {
	Input    model.ArticleInput   `json:"input"`
	Research model.ResearchBundle `json:"research"`
}

// SynthesizeArticleResult is the draft plus accounting. BelowFloor is set
// when the draft stayed under the word floor after all expansion rounds;
// the workflow applies its below-floor policy rather than failing here.
type SynthesizeArticleResult struct {
	Payload       *model.ArticlePayload `json:"payload"`
	CostUSD       float64               `json:"cost_usd"`
	SchemaRepairs int                   `json:"schema_repairs"`
	Expansions    int                   `json:"expansions"`
	BelowFloor    bool                  `json:"below_floor,omitempty"`
}

// SynthesizeArticle generates the article draft.
func (a *Activities) SynthesizeArticle(ctx context.Context, req SynthesizeArticleRequest) (*SynthesizeArticleResult, error) {
	payload, res, err := a.deps.Synth.SynthesizeArticle(ctx, req.Input, req.Research)
	result := &SynthesizeArticleResult{
		Payload:       payload,
		CostUSD:       res.CostUSD,
		SchemaRepairs: res.SchemaRepairs,
		Expansions:    res.Expansions,
	}
	if err != nil {
		if resilience.CodeOf(err) == resilience.CodeBelowFloor && payload != nil {
			result.BelowFloor = true
			return result, nil
		}
		return nil, classify(err)
	}
	res.Usage.LogCost(res.Model, "synthesize_article")
	return result, nil
}

// SynthesizeProfileRequest carries the directive and gathered research.
type SynthesizeProfileRequest struct {
	Input    model.CompanyInput   `json:"input"`
	Research model.ResearchBundle `json:"research"`
}

// SynthesizeProfileResult is the profile draft plus accounting.
type SynthesizeProfileResult struct {
	Payload       *model.ProfilePayload `json:"payload"`
	CostUSD       float64               `json:"cost_usd"`
	SchemaRepairs int                   `json:"schema_repairs"`
}

// SynthesizeProfile generates the narrative company profile.
func (a *Activities) SynthesizeProfile(ctx context.Context, req SynthesizeProfileRequest) (*SynthesizeProfileResult, error) {
	payload, res, err := a.deps.Synth.SynthesizeProfile(ctx, req.Input, req.Research)
	if err != nil {
		return nil, classify(err)
	}
	res.Usage.LogCost(res.Model, "synthesize_profile")
	return &SynthesizeProfileResult{
		Payload:       payload,
		CostUSD:       res.CostUSD,
		SchemaRepairs: res.SchemaRepairs,
	}, nil
}

// ClassifySentimentsRequest asks for a tone class per section.
type ClassifySentimentsRequest struct {
	Sections []model.ArticleSection `json:"sections"`
}

// ClassifySentimentsResult carries one sentiment per input section.
type ClassifySentimentsResult struct {
	Sentiments []model.Sentiment `json:"sentiments"`
	CostUSD    float64           `json:"cost_usd"`
}

// ClassifySentiments classifies section tones for the image mood policy.
func (a *Activities) ClassifySentiments(ctx context.Context, req ClassifySentimentsRequest) (*ClassifySentimentsResult, error) {
	sentiments, res, err := a.deps.Synth.ClassifySentiments(ctx, req.Sections)
	if err != nil {
		return nil, classify(err)
	}
	return &ClassifySentimentsResult{Sentiments: sentiments, CostUSD: res.CostUSD}, nil
}

// ScoreAmbiguityRequest derives identity confidence for a company draft.
type ScoreAmbiguityRequest struct {
	Input    model.CompanyInput    `json:"input"`
	Payload  *model.ProfilePayload `json:"payload"`
	Research model.ResearchBundle  `json:"research"`
}

// ScoreAmbiguityResult carries the five signals and the combined score.
type ScoreAmbiguityResult struct {
	Signals    model.AmbiguitySignals `json:"signals"`
	Confidence float64                `json:"confidence"`
}

// homonymMarkers are text fragments that suggest the gathered evidence
// mixes multiple entities under one name.
var homonymMarkers = []string{
	"may refer to",
	"disambiguation",
	"not to be confused with",
}

// ScoreAmbiguity computes the weighted identity confidence from the
// profile draft and its evidence.
func (a *Activities) ScoreAmbiguity(ctx context.Context, req ScoreAmbiguityRequest) (*ScoreAmbiguityResult, error) {
	_ = ctx
	var gathered strings.Builder
	var sourceNames []string
	warnings := 0

	legalLower := strings.ToLower(req.Payload.LegalName)
	for _, item := range req.Research.DedupeItems() {
		text := item.FullText
		if text == "" {
			text = item.Snippet
		}
		gathered.WriteString(text)
		gathered.WriteString("\n")

		lower := strings.ToLower(text)
		if legalLower != "" && strings.Contains(lower, legalLower) {
			sourceNames = append(sourceNames, req.Payload.LegalName)
		}
		for _, m := range homonymMarkers {
			if strings.Contains(lower, m) {
				warnings++
				break
			}
		}
	}

	present := 0
	for _, v := range []string{
		req.Payload.LegalName,
		req.Payload.Domain,
		req.Payload.CompanyType,
		req.Payload.Industry,
		req.Payload.HeadquartersCountry,
	} {
		if strings.TrimSpace(v) != "" {
			present++
		}
	}

	signals := scoring.DeriveSignals(scoring.SignalInputs{
		LegalName:         req.Payload.LegalName,
		Host:              req.Input.Host(),
		Category:          req.Input.Category,
		GatheredText:      gathered.String(),
		SourceNames:       sourceNames,
		HomonymWarnings:   warnings,
		CoreFieldsPresent: present,
		CoreFieldsTotal:   5,
	})
	weights := a.deps.Config.Ambiguity.Weights
	if weights == (scoring.AmbiguityWeights{}) {
		weights = scoring.DefaultAmbiguityWeights()
	}
	return &ScoreAmbiguityResult{
		Signals:    signals,
		Confidence: weights.Confidence(signals),
	}, nil
}

// markdownLink matches [text](url) with an optional title.
var markdownLink = regexp.MustCompile(`\[([^\]]*)\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)

// CleanseLinksRequest strips dead outbound links from a markdown body.
type CleanseLinksRequest struct {
	Markdown  string   `json:"markdown"`
	ValidURLs []string `json:"valid_urls"`
}

// CleanseLinksResult is the cleaned body plus the number of links removed.
type CleanseLinksResult struct {
	Markdown string `json:"markdown"`
	Removed  int    `json:"removed"`
}

// CleanseLinks unwraps markdown links whose targets failed validation,
// keeping the anchor text. Relative and intra-document links are left
// alone.
func (a *Activities) CleanseLinks(ctx context.Context, req CleanseLinksRequest) (*CleanseLinksResult, error) {
	_ = ctx
	valid := make(map[string]bool, len(req.ValidURLs))
	for _, u := range req.ValidURLs {
		valid[u] = true
	}

	removed := 0
	cleaned := markdownLink.ReplaceAllStringFunc(req.Markdown, func(match string) string {
		groups := markdownLink.FindStringSubmatch(match)
		text, target := groups[1], groups[2]
		if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
			return match
		}
		if valid[target] {
			return match
		}
		removed++
		return text
	})

	if removed > 0 {
		zap.L().Info("dead links removed", zap.Int("count", removed))
	}
	return &CleanseLinksResult{Markdown: cleaned, Removed: removed}, nil
}
