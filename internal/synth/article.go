package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/pkg/anthropic"
)

// appVoice sets the editorial register per application.
var appVoice = map[model.AppTag]string{
	model.AppPlacement:    "a recruitment and talent-placement publication for hiring leaders",
	model.AppRelocation:   "a global-mobility publication for people relocating internationally",
	model.AppChiefOfStaff: "a publication for chiefs of staff and executive operations professionals",
	model.AppConsultancy:  "a management-consulting insights publication",
}

// formatDirective shapes the body structure per requested format.
var formatDirective = map[model.ArticleFormat]string{
	model.FormatArticle:  "Write a standard editorial article with a narrative arc across the sections.",
	model.FormatListicle: "Write a listicle: each section is one numbered entry with a concrete takeaway.",
	model.FormatGuide:    "Write a practical how-to guide: each section is an actionable step or decision.",
	model.FormatAnalysis: "Write an analytical piece: examine causes, tradeoffs, and implications.",
}

type rawArticle struct {
	Title           string       `json:"title"`
	Subtitle        string       `json:"subtitle"`
	Excerpt         string       `json:"excerpt"`
	MetaDescription string       `json:"meta_description"`
	Classification  string       `json:"classification"`
	Tags            []string     `json:"tags"`
	Sections        []rawSection `json:"sections"`
}

type rawSection struct {
	H2Title   string `json:"h2_title"`
	Body      string `json:"body"`
	Sentiment string `json:"sentiment"`
}

// SynthesizeArticle generates a sectioned article draft from the research
// bundle. Malformed responses get up to MaxSchemaRetries repair rounds;
// drafts under the word-count floor get up to MaxExpansionRetries expansion
// rounds. A draft still under the floor after expansion is returned along
// with a business error so the caller can apply its below-floor policy.
func (s *Synthesizer) SynthesizeArticle(ctx context.Context, in model.ArticleInput, research model.ResearchBundle) (*model.ArticlePayload, Result, error) {
	var res Result

	floor := int(model.WordCountFloor * float64(in.TargetWordCount))
	messages := []anthropic.Message{
		{Role: "user", Content: s.articlePrompt(in, research)},
	}
	schemaLeft := s.policy.MaxSchemaRetries
	expandLeft := s.policy.MaxExpansionRetries

	for {
		resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.models.SonnetModel,
			MaxTokens: articleMaxTokens(in.TargetWordCount),
			System:    []anthropic.SystemBlock{{Text: articleSystem(in.App)}},
			Messages:  messages,
		})
		if err != nil {
			return nil, res, eris.Wrap(err, "synth: article draft")
		}
		res.add(resp.Usage, s.models.SonnetModel)

		raw := resp.Text()
		var draft rawArticle
		parseErr := json.Unmarshal([]byte(cleanJSON(raw)), &draft)
		if parseErr == nil {
			parseErr = draft.validate()
		}
		if parseErr != nil {
			if schemaLeft == 0 {
				return nil, res, resilience.NewAppError(resilience.KindData, resilience.CodeSchemaInvalid,
					eris.Wrap(parseErr, "synth: article draft invalid after repairs"))
			}
			schemaLeft--
			res.SchemaRepairs++
			zap.L().Warn("synth: article draft failed validation, requesting repair",
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

		markdown := assembleMarkdown(draft)
		words := model.CountWords(markdown)
		if words < floor && expandLeft > 0 {
			expandLeft--
			res.Expansions++
			zap.L().Info("synth: draft below word floor, requesting expansion",
				zap.Int("words", words),
				zap.Int("floor", floor),
				zap.Int("expansions_left", expandLeft),
			)
			messages = append(messages,
				anthropic.Message{Role: "assistant", Content: raw},
				anthropic.Message{Role: "user", Content: fmt.Sprintf(
					"The draft is %d words; the target is %d. Expand each section with concrete detail from the sources until the total reaches at least %d words. Do not pad or repeat yourself. Return the complete corrected JSON object.",
					words, in.TargetWordCount, in.TargetWordCount,
				)},
			)
			continue
		}

		payload := draft.toPayload(in, markdown, words, research)
		if words < floor {
			return payload, res, resilience.NewAppError(resilience.KindBusiness, resilience.CodeBelowFloor,
				eris.Errorf("synth: draft stuck at %d words, floor %d", words, floor))
		}
		return payload, res, nil
	}
}

func (r rawArticle) validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return eris.New("title is empty")
	}
	if len(r.Sections) < 3 {
		return eris.Errorf("expected at least 3 sections, got %d", len(r.Sections))
	}
	for i, sec := range r.Sections {
		if strings.TrimSpace(sec.H2Title) == "" {
			return eris.Errorf("section %d has no h2_title", i)
		}
		if strings.TrimSpace(sec.Body) == "" {
			return eris.Errorf("section %d has no body", i)
		}
		if sec.Sentiment != "" && !model.Sentiment(sec.Sentiment).Valid() {
			return eris.Errorf("section %d has unknown sentiment %q", i, sec.Sentiment)
		}
	}
	return nil
}

func (r rawArticle) toPayload(in model.ArticleInput, markdown string, words int, research model.ResearchBundle) *model.ArticlePayload {
	sections := make([]model.ArticleSection, len(r.Sections))
	for i, sec := range r.Sections {
		sentiment := model.Sentiment(sec.Sentiment)
		if !sentiment.Valid() {
			sentiment = model.SentimentNeutral
		}
		sections[i] = model.ArticleSection{
			H2Title:   strings.TrimSpace(sec.H2Title),
			Body:      strings.TrimSpace(sec.Body),
			Sentiment: sentiment,
		}
	}

	meta := strings.TrimSpace(r.MetaDescription)
	if in.MetaDescription != "" {
		meta = in.MetaDescription
	}

	return &model.ArticlePayload{
		Title:           strings.TrimSpace(r.Title),
		Subtitle:        strings.TrimSpace(r.Subtitle),
		Excerpt:         strings.TrimSpace(r.Excerpt),
		MetaDescription: meta,
		Classification:  strings.TrimSpace(r.Classification),
		Tags:            mergeTags(r.Tags, in.Keywords),
		Sections:        sections,
		Markdown:        markdown,
		WordCount:       words,
		ReadingTime:     model.ReadingTimeMinutes(words),
		SourceURLs:      research.SourceURLs(),
	}
}

// assembleMarkdown renders the sectioned draft as a single markdown body.
func assembleMarkdown(r rawArticle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", strings.TrimSpace(r.Title))
	if sub := strings.TrimSpace(r.Subtitle); sub != "" {
		fmt.Fprintf(&b, "*%s*\n\n", sub)
	}
	for _, sec := range r.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", strings.TrimSpace(sec.H2Title), strings.TrimSpace(sec.Body))
	}
	return strings.TrimSpace(b.String()) + "\n"
}

func mergeTags(tags, keywords []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range append(append([]string{}, tags...), keywords...) {
		t = strings.TrimSpace(strings.ToLower(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func articleSystem(app model.AppTag) string {
	voice, ok := appVoice[app]
	if !ok {
		voice = "a professional editorial publication"
	}
	return fmt.Sprintf(`You are a senior staff writer for %s.
You write grounded, specific prose. Every factual claim must trace to the provided sources; never invent statistics, quotes, or dates. You respond with a single JSON object and nothing else.`, voice)
}

func (s *Synthesizer) articlePrompt(in model.ArticleInput, research model.ResearchBundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an article on the topic: %s\n\n", strings.TrimSpace(in.Topic))
	fmt.Fprintf(&b, "%s\n", formatDirective[in.Format])
	fmt.Fprintf(&b, "Target length: %d words across the section bodies.\n", in.TargetWordCount)
	if in.Jurisdiction != "" {
		fmt.Fprintf(&b, "Jurisdictional focus: %s.\n", in.Jurisdiction)
	}
	if in.Angle != "" {
		fmt.Fprintf(&b, "Editorial angle: %s.\n", in.Angle)
	}
	if len(in.Keywords) > 0 {
		fmt.Fprintf(&b, "Work these terms in naturally: %s.\n", strings.Join(in.Keywords, ", "))
	}

	b.WriteString(`
Respond with exactly this JSON shape:
{
  "title": "...",
  "subtitle": "...",
  "excerpt": "1-2 sentence teaser",
  "meta_description": "under 160 characters",
  "classification": "one short category label",
  "tags": ["..."],
  "sections": [
    {"h2_title": "...", "body": "markdown prose, no headings", "sentiment": "positive|negative|neutral|mixed"}
  ]
}

Rules:
- 4 to 8 sections, each a coherent H2-level unit.
- sentiment reflects the tone of that section's content.
- Section bodies are markdown but contain no # headings of their own.

Research sources:

`)
	b.WriteString(renderResearch(research))
	return b.String()
}

// articleMaxTokens sizes the response budget to the requested length.
func articleMaxTokens(targetWords int) int64 {
	tokens := int64(targetWords) * 3
	if tokens < 4096 {
		tokens = 4096
	}
	if tokens > 16384 {
		tokens = 16384
	}
	return tokens
}
