// Package imageseq plans and tracks the coordinated image sequence for a
// piece of content. Generation itself happens in activities; this package
// owns the deterministic parts: prompt planning, the style-reference chain,
// and fingerprint dedupe.
package imageseq

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/quest-group/content-engine/internal/model"
)

// Mood biases the visual palette of a generated image.
type Mood string

const (
	MoodWarm     Mood = "warm"
	MoodCool     Mood = "cool"
	MoodBalanced Mood = "balanced"
	MoodNeutral  Mood = "neutral"
)

// MoodPolicy maps section sentiment to image mood. The default table is
// replaceable configuration, not behavior.
type MoodPolicy map[model.Sentiment]Mood

// DefaultMoodPolicy returns the standard sentiment-to-mood mapping.
func DefaultMoodPolicy() MoodPolicy {
	return MoodPolicy{
		model.SentimentPositive: MoodWarm,
		model.SentimentNegative: MoodCool,
		model.SentimentMixed:    MoodBalanced,
		model.SentimentNeutral:  MoodNeutral,
	}
}

// Mood resolves a sentiment, defaulting to neutral for unknown values.
func (p MoodPolicy) Mood(s model.Sentiment) Mood {
	if m, ok := p[s]; ok {
		return m
	}
	return MoodNeutral
}

// moodDirective phrases the mood for the generation prompt.
var moodDirective = map[Mood]string{
	MoodWarm:     "warm, optimistic palette with soft natural light",
	MoodCool:     "cool, muted palette with restrained contrast",
	MoodBalanced: "balanced palette mixing warm and cool tones",
	MoodNeutral:  "clean editorial palette with neutral tones",
}

// Prompt is one planned generation in the sequence.
type Prompt struct {
	Slot          model.ImageSlot `json:"slot"`
	Text          string          `json:"text"`
	Aspect        string          `json:"aspect"`
	Seed          int64           `json:"seed"`
	SourceSection *int            `json:"source_section_index,omitempty"`
}

// PlanArticle builds the 7-prompt sequence for an article: featured and
// hero from the title, content images from the first five sections with
// sentiment-driven mood.
func PlanArticle(title string, sections []model.ArticleSection, policy MoodPolicy, seed int64) []Prompt {
	if policy == nil {
		policy = DefaultMoodPolicy()
	}
	prompts := make([]Prompt, 0, len(model.ArticleImageSlots))
	for i, slot := range model.ArticleImageSlots {
		p := Prompt{
			Slot:   slot,
			Aspect: slot.Aspect(),
			Seed:   seed + int64(i),
		}
		if idx := model.ContentSlotIndex(slot); idx > 0 {
			if idx > len(sections) {
				continue
			}
			section := sections[idx-1]
			mood := policy.Mood(section.Sentiment)
			src := idx
			p.SourceSection = &src
			p.Text = fmt.Sprintf(
				"Editorial illustration for the section %q of an article titled %q. Style: %s. No text or lettering.",
				section.H2Title, title, moodDirective[mood],
			)
		} else {
			role := "featured social-preview image"
			if slot == model.SlotHero {
				role = "wide hero banner"
			}
			p.Text = fmt.Sprintf(
				"%s for an article titled %q. Style: %s. No text or lettering.",
				strings.ToUpper(role[:1])+role[1:], title, moodDirective[MoodNeutral],
			)
		}
		prompts = append(prompts, p)
	}
	return prompts
}

// PlanCompany builds the reduced sequence for a company profile.
func PlanCompany(legalName, industry string, seed int64) []Prompt {
	subject := legalName
	if industry != "" {
		subject = fmt.Sprintf("%s, a %s company", legalName, industry)
	}
	prompts := make([]Prompt, 0, len(model.CompanyImageSlots))
	for i, slot := range model.CompanyImageSlots {
		role := "featured profile image"
		if slot == model.SlotHero {
			role = "wide hero banner"
		}
		prompts = append(prompts, Prompt{
			Slot:   slot,
			Aspect: slot.Aspect(),
			Seed:   seed + int64(i),
			Text: fmt.Sprintf(
				"Abstract corporate %s representing %s. Style: %s. No text, logos, or lettering.",
				role, subject, moodDirective[MoodNeutral],
			),
		})
	}
	return prompts
}

// Fingerprint hashes the inputs that determine an image's content. Two
// generations with the same fingerprint would be silent duplicates.
func Fingerprint(prompt string, seed int64, referenceURL string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s", prompt, seed, referenceURL)
	return hex.EncodeToString(h.Sum(nil))
}

// Chain tracks the style-reference chain and the fingerprints emitted in
// one run. A chain lives for a single workflow only.
type Chain struct {
	lastRef      string
	fingerprints map[string]model.ImageSlot
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{fingerprints: make(map[string]model.ImageSlot)}
}

// Reference returns the style-reference URL for the next generation: the
// last successful image, or empty for the first.
func (c *Chain) Reference() string {
	return c.lastRef
}

// Admit checks a fingerprint for duplication and records it. The sequencer
// refuses to emit two images with identical fingerprints in one run.
func (c *Chain) Admit(fp string, slot model.ImageSlot) error {
	if prior, dup := c.fingerprints[fp]; dup {
		return eris.Errorf("imageseq: %s would duplicate %s (fingerprint %s)", slot, prior, fp[:12])
	}
	c.fingerprints[fp] = slot
	return nil
}

// Advance records a successful generation, making it the next reference.
// Failed generations never advance the chain, so later images fall back to
// the last success.
func (c *Chain) Advance(imageURL string) {
	if imageURL != "" {
		c.lastRef = imageURL
	}
}

// Len returns how many fingerprints the chain has admitted.
func (c *Chain) Len() int {
	return len(c.fingerprints)
}
