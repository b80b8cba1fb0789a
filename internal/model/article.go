package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Sentiment classifies the tone of an article section.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentMixed    Sentiment = "mixed"
)

// Valid reports whether the sentiment is one of the four classes.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentMixed:
		return true
	}
	return false
}

// EditorialStatus is the publication state of a persisted record.
type EditorialStatus string

const (
	StatusDraft     EditorialStatus = "draft"
	StatusPublished EditorialStatus = "published"
	StatusArchived  EditorialStatus = "archived"
)

// ArticleSection is one H2-delimited section of the generated body.
// ImageIndex, when set, points at content image 1..5.
type ArticleSection struct {
	H2Title    string    `json:"h2_title"`
	Body       string    `json:"body"`
	Sentiment  Sentiment `json:"sentiment"`
	ImageIndex *int      `json:"image_index,omitempty"`
}

// CompanyMention links an article to a company with a relevance weight.
type CompanyMention struct {
	CompanyID string  `json:"company_id"`
	Relevance float64 `json:"relevance"`
}

// ArticlePayload is the full validated output of the article pipeline.
// Phases build it incrementally; it is frozen at the persistence boundary.
type ArticlePayload struct {
	Title           string           `json:"title"`
	Subtitle        string           `json:"subtitle,omitempty"`
	Slug            string           `json:"slug"`
	Markdown        string           `json:"markdown"`
	Excerpt         string           `json:"excerpt"`
	Sections        []ArticleSection `json:"sections"`
	Classification  string           `json:"classification,omitempty"`
	Tags            []string         `json:"tags,omitempty"`
	MetaDescription string           `json:"meta_description"`
	WordCount       int              `json:"word_count"`
	ReadingTime     int              `json:"reading_time"`
	Images          ImageBundle      `json:"images"`
	Status          EditorialStatus  `json:"status"`
	PublishedAt     *time.Time       `json:"published_at,omitempty"`

	MentionedCompanies []CompanyMention `json:"mentioned_companies,omitempty"`

	SourceURLs []string `json:"source_urls,omitempty"`
	Events     []Event  `json:"events,omitempty"`
}

// WordCountFloor is the fraction of the target word count a draft must
// reach before it can be persisted.
const WordCountFloor = 0.85

// Validate enforces the payload invariants against the requested target
// word count. Image-index references are checked against the populated
// image bundle.
func (p *ArticlePayload) Validate(targetWords int) error {
	if strings.TrimSpace(p.Title) == "" {
		return eris.New("payload: title is required")
	}
	if strings.TrimSpace(p.Slug) == "" {
		return eris.New("payload: slug is required")
	}
	if p.WordCount < int(WordCountFloor*float64(targetWords)) {
		return eris.Errorf("payload: word_count %d below floor %d (target %d)",
			p.WordCount, int(WordCountFloor*float64(targetWords)), targetWords)
	}
	for i, s := range p.Sections {
		if s.Sentiment != "" && !s.Sentiment.Valid() {
			return eris.Errorf("payload: section %d has invalid sentiment %q", i, s.Sentiment)
		}
		if s.ImageIndex != nil {
			idx := *s.ImageIndex
			if idx < 1 || idx > 5 {
				return eris.Errorf("payload: section %d image_index %d out of range 1..5", i, idx)
			}
			if !p.Images.HasContent(idx) {
				return eris.Errorf("payload: section %d references missing content image %d", i, idx)
			}
		}
	}
	for i, m := range p.MentionedCompanies {
		if m.CompanyID == "" {
			return eris.Errorf("payload: mentioned_companies[%d] has empty company_id", i)
		}
		if m.Relevance < 0 || m.Relevance > 1 {
			return eris.Errorf("payload: mentioned_companies[%d] relevance %f out of [0,1]", i, m.Relevance)
		}
	}
	return nil
}

// CountWords counts whitespace-separated words in markdown text, skipping
// pure markup lines (image refs, horizontal rules).
func CountWords(markdown string) int {
	n := 0
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "![") || trimmed == "---" {
			continue
		}
		// Heading markers are markup, not words.
		if rest := strings.TrimLeft(trimmed, "#"); rest != trimmed {
			trimmed = strings.TrimSpace(rest)
		}
		n += len(strings.Fields(trimmed))
	}
	return n
}

// ReadingTimeMinutes derives reading time from a word count at 200 wpm,
// minimum 1 minute for non-empty text.
func ReadingTimeMinutes(words int) int {
	if words <= 0 {
		return 0
	}
	mins := (words + 199) / 200
	if mins < 1 {
		mins = 1
	}
	return mins
}
