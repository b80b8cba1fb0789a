package model

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// AppTag identifies which application a piece of content belongs to.
type AppTag string

const (
	AppPlacement    AppTag = "placement"
	AppRelocation   AppTag = "relocation"
	AppChiefOfStaff AppTag = "chief-of-staff"
	AppConsultancy  AppTag = "consultancy"
)

// ValidAppTags lists every recognized app tag.
var ValidAppTags = []AppTag{AppPlacement, AppRelocation, AppChiefOfStaff, AppConsultancy}

// Valid reports whether the tag is one of the known applications.
func (a AppTag) Valid() bool {
	for _, t := range ValidAppTags {
		if a == t {
			return true
		}
	}
	return false
}

// ArticleFormat selects the editorial shape of a generated article.
type ArticleFormat string

const (
	FormatArticle  ArticleFormat = "article"
	FormatListicle ArticleFormat = "listicle"
	FormatGuide    ArticleFormat = "guide"
	FormatAnalysis ArticleFormat = "analysis"
)

// Valid reports whether the format is recognized.
func (f ArticleFormat) Valid() bool {
	switch f {
	case FormatArticle, FormatListicle, FormatGuide, FormatAnalysis:
		return true
	}
	return false
}

// Default bounds for article inputs.
const (
	MinTopicLen        = 1
	MaxTopicLen        = 300
	MinTargetWords     = 500
	MaxTargetWords     = 5000
	DefaultTargetWords = 1500
	MinResearchBreadth = 3
	MaxResearchBreadth = 20
	DefaultBreadth     = 8
)

// ArticleInput is the directive that starts an article workflow. Inputs are
// immutable for the lifetime of a workflow instance.
type ArticleInput struct {
	Topic           string        `json:"topic"`
	App             AppTag        `json:"app"`
	TargetWordCount int           `json:"target_word_count,omitempty"`
	Format          ArticleFormat `json:"format,omitempty"`
	Jurisdiction    string        `json:"jurisdiction,omitempty"`
	ResearchBreadth int           `json:"research_breadth,omitempty"`

	DeepCrawl      bool `json:"deep_crawl,omitempty"`
	GenerateImages bool `json:"generate_images,omitempty"`
	AutoPublish    bool `json:"auto_publish,omitempty"`
	SkipGraphSync  bool `json:"skip_graph_sync,omitempty"`

	Keywords        []string `json:"keywords,omitempty"`
	MetaDescription string   `json:"meta_description,omitempty"`
	Author          string   `json:"author,omitempty"`
	Angle           string   `json:"angle,omitempty"`
}

// WithDefaults returns a copy with unset optional fields filled in.
func (in ArticleInput) WithDefaults() ArticleInput {
	if in.TargetWordCount == 0 {
		in.TargetWordCount = DefaultTargetWords
	}
	if in.Format == "" {
		in.Format = FormatArticle
	}
	if in.ResearchBreadth == 0 {
		in.ResearchBreadth = DefaultBreadth
	}
	return in
}

// Validate checks the input against the model bounds. Validation failures
// are terminal: they are never retried.
func (in ArticleInput) Validate() error {
	topic := strings.TrimSpace(in.Topic)
	if len(topic) < MinTopicLen || len(topic) > MaxTopicLen {
		return eris.Errorf("model: topic length must be %d-%d chars, got %d", MinTopicLen, MaxTopicLen, len(topic))
	}
	if !in.App.Valid() {
		return eris.Errorf("model: unknown app tag %q", in.App)
	}
	if in.TargetWordCount != 0 && (in.TargetWordCount < MinTargetWords || in.TargetWordCount > MaxTargetWords) {
		return eris.Errorf("model: target_word_count must be %d-%d, got %d", MinTargetWords, MaxTargetWords, in.TargetWordCount)
	}
	if in.Format != "" && !in.Format.Valid() {
		return eris.Errorf("model: unknown format %q", in.Format)
	}
	if in.ResearchBreadth != 0 && (in.ResearchBreadth < MinResearchBreadth || in.ResearchBreadth > MaxResearchBreadth) {
		return eris.Errorf("model: research_breadth must be %d-%d, got %d", MinResearchBreadth, MaxResearchBreadth, in.ResearchBreadth)
	}
	return nil
}

// CompanyInput is the directive that starts a company-profile workflow.
type CompanyInput struct {
	URL          string `json:"url"`
	Category     string `json:"category,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	App          AppTag `json:"app"`
	ForceUpdate  bool   `json:"force_update,omitempty"`
}

// Validate checks that the URL parses to a host and the app tag is known.
func (in CompanyInput) Validate() error {
	u, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil {
		return eris.Wrapf(err, "model: parse company url %q", in.URL)
	}
	if u.Host == "" {
		// Tolerate bare domains like "acme.com".
		u, err = url.Parse("https://" + strings.TrimSpace(in.URL))
		if err != nil || u.Host == "" || !strings.Contains(u.Host, ".") {
			return eris.Errorf("model: company url %q has no parseable host", in.URL)
		}
	}
	if !in.App.Valid() {
		return eris.Errorf("model: unknown app tag %q", in.App)
	}
	return nil
}

// Host returns the parseable host of the company URL. Validate must have
// passed for the result to be meaningful.
func (in CompanyInput) Host() string {
	raw := strings.TrimSpace(in.URL)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + raw)
		if err != nil {
			return ""
		}
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
