package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quest-group/content-engine/internal/model"
)

func fullArticle() *model.ArticlePayload {
	return &model.ArticlePayload{
		Title:           "T",
		Slug:            "t",
		Markdown:        "body",
		Excerpt:         "ex",
		Sections:        []model.ArticleSection{{H2Title: "a", Body: "b"}},
		MetaDescription: "meta",
		Tags:            []string{"tag"},
		Classification:  "industry-news",
		Images: model.ImageBundle{
			Featured: &model.ImageRecord{URL: "f"},
			Hero:     &model.ImageRecord{URL: "h"},
			Content:  [5]*model.ImageRecord{{URL: "c1"}},
		},
		MentionedCompanies: []model.CompanyMention{{CompanyID: "c", Relevance: 0.5}},
		SourceURLs:         []string{"https://a.com"},
	}
}

func TestArticleCompleteness_FullPayload(t *testing.T) {
	assert.Equal(t, 100.0, ArticleCompleteness(fullArticle()))
}

func TestArticleCompleteness_MissingFieldsReduceScore(t *testing.T) {
	p := fullArticle()
	p.Images = model.ImageBundle{}
	p.MentionedCompanies = nil
	// featured 10 + hero 5 + content 5 + mentions 5 = 25 points gone
	assert.Equal(t, 75.0, ArticleCompleteness(p))
}

func TestCompanyCompleteness(t *testing.T) {
	p := &model.ProfilePayload{
		LegalName:           "Acme Corp",
		Domain:              "acme.com",
		CompanyType:         "private",
		Website:             "https://acme.com",
		Industry:            "manufacturing",
		HeadquartersCountry: "US",
		FoundedYear:         1999,
		EmployeeRange:       "51-200",
		Sections: []model.ProfileSectionEntry{
			{Key: "overview", Section: model.ProfileSection{MarkdownContent: "A. B.", Confidence: 0.8}},
		},
		Images:      model.ImageBundle{Featured: &model.ImageRecord{URL: "f"}},
		DataSources: []string{"https://acme.com"},
	}
	// Everything present except tags (5 points).
	assert.Equal(t, 95.0, CompanyCompleteness(p))

	p.GeographicTags = []string{"us"}
	assert.Equal(t, 100.0, CompanyCompleteness(p))
}

func TestDefaultFloors(t *testing.T) {
	f := DefaultFloors()
	assert.Equal(t, 60.0, f.Article)
	assert.Equal(t, 50.0, f.Company)
}

func TestAmbiguityWeights_Confidence(t *testing.T) {
	w := DefaultAmbiguityWeights()
	all := model.AmbiguitySignals{
		NameURLMatch:     1,
		CategoryCoverage: 1,
		CrossConsistency: 1,
		NoHomonymWarning: 1,
		CoreFieldsFilled: 1,
	}
	assert.InDelta(t, 1.0, w.Confidence(all), 1e-9)
	assert.InDelta(t, 0.0, w.Confidence(model.AmbiguitySignals{}), 1e-9)

	partial := model.AmbiguitySignals{NameURLMatch: 1, NoHomonymWarning: 1}
	assert.InDelta(t, 0.45, w.Confidence(partial), 1e-9)
}

func TestDeriveSignals_NameURLMatch(t *testing.T) {
	s := DeriveSignals(SignalInputs{LegalName: "Acme Corp", Host: "acme.com"})
	assert.Equal(t, 1.0, s.NameURLMatch)

	s = DeriveSignals(SignalInputs{LegalName: "Totally Different", Host: "acme.com"})
	assert.Equal(t, 0.0, s.NameURLMatch)
}

func TestDeriveSignals_HomonymAndCoreFields(t *testing.T) {
	s := DeriveSignals(SignalInputs{
		HomonymWarnings:   0,
		CoreFieldsPresent: 4,
		CoreFieldsTotal:   5,
	})
	assert.Equal(t, 1.0, s.NoHomonymWarning)
	assert.InDelta(t, 0.8, s.CoreFieldsFilled, 1e-9)

	s = DeriveSignals(SignalInputs{HomonymWarnings: 2})
	assert.Equal(t, 0.0, s.NoHomonymWarning)
}

func TestDeriveSignals_CrossConsistency(t *testing.T) {
	s := DeriveSignals(SignalInputs{SourceNames: []string{"Acme Corp", "Acme Corp", "Other Inc"}})
	assert.InDelta(t, 2.0/3.0, s.CrossConsistency, 1e-9)

	s = DeriveSignals(SignalInputs{SourceNames: []string{"Acme Corp"}})
	assert.Equal(t, 0.0, s.CrossConsistency)
}

func TestDeriveSignals_CategoryCoverage(t *testing.T) {
	s := DeriveSignals(SignalInputs{
		Category:     "staffing_agency",
		GatheredText: "A leading staffing firm placing executives.",
	})
	assert.InDelta(t, 0.5, s.CategoryCoverage, 1e-9)
}
