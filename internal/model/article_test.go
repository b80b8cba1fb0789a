package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountWords_SkipsMarkupLines(t *testing.T) {
	md := strings.Join([]string{
		"# Title Here",
		"",
		"Two words",
		"![alt text](https://img.example/x.png)",
		"---",
		"three more words",
	}, "\n")
	assert.Equal(t, 2+2+3, CountWords(md))
}

func TestReadingTimeMinutes(t *testing.T) {
	assert.Equal(t, 0, ReadingTimeMinutes(0))
	assert.Equal(t, 1, ReadingTimeMinutes(1))
	assert.Equal(t, 1, ReadingTimeMinutes(200))
	assert.Equal(t, 2, ReadingTimeMinutes(201))
	assert.Equal(t, 8, ReadingTimeMinutes(1500))
}

func validPayload() *ArticlePayload {
	return &ArticlePayload{
		Title:     "A Title",
		Slug:      "a-title",
		Markdown:  strings.Repeat("word ", 900),
		WordCount: 900,
		Sections: []ArticleSection{
			{H2Title: "One", Body: "body", Sentiment: SentimentNeutral},
		},
	}
}

func TestArticlePayloadValidate_OK(t *testing.T) {
	require.NoError(t, validPayload().Validate(1000))
}

func TestArticlePayloadValidate_WordFloor(t *testing.T) {
	p := validPayload()
	p.WordCount = 849 // floor for 1000 target is 850
	assert.Error(t, p.Validate(1000))

	p.WordCount = 850
	assert.NoError(t, p.Validate(1000))
}

func TestArticlePayloadValidate_RequiredFields(t *testing.T) {
	p := validPayload()
	p.Title = "  "
	assert.Error(t, p.Validate(1000))

	p = validPayload()
	p.Slug = ""
	assert.Error(t, p.Validate(1000))
}

func TestArticlePayloadValidate_BadSentiment(t *testing.T) {
	p := validPayload()
	p.Sections[0].Sentiment = "gloomy"
	assert.Error(t, p.Validate(1000))
}

func TestArticlePayloadValidate_ImageIndex(t *testing.T) {
	p := validPayload()
	idx := 2
	p.Sections[0].ImageIndex = &idx
	// References content image 2 which is not populated.
	assert.Error(t, p.Validate(1000))

	p.Images.Set(SlotContent2, &ImageRecord{URL: "https://img.example/2.png"})
	assert.NoError(t, p.Validate(1000))

	out := 6
	p.Sections[0].ImageIndex = &out
	assert.Error(t, p.Validate(1000))
}

func TestArticlePayloadValidate_Mentions(t *testing.T) {
	p := validPayload()
	p.MentionedCompanies = []CompanyMention{{CompanyID: "", Relevance: 0.5}}
	assert.Error(t, p.Validate(1000))

	p.MentionedCompanies = []CompanyMention{{CompanyID: "c1", Relevance: 1.5}}
	assert.Error(t, p.Validate(1000))

	p.MentionedCompanies = []CompanyMention{{CompanyID: "c1", Relevance: 0.8}}
	assert.NoError(t, p.Validate(1000))
}

func TestImageBundle_SlotRoundTrip(t *testing.T) {
	var b ImageBundle
	assert.Equal(t, 0, b.Count())

	b.Set(SlotFeatured, &ImageRecord{URL: "f"})
	b.Set(SlotContent3, &ImageRecord{URL: "c3"})
	assert.Equal(t, 2, b.Count())
	assert.Equal(t, "f", b.Get(SlotFeatured).URL)
	assert.Equal(t, "c3", b.Get(SlotContent3).URL)
	assert.True(t, b.HasContent(3))
	assert.False(t, b.HasContent(1))
	assert.False(t, b.HasContent(6))
}

func TestProfileSectionSupported(t *testing.T) {
	ok := ProfileSection{MarkdownContent: "First sentence. Second sentence.", Confidence: 0.6}
	assert.True(t, ok.Supported())

	lowConf := ProfileSection{MarkdownContent: "First. Second.", Confidence: 0.4}
	assert.False(t, lowConf.Supported())

	tooShort := ProfileSection{MarkdownContent: "Only one sentence.", Confidence: 0.9}
	assert.False(t, tooShort.Supported())
}

func TestSentenceCount_Abbreviations(t *testing.T) {
	// Abbreviation periods and terminator runs do not end sentences.
	assert.Equal(t, 1, SentenceCount("Acme Inc. was founded in 2009."))
	assert.Equal(t, 2, SentenceCount("It ships worldwide, e.g. to the U.S. and Japan. Revenue doubled."))
	assert.Equal(t, 1, SentenceCount("Really?!"))
	assert.Equal(t, 0, SentenceCount("no terminator here"))
}

func TestProfilePayload_AddSection(t *testing.T) {
	var p ProfilePayload
	added := p.AddSection("overview", ProfileSection{MarkdownContent: "One. Two.", Confidence: 0.7})
	assert.True(t, added)
	dropped := p.AddSection("history", ProfileSection{MarkdownContent: "One.", Confidence: 0.7})
	assert.False(t, dropped)
	require.Len(t, p.Sections, 1)
	assert.Equal(t, "overview", p.Sections[0].Key)
}
