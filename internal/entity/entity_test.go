package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quest-group/content-engine/internal/store"
)

const sampleBody = `Acme Partners announced a new fund this week. The firm,
which competes with Globex Holdings, has doubled headcount.

## How Acme Partners compares

Acme Partners and Globex Holdings both target mid-market deals.
Analysts at Initech said the market remains crowded.`

func TestExtract_DictionaryNamesFound(t *testing.T) {
	candidates := Extract(sampleBody, []string{"Acme Partners", "Globex Holdings"})
	require.NotEmpty(t, candidates)

	byName := map[string]Candidate{}
	for _, c := range candidates {
		byName[c.Name] = c
	}

	acme, ok := byName["Acme Partners"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, acme.Frequency, 3)
	assert.True(t, acme.InIntro)
	assert.True(t, acme.InHeading)
	assert.Greater(t, acme.CoMentions, 0)

	globex, ok := byName["Globex Holdings"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, globex.Frequency, 2)
}

func TestExtract_OrderedByRelevance(t *testing.T) {
	candidates := Extract(sampleBody, []string{"Acme Partners", "Globex Holdings"})
	for i := 1; i < len(candidates); i++ {
		assert.GreaterOrEqual(t, candidates[i-1].Relevance, candidates[i].Relevance)
	}
	require.NotEmpty(t, candidates)
	assert.Equal(t, "Acme Partners", candidates[0].Name)
}

func TestExtract_StopPhrasesSkipped(t *testing.T) {
	body := strings.Repeat("The United States market grew. ", 5)
	candidates := Extract(body, nil)
	for _, c := range candidates {
		assert.NotEqual(t, "United States", c.Name)
	}
}

func TestExtract_LowRelevanceDiscarded(t *testing.T) {
	body := strings.Repeat("filler text without names. ", 40) +
		"a passing note about zenith widgets near the end."
	// One deep mention with no boosts stays under the floor.
	for _, c := range Extract(body, []string{"Zenith Widgets"}) {
		assert.NotEqual(t, "Zenith Widgets", c.Name)
	}
}

func refs() []store.CompanyRef {
	return []store.CompanyRef{
		{ID: "id-acme", Slug: "acme-partners", LegalName: "Acme Partners LLC", Domain: "acmepartners.com"},
		{ID: "id-globex", Slug: "globex", LegalName: "Globex Holdings", Domain: "globex.com"},
		{ID: "id-init", Slug: "initech-systems", LegalName: "Initech Systems Corporation", Domain: "initech.com"},
	}
}

func TestLink_ExactSlug(t *testing.T) {
	result := Link([]Candidate{{Name: "Acme Partners", Relevance: 0.8}}, refs())
	require.Len(t, result.Mentions, 1)
	assert.Equal(t, "id-acme", result.Mentions[0].CompanyID)
	assert.Equal(t, 0.8, result.Mentions[0].Relevance)
	assert.Empty(t, result.Unresolved)
}

func TestLink_FuzzyLegalName(t *testing.T) {
	// "Acme Partnars" is one edit from "Acme Partners" after the LLC
	// suffix is dropped.
	result := Link([]Candidate{{Name: "Acme Partnars", Relevance: 0.5}}, refs())
	require.Len(t, result.Mentions, 1)
	assert.Equal(t, "id-acme", result.Mentions[0].CompanyID)
}

func TestLink_DomainFallback(t *testing.T) {
	// "Initech" is nothing like the stored legal name but matches the
	// base of initech.com.
	result := Link([]Candidate{{Name: "Initech", Relevance: 0.4}}, refs())
	require.Len(t, result.Mentions, 1)
	assert.Equal(t, "id-init", result.Mentions[0].CompanyID)
}

func TestLink_UnresolvedRecorded(t *testing.T) {
	result := Link([]Candidate{{Name: "Completely Unknown Firm", Relevance: 0.6}}, refs())
	assert.Empty(t, result.Mentions)
	require.Len(t, result.Unresolved, 1)
	assert.Equal(t, "Completely Unknown Firm", result.Unresolved[0].Name)
}

func TestLink_DeduplicatesByCompany(t *testing.T) {
	result := Link([]Candidate{
		{Name: "Acme Partners", Relevance: 0.8},
		{Name: "Acme Partners LLC", Relevance: 0.6},
	}, refs())
	assert.Len(t, result.Mentions, 1)
}

func TestNormalizeName_DropsSuffixes(t *testing.T) {
	assert.Equal(t, normalizeName("Acme Inc."), normalizeName("Acme"))
	assert.Equal(t, normalizeName("Globex Holdings"), normalizeName("globex holdings"))
}
