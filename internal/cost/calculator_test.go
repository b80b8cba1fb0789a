package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaude_KnownModel(t *testing.T) {
	c := NewCalculator(DefaultRates())
	// 1M in + 1M out on sonnet: 3.00 + 15.00.
	got := c.Claude("claude-sonnet-4-5-20250929", 1_000_000, 1_000_000, 0, 0)
	assert.InDelta(t, 18.00, got, 0.001)
}

func TestClaude_UnknownModelIsFree(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.Equal(t, 0.0, c.Claude("not-a-model", 1000, 1000, 0, 0))
}

func TestClaude_CacheMultipliers(t *testing.T) {
	c := NewCalculator(Rates{
		Anthropic: map[string]ModelRate{
			"m": {Input: 1.0, Output: 2.0, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
	})
	// 1M cache write at 1.25x input, 1M cache read at 0.1x input.
	got := c.Claude("m", 0, 0, 1_000_000, 1_000_000)
	assert.InDelta(t, 1.35, got, 0.001)
}

func TestCrawlPages_Amortized(t *testing.T) {
	c := NewCalculator(Rates{Firecrawl: FirecrawlRate{PlanMonthly: 30, CreditsIncluded: 3000}})
	assert.InDelta(t, 0.10, c.CrawlPages(10), 0.0001)
}

func TestCrawlPages_NoCredits(t *testing.T) {
	c := NewCalculator(Rates{})
	assert.Equal(t, 0.0, c.CrawlPages(100))
}

func TestFlatRates(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.Equal(t, 0.002, c.NewsQuery())
	assert.Equal(t, 0.005, c.PerplexityQuery())
	assert.InDelta(t, 0.28, c.Images(7), 0.0001)
}
