// Package cost tracks vendor spend per research source and synthesis call.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	NewsSearch NewsSearchRate       `yaml:"news_search" mapstructure:"news_search"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
	Firecrawl  FirecrawlRate        `yaml:"firecrawl" mapstructure:"firecrawl"`
	ImageGen   ImageGenRate         `yaml:"imagegen" mapstructure:"imagegen"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// NewsSearchRate holds per-query news search pricing.
type NewsSearchRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// PerplexityRate holds deep-research pricing.
type PerplexityRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// FirecrawlRate holds crawl pricing, amortized from plan credits.
type FirecrawlRate struct {
	PlanMonthly     float64 `yaml:"plan_monthly" mapstructure:"plan_monthly"`
	CreditsIncluded float64 `yaml:"credits_included" mapstructure:"credits_included"`
}

// ImageGenRate holds per-image generation pricing.
type ImageGenRate struct {
	PerImage float64 `yaml:"per_image" mapstructure:"per_image"`
}

// Calculator computes USD costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul
	return inCost + outCost + cwCost + crCost
}

// NewsQuery returns the flat cost per news search query.
func (c *Calculator) NewsQuery() float64 {
	return c.rates.NewsSearch.PerQuery
}

// PerplexityQuery returns the flat cost per deep-research query.
func (c *Calculator) PerplexityQuery() float64 {
	return c.rates.Perplexity.PerQuery
}

// CrawlPages amortizes crawl credits: one credit per page.
func (c *Calculator) CrawlPages(pages int) float64 {
	if c.rates.Firecrawl.CreditsIncluded <= 0 {
		return 0
	}
	perCredit := c.rates.Firecrawl.PlanMonthly / c.rates.Firecrawl.CreditsIncluded
	return perCredit * float64(pages)
}

// Images returns the cost for n generated images.
func (c *Calculator) Images(n int) float64 {
	return c.rates.ImageGen.PerImage * float64(n)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		NewsSearch: NewsSearchRate{PerQuery: 0.002},
		Perplexity: PerplexityRate{PerQuery: 0.005},
		Firecrawl:  FirecrawlRate{PlanMonthly: 19.00, CreditsIncluded: 3000},
		ImageGen:   ImageGenRate{PerImage: 0.04},
	}
}
