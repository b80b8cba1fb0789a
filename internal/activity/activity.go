// Package activity implements the side-effecting steps the workflows
// schedule: vendor research, synthesis, image generation, persistence,
// graph sync, and run bookkeeping. Everything deterministic lives in the
// workflow package; everything that touches the network or the database
// lives here.
package activity

import (
	"github.com/quest-group/content-engine/internal/config"
	"github.com/quest-group/content-engine/internal/cost"
	"github.com/quest-group/content-engine/internal/crawl"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/internal/store"
	"github.com/quest-group/content-engine/internal/synth"
	"github.com/quest-group/content-engine/pkg/firecrawl"
	"github.com/quest-group/content-engine/pkg/imagegen"
	"github.com/quest-group/content-engine/pkg/newsapi"
	"github.com/quest-group/content-engine/pkg/perplexity"
	"github.com/quest-group/content-engine/pkg/zep"
)

// Adapter names used for rate limiting.
const (
	adapterNewsAPI    = "newsapi"
	adapterPerplexity = "perplexity"
	adapterFirecrawl  = "firecrawl"
	adapterImageGen   = "imagegen"
	adapterZep        = "zep"
)

// Deps is the capability set the activities run against. Nil optional
// clients (Firecrawl, Graph) disable their adapters; the activities fall
// back or soft-skip.
type Deps struct {
	Store      store.Store
	News       newsapi.Client
	Perplexity perplexity.Client
	Firecrawl  firecrawl.Client
	Local      *crawl.Fetcher
	Synth      *synth.Synthesizer
	Images     imagegen.Client
	Graph      zep.Client
	Limits     *resilience.LimiterSet
	Breakers   *resilience.ServiceBreakers
	Costs      *cost.Calculator
	Config     *config.Config
}

// Activities is the registration target for the worker.
type Activities struct {
	deps Deps
}

// New creates the activity set.
func New(d Deps) *Activities {
	if d.Limits == nil {
		d.Limits = resilience.NewLimiterSet(5, 2)
	}
	if d.Breakers == nil {
		// Only transient failures trip a breaker; a vendor rejecting our
		// input is not a vendor outage.
		d.Breakers = resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
			ShouldTrip: resilience.IsTransient,
		})
	}
	if d.Costs == nil {
		d.Costs = cost.NewCalculator(cost.DefaultRates())
	}
	return &Activities{deps: d}
}
