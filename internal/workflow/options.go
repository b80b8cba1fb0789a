// Package workflow holds the deterministic phase sequencers for the two
// content pipelines. Everything that touches the network or the database
// is scheduled as an activity; this package only derives, joins, and
// decides.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/quest-group/content-engine/internal/config"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/internal/scoring"
)

// TaskQueue is the logical queue both pipelines are triggered through.
const TaskQueue = "quest-content-queue"

// Phase names, used for run bookkeeping and failure reporting.
const (
	PhaseNormalize  = "normalize_dedupe"
	PhaseResearch   = "research_fanout"
	PhaseGraphCtx   = "graph_context"
	PhaseValidate   = "url_validation"
	PhaseSynthesis  = "synthesis"
	PhaseSentiment  = "section_sentiment"
	PhaseCleanse    = "link_cleanse"
	PhaseImages     = "image_generation"
	PhaseEntities   = "entity_extraction"
	PhaseAmbiguity  = "ambiguity_scoring"
	PhaseReresearch = "reresearch"
	PhasePersist    = "persistence"
	PhaseBackfill   = "article_backfill"
	PhaseGraphSync  = "graph_sync"
)

// Policy carries the config knobs the sequencers branch on. It is resolved
// at trigger time and travels with the workflow input, so replay sees the
// values the run started with even if config changes underneath.
type Policy struct {
	FloorArticle            float64                  `json:"floor_article"`
	FloorCompany            float64                  `json:"floor_company"`
	BelowFloorMode          config.BelowFloorMode    `json:"below_floor_mode"`
	MinConfidencePublish    float64                  `json:"min_confidence_publish"`
	MaxReresearchAttempts   int                      `json:"max_reresearch_attempts"`
	RescrapeOnLowConfidence bool                     `json:"rescrape_on_low_confidence"`
	DuplicateLookbackDays   int                      `json:"duplicate_lookback_days"`
	NewsWindowDays          int                      `json:"news_window_days"`
	CrawlMaxPages           int                      `json:"crawl_max_pages"`
	CrawlMaxDepth           int                      `json:"crawl_max_depth"`
}

// PolicyFromConfig snapshots the workflow-relevant config.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		FloorArticle:            cfg.Completeness.FloorArticle,
		FloorCompany:            cfg.Completeness.FloorCompany,
		BelowFloorMode:          cfg.Completeness.BelowFloorMode,
		MinConfidencePublish:    cfg.Synthesis.MinConfidencePublish,
		MaxReresearchAttempts:   cfg.Research.MaxReresearchAttempts,
		RescrapeOnLowConfidence: cfg.Research.RescrapeOnLowConfidence,
		DuplicateLookbackDays:   cfg.Research.DuplicateLookbackDays,
		NewsWindowDays:          30,
		CrawlMaxPages:           cfg.Crawl.MaxPages,
		CrawlMaxDepth:           cfg.Crawl.MaxDepth,
	}
}

func (p Policy) withDefaults() Policy {
	if p.FloorArticle == 0 {
		p.FloorArticle = scoring.DefaultFloors().Article
	}
	if p.FloorCompany == 0 {
		p.FloorCompany = scoring.DefaultFloors().Company
	}
	if p.BelowFloorMode == "" {
		p.BelowFloorMode = config.BelowFloorDraft
	}
	if p.MinConfidencePublish == 0 {
		p.MinConfidencePublish = scoring.ReresearchThreshold
	}
	if p.NewsWindowDays == 0 {
		p.NewsWindowDays = 30
	}
	return p
}

// phaseCtx applies the standard per-phase activity options: the declared
// timeout plus exponential backoff 1s, factor 2, capped at 60s.
func phaseCtx(ctx workflow.Context, timeout time.Duration, maxAttempts int32) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    60 * time.Second,
			MaximumAttempts:    maxAttempts,
			NonRetryableErrorTypes: []string{
				string(resilience.KindInput),
				string(resilience.KindData),
				string(resilience.KindBusiness),
			},
		},
	})
}

// Per-phase timeouts from the phase tables.
const (
	timeoutDedupe    = 15 * time.Second
	timeoutResearch  = 120 * time.Second
	timeoutGraphCtx  = 10 * time.Second
	timeoutValidate  = 60 * time.Second
	timeoutSynthesis = 180 * time.Second
	timeoutSentiment = 30 * time.Second
	timeoutCleanse   = 60 * time.Second
	timeoutImage     = 90 * time.Second
	timeoutEntities  = 30 * time.Second
	timeoutPersist   = 30 * time.Second
	timeoutGraphSync = 30 * time.Second
	timeoutBookkeep  = 10 * time.Second
)
