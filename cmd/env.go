package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/activity"
	"github.com/quest-group/content-engine/internal/cost"
	"github.com/quest-group/content-engine/internal/crawl"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/internal/store"
	"github.com/quest-group/content-engine/internal/synth"
	"github.com/quest-group/content-engine/internal/workflow"
	anthropicpkg "github.com/quest-group/content-engine/pkg/anthropic"
	"github.com/quest-group/content-engine/pkg/firecrawl"
	"github.com/quest-group/content-engine/pkg/imagegen"
	"github.com/quest-group/content-engine/pkg/newsapi"
	"github.com/quest-group/content-engine/pkg/perplexity"
	"github.com/quest-group/content-engine/pkg/zep"
)

// appEnv holds the initialized store, activity set, and Temporal client
// shared by the worker, trigger, and serve commands.
type appEnv struct {
	Store      store.Store
	Activities *activity.Activities
	Temporal   client.Client
	Breakers   *resilience.ServiceBreakers
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Temporal != nil {
		e.Temporal.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore creates the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres", "":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv sets up the store, all vendor clients, the activity set, and the
// Temporal client. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	newsClient := newsapi.NewClient(cfg.NewsAPI.Key, newsapi.WithBaseURL(cfg.NewsAPI.BaseURL))
	perplexityClient := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model))
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	imageClient := imagegen.NewClient(cfg.ImageGen.Key,
		imagegen.WithBaseURL(cfg.ImageGen.BaseURL),
		imagegen.WithModel(cfg.ImageGen.Model))

	// Hosted crawler is optional; the crawl activities fall back to the
	// local fetcher without it.
	var firecrawlClient firecrawl.Client
	if cfg.Firecrawl.Key != "" {
		firecrawlClient = firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
	} else {
		zap.L().Info("firecrawl not configured, crawling with the local fetcher")
	}

	// Knowledge graph is optional; graph phases soft-skip without it.
	var graphClient zep.Client
	if cfg.Zep.Key != "" {
		graphClient = zep.NewClient(cfg.Zep.Key, zep.WithBaseURL(cfg.Zep.BaseURL))
	} else {
		zap.L().Info("zep not configured, graph phases will be skipped")
	}

	limits := resilience.NewLimiterSet(cfg.RateLimit.DefaultPerSec, cfg.RateLimit.Burst)
	for adapter, perSec := range cfg.RateLimit.Adapters {
		limits.Configure(adapter, perSec, cfg.RateLimit.Burst)
	}

	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
		ShouldTrip: resilience.IsTransient,
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("circuit state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	acts := activity.New(activity.Deps{
		Store:      st,
		News:       newsClient,
		Perplexity: perplexityClient,
		Firecrawl:  firecrawlClient,
		Local:      crawl.NewFetcher(cfg.RateLimit.DefaultPerSec),
		Synth:      synth.New(anthropicClient, cfg.Anthropic, cfg.Synthesis),
		Images:     imageClient,
		Graph:      graphClient,
		Limits:     limits,
		Breakers:   breakers,
		Costs:      cost.NewCalculator(cfg.Pricing),
		Config:     cfg,
	})

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    zapAdapter{s: zap.S()},
	})
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "dial temporal")
	}

	return &appEnv{Store: st, Activities: acts, Temporal: tc, Breakers: breakers}, nil
}

// taskQueue resolves the configured queue, defaulting to the shared one.
func taskQueue() string {
	if cfg.Temporal.TaskQueue != "" {
		return cfg.Temporal.TaskQueue
	}
	return workflow.TaskQueue
}

// zapAdapter bridges the Temporal SDK logger onto the global zap logger.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (z zapAdapter) Debug(msg string, keyvals ...interface{}) { z.s.Debugw(msg, keyvals...) }
func (z zapAdapter) Info(msg string, keyvals ...interface{})  { z.s.Infow(msg, keyvals...) }
func (z zapAdapter) Warn(msg string, keyvals ...interface{})  { z.s.Warnw(msg, keyvals...) }
func (z zapAdapter) Error(msg string, keyvals ...interface{}) { z.s.Errorw(msg, keyvals...) }
