package activity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/normalize"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/internal/store"
	"github.com/quest-group/content-engine/pkg/firecrawl"
	"github.com/quest-group/content-engine/pkg/newsapi"
	"github.com/quest-group/content-engine/pkg/perplexity"
	"github.com/quest-group/content-engine/pkg/zep"
)

// Source confidence priors per adapter. Crawled pages rank highest because
// they carry full text; graph context lowest because it is derived.
const (
	confNews    = 0.6
	confDeep    = 0.7
	confCrawled = 0.8
	confGraph   = 0.5
)

// CheckRecordRequest looks up an existing record by idempotency handle.
type CheckRecordRequest struct {
	App    model.AppTag `json:"app"`
	Slug   string       `json:"slug"`
	Domain string       `json:"domain,omitempty"`
}

// CheckRecordResult reports what the existence probe found.
type CheckRecordResult struct {
	Exists    bool      `json:"exists"`
	RecordID  string    `json:"record_id,omitempty"`
	GraphID   string    `json:"graph_id,omitempty"`
	Slug      string    `json:"slug,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// CheckArticle probes for an article with the same (app, slug) handle.
func (a *Activities) CheckArticle(ctx context.Context, req CheckRecordRequest) (*CheckRecordResult, error) {
	rec, err := a.deps.Store.GetArticle(ctx, req.App, req.Slug)
	if err != nil {
		return nil, classify(err)
	}
	if rec == nil {
		return &CheckRecordResult{}, nil
	}
	return &CheckRecordResult{
		Exists:    true,
		RecordID:  rec.ID,
		GraphID:   rec.GraphID,
		Slug:      rec.Slug,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// CheckCompany probes for a company by slug, falling back to the domain
// so renamed slugs still dedupe.
func (a *Activities) CheckCompany(ctx context.Context, req CheckRecordRequest) (*CheckRecordResult, error) {
	rec, err := a.deps.Store.GetCompany(ctx, req.App, req.Slug)
	if err != nil {
		return nil, classify(err)
	}
	if rec == nil && req.Domain != "" {
		rec, err = a.deps.Store.GetCompanyByDomain(ctx, req.App, req.Domain)
		if err != nil {
			return nil, classify(err)
		}
	}
	if rec == nil {
		return &CheckRecordResult{}, nil
	}
	return &CheckRecordResult{
		Exists:    true,
		RecordID:  rec.ID,
		GraphID:   rec.GraphID,
		Slug:      rec.Slug,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// NewsSearchRequest parameterizes the news adapter call.
type NewsSearchRequest struct {
	Query      string `json:"query"`
	Geo        string `json:"geo,omitempty"`
	WindowDays int    `json:"window_days,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// NewsSearch runs the news query and returns its source bundle.
func (a *Activities) NewsSearch(ctx context.Context, req NewsSearchRequest) (*model.SourceBundle, error) {
	if err := a.deps.Limits.Wait(ctx, adapterNewsAPI); err != nil {
		return nil, classify(err)
	}

	start := time.Now()
	var window time.Duration
	if req.WindowDays > 0 {
		window = time.Duration(req.WindowDays) * 24 * time.Hour
	}
	resp, err := resilience.ExecuteVal(ctx, a.deps.Breakers.Get(adapterNewsAPI),
		func(ctx context.Context) (*newsapi.SearchResponse, error) {
			resp, err := a.deps.News.Search(ctx, newsapi.SearchRequest{
				Query:      req.Query,
				Geo:        req.Geo,
				TimeWindow: window,
				Limit:      req.Limit,
			})
			var apiErr *newsapi.APIError
			if errors.As(err, &apiErr) {
				return nil, httpAppError(apiErr.StatusCode, apiErr.RetryAfter, err)
			}
			return resp, err
		})
	if err != nil {
		return nil, classify(breakerOpen(err))
	}

	bundle := &model.SourceBundle{
		Kind:        model.SourceNewsSearch,
		Origin:      adapterNewsAPI,
		RetrievedAt: time.Now().UTC(),
		CostUSD:     a.deps.Costs.NewsQuery(),
		LatencyMS:   time.Since(start).Milliseconds(),
	}
	for _, art := range resp.Articles {
		bundle.Items = append(bundle.Items, model.ResearchItem{
			URL:         art.URL,
			Title:       art.Title,
			Snippet:     art.Description,
			PublishedAt: art.PublishedAt,
			Confidence:  confNews,
		})
		bundle.Seeds = append(bundle.Seeds, art.URL)
	}
	return bundle, nil
}

// DeepResearchRequest parameterizes the deep-research adapter call.
type DeepResearchRequest struct {
	Topic   string   `json:"topic"`
	Breadth int      `json:"breadth,omitempty"`
	Focus   []string `json:"focus,omitempty"`
}

// DeepResearch runs the model-backed research survey.
func (a *Activities) DeepResearch(ctx context.Context, req DeepResearchRequest) (*model.SourceBundle, error) {
	if err := a.deps.Limits.Wait(ctx, adapterPerplexity); err != nil {
		return nil, classify(err)
	}

	start := time.Now()
	result, err := resilience.ExecuteVal(ctx, a.deps.Breakers.Get(adapterPerplexity),
		func(ctx context.Context) (*perplexity.DeepResearchResult, error) {
			result, err := a.deps.Perplexity.DeepResearch(ctx, perplexity.DeepResearchRequest{
				Topic:   req.Topic,
				Breadth: req.Breadth,
				Focus:   req.Focus,
			})
			var apiErr *perplexity.APIError
			if errors.As(err, &apiErr) {
				return nil, httpAppError(apiErr.StatusCode, apiErr.RetryAfter, err)
			}
			return result, err
		})
	if err != nil {
		return nil, classify(breakerOpen(err))
	}

	bundle := &model.SourceBundle{
		Kind:        model.SourceDeepResearch,
		Origin:      adapterPerplexity,
		RetrievedAt: time.Now().UTC(),
		Seeds:       result.Seeds,
		CostUSD:     a.deps.Costs.PerplexityQuery(),
		LatencyMS:   time.Since(start).Milliseconds(),
	}
	for _, item := range result.Items {
		ri := model.ResearchItem{
			URL:        item.URL,
			Title:      item.Title,
			Snippet:    item.Summary,
			Confidence: confDeep,
		}
		if t, err := time.Parse("2006-01-02", item.Date); err == nil {
			ri.PublishedAt = &t
		}
		bundle.Items = append(bundle.Items, ri)
	}
	return bundle, nil
}

// CrawlURLsRequest fetches a set of pages into one source bundle.
type CrawlURLsRequest struct {
	URLs []string         `json:"urls"`
	Kind model.SourceKind `json:"kind"`
}

// CrawlURLs fetches pages through the hosted crawler when configured,
// falling back to the local fetcher per URL. Pages come from the crawl
// cache when fresh; fetched pages are written back. Individual page
// failures are tolerated; the activity fails only when nothing could be
// fetched and at least one failure was transient.
func (a *Activities) CrawlURLs(ctx context.Context, req CrawlURLsRequest) (*model.SourceBundle, error) {
	start := time.Now()
	bundle := &model.SourceBundle{
		Kind:        req.Kind,
		Origin:      adapterFirecrawl,
		RetrievedAt: time.Now().UTC(),
	}
	if a.deps.Firecrawl == nil {
		bundle.Origin = "local"
	}

	ttl := time.Duration(a.deps.Config.Crawl.CacheTTLHours) * time.Hour
	var misses []string
	seen := make(map[string]bool)
	for _, raw := range req.URLs {
		canon, err := normalize.CanonicalizeURL(raw)
		if err != nil || seen[canon] {
			continue
		}
		seen[canon] = true
		cached, err := a.deps.Store.GetCachedCrawl(ctx, canon)
		if err != nil {
			zap.L().Warn("crawl cache read failed", zap.String("url", canon), zap.Error(err))
		}
		if cached != nil {
			bundle.Items = append(bundle.Items, model.ResearchItem{
				URL:        canon,
				Title:      cached.Title,
				FullText:   cached.Markdown,
				Confidence: confCrawled,
			})
			continue
		}
		misses = append(misses, canon)
	}

	var transientFailure bool
	remaining := misses
	if a.deps.Firecrawl != nil && len(misses) > 0 {
		pages, err := a.batchScrape(ctx, misses)
		if err != nil {
			zap.L().Warn("hosted scrape failed, falling back to local fetch", zap.Error(err))
			transientFailure = true
		} else {
			bundle.CostUSD += a.deps.Costs.CrawlPages(len(pages))
			remaining = a.absorbPages(ctx, bundle, misses, pages, ttl)
		}
	}

	for _, u := range remaining {
		page, err := a.deps.Local.Fetch(ctx, u)
		if err != nil {
			if resilience.IsTransient(err) {
				transientFailure = true
			}
			zap.L().Debug("page fetch failed", zap.String("url", u), zap.Error(err))
			continue
		}
		bundle.Items = append(bundle.Items, model.ResearchItem{
			URL:        u,
			Title:      page.Title,
			FullText:   page.Markdown,
			Confidence: confCrawled,
		})
		a.cachePage(ctx, u, page.Title, page.Markdown, ttl)
	}

	bundle.LatencyMS = time.Since(start).Milliseconds()
	if bundle.Empty() && len(req.URLs) > 0 {
		if transientFailure {
			return nil, classify(resilience.NewAppError(resilience.KindTransient, resilience.CodeFetchFail,
				eris.Errorf("crawl: all %d pages failed", len(req.URLs))))
		}
		bundle.FailureNote = "no pages yielded usable content"
	}
	return bundle, nil
}

// batchScrape runs the hosted batch scrape and polls it to completion.
func (a *Activities) batchScrape(ctx context.Context, urls []string) ([]firecrawl.PageData, error) {
	if err := a.deps.Limits.Wait(ctx, adapterFirecrawl); err != nil {
		return nil, err
	}
	return resilience.ExecuteVal(ctx, a.deps.Breakers.Get(adapterFirecrawl),
		func(ctx context.Context) ([]firecrawl.PageData, error) {
			resp, err := a.deps.Firecrawl.BatchScrape(ctx, firecrawl.BatchScrapeRequest{
				URLs:    urls,
				Formats: []string{"markdown"},
			})
			if err != nil {
				return nil, firecrawlAppError(err)
			}
			status, err := firecrawl.PollBatchScrape(ctx, a.deps.Firecrawl, resp.ID)
			if err != nil {
				return nil, firecrawlAppError(err)
			}
			return status.Data, nil
		})
}

// firecrawlAppError maps hosted-crawler API failures into the taxonomy so
// the circuit breaker counts outages but not bad requests.
func firecrawlAppError(err error) error {
	var apiErr *firecrawl.APIError
	if errors.As(err, &apiErr) {
		return httpAppError(apiErr.StatusCode, apiErr.RetryAfter, err)
	}
	return err
}

// absorbPages merges hosted-crawler pages into the bundle and returns the
// requested URLs it did not cover, so the local fetcher can pick them up.
func (a *Activities) absorbPages(ctx context.Context, bundle *model.SourceBundle, requested []string, pages []firecrawl.PageData, ttl time.Duration) []string {
	covered := make(map[string]bool, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p.Markdown) == "" {
			continue
		}
		canon, err := normalize.CanonicalizeURL(p.URL)
		if err != nil {
			canon = p.URL
		}
		covered[canon] = true
		bundle.Items = append(bundle.Items, model.ResearchItem{
			URL:        canon,
			Title:      p.Title,
			FullText:   p.Markdown,
			Confidence: confCrawled,
		})
		a.cachePage(ctx, canon, p.Title, p.Markdown, ttl)
	}

	var remaining []string
	for _, u := range requested {
		if !covered[u] {
			remaining = append(remaining, u)
		}
	}
	return remaining
}

func (a *Activities) cachePage(ctx context.Context, canon, title, markdown string, ttl time.Duration) {
	err := a.deps.Store.SetCachedCrawl(ctx, canon, &store.CachedPage{
		URL:       canon,
		Title:     title,
		Markdown:  markdown,
		FetchedAt: time.Now().UTC(),
	}, ttl)
	if err != nil {
		zap.L().Warn("crawl cache write failed", zap.String("url", canon), zap.Error(err))
	}
}

// CrawlSiteRequest walks a company site from its root.
type CrawlSiteRequest struct {
	URL      string `json:"url"`
	MaxDepth int    `json:"max_depth,omitempty"`
	MaxPages int    `json:"max_pages,omitempty"`
}

// CrawlSite crawls same-host pages through the hosted crawler when
// configured, otherwise breadth-first with the local fetcher.
func (a *Activities) CrawlSite(ctx context.Context, req CrawlSiteRequest) (*model.SourceBundle, error) {
	start := time.Now()
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = a.deps.Config.Crawl.MaxDepth
	}
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = a.deps.Config.Crawl.MaxPages
	}

	bundle := &model.SourceBundle{
		Kind:        model.SourceCrawledAuth,
		Origin:      adapterFirecrawl,
		RetrievedAt: time.Now().UTC(),
	}
	ttl := time.Duration(a.deps.Config.Crawl.CacheTTLHours) * time.Hour

	if a.deps.Firecrawl != nil {
		pages, err := a.hostedSiteCrawl(ctx, req.URL, maxDepth, maxPages)
		if err == nil {
			for _, p := range pages {
				if strings.TrimSpace(p.Markdown) == "" {
					continue
				}
				bundle.Items = append(bundle.Items, model.ResearchItem{
					URL:        p.URL,
					Title:      p.Title,
					FullText:   p.Markdown,
					Confidence: confCrawled,
				})
			}
			bundle.CostUSD = a.deps.Costs.CrawlPages(len(bundle.Items))
			bundle.LatencyMS = time.Since(start).Milliseconds()
			if !bundle.Empty() {
				return bundle, nil
			}
		} else {
			zap.L().Warn("hosted site crawl failed, falling back to local crawl",
				zap.String("url", req.URL), zap.Error(err))
		}
	}

	bundle.Origin = "local"
	pages, err := a.deps.Local.SiteCrawl(ctx, req.URL, maxDepth, maxPages)
	if err != nil && len(pages) == 0 {
		return nil, classify(resilience.NewAppError(resilience.KindTransient, resilience.CodeFetchFail,
			eris.Wrapf(err, "crawl site %s", req.URL)))
	}
	for _, p := range pages {
		bundle.Items = append(bundle.Items, model.ResearchItem{
			URL:        p.URL,
			Title:      p.Title,
			FullText:   p.Markdown,
			Confidence: confCrawled,
		})
		a.cachePage(ctx, p.URL, p.Title, p.Markdown, ttl)
	}
	bundle.LatencyMS = time.Since(start).Milliseconds()
	if bundle.Empty() {
		bundle.FailureNote = "site crawl yielded no usable pages"
	}
	return bundle, nil
}

func (a *Activities) hostedSiteCrawl(ctx context.Context, url string, maxDepth, maxPages int) ([]firecrawl.PageData, error) {
	if err := a.deps.Limits.Wait(ctx, adapterFirecrawl); err != nil {
		return nil, err
	}
	return resilience.ExecuteVal(ctx, a.deps.Breakers.Get(adapterFirecrawl),
		func(ctx context.Context) ([]firecrawl.PageData, error) {
			resp, err := a.deps.Firecrawl.Crawl(ctx, firecrawl.CrawlRequest{
				URL:      url,
				MaxDepth: maxDepth,
				Limit:    maxPages,
			})
			if err != nil {
				return nil, firecrawlAppError(err)
			}
			status, err := firecrawl.PollCrawl(ctx, a.deps.Firecrawl, resp.ID)
			if err != nil {
				return nil, firecrawlAppError(err)
			}
			return status.Data, nil
		})
}

// GraphContextRequest queries the knowledge graph for prior context.
type GraphContextRequest struct {
	GraphID string `json:"graph_id"`
	Query   string `json:"query"`
	Limit   int    `json:"limit,omitempty"`
}

// GraphContext retrieves related facts from the knowledge graph as a
// synthetic source bundle. With no graph client configured it returns an
// empty bundle rather than failing.
func (a *Activities) GraphContext(ctx context.Context, req GraphContextRequest) (*model.SourceBundle, error) {
	bundle := &model.SourceBundle{
		Kind:        model.SourceGraphContext,
		Origin:      adapterZep,
		RetrievedAt: time.Now().UTC(),
	}
	if a.deps.Graph == nil {
		bundle.FailureNote = "graph client not configured"
		return bundle, nil
	}
	if err := a.deps.Limits.Wait(ctx, adapterZep); err != nil {
		return nil, classify(err)
	}

	start := time.Now()
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	resp, err := resilience.ExecuteVal(ctx, a.deps.Breakers.Get(adapterZep),
		func(ctx context.Context) (*zep.SearchResponse, error) {
			resp, err := a.deps.Graph.SearchGraph(ctx, zep.SearchRequest{
				GraphID: req.GraphID,
				Query:   req.Query,
				Limit:   limit,
			})
			var apiErr *zep.APIError
			if errors.As(err, &apiErr) {
				return nil, httpAppError(apiErr.StatusCode, apiErr.RetryAfter, err)
			}
			return resp, err
		})
	if err != nil {
		return nil, classify(breakerOpen(err))
	}

	for _, edge := range resp.Edges {
		bundle.Items = append(bundle.Items, model.ResearchItem{
			Title:      edge.Name,
			Snippet:    edge.Fact,
			Confidence: confGraph,
			Synthetic:  true,
		})
	}
	for _, node := range resp.Nodes {
		if node.Summary == "" {
			continue
		}
		bundle.Items = append(bundle.Items, model.ResearchItem{
			Title:      node.Name,
			Snippet:    node.Summary,
			Confidence: confGraph,
			Synthetic:  true,
		})
	}
	bundle.LatencyMS = time.Since(start).Milliseconds()
	return bundle, nil
}

// ValidateURLsRequest probes outbound link targets.
type ValidateURLsRequest struct {
	URLs []string `json:"urls"`
}

// ValidateURLsResult splits the probed set into live and dead URLs.
type ValidateURLsResult struct {
	Valid   []string `json:"valid"`
	Dropped []string `json:"dropped"`
}

// validateConcurrency caps parallel link probes per activity execution.
const validateConcurrency = 8

// ValidateURLs checks that source links still resolve. Probes run
// concurrently; transient failures count the URL as valid, only confirmed
// dead links are dropped. Input order is preserved in both lists.
func (a *Activities) ValidateURLs(ctx context.Context, req ValidateURLsRequest) (*ValidateURLsResult, error) {
	alive := make([]bool, len(req.URLs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(validateConcurrency)
	for i, u := range req.URLs {
		g.Go(func() error {
			err := a.deps.Local.Check(gctx, u)
			alive[i] = err == nil || resilience.IsTransient(err)
			return nil
		})
	}
	_ = g.Wait()

	result := &ValidateURLsResult{}
	for i, u := range req.URLs {
		if alive[i] {
			result.Valid = append(result.Valid, u)
			continue
		}
		result.Dropped = append(result.Dropped, u)
	}
	return result, nil
}
