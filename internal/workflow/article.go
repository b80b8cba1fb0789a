package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/quest-group/content-engine/internal/activity"
	"github.com/quest-group/content-engine/internal/config"
	"github.com/quest-group/content-engine/internal/imageseq"
	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/normalize"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/internal/scoring"
	"github.com/quest-group/content-engine/internal/store"
)

// ArticleParams is the trigger payload for the article pipeline.
type ArticleParams struct {
	Input  model.ArticleInput `json:"input"`
	Policy Policy             `json:"policy"`
}

// ArticleWorkflow drives a topic from research fan-out through synthesis,
// imaging, entity linking, and persistence. Research sources and
// enrichment phases soft-fail into events; synthesis and persistence are
// fatal.
func ArticleWorkflow(ctx workflow.Context, params ArticleParams) (*model.WorkflowResult, error) {
	in := params.Input.WithDefaults()
	policy := params.Policy.withDefaults()
	logger := workflow.GetLogger(ctx)

	result := &model.WorkflowResult{Kind: model.KindArticle}
	if err := in.Validate(); err != nil {
		result.Status = model.RunStatusFailed
		result.FailedPhase = PhaseNormalize
		result.ErrorKind = string(resilience.KindInput)
		result.Error = err.Error()
		return result, nil
	}

	topic := normalize.NormalizeTopic(in.Topic)
	slug := normalize.TopicSlug(in.Topic)
	result.Slug = slug
	logger.Info("article workflow started", "topic", topic.Canonical, "slug", slug, "app", string(in.App))

	runID := workflow.GetInfo(ctx).WorkflowExecution.ID
	track := newTracker(ctx, runID, model.KindArticle, in.App, slug, in)

	var events []model.Event
	var cost float64

	// Existence probe. A record refreshed inside the lookback window ends
	// the run; a staler one flips the persist into force-update mode.
	var check activity.CheckRecordResult
	err := track.phase(ctx, PhaseNormalize, func() (model.PhaseStatus, error) {
		pc := phaseCtx(ctx, timeoutDedupe, 3)
		return "", workflow.ExecuteActivity(pc, acts.CheckArticle, activity.CheckRecordRequest{
			App:  in.App,
			Slug: slug,
		}).Get(pc, &check)
	})
	if err != nil {
		if canceled(ctx, err) {
			return track.complete(ctx, cancelWith(result, PhaseNormalize, events, cost)), nil
		}
		return track.complete(ctx, failWith(result, PhaseNormalize, err, events, cost)), nil
	}
	force := false
	if check.Exists {
		lookback := time.Duration(policy.DuplicateLookbackDays) * 24 * time.Hour
		if policy.DuplicateLookbackDays <= 0 || workflow.Now(ctx).Sub(check.UpdatedAt) <= lookback {
			logger.Info("article already exists", "slug", slug, "record_id", check.RecordID)
			result.Status = model.RunStatusExists
			result.RecordID = check.RecordID
			result.GraphID = check.GraphID
			return track.complete(ctx, result), nil
		}
		force = true
	}

	// Research fan-out: news and deep research in parallel, then a second
	// wave crawling the seeds the first wave surfaced. Each source
	// soft-joins; the run fails only when every source came back empty.
	var research model.ResearchBundle
	_ = track.phase(ctx, PhaseResearch, func() (model.PhaseStatus, error) {
		rc := phaseCtx(ctx, timeoutResearch, 3)
		newsF := workflow.ExecuteActivity(rc, acts.NewsSearch, activity.NewsSearchRequest{
			Query:      topic.Canonical,
			Geo:        in.Jurisdiction,
			WindowDays: policy.NewsWindowDays,
			Limit:      in.ResearchBreadth,
		})
		deepF := workflow.ExecuteActivity(rc, acts.DeepResearch, activity.DeepResearchRequest{
			Topic:   topic.Original,
			Breadth: in.ResearchBreadth,
			Focus:   articleFocus(in),
		})
		research.NewsSearch = awaitBundle(rc, newsF, model.SourceNewsSearch, &events)
		research.DeepResearch = awaitBundle(rc, deepF, model.SourceDeepResearch, &events)

		newsURLs := topURLs(research.NewsSearch, crawlBudget(in, policy))
		authURLs := seedURLs(research.DeepResearch, crawlBudget(in, policy))
		var crawlNewsF, crawlAuthF workflow.Future
		if len(newsURLs) > 0 {
			crawlNewsF = workflow.ExecuteActivity(rc, acts.CrawlURLs, activity.CrawlURLsRequest{
				URLs: newsURLs, Kind: model.SourceCrawledNews,
			})
		}
		if len(authURLs) > 0 {
			crawlAuthF = workflow.ExecuteActivity(rc, acts.CrawlURLs, activity.CrawlURLsRequest{
				URLs: authURLs, Kind: model.SourceCrawledAuth,
			})
		}
		if crawlNewsF != nil {
			research.CrawledNews = awaitBundle(rc, crawlNewsF, model.SourceCrawledNews, &events)
		}
		if crawlAuthF != nil {
			research.CrawledAuth = awaitBundle(rc, crawlAuthF, model.SourceCrawledAuth, &events)
		}
		return "", nil
	})
	if ctx.Err() != nil {
		return track.complete(ctx, cancelWith(result, PhaseResearch, events, cost)), nil
	}
	if research.NonEmptyCount() == 0 {
		result.Status = model.RunStatusFailed
		result.FailedPhase = PhaseResearch
		result.ErrorKind = string(resilience.KindDependency)
		result.Error = resilience.CodeEmpty + ": every research source failed or returned nothing"
		result.Events = events
		result.CostUSD = cost
		return track.complete(ctx, result), nil
	}

	// Prior knowledge from the graph, as a fifth synthetic source.
	if in.SkipGraphSync {
		events = append(events, event(ctx, model.EventGraphSkipped, PhaseGraphCtx, "skip_graph_sync requested"))
	} else {
		_ = track.phase(ctx, PhaseGraphCtx, func() (model.PhaseStatus, error) {
			gc := phaseCtx(ctx, timeoutGraphCtx, 2)
			f := workflow.ExecuteActivity(gc, acts.GraphContext, activity.GraphContextRequest{
				GraphID: activity.GraphIDFor(in.App, slug),
				Query:   topic.Canonical,
			})
			var bundle model.SourceBundle
			if err := f.Get(gc, &bundle); err != nil {
				events = append(events, event(ctx, model.EventGraphSkipped, PhaseGraphCtx, err.Error()))
				return model.PhaseStatusSkipped, nil
			}
			bundle.Kind = model.SourceGraphContext
			research.GraphContext = bundle
			return "", nil
		})
	}
	cost += research.TotalCost()

	// Probe outbound link targets so synthesis cites only live sources.
	validURLs := research.SourceURLs()
	_ = track.phase(ctx, PhaseValidate, func() (model.PhaseStatus, error) {
		vc := phaseCtx(ctx, timeoutValidate, 2)
		var vr activity.ValidateURLsResult
		if err := workflow.ExecuteActivity(vc, acts.ValidateURLs, activity.ValidateURLsRequest{
			URLs: validURLs,
		}).Get(vc, &vr); err != nil {
			events = append(events, event(ctx, model.EventURLValidationSkipped, PhaseValidate, err.Error()))
			return model.PhaseStatusSkipped, nil
		}
		validURLs = vr.Valid
		return "", nil
	})
	if ctx.Err() != nil {
		return track.complete(ctx, cancelWith(result, PhaseValidate, events, cost)), nil
	}

	payload, synthCost, err := runArticleSynthesis(ctx, track, in, research)
	cost += synthCost
	if err != nil {
		if canceled(ctx, err) {
			return track.complete(ctx, cancelWith(result, PhaseSynthesis, events, cost)), nil
		}
		return track.complete(ctx, failWith(result, PhaseSynthesis, err, events, cost)), nil
	}
	payload.Slug = slug
	payload.SourceURLs = validURLs
	result.WordCount = payload.WordCount

	// Section tones for the image mood policy. A failed classification
	// defaults every unset section to neutral.
	_ = track.phase(ctx, PhaseSentiment, func() (model.PhaseStatus, error) {
		sc := phaseCtx(ctx, timeoutSentiment, 2)
		var sr activity.ClassifySentimentsResult
		if err := workflow.ExecuteActivity(sc, acts.ClassifySentiments, activity.ClassifySentimentsRequest{
			Sections: payload.Sections,
		}).Get(sc, &sr); err != nil {
			events = append(events, event(ctx, model.EventSentimentDefaulted, PhaseSentiment, err.Error()))
			for i := range payload.Sections {
				if payload.Sections[i].Sentiment == "" {
					payload.Sections[i].Sentiment = model.SentimentNeutral
				}
			}
			return model.PhaseStatusSkipped, nil
		}
		cost += sr.CostUSD
		for i := range payload.Sections {
			if i < len(sr.Sentiments) {
				payload.Sections[i].Sentiment = sr.Sentiments[i]
			}
		}
		return "", nil
	})

	// Strip links whose targets failed validation.
	_ = track.phase(ctx, PhaseCleanse, func() (model.PhaseStatus, error) {
		cc := phaseCtx(ctx, timeoutCleanse, 2)
		var cr activity.CleanseLinksResult
		if err := workflow.ExecuteActivity(cc, acts.CleanseLinks, activity.CleanseLinksRequest{
			Markdown:  payload.Markdown,
			ValidURLs: validURLs,
		}).Get(cc, &cr); err != nil {
			events = append(events, event(ctx, model.EventLinkCleanseSkipped, PhaseCleanse, err.Error()))
			return model.PhaseStatusSkipped, nil
		}
		payload.Markdown = cr.Markdown
		return "", nil
	})

	if in.GenerateImages {
		err = track.phase(ctx, PhaseImages, func() (model.PhaseStatus, error) {
			return generateSequence(ctx, imageseq.PlanArticle(payload.Title, payload.Sections, nil, seedFor(slug)),
				payload.Title, &payload.Images, &events, &cost)
		})
		if err != nil {
			return track.complete(ctx, cancelWith(result, PhaseImages, events, cost)), nil
		}
		for i := range payload.Sections {
			idx := i + 1
			if payload.Images.HasContent(idx) {
				ref := idx
				payload.Sections[i].ImageIndex = &ref
			}
		}
	}

	// Resolve organization mentions against the company dictionary.
	_ = track.phase(ctx, PhaseEntities, func() (model.PhaseStatus, error) {
		ec := phaseCtx(ctx, timeoutEntities, 2)
		var lr activity.LinkCompaniesResult
		if err := workflow.ExecuteActivity(ec, acts.LinkCompanies, activity.LinkCompaniesRequest{
			App:      in.App,
			Markdown: payload.Markdown,
		}).Get(ec, &lr); err != nil {
			events = append(events, event(ctx, model.EventCompanyUnresolved, PhaseEntities, "linking skipped: "+err.Error()))
			return model.PhaseStatusSkipped, nil
		}
		payload.MentionedCompanies = lr.Mentions
		for _, name := range lr.Unresolved {
			events = append(events, event(ctx, model.EventCompanyUnresolved, PhaseEntities, name))
		}
		return "", nil
	})
	if ctx.Err() != nil {
		return track.complete(ctx, cancelWith(result, PhaseEntities, events, cost)), nil
	}

	completeness := scoring.ArticleCompleteness(payload)
	if completeness < policy.FloorArticle && policy.BelowFloorMode == config.BelowFloorRetry {
		events = append(events, event(ctx, model.EventBelowFloor, PhaseSynthesis,
			fmt.Sprintf("completeness=%.1f floor=%.1f mode=retry", completeness, policy.FloorArticle)))
		retried, retryCost, retryErr := runArticleSynthesis(ctx, track, in, research)
		cost += retryCost
		if retryErr == nil {
			retried.Slug = slug
			retried.SourceURLs = validURLs
			retried.Images = payload.Images
			retried.MentionedCompanies = payload.MentionedCompanies
			for i := range retried.Sections {
				idx := i + 1
				if retried.Images.HasContent(idx) {
					ref := idx
					retried.Sections[i].ImageIndex = &ref
				}
				if retried.Sections[i].Sentiment == "" {
					retried.Sections[i].Sentiment = model.SentimentNeutral
				}
			}
			payload = retried
			result.WordCount = payload.WordCount
			completeness = scoring.ArticleCompleteness(payload)
		} else if canceled(ctx, retryErr) {
			return track.complete(ctx, cancelWith(result, PhaseSynthesis, events, cost)), nil
		}
	}
	result.Completeness = completeness

	runStatus := model.RunStatusCreated
	if force {
		runStatus = model.RunStatusUpdated
	}
	editorial := model.StatusDraft
	if completeness < policy.FloorArticle {
		events = append(events, event(ctx, model.EventBelowFloor, PhasePersist,
			fmt.Sprintf("completeness=%.1f floor=%.1f", completeness, policy.FloorArticle)))
		runStatus = model.RunStatusDraft
	} else if in.AutoPublish {
		editorial = model.StatusPublished
		now := workflow.Now(ctx).UTC()
		payload.PublishedAt = &now
	}
	payload.Status = editorial
	payload.WordCount = model.CountWords(payload.Markdown)
	payload.ReadingTime = model.ReadingTimeMinutes(payload.WordCount)
	payload.Events = events
	result.WordCount = payload.WordCount

	var persisted store.PersistResult
	err = track.phase(ctx, PhasePersist, func() (model.PhaseStatus, error) {
		pc := phaseCtx(ctx, timeoutPersist, 3)
		return "", workflow.ExecuteActivity(pc, acts.PersistArticle, activity.PersistArticleRequest{
			Record: store.ArticleRecord{
				ID:           check.RecordID,
				App:          in.App,
				Slug:         slug,
				Title:        payload.Title,
				Status:       editorial,
				WordCount:    payload.WordCount,
				Completeness: completeness,
				Payload:      *payload,
			},
			Mentions: payload.MentionedCompanies,
			Force:    force,
		}).Get(pc, &persisted)
	})
	if err != nil {
		if canceled(ctx, err) {
			return track.complete(ctx, cancelWith(result, PhasePersist, events, cost)), nil
		}
		return track.complete(ctx, failWith(result, PhasePersist, err, events, cost)), nil
	}
	result.RecordID = persisted.ID
	if persisted.Outcome == store.OutcomeConflict {
		runStatus = model.RunStatusDuplicate
	}

	// Cancellation after the write compensates by deleting the record, but
	// never an existing record another run owns.
	if ctx.Err() != nil {
		if persisted.Outcome == store.OutcomeCreated {
			compensateDelete(ctx, model.KindArticle, in.App, slug, &events)
		}
		return track.complete(ctx, cancelWith(result, PhasePersist, events, cost)), nil
	}

	if !in.SkipGraphSync && runStatus != model.RunStatusDraft && runStatus != model.RunStatusDuplicate {
		_ = track.phase(ctx, PhaseGraphSync, func() (model.PhaseStatus, error) {
			gc := phaseCtx(ctx, timeoutGraphSync, 2)
			var gr activity.SyncGraphResult
			if err := workflow.ExecuteActivity(gc, acts.SyncGraph, activity.SyncGraphRequest{
				Kind:     model.KindArticle,
				App:      in.App,
				Slug:     slug,
				RecordID: persisted.ID,
				Summary:  activity.ArticleEpisode(payload),
			}).Get(gc, &gr); err != nil {
				events = append(events, event(ctx, model.EventGraphSyncFailed, PhaseGraphSync, err.Error()))
				return model.PhaseStatusSkipped, nil
			}
			result.GraphID = gr.GraphID
			return "", nil
		})
	}

	result.Status = runStatus
	result.Events = events
	result.CostUSD = cost
	logger.Info("article workflow finished",
		"slug", slug, "status", string(runStatus),
		"completeness", completeness, "word_count", result.WordCount)
	return track.complete(ctx, result), nil
}

// runArticleSynthesis executes the synthesis activity under the phase
// bookkeeping and maps the word-floor outcome to a terminal business error.
func runArticleSynthesis(ctx workflow.Context, track *tracker, in model.ArticleInput, research model.ResearchBundle) (*model.ArticlePayload, float64, error) {
	var synthesized activity.SynthesizeArticleResult
	err := track.phase(ctx, PhaseSynthesis, func() (model.PhaseStatus, error) {
		sc := phaseCtx(ctx, timeoutSynthesis, 2)
		if err := workflow.ExecuteActivity(sc, acts.SynthesizeArticle, activity.SynthesizeArticleRequest{
			Input:    in,
			Research: research,
		}).Get(sc, &synthesized); err != nil {
			return "", err
		}
		if synthesized.BelowFloor {
			return model.PhaseStatusFailed, businessError(resilience.CodeBelowFloor,
				fmt.Sprintf("draft stayed under the word floor after %d expansions", synthesized.Expansions))
		}
		return "", nil
	})
	if err != nil {
		return nil, synthesized.CostUSD, err
	}
	return synthesized.Payload, synthesized.CostUSD, nil
}

// generateSequence renders one planned image sequence, chaining each
// success as the style reference for the next. Individual failures emit
// events and keep the sequence going; the phase itself fails only on
// cancellation.
func generateSequence(ctx workflow.Context, prompts []imageseq.Prompt, subject string, images *model.ImageBundle, events *[]model.Event, cost *float64) (model.PhaseStatus, error) {
	chain := imageseq.NewChain()
	ic := phaseCtx(ctx, timeoutImage, 2)
	for _, p := range prompts {
		// Event details carry the 1-based content index; featured and
		// hero report idx=0.
		idx := model.ContentSlotIndex(p.Slot)
		ref := chain.Reference()
		fp := imageseq.Fingerprint(p.Text, p.Seed, ref)
		if err := chain.Admit(fp, p.Slot); err != nil {
			*events = append(*events, event(ctx, model.EventImageFailed, PhaseImages,
				fmt.Sprintf("idx=%d reason=DUPLICATE", idx)))
			continue
		}
		var generated activity.GenerateImageResult
		err := workflow.ExecuteActivity(ic, acts.GenerateImage, activity.GenerateImageRequest{
			Prompt:       p,
			ReferenceURL: ref,
			Subject:      subject,
		}).Get(ic, &generated)
		if err != nil {
			if canceled(ctx, err) {
				return model.PhaseStatusFailed, err
			}
			*events = append(*events, event(ctx, model.EventImageFailed, PhaseImages,
				fmt.Sprintf("idx=%d reason=%s", idx, failureCode(err))))
			continue
		}
		*cost += generated.CostUSD
		rec := generated.Record
		images.Set(p.Slot, &rec)
		chain.Advance(rec.URL)
	}
	return model.PhaseStatusComplete, nil
}

// compensateDelete removes a freshly created record after cancellation,
// on a disconnected context so the delete itself survives the cancel.
func compensateDelete(ctx workflow.Context, kind model.WorkflowKind, app model.AppTag, slug string, events *[]model.Event) {
	detached, _ := workflow.NewDisconnectedContext(ctx)
	dc := phaseCtx(detached, timeoutPersist, 3)
	err := workflow.ExecuteActivity(dc, acts.DeleteRecord, activity.DeleteRecordRequest{
		Kind: kind,
		App:  app,
		Slug: slug,
	}).Get(dc, nil)
	detail := "record deleted after cancellation"
	if err != nil {
		detail = "compensation delete failed: " + err.Error()
	}
	*events = append(*events, event(ctx, model.EventPersistRollback, PhasePersist, detail))
}

// articleFocus derives deep-research focus hints from the directive.
func articleFocus(in model.ArticleInput) []string {
	var focus []string
	if in.Angle != "" {
		focus = append(focus, in.Angle)
	}
	if in.Jurisdiction != "" {
		focus = append(focus, in.Jurisdiction)
	}
	focus = append(focus, in.Keywords...)
	return focus
}

// crawlBudget caps the second-wave page count per crawl source.
func crawlBudget(in model.ArticleInput, policy Policy) int {
	budget := policy.CrawlMaxPages
	if budget <= 0 {
		budget = 10
	}
	if !in.DeepCrawl && budget > 5 {
		budget = 5
	}
	return budget
}

// seedURLs returns up to n seed URLs from a bundle, falling back to item
// URLs when the adapter surfaced none.
func seedURLs(b model.SourceBundle, n int) []string {
	urls := b.Seeds
	if len(urls) == 0 {
		return topURLs(b, n)
	}
	if len(urls) > n {
		urls = urls[:n]
	}
	return urls
}

