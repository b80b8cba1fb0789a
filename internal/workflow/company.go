package workflow

import (
	"fmt"

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

// CompanyParams is the trigger payload for the company-profile pipeline.
type CompanyParams struct {
	Input  model.CompanyInput `json:"input"`
	Policy Policy             `json:"policy"`
}

// CompanyWorkflow drives a company URL through research, narrative
// synthesis, identity scoring, and persistence. A low identity confidence
// triggers at most one refined re-research wave; a profile that stays
// ambiguous persists as a draft rather than failing.
func CompanyWorkflow(ctx workflow.Context, params CompanyParams) (*model.WorkflowResult, error) {
	in := params.Input
	policy := params.Policy.withDefaults()
	logger := workflow.GetLogger(ctx)

	result := &model.WorkflowResult{Kind: model.KindCompany}
	if err := in.Validate(); err != nil {
		result.Status = model.RunStatusFailed
		result.FailedPhase = PhaseNormalize
		result.ErrorKind = string(resilience.KindInput)
		result.Error = err.Error()
		return result, nil
	}

	host := in.Host()
	canonURL, err := normalize.CanonicalizeURL(in.URL)
	if err != nil {
		canonURL = "https://" + host
	}
	slug := normalize.DomainSlug(host)
	result.Slug = slug
	logger.Info("company workflow started", "host", host, "slug", slug, "app", string(in.App))

	runID := workflow.GetInfo(ctx).WorkflowExecution.ID
	track := newTracker(ctx, runID, model.KindCompany, in.App, slug, in)

	var events []model.Event
	var cost float64

	// Existence probe by slug, then by domain so renamed slugs still
	// dedupe. Force update proceeds against the existing row.
	var check activity.CheckRecordResult
	err = track.phase(ctx, PhaseNormalize, func() (model.PhaseStatus, error) {
		pc := phaseCtx(ctx, timeoutDedupe, 3)
		return "", workflow.ExecuteActivity(pc, acts.CheckCompany, activity.CheckRecordRequest{
			App:    in.App,
			Slug:   slug,
			Domain: host,
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
		if !in.ForceUpdate {
			logger.Info("company already exists", "slug", check.Slug, "record_id", check.RecordID)
			result.Status = model.RunStatusExists
			result.Slug = check.Slug
			result.RecordID = check.RecordID
			result.GraphID = check.GraphID
			return track.complete(ctx, result), nil
		}
		force = true
		if check.Slug != "" {
			slug = check.Slug
			result.Slug = slug
		}
	}

	// First research wave, keyed on the host since the legal name is not
	// known yet.
	var research model.ResearchBundle
	_ = track.phase(ctx, PhaseResearch, func() (model.PhaseStatus, error) {
		research = companyResearch(ctx, in, canonURL, host, companyFocus(in, nil), policy, &events)
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

	_ = track.phase(ctx, PhaseGraphCtx, func() (model.PhaseStatus, error) {
		gc := phaseCtx(ctx, timeoutGraphCtx, 2)
		f := workflow.ExecuteActivity(gc, acts.GraphContext, activity.GraphContextRequest{
			GraphID: activity.GraphIDFor(in.App, slug),
			Query:   host,
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
	cost += research.TotalCost()

	payload, synthCost, err := runProfileSynthesis(ctx, track, in, research)
	cost += synthCost
	if err != nil {
		if canceled(ctx, err) {
			return track.complete(ctx, cancelWith(result, PhaseSynthesis, events, cost)), nil
		}
		return track.complete(ctx, failWith(result, PhaseSynthesis, err, events, cost)), nil
	}
	payload.Slug = slug

	confidence, signals, err := scoreAmbiguity(ctx, track, in, payload, research)
	if err != nil {
		if canceled(ctx, err) {
			return track.complete(ctx, cancelWith(result, PhaseAmbiguity, events, cost)), nil
		}
		return track.complete(ctx, failWith(result, PhaseAmbiguity, err, events, cost)), nil
	}

	// One refined wave when identity confidence is low: re-research with
	// the draft's own name and facets as focus, then re-synthesize and
	// re-score. Never more than once per run.
	if confidence < scoring.ReresearchThreshold && policy.RescrapeOnLowConfidence && policy.MaxReresearchAttempts > 0 {
		events = append(events, event(ctx, model.EventReresearchTriggered, PhaseAmbiguity,
			fmt.Sprintf("confidence=%.2f threshold=%.2f", confidence, scoring.ReresearchThreshold)))

		query := payload.LegalName
		if query == "" {
			query = host
		}
		var refined model.ResearchBundle
		_ = track.phase(ctx, PhaseReresearch, func() (model.PhaseStatus, error) {
			refined = companyResearch(ctx, in, canonURL, query, companyFocus(in, payload), policy, &events)
			return "", nil
		})
		if ctx.Err() != nil {
			return track.complete(ctx, cancelWith(result, PhaseReresearch, events, cost)), nil
		}
		cost += refined.TotalCost()
		// The refined wave replaces the first wholesale; stale first-wave
		// items must not leak into the re-draft.
		research = refined

		redrafted, redraftCost, redraftErr := runProfileSynthesis(ctx, track, in, research)
		cost += redraftCost
		if redraftErr != nil {
			if canceled(ctx, redraftErr) {
				return track.complete(ctx, cancelWith(result, PhaseSynthesis, events, cost)), nil
			}
			logger.Warn("re-synthesis failed, keeping first draft", "error", redraftErr)
		} else {
			redrafted.Slug = slug
			payload = redrafted
			confidence, signals, err = scoreAmbiguity(ctx, track, in, payload, research)
			if err != nil {
				if canceled(ctx, err) {
					return track.complete(ctx, cancelWith(result, PhaseAmbiguity, events, cost)), nil
				}
				return track.complete(ctx, failWith(result, PhaseAmbiguity, err, events, cost)), nil
			}
		}
	}
	payload.Confidence = confidence
	payload.Signals = signals
	result.Confidence = confidence

	err = track.phase(ctx, PhaseImages, func() (model.PhaseStatus, error) {
		return generateSequence(ctx, imageseq.PlanCompany(payload.LegalName, payload.Industry, seedFor(slug)),
			payload.LegalName, &payload.Images, &events, &cost)
	})
	if err != nil {
		return track.complete(ctx, cancelWith(result, PhaseImages, events, cost)), nil
	}

	completeness := scoring.CompanyCompleteness(payload)
	if completeness < policy.FloorCompany && policy.BelowFloorMode == config.BelowFloorRetry {
		events = append(events, event(ctx, model.EventBelowFloor, PhaseSynthesis,
			fmt.Sprintf("completeness=%.1f floor=%.1f mode=retry", completeness, policy.FloorCompany)))
		retried, retryCost, retryErr := runProfileSynthesis(ctx, track, in, research)
		cost += retryCost
		if retryErr == nil {
			retried.Slug = slug
			retried.Confidence = confidence
			retried.Signals = signals
			retried.Images = payload.Images
			payload = retried
			completeness = scoring.CompanyCompleteness(payload)
		} else if canceled(ctx, retryErr) {
			return track.complete(ctx, cancelWith(result, PhaseSynthesis, events, cost)), nil
		}
	}
	result.Completeness = completeness

	runStatus := model.RunStatusCreated
	if force {
		runStatus = model.RunStatusUpdated
	}
	editorial := model.StatusPublished
	if completeness < policy.FloorCompany {
		events = append(events, event(ctx, model.EventBelowFloor, PhasePersist,
			fmt.Sprintf("completeness=%.1f floor=%.1f", completeness, policy.FloorCompany)))
		editorial = model.StatusDraft
		runStatus = model.RunStatusDraft
	}
	if confidence < policy.MinConfidencePublish {
		editorial = model.StatusDraft
		runStatus = model.RunStatusDraft
	}
	payload.Events = events

	var persisted store.PersistResult
	err = track.phase(ctx, PhasePersist, func() (model.PhaseStatus, error) {
		pc := phaseCtx(ctx, timeoutPersist, 3)
		return "", workflow.ExecuteActivity(pc, acts.PersistCompany, activity.PersistCompanyRequest{
			Record: store.CompanyRecord{
				ID:           check.RecordID,
				App:          in.App,
				Slug:         slug,
				LegalName:    payload.LegalName,
				Domain:       payload.Domain,
				Confidence:   confidence,
				Completeness: completeness,
				Status:       editorial,
				Payload:      *payload,
			},
			Force: force,
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

	if ctx.Err() != nil {
		if persisted.Outcome == store.OutcomeCreated {
			compensateDelete(ctx, model.KindCompany, in.App, slug, &events)
		}
		return track.complete(ctx, cancelWith(result, PhasePersist, events, cost)), nil
	}

	// Link existing articles that already mention the new company.
	if persisted.Outcome == store.OutcomeCreated && payload.LegalName != "" {
		_ = track.phase(ctx, PhaseBackfill, func() (model.PhaseStatus, error) {
			bc := phaseCtx(ctx, timeoutPersist, 2)
			var br activity.BackfillArticlesResult
			if err := workflow.ExecuteActivity(bc, acts.BackfillArticles, activity.BackfillArticlesRequest{
				CompanyID: persisted.ID,
				App:       in.App,
				LegalName: payload.LegalName,
			}).Get(bc, &br); err != nil {
				logger.Warn("article backfill failed", "error", err)
				return model.PhaseStatusSkipped, nil
			}
			return "", nil
		})
	}

	if runStatus != model.RunStatusDraft && runStatus != model.RunStatusDuplicate {
		_ = track.phase(ctx, PhaseGraphSync, func() (model.PhaseStatus, error) {
			gc := phaseCtx(ctx, timeoutGraphSync, 2)
			var gr activity.SyncGraphResult
			if err := workflow.ExecuteActivity(gc, acts.SyncGraph, activity.SyncGraphRequest{
				Kind:     model.KindCompany,
				App:      in.App,
				Slug:     slug,
				RecordID: persisted.ID,
				Summary:  activity.CompanyEpisode(payload),
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
	logger.Info("company workflow finished",
		"slug", slug, "status", string(runStatus),
		"confidence", confidence, "completeness", completeness)
	return track.complete(ctx, result), nil
}

// companyResearch runs the four-source fan-out for one wave: news and deep
// research in parallel alongside the site crawl, then the deep-research
// seeds as a second crawl.
func companyResearch(ctx workflow.Context, in model.CompanyInput, siteURL, query string, focus []string, policy Policy, events *[]model.Event) model.ResearchBundle {
	var research model.ResearchBundle
	rc := phaseCtx(ctx, timeoutResearch, 3)

	newsF := workflow.ExecuteActivity(rc, acts.NewsSearch, activity.NewsSearchRequest{
		Query:      query,
		Geo:        in.Jurisdiction,
		WindowDays: policy.NewsWindowDays,
	})
	deepF := workflow.ExecuteActivity(rc, acts.DeepResearch, activity.DeepResearchRequest{
		Topic:   query,
		Breadth: model.DefaultBreadth,
		Focus:   focus,
	})
	siteF := workflow.ExecuteActivity(rc, acts.CrawlSite, activity.CrawlSiteRequest{
		URL:      siteURL,
		MaxDepth: policy.CrawlMaxDepth,
		MaxPages: policy.CrawlMaxPages,
	})

	research.NewsSearch = awaitBundle(rc, newsF, model.SourceNewsSearch, events)
	research.DeepResearch = awaitBundle(rc, deepF, model.SourceDeepResearch, events)
	research.CrawledAuth = awaitBundle(rc, siteF, model.SourceCrawledAuth, events)

	seeds := seedURLs(research.DeepResearch, policy.CrawlMaxPages)
	if len(seeds) > 0 {
		crawlF := workflow.ExecuteActivity(rc, acts.CrawlURLs, activity.CrawlURLsRequest{
			URLs: seeds,
			Kind: model.SourceCrawledNews,
		})
		research.CrawledNews = awaitBundle(rc, crawlF, model.SourceCrawledNews, events)
	}
	return research
}

// companyFocus derives deep-research focus hints, enriched with the draft
// facets on the refined wave.
func companyFocus(in model.CompanyInput, draft *model.ProfilePayload) []string {
	var focus []string
	if in.Category != "" {
		focus = append(focus, in.Category)
	}
	if in.Jurisdiction != "" {
		focus = append(focus, in.Jurisdiction)
	}
	if draft != nil {
		if draft.LegalName != "" {
			focus = append(focus, draft.LegalName)
		}
		if draft.Industry != "" {
			focus = append(focus, draft.Industry)
		}
	}
	return focus
}

// runProfileSynthesis executes the profile synthesis under phase bookkeeping.
func runProfileSynthesis(ctx workflow.Context, track *tracker, in model.CompanyInput, research model.ResearchBundle) (*model.ProfilePayload, float64, error) {
	var synthesized activity.SynthesizeProfileResult
	err := track.phase(ctx, PhaseSynthesis, func() (model.PhaseStatus, error) {
		sc := phaseCtx(ctx, timeoutSynthesis, 2)
		return "", workflow.ExecuteActivity(sc, acts.SynthesizeProfile, activity.SynthesizeProfileRequest{
			Input:    in,
			Research: research,
		}).Get(sc, &synthesized)
	})
	if err != nil {
		return nil, synthesized.CostUSD, err
	}
	return synthesized.Payload, synthesized.CostUSD, nil
}

// scoreAmbiguity executes the identity scorer under phase bookkeeping.
func scoreAmbiguity(ctx workflow.Context, track *tracker, in model.CompanyInput, payload *model.ProfilePayload, research model.ResearchBundle) (float64, model.AmbiguitySignals, error) {
	var scored activity.ScoreAmbiguityResult
	err := track.phase(ctx, PhaseAmbiguity, func() (model.PhaseStatus, error) {
		sc := phaseCtx(ctx, timeoutEntities, 2)
		return "", workflow.ExecuteActivity(sc, acts.ScoreAmbiguity, activity.ScoreAmbiguityRequest{
			Input:    in,
			Payload:  payload,
			Research: research,
		}).Get(sc, &scored)
	})
	if err != nil {
		return 0, model.AmbiguitySignals{}, err
	}
	return scored.Confidence, scored.Signals, nil
}
