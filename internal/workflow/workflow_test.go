package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/quest-group/content-engine/internal/activity"
	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/internal/store"
)

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	ts := &testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()

	// Bookkeeping is best-effort in the sequencers; the tests accept any
	// number of calls.
	env.OnActivity(acts.StartRun, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(acts.StartPhase, mock.Anything, mock.Anything).
		Return(&activity.StartPhaseResult{PhaseID: "phase-1"}, nil)
	env.OnActivity(acts.FinishPhase, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(acts.CompleteRun, mock.Anything, mock.Anything).Return(nil)
	return env
}

func sourceBundle(url string) *model.SourceBundle {
	return &model.SourceBundle{
		Items: []model.ResearchItem{{
			URL:        url,
			Title:      "Hiring wave continues",
			Snippet:    "Placement firms report record demand.",
			Confidence: 0.6,
		}},
	}
}

func draftArticle() *model.ArticlePayload {
	return &model.ArticlePayload{
		Title:    "Remote Hiring Trends",
		Markdown: "## Overview\n\nRemote hiring keeps growing across mid-market firms.",
		Excerpt:  "Remote hiring keeps growing.",
		Sections: []model.ArticleSection{
			{H2Title: "Overview", Body: "Remote hiring keeps growing across mid-market firms."},
		},
		MetaDescription: "Where remote hiring is heading.",
		Classification:  "industry-news",
		Tags:            []string{"hiring"},
		WordCount:       1400,
	}
}

// mockArticleResearch installs the fan-out, graph, and validation mocks
// shared by every article test that reaches synthesis.
func mockArticleResearch(env *testsuite.TestWorkflowEnvironment) {
	env.OnActivity(acts.NewsSearch, mock.Anything, mock.Anything).
		Return(sourceBundle("https://news.example/a"), nil)
	env.OnActivity(acts.DeepResearch, mock.Anything, mock.Anything).
		Return(sourceBundle("https://journal.example/b"), nil)
	env.OnActivity(acts.CrawlURLs, mock.Anything, mock.Anything).
		Return(sourceBundle("https://journal.example/b"), nil)
	env.OnActivity(acts.GraphContext, mock.Anything, mock.Anything).
		Return(&model.SourceBundle{Items: []model.ResearchItem{{Title: "Prior coverage", Synthetic: true}}}, nil)
	env.OnActivity(acts.ValidateURLs, mock.Anything, mock.Anything).
		Return(&activity.ValidateURLsResult{Valid: []string{"https://news.example/a"}}, nil)
}

// mockArticleEnrichment installs the post-synthesis phases with benign
// results and returns a capture of the persist request.
func mockArticleEnrichment(env *testsuite.TestWorkflowEnvironment, outcome store.Outcome) *activity.PersistArticleRequest {
	env.OnActivity(acts.ClassifySentiments, mock.Anything, mock.Anything).
		Return(&activity.ClassifySentimentsResult{Sentiments: []model.Sentiment{model.SentimentPositive}}, nil)
	env.OnActivity(acts.CleanseLinks, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req activity.CleanseLinksRequest) (*activity.CleanseLinksResult, error) {
			return &activity.CleanseLinksResult{Markdown: req.Markdown}, nil
		})
	env.OnActivity(acts.LinkCompanies, mock.Anything, mock.Anything).
		Return(&activity.LinkCompaniesResult{
			Mentions: []model.CompanyMention{{CompanyID: "co-1", Relevance: 0.6}},
		}, nil)

	captured := &activity.PersistArticleRequest{}
	env.OnActivity(acts.PersistArticle, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req activity.PersistArticleRequest) (*store.PersistResult, error) {
			*captured = req
			return &store.PersistResult{ID: "art-1", Outcome: outcome}, nil
		})
	return captured
}

func runArticle(t *testing.T, env *testsuite.TestWorkflowEnvironment, params ArticleParams) *model.WorkflowResult {
	t.Helper()
	env.ExecuteWorkflow(ArticleWorkflow, params)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result model.WorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	return &result
}

func findEvent(events []model.Event, name string) *model.Event {
	for i := range events {
		if events[i].Name == name {
			return &events[i]
		}
	}
	return nil
}

func TestArticleWorkflow_Created(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckArticle, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{}, nil)
	mockArticleResearch(env)
	env.OnActivity(acts.SynthesizeArticle, mock.Anything, mock.Anything).
		Return(&activity.SynthesizeArticleResult{Payload: draftArticle(), CostUSD: 0.4}, nil)
	persisted := mockArticleEnrichment(env, store.OutcomeCreated)
	env.OnActivity(acts.SyncGraph, mock.Anything, mock.Anything).
		Return(&activity.SyncGraphResult{GraphID: "g-1"}, nil)

	result := runArticle(t, env, ArticleParams{
		Input: model.ArticleInput{Topic: "Remote Hiring Trends", App: model.AppPlacement},
	})

	assert.Equal(t, model.RunStatusCreated, result.Status)
	assert.Equal(t, "remote-hiring-trends", result.Slug)
	assert.Equal(t, "art-1", result.RecordID)
	assert.Equal(t, "g-1", result.GraphID)
	assert.Equal(t, 80.0, result.Completeness)
	assert.Equal(t, model.CountWords(draftArticle().Markdown), result.WordCount)

	assert.Equal(t, model.StatusDraft, persisted.Record.Status)
	assert.False(t, persisted.Force)
	assert.Equal(t, []string{"https://news.example/a"}, persisted.Record.Payload.SourceURLs)
	assert.Equal(t, model.SentimentPositive, persisted.Record.Payload.Sections[0].Sentiment)
	require.Len(t, persisted.Mentions, 1)
	assert.Equal(t, "co-1", persisted.Mentions[0].CompanyID)
}

func TestArticleWorkflow_InvalidInput(t *testing.T) {
	env := newEnv(t)

	result := runArticle(t, env, ArticleParams{
		Input: model.ArticleInput{Topic: "", App: model.AppPlacement},
	})

	assert.Equal(t, model.RunStatusFailed, result.Status)
	assert.Equal(t, PhaseNormalize, result.FailedPhase)
	assert.Equal(t, string(resilience.KindInput), result.ErrorKind)
}

func TestArticleWorkflow_ExistsShortCircuit(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckArticle, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{Exists: true, RecordID: "art-9", GraphID: "g-9"}, nil)

	result := runArticle(t, env, ArticleParams{
		Input: model.ArticleInput{Topic: "Remote Hiring Trends", App: model.AppPlacement},
	})

	assert.Equal(t, model.RunStatusExists, result.Status)
	assert.Equal(t, "art-9", result.RecordID)
	assert.Equal(t, "g-9", result.GraphID)
}

func TestArticleWorkflow_StaleRecordForcesUpdate(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckArticle, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{
			Exists:    true,
			RecordID:  "art-9",
			UpdatedAt: time.Now().Add(-30 * 24 * time.Hour),
		}, nil)
	mockArticleResearch(env)
	env.OnActivity(acts.SynthesizeArticle, mock.Anything, mock.Anything).
		Return(&activity.SynthesizeArticleResult{Payload: draftArticle()}, nil)
	persisted := mockArticleEnrichment(env, store.OutcomeUpdated)
	env.OnActivity(acts.SyncGraph, mock.Anything, mock.Anything).
		Return(&activity.SyncGraphResult{GraphID: "g-1"}, nil)

	result := runArticle(t, env, ArticleParams{
		Input:  model.ArticleInput{Topic: "Remote Hiring Trends", App: model.AppPlacement},
		Policy: Policy{DuplicateLookbackDays: 7},
	})

	assert.Equal(t, model.RunStatusUpdated, result.Status)
	assert.True(t, persisted.Force)
	assert.Equal(t, "art-9", persisted.Record.ID)
}

func TestArticleWorkflow_AllResearchSourcesEmpty(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckArticle, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{}, nil)
	down := temporal.NewApplicationErrorWithOptions("UPSTREAM_5XX: adapter down",
		string(resilience.KindDependency), temporal.ApplicationErrorOptions{NonRetryable: true})
	env.OnActivity(acts.NewsSearch, mock.Anything, mock.Anything).Return(nil, down)
	env.OnActivity(acts.DeepResearch, mock.Anything, mock.Anything).Return(nil, down)

	result := runArticle(t, env, ArticleParams{
		Input: model.ArticleInput{Topic: "Remote Hiring Trends", App: model.AppPlacement},
	})

	assert.Equal(t, model.RunStatusFailed, result.Status)
	assert.Equal(t, PhaseResearch, result.FailedPhase)
	assert.Equal(t, string(resilience.KindDependency), result.ErrorKind)
	assert.Equal(t, "EMPTY: every research source failed or returned nothing", result.Error)
	assert.NotNil(t, findEvent(result.Events, model.EventResearchSourceFailed))
}

func TestArticleWorkflow_DuplicateOutcomeSkipsGraphSync(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckArticle, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{}, nil)
	mockArticleResearch(env)
	env.OnActivity(acts.SynthesizeArticle, mock.Anything, mock.Anything).
		Return(&activity.SynthesizeArticleResult{Payload: draftArticle()}, nil)
	// SyncGraph stays unmocked: scheduling it would fail the run.
	mockArticleEnrichment(env, store.OutcomeConflict)

	result := runArticle(t, env, ArticleParams{
		Input: model.ArticleInput{Topic: "Remote Hiring Trends", App: model.AppPlacement},
	})

	assert.Equal(t, model.RunStatusDuplicate, result.Status)
	assert.Equal(t, "art-1", result.RecordID)
	assert.Empty(t, result.GraphID)
}

func TestArticleWorkflow_BelowCompletenessFloorDrafts(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckArticle, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{}, nil)
	mockArticleResearch(env)

	// Title, markdown, sections, and source URLs only: 55 of 100, under
	// the default floor of 60.
	thin := &model.ArticlePayload{
		Title:    "Remote Hiring Trends",
		Markdown: "## Overview\n\nShort.",
		Sections: []model.ArticleSection{{H2Title: "Overview", Body: "Short."}},
	}
	env.OnActivity(acts.SynthesizeArticle, mock.Anything, mock.Anything).
		Return(&activity.SynthesizeArticleResult{Payload: thin}, nil)
	env.OnActivity(acts.ClassifySentiments, mock.Anything, mock.Anything).
		Return(&activity.ClassifySentimentsResult{Sentiments: []model.Sentiment{model.SentimentNeutral}}, nil)
	env.OnActivity(acts.CleanseLinks, mock.Anything, mock.Anything).
		Return(&activity.CleanseLinksResult{Markdown: thin.Markdown}, nil)
	env.OnActivity(acts.LinkCompanies, mock.Anything, mock.Anything).
		Return(&activity.LinkCompaniesResult{}, nil)

	captured := &activity.PersistArticleRequest{}
	env.OnActivity(acts.PersistArticle, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req activity.PersistArticleRequest) (*store.PersistResult, error) {
			*captured = req
			return &store.PersistResult{ID: "art-1", Outcome: store.OutcomeCreated}, nil
		})

	result := runArticle(t, env, ArticleParams{
		Input: model.ArticleInput{Topic: "Remote Hiring Trends", App: model.AppPlacement},
	})

	assert.Equal(t, model.RunStatusDraft, result.Status)
	assert.Equal(t, 55.0, result.Completeness)
	assert.Equal(t, model.StatusDraft, captured.Record.Status)
	assert.NotNil(t, findEvent(result.Events, model.EventBelowFloor))
}

func TestArticleWorkflow_AutoPublishStampsPublishedAt(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckArticle, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{}, nil)
	mockArticleResearch(env)
	env.OnActivity(acts.SynthesizeArticle, mock.Anything, mock.Anything).
		Return(&activity.SynthesizeArticleResult{Payload: draftArticle()}, nil)
	persisted := mockArticleEnrichment(env, store.OutcomeCreated)
	env.OnActivity(acts.SyncGraph, mock.Anything, mock.Anything).
		Return(&activity.SyncGraphResult{GraphID: "g-1"}, nil)

	result := runArticle(t, env, ArticleParams{
		Input: model.ArticleInput{
			Topic:       "Remote Hiring Trends",
			App:         model.AppPlacement,
			AutoPublish: true,
		},
	})

	assert.Equal(t, model.RunStatusCreated, result.Status)
	assert.Equal(t, model.StatusPublished, persisted.Record.Status)
	require.NotNil(t, persisted.Record.Payload.PublishedAt)
}

func TestArticleWorkflow_ImageFailureKeepsSequenceGoing(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckArticle, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{}, nil)
	mockArticleResearch(env)
	env.OnActivity(acts.SynthesizeArticle, mock.Anything, mock.Anything).
		Return(&activity.SynthesizeArticleResult{Payload: draftArticle()}, nil)
	persisted := mockArticleEnrichment(env, store.OutcomeCreated)
	env.OnActivity(acts.SyncGraph, mock.Anything, mock.Anything).
		Return(&activity.SyncGraphResult{GraphID: "g-1"}, nil)

	// The content_1 render is rejected; featured and hero succeed and the
	// chain continues from the last good reference.
	env.OnActivity(acts.GenerateImage, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req activity.GenerateImageRequest) (*activity.GenerateImageResult, error) {
			if req.Prompt.Slot == model.SlotContent1 {
				return nil, temporal.NewApplicationErrorWithOptions("CONTENT_POLICY: prompt rejected",
					string(resilience.KindData), temporal.ApplicationErrorOptions{NonRetryable: true})
			}
			return &activity.GenerateImageResult{
				Record: model.ImageRecord{URL: "https://img.example/" + string(req.Prompt.Slot) + ".png"},
			}, nil
		})

	result := runArticle(t, env, ArticleParams{
		Input: model.ArticleInput{
			Topic:          "Remote Hiring Trends",
			App:            model.AppPlacement,
			GenerateImages: true,
		},
	})

	assert.Equal(t, model.RunStatusCreated, result.Status)
	failed := findEvent(result.Events, model.EventImageFailed)
	require.NotNil(t, failed)
	assert.Equal(t, "idx=1 reason=CONTENT_POLICY", failed.Detail)

	images := persisted.Record.Payload.Images
	assert.NotNil(t, images.Get(model.SlotFeatured))
	assert.NotNil(t, images.Get(model.SlotHero))
	assert.Nil(t, images.Get(model.SlotContent1))
	assert.Nil(t, persisted.Record.Payload.Sections[0].ImageIndex)
}

func TestArticleWorkflow_CancelAfterPersistCompensates(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckArticle, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{}, nil)
	mockArticleResearch(env)
	env.OnActivity(acts.SynthesizeArticle, mock.Anything, mock.Anything).
		Return(&activity.SynthesizeArticleResult{Payload: draftArticle()}, nil)
	env.OnActivity(acts.ClassifySentiments, mock.Anything, mock.Anything).
		Return(&activity.ClassifySentimentsResult{Sentiments: []model.Sentiment{model.SentimentPositive}}, nil)
	env.OnActivity(acts.CleanseLinks, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req activity.CleanseLinksRequest) (*activity.CleanseLinksResult, error) {
			return &activity.CleanseLinksResult{Markdown: req.Markdown}, nil
		})
	env.OnActivity(acts.LinkCompanies, mock.Anything, mock.Anything).
		Return(&activity.LinkCompaniesResult{}, nil)

	// Cancellation lands while the write is in flight; the record is
	// created, so the workflow must compensate with a delete.
	env.OnActivity(acts.PersistArticle, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req activity.PersistArticleRequest) (*store.PersistResult, error) {
			env.CancelWorkflow()
			return &store.PersistResult{ID: "art-1", Outcome: store.OutcomeCreated}, nil
		})

	var deleted activity.DeleteRecordRequest
	env.OnActivity(acts.DeleteRecord, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req activity.DeleteRecordRequest) error {
			deleted = req
			return nil
		})

	result := runArticle(t, env, ArticleParams{
		Input: model.ArticleInput{Topic: "Remote Hiring Trends", App: model.AppPlacement},
	})

	assert.Equal(t, model.RunStatusCancelled, result.Status)
	assert.Equal(t, PhasePersist, result.FailedPhase)
	assert.Equal(t, "cancelled", result.ErrorKind)
	assert.Equal(t, model.KindArticle, deleted.Kind)
	assert.Equal(t, "remote-hiring-trends", deleted.Slug)
	rollback := findEvent(result.Events, model.EventPersistRollback)
	require.NotNil(t, rollback)
	assert.Equal(t, "record deleted after cancellation", rollback.Detail)
}

func TestArticleWorkflow_WordFloorFailureIsTerminal(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckArticle, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{}, nil)
	mockArticleResearch(env)
	env.OnActivity(acts.SynthesizeArticle, mock.Anything, mock.Anything).
		Return(&activity.SynthesizeArticleResult{
			Payload:    draftArticle(),
			Expansions: 2,
			BelowFloor: true,
		}, nil)

	result := runArticle(t, env, ArticleParams{
		Input: model.ArticleInput{Topic: "Remote Hiring Trends", App: model.AppPlacement},
	})

	assert.Equal(t, model.RunStatusFailed, result.Status)
	assert.Equal(t, PhaseSynthesis, result.FailedPhase)
	assert.Equal(t, string(resilience.KindBusiness), result.ErrorKind)
	assert.Contains(t, result.Error, "BELOW_FLOOR: draft stayed under the word floor after 2 expansions")
}

func draftProfile() *model.ProfilePayload {
	return &model.ProfilePayload{
		LegalName:        "Acme Corp Ltd",
		Domain:           "acme-corp.com",
		CompanyType:      "private",
		Website:          "https://acme-corp.com",
		Industry:         "logistics",
		HeadquartersCity: "Berlin",
		FoundedYear:      2009,
		EmployeeRange:    "51-200",
		Sections: []model.ProfileSectionEntry{{
			Key: "overview",
			Section: model.ProfileSection{
				Title:           "Overview",
				MarkdownContent: "Acme moves freight. It operates across Europe.",
				Confidence:      0.8,
			},
		}},
		DataSources: []string{"https://acme-corp.com/about"},
	}
}

// mockCompanyPipeline installs the full happy pipeline for a company run
// and returns a capture of the persist request.
func mockCompanyPipeline(env *testsuite.TestWorkflowEnvironment, outcome store.Outcome) *activity.PersistCompanyRequest {
	env.OnActivity(acts.NewsSearch, mock.Anything, mock.Anything).
		Return(sourceBundle("https://news.example/acme"), nil)
	env.OnActivity(acts.DeepResearch, mock.Anything, mock.Anything).
		Return(sourceBundle("https://journal.example/acme"), nil)
	env.OnActivity(acts.CrawlSite, mock.Anything, mock.Anything).
		Return(sourceBundle("https://acme-corp.com/about"), nil)
	env.OnActivity(acts.CrawlURLs, mock.Anything, mock.Anything).
		Return(sourceBundle("https://journal.example/acme"), nil)
	env.OnActivity(acts.GraphContext, mock.Anything, mock.Anything).
		Return(&model.SourceBundle{}, nil)
	env.OnActivity(acts.SynthesizeProfile, mock.Anything, mock.Anything).
		Return(&activity.SynthesizeProfileResult{Payload: draftProfile(), CostUSD: 0.3}, nil)
	env.OnActivity(acts.GenerateImage, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req activity.GenerateImageRequest) (*activity.GenerateImageResult, error) {
			return &activity.GenerateImageResult{
				Record: model.ImageRecord{URL: "https://img.example/" + string(req.Prompt.Slot) + ".png"},
			}, nil
		})
	env.OnActivity(acts.BackfillArticles, mock.Anything, mock.Anything).
		Return(&activity.BackfillArticlesResult{Linked: 2}, nil)

	captured := &activity.PersistCompanyRequest{}
	env.OnActivity(acts.PersistCompany, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req activity.PersistCompanyRequest) (*store.PersistResult, error) {
			*captured = req
			return &store.PersistResult{ID: "co-1", Outcome: outcome}, nil
		})
	return captured
}

func runCompany(t *testing.T, env *testsuite.TestWorkflowEnvironment, params CompanyParams) *model.WorkflowResult {
	t.Helper()
	env.ExecuteWorkflow(CompanyWorkflow, params)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result model.WorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	return &result
}

func TestCompanyWorkflow_Created(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckCompany, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{}, nil)
	persisted := mockCompanyPipeline(env, store.OutcomeCreated)
	env.OnActivity(acts.ScoreAmbiguity, mock.Anything, mock.Anything).
		Return(&activity.ScoreAmbiguityResult{
			Confidence: 0.85,
			Signals:    model.AmbiguitySignals{NameURLMatch: 1},
		}, nil)
	env.OnActivity(acts.SyncGraph, mock.Anything, mock.Anything).
		Return(&activity.SyncGraphResult{GraphID: "g-2"}, nil)

	result := runCompany(t, env, CompanyParams{
		Input: model.CompanyInput{URL: "https://www.acme-corp.com", App: model.AppPlacement},
	})

	assert.Equal(t, model.RunStatusCreated, result.Status)
	assert.Equal(t, "acme-corp", result.Slug)
	assert.Equal(t, "co-1", result.RecordID)
	assert.Equal(t, "g-2", result.GraphID)
	assert.Equal(t, 0.85, result.Confidence)
	assert.Equal(t, 95.0, result.Completeness)

	assert.Equal(t, model.StatusPublished, persisted.Record.Status)
	assert.Equal(t, "Acme Corp Ltd", persisted.Record.LegalName)
	assert.Equal(t, 0.85, persisted.Record.Confidence)
	assert.NotNil(t, persisted.Record.Payload.Images.Get(model.SlotFeatured))
}

func TestCompanyWorkflow_ExistsShortCircuit(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckCompany, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{Exists: true, RecordID: "co-9", Slug: "acme-legacy"}, nil)

	result := runCompany(t, env, CompanyParams{
		Input: model.CompanyInput{URL: "https://acme-corp.com", App: model.AppPlacement},
	})

	assert.Equal(t, model.RunStatusExists, result.Status)
	assert.Equal(t, "co-9", result.RecordID)
	assert.Equal(t, "acme-legacy", result.Slug)
}

func TestCompanyWorkflow_ReresearchOnLowConfidence(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckCompany, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{}, nil)

	// Wave-tagged news bundles so the re-draft input is distinguishable.
	env.OnActivity(acts.NewsSearch, mock.Anything, mock.Anything).
		Return(sourceBundle("https://news.example/first-wave"), nil).Once()
	env.OnActivity(acts.NewsSearch, mock.Anything, mock.Anything).
		Return(sourceBundle("https://news.example/refined-wave"), nil)

	var synthRequests []activity.SynthesizeProfileRequest
	env.OnActivity(acts.SynthesizeProfile, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req activity.SynthesizeProfileRequest) (*activity.SynthesizeProfileResult, error) {
			synthRequests = append(synthRequests, req)
			return &activity.SynthesizeProfileResult{Payload: draftProfile(), CostUSD: 0.3}, nil
		})

	mockCompanyPipeline(env, store.OutcomeCreated)
	env.OnActivity(acts.SyncGraph, mock.Anything, mock.Anything).
		Return(&activity.SyncGraphResult{GraphID: "g-2"}, nil)

	// The first score falls under the threshold, the refined wave clears it.
	env.OnActivity(acts.ScoreAmbiguity, mock.Anything, mock.Anything).
		Return(&activity.ScoreAmbiguityResult{Confidence: 0.55}, nil).Once()
	env.OnActivity(acts.ScoreAmbiguity, mock.Anything, mock.Anything).
		Return(&activity.ScoreAmbiguityResult{Confidence: 0.90}, nil)

	result := runCompany(t, env, CompanyParams{
		Input: model.CompanyInput{URL: "https://acme-corp.com", App: model.AppPlacement},
		Policy: Policy{
			RescrapeOnLowConfidence: true,
			MaxReresearchAttempts:   1,
		},
	})

	assert.Equal(t, model.RunStatusCreated, result.Status)
	assert.Equal(t, 0.90, result.Confidence)
	triggered := findEvent(result.Events, model.EventReresearchTriggered)
	require.NotNil(t, triggered)
	assert.Equal(t, "confidence=0.55 threshold=0.70", triggered.Detail)

	// The refined wave replaces the first wholesale in the re-draft input.
	require.Len(t, synthRequests, 2)
	require.Len(t, synthRequests[0].Research.NewsSearch.Items, 1)
	assert.Equal(t, "https://news.example/first-wave", synthRequests[0].Research.NewsSearch.Items[0].URL)
	require.Len(t, synthRequests[1].Research.NewsSearch.Items, 1)
	assert.Equal(t, "https://news.example/refined-wave", synthRequests[1].Research.NewsSearch.Items[0].URL)
}

func TestCompanyWorkflow_LowConfidenceDrafts(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(acts.CheckCompany, mock.Anything, mock.Anything).
		Return(&activity.CheckRecordResult{}, nil)
	persisted := mockCompanyPipeline(env, store.OutcomeCreated)
	// Re-research is off, so one low score carries through to persistence.
	env.OnActivity(acts.ScoreAmbiguity, mock.Anything, mock.Anything).
		Return(&activity.ScoreAmbiguityResult{Confidence: 0.55}, nil)

	result := runCompany(t, env, CompanyParams{
		Input: model.CompanyInput{URL: "https://acme-corp.com", App: model.AppPlacement},
	})

	assert.Equal(t, model.RunStatusDraft, result.Status)
	assert.Equal(t, 0.55, result.Confidence)
	assert.Equal(t, model.StatusDraft, persisted.Record.Status)
	assert.Nil(t, findEvent(result.Events, model.EventReresearchTriggered))
	assert.Empty(t, result.GraphID)
}
