package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quest-group/content-engine/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "store.db") + "?_pragma=foreign_keys(1)"
	st, err := NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testArticle(slug string) *ArticleRecord {
	return &ArticleRecord{
		App:          model.AppPlacement,
		Slug:         slug,
		Title:        "Test Article",
		Status:       model.StatusDraft,
		WordCount:    1200,
		Completeness: 80,
		Payload: model.ArticlePayload{
			Title:    "Test Article",
			Slug:     slug,
			Markdown: "# Test Article\n\nBody.",
		},
	}
}

func testCompany(slug string) *CompanyRecord {
	return &CompanyRecord{
		App:          model.AppPlacement,
		Slug:         slug,
		LegalName:    "Acme Partners LLC",
		Domain:       slug + ".com",
		Confidence:   0.8,
		Completeness: 70,
		Status:       model.StatusPublished,
		Payload:      model.ProfilePayload{LegalName: "Acme Partners LLC", Domain: slug + ".com"},
	}
}

func TestSQLitePersistArticle_CreateConflictForce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := testArticle("my-topic")
	res, err := st.PersistArticle(ctx, rec, nil, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	require.NotEmpty(t, res.ID)

	// A second insert without force observes the conflict.
	dup := testArticle("my-topic")
	dup.Title = "Other Title"
	res2, err := st.PersistArticle(ctx, dup, nil, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res2.Outcome)
	assert.Equal(t, res.ID, res2.ID)

	got, err := st.GetArticle(ctx, model.AppPlacement, "my-topic")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Test Article", got.Title)

	// Force updates in place, keeping the original id.
	dup.Status = model.StatusPublished
	res3, err := st.PersistArticle(ctx, dup, nil, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, res3.Outcome)
	assert.Equal(t, res.ID, res3.ID)

	got, err = st.GetArticle(ctx, model.AppPlacement, "my-topic")
	require.NoError(t, err)
	assert.Equal(t, "Other Title", got.Title)
	assert.Equal(t, model.StatusPublished, got.Status)
}

func TestSQLitePersistArticle_MentionsAndRollback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	company := testCompany("acme")
	_, err := st.PersistCompany(ctx, company, false)
	require.NoError(t, err)

	rec := testArticle("with-mentions")
	mentions := []model.CompanyMention{{CompanyID: company.ID, Relevance: 0.7}}
	res, err := st.PersistArticle(ctx, rec, mentions, false)
	require.NoError(t, err)

	linked, err := st.ListArticleCompanies(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, company.ID, linked[0].CompanyID)
	assert.Equal(t, 0.7, linked[0].Relevance)

	// A mention pointing at an unknown company rolls the whole persist back.
	bad := testArticle("bad-mention")
	_, err = st.PersistArticle(ctx, bad, []model.CompanyMention{{CompanyID: "ghost", Relevance: 0.5}}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistRollback))

	got, err := st.GetArticle(ctx, model.AppPlacement, "bad-mention")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteDeleteArticle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.PersistArticle(ctx, testArticle("doomed"), nil, false)
	require.NoError(t, err)
	require.NoError(t, st.DeleteArticle(ctx, model.AppPlacement, "doomed"))

	got, err := st.GetArticle(ctx, model.AppPlacement, "doomed")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an absent slug is a no-op.
	assert.NoError(t, st.DeleteArticle(ctx, model.AppPlacement, "doomed"))
}

func TestSQLiteSetGraphIDs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	art := testArticle("graphed")
	_, err := st.PersistArticle(ctx, art, nil, false)
	require.NoError(t, err)
	require.NoError(t, st.SetArticleGraphID(ctx, art.ID, "graph-123"))

	got, err := st.GetArticle(ctx, model.AppPlacement, "graphed")
	require.NoError(t, err)
	assert.Equal(t, "graph-123", got.GraphID)

	co := testCompany("graphed-co")
	_, err = st.PersistCompany(ctx, co, false)
	require.NoError(t, err)
	require.NoError(t, st.SetCompanyGraphID(ctx, co.ID, "graph-456"))

	gotCo, err := st.GetCompany(ctx, model.AppPlacement, "graphed-co")
	require.NoError(t, err)
	assert.Equal(t, "graph-456", gotCo.GraphID)
}

func TestSQLiteGetCompanyByDomain(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.PersistCompany(ctx, testCompany("acme"), false)
	require.NoError(t, err)

	got, err := st.GetCompanyByDomain(ctx, model.AppPlacement, "acme.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acme", got.Slug)

	missing, err := st.GetCompanyByDomain(ctx, model.AppPlacement, "nowhere.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteListCompanyRefs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := testCompany("acme")
	b := testCompany("globex")
	b.LegalName = "Globex Holdings"
	_, err := st.PersistCompany(ctx, a, false)
	require.NoError(t, err)
	_, err = st.PersistCompany(ctx, b, false)
	require.NoError(t, err)

	refs, err := st.ListCompanyRefs(ctx, model.AppPlacement)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "Acme Partners LLC", refs[0].LegalName)
	assert.Equal(t, "Globex Holdings", refs[1].LegalName)

	other, err := st.ListCompanyRefs(ctx, model.AppRelocation)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteBackfillArticleLinks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	art := testArticle("mentions-acme")
	art.Payload.Markdown = "A look at Acme Partners LLC and its rivals."
	_, err := st.PersistArticle(ctx, art, nil, false)
	require.NoError(t, err)

	co := testCompany("acme")
	_, err = st.PersistCompany(ctx, co, false)
	require.NoError(t, err)

	n, err := st.BackfillArticleLinks(ctx, co.ID, model.AppPlacement, "Acme Partners LLC", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Re-delivery is safe.
	n, err = st.BackfillArticleLinks(ctx, co.ID, model.AppPlacement, "Acme Partners LLC", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	linked, err := st.ListArticleCompanies(ctx, art.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, co.ID, linked[0].CompanyID)
}

func TestSQLiteRunLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run := &model.Run{
		ID:    "article-placement-my-topic",
		Kind:  model.KindArticle,
		App:   model.AppPlacement,
		Slug:  "my-topic",
		Input: []byte(`{"topic":"my topic"}`),
	}
	require.NoError(t, st.CreateRun(ctx, run))
	assert.Equal(t, model.RunStatusRunning, run.Status)

	// Re-delivery of the same run id is a no-op.
	require.NoError(t, st.CreateRun(ctx, &model.Run{ID: run.ID, Kind: run.Kind, App: run.App}))

	phase, err := st.CreatePhase(ctx, run.ID, "research")
	require.NoError(t, err)
	require.NoError(t, st.CompletePhase(ctx, phase.ID, model.PhaseStatusComplete, 1500, ""))

	result := &model.WorkflowResult{
		Status:       model.RunStatusCreated,
		Kind:         model.KindArticle,
		Slug:         "my-topic",
		Completeness: 85,
	}
	require.NoError(t, st.UpdateRunResult(ctx, run.ID, result))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.RunStatusCreated, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 85.0, got.Result.Completeness)

	missing, err := st.GetRun(ctx, "no-such-run")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteListRuns_Filter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, r := range []*model.Run{
		{ID: "r1", Kind: model.KindArticle, App: model.AppPlacement},
		{ID: "r2", Kind: model.KindCompany, App: model.AppPlacement},
	} {
		require.NoError(t, st.CreateRun(ctx, r))
	}
	require.NoError(t, st.UpdateRunResult(ctx, "r1", &model.WorkflowResult{Status: model.RunStatusFailed}))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "r1", failed[0].ID)

	companies, err := st.ListRuns(ctx, RunFilter{Kind: model.KindCompany})
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "r2", companies[0].ID)
}

func TestSQLiteCrawlCache(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	page := &CachedPage{URL: "https://acme.com/about", Title: "About", Markdown: "# About"}
	require.NoError(t, st.SetCachedCrawl(ctx, "https://acme.com/about", page, 48*time.Hour))

	got, err := st.GetCachedCrawl(ctx, "https://acme.com/about")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "About", got.Title)

	// Expired entries are invisible and prunable.
	require.NoError(t, st.SetCachedCrawl(ctx, "https://acme.com/old", page, -48*time.Hour))
	stale, err := st.GetCachedCrawl(ctx, "https://acme.com/old")
	require.NoError(t, err)
	assert.Nil(t, stale)

	n, err := st.DeleteExpiredCrawls(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
