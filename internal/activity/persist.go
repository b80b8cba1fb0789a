package activity

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/entity"
	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/internal/store"
)

// LinkCompaniesRequest resolves organization mentions in an article body.
type LinkCompaniesRequest struct {
	App      model.AppTag `json:"app"`
	Markdown string       `json:"markdown"`
}

// LinkCompaniesResult pairs resolved mentions with unresolved names.
type LinkCompaniesResult struct {
	Mentions   []model.CompanyMention `json:"mentions"`
	Unresolved []string               `json:"unresolved,omitempty"`
}

// LinkCompanies extracts organization candidates from the body and
// resolves them against the company dictionary. Unresolved names are
// reported, never linked.
func (a *Activities) LinkCompanies(ctx context.Context, req LinkCompaniesRequest) (*LinkCompaniesResult, error) {
	refs, err := a.deps.Store.ListCompanyRefs(ctx, req.App)
	if err != nil {
		return nil, classify(err)
	}

	dictionary := make([]string, 0, len(refs))
	for _, r := range refs {
		dictionary = append(dictionary, r.LegalName)
	}

	candidates := entity.Extract(req.Markdown, dictionary)
	linked := entity.Link(candidates, refs)

	result := &LinkCompaniesResult{Mentions: linked.Mentions}
	for _, c := range linked.Unresolved {
		result.Unresolved = append(result.Unresolved, c.Name)
	}
	return result, nil
}

// PersistArticleRequest commits a finished article.
type PersistArticleRequest struct {
	Record   store.ArticleRecord    `json:"record"`
	Mentions []model.CompanyMention `json:"mentions,omitempty"`
	Force    bool                   `json:"force,omitempty"`
}

// PersistArticle writes the article, junction rows, and image columns in
// one transaction. A lost insert race surfaces as OutcomeConflict; a
// junction failure rolls the whole write back.
func (a *Activities) PersistArticle(ctx context.Context, req PersistArticleRequest) (*store.PersistResult, error) {
	result, err := a.deps.Store.PersistArticle(ctx, &req.Record, req.Mentions, req.Force)
	if err != nil {
		if errors.Is(err, store.ErrPersistRollback) {
			err = resilience.NewAppError(resilience.KindData, resilience.CodeConstraint, err)
		}
		return nil, classify(err)
	}
	zap.L().Info("article persisted",
		zap.String("app", string(req.Record.App)),
		zap.String("slug", req.Record.Slug),
		zap.String("outcome", string(result.Outcome)),
	)
	return result, nil
}

// PersistCompanyRequest commits a finished company profile.
type PersistCompanyRequest struct {
	Record store.CompanyRecord `json:"record"`
	Force  bool                `json:"force,omitempty"`
}

// PersistCompany writes the company record under the same insert-if-absent
// semantics as articles.
func (a *Activities) PersistCompany(ctx context.Context, req PersistCompanyRequest) (*store.PersistResult, error) {
	result, err := a.deps.Store.PersistCompany(ctx, &req.Record, req.Force)
	if err != nil {
		if errors.Is(err, store.ErrPersistRollback) {
			err = resilience.NewAppError(resilience.KindData, resilience.CodeConstraint, err)
		}
		return nil, classify(err)
	}
	zap.L().Info("company persisted",
		zap.String("app", string(req.Record.App)),
		zap.String("slug", req.Record.Slug),
		zap.String("outcome", string(result.Outcome)),
	)
	return result, nil
}

// DeleteRecordRequest names a record for compensation delete.
type DeleteRecordRequest struct {
	Kind model.WorkflowKind `json:"kind"`
	App  model.AppTag       `json:"app"`
	Slug string             `json:"slug"`
}

// DeleteRecord removes a persisted record during cancellation compensation.
// Deleting an absent slug is a no-op.
func (a *Activities) DeleteRecord(ctx context.Context, req DeleteRecordRequest) error {
	var err error
	switch req.Kind {
	case model.KindCompany:
		err = a.deps.Store.DeleteCompany(ctx, req.App, req.Slug)
	default:
		err = a.deps.Store.DeleteArticle(ctx, req.App, req.Slug)
	}
	if err != nil {
		return classify(err)
	}
	zap.L().Info("record deleted for compensation",
		zap.String("kind", string(req.Kind)),
		zap.String("app", string(req.App)),
		zap.String("slug", req.Slug),
	)
	return nil
}

// BackfillArticlesRequest links existing articles to a new company.
type BackfillArticlesRequest struct {
	CompanyID string       `json:"company_id"`
	App       model.AppTag `json:"app"`
	LegalName string       `json:"legal_name"`
	Relevance float64      `json:"relevance,omitempty"`
}

// BackfillArticlesResult reports how many junction rows were written.
type BackfillArticlesResult struct {
	Linked int `json:"linked"`
}

// BackfillArticles scans existing article bodies for the newly persisted
// company's name and writes the missing junction rows.
func (a *Activities) BackfillArticles(ctx context.Context, req BackfillArticlesRequest) (*BackfillArticlesResult, error) {
	relevance := req.Relevance
	if relevance <= 0 {
		relevance = 0.5
	}
	n, err := a.deps.Store.BackfillArticleLinks(ctx, req.CompanyID, req.App, req.LegalName, relevance)
	if err != nil {
		return nil, classify(err)
	}
	if n > 0 {
		zap.L().Info("article links backfilled",
			zap.String("company_id", req.CompanyID),
			zap.Int("linked", n),
		)
	}
	return &BackfillArticlesResult{Linked: n}, nil
}
