// Package store persists articles, company profiles, their junction links,
// and run bookkeeping. Two backends implement the same interface: Postgres
// (pgx) for production and SQLite (modernc) for development.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/quest-group/content-engine/internal/model"
)

// Outcome reports what a persist operation did.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
	OutcomeConflict Outcome = "conflict"
)

// ErrSlugConflict is returned when an insert loses the (app, slug) race and
// force update was not requested.
var ErrSlugConflict = eris.New("store: slug conflict")

// ErrPersistRollback is returned when the junction or image writes fail
// after the main record insert and the transaction is rolled back.
var ErrPersistRollback = eris.New("store: persist rolled back")

// ArticleRecord is the main article row. The full validated payload rides
// along as JSON for forward compatibility; frequently queried fields and
// the per-image metadata are lifted into columns.
type ArticleRecord struct {
	ID           string
	App          model.AppTag
	Slug         string
	Title        string
	Status       model.EditorialStatus
	WordCount    int
	Completeness float64
	GraphID      string
	Payload      model.ArticlePayload
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CompanyRecord is the main company row.
type CompanyRecord struct {
	ID           string
	App          model.AppTag
	Slug         string
	LegalName    string
	Domain       string
	Confidence   float64
	Completeness float64
	Status       model.EditorialStatus
	GraphID      string
	Payload      model.ProfilePayload
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CompanyRef is the slim dictionary row the entity linker matches against.
type CompanyRef struct {
	ID        string
	Slug      string
	LegalName string
	Domain    string
}

// PersistResult reports the outcome of an atomic persist.
type PersistResult struct {
	ID      string
	Outcome Outcome
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus    `json:"status,omitempty"`
	Kind   model.WorkflowKind `json:"kind,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// CachedPage is one crawled page kept by canonical URL with a TTL.
type CachedPage struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Markdown  string    `json:"markdown"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Store is the persistence interface the activities depend on.
type Store interface {
	// PersistArticle commits the main record, junction rows, and image
	// columns in one transaction under a per-slug lock. Insert-if-absent:
	// a concurrent duplicate returns OutcomeConflict (or updates under
	// force). Mentions referencing unknown company ids fail the
	// transaction with ErrPersistRollback.
	PersistArticle(ctx context.Context, rec *ArticleRecord, mentions []model.CompanyMention, force bool) (*PersistResult, error)
	GetArticle(ctx context.Context, app model.AppTag, slug string) (*ArticleRecord, error)
	// DeleteArticle is the compensation path: it removes the record and
	// its junction rows. Deleting an absent slug is a no-op.
	DeleteArticle(ctx context.Context, app model.AppTag, slug string) error
	SetArticleGraphID(ctx context.Context, id, graphID string) error
	ListArticleCompanies(ctx context.Context, articleID string) ([]model.CompanyMention, error)

	PersistCompany(ctx context.Context, rec *CompanyRecord, force bool) (*PersistResult, error)
	GetCompany(ctx context.Context, app model.AppTag, slug string) (*CompanyRecord, error)
	GetCompanyByDomain(ctx context.Context, app model.AppTag, domain string) (*CompanyRecord, error)
	DeleteCompany(ctx context.Context, app model.AppTag, slug string) error
	SetCompanyGraphID(ctx context.Context, id, graphID string) error
	// ListCompanyRefs returns the dictionary the entity linker resolves
	// candidate mentions against.
	ListCompanyRefs(ctx context.Context, app model.AppTag) ([]CompanyRef, error)
	// BackfillArticleLinks links existing articles that mention a newly
	// persisted company. Returns the number of junction rows written.
	BackfillArticleLinks(ctx context.Context, companyID string, app model.AppTag, legalName string, relevance float64) (int, error)

	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRunResult(ctx context.Context, runID string, result *model.WorkflowResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	CreatePhase(ctx context.Context, runID, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, status model.PhaseStatus, durationMS int64, errMsg string) error

	// Crawl cache
	GetCachedCrawl(ctx context.Context, canonicalURL string) (*CachedPage, error)
	SetCachedCrawl(ctx context.Context, canonicalURL string, page *CachedPage, ttl time.Duration) error
	DeleteExpiredCrawls(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
