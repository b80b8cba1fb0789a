package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/quest-group/content-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and tests; the per-slug lock degenerates to SQLite's
// single-writer transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS articles (
	id           TEXT PRIMARY KEY,
	app          TEXT NOT NULL,
	slug         TEXT NOT NULL,
	title        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'draft',
	word_count   INTEGER NOT NULL DEFAULT 0,
	completeness REAL NOT NULL DEFAULT 0,
	graph_id     TEXT,
	payload      TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (app, slug)
);

CREATE TABLE IF NOT EXISTS companies (
	id           TEXT PRIMARY KEY,
	app          TEXT NOT NULL,
	slug         TEXT NOT NULL,
	legal_name   TEXT NOT NULL,
	domain       TEXT NOT NULL,
	confidence   REAL NOT NULL DEFAULT 0,
	completeness REAL NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'draft',
	graph_id     TEXT,
	payload      TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (app, slug)
);

CREATE TABLE IF NOT EXISTS article_companies (
	article_id TEXT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
	company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	relevance  REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (article_id, company_id)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	app        TEXT NOT NULL,
	slug       TEXT,
	input      TEXT,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	duration_ms INTEGER,
	error       TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS crawl_cache (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	page       TEXT NOT NULL,
	crawled_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PersistArticle commits the article and junction rows in one transaction.
func (s *SQLiteStore) PersistArticle(ctx context.Context, rec *ArticleRecord, mentions []model.CompanyMention, force bool) (*PersistResult, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal article payload")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin persist")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO articles (id, app, slug, title, status, word_count, completeness, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (app, slug) DO NOTHING`,
		rec.ID, rec.App, rec.Slug, rec.Title, rec.Status, rec.WordCount, rec.Completeness, string(payload),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert article")
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}

	result := &PersistResult{ID: rec.ID, Outcome: OutcomeCreated}
	if inserted == 0 {
		var existing string
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM articles WHERE app=? AND slug=?`, rec.App, rec.Slug,
		).Scan(&existing); err != nil {
			return nil, eris.Wrap(err, "sqlite: lookup conflicting article")
		}
		if !force {
			result.ID = existing
			result.Outcome = OutcomeConflict
			return result, tx.Commit()
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE articles SET title=?, status=?, word_count=?, completeness=?, payload=?, updated_at=datetime('now')
			WHERE id=?`,
			rec.Title, rec.Status, rec.WordCount, rec.Completeness, string(payload), existing,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: update article")
		}
		result.ID = existing
		result.Outcome = OutcomeUpdated
	}
	rec.ID = result.ID

	if _, err := tx.ExecContext(ctx, `DELETE FROM article_companies WHERE article_id=?`, result.ID); err != nil {
		return nil, eris.Wrap(err, "sqlite: clear junction")
	}
	for _, m := range mentions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO article_companies (article_id, company_id, relevance) VALUES (?, ?, ?)`,
			result.ID, m.CompanyID, m.Relevance,
		); err != nil {
			return nil, eris.Wrapf(ErrPersistRollback, "company %s unresolved: %v", m.CompanyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit persist")
	}
	return result, nil
}

// GetArticle fetches an article by (app, slug). Returns nil when absent.
func (s *SQLiteStore) GetArticle(ctx context.Context, app model.AppTag, slug string) (*ArticleRecord, error) {
	rec := &ArticleRecord{}
	var payload string
	var graphID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, app, slug, title, status, word_count, completeness, graph_id, payload, created_at, updated_at
		FROM articles WHERE app=? AND slug=?`, app, slug,
	).Scan(&rec.ID, &rec.App, &rec.Slug, &rec.Title, &rec.Status, &rec.WordCount,
		&rec.Completeness, &graphID, &payload, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get article %s/%s", app, slug)
	}
	rec.GraphID = graphID.String
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal article payload")
	}
	return rec, nil
}

// DeleteArticle removes an article and its junction rows.
func (s *SQLiteStore) DeleteArticle(ctx context.Context, app model.AppTag, slug string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE app=? AND slug=?`, app, slug); err != nil {
		return eris.Wrapf(err, "sqlite: delete article %s/%s", app, slug)
	}
	return nil
}

// SetArticleGraphID records the graph id after a successful sync.
func (s *SQLiteStore) SetArticleGraphID(ctx context.Context, id, graphID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE articles SET graph_id=?, updated_at=datetime('now') WHERE id=?`, graphID, id,
	); err != nil {
		return eris.Wrapf(err, "sqlite: set article graph id %s", id)
	}
	return nil
}

// ListArticleCompanies returns the junction rows for an article.
func (s *SQLiteStore) ListArticleCompanies(ctx context.Context, articleID string) ([]model.CompanyMention, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT company_id, relevance FROM article_companies WHERE article_id=? ORDER BY relevance DESC`,
		articleID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list article companies %s", articleID)
	}
	defer rows.Close()

	var out []model.CompanyMention
	for rows.Next() {
		var m model.CompanyMention
		if err := rows.Scan(&m.CompanyID, &m.Relevance); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mention")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PersistCompany commits the company record.
func (s *SQLiteStore) PersistCompany(ctx context.Context, rec *CompanyRecord, force bool) (*PersistResult, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal company payload")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin persist")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO companies (id, app, slug, legal_name, domain, confidence, completeness, status, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (app, slug) DO NOTHING`,
		rec.ID, rec.App, rec.Slug, rec.LegalName, rec.Domain, rec.Confidence, rec.Completeness, rec.Status, string(payload),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert company")
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}

	result := &PersistResult{ID: rec.ID, Outcome: OutcomeCreated}
	if inserted == 0 {
		var existing string
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM companies WHERE app=? AND slug=?`, rec.App, rec.Slug,
		).Scan(&existing); err != nil {
			return nil, eris.Wrap(err, "sqlite: lookup conflicting company")
		}
		if !force {
			result.ID = existing
			result.Outcome = OutcomeConflict
			return result, tx.Commit()
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE companies SET legal_name=?, domain=?, confidence=?, completeness=?, status=?, payload=?, updated_at=datetime('now')
			WHERE id=?`,
			rec.LegalName, rec.Domain, rec.Confidence, rec.Completeness, rec.Status, string(payload), existing,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: update company")
		}
		result.ID = existing
		result.Outcome = OutcomeUpdated
	}
	rec.ID = result.ID

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit persist")
	}
	return result, nil
}

// GetCompany fetches a company by (app, slug). Returns nil when absent.
func (s *SQLiteStore) GetCompany(ctx context.Context, app model.AppTag, slug string) (*CompanyRecord, error) {
	return s.getCompanyWhere(ctx, `app=? AND slug=?`, app, slug)
}

// GetCompanyByDomain fetches a company by its canonical domain.
func (s *SQLiteStore) GetCompanyByDomain(ctx context.Context, app model.AppTag, domain string) (*CompanyRecord, error) {
	return s.getCompanyWhere(ctx, `app=? AND domain=?`, app, domain)
}

func (s *SQLiteStore) getCompanyWhere(ctx context.Context, where string, args ...any) (*CompanyRecord, error) {
	rec := &CompanyRecord{}
	var payload string
	var graphID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, app, slug, legal_name, domain, confidence, completeness, status, graph_id, payload, created_at, updated_at
		FROM companies WHERE `+where, args...,
	).Scan(&rec.ID, &rec.App, &rec.Slug, &rec.LegalName, &rec.Domain, &rec.Confidence,
		&rec.Completeness, &rec.Status, &graphID, &payload, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get company")
	}
	rec.GraphID = graphID.String
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal company payload")
	}
	return rec, nil
}

// DeleteCompany removes a company record.
func (s *SQLiteStore) DeleteCompany(ctx context.Context, app model.AppTag, slug string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE app=? AND slug=?`, app, slug); err != nil {
		return eris.Wrapf(err, "sqlite: delete company %s/%s", app, slug)
	}
	return nil
}

// SetCompanyGraphID records the graph id after a successful sync.
func (s *SQLiteStore) SetCompanyGraphID(ctx context.Context, id, graphID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE companies SET graph_id=?, updated_at=datetime('now') WHERE id=?`, graphID, id,
	); err != nil {
		return eris.Wrapf(err, "sqlite: set company graph id %s", id)
	}
	return nil
}

// ListCompanyRefs returns the entity-linking dictionary for an app.
func (s *SQLiteStore) ListCompanyRefs(ctx context.Context, app model.AppTag) ([]CompanyRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slug, legal_name, domain FROM companies WHERE app=? ORDER BY legal_name`, app,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list company refs")
	}
	defer rows.Close()

	var out []CompanyRef
	for rows.Next() {
		var r CompanyRef
		if err := rows.Scan(&r.ID, &r.Slug, &r.LegalName, &r.Domain); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company ref")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BackfillArticleLinks links existing articles that mention a newly
// persisted company.
func (s *SQLiteStore) BackfillArticleLinks(ctx context.Context, companyID string, app model.AppTag, legalName string, relevance float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO article_companies (article_id, company_id, relevance)
		SELECT a.id, ?, ? FROM articles a
		WHERE a.app = ? AND a.payload LIKE '%' || ? || '%'`,
		companyID, relevance, app, legalName,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: backfill links")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: backfill rows affected")
	}
	return int(n), nil
}

// CreateRun inserts a run bookkeeping record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO runs (id, kind, app, slug, input, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.App, run.Slug, string(run.Input), run.Status, run.CreatedAt, run.UpdatedAt,
	); err != nil {
		return eris.Wrap(err, "sqlite: create run")
	}
	return nil
}

// UpdateRunResult records the terminal result of a run.
func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.WorkflowResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run result")
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result=?, status=?, updated_at=datetime('now') WHERE id=?`,
		string(raw), result.Status, runID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", runID)
	}
	return nil
}

// GetRun fetches a run by id. Returns nil when absent.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	run := &model.Run{}
	var slug, input, result sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, app, slug, input, status, result, created_at, updated_at FROM runs WHERE id=?`,
		runID,
	).Scan(&run.ID, &run.Kind, &run.App, &slug, &input, &run.Status, &result, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	run.Slug = slug.String
	run.Input = []byte(input.String)
	if result.Valid && result.String != "" {
		run.Result = &model.WorkflowResult{}
		if err := json.Unmarshal([]byte(result.String), run.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run result")
		}
	}
	return run, nil
}

// ListRuns returns runs matching the filter, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, kind, app, slug, input, status, result, created_at, updated_at FROM runs`
	var args []any
	where := ""
	if filter.Status != "" {
		where = ` WHERE status=?`
		args = append(args, filter.Status)
	}
	if filter.Kind != "" {
		if where == "" {
			where = ` WHERE kind=?`
		} else {
			where += ` AND kind=?`
		}
		args = append(args, filter.Kind)
	}
	query += where + fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		var run model.Run
		var slug, input, result sql.NullString
		if err := rows.Scan(&run.ID, &run.Kind, &run.App, &slug, &input, &run.Status, &result, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		run.Slug = slug.String
		run.Input = []byte(input.String)
		if result.Valid && result.String != "" {
			run.Result = &model.WorkflowResult{}
			if err := json.Unmarshal([]byte(result.String), run.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal run result")
			}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// CreatePhase inserts a phase row for a run.
func (s *SQLiteStore) CreatePhase(ctx context.Context, runID, name string) (*model.RunPhase, error) {
	phase := &model.RunPhase{
		ID:        uuid.NewString(),
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		phase.ID, phase.RunID, phase.Name, phase.Status, phase.StartedAt,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: create phase %s", name)
	}
	return phase, nil
}

// CompletePhase records the terminal status of a phase.
func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, status model.PhaseStatus, durationMS int64, errMsg string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status=?, duration_ms=?, error=NULLIF(?, '') WHERE id=?`,
		status, durationMS, errMsg, phaseID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return nil
}

// GetCachedCrawl returns the unexpired cached page for a canonical URL,
// or nil.
func (s *SQLiteStore) GetCachedCrawl(ctx context.Context, canonicalURL string) (*CachedPage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT page FROM crawl_cache WHERE url=? AND expires_at > datetime('now')`, canonicalURL,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cached crawl %s", canonicalURL)
	}
	page := &CachedPage{}
	if err := json.Unmarshal([]byte(raw), page); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached page")
	}
	return page, nil
}

// SetCachedCrawl stores a crawled page under its canonical URL.
func (s *SQLiteStore) SetCachedCrawl(ctx context.Context, canonicalURL string, page *CachedPage, ttl time.Duration) error {
	raw, err := json.Marshal(page)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cached page")
	}
	expires := time.Now().UTC().Add(ttl)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_cache (id, url, page, crawled_at, expires_at)
		VALUES (?, ?, ?, datetime('now'), ?)
		ON CONFLICT (url) DO UPDATE SET page=excluded.page, crawled_at=datetime('now'), expires_at=excluded.expires_at`,
		uuid.NewString(), canonicalURL, string(raw), expires,
	); err != nil {
		return eris.Wrapf(err, "sqlite: set cached crawl %s", canonicalURL)
	}
	return nil
}

// DeleteExpiredCrawls prunes expired cache rows.
func (s *SQLiteStore) DeleteExpiredCrawls(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM crawl_cache WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired crawls")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)
