package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/quest-group/content-engine/internal/db"
	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	// The database is often still starting when the worker comes up, so
	// the readiness ping retries regardless of error shape.
	pingCfg := resilience.RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		ShouldRetry:    func(error) bool { return true },
		OnRetry:        resilience.RetryLogger("postgres", "ping"),
	}
	err = resilience.Do(ctx, pingCfg, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool (or a pgxmock pool in tests).
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS articles (
	id           TEXT PRIMARY KEY,
	app          TEXT NOT NULL,
	slug         TEXT NOT NULL,
	title        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'draft',
	word_count   INTEGER NOT NULL DEFAULT 0,
	completeness DOUBLE PRECISION NOT NULL DEFAULT 0,
	graph_id     TEXT,
	payload      JSONB NOT NULL,
	featured_image_url TEXT, featured_image_alt TEXT, featured_image_description TEXT, featured_image_title TEXT,
	hero_image_url     TEXT, hero_image_alt     TEXT, hero_image_description     TEXT, hero_image_title     TEXT,
	content_image1_url TEXT, content_image1_alt TEXT, content_image1_description TEXT, content_image1_title TEXT,
	content_image2_url TEXT, content_image2_alt TEXT, content_image2_description TEXT, content_image2_title TEXT,
	content_image3_url TEXT, content_image3_alt TEXT, content_image3_description TEXT, content_image3_title TEXT,
	content_image4_url TEXT, content_image4_alt TEXT, content_image4_description TEXT, content_image4_title TEXT,
	content_image5_url TEXT, content_image5_alt TEXT, content_image5_description TEXT, content_image5_title TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (app, slug)
);

CREATE TABLE IF NOT EXISTS companies (
	id           TEXT PRIMARY KEY,
	app          TEXT NOT NULL,
	slug         TEXT NOT NULL,
	legal_name   TEXT NOT NULL,
	domain       TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	completeness DOUBLE PRECISION NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'draft',
	graph_id     TEXT,
	payload      JSONB NOT NULL,
	featured_image_url TEXT, featured_image_alt TEXT, featured_image_description TEXT, featured_image_title TEXT,
	hero_image_url     TEXT, hero_image_alt     TEXT, hero_image_description     TEXT, hero_image_title     TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (app, slug)
);

CREATE TABLE IF NOT EXISTS article_companies (
	article_id TEXT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
	company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	relevance  DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (article_id, company_id)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	app        TEXT NOT NULL,
	slug       TEXT,
	input      JSONB,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	duration_ms BIGINT,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crawl_cache (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	page       JSONB NOT NULL,
	crawled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_app_slug ON articles(app, slug);
CREATE INDEX IF NOT EXISTS idx_companies_app_slug ON companies(app, slug);
CREATE INDEX IF NOT EXISTS idx_companies_domain ON companies(app, domain);
CREATE INDEX IF NOT EXISTS idx_article_companies_company ON article_companies(company_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_crawl_cache_expires_at ON crawl_cache(expires_at);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const articleInsertSQL = `
	INSERT INTO articles (
		id, app, slug, title, status, word_count, completeness, payload,
		featured_image_url, featured_image_alt, featured_image_description, featured_image_title,
		hero_image_url, hero_image_alt, hero_image_description, hero_image_title,
		content_image1_url, content_image1_alt, content_image1_description, content_image1_title,
		content_image2_url, content_image2_alt, content_image2_description, content_image2_title,
		content_image3_url, content_image3_alt, content_image3_description, content_image3_title,
		content_image4_url, content_image4_alt, content_image4_description, content_image4_title,
		content_image5_url, content_image5_alt, content_image5_description, content_image5_title
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8,
		$9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24,
		$25, $26, $27, $28, $29, $30, $31, $32,
		$33, $34, $35, $36
	)
	ON CONFLICT (app, slug) DO NOTHING
	RETURNING id`

const articleUpdateSQL = `
	UPDATE articles SET
		title=$3, status=$4, word_count=$5, completeness=$6, payload=$7,
		featured_image_url=$8, featured_image_alt=$9, featured_image_description=$10, featured_image_title=$11,
		hero_image_url=$12, hero_image_alt=$13, hero_image_description=$14, hero_image_title=$15,
		content_image1_url=$16, content_image1_alt=$17, content_image1_description=$18, content_image1_title=$19,
		content_image2_url=$20, content_image2_alt=$21, content_image2_description=$22, content_image2_title=$23,
		content_image3_url=$24, content_image3_alt=$25, content_image3_description=$26, content_image3_title=$27,
		content_image4_url=$28, content_image4_alt=$29, content_image4_description=$30, content_image4_title=$31,
		content_image5_url=$32, content_image5_alt=$33, content_image5_description=$34, content_image5_title=$35,
		updated_at=now()
	WHERE app=$1 AND slug=$2
	RETURNING id`

// imageArgs flattens a bundle into url/alt/description/title columns per
// slot, nil for slots that failed generation.
func imageArgs(b *model.ImageBundle, slots []model.ImageSlot) []any {
	args := make([]any, 0, len(slots)*4)
	for _, slot := range slots {
		rec := b.Get(slot)
		if rec == nil {
			args = append(args, nil, nil, nil, nil)
			continue
		}
		args = append(args, rec.URL, rec.Alt, rec.Description, rec.Title)
	}
	return args
}

// PersistArticle commits the article, its image columns, and junction rows
// atomically. A per-slug advisory lock serializes concurrent writers; the
// loser of an insert race observes the conflict instead of a unique
// violation.
func (s *PostgresStore) PersistArticle(ctx context.Context, rec *ArticleRecord, mentions []model.CompanyMention, force bool) (*PersistResult, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal article payload")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin persist")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		string(rec.App)+":"+rec.Slug,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: slug lock")
	}

	args := append(
		[]any{rec.ID, rec.App, rec.Slug, rec.Title, rec.Status, rec.WordCount, rec.Completeness, payload},
		imageArgs(&rec.Payload.Images, model.ArticleImageSlots)...,
	)
	result := &PersistResult{Outcome: OutcomeCreated}
	err = tx.QueryRow(ctx, articleInsertSQL, args...).Scan(&result.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		if !force {
			var existing string
			if scanErr := tx.QueryRow(ctx,
				`SELECT id FROM articles WHERE app=$1 AND slug=$2`, rec.App, rec.Slug,
			).Scan(&existing); scanErr == nil {
				result.ID = existing
			}
			result.Outcome = OutcomeConflict
			return result, tx.Commit(ctx)
		}
		updArgs := append(
			[]any{rec.App, rec.Slug, rec.Title, rec.Status, rec.WordCount, rec.Completeness, payload},
			imageArgs(&rec.Payload.Images, model.ArticleImageSlots)...,
		)
		if err := tx.QueryRow(ctx, articleUpdateSQL, updArgs...).Scan(&result.ID); err != nil {
			return nil, eris.Wrap(err, "postgres: update article")
		}
		result.Outcome = OutcomeUpdated
	} else if err != nil {
		return nil, eris.Wrap(err, "postgres: insert article")
	}
	rec.ID = result.ID

	// Junction rows replace any prior set for the article. A foreign-key
	// violation means a mention slipped past link-time resolution; the
	// whole persist rolls back.
	if _, err := tx.Exec(ctx, `DELETE FROM article_companies WHERE article_id=$1`, result.ID); err != nil {
		return nil, eris.Wrap(err, "postgres: clear junction")
	}
	for _, m := range mentions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO article_companies (article_id, company_id, relevance) VALUES ($1, $2, $3)`,
			result.ID, m.CompanyID, m.Relevance,
		); err != nil {
			if isForeignKeyViolation(err) {
				return nil, eris.Wrapf(ErrPersistRollback, "company %s unresolved: %v", m.CompanyID, err)
			}
			return nil, eris.Wrapf(err, "postgres: link company %s", m.CompanyID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit persist")
	}
	return result, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// GetArticle fetches an article by (app, slug). Returns nil when absent.
func (s *PostgresStore) GetArticle(ctx context.Context, app model.AppTag, slug string) (*ArticleRecord, error) {
	rec := &ArticleRecord{}
	var payload []byte
	var graphID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, app, slug, title, status, word_count, completeness, graph_id, payload, created_at, updated_at
		FROM articles WHERE app=$1 AND slug=$2`, app, slug,
	).Scan(&rec.ID, &rec.App, &rec.Slug, &rec.Title, &rec.Status, &rec.WordCount,
		&rec.Completeness, &graphID, &payload, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get article %s/%s", app, slug)
	}
	if graphID != nil {
		rec.GraphID = *graphID
	}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal article payload")
	}
	return rec, nil
}

// DeleteArticle removes an article and, via cascade, its junction rows.
func (s *PostgresStore) DeleteArticle(ctx context.Context, app model.AppTag, slug string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM articles WHERE app=$1 AND slug=$2`, app, slug); err != nil {
		return eris.Wrapf(err, "postgres: delete article %s/%s", app, slug)
	}
	return nil
}

// SetArticleGraphID records the graph id after a successful sync.
func (s *PostgresStore) SetArticleGraphID(ctx context.Context, id, graphID string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE articles SET graph_id=$2, updated_at=now() WHERE id=$1`, id, graphID,
	); err != nil {
		return eris.Wrapf(err, "postgres: set article graph id %s", id)
	}
	return nil
}

// ListArticleCompanies returns the junction rows for an article.
func (s *PostgresStore) ListArticleCompanies(ctx context.Context, articleID string) ([]model.CompanyMention, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT company_id, relevance FROM article_companies WHERE article_id=$1 ORDER BY relevance DESC`,
		articleID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list article companies %s", articleID)
	}
	defer rows.Close()

	var out []model.CompanyMention
	for rows.Next() {
		var m model.CompanyMention
		if err := rows.Scan(&m.CompanyID, &m.Relevance); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mention")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const companyInsertSQL = `
	INSERT INTO companies (
		id, app, slug, legal_name, domain, confidence, completeness, status, payload,
		featured_image_url, featured_image_alt, featured_image_description, featured_image_title,
		hero_image_url, hero_image_alt, hero_image_description, hero_image_title
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9,
		$10, $11, $12, $13, $14, $15, $16, $17
	)
	ON CONFLICT (app, slug) DO NOTHING
	RETURNING id`

const companyUpdateSQL = `
	UPDATE companies SET
		legal_name=$3, domain=$4, confidence=$5, completeness=$6, status=$7, payload=$8,
		featured_image_url=$9, featured_image_alt=$10, featured_image_description=$11, featured_image_title=$12,
		hero_image_url=$13, hero_image_alt=$14, hero_image_description=$15, hero_image_title=$16,
		updated_at=now()
	WHERE app=$1 AND slug=$2
	RETURNING id`

// PersistCompany commits the company record under the same per-slug lock
// discipline as articles.
func (s *PostgresStore) PersistCompany(ctx context.Context, rec *CompanyRecord, force bool) (*PersistResult, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal company payload")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin persist")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		string(rec.App)+":"+rec.Slug,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: slug lock")
	}

	args := append(
		[]any{rec.ID, rec.App, rec.Slug, rec.LegalName, rec.Domain, rec.Confidence, rec.Completeness, rec.Status, payload},
		imageArgs(&rec.Payload.Images, model.CompanyImageSlots)...,
	)
	result := &PersistResult{Outcome: OutcomeCreated}
	err = tx.QueryRow(ctx, companyInsertSQL, args...).Scan(&result.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		if !force {
			var existing string
			if scanErr := tx.QueryRow(ctx,
				`SELECT id FROM companies WHERE app=$1 AND slug=$2`, rec.App, rec.Slug,
			).Scan(&existing); scanErr == nil {
				result.ID = existing
			}
			result.Outcome = OutcomeConflict
			return result, tx.Commit(ctx)
		}
		updArgs := append(
			[]any{rec.App, rec.Slug, rec.LegalName, rec.Domain, rec.Confidence, rec.Completeness, rec.Status, payload},
			imageArgs(&rec.Payload.Images, model.CompanyImageSlots)...,
		)
		if err := tx.QueryRow(ctx, companyUpdateSQL, updArgs...).Scan(&result.ID); err != nil {
			return nil, eris.Wrap(err, "postgres: update company")
		}
		result.Outcome = OutcomeUpdated
	} else if err != nil {
		return nil, eris.Wrap(err, "postgres: insert company")
	}
	rec.ID = result.ID

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit persist")
	}
	return result, nil
}

// GetCompany fetches a company by (app, slug). Returns nil when absent.
func (s *PostgresStore) GetCompany(ctx context.Context, app model.AppTag, slug string) (*CompanyRecord, error) {
	return s.getCompanyWhere(ctx, `app=$1 AND slug=$2`, app, slug)
}

// GetCompanyByDomain fetches a company by its canonical domain.
func (s *PostgresStore) GetCompanyByDomain(ctx context.Context, app model.AppTag, domain string) (*CompanyRecord, error) {
	return s.getCompanyWhere(ctx, `app=$1 AND domain=$2`, app, domain)
}

func (s *PostgresStore) getCompanyWhere(ctx context.Context, where string, args ...any) (*CompanyRecord, error) {
	rec := &CompanyRecord{}
	var payload []byte
	var graphID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, app, slug, legal_name, domain, confidence, completeness, status, graph_id, payload, created_at, updated_at
		FROM companies WHERE `+where, args...,
	).Scan(&rec.ID, &rec.App, &rec.Slug, &rec.LegalName, &rec.Domain, &rec.Confidence,
		&rec.Completeness, &rec.Status, &graphID, &payload, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get company")
	}
	if graphID != nil {
		rec.GraphID = *graphID
	}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal company payload")
	}
	return rec, nil
}

// DeleteCompany removes a company record.
func (s *PostgresStore) DeleteCompany(ctx context.Context, app model.AppTag, slug string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM companies WHERE app=$1 AND slug=$2`, app, slug); err != nil {
		return eris.Wrapf(err, "postgres: delete company %s/%s", app, slug)
	}
	return nil
}

// SetCompanyGraphID records the graph id after a successful sync.
func (s *PostgresStore) SetCompanyGraphID(ctx context.Context, id, graphID string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE companies SET graph_id=$2, updated_at=now() WHERE id=$1`, id, graphID,
	); err != nil {
		return eris.Wrapf(err, "postgres: set company graph id %s", id)
	}
	return nil
}

// ListCompanyRefs returns the entity-linking dictionary for an app.
func (s *PostgresStore) ListCompanyRefs(ctx context.Context, app model.AppTag) ([]CompanyRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, slug, legal_name, domain FROM companies WHERE app=$1 ORDER BY legal_name`, app,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list company refs")
	}
	defer rows.Close()

	var out []CompanyRef
	for rows.Next() {
		var r CompanyRef
		if err := rows.Scan(&r.ID, &r.Slug, &r.LegalName, &r.Domain); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company ref")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BackfillArticleLinks links existing articles in the same app whose body
// mentions a newly persisted company. Junction rows are bulk-upserted so
// re-delivery is safe.
func (s *PostgresStore) BackfillArticleLinks(ctx context.Context, companyID string, app model.AppTag, legalName string, relevance float64) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id FROM articles a
		WHERE a.app = $1
		  AND a.payload->>'markdown' ILIKE '%' || $2 || '%'
		  AND NOT EXISTS (
			SELECT 1 FROM article_companies ac
			WHERE ac.article_id = a.id AND ac.company_id = $3
		  )`, app, legalName, companyID)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: backfill scan")
	}
	defer rows.Close()

	var junction [][]any
	for rows.Next() {
		var articleID string
		if err := rows.Scan(&articleID); err != nil {
			return 0, eris.Wrap(err, "postgres: backfill scan row")
		}
		junction = append(junction, []any{articleID, companyID, relevance})
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "postgres: backfill rows")
	}
	if len(junction) == 0 {
		return 0, nil
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "article_companies",
		Columns:      []string{"article_id", "company_id", "relevance"},
		ConflictKeys: []string{"article_id", "company_id"},
	}, junction)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: backfill upsert")
	}
	return int(n), nil
}

// CreateRun inserts a run bookkeeping record.
func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, kind, app, slug, input, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		run.ID, run.Kind, run.App, run.Slug, run.Input, run.Status, run.CreatedAt, run.UpdatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: create run")
	}
	return nil
}

// UpdateRunResult records the terminal result of a run.
func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.WorkflowResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run result")
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE runs SET result=$2, status=$3, updated_at=now() WHERE id=$1`,
		runID, raw, result.Status,
	); err != nil {
		return eris.Wrapf(err, "postgres: update run %s", runID)
	}
	return nil
}

// GetRun fetches a run by id. Returns nil when absent.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	run := &model.Run{}
	var slug *string
	var result []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, app, slug, input, status, result, created_at, updated_at FROM runs WHERE id=$1`,
		runID,
	).Scan(&run.ID, &run.Kind, &run.App, &slug, &run.Input, &run.Status, &result, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if slug != nil {
		run.Slug = *slug
	}
	if len(result) > 0 {
		run.Result = &model.WorkflowResult{}
		if err := json.Unmarshal(result, run.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run result")
		}
	}
	return run, nil
}

// ListRuns returns runs matching the filter, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, kind, app, slug, input, status, result, created_at, updated_at FROM runs`
	args := []any{}
	where := ""
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = ` WHERE status=$1`
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		if where == "" {
			where = ` WHERE kind=$1`
		} else {
			where += ` AND kind=$2`
		}
	}
	args = append(args, limit, filter.Offset)
	query += where + fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		var run model.Run
		var slug *string
		var result []byte
		if err := rows.Scan(&run.ID, &run.Kind, &run.App, &slug, &run.Input, &run.Status, &result, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if slug != nil {
			run.Slug = *slug
		}
		if len(result) > 0 {
			run.Result = &model.WorkflowResult{}
			if err := json.Unmarshal(result, run.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal run result")
			}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// CreatePhase inserts a phase row for a run.
func (s *PostgresStore) CreatePhase(ctx context.Context, runID, name string) (*model.RunPhase, error) {
	phase := &model.RunPhase{
		ID:        uuid.NewString(),
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		phase.ID, phase.RunID, phase.Name, phase.Status, phase.StartedAt,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: create phase %s", name)
	}
	return phase, nil
}

// CompletePhase records the terminal status of a phase.
func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, status model.PhaseStatus, durationMS int64, errMsg string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status=$2, duration_ms=$3, error=NULLIF($4, '') WHERE id=$1`,
		phaseID, status, durationMS, errMsg,
	); err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	return nil
}

// GetCachedCrawl returns the unexpired cached page for a canonical URL,
// or nil.
func (s *PostgresStore) GetCachedCrawl(ctx context.Context, canonicalURL string) (*CachedPage, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT page FROM crawl_cache WHERE url=$1 AND expires_at > now()`, canonicalURL,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cached crawl %s", canonicalURL)
	}
	page := &CachedPage{}
	if err := json.Unmarshal(raw, page); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached page")
	}
	return page, nil
}

// SetCachedCrawl stores a crawled page under its canonical URL.
func (s *PostgresStore) SetCachedCrawl(ctx context.Context, canonicalURL string, page *CachedPage, ttl time.Duration) error {
	raw, err := json.Marshal(page)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cached page")
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_cache (id, url, page, crawled_at, expires_at)
		VALUES ($1, $2, $3, now(), now() + $4::interval)
		ON CONFLICT (url) DO UPDATE SET page=EXCLUDED.page, crawled_at=now(), expires_at=EXCLUDED.expires_at`,
		uuid.NewString(), canonicalURL, raw, ttl.String(),
	); err != nil {
		return eris.Wrapf(err, "postgres: set cached crawl %s", canonicalURL)
	}
	return nil
}

// DeleteExpiredCrawls prunes expired cache rows.
func (s *PostgresStore) DeleteExpiredCrawls(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crawl_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired crawls")
	}
	return int(tag.RowsAffected()), nil
}
