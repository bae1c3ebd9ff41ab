package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/db"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
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

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_job":   `INSERT INTO import_jobs (id, source_url, industry, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_job":      `SELECT ` + pgJobColumns + ` FROM import_jobs WHERE id = $1`,
	"fail_job":     `UPDATE import_jobs SET status = $1, errors = $2, updated_at = $3 WHERE id = $4 AND status = ANY($5)`,
	"finalize_job": `UPDATE import_jobs SET status = $1, approved_count = $2, rejected_count = $3, updated_at = $4 WHERE id = $5`,
	"find_entry":   `SELECT ` + pgEntryColumns + ` FROM knowledge_entries WHERE owner = $1 AND source_url = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
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

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS import_jobs (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_url          TEXT NOT NULL,
	industry            TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'pending',
	crawl_id            TEXT NOT NULL DEFAULT '',
	total_pages         INTEGER NOT NULL DEFAULT 0,
	scraped_pages       INTEGER NOT NULL DEFAULT 0,
	categorized_pages   INTEGER NOT NULL DEFAULT 0,
	discovered_urls     JSONB,
	scraped_content     JSONB,
	categorized_content JSONB,
	errors              JSONB,
	approved_count      INTEGER NOT NULL DEFAULT 0,
	rejected_count      INTEGER NOT NULL DEFAULT 0,
	cancel_requested    BOOLEAN NOT NULL DEFAULT false,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS knowledge_entries (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner            TEXT NOT NULL,
	source_url       TEXT NOT NULL,
	content          JSONB NOT NULL,
	content_hash     TEXT NOT NULL,
	version          TEXT NOT NULL DEFAULT '1.0',
	previous_content JSONB,
	user_confirmed   BOOLEAN NOT NULL DEFAULT false,
	is_active        BOOLEAN NOT NULL DEFAULT true,
	scraped_at       TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(owner, source_url)
);

CREATE INDEX IF NOT EXISTS idx_import_jobs_status ON import_jobs(status);
CREATE INDEX IF NOT EXISTS idx_import_jobs_source_url ON import_jobs(source_url);
CREATE INDEX IF NOT EXISTS idx_knowledge_entries_owner ON knowledge_entries(owner);
CREATE INDEX IF NOT EXISTS idx_knowledge_entries_owner_active ON knowledge_entries(owner, is_active);
`

const pgJobColumns = `id, source_url, industry, status, crawl_id,
	total_pages, scraped_pages, categorized_pages,
	discovered_urls, scraped_content, categorized_content, errors,
	approved_count, rejected_count, cancel_requested, created_at, updated_at`

const pgEntryColumns = `id, owner, source_url, content, content_hash, version,
	previous_content, user_confirmed, is_active, scraped_at, created_at, updated_at`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, sourceURL, industry string) (*model.ImportJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_jobs (id, source_url, industry, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, sourceURL, industry, string(model.JobStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.ImportJob{
		ID:        id,
		SourceURL: sourceURL,
		Industry:  industry,
		Status:    model.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.ImportJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgJobColumns+` FROM import_jobs WHERE id = $1`,
		jobID,
	)
	j, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ImportJob, error) {
	query := `SELECT ` + pgJobColumns + ` FROM import_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.SourceURL != "" {
		query += fmt.Sprintf(` AND source_url = $%d`, argIdx)
		args = append(args, filter.SourceURL)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ImportJob
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) TransitionJob(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus) (bool, error) {
	if len(from) == 0 {
		return false, eris.New("postgres: transition requires a from set")
	}

	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
		string(to), time.Now().UTC(), jobID, fromStrs,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition job %s", jobID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, progress model.JobProgress) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	argIdx := 2

	if progress.TotalPages != nil {
		sets = append(sets, fmt.Sprintf("total_pages = GREATEST(total_pages, $%d)", argIdx))
		args = append(args, *progress.TotalPages)
		argIdx++
	}
	if progress.ScrapedPages != nil {
		sets = append(sets, fmt.Sprintf("scraped_pages = GREATEST(scraped_pages, $%d)", argIdx))
		args = append(args, *progress.ScrapedPages)
		argIdx++
	}
	if progress.CrawlID != nil {
		sets = append(sets, fmt.Sprintf("crawl_id = $%d", argIdx))
		args = append(args, *progress.CrawlID)
		argIdx++
	}
	if progress.DiscoveredURLs != nil {
		urlsJSON, err := json.Marshal(progress.DiscoveredURLs)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal discovered urls")
		}
		sets = append(sets, fmt.Sprintf("discovered_urls = $%d", argIdx))
		args = append(args, urlsJSON)
		argIdx++
	}
	if progress.ScrapedContent != nil {
		refsJSON, err := json.Marshal(progress.ScrapedContent)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal scraped refs")
		}
		sets = append(sets, fmt.Sprintf("scraped_content = $%d", argIdx))
		args = append(args, refsJSON)
		argIdx++
	}

	args = append(args, jobID)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE import_jobs SET %s WHERE id = $%d`, strings.Join(sets, ", "), argIdx),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) AppendCategorizedItem(ctx context.Context, jobID string, item model.CategorizedItem) error {
	itemJSON, err := json.Marshal([]model.CategorizedItem{item})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal categorized item")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs
		 SET categorized_content = COALESCE(categorized_content, '[]'::jsonb) || $1::jsonb,
		     categorized_pages = categorized_pages + 1,
		     updated_at = $2
		 WHERE id = $3`,
		itemJSON, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append categorized item %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID, step, message string) error {
	errJSON, err := json.Marshal(model.JobError{Step: step, Error: message})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job error")
	}

	runnable := make([]string, 0, 4)
	for _, st := range model.RunnableStatuses() {
		runnable = append(runnable, string(st))
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET status = $1, errors = $2, updated_at = $3 WHERE id = $4 AND status = ANY($5)`,
		string(model.JobStatusFailed), errJSON, time.Now().UTC(), jobID, runnable,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		// Zero rows means either no such job or the job already left the
		// runnable set. A stale failure must not regress a settled job.
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return nil
	}
	return nil
}

func (s *PostgresStore) FinalizeJob(ctx context.Context, jobID string, status model.JobStatus, approved, rejected int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET status = $1, approved_count = $2, rejected_count = $3, updated_at = $4 WHERE id = $5`,
		string(status), approved, rejected, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET cancel_requested = true, updated_at = $1
		 WHERE id = $2 AND status NOT IN ($3, $4)`,
		time.Now().UTC(), jobID,
		string(model.JobStatusApproved), string(model.JobStatusFailed),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: request cancel %s", jobID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) FindEntryBySourceURL(ctx context.Context, owner, sourceURL string) (*model.KnowledgeEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgEntryColumns+` FROM knowledge_entries WHERE owner = $1 AND source_url = $2`,
		owner, sourceURL,
	)
	e, err := scanPgEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find entry")
	}
	return e, nil
}

func (s *PostgresStore) CreateEntry(ctx context.Context, entry *model.KnowledgeEntry) (*model.KnowledgeEntry, error) {
	prepared, err := prepareEntry(entry)
	if err != nil {
		return nil, err
	}

	contentJSON, err := json.Marshal(prepared.Content)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal content")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO knowledge_entries
		 (id, owner, source_url, content, content_hash, version, user_confirmed, is_active, scraped_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		prepared.ID, prepared.Owner, prepared.SourceURL, contentJSON,
		prepared.ContentHash, prepared.Version, prepared.UserConfirmed, prepared.IsActive,
		prepared.ScrapedAt, prepared.CreatedAt, prepared.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert entry %s", prepared.SourceURL)
	}
	return prepared, nil
}

// CreateEntries bulk-inserts brand-new entries via the COPY protocol. Callers
// are responsible for ensuring no (owner, source_url) pair already exists.
func (s *PostgresStore) CreateEntries(ctx context.Context, entries []model.KnowledgeEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	columns := []string{
		"id", "owner", "source_url", "content", "content_hash", "version",
		"user_confirmed", "is_active", "scraped_at", "created_at", "updated_at",
	}
	rows := make([][]any, 0, len(entries))
	for i := range entries {
		prepared, err := prepareEntry(&entries[i])
		if err != nil {
			return 0, err
		}
		contentJSON, err := json.Marshal(prepared.Content)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal content")
		}
		rows = append(rows, []any{
			prepared.ID, prepared.Owner, prepared.SourceURL, contentJSON,
			prepared.ContentHash, prepared.Version, prepared.UserConfirmed, prepared.IsActive,
			prepared.ScrapedAt, prepared.CreatedAt, prepared.UpdatedAt,
		})
	}

	n, err := db.CopyFrom(ctx, s.pool, "knowledge_entries", columns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk insert entries")
	}
	return int(n), nil
}

func (s *PostgresStore) UpdateEntry(ctx context.Context, entryID string, update model.EntryUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	argIdx := 2

	if update.Content != nil {
		contentJSON, err := json.Marshal(update.Content)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal content")
		}
		sets = append(sets, fmt.Sprintf("content = $%d", argIdx))
		args = append(args, contentJSON)
		argIdx++
	}
	if update.ContentHash != nil {
		sets = append(sets, fmt.Sprintf("content_hash = $%d", argIdx))
		args = append(args, *update.ContentHash)
		argIdx++
	}
	if update.Version != nil {
		sets = append(sets, fmt.Sprintf("version = $%d", argIdx))
		args = append(args, *update.Version)
		argIdx++
	}
	if update.PreviousContent != nil {
		prevJSON, err := json.Marshal(update.PreviousContent)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal previous content")
		}
		sets = append(sets, fmt.Sprintf("previous_content = $%d", argIdx))
		args = append(args, prevJSON)
		argIdx++
	}
	if update.ScrapedAt != nil {
		sets = append(sets, fmt.Sprintf("scraped_at = $%d", argIdx))
		args = append(args, update.ScrapedAt.UTC())
		argIdx++
	}
	if update.UserConfirmed != nil {
		sets = append(sets, fmt.Sprintf("user_confirmed = $%d", argIdx))
		args = append(args, *update.UserConfirmed)
		argIdx++
	}
	if update.IsActive != nil {
		sets = append(sets, fmt.Sprintf("is_active = $%d", argIdx))
		args = append(args, *update.IsActive)
		argIdx++
	}

	args = append(args, entryID)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE knowledge_entries SET %s WHERE id = $%d`, strings.Join(sets, ", "), argIdx),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update entry %s", entryID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("entry not found: %s", entryID)
	}
	return nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, owner string, filter EntryFilter) ([]model.KnowledgeEntry, error) {
	query := `SELECT ` + pgEntryColumns + ` FROM knowledge_entries WHERE owner = $1`
	args := []any{owner}
	argIdx := 2

	if filter.ActiveOnly {
		query += ` AND is_active = true`
	}
	if filter.SourceURLPrefix != "" {
		query += fmt.Sprintf(` AND source_url LIKE $%d`, argIdx)
		args = append(args, likePrefix(filter.SourceURLPrefix))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entries")
	}
	defer rows.Close()

	var entries []model.KnowledgeEntry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list entries iterate")
}

func (s *PostgresStore) CountEntries(ctx context.Context, owner string, filter EntryFilter) (int, error) {
	query := `SELECT COUNT(*) FROM knowledge_entries WHERE owner = $1`
	args := []any{owner}
	argIdx := 2

	if filter.ActiveOnly {
		query += ` AND is_active = true`
	}
	if filter.SourceURLPrefix != "" {
		query += fmt.Sprintf(` AND source_url LIKE $%d`, argIdx)
		args = append(args, likePrefix(filter.SourceURLPrefix))
	}

	var count int
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	return count, eris.Wrap(err, "postgres: count entries")
}

func (s *PostgresStore) ArchiveEntry(ctx context.Context, entryID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE knowledge_entries SET is_active = false, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), entryID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: archive entry %s", entryID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("entry not found: %s", entryID)
	}
	return nil
}

func scanPgJob(row pgx.Row) (*model.ImportJob, error) {
	var j model.ImportJob
	var discoveredJSON, scrapedJSON, categorizedJSON, errorsJSON []byte

	err := row.Scan(
		&j.ID, &j.SourceURL, &j.Industry, &j.Status, &j.CrawlID,
		&j.TotalPages, &j.ScrapedPages, &j.CategorizedPages,
		&discoveredJSON, &scrapedJSON, &categorizedJSON, &errorsJSON,
		&j.ApprovedCount, &j.RejectedCount, &j.CancelRequested,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(discoveredJSON) > 0 {
		if err := json.Unmarshal(discoveredJSON, &j.DiscoveredURLs); err != nil {
			return nil, eris.Wrap(err, "unmarshal discovered urls")
		}
	}
	if len(scrapedJSON) > 0 {
		if err := json.Unmarshal(scrapedJSON, &j.ScrapedContent); err != nil {
			return nil, eris.Wrap(err, "unmarshal scraped refs")
		}
	}
	if len(categorizedJSON) > 0 {
		if err := json.Unmarshal(categorizedJSON, &j.CategorizedContent); err != nil {
			return nil, eris.Wrap(err, "unmarshal categorized content")
		}
	}
	if len(errorsJSON) > 0 {
		j.Errors = &model.JobError{}
		if err := json.Unmarshal(errorsJSON, j.Errors); err != nil {
			return nil, eris.Wrap(err, "unmarshal job errors")
		}
	}
	return &j, nil
}

func scanPgEntry(row pgx.Row) (*model.KnowledgeEntry, error) {
	var e model.KnowledgeEntry
	var contentJSON, prevJSON []byte

	err := row.Scan(
		&e.ID, &e.Owner, &e.SourceURL, &contentJSON, &e.ContentHash, &e.Version,
		&prevJSON, &e.UserConfirmed, &e.IsActive,
		&e.ScrapedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(contentJSON, &e.Content); err != nil {
		return nil, eris.Wrap(err, "unmarshal content")
	}
	if len(prevJSON) > 0 {
		if err := json.Unmarshal(prevJSON, &e.PreviousContent); err != nil {
			return nil, eris.Wrap(err, "unmarshal previous content")
		}
	}
	return &e, nil
}
