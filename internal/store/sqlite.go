package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS import_jobs (
	id                  TEXT PRIMARY KEY,
	source_url          TEXT NOT NULL,
	industry            TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'pending',
	crawl_id            TEXT NOT NULL DEFAULT '',
	total_pages         INTEGER NOT NULL DEFAULT 0,
	scraped_pages       INTEGER NOT NULL DEFAULT 0,
	categorized_pages   INTEGER NOT NULL DEFAULT 0,
	discovered_urls     TEXT,
	scraped_content     TEXT,
	categorized_content TEXT,
	errors              TEXT,
	approved_count      INTEGER NOT NULL DEFAULT 0,
	rejected_count      INTEGER NOT NULL DEFAULT 0,
	cancel_requested    INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS knowledge_entries (
	id               TEXT PRIMARY KEY,
	owner            TEXT NOT NULL,
	source_url       TEXT NOT NULL,
	content          TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	version          TEXT NOT NULL DEFAULT '1.0',
	previous_content TEXT,
	user_confirmed   INTEGER NOT NULL DEFAULT 0,
	is_active        INTEGER NOT NULL DEFAULT 1,
	scraped_at       DATETIME NOT NULL,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(owner, source_url)
);

CREATE INDEX IF NOT EXISTS idx_import_jobs_status ON import_jobs(status);
CREATE INDEX IF NOT EXISTS idx_import_jobs_source_url ON import_jobs(source_url);
CREATE INDEX IF NOT EXISTS idx_knowledge_entries_owner ON knowledge_entries(owner);
CREATE INDEX IF NOT EXISTS idx_knowledge_entries_owner_active ON knowledge_entries(owner, is_active);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, sourceURL, industry string) (*model.ImportJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_jobs (id, source_url, industry, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, sourceURL, industry, string(model.JobStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
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

const sqliteJobColumns = `id, source_url, industry, status, crawl_id,
	total_pages, scraped_pages, categorized_pages,
	discovered_urls, scraped_content, categorized_content, errors,
	approved_count, rejected_count, cancel_requested, created_at, updated_at`

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.ImportJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM import_jobs WHERE id = ?`,
		jobID,
	)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ImportJob, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM import_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SourceURL != "" {
		query += ` AND source_url = ?`
		args = append(args, filter.SourceURL)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.ImportJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) TransitionJob(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus) (bool, error) {
	if len(from) == 0 {
		return false, eris.New("sqlite: transition requires a from set")
	}

	placeholders := make([]string, len(from))
	args := []any{string(to), time.Now().UTC(), jobID}
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, progress model.JobProgress) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if progress.TotalPages != nil {
		sets = append(sets, "total_pages = MAX(total_pages, ?)")
		args = append(args, *progress.TotalPages)
	}
	if progress.ScrapedPages != nil {
		sets = append(sets, "scraped_pages = MAX(scraped_pages, ?)")
		args = append(args, *progress.ScrapedPages)
	}
	if progress.CrawlID != nil {
		sets = append(sets, "crawl_id = ?")
		args = append(args, *progress.CrawlID)
	}
	if progress.DiscoveredURLs != nil {
		urlsJSON, err := json.Marshal(progress.DiscoveredURLs)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal discovered urls")
		}
		sets = append(sets, "discovered_urls = ?")
		args = append(args, string(urlsJSON))
	}
	if progress.ScrapedContent != nil {
		refsJSON, err := json.Marshal(progress.ScrapedContent)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal scraped refs")
		}
		sets = append(sets, "scraped_content = ?")
		args = append(args, string(refsJSON))
	}

	args = append(args, jobID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) AppendCategorizedItem(ctx context.Context, jobID string, item model.CategorizedItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append categorized")
	}
	defer tx.Rollback()

	var itemsJSON sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT categorized_content FROM import_jobs WHERE id = ?`,
		jobID,
	).Scan(&itemsJSON)
	if err == sql.ErrNoRows {
		return eris.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read categorized content %s", jobID)
	}

	var items []model.CategorizedItem
	if itemsJSON.Valid && itemsJSON.String != "" {
		if err := json.Unmarshal([]byte(itemsJSON.String), &items); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal categorized content")
		}
	}
	items = append(items, item)

	updated, err := json.Marshal(items)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal categorized content")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE import_jobs SET categorized_content = ?, categorized_pages = categorized_pages + 1, updated_at = ? WHERE id = ?`,
		string(updated), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: append categorized item %s", jobID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit append categorized")
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID, step, message string) error {
	errJSON, err := json.Marshal(model.JobError{Step: step, Error: message})
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job error")
	}

	args := []any{string(model.JobStatusFailed), string(errJSON), time.Now().UTC(), jobID}
	placeholders := make([]string, 0, 4)
	for _, st := range model.RunnableStatuses() {
		placeholders = append(placeholders, "?")
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status = ?, errors = ?, updated_at = ? WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		// Zero rows means either no such job or the job already left the
		// runnable set. A stale failure must not regress a settled job.
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return nil
	}
	return nil
}

func (s *SQLiteStore) FinalizeJob(ctx context.Context, jobID string, status model.JobStatus, approved, rejected int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status = ?, approved_count = ?, rejected_count = ?, updated_at = ? WHERE id = ?`,
		string(status), approved, rejected, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET cancel_requested = 1, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		time.Now().UTC(), jobID,
		string(model.JobStatusApproved), string(model.JobStatusFailed),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: request cancel %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

const sqliteEntryColumns = `id, owner, source_url, content, content_hash, version,
	previous_content, user_confirmed, is_active, scraped_at, created_at, updated_at`

func (s *SQLiteStore) FindEntryBySourceURL(ctx context.Context, owner, sourceURL string) (*model.KnowledgeEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM knowledge_entries WHERE owner = ? AND source_url = ?`,
		owner, sourceURL,
	)

	e, err := scanEntry(row)
	if err == errEntryNotFound {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) CreateEntry(ctx context.Context, entry *model.KnowledgeEntry) (*model.KnowledgeEntry, error) {
	prepared, err := prepareEntry(entry)
	if err != nil {
		return nil, err
	}

	contentJSON, err := json.Marshal(prepared.Content)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal content")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_entries
		 (id, owner, source_url, content, content_hash, version, user_confirmed, is_active, scraped_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		prepared.ID, prepared.Owner, prepared.SourceURL, string(contentJSON),
		prepared.ContentHash, prepared.Version, prepared.UserConfirmed, prepared.IsActive,
		prepared.ScrapedAt, prepared.CreatedAt, prepared.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert entry %s", prepared.SourceURL)
	}
	return prepared, nil
}

func (s *SQLiteStore) CreateEntries(ctx context.Context, entries []model.KnowledgeEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin create entries")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO knowledge_entries
		 (id, owner, source_url, content, content_hash, version, user_confirmed, is_active, scraped_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare create entries")
	}
	defer stmt.Close()

	for i := range entries {
		prepared, err := prepareEntry(&entries[i])
		if err != nil {
			return 0, err
		}
		contentJSON, err := json.Marshal(prepared.Content)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal content")
		}
		if _, err := stmt.ExecContext(ctx,
			prepared.ID, prepared.Owner, prepared.SourceURL, string(contentJSON),
			prepared.ContentHash, prepared.Version, prepared.UserConfirmed, prepared.IsActive,
			prepared.ScrapedAt, prepared.CreatedAt, prepared.UpdatedAt,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert entry %s", prepared.SourceURL)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit create entries")
	}
	return len(entries), nil
}

func (s *SQLiteStore) UpdateEntry(ctx context.Context, entryID string, update model.EntryUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Content != nil {
		contentJSON, err := json.Marshal(update.Content)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal content")
		}
		sets = append(sets, "content = ?")
		args = append(args, string(contentJSON))
	}
	if update.ContentHash != nil {
		sets = append(sets, "content_hash = ?")
		args = append(args, *update.ContentHash)
	}
	if update.Version != nil {
		sets = append(sets, "version = ?")
		args = append(args, *update.Version)
	}
	if update.PreviousContent != nil {
		prevJSON, err := json.Marshal(update.PreviousContent)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal previous content")
		}
		sets = append(sets, "previous_content = ?")
		args = append(args, string(prevJSON))
	}
	if update.ScrapedAt != nil {
		sets = append(sets, "scraped_at = ?")
		args = append(args, update.ScrapedAt.UTC())
	}
	if update.UserConfirmed != nil {
		sets = append(sets, "user_confirmed = ?")
		args = append(args, *update.UserConfirmed)
	}
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *update.IsActive)
	}

	args = append(args, entryID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_entries SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update entry %s", entryID)
	}
	return checkRowsAffected(res, "entry", entryID)
}

func (s *SQLiteStore) ListEntries(ctx context.Context, owner string, filter EntryFilter) ([]model.KnowledgeEntry, error) {
	query := `SELECT ` + sqliteEntryColumns + ` FROM knowledge_entries WHERE owner = ?`
	args := []any{owner}

	if filter.ActiveOnly {
		query += ` AND is_active = 1`
	}
	if filter.SourceURLPrefix != "" {
		query += ` AND source_url LIKE ? ESCAPE '\'`
		args = append(args, likePrefix(filter.SourceURLPrefix))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entries")
	}
	defer rows.Close()

	var entries []model.KnowledgeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list entries iterate")
}

func (s *SQLiteStore) CountEntries(ctx context.Context, owner string, filter EntryFilter) (int, error) {
	query := `SELECT COUNT(*) FROM knowledge_entries WHERE owner = ?`
	args := []any{owner}

	if filter.ActiveOnly {
		query += ` AND is_active = 1`
	}
	if filter.SourceURLPrefix != "" {
		query += ` AND source_url LIKE ? ESCAPE '\'`
		args = append(args, likePrefix(filter.SourceURLPrefix))
	}

	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count entries")
}

func (s *SQLiteStore) ArchiveEntry(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_entries SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), entryID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: archive entry %s", entryID)
	}
	return checkRowsAffected(res, "entry", entryID)
}

// helpers

// prepareEntry fills in generated fields on a copy of the entry so stores
// never mutate caller-owned structs.
func prepareEntry(entry *model.KnowledgeEntry) (*model.KnowledgeEntry, error) {
	if entry.Owner == "" || entry.SourceURL == "" {
		return nil, eris.New("store: entry requires owner and source url")
	}

	prepared := *entry
	if prepared.ID == "" {
		prepared.ID = uuid.New().String()
	}
	if prepared.Version == "" {
		prepared.Version = model.InitialVersion
	}
	prepared.IsActive = true

	now := time.Now().UTC()
	if prepared.ScrapedAt.IsZero() {
		prepared.ScrapedAt = now
	}
	prepared.CreatedAt = now
	prepared.UpdatedAt = now
	return &prepared, nil
}

// likePrefix escapes LIKE metacharacters so a URL prefix matches literally.
func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

var errEntryNotFound = eris.New("entry not found")

func scanJob(row scannable) (*model.ImportJob, error) {
	var j model.ImportJob
	var discoveredJSON, scrapedJSON, categorizedJSON, errorsJSON sql.NullString

	err := row.Scan(
		&j.ID, &j.SourceURL, &j.Industry, &j.Status, &j.CrawlID,
		&j.TotalPages, &j.ScrapedPages, &j.CategorizedPages,
		&discoveredJSON, &scrapedJSON, &categorizedJSON, &errorsJSON,
		&j.ApprovedCount, &j.RejectedCount, &j.CancelRequested,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "job")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	if discoveredJSON.Valid && discoveredJSON.String != "" {
		if err := json.Unmarshal([]byte(discoveredJSON.String), &j.DiscoveredURLs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal discovered urls")
		}
	}
	if scrapedJSON.Valid && scrapedJSON.String != "" {
		if err := json.Unmarshal([]byte(scrapedJSON.String), &j.ScrapedContent); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal scraped refs")
		}
	}
	if categorizedJSON.Valid && categorizedJSON.String != "" {
		if err := json.Unmarshal([]byte(categorizedJSON.String), &j.CategorizedContent); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal categorized content")
		}
	}
	if errorsJSON.Valid && errorsJSON.String != "" {
		j.Errors = &model.JobError{}
		if err := json.Unmarshal([]byte(errorsJSON.String), j.Errors); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job errors")
		}
	}
	return &j, nil
}

func scanEntry(row scannable) (*model.KnowledgeEntry, error) {
	var e model.KnowledgeEntry
	var contentJSON string
	var prevJSON sql.NullString

	err := row.Scan(
		&e.ID, &e.Owner, &e.SourceURL, &contentJSON, &e.ContentHash, &e.Version,
		&prevJSON, &e.UserConfirmed, &e.IsActive,
		&e.ScrapedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errEntryNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan entry")
	}

	if err := json.Unmarshal([]byte(contentJSON), &e.Content); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal content")
	}
	if prevJSON.Valid && prevJSON.String != "" {
		if err := json.Unmarshal([]byte(prevJSON.String), &e.PreviousContent); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal previous content")
		}
	}
	return &e, nil
}
