// Package store provides persistence for import jobs and knowledge entries,
// with SQLite and Postgres implementations behind a single interface.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
)

// ErrNotFound marks lookups for records that do not exist. Callers detect
// it with errors.Is.
var ErrNotFound = eris.New("not found")

// JobFilter specifies criteria for listing import jobs.
type JobFilter struct {
	Status    model.JobStatus `json:"status,omitempty"`
	SourceURL string          `json:"source_url,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// EntryFilter specifies criteria for listing and counting knowledge entries.
type EntryFilter struct {
	SourceURLPrefix string `json:"source_url_prefix,omitempty"`
	ActiveOnly      bool   `json:"active_only,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	Offset          int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the acquisition pipeline.
type Store interface {
	// Import jobs
	CreateJob(ctx context.Context, sourceURL, industry string) (*model.ImportJob, error)
	GetJob(ctx context.Context, jobID string) (*model.ImportJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ImportJob, error)

	// TransitionJob advances a job's status only if its current status is in
	// the from set. Returns false without error when the guard does not
	// match, so a stale executor observes that another writer got there
	// first instead of clobbering its state.
	TransitionJob(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus) (bool, error)

	// UpdateJobProgress applies a partial progress update. Page counters
	// never move backward.
	UpdateJobProgress(ctx context.Context, jobID string, progress model.JobProgress) error

	// AppendCategorizedItem appends one classified page to the job's results
	// and increments its categorized counter, so partial classification
	// output is visible to pollers mid-run.
	AppendCategorizedItem(ctx context.Context, jobID string, item model.CategorizedItem) error

	// FailJob moves a runnable job to failed and records the failing step.
	// Jobs outside the runnable set are left untouched; the call is a no-op
	// rather than an error so stale writers cannot regress a settled job.
	FailJob(ctx context.Context, jobID, step, message string) error
	FinalizeJob(ctx context.Context, jobID string, status model.JobStatus, approved, rejected int) error

	// RequestCancel flags a non-terminal job for cancellation. Returns false
	// when the job is already terminal.
	RequestCancel(ctx context.Context, jobID string) (bool, error)

	// Knowledge entries
	FindEntryBySourceURL(ctx context.Context, owner, sourceURL string) (*model.KnowledgeEntry, error)
	CreateEntry(ctx context.Context, entry *model.KnowledgeEntry) (*model.KnowledgeEntry, error)
	CreateEntries(ctx context.Context, entries []model.KnowledgeEntry) (int, error)
	UpdateEntry(ctx context.Context, entryID string, update model.EntryUpdate) error
	ListEntries(ctx context.Context, owner string, filter EntryFilter) ([]model.KnowledgeEntry, error)
	CountEntries(ctx context.Context, owner string, filter EntryFilter) (int, error)
	ArchiveEntry(ctx context.Context, entryID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
