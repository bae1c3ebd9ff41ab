package model

import "time"

// JobStatus represents the lifecycle state of an import job. Transitions are
// monotonic: pending → discovering → scraping → categorizing →
// review_pending → {approved|failed}. failed is reachable from any runnable
// state; settled jobs never move again.
type JobStatus string

const (
	JobStatusPending       JobStatus = "pending"
	JobStatusDiscovering   JobStatus = "discovering"
	JobStatusScraping      JobStatus = "scraping"
	JobStatusCategorizing  JobStatus = "categorizing"
	JobStatusReviewPending JobStatus = "review_pending"
	JobStatusApproved      JobStatus = "approved"
	JobStatusFailed        JobStatus = "failed"
)

// RunnableStatuses returns the set of statuses from which an import job may
// still be advanced. A job outside this set must never be mutated by an
// executor.
func RunnableStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusDiscovering,
		JobStatusScraping,
		JobStatusCategorizing,
	}
}

// IsRunnable reports whether the status is in the runnable set.
func (s JobStatus) IsRunnable() bool {
	switch s {
	case JobStatusPending, JobStatusDiscovering, JobStatusScraping, JobStatusCategorizing:
		return true
	}
	return false
}

// IsTerminal reports whether the status is one of the two terminal states.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusApproved || s == JobStatusFailed
}

// JobError records which stage of an import failed and why. Populated only
// when the job status is failed.
type JobError struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// ScrapedRef is lightweight provenance for one scraped page. Full page
// bodies are never stored on the job record.
type ScrapedRef struct {
	URL            string `json:"url"`
	MarkdownLength int    `json:"markdown_length"`
}

// ImportJob is the durable record for one site-import run. It is the single
// source of truth for progress: the executing orchestrator is its only
// writer, pollers only read it.
type ImportJob struct {
	ID        string    `json:"id"`
	SourceURL string    `json:"source_url"`
	Industry  string    `json:"industry,omitempty"`
	Status    JobStatus `json:"status"`

	// CrawlID is the external crawl-service job handle, set once the crawl
	// has been started.
	CrawlID string `json:"crawl_id,omitempty"`

	TotalPages       int `json:"total_pages"`
	ScrapedPages     int `json:"scraped_pages"`
	CategorizedPages int `json:"categorized_pages"`

	DiscoveredURLs     []string          `json:"discovered_urls,omitempty"`
	ScrapedContent     []ScrapedRef      `json:"scraped_content,omitempty"`
	CategorizedContent []CategorizedItem `json:"categorized_content,omitempty"`

	Errors *JobError `json:"errors,omitempty"`

	ApprovedCount int `json:"approved_count"`
	RejectedCount int `json:"rejected_count"`

	// CancelRequested is set by an external caller; the orchestrator checks
	// it at each loop boundary and stops advancing.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobProgress is a partial update of the job's progress counters and
// provenance lists. Counters are monotonically non-decreasing; stores must
// not move them backward.
type JobProgress struct {
	TotalPages     *int         `json:"total_pages,omitempty"`
	ScrapedPages   *int         `json:"scraped_pages,omitempty"`
	DiscoveredURLs []string     `json:"discovered_urls,omitempty"`
	ScrapedContent []ScrapedRef `json:"scraped_content,omitempty"`
	CrawlID        *string      `json:"crawl_id,omitempty"`
}
