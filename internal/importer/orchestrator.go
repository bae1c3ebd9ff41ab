// Package importer drives a site import end to end: start an external
// crawl, poll it to completion, filter and classify the crawled pages, and
// materialize knowledge entries, recording every stage on a durable job.
package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/ingest"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/relevance"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/store"
	"github.com/agentpilot-us/revenue-agents-sub002/pkg/firecrawl"
)

// PageClassifier assigns a content type and metadata to one page.
type PageClassifier interface {
	Classify(ctx context.Context, pageURL, pageText string) model.CategorizedItem
}

// EntryIngestor writes one item into the knowledge base.
type EntryIngestor interface {
	Ingest(ctx context.Context, owner string, item ingest.Item) (*ingest.Result, error)
}

// Config controls orchestrator behavior.
type Config struct {
	// Owner scopes materialized knowledge entries.
	Owner string
	// PageLimit caps how many pages the external crawl may visit.
	PageLimit int
	// ClassifyCap bounds how many pages are sent to the model per job.
	ClassifyCap int
	// PollInterval and PollTimeout control the crawl status poll loop.
	PollInterval time.Duration
	PollTimeout  time.Duration
	// AutoApprove finalizes jobs as approved instead of review_pending.
	AutoApprove bool
}

func (c *Config) applyDefaults() {
	if c.PageLimit <= 0 {
		c.PageLimit = 50
	}
	if c.ClassifyCap <= 0 {
		c.ClassifyCap = 20
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Minute
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the inter-poll sleep. Tests use this to run the crawl
// poll loop without real timers.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// Orchestrator advances import jobs through their lifecycle. One stage per
// Step call; Run loops Step until the job leaves the runnable set. The job
// record is the single source of truth for progress; the orchestrator is
// its only writer while running.
type Orchestrator struct {
	store      store.Store
	crawler    firecrawl.Client
	classifier PageClassifier
	ingestor   EntryIngestor
	cfg        Config
	sleep      func(ctx context.Context, d time.Duration) error

	// Scraped page bodies are held in memory between stages; the job record
	// carries only lightweight refs. A restarted process re-scrapes from
	// the discovered URL list instead.
	mu    sync.Mutex
	pages map[string][]model.CrawledPage
}

// New creates an Orchestrator.
func New(st store.Store, crawler firecrawl.Client, classifier PageClassifier, ingestor EntryIngestor, cfg Config, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		store:      st,
		crawler:    crawler,
		classifier: classifier,
		ingestor:   ingestor,
		cfg:        cfg,
		pages:      make(map[string][]model.CrawledPage),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start creates a new pending import job for the given seed URL.
func (o *Orchestrator) Start(ctx context.Context, sourceURL, industry string) (*model.ImportJob, error) {
	job, err := o.store.CreateJob(ctx, sourceURL, industry)
	if err != nil {
		return nil, eris.Wrap(err, "importer: create job")
	}
	zap.L().Info("importer: job created",
		zap.String("job_id", job.ID),
		zap.String("source_url", sourceURL),
		zap.String("industry", industry),
	)
	return job, nil
}

// Run advances the job until it reaches a non-runnable status and returns
// the final job record. Cancellation requests are honored between stages.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (*model.ImportJob, error) {
	defer o.dropPages(jobID)

	for {
		job, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: load job %s", jobID)
		}
		if !job.Status.IsRunnable() {
			return job, nil
		}
		if job.CancelRequested {
			if err := o.store.FailJob(ctx, jobID, "cancelled", "cancellation requested"); err != nil {
				return nil, eris.Wrapf(err, "importer: cancel job %s", jobID)
			}
			continue
		}
		if err := o.Step(ctx, job); err != nil {
			return nil, err
		}
	}
}

// Step advances the job by exactly one stage. A job outside the runnable
// set is left untouched. Stage failures are recorded on the job, not
// returned: only infrastructure errors (store unreachable) surface.
func (o *Orchestrator) Step(ctx context.Context, job *model.ImportJob) error {
	switch job.Status {
	case model.JobStatusPending:
		return o.discover(ctx, job)
	case model.JobStatusDiscovering:
		return o.scrape(ctx, job)
	case model.JobStatusScraping:
		return o.categorize(ctx, job)
	case model.JobStatusCategorizing:
		return o.materialize(ctx, job)
	default:
		return nil
	}
}

// discover starts the external crawl and records its handle.
func (o *Orchestrator) discover(ctx context.Context, job *model.ImportJob) error {
	ok, err := o.store.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusPending}, model.JobStatusDiscovering)
	if err != nil {
		return eris.Wrapf(err, "importer: transition job %s", job.ID)
	}
	if !ok {
		// Another invocation advanced the job first.
		return nil
	}

	resp, err := o.crawler.Crawl(ctx, firecrawl.CrawlRequest{
		URL:           job.SourceURL,
		Limit:         o.cfg.PageLimit,
		ScrapeOptions: &firecrawl.ScrapeOptions{Formats: []string{"markdown"}},
	})
	if err != nil {
		return o.failJob(ctx, job.ID, "discover", err.Error())
	}
	if !resp.Success || resp.ID == "" {
		return o.failJob(ctx, job.ID, "discover", "crawl service rejected the request")
	}

	crawlID := resp.ID
	if err := o.store.UpdateJobProgress(ctx, job.ID, model.JobProgress{CrawlID: &crawlID}); err != nil {
		return eris.Wrapf(err, "importer: record crawl id for job %s", job.ID)
	}

	zap.L().Info("importer: crawl started",
		zap.String("job_id", job.ID),
		zap.String("crawl_id", crawlID),
	)
	return nil
}

// scrape polls the crawl to completion, streaming progress onto the job.
func (o *Orchestrator) scrape(ctx context.Context, job *model.ImportJob) error {
	ok, err := o.store.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusDiscovering}, model.JobStatusScraping)
	if err != nil {
		return eris.Wrapf(err, "importer: transition job %s", job.ID)
	}
	if !ok {
		return nil
	}

	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()

	// Re-check the cancel flag before every inter-poll sleep so a cancel
	// issued mid-crawl stops the poll instead of waiting out the deadline.
	cancelled := false
	sleep := o.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	pollOpts := []firecrawl.PollOption{
		firecrawl.WithPollInterval(o.cfg.PollInterval),
		firecrawl.WithPollTimeout(o.cfg.PollTimeout),
		firecrawl.WithPollProgress(func(total, completed int) {
			if err := o.store.UpdateJobProgress(ctx, job.ID, model.JobProgress{
				TotalPages:   &total,
				ScrapedPages: &completed,
			}); err != nil {
				zap.L().Warn("importer: progress write failed",
					zap.String("job_id", job.ID),
					zap.Error(err),
				)
			}
		}),
		firecrawl.WithPollSleep(func(sctx context.Context, d time.Duration) error {
			if o.cancelRequested(ctx, job.ID) {
				cancelled = true
				stopPoll()
				return context.Canceled
			}
			return sleep(sctx, d)
		}),
	}

	status, err := firecrawl.PollCrawl(pollCtx, o.crawler, job.CrawlID, pollOpts...)
	if err != nil {
		if cancelled {
			// The Run loop records the cancellation at its next boundary.
			return nil
		}
		return o.failJob(ctx, job.ID, "scrape", err.Error())
	}
	if len(status.Data) == 0 {
		zero := 0
		if err := o.store.UpdateJobProgress(ctx, job.ID, model.JobProgress{TotalPages: &zero, ScrapedPages: &zero}); err != nil {
			return eris.Wrapf(err, "importer: record empty crawl for job %s", job.ID)
		}
		return o.failJob(ctx, job.ID, "scrape",
			fmt.Sprintf("crawl returned no pages for %s; check that the site is reachable and allows crawling", job.SourceURL))
	}

	pages := make([]model.CrawledPage, 0, len(status.Data))
	urls := make([]string, 0, len(status.Data))
	refs := make([]model.ScrapedRef, 0, len(status.Data))
	for _, d := range status.Data {
		pages = append(pages, model.CrawledPage{
			URL:        d.URL,
			Title:      d.Title,
			Markdown:   d.Markdown,
			StatusCode: d.StatusCode,
		})
		urls = append(urls, d.URL)
		refs = append(refs, model.ScrapedRef{URL: d.URL, MarkdownLength: len(d.Markdown)})
	}
	o.setPages(job.ID, pages)

	total := len(pages)
	if status.Total > total {
		total = status.Total
	}
	scraped := len(pages)
	if err := o.store.UpdateJobProgress(ctx, job.ID, model.JobProgress{
		TotalPages:     &total,
		ScrapedPages:   &scraped,
		DiscoveredURLs: urls,
		ScrapedContent: refs,
	}); err != nil {
		return eris.Wrapf(err, "importer: record scrape results for job %s", job.ID)
	}

	zap.L().Info("importer: crawl complete",
		zap.String("job_id", job.ID),
		zap.Int("pages", len(pages)),
	)
	return nil
}

// categorize filters the scraped pages for relevance and classifies up to
// the configured cap, appending each result as it lands.
func (o *Orchestrator) categorize(ctx context.Context, job *model.ImportJob) error {
	ok, err := o.store.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusScraping}, model.JobStatusCategorizing)
	if err != nil {
		return eris.Wrapf(err, "importer: transition job %s", job.ID)
	}
	if !ok {
		return nil
	}

	pages, err := o.pagesFor(ctx, job)
	if err != nil {
		return o.failJob(ctx, job.ID, "categorize", err.Error())
	}

	relevant := relevance.Filter(pages, job.Industry)
	if len(relevant) == 0 {
		// An aggressive filter must never starve the pipeline.
		relevant = relevance.Filter(pages, "")
	}
	if len(relevant) > o.cfg.ClassifyCap {
		zap.L().Info("importer: classification capped",
			zap.String("job_id", job.ID),
			zap.Int("relevant", len(relevant)),
			zap.Int("cap", o.cfg.ClassifyCap),
		)
		relevant = relevant[:o.cfg.ClassifyCap]
	}

	for _, page := range relevant {
		if ctx.Err() != nil {
			return o.failJob(ctx, job.ID, "categorize", ctx.Err().Error())
		}
		if o.cancelRequested(ctx, job.ID) {
			// Stop classifying; the Run loop records the cancellation.
			return nil
		}
		item := o.classifier.Classify(ctx, page.URL, page.Markdown)
		if err := o.store.AppendCategorizedItem(ctx, job.ID, item); err != nil {
			return eris.Wrapf(err, "importer: append categorized item for job %s", job.ID)
		}
	}

	o.setPages(job.ID, relevant)
	return nil
}

// materialize writes the categorized pages into the knowledge base and
// finalizes the job.
func (o *Orchestrator) materialize(ctx context.Context, job *model.ImportJob) error {
	jobID := job.ID

	// Re-read for the categorized items appended during the previous stage.
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "importer: load job %s", jobID)
	}

	markdownByURL := make(map[string]string)
	for _, page := range o.getPages(job.ID) {
		markdownByURL[page.URL] = page.Markdown
	}

	var approved, rejected int
	now := time.Now().UTC()
	for _, item := range job.CategorizedContent {
		content := map[string]any{
			"title":       item.Title,
			"description": item.Description,
			"type":        string(item.SuggestedType),
			"confidence":  item.Confidence,
		}
		if item.Industry != "" {
			content["industry"] = item.Industry
		}
		if item.Department != "" {
			content["department"] = item.Department
		}
		if md, ok := markdownByURL[item.URL]; ok && md != "" {
			content["markdown"] = md
		}

		res, err := o.ingestor.Ingest(ctx, o.cfg.Owner, ingest.Item{
			SourceURL: item.URL,
			Content:   content,
			ScrapedAt: now,
		})
		if err != nil {
			return o.failJob(ctx, job.ID, "materialize", err.Error())
		}
		if res.Outcome == ingest.OutcomeSkippedConfirmed {
			rejected++
		} else {
			approved++
		}
	}

	final := model.JobStatusReviewPending
	if o.cfg.AutoApprove {
		final = model.JobStatusApproved
	}
	if err := o.store.FinalizeJob(ctx, job.ID, final, approved, rejected); err != nil {
		return eris.Wrapf(err, "importer: finalize job %s", job.ID)
	}

	zap.L().Info("importer: job finalized",
		zap.String("job_id", job.ID),
		zap.String("status", string(final)),
		zap.Int("approved", approved),
		zap.Int("rejected", rejected),
	)
	return nil
}

// pagesFor returns the in-memory pages for a job, re-scraping from the
// discovered URL list when the process that ran the crawl is gone.
func (o *Orchestrator) pagesFor(ctx context.Context, job *model.ImportJob) ([]model.CrawledPage, error) {
	if pages := o.getPages(job.ID); len(pages) > 0 {
		return pages, nil
	}
	if len(job.DiscoveredURLs) == 0 {
		return nil, eris.New("no scraped pages available")
	}

	zap.L().Info("importer: re-scraping discovered urls",
		zap.String("job_id", job.ID),
		zap.Int("count", len(job.DiscoveredURLs)),
	)

	pages := make([]model.CrawledPage, 0, len(job.DiscoveredURLs))
	for _, u := range job.DiscoveredURLs {
		resp, err := o.crawler.Scrape(ctx, firecrawl.ScrapeRequest{URL: u, Formats: []string{"markdown"}})
		if err != nil {
			zap.L().Warn("importer: re-scrape failed",
				zap.String("url", u),
				zap.Error(err),
			)
			continue
		}
		pages = append(pages, model.CrawledPage{
			URL:        resp.Data.URL,
			Title:      resp.Data.Title,
			Markdown:   resp.Data.Markdown,
			StatusCode: resp.Data.StatusCode,
		})
	}
	if len(pages) == 0 {
		return nil, eris.New("re-scrape recovered no pages")
	}
	o.setPages(job.ID, pages)
	return pages, nil
}

// failJob marks the job failed with the step that broke. The returned error
// is nil when the failure was recorded: a failed job is a valid outcome,
// not an orchestrator error.
func (o *Orchestrator) failJob(ctx context.Context, jobID, step, message string) error {
	zap.L().Warn("importer: stage failed",
		zap.String("job_id", jobID),
		zap.String("step", step),
		zap.String("error", message),
	)
	if err := o.store.FailJob(ctx, jobID, step, message); err != nil {
		return eris.Wrapf(err, "importer: record failure for job %s", jobID)
	}
	return nil
}

// cancelRequested re-reads the job's cancellation flag. Store errors count
// as not cancelled; the Run loop surfaces them on its next read.
func (o *Orchestrator) cancelRequested(ctx context.Context, jobID string) bool {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.CancelRequested
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (o *Orchestrator) setPages(jobID string, pages []model.CrawledPage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages[jobID] = pages
}

func (o *Orchestrator) getPages(jobID string) []model.CrawledPage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pages[jobID]
}

func (o *Orchestrator) dropPages(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pages, jobID)
}
