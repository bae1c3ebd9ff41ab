package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/ingest"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/store"
	"github.com/agentpilot-us/revenue-agents-sub002/pkg/firecrawl"
)

// mockCrawler implements firecrawl.Client with function fields.
type mockCrawler struct {
	crawlFunc       func(ctx context.Context, req firecrawl.CrawlRequest) (*firecrawl.CrawlResponse, error)
	crawlStatusFunc func(ctx context.Context, id string) (*firecrawl.CrawlStatusResponse, error)
	scrapeFunc      func(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error)
}

func (m *mockCrawler) Crawl(ctx context.Context, req firecrawl.CrawlRequest) (*firecrawl.CrawlResponse, error) {
	if m.crawlFunc == nil {
		return &firecrawl.CrawlResponse{Success: true, ID: "crawl-1"}, nil
	}
	return m.crawlFunc(ctx, req)
}

func (m *mockCrawler) GetCrawlStatus(ctx context.Context, id string) (*firecrawl.CrawlStatusResponse, error) {
	return m.crawlStatusFunc(ctx, id)
}

func (m *mockCrawler) Scrape(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	if m.scrapeFunc == nil {
		return &firecrawl.ScrapeResponse{Success: true, Data: firecrawl.PageData{URL: req.URL, Markdown: "# Page"}}, nil
	}
	return m.scrapeFunc(ctx, req)
}

// mockClassifier implements PageClassifier with a function field.
type mockClassifier struct {
	fn func(ctx context.Context, pageURL, pageText string) model.CategorizedItem
}

func (m *mockClassifier) Classify(ctx context.Context, pageURL, pageText string) model.CategorizedItem {
	if m.fn == nil {
		return model.CategorizedItem{URL: pageURL, Title: "Page", SuggestedType: model.ContentTypeOther, Confidence: 0.5}
	}
	return m.fn(ctx, pageURL, pageText)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

// acmeCrawler simulates a ten-page crawl of acme.com where three pages live
// under /automotive/.
func acmeCrawler() *mockCrawler {
	var pages []firecrawl.PageData
	for i := 0; i < 7; i++ {
		pages = append(pages, firecrawl.PageData{
			URL:      fmt.Sprintf("https://acme.com/blog/post-%d", i),
			Markdown: "# Blog post",
		})
	}
	for i := 0; i < 3; i++ {
		pages = append(pages, firecrawl.PageData{
			URL:      fmt.Sprintf("https://acme.com/automotive/page-%d", i),
			Markdown: "# Automotive content",
		})
	}

	var polls atomic.Int32
	return &mockCrawler{
		crawlStatusFunc: func(ctx context.Context, id string) (*firecrawl.CrawlStatusResponse, error) {
			if polls.Add(1) == 1 {
				return &firecrawl.CrawlStatusResponse{Status: "scraping", Total: 10, Completed: 4}, nil
			}
			return &firecrawl.CrawlStatusResponse{Status: "completed", Total: 10, Completed: 10, Data: pages}, nil
		},
	}
}

func newOrchestrator(t *testing.T, st store.Store, crawler firecrawl.Client, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Owner == "" {
		cfg.Owner = "org-1"
	}
	return New(st, crawler, &mockClassifier{}, ingest.New(st), cfg, WithSleep(noSleep))
}

func TestRun_AutomotiveImportEndsReviewPending(t *testing.T) {
	st := newTestStore(t)
	orch := newOrchestrator(t, st, acmeCrawler(), Config{})
	ctx := context.Background()

	job, err := orch.Start(ctx, "https://acme.com", "automotive")
	require.NoError(t, err)

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusReviewPending, final.Status)
	assert.Equal(t, 10, final.TotalPages)
	assert.Equal(t, 10, final.ScrapedPages)
	// Only the three /automotive/ pages survive the relevance filter.
	assert.Equal(t, 3, final.CategorizedPages)
	require.Len(t, final.CategorizedContent, 3)
	assert.Equal(t, 3, final.ApprovedCount)
	assert.Zero(t, final.RejectedCount)
	assert.Len(t, final.DiscoveredURLs, 10)
	assert.Equal(t, "crawl-1", final.CrawlID)

	count, err := st.CountEntries(ctx, "org-1", store.EntryFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRun_ZeroPagesFailsAtScrape(t *testing.T) {
	st := newTestStore(t)
	crawler := &mockCrawler{
		crawlStatusFunc: func(ctx context.Context, id string) (*firecrawl.CrawlStatusResponse, error) {
			return &firecrawl.CrawlStatusResponse{Status: "completed", Total: 0, Completed: 0}, nil
		},
	}
	orch := newOrchestrator(t, st, crawler, Config{})
	ctx := context.Background()

	job, err := orch.Start(ctx, "https://empty.example", "")
	require.NoError(t, err)

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusFailed, final.Status)
	require.NotNil(t, final.Errors)
	assert.Equal(t, "scrape", final.Errors.Step)
	assert.Contains(t, final.Errors.Error, "no pages")
	assert.Zero(t, final.TotalPages)
}

func TestRun_CrawlStartRejectedFailsAtDiscover(t *testing.T) {
	st := newTestStore(t)
	crawler := &mockCrawler{
		crawlFunc: func(ctx context.Context, req firecrawl.CrawlRequest) (*firecrawl.CrawlResponse, error) {
			return &firecrawl.CrawlResponse{Success: false}, nil
		},
		crawlStatusFunc: func(ctx context.Context, id string) (*firecrawl.CrawlStatusResponse, error) {
			t.Fatal("status must not be polled when the crawl never started")
			return nil, nil
		},
	}
	orch := newOrchestrator(t, st, crawler, Config{})
	ctx := context.Background()

	job, err := orch.Start(ctx, "https://acme.com", "")
	require.NoError(t, err)

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusFailed, final.Status)
	require.NotNil(t, final.Errors)
	assert.Equal(t, "discover", final.Errors.Step)
}

func TestRun_PollDeadlineFailsAtScrape(t *testing.T) {
	st := newTestStore(t)
	crawler := &mockCrawler{
		crawlStatusFunc: func(ctx context.Context, id string) (*firecrawl.CrawlStatusResponse, error) {
			return &firecrawl.CrawlStatusResponse{Status: "scraping", Total: 5, Completed: 1}, nil
		},
	}
	orch := New(st, crawler, &mockClassifier{}, ingest.New(st),
		Config{Owner: "org-1", PollInterval: time.Millisecond, PollTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	job, err := orch.Start(ctx, "https://slow.example", "")
	require.NoError(t, err)

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusFailed, final.Status)
	require.NotNil(t, final.Errors)
	assert.Equal(t, "scrape", final.Errors.Step)
	// Progress observed before the deadline must be preserved.
	assert.Equal(t, 5, final.TotalPages)
	assert.Equal(t, 1, final.ScrapedPages)
}

func TestRun_CancelRequestedStopsBeforeNextStage(t *testing.T) {
	st := newTestStore(t)
	orch := newOrchestrator(t, st, acmeCrawler(), Config{})
	ctx := context.Background()

	job, err := orch.Start(ctx, "https://acme.com", "automotive")
	require.NoError(t, err)

	ok, err := st.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusFailed, final.Status)
	require.NotNil(t, final.Errors)
	assert.Equal(t, "cancelled", final.Errors.Step)
	// Nothing was crawled or classified.
	assert.Zero(t, final.TotalPages)
	assert.Empty(t, final.CategorizedContent)
}

func TestRun_AutoApproveEndsApproved(t *testing.T) {
	st := newTestStore(t)
	orch := newOrchestrator(t, st, acmeCrawler(), Config{AutoApprove: true})
	ctx := context.Background()

	job, err := orch.Start(ctx, "https://acme.com", "automotive")
	require.NoError(t, err)

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusApproved, final.Status)
}

func TestRun_NoIndustryClassifiesAllPagesUpToCap(t *testing.T) {
	st := newTestStore(t)
	orch := newOrchestrator(t, st, acmeCrawler(), Config{ClassifyCap: 4})
	ctx := context.Background()

	job, err := orch.Start(ctx, "https://acme.com", "")
	require.NoError(t, err)

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusReviewPending, final.Status)
	// No industry hint: all ten pages are relevant, cap keeps four.
	assert.Equal(t, 4, final.CategorizedPages)
}

func TestRun_FilterWithNoSurvivorsFallsBackToAllPages(t *testing.T) {
	st := newTestStore(t)
	// Healthcare keywords match none of the acme URLs.
	orch := newOrchestrator(t, st, acmeCrawler(), Config{})
	ctx := context.Background()

	job, err := orch.Start(ctx, "https://acme.com", "healthcare")
	require.NoError(t, err)

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusReviewPending, final.Status)
	assert.Equal(t, 10, final.CategorizedPages)
}

func TestRun_ConfirmedEntryCountsRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Pre-seed a confirmed entry for one of the automotive pages.
	created, err := st.CreateEntry(ctx, &model.KnowledgeEntry{
		Owner:       "org-1",
		SourceURL:   "https://acme.com/automotive/page-0",
		Content:     map[string]any{"markdown": "human-reviewed"},
		ContentHash: "reviewed-hash",
	})
	require.NoError(t, err)
	confirmed := true
	require.NoError(t, st.UpdateEntry(ctx, created.ID, model.EntryUpdate{UserConfirmed: &confirmed}))

	orch := newOrchestrator(t, st, acmeCrawler(), Config{})
	job, err := orch.Start(ctx, "https://acme.com", "automotive")
	require.NoError(t, err)

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, final.ApprovedCount)
	assert.Equal(t, 1, final.RejectedCount)

	entry, err := st.FindEntryBySourceURL(ctx, "org-1", "https://acme.com/automotive/page-0")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "human-reviewed", entry.Content["markdown"])
}

// flakyStore wraps a Store and fails GetJob on demand.
type flakyStore struct {
	store.Store
	getJobErr error
}

func (s *flakyStore) GetJob(ctx context.Context, jobID string) (*model.ImportJob, error) {
	if s.getJobErr != nil {
		return nil, s.getJobErr
	}
	return s.Store.GetJob(ctx, jobID)
}

func TestMaterialize_StoreReadFailureReturnsError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "https://acme.com", "")
	require.NoError(t, err)
	_, err = st.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusPending}, model.JobStatusCategorizing)
	require.NoError(t, err)

	current, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)

	flaky := &flakyStore{Store: st, getJobErr: errors.New("connection reset by peer")}
	orch := newOrchestrator(t, flaky, acmeCrawler(), Config{})

	// A transient store failure must surface as an error, never a panic.
	err = orch.Step(ctx, current)
	require.Error(t, err)
	assert.Contains(t, err.Error(), job.ID)
}

func TestScrape_CancelDuringPollStopsPolling(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// The cancel lands while the crawl is still running; the poll loop must
	// notice before its next iteration instead of waiting out the deadline.
	var jobID string
	var polls atomic.Int32
	crawler := &mockCrawler{
		crawlStatusFunc: func(ctx context.Context, id string) (*firecrawl.CrawlStatusResponse, error) {
			polls.Add(1)
			_, _ = st.RequestCancel(ctx, jobID)
			return &firecrawl.CrawlStatusResponse{Status: "scraping", Total: 10, Completed: 1}, nil
		},
	}
	orch := newOrchestrator(t, st, crawler, Config{})

	job, err := orch.Start(ctx, "https://acme.com", "")
	require.NoError(t, err)
	jobID = job.ID

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusFailed, final.Status)
	require.NotNil(t, final.Errors)
	assert.Equal(t, "cancelled", final.Errors.Step)
	assert.Equal(t, int32(1), polls.Load())
}

func TestCategorize_CancelBetweenClassifyCallsStops(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var jobID string
	var classified atomic.Int32
	classifier := &mockClassifier{fn: func(ctx context.Context, pageURL, pageText string) model.CategorizedItem {
		if classified.Add(1) == 1 {
			_, _ = st.RequestCancel(ctx, jobID)
		}
		return model.CategorizedItem{URL: pageURL, Title: "Page", SuggestedType: model.ContentTypeOther, Confidence: 0.5}
	}}
	orch := New(st, acmeCrawler(), classifier, ingest.New(st), Config{Owner: "org-1"}, WithSleep(noSleep))

	job, err := orch.Start(ctx, "https://acme.com", "")
	require.NoError(t, err)
	jobID = job.ID

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusFailed, final.Status)
	require.NotNil(t, final.Errors)
	assert.Equal(t, "cancelled", final.Errors.Step)
	// Only the page classified before the cancel was appended.
	assert.Equal(t, int32(1), classified.Load())
	assert.Equal(t, 1, final.CategorizedPages)
}

func TestStep_NonRunnableJobIsNoOp(t *testing.T) {
	st := newTestStore(t)
	orch := newOrchestrator(t, st, acmeCrawler(), Config{})
	ctx := context.Background()

	job, err := orch.Start(ctx, "https://acme.com", "")
	require.NoError(t, err)
	require.NoError(t, st.FinalizeJob(ctx, job.ID, model.JobStatusReviewPending, 1, 0))

	finalized, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, orch.Step(ctx, finalized))

	after, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusReviewPending, after.Status)
	assert.Equal(t, 1, after.ApprovedCount)
}

func TestCategorize_ResumesByRescrapingDiscoveredURLs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Job already advanced past scraping by another process; only the
	// discovered URL list survives on the record.
	job, err := st.CreateJob(ctx, "https://acme.com", "")
	require.NoError(t, err)
	_, err = st.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusPending}, model.JobStatusScraping)
	require.NoError(t, err)
	require.NoError(t, st.UpdateJobProgress(ctx, job.ID, model.JobProgress{
		DiscoveredURLs: []string{"https://acme.com/platform", "https://acme.com/pricing"},
	}))

	var scrapes atomic.Int32
	crawler := &mockCrawler{
		crawlStatusFunc: func(ctx context.Context, id string) (*firecrawl.CrawlStatusResponse, error) {
			t.Fatal("crawl status must not be polled on resume")
			return nil, nil
		},
		scrapeFunc: func(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
			scrapes.Add(1)
			return &firecrawl.ScrapeResponse{Success: true, Data: firecrawl.PageData{URL: req.URL, Markdown: "# Recovered"}}, nil
		},
	}
	orch := newOrchestrator(t, st, crawler, Config{})

	final, err := orch.Run(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, int32(2), scrapes.Load())
	assert.Equal(t, model.JobStatusReviewPending, final.Status)
	assert.Equal(t, 2, final.CategorizedPages)
}
