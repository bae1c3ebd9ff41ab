package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/batch"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/importer"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/ingest"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/store"
	"github.com/agentpilot-us/revenue-agents-sub002/pkg/firecrawl"
)

type mockCrawler struct {
	crawlFunc  func(ctx context.Context, req firecrawl.CrawlRequest) (*firecrawl.CrawlResponse, error)
	statusFunc func(ctx context.Context, id string) (*firecrawl.CrawlStatusResponse, error)
	scrapeFunc func(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error)
}

func (m *mockCrawler) Crawl(ctx context.Context, req firecrawl.CrawlRequest) (*firecrawl.CrawlResponse, error) {
	if m.crawlFunc == nil {
		return &firecrawl.CrawlResponse{Success: true, ID: "crawl-1"}, nil
	}
	return m.crawlFunc(ctx, req)
}

func (m *mockCrawler) GetCrawlStatus(ctx context.Context, id string) (*firecrawl.CrawlStatusResponse, error) {
	if m.statusFunc == nil {
		return &firecrawl.CrawlStatusResponse{
			Status:    "completed",
			Total:     1,
			Completed: 1,
			Data: []firecrawl.PageData{
				{URL: "https://acme.com/pricing", Title: "Pricing", Markdown: "# Pricing", StatusCode: 200},
			},
		}, nil
	}
	return m.statusFunc(ctx, id)
}

func (m *mockCrawler) Scrape(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	if m.scrapeFunc == nil {
		return &firecrawl.ScrapeResponse{
			Success: true,
			Data:    firecrawl.PageData{URL: req.URL, Title: "Page", Markdown: "# Page", StatusCode: 200},
		}, nil
	}
	return m.scrapeFunc(ctx, req)
}

type mockClassifier struct{}

func (mockClassifier) Classify(ctx context.Context, pageURL, pageText string) model.CategorizedItem {
	return model.CategorizedItem{URL: pageURL, Title: "Page", SuggestedType: model.ContentTypeOther, Confidence: 0.7}
}

func newTestAPIServer(t *testing.T) (*apiServer, store.Store) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	crawler := &mockCrawler{}
	ingestor := ingest.New(st)
	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	orch := importer.New(st, crawler, mockClassifier{}, ingestor,
		importer.Config{Owner: "org-1"}, importer.WithSleep(noSleep))
	exec := batch.NewExecutor(crawler, mockClassifier{}, ingestor, batch.Config{})

	return newAPIServer(st, orch, exec, "org-1"), st
}

func TestServe_Health(t *testing.T) {
	api, _ := newTestAPIServer(t)

	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServe_CreateImport_RequiresSourceURL(t *testing.T) {
	api, _ := newTestAPIServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader(`{"industry":"automotive"}`))
	api.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "source_url")
}

func TestServe_CreateImport_RunsAsync(t *testing.T) {
	api, st := newTestAPIServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/imports",
		strings.NewReader(`{"source_url":"https://acme.com","industry":"automotive"}`))
	api.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Job model.ImportJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Job.ID)

	// The job runs in the background; wait for it to leave the runnable set.
	require.Eventually(t, func() bool {
		job, err := st.GetJob(context.Background(), resp.Job.ID)
		return err == nil && !job.Status.IsRunnable()
	}, 5*time.Second, 10*time.Millisecond)

	job, err := st.GetJob(context.Background(), resp.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusReviewPending, job.Status)
	assert.Equal(t, "crawl-1", job.CrawlID)
}

func TestServe_GetImport_NotFound(t *testing.T) {
	api, _ := newTestAPIServer(t)

	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/imports/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_GetImport_ReturnsJob(t *testing.T) {
	api, st := newTestAPIServer(t)

	job, err := st.CreateJob(context.Background(), "https://acme.com", "automotive")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/imports/"+job.ID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), job.ID)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)
}

func TestServe_ListImports(t *testing.T) {
	api, st := newTestAPIServer(t)

	for i := 0; i < 3; i++ {
		_, err := st.CreateJob(context.Background(), fmt.Sprintf("https://site-%d.com", i), "")
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/imports?status=pending", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs []model.ImportJob `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 3)
}

func TestServe_ListImports_BadLimit(t *testing.T) {
	api, _ := newTestAPIServer(t)

	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/imports?limit=9999", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe_CancelImport(t *testing.T) {
	api, st := newTestAPIServer(t)

	job, err := st.CreateJob(context.Background(), "https://acme.com", "")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/imports/"+job.ID+"/cancel", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
}

func TestServe_CancelImport_TerminalConflict(t *testing.T) {
	api, st := newTestAPIServer(t)

	job, err := st.CreateJob(context.Background(), "https://acme.com", "")
	require.NoError(t, err)
	require.NoError(t, st.FailJob(context.Background(), job.ID, "discover", "boom"))

	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/imports/"+job.ID+"/cancel", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServe_CancelImport_NotFound(t *testing.T) {
	api, _ := newTestAPIServer(t)

	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/imports/nope/cancel", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_BatchStreamsEvents(t *testing.T) {
	api, _ := newTestAPIServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/batch",
		strings.NewReader(`{"urls":["https://acme.com/pricing","https://acme.com/about"]}`))
	api.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"type":"started"`)
	assert.Contains(t, body, `"type":"complete"`)
	assert.Equal(t, 2, strings.Count(body, `"type":"page"`))
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if line == "" {
			continue
		}
		assert.True(t, strings.HasPrefix(line, "data: "), "line %q is not an SSE data line", line)
	}
}

func TestServe_BatchRequiresURLs(t *testing.T) {
	api, _ := newTestAPIServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/batch", strings.NewReader(`{"urls":[]}`))
	api.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
