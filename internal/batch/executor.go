// Package batch scrapes an explicit list of URLs with bounded concurrency,
// classifying and ingesting each page and streaming progress events while
// the batch runs.
package batch

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/ingest"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
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

// Config controls batch execution.
type Config struct {
	// ChunkSize is how many URLs run concurrently; chunks are sequential.
	ChunkSize int
	// MaxURLs caps the batch size after deduplication.
	MaxURLs int
	// PerURLTimeout bounds the scrape of a single URL.
	PerURLTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 5
	}
	if c.MaxURLs <= 0 {
		c.MaxURLs = 50
	}
	if c.PerURLTimeout <= 0 {
		c.PerURLTimeout = 30 * time.Second
	}
}

// Result is the outcome for one URL, slotted at the index of that URL in
// the validated input list.
type Result struct {
	Index   int                   `json:"index"`
	URL     string                `json:"url"`
	OK      bool                  `json:"ok"`
	Error   string                `json:"error,omitempty"`
	Item    model.CategorizedItem `json:"item,omitempty"`
	Outcome ingest.Outcome        `json:"outcome,omitempty"`
}

// Summary is the content-health report emitted when a batch completes.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	ByType map[string]int `json:"by_type"`

	// Confidence buckets over successful classifications.
	HighConfidence   int `json:"high_confidence"`   // >= 0.8
	MediumConfidence int `json:"medium_confidence"` // >= 0.5
	LowConfidence    int `json:"low_confidence"`    // < 0.5

	Ingest ingest.Summary `json:"ingest"`
}

// Executor runs batches. Safe for concurrent use.
type Executor struct {
	crawler    firecrawl.Client
	classifier PageClassifier
	ingestor   EntryIngestor
	cfg        Config
}

// NewExecutor creates an Executor.
func NewExecutor(crawler firecrawl.Client, classifier PageClassifier, ingestor EntryIngestor, cfg Config) *Executor {
	cfg.applyDefaults()
	return &Executor{
		crawler:    crawler,
		classifier: classifier,
		ingestor:   ingestor,
		cfg:        cfg,
	}
}

// ValidateURLs rejects non-http(s) URLs, removes duplicates preserving
// first occurrence, and enforces the batch ceiling.
func (e *Executor) ValidateURLs(urls []string) ([]string, error) {
	seen := make(map[string]struct{}, len(urls))
	valid := make([]string, 0, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, eris.Errorf("batch: invalid url %q: only absolute http(s) urls are accepted", raw)
		}
		key := strings.ToLower(raw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		valid = append(valid, raw)
	}
	if len(valid) == 0 {
		return nil, eris.New("batch: no urls to process")
	}
	if len(valid) > e.cfg.MaxURLs {
		return nil, eris.Errorf("batch: %d urls exceeds the limit of %d", len(valid), e.cfg.MaxURLs)
	}
	return valid, nil
}

// Execute runs the batch for one owner, emitting progress to sink. URLs in
// a chunk run concurrently; the next chunk starts only when every URL in
// the current one has finished. Per-URL failures are recorded in their
// result slot and never abort the batch.
func (e *Executor) Execute(ctx context.Context, owner string, urls []string, sink Sink) ([]Result, *Summary, error) {
	if sink == nil {
		sink = NullSink{}
	}

	valid, err := e.ValidateURLs(urls)
	if err != nil {
		e.emit(sink, Event{Type: EventError, Error: err.Error()})
		return nil, nil, err
	}

	total := len(valid)
	e.emit(sink, Event{Type: EventStarted, Total: total})

	results := make([]Result, total)
	var emitMu sync.Mutex

	for start := 0; start < total; start += e.cfg.ChunkSize {
		end := start + e.cfg.ChunkSize
		if end > total {
			end = total
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			idx := i
			g.Go(func() error {
				results[idx] = e.processURL(gctx, owner, idx, valid[idx])

				event := Event{
					Type:   EventPage,
					Index:  idx,
					Total:  total,
					URL:    valid[idx],
					Status: "ok",
				}
				if !results[idx].OK {
					event.Status = "error"
					event.Error = results[idx].Error
				}
				emitMu.Lock()
				e.emit(sink, event)
				emitMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, eris.Wrap(err, "batch: chunk wait")
		}
		if ctx.Err() != nil {
			e.emit(sink, Event{Type: EventError, Error: ctx.Err().Error()})
			return results, nil, eris.Wrap(ctx.Err(), "batch: cancelled")
		}
	}

	summary := summarize(results)
	e.emit(sink, Event{Type: EventComplete, Total: total, Summary: summary})
	return results, summary, nil
}

// processURL scrapes, classifies, and ingests one URL under its own
// timeout. Failures are returned in the result, never as an error.
func (e *Executor) processURL(ctx context.Context, owner string, idx int, pageURL string) Result {
	res := Result{Index: idx, URL: pageURL}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.PerURLTimeout)
	defer cancel()

	resp, err := e.crawler.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:     pageURL,
		Formats: []string{"markdown"},
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if !resp.Success || resp.Data.Markdown == "" {
		res.Error = "scrape returned no content"
		return res
	}

	item := e.classifier.Classify(ctx, pageURL, resp.Data.Markdown)
	res.Item = item

	content := map[string]any{
		"title":       item.Title,
		"description": item.Description,
		"type":        string(item.SuggestedType),
		"confidence":  item.Confidence,
		"markdown":    resp.Data.Markdown,
	}
	ingestRes, err := e.ingestor.Ingest(ctx, owner, ingest.Item{
		SourceURL: pageURL,
		Content:   content,
		ScrapedAt: time.Now().UTC(),
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.OK = true
	res.Outcome = ingestRes.Outcome
	return res
}

func (e *Executor) emit(sink Sink, event Event) {
	if err := sink.Emit(event); err != nil {
		zap.L().Warn("batch: event sink failed",
			zap.String("event", string(event.Type)),
			zap.Error(err),
		)
	}
}

func summarize(results []Result) *Summary {
	summary := &Summary{
		Total:  len(results),
		ByType: make(map[string]int),
	}
	for _, res := range results {
		if !res.OK {
			summary.Failed++
			continue
		}
		summary.Succeeded++
		summary.ByType[string(res.Item.SuggestedType)]++

		switch {
		case res.Item.Confidence >= 0.8:
			summary.HighConfidence++
		case res.Item.Confidence >= 0.5:
			summary.MediumConfidence++
		default:
			summary.LowConfidence++
		}

		switch res.Outcome {
		case ingest.OutcomeCreated:
			summary.Ingest.Created++
		case ingest.OutcomeUpdated:
			summary.Ingest.Updated++
		case ingest.OutcomeUnchanged:
			summary.Ingest.Unchanged++
		case ingest.OutcomeSkippedConfirmed:
			summary.Ingest.SkippedConfirmed++
		}
	}
	return summary
}
