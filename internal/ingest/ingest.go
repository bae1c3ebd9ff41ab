// Package ingest writes scraped and classified content into the knowledge
// base, applying change detection and versioning rules.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/contenthash"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/store"
)

// Outcome describes what happened to one ingested item.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeUpdated          Outcome = "updated"
	OutcomeUnchanged        Outcome = "unchanged"
	OutcomeSkippedConfirmed Outcome = "skipped_confirmed"
)

// Result reports the outcome of ingesting one item.
type Result struct {
	Outcome Outcome `json:"outcome"`
	EntryID string  `json:"entry_id"`
	Version string  `json:"version"`
}

// Item is one unit of content to ingest, keyed by its source URL.
type Item struct {
	SourceURL string         `json:"source_url"`
	Content   map[string]any `json:"content"`
	ScrapedAt time.Time      `json:"scraped_at"`
}

// Summary aggregates outcomes across a batch.
type Summary struct {
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	Unchanged        int `json:"unchanged"`
	SkippedConfirmed int `json:"skipped_confirmed"`
}

// Total returns the number of items the summary covers.
func (s Summary) Total() int {
	return s.Created + s.Updated + s.Unchanged + s.SkippedConfirmed
}

// Ingestor applies content to the knowledge base. New URLs create entries at
// the initial version; re-ingested URLs are compared by content hash, and
// only a real change bumps the version and snapshots the prior content.
// Entries a human has confirmed are never silently overwritten.
type Ingestor struct {
	store store.Store
}

// New creates an Ingestor backed by the given store.
func New(st store.Store) *Ingestor {
	return &Ingestor{store: st}
}

// Ingest writes one item for the given owner and reports what happened.
func (ing *Ingestor) Ingest(ctx context.Context, owner string, item Item) (*Result, error) {
	if item.SourceURL == "" {
		return nil, eris.New("ingest: item requires a source url")
	}
	scrapedAt := item.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	hash := contenthash.Hash(item.Content)

	existing, err := ing.store.FindEntryBySourceURL(ctx, owner, item.SourceURL)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: find entry %s", item.SourceURL)
	}

	if existing == nil {
		created, err := ing.store.CreateEntry(ctx, &model.KnowledgeEntry{
			Owner:       owner,
			SourceURL:   item.SourceURL,
			Content:     item.Content,
			ContentHash: hash,
			Version:     model.InitialVersion,
			ScrapedAt:   scrapedAt,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: create entry %s", item.SourceURL)
		}
		return &Result{Outcome: OutcomeCreated, EntryID: created.ID, Version: created.Version}, nil
	}

	if existing.UserConfirmed {
		// Record that we saw the page again, but leave the reviewed content
		// untouched.
		if err := ing.store.UpdateEntry(ctx, existing.ID, model.EntryUpdate{ScrapedAt: &scrapedAt}); err != nil {
			return nil, eris.Wrapf(err, "ingest: touch confirmed entry %s", existing.ID)
		}
		zap.L().Debug("ingest: skipping user-confirmed entry",
			zap.String("entry_id", existing.ID),
			zap.String("source_url", item.SourceURL),
		)
		return &Result{Outcome: OutcomeSkippedConfirmed, EntryID: existing.ID, Version: existing.Version}, nil
	}

	if hash == existing.ContentHash {
		if err := ing.store.UpdateEntry(ctx, existing.ID, model.EntryUpdate{ScrapedAt: &scrapedAt}); err != nil {
			return nil, eris.Wrapf(err, "ingest: touch unchanged entry %s", existing.ID)
		}
		return &Result{Outcome: OutcomeUnchanged, EntryID: existing.ID, Version: existing.Version}, nil
	}

	next := contenthash.NextVersion(existing.Version)
	err = ing.store.UpdateEntry(ctx, existing.ID, model.EntryUpdate{
		Content:         item.Content,
		ContentHash:     &hash,
		Version:         &next,
		PreviousContent: existing.Content,
		ScrapedAt:       &scrapedAt,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: update entry %s", existing.ID)
	}

	zap.L().Info("ingest: content changed, version bumped",
		zap.String("entry_id", existing.ID),
		zap.String("source_url", item.SourceURL),
		zap.String("version", next),
	)
	return &Result{Outcome: OutcomeUpdated, EntryID: existing.ID, Version: next}, nil
}

// IngestBatch writes a batch of items for one owner. Brand-new URLs are
// collected and bulk-inserted in one shot; existing URLs go through the
// same per-item versioning path as Ingest.
func (ing *Ingestor) IngestBatch(ctx context.Context, owner string, items []Item) (*Summary, error) {
	var summary Summary
	var fresh []model.KnowledgeEntry

	for _, item := range items {
		if item.SourceURL == "" {
			continue
		}
		scrapedAt := item.ScrapedAt
		if scrapedAt.IsZero() {
			scrapedAt = time.Now().UTC()
		}

		existing, err := ing.store.FindEntryBySourceURL(ctx, owner, item.SourceURL)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: find entry %s", item.SourceURL)
		}
		if existing == nil {
			fresh = append(fresh, model.KnowledgeEntry{
				Owner:       owner,
				SourceURL:   item.SourceURL,
				Content:     item.Content,
				ContentHash: contenthash.Hash(item.Content),
				Version:     model.InitialVersion,
				ScrapedAt:   scrapedAt,
			})
			continue
		}

		res, err := ing.Ingest(ctx, owner, item)
		if err != nil {
			return nil, err
		}
		switch res.Outcome {
		case OutcomeUpdated:
			summary.Updated++
		case OutcomeUnchanged:
			summary.Unchanged++
		case OutcomeSkippedConfirmed:
			summary.SkippedConfirmed++
		}
	}

	n, err := ing.store.CreateEntries(ctx, fresh)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: bulk create entries")
	}
	summary.Created = n

	return &summary, nil
}
