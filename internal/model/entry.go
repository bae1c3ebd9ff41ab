package model

import "time"

// InitialVersion is assigned on first ingestion of a URL.
const InitialVersion = "1.0"

// KnowledgeEntry is one knowledge-base record, keyed logically by
// (owner, source URL). Entries are soft-retired via IsActive, never
// hard-deleted by the pipeline.
type KnowledgeEntry struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	SourceURL string `json:"source_url"`

	// Content is the opaque structured payload: classification output plus
	// any enrichment.
	Content map[string]any `json:"content"`

	// ContentHash is a change-detection fingerprint of normalized content,
	// not a security property.
	ContentHash string `json:"content_hash"`

	// Version starts at "1.0" and increments by 0.1 only when a recomputed
	// hash differs from the stored hash.
	Version string `json:"version"`

	// PreviousContent is a single-generation snapshot retained exactly when
	// a version increment occurs, overwritten on each subsequent change.
	PreviousContent map[string]any `json:"previous_content,omitempty"`

	// UserConfirmed marks a human-reviewed entry. The pipeline must never
	// silently overwrite the content of a confirmed entry.
	UserConfirmed bool `json:"user_confirmed"`

	IsActive bool `json:"is_active"`

	ScrapedAt time.Time `json:"scraped_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryUpdate is a partial update applied to an existing knowledge entry.
// Nil fields are left untouched.
type EntryUpdate struct {
	Content         map[string]any `json:"content,omitempty"`
	ContentHash     *string        `json:"content_hash,omitempty"`
	Version         *string        `json:"version,omitempty"`
	PreviousContent map[string]any `json:"previous_content,omitempty"`
	ScrapedAt       *time.Time     `json:"scraped_at,omitempty"`
	UserConfirmed   *bool          `json:"user_confirmed,omitempty"`
	IsActive        *bool          `json:"is_active,omitempty"`
}
