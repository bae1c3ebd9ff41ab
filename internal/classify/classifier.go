// Package classify assigns a content-taxonomy type and descriptive metadata
// to crawled pages using an AI model, with a deterministic fallback so
// classification failures degrade gracefully instead of aborting a batch.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
	"github.com/agentpilot-us/revenue-agents-sub002/pkg/anthropic"
)

const systemPrompt = `You classify B2B web pages for a sales knowledge base. Respond with one JSON object, nothing else:
{"title": "<short page title>", "description": "<one-sentence summary>", "suggested_type": "<one of: product, case_study, event, solution_page, playbook, pricing, other>", "confidence": <0.0-1.0>, "industry": "<industry if evident, else empty>", "department": "<buyer department if evident, else empty>"}`

const userPromptFormat = `URL: %s
Likely type from URL structure: %s

Page content (excerpt):
%s`

// maxExcerptChars bounds the page text sent to the model. Full pages are
// not needed for classification and the cap bounds cost and latency.
const maxExcerptChars = 3000

// urlPathHints maps URL path segments to content types. The segment is
// matched against every path component, not just the first, because
// marketing sites nest these sections freely.
var urlPathHints = map[string]model.ContentType{
	"products":      model.ContentTypeProduct,
	"product":       model.ContentTypeProduct,
	"platform":      model.ContentTypeProduct,
	"features":      model.ContentTypeProduct,
	"case-studies":  model.ContentTypeCaseStudy,
	"case-study":    model.ContentTypeCaseStudy,
	"customers":     model.ContentTypeCaseStudy,
	"success-story": model.ContentTypeCaseStudy,
	"events":        model.ContentTypeEvent,
	"event":         model.ContentTypeEvent,
	"webinars":      model.ContentTypeEvent,
	"conferences":   model.ContentTypeEvent,
	"solutions":     model.ContentTypeSolutionPage,
	"solution":      model.ContentTypeSolutionPage,
	"industries":    model.ContentTypeSolutionPage,
	"use-cases":     model.ContentTypeSolutionPage,
	"playbooks":     model.ContentTypePlaybook,
	"playbook":      model.ContentTypePlaybook,
	"guides":        model.ContentTypePlaybook,
	"whitepapers":   model.ContentTypePlaybook,
	"pricing":       model.ContentTypePricing,
	"plans":         model.ContentTypePricing,
}

// TypeHintFromURL derives a content-type prior from URL path patterns.
// Returns (other, false) when no segment matches.
func TypeHintFromURL(rawURL string) (model.ContentType, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.ContentTypeOther, false
	}
	for _, segment := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if ct, ok := urlPathHints[strings.ToLower(segment)]; ok {
			return ct, true
		}
	}
	return model.ContentTypeOther, false
}

// Config controls classifier behavior.
type Config struct {
	Model     string
	MaxTokens int64
	// RequestsPerSecond throttles model calls; zero disables throttling.
	RequestsPerSecond float64
}

// Classifier turns one page into a CategorizedItem. It is safe for
// concurrent use.
type Classifier struct {
	client  anthropic.Client
	cfg     Config
	system  []anthropic.SystemBlock
	limiter *rate.Limiter

	mu    sync.Mutex
	usage anthropic.TokenUsage
}

// New creates a Classifier around an injected model client.
func New(client anthropic.Client, cfg Config) *Classifier {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Classifier{
		client:  client,
		cfg:     cfg,
		system:  anthropic.BuildCachedSystemBlocks(systemPrompt),
		limiter: limiter,
	}
}

// Usage returns the accumulated token usage across all Classify calls.
func (c *Classifier) Usage() anthropic.TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Classify produces a CategorizedItem for one page. Model errors and
// unparseable responses degrade to Fallback rather than returning an error:
// per-item classification failures must never abort the surrounding loop.
func (c *Classifier) Classify(ctx context.Context, pageURL, pageText string) model.CategorizedItem {
	hint, hintSpecific := TypeHintFromURL(pageURL)

	if err := c.limiter.Wait(ctx); err != nil {
		return Fallback(pageURL)
	}

	excerpt := truncateExcerpt(pageText)

	hintLabel := "unknown"
	if hintSpecific {
		hintLabel = string(hint)
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    c.system,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(userPromptFormat, pageURL, hintLabel, excerpt)},
		},
	})
	if err != nil {
		zap.L().Warn("classify: model call failed, using fallback",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return Fallback(pageURL)
	}

	c.mu.Lock()
	c.usage.Add(resp.Usage)
	c.mu.Unlock()

	item, ok := parseItem(resp.Text())
	if !ok {
		zap.L().Warn("classify: unparseable model output, using fallback",
			zap.String("url", pageURL),
		)
		return Fallback(pageURL)
	}

	item.URL = pageURL
	if item.Title == "" {
		item.Title = titleFromURL(pageURL)
	}
	// URL structure is a stronger signal than sparse page text for many
	// boilerplate pages: a specific hint beats a generic model answer.
	if item.SuggestedType == model.ContentTypeOther && hintSpecific {
		item.SuggestedType = hint
	}
	return item
}

// truncateExcerpt caps s at maxExcerptChars bytes, backing the cut up to a
// rune boundary so a multi-byte character is never split.
func truncateExcerpt(s string) string {
	if len(s) <= maxExcerptChars {
		return s
	}
	cut := maxExcerptChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Fallback is the deterministic minimal classification used when the model
// cannot be called or its output cannot be parsed.
func Fallback(pageURL string) model.CategorizedItem {
	hint, _ := TypeHintFromURL(pageURL)
	return model.CategorizedItem{
		URL:           pageURL,
		Title:         titleFromURL(pageURL),
		Description:   "",
		SuggestedType: hint,
		Confidence:    0,
	}
}

func parseItem(text string) (model.CategorizedItem, bool) {
	text = cleanJSON(text)

	var raw struct {
		Title         string  `json:"title"`
		Description   string  `json:"description"`
		SuggestedType string  `json:"suggested_type"`
		Confidence    float64 `json:"confidence"`
		Industry      string  `json:"industry"`
		Department    string  `json:"department"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return model.CategorizedItem{}, false
	}

	suggested := strings.ToLower(strings.TrimSpace(raw.SuggestedType))
	if !model.ValidContentType(suggested) {
		suggested = string(model.ContentTypeOther)
	}

	return model.CategorizedItem{
		Title:         strings.TrimSpace(raw.Title),
		Description:   strings.TrimSpace(raw.Description),
		SuggestedType: model.ContentType(suggested),
		Confidence:    raw.Confidence,
		Industry:      strings.TrimSpace(raw.Industry),
		Department:    strings.TrimSpace(raw.Department),
	}, true
}

// cleanJSON strips markdown code fences the model sometimes wraps around
// its JSON answer.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

var titleCaser = cases.Title(language.English)

// titleFromURL derives a readable title from the last meaningful URL path
// segment: "/case-studies/acme-robotics" → "Acme Robotics".
func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return titleCaser.String(strings.TrimPrefix(u.Hostname(), "www."))
	}
	segment := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		segment = path[idx+1:]
	}
	segment = strings.NewReplacer("-", " ", "_", " ").Replace(segment)
	return titleCaser.String(segment)
}
