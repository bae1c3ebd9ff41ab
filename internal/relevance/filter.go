// Package relevance narrows crawl output to pages plausibly relevant to the
// vertical an account sells into. Whole-site crawls over-discover; filtering
// by URL keywords bounds the expensive classification step without per-page
// content inspection.
package relevance

import (
	"strings"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
)

// industryKeywords maps known industry labels to URL keyword stems.
var industryKeywords = map[string][]string{
	"automotive":    {"automotive", "vehicle", "autonomous", "car", "av"},
	"healthcare":    {"healthcare", "health", "medical", "clinical", "patient", "pharma"},
	"finance":       {"finance", "financial", "banking", "fintech", "insurance", "payments"},
	"retail":        {"retail", "commerce", "ecommerce", "shopping", "consumer"},
	"manufacturing": {"manufacturing", "industrial", "factory", "supply-chain", "logistics"},
	"technology":    {"technology", "software", "saas", "cloud", "developer", "api"},
	"energy":        {"energy", "utilities", "renewable", "solar", "grid", "oil"},
	"education":     {"education", "learning", "student", "university", "school"},
	"government":    {"government", "public-sector", "federal", "civic", "defense"},
}

// Keywords returns the keyword stems for an industry label. Unknown labels
// fall back to a single keyword derived from the label itself (lowercased,
// non-alphanumerics replaced with spaces).
func Keywords(industry string) []string {
	label := strings.ToLower(strings.TrimSpace(industry))
	if label == "" {
		return nil
	}
	if stems, ok := industryKeywords[label]; ok {
		return stems
	}
	var b strings.Builder
	for _, r := range label {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	derived := strings.TrimSpace(b.String())
	if derived == "" {
		return nil
	}
	return []string{derived}
}

// Filter keeps pages whose URL (lowercased) contains at least one keyword
// from the union of all requested industries' keyword sets. With no
// industry hints at all the filter is an identity apart from URL dedup.
// Dedup matches URLs case-insensitively, keeps the first occurrence, and
// preserves original casing in the output.
func Filter(pages []model.CrawledPage, industry string, additional ...string) []model.CrawledPage {
	var keywords []string
	for _, label := range append([]string{industry}, additional...) {
		keywords = append(keywords, Keywords(label)...)
	}

	seen := make(map[string]bool, len(pages))
	out := make([]model.CrawledPage, 0, len(pages))
	for _, p := range pages {
		key := strings.ToLower(p.URL)
		if seen[key] {
			continue
		}
		seen[key] = true

		if len(keywords) == 0 || matchesAny(key, keywords) {
			out = append(out, p)
		}
	}
	return out
}

func matchesAny(lowerURL string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lowerURL, kw) {
			return true
		}
	}
	return false
}
