package relevance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
)

func pagesFromURLs(urls ...string) []model.CrawledPage {
	out := make([]model.CrawledPage, len(urls))
	for i, u := range urls {
		out[i] = model.CrawledPage{URL: u}
	}
	return out
}

func TestFilter_NoIndustryIsIdentity(t *testing.T) {
	pages := pagesFromURLs(
		"https://acme.com",
		"https://acme.com/pricing",
		"https://acme.com/blog/post-1",
	)
	got := Filter(pages, "")
	assert.Equal(t, pages, got)
}

func TestFilter_KeepsKeywordMatches(t *testing.T) {
	pages := pagesFromURLs(
		"https://acme.com/automotive/overview",
		"https://acme.com/pricing",
		"https://acme.com/solutions/vehicle-fleets",
		"https://acme.com/blog",
	)
	got := Filter(pages, "automotive")
	assert.Len(t, got, 2)
	assert.Equal(t, "https://acme.com/automotive/overview", got[0].URL)
	assert.Equal(t, "https://acme.com/solutions/vehicle-fleets", got[1].URL)
}

func TestFilter_MatchIsCaseInsensitive(t *testing.T) {
	pages := pagesFromURLs("https://acme.com/Automotive/Overview")
	got := Filter(pages, "automotive")
	assert.Len(t, got, 1)
	// Original casing preserved in output.
	assert.Equal(t, "https://acme.com/Automotive/Overview", got[0].URL)
}

func TestFilter_DedupKeepsFirstOccurrence(t *testing.T) {
	pages := pagesFromURLs(
		"https://acme.com/Pricing",
		"https://acme.com/pricing",
		"https://acme.com/pricing",
	)
	got := Filter(pages, "")
	assert.Len(t, got, 1)
	assert.Equal(t, "https://acme.com/Pricing", got[0].URL)
}

func TestFilter_UnionOfIndustries(t *testing.T) {
	pages := pagesFromURLs(
		"https://acme.com/automotive",
		"https://acme.com/healthcare",
		"https://acme.com/about",
	)
	got := Filter(pages, "automotive", "healthcare")
	assert.Len(t, got, 2)
}

func TestKeywords_KnownIndustry(t *testing.T) {
	assert.Equal(t, []string{"automotive", "vehicle", "autonomous", "car", "av"}, Keywords("automotive"))
	assert.Equal(t, Keywords("automotive"), Keywords("  Automotive "))
}

func TestKeywords_UnknownIndustryDerivesFromLabel(t *testing.T) {
	assert.Equal(t, []string{"agri tech"}, Keywords("Agri-Tech"))
	assert.Nil(t, Keywords(""))
	assert.Nil(t, Keywords("---"))
}
