package model

// ContentType is the content taxonomy assigned by classification.
type ContentType string

const (
	ContentTypeProduct      ContentType = "product"
	ContentTypeCaseStudy    ContentType = "case_study"
	ContentTypeEvent        ContentType = "event"
	ContentTypeSolutionPage ContentType = "solution_page"
	ContentTypePlaybook     ContentType = "playbook"
	ContentTypePricing      ContentType = "pricing"
	ContentTypeOther        ContentType = "other"
)

// AllContentTypes returns every defined content type.
func AllContentTypes() []ContentType {
	return []ContentType{
		ContentTypeProduct,
		ContentTypeCaseStudy,
		ContentTypeEvent,
		ContentTypeSolutionPage,
		ContentTypePlaybook,
		ContentTypePricing,
		ContentTypeOther,
	}
}

// ValidContentType reports whether s names a defined content type.
func ValidContentType(s string) bool {
	for _, t := range AllContentTypes() {
		if ContentType(s) == t {
			return true
		}
	}
	return false
}

// CategorizedItem is the classification output for one page. Immutable once
// produced.
type CategorizedItem struct {
	URL           string      `json:"url"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	SuggestedType ContentType `json:"suggested_type"`
	Confidence    float64     `json:"confidence"`
	Industry      string      `json:"industry,omitempty"`
	Department    string      `json:"department,omitempty"`
}

// CrawledPage is one page returned by the crawl service.
type CrawledPage struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Markdown   string `json:"markdown"`
	StatusCode int    `json:"status_code"`
}
