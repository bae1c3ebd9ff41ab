package classify

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
	"github.com/agentpilot-us/revenue-agents-sub002/pkg/anthropic"
)

// mockAI implements anthropic.Client with a canned response.
type mockAI struct {
	fn func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

func (m *mockAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return m.fn(ctx, req)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
}

func TestTypeHintFromURL(t *testing.T) {
	tests := []struct {
		url      string
		want     model.ContentType
		specific bool
	}{
		{"https://acme.com/case-studies/robotics", model.ContentTypeCaseStudy, true},
		{"https://acme.com/events/summit-2026", model.ContentTypeEvent, true},
		{"https://acme.com/pricing", model.ContentTypePricing, true},
		{"https://acme.com/solutions/automotive", model.ContentTypeSolutionPage, true},
		{"https://acme.com/resources/playbooks/outbound", model.ContentTypePlaybook, true},
		{"https://acme.com/blog/some-post", model.ContentTypeOther, false},
		{"https://acme.com", model.ContentTypeOther, false},
	}
	for _, tt := range tests {
		got, ok := TypeHintFromURL(tt.url)
		assert.Equal(t, tt.want, got, tt.url)
		assert.Equal(t, tt.specific, ok, tt.url)
	}
}

func TestClassify_ParsesModelOutput(t *testing.T) {
	ai := &mockAI{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(`{"title":"Fleet Platform","description":"Telematics for AV fleets.","suggested_type":"product","confidence":0.92,"industry":"automotive","department":"operations"}`), nil
	}}
	c := New(ai, Config{Model: "test-model"})

	item := c.Classify(context.Background(), "https://acme.com/platform", "page body")
	assert.Equal(t, "https://acme.com/platform", item.URL)
	assert.Equal(t, "Fleet Platform", item.Title)
	assert.Equal(t, model.ContentTypeProduct, item.SuggestedType)
	assert.InDelta(t, 0.92, item.Confidence, 0.001)
	assert.Equal(t, "automotive", item.Industry)
	assert.Equal(t, "operations", item.Department)
	assert.Equal(t, int64(100), c.Usage().InputTokens)
}

func TestClassify_StripsCodeFences(t *testing.T) {
	ai := &mockAI{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse("```json\n{\"title\":\"Pricing\",\"suggested_type\":\"pricing\",\"confidence\":0.8}\n```"), nil
	}}
	c := New(ai, Config{Model: "test-model"})

	item := c.Classify(context.Background(), "https://acme.com/plans", "body")
	assert.Equal(t, model.ContentTypePricing, item.SuggestedType)
}

func TestClassify_URLHintBeatsGenericModelAnswer(t *testing.T) {
	ai := &mockAI{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(`{"title":"Untitled","suggested_type":"other","confidence":0.3}`), nil
	}}
	c := New(ai, Config{Model: "test-model"})

	item := c.Classify(context.Background(), "https://acme.com/case-studies/acme", "sparse")
	assert.Equal(t, model.ContentTypeCaseStudy, item.SuggestedType)
}

func TestClassify_ModelAnswerBeatsHintWhenSpecific(t *testing.T) {
	ai := &mockAI{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(`{"title":"Summit","suggested_type":"event","confidence":0.9}`), nil
	}}
	c := New(ai, Config{Model: "test-model"})

	// URL hints pricing, model confidently says event; model wins.
	item := c.Classify(context.Background(), "https://acme.com/pricing/summit", "body")
	assert.Equal(t, model.ContentTypeEvent, item.SuggestedType)
}

func TestClassify_UnparseableFallsBack(t *testing.T) {
	ai := &mockAI{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse("I cannot classify this page."), nil
	}}
	c := New(ai, Config{Model: "test-model"})

	item := c.Classify(context.Background(), "https://acme.com/events/expo-2026", "body")
	assert.Equal(t, model.ContentTypeEvent, item.SuggestedType)
	assert.Equal(t, "Expo 2026", item.Title)
	assert.Empty(t, item.Description)
	assert.Zero(t, item.Confidence)
}

func TestClassify_ModelErrorFallsBack(t *testing.T) {
	ai := &mockAI{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, assert.AnError
	}}
	c := New(ai, Config{Model: "test-model"})

	item := c.Classify(context.Background(), "https://acme.com/about", "body")
	assert.Equal(t, model.ContentTypeOther, item.SuggestedType)
	assert.Equal(t, "About", item.Title)
}

func TestClassify_InvalidTypeNormalizedToOther(t *testing.T) {
	ai := &mockAI{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(`{"title":"Page","suggested_type":"landing_page","confidence":0.5}`), nil
	}}
	c := New(ai, Config{Model: "test-model"})

	item := c.Classify(context.Background(), "https://acme.com/misc", "body")
	assert.Equal(t, model.ContentTypeOther, item.SuggestedType)
}

func TestClassify_TruncatesLongPages(t *testing.T) {
	var gotLen int
	ai := &mockAI{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		gotLen = len(req.Messages[0].Content)
		return textResponse(`{"title":"T","suggested_type":"other","confidence":0.1}`), nil
	}}
	c := New(ai, Config{Model: "test-model"})

	long := make([]byte, 50_000)
	for i := range long {
		long[i] = 'x'
	}
	c.Classify(context.Background(), "https://acme.com/big", string(long))
	require.Less(t, gotLen, 5000, "prompt should carry a bounded excerpt, not the whole page")
}

func TestTruncateExcerpt_KeepsRuneBoundary(t *testing.T) {
	// A run of multi-byte runes straddling the byte cap must be trimmed
	// back to a boundary, never cut mid-rune.
	long := strings.Repeat("é", maxExcerptChars) // 2 bytes each
	got := truncateExcerpt(long)
	require.LessOrEqual(t, len(got), maxExcerptChars)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxExcerptChars/2, utf8.RuneCountInString(got))

	short := "plain ascii"
	assert.Equal(t, short, truncateExcerpt(short))
}

func TestClassify_ExcerptStaysValidUTF8(t *testing.T) {
	var excerpt string
	ai := &mockAI{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		excerpt = req.Messages[0].Content
		return textResponse(`{"title":"T","suggested_type":"other","confidence":0.1}`), nil
	}}
	c := New(ai, Config{Model: "test-model"})

	c.Classify(context.Background(), "https://acme.com/big", strings.Repeat("日本語のページ", 2000))
	require.NotEmpty(t, excerpt)
	assert.True(t, utf8.ValidString(excerpt))
}

func TestFallback_TitleFromHost(t *testing.T) {
	item := Fallback("https://www.acme.com/")
	assert.Equal(t, "https://www.acme.com/", item.URL)
	assert.Equal(t, "Acme.Com", item.Title)
	assert.Equal(t, model.ContentTypeOther, item.SuggestedType)
}
