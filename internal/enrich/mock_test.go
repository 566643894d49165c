package enrich

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/stockpulse/internal/model"
	"github.com/sells-group/stockpulse/pkg/anthropic"
)

type mockSummarizer struct {
	mock.Mock
}

func (m *mockSummarizer) Summarize(ctx context.Context, texts []string) (string, error) {
	args := m.Called(ctx, texts)
	return args.String(0), args.Error(1)
}

type mockScorer struct {
	mock.Mock
}

func (m *mockScorer) Score(ctx context.Context, text string) (int, error) {
	args := m.Called(ctx, text)
	return args.Int(0), args.Error(1)
}

type mockMetrics struct {
	mock.Mock
}

func (m *mockMetrics) Fetch(ctx context.Context, company model.CompanyKey) (model.MetricsSnapshot, error) {
	args := m.Called(ctx, company)
	return args.Get(0).(model.MetricsSnapshot), args.Error(1)
}

type mockCleaner struct {
	mock.Mock
}

func (m *mockCleaner) Clean(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

// mockAnthropic is a mock implementation of anthropic.Client.
type mockAnthropic struct {
	mock.Mock
}

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string, in, out int64) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: in, OutputTokens: out},
	}
}
