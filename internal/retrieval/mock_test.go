package retrieval

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/stockpulse/internal/model"
	"github.com/sells-group/stockpulse/pkg/anthropic"
)

// tableEmbedder returns fixed vectors per text.
type tableEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	calls int
}

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	v, ok := e.vecs[text]
	if !ok {
		return nil, eris.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (e *tableEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) SaveDocument(ctx context.Context, doc model.IndexedDocument) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *mockRepository) DeleteDocument(ctx context.Context, key model.UnitKey) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockRepository) LoadDocuments(ctx context.Context) ([]model.IndexedDocument, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.IndexedDocument), args.Error(1)
}

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
