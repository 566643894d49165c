package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/stockpulse/internal/aggregate"
	"github.com/sells-group/stockpulse/internal/enrich"
	"github.com/sells-group/stockpulse/internal/model"
	"github.com/sells-group/stockpulse/internal/store"
)

// --- Aggregator ---

// mockAggregator returns a canned result from Group for whatever Fetch was
// told to produce.
type mockAggregator struct {
	mock.Mock
	result *aggregate.Result
}

func (m *mockAggregator) Fetch(ctx context.Context) (*aggregate.Batch, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	m.result = args.Get(0).(*aggregate.Result)
	return &aggregate.Batch{}, args.Error(1)
}

func (m *mockAggregator) Group(_ *aggregate.Batch) *aggregate.Result {
	return m.result
}

// --- Enricher ---

type enricherFunc func(ctx context.Context, unit model.ProcessingUnit) enrich.Result

func (f enricherFunc) Enrich(ctx context.Context, unit model.ProcessingUnit) enrich.Result {
	return f(ctx, unit)
}

// --- Sinks ---

type mockFacts struct {
	mock.Mock
}

func (m *mockFacts) UpsertCompany(ctx context.Context, company model.CompanyKey) error {
	return m.Called(ctx, company).Error(0)
}

func (m *mockFacts) AddMetrics(ctx context.Context, company model.CompanyKey, metrics map[string]float64) error {
	return m.Called(ctx, company, metrics).Error(0)
}

func (m *mockFacts) AddSentiment(ctx context.Context, company model.CompanyKey, month model.MonthBucket, score int) error {
	return m.Called(ctx, company, month, score).Error(0)
}

type mockIndexer struct {
	mock.Mock
}

func (m *mockIndexer) Upsert(ctx context.Context, key model.UnitKey, text string) error {
	return m.Called(ctx, key, text).Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, report *model.RunReport) error {
	return m.Called(ctx, report).Error(0)
}

// --- Run store ---

type mockRunStore struct {
	mock.Mock
}

var _ store.RunStore = (*mockRunStore)(nil)

func (m *mockRunStore) CreateRun(ctx context.Context) (*model.Run, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockRunStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	return m.Called(ctx, runID, status).Error(0)
}

func (m *mockRunStore) UpdateRunReport(ctx context.Context, runID string, report *model.RunReport) error {
	return m.Called(ctx, runID, report).Error(0)
}

func (m *mockRunStore) FailRun(ctx context.Context, runID string, reason string) error {
	return m.Called(ctx, runID, reason).Error(0)
}

func (m *mockRunStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockRunStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}
