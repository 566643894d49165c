package market

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/stockpulse/internal/model"
	"github.com/sells-group/stockpulse/pkg/eodhd"
)

type mockEODHD struct {
	mock.Mock
}

func (m *mockEODHD) Fundamentals(ctx context.Context, symbol, exchange string) (*eodhd.Fundamentals, error) {
	args := m.Called(ctx, symbol, exchange)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*eodhd.Fundamentals), args.Error(1)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Fetch(ctx context.Context, company model.CompanyKey) (model.MetricsSnapshot, error) {
	args := m.Called(ctx, company)
	return args.Get(0).(model.MetricsSnapshot), args.Error(1)
}
