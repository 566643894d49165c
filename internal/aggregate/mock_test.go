package aggregate

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/stockpulse/internal/model"
)

type mockFeed struct {
	mock.Mock
}

func (m *mockFeed) ListPage(ctx context.Context, page int) ([]model.Thread, error) {
	args := m.Called(ctx, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Thread), args.Error(1)
}

func (m *mockFeed) ListPosts(ctx context.Context, threadID int64) ([]model.Post, error) {
	args := m.Called(ctx, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Post), args.Error(1)
}

// titleResolver resolves a title to itself (blank stays blank).
type titleResolver struct{}

func (titleResolver) Resolve(title string) model.CompanyKey { return title }
