package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/stockpulse/internal/company"
	"github.com/sells-group/stockpulse/internal/config"
	"github.com/sells-group/stockpulse/internal/model"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func post(id, thread int64, at string) model.Post {
	p := model.Post{ID: id, ThreadID: thread, Body: "body"}
	if at != "" {
		p.CreatedAt = ts(at)
	}
	return p
}

func defaultCfg() Config {
	return Config{MaxPages: 10, PostConcurrency: 4, DiscardUnresolved: true}
}

func TestAggregate_StopsAtFirstEmptyPage(t *testing.T) {
	feed := new(mockFeed)
	feed.On("ListPage", mock.Anything, 0).Return([]model.Thread{
		{ID: 1, Title: "Alpha"},
		{ID: 2, Title: "Beta"},
		{ID: 3, Title: "Gamma"},
	}, nil)
	feed.On("ListPage", mock.Anything, 1).Return([]model.Thread{}, nil)
	for id := int64(1); id <= 3; id++ {
		feed.On("ListPosts", mock.Anything, id).Return([]model.Post{post(id*10, id, "2024-06-01T00:00:00Z")}, nil)
	}

	res, err := New(feed, titleResolver{}, defaultCfg()).Aggregate(context.Background())
	require.NoError(t, err)

	feed.AssertNumberOfCalls(t, "ListPage", 2)
	assert.Equal(t, 2, res.Stats.Pages)
	assert.Equal(t, 3, res.Stats.Threads)
	assert.Len(t, res.Units, 3)
	feed.AssertExpectations(t)
}

func TestAggregate_GroupsByCompanyAndMonthInFirstSeenOrder(t *testing.T) {
	feed := new(mockFeed)
	feed.On("ListPage", mock.Anything, 0).Return([]model.Thread{
		{ID: 1, Title: "Tata Motors Ltd - Q1"},
		{ID: 2, Title: "HDFC Bank (HDFCBANK)"},
		{ID: 3, Title: "tata motors ltd : EV plans"},
	}, nil)
	feed.On("ListPage", mock.Anything, 1).Return(nil, nil)
	feed.On("ListPosts", mock.Anything, int64(1)).Return([]model.Post{
		post(11, 1, "2024-06-03T00:00:00Z"),
		post(12, 1, "2024-07-01T00:00:00Z"),
		// Arrival order is kept even when not chronological.
		post(13, 1, "2024-06-01T00:00:00Z"),
	}, nil)
	feed.On("ListPosts", mock.Anything, int64(2)).Return([]model.Post{
		post(21, 2, "2024-06-10T00:00:00Z"),
	}, nil)
	feed.On("ListPosts", mock.Anything, int64(3)).Return([]model.Post{
		post(31, 3, "2024-06-20T00:00:00Z"),
	}, nil)

	resolver := company.NewResolver(config.DefaultSuffixes)
	res, err := New(feed, resolver, defaultCfg()).Aggregate(context.Background())
	require.NoError(t, err)

	keys := make([]string, len(res.Units))
	for i, u := range res.Units {
		keys[i] = u.Key().String()
	}
	assert.Equal(t, []string{
		"Tata Motors Ltd|2024-06",
		"Tata Motors Ltd|2024-07",
		"HDFC Bank|2024-06",
		"tata motors ltd|2024-06",
	}, keys)

	ids := make([]int64, 0)
	for _, p := range res.Units[0].Posts {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{11, 13}, ids)
}

func TestAggregate_PageErrorTruncates(t *testing.T) {
	feed := new(mockFeed)
	feed.On("ListPage", mock.Anything, 0).Return([]model.Thread{{ID: 1, Title: "Alpha"}}, nil)
	feed.On("ListPage", mock.Anything, 1).Return(nil, errors.New("502 bad gateway"))
	feed.On("ListPosts", mock.Anything, int64(1)).Return([]model.Post{post(1, 1, "2024-06-01T00:00:00Z")}, nil)

	res, err := New(feed, titleResolver{}, defaultCfg()).Aggregate(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Stats.Truncated)
	assert.Equal(t, 1, res.Stats.Pages)
	require.Len(t, res.Units, 1)
	feed.AssertNotCalled(t, "ListPage", mock.Anything, 2)
}

func TestAggregate_FirstPageErrorIsFatal(t *testing.T) {
	feed := new(mockFeed)
	feed.On("ListPage", mock.Anything, 0).Return(nil, errors.New("dial tcp: connection refused"))

	res, err := New(feed, titleResolver{}, defaultCfg()).Aggregate(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAggregate_FailedThreadSkipped(t *testing.T) {
	feed := new(mockFeed)
	feed.On("ListPage", mock.Anything, 0).Return([]model.Thread{
		{ID: 1, Title: "Alpha"},
		{ID: 2, Title: "Beta"},
	}, nil)
	feed.On("ListPage", mock.Anything, 1).Return(nil, nil)
	feed.On("ListPosts", mock.Anything, int64(1)).Return(nil, errors.New("timeout"))
	feed.On("ListPosts", mock.Anything, int64(2)).Return([]model.Post{post(2, 2, "2024-06-01T00:00:00Z")}, nil)

	res, err := New(feed, titleResolver{}, defaultCfg()).Aggregate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.FailedThreads)
	require.Len(t, res.Units, 1)
	assert.Equal(t, "Beta", res.Units[0].Company)
	feed.AssertNumberOfCalls(t, "ListPosts", 2)
}

func TestAggregate_DropsPostsWithoutTimestamp(t *testing.T) {
	feed := new(mockFeed)
	feed.On("ListPage", mock.Anything, 0).Return([]model.Thread{{ID: 1, Title: "Alpha"}, {ID: 2, Title: "Beta"}}, nil)
	feed.On("ListPage", mock.Anything, 1).Return(nil, nil)
	feed.On("ListPosts", mock.Anything, int64(1)).Return([]model.Post{
		post(1, 1, ""),
		post(2, 1, "2024-06-01T00:00:00Z"),
	}, nil)
	// Every post undated: the thread contributes no unit at all.
	feed.On("ListPosts", mock.Anything, int64(2)).Return([]model.Post{post(3, 2, "")}, nil)

	res, err := New(feed, titleResolver{}, defaultCfg()).Aggregate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Stats.Posts)
	assert.Equal(t, 2, res.Stats.DroppedPosts)
	require.Len(t, res.Units, 1)
	assert.Len(t, res.Units[0].Posts, 1)
}

func TestAggregate_UnresolvedPolicy(t *testing.T) {
	newFeed := func() *mockFeed {
		feed := new(mockFeed)
		feed.On("ListPage", mock.Anything, 0).Return([]model.Thread{{ID: 1, Title: ""}, {ID: 2, Title: "Beta"}}, nil)
		feed.On("ListPage", mock.Anything, 1).Return(nil, nil)
		feed.On("ListPosts", mock.Anything, int64(1)).Return([]model.Post{post(1, 1, "2024-06-01T00:00:00Z")}, nil)
		feed.On("ListPosts", mock.Anything, int64(2)).Return([]model.Post{post(2, 2, "2024-06-01T00:00:00Z")}, nil)
		return feed
	}

	t.Run("discard", func(t *testing.T) {
		feed := newFeed()
		res, err := New(feed, titleResolver{}, defaultCfg()).Aggregate(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, res.Stats.DiscardedUnresolved)
		require.Len(t, res.Units, 1)
		assert.Equal(t, "Beta", res.Units[0].Company)
		feed.AssertNotCalled(t, "ListPosts", mock.Anything, int64(1))
	})

	t.Run("keep", func(t *testing.T) {
		cfg := defaultCfg()
		cfg.DiscardUnresolved = false
		res, err := New(newFeed(), titleResolver{}, cfg).Aggregate(context.Background())
		require.NoError(t, err)

		require.Len(t, res.Units, 2)
		assert.Equal(t, "", res.Units[0].Company)
	})
}

func TestAggregate_RespectsMaxPages(t *testing.T) {
	feed := new(mockFeed)
	feed.On("ListPage", mock.Anything, mock.AnythingOfType("int")).Return([]model.Thread{{ID: 1, Title: "Alpha"}}, nil)
	feed.On("ListPosts", mock.Anything, int64(1)).Return([]model.Post{post(1, 1, "2024-06-01T00:00:00Z")}, nil)

	cfg := defaultCfg()
	cfg.MaxPages = 3
	res, err := New(feed, titleResolver{}, cfg).Aggregate(context.Background())
	require.NoError(t, err)

	feed.AssertNumberOfCalls(t, "ListPage", 3)
	// The same thread on every page lands in the same unit.
	require.Len(t, res.Units, 1)
	assert.Len(t, res.Units[0].Posts, 3)
}

func TestAggregate_CancelledContextReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	feed := new(mockFeed)
	feed.On("ListPage", mock.Anything, 0).Return([]model.Thread{{ID: 1, Title: "Alpha"}}, nil)
	feed.On("ListPosts", mock.Anything, int64(1)).
		Run(func(mock.Arguments) { cancel() }).
		Return([]model.Post{post(1, 1, "2024-06-01T00:00:00Z")}, nil)

	res, err := New(feed, titleResolver{}, defaultCfg()).Aggregate(ctx)
	require.NoError(t, err)

	assert.True(t, res.Stats.Truncated)
	assert.Len(t, res.Units, 1)
	feed.AssertNumberOfCalls(t, "ListPage", 1)
}

func TestAggregate_NoEmptyUnits(t *testing.T) {
	feed := new(mockFeed)
	threads := make([]model.Thread, 0, 20)
	for id := int64(1); id <= 20; id++ {
		threads = append(threads, model.Thread{ID: id, Title: []string{"Alpha", "Beta", "", "Gamma"}[id%4]})
		var posts []model.Post
		switch id % 3 {
		case 0:
			posts = nil
		case 1:
			posts = []model.Post{post(id, id, ""), post(id+100, id, "2024-05-31T23:59:59Z")}
		default:
			posts = []model.Post{post(id, id, "2024-06-01T00:00:00Z")}
		}
		var err error
		if id%7 == 0 {
			err = errors.New("boom")
		}
		feed.On("ListPosts", mock.Anything, id).Return(posts, err).Maybe()
	}
	feed.On("ListPage", mock.Anything, 0).Return(threads, nil)
	feed.On("ListPage", mock.Anything, 1).Return(nil, nil)

	cfg := defaultCfg()
	cfg.DiscardUnresolved = false
	res, err := New(feed, titleResolver{}, cfg).Aggregate(context.Background())
	require.NoError(t, err)

	seen := map[model.UnitKey]bool{}
	for _, u := range res.Units {
		assert.NotEmpty(t, u.Posts, u.Key().String())
		assert.False(t, seen[u.Key()], "duplicate unit %s", u.Key())
		seen[u.Key()] = true
		for _, p := range u.Posts {
			assert.Equal(t, u.Month, model.MonthOf(p.CreatedAt))
		}
	}
}

func TestFetchThenGroup(t *testing.T) {
	feed := new(mockFeed)
	feed.On("ListPage", mock.Anything, 0).Return([]model.Thread{
		{ID: 1, Title: "Alpha"},
		{ID: 2, Title: ""},
	}, nil)
	feed.On("ListPage", mock.Anything, 1).Return([]model.Thread{}, nil)
	feed.On("ListPosts", mock.Anything, int64(1)).Return([]model.Post{
		post(10, 1, "2024-06-01T00:00:00Z"),
		post(11, 1, "2024-07-01T00:00:00Z"),
	}, nil)

	a := New(feed, titleResolver{}, defaultCfg())
	batch, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, batch.stats.Pages)
	assert.Len(t, batch.threads, 2)

	// Grouping makes no feed calls and is repeatable.
	first := a.Group(batch)
	second := a.Group(batch)
	assert.Equal(t, first, second)
	assert.Len(t, first.Units, 2)
	assert.Equal(t, 1, first.Stats.DiscardedUnresolved)
	assert.Equal(t, 2, first.Stats.Posts)
	feed.AssertNumberOfCalls(t, "ListPosts", 1)
}

func TestFetch_FirstPageFailure(t *testing.T) {
	feed := new(mockFeed)
	feed.On("ListPage", mock.Anything, 0).Return(nil, errors.New("dns"))

	_, err := New(feed, titleResolver{}, defaultCfg()).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}
