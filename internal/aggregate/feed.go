package aggregate

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/stockpulse/internal/model"
	"github.com/sells-group/stockpulse/internal/resilience"
	"github.com/sells-group/stockpulse/pkg/discourse"
)

// ThreadFeed is a paginated source of threads and their posts.
type ThreadFeed interface {
	// ListPage returns the threads on page (0-based). An empty slice marks
	// the end of the feed.
	ListPage(ctx context.Context, page int) ([]model.Thread, error)
	// ListPosts returns a thread's posts in feed order.
	ListPosts(ctx context.Context, threadID int64) ([]model.Post, error)
}

// DiscourseFeed adapts a Discourse category to ThreadFeed.
type DiscourseFeed struct {
	client   discourse.Client
	category string
	policy   resilience.Policy
}

// NewDiscourseFeed creates a feed over one forum category. Every call runs
// through policy.
func NewDiscourseFeed(client discourse.Client, category string, policy resilience.Policy) *DiscourseFeed {
	return &DiscourseFeed{client: client, category: category, policy: policy}
}

// ListPage implements ThreadFeed.
func (f *DiscourseFeed) ListPage(ctx context.Context, page int) ([]model.Thread, error) {
	topics, err := resilience.CallVal(ctx, f.policy, func(ctx context.Context) ([]discourse.Topic, error) {
		topics, err := f.client.Topics(ctx, f.category, page)
		return topics, classifyStatus(err)
	})
	if err != nil {
		return nil, err
	}

	threads := make([]model.Thread, 0, len(topics))
	for _, t := range topics {
		threads = append(threads, model.Thread{
			ID:        t.ID,
			Title:     t.Title,
			CreatedAt: parseTimestamp(t.CreatedAt, zap.Int64("thread_id", t.ID)),
		})
	}
	return threads, nil
}

// ListPosts implements ThreadFeed.
func (f *DiscourseFeed) ListPosts(ctx context.Context, threadID int64) ([]model.Post, error) {
	raw, err := resilience.CallVal(ctx, f.policy, func(ctx context.Context) ([]discourse.Post, error) {
		posts, err := f.client.Posts(ctx, threadID)
		return posts, classifyStatus(err)
	})
	if err != nil {
		return nil, err
	}

	posts := make([]model.Post, 0, len(raw))
	for _, p := range raw {
		posts = append(posts, model.Post{
			ID:        p.ID,
			ThreadID:  threadID,
			Body:      p.Cooked,
			CreatedAt: parseTimestamp(p.CreatedAt, zap.Int64("thread_id", threadID), zap.Int64("post_id", p.ID)),
		})
	}
	return posts, nil
}

// classifyStatus marks retryable HTTP statuses as transient.
func classifyStatus(err error) error {
	var se *discourse.StatusError
	if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
		return resilience.NewTransientError(err, se.StatusCode)
	}
	return err
}

// parseTimestamp returns the zero time for missing or malformed values.
func parseTimestamp(s string, fields ...zap.Field) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		zap.L().Debug("aggregate: malformed timestamp",
			append(fields, zap.String("value", s), zap.Error(err))...,
		)
		return time.Time{}
	}
	return ts.UTC()
}
