// Package aggregate turns a paginated thread feed into (company, month)
// processing units.
package aggregate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/stockpulse/internal/model"
)

// ErrFeedUnavailable means the first page of the feed could not be fetched,
// so nothing at all could be aggregated.
var ErrFeedUnavailable = eris.New("aggregate: feed unavailable")

// Resolver maps a thread title to a company key.
type Resolver interface {
	Resolve(title string) model.CompanyKey
}

// Config controls pagination and grouping.
type Config struct {
	MaxPages        int
	PostConcurrency int
	// DiscardUnresolved drops threads whose title resolves to "" instead of
	// grouping them under the empty company.
	DiscardUnresolved bool
}

// Stats counts what happened during one aggregation.
type Stats struct {
	Pages               int  `json:"pages"`
	Threads             int  `json:"threads"`
	Posts               int  `json:"posts"`
	DroppedPosts        int  `json:"dropped_posts"`
	FailedThreads       int  `json:"failed_threads"`
	DiscardedUnresolved int  `json:"discarded_unresolved"`
	Units               int  `json:"units"`
	Truncated           bool `json:"truncated"`
}

// Result is the output of Aggregate.
type Result struct {
	Units []model.ProcessingUnit
	Stats Stats
}

// Aggregator groups forum posts into processing units.
type Aggregator struct {
	feed     ThreadFeed
	resolver Resolver
	cfg      Config
}

// New creates an Aggregator.
func New(feed ThreadFeed, resolver Resolver, cfg Config) *Aggregator {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.PostConcurrency <= 0 {
		cfg.PostConcurrency = 1
	}
	return &Aggregator{feed: feed, resolver: resolver, cfg: cfg}
}

// Aggregate is Fetch followed by Group.
func (a *Aggregator) Aggregate(ctx context.Context) (*Result, error) {
	batch, err := a.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return a.Group(batch), nil
}

// Batch is the feed content gathered by Fetch, in feed order.
type Batch struct {
	threads []fetchedThread
	stats   Stats
}

type fetchedThread struct {
	thread model.Thread
	key    model.CompanyKey
	// posts is nil when the thread was discarded or its fetch failed.
	posts *threadPosts
}

// Fetch pages through the feed until an empty page, a page error or
// MaxPages. Only a failure on the very first page is returned as an error
// (ErrFeedUnavailable). Cancelling ctx stops pagination and returns what was
// fetched so far.
func (a *Aggregator) Fetch(ctx context.Context) (*Batch, error) {
	log := zap.L().With(zap.String("component", "aggregate"))
	batch := &Batch{}

	for page := 0; page < a.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			log.Warn("aggregate: cancelled, returning partial result", zap.Int("page", page))
			batch.stats.Truncated = true
			break
		}

		threads, err := a.feed.ListPage(ctx, page)
		if err != nil {
			if page == 0 {
				return nil, eris.Wrapf(ErrFeedUnavailable, "list page 0: %v", err)
			}
			log.Warn("aggregate: page fetch failed, truncating",
				zap.Int("page", page),
				zap.Error(err),
			)
			batch.stats.Truncated = true
			break
		}
		batch.stats.Pages++

		if len(threads) == 0 {
			log.Debug("aggregate: end of feed", zap.Int("page", page))
			break
		}
		batch.stats.Threads += len(threads)

		keys := make([]model.CompanyKey, len(threads))
		for i, th := range threads {
			keys[i] = a.resolver.Resolve(th.Title)
		}

		posts := a.fetchPosts(ctx, threads, keys)
		for i, th := range threads {
			batch.threads = append(batch.threads, fetchedThread{thread: th, key: keys[i], posts: posts[i]})
		}

		log.Debug("aggregate: page done",
			zap.Int("page", page),
			zap.Int("threads", len(threads)),
		)
	}
	return batch, nil
}

// Group buckets a fetched batch into one unit per non-empty (company, month)
// in first-seen order.
func (a *Aggregator) Group(batch *Batch) *Result {
	log := zap.L().With(zap.String("component", "aggregate"))
	b := newBuckets()
	stats := batch.stats

	for _, ft := range batch.threads {
		if ft.key == "" && a.cfg.DiscardUnresolved {
			stats.DiscardedUnresolved++
			log.Debug("aggregate: unresolved title discarded",
				zap.Int64("thread_id", ft.thread.ID),
				zap.String("title", ft.thread.Title),
			)
			continue
		}
		if ft.posts == nil {
			stats.FailedThreads++
			continue
		}
		for _, p := range ft.posts.posts {
			stats.Posts++
			if !p.HasTimestamp() {
				stats.DroppedPosts++
				continue
			}
			b.add(ft.key, model.MonthOf(p.CreatedAt), p)
		}
	}

	stats.Units = len(b.units)
	log.Info("aggregate: complete",
		zap.Int("pages", stats.Pages),
		zap.Int("threads", stats.Threads),
		zap.Int("posts", stats.Posts),
		zap.Int("dropped_posts", stats.DroppedPosts),
		zap.Int("failed_threads", stats.FailedThreads),
		zap.Int("units", stats.Units),
	)

	return &Result{Units: b.units, Stats: stats}
}

type threadPosts struct {
	posts []model.Post
}

// fetchPosts fetches the posts of every kept thread concurrently. A nil entry
// marks a thread that was skipped or whose fetch failed.
func (a *Aggregator) fetchPosts(ctx context.Context, threads []model.Thread, keys []model.CompanyKey) []*threadPosts {
	out := make([]*threadPosts, len(threads))

	g := new(errgroup.Group)
	g.SetLimit(a.cfg.PostConcurrency)
	for i, th := range threads {
		if keys[i] == "" && a.cfg.DiscardUnresolved {
			continue
		}
		g.Go(func() error {
			posts, err := a.feed.ListPosts(ctx, th.ID)
			if err != nil {
				// Don't abort the page on an individual thread failure.
				zap.L().Warn("aggregate: post fetch failed, skipping thread",
					zap.Int64("thread_id", th.ID),
					zap.String("company", keys[i]),
					zap.Error(err),
				)
				return nil
			}
			out[i] = &threadPosts{posts: posts}
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// buckets keeps units in first-seen order.
type buckets struct {
	index map[model.UnitKey]int
	units []model.ProcessingUnit
}

func newBuckets() *buckets {
	return &buckets{index: make(map[model.UnitKey]int)}
}

func (b *buckets) add(company model.CompanyKey, month model.MonthBucket, p model.Post) {
	key := model.UnitKey{Company: company, Month: month}
	i, ok := b.index[key]
	if !ok {
		i = len(b.units)
		b.index[key] = i
		b.units = append(b.units, model.ProcessingUnit{Company: company, Month: month})
	}
	b.units[i].Posts = append(b.units[i].Posts, p)
}
