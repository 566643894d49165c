// Package enrich runs a processing unit through clean, summarize, sentiment,
// metrics and screening.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stockpulse/internal/model"
	"github.com/sells-group/stockpulse/internal/resilience"
)

// Stage names.
const (
	StageClean     = "clean"
	StageSummarize = "summarize"
	StageScore     = "score"
	StageMetrics   = "metrics"
	StageScreen    = "screen"
)

// MetricsProvider fetches external financial metrics for a company.
type MetricsProvider interface {
	Fetch(ctx context.Context, company model.CompanyKey) (model.MetricsSnapshot, error)
}

// StageError is a failure of one stage for one unit.
type StageError struct {
	Stage string
	Kind  model.FailureKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("enrich: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is the outcome of enriching one unit. Unit is nil when the unit was
// aborted. Failure is set both for aborted units and for degraded ones
// (Unit != nil), where a stage fell back to a conservative default.
type Result struct {
	Unit    *model.EnrichedUnit
	Failure *StageError
}

// Aborted reports whether the unit produced no EnrichedUnit.
func (r Result) Aborted() bool { return r.Unit == nil }

// Deps are the capabilities the chain calls.
type Deps struct {
	Cleaner    Cleaner
	Summarizer Summarizer
	Scorer     SentimentScorer
	Metrics    MetricsProvider
	// Observe, when set, receives each stage's duration.
	Observe func(stage string, d time.Duration)
}

// Config controls the chain.
type Config struct {
	// SummaryMinChars is the combined length below which the cleaned text is
	// used as the summary without calling the Summarizer.
	SummaryMinChars int
	// StageTimeout bounds every capability call.
	StageTimeout time.Duration
}

// Chain enriches processing units. It is safe for concurrent use when its
// capabilities are.
type Chain struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// NewChain creates a Chain.
func NewChain(deps Deps, cfg Config) *Chain {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}
	return &Chain{deps: deps, cfg: cfg, now: time.Now}
}

// Enrich runs the stages in order. A clean, summarize or score failure aborts
// the unit. A metrics failure degrades it: empty snapshot and a false
// screening verdict.
func (c *Chain) Enrich(ctx context.Context, unit model.ProcessingUnit) Result {
	log := zap.L().With(zap.String("company", unit.Company), zap.String("month", unit.Month))

	cleaned, err := c.clean(ctx, unit.Posts)
	if err != nil {
		return c.abort(log, StageClean, err)
	}

	summary, err := c.summarize(ctx, cleaned)
	if err != nil {
		return c.abort(log, StageSummarize, err)
	}

	score, err := c.score(ctx, cleaned)
	if err != nil {
		return c.abort(log, StageScore, err)
	}

	out := &model.EnrichedUnit{
		ProcessingUnit: unit,
		Summary:        summary,
		SentimentScore: score,
	}

	var failure *StageError
	start := c.now()
	snap, err := timed(ctx, c.cfg.StageTimeout, func(ctx context.Context) (model.MetricsSnapshot, error) {
		return c.deps.Metrics.Fetch(ctx, unit.Company)
	})
	c.observe(StageMetrics, start)
	if err != nil {
		failure = &StageError{Stage: StageMetrics, Kind: model.FailureExternalService, Err: err}
		out.Degraded = append(out.Degraded, StageMetrics)
		out.Metrics = model.MetricsSnapshot{FetchedAt: c.now()}
		log.Warn("enrich: metrics unavailable, screening fails closed",
			zap.String("class", resilience.ClassifyError(err)),
			zap.Error(err),
		)
	} else {
		out.Metrics = snap
	}

	start = c.now()
	out.ScreeningVerdict = Screen(out.Metrics.Fields)
	c.observe(StageScreen, start)

	log.Debug("enrich: unit done",
		zap.Int("posts", len(unit.Posts)),
		zap.Int("sentiment", out.SentimentScore),
		zap.Bool("verdict", out.ScreeningVerdict),
	)
	return Result{Unit: out, Failure: failure}
}

func (c *Chain) abort(log *zap.Logger, stage string, err error) Result {
	log.Warn("enrich: unit aborted", zap.String("stage", stage), zap.Error(err))
	return Result{Failure: &StageError{Stage: stage, Kind: model.FailureEnrichment, Err: err}}
}

// clean returns the non-empty cleaned bodies in post order.
func (c *Chain) clean(ctx context.Context, posts []model.Post) ([]string, error) {
	defer c.observe(StageClean, c.now())

	out := make([]string, 0, len(posts))
	for _, p := range posts {
		text, err := timed(ctx, c.cfg.StageTimeout, func(ctx context.Context) (string, error) {
			return c.deps.Cleaner.Clean(ctx, p.Body)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "post %d", p.ID)
		}
		if text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

func (c *Chain) summarize(ctx context.Context, cleaned []string) (string, error) {
	defer c.observe(StageSummarize, c.now())

	joined := strings.Join(cleaned, " ")
	if len([]rune(joined)) < c.cfg.SummaryMinChars {
		return joined, nil
	}
	return timed(ctx, c.cfg.StageTimeout, func(ctx context.Context) (string, error) {
		return c.deps.Summarizer.Summarize(ctx, cleaned)
	})
}

func (c *Chain) score(ctx context.Context, cleaned []string) (int, error) {
	defer c.observe(StageScore, c.now())

	scores := make([]int, 0, len(cleaned))
	for _, text := range cleaned {
		s, err := timed(ctx, c.cfg.StageTimeout, func(ctx context.Context) (int, error) {
			return c.deps.Scorer.Score(ctx, text)
		})
		if err != nil {
			return 0, err
		}
		scores = append(scores, clampScore(s))
	}
	return AggregateScores(scores), nil
}

func (c *Chain) observe(stage string, start time.Time) {
	if c.deps.Observe != nil {
		c.deps.Observe(stage, c.now().Sub(start))
	}
}

// timed runs fn under a timeout. A capability that ignores its context still
// has its result discarded once the timeout fires.
func timed[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, eris.Wrap(ctx.Err(), "stage timed out")
	}
}
