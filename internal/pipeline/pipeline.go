// Package pipeline runs the fetch, aggregate, enrich and persist stages for
// one forum snapshot.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/stockpulse/internal/aggregate"
	"github.com/sells-group/stockpulse/internal/enrich"
	"github.com/sells-group/stockpulse/internal/model"
	"github.com/sells-group/stockpulse/internal/resilience"
	"github.com/sells-group/stockpulse/internal/retrieval"
	"github.com/sells-group/stockpulse/internal/store"
)

// Aggregator produces processing units from the forum feed in two steps:
// Fetch reads the feed, Group buckets what was read.
type Aggregator interface {
	Fetch(ctx context.Context) (*aggregate.Batch, error)
	Group(batch *aggregate.Batch) *aggregate.Result
}

// Enricher runs one unit through the enrichment chain.
type Enricher interface {
	Enrich(ctx context.Context, unit model.ProcessingUnit) enrich.Result
}

// FactSink receives structured facts for enriched units.
type FactSink interface {
	UpsertCompany(ctx context.Context, company model.CompanyKey) error
	AddMetrics(ctx context.Context, company model.CompanyKey, metrics map[string]float64) error
	AddSentiment(ctx context.Context, company model.CompanyKey, month model.MonthBucket, score int) error
}

// Indexer receives unit summaries for retrieval.
type Indexer interface {
	Upsert(ctx context.Context, key model.UnitKey, text string) error
}

// Notifier is told about every completed run.
type Notifier interface {
	Notify(ctx context.Context, report *model.RunReport) error
}

// Deps are the pipeline's collaborators. Facts, Index, Runs, Notifier,
// Usage and Metrics are optional.
type Deps struct {
	Aggregator Aggregator
	Enricher   Enricher
	Facts      FactSink
	Index      Indexer
	Runs       store.RunStore
	Notifier   Notifier
	// Usage reports LLM token totals for the run report.
	Usage   func() model.TokenUsage
	Metrics *Metrics
}

// Config controls the worker pool.
type Config struct {
	MaxConcurrentUnits int
}

// Pipeline orchestrates one run.
type Pipeline struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// New creates a Pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	if cfg.MaxConcurrentUnits <= 0 {
		cfg.MaxConcurrentUnits = 1
	}
	return &Pipeline{deps: deps, cfg: cfg, now: time.Now}
}

// Run executes a full pass. Only an unreachable feed or a failure to create
// the run record is returned as an error; every unit-level failure is
// contained and counted in the report. Cancelling ctx stops dispatching new
// units; units already running finish and are persisted.
func (p *Pipeline) Run(ctx context.Context) (*model.RunReport, error) {
	log := zap.L().With(zap.String("component", "pipeline"))
	report := &model.RunReport{StartedAt: p.now().UTC()}

	var runID string
	if p.deps.Runs != nil {
		run, err := p.deps.Runs.CreateRun(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		runID = run.ID
		report.RunID = runID
		log = log.With(zap.String("run_id", runID))
	}
	log.Info("pipeline: starting run")

	p.setStatus(ctx, log, runID, model.RunStatusFetching)
	batch, err := p.deps.Aggregator.Fetch(ctx)
	if err != nil {
		report.FinishedAt = p.now().UTC()
		p.fail(log, runID, err)
		return report, eris.Wrap(err, "pipeline: aggregate")
	}

	p.setStatus(ctx, log, runID, model.RunStatusAggregating)
	res := p.deps.Aggregator.Group(batch)
	applyStats(report, res.Stats)
	log.Info("pipeline: aggregated",
		zap.Int("threads", res.Stats.Threads),
		zap.Int("posts", res.Stats.Posts),
		zap.Int("units", len(res.Units)),
	)

	p.setStatus(ctx, log, runID, model.RunStatusEnriching)
	rec := &recorder{report: report, metrics: p.deps.Metrics}
	// Units persist as soon as they are enriched, so the run is persisting
	// once the last enrichment returns and only sink writes remain.
	p.processUnits(ctx, res.Units, rec, func() {
		p.setStatus(context.WithoutCancel(ctx), log, runID, model.RunStatusPersisting)
	})

	rec.finish()
	if p.deps.Usage != nil {
		report.TokenUsage = p.deps.Usage()
	}
	report.FinishedAt = p.now().UTC()

	// The run record and notification still go out when ctx was cancelled.
	finalCtx := context.WithoutCancel(ctx)
	if p.deps.Runs != nil {
		if err := p.deps.Runs.UpdateRunReport(finalCtx, runID, report); err != nil {
			log.Warn("pipeline: failed to store run report", zap.Error(err))
		}
	}
	p.deps.Metrics.run(string(model.RunStatusComplete))

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.Notify(finalCtx, report); err != nil {
			log.Warn("pipeline: notify failed", zap.Error(err))
		}
	}

	log.Info("pipeline: run complete",
		zap.Int("processed", report.Processed),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("degraded", report.Degraded),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration()),
	)
	return report, nil
}

// processUnits enriches and persists units on a bounded pool. Dispatch stops
// at cancellation; a unit whose slot opens after cancellation is skipped.
// enrichedAll runs once, when no unit is left to enrich.
func (p *Pipeline) processUnits(ctx context.Context, units []model.ProcessingUnit, rec *recorder, enrichedAll func()) {
	work := context.WithoutCancel(ctx)

	var pending atomic.Int64
	pending.Store(int64(len(units)))
	settle := func(n int) {
		if pending.Add(-int64(n)) == 0 {
			enrichedAll()
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.MaxConcurrentUnits)

	for i, unit := range units {
		if ctx.Err() != nil {
			rec.skip(len(units) - i)
			settle(len(units) - i)
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				rec.skip(1)
				settle(1)
				return nil
			}
			p.processUnit(work, unit, rec, func() { settle(1) })
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) processUnit(ctx context.Context, unit model.ProcessingUnit, rec *recorder, enriched func()) {
	res := p.deps.Enricher.Enrich(ctx, unit)
	enriched()
	if res.Aborted() {
		rec.failed(unit.Key(), res.Failure)
		return
	}
	rec.succeeded(res.Unit, res.Failure)
	p.persist(ctx, res.Unit, rec)
}

// persist writes facts and the retrieval document. The sinks are independent:
// a failure in one does not stop the other.
func (p *Pipeline) persist(ctx context.Context, eu *model.EnrichedUnit, rec *recorder) {
	key := eu.Key()
	log := zap.L().With(zap.String("company", key.Company), zap.String("month", key.Month))

	if p.deps.Facts != nil {
		if err := p.writeFacts(ctx, eu); err != nil {
			log.Warn("pipeline: fact sink failed", zap.Error(err))
			rec.sinkFailed(SinkFacts, key, model.FailurePersist, err)
		}
	}

	if p.deps.Index != nil {
		if err := p.deps.Index.Upsert(ctx, key, eu.Summary); err != nil {
			kind := model.FailurePersist
			// Only a broken index invariant yields this; re-upserts replace.
			if errors.Is(err, retrieval.ErrIndexConsistency) {
				kind = model.FailureIndexConsistency
				log.Error("pipeline: index consistency violation", zap.Error(err))
			} else {
				log.Warn("pipeline: index sink failed", zap.Error(err))
			}
			rec.sinkFailed(SinkIndex, key, kind, err)
		}
	}
}

func (p *Pipeline) writeFacts(ctx context.Context, eu *model.EnrichedUnit) error {
	if err := p.deps.Facts.UpsertCompany(ctx, eu.Company); err != nil {
		return err
	}
	if err := p.deps.Facts.AddMetrics(ctx, eu.Company, enrich.NumericFields(eu.Metrics.Fields)); err != nil {
		return err
	}
	return p.deps.Facts.AddSentiment(ctx, eu.Company, eu.Month, eu.SentimentScore)
}

func (p *Pipeline) setStatus(ctx context.Context, log *zap.Logger, runID string, status model.RunStatus) {
	if p.deps.Runs == nil {
		return
	}
	if err := p.deps.Runs.UpdateRunStatus(ctx, runID, status); err != nil {
		log.Warn("pipeline: failed to update status", zap.String("status", string(status)), zap.Error(err))
	}
}

func (p *Pipeline) fail(log *zap.Logger, runID string, cause error) {
	log.Error("pipeline: run failed", zap.Error(cause))
	p.deps.Metrics.run(string(model.RunStatusFailed))
	if p.deps.Runs == nil {
		return
	}
	if err := p.deps.Runs.FailRun(context.Background(), runID, cause.Error()); err != nil {
		log.Warn("pipeline: failed to record run failure", zap.Error(err))
	}
}

func applyStats(r *model.RunReport, s aggregate.Stats) {
	r.Pages = s.Pages
	r.Threads = s.Threads
	r.Posts = s.Posts
	r.DroppedPosts = s.DroppedPosts
	r.FailedThreads = s.FailedThreads
	r.DiscardedUnresolved = s.DiscardedUnresolved
	r.Units = s.Units
}

// recorder collects unit outcomes from concurrent workers.
type recorder struct {
	mu      sync.Mutex
	report  *model.RunReport
	metrics *Metrics
}

func (r *recorder) skip(n int) {
	r.mu.Lock()
	r.report.Skipped += n
	r.mu.Unlock()
	r.metrics.skipped(n)
}

func (r *recorder) failed(key model.UnitKey, f *enrich.StageError) {
	r.mu.Lock()
	r.report.Processed++
	r.report.Failed++
	r.report.Failures = append(r.report.Failures, unitFailure(key, f.Stage, f.Kind, f.Err))
	r.mu.Unlock()
	r.metrics.unit(OutcomeFailed)
}

func (r *recorder) succeeded(eu *model.EnrichedUnit, degraded *enrich.StageError) {
	outcome := OutcomeSucceeded

	r.mu.Lock()
	r.report.Processed++
	r.report.Succeeded++
	if degraded != nil {
		outcome = OutcomeDegraded
		r.report.Degraded++
		r.report.Failures = append(r.report.Failures, unitFailure(eu.Key(), degraded.Stage, degraded.Kind, degraded.Err))
	}
	if eu.ScreeningVerdict {
		r.report.Passed = append(r.report.Passed, eu.Key())
	}
	r.mu.Unlock()
	r.metrics.unit(outcome)
}

func (r *recorder) sinkFailed(sink string, key model.UnitKey, kind model.FailureKind, err error) {
	r.mu.Lock()
	switch sink {
	case SinkFacts:
		r.report.FactFailures++
	case SinkIndex:
		r.report.IndexFailures++
	}
	r.report.Failures = append(r.report.Failures, unitFailure(key, "persist:"+sink, kind, err))
	r.mu.Unlock()
	r.metrics.sinkFailure(sink)
}

// finish orders the collected keys so reports are stable across runs.
func (r *recorder) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	slices.SortFunc(r.report.Passed, compareKeys)
	slices.SortStableFunc(r.report.Failures, func(a, b model.UnitFailure) int {
		return compareKeys(a.Key, b.Key)
	})
}

func compareKeys(a, b model.UnitKey) int {
	if c := cmp.Compare(a.Company, b.Company); c != 0 {
		return c
	}
	return cmp.Compare(a.Month, b.Month)
}

func unitFailure(key model.UnitKey, stage string, kind model.FailureKind, err error) model.UnitFailure {
	return model.UnitFailure{
		Key:   key,
		Stage: stage,
		Kind:  kind,
		Class: resilience.ClassifyError(err),
		Error: err.Error(),
	}
}
