package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stockpulse/internal/aggregate"
	"github.com/sells-group/stockpulse/internal/company"
	"github.com/sells-group/stockpulse/internal/config"
	"github.com/sells-group/stockpulse/internal/enrich"
	"github.com/sells-group/stockpulse/internal/market"
	"github.com/sells-group/stockpulse/internal/notify"
	"github.com/sells-group/stockpulse/internal/pipeline"
	"github.com/sells-group/stockpulse/internal/resilience"
	"github.com/sells-group/stockpulse/internal/retrieval"
	"github.com/sells-group/stockpulse/internal/store"
	anthropicpkg "github.com/sells-group/stockpulse/pkg/anthropic"
	"github.com/sells-group/stockpulse/pkg/discourse"
	"github.com/sells-group/stockpulse/pkg/eodhd"
	"github.com/sells-group/stockpulse/pkg/jina"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// policies builds one resilience policy per external service, sharing a
// breaker registry.
type policies struct {
	retry    resilience.RetryConfig
	breakers *resilience.ServiceBreakers
	timeout  time.Duration
}

func newPolicies(c *config.Config) *policies {
	r := c.Resilience
	s := resilience.Settings{
		MaxAttempts:      r.MaxAttempts,
		InitialBackoff:   time.Duration(r.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:       time.Duration(r.MaxBackoffMs) * time.Millisecond,
		Multiplier:       r.Multiplier,
		JitterFraction:   r.JitterFraction,
		FailureThreshold: r.FailureThreshold,
		ResetTimeout:     time.Duration(r.ResetTimeoutSecs) * time.Second,
	}
	return &policies{
		retry:    s.Retry(),
		breakers: s.Breakers(),
		timeout:  time.Duration(c.Enrich.StageTimeoutSecs) * time.Second,
	}
}

func (p *policies) get(service string) resilience.Policy {
	return resilience.NewPolicy(service, p.retry, p.breakers, p.timeout)
}

// single is for clients that already retry internally.
func (p *policies) single(service string) resilience.Policy {
	retry := p.retry
	retry.MaxAttempts = 1
	return resilience.NewPolicy(service, retry, p.breakers, p.timeout)
}

// newIndex builds the retrieval store and restores persisted documents.
func newIndex(ctx context.Context, st store.Store, pol *policies) (*retrieval.Store, error) {
	var embedder retrieval.Embedder
	if cfg.Jina.Key != "" {
		client := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL), jina.WithModel(cfg.Jina.Model))
		embedder = retrieval.NewJinaEmbedder(client, cfg.Retrieval.Dimensions, pol.single("jina"))
	} else {
		zap.L().Warn("STOCKPULSE_JINA_KEY not set, using local hash embeddings")
		embedder = retrieval.HashEmbedder{Dimensions: cfg.Retrieval.Dimensions}
	}

	var generator retrieval.Generator
	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		generator = retrieval.NewClaudeGenerator(client, cfg.Anthropic.SonnetModel, int64(cfg.Anthropic.MaxTokens), pol.get("anthropic"))
	}

	idx := retrieval.New(embedder, generator, retrieval.Options{
		Repository: st,
		Dimensions: cfg.Retrieval.Dimensions,
	})
	n, err := idx.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load index")
	}
	zap.L().Info("retrieval index loaded", zap.Int("documents", n))
	return idx, nil
}

// runEnv holds everything the run and serve commands need.
type runEnv struct {
	Store    store.Store
	Index    *retrieval.Store
	Pipeline *pipeline.Pipeline
	Registry *prometheus.Registry
}

// Close releases resources held by the environment.
func (e *runEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initPipeline sets up the store, index, clients and pipeline. Callers should
// defer env.Close().
func initPipeline(ctx context.Context, mode string) (*runEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	pol := newPolicies(cfg)
	idx, err := newIndex(ctx, st, pol)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewMetrics(reg)

	forum := discourse.NewClient(cfg.Forum.BaseURL,
		discourse.WithUserAgent(cfg.Forum.UserAgent),
		discourse.WithRateLimit(cfg.Forum.RequestsPerSec),
		discourse.WithTimeout(time.Duration(cfg.Forum.TimeoutSecs)*time.Second),
	)
	agg := aggregate.New(
		aggregate.NewDiscourseFeed(forum, cfg.Forum.Category, pol.get("forum")),
		company.NewResolver(cfg.Company.Suffixes),
		aggregate.Config{
			MaxPages:          cfg.Forum.MaxPages,
			PostConcurrency:   cfg.Forum.PostConcurrency,
			DiscardUnresolved: cfg.Company.DiscardUnresolved,
		},
	)

	usage := &enrich.UsageTracker{}
	deps := enrich.Deps{
		Cleaner: enrich.HTMLCleaner{},
		Metrics: newMetricsProvider(pol),
		Observe: metrics.ObserveStage,
	}
	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		deps.Summarizer = enrich.NewClaudeSummarizer(client, enrich.ClaudeConfig{
			Model:         cfg.Anthropic.HaikuModel,
			MaxTokens:     int64(cfg.Anthropic.MaxTokens),
			MaxInputChars: cfg.Enrich.SummaryMaxChars,
		}, pol.get("anthropic"), usage)
		deps.Scorer = enrich.NewClaudeScorer(client, enrich.ClaudeConfig{
			Model:         cfg.Anthropic.HaikuModel,
			MaxTokens:     64,
			MaxInputChars: cfg.Enrich.SentimentMaxChars,
		}, pol.get("anthropic"), usage)
	} else {
		zap.L().Warn("STOCKPULSE_ANTHROPIC_KEY not set, using lead-sentence summaries and lexicon sentiment")
		deps.Summarizer = enrich.LeadSummarizer{Sentences: cfg.Enrich.LeadSentences, MaxChars: cfg.Enrich.SummaryMaxChars}
		deps.Scorer = enrich.LexiconScorer{}
	}
	chain := enrich.NewChain(deps, enrich.Config{
		SummaryMinChars: cfg.Enrich.SummaryMinChars,
		StageTimeout:    time.Duration(cfg.Enrich.StageTimeoutSecs) * time.Second,
	})

	var notifier pipeline.Notifier
	if cfg.Pipeline.Notify && cfg.Slack.WebhookURL != "" {
		notifier = notify.NewSlackNotifier(cfg.Slack.WebhookURL, notify.WithChannel(cfg.Slack.Channel))
	}

	p := pipeline.New(pipeline.Deps{
		Aggregator: agg,
		Enricher:   chain,
		Facts:      st,
		Index:      idx,
		Runs:       st,
		Notifier:   notifier,
		Usage:      usage.Total,
		Metrics:    metrics,
	}, pipeline.Config{MaxConcurrentUnits: cfg.Pipeline.MaxConcurrentUnits})

	return &runEnv{Store: st, Index: idx, Pipeline: p, Registry: reg}, nil
}

// newMetricsProvider stacks EODHD fundamentals over the Yahoo quote fallback.
// With neither configured every fetch fails and units degrade.
func newMetricsProvider(pol *policies) enrich.MetricsProvider {
	symbols := market.NewSymbolMapper(cfg.EODHD.Symbols)

	var providers []market.Provider
	if cfg.EODHD.Key != "" {
		client := eodhd.NewClient(cfg.EODHD.Key, eodhd.WithBaseURL(cfg.EODHD.BaseURL))
		providers = append(providers, market.NewEODHDProvider(client, symbols, cfg.EODHD.Exchange, pol.get("eodhd")))
	}
	if cfg.Yahoo.Enabled {
		providers = append(providers, market.NewYahooProvider(symbols, cfg.Yahoo.Suffix))
	}
	if len(providers) == 0 {
		zap.L().Warn("no market data provider configured, screening will fail closed")
	}
	return market.NewComposite(providers...)
}
