package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Forum      ForumConfig      `yaml:"forum" mapstructure:"forum"`
	Company    CompanyConfig    `yaml:"company" mapstructure:"company"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	EODHD      EODHDConfig      `yaml:"eodhd" mapstructure:"eodhd"`
	Yahoo      YahooConfig      `yaml:"yahoo" mapstructure:"yahoo"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" mapstructure:"retrieval"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Slack      SlackConfig      `yaml:"slack" mapstructure:"slack"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ForumConfig configures the Discourse thread feed.
type ForumConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	Category        string  `yaml:"category" mapstructure:"category"`
	MaxPages        int     `yaml:"max_pages" mapstructure:"max_pages"`
	PostConcurrency int     `yaml:"post_concurrency" mapstructure:"post_concurrency"`
	RequestsPerSec  float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent       string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// CompanyConfig configures company name resolution.
type CompanyConfig struct {
	// Suffixes is ranked: earlier entries win ties.
	Suffixes          []string `yaml:"suffixes" mapstructure:"suffixes"`
	DiscardUnresolved bool     `yaml:"discard_unresolved" mapstructure:"discard_unresolved"`
}

// EnrichConfig configures the per-unit enrichment chain.
type EnrichConfig struct {
	SummaryMinChars   int `yaml:"summary_min_chars" mapstructure:"summary_min_chars"`
	SummaryMaxChars   int `yaml:"summary_max_chars" mapstructure:"summary_max_chars"`
	SentimentMaxChars int `yaml:"sentiment_max_chars" mapstructure:"sentiment_max_chars"`
	StageTimeoutSecs  int `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	LeadSentences     int `yaml:"lead_sentences" mapstructure:"lead_sentences"`
}

// PipelineConfig configures the run orchestrator.
type PipelineConfig struct {
	MaxConcurrentUnits int  `yaml:"max_concurrent_units" mapstructure:"max_concurrent_units"`
	Notify             bool `yaml:"notify" mapstructure:"notify"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// JinaConfig holds Jina embeddings API settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// EODHDConfig holds EODHD fundamentals API settings.
type EODHDConfig struct {
	Key      string            `yaml:"key" mapstructure:"key"`
	BaseURL  string            `yaml:"base_url" mapstructure:"base_url"`
	Exchange string            `yaml:"exchange" mapstructure:"exchange"`
	Symbols  map[string]string `yaml:"symbols" mapstructure:"symbols"`
}

// YahooConfig toggles the Yahoo Finance quote fallback.
type YahooConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Suffix  string `yaml:"suffix" mapstructure:"suffix"`
}

// RetrievalConfig configures the summary index.
type RetrievalConfig struct {
	Dimensions int `yaml:"dimensions" mapstructure:"dimensions"`
	TopK       int `yaml:"top_k" mapstructure:"top_k"`
}

// ResilienceConfig configures retry and circuit breaking for external calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// SlackConfig configures the run digest webhook.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Channel    string `yaml:"channel" mapstructure:"channel"`
}

// DefaultSuffixes is the ranked company suffix list used when none is configured.
var DefaultSuffixes = []string{
	"Limited",
	"Ltd.",
	"Ltd",
	"Industries",
	"Corporation",
	"Corp.",
	"Corp",
	"Inc.",
	"Inc",
	"Pvt",
	"Enterprises",
	"Finance",
	"Bank",
	"Labs",
	"Pharma",
	"Technologies",
	"Motors",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STOCKPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "stockpulse.db")
	v.SetDefault("forum.base_url", "https://forum.valuepickr.com")
	v.SetDefault("forum.category", "c/stock-opportunities/8")
	v.SetDefault("forum.max_pages", 5)
	v.SetDefault("forum.post_concurrency", 4)
	v.SetDefault("forum.requests_per_sec", 2.0)
	v.SetDefault("forum.timeout_secs", 20)
	v.SetDefault("forum.user_agent", "stockpulse/1.0")
	v.SetDefault("company.suffixes", DefaultSuffixes)
	v.SetDefault("company.discard_unresolved", true)
	v.SetDefault("enrich.summary_min_chars", 100)
	v.SetDefault("enrich.summary_max_chars", 3500)
	v.SetDefault("enrich.sentiment_max_chars", 2000)
	v.SetDefault("enrich.stage_timeout_secs", 30)
	v.SetDefault("enrich.lead_sentences", 3)
	v.SetDefault("pipeline.max_concurrent_units", 4)
	v.SetDefault("pipeline.notify", false)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("jina.base_url", "https://api.jina.ai")
	v.SetDefault("jina.model", "jina-embeddings-v3")
	v.SetDefault("eodhd.base_url", "https://eodhd.com")
	v.SetDefault("eodhd.exchange", "NSE")
	v.SetDefault("yahoo.enabled", true)
	v.SetDefault("yahoo.suffix", ".NS")
	v.SetDefault("retrieval.dimensions", 384)
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are "run",
// "ask", "search", "query" and "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	if c.Retrieval.Dimensions < 1 {
		errs = append(errs, "retrieval.dimensions must be > 0")
	}

	switch mode {
	case "run":
		errs = append(errs, c.validateRun()...)
	case "ask":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "search", "query":
	case "serve":
		errs = append(errs, c.validateRun()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRun() []string {
	var errs []string
	if c.Forum.BaseURL == "" {
		errs = append(errs, "forum.base_url is required")
	}
	if c.Forum.MaxPages < 1 {
		errs = append(errs, "forum.max_pages must be >= 1")
	}
	if c.Forum.PostConcurrency < 1 || c.Forum.PostConcurrency > 32 {
		errs = append(errs, "forum.post_concurrency must be between 1 and 32")
	}
	if c.Pipeline.MaxConcurrentUnits < 1 || c.Pipeline.MaxConcurrentUnits > 50 {
		errs = append(errs, "pipeline.max_concurrent_units must be between 1 and 50")
	}
	if c.Enrich.StageTimeoutSecs < 1 {
		errs = append(errs, "enrich.stage_timeout_secs must be >= 1")
	}
	if c.Enrich.SummaryMinChars < 0 {
		errs = append(errs, "enrich.summary_min_chars must be >= 0")
	}
	if len(c.Company.Suffixes) == 0 {
		errs = append(errs, "company.suffixes must not be empty")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
