package enrich

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/stockpulse/internal/model"
	"github.com/sells-group/stockpulse/internal/resilience"
	"github.com/sells-group/stockpulse/pkg/anthropic"
)

const summarizeSystem = `You are an equity research assistant. You summarize retail investor forum
discussions about one listed company. Report business developments, financial
results, valuation views and risks that posters raise. Do not add facts that
are not in the discussion. Reply with plain prose only.`

const sentimentSystem = `You rate the sentiment of an investor forum post about a company.
Reply with a JSON object {"score": N} where N is an integer from 1 (very
bearish) to 100 (very bullish) and 50 is neutral.`

// UsageTracker accumulates LLM token usage across concurrent calls.
type UsageTracker struct {
	mu    sync.Mutex
	usage model.TokenUsage
}

// Add records one response's usage.
func (t *UsageTracker) Add(u anthropic.TokenUsage) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.Add(model.TokenUsage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens})
}

// Total returns the usage recorded so far.
func (t *UsageTracker) Total() model.TokenUsage {
	if t == nil {
		return model.TokenUsage{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// ClaudeConfig configures the Claude-backed capabilities.
type ClaudeConfig struct {
	Model     string
	MaxTokens int64
	// MaxInputChars caps the text sent per call.
	MaxInputChars int
}

// ClaudeSummarizer summarizes a unit with the Anthropic Messages API.
type ClaudeSummarizer struct {
	client anthropic.Client
	cfg    ClaudeConfig
	policy resilience.Policy
	usage  *UsageTracker
}

// NewClaudeSummarizer creates a summarizer. usage may be nil.
func NewClaudeSummarizer(client anthropic.Client, cfg ClaudeConfig, policy resilience.Policy, usage *UsageTracker) *ClaudeSummarizer {
	return &ClaudeSummarizer{client: client, cfg: cfg, policy: policy, usage: usage}
}

// Summarize implements Summarizer.
func (s *ClaudeSummarizer) Summarize(ctx context.Context, texts []string) (string, error) {
	input := truncateRunes(strings.Join(texts, "\n\n"), s.cfg.MaxInputChars)
	resp, err := createMessage(ctx, s.client, s.policy, anthropic.MessageRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    summarizeSystem,
		Messages:  []anthropic.Message{{Role: "user", Content: "Summarize this discussion:\n\n" + input}},
	})
	if err != nil {
		return "", eris.Wrap(err, "enrich: claude summarize")
	}
	s.usage.Add(resp.Usage)
	resp.Usage.LogCost(s.cfg.Model, StageSummarize)

	summary := resp.Text()
	if summary == "" {
		return "", eris.New("enrich: claude returned an empty summary")
	}
	return summary, nil
}

// ClaudeScorer scores sentiment with the Anthropic Messages API.
type ClaudeScorer struct {
	client anthropic.Client
	cfg    ClaudeConfig
	policy resilience.Policy
	usage  *UsageTracker
}

// NewClaudeScorer creates a sentiment scorer. usage may be nil.
func NewClaudeScorer(client anthropic.Client, cfg ClaudeConfig, policy resilience.Policy, usage *UsageTracker) *ClaudeScorer {
	return &ClaudeScorer{client: client, cfg: cfg, policy: policy, usage: usage}
}

// Score implements SentimentScorer.
func (s *ClaudeScorer) Score(ctx context.Context, text string) (int, error) {
	temp := 0.0
	resp, err := createMessage(ctx, s.client, s.policy, anthropic.MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		System:      sentimentSystem,
		Messages:    []anthropic.Message{{Role: "user", Content: truncateRunes(text, s.cfg.MaxInputChars)}},
		Temperature: &temp,
	})
	if err != nil {
		return 0, eris.Wrap(err, "enrich: claude score")
	}
	s.usage.Add(resp.Usage)

	var out struct {
		Score *int `json:"score"`
	}
	if err := anthropic.DecodeJSON(resp.Text(), &out); err != nil {
		return 0, eris.Wrap(err, "enrich: claude score")
	}
	if out.Score == nil {
		return 0, eris.New("enrich: claude score: reply has no score")
	}
	return clampScore(*out.Score), nil
}

// createMessage runs one request through policy, marking retryable API
// statuses as transient.
func createMessage(ctx context.Context, client anthropic.Client, policy resilience.Policy, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return resilience.CallVal(ctx, policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := client.CreateMessage(ctx, req)
		if code := anthropic.StatusCode(err); code != 0 && resilience.IsTransientHTTPStatus(code) {
			return nil, resilience.NewTransientError(err, code)
		}
		return resp, err
	})
}
