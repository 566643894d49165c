package retrieval

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/stockpulse/internal/resilience"
	"github.com/sells-group/stockpulse/pkg/anthropic"
)

const answerSystem = `You answer questions about listed Indian companies using only the
forum discussion summaries given as context. If the context does not contain
the answer, say so briefly.`

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ClaudeGenerator generates answers with the Anthropic Messages API.
type ClaudeGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	policy    resilience.Policy
}

// NewClaudeGenerator creates a generator.
func NewClaudeGenerator(client anthropic.Client, model string, maxTokens int64, policy resilience.Policy) *ClaudeGenerator {
	return &ClaudeGenerator{client: client, model: model, maxTokens: maxTokens, policy: policy}
}

// Generate implements Generator.
func (g *ClaudeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := resilience.CallVal(ctx, g.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     g.model,
			MaxTokens: g.maxTokens,
			System:    answerSystem,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
		if code := anthropic.StatusCode(err); code != 0 && resilience.IsTransientHTTPStatus(code) {
			return nil, resilience.NewTransientError(err, code)
		}
		return resp, err
	})
	if err != nil {
		return "", eris.Wrap(err, "retrieval: claude generate")
	}
	resp.Usage.LogCost(g.model, "answer")

	text := resp.Text()
	if text == "" {
		return "", eris.New("retrieval: empty generation")
	}
	return text, nil
}
