// Package notify posts run digests to Slack.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/sells-group/stockpulse/internal/model"
)

// maxListed caps the passing companies named in one digest.
const maxListed = 20

// SlackNotifier sends a digest to an incoming webhook. With an empty URL it
// does nothing.
type SlackNotifier struct {
	webhookURL string
	channel    string
	httpClient *http.Client
}

// Option configures a SlackNotifier.
type Option func(*SlackNotifier)

// WithChannel overrides the webhook's default channel.
func WithChannel(channel string) Option {
	return func(n *SlackNotifier) { n.channel = channel }
}

// WithHTTPClient sets the client used to post.
func WithHTTPClient(c *http.Client) Option {
	return func(n *SlackNotifier) { n.httpClient = c }
}

// NewSlackNotifier creates a SlackNotifier.
func NewSlackNotifier(webhookURL string, opts ...Option) *SlackNotifier {
	n := &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Notify posts the run digest.
func (n *SlackNotifier) Notify(ctx context.Context, report *model.RunReport) error {
	if n == nil || n.webhookURL == "" {
		return nil
	}

	msg := BuildMessage(report)
	msg.Channel = n.channel
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.httpClient, msg); err != nil {
		return eris.Wrap(err, "notify: post webhook")
	}
	zap.L().Debug("notify: digest sent", zap.String("run_id", report.RunID))
	return nil
}

// BuildMessage renders a run report as a webhook message.
func BuildMessage(r *model.RunReport) *slack.WebhookMessage {
	headline := fmt.Sprintf("stockpulse run: %d units, %d succeeded, %d failed, %d passing the screen",
		r.Processed, r.Succeeded, r.Failed, len(r.Passed))

	var stats strings.Builder
	fmt.Fprintf(&stats, "*Posts:* %d across %d threads\n", r.Posts, r.Threads)
	fmt.Fprintf(&stats, "*Degraded:* %d  *Skipped:* %d\n", r.Degraded, r.Skipped)
	if r.FactFailures > 0 || r.IndexFailures > 0 {
		fmt.Fprintf(&stats, "*Sink failures:* facts %d, index %d\n", r.FactFailures, r.IndexFailures)
	}
	fmt.Fprintf(&stats, "*Duration:* %s", r.Duration().Round(time.Second))

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "stockpulse run digest", false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, stats.String(), false, false), nil, nil),
	}

	if len(r.Passed) > 0 {
		var passed strings.Builder
		passed.WriteString("*Passing the screen*\n")
		for i, k := range r.Passed {
			if i == maxListed {
				fmt.Fprintf(&passed, "_and %d more_", len(r.Passed)-maxListed)
				break
			}
			fmt.Fprintf(&passed, "• %s (%s)\n", k.Company, k.Month)
		}
		blocks = append(blocks,
			slack.NewDividerBlock(),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, passed.String(), false, false), nil, nil),
		)
	}

	if r.RunID != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, "run `"+r.RunID+"`", false, false)))
	}

	return &slack.WebhookMessage{
		Text:   headline,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}
