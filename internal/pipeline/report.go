package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/stockpulse/internal/model"
)

// FormatReport renders a human-readable run digest.
func FormatReport(r *model.RunReport) string {
	var b strings.Builder

	title := "Run"
	if r.RunID != "" {
		title = "Run " + r.RunID
	}
	fmt.Fprintf(&b, "# %s\n", title)
	fmt.Fprintf(&b, "Duration: %s\n\n", r.Duration().Round(time.Millisecond))

	b.WriteString("## Feed\n")
	fmt.Fprintf(&b, "- Pages: %d, threads: %d, posts: %d\n", r.Pages, r.Threads, r.Posts)
	if r.DroppedPosts > 0 || r.FailedThreads > 0 || r.DiscardedUnresolved > 0 {
		fmt.Fprintf(&b, "- Dropped posts: %d, failed threads: %d, unresolved threads: %d\n",
			r.DroppedPosts, r.FailedThreads, r.DiscardedUnresolved)
	}
	fmt.Fprintf(&b, "- Units: %d\n\n", r.Units)

	b.WriteString("## Units\n")
	fmt.Fprintf(&b, "- Processed: %d (succeeded %d, failed %d, degraded %d)\n",
		r.Processed, r.Succeeded, r.Failed, r.Degraded)
	if r.Skipped > 0 {
		fmt.Fprintf(&b, "- Skipped: %d\n", r.Skipped)
	}
	if r.FactFailures > 0 || r.IndexFailures > 0 {
		fmt.Fprintf(&b, "- Sink failures: facts %d, index %d\n", r.FactFailures, r.IndexFailures)
	}
	fmt.Fprintf(&b, "- Token usage: %d input, %d output\n\n",
		r.TokenUsage.InputTokens, r.TokenUsage.OutputTokens)

	b.WriteString("## Passing screen\n")
	if len(r.Passed) == 0 {
		b.WriteString("- none\n")
	}
	for _, k := range r.Passed {
		fmt.Fprintf(&b, "- %s (%s)\n", companyLabel(k.Company), k.Month)
	}

	if len(r.Failures) > 0 {
		b.WriteString("\n## Failures\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "- %s %s [%s/%s, %s]: %s\n",
				companyLabel(f.Key.Company), f.Key.Month, f.Stage, f.Kind, f.Class, f.Error)
		}
	}

	return b.String()
}

func companyLabel(c model.CompanyKey) string {
	if c == "" {
		return "(unresolved)"
	}
	return c
}
