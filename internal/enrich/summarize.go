package enrich

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Summarizer reduces a unit's cleaned post bodies to one summary.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string) (string, error)
}

// LeadSummarizer is the offline summarizer: it keeps the leading sentences
// of the combined text.
type LeadSummarizer struct {
	Sentences int
	MaxChars  int
}

// Summarize implements Summarizer.
func (s LeadSummarizer) Summarize(ctx context.Context, texts []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n := s.Sentences
	if n <= 0 {
		n = 3
	}

	joined := strings.Join(texts, " ")
	var out []string
	for _, sentence := range splitSentences(joined) {
		out = append(out, sentence)
		if len(out) == n {
			break
		}
	}
	return truncateRunes(strings.Join(out, " "), s.MaxChars), nil
}

// splitSentences splits on ".", "!" or "?" followed by whitespace.
func splitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// truncateRunes cuts s to at most n runes. n <= 0 means no limit.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
