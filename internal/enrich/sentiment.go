package enrich

import (
	"context"
	"math"
	"strings"
)

// Sentiment score bounds.
const (
	MinScore     = 1
	MaxScore     = 100
	NeutralScore = 50
)

// SentimentScorer scores one cleaned text on a 1..100 scale.
type SentimentScorer interface {
	Score(ctx context.Context, text string) (int, error)
}

// AggregateScores combines per-post scores into the unit score: the floor
// of the mean, clamped to [1,100]. No scores yields NeutralScore.
func AggregateScores(scores []int) int {
	if len(scores) == 0 {
		return NeutralScore
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	mean := int(math.Floor(float64(sum) / float64(len(scores))))
	return clampScore(mean)
}

func clampScore(s int) int {
	return max(MinScore, min(MaxScore, s))
}

var (
	positiveWords = map[string]bool{
		"growth": true, "profit": true, "profits": true, "strong": true,
		"improve": true, "improved": true, "positive": true, "gain": true,
		"gains": true, "beat": true, "upgrade": true, "expansion": true,
		"bullish": true, "outperform": true, "record": true,
	}
	negativeWords = map[string]bool{
		"loss": true, "losses": true, "decline": true, "risk": true,
		"weak": true, "negative": true, "drop": true, "downgrade": true,
		"debt": true, "fraud": true, "bearish": true, "miss": true,
		"slowdown": true, "pledge": true, "underperform": true,
	}
)

// LexiconScorer is the offline scorer. It counts financial positive and
// negative words: 50 + 50*(p-n)/(p+n), so all-positive text scores 100 and
// text without lexicon words scores 50.
type LexiconScorer struct{}

// Score implements SentimentScorer.
func (LexiconScorer) Score(ctx context.Context, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var pos, neg int
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	}) {
		w = strings.ToLower(w)
		switch {
		case positiveWords[w]:
			pos++
		case negativeWords[w]:
			neg++
		}
	}
	if pos+neg == 0 {
		return NeutralScore, nil
	}
	score := 50 + 50*float64(pos-neg)/float64(pos+neg)
	return clampScore(int(math.Round(score))), nil
}
