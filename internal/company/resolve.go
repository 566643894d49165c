// Package company derives canonical company keys from forum thread titles.
package company

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/stockpulse/internal/model"
)

// separators end the company part of a thread title.
const separators = "-~:"

// Resolver maps thread titles to company keys. It is safe for concurrent use.
type Resolver struct {
	suffixes []string
}

// NewResolver creates a resolver over a ranked suffix list. Earlier suffixes
// win when two matches end at the same position. Blank entries are ignored.
func NewResolver(suffixes []string) *Resolver {
	ranked := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		if s = strings.TrimSpace(s); s != "" {
			ranked = append(ranked, s)
		}
	}
	return &Resolver{suffixes: ranked}
}

// Suffixes returns the ranked suffix list in use.
func (r *Resolver) Suffixes() []string {
	return append([]string(nil), r.suffixes...)
}

// Resolve returns the company key for a thread title. It never fails: a
// title with no known suffix is returned in title case, and a blank title
// yields "" (unresolved).
func (r *Resolver) Resolve(title string) model.CompanyKey {
	base := baseSegment(title)
	if base == "" {
		return ""
	}
	if end := r.longestSuffixEnd(base); end > 0 {
		return base[:end]
	}
	// A Caser is stateful and must not be shared between goroutines.
	return cases.Title(language.Und).String(base)
}

// baseSegment keeps the text before the first separator, drops everything
// from the first "(", and normalizes whitespace.
func baseSegment(title string) string {
	if i := strings.IndexAny(title, separators); i >= 0 {
		title = title[:i]
	}
	if i := strings.IndexByte(title, '('); i >= 0 {
		title = title[:i]
	}
	return strings.Join(strings.Fields(title), " ")
}

// longestSuffixEnd returns the byte offset just past the right-most whole-word
// suffix match that has at least one character before it, or 0.
func (r *Resolver) longestSuffixEnd(s string) int {
	best := 0
	for _, suf := range r.suffixes {
		for i := 1; i+len(suf) <= len(s); i++ {
			if !utf8.RuneStart(s[i]) || !strings.EqualFold(s[i:i+len(suf)], suf) {
				continue
			}
			end := i + len(suf)
			// Strictly greater keeps the earlier-ranked suffix on ties.
			if end > best && wordBoundary(s, i, end) {
				best = end
			}
		}
	}
	return best
}

func wordBoundary(s string, start, end int) bool {
	before, _ := utf8.DecodeLastRuneInString(s[:start])
	if isWordRune(before) {
		return false
	}
	if end == len(s) {
		return true
	}
	after, _ := utf8.DecodeRuneInString(s[end:])
	return !isWordRune(after)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
