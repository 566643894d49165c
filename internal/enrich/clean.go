package enrich

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// Cleaner normalizes a raw post body into plain text.
type Cleaner interface {
	Clean(ctx context.Context, text string) (string, error)
}

var (
	urlPattern     = regexp.MustCompile(`(?i)https?://\S+|www\.\S+`)
	specialPattern = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?]+`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// blockSelectors get a trailing space so adjacent blocks don't fuse words.
const blockSelectors = "p, li, div, h1, h2, h3, h4, h5, h6, blockquote, tr, td, th, pre"

// HTMLCleaner turns Discourse "cooked" HTML into lower-case plain text with
// URLs and special characters removed.
type HTMLCleaner struct {
	// KeepQuotes keeps quoted replies (aside.quote) instead of dropping them.
	KeepQuotes bool
}

// Clean implements Cleaner.
func (c HTMLCleaner) Clean(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return "", eris.Wrap(err, "enrich: parse post html")
	}

	doc.Find("script, style, .lightbox-wrapper .meta").Remove()
	if !c.KeepQuotes {
		doc.Find("aside.quote").Remove()
	}
	doc.Find("br").ReplaceWithHtml(" ")
	doc.Find(blockSelectors).AppendHtml(" ")

	return normalizeText(doc.Text()), nil
}

// normalizeText applies NFKC, lower-casing, URL and special-character
// removal, and whitespace collapsing.
func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = urlPattern.ReplaceAllString(s, " ")
	s = specialPattern.ReplaceAllString(s, " ")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
