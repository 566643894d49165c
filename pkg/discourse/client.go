// Package discourse provides a read-only client for the Discourse forum JSON API.
package discourse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// postChunkSize is how many post IDs Discourse accepts per posts.json call.
const postChunkSize = 20

// Client defines the Discourse read operations.
type Client interface {
	// Topics returns one page of a category's topic list. Pages start at 0.
	Topics(ctx context.Context, category string, page int) ([]Topic, error)
	// Posts returns every post of a topic in stream order.
	Posts(ctx context.Context, topicID int64) ([]Post, error)
}

// Topic is a thread entry in a category listing.
type Topic struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	CreatedAt  string `json:"created_at"`
	PostsCount int    `json:"posts_count"`
}

// Post is a single post. Cooked is the rendered HTML body.
type Post struct {
	ID        int64  `json:"id"`
	TopicID   int64  `json:"topic_id"`
	Cooked    string `json:"cooked"`
	CreatedAt string `json:"created_at"`
}

type topicListResponse struct {
	TopicList struct {
		Topics []Topic `json:"topics"`
	} `json:"topic_list"`
}

type topicResponse struct {
	PostStream struct {
		Posts  []Post  `json:"posts"`
		Stream []int64 `json:"stream"`
	} `json:"post_stream"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("discourse: unexpected status %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// Option configures the Discourse client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client. Nil keeps the default.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

// WithRateLimit caps requests per second. Zero or less disables limiting.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

// WithTimeout sets the per-request timeout. It is applied after all other
// options, to a copy of the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.timeout = d
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	timeout   time.Duration
}

// NewClient creates a client for the forum at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "stockpulse/1.0",
		limiter:   rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = defaultHTTPClient()
	}
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 20 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func (c *httpClient) Topics(ctx context.Context, category string, page int) ([]Topic, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	reqURL := fmt.Sprintf("%s/%s.json?%s", c.baseURL, strings.Trim(category, "/"), q.Encode())

	var resp topicListResponse
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, eris.Wrapf(err, "discourse: list topics page %d", page)
	}
	return resp.TopicList.Topics, nil
}

func (c *httpClient) Posts(ctx context.Context, topicID int64) ([]Post, error) {
	reqURL := fmt.Sprintf("%s/t/%d.json", c.baseURL, topicID)

	var resp topicResponse
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, eris.Wrapf(err, "discourse: get topic %d", topicID)
	}

	posts := resp.PostStream.Posts
	seen := make(map[int64]bool, len(posts))
	for _, p := range posts {
		seen[p.ID] = true
	}

	// The topic payload embeds only the first chunk of the stream.
	var missing []int64
	for _, id := range resp.PostStream.Stream {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	for start := 0; start < len(missing); start += postChunkSize {
		end := min(start+postChunkSize, len(missing))
		more, err := c.postsByID(ctx, topicID, missing[start:end])
		if err != nil {
			return nil, err
		}
		posts = append(posts, more...)
	}

	return posts, nil
}

func (c *httpClient) postsByID(ctx context.Context, topicID int64, ids []int64) ([]Post, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("post_ids[]", strconv.FormatInt(id, 10))
	}
	reqURL := fmt.Sprintf("%s/t/%d/posts.json?%s", c.baseURL, topicID, q.Encode())

	var resp topicResponse
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, eris.Wrapf(err, "discourse: get posts for topic %d", topicID)
	}
	return resp.PostStream.Posts, nil
}

func (c *httpClient) getJSON(ctx context.Context, reqURL string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return &StatusError{StatusCode: resp.StatusCode, URL: reqURL, Body: snippet}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "parse response")
	}
	return nil
}
