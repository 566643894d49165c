// Package eodhd is a small client for the EOD Historical Data fundamentals API.
package eodhd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://eodhd.com"

// Client defines the EODHD operations used by stockpulse.
type Client interface {
	Fundamentals(ctx context.Context, symbol, exchange string) (*Fundamentals, error)
}

// Fundamentals is the subset of the fundamentals payload we read. EODHD
// returns numbers as JSON numbers, numeric strings or null, so leaf values
// stay untyped and are coerced by callers.
type Fundamentals struct {
	General    General        `json:"General"`
	Highlights map[string]any `json:"Highlights"`
	Valuation  map[string]any `json:"Valuation"`
	Financials Financials     `json:"Financials"`
}

// General identifies the listing.
type General struct {
	Code         string `json:"Code"`
	Name         string `json:"Name"`
	Exchange     string `json:"Exchange"`
	CurrencyCode string `json:"CurrencyCode"`
}

// Financials holds the statement tables.
type Financials struct {
	BalanceSheet    Statements `json:"Balance_Sheet"`
	IncomeStatement Statements `json:"Income_Statement"`
	CashFlow        Statements `json:"Cash_Flow"`
}

// Statements are keyed by period end date (YYYY-MM-DD).
type Statements struct {
	Yearly map[string]map[string]any `json:"yearly"`
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("eodhd: status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API host (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) { c.timeout = d }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.hc = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	hc      *http.Client
	rest    *resty.Client
}

// NewClient creates an EODHD client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		timeout: 20 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}

	if c.hc != nil {
		c.rest = resty.NewWithClient(c.hc)
	} else {
		c.rest = resty.New()
	}
	c.rest.SetBaseURL(c.baseURL).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json")
	return c
}

// Fundamentals fetches /api/fundamentals/{symbol}.{exchange}.
func (c *httpClient) Fundamentals(ctx context.Context, symbol, exchange string) (*Fundamentals, error) {
	if symbol == "" {
		return nil, eris.New("eodhd: symbol is required")
	}

	var out Fundamentals
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("ticker", symbol+"."+exchange).
		SetQueryParams(map[string]string{
			"api_token": c.apiKey,
			"fmt":       "json",
		}).
		SetResult(&out).
		Get("/api/fundamentals/{ticker}")
	if err != nil {
		return nil, eris.Wrapf(err, "eodhd: fundamentals %s.%s", symbol, exchange)
	}
	if resp.IsError() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 200)}
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
