package market

import (
	"context"
	"time"

	"github.com/piquette/finance-go"
	"github.com/piquette/finance-go/equity"
	"github.com/rotisserie/eris"

	"github.com/sells-group/stockpulse/internal/model"
)

// MetricPrice is the last traded price, informational only.
const MetricPrice = "Price"

// YahooProvider reads valuation fields from Yahoo Finance.
type YahooProvider struct {
	symbols *SymbolMapper
	suffix  string
	get     func(symbol string) (*finance.Equity, error)
	now     func() time.Time
}

// NewYahooProvider creates a provider. suffix selects the listing, e.g.
// ".NS" for NSE or ".BO" for BSE.
func NewYahooProvider(symbols *SymbolMapper, suffix string) *YahooProvider {
	return &YahooProvider{symbols: symbols, suffix: suffix, get: equity.Get, now: time.Now}
}

// Fetch implements Provider. finance-go has no context support, so the call
// runs in its own goroutine and is abandoned when ctx ends.
func (p *YahooProvider) Fetch(ctx context.Context, company model.CompanyKey) (model.MetricsSnapshot, error) {
	base := p.symbols.Symbol(company)
	if base == "" {
		return model.MetricsSnapshot{}, eris.Errorf("market: no symbol for company %q", company)
	}
	symbol := base + p.suffix

	type result struct {
		eq  *finance.Equity
		err error
	}
	ch := make(chan result, 1)
	go func() {
		eq, err := p.get(symbol)
		ch <- result{eq, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return model.MetricsSnapshot{}, eris.Wrapf(ctx.Err(), "market: yahoo quote %s", symbol)
	}
	if r.err != nil {
		return model.MetricsSnapshot{}, eris.Wrapf(r.err, "market: yahoo quote %s", symbol)
	}
	if r.eq == nil {
		return model.MetricsSnapshot{}, eris.Errorf("market: yahoo has no quote for %s", symbol)
	}

	fields := make(map[string]any)
	if r.eq.TrailingPE > 0 {
		fields[model.MetricPE] = r.eq.TrailingPE
	}
	if r.eq.RegularMarketPrice > 0 {
		fields[MetricPrice] = r.eq.RegularMarketPrice
	}
	return model.MetricsSnapshot{
		Symbol:    symbol,
		Exchange:  r.eq.FullExchangeName,
		Fields:    fields,
		FetchedAt: p.now().UTC(),
	}, nil
}
