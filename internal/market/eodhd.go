// Package market fetches the financial metrics used by the quality screen.
package market

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/sells-group/stockpulse/internal/model"
	"github.com/sells-group/stockpulse/internal/resilience"
	"github.com/sells-group/stockpulse/pkg/eodhd"
)

// Provider fetches a metrics snapshot for a company.
type Provider interface {
	Fetch(ctx context.Context, company model.CompanyKey) (model.MetricsSnapshot, error)
}

// EODHDProvider derives screening metrics from EODHD fundamentals.
type EODHDProvider struct {
	client   eodhd.Client
	symbols  *SymbolMapper
	exchange string
	policy   resilience.Policy
	now      func() time.Time
}

// NewEODHDProvider creates a provider for listings on exchange.
func NewEODHDProvider(client eodhd.Client, symbols *SymbolMapper, exchange string, policy resilience.Policy) *EODHDProvider {
	return &EODHDProvider{
		client:   client,
		symbols:  symbols,
		exchange: exchange,
		policy:   policy,
		now:      time.Now,
	}
}

// Fetch implements Provider.
func (p *EODHDProvider) Fetch(ctx context.Context, company model.CompanyKey) (model.MetricsSnapshot, error) {
	symbol := p.symbols.Symbol(company)
	if symbol == "" {
		return model.MetricsSnapshot{}, eris.Errorf("market: no symbol for company %q", company)
	}

	f, err := resilience.CallVal(ctx, p.policy, func(ctx context.Context) (*eodhd.Fundamentals, error) {
		f, err := p.client.Fundamentals(ctx, symbol, p.exchange)
		var se *eodhd.StatusError
		if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
			return nil, resilience.NewTransientError(err, se.StatusCode)
		}
		return f, err
	})
	if err != nil {
		return model.MetricsSnapshot{}, eris.Wrapf(err, "market: eodhd fundamentals for %s", symbol)
	}

	fields := DeriveMetrics(f)
	zap.L().Debug("market: eodhd metrics",
		zap.String("company", company),
		zap.String("symbol", symbol),
		zap.Int("fields", len(fields)),
	)
	return model.MetricsSnapshot{
		Symbol:    symbol,
		Exchange:  p.exchange,
		Fields:    fields,
		FetchedAt: p.now().UTC(),
	}, nil
}

// DeriveMetrics computes the screening fields from a fundamentals payload.
// A field whose inputs are absent or unusable is left out.
func DeriveMetrics(f *eodhd.Fundamentals) map[string]any {
	out := make(map[string]any)
	if f == nil {
		return out
	}

	if pe, ok := number(f.Highlights, "PERatio"); ok && pe > 0 {
		out[model.MetricPE] = pe
	} else if pe, ok := number(f.Valuation, "TrailingPE"); ok && pe > 0 {
		out[model.MetricPE] = pe
	}

	if roe, ok := number(f.Highlights, "ReturnOnEquityTTM"); ok {
		out[model.MetricROE] = roe * 100
	}

	balance := latest(f.Financials.BalanceSheet.Yearly)
	income := latest(f.Financials.IncomeStatement.Yearly)
	cash := latest(f.Financials.CashFlow.Yearly)

	ebit, okEBIT := number(income, "ebit")
	assets, okAssets := number(balance, "totalAssets")
	curLiab, okCur := number(balance, "totalCurrentLiabilities")
	// Non-positive capital employed or equity makes the ratio meaningless,
	// so the field is left out and screens as failing.
	if okEBIT && okAssets && okCur && assets-curLiab > 0 {
		out[model.MetricROCE] = ebit / (assets - curLiab) * 100
	}

	debt, okDebt := totalDebt(balance)
	equity, okEq := number(balance, "totalStockholderEquity")
	if okDebt && okEq && equity > 0 {
		out[model.MetricDE] = debt / equity
	}

	if fcf, ok := number(cash, "freeCashFlow"); ok {
		out[model.MetricFCF] = fcf
	}

	if cagr, ok := revenueCAGR(f.Financials.IncomeStatement.Yearly, 3); ok {
		out[model.MetricCAGR] = cagr * 100
	}
	return out
}

// totalDebt prefers the reported short+long term total and falls back to
// summing whichever of the two parts is present.
func totalDebt(balance map[string]any) (float64, bool) {
	if d, ok := number(balance, "shortLongTermDebtTotal"); ok {
		return d, true
	}
	short, okShort := number(balance, "shortTermDebt")
	long, okLong := number(balance, "longTermDebt")
	return short + long, okShort || okLong
}

// revenueCAGR is the compound annual growth of totalRevenue over years
// periods, ending at the latest period.
func revenueCAGR(yearly map[string]map[string]any, years int) (float64, bool) {
	dates := sortedDates(yearly)
	if len(dates) <= years {
		return 0, false
	}
	end, okEnd := number(yearly[dates[len(dates)-1]], "totalRevenue")
	start, okStart := number(yearly[dates[len(dates)-1-years]], "totalRevenue")
	if !okEnd || !okStart || start <= 0 || end <= 0 {
		return 0, false
	}
	return math.Pow(end/start, 1/float64(years)) - 1, true
}

func latest(yearly map[string]map[string]any) map[string]any {
	dates := sortedDates(yearly)
	if len(dates) == 0 {
		return nil
	}
	return yearly[dates[len(dates)-1]]
}

// sortedDates returns period keys oldest first. Keys are YYYY-MM-DD so the
// lexical order is chronological.
func sortedDates(yearly map[string]map[string]any) []string {
	dates := make([]string, 0, len(yearly))
	for d := range yearly {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

func number(m map[string]any, key string) (float64, bool) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return 0, false
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
