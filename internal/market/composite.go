package market

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stockpulse/internal/model"
)

// Composite merges several providers. For each field the earliest provider
// that reports it wins. It fails only when every provider fails.
type Composite struct {
	providers []Provider
}

// NewComposite creates a Composite over providers in priority order.
func NewComposite(providers ...Provider) *Composite {
	return &Composite{providers: providers}
}

// Fetch implements Provider.
func (c *Composite) Fetch(ctx context.Context, company model.CompanyKey) (model.MetricsSnapshot, error) {
	if len(c.providers) == 0 {
		return model.MetricsSnapshot{}, eris.New("market: no metrics providers configured")
	}

	var (
		out  model.MetricsSnapshot
		errs []error
		ok   bool
	)
	for _, p := range c.providers {
		snap, err := p.Fetch(ctx, company)
		if err != nil {
			zap.L().Debug("market: provider failed", zap.String("company", company), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if !ok {
			out = model.MetricsSnapshot{
				Symbol:    snap.Symbol,
				Exchange:  snap.Exchange,
				Fields:    make(map[string]any, len(snap.Fields)),
				FetchedAt: snap.FetchedAt,
			}
			ok = true
		}
		for name, v := range snap.Fields {
			if _, seen := out.Fields[name]; !seen {
				out.Fields[name] = v
			}
		}
	}
	if !ok {
		return model.MetricsSnapshot{}, eris.Wrapf(errors.Join(errs...), "market: all providers failed for %q", company)
	}
	return out, nil
}
