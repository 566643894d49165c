package enrich

import (
	"github.com/spf13/cast"

	"github.com/sells-group/stockpulse/internal/model"
)

// screenDefaults are the values used for missing fields. Each one fails its
// own clause.
var screenDefaults = map[string]float64{
	model.MetricROCE: 0,
	model.MetricROE:  0,
	model.MetricCAGR: 0,
	model.MetricDE:   1,
	model.MetricPE:   100,
	model.MetricFCF:  0,
}

// Screen reports whether fields pass the quality screen:
//
//	ROCE >= 15, ROE >= 15, CAGR >= 15, DE < 0.5, PE < 25, FCF > 0
//
// A missing (or nil) field takes a value that fails its clause. A field that
// cannot be coerced to a number fails the whole screen.
func Screen(fields map[string]any) bool {
	v := make(map[string]float64, len(screenDefaults))
	for name, def := range screenDefaults {
		raw, ok := fields[name]
		if !ok || raw == nil {
			v[name] = def
			continue
		}
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return false
		}
		v[name] = f
	}

	return v[model.MetricROCE] >= 15 &&
		v[model.MetricROE] >= 15 &&
		v[model.MetricCAGR] >= 15 &&
		v[model.MetricDE] < 0.5 &&
		v[model.MetricPE] < 25 &&
		v[model.MetricFCF] > 0
}

// NumericFields returns the fields that coerce to a number.
func NumericFields(fields map[string]any) map[string]float64 {
	out := make(map[string]float64, len(fields))
	for name, raw := range fields {
		if raw == nil {
			continue
		}
		if f, err := cast.ToFloat64E(raw); err == nil {
			out[name] = f
		}
	}
	return out
}
