package market

import (
	"strings"
	"unicode"

	"github.com/sells-group/stockpulse/internal/model"
)

// SymbolMapper maps a resolved company to its exchange ticker.
type SymbolMapper struct {
	overrides map[string]string
}

// NewSymbolMapper creates a mapper. Override keys are matched
// case-insensitively.
func NewSymbolMapper(overrides map[string]string) *SymbolMapper {
	m := &SymbolMapper{overrides: make(map[string]string, len(overrides))}
	for company, sym := range overrides {
		m.overrides[strings.ToLower(strings.TrimSpace(company))] = strings.TrimSpace(sym)
	}
	return m
}

// Symbol returns the configured ticker for company, else the company name
// upper-cased with everything but letters and digits removed.
func (m *SymbolMapper) Symbol(company model.CompanyKey) string {
	if m != nil {
		if sym, ok := m.overrides[strings.ToLower(strings.TrimSpace(company))]; ok {
			return sym
		}
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, company)
}
