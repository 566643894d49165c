package model

import (
	"time"
)

// CompanyKey is the normalized company name derived from a thread title.
// The empty key means the title could not be resolved.
type CompanyKey = string

// MonthBucket is a YYYY-MM label in UTC.
type MonthBucket = string

// monthLayout formats a time as a MonthBucket.
const monthLayout = "2006-01"

// MonthOf returns the UTC month bucket for t.
func MonthOf(t time.Time) MonthBucket {
	return t.UTC().Format(monthLayout)
}

// ParseMonth validates a MonthBucket label.
func ParseMonth(s string) (time.Time, error) {
	return time.Parse(monthLayout, s)
}

// UnitKey identifies a processing unit and its indexed document.
type UnitKey struct {
	Company CompanyKey  `json:"company"`
	Month   MonthBucket `json:"month"`
}

func (k UnitKey) String() string {
	return k.Company + "|" + k.Month
}

// ProcessingUnit groups the posts about one company in one month.
// Posts keep feed arrival order.
type ProcessingUnit struct {
	Company CompanyKey  `json:"company"`
	Month   MonthBucket `json:"month"`
	Posts   []Post      `json:"posts"`
}

// Key returns the unit's (company, month) identity.
func (u ProcessingUnit) Key() UnitKey {
	return UnitKey{Company: u.Company, Month: u.Month}
}

// Screening metric field names.
const (
	MetricROCE = "ROCE"
	MetricROE  = "ROE"
	MetricCAGR = "CAGR"
	MetricDE   = "DE"
	MetricPE   = "PE"
	MetricFCF  = "FCF"
)

// MetricsSnapshot is a point-in-time read from external market data.
type MetricsSnapshot struct {
	Symbol    string         `json:"symbol"`
	Exchange  string         `json:"exchange"`
	Fields    map[string]any `json:"fields"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// IsEmpty reports whether no metric fields were captured.
func (m MetricsSnapshot) IsEmpty() bool {
	return len(m.Fields) == 0
}

// EnrichedUnit is a ProcessingUnit after the enrichment chain. It is never
// modified once built; a later run produces a new one for the same key.
type EnrichedUnit struct {
	ProcessingUnit
	Summary          string          `json:"summary"`
	SentimentScore   int             `json:"sentiment_score"`
	Metrics          MetricsSnapshot `json:"metrics"`
	ScreeningVerdict bool            `json:"screening_verdict"`
	// Degraded lists stages that fell back to a conservative default.
	Degraded []string `json:"degraded,omitempty"`
}

// IndexedDocument is a retrieval-store entry for one unit summary.
type IndexedDocument struct {
	Key       UnitKey   `json:"key"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Metric is a single stored company metric.
type Metric struct {
	Company   CompanyKey `json:"company"`
	Name      string     `json:"name"`
	Value     float64    `json:"value"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Sentiment is a stored monthly sentiment score.
type Sentiment struct {
	Company   CompanyKey  `json:"company"`
	Month     MonthBucket `json:"month"`
	Score     int         `json:"score"`
	UpdatedAt time.Time   `json:"updated_at"`
}
