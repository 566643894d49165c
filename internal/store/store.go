// Package store persists run history, company facts and retrieval documents.
package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/stockpulse/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// RunStore records pipeline runs.
type RunStore interface {
	CreateRun(ctx context.Context) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	// UpdateRunReport stores the final report and marks the run complete.
	UpdateRunReport(ctx context.Context, runID string, report *model.RunReport) error
	FailRun(ctx context.Context, runID string, reason string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
}

// FactStore holds companies, their metrics and monthly sentiment. Every
// write is an idempotent upsert.
type FactStore interface {
	UpsertCompany(ctx context.Context, company model.CompanyKey) error
	AddMetric(ctx context.Context, company model.CompanyKey, name string, value float64) error
	// AddMetrics upserts several metrics for one company in one transaction.
	AddMetrics(ctx context.Context, company model.CompanyKey, metrics map[string]float64) error
	AddSentiment(ctx context.Context, company model.CompanyKey, month model.MonthBucket, score int) error
	CompanyMetrics(ctx context.Context, company model.CompanyKey) ([]model.Metric, error)
	CompanySentiment(ctx context.Context, company model.CompanyKey) ([]model.Sentiment, error)
}

// DocumentStore persists retrieval documents keyed by (company, month).
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc model.IndexedDocument) error
	DeleteDocument(ctx context.Context, key model.UnitKey) error
	LoadDocuments(ctx context.Context) ([]model.IndexedDocument, error)
}

// Store is the full persistence interface.
type Store interface {
	RunStore
	FactStore
	DocumentStore

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func selectRuns(filter RunFilter) sq.SelectBuilder {
	q := sq.Select("id", "status", "report", "error", "created_at", "updated_at").
		From("runs").
		OrderBy("created_at DESC", "id")
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q = q.Limit(uint64(limit))
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return q
}

func selectRun(runID string) sq.SelectBuilder {
	return sq.Select("id", "status", "report", "error", "created_at", "updated_at").
		From("runs").
		Where(sq.Eq{"id": runID})
}

func selectMetrics(company model.CompanyKey) sq.SelectBuilder {
	return sq.Select("company", "name", "value", "updated_at").
		From("metrics").
		Where(sq.Eq{"company": company}).
		OrderBy("name")
}

func selectSentiment(company model.CompanyKey) sq.SelectBuilder {
	return sq.Select("company", "month", "score", "updated_at").
		From("sentiment").
		Where(sq.Eq{"company": company}).
		OrderBy("month")
}

func selectDocuments() sq.SelectBuilder {
	return sq.Select("company", "month", "text", "embedding", "indexed_at").
		From("documents").
		OrderBy("indexed_at", "company", "month")
}
