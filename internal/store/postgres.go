package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/stockpulse/internal/db"
	"github.com/sells-group/stockpulse/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, status, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"upsert_company":    `INSERT INTO companies (name, created_at, updated_at) VALUES ($1, $2, $2) ON CONFLICT (name) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
	"upsert_sentiment":  `INSERT INTO sentiment (company, month, score, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (company, month) DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS companies (
	name       TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS metrics (
	company    TEXT NOT NULL REFERENCES companies(name),
	name       TEXT NOT NULL,
	value      DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company, name)
);

CREATE TABLE IF NOT EXISTS sentiment (
	company    TEXT NOT NULL REFERENCES companies(name),
	month      TEXT NOT NULL,
	score      INTEGER NOT NULL CHECK (score BETWEEN 1 AND 100),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company, month)
);

CREATE TABLE IF NOT EXISTS documents (
	company    TEXT NOT NULL,
	month      TEXT NOT NULL,
	text       TEXT NOT NULL,
	embedding  REAL[] NOT NULL,
	indexed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company, month)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- runs ---

func (s *PostgresStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		id, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunReport(ctx context.Context, runID string, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET report = $1, status = $2, updated_at = $3 WHERE id = $4`,
		reportJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run report %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	query, args, err := selectRun(runID).PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build get run")
	}
	r, err := scanPgRun(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query, args, err := selectRuns(filter).PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list runs")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// --- facts ---

func (s *PostgresStore) UpsertCompany(ctx context.Context, company model.CompanyKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (name, created_at, updated_at) VALUES ($1, $2, $2) ON CONFLICT (name) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		company, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert company %q", company)
}

func (s *PostgresStore) AddMetric(ctx context.Context, company model.CompanyKey, name string, value float64) error {
	return s.AddMetrics(ctx, company, map[string]float64{name: value})
}

var metricsUpsert = db.UpsertConfig{
	Table:        "metrics",
	Columns:      []string{"company", "name", "value", "updated_at"},
	ConflictKeys: []string{"company", "name"},
}

func (s *PostgresStore) AddMetrics(ctx context.Context, company model.CompanyKey, metrics map[string]float64) error {
	if len(metrics) == 0 {
		return nil
	}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now().UTC()
	rows := make([][]any, len(names))
	for i, name := range names {
		rows[i] = []any{company, name, metrics[name], now}
	}

	if _, err := db.BulkUpsert(ctx, s.pool, metricsUpsert, rows); err != nil {
		return eris.Wrapf(err, "postgres: upsert metrics for %q", company)
	}
	return nil
}

func (s *PostgresStore) AddSentiment(ctx context.Context, company model.CompanyKey, month model.MonthBucket, score int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sentiment (company, month, score, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (company, month) DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at`,
		company, month, score, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert sentiment %q %s", company, month)
}

func (s *PostgresStore) CompanyMetrics(ctx context.Context, company model.CompanyKey) ([]model.Metric, error) {
	query, args, err := selectMetrics(company).PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build metrics query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: company metrics")
	}
	defer rows.Close()

	var out []model.Metric
	for rows.Next() {
		var m model.Metric
		if err := rows.Scan(&m.Company, &m.Name, &m.Value, &m.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: company metrics iterate")
}

func (s *PostgresStore) CompanySentiment(ctx context.Context, company model.CompanyKey) ([]model.Sentiment, error) {
	query, args, err := selectSentiment(company).PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build sentiment query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: company sentiment")
	}
	defer rows.Close()

	var out []model.Sentiment
	for rows.Next() {
		var st model.Sentiment
		if err := rows.Scan(&st.Company, &st.Month, &st.Score, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sentiment")
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: company sentiment iterate")
}

// --- documents ---

func (s *PostgresStore) SaveDocument(ctx context.Context, doc model.IndexedDocument) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (company, month, text, embedding, indexed_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (company, month) DO UPDATE SET text = EXCLUDED.text, embedding = EXCLUDED.embedding, indexed_at = EXCLUDED.indexed_at`,
		doc.Key.Company, doc.Key.Month, doc.Text, doc.Embedding, doc.IndexedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save document %s", doc.Key)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, key model.UnitKey) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE company = $1 AND month = $2`,
		key.Company, key.Month,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete document %s", key)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "document %s", key)
	}
	return nil
}

func (s *PostgresStore) LoadDocuments(ctx context.Context) ([]model.IndexedDocument, error) {
	query, args, err := selectDocuments().PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build documents query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load documents")
	}
	defer rows.Close()

	var out []model.IndexedDocument
	for rows.Next() {
		var doc model.IndexedDocument
		if err := rows.Scan(&doc.Key.Company, &doc.Key.Month, &doc.Text, &doc.Embedding, &doc.IndexedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		out = append(out, doc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load documents iterate")
}

func scanPgRun(row scannable) (*model.Run, error) {
	var (
		r          model.Run
		status     string
		reportJSON []byte
		errMsg     pgtype.Text
	)
	err := row.Scan(&r.ID, &status, &reportJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	r.Status = model.RunStatus(status)
	r.Error = errMsg.String
	if len(reportJSON) > 0 {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal(reportJSON, r.Report); err != nil {
			return nil, eris.Wrap(err, "unmarshal report")
		}
	}
	return &r, nil
}
