package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/stockpulse/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas go in the DSN so every pooled connection gets them.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	params := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		params[i] = "_pragma=" + p
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	// Write transactions take the lock at BEGIN so busy_timeout covers them.
	params = append(params, "_txlock=immediate")
	return path + sep + strings.Join(params, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS companies (
	name       TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS metrics (
	company    TEXT NOT NULL REFERENCES companies(name),
	name       TEXT NOT NULL,
	value      REAL NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (company, name)
);

CREATE TABLE IF NOT EXISTS sentiment (
	company    TEXT NOT NULL REFERENCES companies(name),
	month      TEXT NOT NULL,
	score      INTEGER NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (company, month)
);

CREATE TABLE IF NOT EXISTS documents (
	company    TEXT NOT NULL,
	month      TEXT NOT NULL,
	text       TEXT NOT NULL,
	embedding  TEXT NOT NULL,
	indexed_at DATETIME NOT NULL,
	PRIMARY KEY (company, month)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunReport(ctx context.Context, runID string, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET report = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(reportJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run report %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	query, args, err := selectRun(runID).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build get run")
	}
	return scanRun(s.db.QueryRowContext(ctx, query, args...))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query, args, err := selectRuns(filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list runs")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// --- facts ---

func (s *SQLiteStore) UpsertCompany(ctx context.Context, company model.CompanyKey) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (name, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET updated_at = excluded.updated_at`,
		company, now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert company %q", company)
}

func (s *SQLiteStore) AddMetric(ctx context.Context, company model.CompanyKey, name string, value float64) error {
	return s.AddMetrics(ctx, company, map[string]float64{name: value})
}

func (s *SQLiteStore) AddMetrics(ctx context.Context, company model.CompanyKey, metrics map[string]float64) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin metrics tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for name, value := range metrics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metrics (company, name, value, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (company, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			company, name, value, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert metric %s for %q", name, company)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit metrics")
}

func (s *SQLiteStore) AddSentiment(ctx context.Context, company model.CompanyKey, month model.MonthBucket, score int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sentiment (company, month, score, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (company, month) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`,
		company, month, score, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert sentiment %q %s", company, month)
}

func (s *SQLiteStore) CompanyMetrics(ctx context.Context, company model.CompanyKey) ([]model.Metric, error) {
	query, args, err := selectMetrics(company).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build metrics query")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: company metrics")
	}
	defer rows.Close()

	var out []model.Metric
	for rows.Next() {
		var m model.Metric
		if err := rows.Scan(&m.Company, &m.Name, &m.Value, &m.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: company metrics iterate")
}

func (s *SQLiteStore) CompanySentiment(ctx context.Context, company model.CompanyKey) ([]model.Sentiment, error) {
	query, args, err := selectSentiment(company).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build sentiment query")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: company sentiment")
	}
	defer rows.Close()

	var out []model.Sentiment
	for rows.Next() {
		var st model.Sentiment
		if err := rows.Scan(&st.Company, &st.Month, &st.Score, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sentiment")
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: company sentiment iterate")
}

// --- documents ---

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc model.IndexedDocument) error {
	embJSON, err := json.Marshal(doc.Embedding)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal embedding")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (company, month, text, embedding, indexed_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (company, month) DO UPDATE SET
		   text = excluded.text, embedding = excluded.embedding, indexed_at = excluded.indexed_at`,
		doc.Key.Company, doc.Key.Month, doc.Text, string(embJSON), doc.IndexedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save document %s", doc.Key)
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, key model.UnitKey) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE company = ? AND month = ?`,
		key.Company, key.Month,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete document %s", key)
	}
	return checkRowsAffected(res, "document", key.String())
}

func (s *SQLiteStore) LoadDocuments(ctx context.Context) ([]model.IndexedDocument, error) {
	query, args, err := selectDocuments().ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build documents query")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load documents")
	}
	defer rows.Close()

	var out []model.IndexedDocument
	for rows.Next() {
		var (
			doc     model.IndexedDocument
			embJSON string
		)
		if err := rows.Scan(&doc.Key.Company, &doc.Key.Month, &doc.Text, &embJSON, &doc.IndexedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		if err := json.Unmarshal([]byte(embJSON), &doc.Embedding); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal embedding %s", doc.Key)
		}
		out = append(out, doc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load documents iterate")
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var (
		r          model.Run
		reportJSON sql.NullString
		errMsg     sql.NullString
	)
	err := row.Scan(&r.ID, &r.Status, &reportJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Error = errMsg.String
	if reportJSON.Valid {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	return &r, nil
}
