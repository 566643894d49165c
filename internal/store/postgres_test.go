package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/stockpulse/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var runColumns = []string{"id", "status", "report", "error", "created_at", "updated_at"}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, status, report, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("run-1", "complete", []byte(`{"posts":7,"units":2}`), "", now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, 7, run.Report.Posts)
	assert.Equal(t, 2, run.Report.Units)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, report, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_StatusFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE status = \$1 ORDER BY created_at DESC, id LIMIT 5`).
		WithArgs("failed").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("run-2", "failed", []byte(nil), "boom", now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusFailed, Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Nil(t, runs[0].Report)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("fetching", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusFetching)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, error = \$2`).
		WithArgs("failed", "feed down", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", "feed down"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCompany(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO companies .* ON CONFLICT \(name\) DO UPDATE`).
		WithArgs("Infosys", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertCompany(context.Background(), "Infosys"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddMetrics_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO "metrics" ("company", "name", "value", "updated_at") VALUES ($1, $2, $3, $4), ($5, $6, $7, $8) ON CONFLICT ("company", "name") DO UPDATE SET "value" = EXCLUDED."value", "updated_at" = EXCLUDED."updated_at"`,
	)).
		WithArgs("Infosys", "PE", 24.5, pgxmock.AnyArg(), "Infosys", "ROE", 31.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := s.AddMetrics(context.Background(), "Infosys", map[string]float64{"ROE": 31, "PE": 24.5})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddMetrics_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "metrics"`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.AddMetric(context.Background(), "Infosys", "PE", 24.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert metrics")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddSentiment(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO sentiment .* ON CONFLICT \(company, month\)`).
		WithArgs("Infosys", "2024-06", 65, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AddSentiment(context.Background(), "Infosys", "2024-06", 65))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompanyMetrics(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT company, name, value, updated_at FROM metrics WHERE company = \$1 ORDER BY name`).
		WithArgs("Infosys").
		WillReturnRows(pgxmock.NewRows([]string{"company", "name", "value", "updated_at"}).
			AddRow("Infosys", "PE", 24.5, now).
			AddRow("Infosys", "ROE", 31.0, now))

	got, err := s.CompanyMetrics(context.Background(), "Infosys")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "PE", got[0].Name)
	assert.InDelta(t, 31.0, got[1].Value, 0.0001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	doc := model.IndexedDocument{
		Key:       model.UnitKey{Company: "Infosys", Month: "2024-06"},
		Text:      "margins up",
		Embedding: []float32{0.1, 0.2},
		IndexedAt: time.Now(),
	}
	mock.ExpectExec(`INSERT INTO documents .* ON CONFLICT \(company, month\)`).
		WithArgs("Infosys", "2024-06", "margins up", []float32{0.1, 0.2}, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveDocument(context.Background(), doc))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteDocument_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM documents`).
		WithArgs("Infosys", "2024-06").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteDocument(context.Background(), model.UnitKey{Company: "Infosys", Month: "2024-06"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadDocuments(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT company, month, text, embedding, indexed_at FROM documents ORDER BY indexed_at`).
		WillReturnRows(pgxmock.NewRows([]string{"company", "month", "text", "embedding", "indexed_at"}).
			AddRow("Infosys", "2024-06", "margins up", []float32{0.1, 0.2}, now))

	docs, err := s.LoadDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, model.UnitKey{Company: "Infosys", Month: "2024-06"}, docs[0].Key)
	assert.Equal(t, []float32{0.1, 0.2}, docs[0].Embedding)
	assert.NoError(t, mock.ExpectationsWereMet())
}
