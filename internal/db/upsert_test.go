package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var metricsCfg = UpsertConfig{
	Table:        "metrics",
	Columns:      []string{"company", "name", "value"},
	ConflictKeys: []string{"company", "name"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, metricsCfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "metrics",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "metrics",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_RowWidthMismatch(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, metricsCfg, [][]any{{"Infosys", "PE"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0 has 2 values")
}

func TestBulkUpsert_SmallBatchInsertsValues(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO "metrics" ("company", "name", "value") VALUES ($1, $2, $3), ($4, $5, $6) ON CONFLICT ("company", "name") DO UPDATE SET "value" = EXCLUDED."value"`,
	)).
		WithArgs("Infosys", "PE", 24.0, "Infosys", "ROE", 30.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, metricsCfg, [][]any{
		{"Infosys", "PE", 24.0},
		{"Infosys", "ROE", 30.0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_LargeBatchCopies(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := make([][]any, copyThreshold)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("Co%d", i), "PE", float64(i)}
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_metrics"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_metrics"}, metricsCfg.Columns).
		WillReturnResult(int64(len(rows)))
	mock.ExpectExec(`INSERT INTO "metrics" .* SELECT .* FROM "_tmp_upsert_metrics" ON CONFLICT`).
		WillReturnResult(pgxmock.NewResult("INSERT", int64(len(rows))))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, metricsCfg, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(copyThreshold), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_ExecErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "metrics"`).WillReturnError(fmt.Errorf("deadlock"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, metricsCfg, [][]any{{"Infosys", "PE", 24.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSERT ON CONFLICT for metrics")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnConflict(t *testing.T) {
	assert.Equal(t,
		`ON CONFLICT ("company", "name") DO UPDATE SET "value" = EXCLUDED."value"`,
		onConflict(metricsCfg))

	assert.Equal(t,
		`ON CONFLICT ("name") DO NOTHING`,
		onConflict(UpsertConfig{Columns: []string{"name"}, ConflictKeys: []string{"name"}}))

	assert.Equal(t,
		`ON CONFLICT ("id") DO UPDATE SET "b" = EXCLUDED."b"`,
		onConflict(UpsertConfig{Columns: []string{"id", "a", "b"}, ConflictKeys: []string{"id"}, UpdateCols: []string{"b"}}))
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.metrics", `"public"."metrics"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
