package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/stockpulse/internal/model"
)

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("12345678-aaaa-bbbb-cccc-dddddddddddd"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}

func TestFormatRunsList(t *testing.T) {
	created := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "aaaaaaaa-1111-2222-3333-444444444444",
			Status:    model.RunStatusComplete,
			CreatedAt: created,
			UpdatedAt: created.Add(95 * time.Second),
			Report: &model.RunReport{
				Units:     3,
				Succeeded: 2,
				Failed:    1,
				Passed:    []model.UnitKey{{Company: "Infosys", Month: "2024-06"}},
			},
		},
		{
			ID:        "bbbbbbbb-1111-2222-3333-444444444444",
			Status:    model.RunStatusFailed,
			CreatedAt: created,
			UpdatedAt: created,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "PASSED")

	assert.Equal(t, []string{"aaaaaaaa", "complete", "3", "2", "1", "1", "2024-06-01", "09:00", "1m35s"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"bbbbbbbb", "failed", "-", "-", "-", "-", "2024-06-01", "09:00", "0s"}, strings.Fields(lines[3]))
}

func TestWriteOutput(t *testing.T) {
	run := model.Run{ID: "run-1", Status: model.RunStatusComplete}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeOutput(&buf, "json", run))
		assert.Contains(t, buf.String(), `"status": "complete"`)
	})

	t.Run("default is json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeOutput(&buf, "", run))
		assert.Contains(t, buf.String(), `"id": "run-1"`)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeOutput(&buf, "yaml", map[string]any{"status": "complete", "units": 3}))
		assert.Equal(t, "status: complete\nunits: 3\n", buf.String())
	})

	t.Run("unsupported", func(t *testing.T) {
		var buf bytes.Buffer
		err := writeOutput(&buf, "xml", run)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unsupported output format "xml"`)
		assert.Empty(t, buf.String())
	})
}

func TestFormatCompanyFacts(t *testing.T) {
	updated := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	facts := companyFacts{
		Company: "Tata Motors",
		Metrics: []model.Metric{
			{Company: "Tata Motors", Name: "PERatio", Value: 8.456, UpdatedAt: updated},
		},
		Sentiment: []model.Sentiment{
			{Company: "Tata Motors", Month: "2024-05", Score: 64},
			{Company: "Tata Motors", Month: "2024-06", Score: 71},
		},
	}

	var buf bytes.Buffer
	formatCompanyFacts(&buf, facts)
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "Tata Motors\n"))
	assert.Contains(t, out, "PERatio")
	assert.Contains(t, out, "8.46")
	assert.Contains(t, out, "2024-06-03")
	assert.Contains(t, out, "2024-05")
	assert.Contains(t, out, "71")
}

func TestCompanyFacts_Empty(t *testing.T) {
	assert.True(t, companyFacts{Company: "Nobody"}.empty())
	assert.False(t, companyFacts{Sentiment: []model.Sentiment{{Score: 50}}}.empty())
}
