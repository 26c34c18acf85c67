package report

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/refi-monitor/internal/alert"
	"github.com/sells-group/refi-monitor/internal/engine"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/template"
)

var evalAt = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func sampleBatch() engine.Batch {
	months := 23
	ltv := decimal.RequireFromString("76.9231")
	return engine.Batch{
		Decisions: []engine.Decision{
			{
				AlertID:    "a1b2c3d4-0000-0000-0000-000000000001",
				PropertyID: "p1",
				Kind:       template.KindMonthlySavings,
				Transition: alert.Transition{From: alert.StateActive, To: alert.StateSounding, Reason: engine.ReasonTriggered},
				Scenario: &model.RefinanceScenario{
					TermMonths:        360,
					NewRate:           decimal.RequireFromString("6"),
					NewMonthlyPayment: decimal.RequireFromString("1199.1"),
					MonthlySavings:    decimal.RequireFromString("131.5"),
					BreakEvenMonths:   &months,
				},
				EvaluatedAt: evalAt,
			},
			{
				AlertID:     "a2",
				PropertyID:  "p1",
				Kind:        template.KindPMIRemoval,
				Transition:  alert.Transition{From: alert.StateActive, To: alert.StateActive, Reason: engine.ReasonUnchanged},
				LTV:         &ltv,
				EvaluatedAt: evalAt,
			},
		},
		Failures: []engine.Failure{{AlertID: "a3", PropertyID: "p2", Message: "invalid inputs"}},
	}
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "$1,234,567.89", Money(decimal.RequireFromString("1234567.891")))
	assert.Equal(t, "$131.50", Money(decimal.RequireFromString("131.5")))
	assert.Equal(t, "$0.00", Money(decimal.Zero))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "TABLE": FormatTable, "csv": FormatCSV, "xlsx": FormatXLSX} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	require.Error(t, err)
}

func TestRows(t *testing.T) {
	rows := Rows(sampleBatch())
	require.Len(t, rows, 2)
	assert.Equal(t, "360", rows[0][6])
	assert.Equal(t, "6%", rows[0][7])
	assert.Equal(t, "$1,199.10", rows[0][8])
	assert.Equal(t, "$131.50", rows[0][9])
	assert.Equal(t, "23 mo", rows[0][10])
	assert.Empty(t, rows[0][11])
	assert.Equal(t, "76.92%", rows[1][11])
	assert.Empty(t, rows[1][6])
	assert.Equal(t, "2026-06-01T09:00:00Z", rows[1][12])
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatTable, sampleBatch()))
	out := buf.String()
	assert.Contains(t, out, "ALERT")
	assert.Contains(t, out, "a1b2c3d4 ")
	assert.NotContains(t, out, "a1b2c3d4-0000")
	assert.Contains(t, out, "condition met")
	assert.Contains(t, out, "1 alert(s) failed")
	assert.Contains(t, out, "invalid inputs")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleBatch()))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, "a1b2c3d4-0000-0000-0000-000000000001", records[1][0])
	assert.Equal(t, "$1,199.10", records[1][8])
	assert.Equal(t, "error: invalid inputs", records[3][5])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleBatch()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	decisions, ok := f.Sheet["decisions"]
	require.True(t, ok)
	require.Len(t, decisions.Rows, 3)
	assert.Equal(t, "ALERT", decisions.Rows[0].Cells[0].String())
	assert.Equal(t, "monthly-savings", decisions.Rows[1].Cells[2].String())

	failures, ok := f.Sheet["failures"]
	require.True(t, ok)
	require.Len(t, failures.Rows, 2)
	assert.Equal(t, "invalid inputs", failures.Rows[1].Cells[2].String())
}

func TestWriteXLSX_NoFailures(t *testing.T) {
	b := sampleBatch()
	b.Failures = nil
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, b))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	_, ok := f.Sheet["failures"]
	assert.False(t, ok)
}
