// Package report renders evaluation results as a text table, CSV or an
// XLSX workbook.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/refi-monitor/internal/engine"
)

// Format is an output format.
type Format string

// Supported formats.
const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatXLSX  Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatCSV, FormatXLSX:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", eris.Errorf("report: unknown format %q (want table, csv or xlsx)", s)
	}
}

var printer = message.NewPrinter(language.AmericanEnglish)

// Money formats d as dollars with grouping separators.
func Money(d decimal.Decimal) string {
	return printer.Sprintf("$%.2f", d.Round(2).InexactFloat64())
}

// Header is the column order shared by every format.
var Header = []string{
	"ALERT", "PROPERTY", "KIND", "FROM", "TO", "REASON",
	"TERM", "RATE", "PAYMENT", "SAVINGS/MO", "BREAK-EVEN", "LTV", "EVALUATED",
}

// Row is one decision flattened for output.
type Row []string

// Rows flattens decisions in batch order.
func Rows(batch engine.Batch) []Row {
	rows := make([]Row, 0, len(batch.Decisions))
	for _, d := range batch.Decisions {
		row := Row{
			d.AlertID,
			d.PropertyID,
			string(d.Kind),
			string(d.Transition.From),
			string(d.Transition.To),
			d.Transition.Reason,
			"", "", "", "", "", "",
			d.EvaluatedAt.UTC().Format(time.RFC3339),
		}
		if s := d.Scenario; s != nil {
			row[6] = strconv.Itoa(s.TermMonths)
			row[7] = s.NewRate.String() + "%"
			row[8] = Money(s.NewMonthlyPayment)
			row[9] = Money(s.MonthlySavings)
			row[10] = "never"
			if s.BreakEvenMonths != nil {
				row[10] = fmt.Sprintf("%d mo", *s.BreakEvenMonths)
			}
		}
		if d.LTV != nil {
			row[11] = d.LTV.StringFixed(2) + "%"
		}
		rows = append(rows, row)
	}
	return rows
}

// Write renders batch in format.
func Write(w io.Writer, format Format, batch engine.Batch) error {
	switch format {
	case FormatTable:
		return WriteTable(w, batch)
	case FormatCSV:
		return WriteCSV(w, batch)
	case FormatXLSX:
		return WriteXLSX(w, batch)
	default:
		return eris.Errorf("report: unknown format %q", format)
	}
}

// WriteTable writes an aligned text table followed by any failures.
func WriteTable(out io.Writer, batch engine.Batch) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(Header, "\t"))
	for _, row := range Rows(batch) {
		row[0] = truncateID(row[0])
		row[1] = truncateID(row[1])
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return eris.Wrap(err, "report: write table")
	}

	if len(batch.Failures) == 0 {
		return nil
	}
	_, _ = fmt.Fprintf(out, "\n%d alert(s) failed:\n", len(batch.Failures))
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, f := range batch.Failures {
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\n", truncateID(f.AlertID), truncateID(f.PropertyID), f.Message)
	}
	return eris.Wrap(w.Flush(), "report: write failures")
}

// WriteCSV writes decisions as CSV with a header row. Failures are appended
// with the reason column carrying the error.
func WriteCSV(out io.Writer, batch engine.Batch) error {
	w := csv.NewWriter(out)
	if err := w.Write(Header); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, row := range Rows(batch) {
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	for _, f := range batch.Failures {
		row := make([]string, len(Header))
		row[0], row[1], row[5] = f.AlertID, f.PropertyID, "error: "+f.Message
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "report: flush csv")
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
