package report

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/refi-monitor/internal/engine"
)

// WriteXLSX writes a workbook with a "decisions" sheet and, when any alert
// failed, a "failures" sheet.
func WriteXLSX(out io.Writer, batch engine.Batch) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("decisions")
	if err != nil {
		return eris.Wrap(err, "report: add decisions sheet")
	}
	addRow(sheet, Header)
	for _, row := range Rows(batch) {
		addRow(sheet, row)
	}

	if len(batch.Failures) > 0 {
		fs, err := f.AddSheet("failures")
		if err != nil {
			return eris.Wrap(err, "report: add failures sheet")
		}
		addRow(fs, []string{"ALERT", "PROPERTY", "ERROR"})
		for _, fl := range batch.Failures {
			addRow(fs, []string{fl.AlertID, fl.PropertyID, fl.Message})
		}
	}

	return eris.Wrap(f.Write(out), "report: write xlsx")
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
