package market

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/refi-monitor/internal/model"
)

// ratesSheet is preferred when a workbook has several sheets.
const ratesSheet = "rates"

func parseXLSX(ctx context.Context, r io.Reader) (*model.Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: read workbook")
	}
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}
	sheet, err := rateSheet(f)
	if err != nil {
		return nil, err
	}

	rows := make(chan []string, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if ctx.Err() != nil {
			close(rows)
			return nil, eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
		rows <- rowToStrings(row)
	}
	close(rows)
	return quotesFromRows(rows)
}

func rateSheet(f *xlsx.File) (*xlsx.Sheet, error) {
	for name, sheet := range f.Sheet {
		if strings.EqualFold(name, ratesSheet) {
			return sheet, nil
		}
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, c := range row.Cells {
		cells[j] = c.String()
	}
	return cells
}
