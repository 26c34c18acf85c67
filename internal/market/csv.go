package market

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/refi-monitor/internal/model"
)

// streamCSV reads records on a goroutine. Both channels are closed when the
// reader is exhausted, fails, or ctx is done.
func streamCSV(ctx context.Context, r io.Reader) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.Comment = '#'
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func parseCSV(ctx context.Context, r io.Reader) (*model.Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows, errs := streamCSV(ctx, r)
	snap, err := quotesFromRows(rows)
	if err != nil {
		return nil, err
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrap(err, "market: parse csv")
	}
	return snap, nil
}

// quotesFromRows treats the first non-blank row as the header. On error the
// remaining rows are drained so the producer can exit.
func quotesFromRows(rows <-chan []string) (*model.Snapshot, error) {
	snap := &model.Snapshot{}
	var cols *columns
	line := 0
	for row := range rows {
		line++
		if blank(row) {
			continue
		}
		if cols == nil {
			c, err := headerColumns(row)
			if err != nil {
				drain(rows)
				return nil, err
			}
			cols = &c
			continue
		}
		q, err := cols.quote(row, line)
		if err != nil {
			drain(rows)
			return nil, err
		}
		snap.Quotes = append(snap.Quotes, q)
	}
	if cols == nil {
		return nil, eris.New("market: rate sheet has no header")
	}
	return snap, nil
}

func drain(rows <-chan []string) {
	for range rows {
	}
}
