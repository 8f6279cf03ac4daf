package fetcher

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX reader.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// StreamXLSX reads one sheet of an XLSX file and sends its rows, header
// included, to a channel. Fully blank rows are skipped. Both channels are
// closed when processing completes.
func StreamXLSX(ctx context.Context, path string, opts XLSXOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrap(err, "xlsx: open file")
			return
		}

		sheet, err := getSheet(f, opts)
		if err != nil {
			errCh <- err
			return
		}

		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := rowToStrings(row)
			if len(cells) == 0 {
				continue
			}

			select {
			case rowCh <- cells:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

// rowToStrings returns the row's cell text with trailing blank cells cut.
func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	last := -1
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
		if cells[j] != "" {
			last = j
		}
	}
	return cells[:last+1]
}
