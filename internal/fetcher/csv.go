package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // 0 sniffs ';', ',', '\t' or '|' from the first line
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads a CSV file and sends rows to a channel, header included.
// A leading UTF-8 byte order mark is dropped. Both channels are closed when
// processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		br := bufio.NewReader(r)
		if head, _ := br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
			_, _ = br.Discard(len(utf8BOM))
		}

		delim := opts.Delimiter
		if delim == 0 {
			delim = sniffDelimiter(br)
		}

		reader := csv.NewReader(br)
		reader.Comma = delim
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

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

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
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

// sniffDelimiter picks the candidate delimiter that occurs most often in the
// first line. French spreadsheet exports default to ';'. Ties fall back to ','.
func sniffDelimiter(br *bufio.Reader) rune {
	line, _ := br.Peek(br.Size())
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, c := range []rune{';', '\t', '|'} {
		if n := bytes.Count(line, []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}
