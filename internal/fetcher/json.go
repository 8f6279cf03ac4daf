package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeRecords streams the records of a JSON export. The document is either
// a bare array of objects or an object whose first array-valued member holds
// them, as in Opendatasoft ("results") or data.gouv ("records") dumps; that
// member is buffered, a bare array is streamed. Empty input yields no
// records. Both channels are closed when decoding ends.
func DecodeRecords(ctx context.Context, r io.Reader) (<-chan map[string]any, <-chan error) {
	recCh := make(chan map[string]any, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		dec := json.NewDecoder(r)
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "json: read document")
			return
		}

		switch tok {
		case json.Delim('['):
		case json.Delim('{'):
			if dec, err = arrayMember(dec); err != nil {
				errCh <- err
				return
			}
		default:
			errCh <- eris.Errorf("json: expected an array of records, got %v", tok)
			return
		}

		for n := 0; dec.More(); n++ {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
			var rec map[string]any
			if err := dec.Decode(&rec); err != nil {
				errCh <- eris.Wrapf(err, "json: decode record %d", n)
				return
			}
			select {
			case recCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}
	}()

	return recCh, errCh
}

// arrayMember returns a decoder positioned inside the first array-valued
// member of the object dec is reading. The member is buffered whole.
func arrayMember(dec *json.Decoder) (*json.Decoder, error) {
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, eris.Wrap(err, "json: read member name")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, eris.Wrap(err, "json: read member")
		}
		if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
			continue
		}
		inner := json.NewDecoder(bytes.NewReader(raw))
		if _, err := inner.Token(); err != nil {
			return nil, eris.Wrap(err, "json: open records array")
		}
		return inner, nil
	}
	return nil, eris.New("json: object has no array of records")
}
