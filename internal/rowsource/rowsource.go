// Package rowsource reads already-decoded rows from JSON files.
//
// Accepted shapes:
//
//	[ {"Col A": 1, "Col B": "x"}, ... ]      root array of objects
//	{"Col A": 1, "Col B": "x"}\n{...}\n     NDJSON / concatenated objects
//
// Object keys become columns in document order, which an unmarshal into a
// map would lose. Numbers are kept as json.Number so no precision is lost
// before formatting steps run.
package rowsource

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"recon/internal/records"
)

const readBufSize = 1 << 20

// Reader is a records.RowReader over a JSON stream.
type Reader struct {
	dec     *json.Decoder
	closer  io.Closer
	started bool
	array   bool
	done    bool
	row     int

	// pendingObject is set when start already consumed the '{' of row 0.
	pendingObject bool
}

var _ records.RowReader = (*Reader)(nil)

// Open opens path for sequential reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	adviseSequential(f)
	r := NewReader(bufio.NewReaderSize(f, readBufSize))
	r.closer = f
	return r, nil
}

// NewReader reads rows from r. The caller keeps ownership of r.
func NewReader(r io.Reader) *Reader {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &Reader{dec: dec}
}

// Read returns the next row, or io.EOF after the last one.
func (r *Reader) Read() (records.Row, error) {
	if r.done {
		return records.Row{}, io.EOF
	}
	if !r.started {
		r.started = true
		if err := r.start(); err != nil {
			r.done = true
			return records.Row{}, err
		}
	}
	if !r.pendingObject && !r.dec.More() {
		r.done = true
		if r.array {
			if _, err := r.dec.Token(); err != nil {
				return records.Row{}, fmt.Errorf("rowsource: closing bracket: %w", unexpected(err))
			}
		}
		return records.Row{}, io.EOF
	}
	row, err := r.object()
	if err != nil {
		r.done = true
		return records.Row{}, fmt.Errorf("rowsource: row %d: %w", r.row, unexpected(err))
	}
	r.row++
	return row, nil
}

// start consumes the opening bracket of a root array, if any.
func (r *Reader) start() error {
	if !r.dec.More() {
		return nil
	}
	// For NDJSON the first token is the '{' of row 0.
	tok, err := r.dec.Token()
	if err != nil {
		return fmt.Errorf("rowsource: %w", err)
	}
	switch tok {
	case json.Delim('['):
		r.array = true
		return nil
	case json.Delim('{'):
		r.pendingObject = true
		return nil
	}
	return fmt.Errorf("rowsource: unexpected root token %v", tok)
}

// object decodes one row object, keeping key order.
func (r *Reader) object() (records.Row, error) {
	var row records.Row
	if !r.pendingObject {
		tok, err := r.dec.Token()
		if err != nil {
			return row, err
		}
		if tok != json.Delim('{') {
			return row, fmt.Errorf("expected object, got %v", tok)
		}
	}
	r.pendingObject = false

	for r.dec.More() {
		tok, err := r.dec.Token()
		if err != nil {
			return row, err
		}
		key, ok := tok.(string)
		if !ok {
			return row, fmt.Errorf("expected key, got %v", tok)
		}
		var v any
		if err := r.dec.Decode(&v); err != nil {
			return row, fmt.Errorf("column %q: %w", key, err)
		}
		row.Columns = append(row.Columns, key)
		row.Values = append(row.Values, v)
	}
	tok, err := r.dec.Token()
	if err != nil {
		return row, err
	}
	if tok != json.Delim('}') {
		return row, errors.New("unterminated object")
	}
	return row, nil
}

// unexpected turns a bare EOF inside a value into io.ErrUnexpectedEOF so
// callers never mistake truncated input for a clean end.
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Close closes the underlying file when the Reader was created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
