// Package records defines the in-memory row model shared by the pipeline and
// the matcher: an ordered column → value mapping tagged with its side, its
// originating model and its original row index.
package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Side tells which party reported a record.
type Side uint8

const (
	SideBO Side = iota
	SidePartner
)

func (s Side) String() string {
	switch s {
	case SideBO:
		return "bo"
	case SidePartner:
		return "partner"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// MarshalText renders the side as "bo" or "partner".
func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Row is one already-decoded input row. Columns and Values are positional.
type Row struct {
	Columns []string
	Values  []any
}

// RowReader yields decoded rows until it returns io.EOF.
type RowReader interface {
	Read() (Row, error)
}

// SliceReader serves rows from memory.
type SliceReader struct {
	rows []Row
	pos  int
}

func NewSliceReader(rows []Row) *SliceReader { return &SliceReader{rows: rows} }

func (r *SliceReader) Read() (Row, error) {
	if r.pos >= len(r.rows) {
		return Row{}, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

// Annotation records a recoverable condition on a row (e.g. an unparsable
// amount). Annotated rows are kept; the annotation is surfaced in reports.
type Annotation struct {
	Field   string `json:"field,omitempty"`
	Step    string `json:"step,omitempty"`
	Message string `json:"message"`
}

// Record is an ordered column → value mapping.
//
// A Record is owned by exactly one goroutine at a time: the chunk worker
// during the pipeline, then the matcher. It is not safe for concurrent
// mutation.
type Record struct {
	Side    Side
	ModelID string
	Index   int // original row index in the input file (0-based)

	cols  []string
	vals  map[string]any
	Notes []Annotation
}

// New builds a record from a decoded row. Duplicate column names keep the
// first position; the later value wins only if the earlier one is empty.
func New(side Side, modelID string, index int, row Row) *Record {
	r := &Record{
		Side:    side,
		ModelID: modelID,
		Index:   index,
		cols:    make([]string, 0, len(row.Columns)),
		vals:    make(map[string]any, len(row.Columns)),
	}
	for i, c := range row.Columns {
		var v any
		if i < len(row.Values) {
			v = row.Values[i]
		}
		if prev, ok := r.vals[c]; ok {
			if IsEmpty(prev) {
				r.vals[c] = v
			}
			continue
		}
		r.cols = append(r.cols, c)
		r.vals[c] = v
	}
	return r
}

// Get returns the value of a column.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.vals[name]
	return v, ok
}

// Set assigns a value, appending the column if it is new.
func (r *Record) Set(name string, v any) {
	if _, ok := r.vals[name]; !ok {
		r.cols = append(r.cols, name)
	}
	r.vals[name] = v
}

// Delete removes a column if present.
func (r *Record) Delete(name string) {
	if _, ok := r.vals[name]; !ok {
		return
	}
	delete(r.vals, name)
	for i, c := range r.cols {
		if c == name {
			r.cols = append(r.cols[:i], r.cols[i+1:]...)
			break
		}
	}
}

// Rename moves the value of old under a new name, in place. It reports false
// when old is missing or when newName already exists; on collision the
// existing value is kept unless it is empty.
func (r *Record) Rename(old, newName string) bool {
	if old == newName {
		_, ok := r.vals[old]
		return ok
	}
	v, ok := r.vals[old]
	if !ok {
		return false
	}
	if prev, exists := r.vals[newName]; exists {
		if IsEmpty(prev) {
			r.vals[newName] = v
		}
		r.Delete(old)
		return false
	}
	for i, c := range r.cols {
		if c == old {
			r.cols[i] = newName
			break
		}
	}
	delete(r.vals, old)
	r.vals[newName] = v
	return true
}

// Columns returns the column names in order. The slice is a copy.
func (r *Record) Columns() []string {
	out := make([]string, len(r.cols))
	copy(out, r.cols)
	return out
}

// Len returns the number of columns.
func (r *Record) Len() int { return len(r.cols) }

// Project keeps exactly the given fields, in the given order. Fields missing
// from the record are added with a nil value and returned.
func (r *Record) Project(fields []string) (missing []string) {
	vals := make(map[string]any, len(fields))
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, dup := vals[f]; dup {
			continue
		}
		v, ok := r.vals[f]
		if !ok {
			missing = append(missing, f)
		}
		vals[f] = v
		cols = append(cols, f)
	}
	r.cols, r.vals = cols, vals
	return missing
}

// Annotate attaches a recoverable-condition note to the record.
func (r *Record) Annotate(field, step, format string, args ...any) {
	r.Notes = append(r.Notes, Annotation{Field: field, Step: step, Message: fmt.Sprintf(format, args...)})
}

// AnnotateOnce is Annotate, except that an identical note already on the
// record is not added again. Passes that may run repeatedly over the same
// records use it.
func (r *Record) AnnotateOnce(field, step, format string, args ...any) {
	a := Annotation{Field: field, Step: step, Message: fmt.Sprintf(format, args...)}
	for _, n := range r.Notes {
		if n == a {
			return
		}
	}
	r.Notes = append(r.Notes, a)
}

// Clone returns a deep-enough copy: columns, values map and notes are copied;
// values themselves are immutable by convention.
func (r *Record) Clone() *Record {
	c := &Record{
		Side:    r.Side,
		ModelID: r.ModelID,
		Index:   r.Index,
		cols:    make([]string, len(r.cols)),
		vals:    make(map[string]any, len(r.vals)),
	}
	copy(c.cols, r.cols)
	for k, v := range r.vals {
		c.vals[k] = v
	}
	if len(r.Notes) > 0 {
		c.Notes = append([]Annotation(nil), r.Notes...)
	}
	return c
}

// MarshalJSON writes the record with its values as an object whose key order
// follows the column order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`{"index":`)
	fmt.Fprintf(&b, "%d", r.Index)
	b.WriteString(`,"side":"`)
	b.WriteString(r.Side.String())
	b.WriteString(`"`)
	if r.ModelID != "" {
		b.WriteString(`,"model":`)
		mb, _ := json.Marshal(r.ModelID)
		b.Write(mb)
	}
	b.WriteString(`,"values":{`)
	for i, c := range r.cols {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.vals[c])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c, err)
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	if len(r.Notes) > 0 {
		nb, err := json.Marshal(r.Notes)
		if err != nil {
			return nil, err
		}
		b.WriteString(`,"notes":`)
		b.Write(nb)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}
