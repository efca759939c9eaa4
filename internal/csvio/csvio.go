// Package csvio writes and reads the intermediate CSV files passed between
// migration steps.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ErrWidth is returned when a record does not match the header width.
var ErrWidth = errors.New("record width does not match header")

// Writer writes a header followed by fixed-width records.
type Writer struct {
	w     *csv.Writer
	width int
	rows  int
}

// NewWriter writes header immediately. A nil header disables the width check
// until the first record fixes it.
func NewWriter(w io.Writer, header []string) (*Writer, error) {
	cw := csv.NewWriter(w)
	cw.UseCRLF = false
	out := &Writer{w: cw, width: len(header)}
	if len(header) > 0 {
		if err := cw.Write(header); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return out, nil
}

// Write appends one record.
func (w *Writer) Write(record []string) error {
	if w.width == 0 {
		w.width = len(record)
	}
	if len(record) != w.width {
		return fmt.Errorf("%w: got %d fields, want %d", ErrWidth, len(record), w.width)
	}
	if err := w.w.Write(record); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.rows++
	return nil
}

// Rows returns the number of records written, header excluded.
func (w *Writer) Rows() int { return w.rows }

// Flush writes buffered data and reports any write error.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// Record is one CSV row with access by header name.
type Record struct {
	index  map[string]int
	Fields []string
}

// Get returns the named field and whether the header has it.
func (r Record) Get(name string) (string, bool) {
	i, ok := r.index[name]
	if !ok || i >= len(r.Fields) {
		return "", false
	}
	return r.Fields[i], true
}

// Reader reads a CSV file whose first line is the header.
type Reader struct {
	r      *csv.Reader
	header []string
	index  map[string]int
	line   int
}

// NewReader reads the header line from r.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty input")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		// Strip a UTF-8 byte order mark left by spreadsheet exports.
		header[0] = trimBOM(header[0])
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}
	return &Reader{r: cr, header: header, index: index, line: 1}, nil
}

// Header returns the header fields.
func (r *Reader) Header() []string { return r.header }

// Line returns the 1-based line number of the last record read.
func (r *Reader) Line() int { return r.line }

// Read returns the next record, or io.EOF. A record whose width differs from
// the header is returned together with an error wrapping ErrWidth.
func (r *Reader) Read() (Record, error) {
	fields, err := r.r.Read()
	if err != nil {
		return Record{}, err
	}
	r.line, _ = r.r.FieldPos(0)
	rec := Record{index: r.index, Fields: fields}
	if len(fields) != len(r.header) {
		return rec, fmt.Errorf("line %d: %w: got %d fields, want %d", r.line, ErrWidth, len(fields), len(r.header))
	}
	return rec, nil
}

func trimBOM(s string) string {
	const bom = "\ufeff"
	if len(s) >= len(bom) && s[:len(bom)] == bom {
		return s[len(bom):]
	}
	return s
}
