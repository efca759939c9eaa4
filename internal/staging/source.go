package staging

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joestump/menuca-migrate/internal/csvio"
	"github.com/joestump/menuca-migrate/internal/dump"
)

// RowSource yields rows to load. Next returns io.EOF after the last row and
// a *RowError for a row that should be skipped.
type RowSource interface {
	Next() ([]any, error)
}

// RowError reports a source row that could not be read.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// DumpSource yields the rows of one table's INSERT statements in a dump.
type DumpSource struct {
	sc    *dump.Scanner
	table string
	rows  []dump.Row
	err   error
}

// NewDumpSource reads INSERTs for table from r. An empty table accepts
// every INSERT.
func NewDumpSource(r io.Reader, table string, opts ...dump.Option) *DumpSource {
	return &DumpSource{sc: dump.NewScanner(r, opts...), table: table}
}

func (s *DumpSource) Next() ([]any, error) {
	for len(s.rows) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		if !s.sc.Next() {
			if err := s.sc.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		st := s.sc.Statement()
		if st.Kind != dump.Insert || (s.table != "" && !strings.EqualFold(st.Table, s.table)) {
			continue
		}
		if st.Err != nil {
			// The whole statement is lost; report it once.
			return nil, &RowError{Line: st.Line, Err: st.Err}
		}
		s.rows = st.Rows
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return dumpRow(row), nil
}

func dumpRow(row dump.Row) []any {
	out := make([]any, len(row))
	for i, v := range row {
		switch {
		case v.Kind == dump.Null || v.IsZeroDate():
			out[i] = nil
		case v.IsBinary():
			out[i] = v.Bytes()
		case v.Kind == dump.String:
			out[i] = v.Text
		default:
			out[i] = v.Raw
		}
	}
	return out
}

// CSVSource yields CSV records as rows of strings.
type CSVSource struct {
	r *csvio.Reader
	// EmptyAsNull loads empty cells as NULL.
	EmptyAsNull bool
}

// NewCSVSource reads the header line from r.
func NewCSVSource(r io.Reader, emptyAsNull bool) (*CSVSource, error) {
	cr, err := csvio.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &CSVSource{r: cr, EmptyAsNull: emptyAsNull}, nil
}

// Header returns the CSV header.
func (s *CSVSource) Header() []string { return s.r.Header() }

func (s *CSVSource) Next() ([]any, error) {
	rec, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil && !errors.Is(err, csvio.ErrWidth) {
		return nil, err
	}
	// Width mismatches are padded or trimmed by the loader.
	out := make([]any, len(rec.Fields))
	for i, f := range rec.Fields {
		if f == "" && s.EmptyAsNull {
			out[i] = nil
			continue
		}
		out[i] = f
	}
	return out, nil
}
