// Package extract turns the INSERT statements of a mysqldump file into a CSV
// file with one record per row.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/joestump/menuca-migrate/internal/csvio"
	"github.com/joestump/menuca-migrate/internal/dump"
)

// ErrNoInserts is returned when the dump has no rows for the chosen table.
var ErrNoInserts = errors.New("no INSERT statements found")

// Options controls a single extraction.
type Options struct {
	// Table selects the table to extract. Empty means the only table with
	// INSERT statements.
	Table string
	// Headers overrides the CSV header.
	Headers []string
	// Exclude drops the named columns from the output. It needs a header
	// from CREATE TABLE, an INSERT column list or Headers.
	Exclude []string
	// NullMarker is written for NULL values. The default is the empty string.
	NullMarker string
	// Charset of the dump: utf8 (default), latin1, cp1252 or binary.
	Charset string
	// Strict makes the first row width mismatch fatal.
	Strict bool
	Logger *zap.Logger
}

// Issue is a row-level problem that did not stop the extraction.
type Issue struct {
	// Row is the 1-based position of the row among the table's rows. It is
	// zero for statement-level issues.
	Row     int
	Line    int
	Message string
}

// Result summarizes an extraction.
type Result struct {
	Table    string
	Columns  []string
	Rows     int
	Skipped  int
	Warnings []Issue
}

// Run streams a dump from in and writes the chosen table as CSV to out.
func Run(ctx context.Context, in io.Reader, out io.Writer, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r, err := dump.NewReader(in, opts.Charset)
	if err != nil {
		return nil, err
	}

	res := &Result{Table: opts.Table}
	e := &extractor{opts: opts, res: res, out: out, log: log, creates: map[string]*dump.CreateTable{}}

	sc := dump.NewScanner(r)
	for sc.Next() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.statement(sc.Statement()); err != nil {
			return res, err
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("scan dump: %w", err)
	}
	if e.w == nil {
		if res.Table == "" {
			return res, ErrNoInserts
		}
		return res, fmt.Errorf("table %s: %w", res.Table, ErrNoInserts)
	}
	if err := e.w.Flush(); err != nil {
		return res, fmt.Errorf("flush csv: %w", err)
	}
	res.Rows = e.w.Rows()
	return res, nil
}

type extractor struct {
	opts Options
	res  *Result
	out  io.Writer
	log  *zap.Logger

	creates map[string]*dump.CreateTable
	w       *csvio.Writer

	// width is the number of source fields per row, before exclusions.
	width int
	keep  []int
	seen  int
}

func (e *extractor) statement(st dump.Statement) error {
	switch st.Kind {
	case dump.CreateTableStmt:
		if st.Create != nil {
			e.creates[strings.ToLower(st.Table)] = st.Create
		}
		return nil
	case dump.Insert:
	default:
		return nil
	}

	if e.res.Table == "" {
		e.res.Table = st.Table
	}
	if !strings.EqualFold(st.Table, e.res.Table) {
		if e.opts.Table == "" {
			return fmt.Errorf("%w: %s and %s", dump.ErrAmbiguousTable, e.res.Table, st.Table)
		}
		return nil
	}
	if st.Err != nil {
		e.res.Skipped++
		e.warn(0, st.Line, fmt.Sprintf("skipping unparseable INSERT: %v", st.Err))
		return nil
	}

	for _, row := range st.Rows {
		e.seen++
		if e.w == nil {
			if err := e.start(st, len(row)); err != nil {
				return err
			}
		}
		if len(row) != e.width {
			msg := fmt.Sprintf("row has %d fields, header has %d", len(row), e.width)
			if e.opts.Strict {
				return fmt.Errorf("row %d (line %d): %s: %w", e.seen, st.Line, msg, csvio.ErrWidth)
			}
			e.res.Skipped++
			e.warn(e.seen, st.Line, msg)
			continue
		}
		if err := e.w.Write(e.cells(row)); err != nil {
			return err
		}
	}
	return nil
}

func (e *extractor) cells(row dump.Row) []string {
	if e.keep == nil {
		out := make([]string, len(row))
		for i, v := range row {
			out[i] = v.Cell(e.opts.NullMarker)
		}
		return out
	}
	out := make([]string, len(e.keep))
	for i, idx := range e.keep {
		out[i] = row[idx].Cell(e.opts.NullMarker)
	}
	return out
}

func (e *extractor) warn(row, line int, msg string) {
	e.res.Warnings = append(e.res.Warnings, Issue{Row: row, Line: line, Message: msg})
	e.log.Warn(msg, zap.String("table", e.res.Table), zap.Int("row", row), zap.Int("line", line))
}

// start decides the header from the first row of the table and opens the
// CSV writer. Explicit headers win over CREATE TABLE, which wins over the
// INSERT column list; generated col_N names are the last resort.
func (e *extractor) start(st dump.Statement, width int) error {
	var header []string
	switch {
	case len(e.opts.Headers) > 0:
		header = e.opts.Headers
	case e.creates[strings.ToLower(e.res.Table)] != nil:
		header = e.creates[strings.ToLower(e.res.Table)].ColumnNames()
	case len(st.Columns) > 0:
		header = st.Columns
	default:
		header = make([]string, width)
		for i := range header {
			header[i] = fmt.Sprintf("col_%d", i+1)
		}
	}
	e.width = len(header)
	e.res.Columns = header

	if len(e.opts.Exclude) > 0 {
		drop := make(map[string]bool, len(e.opts.Exclude))
		for _, c := range e.opts.Exclude {
			drop[strings.ToLower(c)] = true
		}
		e.keep = make([]int, 0, len(header))
		kept := make([]string, 0, len(header))
		for i, h := range header {
			if drop[strings.ToLower(h)] {
				e.log.Debug("excluding column", zap.String("column", h))
				continue
			}
			e.keep = append(e.keep, i)
			kept = append(kept, h)
		}
		e.res.Columns = kept
	}

	w, err := csvio.NewWriter(e.out, e.res.Columns)
	if err != nil {
		return err
	}
	e.w = w
	e.log.Debug("writing csv", zap.String("table", e.res.Table), zap.Strings("columns", e.res.Columns))
	return nil
}
