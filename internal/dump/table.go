package dump

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrAmbiguousTable is returned when no table is named and the dump holds
// INSERT statements for more than one table.
var ErrAmbiguousTable = errors.New("dump contains more than one table")

// TableData is everything a dump holds for one table.
type TableData struct {
	Table  string
	Create *CreateTable
	// Columns comes from CREATE TABLE when present, else from the first
	// INSERT column list. It is nil when neither exists.
	Columns []string
	Rows    []Row
	// Failed lists INSERT statements that could not be tokenized.
	Failed []error
}

// ReadTable collects the rows of table from a dump. An empty table name
// selects the only table with INSERT statements.
func ReadTable(r io.Reader, table string, opts ...Option) (*TableData, error) {
	sc := NewScanner(r, opts...)
	td := &TableData{Table: table}
	creates := map[string]*CreateTable{}

	for sc.Next() {
		st := sc.Statement()
		switch st.Kind {
		case CreateTableStmt:
			if st.Create != nil {
				creates[strings.ToLower(st.Table)] = st.Create
			}
		case Insert:
			if td.Table == "" {
				td.Table = st.Table
			}
			if !strings.EqualFold(st.Table, td.Table) {
				if table == "" {
					return nil, fmt.Errorf("%w: %s and %s", ErrAmbiguousTable, td.Table, st.Table)
				}
				continue
			}
			if st.Err != nil {
				td.Failed = append(td.Failed, st.Err)
				continue
			}
			if td.Columns == nil && len(st.Columns) > 0 {
				td.Columns = st.Columns
			}
			td.Rows = append(td.Rows, st.Rows...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan dump: %w", err)
	}

	if ct, ok := creates[strings.ToLower(td.Table)]; ok {
		td.Create = ct
		td.Columns = ct.ColumnNames()
	} else if td.Table == "" && len(creates) == 1 {
		for _, ct := range creates {
			td.Create = ct
			td.Table = ct.Name
			td.Columns = ct.ColumnNames()
		}
	}
	return td, nil
}
