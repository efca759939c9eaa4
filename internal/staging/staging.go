// Package staging loads extracted rows into the PostgreSQL staging schema.
package staging

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const columnsQuery = `SELECT column_name FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

// Columns returns the loadable columns of schema.table in ordinal order.
// Columns starting with an underscore hold load metadata and are left out.
func Columns(ctx context.Context, q Querier, schema, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, columnsQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close() //nolint:errcheck

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if strings.HasPrefix(name, "_") {
			continue
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s.%s has no columns or does not exist", schema, table)
	}
	return cols, nil
}

// Result tallies a load.
type Result struct {
	Table   string
	Rows    int
	Loaded  int
	Batches int
	// Adjusted counts rows padded with NULL or trimmed to the column count.
	Adjusted      int
	FailedRows    int
	FailedBatches int
	// Skipped counts rows the source could not produce.
	Skipped int
	Errors  []error
}

const maxResultErrors = 20

func (r *Result) addError(err error) {
	if len(r.Errors) < maxResultErrors {
		r.Errors = append(r.Errors, err)
	}
}

// fit pads row with nil or trims it to n values.
func fit(row []any, n int) ([]any, bool) {
	switch {
	case len(row) == n:
		return row, false
	case len(row) > n:
		return row[:n], true
	default:
		out := make([]any, n)
		copy(out, row)
		return out, true
	}
}

func tableIdent(schema, table string) pgx.Identifier {
	if schema == "" {
		return pgx.Identifier{table}
	}
	return pgx.Identifier{schema, table}
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
