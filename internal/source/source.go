// Package source pulls tables straight from the legacy MySQL server.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/joestump/menuca-migrate/internal/csvio"
)

// Open connects to MySQL. Times stay strings and the connection charset is
// utf8mb4 so values come back exactly as mysqldump would write them.
func Open(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]string, 1)
	}
	cfg.Params["charset"] = "utf8mb4"
	cfg.ParseTime = false

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return db, nil
}

// Column is one column of a source table.
type Column struct {
	Name     string
	DataType string
}

// Binary reports whether the column holds raw bytes.
func (c Column) Binary() bool {
	switch strings.ToLower(c.DataType) {
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return true
	}
	return false
}

const columnsQuery = `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY ordinal_position`

// Columns lists the columns of table in the current database.
func Columns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, columnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return cols, nil
}

// PullOptions narrows a Pull.
type PullOptions struct {
	// Columns limits the export to these columns, in this order.
	Columns    []string
	Where      string
	OrderBy    string
	NullMarker string
	Logger     *zap.Logger
}

// PullResult tallies a Pull.
type PullResult struct {
	Table   string
	Columns []string
	Rows    int
}

// Pull writes table to out as CSV. Binary columns are selected through HEX()
// and written as 0x-prefixed cells, the same shape extract produces from a
// dump.
func Pull(ctx context.Context, db *sql.DB, table string, out io.Writer, opts PullOptions) (*PullResult, error) {
	cols, err := Columns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if len(opts.Columns) > 0 {
		if cols, err = pick(cols, opts.Columns); err != nil {
			return nil, err
		}
	}
	query := selectQuery(table, cols, opts)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	w, err := csvio.NewWriter(out, names)
	if err != nil {
		return nil, err
	}

	res := &PullResult{Table: table, Columns: names}
	vals := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range vals {
		dest[i] = &vals[i]
	}
	record := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return res, fmt.Errorf("scan %s row %d: %w", table, res.Rows+1, err)
		}
		for i, v := range vals {
			switch {
			case !v.Valid:
				record[i] = opts.NullMarker
			case cols[i].Binary():
				record[i] = "0x" + v.String
			default:
				record[i] = v.String
			}
		}
		if err := w.Write(record); err != nil {
			return res, err
		}
		res.Rows++
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("iterate %s: %w", table, err)
	}
	if err := w.Flush(); err != nil {
		return res, fmt.Errorf("flush csv: %w", err)
	}
	if opts.Logger != nil {
		opts.Logger.Info("pulled", zap.String("table", table), zap.Int("rows", res.Rows))
	}
	return res, nil
}

func pick(cols []Column, names []string) ([]Column, error) {
	byName := make(map[string]Column, len(cols))
	for _, c := range cols {
		byName[strings.ToLower(c.Name)] = c
	}
	out := make([]Column, 0, len(names))
	for _, n := range names {
		c, ok := byName[strings.ToLower(n)]
		if !ok {
			return nil, fmt.Errorf("column %q not found", n)
		}
		out = append(out, c)
	}
	return out, nil
}

func selectQuery(table string, cols []Column, opts PullOptions) string {
	exprs := make([]string, len(cols))
	for i, c := range cols {
		if c.Binary() {
			exprs[i] = "HEX(" + quote(c.Name) + ")"
		} else {
			exprs[i] = quote(c.Name)
		}
	}
	q := "SELECT " + strings.Join(exprs, ", ") + " FROM " + quote(table)
	if opts.Where != "" {
		q += " WHERE " + opts.Where
	}
	if opts.OrderBy != "" {
		q += " ORDER BY " + opts.OrderBy
	}
	return q
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
