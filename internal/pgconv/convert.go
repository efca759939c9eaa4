package pgconv

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/joestump/menuca-migrate/internal/dump"
)

// DefaultRowsPerStatement bounds the size of generated INSERT statements.
const DefaultRowsPerStatement = 1000

// Issue is a problem that caused rows to be skipped.
type Issue struct {
	Line    int
	Message string
}

// Result summarizes a conversion or split.
type Result struct {
	Table      string
	Target     string
	Rows       int
	Statements int
	Skipped    int
	Issues     []Issue
}

// Converter turns the INSERT statements of one table in a MySQL dump into
// PostgreSQL INSERT statements.
type Converter struct {
	// Table is the source table. Empty selects the only table in the dump.
	Table string
	// Schema and Target name the destination table. Target defaults to the
	// source table name.
	Schema string
	Target string
	// Columns overrides the column list. Without it the CREATE TABLE or the
	// INSERT column list is used, and failing both no list is written.
	Columns          []string
	RowsPerStatement int
	Logger           *zap.Logger
}

// TargetName returns the quoted destination of the conversion.
func (c *Converter) TargetName(source string) string {
	target := c.Target
	if target == "" {
		target = source
	}
	return QualifiedName(c.Schema, target)
}

// Convert reads a dump from in and writes statements to sink. The sink is
// not closed.
func (c *Converter) Convert(ctx context.Context, in io.Reader, sink Sink) (*Result, error) {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	per := c.RowsPerStatement
	if per <= 0 {
		per = DefaultRowsPerStatement
	}

	res := &Result{Table: c.Table}
	creates := map[string]*dump.CreateTable{}
	var (
		prefix string
		width  int
		batch  []string
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stmt := prefix + strings.Join(batch, ",\n") + ";"
		if err := sink.WriteStatement(stmt); err != nil {
			return fmt.Errorf("write statement: %w", err)
		}
		res.Statements++
		res.Rows += len(batch)
		batch = batch[:0]
		return nil
	}

	sc := dump.NewScanner(in)
	for sc.Next() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		st := sc.Statement()
		switch st.Kind {
		case dump.CreateTableStmt:
			if st.Create != nil {
				creates[strings.ToLower(st.Table)] = st.Create
			}
			continue
		case dump.Insert:
		default:
			continue
		}

		if res.Table == "" {
			res.Table = st.Table
		}
		if !strings.EqualFold(st.Table, res.Table) {
			if c.Table == "" {
				return res, fmt.Errorf("%w: %s and %s", dump.ErrAmbiguousTable, res.Table, st.Table)
			}
			continue
		}
		if st.Err != nil {
			res.Issues = append(res.Issues, Issue{Line: st.Line, Message: st.Err.Error()})
			log.Warn("skipping unparseable INSERT", zap.Int("line", st.Line), zap.Error(st.Err))
			continue
		}

		if prefix == "" {
			cols := c.Columns
			if len(cols) == 0 {
				if ct := creates[strings.ToLower(res.Table)]; ct != nil {
					cols = ct.ColumnNames()
				} else {
					cols = st.Columns
				}
			}
			width = len(cols)
			res.Target = c.TargetName(res.Table)
			prefix = "INSERT INTO " + res.Target + " "
			if width > 0 {
				prefix += columnList(cols) + " "
			}
			prefix += "VALUES\n"
		}

		for _, row := range st.Rows {
			if width > 0 && len(row) != width {
				res.Skipped++
				res.Issues = append(res.Issues, Issue{
					Line:    st.Line,
					Message: fmt.Sprintf("row has %d fields, expected %d", len(row), width),
				})
				continue
			}
			batch = append(batch, rowLiteral(row))
			if len(batch) >= per {
				if err := flush(); err != nil {
					return res, err
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("scan dump: %w", err)
	}
	if err := flush(); err != nil {
		return res, err
	}
	if res.Statements == 0 && len(res.Issues) == 0 {
		return res, fmt.Errorf("table %q: no rows to convert", res.Table)
	}
	log.Debug("converted", zap.String("table", res.Table), zap.Int("rows", res.Rows), zap.Int("statements", res.Statements))
	return res, nil
}

func rowLiteral(row dump.Row) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = Literal(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
