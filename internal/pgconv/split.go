package pgconv

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/joestump/menuca-migrate/internal/dump"
)

var txControlRe = regexp.MustCompile(`(?i)^(BEGIN|COMMIT|START\s+TRANSACTION|END)\s*;?$`)

// SplitFile re-chunks the INSERT statements of a PostgreSQL file into
// statements of at most rows tuples each. Other statements pass through,
// except transaction control, which the sink adds itself when configured.
func SplitFile(ctx context.Context, in io.Reader, sink Sink, rows int) (*Result, error) {
	if rows <= 0 {
		rows = DefaultRowsPerStatement
	}
	res := &Result{}
	sc := dump.NewScanner(in, dump.WithDialect(dump.Postgres), dump.KeepSQL())
	for sc.Next() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		st := sc.Statement()
		if st.Kind != dump.Insert {
			if txControlRe.MatchString(st.SQL) {
				continue
			}
			if err := sink.WriteStatement(st.SQL); err != nil {
				return res, fmt.Errorf("write statement: %w", err)
			}
			continue
		}
		if st.Err != nil {
			res.Issues = append(res.Issues, Issue{Line: st.Line, Message: st.Err.Error()})
			res.Skipped++
			continue
		}
		if res.Table == "" {
			res.Table = st.Table
		}

		prefix := "INSERT INTO " + rawQualified(st.Schema, st.Table) + " "
		if len(st.Columns) > 0 {
			quoted := make([]string, len(st.Columns))
			for i, c := range st.Columns {
				quoted[i] = quoteIdent(c)
			}
			prefix += "(" + strings.Join(quoted, ", ") + ") "
		}
		prefix += "VALUES\n"
		if res.Target == "" {
			res.Target = rawQualified(st.Schema, st.Table)
		}

		for start := 0; start < len(st.Rows); start += rows {
			end := min(start+rows, len(st.Rows))
			tuples := make([]string, 0, end-start)
			for _, r := range st.Rows[start:end] {
				tuples = append(tuples, dump.RawRow(r))
			}
			if err := sink.WriteStatement(prefix + strings.Join(tuples, ",\n") + ";"); err != nil {
				return res, fmt.Errorf("write statement: %w", err)
			}
			res.Statements++
			res.Rows += end - start
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("scan sql: %w", err)
	}
	return res, nil
}

func rawQualified(schema, table string) string {
	if schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}
