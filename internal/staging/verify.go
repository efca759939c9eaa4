package staging

import (
	"context"
	"fmt"
)

// Verification compares a table's row count with the expected count.
type Verification struct {
	Table    string
	Expected int64
	Actual   int64
}

// Match reports whether the counts agree.
func (v Verification) Match() bool { return v.Expected == v.Actual }

func (v Verification) String() string {
	if v.Match() {
		return fmt.Sprintf("%s: %d rows, as expected", v.Table, v.Actual)
	}
	return fmt.Sprintf("%s: %d rows, expected %d (diff %+d)", v.Table, v.Actual, v.Expected, v.Actual-v.Expected)
}

// Verify counts the rows of schema.table.
func Verify(ctx context.Context, q Querier, schema, table string, expected int64) (*Verification, error) {
	target := tableIdent(schema, table).Sanitize()
	v := &Verification{Table: target, Expected: expected}
	if err := q.QueryRowContext(ctx, "SELECT count(*) FROM "+target).Scan(&v.Actual); err != nil {
		return nil, fmt.Errorf("count %s: %w", target, err)
	}
	return v, nil
}
