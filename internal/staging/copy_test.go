package staging

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeConn struct {
	txs []*fakeTx
	// failChunk makes the CopyFrom of that 1-based transaction fail.
	failChunk int
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{conn: c, n: len(c.txs) + 1}
	c.txs = append(c.txs, tx)
	return tx, nil
}

// fakeTx implements the pgx.Tx methods the loader calls. Others panic.
type fakeTx struct {
	pgx.Tx
	conn       *fakeConn
	n          int
	execs      []string
	table      pgx.Identifier
	columns    []string
	rows       [][]any
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	t.table, t.columns = table, columns
	for src.Next() {
		v, err := src.Values()
		if err != nil {
			return 0, err
		}
		t.rows = append(t.rows, v)
	}
	if t.n == t.conn.failChunk {
		return 0, errors.New("invalid input syntax for type integer")
	}
	return int64(len(t.rows)), nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

func TestCopyLoader(t *testing.T) {
	conn := &fakeConn{failChunk: 3}
	src, err := NewCSVSource(strings.NewReader("id,name\n1,a\n2,b\n3,c\n4\n"), true)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}
	l := &CopyLoader{
		Conn:      conn,
		Schema:    "staging",
		Table:     "v1_users",
		Columns:   []string{"id", "name"},
		ChunkSize: 2,
		Truncate:  true,
	}
	res, err := l.Load(context.Background(), src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Truncate, chunk 1, chunk 2 (fails).
	if len(conn.txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(conn.txs))
	}
	if diff := cmp.Diff([]string{`TRUNCATE TABLE "staging"."v1_users" CASCADE`}, conn.txs[0].execs); diff != "" {
		t.Errorf("truncate mismatch (-want +got):\n%s", diff)
	}
	first := conn.txs[1]
	if !first.committed || first.rolledBack {
		t.Error("first chunk should commit")
	}
	if diff := cmp.Diff(pgx.Identifier{"staging", "v1_users"}, first.table); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]any{{"1", "a"}, {"2", "b"}}, first.rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if last := conn.txs[2]; last.committed || !last.rolledBack {
		t.Error("failed chunk should roll back")
	}

	if res.Loaded != 2 || res.FailedRows != 2 || res.FailedBatches != 1 || res.Adjusted != 1 {
		t.Errorf("unexpected tally %+v", res)
	}
}

func TestCopyLoaderNeedsColumns(t *testing.T) {
	l := &CopyLoader{Conn: &fakeConn{}, Table: "t"}
	if _, err := l.Load(context.Background(), nil); err == nil {
		t.Fatal("expected error without columns")
	}
}
