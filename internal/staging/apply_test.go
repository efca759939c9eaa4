package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
)

type memLedger struct {
	applied map[string]string
	runs    map[string]string
}

func (l *memLedger) IsApplied(path, sum string) (bool, error) {
	return l.applied[path] == sum, nil
}

func (l *memLedger) MarkApplied(path, sum, runID string) error {
	l.applied[path] = sum
	l.runs[path] = runID
	return nil
}

func writeSQL(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApply(t *testing.T) {
	dir := t.TempDir()
	a := writeSQL(t, dir, "v1_menu_batch_001.sql", "INSERT INTO t VALUES (1);\n")
	b := writeSQL(t, dir, "v1_menu_batch_002.sql", "BEGIN;\n\nINSERT INTO t VALUES (2);\n\nCOMMIT;\n")
	c := writeSQL(t, dir, "v1_menu_batch_003.sql", "INSERT INTO t VALUES ('x');\n")

	sum := sha256.Sum256([]byte("INSERT INTO t VALUES (1);\n"))
	ledger := &memLedger{
		applied: map[string]string{a: hex.EncodeToString(sum[:])},
		runs:    map[string]string{},
	}

	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO t VALUES \(2\);`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO t VALUES ('x');")).WillReturnError(errors.New("invalid input syntax"))
	mock.ExpectRollback()

	res, err := Apply(context.Background(), db, []string{c, b, a}, ledger, ApplyOptions{RunID: "run-1"})
	if err == nil {
		t.Fatal("expected the third file to fail")
	}
	if diff := cmp.Diff([]string{a}, res.Skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{b}, res.Applied); diff != "" {
		t.Errorf("applied mismatch (-want +got):\n%s", diff)
	}
	if ledger.runs[b] != "run-1" {
		t.Errorf("expected %s recorded for run-1, got %q", b, ledger.runs[b])
	}
	if _, ok := ledger.applied[c]; ok {
		t.Error("failed file must not be recorded")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
