package source

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSelectQuery(t *testing.T) {
	cols := []Column{{Name: "id", DataType: "int"}, {Name: "hideOnDays", DataType: "BLOB"}, {Name: "na`me", DataType: "varchar"}}
	got := selectQuery("menu", cols, PullOptions{Where: "restaurant = 72", OrderBy: "id"})
	want := "SELECT `id`, HEX(`hideOnDays`), `na``me` FROM `menu` WHERE restaurant = 72 ORDER BY id"
	if got != want {
		t.Errorf("expected\n%s\ngot\n%s", want, got)
	}
}

func TestPull(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close() //nolint:errcheck

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("menu").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "int").
			AddRow("name", "varchar").
			AddRow("hideOnDays", "blob"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, HEX(`hideOnDays`) FROM `menu` ORDER BY id")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "hideOnDays"}).
			AddRow("1", "613A303A7B7D").
			AddRow("2", nil))

	var out bytes.Buffer
	res, err := Pull(context.Background(), db, "menu", &out, PullOptions{
		Columns:    []string{"id", "hideondays"},
		OrderBy:    "id",
		NullMarker: `\N`,
	})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if res.Rows != 2 {
		t.Errorf("expected 2 rows, got %d", res.Rows)
	}
	want := strings.Join([]string{"id,hideOnDays", "1,0x613A303A7B7D", `2,\N`}, "\n") + "\n"
	if out.String() != want {
		t.Errorf("unexpected csv:\n%s", out.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPullUnknownColumn(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close() //nolint:errcheck

	mock.ExpectQuery("information_schema").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).AddRow("id", "int"))

	_, err = Pull(context.Background(), db, "menu", &bytes.Buffer{}, PullOptions{Columns: []string{"price"}})
	if err == nil || !strings.Contains(err.Error(), `"price"`) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestOpenRejectsBadDSN(t *testing.T) {
	if _, err := Open("not a dsn"); err == nil {
		t.Error("expected parse error")
	}
}
