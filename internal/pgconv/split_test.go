package pgconv

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitFile(t *testing.T) {
	in := "-- header\n" +
		"BEGIN;\n" +
		"SET search_path TO staging;\n" +
		"INSERT INTO staging.v1_menu (\"id\",\"name\") VALUES (1,'a'),(2,'x),(y'),(3,E'it\\'s');\n" +
		"COMMIT;\n"

	var out bytes.Buffer
	sink := NewWriterSink(&out, Header{}, false)
	res, err := SplitFile(context.Background(), strings.NewReader(in), sink, 2)
	if err != nil {
		t.Fatalf("SplitFile: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := "-- Converted from MySQL to PostgreSQL\n\n" +
		"SET search_path TO staging;\n" +
		"INSERT INTO \"staging\".\"v1_menu\" (\"id\", \"name\") VALUES\n" +
		"(1,'a'),\n" +
		"(2,'x),(y');\n" +
		"INSERT INTO \"staging\".\"v1_menu\" (\"id\", \"name\") VALUES\n" +
		"(3,E'it\\'s');\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if res.Rows != 3 || res.Statements != 2 || res.Table != "v1_menu" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSplitFileKeepsBytea(t *testing.T) {
	in := `INSERT INTO t VALUES (1,'\x6162'::bytea),(2,NULL);`
	var out bytes.Buffer
	sink := NewWriterSink(&out, Header{}, false)
	if _, err := SplitFile(context.Background(), strings.NewReader(in), sink, 1); err != nil {
		t.Fatalf("SplitFile: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !strings.Contains(out.String(), `(1,'\x6162'::bytea);`) {
		t.Errorf("bytea cast not preserved: %q", out.String())
	}
}
