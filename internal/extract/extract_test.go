package extract

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joestump/menuca-migrate/internal/csvio"
	"github.com/joestump/menuca-migrate/internal/dump"
)

const dealsDump = "CREATE TABLE `deals` (\n" +
	"  `id` int NOT NULL,\n" +
	"  `name` varchar(50) DEFAULT NULL,\n" +
	"  `days` blob,\n" +
	"  PRIMARY KEY (`id`)\n" +
	");\n" +
	"INSERT INTO `deals` VALUES (1,'Two for one',0x613A313A7B7D),(2,NULL,NULL),(3,'short');\n" +
	"INSERT INTO `deals` VALUES (4,'it\\'s \"quoted\"',_binary 'ab');\n"

func TestRunUsesCreateTableHeader(t *testing.T) {
	var out bytes.Buffer
	res, err := Run(context.Background(), strings.NewReader(dealsDump), &out, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "id,name,days\n" +
		"1,Two for one,0x613A313A7B7D\n" +
		"2,,\n" +
		"4,\"it's \"\"quoted\"\"\",0x6162\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
	if res.Table != "deals" || res.Rows != 3 || res.Skipped != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Row != 3 || res.Warnings[0].Line != 7 {
		t.Errorf("unexpected warnings %+v", res.Warnings)
	}
}

func TestRunStrict(t *testing.T) {
	var out bytes.Buffer
	_, err := Run(context.Background(), strings.NewReader(dealsDump), &out, Options{Strict: true})
	if !errors.Is(err, csvio.ErrWidth) {
		t.Fatalf("expected ErrWidth, got %v", err)
	}
}

func TestRunExcludeAndNullMarker(t *testing.T) {
	var out bytes.Buffer
	res, err := Run(context.Background(), strings.NewReader(dealsDump), &out, Options{
		Exclude:    []string{"DAYS"},
		NullMarker: `\N`,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"id", "name"}, res.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.String(), "2,\\N\n") {
		t.Errorf("expected NULL marker in output, got %q", out.String())
	}
}

func TestRunHeaderFallbacks(t *testing.T) {
	tests := []struct {
		name string
		dump string
		opts Options
		want string
	}{
		{
			name: "insert column list",
			dump: "INSERT INTO t (a,b) VALUES (1,2);",
			want: "a,b\n1,2\n",
		},
		{
			name: "generated names",
			dump: "INSERT INTO t VALUES (1,2);",
			want: "col_1,col_2\n1,2\n",
		},
		{
			name: "explicit headers",
			dump: "INSERT INTO t (a,b) VALUES (1,2);",
			opts: Options{Headers: []string{"x", "y"}},
			want: "x,y\n1,2\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if _, err := Run(context.Background(), strings.NewReader(tt.dump), &out, tt.opts); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if out.String() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, out.String())
			}
		})
	}
}

func TestRunTableSelection(t *testing.T) {
	in := "INSERT INTO a VALUES (1);\nINSERT INTO b VALUES (2);\n"

	var out bytes.Buffer
	if _, err := Run(context.Background(), strings.NewReader(in), &out, Options{}); !errors.Is(err, dump.ErrAmbiguousTable) {
		t.Fatalf("expected ErrAmbiguousTable, got %v", err)
	}

	out.Reset()
	res, err := Run(context.Background(), strings.NewReader(in), &out, Options{Table: "b"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rows != 1 || out.String() != "col_1\n2\n" {
		t.Errorf("unexpected output %q (%+v)", out.String(), res)
	}

	out.Reset()
	if _, err := Run(context.Background(), strings.NewReader(in), &out, Options{Table: "c"}); !errors.Is(err, ErrNoInserts) {
		t.Fatalf("expected ErrNoInserts, got %v", err)
	}
}

func TestRunLatin1(t *testing.T) {
	var out bytes.Buffer
	in := "INSERT INTO t VALUES ('caf\xe9');"
	if _, err := Run(context.Background(), strings.NewReader(in), &out, Options{Charset: "latin1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "col_1\ncafé\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	if _, err := Run(ctx, strings.NewReader(dealsDump), &out, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
