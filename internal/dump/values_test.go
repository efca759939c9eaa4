package dump

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseValues(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Row
	}{
		{
			name: "mixed literals",
			in:   `(1,'a,b','it''s',NULL),(2,'x),(y',"dq",0x4142);`,
			want: []Row{
				{
					{Kind: Number, Raw: "1", Text: "1"},
					{Kind: String, Raw: "'a,b'", Text: "a,b"},
					{Kind: String, Raw: "'it''s'", Text: "it's"},
					{Kind: Null, Raw: "NULL"},
				},
				{
					{Kind: Number, Raw: "2", Text: "2"},
					{Kind: String, Raw: "'x),(y'", Text: "x),(y"},
					{Kind: String, Raw: `"dq"`, Text: "dq"},
					{Kind: Hex, Raw: "0x4142", Text: "4142"},
				},
			},
		},
		{
			name: "backslash escapes",
			in:   `('a\'b','c\\','line\nbreak')`,
			want: []Row{{
				{Kind: String, Raw: `'a\'b'`, Text: "a'b"},
				{Kind: String, Raw: `'c\\'`, Text: `c\`},
				{Kind: String, Raw: `'line\nbreak'`, Text: "line\nbreak"},
			}},
		},
		{
			name: "whitespace between rows",
			in:   " (1, 'a') ,\n\t(2,'b');\n",
			want: []Row{
				{{Kind: Number, Raw: "1", Text: "1"}, {Kind: String, Raw: "'a'", Text: "a"}},
				{{Kind: Number, Raw: "2", Text: "2"}, {Kind: String, Raw: "'b'", Text: "b"}},
			},
		},
		{
			name: "nested expression stays one field",
			in:   `(1,CONCAT('a','b'),CURRENT_TIMESTAMP)`,
			want: []Row{{
				{Kind: Number, Raw: "1", Text: "1"},
				{Kind: Bare, Raw: "CONCAT('a','b')", Text: "CONCAT('a','b')"},
				{Kind: Bare, Raw: "CURRENT_TIMESTAMP", Text: "CURRENT_TIMESTAMP"},
			}},
		},
		{
			name: "binary introducer",
			in:   `(_binary 'AB',_utf8mb4'c')`,
			want: []Row{{
				{Kind: String, Raw: "_binary 'AB'", Text: "AB", Binary: true},
				{Kind: String, Raw: "_utf8mb4'c'", Text: "c"},
			}},
		},
		{
			name: "empty tuple",
			in:   `()`,
			want: []Row{{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseValues(tt.in)
			if err != nil {
				t.Fatalf("ParseValues: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseValuesErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"unterminated string", `(1,'abc`, ErrUnterminatedString},
		{"unclosed row", `(1,2`, ErrUnbalancedParens},
		{"stray close", `(1),2)`, nil},
		{"no tuples", ``, ErrNoValues},
		{"trailing garbage", `(1); DROP TABLE x`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseValues(tt.in)
			if err == nil {
				t.Fatal("expected error")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseValuesPostgres(t *testing.T) {
	rows, err := ParseValuesDialect(`(1,E'line\nbreak','C:\path','it''s')`, Postgres)
	if err != nil {
		t.Fatalf("ParseValuesDialect: %v", err)
	}
	want := []string{"1", "line\nbreak", `C:\path`, "it's"}
	if len(rows) != 1 || len(rows[0]) != len(want) {
		t.Fatalf("unexpected shape: %+v", rows)
	}
	for i, w := range want {
		if rows[0][i].Text != w {
			t.Errorf("field %d: expected %q, got %q", i, w, rows[0][i].Text)
		}
	}
}

func TestRawRow(t *testing.T) {
	rows, err := ParseValues(`(1, 'a''b' ,NULL)`)
	if err != nil {
		t.Fatalf("ParseValues: %v", err)
	}
	if got := RawRow(rows[0]); got != `(1,'a''b',NULL)` {
		t.Fatalf("unexpected raw row %q", got)
	}
}

func TestUnescape(t *testing.T) {
	tests := map[string]string{
		`plain`:     "plain",
		`a\nb`:      "a\nb",
		`tab\there`: "tab\there",
		`nul\0`:     "nul\x00",
		`\\`:        `\`,
		`\'\"`:      `'"`,
		`50\%`:      `50\%`,
		`a\_b`:      `a\_b`,
		`\q`:        "q",
		`ctrl\Z`:    "ctrl\x1a",
	}
	for in, want := range tests {
		if got := Unescape(in); got != want {
			t.Errorf("Unescape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValueCell(t *testing.T) {
	rows, err := ParseValues(`(NULL,'txt',0xabcd,_binary 'AB',42,'0000-00-00 00:00:00')`)
	if err != nil {
		t.Fatalf("ParseValues: %v", err)
	}
	r := rows[0]
	want := []string{`\N`, "txt", "0xABCD", "0x4142", "42", "0000-00-00 00:00:00"}
	for i, w := range want {
		if got := r[i].Cell(`\N`); got != w {
			t.Errorf("cell %d: expected %q, got %q", i, w, got)
		}
	}
	if !r[5].IsZeroDate() {
		t.Error("expected zero date")
	}
	if !r[2].IsBinary() || !r[3].IsBinary() || r[1].IsBinary() {
		t.Error("unexpected IsBinary result")
	}
	if got := string(r[2].Bytes()); got != "\xab\xcd" {
		t.Errorf("unexpected hex bytes %q", got)
	}
}
