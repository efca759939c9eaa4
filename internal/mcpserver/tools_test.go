package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/menuca-migrate/internal/db"
)

// --- Fake Ledger ---

type fakeRuns struct {
	runs      []db.Run
	issues    map[string][]db.Issue
	listErr   error
	lastKind  string
	lastLimit int
}

func (f *fakeRuns) GetRun(id string) (*db.Run, error) {
	for i := range f.runs {
		if strings.HasPrefix(f.runs[i].ID, id) {
			return &f.runs[i], nil
		}
	}
	return nil, nil
}

func (f *fakeRuns) ListRuns(kind string, limit, _ int) ([]db.Run, error) {
	f.lastKind, f.lastLimit = kind, limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []db.Run
	for _, r := range f.runs {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuns) ListIssues(runID string, limit int) ([]db.Issue, error) {
	is := f.issues[runID]
	if len(is) > limit {
		is = is[:limit]
	}
	return is, nil
}

// --- Helpers ---

func makeRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("result content is %T, not TextContent", result.Content[0])
	}
	return tc.Text
}

func decodeResult(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %s", resultText(t, result))
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), v); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
}

func ptr(s string) *string { return &s }

// --- Tests ---

func TestTools_LedgerOptional(t *testing.T) {
	names := func(s *Server) []string {
		var out []string
		for _, tool := range s.Tools() {
			out = append(out, tool.Tool.Name)
		}
		return out
	}
	if diff := cmp.Diff([]string{"parse_values", "unserialize_php"}, names(NewServer(nil, nil))); diff != "" {
		t.Errorf("tools without ledger (-want +got):\n%s", diff)
	}
	want := []string{"parse_values", "unserialize_php", "list_runs", "run_issues"}
	if diff := cmp.Diff(want, names(NewServer(&fakeRuns{}, nil))); diff != "" {
		t.Errorf("tools with ledger (-want +got):\n%s", diff)
	}
}

func TestParseValues_Clause(t *testing.T) {
	s := NewServer(nil, nil)
	result, err := s.handleParseValues(context.Background(), makeRequest("parse_values", map[string]any{
		"sql":         `(1,'it\'s',NULL),(2,0xABCD,'a,b');`,
		"null_marker": `\N`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got parseValuesResult
	decodeResult(t, result, &got)

	want := parseValuesResult{
		Total: 2,
		Rows:  [][]string{{"1", "it's", `\N`}, {"2", "0xABCD", "a,b"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestParseValues_InsertStatement(t *testing.T) {
	s := NewServer(nil, nil)
	result, err := s.handleParseValues(context.Background(), makeRequest("parse_values", map[string]any{
		"sql":   "INSERT INTO `menu` (`id`,`name`) VALUES (1,'Pizza'),(2,'Subs'),(3,'Wings');",
		"limit": 2,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got parseValuesResult
	decodeResult(t, result, &got)

	if got.Table != "menu" {
		t.Errorf("expected table menu, got %q", got.Table)
	}
	if diff := cmp.Diff([]string{"id", "name"}, got.Columns); diff != "" {
		t.Errorf("columns (-want +got):\n%s", diff)
	}
	if got.Total != 3 || len(got.Rows) != 2 || !got.Truncated {
		t.Errorf("expected 2 of 3 rows truncated, got total=%d rows=%d truncated=%v", got.Total, len(got.Rows), got.Truncated)
	}
}

func TestParseValues_CreateTableHeader(t *testing.T) {
	s := NewServer(nil, nil)
	result, err := s.handleParseValues(context.Background(), makeRequest("parse_values", map[string]any{
		"sql": "CREATE TABLE `deals` (`id` int NOT NULL, `days` blob);\nINSERT INTO `deals` VALUES (1,_binary 'AB');",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got parseValuesResult
	decodeResult(t, result, &got)
	want := parseValuesResult{Table: "deals", Columns: []string{"id", "days"}, Total: 1, Rows: [][]string{{"1", "0x4142"}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestParseValues_Postgres(t *testing.T) {
	s := NewServer(nil, nil)
	result, err := s.handleParseValues(context.Background(), makeRequest("parse_values", map[string]any{
		"sql":     `(1,'C:\x',E'a\nb')`,
		"dialect": "postgres",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got parseValuesResult
	decodeResult(t, result, &got)
	if diff := cmp.Diff([][]string{{"1", `C:\x`, "a\nb"}}, got.Rows); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
}

func TestParseValues_Errors(t *testing.T) {
	s := NewServer(nil, nil)
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"empty", map[string]any{"sql": "  "}, "required"},
		{"dialect", map[string]any{"sql": "(1)", "dialect": "oracle"}, "unknown dialect"},
		{"unterminated", map[string]any{"sql": "(1,'abc)"}, "unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleParseValues(context.Background(), makeRequest("parse_values", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected tool error")
			}
			if text := resultText(t, result); !strings.Contains(text, tt.want) {
				t.Errorf("expected %q in error, got: %s", tt.want, text)
			}
		})
	}
}

func TestUnserialize_JSON(t *testing.T) {
	s := NewServer(nil, nil)
	result, err := s.handleUnserialize(context.Background(), makeRequest("unserialize_php", map[string]any{
		"data": `a:2:{i:0;s:1:"1";i:1;s:1:"8";}`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got unserializeResult
	decodeResult(t, result, &got)

	var values []string
	if err := json.Unmarshal(got.JSON, &values); err != nil {
		t.Fatalf("json field: %v", err)
	}
	if diff := cmp.Diff([]string{"1", "8"}, values); diff != "" {
		t.Errorf("values (-want +got):\n%s", diff)
	}
	if got.Rows != nil {
		t.Errorf("expected no rows without a decoder, got %v", got.Rows)
	}
}

func TestUnserialize_Decoder(t *testing.T) {
	s := NewServer(nil, nil)
	result, err := s.handleUnserialize(context.Background(), makeRequest("unserialize_php", map[string]any{
		"data":    `a:3:{i:0;s:1:"1";i:1;s:1:"9";i:2;s:1:"7";}`,
		"decoder": "weekdays",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got unserializeResult
	decodeResult(t, result, &got)

	if diff := cmp.Diff([]string{"days"}, got.Columns); diff != "" {
		t.Errorf("columns (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{`["mon","sun"]`}}, got.Rows); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
	if len(got.Skipped) != 1 || !strings.Contains(got.Skipped[0], `"9"`) {
		t.Errorf("expected the unknown day to be reported, got %v", got.Skipped)
	}
}

func TestUnserialize_Errors(t *testing.T) {
	s := NewServer(nil, nil)
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"empty", map[string]any{"data": ""}, "empty"},
		{"decoder", map[string]any{"data": "i:1;", "decoder": "nope"}, "not registered"},
		{"syntax", map[string]any{"data": `s:10:"short";`}, "unserialize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleUnserialize(context.Background(), makeRequest("unserialize_php", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected tool error")
			}
			if text := resultText(t, result); !strings.Contains(text, tt.want) {
				t.Errorf("expected %q in error, got: %s", tt.want, text)
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	runs := &fakeRuns{runs: []db.Run{
		{ID: "aaa111", Kind: "extract", TableName: "menu", Status: db.StatusCompleted, RowsOut: 42, StartedAt: "2026-01-01T00:00:00Z", EndedAt: ptr("2026-01-01T00:00:05Z")},
		{ID: "bbb222", Kind: "load", TableName: "menu", Status: db.StatusFailed, Errors: 3, StartedAt: "2026-01-01T00:01:00Z"},
	}}
	s := NewServer(runs, nil)

	result, err := s.handleListRuns(context.Background(), makeRequest("list_runs", map[string]any{"kind": "extract"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []runResult
	decodeResult(t, result, &got)

	if runs.lastKind != "extract" || runs.lastLimit != 20 {
		t.Errorf("expected kind=extract limit=20, got kind=%q limit=%d", runs.lastKind, runs.lastLimit)
	}
	if len(got) != 1 || got[0].ID != "aaa111" || got[0].RowsOut != 42 || got[0].Table != "menu" {
		t.Errorf("unexpected runs: %+v", got)
	}
}

func TestListRuns_Error(t *testing.T) {
	s := NewServer(&fakeRuns{listErr: errors.New("database is locked")}, nil)
	result, err := s.handleListRuns(context.Background(), makeRequest("list_runs", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "locked") {
		t.Errorf("expected ledger error, got: %s", resultText(t, result))
	}
}

func TestRunIssues(t *testing.T) {
	runs := &fakeRuns{
		runs: []db.Run{{ID: "abc123def", Kind: "extract", TableName: "deals", Status: db.StatusCompleted}},
		issues: map[string][]db.Issue{
			"abc123def": {
				{Level: "warn", Line: 12, Message: "row 3: expected 9 fields, got 8"},
				{Level: "warn", Line: 40, Message: "row 17: expected 9 fields, got 10"},
			},
		},
	}
	s := NewServer(runs, nil)

	result, err := s.handleRunIssues(context.Background(), makeRequest("run_issues", map[string]any{"run_id": "abc", "limit": 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got runIssuesResult
	decodeResult(t, result, &got)

	if got.Run.ID != "abc123def" {
		t.Errorf("expected prefix to resolve to abc123def, got %q", got.Run.ID)
	}
	want := []issueResult{{Level: "warn", Line: 12, Message: "row 3: expected 9 fields, got 8"}}
	if diff := cmp.Diff(want, got.Issues); diff != "" {
		t.Errorf("issues (-want +got):\n%s", diff)
	}
}

func TestRunIssues_NotFound(t *testing.T) {
	s := NewServer(&fakeRuns{}, nil)
	for _, args := range []map[string]any{{}, {"run_id": "zzz"}} {
		result, err := s.handleRunIssues(context.Background(), makeRequest("run_issues", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("expected tool error for %v", args)
		}
	}
}
