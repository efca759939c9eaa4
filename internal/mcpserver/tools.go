package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/menuca-migrate/internal/blob"
	"github.com/joestump/menuca-migrate/internal/db"
	"github.com/joestump/menuca-migrate/internal/dump"
	"github.com/joestump/menuca-migrate/internal/phpser"
)

// --- Tool Definitions ---

func parseValuesTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"parse_values",
		"Split the VALUES clause of an INSERT statement (or whole INSERT statements, optionally with their CREATE TABLE) into rows of cells, the way extract writes them to CSV.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"sql": {
					"type": "string",
					"description": "Text after VALUES, or a complete INSERT statement"
				},
				"dialect": {
					"type": "string",
					"enum": ["mysql", "postgres"],
					"description": "Escaping rules of the input (default: mysql)"
				},
				"null_marker": {
					"type": "string",
					"description": "Cell written for NULL (default: empty string)"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum rows to return (default: 100)"
				}
			},
			"required": ["sql"]
		}`),
	)
}

func unserializeTool(decoders []string) mcp.Tool {
	enum, _ := json.Marshal(decoders)
	return mcp.NewToolWithRawSchema(
		"unserialize_php",
		"Decode a PHP-serialized BLOB (0x hex, MySQL-escaped or raw) to JSON, optionally through a domain decoder.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"data": {
					"type": "string",
					"description": "Serialized value as found in a dump or CSV cell"
				},
				"lenient": {
					"type": "boolean",
					"description": "Repair string lengths broken by charset conversion"
				},
				"decoder": {
					"type": "string",
					"enum": `+string(enum)+`,
					"description": "Domain decoder producing staging rows (optional)"
				}
			},
			"required": ["data"]
		}`),
	)
}

func listRunsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"list_runs",
		"List recent migration runs from the local ledger, newest first.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"kind": {
					"type": "string",
					"description": "Only runs of this kind, e.g. extract, convert, load (optional)"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum runs to return (default: 20)"
				}
			}
		}`),
	)
}

func runIssuesTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"run_issues",
		"Show one run and the row-level warnings and errors it recorded.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"run_id": {
					"type": "string",
					"description": "Run ID or a unique prefix of it"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum issues to return (default: 50)"
				}
			},
			"required": ["run_id"]
		}`),
	)
}

// --- Tool Handlers ---

type parseValuesArgs struct {
	SQL        string `json:"sql"`
	Dialect    string `json:"dialect"`
	NullMarker string `json:"null_marker"`
	Limit      int    `json:"limit"`
}

type parseValuesResult struct {
	Table     string     `json:"table,omitempty"`
	Columns   []string   `json:"columns,omitempty"`
	Total     int        `json:"total"`
	Rows      [][]string `json:"rows"`
	Truncated bool       `json:"truncated,omitempty"`
}

func (s *Server) handleParseValues(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args parseValuesArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if strings.TrimSpace(args.SQL) == "" {
		return mcp.NewToolResultError("sql is required"), nil
	}
	dialect := dump.MySQL
	switch strings.ToLower(args.Dialect) {
	case "", "mysql":
	case "postgres", "postgresql":
		dialect = dump.Postgres
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown dialect %q", args.Dialect)), nil
	}
	if args.Limit <= 0 {
		args.Limit = 100
	}

	var result parseValuesResult
	var rows []dump.Row
	if looksLikeInsert(args.SQL) {
		td, err := dump.ReadTable(strings.NewReader(args.SQL), "", dump.WithDialect(dialect))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(td.Failed) > 0 {
			return mcp.NewToolResultError(fmt.Sprintf("parse insert: %v", td.Failed[0])), nil
		}
		result.Table, result.Columns, rows = td.Table, td.Columns, td.Rows
	} else {
		var err error
		rows, err = dump.ParseValuesDialect(args.SQL, dialect)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("parse values: %v", err)), nil
		}
	}

	result.Total = len(rows)
	if len(rows) > args.Limit {
		rows = rows[:args.Limit]
		result.Truncated = true
	}
	result.Rows = make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = v.Cell(args.NullMarker)
		}
		result.Rows[i] = cells
	}
	return resultJSON(result)
}

func looksLikeInsert(s string) bool {
	head := strings.ToUpper(strings.TrimSpace(s))
	for _, kw := range []string{"INSERT", "REPLACE", "CREATE"} {
		if strings.HasPrefix(head, kw) {
			return true
		}
	}
	return false
}

type unserializeArgs struct {
	Data    string `json:"data"`
	Lenient bool   `json:"lenient"`
	Decoder string `json:"decoder"`
}

type unserializeResult struct {
	JSON    json.RawMessage `json:"json"`
	Repairs int             `json:"repairs,omitempty"`
	Columns []string        `json:"columns,omitempty"`
	Rows    [][]string      `json:"rows,omitempty"`
	Skipped []string        `json:"skipped,omitempty"`
}

func (s *Server) handleUnserialize(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args unserializeArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if phpser.IsEmpty(args.Data) {
		return mcp.NewToolResultError("data is empty"), nil
	}

	var dec blob.Decoder
	if args.Decoder != "" {
		var err error
		if dec, err = s.decoders.Resolve(args.Decoder); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	raw, err := phpser.DecodeInput(args.Data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var opts []phpser.Option
	if args.Lenient {
		opts = append(opts, phpser.Lenient())
	}
	res, err := phpser.Decode(raw, opts...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unserialize: %v", err)), nil
	}
	js, err := phpser.ToJSON(res.Value)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("to json: %v", err)), nil
	}

	out := unserializeResult{JSON: js, Repairs: len(res.Repairs)}
	if dec != nil {
		rows, err := dec.Decode(res.Value)
		var partial *blob.PartialError
		switch {
		case errors.As(err, &partial):
			out.Skipped = partial.Issues
		case err != nil:
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", dec.Name(), err)), nil
		}
		out.Columns = dec.Columns()
		out.Rows = rows
	}
	return resultJSON(out)
}

type listRunsArgs struct {
	Kind  string `json:"kind"`
	Limit int    `json:"limit"`
}

type runResult struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Table     string  `json:"table,omitempty"`
	Source    string  `json:"source,omitempty"`
	Target    string  `json:"target,omitempty"`
	Status    string  `json:"status"`
	RowsIn    int     `json:"rows_in"`
	RowsOut   int     `json:"rows_out"`
	Skipped   int     `json:"skipped"`
	Errors    int     `json:"errors"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at,omitempty"`
	Detail    *string `json:"detail,omitempty"`
}

func toRunResult(r db.Run) runResult {
	return runResult{
		ID:        r.ID,
		Kind:      r.Kind,
		Table:     r.TableName,
		Source:    r.Source,
		Target:    r.Target,
		Status:    r.Status,
		RowsIn:    r.RowsIn,
		RowsOut:   r.RowsOut,
		Skipped:   r.Skipped,
		Errors:    r.Errors,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Detail:    r.Detail,
	}
}

func (s *Server) handleListRuns(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listRunsArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}
	runs, err := s.runs.ListRuns(args.Kind, args.Limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list runs: %v", err)), nil
	}
	out := make([]runResult, len(runs))
	for i, r := range runs {
		out[i] = toRunResult(r)
	}
	return resultJSON(out)
}

type runIssuesArgs struct {
	RunID string `json:"run_id"`
	Limit int    `json:"limit"`
}

type issueResult struct {
	Level   string `json:"level"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

type runIssuesResult struct {
	Run    runResult     `json:"run"`
	Issues []issueResult `json:"issues"`
}

func (s *Server) handleRunIssues(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args runIssuesArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.RunID == "" {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if args.Limit <= 0 {
		args.Limit = 50
	}

	run, err := s.runs.GetRun(args.RunID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get run: %v", err)), nil
	}
	if run == nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %q not found", args.RunID)), nil
	}
	issues, err := s.runs.ListIssues(run.ID, args.Limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list issues: %v", err)), nil
	}

	out := runIssuesResult{Run: toRunResult(*run), Issues: make([]issueResult, len(issues))}
	for i, is := range issues {
		out.Issues[i] = issueResult{Level: is.Level, Line: is.Line, Message: is.Message}
	}
	return resultJSON(out)
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
