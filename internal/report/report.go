// Package report renders the run ledger as a Markdown or HTML migration
// report.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joestump/menuca-migrate/internal/db"
)

// Source is the part of the ledger a report reads.
type Source interface {
	ListRuns(kind string, limit, offset int) ([]db.Run, error)
	ListIssues(runID string, limit int) ([]db.Issue, error)
}

// Options selects what goes into a report.
type Options struct {
	Kind  string
	Limit int
	// IssuesPerRun caps the issues listed under each failed run.
	IssuesPerRun int
	Now          func() time.Time
}

// Report is a snapshot of recent runs.
type Report struct {
	Generated time.Time
	Runs      []db.Run
	Issues    map[string][]db.Issue
}

// Build reads the runs and the issues of failed runs.
func Build(src Source, opts Options) (*Report, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.IssuesPerRun <= 0 {
		opts.IssuesPerRun = 20
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	runs, err := src.ListRuns(opts.Kind, opts.Limit, 0)
	if err != nil {
		return nil, err
	}
	r := &Report{Generated: now(), Runs: runs, Issues: map[string][]db.Issue{}}
	for _, run := range runs {
		if run.Status != db.StatusFailed && run.Errors == 0 {
			continue
		}
		issues, err := src.ListIssues(run.ID, opts.IssuesPerRun)
		if err != nil {
			return nil, err
		}
		r.Issues[run.ID] = issues
	}
	return r, nil
}

// Counts returns the number of runs per status.
func (r *Report) Counts() map[string]int {
	c := map[string]int{}
	for _, run := range r.Runs {
		c[run.Status]++
	}
	return c
}

// Markdown renders the report.
func (r *Report) Markdown() string {
	var b strings.Builder
	counts := r.Counts()

	b.WriteString("# Migration report\n\n")
	fmt.Fprintf(&b, "Generated %s. %d runs: %d completed, %d failed, %d running.\n\n",
		r.Generated.UTC().Format("2006-01-02 15:04 MST"), len(r.Runs),
		counts[db.StatusCompleted], counts[db.StatusFailed], counts[db.StatusRunning])

	if len(r.Runs) == 0 {
		b.WriteString("No runs recorded.\n")
		return b.String()
	}

	b.WriteString("| Started | Kind | Table | Rows in | Rows out | Skipped | Errors | Status | Duration |\n")
	b.WriteString("|---|---|---|--:|--:|--:|--:|---|--:|\n")
	for _, run := range r.Runs {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
			started(run.StartedAt),
			cell(run.Kind),
			cell(run.TableName),
			humanize.Comma(int64(run.RowsIn)),
			humanize.Comma(int64(run.RowsOut)),
			humanize.Comma(int64(run.Skipped)),
			humanize.Comma(int64(run.Errors)),
			run.Status,
			duration(run))
	}

	var failed []db.Run
	for _, run := range r.Runs {
		if _, ok := r.Issues[run.ID]; ok {
			failed = append(failed, run)
		}
	}
	if len(failed) == 0 {
		return b.String()
	}

	b.WriteString("\n## Problems\n")
	for _, run := range failed {
		fmt.Fprintf(&b, "\n### %s %s (`%s`)\n\n", run.Kind, run.TableName, shortID(run.ID))
		if run.Detail != nil && *run.Detail != "" {
			b.WriteString(*run.Detail)
			b.WriteString("\n\n")
		}
		for _, is := range r.Issues[run.ID] {
			if is.Line > 0 {
				fmt.Fprintf(&b, "- line %d, %s: %s\n", is.Line, is.Level, is.Message)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", is.Level, is.Message)
			}
		}
	}
	return b.String()
}

// HTML renders the report as a standalone page.
func (r *Report) HTML(w io.Writer) error {
	gm := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
	)
	var buf bytes.Buffer
	if err := gm.Convert([]byte(r.Markdown()), &buf); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Migration report</title>\n</head>\n<body>\n%s</body>\n</html>\n", buf.String())
	return err
}

func started(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func duration(run db.Run) string {
	if run.EndedAt == nil {
		return "-"
	}
	return run.Duration().Round(time.Millisecond).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}
