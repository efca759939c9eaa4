package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/joestump/menuca-migrate/internal/blob"
	"github.com/joestump/menuca-migrate/internal/db"
	"github.com/joestump/menuca-migrate/internal/mcpserver"
	"github.com/joestump/menuca-migrate/internal/pipeline"
	"github.com/joestump/menuca-migrate/internal/report"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run [manifest]",
		Short: "Extract, convert and deserialize every table listed in a manifest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Manifest
			if len(args) == 1 {
				path = args[0]
			}
			m, err := pipeline.LoadManifest(path)
			if err != nil {
				return err
			}
			tracker, err := a.tracker()
			if err != nil {
				return err
			}

			runner := &pipeline.Runner{
				Tracker:  tracker,
				Decoders: blob.NewRegistry(),
				Workers:  a.cfg.Workers,
				Logger:   a.log,
			}
			outcomes, err := runner.Run(cmd.Context(), m)
			printOutcomes(cmd.OutOrStdout(), outcomes)
			if err != nil {
				return err
			}
			if failed := pipeline.Failed(outcomes); len(failed) > 0 {
				return fmt.Errorf("%d of %d tables: %w", len(failed), len(outcomes), pipeline.ErrFailedTables)
			}
			return nil
		},
	}
}

func printOutcomes(w io.Writer, outcomes []pipeline.Outcome) {
	ok := 0
	for _, o := range outcomes {
		if o.Table == "" {
			continue
		}
		if o.OK() {
			ok++
		}
		var rows, skipped int
		for _, s := range o.Steps {
			if s.Kind == "extract" {
				rows, skipped = s.Rows, s.Skipped
			}
		}
		status(w, o.Err, "%s: %s rows, %d steps%s", o.Table, humanize.Comma(int64(rows)), len(o.Steps), skippedNote(skipped))
	}
	fmt.Fprintf(w, "\n%d/%d tables converted\n", ok, len(outcomes))
}

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or show one run and its issues",
		Args:  cobra.MaximumNArgs(1),
	}
	f := cmd.Flags()
	kind := f.String("kind", "", "only runs of this kind")
	limit := f.Int("limit", 20, "maximum runs or issues to show")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ledger, err := a.requireLedger()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			return showRun(out, ledger, args[0], *limit)
		}

		runs, err := ledger.ListRuns(*kind, *limit, 0)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded.")
			return nil
		}
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"ID", "Kind", "Table", "Status", "Rows", "Skipped", "Errors", "Started"})
		table.SetAutoWrapText(false)
		for _, r := range runs {
			table.Append([]string{
				shortID(r.ID), r.Kind, dash(r.TableName), r.Status,
				humanize.Comma(int64(r.RowsOut)), humanize.Comma(int64(r.Skipped)), humanize.Comma(int64(r.Errors)), r.StartedAt,
			})
		}
		table.Render()
		return nil
	}
	return cmd
}

func showRun(w io.Writer, ledger *db.DB, id string, limit int) error {
	r, err := ledger.GetRun(id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("run %s not found", id)
	}
	fmt.Fprintf(w, "Run %s\n", r.ID)
	fmt.Fprintf(w, "  Kind:    %s\n", r.Kind)
	fmt.Fprintf(w, "  Table:   %s\n", dash(r.TableName))
	fmt.Fprintf(w, "  Source:  %s\n", dash(r.Source))
	fmt.Fprintf(w, "  Target:  %s\n", dash(r.Target))
	fmt.Fprintf(w, "  Status:  %s\n", r.Status)
	fmt.Fprintf(w, "  Rows:    %s in, %s out, %s skipped, %s errors\n",
		humanize.Comma(int64(r.RowsIn)), humanize.Comma(int64(r.RowsOut)), humanize.Comma(int64(r.Skipped)), humanize.Comma(int64(r.Errors)))
	if d := r.Duration(); d > 0 {
		fmt.Fprintf(w, "  Took:    %s\n", d.Round(time.Millisecond))
	}
	if r.Detail != nil {
		fmt.Fprintf(w, "  Detail:  %s\n", *r.Detail)
	}

	issues, err := ledger.ListIssues(r.ID, limit)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\nIssues (%d shown):\n", len(issues))
	for _, is := range issues {
		label := warnLabel(is.Level)
		if is.Level == "error" {
			label = failedLabel(is.Level)
		}
		if is.Line > 0 {
			fmt.Fprintf(w, "  %s line %d: %s\n", label, is.Line, is.Message)
		} else {
			fmt.Fprintf(w, "  %s %s\n", label, is.Message)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a Markdown or HTML report of recent runs and their problems",
		Args:  cobra.NoArgs,
	}
	f := cmd.Flags()
	output := f.StringP("output", "o", "", "file to write (default: stdout)")
	html := f.Bool("html", false, "render HTML instead of Markdown")
	kind := f.String("kind", "", "only runs of this kind")
	limit := f.Int("limit", 50, "maximum runs")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ledger, err := a.requireLedger()
		if err != nil {
			return err
		}
		rep, err := report.Build(ledger, report.Options{Kind: *kind, Limit: *limit})
		if err != nil {
			return err
		}
		_, err = writeOutput(cmd, *output, func(w io.Writer) (*report.Report, error) {
			if *html {
				return rep, rep.HTML(w)
			}
			_, err := io.WriteString(w, rep.Markdown())
			return rep, err
		})
		return err
	}
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the migration tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The ledger tools are left out with --no-ledger.
			var runs mcpserver.RunStore
			if !a.noLedger {
				ledger, err := a.openLedger()
				if err != nil {
					return err
				}
				runs = ledger
			}
			if err := mcpserver.Run(cmd.Context(), runs); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		},
	}
}
