package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joestump/menuca-migrate/internal/csvio"
	"github.com/joestump/menuca-migrate/internal/db"
	"github.com/joestump/menuca-migrate/internal/dump"
	"github.com/joestump/menuca-migrate/internal/pipeline"
	"github.com/joestump/menuca-migrate/internal/redact"
	"github.com/joestump/menuca-migrate/internal/rest"
	"github.com/joestump/menuca-migrate/internal/source"
	"github.com/joestump/menuca-migrate/internal/staging"
)

func (a *app) connect(ctx context.Context) (*sql.DB, error) {
	dsn, err := a.postgres()
	if err != nil {
		return nil, err
	}
	return staging.Connect(ctx, dsn, staging.ConnectOptions{MaxConns: 2, Logger: a.log})
}

func newLoadCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <file.sql | file.csv>",
		Short: "Load a dump or CSV into a PostgreSQL staging table",
		Long: `Rows are inserted in batches, one transaction per batch. A failed batch is
rolled back and counted; the load moves on. Rows are padded with NULL or
trimmed to the table's column count.`,
		Args: cobra.ExactArgs(1),
	}
	f := cmd.Flags()
	table := f.String("table", "", "staging table (required)")
	sourceTable := f.String("source-table", "", "table to read from a dump (default: --table)")
	truncate := f.Bool("truncate", false, "TRUNCATE ... CASCADE before loading")
	useCopy := f.Bool("copy", false, "use the COPY protocol instead of INSERT batches")
	emptyAsNull := f.Bool("empty-null", true, "load empty CSV cells as NULL")
	charset := f.String("charset", "utf8", "dump charset: utf8, latin1, cp1252 or binary")
	_ = cmd.MarkFlagRequired("table")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tracker, err := a.tracker()
		if err != nil {
			return err
		}
		path := args[0]
		run := db.Run{Kind: "load", TableName: *table, Source: path, Target: a.cfg.Schema + "." + *table}

		var res *staging.Result
		_, err = tracker.Track(run, func(span *pipeline.Span) (db.Tally, error) {
			pg, err := a.connect(ctx)
			if err != nil {
				return db.Tally{}, err
			}
			defer pg.Close() //nolint:errcheck

			in, err := openInput(cmd, path)
			if err != nil {
				return db.Tally{}, err
			}
			defer in.Close() //nolint:errcheck

			var (
				src  staging.RowSource
				cols []string
			)
			if strings.EqualFold(filepath.Ext(path), ".csv") {
				cs, err := staging.NewCSVSource(in, *emptyAsNull)
				if err != nil {
					return db.Tally{}, err
				}
				src, cols = cs, cs.Header()
			} else {
				r, err := dump.NewReader(in, *charset)
				if err != nil {
					return db.Tally{}, err
				}
				name := *sourceTable
				if name == "" {
					name = *table
				}
				src = staging.NewDumpSource(r, name)
			}

			if *useCopy {
				if len(cols) == 0 {
					if cols, err = staging.Columns(ctx, pg, a.cfg.Schema, *table); err != nil {
						return db.Tally{}, err
					}
				}
				err = staging.WithConn(ctx, pg, func(conn *pgx.Conn) error {
					loader := &staging.CopyLoader{
						Conn:      conn,
						Schema:    a.cfg.Schema,
						Table:     *table,
						Columns:   cols,
						ChunkSize: a.cfg.BatchSize,
						Truncate:  *truncate,
						Logger:    a.log,
					}
					var lerr error
					res, lerr = loader.Load(ctx, src)
					return lerr
				})
			} else {
				loader := &staging.Loader{
					DB:        pg,
					Schema:    a.cfg.Schema,
					Table:     *table,
					BatchSize: a.cfg.BatchSize,
					Truncate:  *truncate,
					Columns:   cols,
					Logger:    a.log,
				}
				res, err = loader.Load(ctx, src)
			}
			if res == nil {
				return db.Tally{}, err
			}
			for _, e := range res.Errors {
				span.Issue("error", 0, a.redact.Redact(e.Error()))
			}
			return db.Tally{
				RowsIn:  res.Rows + res.Skipped,
				RowsOut: res.Loaded,
				Skipped: res.Skipped,
				Errors:  res.FailedRows,
				Detail:  fmt.Sprintf("%d batches, %d failed, %d rows adjusted", res.Batches, res.FailedBatches, res.Adjusted),
			}, err
		})

		out := cmd.OutOrStdout()
		if err != nil {
			status(out, err, "load %s", *table)
			return err
		}
		if res.FailedRows > 0 {
			err = fmt.Errorf("%s rows in %d failed batches", humanize.Comma(int64(res.FailedRows)), res.FailedBatches)
		}
		status(out, err, "load %s: %s of %s rows loaded%s", *table,
			humanize.Comma(int64(res.Loaded)), humanize.Comma(int64(res.Rows)), skippedNote(res.Skipped))
		return err
	}
	return cmd
}

func newApplyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <file.sql | dir>...",
		Short: "Execute converted batch files against PostgreSQL, skipping files already applied",
		Args:  cobra.MinimumNArgs(1),
	}
	force := cmd.Flags().Bool("force", false, "re-apply files the ledger already recorded")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		files, err := sqlFiles(args)
		if err != nil {
			return err
		}
		tracker, err := a.tracker()
		if err != nil {
			return err
		}
		var ledger staging.Ledger
		if !a.noLedger {
			ledger = a.ledger
			if *force {
				ledger = recordOnly{a.ledger}
			}
		}

		run := db.Run{Kind: "apply", Source: strings.Join(args, ","), Target: a.cfg.Schema}
		var res *staging.ApplyResult
		_, err = tracker.Track(run, func(span *pipeline.Span) (db.Tally, error) {
			pg, err := a.connect(ctx)
			if err != nil {
				return db.Tally{}, err
			}
			defer pg.Close() //nolint:errcheck

			res, err = staging.Apply(ctx, pg, files, ledger, staging.ApplyOptions{RunID: span.ID, Logger: a.log})
			if res == nil {
				return db.Tally{}, err
			}
			if err != nil {
				span.Issue("error", 0, a.redact.Redact(err.Error()))
			}
			return db.Tally{RowsIn: len(files), RowsOut: len(res.Applied), Skipped: len(res.Skipped)}, err
		})

		out := cmd.OutOrStdout()
		if res == nil {
			status(out, err, "apply")
			return err
		}
		status(out, err, "apply: %d of %d files applied, %d already applied", len(res.Applied), len(files), len(res.Skipped))
		return err
	}
	return cmd
}

// recordOnly marks files applied without ever reporting them as done.
type recordOnly struct{ *db.DB }

func (recordOnly) IsApplied(string, string) (bool, error) { return false, nil }

// sqlFiles expands directories to the .sql files they contain.
func sqlFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.sql"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, errors.New("no .sql files to apply")
	}
	sort.Strings(files)
	return files, nil
}

func newLoadRESTCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load-rest <file.csv>",
		Short: "Insert a CSV into a table through the Supabase REST API",
		Args:  cobra.ExactArgs(1),
	}
	f := cmd.Flags()
	table := f.String("table", "", "target table (required)")
	batch := f.Int("batch", 500, "rows per request")
	emptyAsNull := f.Bool("empty-null", true, "send empty cells as null")
	_ = cmd.MarkFlagRequired("table")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if a.cfg.RESTURL == "" || a.cfg.RESTKey == "" {
			return errors.New("load-rest needs --rest-url and --rest-key (or SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY)")
		}
		tracker, err := a.tracker()
		if err != nil {
			return err
		}
		path := args[0]
		client := rest.NewClient(a.cfg.RESTURL, a.cfg.RESTKey, a.cfg.Schema)
		run := db.Run{Kind: "load-rest", TableName: *table, Source: path, Target: a.cfg.RESTURL}

		var res *rest.Result
		_, err = tracker.Track(run, func(span *pipeline.Span) (db.Tally, error) {
			in, err := openInput(cmd, path)
			if err != nil {
				return db.Tally{}, err
			}
			defer in.Close() //nolint:errcheck

			res, err = rest.LoadCSV(cmd.Context(), client, *table, in, rest.LoadOptions{
				BatchSize:   *batch,
				EmptyAsNull: *emptyAsNull,
				Logger:      a.log,
			})
			if res == nil {
				return db.Tally{}, err
			}
			for _, e := range res.Errors {
				span.Issue("error", 0, a.redact.Redact(e.Error()))
			}
			return db.Tally{
				RowsIn:  res.Rows,
				RowsOut: res.Loaded,
				Skipped: res.Skipped,
				Errors:  res.FailedRows,
				Detail:  fmt.Sprintf("%d batches, %d failed", res.Batches, res.FailedBatches),
			}, err
		})

		out := cmd.OutOrStdout()
		if err != nil {
			status(out, err, "load-rest %s", *table)
			return err
		}
		if res.FailedRows > 0 {
			err = fmt.Errorf("%s rows in %d failed batches", humanize.Comma(int64(res.FailedRows)), res.FailedBatches)
		}
		status(out, err, "load-rest %s: %s of %s rows inserted%s", *table,
			humanize.Comma(int64(res.Loaded)), humanize.Comma(int64(res.Rows)), skippedNote(res.Skipped))
		return err
	}
	return cmd
}

func newPullCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <table>",
		Short: "Export a table from the live MySQL database as CSV, BLOBs as hex",
		Args:  cobra.ExactArgs(1),
	}
	f := cmd.Flags()
	output := f.StringP("output", "o", "", "CSV file to write (default: stdout)")
	columns := f.StringSlice("columns", nil, "columns to export (default: all)")
	where := f.String("where", "", "SQL filter appended as WHERE")
	orderBy := f.String("order-by", "", "ORDER BY expression")
	nullMarker := f.String("null", "", "text written for NULL")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if a.cfg.MySQLDSN == "" {
			return errors.New("pull needs --mysql-dsn or MENUCA_MYSQL_DSN")
		}
		tracker, err := a.tracker()
		if err != nil {
			return err
		}
		table := args[0]
		run := db.Run{Kind: "pull", TableName: table, Source: redact.DSN(a.cfg.MySQLDSN), Target: displayName(*output)}

		var res *source.PullResult
		_, err = tracker.Track(run, func(*pipeline.Span) (db.Tally, error) {
			my, err := source.Open(a.cfg.MySQLDSN)
			if err != nil {
				return db.Tally{}, err
			}
			defer my.Close() //nolint:errcheck

			res, err = writeOutput(cmd, *output, func(w io.Writer) (*source.PullResult, error) {
				return source.Pull(cmd.Context(), my, table, w, source.PullOptions{
					Columns:    *columns,
					Where:      *where,
					OrderBy:    *orderBy,
					NullMarker: *nullMarker,
					Logger:     a.log,
				})
			})
			if res == nil {
				return db.Tally{}, err
			}
			return db.Tally{RowsIn: res.Rows, RowsOut: res.Rows, Detail: "columns: " + strings.Join(res.Columns, ",")}, err
		})

		out := summaryWriter(cmd, *output)
		if err != nil {
			status(out, err, "pull %s", table)
			return err
		}
		status(out, nil, "pull %s: %s rows -> %s", table, humanize.Comma(int64(res.Rows)), displayName(*output))
		return nil
	}
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <table>",
		Short: "Compare a staging table's row count with the expected count",
		Long: `The expected count comes from --expected, from the records of --csv, or,
failing both, from the latest extract run recorded for the table.`,
		Args: cobra.ExactArgs(1),
	}
	f := cmd.Flags()
	expected := f.Int64("expected", -1, "expected row count")
	csvPath := f.String("csv", "", "count the records of this CSV file")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		table := args[0]
		want, err := a.expectedRows(cmd, table, *expected, *csvPath)
		if err != nil {
			return err
		}
		tracker, err := a.tracker()
		if err != nil {
			return err
		}

		run := db.Run{Kind: "verify", TableName: table, Target: a.cfg.Schema + "." + table}
		var v *staging.Verification
		_, err = tracker.Track(run, func(*pipeline.Span) (db.Tally, error) {
			pg, err := a.connect(ctx)
			if err != nil {
				return db.Tally{}, err
			}
			defer pg.Close() //nolint:errcheck

			v, err = staging.Verify(ctx, pg, a.cfg.Schema, table, want)
			if err != nil {
				return db.Tally{}, err
			}
			tally := db.Tally{RowsIn: int(v.Expected), RowsOut: int(v.Actual), Detail: v.String()}
			if !v.Match() {
				return tally, errRowCount
			}
			return tally, nil
		})
		if v == nil {
			status(cmd.OutOrStdout(), err, "verify %s", table)
			return err
		}
		status(cmd.OutOrStdout(), err, "verify %s", v)
		return err
	}
	return cmd
}

var errRowCount = errors.New("row count mismatch")

func (a *app) expectedRows(cmd *cobra.Command, table string, expected int64, csvPath string) (int64, error) {
	if expected >= 0 {
		return expected, nil
	}
	if csvPath != "" {
		in, err := openInput(cmd, csvPath)
		if err != nil {
			return 0, err
		}
		defer in.Close() //nolint:errcheck
		r, err := csvio.NewReader(in)
		if err != nil {
			return 0, err
		}
		var n int64
		for {
			_, err := r.Read()
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			if err != nil && !errors.Is(err, csvio.ErrWidth) {
				return 0, fmt.Errorf("count %s: %w", csvPath, err)
			}
			n++
		}
	}
	ledger, err := a.requireLedger()
	if err != nil {
		return 0, err
	}
	last, err := ledger.LatestRun("extract", table)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, fmt.Errorf("no --expected or --csv given and no extract run recorded for %s", table)
	}
	a.log.Debug("expected rows from ledger", zap.String("run", last.ID), zap.Int("rows", last.RowsOut))
	return int64(last.RowsOut), nil
}
