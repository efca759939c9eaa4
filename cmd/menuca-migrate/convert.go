package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joestump/menuca-migrate/internal/csvio"
	"github.com/joestump/menuca-migrate/internal/db"
	"github.com/joestump/menuca-migrate/internal/dump"
	"github.com/joestump/menuca-migrate/internal/pgconv"
	"github.com/joestump/menuca-migrate/internal/pipeline"
)

func newConvertCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <dump.sql>",
		Short: "Rewrite the INSERTs of a MySQL dump as PostgreSQL batch statements",
		Args:  cobra.ExactArgs(1),
	}
	f := cmd.Flags()
	output := f.StringP("output", "o", "", "SQL file to write (default: stdout)")
	outDir := f.String("out-dir", "", "write numbered <target>_batch_NNN.sql files here instead")
	table := f.String("table", "", "source table (default: the only table with INSERTs)")
	target := f.String("target", "", "destination table (default: the source table name)")
	columns := f.StringSlice("columns", nil, "column list for the INSERTs")
	rowsPerStatement := f.Int("rows-per-statement", pgconv.DefaultRowsPerStatement, "rows per INSERT statement")
	perFile := f.Int("statements-per-file", 1, "statements per batch file with --out-dir")
	transaction := f.Bool("transaction", true, "wrap each output file in BEGIN/COMMIT")
	charset := f.String("charset", "utf8", "dump charset: utf8, latin1, cp1252 or binary")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		tracker, err := a.tracker()
		if err != nil {
			return err
		}
		path := args[0]
		dest := displayName(*output)
		if *outDir != "" {
			dest = *outDir
		}
		conv := &pgconv.Converter{
			Table:            *table,
			Schema:           a.cfg.Schema,
			Target:           *target,
			Columns:          *columns,
			RowsPerStatement: *rowsPerStatement,
			Logger:           a.log,
		}
		run := db.Run{Kind: "convert", TableName: tableName(*table, path), Source: path, Target: dest}

		var res *pgconv.Result
		_, err = tracker.Track(run, func(span *pipeline.Span) (db.Tally, error) {
			in, err := openInput(cmd, path)
			if err != nil {
				return db.Tally{}, err
			}
			defer in.Close() //nolint:errcheck
			r, err := dump.NewReader(in, *charset)
			if err != nil {
				return db.Tally{}, err
			}

			header := pgconv.Header{Source: filepath.Base(path)}
			if *table != "" || *target != "" {
				header.Target = conv.TargetName(*table)
			}
			if *outDir != "" {
				base := *target
				if base == "" {
					base = run.TableName
				}
				splitter := pgconv.NewFileSplitter(*outDir, strings.ToLower(base), *perFile, header, *transaction)
				res, err = conv.Convert(cmd.Context(), r, splitter)
				if cerr := splitter.Close(); err == nil {
					err = cerr
				}
				if res != nil {
					res.Target = fmt.Sprintf("%s (%d files)", res.Target, len(splitter.Files()))
				}
			} else {
				res, err = writeOutput(cmd, *output, func(w io.Writer) (*pgconv.Result, error) {
					sink := pgconv.NewWriterSink(w, header, *transaction)
					res, err := conv.Convert(cmd.Context(), r, sink)
					if cerr := sink.Close(); err == nil {
						err = cerr
					}
					return res, err
				})
			}
			if res == nil {
				return db.Tally{}, err
			}
			for _, is := range res.Issues {
				span.Issue("warn", is.Line, is.Message)
			}
			return db.Tally{
				RowsIn:  res.Rows + res.Skipped,
				RowsOut: res.Rows,
				Skipped: res.Skipped,
				Detail:  fmt.Sprintf("%d statements", res.Statements),
			}, err
		})

		out := summaryWriter(cmd, dest)
		if err != nil {
			status(out, err, "convert %s", path)
			return err
		}
		status(out, nil, "convert %s: %s rows in %s statements -> %s%s",
			res.Table, humanize.Comma(int64(res.Rows)), humanize.Comma(int64(res.Statements)), res.Target, skippedNote(res.Skipped))
		return nil
	}
	return cmd
}

func newSplitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split <file.sql>",
		Short: "Re-chunk a PostgreSQL INSERT file into smaller statements and numbered files",
		Args:  cobra.ExactArgs(1),
	}
	f := cmd.Flags()
	outDir := f.String("out-dir", "", "directory for the batch files (required)")
	base := f.String("base", "", "batch file prefix (default: input file name)")
	rows := f.Int("rows", pgconv.DefaultRowsPerStatement, "rows per INSERT statement")
	perFile := f.Int("statements-per-file", 1, "statements per batch file")
	transaction := f.Bool("transaction", true, "wrap each batch file in BEGIN/COMMIT")
	_ = cmd.MarkFlagRequired("out-dir")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		tracker, err := a.tracker()
		if err != nil {
			return err
		}
		path := args[0]
		prefix := tableName(*base, path)
		run := db.Run{Kind: "split", Source: path, Target: *outDir}

		var (
			res   *pgconv.Result
			files []string
		)
		_, err = tracker.Track(run, func(span *pipeline.Span) (db.Tally, error) {
			in, err := openInput(cmd, path)
			if err != nil {
				return db.Tally{}, err
			}
			defer in.Close() //nolint:errcheck

			splitter := pgconv.NewFileSplitter(*outDir, prefix, *perFile, pgconv.Header{Source: filepath.Base(path)}, *transaction)
			res, err = pgconv.SplitFile(cmd.Context(), in, splitter, *rows)
			if cerr := splitter.Close(); err == nil {
				err = cerr
			}
			files = splitter.Files()
			if res == nil {
				return db.Tally{}, err
			}
			for _, is := range res.Issues {
				span.Issue("warn", is.Line, is.Message)
			}
			return db.Tally{RowsIn: res.Rows + res.Skipped, RowsOut: res.Rows, Skipped: res.Skipped, Detail: fmt.Sprintf("%d files", len(files))}, err
		})

		out := cmd.OutOrStdout()
		if err != nil {
			status(out, err, "split %s", path)
			return err
		}
		status(out, nil, "split %s: %s rows in %s statements across %d files%s",
			path, humanize.Comma(int64(res.Rows)), humanize.Comma(int64(res.Statements)), len(files), skippedNote(res.Skipped))
		return nil
	}
	return cmd
}

func newDDLCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ddl <dump.sql | file.csv>",
		Short: "Print PostgreSQL CREATE TABLE statements for a dump or a CSV header",
		Long: `With a dump, every CREATE TABLE is translated with the MySQL to PostgreSQL
type map. With --csv, a staging table is generated from the CSV header:
VARCHAR(500) columns, TEXT for long-text names and for any column holding a
value over 500 characters, and an index on id.`,
		Args: cobra.ExactArgs(1),
	}
	f := cmd.Flags()
	output := f.StringP("output", "o", "", "SQL file to write (default: stdout)")
	fromCSV := f.Bool("csv", false, "treat the input as a CSV file")
	table := f.String("table", "", "table name for --csv (default: file name); with a dump, only this table")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		path := args[0]
		in, err := openInput(cmd, path)
		if err != nil {
			return err
		}
		defer in.Close() //nolint:errcheck

		var ddl []string
		if *fromCSV || strings.EqualFold(filepath.Ext(path), ".csv") {
			name := tableName(*table, path)
			r, err := csvio.NewReader(in)
			if err != nil {
				return fmt.Errorf("read csv header: %w", err)
			}
			widths, err := pgconv.MeasureCSV(r)
			if err != nil {
				return err
			}
			ddl = append(ddl, pgconv.StagingDDL(name, r.Header(), widths, a.cfg.Schema))
		} else {
			sc := dump.NewScanner(in)
			for sc.Next() {
				st := sc.Statement()
				if st.Kind != dump.CreateTableStmt || (*table != "" && !strings.EqualFold(st.Table, *table)) {
					continue
				}
				if st.Err != nil {
					a.log.Warn("skipping CREATE TABLE", zap.String("table", st.Table), zap.Int("line", st.Line), zap.Error(st.Err))
					continue
				}
				ddl = append(ddl, pgconv.TableDDL(st.Create, a.cfg.Schema))
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("scan dump: %w", err)
			}
		}
		if len(ddl) == 0 {
			return errors.New("no CREATE TABLE statements found")
		}

		_, err = writeOutput(cmd, *output, func(w io.Writer) (*struct{}, error) {
			_, err := io.WriteString(w, strings.Join(ddl, "\n"))
			return &struct{}{}, err
		})
		return err
	}
	return cmd
}
