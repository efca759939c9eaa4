package main

import (
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joestump/menuca-migrate/internal/db"
	"github.com/joestump/menuca-migrate/internal/extract"
	"github.com/joestump/menuca-migrate/internal/pipeline"
)

func newExtractCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <dump.sql>",
		Short: "Write the INSERT rows of one table in a mysqldump file as CSV",
		Args:  cobra.ExactArgs(1),
	}
	f := cmd.Flags()
	output := f.StringP("output", "o", "", "CSV file to write (default: stdout)")
	table := f.String("table", "", "table to extract (default: the only table with INSERTs)")
	headers := f.StringSlice("headers", nil, "CSV header, overriding CREATE TABLE and INSERT column lists")
	exclude := f.StringSlice("exclude", nil, "columns to leave out")
	nullMarker := f.String("null", "", "text written for NULL")
	charset := f.String("charset", "utf8", "dump charset: utf8, latin1, cp1252 or binary")
	strict := f.Bool("strict", false, "fail on the first row whose width differs from the header")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		tracker, err := a.tracker()
		if err != nil {
			return err
		}
		path := args[0]
		run := db.Run{Kind: "extract", TableName: tableName(*table, path), Source: path, Target: displayName(*output)}

		var res *extract.Result
		_, err = tracker.Track(run, func(span *pipeline.Span) (db.Tally, error) {
			in, err := openInput(cmd, path)
			if err != nil {
				return db.Tally{}, err
			}
			defer in.Close() //nolint:errcheck

			res, err = writeOutput(cmd, *output, func(w io.Writer) (*extract.Result, error) {
				return extract.Run(cmd.Context(), in, w, extract.Options{
					Table:      *table,
					Headers:    *headers,
					Exclude:    *exclude,
					NullMarker: *nullMarker,
					Charset:    *charset,
					Strict:     *strict,
					Logger:     a.log,
				})
			})
			if res == nil {
				return db.Tally{}, err
			}
			for _, w := range res.Warnings {
				span.Issue("warn", w.Line, w.Message)
			}
			return db.Tally{
				RowsIn:  res.Rows + res.Skipped,
				RowsOut: res.Rows,
				Skipped: res.Skipped,
				Detail:  "columns: " + strings.Join(res.Columns, ","),
			}, err
		})

		name := run.TableName
		if res != nil && res.Table != "" {
			name = res.Table
		}
		out := summaryWriter(cmd, *output)
		if err != nil {
			status(out, err, "extract %s", name)
			return err
		}
		status(out, nil, "extract %s: %s rows -> %s%s", name, humanize.Comma(int64(res.Rows)), displayName(*output), skippedNote(res.Skipped))
		return nil
	}
	return cmd
}
