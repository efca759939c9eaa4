package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joestump/menuca-migrate/internal/blob"
	"github.com/joestump/menuca-migrate/internal/db"
	"github.com/joestump/menuca-migrate/internal/pipeline"
)

func newDeserializeCmd(a *app) *cobra.Command {
	decoders := blob.NewRegistry()
	cmd := &cobra.Command{
		Use:   "deserialize <in.csv>",
		Short: "Decode a PHP-serialized BLOB column of a CSV into staging rows",
		Long: "Decoders: " + strings.Join(decoders.Names(), ", ") + `

The input is a CSV written by extract or pull. Every row's --column is
decoded and written as the row --key followed by the decoder's columns.`,
		Args: cobra.ExactArgs(1),
	}
	f := cmd.Flags()
	output := f.StringP("output", "o", "", "CSV file to write (default: stdout)")
	column := f.String("column", "", "BLOB column to decode (required)")
	decoder := f.String("decoder", "json", "decoder name")
	key := f.String("key", "id", "column identifying the row")
	lenient := f.Bool("lenient", false, "repair string lengths broken by charset conversion")
	errorLog := f.String("errors", "", "also write failed rows to this file")
	_ = cmd.MarkFlagRequired("column")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		dec, err := decoders.Resolve(*decoder)
		if err != nil {
			return err
		}
		tracker, err := a.tracker()
		if err != nil {
			return err
		}
		path := args[0]
		run := db.Run{Kind: "deserialize", Source: path + "#" + *column, Target: displayName(*output)}

		var res *blob.Result
		_, err = tracker.Track(run, func(span *pipeline.Span) (db.Tally, error) {
			in, err := openInput(cmd, path)
			if err != nil {
				return db.Tally{}, err
			}
			defer in.Close() //nolint:errcheck

			logw := span.Writer("error")
			if *errorLog != "" {
				ef, err := os.Create(*errorLog)
				if err != nil {
					return db.Tally{}, fmt.Errorf("create error log: %w", err)
				}
				defer ef.Close() //nolint:errcheck
				logw = io.MultiWriter(ef, logw)
			}

			res, err = writeOutput(cmd, *output, func(w io.Writer) (*blob.Result, error) {
				return blob.Run(cmd.Context(), in, w, blob.Options{
					Column:   *column,
					Key:      *key,
					Decoder:  dec,
					Lenient:  *lenient,
					ErrorLog: logw,
					Logger:   a.log,
				})
			})
			if res == nil {
				return db.Tally{}, err
			}
			return db.Tally{
				RowsIn:  res.Rows,
				RowsOut: res.Records,
				Skipped: res.Empty,
				Errors:  res.Failed,
				Detail:  fmt.Sprintf("decoder %s, %d partial, %d repairs", dec.Name(), res.Partial, res.Repairs),
			}, err
		})

		out := summaryWriter(cmd, *output)
		if err != nil {
			status(out, err, "deserialize %s", *column)
			return err
		}
		line := fmt.Sprintf("deserialize %s (%s): %s rows decoded, %s empty, %s failed -> %s records",
			*column, dec.Name(), humanize.Comma(int64(res.Decoded)), humanize.Comma(int64(res.Empty)),
			humanize.Comma(int64(res.Failed)), humanize.Comma(int64(res.Records)))
		status(out, nil, "%s", line)
		return nil
	}
	return cmd
}
