package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/joestump/menuca-migrate/internal/csvio"
	"github.com/joestump/menuca-migrate/internal/phpser"
)

// Options configures Run.
type Options struct {
	// Column holds the serialized BLOB.
	Column string
	// Key is copied into every output row. Defaults to "id".
	Key     string
	Decoder Decoder
	Lenient bool
	// ErrorLog receives one line per failed or partially decoded row.
	ErrorLog io.Writer
	Logger   *zap.Logger
}

// Result tallies a Run.
type Result struct {
	Rows    int
	Decoded int
	Empty   int
	Failed  int
	// Partial counts rows decoded with some entries skipped.
	Partial int
	Repairs int
	Records int
}

// Run decodes opts.Column of every CSV row read from in and writes the key
// followed by the decoder's columns to out.
func Run(ctx context.Context, in io.Reader, out io.Writer, opts Options) (*Result, error) {
	if opts.Decoder == nil {
		return nil, errors.New("blob: no decoder")
	}
	if opts.Key == "" {
		opts.Key = "id"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r, err := csvio.NewReader(in)
	if err != nil {
		return nil, err
	}
	if !hasColumn(r.Header(), opts.Column) {
		return nil, fmt.Errorf("column %q not in header %v", opts.Column, r.Header())
	}
	if !hasColumn(r.Header(), opts.Key) {
		return nil, fmt.Errorf("key column %q not in header %v", opts.Key, r.Header())
	}

	header := append([]string{opts.Key}, opts.Decoder.Columns()...)
	w, err := csvio.NewWriter(out, header)
	if err != nil {
		return nil, err
	}

	var decodeOpts []phpser.Option
	if opts.Lenient {
		decodeOpts = append(decodeOpts, phpser.Lenient())
	}

	res := &Result{}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, csvio.ErrWidth) {
			return res, fmt.Errorf("read csv: %w", err)
		}
		res.Rows++

		key, _ := rec.Get(opts.Key)
		if err != nil {
			res.Failed++
			logIssue(opts.ErrorLog, key, r.Line(), err)
			log.Warn("skipping row", zap.String("key", key), zap.Int("line", r.Line()), zap.Error(err))
			continue
		}
		raw, _ := rec.Get(opts.Column)
		if phpser.IsEmpty(raw) {
			res.Empty++
			continue
		}

		rows, repairs, err := decodeCell(raw, rec, opts.Decoder, decodeOpts)
		res.Repairs += repairs
		var partial *PartialError
		switch {
		case errors.As(err, &partial):
			res.Partial++
			logIssue(opts.ErrorLog, key, r.Line(), err)
		case err != nil:
			res.Failed++
			logIssue(opts.ErrorLog, key, r.Line(), err)
			log.Debug("decode failed", zap.String("key", key), zap.Int("line", r.Line()), zap.Error(err))
			continue
		}
		res.Decoded++

		for _, row := range rows {
			if err := w.Write(append([]string{key}, row...)); err != nil {
				return res, fmt.Errorf("write row %s: %w", key, err)
			}
			res.Records++
		}
	}
	if err := w.Flush(); err != nil {
		return res, fmt.Errorf("flush csv: %w", err)
	}
	log.Info("deserialized",
		zap.String("column", opts.Column),
		zap.String("decoder", opts.Decoder.Name()),
		zap.Int("decoded", res.Decoded),
		zap.Int("empty", res.Empty),
		zap.Int("failed", res.Failed),
		zap.Int("records", res.Records))
	return res, nil
}

func decodeCell(raw string, rec csvio.Record, d Decoder, opts []phpser.Option) ([][]string, int, error) {
	data, err := phpser.DecodeInput(raw)
	if err != nil {
		return nil, 0, err
	}
	if rd, ok := d.(RawDecoder); ok {
		rows, err := rd.DecodeRaw(data)
		return rows, 0, err
	}
	v, err := phpser.Decode(data, opts...)
	if err != nil {
		return nil, 0, err
	}
	var rows [][]string
	if rd, ok := d.(RecordDecoder); ok {
		rows, err = rd.DecodeRecord(v.Value, rec)
	} else {
		rows, err = d.Decode(v.Value)
	}
	return rows, len(v.Repairs), err
}

func logIssue(w io.Writer, key string, line int, err error) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "row %s (line %d): %v\n", key, line, err)
}

func hasColumn(header []string, name string) bool {
	for _, h := range header {
		if h == name {
			return true
		}
	}
	return false
}
