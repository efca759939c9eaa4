package rest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/joestump/menuca-migrate/internal/csvio"
)

// Inserter accepts batches of rows for a table.
type Inserter interface {
	Insert(ctx context.Context, table string, rows []map[string]any) error
}

// LoadOptions configures LoadCSV.
type LoadOptions struct {
	// BatchSize defaults to 500 rows per request.
	BatchSize int
	// EmptyAsNull sends empty cells as JSON null.
	EmptyAsNull bool
	Logger      *zap.Logger
}

// Result tallies a LoadCSV call.
type Result struct {
	Rows          int
	Loaded        int
	Batches       int
	FailedRows    int
	FailedBatches int
	// Skipped counts records whose width does not match the header.
	Skipped int
	Errors  []error
}

const maxErrors = 20

// LoadCSV posts the records of a CSV file in batches. A failed batch is
// counted and the load continues.
func LoadCSV(ctx context.Context, c Inserter, table string, r io.Reader, opts LoadOptions) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	size := opts.BatchSize
	if size <= 0 {
		size = 500
	}
	cr, err := csvio.NewReader(r)
	if err != nil {
		return nil, err
	}
	header := cr.Header()

	res := &Result{}
	batch := make([]map[string]any, 0, size)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res.Batches++
		err := c.Insert(ctx, table, batch)
		switch {
		case err == nil:
			res.Loaded += len(batch)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			res.FailedBatches++
			res.FailedRows += len(batch)
			if len(res.Errors) < maxErrors {
				res.Errors = append(res.Errors, fmt.Errorf("batch %d: %w", res.Batches, err))
			}
			log.Warn("batch failed", zap.String("table", table), zap.Int("batch", res.Batches), zap.Error(err))
		}
		batch = make([]map[string]any, 0, size)
		return nil
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, csvio.ErrWidth) {
			res.Skipped++
			if len(res.Errors) < maxErrors {
				res.Errors = append(res.Errors, err)
			}
			continue
		}
		if err != nil {
			return res, fmt.Errorf("read csv: %w", err)
		}
		res.Rows++
		row := make(map[string]any, len(header))
		for i, h := range header {
			if rec.Fields[i] == "" && opts.EmptyAsNull {
				row[h] = nil
				continue
			}
			row[h] = rec.Fields[i]
		}
		batch = append(batch, row)
		if len(batch) == size {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	log.Info("loaded via rest", zap.String("table", table), zap.Int("rows", res.Loaded), zap.Int("failed", res.FailedRows))
	return res, nil
}
