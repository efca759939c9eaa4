package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DefaultBatchSize is the number of rows per INSERT and transaction.
const DefaultBatchSize = 1000

// PostgreSQL accepts at most 65535 bind parameters per statement.
const maxParams = 65535

// Loader inserts rows with multi-row INSERT statements over database/sql.
// Each batch runs in its own transaction; a failed batch is rolled back and
// the load moves on to the next one.
type Loader struct {
	DB        *sql.DB
	Schema    string
	Table     string
	BatchSize int
	Truncate  bool
	// Columns overrides the columns read from information_schema.
	Columns []string
	Logger  *zap.Logger
}

// Load reads every row from src into the table.
func (l *Loader) Load(ctx context.Context, src RowSource) (*Result, error) {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cols := l.Columns
	if len(cols) == 0 {
		var err error
		if cols, err = Columns(ctx, l.DB, l.Schema, l.Table); err != nil {
			return nil, err
		}
	}
	target := tableIdent(l.Schema, l.Table).Sanitize()

	if l.Truncate {
		if _, err := l.DB.ExecContext(ctx, "TRUNCATE TABLE "+target+" CASCADE"); err != nil {
			return nil, fmt.Errorf("truncate %s: %w", target, err)
		}
		log.Info("truncated", zap.String("table", target))
	}

	size := l.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	if size*len(cols) > maxParams {
		size = maxParams / len(cols)
	}

	res := &Result{Table: target}
	batch := make([][]any, 0, size)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res.Batches++
		err := l.insertBatch(ctx, target, cols, batch)
		switch {
		case err == nil:
			res.Loaded += len(batch)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			res.FailedBatches++
			res.FailedRows += len(batch)
			res.addError(fmt.Errorf("batch %d: %w", res.Batches, err))
			log.Warn("batch failed",
				zap.String("table", target),
				zap.Int("batch", res.Batches),
				zap.Int("rows", len(batch)),
				zap.Error(err))
		}
		batch = batch[:0]
		return nil
	}

	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var re *RowError
			if errors.As(err, &re) {
				res.Skipped++
				res.addError(err)
				continue
			}
			return res, fmt.Errorf("read source: %w", err)
		}
		res.Rows++
		row, adjusted := fit(row, len(cols))
		if adjusted {
			res.Adjusted++
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
	log.Info("loaded",
		zap.String("table", target),
		zap.Int("rows", res.Loaded),
		zap.Int("failed", res.FailedRows),
		zap.Int("adjusted", res.Adjusted))
	return res, nil
}

func (l *Loader) insertBatch(ctx context.Context, target string, cols []string, rows [][]any) error {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	query, args := insertStatement(target, cols, rows)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w; rollback failed: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertStatement(target string, cols []string, rows [][]any) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(rows)*len(cols))
	b.WriteString("INSERT INTO ")
	b.WriteString(target)
	b.WriteString(" (")
	b.WriteString(quoteColumns(cols))
	b.WriteString(") VALUES ")
	n := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		}
		b.WriteByte(')')
		args = append(args, row...)
	}
	return b.String(), args
}
