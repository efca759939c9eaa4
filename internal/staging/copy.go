package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// TxBeginner is the part of *pgx.Conn the copy loader needs.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CopyLoader streams rows with the COPY protocol, one transaction per chunk.
type CopyLoader struct {
	Conn      TxBeginner
	Schema    string
	Table     string
	Columns   []string
	ChunkSize int
	Truncate  bool
	Logger    *zap.Logger
}

// Load copies every row from src.
func (l *CopyLoader) Load(ctx context.Context, src RowSource) (*Result, error) {
	if len(l.Columns) == 0 {
		return nil, errors.New("copy loader needs the target columns")
	}
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ident := tableIdent(l.Schema, l.Table)
	res := &Result{Table: ident.Sanitize()}

	if l.Truncate {
		err := withTx(ctx, l.Conn, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "TRUNCATE TABLE "+ident.Sanitize()+" CASCADE")
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("truncate %s: %w", ident.Sanitize(), err)
		}
	}

	size := l.ChunkSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	chunk := make([][]any, 0, size)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		res.Batches++
		err := withTx(ctx, l.Conn, func(tx pgx.Tx) error {
			n, err := tx.CopyFrom(ctx, ident, l.Columns, pgx.CopyFromRows(chunk))
			if err != nil {
				return fmt.Errorf("copy into %s: %w", ident.Sanitize(), err)
			}
			res.Loaded += int(n)
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.FailedBatches++
			res.FailedRows += len(chunk)
			res.addError(fmt.Errorf("chunk %d: %w", res.Batches, err))
			log.Warn("chunk failed", zap.String("table", res.Table), zap.Int("chunk", res.Batches), zap.Error(err))
		}
		chunk = chunk[:0]
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
		row, adjusted := fit(row, len(l.Columns))
		if adjusted {
			res.Adjusted++
		}
		chunk = append(chunk, row)
		if len(chunk) == size {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	log.Info("copied", zap.String("table", res.Table), zap.Int("rows", res.Loaded), zap.Int("failed", res.FailedRows))
	return res, nil
}

func withTx(ctx context.Context, conn TxBeginner, fn func(pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w; rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// WithConn runs fn with the native pgx connection behind a database/sql pool
// opened through the pgx driver.
func WithConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	return conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("connection is %T, not a pgx connection", driverConn)
		}
		return fn(c.Conn())
	})
}
