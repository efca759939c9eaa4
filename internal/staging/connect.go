package staging

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// ConnectOptions tunes Connect.
type ConnectOptions struct {
	// MaxElapsed bounds the total retry time. Defaults to one minute.
	MaxElapsed time.Duration
	MaxConns   int
	Logger     *zap.Logger
}

// Connect opens a pgx-backed database/sql pool and pings it, retrying with
// exponential backoff while the server is unreachable.
func Connect(ctx context.Context, dsn string, opts ConnectOptions) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = opts.MaxElapsed
	if eb.MaxElapsedTime == 0 {
		eb.MaxElapsedTime = time.Minute
	}

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		err := db.PingContext(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil {
			log.Warn("postgres not reachable", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, backoff.WithContext(eb, ctx))
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}
