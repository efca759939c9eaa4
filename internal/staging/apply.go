package staging

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"go.uber.org/zap"
)

// Ledger remembers which batch files were applied.
type Ledger interface {
	IsApplied(path, sum string) (bool, error)
	MarkApplied(path, sum, runID string) error
}

// ApplyOptions configures Apply.
type ApplyOptions struct {
	RunID  string
	Logger *zap.Logger
}

// ApplyResult lists the files Apply executed or skipped.
type ApplyResult struct {
	Applied []string
	Skipped []string
}

// Transaction control is stripped because every file runs in its own
// transaction.
var txControlRe = regexp.MustCompile(`(?im)^\s*(BEGIN|COMMIT|START\s+TRANSACTION|ROLLBACK)\s*;\s*$`)

// Apply executes SQL files in lexical order. A file already recorded in the
// ledger with the same SHA-256 is skipped. The first failure is rolled back
// and stops the run.
func Apply(ctx context.Context, db *sql.DB, files []string, ledger Ledger, opts ApplyOptions) (*ApplyResult, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	res := &ApplyResult{}
	for _, path := range sorted {
		data, err := os.ReadFile(path)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", path, err)
		}
		sum := sha256.Sum256(data)
		digest := hex.EncodeToString(sum[:])
		key, err := filepath.Abs(path)
		if err != nil {
			key = path
		}

		if ledger != nil {
			done, err := ledger.IsApplied(key, digest)
			if err != nil {
				return res, fmt.Errorf("check ledger for %s: %w", path, err)
			}
			if done {
				res.Skipped = append(res.Skipped, path)
				log.Info("already applied", zap.String("file", path))
				continue
			}
		}

		if err := execFile(ctx, db, string(data)); err != nil {
			return res, fmt.Errorf("apply %s: %w", path, err)
		}
		res.Applied = append(res.Applied, path)
		log.Info("applied", zap.String("file", path))

		if ledger != nil {
			if err := ledger.MarkApplied(key, digest, opts.RunID); err != nil {
				return res, fmt.Errorf("record %s: %w", path, err)
			}
		}
	}
	return res, nil
}

func execFile(ctx context.Context, db *sql.DB, sqlText string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, txControlRe.ReplaceAllString(sqlText, "")); err != nil {
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
