package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joestump/menuca-migrate/internal/config"
	"github.com/joestump/menuca-migrate/internal/db"
	"github.com/joestump/menuca-migrate/internal/logging"
	"github.com/joestump/menuca-migrate/internal/pipeline"
	"github.com/joestump/menuca-migrate/internal/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a := &app{}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", a.errorMessage(err))
		a.close()
		os.Exit(1)
	}
	a.close()
}

// app carries what every command shares once flags are parsed.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	redact *redact.Filter

	ledger   *db.DB
	noLedger bool
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "menuca-migrate",
		Short:         "Move the legacy menu.ca MySQL data into PostgreSQL staging tables",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	f := rootCmd.PersistentFlags()
	f.String("config", "", "config file (YAML, TOML or JSON)")
	f.String("env-file", ".env", "dotenv file loaded before reading the environment")
	f.String("state-dir", ".menuca", "directory for the run ledger")
	f.String("ledger", "", "ledger database path (default: <state-dir>/ledger.db)")
	f.Bool("no-ledger", false, "do not record runs")
	f.String("postgres-dsn", "", "PostgreSQL / Supabase connection string")
	f.String("db-password", "", "password substituted into the PostgreSQL DSN")
	f.String("mysql-dsn", "", "legacy MySQL DSN for pull (user:pass@tcp(host:3306)/db)")
	f.String("rest-url", "", "Supabase project URL for load-rest")
	f.String("rest-key", "", "Supabase service role key for load-rest")
	f.String("schema", "staging", "target PostgreSQL schema")
	f.Int("batch-size", 1000, "rows per load batch")
	f.Int("workers", 4, "tables processed in parallel by run")
	f.BoolP("verbose", "v", false, "enable debug logging")
	f.String("manifest", "migration.yaml", "manifest file for run")

	// Viper keys use underscores so they match the env var suffix after
	// stripping the MENUCA_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("state_dir", "state-dir")
	bindFlag("ledger", "ledger")
	bindFlag("postgres_dsn", "postgres-dsn")
	bindFlag("db_password", "db-password")
	bindFlag("mysql_dsn", "mysql-dsn")
	bindFlag("rest_url", "rest-url")
	bindFlag("rest_key", "rest-key")
	bindFlag("schema", "schema")
	bindFlag("batch_size", "batch-size")
	bindFlag("workers", "workers")
	bindFlag("verbose", "verbose")
	bindFlag("manifest", "manifest")

	viper.SetEnvPrefix("MENUCA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newExtractCmd(a),
		newConvertCmd(a),
		newSplitCmd(a),
		newDDLCmd(a),
		newDeserializeCmd(a),
		newLoadCmd(a),
		newApplyCmd(a),
		newLoadRESTCmd(a),
		newPullCmd(a),
		newVerifyCmd(a),
		newRunCmd(a),
		newRunsCmd(a),
		newReportCmd(a),
		newMCPCmd(a),
	)
	return rootCmd
}

// errorMessage redacts err with the filter built by setup, or with one built
// from the environment when the command failed before setup ran.
func (a *app) errorMessage(err error) string {
	if a.redact == nil {
		a.redact = redact.NewFilter(io.Discard)
	}
	return a.redact.Redact(err.Error())
}

func (a *app) setup(cmd *cobra.Command) error {
	// Secrets already in the environment are masked even if reading the
	// .env or config file fails.
	a.redact = redact.NewFilter(io.Discard)

	flags := cmd.Root().PersistentFlags()
	envFile, _ := flags.GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	if path, _ := flags.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	a.noLedger, _ = flags.GetBool("no-ledger")
	a.cfg = config.Load()
	a.redact = redact.NewFilter(cmd.ErrOrStderr())

	logger, err := logging.New(a.cfg.Verbose)
	if err != nil {
		return err
	}
	a.log = logger
	return nil
}

func (a *app) close() {
	if a.ledger != nil {
		_ = a.ledger.Close()
		a.ledger = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// openLedger opens the run ledger on first use.
func (a *app) openLedger() (*db.DB, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	if dir := filepath.Dir(a.cfg.LedgerPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	ledger, err := db.Open(a.cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	a.ledger = ledger
	return ledger, nil
}

// tracker returns a Tracker recording into the ledger, or a no-op Tracker
// with --no-ledger.
func (a *app) tracker() (*pipeline.Tracker, error) {
	if a.noLedger {
		return pipeline.NewTracker(nil, 0), nil
	}
	ledger, err := a.openLedger()
	if err != nil {
		return nil, err
	}
	return pipeline.NewTracker(ledger, 0), nil
}

// requireLedger is openLedger for commands that only read the ledger.
func (a *app) requireLedger() (*db.DB, error) {
	if a.noLedger {
		return nil, errors.New("this command reads the ledger; drop --no-ledger")
	}
	return a.openLedger()
}

func (a *app) postgres() (string, error) {
	dsn, err := a.cfg.ResolvedPostgresDSN()
	if err != nil {
		return "", err
	}
	a.log.Debug("connecting", zap.String("dsn", redact.DSN(dsn)))
	return dsn, nil
}

var (
	okLabel     = color.New(color.FgGreen, color.Bold).SprintFunc()
	failedLabel = color.New(color.FgRed, color.Bold).SprintFunc()
	warnLabel   = color.New(color.FgYellow).SprintFunc()
)

// status prints a one-line [OK]/[FAILED] summary.
func status(w io.Writer, err error, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if err != nil {
		fmt.Fprintf(w, "%s %s: %v\n", failedLabel("[FAILED]"), line, err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", okLabel("[OK]"), line)
}

// skippedNote renders " (N skipped)" in the warning colour, or nothing.
func skippedNote(n int) string {
	if n == 0 {
		return ""
	}
	return " " + warnLabel("("+humanize.Comma(int64(n))+" skipped)")
}

// summaryWriter is where summaries go: stderr when the data itself is
// written to stdout.
func summaryWriter(cmd *cobra.Command, output string) io.Writer {
	if output == "" || output == "-" {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// openInput opens path, or stdin for "-".
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// writeOutput runs fn against the output file, or stdout for "" and "-". A
// file left by a failed fn is removed.
func writeOutput[T any](cmd *cobra.Command, path string, fn func(io.Writer) (*T, error)) (*T, error) {
	if path == "" || path == "-" {
		return fn(cmd.OutOrStdout())
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return pipeline.WriteFile(path, func(f *os.File) (*T, error) { return fn(f) })
}

// tableName is the --table flag, or the file name without extension. Dumps
// are exported one table per file.
func tableName(flag, path string) string {
	if flag != "" {
		return flag
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func displayName(path string) string {
	if path == "" || path == "-" {
		return "stdout"
	}
	return path
}
