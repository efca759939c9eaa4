package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// PasswordPlaceholder is the marker Supabase puts in copied connection strings.
const PasswordPlaceholder = "[YOUR-PASSWORD]"

// Config holds all runtime configuration for menuca-migrate.
type Config struct {
	StateDir    string
	LedgerPath  string
	PostgresDSN string
	DBPassword  string
	MySQLDSN    string
	RESTURL     string
	RESTKey     string
	Schema      string
	BatchSize   int
	Workers     int
	Verbose     bool
	Manifest    string
}

// Load reads configuration from viper, which merges flag values, env vars,
// config file values and defaults (set up by the cobra root command).
func Load() Config {
	cfg := Config{
		StateDir:    viper.GetString("state_dir"),
		LedgerPath:  viper.GetString("ledger"),
		PostgresDSN: viper.GetString("postgres_dsn"),
		DBPassword:  firstNonEmpty(viper.GetString("db_password"), os.Getenv("SUPABASE_DB_PASSWORD")),
		MySQLDSN:    viper.GetString("mysql_dsn"),
		RESTURL:     firstNonEmpty(viper.GetString("rest_url"), os.Getenv("SUPABASE_URL")),
		RESTKey:     firstNonEmpty(viper.GetString("rest_key"), os.Getenv("SUPABASE_SERVICE_ROLE_KEY")),
		Schema:      viper.GetString("schema"),
		BatchSize:   viper.GetInt("batch_size"),
		Workers:     viper.GetInt("workers"),
		Verbose:     viper.GetBool("verbose"),
		Manifest:    viper.GetString("manifest"),
	}
	if cfg.LedgerPath == "" && cfg.StateDir != "" {
		cfg.LedgerPath = filepath.Join(cfg.StateDir, "ledger.db")
	}
	return cfg
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set are not overridden and a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ResolvedPostgresDSN returns PostgresDSN with DBPassword filled in: the
// Supabase placeholder is replaced, or the password is set on a URL DSN
// that has none.
func (c Config) ResolvedPostgresDSN() (string, error) {
	dsn := c.PostgresDSN
	if dsn == "" {
		return "", errors.New("no PostgreSQL DSN configured (--postgres-dsn or MENUCA_POSTGRES_DSN)")
	}
	if strings.Contains(dsn, PasswordPlaceholder) {
		if c.DBPassword == "" {
			return "", fmt.Errorf("DSN contains %s but no password is set (MENUCA_DB_PASSWORD or SUPABASE_DB_PASSWORD)", PasswordPlaceholder)
		}
		return strings.ReplaceAll(dsn, PasswordPlaceholder, url.PathEscape(c.DBPassword)), nil
	}
	if c.DBPassword == "" || !strings.Contains(dsn, "://") {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse postgres dsn: %w", err)
	}
	if u.User == nil {
		return dsn, nil
	}
	if _, ok := u.User.Password(); ok {
		return dsn, nil
	}
	u.User = url.UserPassword(u.User.Username(), c.DBPassword)
	return u.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
