// Package pipeline runs the extract, convert and deserialize steps for every
// table listed in a manifest and records each step in the run ledger.
package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Manifest lists the tables of one migration batch.
type Manifest struct {
	DumpsDir string `mapstructure:"dumps_dir"`
	CSVDir   string `mapstructure:"csv_dir"`
	SQLDir   string `mapstructure:"sql_dir"`
	Schema   string `mapstructure:"schema"`
	Charset  string `mapstructure:"charset"`
	// RowsPerFile is the number of INSERT statements per batch file.
	RowsPerFile      int     `mapstructure:"rows_per_file"`
	RowsPerStatement int     `mapstructure:"rows_per_statement"`
	Tables           []Table `mapstructure:"tables"`
}

// Table is one table of the manifest.
type Table struct {
	Name   string `mapstructure:"name"`
	Dump   string `mapstructure:"dump"`
	CSV    string `mapstructure:"csv"`
	Target string `mapstructure:"target"`
	// Source is the table name inside the dump when it differs from Name.
	Source  string   `mapstructure:"source"`
	Headers []string `mapstructure:"headers"`
	Exclude []string `mapstructure:"exclude"`
	Blobs   []Blob   `mapstructure:"blobs"`
}

// Blob names a serialized column and the decoder for it.
type Blob struct {
	Column  string `mapstructure:"column"`
	Decoder string `mapstructure:"decoder"`
	Key     string `mapstructure:"key"`
	Output  string `mapstructure:"output"`
	Lenient bool   `mapstructure:"lenient"`
}

// LoadManifest reads a YAML, JSON or TOML manifest. Relative directories are
// resolved against the manifest's own directory.
func LoadManifest(path string) (*Manifest, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("dumps_dir", "dumps")
	v.SetDefault("csv_dir", "csv")
	v.SetDefault("sql_dir", "sql")
	v.SetDefault("schema", "staging")
	v.SetDefault("rows_per_file", 1)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	m := &Manifest{}
	if err := v.Unmarshal(m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	base := filepath.Dir(path)
	for _, dir := range []*string{&m.DumpsDir, &m.CSVDir, &m.SQLDir} {
		if !filepath.IsAbs(*dir) {
			*dir = filepath.Join(base, *dir)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks table names and fills per-table defaults.
func (m *Manifest) Validate() error {
	if len(m.Tables) == 0 {
		return fmt.Errorf("manifest lists no tables")
	}
	seen := map[string]bool{}
	for i := range m.Tables {
		t := &m.Tables[i]
		if t.Name == "" {
			return fmt.Errorf("table %d has no name", i+1)
		}
		if seen[t.Name] {
			return fmt.Errorf("table %q is listed twice", t.Name)
		}
		seen[t.Name] = true
		if t.Dump == "" {
			t.Dump = t.Name + ".sql"
		}
		if t.CSV == "" {
			t.CSV = t.Name + ".csv"
		}
		if t.Target == "" {
			t.Target = t.Name
		}
		for j := range t.Blobs {
			b := &t.Blobs[j]
			if b.Column == "" || b.Decoder == "" {
				return fmt.Errorf("table %q blob %d needs column and decoder", t.Name, j+1)
			}
			if b.Output == "" {
				b.Output = t.Name + "_" + strings.ToLower(b.Column) + ".csv"
			}
		}
	}
	return nil
}
