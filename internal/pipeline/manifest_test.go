package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
dumps_dir: dumps
sql_dir: /var/tmp/sql
charset: latin1
tables:
  - name: v1_deals
    source: deals
    headers: [id, name, active_days]
    blobs:
      - column: active_days
        decoder: weekdays
  - name: v1_menu
    target: menu_items
`)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	dir := filepath.Dir(path)

	if m.DumpsDir != filepath.Join(dir, "dumps") || m.CSVDir != filepath.Join(dir, "csv") || m.SQLDir != "/var/tmp/sql" {
		t.Errorf("unexpected dirs %s %s %s", m.DumpsDir, m.CSVDir, m.SQLDir)
	}
	if m.Schema != "staging" || m.Charset != "latin1" || m.RowsPerFile != 1 {
		t.Errorf("unexpected settings %+v", m)
	}

	want := []Table{
		{
			Name:    "v1_deals",
			Dump:    "v1_deals.sql",
			CSV:     "v1_deals.csv",
			Target:  "v1_deals",
			Source:  "deals",
			Headers: []string{"id", "name", "active_days"},
			Blobs:   []Blob{{Column: "active_days", Decoder: "weekdays", Output: "v1_deals_active_days.csv"}},
		},
		{Name: "v1_menu", Dump: "v1_menu.sql", CSV: "v1_menu.csv", Target: "menu_items"},
	}
	if diff := cmp.Diff(want, m.Tables); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}
}

func TestManifestValidate(t *testing.T) {
	tests := map[string]string{
		"no tables":      "schema: staging\n",
		"duplicate":      "tables:\n  - name: a\n  - name: a\n",
		"missing name":   "tables:\n  - dump: x.sql\n",
		"blob w/o codec": "tables:\n  - name: a\n    blobs:\n      - column: b\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadManifest(writeManifest(t, body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read manifest") {
		t.Errorf("unexpected error %v", err)
	}
}
