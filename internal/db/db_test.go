package db

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestStartAndFinishRun(t *testing.T) {
	d := openTestDB(t)

	id, err := d.StartRun(&Run{Kind: "extract", TableName: "v1_menu", Source: "dumps/menuca_v1_menu.sql", Target: "csv/v1_menu.csv"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if len(id) != 36 {
		t.Fatalf("expected a uuid, got %q", id)
	}

	r, err := d.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r == nil || r.Status != StatusRunning || r.EndedAt != nil {
		t.Fatalf("expected open running run, got %+v", r)
	}
	if r.Duration() != 0 {
		t.Errorf("open run should have zero duration")
	}

	if err := d.FinishRun(id, StatusCompleted, Tally{RowsIn: 120, RowsOut: 118, Skipped: 2, Detail: "2 width mismatches"}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	r, err = d.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Status != StatusCompleted || r.RowsIn != 120 || r.RowsOut != 118 || r.Skipped != 2 {
		t.Errorf("unexpected run %+v", r)
	}
	if r.EndedAt == nil || r.Detail == nil || *r.Detail != "2 width mismatches" {
		t.Errorf("expected ended_at and detail, got %+v", r)
	}
}

func TestFinishUnknownRun(t *testing.T) {
	d := openTestDB(t)
	if err := d.FinishRun("nope", StatusFailed, Tally{}); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestGetRunByPrefix(t *testing.T) {
	d := openTestDB(t)

	if _, err := d.StartRun(&Run{ID: "aaaa1111-0000-0000-0000-000000000000", Kind: "load"}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.StartRun(&Run{ID: "aaaa2222-0000-0000-0000-000000000000", Kind: "load"}); err != nil {
		t.Fatal(err)
	}

	r, err := d.GetRun("aaaa1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r == nil || r.ID != "aaaa1111-0000-0000-0000-000000000000" {
		t.Fatalf("unexpected run %+v", r)
	}

	if _, err := d.GetRun("aaaa"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("expected ambiguous prefix error, got %v", err)
	}

	r, err = d.GetRun("ffff")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r != nil {
		t.Fatalf("expected nil for unknown run, got %+v", r)
	}
}

func TestListRuns(t *testing.T) {
	d := openTestDB(t)

	base := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, kind := range []string{"extract", "convert", "extract"} {
		_, err := d.StartRun(&Run{Kind: kind, TableName: "v1_deals", StartedAt: base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339Nano)})
		if err != nil {
			t.Fatalf("StartRun: %v", err)
		}
	}

	all, err := d.ListRuns("", 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	if all[0].StartedAt < all[1].StartedAt {
		t.Errorf("runs should be newest first")
	}

	extracts, err := d.ListRuns("extract", 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(extracts) != 2 {
		t.Errorf("expected 2 extract runs, got %d", len(extracts))
	}

	page, err := d.ListRuns("", 1, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(page) != 1 || page[0].Kind != "extract" || page[0].StartedAt != base.Format(time.RFC3339Nano) {
		t.Errorf("unexpected page %+v", page)
	}

	latest, err := d.LatestRun("extract", "v1_deals")
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if latest == nil || latest.ID != all[0].ID {
		t.Errorf("unexpected latest run %+v", latest)
	}
}

func TestIssues(t *testing.T) {
	d := openTestDB(t)

	id, err := d.StartRun(&Run{Kind: "extract"})
	if err != nil {
		t.Fatal(err)
	}
	for i, msg := range []string{"row has 9 fields, want 10", "unterminated string literal", "row has 11 fields, want 10"} {
		if err := d.AddIssue(id, "warn", 100+i, msg); err != nil {
			t.Fatalf("AddIssue: %v", err)
		}
	}

	issues, err := d.ListIssues(id, 2)
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
	if issues[0].Line != 100 || issues[1].Message != "unterminated string literal" {
		t.Errorf("unexpected issues %+v", issues)
	}

	if err := d.AddIssue("missing-run", "warn", 1, "x"); err == nil {
		t.Error("expected foreign key error for unknown run")
	}
}

func TestAppliedFiles(t *testing.T) {
	d := openTestDB(t)

	id, err := d.StartRun(&Run{Kind: "apply"})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := d.IsApplied("/sql/v1_menu_batch_001.sql", "abc")
	if err != nil {
		t.Fatalf("IsApplied: %v", err)
	}
	if ok {
		t.Fatal("file should not be applied yet")
	}

	if err := d.MarkApplied("/sql/v1_menu_batch_001.sql", "abc", id); err != nil {
		t.Fatalf("MarkApplied: %v", err)
	}
	if err := d.MarkApplied("/sql/v1_menu_batch_001.sql", "abc", ""); err != nil {
		t.Fatalf("MarkApplied twice: %v", err)
	}

	if ok, _ := d.IsApplied("/sql/v1_menu_batch_001.sql", "abc"); !ok {
		t.Error("expected file to be applied")
	}
	if ok, _ := d.IsApplied("/sql/v1_menu_batch_001.sql", "def"); ok {
		t.Error("changed content must not count as applied")
	}
}
