package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/joestump/menuca-migrate/internal/db"
)

type fakeRecorder struct {
	runs    map[string]*db.Run
	tallies map[string]db.Tally
	issues  map[string][]string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{runs: map[string]*db.Run{}, tallies: map[string]db.Tally{}, issues: map[string][]string{}}
}

func (f *fakeRecorder) StartRun(r *db.Run) (string, error) {
	r.ID = fmt.Sprintf("run-%d", len(f.runs)+1)
	r.Status = db.StatusRunning
	f.runs[r.ID] = r
	return r.ID, nil
}

func (f *fakeRecorder) FinishRun(id, status string, t db.Tally) error {
	f.runs[id].Status = status
	f.tallies[id] = t
	return nil
}

func (f *fakeRecorder) AddIssue(runID, level string, line int, message string) error {
	f.issues[runID] = append(f.issues[runID], fmt.Sprintf("%s:%d:%s", level, line, message))
	return nil
}

func TestTrackerCompleted(t *testing.T) {
	rec := newFakeRecorder()
	tr := NewTracker(rec, 2)

	id, err := tr.Track(db.Run{Kind: "extract", TableName: "v1_menu"}, func(s *Span) (db.Tally, error) {
		for i := 0; i < 5; i++ {
			s.Issue("warn", i+1, "width mismatch")
		}
		if s.Dropped() != 3 {
			t.Errorf("expected 3 dropped issues, got %d", s.Dropped())
		}
		return db.Tally{RowsIn: 10, RowsOut: 5, Skipped: 5}, nil
	})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if rec.runs[id].Status != db.StatusCompleted || rec.tallies[id].RowsOut != 5 {
		t.Errorf("unexpected run %+v %+v", rec.runs[id], rec.tallies[id])
	}
	if len(rec.issues[id]) != 2 || rec.issues[id][0] != "warn:1:width mismatch" {
		t.Errorf("unexpected issues %v", rec.issues[id])
	}
}

func TestTrackerFailed(t *testing.T) {
	rec := newFakeRecorder()
	tr := NewTracker(rec, 0)
	boom := errors.New("open dump: no such file")

	id, err := tr.Track(db.Run{Kind: "extract"}, func(*Span) (db.Tally, error) {
		return db.Tally{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if rec.runs[id].Status != db.StatusFailed || rec.tallies[id].Detail != boom.Error() {
		t.Errorf("unexpected run %+v %+v", rec.runs[id], rec.tallies[id])
	}
}

func TestTrackerWithoutLedger(t *testing.T) {
	id, err := NewTracker(nil, 0).Track(db.Run{Kind: "extract"}, func(s *Span) (db.Tally, error) {
		s.Issue("warn", 1, "ignored")
		return db.Tally{}, nil
	})
	if err != nil || id != "" {
		t.Errorf("expected no run id and no error, got %q %v", id, err)
	}
}

func TestSpanWriter(t *testing.T) {
	rec := newFakeRecorder()
	id, err := NewTracker(rec, 0).Track(db.Run{Kind: "deserialize"}, func(s *Span) (db.Tally, error) {
		fmt.Fprint(s.Writer("error"), "row 7 (line 8): bad length\n\nrow 9 (line 10): truncated\n")
		return db.Tally{}, nil
	})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	want := []string{"error:0:row 7 (line 8): bad length", "error:0:row 9 (line 10): truncated"}
	if fmt.Sprint(rec.issues[id]) != fmt.Sprint(want) {
		t.Errorf("issues = %v, want %v", rec.issues[id], want)
	}
}
