package pipeline

import (
	"io"
	"strings"
	"sync"

	"github.com/joestump/menuca-migrate/internal/db"
)

// Recorder is the part of the ledger a Tracker writes to.
type Recorder interface {
	StartRun(r *db.Run) (string, error)
	FinishRun(id, status string, t db.Tally) error
	AddIssue(runID, level string, line int, message string) error
}

// DefaultMaxIssues caps the issues stored per run.
const DefaultMaxIssues = 500

// Tracker wraps command executions in ledger runs. A nil Recorder turns
// tracking off.
type Tracker struct {
	rec       Recorder
	maxIssues int
}

// NewTracker returns a Tracker storing at most maxIssues issues per run.
func NewTracker(rec Recorder, maxIssues int) *Tracker {
	if maxIssues <= 0 {
		maxIssues = DefaultMaxIssues
	}
	return &Tracker{rec: rec, maxIssues: maxIssues}
}

// Span is an open run.
type Span struct {
	ID string

	t       *Tracker
	mu      sync.Mutex
	issues  int
	dropped int
	recErr  error
}

// Issue records a warning or error. Issues past the cap are only counted.
func (s *Span) Issue(level string, line int, message string) {
	if s == nil || s.t.rec == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.issues >= s.t.maxIssues {
		s.dropped++
		return
	}
	s.issues++
	if err := s.t.rec.AddIssue(s.ID, level, line, message); err != nil && s.recErr == nil {
		s.recErr = err
	}
}

// Writer returns an io.Writer that records every non-empty line written to
// it as an issue of the given level.
func (s *Span) Writer(level string) io.Writer {
	return &issueWriter{span: s, level: level}
}

type issueWriter struct {
	span  *Span
	level string
}

func (w *issueWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.span.Issue(w.level, 0, line)
		}
	}
	return len(p), nil
}

// Dropped returns how many issues were over the cap.
func (s *Span) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Track starts run, calls fn, and finishes the run as completed or failed
// with the tally fn returns. fn's error is returned unchanged; ledger errors
// are returned only when fn succeeded.
func (t *Tracker) Track(run db.Run, fn func(*Span) (db.Tally, error)) (string, error) {
	span := &Span{t: t}
	if t.rec != nil {
		id, err := t.rec.StartRun(&run)
		if err != nil {
			return "", err
		}
		span.ID = id
	}

	tally, err := fn(span)
	if t.rec == nil {
		return "", err
	}

	status := db.StatusCompleted
	if err != nil {
		status = db.StatusFailed
		if tally.Detail == "" {
			tally.Detail = err.Error()
		}
	}
	finishErr := t.rec.FinishRun(span.ID, status, tally)
	if err != nil {
		return span.ID, err
	}
	if finishErr != nil {
		return span.ID, finishErr
	}
	return span.ID, span.recErr
}
