package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joestump/menuca-migrate/internal/blob"
	"github.com/joestump/menuca-migrate/internal/db"
	"github.com/joestump/menuca-migrate/internal/dump"
	"github.com/joestump/menuca-migrate/internal/extract"
	"github.com/joestump/menuca-migrate/internal/pgconv"
)

// Step is the result of one step for one table.
type Step struct {
	Kind    string
	RunID   string
	Output  string
	Rows    int
	Skipped int
	Err     error
}

// Outcome collects the steps run for a table. Steps stop at the first
// failure.
type Outcome struct {
	Table string
	Steps []Step
	Err   error
}

// OK reports whether every step succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Runner executes a manifest.
type Runner struct {
	Tracker  *Tracker
	Decoders *blob.Registry
	// Workers bounds the tables processed at once. Defaults to 1.
	Workers int
	Logger  *zap.Logger
}

// Run processes every table of m. A failing table does not stop the others;
// the returned error is only set for setup problems or cancellation.
func (r *Runner) Run(ctx context.Context, m *Manifest) ([]Outcome, error) {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tracker := r.Tracker
	if tracker == nil {
		tracker = NewTracker(nil, 0)
	}
	decoders := r.Decoders
	if decoders == nil {
		decoders = blob.NewRegistry()
	}
	for _, dir := range []string{m.CSVDir, m.SQLDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	outcomes := make([]Outcome, len(m.Tables))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, t := range m.Tables {
		g.Go(func() error {
			tr := &tableRun{m: m, t: t, tracker: tracker, decoders: decoders, log: log.With(zap.String("table", t.Name))}
			outcomes[i] = tr.run(ctx)
			return ctx.Err()
		})
	}
	err := g.Wait()
	return outcomes, err
}

type tableRun struct {
	m        *Manifest
	t        Table
	tracker  *Tracker
	decoders *blob.Registry
	log      *zap.Logger
}

func (tr *tableRun) run(ctx context.Context) Outcome {
	out := Outcome{Table: tr.t.Name}
	steps := []func(context.Context) Step{tr.extract, tr.convert}
	for _, b := range tr.t.Blobs {
		steps = append(steps, func(ctx context.Context) Step { return tr.deserialize(ctx, b) })
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}
		s := step(ctx)
		out.Steps = append(out.Steps, s)
		if s.Err != nil {
			out.Err = fmt.Errorf("%s: %w", s.Kind, s.Err)
			tr.log.Warn("table failed", zap.String("step", s.Kind), zap.Error(s.Err))
			return out
		}
	}
	tr.log.Info("table done", zap.Int("steps", len(out.Steps)))
	return out
}

func (tr *tableRun) dumpPath() string { return filepath.Join(tr.m.DumpsDir, tr.t.Dump) }
func (tr *tableRun) csvPath() string  { return filepath.Join(tr.m.CSVDir, tr.t.CSV) }

func (tr *tableRun) extract(ctx context.Context) Step {
	step := Step{Kind: "extract", Output: tr.csvPath()}
	run := db.Run{Kind: step.Kind, TableName: tr.t.Name, Source: tr.dumpPath(), Target: step.Output}
	step.RunID, step.Err = tr.tracker.Track(run, func(span *Span) (db.Tally, error) {
		in, err := os.Open(tr.dumpPath())
		if err != nil {
			return db.Tally{}, fmt.Errorf("open dump: %w", err)
		}
		defer in.Close() //nolint:errcheck

		res, err := WriteFile(step.Output, func(f *os.File) (*extract.Result, error) {
			return extract.Run(ctx, in, f, extract.Options{
				Table:   tr.t.Source,
				Headers: tr.t.Headers,
				Exclude: tr.t.Exclude,
				Charset: tr.m.Charset,
				Logger:  tr.log,
			})
		})
		if res == nil {
			return db.Tally{}, err
		}
		for _, w := range res.Warnings {
			span.Issue("warn", w.Line, w.Message)
		}
		step.Rows, step.Skipped = res.Rows, res.Skipped
		return db.Tally{RowsIn: res.Rows + res.Skipped, RowsOut: res.Rows, Skipped: res.Skipped}, err
	})
	return step
}

func (tr *tableRun) convert(ctx context.Context) Step {
	step := Step{Kind: "convert", Output: tr.m.SQLDir}
	run := db.Run{Kind: step.Kind, TableName: tr.t.Name, Source: tr.dumpPath(), Target: pgconv.QualifiedName(tr.m.Schema, tr.t.Target)}
	step.RunID, step.Err = tr.tracker.Track(run, func(span *Span) (db.Tally, error) {
		in, err := os.Open(tr.dumpPath())
		if err != nil {
			return db.Tally{}, fmt.Errorf("open dump: %w", err)
		}
		defer in.Close() //nolint:errcheck
		src, err := dump.NewReader(in, tr.m.Charset)
		if err != nil {
			return db.Tally{}, err
		}

		c := &pgconv.Converter{
			Table:            tr.t.Source,
			Schema:           tr.m.Schema,
			Target:           tr.t.Target,
			Columns:          tr.t.Headers,
			RowsPerStatement: tr.m.RowsPerStatement,
			Logger:           tr.log,
		}
		header := pgconv.Header{Source: tr.dumpPath(), Target: run.Target}
		sink := pgconv.NewFileSplitter(tr.m.SQLDir, tr.t.Name, tr.m.RowsPerFile, header, true)
		res, err := c.Convert(ctx, src, sink)
		if cerr := sink.Close(); err == nil {
			err = cerr
		}
		if res == nil {
			return db.Tally{}, err
		}
		for _, is := range res.Issues {
			span.Issue("warn", is.Line, is.Message)
		}
		step.Rows, step.Skipped = res.Rows, res.Skipped
		step.Output = strings.Join(sink.Files(), ",")
		return db.Tally{RowsIn: res.Rows + res.Skipped, RowsOut: res.Rows, Skipped: res.Skipped,
			Detail: fmt.Sprintf("%d statements in %d files", res.Statements, len(sink.Files()))}, err
	})
	return step
}

func (tr *tableRun) deserialize(ctx context.Context, b Blob) Step {
	step := Step{Kind: "deserialize", Output: filepath.Join(tr.m.CSVDir, b.Output)}
	run := db.Run{Kind: step.Kind, TableName: tr.t.Name, Source: tr.csvPath() + "#" + b.Column, Target: step.Output}
	step.RunID, step.Err = tr.tracker.Track(run, func(span *Span) (db.Tally, error) {
		dec, err := tr.decoders.Resolve(b.Decoder)
		if err != nil {
			return db.Tally{}, err
		}
		in, err := os.Open(tr.csvPath())
		if err != nil {
			return db.Tally{}, fmt.Errorf("open csv: %w", err)
		}
		defer in.Close() //nolint:errcheck

		res, err := WriteFile(step.Output, func(f *os.File) (*blob.Result, error) {
			return blob.Run(ctx, in, f, blob.Options{
				Column:   b.Column,
				Key:      b.Key,
				Decoder:  dec,
				Lenient:  b.Lenient,
				ErrorLog: span.Writer("error"),
				Logger:   tr.log,
			})
		})
		if res == nil {
			return db.Tally{}, err
		}
		step.Rows, step.Skipped = res.Records, res.Failed
		return db.Tally{RowsIn: res.Rows, RowsOut: res.Records, Skipped: res.Empty, Errors: res.Failed}, err
	})
	return step
}

// WriteFile creates path, runs fn on it and removes the file if fn fails.
func WriteFile[T any](path string, fn func(*os.File) (*T, error)) (*T, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	res, err := fn(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return res, err
}

// Failed returns the outcomes that did not complete.
func Failed(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// ErrFailedTables is returned by callers that treat any failed table as a
// failed run.
var ErrFailedTables = errors.New("one or more tables failed")
