package surveyetl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// ReportFile is the name of the preparation report written to the output
// directory.
const ReportFile = "data_preparation_report.txt"

// Stage is the step a TableResult belongs to.
type Stage string

const (
	StagePrepare Stage = "prepare"
	StageLoad    Stage = "load"
)

// TableResult is the outcome of one table in one stage.
type TableResult struct {
	Table    string
	Stage    Stage
	Status   Status
	Rows     int64
	Columns  int
	Path     string
	Warnings []string
	Err      error
}

// Summary is the per-table outcome of a run.
type Summary struct {
	RunID      string
	Job        string
	Source     string
	SourceRows int
	StartedAt  time.Time
	FinishedAt time.Time
	Tables     []TableResult
	Integrity  *IntegrityReport
	// Err is set when the run stopped before any table could be attempted.
	Err error
}

// OK reports whether every planned artifact succeeded.
func (s *Summary) OK() bool {
	if s.Err != nil {
		return false
	}
	if s.Integrity != nil && !s.Integrity.OK() {
		return false
	}
	for _, t := range s.Tables {
		if t.Status == StatusFatal {
			return false
		}
	}
	return true
}

// Failed returns the fatal table results.
func (s *Summary) Failed() []TableResult {
	var failed []TableResult
	for _, t := range s.Tables {
		if t.Status == StatusFatal {
			failed = append(failed, t)
		}
	}
	return failed
}

// Pipeline prepares survey tables and loads them into a sink.
type Pipeline struct {
	prettyLogging bool
	logLevel      zerolog.Level
	concurrency   int
	notifier      Notifier
	now           func() time.Time

	sink      Sink
	preflight func(context.Context) error

	// extractor is shared by every job the pipeline runs.
	extractor *fileExtractor
}

// New builds a new Pipeline.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		logLevel:    zerolog.InfoLevel,
		concurrency: 1,
		now:         time.Now,
		extractor:   newDefaultExtractor(),
	}

	for _, o := range opts {
		if err := o.apply(p); err != nil {
			return nil, xerrors.Errorf("failed to apply option: %w", err)
		}
	}

	return p, nil
}

// Close releases the Cloud Storage client the pipeline opened to read
// gs:// sources.
func (p *Pipeline) Close() error {
	return p.extractor.Close()
}

func (p *Pipeline) logger() zerolog.Logger {
	var l zerolog.Logger
	if p.prettyLogging {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(p.logLevel).With().Timestamp().Logger()
}

// start attaches a run-scoped logger to ctx unless the context already
// belongs to a run.
func (p *Pipeline) start(ctx context.Context, j *Job) (context.Context, *Summary) {
	id, ok := RunIDFrom(ctx)
	if !ok {
		id = uuid.NewString()
		l := p.logger().With().Str("run_id", id).Str("job", j.Name).Logger()
		ctx = l.WithContext(ctx)
		ctx = withRunID(ctx, id)
		ctx = withStartedTime(ctx, p.now())
	}

	started, _ := startedTimeFrom(ctx)

	return ctx, &Summary{RunID: id, Job: j.Name, Source: j.Source, StartedAt: started}
}

func (p *Pipeline) finish(ctx context.Context, s *Summary) {
	l := log.Ctx(ctx)

	s.FinishedAt = p.now()

	for _, t := range s.Tables {
		e := l.Info()
		switch t.Status {
		case StatusFatal:
			e = l.Error().Err(t.Err)
		case StatusPartial, StatusEmpty:
			e = l.Warn().Strs("warnings", t.Warnings)
		}
		e.Str("table", t.Table).Str("stage", string(t.Stage)).Stringer("status", t.Status).Int64("rows", t.Rows).Msg("table summary")
	}

	ev := l.Info()
	if !s.OK() {
		ev = l.Error().Err(s.Err)
	}
	ev.Int("tables", len(s.Tables)).Int("failed", len(s.Failed())).Dur("elapsed", s.FinishedAt.Sub(s.StartedAt)).Bool("ok", s.OK()).Msg("run finished")

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, s); err != nil {
			l.Error().Err(err).Msg("failed to notify")
		}
	}
}

// Prepare derives the demographics and technology tables from the job's
// source, writes them to the output directory, checks their integrity and
// writes the preparation report.
func (p *Pipeline) Prepare(ctx context.Context, j *Job) (*Summary, error) {
	ctx, s := p.start(ctx, j)
	_, err := p.prepare(ctx, j, s)
	p.finish(ctx, s)
	return s, err
}

// Load loads previously prepared files of the job into the sink.
func (p *Pipeline) Load(ctx context.Context, j *Job) (*Summary, error) {
	ctx, s := p.start(ctx, j)

	files := j.files()

	var tables []*Table
	for _, name := range j.tableNames() {
		// Technology tables without answers are never written.
		if _, err := os.Stat(files.Path(name)); errors.Is(err, fs.ErrNotExist) && name != DemographicsTable {
			s.Tables = append(s.Tables, TableResult{
				Table:    name,
				Stage:    StageLoad,
				Status:   StatusEmpty,
				Path:     files.Path(name),
				Warnings: []string{"no prepared file"},
			})
			continue
		}

		t, err := files.ReadTable(ctx, name, j.keyColumn())
		if err != nil {
			s.Tables = append(s.Tables, TableResult{Table: name, Stage: StageLoad, Status: StatusFatal, Path: files.Path(name), Err: err})
			continue
		}
		tables = append(tables, t)
	}

	err := p.load(ctx, tables, s)
	p.finish(ctx, s)
	return s, err
}

// Run prepares the tables and loads them into the sink.
func (p *Pipeline) Run(ctx context.Context, j *Job) (*Summary, error) {
	ctx, s := p.start(ctx, j)

	tables, err := p.prepare(ctx, j, s)
	if err == nil {
		err = p.load(ctx, tables, s)
	}

	p.finish(ctx, s)
	return s, err
}

// prepare returns the tables that were written.
func (p *Pipeline) prepare(ctx context.Context, j *Job, s *Summary) ([]*Table, error) {
	l := log.Ctx(ctx)

	src, err := j.read(ctx, p.extractor)
	if err != nil {
		s.Err = err
		return nil, err
	}
	s.SourceRows = src.Len()

	files := j.files()
	var written []*Table

	put := func(t *Table, rep Report) {
		r := TableResult{
			Table:    t.Name,
			Stage:    StagePrepare,
			Status:   rep.Status,
			Columns:  len(t.Columns),
			Path:     files.Path(t.Name),
			Warnings: rep.Warnings,
		}

		if rep.Status == StatusEmpty {
			if err := files.Remove(ctx, t.Name); err != nil {
				r.Status = StatusFatal
				r.Err = err
			}
		} else {
			n, err := files.Put(ctx, t)
			if err != nil {
				r.Status = StatusFatal
				r.Err = err
			} else {
				r.Rows = n
				written = append(written, t)
			}
		}

		s.Tables = append(s.Tables, r)
	}

	// A table that cannot be derived this run must not be loaded from an
	// earlier run's file.
	fail := func(name string, err error) {
		if rerr := files.Remove(ctx, name); rerr != nil {
			l.Error().Err(rerr).Str("table", name).Msg("failed to remove stale table")
		}
		s.Tables = append(s.Tables, TableResult{Table: name, Stage: StagePrepare, Status: StatusFatal, Path: files.Path(name), Err: err})
	}

	demo, rep := ProjectDemographics(src, j.demographicColumns(), p.now())
	if rep.Status == StatusFatal {
		l.Error().Err(rep.Err).Str("table", DemographicsTable).Msg("failed to project demographics")
		fail(DemographicsTable, rep.Err)
	} else {
		for i, c := range demo.Columns {
			l.Debug().Str("column", c).Int("valid", demo.ValidCounts[i]).Int("rows", len(demo.Rows)).Msg("demographic column")
		}
		put(demo.Table(), rep)
	}

	var techs []*Technologies
	for _, c := range j.techColumns() {
		t, rep := Unpivot(src, c)
		tl := l.With().Str("table", c.TableName()).Str("column", c.Source).Logger()

		if rep.Status == StatusFatal {
			tl.Error().Err(rep.Err).Msg("failed to unpivot")
			fail(c.TableName(), rep.Err)
			continue
		}

		if !t.Empty() {
			e := tl.Info().
				Int("answered", t.Answered).
				Int("edges", len(t.Edges)).
				Int("duplicates", t.Duplicates).
				Int("respondents", t.Respondents()).
				Int("technologies", t.Distinct()).
				Float64("average", t.Average())
			for _, tc := range t.Top(5) {
				e = e.Int("top."+tc.Technology, tc.Count)
			}
			e.Msg("unpivoted")
		}

		techs = append(techs, t)
		put(t.Table(), rep)
	}

	s.Integrity = ValidateIntegrity(src, demo, techs)
	logIntegrity(ctx, s.Integrity)

	if err := writeReport(filepath.Join(j.OutputDir, ReportFile), s); err != nil {
		l.Error().Err(err).Msg("failed to write report")
	}

	return written, nil
}

func logIntegrity(ctx context.Context, r *IntegrityReport) {
	l := log.Ctx(ctx)

	if r.DemographicsChecked {
		e := l.Info()
		if r.DemographicsRows != r.Respondents {
			e = l.Warn()
		}
		e.Int("rows", r.DemographicsRows).Int("expected", r.Respondents).Int("source_rows", r.SourceRows).Msg("demographics row count")
	}

	for _, t := range r.Tables {
		e := l.Info()
		if len(t.Orphans) > 0 {
			e = l.Warn().Int("orphans", len(t.Orphans))
		}
		e.Str("table", t.Table).Int("edges", t.Edges).Int("respondents", t.Respondents).Float64("average", t.Average).Msg("integrity checked")
	}
}

// load puts every table into the sink. A failed table does not stop the others.
func (p *Pipeline) load(ctx context.Context, tables []*Table, s *Summary) error {
	l := log.Ctx(ctx)

	if p.sink == nil {
		err := xerrors.New("no sink configured")
		s.Err = err
		return err
	}

	if p.preflight != nil {
		if err := p.preflight(ctx); err != nil {
			l.Error().Err(err).Msg("destination is not ready")
			s.Err = err
			return err
		}
	}

	results := make([]TableResult, len(tables))

	var eg errgroup.Group
	eg.SetLimit(p.concurrency)

	for i, t := range tables {
		i, t := i, t
		eg.Go(func() error {
			results[i] = p.loadTable(ctx, t)
			return nil
		})
	}
	_ = eg.Wait()

	s.Tables = append(s.Tables, results...)

	return nil
}

// verifier reports the number of rows a destination table holds.
type verifier interface {
	Verify(context.Context, string) (uint64, error)
}

func (p *Pipeline) loadTable(ctx context.Context, t *Table) TableResult {
	tl := log.Ctx(ctx).With().Str("table", t.Name).Logger()
	ctx = tl.WithContext(ctx)

	r := TableResult{Table: t.Name, Stage: StageLoad, Columns: len(t.Columns)}

	started := time.Now()
	tl.Info().Int("rows", t.Len()).Msg("loading")

	n, err := p.sink.Put(ctx, t)
	if err != nil {
		r.Status = StatusFatal
		r.Err = err
		return r
	}
	r.Rows = n

	if n != int64(t.Len()) {
		r.Status = StatusPartial
		r.Warnings = append(r.Warnings, fmt.Sprintf("loaded %d of %d rows", n, t.Len()))
	}

	if v, ok := p.sink.(verifier); ok {
		stored, err := v.Verify(ctx, t.Name)
		switch {
		case err != nil:
			r.Status = StatusPartial
			r.Warnings = append(r.Warnings, err.Error())
		case stored != uint64(n):
			r.Status = StatusPartial
			r.Warnings = append(r.Warnings, fmt.Sprintf("table holds %d rows, expected %d", stored, n))
		}
	}

	tl.Info().Int64("rows", n).Dur("elapsed", time.Since(started)).Msg("loaded")

	return r
}
