package surveyetl

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSurvey = `ResponseId,Country,Age,LanguageHaveWorkedWith,DatabaseHaveWorkedWith
1,Japan,25-34 years old,Python;Go,PostgreSQL
2,NA,,,"Redis;PostgreSQL;Redis"
3,Peru,Under 18 years old
`

type testExtractor struct {
	body string
	err  error
}

func (e *testExtractor) extract(_ context.Context, _ string) (io.Reader, func(), error) {
	if e.err != nil {
		return nil, nil, e.err
	}
	return strings.NewReader(e.body), func() {}, nil
}

type testSink struct {
	mu     sync.Mutex
	tables map[string]*Table
	fail   map[string]error
}

func newTestSink() *testSink {
	return &testSink{tables: map[string]*Table{}, fail: map[string]error{}}
}

func (s *testSink) Put(_ context.Context, t *Table) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail[t.Name]; err != nil {
		return 0, &TableError{Table: t.Name, Rows: int64(t.Len()), Err: err}
	}
	s.tables[t.Name] = t
	return int64(t.Len()), nil
}

func newTestJob(t *testing.T, body string) *Job {
	t.Helper()

	return &Job{
		Name:      "test-job",
		Source:    "survey.csv",
		OutputDir: t.TempDir(),
		extractor: &testExtractor{body: body},
	}
}

func newTestPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()

	opts = append([]Option{
		WithLogLevel("debug"),
		WithPrettyLogging(),
		WithClock(func() time.Time { return testTime }),
	}, opts...)

	p, err := New(opts...)
	require.NoError(t, err)

	return p
}

func resultOf(t *testing.T, s *Summary, table string, stage Stage) TableResult {
	t.Helper()

	for _, r := range s.Tables {
		if r.Table == table && r.Stage == stage {
			return r
		}
	}
	t.Fatalf("no %s result for %s", stage, table)
	return TableResult{}
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestPipeline_Run(t *testing.T) {
	sink := newTestSink()
	p := newTestPipeline(t, WithSink(sink))
	j := newTestJob(t, testSurvey)

	s, err := p.Run(context.Background(), j)
	require.NoError(t, err)

	assert.True(t, s.OK())
	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, 3, s.SourceRows)
	assert.Equal(t, testTime, s.StartedAt)

	demo := resultOf(t, s, DemographicsTable, StagePrepare)
	assert.Equal(t, StatusPartial, demo.Status, "configured columns are missing")
	assert.Equal(t, int64(3), demo.Rows)

	assert.Equal(t,
		"ResponseId,Country,Age,Country_IsValid,Age_IsValid,CreatedAt\n"+
			"1,Japan,25-34 years old,true,true,2024-07-01 09:30:00\n"+
			"2,Not Specified,Not Specified,false,false,2024-07-01 09:30:00\n"+
			"3,Peru,Under 18 years old,true,true,2024-07-01 09:30:00\n",
		readFile(t, filepath.Join(j.OutputDir, "demographics.csv")))

	assert.Equal(t, "ResponseId,Technology\n1,Python\n1,Go\n",
		readFile(t, filepath.Join(j.OutputDir, "language_haveworked.csv")))

	assert.Equal(t, "ResponseId,Technology\n1,PostgreSQL\n2,Redis\n2,PostgreSQL\n",
		readFile(t, filepath.Join(j.OutputDir, "database_haveworked.csv")))

	empty := resultOf(t, s, "platform_wanttowork", StagePrepare)
	assert.Equal(t, StatusEmpty, empty.Status)
	assert.NoFileExists(t, filepath.Join(j.OutputDir, "platform_wanttowork.csv"))

	assert.Len(t, sink.tables, 3)
	assert.Equal(t, [][]string{{"1", "Python"}, {"1", "Go"}}, sink.tables["language_haveworked"].Records)
	assert.Equal(t, StatusOK, resultOf(t, s, "language_haveworked", StageLoad).Status)

	require.NotNil(t, s.Integrity)
	assert.True(t, s.Integrity.OK())
	assert.Len(t, s.Integrity.Tables, 2)

	report := readFile(t, filepath.Join(j.OutputDir, ReportFile))
	assert.Contains(t, report, "RESULT: OK")
	assert.Contains(t, report, "language_haveworked")
}

func TestPipeline_idempotent(t *testing.T) {
	p := newTestPipeline(t)

	var dirs []string
	for i := 0; i < 2; i++ {
		j := newTestJob(t, testSurvey)
		s, err := p.Prepare(context.Background(), j)
		require.NoError(t, err)
		require.True(t, s.OK())
		dirs = append(dirs, j.OutputDir)
	}

	for _, name := range []string{"demographics", "language_haveworked", "database_haveworked"} {
		a := readFile(t, filepath.Join(dirs[0], name+".csv"))
		b := readFile(t, filepath.Join(dirs[1], name+".csv"))
		assert.Equal(t, a, b, name)
	}
}

func TestPipeline_tableFailureIsolated(t *testing.T) {
	sink := newTestSink()
	sink.fail[DemographicsTable] = ErrExternalIO

	p := newTestPipeline(t, WithSink(sink), WithConcurrency(4))

	s, err := p.Run(context.Background(), newTestJob(t, testSurvey))
	require.NoError(t, err)

	assert.False(t, s.OK())
	failed := s.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, DemographicsTable, failed[0].Table)
	assert.ErrorIs(t, failed[0].Err, ErrExternalIO)

	var te *TableError
	require.True(t, errors.As(failed[0].Err, &te))
	assert.Equal(t, int64(3), te.Rows)

	assert.Contains(t, sink.tables, "language_haveworked")
	assert.Contains(t, sink.tables, "database_haveworked")
}

func TestPipeline_datasetNotFound(t *testing.T) {
	sink := newTestSink()
	p := newTestPipeline(t, WithSink(sink))
	p.preflight = func(context.Context) error {
		return ErrDatasetNotFound
	}

	s, err := p.Run(context.Background(), newTestJob(t, testSurvey))
	assert.ErrorIs(t, err, ErrDatasetNotFound)
	assert.False(t, s.OK())
	assert.Empty(t, sink.tables)
}

func TestPipeline_noSink(t *testing.T) {
	p := newTestPipeline(t)

	_, err := p.Run(context.Background(), newTestJob(t, testSurvey))
	assert.Error(t, err)
}

func TestPipeline_Load(t *testing.T) {
	p := newTestPipeline(t)
	j := newTestJob(t, testSurvey)

	_, err := p.Prepare(context.Background(), j)
	require.NoError(t, err)

	sink := newTestSink()
	p = newTestPipeline(t, WithSink(sink))

	s, err := p.Load(context.Background(), j)
	require.NoError(t, err)
	assert.True(t, s.OK())

	demo := sink.tables[DemographicsTable]
	require.NotNil(t, demo)
	assert.Equal(t, 3, demo.Len())
	assert.Equal(t, Column{Name: "ResponseId", Type: Integer, Required: true}, demo.Columns[0])
	assert.Equal(t, Column{Name: "Country", Type: String}, demo.Columns[1])
	assert.Equal(t, Column{Name: "Country_IsValid", Type: Boolean}, demo.Columns[3])
	assert.Equal(t, Column{Name: "CreatedAt", Type: Timestamp}, demo.Columns[5])

	lang := sink.tables["language_haveworked"]
	require.NotNil(t, lang)
	assert.Equal(t, Column{Name: "Technology", Type: String, Required: true}, lang.Columns[1])

	assert.Equal(t, StatusEmpty, resultOf(t, s, "webframe_haveworked", StageLoad).Status)
}

func TestPipeline_Load_missingDemographics(t *testing.T) {
	sink := newTestSink()
	p := newTestPipeline(t, WithSink(sink))

	s, err := p.Load(context.Background(), newTestJob(t, testSurvey))
	require.NoError(t, err)

	assert.False(t, s.OK())
	r := resultOf(t, s, DemographicsTable, StageLoad)
	assert.Equal(t, StatusFatal, r.Status)
	assert.ErrorIs(t, r.Err, ErrExternalIO)
}

func TestPipeline_sourceError(t *testing.T) {
	p := newTestPipeline(t)
	j := newTestJob(t, "")
	j.extractor = &testExtractor{err: ErrExternalIO}

	s, err := p.Prepare(context.Background(), j)
	assert.ErrorIs(t, err, ErrExternalIO)
	assert.ErrorIs(t, s.Err, ErrExternalIO)
	assert.False(t, s.OK())
}

func TestPipeline_missingKeyColumn(t *testing.T) {
	p := newTestPipeline(t)
	j := newTestJob(t, "Country,LanguageHaveWorkedWith\nJapan,Go\n")

	s, err := p.Prepare(context.Background(), j)
	require.NoError(t, err)

	assert.False(t, s.OK())
	assert.Equal(t, StatusFatal, resultOf(t, s, DemographicsTable, StagePrepare).Status)
	assert.ErrorIs(t, resultOf(t, s, "language_haveworked", StagePrepare).Err, ErrSchemaMismatch)
	assert.NoFileExists(t, filepath.Join(j.OutputDir, "demographics.csv"))
}

func TestPipeline_notifier(t *testing.T) {
	n := &testNotifier{}
	p := newTestPipeline(t, WithNotifier(n))

	_, err := p.Prepare(context.Background(), newTestJob(t, testSurvey))
	require.NoError(t, err)

	require.Len(t, n.summaries, 1)
	assert.Equal(t, "test-job", n.summaries[0].Job)
}

func TestNew_invalidOptions(t *testing.T) {
	t.Parallel()

	_, err := New(WithLogLevel("loud"))
	assert.Error(t, err)

	_, err = New(WithConcurrency(0))
	assert.Error(t, err)
}

type testNotifier struct {
	summaries []*Summary
}

func (n *testNotifier) Notify(_ context.Context, s *Summary) error {
	n.summaries = append(n.summaries, s)
	return nil
}

func TestPipeline_Run_fixture(t *testing.T) {
	sink := newTestSink()
	p := newTestPipeline(t, WithSink(sink), WithConcurrency(3))

	j := &Job{
		Name:      "fixture",
		Source:    "testdata/survey_results.csv",
		OutputDir: t.TempDir(),
	}

	s, err := p.Run(context.Background(), j)
	require.NoError(t, err)
	require.True(t, s.OK())

	assert.Equal(t, 4, s.SourceRows)
	assert.Equal(t, StatusOK, resultOf(t, s, DemographicsTable, StagePrepare).Status)
	assert.Len(t, sink.tables, 9)

	demo := sink.tables[DemographicsTable]
	require.NotNil(t, demo)
	assert.Len(t, demo.Columns, 2*9+2)
	assert.Equal(t, []string{"4", "Not Specified", "45-54 years old"}, demo.Records[3][:3])

	assert.Equal(t, [][]string{
		{"1", "Go"}, {"1", "Python"}, {"1", "SQL"},
		{"2", "Python"}, {"2", "JavaScript"},
		{"4", "C"}, {"4", "C++"},
	}, sink.tables["language_haveworked"].Records)

	assert.Equal(t, [][]string{{"1", "PostgreSQL"}, {"3", "MySQL"}, {"4", "SQLite"}},
		sink.tables["database_wanttowork"].Records)

	assert.Equal(t, [][]string{{"2", "React"}, {"3", "Django"}},
		sink.tables["webframe_haveworked"].Records)

	require.NotNil(t, s.Integrity)
	assert.True(t, s.Integrity.DemographicsChecked)
	assert.Equal(t, 4, s.Integrity.DemographicsRows)
	assert.Len(t, s.Integrity.Tables, 8)
}

func TestPipeline_Load_afterEmptiedTable(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t)

	j := newTestJob(t, "ResponseId,LanguageHaveWorkedWith\n1,Python;Go\n")
	_, err := p.Prepare(ctx, j)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(j.OutputDir, "language_haveworked.csv"))

	j.extractor = &testExtractor{body: "ResponseId,LanguageHaveWorkedWith\n1,\n"}
	s, err := p.Prepare(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, resultOf(t, s, "language_haveworked", StagePrepare).Status)
	assert.NoFileExists(t, filepath.Join(j.OutputDir, "language_haveworked.csv"))

	sink := newTestSink()
	p = newTestPipeline(t, WithSink(sink))

	s, err = p.Load(ctx, j)
	require.NoError(t, err)

	assert.Equal(t, StatusEmpty, resultOf(t, s, "language_haveworked", StageLoad).Status)
	assert.NotContains(t, sink.tables, "language_haveworked")
	assert.Contains(t, sink.tables, DemographicsTable)
}

func TestPipeline_Load_afterMissingKeyColumn(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t)

	j := newTestJob(t, testSurvey)
	_, err := p.Prepare(ctx, j)
	require.NoError(t, err)

	j.extractor = &testExtractor{body: "Country,LanguageHaveWorkedWith\nJapan,Go\n"}
	_, err = p.Prepare(ctx, j)
	require.NoError(t, err)

	for _, name := range []string{DemographicsTable, "language_haveworked", "database_haveworked"} {
		assert.NoFileExists(t, filepath.Join(j.OutputDir, name+".csv"), name)
	}

	sink := newTestSink()
	p = newTestPipeline(t, WithSink(sink))

	s, err := p.Load(ctx, j)
	require.NoError(t, err)

	assert.False(t, s.OK())
	assert.Equal(t, StatusFatal, resultOf(t, s, DemographicsTable, StageLoad).Status)
	assert.Empty(t, sink.tables)
}

func TestPipeline_Prepare_skippedKeys(t *testing.T) {
	p := newTestPipeline(t)
	j := newTestJob(t, "ResponseId,Country,LanguageHaveWorkedWith\n1,Japan,Go\nabc,Peru,Rust\n3,Chile,Go\n")

	s, err := p.Prepare(context.Background(), j)
	require.NoError(t, err)

	assert.True(t, s.OK())
	demo := resultOf(t, s, DemographicsTable, StagePrepare)
	assert.Equal(t, StatusPartial, demo.Status)
	assert.Equal(t, int64(2), demo.Rows)
	assert.Equal(t, 2, s.Integrity.Respondents)

	lang := resultOf(t, s, "language_haveworked", StagePrepare)
	assert.Equal(t, StatusPartial, lang.Status)
	assert.Equal(t, "ResponseId,Technology\n1,Go\n3,Go\n",
		readFile(t, filepath.Join(j.OutputDir, "language_haveworked.csv")))
}
