package surveyetl

import (
	"context"
	"regexp"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/xerrors"
)

// Job defines where the raw survey comes from and what is derived from it.
type Job struct {
	// Name is the job's name used in logs and notifications.
	Name string

	// Source is a local path or a gs://bucket/object URI.
	Source string

	// Pattern filters object names in HandleEvent.
	Pattern *regexp.Regexp

	// Encoding of the source. UTF-8 when nil. A leading BOM is always dropped.
	Encoding encoding.Encoding

	// Parser defaults to ParserFor(Source).
	Parser Parser

	// KeyColumn defaults to DefaultKeyColumn.
	KeyColumn string

	// NullValues default to DefaultNullValues.
	NullValues []string

	// DemographicColumns default to DemographicColumns. The first one must be
	// the key column.
	DemographicColumns []string

	// TechColumns default to TechColumns.
	TechColumns []TechColumn

	// OutputDir receives prepared tables and the preparation report.
	OutputDir string

	extractor extractor
}

// EncodingByName resolves a WHATWG encoding label such as "utf-8" or
// "shift_jis". UTF-8 labels resolve to nil.
func EncodingByName(name string) (encoding.Encoding, error) {
	if name == "" {
		return nil, nil
	}

	e, err := htmlindex.Get(name)
	if err != nil {
		return nil, xerrors.Errorf("unknown encoding %q: %w", name, err)
	}

	if e == unicode.UTF8 {
		return nil, nil
	}

	return e, nil
}

func (j *Job) keyColumn() string {
	if j.KeyColumn != "" {
		return j.KeyColumn
	}
	if len(j.DemographicColumns) > 0 {
		return j.DemographicColumns[0]
	}
	return DefaultKeyColumn
}

func (j *Job) demographicColumns() []string {
	if len(j.DemographicColumns) > 0 {
		return j.DemographicColumns
	}
	return DemographicColumns
}

func (j *Job) techColumns() []TechColumn {
	if len(j.TechColumns) > 0 {
		return j.TechColumns
	}
	return TechColumns
}

func (j *Job) files() *FileSink {
	return &FileSink{Dir: j.OutputDir}
}

// tableNames returns every table the job plans to produce.
func (j *Job) tableNames() []string {
	names := []string{DemographicsTable}
	for _, c := range j.techColumns() {
		names = append(names, c.TableName())
	}
	return names
}

func (j *Job) match(name string) bool {
	return j.Pattern == nil || j.Pattern.MatchString(name)
}

// read extracts, decodes and parses the source. ex is used unless the job
// carries its own extractor.
func (j *Job) read(ctx context.Context, ex extractor) (*Source, error) {
	l := log.Ctx(ctx)

	if j.extractor != nil {
		ex = j.extractor
	}

	r, closer, err := ex.extract(ctx, j.Source)
	if err != nil {
		return nil, xerrors.Errorf("failed to extract: %w", err)
	}
	defer closer()

	// Workbooks are binary and decode their own strings.
	if !isXLS(j.Source) {
		var dec transform.Transformer = unicode.UTF8.NewDecoder()
		if j.Encoding != nil {
			dec = j.Encoding.NewDecoder()
		}
		r = transform.NewReader(r, unicode.BOMOverride(dec))
	}

	parser := j.Parser
	if parser == nil {
		parser = ParserFor(j.Source)
	}

	records, err := parser(ctx, r)
	if err != nil {
		l.Error().Err(err).Str("source", j.Source).Msg("failed to parse source")
		return nil, xerrors.Errorf("failed to parse %s: %v: %w", j.Source, err, ErrExternalIO)
	}

	src, err := NewSource(records, j.keyColumn(), j.NullValues...)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", j.Source, err)
	}

	l.Info().Int("rows", src.Len()).Int("columns", len(src.Header())).Msg("source loaded")

	return src, nil
}

// ReadSource reads the job's source without deriving anything from it.
func ReadSource(ctx context.Context, j *Job) (*Source, error) {
	ex := newDefaultExtractor()
	defer ex.Close()

	return j.read(ctx, ex)
}
