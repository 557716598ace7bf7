package surveyetl

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
	"google.golang.org/api/googleapi"
)

// DefaultMaxBadRecords is the number of malformed rows a load tolerates.
const DefaultMaxBadRecords = 10

// Schema converts typed columns into a BigQuery schema.
func Schema(cols []Column) bigquery.Schema {
	s := make(bigquery.Schema, len(cols))
	for i, c := range cols {
		s[i] = &bigquery.FieldSchema{
			Name:     c.Name,
			Type:     bigquery.FieldType(c.Type),
			Required: c.Required,
		}
	}
	return s
}

// Warehouse is a BigQuery dataset.
type Warehouse struct {
	client   *bigquery.Client
	project  string
	dataset  string
	location string
}

// NewWarehouse builds a BigQuery client for the dataset. Credentials are
// resolved by Application Default Credentials.
func NewWarehouse(ctx context.Context, project, dataset, location string) (*Warehouse, error) {
	bq, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, xerrors.Errorf("failed to build bigquery client for %s: %v: %w", project, err, ErrExternalIO)
	}

	return &Warehouse{client: bq, project: project, dataset: dataset, location: location}, nil
}

// Close closes the client.
func (w *Warehouse) Close() error {
	return w.client.Close()
}

// ID returns project.dataset.
func (w *Warehouse) ID() string {
	return w.project + "." + w.dataset
}

// Ping runs a trivial query to prove credentials and API access.
func (w *Warehouse) Ping(ctx context.Context) error {
	it, err := w.client.Query("SELECT 1 AS test").Read(ctx)
	if err != nil {
		return xerrors.Errorf("failed to query %s: %v: %w", w.project, err, ErrExternalIO)
	}

	var row []bigquery.Value
	if err := it.Next(&row); err != nil {
		return xerrors.Errorf("failed to read ping result: %v: %w", err, ErrExternalIO)
	}

	return nil
}

// CheckDataset fails with ErrDatasetNotFound when the dataset does not exist.
// Datasets are never created implicitly.
func (w *Warehouse) CheckDataset(ctx context.Context) (*bigquery.DatasetMetadata, error) {
	md, err := w.client.Dataset(w.dataset).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, xerrors.Errorf("%s: %w", w.ID(), ErrDatasetNotFound)
		}
		return nil, xerrors.Errorf("failed to get dataset %s: %v: %w", w.ID(), err, ErrExternalIO)
	}

	return md, nil
}

// CreateDataset creates the dataset in the warehouse location. An existing
// dataset is left untouched.
func (w *Warehouse) CreateDataset(ctx context.Context) (created bool, err error) {
	err = w.client.Dataset(w.dataset).Create(ctx, &bigquery.DatasetMetadata{Location: w.location})
	if err == nil {
		return true, nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
		return false, nil
	}

	return false, xerrors.Errorf("failed to create dataset %s: %v: %w", w.ID(), err, ErrExternalIO)
}

// Sink returns a Sink loading tables into this dataset.
func (w *Warehouse) Sink(maxBadRecords int64) *BigQuerySink {
	return &BigQuerySink{warehouse: w, MaxBadRecords: maxBadRecords}
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// BigQuerySink replaces the content of a table named after each Table with
// a load job.
type BigQuerySink struct {
	warehouse     *Warehouse
	MaxBadRecords int64
}

// Put truncates the destination table and loads the records with an explicit
// schema. Up to MaxBadRecords malformed rows are skipped and logged.
func (s *BigQuerySink) Put(ctx context.Context, t *Table) (int64, error) {
	l := log.Ctx(ctx)

	tableID := s.warehouse.ID() + "." + t.Name
	fail := func(err error) (int64, error) {
		return 0, &TableError{Table: tableID, Rows: int64(t.Len()), Err: err}
	}

	if t.Len() == 0 {
		return fail(ErrEmptyResult)
	}

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(t.Header()); err != nil {
		return fail(xerrors.Errorf("failed to write csv: %w", err))
	}
	if err := w.WriteAll(t.Records); err != nil {
		return fail(xerrors.Errorf("failed to write csv: %w", err))
	}

	rs := bigquery.NewReaderSource(buf)
	rs.SourceFormat = bigquery.CSV
	rs.Schema = Schema(t.Columns)
	rs.SkipLeadingRows = 1
	rs.AllowQuotedNewlines = true
	rs.MaxBadRecords = s.MaxBadRecords

	loader := s.warehouse.client.Dataset(s.warehouse.dataset).Table(t.Name).LoaderFrom(rs)
	loader.WriteDisposition = bigquery.WriteTruncate
	loader.CreateDisposition = bigquery.CreateIfNeeded

	job, err := loader.Run(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to run bigquery load job")
		return fail(xerrors.Errorf("failed to run load job: %v: %w", err, ErrExternalIO))
	}

	status, err := job.Wait(ctx)
	if err != nil {
		l.Error().Err(err).Str("job", job.ID()).Msg("failed to wait job")
		return fail(xerrors.Errorf("failed to wait load job %s: %v: %w", job.ID(), err, ErrExternalIO))
	}

	if err := status.Err(); err != nil {
		logJobErrors(ctx, status.Errors)
		return fail(xerrors.Errorf("load job %s failed: %v: %w", job.ID(), err, ErrExternalIO))
	}

	if len(status.Errors) > 0 {
		l.Warn().Int("errors", len(status.Errors)).Msg("load job skipped bad rows")
		logJobErrors(ctx, status.Errors)
	}

	rows := int64(t.Len())
	if status.Statistics == nil {
		return rows, nil
	}
	if ls, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
		rows = ls.OutputRows
	}

	return rows, nil
}

// Verify returns the number of rows stored in a table.
func (s *BigQuerySink) Verify(ctx context.Context, table string) (uint64, error) {
	md, err := s.warehouse.client.Dataset(s.warehouse.dataset).Table(table).Metadata(ctx)
	if err != nil {
		return 0, xerrors.Errorf("failed to get table %s: %v: %w", table, err, ErrExternalIO)
	}
	return md.NumRows, nil
}

func logJobErrors(ctx context.Context, errs []*bigquery.Error) {
	const shown = 5

	l := log.Ctx(ctx)
	for i, e := range errs {
		if i == shown {
			break
		}
		l.Warn().Str("reason", e.Reason).Str("location", e.Location).Msg(e.Message)
	}
}
