package surveyetl

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaMismatch means a required column (the respondent key) is
	// missing or unusable.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrMissingOptionalColumn means a configured column is absent from the source.
	ErrMissingOptionalColumn = errors.New("missing optional column")

	// ErrEmptyResult means a table has nothing to persist.
	ErrEmptyResult = errors.New("empty result")

	// ErrExternalIO wraps failures of the source, output files or the warehouse.
	ErrExternalIO = errors.New("external I/O failure")

	// ErrDatasetNotFound means the destination dataset does not exist.
	ErrDatasetNotFound = errors.New("dataset not found")
)

// Status tags the outcome of building or persisting one table.
type Status int

const (
	StatusOK Status = iota
	// StatusPartial means the table was produced with warnings.
	StatusPartial
	// StatusEmpty means there is nothing to persist.
	StatusEmpty
	// StatusFatal means the table could not be produced.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusPartial:
		return "partial"
	case StatusEmpty:
		return "empty"
	case StatusFatal:
		return "fatal"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Report is the tagged outcome returned alongside each derived table.
type Report struct {
	Status   Status
	Warnings []string
	Err      error
}

func (r *Report) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	if r.Status == StatusOK {
		r.Status = StatusPartial
	}
}

func (r *Report) fail(err error) {
	r.Status = StatusFatal
	r.Err = err
}

// TableError carries enough context about a failed table to retry it manually.
type TableError struct {
	Table string
	Path  string
	Rows  int64
	Err   error
}

func (e *TableError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("table %s (%s, %d rows): %v", e.Table, e.Path, e.Rows, e.Err)
	}
	return fmt.Sprintf("table %s (%d rows): %v", e.Table, e.Rows, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}
