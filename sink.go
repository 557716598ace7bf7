package surveyetl

import (
	"context"
	"encoding/csv"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// Sink persists finished tables and reports how many rows it stored.
type Sink interface {
	Put(context.Context, *Table) (int64, error)
}

// FileSink writes each table to <Dir>/<table>.csv with a header row.
type FileSink struct {
	Dir string
}

// Path returns the file path of a table.
func (s *FileSink) Path(table string) string {
	return filepath.Join(s.Dir, table+".csv")
}

// Put writes the table. Empty tables are refused with ErrEmptyResult.
func (s *FileSink) Put(ctx context.Context, t *Table) (int64, error) {
	l := log.Ctx(ctx)

	p := s.Path(t.Name)

	if t.Len() == 0 {
		return 0, &TableError{Table: t.Name, Path: p, Err: ErrEmptyResult}
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return 0, &TableError{Table: t.Name, Path: p, Rows: int64(t.Len()), Err: xerrors.Errorf("failed to create %s: %v: %w", s.Dir, err, ErrExternalIO)}
	}

	if err := writeCSV(p, t); err != nil {
		l.Error().Err(err).Str("path", p).Msg("failed to write table")
		return 0, &TableError{Table: t.Name, Path: p, Rows: int64(t.Len()), Err: err}
	}

	l.Debug().Str("path", p).Int("rows", t.Len()).Int("columns", len(t.Columns)).Msg("table written")

	return int64(t.Len()), nil
}

// Remove deletes the file of a table left by an earlier run. A missing file
// is not an error.
func (s *FileSink) Remove(ctx context.Context, table string) error {
	p := s.Path(table)

	err := os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &TableError{Table: table, Path: p, Err: xerrors.Errorf("failed to remove stale file: %v: %w", err, ErrExternalIO)}
	}

	log.Ctx(ctx).Info().Str("path", p).Msg("stale table removed")

	return nil
}

func writeCSV(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("failed to create %s: %v: %w", path, err, ErrExternalIO)
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.Header()); err != nil {
		f.Close()
		return xerrors.Errorf("failed to write header: %v: %w", err, ErrExternalIO)
	}
	if err := w.WriteAll(t.Records); err != nil {
		f.Close()
		return xerrors.Errorf("failed to write records: %v: %w", err, ErrExternalIO)
	}

	if err := f.Close(); err != nil {
		return xerrors.Errorf("failed to close %s: %v: %w", path, err, ErrExternalIO)
	}

	return nil
}

// ReadTable reads a table written by FileSink back into memory.
func (s *FileSink) ReadTable(ctx context.Context, name, keyColumn string) (*Table, error) {
	p := s.Path(name)

	f, err := os.Open(p)
	if err != nil {
		return nil, &TableError{Table: name, Path: p, Err: xerrors.Errorf("failed to open: %v: %w", err, ErrExternalIO)}
	}
	defer f.Close()

	records, err := CSVParser()(ctx, f)
	if err != nil {
		return nil, &TableError{Table: name, Path: p, Err: xerrors.Errorf("%v: %w", err, ErrExternalIO)}
	}

	if len(records) == 0 {
		return nil, &TableError{Table: name, Path: p, Err: ErrEmptyResult}
	}

	return &Table{
		Name:    name,
		Columns: ColumnsFor(name, keyColumn, records[0]),
		Records: records[1:],
	}, nil
}
