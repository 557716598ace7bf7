package surveyetl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

const ruler = 70

// WriteReport writes a human readable summary of a run.
func WriteReport(w io.Writer, s *Summary) error {
	var b strings.Builder

	line := strings.Repeat("=", ruler)
	thin := strings.Repeat("-", ruler)

	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "SURVEY DATA PREPARATION REPORT")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "Run:      %s\n", s.RunID)
	fmt.Fprintf(&b, "Source:   %s (%d rows)\n", s.Source, s.SourceRows)
	fmt.Fprintf(&b, "Started:  %s\n", s.StartedAt.Format(CreatedAtLayout))
	fmt.Fprintln(&b, thin)

	var total int64
	for _, t := range s.Tables {
		fmt.Fprintf(&b, "%-24s %-8s %-8s rows=%-8d columns=%d\n", t.Table, t.Stage, t.Status, t.Rows, t.Columns)
		for _, w := range t.Warnings {
			fmt.Fprintf(&b, "    warning: %s\n", w)
		}
		if t.Err != nil {
			fmt.Fprintf(&b, "    error: %v\n", t.Err)
		}
		total += t.Rows
	}

	if r := s.Integrity; r != nil {
		fmt.Fprintln(&b, thin)
		if r.DemographicsChecked {
			fmt.Fprintf(&b, "demographics rows: %d (respondents %d, source %d)\n", r.DemographicsRows, r.Respondents, r.SourceRows)
		}
		for _, t := range r.Tables {
			fmt.Fprintf(&b, "%-24s edges=%-8d respondents=%-8d average=%.1f orphans=%d\n",
				t.Table, t.Edges, t.Respondents, t.Average, len(t.Orphans))
		}
	}

	fmt.Fprintln(&b, thin)
	fmt.Fprintf(&b, "TOTAL ROWS: %d\n", total)
	if s.OK() {
		fmt.Fprintln(&b, "RESULT: OK")
	} else {
		fmt.Fprintf(&b, "RESULT: FAILED (%d tables)\n", len(s.Failed()))
	}
	fmt.Fprintln(&b, line)

	if _, err := io.WriteString(w, b.String()); err != nil {
		return xerrors.Errorf("failed to write report: %w", err)
	}

	return nil
}

func writeReport(path string, s *Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Errorf("failed to create %s: %v: %w", filepath.Dir(path), err, ErrExternalIO)
	}

	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("failed to create %s: %v: %w", path, err, ErrExternalIO)
	}

	if err := WriteReport(f, s); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
