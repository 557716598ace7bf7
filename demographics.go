package surveyetl

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

const (
	// NotSpecified replaces missing or blank demographic values.
	NotSpecified = "Not Specified"

	// CreatedAtColumn is the run timestamp column of the demographics table.
	CreatedAtColumn = "CreatedAt"

	// CreatedAtLayout formats CreatedAt.
	CreatedAtLayout = "2006-01-02 15:04:05"

	validSuffix = "_IsValid"
)

// DemographicColumns are the retained survey columns. The first one is the key.
var DemographicColumns = []string{
	DefaultKeyColumn,
	"Country",
	"Age",
	"EdLevel",
	"YearsCode",
	"YearsCodePro",
	"Employment",
	"RemoteWork",
	"DevType",
	"OrgSize",
}

// Field is a demographic value with its validity flag.
type Field struct {
	Value string
	Valid bool
}

// DemographicsRow is derived 1:1 from a respondent.
type DemographicsRow struct {
	ResponseID int64
	// Fields follow Demographics.Columns.
	Fields []Field
}

// Demographics is the projected demographics table.
type Demographics struct {
	KeyColumn string
	// Columns are the retained non-key columns present in the source.
	Columns []string
	// Absent are configured columns the source does not have.
	Absent []string
	// ValidCounts counts valid values per column in Columns.
	ValidCounts []int
	// Rows hold one row per usable key, in source order.
	Rows []DemographicsRow
	// Skipped are source rows left out because their key is missing,
	// malformed or repeated. The first occurrence of a repeated key is kept.
	Skipped   []KeyDefect
	CreatedAt time.Time
}

// ValidityColumn returns the name of the validity flag of column.
func ValidityColumn(column string) string {
	return column + validSuffix
}

// ProjectDemographics projects the configured columns of every respondent,
// flags whether each value was present and substitutes NotSpecified for the
// rest. columns[0] is the key column. Rows with an unusable key are left out
// with a warning; a missing key column is fatal. The source is not modified.
func ProjectDemographics(src *Source, columns []string, createdAt time.Time) (*Demographics, Report) {
	var rep Report

	if len(columns) == 0 {
		rep.fail(xerrors.Errorf("no demographic columns configured: %w", ErrSchemaMismatch))
		return nil, rep
	}

	key := columns[0]
	if !src.Has(key) {
		rep.fail(xerrors.Errorf("key column %q not found in source: %w", key, ErrSchemaMismatch))
		return nil, rep
	}

	if key != src.KeyColumn() {
		rep.fail(xerrors.Errorf("key column %q differs from source key %q: %w", key, src.KeyColumn(), ErrSchemaMismatch))
		return nil, rep
	}

	d := &Demographics{
		KeyColumn: key,
		Skipped:   src.KeyDefects(),
		CreatedAt: createdAt,
	}

	if len(d.Skipped) > 0 {
		rep.warn("%s skipped: %v", describeDefects(key, d.Skipped), ErrSchemaMismatch)
	}

	for _, c := range columns[1:] {
		if src.Has(c) {
			d.Columns = append(d.Columns, c)
		} else {
			d.Absent = append(d.Absent, c)
		}
	}

	if len(d.Absent) > 0 {
		rep.warn("%v: %s", ErrMissingOptionalColumn, strings.Join(d.Absent, ", "))
	}

	d.ValidCounts = make([]int, len(d.Columns))
	d.Rows = make([]DemographicsRow, 0, src.Len()-len(d.Skipped))

	for i := 0; i < src.Len(); i++ {
		k, ok := src.Key(i)
		if !ok {
			continue
		}
		row := DemographicsRow{ResponseID: k, Fields: make([]Field, len(d.Columns))}

		for j, c := range d.Columns {
			v, ok := src.Value(i, c)
			// A literal sentinel in the source would be indistinguishable
			// from a substituted one, so it is not valid either.
			if t := strings.TrimSpace(v); ok && t != "" && t != NotSpecified {
				row.Fields[j] = Field{Value: v, Valid: true}
				d.ValidCounts[j]++
			} else {
				row.Fields[j] = Field{Value: NotSpecified}
			}
		}

		d.Rows = append(d.Rows, row)
	}

	return d, rep
}

// Table renders the demographics as an output table: key, values, validity
// flags, CreatedAt.
func (d *Demographics) Table() *Table {
	cols := make([]Column, 0, 2*len(d.Columns)+2)
	cols = append(cols, Column{Name: d.KeyColumn, Type: Integer, Required: true})
	for _, c := range d.Columns {
		cols = append(cols, Column{Name: c, Type: String})
	}
	for _, c := range d.Columns {
		cols = append(cols, Column{Name: ValidityColumn(c), Type: Boolean})
	}
	cols = append(cols, Column{Name: CreatedAtColumn, Type: Timestamp})

	ts := d.CreatedAt.UTC().Format(CreatedAtLayout)

	records := make([][]string, len(d.Rows))
	for i, r := range d.Rows {
		rec := make([]string, 0, len(cols))
		rec = append(rec, strconv.FormatInt(r.ResponseID, 10))
		for _, f := range r.Fields {
			rec = append(rec, f.Value)
		}
		for _, f := range r.Fields {
			rec = append(rec, strconv.FormatBool(f.Valid))
		}
		rec = append(rec, ts)
		records[i] = rec
	}

	return &Table{Name: DemographicsTable, Columns: cols, Records: records}
}

func describeDefects(key string, defects []KeyDefect) string {
	const shown = 5

	var b strings.Builder
	b.WriteString(strconv.Itoa(len(defects)))
	b.WriteString(" rows with unusable ")
	b.WriteString(key)
	b.WriteString(" (")
	for i, d := range defects {
		if i == shown {
			b.WriteString(", ...")
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("row ")
		b.WriteString(strconv.Itoa(d.Row + 1))
		b.WriteString(" ")
		b.WriteString(string(d.Reason))
		if d.Raw != "" {
			b.WriteString(" ")
			b.WriteString(strconv.Quote(d.Raw))
		}
	}
	b.WriteString(")")

	return b.String()
}
