package surveyetl

import (
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// DefaultKeyColumn is the unique respondent key of survey results.
const DefaultKeyColumn = "ResponseId"

// DefaultNullValues are field values treated as missing.
// The list follows the markers CSV exports of survey tools commonly use.
var DefaultNullValues = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null",
}

// KeyDefectReason tells why a row key is unusable.
type KeyDefectReason string

const (
	KeyMissing   KeyDefectReason = "missing"
	KeyMalformed KeyDefectReason = "malformed"
	KeyDuplicate KeyDefectReason = "duplicate"
)

// KeyDefect describes a row whose key cannot identify a respondent.
type KeyDefect struct {
	// Row is the zero-based data row index (header excluded).
	Row    int
	Raw    string
	Reason KeyDefectReason
}

// Source is an immutable in-memory view of the raw survey table.
type Source struct {
	header    []string
	index     map[string]int
	rows      [][]string
	keyColumn string
	nulls     map[string]struct{}

	keys    []int64
	keyOK   []bool
	defects []KeyDefect
}

// NewSource builds a Source from parsed records whose first record is the header.
// When nullValues is empty, DefaultNullValues is used.
func NewSource(records [][]string, keyColumn string, nullValues ...string) (*Source, error) {
	if len(records) == 0 {
		return nil, xerrors.Errorf("source has no header row: %w", ErrSchemaMismatch)
	}

	if keyColumn == "" {
		keyColumn = DefaultKeyColumn
	}

	if len(nullValues) == 0 {
		nullValues = DefaultNullValues
	}

	s := &Source{
		header:    make([]string, len(records[0])),
		index:     make(map[string]int, len(records[0])),
		rows:      records[1:],
		keyColumn: keyColumn,
		nulls:     make(map[string]struct{}, len(nullValues)),
	}

	for i, name := range records[0] {
		name = strings.TrimSpace(name)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		s.header[i] = name
		if _, dup := s.index[name]; !dup {
			s.index[name] = i
		}
	}

	for _, v := range nullValues {
		s.nulls[v] = struct{}{}
	}

	s.parseKeys()

	return s, nil
}

func (s *Source) parseKeys() {
	if !s.Has(s.keyColumn) {
		return
	}

	s.keys = make([]int64, len(s.rows))
	s.keyOK = make([]bool, len(s.rows))
	first := make(map[int64]int, len(s.rows))

	for i := range s.rows {
		raw, ok := s.Value(i, s.keyColumn)
		if !ok || strings.TrimSpace(raw) == "" {
			s.defects = append(s.defects, KeyDefect{Row: i, Raw: raw, Reason: KeyMissing})
			continue
		}

		k, err := parseKey(raw)
		if err != nil {
			s.defects = append(s.defects, KeyDefect{Row: i, Raw: raw, Reason: KeyMalformed})
			continue
		}

		if _, seen := first[k]; seen {
			s.defects = append(s.defects, KeyDefect{Row: i, Raw: raw, Reason: KeyDuplicate})
			continue
		}

		first[k] = i
		s.keys[i] = k
		s.keyOK[i] = true
	}
}

func parseKey(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

// Len returns the number of data rows.
func (s *Source) Len() int {
	return len(s.rows)
}

// Header returns a copy of the column names.
func (s *Source) Header() []string {
	h := make([]string, len(s.header))
	copy(h, s.header)
	return h
}

// KeyColumn returns the name of the unique key column.
func (s *Source) KeyColumn() string {
	return s.keyColumn
}

// Has reports whether the column exists.
func (s *Source) Has(column string) bool {
	_, ok := s.index[column]
	return ok
}

// Raw returns the field as written in the source, or false when the row is
// too short or the column does not exist.
func (s *Source) Raw(row int, column string) (string, bool) {
	i, ok := s.index[column]
	if !ok || i >= len(s.rows[row]) {
		return "", false
	}
	return s.rows[row][i], true
}

// Value returns the field and whether it is present, i.e. not a null marker.
func (s *Source) Value(row int, column string) (string, bool) {
	v, ok := s.Raw(row, column)
	if !ok {
		return "", false
	}
	if _, null := s.nulls[v]; null {
		return "", false
	}
	return v, true
}

// Key returns the parsed respondent key of the row. ok is false for rows
// listed in KeyDefects and when the key column is absent.
func (s *Source) Key(row int) (int64, bool) {
	if s.keyOK == nil || !s.keyOK[row] {
		return 0, false
	}
	return s.keys[row], true
}

// KeyDefects returns rows whose key is missing, malformed or repeated.
func (s *Source) KeyDefects() []KeyDefect {
	return s.defects
}

// KeySet returns the set of valid respondent keys.
func (s *Source) KeySet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(s.rows))
	for i := range s.rows {
		if k, ok := s.Key(i); ok {
			set[k] = struct{}{}
		}
	}
	return set
}
