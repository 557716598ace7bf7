package surveyetl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// TechnologyColumn is the column name of the technology in edge tables.
const TechnologyColumn = "Technology"

// Category is a technology family.
type Category string

const (
	Language     Category = "language"
	Database     Category = "database"
	Platform     Category = "platform"
	WebFramework Category = "webframe"
)

// Usage tells whether respondents have used or want to use a technology.
type Usage string

const (
	HaveWorkedWith Usage = "haveworked"
	WantToWorkWith Usage = "wanttowork"
)

// TechColumn maps a semicolon-delimited multi-select column to its table.
type TechColumn struct {
	Source   string
	Category Category
	Usage    Usage
}

// TableName returns the output table name, e.g. language_haveworked.
func (c TechColumn) TableName() string {
	return fmt.Sprintf("%s_%s", c.Category, c.Usage)
}

// TechColumns are the multi-select columns unpivoted on every run.
var TechColumns = []TechColumn{
	{"LanguageHaveWorkedWith", Language, HaveWorkedWith},
	{"LanguageWantToWorkWith", Language, WantToWorkWith},
	{"DatabaseHaveWorkedWith", Database, HaveWorkedWith},
	{"DatabaseWantToWorkWith", Database, WantToWorkWith},
	{"PlatformHaveWorkedWith", Platform, HaveWorkedWith},
	{"PlatformWantToWorkWith", Platform, WantToWorkWith},
	{"WebframeHaveWorkedWith", WebFramework, HaveWorkedWith},
	{"WebframeWantToWorkWith", WebFramework, WantToWorkWith},
}

// Edge says a respondent reported a technology.
type Edge struct {
	ResponseID int64
	Technology string
}

// TechCount is the number of respondents reporting a technology.
type TechCount struct {
	Technology string
	Count      int
}

// Technologies is the unpivoted table of one TechColumn.
type Technologies struct {
	Column TechColumn
	// KeyColumn is the name of the respondent key column.
	KeyColumn string
	// Edges keep the order of first occurrence in the source.
	Edges []Edge
	// Answered is the number of rows with a non-blank value.
	Answered int
	// Duplicates is the number of repeated pairs removed.
	Duplicates int
}

// Empty reports whether there is nothing to persist.
func (t *Technologies) Empty() bool {
	return len(t.Edges) == 0
}

// Unpivot explodes the semicolon-delimited values of col into one edge per
// (respondent, technology), dropping blank tokens and repeated pairs.
// A missing column or a column without answers yields an empty result with
// StatusEmpty.
func Unpivot(src *Source, col TechColumn) (*Technologies, Report) {
	var rep Report

	t := &Technologies{Column: col, KeyColumn: src.KeyColumn()}

	if !src.Has(src.KeyColumn()) {
		rep.fail(xerrors.Errorf("key column %q not found in source: %w", src.KeyColumn(), ErrSchemaMismatch))
		return t, rep
	}

	if !src.Has(col.Source) {
		rep.Status = StatusEmpty
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%v: %s", ErrMissingOptionalColumn, col.Source))
		return t, rep
	}

	seen := map[Edge]struct{}{}
	skipped := 0

	for i := 0; i < src.Len(); i++ {
		v, ok := src.Value(i, col.Source)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}

		k, ok := src.Key(i)
		if !ok {
			skipped++
			continue
		}
		t.Answered++

		for _, tok := range strings.Split(v, ";") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}

			e := Edge{ResponseID: k, Technology: tok}
			if _, dup := seen[e]; dup {
				t.Duplicates++
				continue
			}
			seen[e] = struct{}{}
			t.Edges = append(t.Edges, e)
		}
	}

	if skipped > 0 {
		rep.warn("%d answered rows skipped for unusable %s", skipped, src.KeyColumn())
	}

	if t.Empty() {
		rep.Status = StatusEmpty
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%v: no values in %s", ErrEmptyResult, col.Source))
	}

	return t, rep
}

// Respondents returns the number of distinct respondents with edges.
func (t *Technologies) Respondents() int {
	set := map[int64]struct{}{}
	for _, e := range t.Edges {
		set[e.ResponseID] = struct{}{}
	}
	return len(set)
}

// Average returns the mean number of edges per respondent with edges.
func (t *Technologies) Average() float64 {
	n := t.Respondents()
	if n == 0 {
		return 0
	}
	return float64(len(t.Edges)) / float64(n)
}

// Top returns the n most reported technologies, ties broken by name.
func (t *Technologies) Top(n int) []TechCount {
	counts := map[string]int{}
	for _, e := range t.Edges {
		counts[e.Technology]++
	}

	top := make([]TechCount, 0, len(counts))
	for tech, c := range counts {
		top = append(top, TechCount{Technology: tech, Count: c})
	}

	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Technology < top[j].Technology
	})

	if n >= 0 && len(top) > n {
		top = top[:n]
	}

	return top
}

// Distinct returns the number of distinct technologies.
func (t *Technologies) Distinct() int {
	return len(t.Top(-1))
}

// Table renders the edges as an output table.
func (t *Technologies) Table() *Table {
	records := make([][]string, len(t.Edges))
	for i, e := range t.Edges {
		records[i] = []string{strconv.FormatInt(e.ResponseID, 10), e.Technology}
	}

	return &Table{
		Name: t.Column.TableName(),
		Columns: []Column{
			{Name: t.KeyColumn, Type: Integer, Required: true},
			{Name: TechnologyColumn, Type: String, Required: true},
		},
		Records: records,
	}
}
