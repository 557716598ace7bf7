package surveyetl

import (
	"sort"
)

// TableCheck is the integrity check result of one technology table.
type TableCheck struct {
	Table       string
	Edges       int
	Respondents int
	Average     float64
	// Orphans are keys absent from the source, sorted ascending.
	Orphans []int64
}

// IntegrityReport is the read-only post-condition check of a run.
type IntegrityReport struct {
	SourceRows int
	// Respondents is the number of distinct usable keys in the source.
	Respondents      int
	DemographicsRows int
	// DemographicsChecked is false when no demographics table was produced.
	DemographicsChecked bool
	Tables              []TableCheck
}

// OK reports whether every check passed.
func (r *IntegrityReport) OK() bool {
	if r.DemographicsChecked && r.DemographicsRows != r.Respondents {
		return false
	}
	for _, t := range r.Tables {
		if len(t.Orphans) > 0 {
			return false
		}
	}
	return true
}

// ValidateIntegrity checks that the demographics table has one row per
// respondent and that every technology table only references source keys. Empty
// technology tables are not checked. Nothing is corrected.
func ValidateIntegrity(src *Source, demo *Demographics, techs []*Technologies) *IntegrityReport {
	r := &IntegrityReport{SourceRows: src.Len(), Respondents: len(src.KeySet())}

	if demo != nil {
		r.DemographicsChecked = true
		r.DemographicsRows = len(demo.Rows)
	}

	keys := map[int64]struct{}{}
	for i := 0; i < src.Len(); i++ {
		// Rows with duplicate keys still carry a valid source key.
		if raw, ok := src.Value(i, src.KeyColumn()); ok {
			if k, ok := src.Key(i); ok {
				keys[k] = struct{}{}
			} else if k, err := parseKey(raw); err == nil {
				keys[k] = struct{}{}
			}
		}
	}

	for _, t := range techs {
		if t == nil || t.Empty() {
			continue
		}

		c := TableCheck{
			Table:       t.Column.TableName(),
			Edges:       len(t.Edges),
			Respondents: t.Respondents(),
			Average:     t.Average(),
		}

		orphans := map[int64]struct{}{}
		for _, e := range t.Edges {
			if _, ok := keys[e.ResponseID]; !ok {
				orphans[e.ResponseID] = struct{}{}
			}
		}
		for k := range orphans {
			c.Orphans = append(c.Orphans, k)
		}
		sort.Slice(c.Orphans, func(i, j int) bool { return c.Orphans[i] < c.Orphans[j] })

		r.Tables = append(r.Tables, c)
	}

	return r
}
