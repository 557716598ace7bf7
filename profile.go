package surveyetl

import (
	"sort"
	"strings"
)

// ColumnProfile summarizes how a source column is filled.
type ColumnProfile struct {
	Column  string
	Present bool
	Filled  int
	Missing int
	Unique  int
	// Sample is the first present value, cut to 100 runes.
	Sample string
	// Top holds the five most frequent values when the column has at most
	// twenty distinct values.
	Top []TechCount
}

// FillRate returns the share of filled rows in percent.
func (p ColumnProfile) FillRate() float64 {
	total := p.Filled + p.Missing
	if total == 0 {
		return 0
	}
	return float64(p.Filled) * 100 / float64(total)
}

// Profile summarizes the given columns. Columns absent from the source are
// reported with Present set to false.
func Profile(src *Source, columns []string) []ColumnProfile {
	profiles := make([]ColumnProfile, 0, len(columns))

	for _, c := range columns {
		p := ColumnProfile{Column: c, Present: src.Has(c)}
		if !p.Present {
			profiles = append(profiles, p)
			continue
		}

		counts := map[string]int{}
		for i := 0; i < src.Len(); i++ {
			v, ok := src.Value(i, c)
			if !ok {
				p.Missing++
				continue
			}
			p.Filled++
			if p.Sample == "" {
				p.Sample = truncate(v, 100)
			}
			counts[v]++
		}
		p.Unique = len(counts)

		if p.Unique <= 20 {
			for v, n := range counts {
				p.Top = append(p.Top, TechCount{Technology: v, Count: n})
			}
			sort.Slice(p.Top, func(i, j int) bool {
				if p.Top[i].Count != p.Top[j].Count {
					return p.Top[i].Count > p.Top[j].Count
				}
				return p.Top[i].Technology < p.Top[j].Technology
			})
			if len(p.Top) > 5 {
				p.Top = p.Top[:5]
			}
		}

		profiles = append(profiles, p)
	}

	return profiles
}

// MatchColumns returns source columns whose name contains any of the patterns,
// compared case-insensitively, in source order.
func MatchColumns(src *Source, patterns ...string) []string {
	var matched []string
	for _, c := range src.header {
		lc := strings.ToLower(c)
		for _, p := range patterns {
			if strings.Contains(lc, strings.ToLower(p)) {
				matched = append(matched, c)
				break
			}
		}
	}
	return matched
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
