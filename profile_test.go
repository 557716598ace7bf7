package surveyetl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile(t *testing.T) {
	t.Parallel()

	src := mustSource(t, [][]string{
		{"ResponseId", "Country", "LanguageHaveWorkedWith"},
		{"1", "Japan", "Go"},
		{"2", "Japan", "NA"},
		{"3", "Peru", ""},
		{"4", "NA", "Go;Rust"},
	})

	ps := Profile(src, []string{"Country", "LanguageHaveWorkedWith", "Gender"})
	require.Len(t, ps, 3)

	c := ps[0]
	assert.True(t, c.Present)
	assert.Equal(t, 3, c.Filled)
	assert.Equal(t, 1, c.Missing)
	assert.Equal(t, 2, c.Unique)
	assert.Equal(t, "Japan", c.Sample)
	assert.Equal(t, []TechCount{{"Japan", 2}, {"Peru", 1}}, c.Top)
	assert.InDelta(t, 75.0, c.FillRate(), 1e-9)

	assert.Equal(t, 2, ps[1].Filled)
	assert.False(t, ps[2].Present)
	assert.Zero(t, ps[2].FillRate())
}

func TestMatchColumns(t *testing.T) {
	t.Parallel()

	src := mustSource(t, [][]string{{"ResponseId", "LanguageHaveWorkedWith", "WebframeWantToWorkWith", "EdLevel", "Age"}})

	assert.Equal(t, []string{"LanguageHaveWorkedWith", "WebframeWantToWorkWith"}, MatchColumns(src, "language", "WebFrame"))
	assert.Equal(t, []string{"EdLevel"}, MatchColumns(src, "level"))
}
