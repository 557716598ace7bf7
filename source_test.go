package surveyetl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSource(t *testing.T) {
	t.Parallel()

	records := [][]string{
		{"\ufeffResponseId", " Country ", "Age"},
		{"1", "Japan", "25-34 years old"},
		{"2", "NA"},
		{"3", "", "Prefer not to say"},
	}

	src, err := NewSource(records, "")
	require.NoError(t, err)

	assert.Equal(t, 3, src.Len())
	assert.Equal(t, []string{"ResponseId", "Country", "Age"}, src.Header())
	assert.Equal(t, DefaultKeyColumn, src.KeyColumn())
	assert.True(t, src.Has("Country"))
	assert.False(t, src.Has("OrgSize"))

	v, ok := src.Value(0, "Country")
	assert.True(t, ok)
	assert.Equal(t, "Japan", v)

	_, ok = src.Value(1, "Country")
	assert.False(t, ok, "NA is a null marker")

	raw, ok := src.Raw(1, "Country")
	assert.True(t, ok)
	assert.Equal(t, "NA", raw)

	_, ok = src.Value(1, "Age")
	assert.False(t, ok, "short row")

	_, ok = src.Value(2, "Country")
	assert.False(t, ok, "empty field")

	_, ok = src.Value(0, "OrgSize")
	assert.False(t, ok, "absent column")

	k, ok := src.Key(2)
	assert.True(t, ok)
	assert.Equal(t, int64(3), k)
	assert.Empty(t, src.KeyDefects())
}

func TestNewSource_noHeader(t *testing.T) {
	t.Parallel()

	_, err := NewSource(nil, "")
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestNewSource_customNullValues(t *testing.T) {
	t.Parallel()

	src, err := NewSource([][]string{{"id", "x"}, {"1", "NA"}, {"2", "-"}}, "id", "-")
	require.NoError(t, err)

	v, ok := src.Value(0, "x")
	assert.True(t, ok)
	assert.Equal(t, "NA", v)

	_, ok = src.Value(1, "x")
	assert.False(t, ok)
}

func TestSource_KeyDefects(t *testing.T) {
	t.Parallel()

	records := [][]string{
		{"ResponseId", "Country"},
		{"1", "Japan"},
		{"", "France"},
		{"abc", "Chile"},
		{"1", "Kenya"},
		{" 5 ", "Peru"},
	}

	src, err := NewSource(records, "ResponseId")
	require.NoError(t, err)

	assert.Equal(t, []KeyDefect{
		{Row: 1, Raw: "", Reason: KeyMissing},
		{Row: 2, Raw: "abc", Reason: KeyMalformed},
		{Row: 3, Raw: "1", Reason: KeyDuplicate},
	}, src.KeyDefects())

	_, ok := src.Key(3)
	assert.False(t, ok)

	k, ok := src.Key(4)
	assert.True(t, ok)
	assert.Equal(t, int64(5), k)

	assert.Equal(t, map[int64]struct{}{1: {}, 5: {}}, src.KeySet())
}

func TestSource_missingKeyColumn(t *testing.T) {
	t.Parallel()

	src, err := NewSource([][]string{{"Country"}, {"Japan"}}, "ResponseId")
	require.NoError(t, err)

	_, ok := src.Key(0)
	assert.False(t, ok)
	assert.Empty(t, src.KeyDefects())
	assert.Empty(t, src.KeySet())
}
