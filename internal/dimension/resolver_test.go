package dimension

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/nodequeue/pkg/types"
)

func languageAxis() Axis {
	return Axis{
		Name: "language",
		Presets: []Preset{
			{Name: "en", Values: []string{"en"}},
			{Name: "de", Values: []string{"de", "en"}},
			{Name: "de_CH", Values: []string{"de_CH", "de", "en"}},
		},
	}
}

func newTestResolver(t *testing.T, axes ...Axis) *Resolver {
	r, err := NewResolver("language", axes)
	require.NoError(t, err)
	return r
}

func TestNewResolver_Validation(t *testing.T) {
	_, err := NewResolver("language", []Axis{{Name: "language"}})
	assert.Error(t, err, "axis without presets")

	_, err = NewResolver("language", []Axis{languageAxis(), languageAxis()})
	assert.Error(t, err, "duplicate axis")

	_, err = NewResolver("country", []Axis{languageAxis()})
	assert.Error(t, err, "primary not configured")

	_, err = NewResolver("language", []Axis{{Name: "language", Presets: []Preset{{Name: "x"}}}})
	assert.Error(t, err, "preset without values")

	r, err := NewResolver("language", nil)
	require.NoError(t, err)
	assert.Empty(t, r.AllowedCombinations())
}

func TestAllowedCombinations_Cartesian(t *testing.T) {
	country := Axis{Name: "country", Presets: []Preset{
		{Name: "at", Values: []string{"at"}},
		{Name: "ch", Values: []string{"ch"}},
	}}
	r := newTestResolver(t, languageAxis(), country)

	combinations := r.AllowedCombinations()
	require.Len(t, combinations, 6)
	assert.Equal(t, types.DimensionValues{"language": {"en"}, "country": {"at"}}, combinations[0])
	assert.Equal(t, types.DimensionValues{"language": {"en"}, "country": {"ch"}}, combinations[1])
	assert.Equal(t, types.DimensionValues{"language": {"de_CH", "de", "en"}, "country": {"ch"}}, combinations[5])

	// Callers get copies
	combinations[0]["language"][0] = "xx"
	assert.Equal(t, "en", r.AllowedCombinations()[0].Primary("language"))
}

func TestCombinationsForIndexing(t *testing.T) {
	r := newTestResolver(t, languageAxis())

	tests := []struct {
		name string
		dims types.DimensionValues
		want []string // primary values of the expected combinations
	}{
		{"english is a fallback everywhere", types.DimensionValues{"language": {"en"}}, []string{"en", "de", "de_CH"}},
		{"german reaches swiss german", types.DimensionValues{"language": {"de"}}, []string{"de", "de_CH"}},
		{"target value decides", types.DimensionValues{"language": {"de", "en"}}, []string{"de", "de_CH"}},
		{"swiss german only itself", types.DimensionValues{"language": {"de_CH"}}, []string{"de_CH"}},
		{"unknown value", types.DimensionValues{"language": {"fr"}}, []string{}},
		{"no dimensions", types.DimensionValues{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.CombinationsForIndexing(tt.dims)
			primaries := make([]string, 0, len(got))
			for _, c := range got {
				primaries = append(primaries, c.Primary("language"))
			}
			assert.Equal(t, tt.want, primaries)

			// Second call is served from the cache and must be identical
			assert.Equal(t, got, r.CombinationsForIndexing(tt.dims))
		})
	}
}

func TestCombinationsForIndexing_NoAxes(t *testing.T) {
	r := newTestResolver(t)
	assert.Empty(t, r.CombinationsForIndexing(types.DimensionValues{"language": {"en"}}))
}

func TestMapRow(t *testing.T) {
	r := newTestResolver(t, languageAxis())

	got, err := r.MapRow(types.DimensionValues{"language": {"de"}})
	require.NoError(t, err)
	assert.Equal(t, types.DimensionValues{"language": {"de", "en"}}, got)

	_, err = r.MapRow(types.DimensionValues{"language": {"fr"}})
	assert.ErrorIs(t, err, ErrNoCombination)

	_, err = r.MapRow(types.DimensionValues{})
	assert.ErrorIs(t, err, ErrNoCombination)
}

func TestMapRow_PrefersMatchingSecondaryAxis(t *testing.T) {
	country := Axis{Name: "country", Presets: []Preset{
		{Name: "at", Values: []string{"at"}},
		{Name: "ch", Values: []string{"ch"}},
	}}
	r := newTestResolver(t, languageAxis(), country)

	got, err := r.MapRow(types.DimensionValues{"language": {"de"}, "country": {"ch"}})
	require.NoError(t, err)
	assert.Equal(t, types.DimensionValues{"language": {"de", "en"}, "country": {"ch"}}, got)

	// No secondary match falls back to the first combination with that language
	got, err = r.MapRow(types.DimensionValues{"language": {"de"}})
	require.NoError(t, err)
	assert.Equal(t, "at", got.Primary("country"))
}

func TestMapRow_NoAxes(t *testing.T) {
	r := newTestResolver(t)
	got, err := r.MapRow(types.DimensionValues{"language": {"en"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}
