package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepbrain/internal/lexicon"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(lexicon.New())
}

func TestNormalizePoundShorthand(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.Normalize(50, "#", "", "")
	require.NoError(t, err)

	assert.Equal(t, "g", got.CanonicalUnit)
	assert.InDelta(t, 22679.6185, got.CanonicalValue, 0.0001)
	assert.Equal(t, "lb", got.NormalizedUnit)
	assert.Equal(t, "50 #", got.DisplayOriginal)
}

func TestNormalizeCaseShorthand(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.Normalize(2, "cs", "", "")
	require.NoError(t, err)

	assert.Equal(t, "each", got.CanonicalUnit)
	assert.Equal(t, 2.0, got.CanonicalValue)
	assert.Equal(t, "case", got.NormalizedUnit)
}

func TestParseFluidOunces(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.Parse("4 fl oz", "")
	require.NoError(t, err)

	assert.Equal(t, "ml", got.CanonicalUnit)
	assert.InDelta(t, 118.29411825, got.CanonicalValue, 0.0001)
	assert.Equal(t, 4.0, got.InputQuantity)
}

func TestParseCompactPound(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.Parse("50#", "")
	require.NoError(t, err)

	assert.Equal(t, "g", got.CanonicalUnit)
	assert.InDelta(t, 22679.6185, got.CanonicalValue, 0.0001)
}

func TestNormalizeVolumeUnits(t *testing.T) {
	n := newTestNormalizer()

	cases := []struct {
		qty  float64
		unit string
		want float64
	}{
		{1, "gallon", 3785.411784},
		{2, "qt", 1892.705892},
		{1, "pt", 473.176473},
		{3, "l", 3000},
	}
	for _, tc := range cases {
		got, err := n.Normalize(tc.qty, tc.unit, "", "")
		require.NoError(t, err, tc.unit)
		assert.Equal(t, "ml", got.CanonicalUnit, tc.unit)
		assert.InDelta(t, tc.want, got.CanonicalValue, 0.0001, tc.unit)
	}
}

func TestMissingUnitFailsClosed(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize(5, "", "", "")
	require.Error(t, err)
	assert.True(t, IsUnitError(err))

	_, err = n.Parse("12", "")
	require.Error(t, err)
	assert.True(t, IsUnitError(err))
}

func TestUnknownUnitFailsClosed(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize(5, "blorps", "", "")
	require.Error(t, err)
	assert.True(t, IsUnitError(err))
}

func TestNonPositiveQuantityRejected(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize(0, "lb", "", "")
	require.Error(t, err)

	_, err = n.Normalize(-2, "kg", "", "")
	require.Error(t, err)
}

func TestRestaurantScopedAlias(t *testing.T) {
	lex := lexicon.New()
	lex.SetRestaurantAliases("bistro", map[string]string{"tub": "quart"})
	n := NewNormalizer(lex)

	got, err := n.Normalize(1, "tub", "", "bistro")
	require.NoError(t, err)
	assert.Equal(t, "quart", got.NormalizedUnit)

	_, err = n.Normalize(1, "tub", "", "")
	require.Error(t, err)
}
