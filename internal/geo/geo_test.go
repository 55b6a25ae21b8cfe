package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridSquare(t *testing.T) {
	assert.Equal(t, "FN31pr", GridSquare(41.714775, -72.727260))
	assert.Equal(t, "JJ00aa", GridSquare(0, 0))
	assert.Equal(t, "AA00aa", GridSquare(-90, -180))
	assert.Len(t, GridSquare(90, 180), 6)
}

func TestGridToLatLon(t *testing.T) {
	t.Run("six character", func(t *testing.T) {
		p, err := GridToLatLon("FN31pr")
		require.NoError(t, err)
		assert.InDelta(t, 41.7148, p.Lat, 0.05)
		assert.InDelta(t, -72.7273, p.Lon, 0.05)
	})

	t.Run("four character is square centre", func(t *testing.T) {
		p, err := GridToLatLon("fn31")
		require.NoError(t, err)
		assert.InDelta(t, 41.5, p.Lat, 1e-9)
		assert.InDelta(t, -73.0, p.Lon, 1e-9)
	})

	t.Run("round trip", func(t *testing.T) {
		p, err := GridToLatLon(GridSquare(-33.87, 151.21))
		require.NoError(t, err)
		assert.Equal(t, "QF56od", GridSquare(p.Lat, p.Lon))
	})

	for _, bad := range []string{"", "FN3", "ZZ99", "FN31zz", "FNXX"} {
		_, err := GridToLatLon(bad)
		assert.True(t, errors.Is(err, ErrInvalidGrid), bad)
	}
}

func TestDistance(t *testing.T) {
	london := LatLon{51.5074, -0.1278}
	paris := LatLon{48.8566, 2.3522}

	assert.InDelta(t, 343.5, Distance(london, paris), 5)
	assert.InDelta(t, Distance(london, paris), Distance(paris, london), 1e-9)
	assert.Zero(t, Distance(london, london))
	assert.InDelta(t, math.Pi*EarthRadiusKm, Distance(LatLon{0, 0}, LatLon{0, 180}), 1e-6)
}

func TestMidpoint(t *testing.T) {
	m := Midpoint(LatLon{0, 0}, LatLon{0, 90})
	assert.InDelta(t, 0, m.Lat, 1e-9)
	assert.InDelta(t, 45, m.Lon, 1e-9)
}

func TestGreatCirclePath(t *testing.T) {
	t.Run("single segment with pinned endpoints", func(t *testing.T) {
		a, b := LatLon{51.5, -0.1}, LatLon{40.7, -74.0}
		segs := GreatCirclePath(a, b, 10)

		require.Len(t, segs, 1)
		require.Len(t, segs[0], 11)
		assert.Equal(t, a, segs[0][0])
		assert.Equal(t, b, segs[0][10])
	})

	t.Run("splits at the antimeridian", func(t *testing.T) {
		tokyo, sf := LatLon{35.7, 139.7}, LatLon{37.8, -122.4}
		segs := GreatCirclePath(tokyo, sf, 20)

		require.Len(t, segs, 2)
		total := 0
		for _, seg := range segs {
			for i := 1; i < len(seg); i++ {
				assert.LessOrEqual(t, math.Abs(seg[i].Lon-seg[i-1].Lon), 180.0)
			}
			total += len(seg)
		}
		assert.Equal(t, 21, total)
		assert.Equal(t, tokyo, segs[0][0])
		assert.Equal(t, sf, segs[1][len(segs[1])-1])
	})

	t.Run("near zero returns endpoints", func(t *testing.T) {
		a := LatLon{10, 10}
		segs := GreatCirclePath(a, a, 16)
		assert.Equal(t, [][]LatLon{{a, a}}, segs)
	})

	t.Run("antipodal returns endpoints", func(t *testing.T) {
		a, b := LatLon{0, 0}, LatLon{0, 180}
		segs := GreatCirclePath(a, b, 16)
		assert.Equal(t, [][]LatLon{{a, b}}, segs)
	})

	t.Run("non-positive n treated as one step", func(t *testing.T) {
		segs := GreatCirclePath(LatLon{0, 0}, LatLon{10, 10}, 0)
		require.Len(t, segs, 1)
		assert.Len(t, segs[0], 2)
	})
}

func TestCallsignZone(t *testing.T) {
	tests := []struct {
		call      string
		continent string
		cq        int
		itu       int
	}{
		{"VK2DEF", "OC", 30, 59},
		{"VK6ABC", "OC", 29, 58},
		{"K1ABC", "NA", 5, 8},
		{"w6xyz", "NA", 3, 6},
		{"WA1XYZ", "NA", 5, 8},
		{"JA1XYZ", "AS", 25, 45},
		{"DL1ABC", "EU", 14, 28},
		{"G4ABC", "EU", 14, 27},
		{"UA9ABC", "AS", 17, 30},
		{"EA8XX", "AF", 33, 36},
		{"VK2/W1ABC", "OC", 30, 59},
		{"W1ABC/P", "NA", 5, 8},
		{"DL/ON4KHG/P", "EU", 14, 28},
	}

	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			z, ok := CallsignZone(tt.call)
			require.True(t, ok)
			assert.Equal(t, tt.continent, z.Continent)
			assert.Equal(t, tt.cq, z.CQ)
			assert.Equal(t, tt.itu, z.ITU)
		})
	}

	t.Run("unknown prefix", func(t *testing.T) {
		z, ok := CallsignZone("QQ1ABC")
		assert.False(t, ok)
		assert.Equal(t, Zone{}, z)
	})

	t.Run("empty", func(t *testing.T) {
		_, ok := CallsignZone("  ")
		assert.False(t, ok)
	})
}

func TestLatLonValid(t *testing.T) {
	assert.True(t, LatLon{45, -120}.Valid())
	assert.False(t, LatLon{91, 0}.Valid())
	assert.False(t, LatLon{0, 181}.Valid())
	assert.False(t, LatLon{math.NaN(), 0}.Valid())
}

func TestParseLocation(t *testing.T) {
	p, err := ParseLocation("40.5, -3.25")
	require.NoError(t, err)
	assert.Equal(t, LatLon{Lat: 40.5, Lon: -3.25}, p)

	p, err = ParseLocation("fn31")
	require.NoError(t, err)
	assert.InDelta(t, 41.5, p.Lat, 1e-9)
	assert.InDelta(t, -73, p.Lon, 1e-9)

	for _, bad := range []string{"", "91,0", "x,1", "1,y", "FN3"} {
		_, err := ParseLocation(bad)
		assert.Error(t, err, bad)
	}
}
