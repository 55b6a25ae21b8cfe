// Package geo provides the geographic primitives used by the spot path view
// and the propagation predictor: Maidenhead locators, great-circle distance
// and interpolation, and callsign prefix zone lookup.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusKm is the mean Earth radius used for all great-circle math.
const EarthRadiusKm = 6371.0

// ErrInvalidGrid is returned when a Maidenhead locator cannot be decoded.
var ErrInvalidGrid = errors.New("invalid grid square")

// LatLon is a point in decimal degrees.
type LatLon struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the point is a finite coordinate inside the normal
// latitude/longitude ranges.
func (p LatLon) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p LatLon) String() string {
	return fmt.Sprintf("%.4f,%.4f", p.Lat, p.Lon)
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// centralAngle returns the angular separation of a and b in radians (haversine).
func centralAngle(a, b LatLon) float64 {
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLat := lat2 - lat1
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b LatLon) float64 {
	return centralAngle(a, b) * EarthRadiusKm
}

// Midpoint returns the point halfway along the great circle from a to b.
func Midpoint(a, b LatLon) LatLon {
	lat1, lon1 := toRad(a.Lat), toRad(a.Lon)
	lat2 := toRad(b.Lat)
	dLon := toRad(b.Lon - a.Lon)

	bx := math.Cos(lat2) * math.Cos(dLon)
	by := math.Cos(lat2) * math.Sin(dLon)
	lat := math.Atan2(math.Sin(lat1)+math.Sin(lat2), math.Sqrt((math.Cos(lat1)+bx)*(math.Cos(lat1)+bx)+by*by))
	lon := lon1 + math.Atan2(by, math.Cos(lat1)+bx)

	return LatLon{Lat: toDeg(lat), Lon: normalizeLon(toDeg(lon))}
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// ===== Great-circle paths =====

// degenerateKm is the distance under which a path collapses to its endpoints.
const degenerateKm = 1.0

// GreatCirclePath interpolates n+1 points along the great circle from a to b
// and returns them as polyline segments. A new segment starts wherever two
// consecutive longitudes differ by more than 180 degrees, so no segment ever
// crosses the antimeridian. Paths that are near-zero length or near-antipodal
// are returned as their two endpoints.
func GreatCirclePath(a, b LatLon, n int) [][]LatLon {
	if n < 1 {
		n = 1
	}

	d := centralAngle(a, b)
	if d*EarthRadiusKm < degenerateKm || (math.Pi-d)*EarthRadiusKm < degenerateKm {
		return splitAntimeridian([]LatLon{a, b})
	}

	lat1, lon1 := toRad(a.Lat), toRad(a.Lon)
	lat2, lon2 := toRad(b.Lat), toRad(b.Lon)
	sinD := math.Sin(d)

	points := make([]LatLon, 0, n+1)
	for i := 0; i <= n; i++ {
		f := float64(i) / float64(n)
		A := math.Sin((1-f)*d) / sinD
		B := math.Sin(f*d) / sinD

		x := A*math.Cos(lat1)*math.Cos(lon1) + B*math.Cos(lat2)*math.Cos(lon2)
		y := A*math.Cos(lat1)*math.Sin(lon1) + B*math.Cos(lat2)*math.Sin(lon2)
		z := A*math.Sin(lat1) + B*math.Sin(lat2)

		points = append(points, LatLon{
			Lat: toDeg(math.Atan2(z, math.Sqrt(x*x+y*y))),
			Lon: toDeg(math.Atan2(y, x)),
		})
	}

	// Pin the endpoints exactly; interpolation drifts in the last bits.
	points[0] = a
	points[n] = b

	return splitAntimeridian(points)
}

func splitAntimeridian(points []LatLon) [][]LatLon {
	var segments [][]LatLon
	current := []LatLon{points[0]}
	for i := 1; i < len(points); i++ {
		if math.Abs(points[i].Lon-points[i-1].Lon) > 180 {
			segments = append(segments, current)
			current = nil
		}
		current = append(current, points[i])
	}
	return append(segments, current)
}

// ===== Maidenhead locators =====

// GridSquare encodes a coordinate as a 6-character Maidenhead locator,
// e.g. 41.7148,-72.7273 -> "FN31pr".
func GridSquare(lat, lon float64) string {
	lon = math.Min(math.Max(lon+180, 0), 359.999999)
	lat = math.Min(math.Max(lat+90, 0), 179.999999)

	b := make([]byte, 6)
	b[0] = 'A' + byte(lon/20)
	b[1] = 'A' + byte(lat/10)
	b[2] = '0' + byte(math.Mod(lon, 20)/2)
	b[3] = '0' + byte(math.Mod(lat, 10))
	b[4] = 'a' + byte(math.Mod(lon, 2)*12)
	b[5] = 'a' + byte(math.Mod(lat, 1)*24)
	return string(b)
}

// GridToLatLon decodes a 4- or 6-character locator to the centre of its square.
func GridToLatLon(grid string) (LatLon, error) {
	g := strings.TrimSpace(grid)
	if len(g) != 4 && len(g) != 6 {
		return LatLon{}, fmt.Errorf("%w: %q", ErrInvalidGrid, grid)
	}
	g = strings.ToUpper(g)

	if g[0] < 'A' || g[0] > 'R' || g[1] < 'A' || g[1] > 'R' ||
		g[2] < '0' || g[2] > '9' || g[3] < '0' || g[3] > '9' {
		return LatLon{}, fmt.Errorf("%w: %q", ErrInvalidGrid, grid)
	}

	lon := float64(g[0]-'A')*20 + float64(g[2]-'0')*2 - 180
	lat := float64(g[1]-'A')*10 + float64(g[3]-'0') - 90

	if len(g) == 4 {
		return LatLon{Lat: lat + 0.5, Lon: lon + 1}, nil
	}

	if g[4] < 'A' || g[4] > 'X' || g[5] < 'A' || g[5] > 'X' {
		return LatLon{}, fmt.Errorf("%w: %q", ErrInvalidGrid, grid)
	}
	lon += float64(g[4]-'A')*(2.0/24) + 1.0/24
	lat += float64(g[5]-'A')*(1.0/24) + 1.0/48
	return LatLon{Lat: lat, Lon: lon}, nil
}

// ParseLocation accepts a Maidenhead locator ("FN31", "FN31pr") or a
// "lat,lon" pair.
func ParseLocation(s string) (LatLon, error) {
	s = strings.TrimSpace(s)
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return GridToLatLon(s)
	}

	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return LatLon{}, fmt.Errorf("latitude %q: %w", lat, err)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return LatLon{}, fmt.Errorf("longitude %q: %w", lon, err)
	}
	p := LatLon{Lat: la, Lon: lo}
	if !p.Valid() {
		return LatLon{}, fmt.Errorf("location out of range: %s", p)
	}
	return p, nil
}
