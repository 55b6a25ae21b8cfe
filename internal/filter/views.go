package filter

import (
	"sort"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// PathSteps is the interpolation count used for path view polylines.
const PathSteps = 32

// ListView is the ranked list of spots shown to the user.
type ListView struct {
	Loading bool        `json:"loading"`
	Total   int         `json:"total"`
	Spots   []spot.Spot `json:"spots"`
}

// Path is one geo-referenced spot for the map view.
type Path struct {
	Spot       spot.Spot      `json:"spot"`
	From       geo.LatLon     `json:"from"`
	To         geo.LatLon     `json:"to"`
	FromGrid   string         `json:"fromGrid"`
	ToGrid     string         `json:"toGrid"`
	DistanceKm float64        `json:"distanceKm"`
	Segments   [][]geo.LatLon `json:"segments"`
}

// PathView is the map view: every filtered spot that could be placed.
type PathView struct {
	Loading bool   `json:"loading"`
	Paths   []Path `json:"paths"`
}

// BuildList filters spots and ranks them newest first. total is the
// unfiltered count.
func BuildList(spots []spot.Spot, f FilterSet) ListView {
	matched := Apply(spots, f)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].LastSeen.After(matched[j].LastSeen)
	})
	return ListView{Total: len(spots), Spots: matched}
}

// BuildPaths filters spots and resolves each end of the path from, in
// order, provider coordinates, a provider grid square, or the callsign
// prefix centroid. Spots with an unresolvable end are left out.
func BuildPaths(spots []spot.Spot, f FilterSet, steps int) PathView {
	matched := Apply(spots, f)
	paths := make([]Path, 0, len(matched))

	for _, s := range matched {
		from, ok := locate(s.SpotterLoc, s.SpotterGrid, s.Spotter)
		if !ok {
			continue
		}
		to, ok := locate(s.DXLoc, s.DXGrid, s.DXCall)
		if !ok {
			continue
		}

		paths = append(paths, Path{
			Spot:       s,
			From:       from,
			To:         to,
			FromGrid:   geo.GridSquare(from.Lat, from.Lon),
			ToGrid:     geo.GridSquare(to.Lat, to.Lon),
			DistanceKm: geo.Distance(from, to),
			Segments:   geo.GreatCirclePath(from, to, steps),
		})
	}
	return PathView{Paths: paths}
}

func locate(loc *geo.LatLon, grid, call string) (geo.LatLon, bool) {
	if loc != nil && loc.Valid() {
		return *loc, true
	}
	if grid != "" {
		if p, err := geo.GridToLatLon(grid); err == nil {
			return p, true
		}
	}
	if z, ok := geo.CallsignZone(call); ok {
		return z.Loc, true
	}
	return geo.LatLon{}, false
}
