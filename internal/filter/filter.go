// Package filter evaluates the user's FilterSet against spots and builds the
// derived list and path views.
package filter

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// DefaultRetentionMinutes applies when a FilterSet leaves retention unset.
const DefaultRetentionMinutes = 30

// ErrInvalidFilter is returned by Validate for out-of-range settings.
var ErrInvalidFilter = errors.New("invalid filter")

// FilterSet is the user's view configuration. The zero value matches every
// spot.
type FilterSet struct {
	Bands                []string `json:"bands,omitempty" yaml:"bands,omitempty"`
	Modes                []string `json:"modes,omitempty" yaml:"modes,omitempty"`
	CQZones              []int    `json:"cqZones,omitempty" yaml:"cq_zones,omitempty"`
	ITUZones             []int    `json:"ituZones,omitempty" yaml:"itu_zones,omitempty"`
	Continents           []string `json:"continents,omitempty" yaml:"continents,omitempty"`
	CallsignSearch       string   `json:"callsignSearch,omitempty" yaml:"callsign_search,omitempty"`
	Watchlist            []string `json:"watchlist,omitempty" yaml:"watchlist,omitempty"`
	ExcludeList          []string `json:"excludeList,omitempty" yaml:"exclude_list,omitempty"`
	WatchlistOnly        bool     `json:"watchlistOnly,omitempty" yaml:"watchlist_only,omitempty"`
	SpotRetentionMinutes int      `json:"spotRetentionMinutes,omitempty" yaml:"spot_retention_minutes,omitempty"`
}

// Retention returns the spot retention window.
func (f FilterSet) Retention() time.Duration {
	if f.SpotRetentionMinutes <= 0 {
		return DefaultRetentionMinutes * time.Minute
	}
	return time.Duration(f.SpotRetentionMinutes) * time.Minute
}

var continents = []string{"AF", "AN", "AS", "EU", "NA", "OC", "SA"}

// Validate checks that every configured value can ever match.
func (f FilterSet) Validate() error {
	if f.SpotRetentionMinutes < 0 {
		return fmt.Errorf("%w: spotRetentionMinutes %d is negative", ErrInvalidFilter, f.SpotRetentionMinutes)
	}
	for _, b := range f.Bands {
		if !knownBand(b) {
			return fmt.Errorf("%w: unknown band %q", ErrInvalidFilter, b)
		}
	}
	for _, m := range f.Modes {
		if !slices.Contains(spot.Modes, strings.ToUpper(m)) {
			return fmt.Errorf("%w: unknown mode %q", ErrInvalidFilter, m)
		}
	}
	for _, z := range f.CQZones {
		if z < 1 || z > 40 {
			return fmt.Errorf("%w: cq zone %d out of range 1-40", ErrInvalidFilter, z)
		}
	}
	for _, z := range f.ITUZones {
		if z < 1 || z > 90 {
			return fmt.Errorf("%w: itu zone %d out of range 1-90", ErrInvalidFilter, z)
		}
	}
	for _, c := range f.Continents {
		if !slices.Contains(continents, strings.ToUpper(c)) {
			return fmt.Errorf("%w: unknown continent %q", ErrInvalidFilter, c)
		}
	}
	return nil
}

func knownBand(name string) bool {
	for _, b := range spot.Bands() {
		if strings.EqualFold(b.Name, name) {
			return true
		}
	}
	return false
}

// Matches reports whether s passes f. Checks run in a fixed order and stop
// at the first rejection. Zone and continent checks use the spotter's
// callsign: the filter selects by where a report was heard from.
func Matches(s spot.Spot, f FilterSet) bool {
	if f.WatchlistOnly && len(f.Watchlist) > 0 {
		if !anyCallContains(s, f.Watchlist) {
			return false
		}
	}

	if len(f.ExcludeList) > 0 && anyCallContains(s, f.ExcludeList) {
		return false
	}

	if len(f.CQZones) > 0 || len(f.ITUZones) > 0 || len(f.Continents) > 0 {
		zone, ok := geo.CallsignZone(s.Spotter)

		if len(f.CQZones) > 0 && (!ok || !slices.Contains(f.CQZones, zone.CQ)) {
			return false
		}
		if len(f.ITUZones) > 0 && (!ok || !slices.Contains(f.ITUZones, zone.ITU)) {
			return false
		}
		if len(f.Continents) > 0 && (!ok || !containsFold(f.Continents, zone.Continent)) {
			return false
		}
	}

	if len(f.Bands) > 0 {
		band, ok := spot.BandForFreq(s.FreqMHz)
		if !ok || !containsFold(f.Bands, band) {
			return false
		}
	}

	if len(f.Modes) > 0 {
		mode, ok := spot.DetectMode(s.Comment)
		if !ok || !containsFold(f.Modes, mode) {
			return false
		}
	}

	if q := strings.TrimSpace(f.CallsignSearch); q != "" {
		if !callContains(s, q) {
			return false
		}
	}

	return true
}

func anyCallContains(s spot.Spot, needles []string) bool {
	for _, n := range needles {
		if n = strings.TrimSpace(n); n != "" && callContains(s, n) {
			return true
		}
	}
	return false
}

func callContains(s spot.Spot, needle string) bool {
	n := strings.ToUpper(needle)
	return strings.Contains(strings.ToUpper(s.Spotter), n) || strings.Contains(strings.ToUpper(s.DXCall), n)
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// Apply returns the spots in spots that pass f, preserving order.
func Apply(spots []spot.Spot, f FilterSet) []spot.Spot {
	out := make([]spot.Spot, 0, len(spots))
	for _, s := range spots {
		if Matches(s, f) {
			out = append(out, s)
		}
	}
	return out
}
