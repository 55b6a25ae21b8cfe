// Package spot defines the canonical DX spot record produced by every source
// adapter and held by the store, along with the helpers used to normalize
// provider fields into it.
package spot

import (
	"strconv"
	"time"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
)

// Spot is one normalized report of a station (DXCall) heard by another
// station (Spotter).
type Spot struct {
	Spotter  string    `json:"spotter"`
	DXCall   string    `json:"call"`
	FreqMHz  float64   `json:"freqMHz"`
	Freq     string    `json:"freq"` // MHz, 3 decimals
	Comment  string    `json:"comment"`
	Time     string    `json:"time"` // "HH:MMz" or empty
	Source   string    `json:"source"`
	LastSeen time.Time `json:"lastSeen"`

	SpotterLoc  *geo.LatLon `json:"spotterLoc,omitempty"`
	DXLoc       *geo.LatLon `json:"dxLoc,omitempty"`
	SpotterGrid string      `json:"spotterGrid,omitempty"`
	DXGrid      string      `json:"dxGrid,omitempty"`
}

// Key is the identity of a spot in the store.
type Key struct {
	DXCall  string
	Freq    string
	Spotter string
}

// Key returns the identity key (target call, frequency, spotter).
func (s Spot) Key() Key {
	return Key{DXCall: s.DXCall, Freq: s.Freq, Spotter: s.Spotter}
}

// New builds a Spot from already-parsed fields. Callsigns are sanitized and
// upper-cased; the returned bool is false when the record is unusable
// (missing target call or non-positive frequency).
func New(spotter, dxCall string, freqMHz float64, comment, observed, source string) (Spot, bool) {
	s := Spot{
		Spotter: NormalizeCallsign(spotter),
		DXCall:  NormalizeCallsign(dxCall),
		FreqMHz: freqMHz,
		Freq:    FormatFreq(freqMHz),
		Comment: trimComment(comment),
		Time:    observed,
		Source:  source,
	}
	if s.DXCall == "" || !ValidateCallsign(s.DXCall) || freqMHz <= 0 {
		return Spot{}, false
	}
	return s, true
}

// FormatFreq renders MHz with three decimals, e.g. 14.205 -> "14.205".
func FormatFreq(mhz float64) string {
	return strconv.FormatFloat(mhz, 'f', 3, 64)
}

// Band returns the amateur band name for the spot frequency, or "".
func (s Spot) Band() string {
	name, _ := BandForFreq(s.FreqMHz)
	return name
}

// Mode returns the operating mode inferred from the comment, or "".
func (s Spot) Mode() string {
	mode, _ := DetectMode(s.Comment)
	return mode
}

// Wire is the public shape of a spot returned by the spot query endpoint.
type Wire struct {
	Freq    string `json:"freq"`
	Call    string `json:"call"`
	Comment string `json:"comment"`
	Time    string `json:"time"`
	Spotter string `json:"spotter"`
	Source  string `json:"source"`
}

// Wire converts the spot to its public query shape.
func (s Spot) Wire() Wire {
	return Wire{
		Freq:    s.Freq,
		Call:    s.DXCall,
		Comment: s.Comment,
		Time:    s.Time,
		Spotter: s.Spotter,
		Source:  s.Source,
	}
}

// WireAll converts a batch for the spot query endpoint.
func WireAll(spots []Spot) []Wire {
	out := make([]Wire, len(spots))
	for i := range spots {
		out[i] = spots[i].Wire()
	}
	return out
}

const maxCommentLen = 120

func trimComment(c string) string {
	r := []rune(trimSpace(c))
	if len(r) > maxCommentLen {
		r = r[:maxCommentLen]
	}
	return string(r)
}
