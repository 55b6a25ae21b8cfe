// Package propagation estimates per-band HF path reliability over a 24 hour
// UTC cycle from two points and the current solar indices.
package propagation

import (
	"math"
	"sort"
	"time"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/solar"
)

// HFBand is a band the model predicts, at a fixed representative frequency.
type HFBand struct {
	Name    string  `json:"band"`
	FreqMHz float64 `json:"freq"`
}

// HFBands is the fixed prediction table, low to high.
var HFBands = []HFBand{
	{"160m", 1.85},
	{"80m", 3.65},
	{"60m", 5.36},
	{"40m", 7.15},
	{"30m", 10.125},
	{"20m", 14.175},
	{"17m", 18.118},
	{"15m", 21.225},
	{"12m", 24.94},
	{"10m", 28.5},
}

// Status labels by reliability.
const (
	StatusExcellent = "EXCELLENT"
	StatusGood      = "GOOD"
	StatusFair      = "FAIR"
	StatusPoor      = "POOR"
	StatusClosed    = "CLOSED"
)

// BandStatus is one band's current-hour prediction.
type BandStatus struct {
	Band        string  `json:"band"`
	FreqMHz     float64 `json:"freq"`
	Reliability int     `json:"reliability"`
	Status      string  `json:"status"`
	SNR         string  `json:"snr"`
}

// HourPoint is one band's reliability at one UTC hour.
type HourPoint struct {
	Hour        int `json:"hour"`
	Reliability int `json:"reliability"`
}

// Result is a full prediction for one path.
type Result struct {
	Solar        solar.Indices          `json:"solarData"`
	From         geo.LatLon             `json:"from"`
	To           geo.LatLon             `json:"to"`
	DistanceKm   float64                `json:"distanceKm"`
	CurrentHour  int                    `json:"currentHour"`
	MUF          float64                `json:"muf"`
	LUF          float64                `json:"luf"`
	CurrentBands []BandStatus           `json:"currentBands"`
	Hourly       map[string][]HourPoint `json:"hourlyPredictions"`
}

// clone returns a Result that shares no slices or maps with r.
func (r Result) clone() Result {
	out := r
	out.CurrentBands = append([]BandStatus(nil), r.CurrentBands...)
	out.Hourly = make(map[string][]HourPoint, len(r.Hourly))
	for band, points := range r.Hourly {
		out.Hourly[band] = append([]HourPoint(nil), points...)
	}
	return out
}

// pathGeometry is the part of the model that does not vary by hour.
type pathGeometry struct {
	distanceKm float64
	midLat     float64
	midLon     float64
}

// newPathGeometry takes the great-circle midpoint so paths across the
// antimeridian get the right local hour.
func newPathGeometry(from, to geo.LatLon) pathGeometry {
	mid := geo.Midpoint(from, to)
	return pathGeometry{
		distanceKm: geo.Distance(from, to),
		midLat:     mid.Lat,
		midLon:     mid.Lon,
	}
}

// criticalFrequency is the diurnal foF2 estimate for a UTC hour.
func criticalFrequency(ssn float64, hour int) float64 {
	return 0.9 * math.Sqrt(ssn+15) * (1 + 0.4*math.Cos(float64(hour-12)*math.Pi/12))
}

// muf is the maximum usable frequency for the path at hour.
func (g pathGeometry) muf(ssn float64, hour int) float64 {
	distFactor := math.Sqrt(1 + g.distanceKm/3500)
	latFactor := 1 - math.Abs(g.midLat)/200
	return criticalFrequency(ssn, hour) * distFactor * latFactor * 3.5
}

// localHour is the solar hour at the path midpoint.
func (g pathGeometry) localHour(hour int) float64 {
	return math.Mod(math.Mod(float64(hour)+g.midLon/15, 24)+24, 24)
}

// luf is the lowest usable frequency for the path at hour.
func (g pathGeometry) luf(sfi, k float64, hour int) float64 {
	dayNight := 0.5
	if lh := g.localHour(hour); lh >= 6 && lh <= 18 {
		dayNight = 1.5
	}
	return 2 + (sfi/100)*dayNight + k*0.5
}

// reliability runs the full per-band model for one hour.
func (g pathGeometry) reliability(freq float64, idx solar.Indices, hour int) int {
	muf := g.muf(idx.SSN, hour)
	luf := g.luf(idx.SFI, idx.KIndex, hour)

	var r float64
	switch {
	case freq > muf:
		r = math.Max(0, 50-(freq-muf)*10)
	case freq < luf:
		r = math.Max(0, 50-(luf-freq)*15)
	case muf <= luf:
		r = 50
	default:
		mid := (muf + luf) / 2
		r = 50 + 45*(1-math.Abs(freq-mid)/(muf-luf))
	}

	switch {
	case idx.KIndex >= 5:
		r *= 0.3
	case idx.KIndex >= 4:
		r *= 0.6
	case idx.KIndex >= 3:
		r *= 0.8
	}

	switch {
	case g.distanceKm > 15000:
		r *= 0.7
	case g.distanceKm > 10000:
		r *= 0.85
	}

	if freq >= 21 && idx.SFI < 100 {
		r *= math.Min(1, idx.SFI/100)
	}
	if freq >= 28 && idx.SFI < 120 {
		r *= math.Min(1, idx.SFI/120)
	}

	return clamp(int(math.Round(r)), 0, 99)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// StatusFor labels a reliability value.
func StatusFor(reliability int) string {
	switch {
	case reliability >= 70:
		return StatusExcellent
	case reliability >= 50:
		return StatusGood
	case reliability >= 30:
		return StatusFair
	case reliability >= 15:
		return StatusPoor
	}
	return StatusClosed
}

// SNRFor is the coarse signal-to-noise bucket shown beside a reliability.
func SNRFor(reliability int) string {
	switch {
	case reliability >= 80:
		return "+10dB"
	case reliability >= 60:
		return "+3dB"
	case reliability >= 40:
		return "-5dB"
	case reliability >= 20:
		return "-12dB"
	case reliability >= 1:
		return "-20dB"
	}
	return "--"
}

// Compute predicts every band for every UTC hour. It is pure: the same
// inputs always give the same Result.
func Compute(from, to geo.LatLon, idx solar.Indices, at time.Time) Result {
	g := newPathGeometry(from, to)
	hour := at.UTC().Hour()

	res := Result{
		Solar:        idx,
		From:         from,
		To:           to,
		DistanceKm:   math.Round(g.distanceKm),
		CurrentHour:  hour,
		MUF:          math.Round(g.muf(idx.SSN, hour)*10) / 10,
		LUF:          math.Round(g.luf(idx.SFI, idx.KIndex, hour)*10) / 10,
		CurrentBands: make([]BandStatus, 0, len(HFBands)),
		Hourly:       make(map[string][]HourPoint, len(HFBands)),
	}

	for _, b := range HFBands {
		points := make([]HourPoint, 24)
		for h := 0; h < 24; h++ {
			points[h] = HourPoint{Hour: h, Reliability: g.reliability(b.FreqMHz, idx, h)}
		}
		res.Hourly[b.Name] = points

		now := points[hour].Reliability
		res.CurrentBands = append(res.CurrentBands, BandStatus{
			Band:        b.Name,
			FreqMHz:     b.FreqMHz,
			Reliability: now,
			Status:      StatusFor(now),
			SNR:         SNRFor(now),
		})
	}

	sort.SliceStable(res.CurrentBands, func(i, j int) bool {
		return res.CurrentBands[i].Reliability > res.CurrentBands[j].Reliability
	})
	return res
}
