// Package solar supplies the space-weather indices the propagation
// predictor runs on. Each index is resolved independently: live NOAA SWPC
// data first, the ClickHouse solar history next, a fixed default last.
package solar

import (
	"context"
	"time"
)

// Defaults used when no feed can supply an index.
const (
	DefaultSFI    = 150.0
	DefaultSSN    = 100.0
	DefaultKIndex = 2.0
)

// SourceDefault marks an index that fell back to its constant.
const SourceDefault = "default"

// Indices is the solar snapshot handed to the predictor.
type Indices struct {
	SFI      float64   `json:"sfi"`
	SSN      float64   `json:"ssn"`
	KIndex   float64   `json:"kIndex"`
	Sources  Sources   `json:"sources"`
	Resolved time.Time `json:"resolved"`
}

// Sources records which feed supplied each index.
type Sources struct {
	SFI    string `json:"sfi"`
	SSN    string `json:"ssn"`
	KIndex string `json:"kIndex"`
}

// Degraded reports whether any index fell back to its default.
func (i Indices) Degraded() bool {
	return i.Sources.SFI == SourceDefault || i.Sources.SSN == SourceDefault || i.Sources.KIndex == SourceDefault
}

// DefaultIndices returns the all-default snapshot.
func DefaultIndices() Indices {
	return Indices{
		SFI:     DefaultSFI,
		SSN:     DefaultSSN,
		KIndex:  DefaultKIndex,
		Sources: Sources{SFI: SourceDefault, SSN: SourceDefault, KIndex: SourceDefault},
	}
}

// Partial is what one feed managed to read; the Has flags mark present values.
type Partial struct {
	SFI, SSN, KIndex          float64
	HasSFI, HasSSN, HasKIndex bool
}

// Complete reports whether every index is present.
func (p Partial) Complete() bool {
	return p.HasSFI && p.HasSSN && p.HasKIndex
}

// Feed is one upstream for solar indices. Fetch returns whatever it could
// read; err describes what it could not.
type Feed interface {
	Name() string
	Fetch(ctx context.Context) (Partial, error)
}

// Provider hands out the current snapshot. It never fails.
type Provider interface {
	Current(ctx context.Context) Indices
}

// Index is a row of the solar history table (solar.indices_raw).
type Index struct {
	SFI      float32   `ch:"sfi"`      // observed 10.7cm flux
	SSN      float32   `ch:"ssn"`      // sunspot number
	KpIndex  float32   `ch:"kp_index"` // planetary K-index
	Observed time.Time `ch:"observed"`
}
