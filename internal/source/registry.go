package source

import "time"

// DefaultOrder is the auto-mode fallback chain. Changing it changes which
// provider a user sees when several are up.
var DefaultOrder = []string{"hamqth", "dxsummit", "dxheat", "dxwatch", "pota"}

// Per-provider request deadlines, all within 8-15s.
var defaultTimeouts = map[string]time.Duration{
	"hamqth":   10 * time.Second,
	"dxsummit": 10 * time.Second,
	"dxheat":   8 * time.Second,
	"dxwatch":  12 * time.Second,
	"pota":     15 * time.Second,
}

// MinTimeout and MaxTimeout bound configured adapter deadlines.
const (
	MinTimeout = 8 * time.Second
	MaxTimeout = 15 * time.Second
)

// ClampTimeout limits d to [MinTimeout, MaxTimeout].
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// Overrides adjusts the default adapters, keyed by provider id.
type Overrides struct {
	URLs    map[string]string
	Timeout time.Duration // applied to every adapter when non-zero
}

// Defaults builds the five provider adapters in DefaultOrder.
func Defaults(fetcher *Fetcher, o Overrides) []Adapter {
	constructors := map[string]func(*Fetcher) *HTTPAdapter{
		"hamqth":   NewHamQTH,
		"dxsummit": NewDXSummit,
		"dxheat":   NewDXHeat,
		"dxwatch":  NewDXWatch,
		"pota":     NewPOTA,
	}

	adapters := make([]Adapter, 0, len(DefaultOrder))
	for _, id := range DefaultOrder {
		a := constructors[id](fetcher).WithURL(o.URLs[id])
		if o.Timeout > 0 {
			a.WithTimeout(ClampTimeout(o.Timeout))
		}
		adapters = append(adapters, a)
	}
	return adapters
}
