package solar

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
)

// NOAA SWPC public JSON products.
const (
	NOAAFluxURL    = "https://services.swpc.noaa.gov/json/f107_cm_flux.json"
	NOAAKIndexURL  = "https://services.swpc.noaa.gov/products/noaa-planetary-k-index.json"
	NOAASunspotURL = "https://services.swpc.noaa.gov/json/solar-cycle/observed-solar-cycle-indices.json"
)

const noaaTimeout = 10 * time.Second

// NOAAFeed reads the live indices from NOAA SWPC. Each product is fetched
// and parsed on its own so one broken product costs only its index.
type NOAAFeed struct {
	fetcher    *source.Fetcher
	FluxURL    string
	KIndexURL  string
	SunspotURL string
	Timeout    time.Duration
}

// NewNOAAFeed returns a feed on the public SWPC endpoints.
func NewNOAAFeed(fetcher *source.Fetcher) *NOAAFeed {
	return &NOAAFeed{
		fetcher:    fetcher,
		FluxURL:    NOAAFluxURL,
		KIndexURL:  NOAAKIndexURL,
		SunspotURL: NOAASunspotURL,
		Timeout:    noaaTimeout,
	}
}

// Name identifies the feed in Sources.
func (f *NOAAFeed) Name() string { return "noaa" }

// Fetch reads all three products.
func (f *NOAAFeed) Fetch(ctx context.Context) (Partial, error) {
	var p Partial
	var errs []error

	if v, err := f.read(ctx, f.FluxURL, parseFlux); err != nil {
		errs = append(errs, fmt.Errorf("sfi: %w", err))
	} else {
		p.SFI, p.HasSFI = v, true
	}

	if v, err := f.read(ctx, f.KIndexURL, parseKIndex); err != nil {
		errs = append(errs, fmt.Errorf("k-index: %w", err))
	} else {
		p.KIndex, p.HasKIndex = v, true
	}

	if v, err := f.read(ctx, f.SunspotURL, parseSunspot); err != nil {
		errs = append(errs, fmt.Errorf("ssn: %w", err))
	} else {
		p.SSN, p.HasSSN = v, true
	}

	return p, errors.Join(errs...)
}

func (f *NOAAFeed) read(ctx context.Context, url string, parse func(gjson.Result) (float64, error)) (float64, error) {
	body, err := f.fetcher.Get(ctx, url, f.Timeout)
	if err != nil {
		return 0, err
	}
	if !gjson.ValidBytes(body) {
		return 0, errors.New("malformed JSON payload")
	}
	return parse(gjson.ParseBytes(body))
}

var errNoValue = errors.New("no usable value")

// parseFlux picks the newest flux reading by time_tag.
func parseFlux(doc gjson.Result) (float64, error) {
	var newest string
	var flux float64
	found := false

	for _, rec := range doc.Array() {
		v := rec.Get("flux")
		if v.Type != gjson.Number || v.Float() <= 0 {
			continue
		}
		tag := rec.Get("time_tag").String()
		if !found || tag > newest {
			newest, flux, found = tag, v.Float(), true
		}
	}
	if !found {
		return 0, errNoValue
	}
	return flux, nil
}

// parseKIndex reads Kp from the last row. The product has been served both
// as an array of arrays with a header row and as an array of objects.
func parseKIndex(doc gjson.Result) (float64, error) {
	rows := doc.Array()
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]

		var v gjson.Result
		if row.IsArray() {
			v = row.Get("1")
		} else {
			for _, key := range []string{"Kp", "kp_index", "kp", "estimated_kp"} {
				if v = row.Get(key); v.Exists() {
					break
				}
			}
		}

		kp, ok := numeric(v)
		if ok && kp >= 0 && kp <= 9 {
			return kp, nil
		}
	}
	return 0, errNoValue
}

// parseSunspot reads ssn from the last monthly record.
func parseSunspot(doc gjson.Result) (float64, error) {
	rows := doc.Array()
	for i := len(rows) - 1; i >= 0; i-- {
		if ssn, ok := numeric(rows[i].Get("ssn")); ok && ssn >= 0 {
			return ssn, nil
		}
	}
	return 0, errNoValue
}

func numeric(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
