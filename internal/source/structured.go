package source

import (
	"errors"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

var errMalformedJSON = errors.New("malformed JSON payload")

// fieldMap declares, per concept, the field names a provider has used over
// time. Aliases are tried in order and the first present value wins.
// Numeric aliases index into array-shaped records.
type fieldMap struct {
	Freq    []string
	Call    []string
	Spotter []string
	Comment []string
	Time    []string
	Date    []string
	Mode    []string
	Lat     []string
	Lon     []string
	Grid    []string
	Ref     []string
}

func (m fieldMap) str(rec gjson.Result, aliases []string) string {
	for _, a := range aliases {
		if v := rec.Get(a); v.Exists() && v.Type != gjson.Null {
			s := v.String()
			if v.Type == gjson.Number {
				// Raw keeps "7.0" as written; String would give "7".
				s = v.Raw
			}
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func (m fieldMap) float(rec gjson.Result, aliases []string) (float64, bool) {
	for _, a := range aliases {
		v := rec.Get(a)
		switch v.Type {
		case gjson.Number:
			return v.Float(), true
		case gjson.String:
			if f, err := parseFloatStr(v.Str); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// normalize maps one provider record to a Spot.
func (m fieldMap) normalize(rec gjson.Result, source string) (spot.Spot, bool) {
	freq, ok := spot.ParseFreqAuto(m.str(rec, m.Freq))
	if !ok {
		return spot.Spot{}, false
	}

	observed := spot.NormalizeTime(m.str(rec, m.Time))
	if observed == "" {
		observed = spot.NormalizeTime(strings.TrimSpace(m.str(rec, m.Date) + " " + m.str(rec, m.Time)))
	}

	s, ok := spot.New(m.str(rec, m.Spotter), m.str(rec, m.Call), freq, m.comment(rec), observed, source)
	if !ok {
		return spot.Spot{}, false
	}

	if lat, okLat := m.float(rec, m.Lat); okLat {
		if lon, okLon := m.float(rec, m.Lon); okLon {
			if p := (geo.LatLon{Lat: lat, Lon: lon}); p.Valid() && (lat != 0 || lon != 0) {
				s.DXLoc = &p
			}
		}
	}
	if grid := m.str(rec, m.Grid); grid != "" {
		if p, err := geo.GridToLatLon(grid); err == nil {
			s.DXGrid = grid
			if s.DXLoc == nil {
				s.DXLoc = &p
			}
		}
	}
	return s, true
}

// comment joins the reference, mode and free text so the mode heuristic and
// callsign search see everything the provider reported.
func (m fieldMap) comment(rec gjson.Result) string {
	text := m.str(rec, m.Comment)
	var parts []string
	if ref := m.str(rec, m.Ref); ref != "" {
		parts = append(parts, ref)
	}
	if mode := m.str(rec, m.Mode); mode != "" && !strings.Contains(strings.ToUpper(text), strings.ToUpper(mode)) {
		parts = append(parts, mode)
	}
	if text != "" {
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

func parseFloatStr(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// recordsFunc extracts the record list from a provider document.
type recordsFunc func(doc gjson.Result) []gjson.Result

func arrayRecords(doc gjson.Result) []gjson.Result {
	if !doc.IsArray() {
		return nil
	}
	return doc.Array()
}

// keyedRecords accepts {"s": {id: rec}}, a bare {id: rec} object, or an array.
func keyedRecords(doc gjson.Result) []gjson.Result {
	if doc.IsArray() {
		return doc.Array()
	}
	if inner := doc.Get("s"); inner.IsObject() || inner.IsArray() {
		doc = inner
		if doc.IsArray() {
			return doc.Array()
		}
	}
	var out []gjson.Result
	doc.ForEach(func(_, value gjson.Result) bool {
		if value.IsObject() || value.IsArray() {
			out = append(out, value)
		}
		return true
	})
	return out
}

func jsonParser(fields fieldMap, records recordsFunc) parseFunc {
	return func(body []byte, source string) ([]spot.Spot, int, error) {
		if !gjson.ValidBytes(body) {
			return nil, 0, errMalformedJSON
		}

		var spots []spot.Spot
		dropped := 0
		for _, rec := range records(gjson.ParseBytes(body)) {
			s, ok := fields.normalize(rec, source)
			if !ok {
				dropped++
				continue
			}
			spots = append(spots, s)
		}
		return spots, dropped, nil
	}
}

var dxSummitFields = fieldMap{
	Freq:    []string{"frequency", "freq", "qrg"},
	Call:    []string{"dx_call", "dxcall", "call"},
	Spotter: []string{"de_call", "spotter", "de"},
	Comment: []string{"info", "comment", "comments"},
	Time:    []string{"time", "timestamp", "spot_time"},
}

// NewDXSummit returns the DX Summit adapter.
func NewDXSummit(fetcher *Fetcher) *HTTPAdapter {
	return newHTTPAdapter(Info{
		ID:          "dxsummit",
		Name:        "DX Summit",
		Description: "DX Summit cluster spots (JSON)",
		URL:         "https://www.dxsummit.fi/api/v1/spots?limit_spots=200",
	}, fetcher, defaultTimeouts["dxsummit"], jsonParser(dxSummitFields, arrayRecords))
}

var dxHeatFields = fieldMap{
	Freq:    []string{"Frequency", "frequency", "freq"},
	Call:    []string{"DXCall", "dx", "call"},
	Spotter: []string{"Spotter", "spotter", "de"},
	Comment: []string{"Comment", "comment", "info"},
	Time:    []string{"Time", "time", "timestamp"},
	Date:    []string{"Date", "date"},
}

// NewDXHeat returns the DXHeat adapter.
func NewDXHeat(fetcher *Fetcher) *HTTPAdapter {
	return newHTTPAdapter(Info{
		ID:          "dxheat",
		Name:        "DXHeat",
		Description: "DXHeat cluster spots (JSON)",
		URL:         "https://dxheat.com/source/spots/?a=200",
	}, fetcher, defaultTimeouts["dxheat"], jsonParser(dxHeatFields, arrayRecords))
}

var dxWatchFields = fieldMap{
	Freq:    []string{"f", "freq", "frequency", "1"},
	Call:    []string{"dx", "call", "dx_call", "2"},
	Spotter: []string{"sp", "spotter", "de", "0"},
	Comment: []string{"c", "comment", "info", "3"},
	Time:    []string{"t", "time", "timestamp", "4"},
}

// NewDXWatch returns the DXWatch adapter.
func NewDXWatch(fetcher *Fetcher) *HTTPAdapter {
	return newHTTPAdapter(Info{
		ID:          "dxwatch",
		Name:        "DXWatch",
		Description: "DXWatch cluster spots (JSON keyed by spot id)",
		URL:         "https://dxwatch.com/dxsd1/s.php?s=0&r=200",
	}, fetcher, defaultTimeouts["dxwatch"], jsonParser(dxWatchFields, keyedRecords))
}

var potaFields = fieldMap{
	Freq:    []string{"frequency", "freq"},
	Call:    []string{"activator", "callsign", "call"},
	Spotter: []string{"spotter", "de"},
	Comment: []string{"comments", "comment", "name"},
	Time:    []string{"spotTime", "time", "timestamp"},
	Mode:    []string{"mode"},
	Lat:     []string{"latitude", "lat"},
	Lon:     []string{"longitude", "lon"},
	Grid:    []string{"grid6", "grid4"},
	Ref:     []string{"reference"},
}

// NewPOTA returns the Parks on the Air activator spot adapter.
func NewPOTA(fetcher *Fetcher) *HTTPAdapter {
	return newHTTPAdapter(Info{
		ID:          "pota",
		Name:        "Parks on the Air",
		Description: "POTA activator spots with park coordinates (JSON)",
		URL:         "https://api.pota.app/spot/activator",
	}, fetcher, defaultTimeouts["pota"], jsonParser(potaFields, arrayRecords))
}
