package source

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// HamQTH serves the DX cluster as caret-delimited lines:
//
//	spotter^freqKHz^dxCall^comment^HHMM YYYY-MM-DD^lotw^eqsl^continent^band^country^adif
//
// Columns past the timestamp are optional. The band is always derived from
// the frequency; the band column only cross-checks it, and a line whose
// band column names a different band is dropped.
const (
	hamqthSpotter = iota
	hamqthFreq
	hamqthDXCall
	hamqthComment
	hamqthTime
	hamqthLotw
	hamqthEqsl
	hamqthContinent
	hamqthBand

	hamqthMinFields = hamqthTime + 1
)

// NewHamQTH returns the HamQTH DX cluster adapter.
func NewHamQTH(fetcher *Fetcher) *HTTPAdapter {
	return newHTTPAdapter(Info{
		ID:          "hamqth",
		Name:        "HamQTH",
		Description: "HamQTH DX cluster feed (caret-delimited CSV)",
		URL:         "https://www.hamqth.com/dxc_csv.php?limit=200",
	}, fetcher, defaultTimeouts["hamqth"], parseHamQTH)
}

func parseHamQTH(body []byte, source string) ([]spot.Spot, int, error) {
	var spots []spot.Spot
	dropped := 0

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxBodyBytes+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "^")
		if len(fields) < hamqthMinFields {
			dropped++
			continue
		}

		freq, ok := spot.ParseFreqKHz(fields[hamqthFreq])
		if !ok {
			dropped++
			continue
		}

		s, ok := spot.New(
			fields[hamqthSpotter],
			fields[hamqthDXCall],
			freq,
			fields[hamqthComment],
			spot.NormalizeTime(fields[hamqthTime]),
			source,
		)
		if !ok || !bandAgrees(fields, freq) {
			dropped++
			continue
		}
		spots = append(spots, s)
	}
	return spots, dropped, scanner.Err()
}

// bandAgrees reports whether the optional band column is consistent with
// freqMHz. A missing or unrecognised label is not a disagreement.
func bandAgrees(fields []string, freqMHz float64) bool {
	if len(fields) <= hamqthBand {
		return true
	}
	label, ok := parseBandLabel(fields[hamqthBand])
	if !ok {
		return true
	}
	band, ok := spot.BandForFreq(freqMHz)
	if !ok {
		return true
	}
	return band == label
}

// parseBandLabel normalizes labels such as "20M", "20", or "70CM" to the
// band table's names.
func parseBandLabel(raw string) (string, bool) {
	label := strings.ToLower(strings.TrimSpace(raw))
	if label == "" {
		return "", false
	}
	if !strings.HasSuffix(label, "m") {
		label += "m"
	}
	for _, b := range spot.Bands() {
		if b.Name == label {
			return label, true
		}
	}
	return "", false
}
