package spot

import (
	"strconv"
	"strings"
	"time"
)

// parse.go - field parsers shared by the source adapters
//
// Provider payloads are hand-maintained feeds: numbers arrive as strings or
// numbers, timestamps in half a dozen layouts. Every parser here returns a
// zero value plus ok=false instead of an error so a bad field drops only its
// own record.

func trimSpace(s string) string {
	return strings.TrimSpace(s)
}

func parseFloat64(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// kHzThreshold separates kHz from MHz values in feeds that mix units.
const kHzThreshold = 1000.0

// ParseFreqKHz parses a kHz value and returns MHz.
func ParseFreqKHz(raw string) (float64, bool) {
	v, err := parseFloat64(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v / 1000, true
}

// ParseFreqAuto parses a frequency that may be in kHz or MHz and returns MHz.
// Only a value below 1000 written with a decimal point is taken as MHz;
// everything else is kHz, so "475" is the 630 m band and "14.074" is 20 m.
func ParseFreqAuto(raw string) (float64, bool) {
	v, err := parseFloat64(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	if v < kHzThreshold && strings.Contains(raw, ".") {
		return v, true
	}
	return v / 1000, true
}

// Layouts accepted for timestamps that carry a date. Zone-less layouts are
// read as UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"1504 2006-01-02",
	"15:04 2006-01-02",
	"2006-01-02 15:04",
	"15:04:05",
	"15:04",
}

// NormalizeTime converts a provider timestamp to "HH:MMz". It returns "" when
// the value is empty or unparseable.
func NormalizeTime(raw string) string {
	t, ok := ParseTime(raw)
	if !ok {
		return ""
	}
	return t.UTC().Format("15:04") + "z"
}

// ParseTime parses any of the accepted provider timestamp forms. Values
// without a date are placed on 0000-01-01; callers only use the clock part.
func ParseTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	if digits := strings.TrimRight(s, "Zz"); isDigits(digits) {
		switch {
		case len(digits) == 4:
			return clockTime(digits[:2], digits[2:])
		case len(digits) >= 9 && len(digits) <= 11:
			secs, err := strconv.ParseInt(digits, 10, 64)
			if err != nil {
				return time.Time{}, false
			}
			return time.Unix(secs, 0).UTC(), true
		case len(digits) == 13:
			ms, err := strconv.ParseInt(digits, 10, 64)
			if err != nil {
				return time.Time{}, false
			}
			return time.UnixMilli(ms).UTC(), true
		}
		return time.Time{}, false
	}

	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func clockTime(hh, mm string) (time.Time, bool) {
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h > 23 || m > 59 {
		return time.Time{}, false
	}
	return time.Date(0, 1, 1, h, m, 0, 0, time.UTC), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
