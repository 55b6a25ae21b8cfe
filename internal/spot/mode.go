package spot

import (
	"strings"
	"unicode"
)

// Modes lists the detectable modes in match priority order.
var Modes = []string{"CW", "SSB", "RTTY", "FT8", "FT4", "PSK", "AM", "FM"}

// Comment tokens that imply one of Modes.
var modeAliases = map[string]string{
	"USB":    "SSB",
	"LSB":    "SSB",
	"PSK31":  "PSK",
	"PSK63":  "PSK",
	"BPSK31": "PSK",
	"BPSK":   "PSK",
}

// DetectMode infers the mode from free comment text. Keywords must appear as
// whole tokens ("CW", not "CWOPS"); when several are present the first in
// Modes order wins.
func DetectMode(comment string) (string, bool) {
	if comment == "" {
		return "", false
	}

	tokens := strings.FieldsFunc(strings.ToUpper(comment), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	present := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if alias, ok := modeAliases[tok]; ok {
			tok = alias
		}
		present[tok] = true
	}

	for _, m := range Modes {
		if present[m] {
			return m, true
		}
	}
	return "", false
}
