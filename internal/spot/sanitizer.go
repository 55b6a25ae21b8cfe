package spot

import "strings"

// sanitizer.go - callsign cleanup for provider-supplied calls
//
//   - \\ becomes / (escaped portable separators: EA5\\DL2OBT -> EA5/DL2OBT)
//   - ", ' and lone \ are stripped
//   - / is kept for compound calls (G0UPL/P, DL/ON4KHG/P)
//   - surrounding whitespace is trimmed and letters are upper-cased

const (
	charDoubleQuote = '"'
	charSingleQuote = '\''
	charBackslash   = '\\'
)

// NormalizeCallsign sanitizes and upper-cases a callsign. It returns "" when
// nothing usable remains.
func NormalizeCallsign(raw string) string {
	call := strings.ToUpper(strings.TrimSpace(raw))
	if needsSanitization(call) {
		call = sanitizeBytes(call)
	}
	if !ValidateCallsign(call) {
		return ""
	}
	return call
}

func needsSanitization(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == charDoubleQuote || c == charSingleQuote || c == charBackslash || c == ' ' {
			return true
		}
	}
	return false
}

func sanitizeBytes(s string) string {
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == charBackslash && i+1 < len(s) && s[i+1] == charBackslash {
			buf = append(buf, '/')
			i++
			continue
		}
		if c == charDoubleQuote || c == charSingleQuote || c == charBackslash || c == ' ' {
			continue
		}
		buf = append(buf, c)
	}
	return string(buf)
}

// ValidateCallsign is a sanity check, not full ITU validation: 1-20
// characters drawn from A-Z, 0-9, '/' and '-', with at least one letter or
// digit.
func ValidateCallsign(call string) bool {
	if len(call) == 0 || len(call) > 20 {
		return false
	}

	hasAlphaNum := false
	for i := 0; i < len(call); i++ {
		c := call[i]
		switch {
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			hasAlphaNum = true
		case c == '/' || c == '-':
		default:
			return false
		}
	}
	return hasAlphaNum
}
