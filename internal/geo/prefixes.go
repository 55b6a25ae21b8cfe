package geo

import "strings"

// prefixes.go - callsign prefix to zone/continent table
//
// Lookup order: longest prefix first (4, 3, 2, 1 characters) against
// prefixIndex, then the first character against singleCharZones. Portable
// indicators ("VK2/W1ABC", "W1ABC/P") are reduced to the part that carries
// the operating prefix before lookup.

// Zone is the location metadata derived from a callsign prefix.
type Zone struct {
	Entity    string `json:"entity"`
	CQ        int    `json:"cqZone"`
	ITU       int    `json:"ituZone"`
	Continent string `json:"continent"`
	Loc       LatLon `json:"loc"`
}

type prefixEntry struct {
	prefixes []string
	zone     Zone
}

// Entity centroids are approximate; they only anchor path endpoints when a
// spot carries no coordinates of its own.
var prefixEntries = []prefixEntry{
	// North America
	{[]string{"K1", "W1", "N1", "AA1", "K2", "W2", "N2", "AA2", "K3", "W3", "N3", "AA3", "K4", "W4", "N4", "AA4"},
		Zone{"United States", 5, 8, "NA", LatLon{39.0, -77.0}}},
	{[]string{"K8", "W8", "N8", "AA8"}, Zone{"United States", 4, 8, "NA", LatLon{40.4, -82.9}}},
	{[]string{"K5", "W5", "N5", "AA5", "K9", "W9", "N9", "AA9", "K0", "W0", "N0", "AA0"},
		Zone{"United States", 4, 7, "NA", LatLon{38.5, -95.0}}},
	{[]string{"K6", "W6", "N6", "AA6", "K7", "W7", "N7", "AA7"}, Zone{"United States", 3, 6, "NA", LatLon{38.0, -118.0}}},
	{[]string{"KL7", "AL7", "NL7", "WL7"}, Zone{"Alaska", 1, 1, "NA", LatLon{61.2, -149.9}}},
	{[]string{"KH6", "AH6", "NH6", "WH6"}, Zone{"Hawaii", 31, 61, "OC", LatLon{21.3, -157.8}}},
	{[]string{"KH2", "AH2", "NH2", "WH2"}, Zone{"Guam", 27, 64, "OC", LatLon{13.5, 144.8}}},
	{[]string{"KP4", "NP4", "WP4", "KP3", "NP3", "WP3"}, Zone{"Puerto Rico", 8, 11, "NA", LatLon{18.2, -66.5}}},
	{[]string{"VE", "VA", "VO1", "VO2"}, Zone{"Canada", 5, 9, "NA", LatLon{46.0, -66.0}}},
	{[]string{"VE3", "VA3"}, Zone{"Canada", 4, 4, "NA", LatLon{44.0, -79.5}}},
	{[]string{"VE4", "VA4", "VE5", "VA5"}, Zone{"Canada", 4, 3, "NA", LatLon{51.0, -101.0}}},
	{[]string{"VE6", "VA6", "VE7", "VA7"}, Zone{"Canada", 3, 2, "NA", LatLon{51.0, -120.0}}},
	{[]string{"VY1"}, Zone{"Canada", 1, 2, "NA", LatLon{62.5, -135.0}}},
	{[]string{"XE", "XF", "4A"}, Zone{"Mexico", 6, 10, "NA", LatLon{23.0, -102.0}}},
	{[]string{"CO", "CM", "T4"}, Zone{"Cuba", 8, 11, "NA", LatLon{22.0, -80.0}}},
	{[]string{"TI"}, Zone{"Costa Rica", 7, 11, "NA", LatLon{10.0, -84.0}}},
	{[]string{"HI"}, Zone{"Dominican Republic", 8, 11, "NA", LatLon{18.8, -70.2}}},
	{[]string{"VP9"}, Zone{"Bermuda", 5, 11, "NA", LatLon{32.3, -64.8}}},

	// South America
	{[]string{"PY", "PP", "PR", "PS", "PT", "PU", "PV", "PW", "PX", "ZV", "ZW", "ZX", "ZY", "ZZ"},
		Zone{"Brazil", 11, 15, "SA", LatLon{-15.8, -47.9}}},
	{[]string{"LU", "LO", "LP", "LQ", "LR", "LS", "LT", "LV", "LW", "AY", "AZ"},
		Zone{"Argentina", 13, 14, "SA", LatLon{-34.6, -58.4}}},
	{[]string{"CE", "CA", "CB", "CC", "CD", "XQ", "XR", "3G"}, Zone{"Chile", 12, 14, "SA", LatLon{-33.4, -70.6}}},
	{[]string{"CX", "CV", "CW"}, Zone{"Uruguay", 13, 14, "SA", LatLon{-34.9, -56.2}}},
	{[]string{"HK", "HJ", "5J", "5K"}, Zone{"Colombia", 9, 12, "SA", LatLon{4.6, -74.1}}},
	{[]string{"YV", "YW", "YX", "YY", "4M"}, Zone{"Venezuela", 9, 12, "SA", LatLon{10.5, -66.9}}},
	{[]string{"OA", "OB", "OC", "4T"}, Zone{"Peru", 10, 12, "SA", LatLon{-12.0, -77.0}}},
	{[]string{"HC", "HD"}, Zone{"Ecuador", 10, 12, "SA", LatLon{-0.2, -78.5}}},
	{[]string{"CP"}, Zone{"Bolivia", 10, 12, "SA", LatLon{-16.5, -68.1}}},
	{[]string{"ZP"}, Zone{"Paraguay", 11, 14, "SA", LatLon{-25.3, -57.6}}},

	// Europe
	{[]string{"G", "M", "2E", "2M", "GX"}, Zone{"England", 14, 27, "EU", LatLon{52.0, -1.5}}},
	{[]string{"GM", "MM", "2M0"}, Zone{"Scotland", 14, 27, "EU", LatLon{56.5, -4.2}}},
	{[]string{"GW", "MW", "2W"}, Zone{"Wales", 14, 27, "EU", LatLon{52.4, -3.6}}},
	{[]string{"GI", "MI", "2I"}, Zone{"Northern Ireland", 14, 27, "EU", LatLon{54.6, -6.7}}},
	{[]string{"EI", "EJ"}, Zone{"Ireland", 14, 27, "EU", LatLon{53.3, -8.0}}},
	{[]string{"F", "TM"}, Zone{"France", 14, 27, "EU", LatLon{46.5, 2.5}}},
	{[]string{"DL", "DA", "DB", "DC", "DD", "DF", "DG", "DH", "DJ", "DK", "DM", "DN", "DO", "DP", "DQ", "DR"},
		Zone{"Germany", 14, 28, "EU", LatLon{51.0, 10.0}}},
	{[]string{"I", "IK", "IZ", "IU", "IW", "IN3"}, Zone{"Italy", 15, 28, "EU", LatLon{42.5, 12.5}}},
	{[]string{"EA", "EB", "EC", "ED", "EE", "EF", "EG", "EH"}, Zone{"Spain", 14, 37, "EU", LatLon{40.4, -3.7}}},
	{[]string{"EA8", "EB8", "EC8", "ED8"}, Zone{"Canary Islands", 33, 36, "AF", LatLon{28.1, -15.4}}},
	{[]string{"CT", "CQ", "CR", "CS"}, Zone{"Portugal", 14, 37, "EU", LatLon{38.7, -9.1}}},
	{[]string{"PA", "PB", "PC", "PD", "PE", "PF", "PG", "PH", "PI"}, Zone{"Netherlands", 14, 27, "EU", LatLon{52.3, 5.5}}},
	{[]string{"ON", "OO", "OP", "OQ", "OR", "OS", "OT"}, Zone{"Belgium", 14, 27, "EU", LatLon{50.8, 4.4}}},
	{[]string{"LX"}, Zone{"Luxembourg", 14, 27, "EU", LatLon{49.6, 6.1}}},
	{[]string{"HB", "HB9"}, Zone{"Switzerland", 14, 28, "EU", LatLon{46.8, 8.2}}},
	{[]string{"OE"}, Zone{"Austria", 15, 28, "EU", LatLon{47.5, 14.5}}},
	{[]string{"OK", "OL"}, Zone{"Czech Republic", 15, 28, "EU", LatLon{50.0, 15.0}}},
	{[]string{"OM"}, Zone{"Slovakia", 15, 28, "EU", LatLon{48.7, 19.5}}},
	{[]string{"SP", "SN", "SO", "SQ", "SR", "3Z", "HF"}, Zone{"Poland", 15, 28, "EU", LatLon{52.0, 19.0}}},
	{[]string{"HA", "HG"}, Zone{"Hungary", 15, 28, "EU", LatLon{47.2, 19.5}}},
	{[]string{"YO", "YP", "YQ", "YR"}, Zone{"Romania", 20, 28, "EU", LatLon{45.8, 24.9}}},
	{[]string{"LZ"}, Zone{"Bulgaria", 20, 28, "EU", LatLon{42.7, 25.3}}},
	{[]string{"SV", "SW", "SX", "SY", "SZ", "J4"}, Zone{"Greece", 20, 28, "EU", LatLon{38.0, 23.7}}},
	{[]string{"9A"}, Zone{"Croatia", 15, 28, "EU", LatLon{45.2, 15.5}}},
	{[]string{"S5"}, Zone{"Slovenia", 15, 28, "EU", LatLon{46.1, 14.8}}},
	{[]string{"YU", "YT"}, Zone{"Serbia", 15, 28, "EU", LatLon{44.0, 20.9}}},
	{[]string{"OH"}, Zone{"Finland", 15, 18, "EU", LatLon{62.0, 25.5}}},
	{[]string{"SM", "SA", "SB", "SC", "SD", "SE", "SF", "SG", "SH", "SI", "SJ", "SK", "SL", "7S", "8S"},
		Zone{"Sweden", 14, 18, "EU", LatLon{62.0, 15.0}}},
	{[]string{"LA", "LB", "LC", "LG", "LI", "LJ", "LN"}, Zone{"Norway", 14, 18, "EU", LatLon{61.0, 9.0}}},
	{[]string{"OZ", "OU", "OV", "5P", "5Q"}, Zone{"Denmark", 14, 18, "EU", LatLon{56.0, 10.0}}},
	{[]string{"TF"}, Zone{"Iceland", 40, 17, "EU", LatLon{64.1, -21.9}}},
	{[]string{"ES"}, Zone{"Estonia", 15, 29, "EU", LatLon{58.6, 25.0}}},
	{[]string{"YL"}, Zone{"Latvia", 15, 29, "EU", LatLon{56.9, 24.6}}},
	{[]string{"LY"}, Zone{"Lithuania", 15, 29, "EU", LatLon{55.2, 23.9}}},
	{[]string{"UR", "US", "UT", "UU", "UV", "UW", "UX", "UY", "UZ", "EM", "EN", "EO"},
		Zone{"Ukraine", 16, 29, "EU", LatLon{49.0, 31.0}}},
	{[]string{"EW", "EU"}, Zone{"Belarus", 16, 29, "EU", LatLon{53.9, 27.6}}},
	{[]string{"UA", "RA", "RK", "RN", "RU", "RV", "RW", "RX", "RZ", "R"},
		Zone{"European Russia", 16, 29, "EU", LatLon{55.8, 37.6}}},
	{[]string{"UA9", "RA9", "RK9", "RN9", "RU9", "RV9", "RW9", "RX9", "RZ9", "R9"},
		Zone{"Asiatic Russia", 17, 30, "AS", LatLon{55.0, 73.4}}},
	{[]string{"UA0", "RA0", "RK0", "RN0", "RU0", "RV0", "RW0", "RX0", "RZ0", "R0"},
		Zone{"Asiatic Russia", 19, 33, "AS", LatLon{56.0, 118.0}}},

	// Asia
	{[]string{"JA", "JE", "JF", "JG", "JH", "JI", "JJ", "JK", "JL", "JM", "JN", "JO", "JP", "JQ", "JR", "JS", "7J", "7K", "7L", "7M", "7N", "8J", "8N"},
		Zone{"Japan", 25, 45, "AS", LatLon{35.7, 139.7}}},
	{[]string{"HL", "DS", "DT", "6K", "6L", "6M", "6N"}, Zone{"South Korea", 25, 44, "AS", LatLon{37.6, 127.0}}},
	{[]string{"BY", "BA", "BD", "BG", "BH", "BI", "BT", "BZ"}, Zone{"China", 24, 44, "AS", LatLon{39.9, 116.4}}},
	{[]string{"BV", "BM", "BN", "BO", "BP", "BQ", "BU", "BW", "BX"}, Zone{"Taiwan", 24, 44, "AS", LatLon{25.0, 121.5}}},
	{[]string{"VR"}, Zone{"Hong Kong", 24, 44, "AS", LatLon{22.3, 114.2}}},
	{[]string{"VU", "AT", "AU", "AV", "AW", "8T", "8U"}, Zone{"India", 22, 41, "AS", LatLon{20.6, 78.9}}},
	{[]string{"4X", "4Z"}, Zone{"Israel", 20, 39, "AS", LatLon{31.8, 35.2}}},
	{[]string{"TA", "TB", "TC", "YM"}, Zone{"Turkey", 20, 39, "AS", LatLon{39.9, 32.9}}},
	{[]string{"A6"}, Zone{"United Arab Emirates", 21, 39, "AS", LatLon{24.5, 54.4}}},
	{[]string{"A7"}, Zone{"Qatar", 21, 39, "AS", LatLon{25.3, 51.5}}},
	{[]string{"A4"}, Zone{"Oman", 21, 39, "AS", LatLon{23.6, 58.4}}},
	{[]string{"HZ", "7Z", "8Z"}, Zone{"Saudi Arabia", 21, 39, "AS", LatLon{24.7, 46.7}}},
	{[]string{"EP", "EQ"}, Zone{"Iran", 21, 40, "AS", LatLon{35.7, 51.4}}},
	{[]string{"UN", "UO", "UP", "UQ"}, Zone{"Kazakhstan", 17, 30, "AS", LatLon{43.2, 76.9}}},
	{[]string{"HS", "E2"}, Zone{"Thailand", 26, 49, "AS", LatLon{13.8, 100.5}}},
	{[]string{"XV", "3W"}, Zone{"Vietnam", 26, 49, "AS", LatLon{21.0, 105.8}}},
	{[]string{"9M2", "9M4", "9W2"}, Zone{"West Malaysia", 28, 54, "AS", LatLon{3.1, 101.7}}},
	{[]string{"9V"}, Zone{"Singapore", 28, 54, "AS", LatLon{1.35, 103.8}}},
	{[]string{"4S"}, Zone{"Sri Lanka", 22, 41, "AS", LatLon{6.9, 79.9}}},

	// Oceania
	{[]string{"VK", "AX"}, Zone{"Australia", 30, 59, "OC", LatLon{-33.9, 151.2}}},
	{[]string{"VK6", "AX6"}, Zone{"Australia", 29, 58, "OC", LatLon{-31.9, 115.9}}},
	{[]string{"VK8", "AX8"}, Zone{"Australia", 29, 55, "OC", LatLon{-12.5, 130.8}}},
	{[]string{"ZL", "ZM"}, Zone{"New Zealand", 32, 60, "OC", LatLon{-41.3, 174.8}}},
	{[]string{"DU", "DV", "DW", "DX", "DY", "DZ", "4D", "4E", "4F", "4G", "4H", "4I"},
		Zone{"Philippines", 27, 50, "OC", LatLon{14.6, 121.0}}},
	{[]string{"YB", "YC", "YD", "YE", "YF", "YG", "YH", "7A", "7B", "7C", "7D", "7E", "7F", "7G", "7H", "7I", "8A", "8B", "8C", "8D", "8E", "8F", "8G", "8H", "8I"},
		Zone{"Indonesia", 28, 54, "OC", LatLon{-6.2, 106.8}}},
	{[]string{"P2"}, Zone{"Papua New Guinea", 28, 51, "OC", LatLon{-9.4, 147.2}}},
	{[]string{"FK"}, Zone{"New Caledonia", 32, 56, "OC", LatLon{-22.3, 166.5}}},
	{[]string{"3D2"}, Zone{"Fiji", 32, 56, "OC", LatLon{-18.1, 178.4}}},

	// Africa
	{[]string{"ZS", "ZR", "ZT", "ZU"}, Zone{"South Africa", 38, 57, "AF", LatLon{-26.2, 28.0}}},
	{[]string{"5Z", "5Y"}, Zone{"Kenya", 37, 48, "AF", LatLon{-1.3, 36.8}}},
	{[]string{"CN", "5C", "5D", "5E", "5F", "5G"}, Zone{"Morocco", 33, 37, "AF", LatLon{34.0, -6.8}}},
	{[]string{"SU", "SS", "6A", "6B"}, Zone{"Egypt", 34, 38, "AF", LatLon{30.0, 31.2}}},
	{[]string{"5N", "5O"}, Zone{"Nigeria", 35, 46, "AF", LatLon{9.1, 7.5}}},
	{[]string{"9G"}, Zone{"Ghana", 35, 46, "AF", LatLon{5.6, -0.2}}},
	{[]string{"6W"}, Zone{"Senegal", 35, 46, "AF", LatLon{14.7, -17.4}}},
	{[]string{"7X"}, Zone{"Algeria", 33, 37, "AF", LatLon{36.8, 3.1}}},
	{[]string{"3V", "TS"}, Zone{"Tunisia", 33, 37, "AF", LatLon{36.8, 10.2}}},
	{[]string{"ET", "9E", "9F"}, Zone{"Ethiopia", 37, 48, "AF", LatLon{9.0, 38.7}}},
	{[]string{"D2", "D3"}, Zone{"Angola", 36, 52, "AF", LatLon{-8.8, 13.2}}},
	{[]string{"V5"}, Zone{"Namibia", 38, 57, "AF", LatLon{-22.6, 17.1}}},
}

// singleCharZones is consulted only when no table prefix matches.
var singleCharZones = map[byte]Zone{
	'A': {"United States", 5, 8, "NA", LatLon{39.0, -77.0}},
	'K': {"United States", 5, 8, "NA", LatLon{39.0, -77.0}},
	'N': {"United States", 5, 8, "NA", LatLon{39.0, -77.0}},
	'W': {"United States", 5, 8, "NA", LatLon{39.0, -77.0}},
	'B': {"China", 24, 44, "AS", LatLon{39.9, 116.4}},
	'D': {"Germany", 14, 28, "EU", LatLon{51.0, 10.0}},
	'F': {"France", 14, 27, "EU", LatLon{46.5, 2.5}},
	'G': {"England", 14, 27, "EU", LatLon{52.0, -1.5}},
	'I': {"Italy", 15, 28, "EU", LatLon{42.5, 12.5}},
	'J': {"Japan", 25, 45, "AS", LatLon{35.7, 139.7}},
	'M': {"England", 14, 27, "EU", LatLon{52.0, -1.5}},
	'R': {"European Russia", 16, 29, "EU", LatLon{55.8, 37.6}},
	'U': {"European Russia", 16, 29, "EU", LatLon{55.8, 37.6}},
}

var prefixIndex = buildPrefixIndex(prefixEntries)

const maxPrefixLen = 4

func buildPrefixIndex(entries []prefixEntry) map[string]Zone {
	index := make(map[string]Zone, len(entries)*4)
	for _, e := range entries {
		for _, p := range e.prefixes {
			index[p] = e.zone
		}
	}
	return index
}

// CallsignZone resolves a callsign to its zone by longest-prefix match.
// ok is false when neither the prefix table nor the single-character
// fallback knows the prefix.
func CallsignZone(call string) (zone Zone, ok bool) {
	base := prefixPart(call)
	if base == "" {
		return Zone{}, false
	}

	for l := min(maxPrefixLen, len(base)); l >= 1; l-- {
		if z, found := prefixIndex[base[:l]]; found {
			return z, true
		}
	}

	if z, found := singleCharZones[base[0]]; found {
		return z, true
	}
	return Zone{}, false
}

// Suffixes that mark an operating condition rather than a location.
var operatingSuffixes = map[string]bool{
	"P": true, "M": true, "MM": true, "AM": true, "QRP": true, "A": true, "LH": true, "B": true,
}

// prefixPart reduces a compound callsign to the segment that carries the
// operating prefix: "VK2/W1ABC" -> "VK2", "W1ABC/P" -> "W1ABC",
// "DL/ON4KHG/P" -> "DL".
func prefixPart(call string) string {
	call = strings.ToUpper(strings.TrimSpace(call))
	if !strings.Contains(call, "/") {
		return call
	}

	var parts []string
	for _, p := range strings.Split(call, "/") {
		if p == "" || operatingSuffixes[p] || isDigits(p) {
			continue
		}
		parts = append(parts, p)
	}

	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}

	best := parts[0]
	for _, p := range parts[1:] {
		if len(p) < len(best) {
			best = p
		}
	}
	return best
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
