package spot

// bands.go - amateur band allocations used to classify spot frequencies
//
// The table is sorted by frequency and searched with a binary search; it is
// read-only and safe for concurrent use.

// Band is one amateur allocation.
type Band struct {
	Name       string  `json:"name"`
	MinFreqMHz float64 `json:"minMHz"`
	MaxFreqMHz float64 `json:"maxMHz"`
}

var amateurBands = []Band{
	{Name: "2190m", MinFreqMHz: 0.1357, MaxFreqMHz: 0.1378},
	{Name: "630m", MinFreqMHz: 0.472, MaxFreqMHz: 0.479},
	{Name: "160m", MinFreqMHz: 1.800, MaxFreqMHz: 2.000},
	{Name: "80m", MinFreqMHz: 3.500, MaxFreqMHz: 4.000},
	{Name: "60m", MinFreqMHz: 5.250, MaxFreqMHz: 5.450},
	{Name: "40m", MinFreqMHz: 7.000, MaxFreqMHz: 7.300},
	{Name: "30m", MinFreqMHz: 10.100, MaxFreqMHz: 10.150},
	{Name: "20m", MinFreqMHz: 14.000, MaxFreqMHz: 14.350},
	{Name: "17m", MinFreqMHz: 18.068, MaxFreqMHz: 18.168},
	{Name: "15m", MinFreqMHz: 21.000, MaxFreqMHz: 21.450},
	{Name: "12m", MinFreqMHz: 24.890, MaxFreqMHz: 24.990},
	{Name: "10m", MinFreqMHz: 28.000, MaxFreqMHz: 29.700},
	{Name: "6m", MinFreqMHz: 50.000, MaxFreqMHz: 54.000},
	{Name: "4m", MinFreqMHz: 70.000, MaxFreqMHz: 71.000},
	{Name: "2m", MinFreqMHz: 144.000, MaxFreqMHz: 148.000},
	{Name: "1.25m", MinFreqMHz: 222.000, MaxFreqMHz: 225.000},
	{Name: "70cm", MinFreqMHz: 420.000, MaxFreqMHz: 450.000},
	{Name: "33cm", MinFreqMHz: 902.000, MaxFreqMHz: 928.000},
	{Name: "23cm", MinFreqMHz: 1240.000, MaxFreqMHz: 1300.000},
}

// BandForFreq returns the band containing freqMHz (edges inclusive).
func BandForFreq(freqMHz float64) (string, bool) {
	left, right := 0, len(amateurBands)-1

	for left <= right {
		mid := (left + right) / 2
		b := &amateurBands[mid]

		if freqMHz >= b.MinFreqMHz && freqMHz <= b.MaxFreqMHz {
			return b.Name, true
		}
		if freqMHz < b.MinFreqMHz {
			right = mid - 1
		} else {
			left = mid + 1
		}
	}
	return "", false
}

// Bands returns a copy of the band table.
func Bands() []Band {
	out := make([]Band, len(amateurBands))
	copy(out, amateurBands)
	return out
}
