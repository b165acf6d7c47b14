package fusion

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// EstimateHeartRate derives beats per minute from one PPG window: band-pass
// to the cardiac band, detect systolic peaks, convert the plausible
// peak-to-peak intervals to a mean period. Every failed precondition comes
// back as an explicit undefined value; a window with a loose or saturated
// sensor must read as "no heart rate", never as zero BPM.
func EstimateHeartRate(sig []float64, p PPGParams) FeatureValue {
	if len(sig) == 0 {
		return UndefinedValue(ReasonNoData)
	}
	if float64(len(sig)) < p.MinDuration.Seconds()*p.Rate {
		return UndefinedValue(ReasonWindowTooShort)
	}

	sections, err := bandpass(p.FilterOrder, p.Filter, p.Rate)
	if err != nil {
		return UndefinedValue(ReasonNoData)
	}
	filtered := filtfilt(sections, sig)

	sd := stat.PopStdDev(filtered, nil)
	if sd < epsilon {
		return UndefinedValue(ReasonFlatSignal)
	}

	minDistance := int(p.PeakDistanceFactor * p.Rate)
	peaks := findPeaks(filtered, p.PeakHeightFactor*sd, minDistance)
	if len(peaks) < 2 {
		return UndefinedValue(ReasonTooFewPeaks)
	}

	minIBI := p.MinInterval.Seconds()
	maxIBI := p.MaxInterval.Seconds()
	var sum float64
	var n int
	for i := 1; i < len(peaks); i++ {
		ibi := float64(peaks[i]-peaks[i-1]) / p.Rate
		if ibi > minIBI && ibi < maxIBI {
			sum += ibi
			n++
		}
	}
	if n == 0 {
		return UndefinedValue(ReasonNoValidInterval)
	}
	return DefinedValue(60 / (sum / float64(n)))
}

// findPeaks returns the indices of local maxima at least minHeight tall and
// separated by at least minDistance samples, in ascending order. Plateaus
// count once at their midpoint. When two candidates fall inside the
// distance, the taller one wins.
func findPeaks(x []float64, minHeight float64, minDistance int) []int {
	var candidates []int
	for i := 1; i < len(x)-1; {
		if x[i-1] >= x[i] {
			i++
			continue
		}
		// Rising edge at i; walk any plateau.
		j := i
		for j < len(x)-1 && x[j+1] == x[j] {
			j++
		}
		if j < len(x)-1 && x[j+1] < x[j] {
			mid := (i + j) / 2
			if x[mid] >= minHeight {
				candidates = append(candidates, mid)
			}
		}
		i = j + 1
	}
	if minDistance < 1 || len(candidates) < 2 {
		return candidates
	}

	// Enforce spacing tallest-first so a large peak suppresses smaller
	// neighbors rather than the other way round. A peak that has already
	// been suppressed gets no vote.
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return x[candidates[order[a]]] > x[candidates[order[b]]]
	})

	keep := make([]bool, len(candidates))
	for i := range keep {
		keep[i] = true
	}
	for _, oi := range order {
		if !keep[oi] {
			continue
		}
		for k := oi - 1; k >= 0 && candidates[oi]-candidates[k] < minDistance; k-- {
			keep[k] = false
		}
		for k := oi + 1; k < len(candidates) && candidates[k]-candidates[oi] < minDistance; k++ {
			keep[k] = false
		}
	}

	var peaks []int
	for i, c := range candidates {
		if keep[i] {
			peaks = append(peaks, c)
		}
	}
	return peaks
}
