package fusion

import "gonum.org/v1/gonum/stat"

// MovementMetric summarizes motion over an accelerometer window as the
// standard deviation of the vector norm. At rest the norm is pinned to the
// constant gravity component regardless of orientation, so head or wrist
// movement shows up directly as spread. Undefined on an empty window; a
// single sample has zero spread by definition.
func MovementMetric(win []VectorSample) FeatureValue {
	if len(win) == 0 {
		return UndefinedValue(ReasonEmptyWindow)
	}
	if len(win) == 1 {
		return DefinedValue(0)
	}
	norms := make([]float64, len(win))
	for i, v := range win {
		norms[i] = v.Norm()
	}
	return DefinedValue(stat.PopStdDev(norms, nil))
}
