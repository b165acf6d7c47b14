package fusion

import "github.com/biotrace-data/vitals.monitor/internal/monitoring"

// State is the externally visible classification label. Consumers only ever
// see one of these fixed values, never a raw error.
type State string

const (
	StateInitializing   State = "Initializing"
	StateCalm           State = "Calm"
	StateWarning        State = "Warning"
	StateStress         State = "Stress"
	StateDrowsy         State = "Drowsy"
	StateUncertainNaN   State = "Uncertain (NaN)"
	StateUncertainStale State = "Uncertain (Stale Data)"
	StateUncertainOther State = "Uncertain (Other)"
)

// Trend is the coarse market direction supplied by an external tracker and
// folded into the position suggestion.
type Trend string

const (
	TrendNone Trend = ""
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// Position is the stance suggested alongside the official state.
type Position string

const (
	PositionNone  Position = ""
	PositionLong  Position = "long"
	PositionShort Position = "short"
	PositionHold  Position = "hold"
	PositionFlat  Position = "flat"
)

// ThresholdParams sets the per-feature deviation multipliers used when a
// cycle's features are compared against the calibrated baseline.
type ThresholdParams struct {
	// RatioK flags the ratio as low below median - RatioK*std.
	RatioK float64

	// HeartRateK, MovementK and ThetaK flag their features as high above
	// median + K*std.
	HeartRateK float64
	MovementK  float64
	ThetaK     float64

	// ExpressionStress is the weighted expression score above which the
	// expression counts as a stress cue.
	ExpressionStress float64
}

// DefaultThresholdParams returns the hand-tuned stock multipliers.
func DefaultThresholdParams() ThresholdParams {
	return ThresholdParams{
		RatioK:           1.5,
		HeartRateK:       1.5,
		MovementK:        1.5,
		ThetaK:           1.5,
		ExpressionStress: 0.6,
	}
}

// CycleFeatures carries one processing cycle's inputs into classification.
type CycleFeatures struct {
	Ratio     FeatureValue
	HeartRate FeatureValue
	Theta     FeatureValue
	Movement  FeatureValue

	// ExpressionScore is the weighted stress score; valid only when
	// ExpressionOK is set (the sidecar may be absent or down).
	ExpressionScore float64
	ExpressionOK    bool
}

// CycleFlags are the per-cycle threshold comparisons, kept on the published
// update for logging and the API. An undefined feature or a missing
// baseline field never raises a flag.
type CycleFlags struct {
	RatioLow         bool `json:"ratio_low"`
	HeartRateHigh    bool `json:"hr_high"`
	MovementHigh     bool `json:"movement_high"`
	ThetaHigh        bool `json:"theta_high"`
	ExpressionStress bool `json:"expression_stress"`
}

// ExpressionScore collapses a label-probability map into a scalar stress
// score using the configured per-label weights. Labels without a weight
// contribute nothing.
func ExpressionScore(probs, weights map[string]float64) float64 {
	var score float64
	for label, p := range probs {
		score += p * weights[label]
	}
	return score
}

// Classifier turns per-cycle features into a debounced official state. It
// is owned by the processing loop and is not safe for concurrent use.
type Classifier struct {
	thresholds ThresholdParams
	history    *stateHistory
	official   State
}

// NewClassifier starts in Initializing with an empty vote history.
func NewClassifier(t ThresholdParams, persistence int) *Classifier {
	return &Classifier{
		thresholds: t,
		history:    newStateHistory(persistence),
		official:   StateInitializing,
	}
}

// Flags computes the threshold booleans for one cycle against the baseline.
func (c *Classifier) Flags(f CycleFeatures, b Baseline) CycleFlags {
	var fl CycleFlags
	if f.Ratio.Defined && b.Ratio != nil {
		fl.RatioLow = f.Ratio.Value < b.Ratio.Median-c.thresholds.RatioK*b.Ratio.Std
	}
	if f.HeartRate.Defined && b.HeartRate != nil {
		fl.HeartRateHigh = f.HeartRate.Value > b.HeartRate.Median+c.thresholds.HeartRateK*b.HeartRate.Std
	}
	if f.Movement.Defined && b.Movement != nil {
		fl.MovementHigh = f.Movement.Value > b.Movement.Median+c.thresholds.MovementK*b.Movement.Std
	}
	if f.Theta.Defined && b.Theta != nil {
		fl.ThetaHigh = f.Theta.Value > b.Theta.Median+c.thresholds.ThetaK*b.Theta.Std
	}
	fl.ExpressionStress = f.ExpressionOK && f.ExpressionScore > c.thresholds.ExpressionStress
	return fl
}

// Tentative applies the precedence chain for a single cycle. The order is
// hand-tuned and deliberate: missing inputs win over everything, drowsiness
// over stress, combined cues over single cues.
func (c *Classifier) Tentative(f CycleFeatures, fl CycleFlags, b Baseline) State {
	switch {
	case !f.Ratio.Defined || !f.HeartRate.Defined:
		return StateUncertainNaN
	case b.Ratio == nil || b.HeartRate == nil:
		return StateInitializing
	case fl.ThetaHigh && !fl.MovementHigh:
		return StateDrowsy
	case (fl.RatioLow && fl.HeartRateHigh) || (fl.ExpressionStress && (fl.HeartRateHigh || fl.MovementHigh)):
		return StateStress
	case fl.RatioLow || fl.HeartRateHigh:
		return StateWarning
	case !fl.ThetaHigh && !fl.MovementHigh && !fl.ExpressionStress:
		return StateCalm
	default:
		return StateUncertainOther
	}
}

// Observe records one cycle's tentative state and applies the persistence
// rule: the official state changes only when the whole vote window is full,
// unanimous, and different from the current official state.
func (c *Classifier) Observe(tentative State) State {
	c.history.add(tentative)
	if next, ok := c.history.unanimous(); ok && next != c.official {
		monitoring.Logf("state change: %s -> %s", c.official, next)
		c.official = next
	}
	return c.official
}

// MarkStale forces the official state to the stale label and clears the
// vote history, so recovery requires a full fresh window of agreement.
func (c *Classifier) MarkStale() State {
	c.history.clear()
	if c.official != StateUncertainStale {
		monitoring.Logf("state change: %s -> %s (stale input)", c.official, StateUncertainStale)
		c.official = StateUncertainStale
	}
	return c.official
}

// Official returns the current debounced state.
func (c *Classifier) Official() State {
	return c.official
}

// Agreement reports the fraction of the vote window that matches the
// official state, used as a cheap confidence proxy for the suggestion.
func (c *Classifier) Agreement() float64 {
	return c.history.agreement(c.official)
}

// stateHistory is a fixed-length ring of recent tentative states used for
// persistence voting.
type stateHistory struct {
	votes []State
	head  int // next write position
	size  int
}

func newStateHistory(n int) *stateHistory {
	if n < 1 {
		n = 1
	}
	return &stateHistory{votes: make([]State, n)}
}

func (h *stateHistory) add(s State) {
	h.votes[h.head] = s
	h.head = (h.head + 1) % len(h.votes)
	if h.size < len(h.votes) {
		h.size++
	}
}

// unanimous reports the agreed state when the window is full and every vote
// matches.
func (h *stateHistory) unanimous() (State, bool) {
	if h.size < len(h.votes) {
		return "", false
	}
	first := h.votes[0]
	for _, v := range h.votes[1:] {
		if v != first {
			return "", false
		}
	}
	return first, true
}

// agreement is the fraction of current votes equal to s.
func (h *stateHistory) agreement(s State) float64 {
	if h.size == 0 {
		return 0
	}
	n := 0
	for i := 0; i < h.size; i++ {
		idx := (h.head - h.size + i + len(h.votes)) % len(h.votes)
		if h.votes[idx] == s {
			n++
		}
	}
	return float64(n) / float64(len(h.votes))
}

func (h *stateHistory) clear() {
	h.head = 0
	h.size = 0
}
