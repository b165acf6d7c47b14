package fusion

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// FeatureStats is the calibrated reference for one feature.
type FeatureStats struct {
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
}

// Baseline holds the calibrated per-feature statistics. A nil field means
// the feature produced no valid samples during calibration; classification
// treats it as missing rather than zero.
type Baseline struct {
	Ratio     *FeatureStats `json:"ratio"`
	HeartRate *FeatureStats `json:"heart_rate"`
	Theta     *FeatureStats `json:"theta"`
	Movement  *FeatureStats `json:"movement"`
}

// Complete reports whether every tracked feature has calibrated statistics.
func (b Baseline) Complete() bool {
	return b.Ratio != nil && b.HeartRate != nil && b.Theta != nil && b.Movement != nil
}

// Clone returns a Baseline whose stats do not alias the receiver's.
func (b Baseline) Clone() Baseline {
	cp := Baseline{}
	if b.Ratio != nil {
		v := *b.Ratio
		cp.Ratio = &v
	}
	if b.HeartRate != nil {
		v := *b.HeartRate
		cp.HeartRate = &v
	}
	if b.Theta != nil {
		v := *b.Theta
		cp.Theta = &v
	}
	if b.Movement != nil {
		v := *b.Movement
		cp.Movement = &v
	}
	return cp
}

// Calibrator computes the per-feature reference statistics from an initial
// recording. It never ingests anything itself: the transports keep writing
// to the store while Run waits, then the buffered history is replayed
// through the run-time extractors with the run-time window sizes and the
// update interval as the slide step, so the baseline is measured under the
// same conditions it will later be compared against.
type Calibrator struct {
	store  *Store
	params Params
}

// NewCalibrator prepares a calibration run against store.
func NewCalibrator(store *Store, params Params) *Calibrator {
	return &Calibrator{store: store, params: params}
}

// Run blocks for the calibration duration, then reduces the recorded
// history to per-feature medians and spreads and installs them in the
// store. On failure whatever statistics were computed are still installed
// for diagnostics, but the error must abort startup: monitoring against a
// partial baseline produces meaningless thresholds.
func (c *Calibrator) Run(ctx context.Context) error {
	d := c.params.CalibrationDuration
	log.Printf("calibration: recording %s of baseline data, stay still and relaxed", d)

	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	started := time.Now()

wait:
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("calibration interrupted: %w", ctx.Err())
		case <-progress.C:
			eegN, ppgN, accN := c.store.Lengths()
			log.Printf("calibration: %s elapsed (eeg=%d ppg=%d acc=%d samples)",
				time.Since(started).Round(time.Second), eegN, ppgN, accN)
		case <-deadline.C:
			break wait
		}
	}

	b, missing := c.reduce()
	c.store.SetBaseline(b)
	if len(missing) > 0 {
		return fmt.Errorf("calibration produced no valid samples for: %s", strings.Join(missing, ", "))
	}
	log.Printf("calibration: complete; ratio %s, hr %s, theta %s, movement %s",
		statsString(b.Ratio), statsString(b.HeartRate), statsString(b.Theta), statsString(b.Movement))
	return nil
}

// reduce slides run-time windows across the whole buffered history and
// collapses the defined feature samples into per-feature stats.
func (c *Calibrator) reduce() (Baseline, []string) {
	var ratios, thetas, rates, movements []float64

	eeg := c.store.AllEEG()
	if len(eeg) > 0 && len(eeg[0]) > 0 {
		winLen := int(c.params.EEG.Rate * c.params.EEGWindow.Seconds())
		step := slideStep(c.params.EEG.Rate, c.params.UpdateInterval)
		for start := 0; start+winLen <= len(eeg[0]); start += step {
			win := make([][]float64, len(eeg))
			for ch := range eeg {
				win[ch] = eeg[ch][start : start+winLen]
			}
			ratio, theta := EEGBandPower(win, c.params.EEG)
			// The pair is kept only when both are defined so the two EEG
			// features describe the same set of windows.
			if ratio.Defined && theta.Defined {
				ratios = append(ratios, ratio.Value)
				thetas = append(thetas, theta.Value)
			}
		}
	}

	ppg := c.store.AllPPG()
	if len(ppg) > 0 {
		winLen := int(c.params.PPG.Rate * c.params.PPGWindow.Seconds())
		step := slideStep(c.params.PPG.Rate, c.params.UpdateInterval)
		for start := 0; start+winLen <= len(ppg); start += step {
			if hr := EstimateHeartRate(ppg[start:start+winLen], c.params.PPG); hr.Defined {
				rates = append(rates, hr.Value)
			}
		}
	}

	acc := c.store.AllACC()
	if len(acc) > 0 {
		winLen := int(c.params.ACC.Rate * c.params.ACCWindow.Seconds())
		step := slideStep(c.params.ACC.Rate, c.params.UpdateInterval)
		for start := 0; start+winLen <= len(acc); start += step {
			if m := MovementMetric(acc[start : start+winLen]); m.Defined {
				movements = append(movements, m.Value)
			}
		}
	}

	var b Baseline
	var missing []string
	if len(ratios) > 0 {
		b.Ratio = statsOf(ratios)
	} else {
		missing = append(missing, "ratio")
	}
	if len(rates) > 0 {
		b.HeartRate = statsOf(rates)
	} else {
		missing = append(missing, "heart_rate")
	}
	if len(thetas) > 0 {
		b.Theta = statsOf(thetas)
	} else {
		missing = append(missing, "theta")
	}
	if len(movements) > 0 {
		b.Movement = statsOf(movements)
	} else {
		missing = append(missing, "movement")
	}
	return b, missing
}

func slideStep(rate float64, interval time.Duration) int {
	step := int(rate * interval.Seconds())
	if step < 1 {
		step = 1
	}
	return step
}

func statsOf(vals []float64) *FeatureStats {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	fs := &FeatureStats{Median: stat.Quantile(0.5, stat.Empirical, sorted, nil)}
	if len(vals) > 1 {
		// Population deviation: the recording is the whole reference, not a
		// sample of a larger one, and the K multipliers are tuned against it.
		fs.Std = stat.PopStdDev(vals, nil)
	}
	return fs
}

func statsString(fs *FeatureStats) string {
	if fs == nil {
		return "missing"
	}
	return fmt.Sprintf("%.3f±%.3f", fs.Median, fs.Std)
}
