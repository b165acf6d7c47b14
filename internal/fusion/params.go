package fusion

import "time"

// Default tuning for the headband streams this pipeline was built against
// (4-channel EEG at 256 Hz, PPG at 64 Hz, 3-axis accelerometer at 50 Hz).
// Everything here can be overridden through the config file or flags.
const (
	DefaultEEGRate     = 256.0 // samples per second per channel
	DefaultPPGRate     = 64.0
	DefaultACCRate     = 50.0
	DefaultEEGChannels = 4

	DefaultEEGWindow = 3 * time.Second
	DefaultPPGWindow = 10 * time.Second
	DefaultACCWindow = 3 * time.Second

	DefaultUpdateInterval      = 500 * time.Millisecond
	DefaultCalibrationDuration = 60 * time.Second
	DefaultStaleAfter          = 5 * time.Second
	DefaultPersistence         = 6

	DefaultNFFT = 256

	// BufferMargin is added to the calibration duration when sizing buffers
	// so the calibrator can always pull a full history even when it starts
	// a little late.
	BufferMargin = 15 * time.Second

	// MinACCCapacity keeps the accelerometer buffer useful even with very
	// short calibration runs.
	MinACCCapacity = 500

	// epsilon guards divisions and flat-signal checks across the extractors.
	epsilon = 1e-10
)

// Band is an inclusive frequency range in Hz.
type Band struct {
	Low  float64
	High float64
}

// EEGParams tunes the spectral feature extraction.
type EEGParams struct {
	// Rate is the per-channel sampling rate in Hz.
	Rate float64

	// Channels is the number of EEG electrodes captured per sample.
	Channels int

	// NFFT is the PSD segment length. Windows shorter than this are
	// rejected outright rather than zero-padded.
	NFFT int

	// Filter is the band-pass applied before PSD estimation, wide enough to
	// keep every band of interest while stripping drift and line noise.
	Filter Band

	// FilterOrder is the Butterworth order of the band-pass.
	FilterOrder int

	// Alpha, Beta and Theta are the integration bands for the spectral
	// features.
	Alpha Band
	Beta  Band
	Theta Band
}

// DefaultEEGParams returns the tuning used with the stock headband.
func DefaultEEGParams() EEGParams {
	return EEGParams{
		Rate:        DefaultEEGRate,
		Channels:    DefaultEEGChannels,
		NFFT:        DefaultNFFT,
		Filter:      Band{Low: 1.0, High: 40.0},
		FilterOrder: 4,
		Alpha:       Band{Low: 8, High: 13},
		Beta:        Band{Low: 13, High: 30},
		Theta:       Band{Low: 4, High: 8},
	}
}

// PPGParams tunes the heart-rate estimation.
type PPGParams struct {
	// Rate is the sampling rate in Hz.
	Rate float64

	// Filter is the plausible cardiac band.
	Filter Band

	// FilterOrder is the Butterworth order of the band-pass.
	FilterOrder int

	// MinDuration rejects windows too short to hold at least two beats at
	// resting heart rates.
	MinDuration time.Duration

	// PeakDistanceFactor sets the minimum samples between detected peaks as
	// a fraction of Rate (0.3 allows up to 200 BPM).
	PeakDistanceFactor float64

	// PeakHeightFactor sets the minimum peak height as a fraction of the
	// filtered signal's standard deviation.
	PeakHeightFactor float64

	// MinInterval and MaxInterval bound the physiologically plausible
	// beat-to-beat interval; intervals outside are discarded.
	MinInterval time.Duration
	MaxInterval time.Duration
}

// DefaultPPGParams returns the tuning used with the stock headband.
func DefaultPPGParams() PPGParams {
	return PPGParams{
		Rate:               DefaultPPGRate,
		Filter:             Band{Low: 0.5, High: 4.0},
		FilterOrder:        3,
		MinDuration:        2 * time.Second,
		PeakDistanceFactor: 0.3,
		PeakHeightFactor:   0.5,
		MinInterval:        300 * time.Millisecond,
		MaxInterval:        2 * time.Second,
	}
}

// ACCParams tunes the movement feature.
type ACCParams struct {
	// Rate is the sampling rate in Hz, used only for buffer sizing; the
	// movement metric itself is rate independent.
	Rate float64
}

// DefaultACCParams returns the tuning used with the stock headband.
func DefaultACCParams() ACCParams {
	return ACCParams{Rate: DefaultACCRate}
}

// Params bundles the tuning for the whole pipeline.
type Params struct {
	EEG EEGParams
	PPG PPGParams
	ACC ACCParams

	// Per-stream windows pulled from the store each cycle.
	EEGWindow time.Duration
	PPGWindow time.Duration
	ACCWindow time.Duration

	// UpdateInterval is the processing cadence and the calibrator's window
	// slide step.
	UpdateInterval time.Duration

	// CalibrationDuration is how long the calibrator records before
	// computing the baseline.
	CalibrationDuration time.Duration

	// StaleAfter is the maximum acceptable age of the newest EEG or PPG
	// sample before the cycle is declared stale.
	StaleAfter time.Duration

	// Persistence is how many consecutive identical tentative states are
	// required before the official state changes.
	Persistence int

	Thresholds ThresholdParams

	// ExpressionWeights maps expression labels to their contribution to the
	// scalar stress score. Labels absent from the map score zero.
	ExpressionWeights map[string]float64
}

// DefaultParams returns the full stock tuning.
func DefaultParams() Params {
	return Params{
		EEG:                 DefaultEEGParams(),
		PPG:                 DefaultPPGParams(),
		ACC:                 DefaultACCParams(),
		EEGWindow:           DefaultEEGWindow,
		PPGWindow:           DefaultPPGWindow,
		ACCWindow:           DefaultACCWindow,
		UpdateInterval:      DefaultUpdateInterval,
		CalibrationDuration: DefaultCalibrationDuration,
		StaleAfter:          DefaultStaleAfter,
		Persistence:         DefaultPersistence,
		Thresholds:          DefaultThresholdParams(),
		ExpressionWeights:   DefaultExpressionWeights(),
	}
}

// DefaultExpressionWeights weighs the stress-relevant expression labels.
// Values were tuned by hand against the sidecar classifier's label set.
func DefaultExpressionWeights() map[string]float64 {
	return map[string]float64{
		"angry":   1.0,
		"fear":    0.8,
		"disgust": 0.6,
		"sad":     0.4,
	}
}
