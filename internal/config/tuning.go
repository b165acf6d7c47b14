package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/biotrace-data/vitals.monitor/internal/fusion"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for pipeline tuning.
// Fields omitted from the JSON keep their stock defaults, so partial
// configs are safe.
type TuningConfig struct {
	// Stream geometry
	EEGRate     *float64 `json:"eeg_rate,omitempty"`
	EEGChannels *int     `json:"eeg_channels,omitempty"`
	PPGRate     *float64 `json:"ppg_rate,omitempty"`
	ACCRate     *float64 `json:"acc_rate,omitempty"`

	// Feature windows (duration strings like "3s")
	EEGWindow *string `json:"eeg_window,omitempty"`
	PPGWindow *string `json:"ppg_window,omitempty"`
	ACCWindow *string `json:"acc_window,omitempty"`

	// Loop cadence
	UpdateInterval      *string `json:"update_interval,omitempty"`
	CalibrationDuration *string `json:"calibration_duration,omitempty"`
	StaleAfter          *string `json:"stale_after,omitempty"`
	Persistence         *int    `json:"persistence,omitempty"`

	// Spectral estimation
	NFFT *int `json:"nfft,omitempty"`

	// Band-pass filters and their Butterworth orders
	EEGFilter      *BandConfig `json:"eeg_filter,omitempty"`
	EEGFilterOrder *int        `json:"eeg_filter_order,omitempty"`
	PPGFilter      *BandConfig `json:"ppg_filter,omitempty"`
	PPGFilterOrder *int        `json:"ppg_filter_order,omitempty"`

	// Integration bands for the spectral features
	AlphaBand *BandConfig `json:"alpha_band,omitempty"`
	BetaBand  *BandConfig `json:"beta_band,omitempty"`
	ThetaBand *BandConfig `json:"theta_band,omitempty"`

	// Pulse peak detection
	PPGPeakDistance *float64 `json:"ppg_peak_distance,omitempty"`
	PPGPeakHeight   *float64 `json:"ppg_peak_height,omitempty"`

	// Baseline deviation multipliers
	RatioK     *float64 `json:"ratio_k,omitempty"`
	HeartRateK *float64 `json:"heart_rate_k,omitempty"`
	MovementK  *float64 `json:"movement_k,omitempty"`
	ThetaK     *float64 `json:"theta_k,omitempty"`

	// Expression cue
	ExpressionStress  *float64           `json:"expression_stress,omitempty"`
	ExpressionWeights map[string]float64 `json:"expression_weights,omitempty"`
}

// BandConfig is an inclusive frequency range in Hz as it appears in the
// JSON file.
type BandConfig struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Band converts the JSON form to the pipeline's band type.
func (b BandConfig) Band() fusion.Band {
	return fusion.Band{Low: b.Low, High: b.High}
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/fusion/osc/ and friends
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.EEGRate != nil && *c.EEGRate <= 0 {
		return fmt.Errorf("eeg_rate must be positive, got %f", *c.EEGRate)
	}
	if c.EEGChannels != nil && *c.EEGChannels < 1 {
		return fmt.Errorf("eeg_channels must be at least 1, got %d", *c.EEGChannels)
	}
	if c.PPGRate != nil && *c.PPGRate <= 0 {
		return fmt.Errorf("ppg_rate must be positive, got %f", *c.PPGRate)
	}
	if c.ACCRate != nil && *c.ACCRate <= 0 {
		return fmt.Errorf("acc_rate must be positive, got %f", *c.ACCRate)
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"eeg_window", c.EEGWindow},
		{"ppg_window", c.PPGWindow},
		{"acc_window", c.ACCWindow},
		{"update_interval", c.UpdateInterval},
		{"calibration_duration", c.CalibrationDuration},
		{"stale_after", c.StaleAfter},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}

	if c.Persistence != nil && *c.Persistence < 1 {
		return fmt.Errorf("persistence must be at least 1, got %d", *c.Persistence)
	}
	if c.NFFT != nil && *c.NFFT < 16 {
		return fmt.Errorf("nfft must be at least 16, got %d", *c.NFFT)
	}

	bands := []struct {
		name  string
		value *BandConfig
	}{
		{"eeg_filter", c.EEGFilter},
		{"ppg_filter", c.PPGFilter},
		{"alpha_band", c.AlphaBand},
		{"beta_band", c.BetaBand},
		{"theta_band", c.ThetaBand},
	}
	for _, b := range bands {
		if b.value == nil {
			continue
		}
		if b.value.Low < 0 || b.value.High <= b.value.Low {
			return fmt.Errorf("%s must satisfy 0 <= low < high, got [%f, %f]",
				b.name, b.value.Low, b.value.High)
		}
	}

	orders := []struct {
		name  string
		value *int
	}{
		{"eeg_filter_order", c.EEGFilterOrder},
		{"ppg_filter_order", c.PPGFilterOrder},
	}
	for _, o := range orders {
		if o.value != nil && (*o.value < 1 || *o.value > 8) {
			return fmt.Errorf("%s must be between 1 and 8, got %d", o.name, *o.value)
		}
	}

	peaks := []struct {
		name  string
		value *float64
	}{
		{"ppg_peak_distance", c.PPGPeakDistance},
		{"ppg_peak_height", c.PPGPeakHeight},
	}
	for _, pk := range peaks {
		if pk.value != nil && *pk.value <= 0 {
			return fmt.Errorf("%s must be positive, got %f", pk.name, *pk.value)
		}
	}

	multipliers := []struct {
		name  string
		value *float64
	}{
		{"ratio_k", c.RatioK},
		{"heart_rate_k", c.HeartRateK},
		{"movement_k", c.MovementK},
		{"theta_k", c.ThetaK},
	}
	for _, m := range multipliers {
		if m.value != nil && *m.value < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", m.name, *m.value)
		}
	}

	if c.ExpressionStress != nil {
		if *c.ExpressionStress < 0 || *c.ExpressionStress > 1 {
			return fmt.Errorf("expression_stress must be between 0 and 1, got %f", *c.ExpressionStress)
		}
	}

	return nil
}

// GetEEGRate returns the eeg_rate value or the default.
func (c *TuningConfig) GetEEGRate() float64 {
	if c.EEGRate == nil {
		return fusion.DefaultEEGRate
	}
	return *c.EEGRate
}

// GetEEGChannels returns the eeg_channels value or the default.
func (c *TuningConfig) GetEEGChannels() int {
	if c.EEGChannels == nil {
		return fusion.DefaultEEGChannels
	}
	return *c.EEGChannels
}

// GetPPGRate returns the ppg_rate value or the default.
func (c *TuningConfig) GetPPGRate() float64 {
	if c.PPGRate == nil {
		return fusion.DefaultPPGRate
	}
	return *c.PPGRate
}

// GetACCRate returns the acc_rate value or the default.
func (c *TuningConfig) GetACCRate() float64 {
	if c.ACCRate == nil {
		return fusion.DefaultACCRate
	}
	return *c.ACCRate
}

// GetEEGWindow parses and returns the EEGWindow as a time.Duration.
func (c *TuningConfig) GetEEGWindow() time.Duration {
	if c.EEGWindow == nil || *c.EEGWindow == "" {
		return fusion.DefaultEEGWindow
	}
	d, err := time.ParseDuration(*c.EEGWindow)
	if err != nil {
		return fusion.DefaultEEGWindow
	}
	return d
}

// GetPPGWindow parses and returns the PPGWindow as a time.Duration.
func (c *TuningConfig) GetPPGWindow() time.Duration {
	if c.PPGWindow == nil || *c.PPGWindow == "" {
		return fusion.DefaultPPGWindow
	}
	d, err := time.ParseDuration(*c.PPGWindow)
	if err != nil {
		return fusion.DefaultPPGWindow
	}
	return d
}

// GetACCWindow parses and returns the ACCWindow as a time.Duration.
func (c *TuningConfig) GetACCWindow() time.Duration {
	if c.ACCWindow == nil || *c.ACCWindow == "" {
		return fusion.DefaultACCWindow
	}
	d, err := time.ParseDuration(*c.ACCWindow)
	if err != nil {
		return fusion.DefaultACCWindow
	}
	return d
}

// GetUpdateInterval parses and returns the UpdateInterval as a time.Duration.
func (c *TuningConfig) GetUpdateInterval() time.Duration {
	if c.UpdateInterval == nil || *c.UpdateInterval == "" {
		return fusion.DefaultUpdateInterval
	}
	d, err := time.ParseDuration(*c.UpdateInterval)
	if err != nil {
		return fusion.DefaultUpdateInterval
	}
	return d
}

// GetCalibrationDuration parses and returns the CalibrationDuration as a time.Duration.
func (c *TuningConfig) GetCalibrationDuration() time.Duration {
	if c.CalibrationDuration == nil || *c.CalibrationDuration == "" {
		return fusion.DefaultCalibrationDuration
	}
	d, err := time.ParseDuration(*c.CalibrationDuration)
	if err != nil {
		return fusion.DefaultCalibrationDuration
	}
	return d
}

// GetStaleAfter parses and returns the StaleAfter as a time.Duration.
func (c *TuningConfig) GetStaleAfter() time.Duration {
	if c.StaleAfter == nil || *c.StaleAfter == "" {
		return fusion.DefaultStaleAfter
	}
	d, err := time.ParseDuration(*c.StaleAfter)
	if err != nil {
		return fusion.DefaultStaleAfter
	}
	return d
}

// GetPersistence returns the persistence value or the default.
func (c *TuningConfig) GetPersistence() int {
	if c.Persistence == nil {
		return fusion.DefaultPersistence
	}
	return *c.Persistence
}

// GetNFFT returns the nfft value or the default.
func (c *TuningConfig) GetNFFT() int {
	if c.NFFT == nil {
		return fusion.DefaultNFFT
	}
	return *c.NFFT
}

// GetEEGFilter returns the EEG band-pass range or the default.
func (c *TuningConfig) GetEEGFilter() fusion.Band {
	if c.EEGFilter == nil {
		return fusion.DefaultEEGParams().Filter
	}
	return c.EEGFilter.Band()
}

// GetEEGFilterOrder returns the eeg_filter_order value or the default.
func (c *TuningConfig) GetEEGFilterOrder() int {
	if c.EEGFilterOrder == nil {
		return fusion.DefaultEEGParams().FilterOrder
	}
	return *c.EEGFilterOrder
}

// GetPPGFilter returns the PPG band-pass range or the default.
func (c *TuningConfig) GetPPGFilter() fusion.Band {
	if c.PPGFilter == nil {
		return fusion.DefaultPPGParams().Filter
	}
	return c.PPGFilter.Band()
}

// GetPPGFilterOrder returns the ppg_filter_order value or the default.
func (c *TuningConfig) GetPPGFilterOrder() int {
	if c.PPGFilterOrder == nil {
		return fusion.DefaultPPGParams().FilterOrder
	}
	return *c.PPGFilterOrder
}

// GetAlphaBand returns the alpha integration band or the default.
func (c *TuningConfig) GetAlphaBand() fusion.Band {
	if c.AlphaBand == nil {
		return fusion.DefaultEEGParams().Alpha
	}
	return c.AlphaBand.Band()
}

// GetBetaBand returns the beta integration band or the default.
func (c *TuningConfig) GetBetaBand() fusion.Band {
	if c.BetaBand == nil {
		return fusion.DefaultEEGParams().Beta
	}
	return c.BetaBand.Band()
}

// GetThetaBand returns the theta integration band or the default.
func (c *TuningConfig) GetThetaBand() fusion.Band {
	if c.ThetaBand == nil {
		return fusion.DefaultEEGParams().Theta
	}
	return c.ThetaBand.Band()
}

// GetPPGPeakDistance returns the ppg_peak_distance value or the default.
func (c *TuningConfig) GetPPGPeakDistance() float64 {
	if c.PPGPeakDistance == nil {
		return fusion.DefaultPPGParams().PeakDistanceFactor
	}
	return *c.PPGPeakDistance
}

// GetPPGPeakHeight returns the ppg_peak_height value or the default.
func (c *TuningConfig) GetPPGPeakHeight() float64 {
	if c.PPGPeakHeight == nil {
		return fusion.DefaultPPGParams().PeakHeightFactor
	}
	return *c.PPGPeakHeight
}

// GetRatioK returns the ratio_k value or the default.
func (c *TuningConfig) GetRatioK() float64 {
	if c.RatioK == nil {
		return fusion.DefaultThresholdParams().RatioK
	}
	return *c.RatioK
}

// GetHeartRateK returns the heart_rate_k value or the default.
func (c *TuningConfig) GetHeartRateK() float64 {
	if c.HeartRateK == nil {
		return fusion.DefaultThresholdParams().HeartRateK
	}
	return *c.HeartRateK
}

// GetMovementK returns the movement_k value or the default.
func (c *TuningConfig) GetMovementK() float64 {
	if c.MovementK == nil {
		return fusion.DefaultThresholdParams().MovementK
	}
	return *c.MovementK
}

// GetThetaK returns the theta_k value or the default.
func (c *TuningConfig) GetThetaK() float64 {
	if c.ThetaK == nil {
		return fusion.DefaultThresholdParams().ThetaK
	}
	return *c.ThetaK
}

// GetExpressionStress returns the expression_stress value or the default.
func (c *TuningConfig) GetExpressionStress() float64 {
	if c.ExpressionStress == nil {
		return fusion.DefaultThresholdParams().ExpressionStress
	}
	return *c.ExpressionStress
}

// GetExpressionWeights returns the expression_weights map or the default.
func (c *TuningConfig) GetExpressionWeights() map[string]float64 {
	if c.ExpressionWeights == nil {
		return fusion.DefaultExpressionWeights()
	}
	return c.ExpressionWeights
}

// Params assembles the full pipeline tuning from the file values, falling
// back to the stock defaults for anything unset.
func (c *TuningConfig) Params() fusion.Params {
	p := fusion.DefaultParams()
	p.EEG.Rate = c.GetEEGRate()
	p.EEG.Channels = c.GetEEGChannels()
	p.EEG.NFFT = c.GetNFFT()
	p.EEG.Filter = c.GetEEGFilter()
	p.EEG.FilterOrder = c.GetEEGFilterOrder()
	p.EEG.Alpha = c.GetAlphaBand()
	p.EEG.Beta = c.GetBetaBand()
	p.EEG.Theta = c.GetThetaBand()
	p.PPG.Rate = c.GetPPGRate()
	p.PPG.Filter = c.GetPPGFilter()
	p.PPG.FilterOrder = c.GetPPGFilterOrder()
	p.PPG.PeakDistanceFactor = c.GetPPGPeakDistance()
	p.PPG.PeakHeightFactor = c.GetPPGPeakHeight()
	p.ACC.Rate = c.GetACCRate()
	p.EEGWindow = c.GetEEGWindow()
	p.PPGWindow = c.GetPPGWindow()
	p.ACCWindow = c.GetACCWindow()
	p.UpdateInterval = c.GetUpdateInterval()
	p.CalibrationDuration = c.GetCalibrationDuration()
	p.StaleAfter = c.GetStaleAfter()
	p.Persistence = c.GetPersistence()
	p.Thresholds.RatioK = c.GetRatioK()
	p.Thresholds.HeartRateK = c.GetHeartRateK()
	p.Thresholds.MovementK = c.GetMovementK()
	p.Thresholds.ThetaK = c.GetThetaK()
	p.Thresholds.ExpressionStress = c.GetExpressionStress()
	p.ExpressionWeights = c.GetExpressionWeights()
	return p
}
