package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/biotrace-data/vitals.monitor/internal/fusion"
)

func TestEmptyTuningConfig(t *testing.T) {
	cfg := EmptyTuningConfig()

	if cfg.EEGRate != nil {
		t.Errorf("Expected nil EEGRate, got %v", cfg.EEGRate)
	}
	if cfg.Persistence != nil {
		t.Errorf("Expected nil Persistence, got %v", cfg.Persistence)
	}
	if cfg.ExpressionWeights != nil {
		t.Errorf("Expected nil ExpressionWeights, got %v", cfg.ExpressionWeights)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "eeg_rate": 128,
  "eeg_channels": 2,
  "ppg_window": "8s",
  "update_interval": "250ms",
  "persistence": 3,
  "ratio_k": 2.0,
  "expression_weights": {"angry": 1.0}
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.EEGRate == nil || *cfg.EEGRate != 128 {
		t.Errorf("Expected EEGRate 128, got %v", cfg.EEGRate)
	}
	if cfg.EEGChannels == nil || *cfg.EEGChannels != 2 {
		t.Errorf("Expected EEGChannels 2, got %v", cfg.EEGChannels)
	}
	if cfg.PPGWindow == nil || *cfg.PPGWindow != "8s" {
		t.Errorf("Expected PPGWindow '8s', got %v", cfg.PPGWindow)
	}
	if cfg.UpdateInterval == nil || *cfg.UpdateInterval != "250ms" {
		t.Errorf("Expected UpdateInterval '250ms', got %v", cfg.UpdateInterval)
	}
	if cfg.Persistence == nil || *cfg.Persistence != 3 {
		t.Errorf("Expected Persistence 3, got %v", cfg.Persistence)
	}
	if cfg.RatioK == nil || *cfg.RatioK != 2.0 {
		t.Errorf("Expected RatioK 2.0, got %v", cfg.RatioK)
	}
	if len(cfg.ExpressionWeights) != 1 || cfg.ExpressionWeights["angry"] != 1.0 {
		t.Errorf("Expected single angry weight, got %v", cfg.ExpressionWeights)
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "eeg_rate": "fast"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	_, err := LoadTuningConfig("/some/path/config.yaml")
	if err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "large.json")

	largeData := make([]byte, 2*1024*1024) // 2MB
	if err := os.WriteFile(configPath, largeData, 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			cfg:     &TuningConfig{},
			wantErr: false,
		},
		{
			name: "valid overrides",
			cfg: &TuningConfig{
				EEGRate:     ptrFloat64(128),
				EEGChannels: ptrInt(2),
				Persistence: ptrInt(4),
				NFFT:        ptrInt(128),
			},
			wantErr: false,
		},
		{
			name:    "zero eeg rate",
			cfg:     &TuningConfig{EEGRate: ptrFloat64(0)},
			wantErr: true,
		},
		{
			name:    "zero channels",
			cfg:     &TuningConfig{EEGChannels: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "negative ppg rate",
			cfg:     &TuningConfig{PPGRate: ptrFloat64(-64)},
			wantErr: true,
		},
		{
			name:    "unparseable window",
			cfg:     &TuningConfig{EEGWindow: ptrString("three seconds")},
			wantErr: true,
		},
		{
			name:    "negative window",
			cfg:     &TuningConfig{PPGWindow: ptrString("-10s")},
			wantErr: true,
		},
		{
			name:    "zero persistence",
			cfg:     &TuningConfig{Persistence: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "tiny nfft",
			cfg:     &TuningConfig{NFFT: ptrInt(8)},
			wantErr: true,
		},
		{
			name:    "negative multiplier",
			cfg:     &TuningConfig{ThetaK: ptrFloat64(-1)},
			wantErr: true,
		},
		{
			name:    "inverted band",
			cfg:     &TuningConfig{AlphaBand: &BandConfig{Low: 13, High: 8}},
			wantErr: true,
		},
		{
			name:    "negative band edge",
			cfg:     &TuningConfig{EEGFilter: &BandConfig{Low: -1, High: 40}},
			wantErr: true,
		},
		{
			name:    "filter order too high",
			cfg:     &TuningConfig{PPGFilterOrder: ptrInt(9)},
			wantErr: true,
		},
		{
			name:    "zero peak height",
			cfg:     &TuningConfig{PPGPeakHeight: ptrFloat64(0)},
			wantErr: true,
		},
		{
			name:    "expression stress above one",
			cfg:     &TuningConfig{ExpressionStress: ptrFloat64(1.5)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetterDefaults(t *testing.T) {
	cfg := &TuningConfig{} // empty config

	if cfg.GetEEGRate() != 256 {
		t.Errorf("GetEEGRate() = %f, want 256", cfg.GetEEGRate())
	}
	if cfg.GetEEGChannels() != 4 {
		t.Errorf("GetEEGChannels() = %d, want 4", cfg.GetEEGChannels())
	}
	if cfg.GetPPGRate() != 64 {
		t.Errorf("GetPPGRate() = %f, want 64", cfg.GetPPGRate())
	}
	if cfg.GetACCRate() != 50 {
		t.Errorf("GetACCRate() = %f, want 50", cfg.GetACCRate())
	}
	if cfg.GetEEGWindow() != 3*time.Second {
		t.Errorf("GetEEGWindow() = %v, want 3s", cfg.GetEEGWindow())
	}
	if cfg.GetPPGWindow() != 10*time.Second {
		t.Errorf("GetPPGWindow() = %v, want 10s", cfg.GetPPGWindow())
	}
	if cfg.GetUpdateInterval() != 500*time.Millisecond {
		t.Errorf("GetUpdateInterval() = %v, want 500ms", cfg.GetUpdateInterval())
	}
	if cfg.GetCalibrationDuration() != 60*time.Second {
		t.Errorf("GetCalibrationDuration() = %v, want 60s", cfg.GetCalibrationDuration())
	}
	if cfg.GetStaleAfter() != 5*time.Second {
		t.Errorf("GetStaleAfter() = %v, want 5s", cfg.GetStaleAfter())
	}
	if cfg.GetPersistence() != 6 {
		t.Errorf("GetPersistence() = %d, want 6", cfg.GetPersistence())
	}
	if cfg.GetNFFT() != 256 {
		t.Errorf("GetNFFT() = %d, want 256", cfg.GetNFFT())
	}
	if cfg.GetRatioK() != 1.5 {
		t.Errorf("GetRatioK() = %f, want 1.5", cfg.GetRatioK())
	}
	if cfg.GetExpressionStress() != 0.6 {
		t.Errorf("GetExpressionStress() = %f, want 0.6", cfg.GetExpressionStress())
	}
	if w := cfg.GetExpressionWeights(); w["angry"] != 1.0 {
		t.Errorf("GetExpressionWeights()[angry] = %f, want 1.0", w["angry"])
	}
}

func TestGetUpdateInterval(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{
			name: "250 milliseconds",
			cfg:  &TuningConfig{UpdateInterval: ptrString("250ms")},
			want: 250 * time.Millisecond,
		},
		{
			name: "1 second",
			cfg:  &TuningConfig{UpdateInterval: ptrString("1s")},
			want: 1 * time.Second,
		},
		{
			name: "nil pointer returns default",
			cfg:  &TuningConfig{},
			want: 500 * time.Millisecond,
		},
		{
			name: "empty string returns default",
			cfg:  &TuningConfig{UpdateInterval: ptrString("")},
			want: 500 * time.Millisecond,
		},
		{
			name: "invalid duration returns default",
			cfg:  &TuningConfig{UpdateInterval: ptrString("invalid")},
			want: 500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetUpdateInterval()
			if got != tt.want {
				t.Errorf("GetUpdateInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg, err := LoadTuningConfig("../../config/tuning.defaults.json")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.GetEEGRate() != 256 {
		t.Errorf("Expected 256, got %f", cfg.GetEEGRate())
	}
	if cfg.GetPersistence() != 6 {
		t.Errorf("Expected 6, got %d", cfg.GetPersistence())
	}
	if cfg.GetExpressionStress() != 0.6 {
		t.Errorf("Expected 0.6, got %f", cfg.GetExpressionStress())
	}
}

func TestLoadExampleConfigFile(t *testing.T) {
	cfg, err := LoadTuningConfig("../../config/tuning.example.json")
	if err != nil {
		t.Fatalf("Failed to load example: %v", err)
	}
	if cfg.GetCalibrationDuration() != 30*time.Second {
		t.Errorf("Expected 30s, got %v", cfg.GetCalibrationDuration())
	}
	if cfg.GetPersistence() != 4 {
		t.Errorf("Expected 4, got %d", cfg.GetPersistence())
	}
	if cfg.GetAlphaBand() != (fusion.Band{Low: 8, High: 12}) {
		t.Errorf("Expected alpha [8, 12], got %+v", cfg.GetAlphaBand())
	}
	// Unset fields keep stock defaults.
	if cfg.GetEEGRate() != 256 {
		t.Errorf("Expected default 256, got %f", cfg.GetEEGRate())
	}
	if cfg.GetBetaBand() != fusion.DefaultEEGParams().Beta {
		t.Errorf("Expected default beta band, got %+v", cfg.GetBetaBand())
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	// Partial config: only override the cadence; everything else keeps defaults.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	partialJSON := `{
  "update_interval": "1s"
}`
	if err := os.WriteFile(configPath, []byte(partialJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load partial config: %v", err)
	}

	if cfg.GetUpdateInterval() != time.Second {
		t.Errorf("Expected overridden UpdateInterval 1s, got %v", cfg.GetUpdateInterval())
	}
	if cfg.GetEEGWindow() != 3*time.Second {
		t.Errorf("Expected default EEGWindow 3s, got %v", cfg.GetEEGWindow())
	}
	if cfg.GetPersistence() != 6 {
		t.Errorf("Expected default Persistence 6, got %d", cfg.GetPersistence())
	}
}

func TestParams(t *testing.T) {
	cfg := &TuningConfig{
		EEGRate:             ptrFloat64(128),
		EEGChannels:         ptrInt(2),
		NFFT:                ptrInt(128),
		PPGWindow:           ptrString("8s"),
		UpdateInterval:      ptrString("250ms"),
		CalibrationDuration: ptrString("30s"),
		Persistence:         ptrInt(3),
		RatioK:              ptrFloat64(2.0),
		ExpressionStress:    ptrFloat64(0.5),
		ExpressionWeights:   map[string]float64{"angry": 0.9},
	}

	p := cfg.Params()

	if p.EEG.Rate != 128 {
		t.Errorf("EEG.Rate = %f, want 128", p.EEG.Rate)
	}
	if p.EEG.Channels != 2 {
		t.Errorf("EEG.Channels = %d, want 2", p.EEG.Channels)
	}
	if p.EEG.NFFT != 128 {
		t.Errorf("EEG.NFFT = %d, want 128", p.EEG.NFFT)
	}
	if p.PPGWindow != 8*time.Second {
		t.Errorf("PPGWindow = %v, want 8s", p.PPGWindow)
	}
	if p.UpdateInterval != 250*time.Millisecond {
		t.Errorf("UpdateInterval = %v, want 250ms", p.UpdateInterval)
	}
	if p.CalibrationDuration != 30*time.Second {
		t.Errorf("CalibrationDuration = %v, want 30s", p.CalibrationDuration)
	}
	if p.Persistence != 3 {
		t.Errorf("Persistence = %d, want 3", p.Persistence)
	}
	if p.Thresholds.RatioK != 2.0 {
		t.Errorf("Thresholds.RatioK = %f, want 2.0", p.Thresholds.RatioK)
	}
	if p.Thresholds.ExpressionStress != 0.5 {
		t.Errorf("Thresholds.ExpressionStress = %f, want 0.5", p.Thresholds.ExpressionStress)
	}
	if p.ExpressionWeights["angry"] != 0.9 {
		t.Errorf("ExpressionWeights[angry] = %f, want 0.9", p.ExpressionWeights["angry"])
	}

	// Untouched knobs keep their stock values.
	if p.PPG.Rate != fusion.DefaultPPGRate {
		t.Errorf("PPG.Rate = %f, want default", p.PPG.Rate)
	}
	if p.EEGWindow != fusion.DefaultEEGWindow {
		t.Errorf("EEGWindow = %v, want default", p.EEGWindow)
	}
}

func TestParamsFilterAndBandOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bands.json")

	testJSON := `{
  "eeg_filter": {"low": 2.0, "high": 35.0},
  "eeg_filter_order": 2,
  "ppg_filter": {"low": 0.7, "high": 3.5},
  "ppg_filter_order": 2,
  "alpha_band": {"low": 8, "high": 12},
  "beta_band": {"low": 12, "high": 28},
  "theta_band": {"low": 4, "high": 7},
  "ppg_peak_distance": 0.25,
  "ppg_peak_height": 0.4
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	p := cfg.Params()

	if p.EEG.Filter != (fusion.Band{Low: 2.0, High: 35.0}) {
		t.Errorf("EEG.Filter = %+v, want [2, 35]", p.EEG.Filter)
	}
	if p.EEG.FilterOrder != 2 {
		t.Errorf("EEG.FilterOrder = %d, want 2", p.EEG.FilterOrder)
	}
	if p.PPG.Filter != (fusion.Band{Low: 0.7, High: 3.5}) {
		t.Errorf("PPG.Filter = %+v, want [0.7, 3.5]", p.PPG.Filter)
	}
	if p.PPG.FilterOrder != 2 {
		t.Errorf("PPG.FilterOrder = %d, want 2", p.PPG.FilterOrder)
	}
	if p.EEG.Alpha != (fusion.Band{Low: 8, High: 12}) {
		t.Errorf("EEG.Alpha = %+v, want [8, 12]", p.EEG.Alpha)
	}
	if p.EEG.Beta != (fusion.Band{Low: 12, High: 28}) {
		t.Errorf("EEG.Beta = %+v, want [12, 28]", p.EEG.Beta)
	}
	if p.EEG.Theta != (fusion.Band{Low: 4, High: 7}) {
		t.Errorf("EEG.Theta = %+v, want [4, 7]", p.EEG.Theta)
	}
	if p.PPG.PeakDistanceFactor != 0.25 {
		t.Errorf("PPG.PeakDistanceFactor = %f, want 0.25", p.PPG.PeakDistanceFactor)
	}
	if p.PPG.PeakHeightFactor != 0.4 {
		t.Errorf("PPG.PeakHeightFactor = %f, want 0.4", p.PPG.PeakHeightFactor)
	}

	// An empty config maps the stock filters and bands.
	stock := (&TuningConfig{}).Params()
	if stock.EEG.Filter != fusion.DefaultEEGParams().Filter {
		t.Errorf("stock EEG.Filter = %+v, want default", stock.EEG.Filter)
	}
	if stock.EEG.Alpha != fusion.DefaultEEGParams().Alpha {
		t.Errorf("stock EEG.Alpha = %+v, want default", stock.EEG.Alpha)
	}
	if stock.PPG.PeakHeightFactor != fusion.DefaultPPGParams().PeakHeightFactor {
		t.Errorf("stock PPG.PeakHeightFactor = %f, want default", stock.PPG.PeakHeightFactor)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	// Runs from internal/config, so the ../../ candidate resolves.
	cfg := MustLoadDefaultConfig()
	if cfg.GetEEGRate() != 256 {
		t.Errorf("Expected 256, got %f", cfg.GetEEGRate())
	}
}
