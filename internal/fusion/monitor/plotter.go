// Package monitor records per-cycle feature traces for visual inspection of
// a run. The plotter samples each published update into a bounded in-memory
// series and renders one PNG per feature, to disk after a run or on demand
// over HTTP.
package monitor

import (
	"fmt"
	"image/color"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/biotrace-data/vitals.monitor/internal/fusion"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// DefaultMaxSamples bounds the trace to about two hours at the stock cadence.
const DefaultMaxSamples = 7200

var _ fusion.CycleSink = (*TracePlotter)(nil)

// TracePlotter accumulates feature values over cycles for visualization.
// It receives one sample per published update via RecordCycle, keeping the
// newest maxSamples so a long run traces its tail rather than growing
// without bound.
type TracePlotter struct {
	mu         sync.Mutex
	enabled    bool
	outputDir  string
	maxSamples int

	cycleIdx int
	samples  []TraceSample
	baseline fusion.Baseline
}

// TraceSample represents one cycle's feature values. Features the cycle
// could not compute are NaN and skipped when plotting.
type TraceSample struct {
	CycleIdx   int
	Timestamp  time.Time
	State      fusion.State
	Ratio      float64
	HeartRate  float64
	Theta      float64
	Movement   float64
	Confidence float64
}

// NewTracePlotter creates a plotter keeping up to maxSamples cycles.
// Non-positive maxSamples takes the default bound.
func NewTracePlotter(maxSamples int) *TracePlotter {
	if maxSamples < 1 {
		maxSamples = DefaultMaxSamples
	}
	return &TracePlotter{maxSamples: maxSamples}
}

// Start initializes the plotter for a new run and begins recording.
// outputDir should be a timestamped directory (e.g., "traces/live_20260314_092653")
func (tp *TracePlotter) Start(outputDir string) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	tp.outputDir = outputDir
	tp.enabled = true
	tp.cycleIdx = 0
	tp.samples = tp.samples[:0]
	return nil
}

// Stop disables sampling. Call GeneratePlots() to produce output files.
func (tp *TracePlotter) Stop() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (tp *TracePlotter) IsEnabled() bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.enabled
}

// SetBaseline supplies the calibrated reference rendered alongside each
// feature trace.
func (tp *TracePlotter) SetBaseline(b fusion.Baseline) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.baseline = b.Clone()
}

// RecordCycle captures one published update. Once the bound is reached the
// oldest sample falls off.
func (tp *TracePlotter) RecordCycle(u fusion.Update) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if !tp.enabled {
		return
	}
	tp.cycleIdx++

	s := TraceSample{
		CycleIdx:   tp.cycleIdx,
		Timestamp:  u.At,
		State:      u.State,
		Ratio:      orNaN(u.Ratio),
		HeartRate:  orNaN(u.HeartRate),
		Theta:      orNaN(u.Theta),
		Movement:   orNaN(u.Movement),
		Confidence: u.Confidence,
	}

	if len(tp.samples) == tp.maxSamples {
		copy(tp.samples, tp.samples[1:])
		tp.samples[len(tp.samples)-1] = s
		return
	}
	tp.samples = append(tp.samples, s)
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// traceFeature describes one renderable series.
type traceFeature struct {
	name  string
	label string
	value func(TraceSample) float64
	stats func(fusion.Baseline) *fusion.FeatureStats
}

var traceFeatures = []traceFeature{
	{"ratio", "Alpha/Beta Ratio",
		func(s TraceSample) float64 { return s.Ratio },
		func(b fusion.Baseline) *fusion.FeatureStats { return b.Ratio }},
	{"heart_rate", "Heart Rate (BPM)",
		func(s TraceSample) float64 { return s.HeartRate },
		func(b fusion.Baseline) *fusion.FeatureStats { return b.HeartRate }},
	{"theta", "Theta Power",
		func(s TraceSample) float64 { return s.Theta },
		func(b fusion.Baseline) *fusion.FeatureStats { return b.Theta }},
	{"movement", "Movement",
		func(s TraceSample) float64 { return s.Movement },
		func(b fusion.Baseline) *fusion.FeatureStats { return b.Movement }},
	{"confidence", "Suggestion Confidence",
		func(s TraceSample) float64 { return s.Confidence },
		nil},
}

// GeneratePlots creates one PNG per feature that has data, each showing the
// observed series against the baseline median where calibrated.
// Returns the number of plots generated and any error.
func (tp *TracePlotter) GeneratePlots() (int, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(tp.samples) == 0 {
		return 0, nil
	}

	count := 0
	for _, f := range traceFeatures {
		p, points, err := tp.featurePlot(f)
		if err != nil {
			return count, fmt.Errorf("%s: %w", f.name, err)
		}
		if points == 0 {
			continue
		}
		file := filepath.Join(tp.outputDir, fmt.Sprintf("trace_%s.png", f.name))
		if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
			return count, fmt.Errorf("save %s plot: %w", f.name, err)
		}
		count++
	}
	return count, nil
}

// featurePlot builds the plot for one feature. Callers hold the lock.
func (tp *TracePlotter) featurePlot(f traceFeature) (*plot.Plot, int, error) {
	p := plot.New()
	p.Title.Text = f.label
	p.X.Label.Text = "Cycle"
	p.Y.Label.Text = f.label

	pts := make(plotter.XYs, 0, len(tp.samples))
	for _, s := range tp.samples {
		v := f.value(s)
		// Skip cycles where the feature was undefined
		if math.IsNaN(v) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(s.CycleIdx), Y: v})
	}
	if len(pts) == 0 {
		return p, 0, nil
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, 0, err
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("observed", line)

	if f.stats != nil {
		if st := f.stats(tp.baseline); st != nil {
			ref := plotter.XYs{
				{X: pts[0].X, Y: st.Median},
				{X: pts[len(pts)-1].X, Y: st.Median},
			}
			refLine, err := plotter.NewLine(ref)
			if err != nil {
				return nil, 0, err
			}
			refLine.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
			refLine.Width = vg.Points(1)
			refLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			p.Add(refLine)
			p.Legend.Add("baseline median", refLine)
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, len(pts), nil
}

// ServeHTTP renders one feature trace as a PNG for the debug mux. The
// feature query parameter selects the series, defaulting to ratio.
func (tp *TracePlotter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("feature")
	if name == "" {
		name = "ratio"
	}
	var feature *traceFeature
	for i := range traceFeatures {
		if traceFeatures[i].name == name {
			feature = &traceFeatures[i]
			break
		}
	}
	if feature == nil {
		http.Error(w, fmt.Sprintf("unknown feature %q", name), http.StatusBadRequest)
		return
	}

	tp.mu.Lock()
	p, points, err := tp.featurePlot(*feature)
	tp.mu.Unlock()

	if err != nil {
		http.Error(w, fmt.Sprintf("failed to build plot: %v", err), http.StatusInternalServerError)
		return
	}
	if points == 0 {
		http.Error(w, "no trace samples yet", http.StatusNotFound)
		return
	}

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to render plot: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	wt.WriteTo(w)
}

// Samples returns a copy of the recorded trace.
func (tp *TracePlotter) Samples() []TraceSample {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	out := make([]TraceSample, len(tp.samples))
	copy(out, tp.samples)
	return out
}

// GetSampleCount returns the number of samples currently held.
func (tp *TracePlotter) GetSampleCount() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.samples)
}

// GetOutputDir returns the current output directory for plots.
func (tp *TracePlotter) GetOutputDir() string {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.outputDir
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakeTraceOutputDir builds a timestamped output directory for trace plots.
// For replayed captures: traces/<capture_basename>/<timestamp>
// For live data: traces/live_<timestamp>
func MakeTraceOutputDir(baseDir, captureFile string) string {
	ts := FormatTimestamp(time.Now())
	if captureFile != "" {
		base := filepath.Base(captureFile)
		ext := filepath.Ext(base)
		name := base[:len(base)-len(ext)]
		return filepath.Join(baseDir, name, ts)
	}
	return filepath.Join(baseDir, "live_"+ts)
}
