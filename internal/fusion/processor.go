package fusion

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/biotrace-data/vitals.monitor/internal/monitoring"
)

// minCycleDelay is the floor on the inter-cycle sleep, so a cycle that
// overruns its interval still yields before the next one starts.
const minCycleDelay = 10 * time.Millisecond

// Update is one processing cycle's published result. Field names follow the
// wire payload the dashboard consumes. Nil feature pointers mean the value
// was undefined this cycle.
type Update struct {
	At    time.Time `json:"timestamp"`
	State State     `json:"overall_state"`

	Ratio     *float64 `json:"alpha_beta_ratio"`
	HeartRate *float64 `json:"heart_rate"`
	Theta     *float64 `json:"theta_power"`
	Movement  *float64 `json:"movement_metric"`

	// Expression carries the raw label probabilities from the sidecar; the
	// update owns the map. Score is the weighted reduction of it.
	Expression      map[string]float64 `json:"expression,omitempty"`
	ExpressionScore *float64           `json:"expression_score,omitempty"`

	Flags CycleFlags `json:"flags"`

	EEGStale bool `json:"eeg_stale"`
	PPGStale bool `json:"ppg_stale"`

	Suggestion Position `json:"suggested_position,omitempty"`
	Confidence float64  `json:"confidence_level"`
	Trend      Trend    `json:"market_trend,omitempty"`
}

// ExpressionProvider supplies the latest facial-expression probabilities.
// A false return means the classifier is unavailable this cycle; the
// pipeline proceeds without the expression cue.
type ExpressionProvider interface {
	Current() (map[string]float64, bool)
}

// TrendProvider reports the market direction for the position suggestion.
// Implementations must be safe for concurrent use.
type TrendProvider interface {
	Trend() Trend
}

// Notifier receives one non-blocking push per cycle. Implementations must
// drop rather than block; Publish reports whether every consumer accepted
// the update.
type Notifier interface {
	Publish(Update) bool
}

// CycleSink receives each completed cycle for recording. Implementations
// must return quickly; anything slow belongs behind a buffered queue.
type CycleSink interface {
	RecordCycle(Update)
}

// MultiSink fans each cycle out to every sink in order.
func MultiSink(sinks ...CycleSink) CycleSink {
	return multiSink(sinks)
}

type multiSink []CycleSink

func (m multiSink) RecordCycle(u Update) {
	for _, s := range m {
		s.RecordCycle(u)
	}
}

// ProcessorConfig wires the loop's collaborators. Any nil field disables
// that output or input.
type ProcessorConfig struct {
	Expression ExpressionProvider
	Trend      TrendProvider
	Notifier   Notifier
	Sink       CycleSink
}

// Processor runs the fixed-cadence fusion loop: snapshot the store, check
// staleness, extract features, classify, publish. It is the sole writer of
// the published state; readers use Snapshot.
type Processor struct {
	store      *Store
	params     Params
	classifier *Classifier

	expression ExpressionProvider
	trend      TrendProvider
	notifier   Notifier
	sink       CycleSink

	mu       sync.Mutex // guards last and the counters, nothing else
	last     Update
	cycles   uint64
	stale    uint64
	dropped  uint64
	degraded uint64
}

// NewProcessor builds a loop over store. The classifier starts in
// Initializing; the first official transition needs a full persistence
// window of agreement.
func NewProcessor(store *Store, params Params, cfg ProcessorConfig) *Processor {
	return &Processor{
		store:      store,
		params:     params,
		classifier: NewClassifier(params.Thresholds, params.Persistence),
		expression: cfg.Expression,
		trend:      cfg.Trend,
		notifier:   cfg.Notifier,
		sink:       cfg.Sink,
	}
}

// Run executes cycles until ctx is cancelled. The inter-cycle wait selects
// on the context, so shutdown latency is bounded by one cycle.
func (p *Processor) Run(ctx context.Context) {
	log.Printf("processor: starting, interval %s", p.params.UpdateInterval)
	for {
		start := time.Now()
		degraded := p.runCycle()

		sleep := p.params.UpdateInterval - time.Since(start)
		if sleep < minCycleDelay {
			sleep = minCycleDelay
		}
		if degraded {
			// Never spin on a failing cycle.
			sleep = p.params.UpdateInterval
		}

		select {
		case <-ctx.Done():
			log.Printf("processor: stopping after %d cycles", p.Cycles())
			return
		case <-time.After(sleep):
		}
	}
}

// runCycle performs one full snapshot-extract-classify-publish pass. A
// panic anywhere inside is confined to this cycle: it is logged and the
// cycle reported degraded, and the loop carries on.
func (p *Processor) runCycle() (degraded bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("processor: cycle panic recovered: %v\n%s", r, debug.Stack())
			degraded = true
			p.mu.Lock()
			p.degraded++
			p.mu.Unlock()
		}
	}()

	snap := p.store.SnapshotWindow(p.params.EEGWindow, p.params.PPGWindow, p.params.ACCWindow)

	update := Update{
		At:       snap.Taken,
		EEGStale: snap.EEGAge > p.params.StaleAfter,
		PPGStale: snap.PPGAge > p.params.StaleAfter,
	}
	if p.trend != nil {
		update.Trend = p.trend.Trend()
	}

	// A silent EEG or PPG stream invalidates the whole cycle: publish the
	// stale label with no features and make the debounce start over once
	// data returns.
	if update.EEGStale || update.PPGStale {
		monitoring.Logf("processor: stale input (eeg age %s, ppg age %s)",
			ageString(snap.EEGAge), ageString(snap.PPGAge))
		update.State = p.classifier.MarkStale()
		p.mu.Lock()
		p.stale++
		p.mu.Unlock()
		return p.publish(update)
	}

	feats, probs := p.extract(snap)
	flags := p.classifier.Flags(feats, snap.Baseline)
	tentative := p.classifier.Tentative(feats, flags, snap.Baseline)

	update.State = p.classifier.Observe(tentative)
	update.Ratio = feats.Ratio.Ptr()
	update.HeartRate = feats.HeartRate.Ptr()
	update.Theta = feats.Theta.Ptr()
	update.Movement = feats.Movement.Ptr()
	update.Flags = flags
	update.Expression = probs
	if feats.ExpressionOK {
		score := feats.ExpressionScore
		update.ExpressionScore = &score
	}
	update.Suggestion, update.Confidence = p.suggest(update.State, update.Trend)

	return p.publish(update)
}

// extract runs every feature extractor over the snapshot's windows and
// polls the expression sidecar once. Missing windows come back as explicit
// undefined values.
func (p *Processor) extract(snap WindowSnapshot) (CycleFeatures, map[string]float64) {
	var feats CycleFeatures
	if snap.EEG != nil {
		feats.Ratio, feats.Theta = EEGBandPower(snap.EEG, p.params.EEG)
	} else {
		feats.Ratio = UndefinedValue(ReasonNoData)
		feats.Theta = UndefinedValue(ReasonNoData)
	}
	if snap.PPG != nil {
		feats.HeartRate = EstimateHeartRate(snap.PPG, p.params.PPG)
	} else {
		feats.HeartRate = UndefinedValue(ReasonNoData)
	}
	feats.Movement = MovementMetric(snap.ACC)

	var probs map[string]float64
	if p.expression != nil {
		if m, ok := p.expression.Current(); ok {
			probs = m
			feats.ExpressionScore = ExpressionScore(m, p.params.ExpressionWeights)
			feats.ExpressionOK = true
		}
	}
	return feats, probs
}

// suggest maps the official state and market trend to a stance. Only a calm
// operator follows the trend; every elevated or uncertain state sits flat
// or abstains.
func (p *Processor) suggest(s State, t Trend) (Position, float64) {
	conf := p.classifier.Agreement()
	switch s {
	case StateCalm:
		switch t {
		case TrendUp:
			return PositionLong, conf
		case TrendDown:
			return PositionShort, conf
		default:
			return PositionHold, conf
		}
	case StateWarning, StateStress, StateDrowsy:
		return PositionFlat, conf
	default:
		return PositionNone, 0
	}
}

// publish stores the update for pull readers and pushes it to the optional
// notifier and sink. A refused push means a consumer fell behind: the drop
// is counted, the cycle reports degraded and the loop backs off for a full
// interval. The shared snapshot is always updated first.
func (p *Processor) publish(u Update) (dropped bool) {
	p.mu.Lock()
	p.cycles++
	p.last = u
	p.mu.Unlock()

	if p.notifier != nil && !p.notifier.Publish(u) {
		dropped = true
		p.mu.Lock()
		p.dropped++
		p.degraded++
		p.mu.Unlock()
		monitoring.Logf("processor: notification dropped, consumer queue full")
	}
	if p.sink != nil {
		p.sink.RecordCycle(u)
	}
	return dropped
}

// Snapshot returns the most recent published update without blocking the
// loop beyond a field copy.
func (p *Processor) Snapshot() Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Cycles returns the number of completed cycles.
func (p *Processor) Cycles() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycles
}

// Stats reports the loop's counters: total cycles, stale cycles, dropped
// notifications and degraded cycles (panicked or drop-throttled).
func (p *Processor) Stats() (cycles, stale, dropped, degraded uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycles, p.stale, p.dropped, p.degraded
}

func ageString(d time.Duration) string {
	if d == AgeNever {
		return "never"
	}
	return d.Round(time.Millisecond).String()
}
