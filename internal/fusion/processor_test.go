package fusion

import (
	"context"
	"math"
	"testing"
	"time"
)

type stubTrend struct{ t Trend }

func (s stubTrend) Trend() Trend { return s.t }

type stubExpression struct {
	m  map[string]float64
	ok bool
}

func (s stubExpression) Current() (map[string]float64, bool) { return s.m, s.ok }

type captureNotifier struct {
	ok      bool
	updates []Update
}

func (n *captureNotifier) Publish(u Update) bool {
	n.updates = append(n.updates, u)
	return n.ok
}

type captureSink struct{ got []Update }

func (s *captureSink) RecordCycle(u Update) { s.got = append(s.got, u) }

type panicNotifier struct{}

func (panicNotifier) Publish(Update) bool { panic("consumer exploded") }

func processorParams() Params {
	p := DefaultParams()
	p.EEG.Channels = 2
	p.Persistence = 1
	return p
}

// wideBaseline sits every threshold far away so a regular recording
// classifies as calm.
func wideBaseline() Baseline {
	return Baseline{
		Ratio:     &FeatureStats{Median: 1, Std: 1000},
		HeartRate: &FeatureStats{Median: 75, Std: 1000},
		Theta:     &FeatureStats{Median: 1, Std: 1000},
		Movement:  &FeatureStats{Median: 1, Std: 1000},
	}
}

func feedProcessorStore(t *testing.T, s *Store) {
	t.Helper()
	ch := eegMix(1.0, 0.5, 768)
	for i := range ch {
		if err := s.IngestEEG([]float64{ch[i], ch[i]}); err != nil {
			t.Fatalf("IngestEEG error = %v", err)
		}
	}
	for _, v := range pulseTrain(768) {
		if err := s.IngestPPG([]float64{0, v, 0}); err != nil {
			t.Fatalf("IngestPPG error = %v", err)
		}
	}
	for i := 0; i < 200; i++ {
		x := 0.0
		if i%2 == 0 {
			x = 0.05
		}
		s.IngestACC(x, 0, 9.81)
	}
}

func TestProcessorFreshCycle(t *testing.T) {
	s, _ := testStore(StoreConfig{EEGChannels: 2, EEGCapacity: 1000, PPGCapacity: 1000, ACCCapacity: 500})
	feedProcessorStore(t, s)
	s.SetBaseline(wideBaseline())

	notifier := &captureNotifier{ok: true}
	sink := &captureSink{}
	p := NewProcessor(s, processorParams(), ProcessorConfig{
		Expression: stubExpression{m: map[string]float64{"angry": 0.2}, ok: true},
		Trend:      stubTrend{t: TrendUp},
		Notifier:   notifier,
		Sink:       sink,
	})

	if degraded := p.runCycle(); degraded {
		t.Fatal("healthy cycle reported degraded")
	}

	u := p.Snapshot()
	if u.State != StateCalm {
		t.Fatalf("state = %q, want Calm", u.State)
	}
	if u.HeartRate == nil || math.Abs(*u.HeartRate-75) > 3 {
		t.Errorf("heart rate = %v, want 75 +/- 3", u.HeartRate)
	}
	if u.Ratio == nil || u.Theta == nil || u.Movement == nil {
		t.Errorf("features missing from update: %+v", u)
	}
	if u.ExpressionScore == nil || math.Abs(*u.ExpressionScore-0.2) > 1e-9 {
		t.Errorf("expression score = %v, want 0.2", u.ExpressionScore)
	}
	if u.EEGStale || u.PPGStale {
		t.Errorf("staleness = %v/%v on fresh data", u.EEGStale, u.PPGStale)
	}
	if u.Trend != TrendUp || u.Suggestion != PositionLong {
		t.Errorf("suggestion = %q on trend %q, want long on up", u.Suggestion, u.Trend)
	}
	if u.Confidence != 1 {
		t.Errorf("confidence = %v, want 1 with a unanimous window", u.Confidence)
	}

	if len(notifier.updates) != 1 || len(sink.got) != 1 {
		t.Errorf("publishes = %d, recorded = %d, want 1 each", len(notifier.updates), len(sink.got))
	}
	cycles, stale, dropped, degraded := p.Stats()
	if cycles != 1 || stale != 0 || dropped != 0 || degraded != 0 {
		t.Errorf("stats = %d,%d,%d,%d, want 1,0,0,0", cycles, stale, dropped, degraded)
	}
}

func TestProcessorStaleCycle(t *testing.T) {
	s, _ := testStore(StoreConfig{EEGChannels: 2, EEGCapacity: 10, PPGCapacity: 10, ACCCapacity: 10})
	if err := s.IngestPPG([]float64{0, 1, 0}); err != nil {
		t.Fatalf("IngestPPG error = %v", err)
	}

	notifier := &captureNotifier{ok: true}
	p := NewProcessor(s, processorParams(), ProcessorConfig{Notifier: notifier})

	if degraded := p.runCycle(); degraded {
		t.Fatal("stale cycle reported degraded")
	}

	u := p.Snapshot()
	if u.State != StateUncertainStale {
		t.Fatalf("state = %q, want stale", u.State)
	}
	if !u.EEGStale {
		t.Error("EEGStale = false on a silent EEG stream")
	}
	if u.PPGStale {
		t.Error("PPGStale = true with fresh PPG data")
	}
	if u.Ratio != nil || u.HeartRate != nil || u.Theta != nil || u.Movement != nil {
		t.Error("stale update carries features")
	}
	if p.classifier.history.size != 0 {
		t.Errorf("vote history size = %d after stale cycle, want 0", p.classifier.history.size)
	}

	cycles, stale, _, _ := p.Stats()
	if cycles != 1 || stale != 1 {
		t.Errorf("cycles,stale = %d,%d, want 1,1", cycles, stale)
	}
	if len(notifier.updates) != 1 {
		t.Errorf("stale cycle published %d updates, want 1", len(notifier.updates))
	}
}

func TestProcessorCountsDroppedNotifications(t *testing.T) {
	s, _ := testStore(StoreConfig{EEGChannels: 2, EEGCapacity: 10, PPGCapacity: 10, ACCCapacity: 10})

	notifier := &captureNotifier{ok: false}
	sink := &captureSink{}
	p := NewProcessor(s, processorParams(), ProcessorConfig{Notifier: notifier, Sink: sink})

	// A refused push degrades the cycle so Run backs off for a full
	// interval instead of hammering a consumer that is already behind.
	if degraded := p.runCycle(); !degraded {
		t.Fatal("cycle with refused push not reported degraded")
	}

	_, _, dropped, degraded := p.Stats()
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if degraded != 1 {
		t.Errorf("degraded = %d, want 1", degraded)
	}
	// A refused push never blocks the pull snapshot or the recorder.
	if p.Snapshot().State != StateUncertainStale {
		t.Errorf("snapshot state = %q, want stale", p.Snapshot().State)
	}
	if len(sink.got) != 1 {
		t.Errorf("recorded = %d, want 1", len(sink.got))
	}
}

func TestProcessorPanicConfinedToCycle(t *testing.T) {
	s, _ := testStore(StoreConfig{EEGChannels: 2, EEGCapacity: 10, PPGCapacity: 10, ACCCapacity: 10})
	p := NewProcessor(s, processorParams(), ProcessorConfig{Notifier: panicNotifier{}})

	if degraded := p.runCycle(); !degraded {
		t.Fatal("panicking cycle not reported degraded")
	}
	if degraded := p.runCycle(); !degraded {
		t.Fatal("second panicking cycle not reported degraded")
	}

	_, _, _, degraded := p.Stats()
	if degraded != 2 {
		t.Errorf("degraded = %d, want 2", degraded)
	}
}

func TestProcessorSuggest(t *testing.T) {
	s, _ := testStore(StoreConfig{EEGChannels: 2, EEGCapacity: 10, PPGCapacity: 10, ACCCapacity: 10})
	p := NewProcessor(s, processorParams(), ProcessorConfig{})

	cases := []struct {
		state State
		trend Trend
		want  Position
	}{
		{StateCalm, TrendUp, PositionLong},
		{StateCalm, TrendDown, PositionShort},
		{StateCalm, TrendFlat, PositionHold},
		{StateCalm, TrendNone, PositionHold},
		{StateWarning, TrendUp, PositionFlat},
		{StateStress, TrendDown, PositionFlat},
		{StateDrowsy, TrendNone, PositionFlat},
		{StateInitializing, TrendUp, PositionNone},
		{StateUncertainNaN, TrendUp, PositionNone},
		{StateUncertainStale, TrendDown, PositionNone},
	}
	for _, tc := range cases {
		pos, conf := p.suggest(tc.state, tc.trend)
		if pos != tc.want {
			t.Errorf("suggest(%q, %q) = %q, want %q", tc.state, tc.trend, pos, tc.want)
		}
		if tc.want == PositionNone && conf != 0 {
			t.Errorf("suggest(%q, %q) confidence = %v, want 0", tc.state, tc.trend, conf)
		}
	}
}

func TestProcessorExpressionUnavailable(t *testing.T) {
	s, _ := testStore(StoreConfig{EEGChannels: 2, EEGCapacity: 1000, PPGCapacity: 1000, ACCCapacity: 500})
	feedProcessorStore(t, s)
	s.SetBaseline(wideBaseline())

	p := NewProcessor(s, processorParams(), ProcessorConfig{
		Expression: stubExpression{ok: false},
	})
	p.runCycle()

	u := p.Snapshot()
	if u.Expression != nil || u.ExpressionScore != nil {
		t.Errorf("expression fields set while the sidecar is down: %+v", u)
	}
	if u.Flags.ExpressionStress {
		t.Error("expression flag raised without a reading")
	}
	if u.State != StateCalm {
		t.Errorf("state = %q, want Calm without the expression cue", u.State)
	}
}

func TestProcessorRunStopsOnCancel(t *testing.T) {
	s := NewStore(StoreConfig{EEGChannels: 1, EEGCapacity: 4, PPGCapacity: 4, ACCCapacity: 4})
	params := processorParams()
	params.UpdateInterval = 20 * time.Millisecond

	p := NewProcessor(s, params, ProcessorConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if p.Cycles() == 0 {
		t.Error("no cycles completed before shutdown")
	}
}

func TestMultiSink(t *testing.T) {
	first := &captureSink{}
	second := &captureSink{}
	sink := MultiSink(first, second)

	u := Update{At: time.Now(), State: StateCalm}
	sink.RecordCycle(u)

	if len(first.got) != 1 || len(second.got) != 1 {
		t.Fatalf("recorded = %d,%d, want 1 each", len(first.got), len(second.got))
	}
	if first.got[0].State != StateCalm || second.got[0].State != StateCalm {
		t.Error("sinks received different updates")
	}

	// Empty fan-out is a usable no-op
	MultiSink().RecordCycle(u)
}
