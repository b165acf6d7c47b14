package fusion

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrBadSample marks a malformed sample rejected at ingestion. The transports
// log and continue; a bad packet is never fatal.
var ErrBadSample = errors.New("bad sample")

// AgeNever is the reported age of a stream that has not received a single
// sample yet.
const AgeNever = time.Duration(math.MaxInt64)

// StoreConfig fixes the buffer shape at construction time.
type StoreConfig struct {
	EEGChannels int
	EEGCapacity int // per channel
	PPGCapacity int
	ACCCapacity int
}

// StoreConfigFor sizes buffers to cover a calibration run plus margin, so the
// calibrator can pull a complete history out of the rings.
func StoreConfigFor(p Params) StoreConfig {
	secs := (p.CalibrationDuration + BufferMargin).Seconds()
	return StoreConfig{
		EEGChannels: p.EEG.Channels,
		EEGCapacity: int(p.EEG.Rate * secs),
		PPGCapacity: int(p.PPG.Rate * secs),
		ACCCapacity: max(int(p.ACC.Rate*secs), MinACCCapacity),
	}
}

// Store owns the bounded sample buffers for every input stream together with
// the per-stream arrival clocks and the calibrated baseline. One mutex guards
// every store-wide operation so a snapshot reflects a single consistent
// instant. All reads copy data out; filtering and PSD work happens on the
// copies outside the lock, which keeps ingestion latency down to the copy
// itself.
type Store struct {
	mu sync.Mutex

	eeg []*ring[Sample] // one ring per channel
	ppg *ring[Sample]
	acc *ring[VectorSample]

	lastEEG time.Time
	lastPPG time.Time
	lastACC time.Time

	baseline Baseline

	droppedEEG uint64 // malformed samples discarded
	droppedPPG uint64

	now func() time.Time
}

// NewStore creates an empty store with fixed capacities. It must be the only
// store handle shared between the transports and the processing loop; there
// is deliberately no package-level instance.
func NewStore(cfg StoreConfig) *Store {
	if cfg.EEGChannels < 1 {
		cfg.EEGChannels = 1
	}
	s := &Store{
		eeg: make([]*ring[Sample], cfg.EEGChannels),
		ppg: newRing[Sample](cfg.PPGCapacity),
		acc: newRing[VectorSample](cfg.ACCCapacity),
		now: time.Now,
	}
	for i := range s.eeg {
		s.eeg[i] = newRing[Sample](cfg.EEGCapacity)
	}
	return s
}

// IngestEEG appends one observation per channel, captured atomically across
// channels under a single arrival timestamp. The sample must carry exactly
// one value per configured channel; anything else is dropped and counted.
func (s *Store) IngestEEG(values []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(values) != len(s.eeg) {
		s.droppedEEG++
		return fmt.Errorf("%w: eeg sample has %d values, want %d", ErrBadSample, len(values), len(s.eeg))
	}
	at := s.now()
	for i, v := range values {
		s.eeg[i].append(Sample{At: at, Value: v})
	}
	s.lastEEG = at
	return nil
}

// IngestPPG appends one PPG observation. The sensor delivers each sample as a
// short tuple with the optical reading in the middle slot; the envelope
// fields around it are discarded.
func (s *Store) IngestPPG(sample []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sample) < 2 {
		s.droppedPPG++
		return fmt.Errorf("%w: ppg sample has %d fields, want at least 2", ErrBadSample, len(sample))
	}
	at := s.now()
	s.ppg.append(Sample{At: at, Value: sample[1]})
	s.lastPPG = at
	return nil
}

// IngestACC appends one 3-axis accelerometer observation.
func (s *Store) IngestACC(x, y, z float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	s.acc.append(VectorSample{At: at, X: x, Y: y, Z: z})
	s.lastACC = at
}

// WindowSnapshot is a consistent view of the recent samples across all
// streams, taken under one lock acquisition. Slices are copies. A nil slice
// marks a stream with no samples inside its window; EEG is nil when any
// channel's window is empty, since band power needs the full channel matrix.
type WindowSnapshot struct {
	Taken time.Time

	// Time since the newest sample per stream; AgeNever before the first
	// sample arrives.
	EEGAge time.Duration
	PPGAge time.Duration
	ACCAge time.Duration

	EEG [][]float64 // [channel][sample], oldest first
	PPG []float64
	ACC []VectorSample

	Baseline Baseline
}

// SnapshotWindow returns the samples whose arrival time falls within the
// per-stream durations, measured back from one shared clock reading.
func (s *Store) SnapshotWindow(eegDur, ppgDur, accDur time.Duration) WindowSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	snap := WindowSnapshot{
		Taken:    now,
		EEGAge:   age(now, s.lastEEG),
		PPGAge:   age(now, s.lastPPG),
		ACCAge:   age(now, s.lastACC),
		Baseline: s.baseline.Clone(),
	}

	eeg := make([][]float64, len(s.eeg))
	complete := len(s.eeg) > 0
	for i, r := range s.eeg {
		vals := sampleValues(r.since(now.Add(-eegDur)))
		if len(vals) == 0 {
			complete = false
			break
		}
		eeg[i] = vals
	}
	if complete {
		snap.EEG = eeg
	}

	if vals := sampleValues(s.ppg.since(now.Add(-ppgDur))); len(vals) > 0 {
		snap.PPG = vals
	}
	if vecs := s.acc.since(now.Add(-accDur)); len(vecs) > 0 {
		snap.ACC = vecs
	}
	return snap
}

// AllEEG returns the complete buffered history per channel, oldest first.
// Used by the calibrator, which replays the whole recording through the
// run-time extractors.
func (s *Store) AllEEG() [][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]float64, len(s.eeg))
	for i, r := range s.eeg {
		out[i] = sampleValues(r.all())
	}
	return out
}

// AllPPG returns the complete buffered PPG history, oldest first.
func (s *Store) AllPPG() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sampleValues(s.ppg.all())
}

// AllACC returns the complete buffered accelerometer history, oldest first.
func (s *Store) AllACC() []VectorSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.all()
}

// SetBaseline installs the calibrated statistics. The calibrator calls this
// exactly once per run; readers always observe a fully written value.
func (s *Store) SetBaseline(b Baseline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline = b.Clone()
}

// GetBaseline returns a copy of the calibrated statistics.
func (s *Store) GetBaseline() Baseline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline.Clone()
}

// Dropped reports how many malformed samples each validated stream has
// discarded since startup.
func (s *Store) Dropped() (eeg, ppg uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedEEG, s.droppedPPG
}

// Lengths reports the current fill of each stream's buffers. EEG channels
// fill in lockstep, so one number per stream is enough.
func (s *Store) Lengths() (eeg, ppg, acc int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.eeg) > 0 {
		eeg = s.eeg[0].size
	}
	return eeg, s.ppg.size, s.acc.size
}

func age(now, last time.Time) time.Duration {
	if last.IsZero() {
		return AgeNever
	}
	return now.Sub(last)
}

func sampleValues(in []Sample) []float64 {
	if len(in) == 0 {
		return nil
	}
	out := make([]float64, len(in))
	for i, s := range in {
		out[i] = s.Value
	}
	return out
}
