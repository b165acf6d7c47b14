package network

import (
	"log"
	"sync"
	"time"
)

// StatsSnapshot represents a snapshot of current ingest statistics
type StatsSnapshot struct {
	PacketsPerSec float64   `json:"packets_per_sec"`
	KBPerSec      float64   `json:"kb_per_sec"`
	SamplesPerSec float64   `json:"samples_per_sec"`
	ErrorCount    int64     `json:"error_count"`
	Timestamp     time.Time `json:"timestamp"`
}

// IngestStats tracks receive-side counters with thread-safe operations.
type IngestStats struct {
	mu             sync.Mutex
	packetCount    int64
	byteCount      int64
	sampleCount    int64
	errorCount     int64
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *StatsSnapshot
}

// NewIngestStats creates a zeroed stats collector.
func NewIngestStats() *IngestStats {
	now := time.Now()
	return &IngestStats{lastReset: now, startTime: now}
}

// AddPacket increments packet and byte counts.
func (s *IngestStats) AddPacket(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetCount++
	s.byteCount += int64(bytes)
}

// AddSamples increments the stored-sample count.
func (s *IngestStats) AddSamples(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleCount += int64(count)
}

// AddError increments the bad-packet count.
func (s *IngestStats) AddError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
}

// GetAndReset returns the counters and starts a new accounting window.
func (s *IngestStats) GetAndReset() (packets, bytes, samples, errs int64, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	duration = now.Sub(s.lastReset)
	packets = s.packetCount
	bytes = s.byteCount
	samples = s.sampleCount
	errs = s.errorCount

	s.packetCount = 0
	s.byteCount = 0
	s.sampleCount = 0
	s.errorCount = 0
	s.lastReset = now

	return
}

// LogStats logs the current window's rates, stores a snapshot for the web
// interface and resets the window. Quiet windows log nothing, so an idle
// headband does not fill the journal.
func (s *IngestStats) LogStats() {
	packets, bytes, samples, errs, duration := s.GetAndReset()
	if packets == 0 && errs == 0 {
		return
	}

	secs := duration.Seconds()
	if secs <= 0 {
		secs = 1
	}

	s.mu.Lock()
	s.latestSnapshot = &StatsSnapshot{
		PacketsPerSec: float64(packets) / secs,
		KBPerSec:      float64(bytes) / secs / 1024,
		SamplesPerSec: float64(samples) / secs,
		ErrorCount:    errs,
		Timestamp:     time.Now(),
	}
	s.mu.Unlock()

	log.Printf("Ingest stats (/sec): %.1f packets, %.1f KB, %.1f samples",
		float64(packets)/secs, float64(bytes)/secs/1024, float64(samples)/secs)
	if errs > 0 {
		log.Printf("Ingest stats: %d bad packets in the last %s", errs, duration.Round(time.Second))
	}
}

// GetUptime returns the time since the stats were created
func (s *IngestStats) GetUptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startTime)
}

// GetLatestSnapshot returns the most recent stats snapshot for the web
// interface, or nil before the first active window.
func (s *IngestStats) GetLatestSnapshot() *StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestSnapshot == nil {
		return nil
	}
	snapshot := *s.latestSnapshot
	return &snapshot
}
