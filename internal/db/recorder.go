package db

import (
	"context"
	"log"
	"sync"

	"github.com/biotrace-data/vitals.monitor/internal/fusion"
)

var _ fusion.CycleSink = (*Recorder)(nil)

// DefaultQueueDepth buffers about two minutes of cycles at the stock cadence.
const DefaultQueueDepth = 256

// Recorder moves cycle writes off the processing loop. RecordCycle enqueues
// without blocking; Run drains the queue into the database. A full queue
// drops the incoming update and counts it.
type Recorder struct {
	db        *DB
	sessionID string
	queue     chan fusion.Update

	mu        sync.Mutex
	written   uint64
	dropped   uint64
	writeErrs uint64
}

// NewRecorder creates a recorder for one session. A depth of zero uses
// DefaultQueueDepth.
func NewRecorder(db *DB, sessionID string, depth int) *Recorder {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Recorder{
		db:        db,
		sessionID: sessionID,
		queue:     make(chan fusion.Update, depth),
	}
}

// RecordCycle enqueues one update. It never blocks the caller.
func (r *Recorder) RecordCycle(u fusion.Update) {
	select {
	case r.queue <- u:
	default:
		r.mu.Lock()
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()
		if dropped == 1 {
			log.Printf("WARNING: recorder queue full, dropping cycles")
		}
	}
}

// Run writes queued updates until ctx is cancelled, then flushes whatever
// is still buffered before returning.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case u := <-r.queue:
					r.write(u)
				default:
					return ctx.Err()
				}
			}
		case u := <-r.queue:
			r.write(u)
		}
	}
}

func (r *Recorder) write(u fusion.Update) {
	err := r.db.RecordCycle(r.sessionID, u)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.writeErrs++
		if r.writeErrs == 1 {
			log.Printf("WARNING: recording cycle failed: %v", err)
		}
		return
	}
	r.written++
}

// Stats reports writes, queue drops and write errors since startup.
func (r *Recorder) Stats() (written, dropped, writeErrs uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written, r.dropped, r.writeErrs
}
