package serialfeed

import (
	"context"
	"sync"

	"github.com/biotrace-data/vitals.monitor/internal/fusion"
	"github.com/biotrace-data/vitals.monitor/internal/monitoring"
)

// Consumer parses bridge lines and ingests them into the sample store. It is
// the serial counterpart of the OSC dispatcher: unknown tags and malformed
// fields are counted and the stream keeps flowing, with one log line per new
// unknown tag so a misconfigured bridge is visible without flooding.
type Consumer struct {
	store *fusion.Store

	mu        sync.Mutex
	ingested  uint64
	malformed uint64
	ignored   map[string]uint64
}

// NewConsumer wires line parsing to store.
func NewConsumer(store *fusion.Store) *Consumer {
	return &Consumer{
		store:   store,
		ignored: make(map[string]uint64),
	}
}

// Run ingests lines until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			c.HandleLine(line)
		}
	}
}

// HandleLine parses one bridge line and reports whether a sample was stored.
func (c *Consumer) HandleLine(line string) bool {
	tag, vals, err := ParseLine(line)
	if err != nil {
		return c.reject(tag, err.Error())
	}
	// Blank lines and status chatter
	if tag == "" {
		return false
	}

	switch tag {
	case TagEEG:
		if err := c.store.IngestEEG(vals); err != nil {
			return c.reject(tag, err.Error())
		}
	case TagPPG:
		if err := c.store.IngestPPG(vals); err != nil {
			return c.reject(tag, err.Error())
		}
	case TagACC:
		if len(vals) != 3 {
			return c.reject(tag, "want 3 numeric axes")
		}
		c.store.IngestACC(vals[0], vals[1], vals[2])
	default:
		c.mu.Lock()
		c.ignored[tag]++
		first := c.ignored[tag] == 1
		c.mu.Unlock()
		if first {
			monitoring.Logf("serialfeed: ignoring tag %q", tag)
		}
		return false
	}

	c.mu.Lock()
	c.ingested++
	c.mu.Unlock()
	return true
}

func (c *Consumer) reject(tag, why string) bool {
	c.mu.Lock()
	c.malformed++
	c.mu.Unlock()
	monitoring.Logf("serialfeed: dropping %q line: %s", tag, why)
	return false
}

// Stats reports lines stored and dropped since startup: malformed ones on
// known tags, and the total across ignored tags.
func (c *Consumer) Stats() (ingested, malformed, ignored uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ingested = c.ingested
	malformed = c.malformed
	for _, n := range c.ignored {
		ignored += n
	}
	return ingested, malformed, ignored
}
