package osc

import (
	"sync"

	"github.com/biotrace-data/vitals.monitor/internal/fusion"
	"github.com/biotrace-data/vitals.monitor/internal/monitoring"
)

// Stream addresses emitted by the headband bridge.
const (
	AddressEEG = "/eeg"
	AddressPPG = "/ppg"
	AddressACC = "/acc"
)

// Dispatcher routes decoded messages into the sample store by address
// pattern. The headband also emits housekeeping addresses (battery, touch
// contacts); those are counted and dropped, with one log line per new
// address so a misconfigured bridge is visible without flooding.
type Dispatcher struct {
	store *fusion.Store

	mu        sync.Mutex
	ignored   map[string]uint64
	malformed uint64
}

// NewDispatcher wires message routing to store.
func NewDispatcher(store *fusion.Store) *Dispatcher {
	return &Dispatcher{
		store:   store,
		ignored: make(map[string]uint64),
	}
}

// HandlePacket decodes one UDP payload and ingests every recognized
// message, returning the number of samples stored. A payload that is not
// valid OSC is an error; unknown addresses and malformed arguments inside
// a valid payload are counted instead, since the stream must survive them.
func (d *Dispatcher) HandlePacket(data []byte) (int, error) {
	msgs, err := Parse(data)
	if err != nil {
		return 0, err
	}
	stored := 0
	for _, m := range msgs {
		if d.dispatch(m) {
			stored++
		}
	}
	return stored, nil
}

func (d *Dispatcher) dispatch(m Message) bool {
	vals, numeric := m.Floats()
	switch m.Address {
	case AddressEEG:
		if !numeric {
			return d.reject(m.Address, "non-numeric arguments")
		}
		if err := d.store.IngestEEG(vals); err != nil {
			return d.reject(m.Address, err.Error())
		}
		return true
	case AddressPPG:
		if !numeric {
			return d.reject(m.Address, "non-numeric arguments")
		}
		if err := d.store.IngestPPG(vals); err != nil {
			return d.reject(m.Address, err.Error())
		}
		return true
	case AddressACC:
		if !numeric || len(vals) != 3 {
			return d.reject(m.Address, "want 3 numeric axes")
		}
		d.store.IngestACC(vals[0], vals[1], vals[2])
		return true
	default:
		d.mu.Lock()
		d.ignored[m.Address]++
		first := d.ignored[m.Address] == 1
		d.mu.Unlock()
		if first {
			monitoring.Logf("osc: ignoring address %s", m.Address)
		}
		return false
	}
}

func (d *Dispatcher) reject(addr, why string) bool {
	d.mu.Lock()
	d.malformed++
	d.mu.Unlock()
	monitoring.Logf("osc: dropping %s message: %s", addr, why)
	return false
}

// Stats reports messages dropped since startup: malformed ones on known
// addresses, and the total across ignored addresses.
func (d *Dispatcher) Stats() (malformed, ignored uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	malformed = d.malformed
	for _, n := range d.ignored {
		ignored += n
	}
	return malformed, ignored
}
