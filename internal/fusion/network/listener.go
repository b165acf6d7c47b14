// Package network receives the headband's OSC stream over UDP and feeds it
// to a packet handler.
package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"
)

// StatsRecorder tracks ingest statistics. Implementations must be safe for
// concurrent use; the listener calls it from the receive loop while the
// logging goroutine drains it.
type StatsRecorder interface {
	AddPacket(bytes int)
	AddSamples(count int)
	AddError()
	LogStats()
}

// PacketHandler consumes one UDP payload and reports how many samples it
// stored. Decode errors are the handler's to classify; the listener only
// logs them and keeps receiving.
type PacketHandler interface {
	HandlePacket(packet []byte) (int, error)
}

// Config carries the listener's tuning.
type Config struct {
	// Address is the UDP listen address, e.g. ":5001".
	Address string

	// RcvBuf is the socket receive buffer size in bytes. Zero keeps the
	// kernel default.
	RcvBuf int

	// LogInterval is the cadence of ingest statistics logging; zero means
	// once a minute.
	LogInterval time.Duration

	Stats   StatsRecorder
	Handler PacketHandler
}

// Listener owns one UDP socket and the receive loop over it.
type Listener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	stats       StatsRecorder
	handler     PacketHandler
	conn        *net.UDPConn
}

// NewListener builds a listener; Start binds the socket.
func NewListener(cfg Config) *Listener {
	stats := cfg.Stats
	if stats == nil {
		stats = noopStats{}
	}
	logInterval := cfg.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &Listener{
		address:     cfg.Address,
		rcvBuf:      cfg.RcvBuf,
		logInterval: logInterval,
		stats:       stats,
		handler:     cfg.Handler,
	}
}

type noopStats struct{}

func (noopStats) AddPacket(int)  {}
func (noopStats) AddSamples(int) {}
func (noopStats) AddError()      {}
func (noopStats) LogStats()      {}

// Start binds the socket and runs the receive loop until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.listen(); err != nil {
		return err
	}
	return l.serve(ctx)
}

func (l *Listener) listen() error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", l.address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.address, err)
	}
	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			log.Printf("Warning: failed to set UDP receive buffer to %d: %v", l.rcvBuf, err)
		}
	}
	l.conn = conn
	log.Printf("OSC listener started on %s", conn.LocalAddr())
	return nil
}

func (l *Listener) serve(ctx context.Context) error {
	defer l.conn.Close()
	go l.statsLoop(ctx)

	// Headband bundles stay well under one MTU; leave headroom anyway.
	buffer := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			log.Print("OSC listener stopping")
			return ctx.Err()
		default:
			// A short read deadline keeps the loop responsive to ctx.
			l.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, addr, err := l.conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("UDP read error: %v", err)
				continue
			}

			l.stats.AddPacket(n)
			samples, err := l.handler.HandlePacket(buffer[:n])
			if err != nil {
				// A bad packet never stops the stream.
				l.stats.AddError()
				log.Printf("Error handling packet from %v: %v", addr, err)
				continue
			}
			l.stats.AddSamples(samples)
		}
	}
}

// statsLoop logs an early snapshot so a silent stream is noticed quickly,
// then settles into the configured cadence.
func (l *Listener) statsLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}
