// Command replay resends the UDP payloads of a captured session to a live
// monitor, preserving the original inter-packet timing. Use it to rerun a
// recorded headband stream against new tuning without the hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	pcapFile = flag.String("pcap", "", "Capture file to replay (required)")
	target   = flag.String("target", "127.0.0.1:5001", "UDP address of the monitor's OSC listener")
	port     = flag.Int("port", 5001, "Replay only UDP packets to this destination port (0 = all UDP)")
	speed    = flag.Float64("speed", 1.0, "Replay speed multiplier (1.0 = original timing)")
	loop     = flag.Bool("loop", false, "Restart from the beginning when the capture ends")
)

// replayStats accumulates per-pass counters.
type replayStats struct {
	packets int
	bytes   int
	skipped int
}

func main() {
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("a -pcap capture file is required")
	}
	if *speed <= 0 {
		log.Fatal("-speed must be positive")
	}

	conn, err := net.Dial("udp", *target)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *target, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for pass := 1; ; pass++ {
		stats, err := replayOnce(ctx, *pcapFile, conn, *port, *speed)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("replay interrupted after %d packets", stats.packets)
				return
			}
			log.Fatalf("replay failed: %v", err)
		}
		log.Printf("pass %d complete: %d packets, %d bytes sent, %d non-matching skipped",
			pass, stats.packets, stats.bytes, stats.skipped)
		if !*loop {
			return
		}
	}
}

// replayOnce streams one full pass of the capture, pacing sends by the
// original capture timestamps scaled by the speed multiplier.
func replayOnce(ctx context.Context, path string, conn net.Conn, dstPort int, speed float64) (replayStats, error) {
	var stats replayStats

	f, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return stats, fmt.Errorf("read capture header: %w", err)
	}

	var lastCapture time.Time
	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read packet: %w", err)
		}

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			stats.skipped++
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			stats.skipped++
			continue
		}
		if dstPort != 0 && int(udp.DstPort) != dstPort {
			stats.skipped++
			continue
		}

		// Hold the original spacing between matched packets, scaled by the
		// speed multiplier.
		if !lastCapture.IsZero() {
			delay := time.Duration(float64(ci.Timestamp.Sub(lastCapture)) / speed)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return stats, ctx.Err()
				case <-time.After(delay):
				}
			}
		}
		lastCapture = ci.Timestamp

		if _, err := conn.Write(udp.Payload); err != nil {
			return stats, fmt.Errorf("send packet: %w", err)
		}
		stats.packets++
		stats.bytes += len(udp.Payload)
	}
}
