// Command synth emits a synthetic headband stream as OSC over UDP: EEG as
// band sinusoids plus noise, PPG as a pulse train at a target BPM, and
// accelerometer gravity with jitter. It drives the monitor end to end
// without hardware.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"math/rand"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/biotrace-data/vitals.monitor/internal/fusion/osc"
)

var (
	target   = flag.String("target", "127.0.0.1:5001", "UDP address of the monitor's OSC listener")
	duration = flag.Duration("duration", 0, "How long to stream (0 = until interrupted)")
	seed     = flag.Int64("seed", 0, "Random seed (0 = time-based)")

	eegRate  = flag.Float64("eeg-rate", 256, "EEG sample rate in Hz")
	channels = flag.Int("channels", 4, "EEG channel count")
	alphaAmp = flag.Float64("alpha-amp", 2.0, "Alpha (10 Hz) sinusoid amplitude")
	betaAmp  = flag.Float64("beta-amp", 1.0, "Beta (20 Hz) sinusoid amplitude")
	thetaAmp = flag.Float64("theta-amp", 0.5, "Theta (6 Hz) sinusoid amplitude")
	eegNoise = flag.Float64("eeg-noise", 5.0, "EEG noise standard deviation")

	ppgRate  = flag.Float64("ppg-rate", 64, "PPG sample rate in Hz")
	bpm      = flag.Float64("bpm", 72, "Simulated heart rate in BPM")
	ppgNoise = flag.Float64("ppg-noise", 2.0, "PPG noise standard deviation")

	accRate  = flag.Float64("acc-rate", 50, "Accelerometer sample rate in Hz")
	jitter   = flag.Float64("jitter", 0.5, "Accelerometer noise standard deviation")
	moveProb = flag.Float64("move-prob", 0.1, "Per-sample probability of a movement burst")
)

// Band sinusoid frequencies, chosen well inside the integration bands so
// spectral leakage does not blur the feature under test.
const (
	alphaHz = 10.0
	betaHz  = 20.0
	thetaHz = 6.0
)

// eegGen synthesizes one multichannel EEG sample per call, advancing a
// shared phase clock by the sample period.
type eegGen struct {
	rng      *rand.Rand
	channels int
	rate     float64
	alpha    float64
	beta     float64
	theta    float64
	noise    float64
	t        float64
}

func (g *eegGen) next() []float64 {
	sample := make([]float64, g.channels)
	for i := range sample {
		// Small per-channel phase offset so channels are correlated but
		// not identical.
		phase := g.t + float64(i)*0.01
		sample[i] = g.alpha*math.Sin(2*math.Pi*alphaHz*phase) +
			g.beta*math.Sin(2*math.Pi*betaHz*phase) +
			g.theta*math.Sin(2*math.Pi*thetaHz*phase) +
			g.rng.NormFloat64()*g.noise
	}
	g.t += 1.0 / g.rate
	return sample
}

// ppgGen synthesizes the bridge's three-field PPG tuple with the optical
// reading in the middle slot.
type ppgGen struct {
	rng   *rand.Rand
	rate  float64
	bpm   float64
	noise float64
	t     float64
}

func (g *ppgGen) next() []float64 {
	value := 10*math.Sin(2*math.Pi*(g.bpm/60)*g.t) + g.rng.NormFloat64()*g.noise
	g.t += 1.0 / g.rate
	sensorID := float64(1 + g.rng.Intn(3))
	return []float64{sensorID, value, sensorID}
}

// accGen synthesizes a resting accelerometer with gravity on the z axis
// and occasional movement bursts.
type accGen struct {
	rng      *rand.Rand
	jitter   float64
	moveProb float64
}

func (g *accGen) next() (x, y, z float64) {
	x = g.rng.NormFloat64() * g.jitter
	y = g.rng.NormFloat64() * g.jitter
	z = 9.8 + g.rng.NormFloat64()*g.jitter
	if g.rng.Float64() < g.moveProb {
		x += g.rng.Float64()*4 - 2
		y += g.rng.Float64()*4 - 2
		z += g.rng.Float64()*4 - 2
	}
	return x, y, z
}

func main() {
	flag.Parse()

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(s))

	conn, err := net.Dial("udp", *target)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *target, err)
	}
	defer conn.Close()

	eeg := &eegGen{rng: rng, channels: *channels, rate: *eegRate,
		alpha: *alphaAmp, beta: *betaAmp, theta: *thetaAmp, noise: *eegNoise}
	ppg := &ppgGen{rng: rng, rate: *ppgRate, bpm: *bpm, noise: *ppgNoise}
	acc := &accGen{rng: rng, jitter: *jitter, moveProb: *moveProb}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	log.Printf("streaming to %s: /eeg @ %.0f Hz x%d ch, /ppg @ %.0f Hz (%.0f BPM), /acc @ %.0f Hz (seed %d)",
		*target, *eegRate, *channels, *ppgRate, *bpm, *accRate, s)

	eegPeriod := time.Duration(float64(time.Second) / *eegRate)
	ppgPeriod := time.Duration(float64(time.Second) / *ppgRate)
	accPeriod := time.Duration(float64(time.Second) / *accRate)

	var sent, sendErrs int
	now := time.Now()
	eegDue, ppgDue, accDue := now, now, now

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("sent %d messages (%d send errors)", sent, sendErrs)
			return
		case now = <-ticker.C:
		}

		if !now.Before(eegDue) {
			if sendSample(conn, osc.AddressEEG, eeg.next()) {
				sent++
			} else {
				sendErrs++
			}
			eegDue = eegDue.Add(eegPeriod)
			if now.Sub(eegDue) > time.Second {
				eegDue = now // never try to catch up across a long stall
			}
		}
		if !now.Before(ppgDue) {
			if sendSample(conn, osc.AddressPPG, ppg.next()) {
				sent++
			} else {
				sendErrs++
			}
			ppgDue = ppgDue.Add(ppgPeriod)
			if now.Sub(ppgDue) > time.Second {
				ppgDue = now
			}
		}
		if !now.Before(accDue) {
			x, y, z := acc.next()
			if sendSample(conn, osc.AddressACC, []float64{x, y, z}) {
				sent++
			} else {
				sendErrs++
			}
			accDue = accDue.Add(accPeriod)
			if now.Sub(accDue) > time.Second {
				accDue = now
			}
		}
	}
}

func sendSample(conn net.Conn, addr string, values []float64) bool {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	packet, err := osc.EncodeMessage(addr, args...)
	if err != nil {
		log.Printf("encode %s: %v", addr, err)
		return false
	}
	if _, err := conn.Write(packet); err != nil {
		log.Printf("send %s: %v", addr, err)
		return false
	}
	return true
}
