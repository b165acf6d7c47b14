package fusion

import (
	"fmt"
	"math"
	"math/cmplx"
)

/*
Band-pass filtering for the raw sensor windows.

The design path is the classic one: Butterworth low-pass prototype poles,
low-pass to band-pass transform with pre-warped edge frequencies, bilinear
transform into the z-plane, then conjugate pole pairs grouped into biquad
sections. Running second-order sections instead of one high-order polynomial
keeps the filter numerically stable at the small orders used here (3 for
PPG, 4 for EEG).

Windows are filtered forward and backward (filtfilt) so peaks and band
power stay phase-aligned with the raw signal, with odd reflection padding
at both ends to absorb the start-up transient.
*/

// biquad is one second-order filter section with normalized a0 = 1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// apply runs the section over x (direct form II transposed), returning a
// new slice. The internal state is seeded with the step-response steady
// state for x[0], so a constant offset passes through as an exact constant
// instead of a decaying start-up transient; short windows depend on this.
func (s biquad) apply(x []float64) []float64 {
	y := make([]float64, len(x))
	if len(x) == 0 {
		return y
	}
	g := (s.b0 + s.b1 + s.b2) / (1 + s.a1 + s.a2)
	z1 := (s.b1 + s.b2 - (s.a1+s.a2)*g) * x[0]
	z2 := (s.b2 - s.a2*g) * x[0]
	for i, v := range x {
		out := s.b0*v + z1
		z1 = s.b1*v - s.a1*out + z2
		z2 = s.b2*v - s.a2*out
		y[i] = out
	}
	return y
}

// bandpass designs a digital Butterworth band-pass filter as a cascade of
// order biquad sections. Cutoffs are in Hz and must sit strictly inside
// (0, rate/2).
func bandpass(order int, band Band, rate float64) ([]biquad, error) {
	if order < 1 {
		return nil, fmt.Errorf("bandpass: order %d, want >= 1", order)
	}
	nyquist := rate / 2
	if band.Low <= 0 || band.High <= band.Low || band.High >= nyquist {
		return nil, fmt.Errorf("bandpass: cutoffs (%g, %g) outside (0, %g)", band.Low, band.High, nyquist)
	}

	// Pre-warp the edges so the bilinear transform lands the cutoffs on the
	// requested digital frequencies.
	fs2 := 2 * rate
	warpLow := fs2 * math.Tan(math.Pi*band.Low/rate)
	warpHigh := fs2 * math.Tan(math.Pi*band.High/rate)
	bw := warpHigh - warpLow
	center2 := warpLow * warpHigh // squared analog center frequency

	// Butterworth prototype poles on the left unit semicircle, then the
	// band-pass transform splits each into a pair around the center.
	analog := make([]complex128, 0, 2*order)
	for k := 0; k < order; k++ {
		theta := math.Pi * float64(2*k+order+1) / float64(2*order)
		p := cmplx.Exp(complex(0, theta))

		pb := p * complex(bw, 0)
		disc := cmplx.Sqrt(pb*pb - complex(4*center2, 0))
		analog = append(analog, (pb+disc)/2, (pb-disc)/2)
	}

	// Bilinear transform into the z-plane.
	zpoles := make([]complex128, len(analog))
	for i, s := range analog {
		zpoles[i] = (complex(fs2, 0) + s) / (complex(fs2, 0) - s)
	}

	sections := pairPoles(zpoles)

	// Normalize to unit gain at the digital center frequency. The whole
	// correction goes into the first section; orders this small have no
	// headroom problem.
	wc := 2 * math.Atan(math.Sqrt(center2)/fs2)
	g := cascadeGainAt(sections, wc)
	if g < epsilon {
		return nil, fmt.Errorf("bandpass: degenerate design for (%g, %g) at %g Hz", band.Low, band.High, rate)
	}
	sections[0].b0 /= g
	sections[0].b1 /= g
	sections[0].b2 /= g
	return sections, nil
}

// pairPoles groups conjugate (or leftover real) z-plane pole pairs into
// biquads. Every band-pass section carries one zero at z=1 and one at z=-1,
// so the numerator is fixed at 1 - z^-2 before gain correction.
func pairPoles(zpoles []complex128) []biquad {
	const tol = 1e-10

	var complexPoles, realPoles []complex128
	for _, p := range zpoles {
		if math.Abs(imag(p)) > tol {
			if imag(p) > 0 {
				complexPoles = append(complexPoles, p)
			}
			// Conjugates are implied; keep one of each pair.
		} else {
			realPoles = append(realPoles, p)
		}
	}

	sections := make([]biquad, 0, len(complexPoles)+len(realPoles)/2)
	for _, p := range complexPoles {
		sections = append(sections, biquad{
			b0: 1, b2: -1,
			a1: -2 * real(p),
			a2: real(p)*real(p) + imag(p)*imag(p),
		})
	}
	for i := 0; i+1 < len(realPoles); i += 2 {
		p1, p2 := real(realPoles[i]), real(realPoles[i+1])
		sections = append(sections, biquad{
			b0: 1, b2: -1,
			a1: -(p1 + p2),
			a2: p1 * p2,
		})
	}
	return sections
}

// cascadeGainAt evaluates the cascade's magnitude response at digital
// frequency w (radians per sample).
func cascadeGainAt(sections []biquad, w float64) float64 {
	z1 := cmplx.Exp(complex(0, -w)) // z^-1
	z2 := z1 * z1
	h := complex(1, 0)
	for _, s := range sections {
		num := complex(s.b0, 0) + complex(s.b1, 0)*z1 + complex(s.b2, 0)*z2
		den := complex(1, 0) + complex(s.a1, 0)*z1 + complex(s.a2, 0)*z2
		h *= num / den
	}
	return cmplx.Abs(h)
}

// filtfilt applies the cascade forward and backward for zero net phase
// shift. The signal is extended at both ends by odd reflection so the
// filter state has settled by the time it reaches real samples.
func filtfilt(sections []biquad, x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}

	padlen := 3 * (2*len(sections) + 1)
	if padlen >= n {
		padlen = n - 1
	}

	ext := make([]float64, padlen+n+padlen)
	for i := 0; i < padlen; i++ {
		ext[i] = 2*x[0] - x[padlen-i]
		ext[padlen+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[padlen:], x)

	for _, s := range sections {
		ext = s.apply(ext)
	}
	reverse(ext)
	for _, s := range sections {
		ext = s.apply(ext)
	}
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[padlen:padlen+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
