package fusion

import (
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/integrate"
)

// welchPSD estimates the one-sided power spectral density of sig by Welch's
// method: Hamming-windowed segments of length min(nfft, len(sig)), averaged
// in the frequency domain. Segments do not overlap and a short tail is
// dropped. Returns the bin center frequencies in Hz and the density in
// power per Hz; nil for an empty signal.
func welchPSD(sig []float64, rate float64, nfft int) (freqs, psd []float64) {
	n := len(sig)
	if n == 0 || rate <= 0 {
		return nil, nil
	}
	nperseg := nfft
	if nperseg > n {
		nperseg = n
	}
	if nperseg < 2 {
		return nil, nil
	}

	win := make([]float64, nperseg)
	for i := range win {
		win[i] = 1
	}
	window.Hamming(win)
	var winSumSq float64
	for _, w := range win {
		winSumSq += w * w
	}

	fft := fourier.NewFFT(nperseg)
	nbins := nperseg/2 + 1
	acc := make([]float64, nbins)
	seg := make([]float64, nperseg)
	coeffs := make([]complex128, nbins)

	nseg := 0
	for start := 0; start+nperseg <= n; start += nperseg {
		copy(seg, sig[start:start+nperseg])

		// Remove the segment mean so leakage from any residual offset does
		// not swamp the low bins.
		var mean float64
		for _, v := range seg {
			mean += v
		}
		mean /= float64(nperseg)
		for i := range seg {
			seg[i] = (seg[i] - mean) * win[i]
		}

		coeffs = fft.Coefficients(coeffs, seg)
		for i, c := range coeffs {
			re, im := real(c), imag(c)
			acc[i] += re*re + im*im
		}
		nseg++
	}
	if nseg == 0 {
		return nil, nil
	}

	scale := 1 / (float64(nseg) * rate * winSumSq)
	freqs = make([]float64, nbins)
	psd = make([]float64, nbins)
	for i := range acc {
		freqs[i] = float64(i) * rate / float64(nperseg)
		p := acc[i] * scale
		// One-sided spectrum: double everything except DC and Nyquist.
		if i != 0 && !(nperseg%2 == 0 && i == nbins-1) {
			p *= 2
		}
		psd[i] = p
	}
	return freqs, psd
}

// bandPower integrates the density over the bins inside band. It reports
// false when the band covers fewer than two bins, which makes trapezoidal
// integration meaningless.
func bandPower(freqs, psd []float64, band Band) (float64, bool) {
	lo, hi := -1, -1
	for i, f := range freqs {
		if f >= band.Low && lo == -1 {
			lo = i
		}
		if f <= band.High {
			hi = i
		}
	}
	if lo == -1 || hi == -1 || hi-lo < 1 {
		return 0, false
	}
	return integrate.Trapezoidal(freqs[lo:hi+1], psd[lo:hi+1]), true
}
