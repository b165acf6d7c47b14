package fusion

import "github.com/biotrace-data/vitals.monitor/internal/monitoring"

// EEGBandPower computes the alpha/beta ratio and the absolute theta power
// from one multichannel EEG window. Channels are band-passed and PSD
// estimated independently; band powers are averaged across the channels
// that produced a usable spectrum. Both results are explicit about failure:
// a short window rejects the whole computation, a vanishing beta power
// rejects only the ratio.
func EEGBandPower(win [][]float64, p EEGParams) (ratio, theta FeatureValue) {
	if len(win) == 0 || len(win[0]) == 0 {
		return UndefinedValue(ReasonNoData), UndefinedValue(ReasonNoData)
	}
	if len(win[0]) < p.NFFT {
		return UndefinedValue(ReasonWindowTooShort), UndefinedValue(ReasonWindowTooShort)
	}

	sections, err := bandpass(p.FilterOrder, p.Filter, p.Rate)
	if err != nil {
		monitoring.Logf("eeg: band-pass design failed: %v", err)
		return UndefinedValue(ReasonNoData), UndefinedValue(ReasonNoData)
	}

	var alphaSum, betaSum, thetaSum float64
	usable := 0
	for ch := range win {
		filtered := filtfilt(sections, win[ch])
		freqs, psd := welchPSD(filtered, p.Rate, p.NFFT)
		if psd == nil {
			continue
		}
		alphaP, okA := bandPower(freqs, psd, p.Alpha)
		betaP, okB := bandPower(freqs, psd, p.Beta)
		thetaP, okT := bandPower(freqs, psd, p.Theta)
		if !okA || !okB || !okT {
			continue
		}
		alphaSum += alphaP
		betaSum += betaP
		thetaSum += thetaP
		usable++
	}
	if usable == 0 {
		return UndefinedValue(ReasonNoUsableChannel), UndefinedValue(ReasonNoUsableChannel)
	}

	n := float64(usable)
	theta = DefinedValue(thetaSum / n)

	betaMean := betaSum / n
	if betaMean < epsilon {
		return UndefinedValue(ReasonBetaTooSmall), theta
	}
	return DefinedValue((alphaSum / n) / betaMean), theta
}
