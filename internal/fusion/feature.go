package fusion

import "fmt"

// UndefinedReason explains why a feature computation produced no value.
type UndefinedReason string

const (
	ReasonNoData          UndefinedReason = "no_data"
	ReasonWindowTooShort  UndefinedReason = "window_too_short"
	ReasonFlatSignal      UndefinedReason = "flat_signal"
	ReasonTooFewPeaks     UndefinedReason = "too_few_peaks"
	ReasonNoValidInterval UndefinedReason = "no_valid_intervals"
	ReasonBetaTooSmall    UndefinedReason = "beta_power_too_small"
	ReasonNoUsableChannel UndefinedReason = "no_usable_channel"
	ReasonEmptyWindow     UndefinedReason = "empty_window"
)

// FeatureValue is the outcome of one feature computation: either a defined
// scalar or an explicit reason the value could not be determined. Undefined
// results are expected during normal operation (short windows right after
// startup, a flat signal while the band is adjusted) and must never be read
// as zero.
type FeatureValue struct {
	Value   float64
	Defined bool
	Reason  UndefinedReason // set only when !Defined
}

// DefinedValue wraps a computed scalar.
func DefinedValue(v float64) FeatureValue {
	return FeatureValue{Value: v, Defined: true}
}

// UndefinedValue marks a failed computation with the reason it failed.
func UndefinedValue(reason UndefinedReason) FeatureValue {
	return FeatureValue{Reason: reason}
}

// Float returns the value and whether it is defined.
func (f FeatureValue) Float() (float64, bool) {
	return f.Value, f.Defined
}

// Ptr returns a pointer to the value for JSON payloads, nil when undefined.
func (f FeatureValue) Ptr() *float64 {
	if !f.Defined {
		return nil
	}
	v := f.Value
	return &v
}

func (f FeatureValue) String() string {
	if !f.Defined {
		return fmt.Sprintf("undefined(%s)", f.Reason)
	}
	return fmt.Sprintf("%.3f", f.Value)
}
