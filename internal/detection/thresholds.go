package detection

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StructuringDetector flags amounts just under a reporting threshold.
type StructuringDetector struct {
	thresholds []decimal.Decimal
	margin     decimal.Decimal
}

// NewStructuringDetector creates a detector. Thresholds are checked in the
// given order and the first match wins.
func NewStructuringDetector(thresholds []float64, margin float64) StructuringDetector {
	d := StructuringDetector{margin: decimal.NewFromFloat(margin)}
	for _, t := range thresholds {
		d.thresholds = append(d.thresholds, decimal.NewFromFloat(t))
	}
	return d
}

// Check triggers when threshold-margin < amount < threshold.
func (d StructuringDetector) Check(amount decimal.Decimal) Signal {
	sig := Signal{Layer: LayerStructuring}
	for _, t := range d.thresholds {
		if amount.GreaterThan(t.Sub(d.margin)) && amount.LessThan(t) {
			sig.Triggered = true
			sig.Value = t.InexactFloat64()
			sig.Reason = fmt.Sprintf("Potential structuring: Amount %s suspiciously close to %s reporting threshold",
				amount.String(), t.String())
			return sig
		}
	}
	return sig
}

// CheckAmountDeviation triggers when amount exceeds twice the profile's
// typical maximum. Value is amount divided by the typical maximum.
func CheckAmountDeviation(prof Profile, amount decimal.Decimal) Signal {
	sig := Signal{Layer: LayerAmountDeviation}
	typical := prof.TypicalMaxAmount
	if !typical.IsPositive() {
		return sig
	}
	ratio := amount.Div(typical).InexactFloat64()
	sig.Value = ratio
	if amount.GreaterThan(typical.Mul(decimal.NewFromInt(2))) {
		sig.Triggered = true
		sig.Reason = fmt.Sprintf("Amount %s is %.1fx user's typical maximum (%s)",
			amount.String(), ratio, typical.String())
	}
	return sig
}

// CheckOddHour triggers for hours 1 through 5 inclusive.
func CheckOddHour(hour int) Signal {
	sig := Signal{Layer: LayerOddHour, Value: float64(hour)}
	if hour >= 1 && hour <= 5 {
		sig.Triggered = true
		sig.Reason = fmt.Sprintf("Transaction at unusual hour (%d:00) - potential account compromise", hour)
	}
	return sig
}
