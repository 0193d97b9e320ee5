// Package detection runs the seven fraud signals over a single
// transaction. Each layer is independent; combining them into a score is
// the risk package's job.
package detection

import (
	"github.com/shopspring/decimal"
)

// Layer names a detection layer. The values double as breakdown keys in
// assessment responses.
type Layer string

const (
	LayerAnomaly          Layer = "anomaly_detection"
	LayerImpossibleTravel Layer = "impossible_travel"
	LayerBeneficiary      Layer = "unknown_beneficiary"
	LayerVelocity         Layer = "velocity_abuse"
	LayerStructuring      Layer = "structuring_attempt"
	LayerAmountDeviation  Layer = "amount_deviation"
	LayerOddHour          Layer = "odd_hour"
)

// Layers lists every layer in evaluation order.
var Layers = []Layer{
	LayerAnomaly,
	LayerImpossibleTravel,
	LayerBeneficiary,
	LayerVelocity,
	LayerStructuring,
	LayerAmountDeviation,
	LayerOddHour,
}

// Transaction is the normalized input to every layer.
type Transaction struct {
	Sender   string
	Receiver string
	Amount   decimal.Decimal
	Lat      float64
	Lon      float64
	// Hour is the local hour of day, 0-23.
	Hour int
	// HoursSinceLast is the travel time budget for the impossible travel
	// layer. Zero or less disables it; callers normally pass
	// DefaultTravelHours.
	HoursSinceLast float64
}

// Signal is one layer's verdict. Value carries the layer's raw measure:
// the anomaly score, travel speed in km/h, trust weight, window count or
// amount ratio. Reason is empty when the layer did not trigger.
type Signal struct {
	Layer     Layer   `json:"layer"`
	Triggered bool    `json:"triggered"`
	Value     float64 `json:"value"`
	Reason    string  `json:"reason,omitempty"`
}

// Factors holds one Signal per layer in Layers order.
type Factors []Signal

// Get returns the signal for l.
func (f Factors) Get(l Layer) (Signal, bool) {
	for _, s := range f {
		if s.Layer == l {
			return s, true
		}
	}
	return Signal{}, false
}

// Triggered returns the layers that fired, in order.
func (f Factors) Triggered() []Layer {
	var out []Layer
	for _, s := range f {
		if s.Triggered {
			out = append(out, s.Layer)
		}
	}
	return out
}
