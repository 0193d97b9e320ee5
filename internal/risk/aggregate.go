package risk

import (
	"math"

	"github.com/mbd888/sentinel/internal/config"
	"github.com/mbd888/sentinel/internal/detection"
)

var recommendedActions = map[Decision]string{
	DecisionBlocked:    "Transaction blocked - manual review required",
	DecisionStepUpAuth: "Require additional authentication (OTP, biometric)",
	DecisionReview:     "Flag for async review - allow with monitoring",
	DecisionApproved:   "Low risk - proceed normally",
}

var strategyReasons = map[Strategy]string{
	StrategyMultisig: "High risk requires multi-signature approval (2-of-3 threshold)",
	StrategyTSA:      "Medium risk requires timestamped secp256k1 signature (non-repudiation)",
	StrategyMerkle:   "Low risk - batch with Merkle tree for efficiency",
}

// RecommendedAction returns the action text for d.
func RecommendedAction(d Decision) string { return recommendedActions[d] }

// StrategyReason returns the explanation for s.
func StrategyReason(s Strategy) string { return strategyReasons[s] }

// Aggregator combines layer signals using configured weights and
// thresholds.
type Aggregator struct {
	base       float64
	weights    map[detection.Layer]float64
	thresholds config.RiskThresholds
}

// NewAggregator creates an aggregator.
func NewAggregator(w config.RiskWeights, t config.RiskThresholds) *Aggregator {
	return &Aggregator{
		base: w.BaseRisk,
		weights: map[detection.Layer]float64{
			detection.LayerAnomaly:          w.AnomalyDetection,
			detection.LayerImpossibleTravel: w.ImpossibleTravel,
			detection.LayerBeneficiary:      w.UnknownBeneficiary,
			detection.LayerVelocity:         w.VelocityAbuse,
			detection.LayerStructuring:      w.StructuringAttempt,
			detection.LayerAmountDeviation:  w.AmountDeviation,
			detection.LayerOddHour:          w.OddHourTransaction,
		},
		thresholds: t,
	}
}

// Aggregate scores factors. ID and Timestamp are left for the caller.
func (a *Aggregator) Aggregate(factors detection.Factors) *Assessment {
	score := a.base
	reasons := []string{}
	breakdown := make(map[string]float64)

	for _, sig := range factors {
		if !sig.Triggered {
			continue
		}
		w := a.weights[sig.Layer]
		score += w
		breakdown[string(sig.Layer)] = w
		if sig.Reason != "" {
			reasons = append(reasons, sig.Reason)
		}
	}

	score = Round3(math.Min(score, 1.0))
	decision := a.Decide(score)
	strategy := SelectStrategy(score)

	return &Assessment{
		Score:             score,
		Decision:          decision,
		RecommendedAction: RecommendedAction(decision),
		Reasons:           reasons,
		Breakdown:         breakdown,
		Strategy:          strategy,
		StrategyReason:    StrategyReason(strategy),
		LayersTriggered:   len(breakdown),
	}
}

// Decide maps a score to the highest threshold it strictly exceeds.
func (a *Aggregator) Decide(score float64) Decision {
	switch {
	case score > a.thresholds.High:
		return DecisionBlocked
	case score > a.thresholds.Medium:
		return DecisionStepUpAuth
	case score > a.thresholds.Low:
		return DecisionReview
	default:
		return DecisionApproved
	}
}

// SelectStrategy maps a score to a sealing strategy.
func SelectStrategy(score float64) Strategy {
	switch {
	case score > MultisigAbove:
		return StrategyMultisig
	case score > TSAAbove:
		return StrategyTSA
	default:
		return StrategyMerkle
	}
}

// Round3 rounds to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
