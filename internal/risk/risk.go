// Package risk turns detection signals into a composite score, an
// authorization decision and a sealing strategy.
//
// Scores range from 0.0 (safe) to 1.0 (high risk). Both the decision and
// the strategy are pure functions of the rounded score and the configured
// thresholds.
package risk

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/sentinel/internal/pagination"
)

var (
	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("amount must not be negative")
	// ErrAmountOutOfRange is returned for amounts above MaxAmount or with
	// more precision than the engine keeps.
	ErrAmountOutOfRange = errors.New("amount is outside the supported range")
	// ErrInvalidHour is returned for an hour override outside 0-23.
	ErrInvalidHour = errors.New("hour must be between 0 and 23")
	// ErrNotFound is returned when no assessments exist for an account.
	ErrNotFound = errors.New("no assessments found")
)

// MaxAmount is the largest amount the engine scores.
var MaxAmount = decimal.New(1, 15)

const (
	maxAmountScale     = 18
	maxAmountExponent  = 15
	maxCoefficientBits = 128
)

// ValidateAmount rejects negative, oversized and over-precise amounts. It
// only inspects the exponent and coefficient size before comparing, so a
// literal such as 1e5000000 is refused without being expanded.
func ValidateAmount(a decimal.Decimal) error {
	if a.IsNegative() {
		return ErrInvalidAmount
	}
	exp := a.Exponent()
	if exp < -maxAmountScale || exp > maxAmountExponent || a.Coefficient().BitLen() > maxCoefficientBits {
		return ErrAmountOutOfRange
	}
	if a.GreaterThan(MaxAmount) {
		return ErrAmountOutOfRange
	}
	return nil
}

// Decision is the authorization verdict.
type Decision string

const (
	DecisionApproved   Decision = "APPROVED"
	DecisionReview     Decision = "REVIEW"
	DecisionStepUpAuth Decision = "STEP_UP_AUTH"
	DecisionBlocked    Decision = "BLOCKED"
	DecisionError      Decision = "ERROR"
)

// Strategy is the recommended cryptographic handling for the transaction.
type Strategy string

const (
	StrategyMultisig Strategy = "MULTISIG"
	StrategyTSA      Strategy = "TSA"
	StrategyMerkle   Strategy = "MERKLE"
)

// Strategy breakpoints. These are independent of the decision thresholds.
const (
	MultisigAbove = 0.6
	TSAAbove      = 0.2
)

// Assessment is the response for one analyzed transaction.
type Assessment struct {
	ID                string             `json:"-"`
	Score             float64            `json:"score"`
	Decision          Decision           `json:"decision"`
	RecommendedAction string             `json:"recommended_action"`
	Reasons           []string           `json:"reasons"`
	Breakdown         map[string]float64 `json:"risk_breakdown"`
	Strategy          Strategy           `json:"strategy_recommendation"`
	StrategyReason    string             `json:"strategy_reason"`
	LayersTriggered   int                `json:"detection_layers_triggered"`
	Timestamp         time.Time          `json:"timestamp"`
}

// ErrorResult is the body returned when analysis fails.
type ErrorResult struct {
	Score    float64  `json:"score"`
	Decision Decision `json:"decision"`
	Reasons  []string `json:"reasons"`
	Strategy Strategy `json:"strategy_recommendation"`
}

// ErrorAssessment builds the failure body for err.
func ErrorAssessment(err error) ErrorResult {
	return ErrorResult{
		Score:    0.5,
		Decision: DecisionError,
		Reasons:  []string{"Analysis error: " + err.Error()},
		Strategy: StrategyTSA,
	}
}

// Request is a normalized transaction to analyze.
type Request struct {
	From   string
	To     string
	Amount decimal.Decimal
	Lat    float64
	Lon    float64
	// Hour overrides the server clock hour when set.
	Hour *int
	// HoursSinceLast overrides the default travel time budget when set.
	HoursSinceLast *float64
}

// Record is the audit trail entry for one assessment.
type Record struct {
	ID           string             `json:"id"`
	Account      string             `json:"account"`
	Counterparty string             `json:"counterparty"`
	Amount       string             `json:"amount"`
	Score        float64            `json:"score"`
	Decision     Decision           `json:"decision"`
	Strategy     Strategy           `json:"strategy"`
	Breakdown    map[string]float64 `json:"risk_breakdown"`
	Reasons      []string           `json:"reasons"`
	EvaluatedAt  time.Time          `json:"evaluated_at"`
}

// NewRecord builds the audit entry for a.
func NewRecord(req Request, a *Assessment) *Record {
	return &Record{
		ID:           a.ID,
		Account:      req.From,
		Counterparty: req.To,
		Amount:       req.Amount.String(),
		Score:        a.Score,
		Decision:     a.Decision,
		Strategy:     a.Strategy,
		Breakdown:    a.Breakdown,
		Reasons:      a.Reasons,
		EvaluatedAt:  a.Timestamp,
	}
}

// Store persists assessments for the audit trail.
type Store interface {
	Record(ctx context.Context, rec *Record) error
	// ListByAccount returns up to limit records newest first, ordered by
	// (EvaluatedAt, ID). A non-nil before skips records up to and
	// including the cursor.
	ListByAccount(ctx context.Context, account string, before *pagination.Cursor, limit int) ([]*Record, error)
}

// Notifier receives every completed assessment.
type Notifier interface {
	NotifyAssessment(rec *Record)
}
