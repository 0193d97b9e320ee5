package server

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/mbd888/sentinel/internal/risk"
)

const unknownAccount = "UNKNOWN"

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := b
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("could not convert %s to float", b)
	}
	*f = flexFloat(v)
	return nil
}

// analyzeRequest is the /analyze body. Missing accounts default to
// UNKNOWN and missing numbers to zero.
type analyzeRequest struct {
	From           string          `json:"fromAccount"`
	To             string          `json:"toAccount"`
	Amount         decimal.Decimal `json:"amount"`
	Lat            flexFloat       `json:"lat"`
	Lon            flexFloat       `json:"lon"`
	Hour           *int            `json:"hour"`
	HoursSinceLast *flexFloat      `json:"hoursSinceLast"`
}

func (r analyzeRequest) toRisk() risk.Request {
	req := risk.Request{
		From:   orUnknown(r.From),
		To:     orUnknown(r.To),
		Amount: r.Amount,
		Lat:    float64(r.Lat),
		Lon:    float64(r.Lon),
		Hour:   r.Hour,
	}
	if r.HoursSinceLast != nil {
		h := float64(*r.HoursSinceLast)
		req.HoursSinceLast = &h
	}
	return req
}

func orUnknown(s string) string {
	if s == "" {
		return unknownAccount
	}
	return s
}

// paymentRequest is the /v1/audit/payment body.
type paymentRequest struct {
	AccountID string          `json:"accountId" validate:"required,max=128"`
	ToAccount string          `json:"toAccount" validate:"required,max=128"`
	Amount    decimal.Decimal `json:"amount"`
	Lat       float64         `json:"currentLat" validate:"gte=-90,lte=90"`
	Lon       float64         `json:"currentLon" validate:"gte=-180,lte=180"`
	Hour      *int            `json:"hour" validate:"omitempty,gte=0,lte=23"`
	IPAddress string          `json:"ipAddress" validate:"omitempty,ip"`
}

func (r paymentRequest) toRisk() risk.Request {
	return risk.Request{
		From:   r.AccountID,
		To:     r.ToAccount,
		Amount: r.Amount,
		Lat:    r.Lat,
		Lon:    r.Lon,
		Hour:   r.Hour,
	}
}
