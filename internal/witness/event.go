// Package witness seals analyzed transactions into a tamper-evident audit
// ledger. Low-risk events are batched under a Merkle root, medium-risk
// events receive a timestamped signature and high-risk events a 2-of-3
// multi-signature. Blocks are hash-chained through their roots.
package witness

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/sentinel/internal/idgen"
)

// Event is one transaction submitted for sealing.
type Event struct {
	ID        string          `json:"id"`
	From      string          `json:"fromAccount"`
	To        string          `json:"toAccount"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates an event stamped at ts. The timestamp is truncated to
// microseconds so the hash survives a round trip through Postgres.
func NewEvent(from, to string, amount decimal.Decimal, ts time.Time) Event {
	return Event{
		ID:        idgen.WithPrefix("tx_"),
		From:      from,
		To:        to,
		Amount:    amount,
		Timestamp: ts.UTC().Truncate(time.Microsecond),
	}
}

// Hash is the hex SHA-256 of the event's canonical form.
func (e Event) Hash() string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%s",
		e.ID, e.From, e.To, e.Amount.String(), e.Timestamp.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
