package witness

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/sentinel/internal/risk"
)

var (
	// ErrNotFound is returned for unknown transactions or blocks.
	ErrNotFound = errors.New("witness: not found")
	// ErrBlocked is returned when a blocked transaction is submitted for
	// sealing.
	ErrBlocked = errors.New("witness: transaction blocked")
	// ErrUnknownStrategy is returned for a strategy the service cannot seal.
	ErrUnknownStrategy = errors.New("witness: unknown strategy")
)

// GenesisRoot is the previous root of the first block.
var GenesisRoot = strings.Repeat("0", 64)

// Status is a witness's sealing state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSealed  Status = "SEALED"
)

// Block is one sealed batch in the chain.
type Block struct {
	Height           int64         `json:"height"`
	Root             string        `json:"merkleRoot"`
	PrevRoot         string        `json:"previousRoot"`
	Strategy         risk.Strategy `json:"strategy"`
	TransactionCount int           `json:"transactionCount"`
	SealedAt         time.Time     `json:"sealedAt"`
}

// Witness is the receipt proving an event was sealed.
type Witness struct {
	Event         Event         `json:"event"`
	EventHash     string        `json:"eventHash"`
	Strategy      risk.Strategy `json:"strategy"`
	Status        Status        `json:"status"`
	BlockHeight   int64         `json:"blockHeight,omitempty"`
	MerkleRoot    string        `json:"merkleRoot,omitempty"`
	Proof         []ProofStep   `json:"proof,omitempty"`
	SignedPayload string        `json:"signedPayload,omitempty"`
	Signatures    []Signature   `json:"signatures,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	SealedAt      *time.Time    `json:"sealedAt,omitempty"`
}

// TransactionID is the sealed event's id.
func (w *Witness) TransactionID() string { return w.Event.ID }

// Store persists blocks and witnesses.
type Store interface {
	// LatestBlock returns the highest block, or nil when the chain is empty.
	LatestBlock(ctx context.Context) (*Block, error)
	// AppendBlock stores b and upserts its witnesses atomically.
	AppendBlock(ctx context.Context, b *Block, witnesses []*Witness) error
	// SaveWitness upserts a single witness.
	SaveWitness(ctx context.Context, w *Witness) error
	GetWitness(ctx context.Context, transactionID string) (*Witness, error)
	GetBlock(ctx context.Context, height int64) (*Block, error)
	// ListBlocks returns up to limit blocks, newest first.
	ListBlocks(ctx context.Context, limit int) ([]*Block, error)
}

// BlockNotifier receives every sealed block.
type BlockNotifier interface {
	NotifyBlock(b *Block)
}
