package witness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/risk"
	"github.com/mbd888/sentinel/internal/traces"
)

const (
	// DefaultBatchSize is the Merkle batch size when none is configured.
	DefaultBatchSize = 10
	// MultisigThreshold is the number of distinct signers required.
	MultisigThreshold = 2
	cosignerCount     = 2
)

// Service seals events according to their risk strategy. Sealing is
// serialized so block heights stay contiguous.
type Service struct {
	store     Store
	signer    *Signer
	cosigners []*Signer
	batchSize int
	notifiers []BlockNotifier
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	buffer []*Witness
}

// Option configures a Service.
type Option func(*Service)

// WithBatchSize sets the Merkle batch size.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithNotifier publishes sealed blocks to n. It may be given more than once.
func WithNotifier(n BlockNotifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, n) }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a sealing service. The multisig co-signers are
// derived from signer.
func NewService(store Store, signer *Signer, opts ...Option) (*Service, error) {
	s := &Service{
		store:     store,
		signer:    signer,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for i := 1; i <= cosignerCount; i++ {
		c, err := signer.Derive(fmt.Sprintf("cosigner-%d", i))
		if err != nil {
			return nil, err
		}
		s.cosigners = append(s.cosigners, c)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Signers returns the multisig signer set, service key first.
func (s *Service) Signers() []string {
	out := []string{s.signer.Address()}
	for _, c := range s.cosigners {
		out = append(out, c.Address())
	}
	return out
}

// Process seals ev unless the decision is BLOCKED.
func (s *Service) Process(ctx context.Context, ev Event, decision risk.Decision, strategy risk.Strategy) (*Witness, error) {
	if decision == risk.DecisionBlocked {
		return nil, ErrBlocked
	}
	return s.Seal(ctx, ev, strategy)
}

// Seal witnesses ev with strategy and returns a snapshot of the witness.
// MERKLE events are buffered and come back PENDING until their batch
// fills; Get returns the sealed state afterwards.
func (s *Service) Seal(ctx context.Context, ev Event, strategy risk.Strategy) (*Witness, error) {
	ctx, span := traces.StartSpan(ctx, "witness.Seal", traces.Strategy(string(strategy)), traces.Account(ev.From))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	w := &Witness{
		Event:     ev,
		EventHash: ev.Hash(),
		Strategy:  strategy,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	}

	var err error
	switch strategy {
	case risk.StrategyMerkle:
		err = s.bufferLocked(ctx, w)
	case risk.StrategyTSA:
		err = s.signLocked(ctx, w, []*Signer{s.signer})
	case risk.StrategyMultisig:
		err = s.signLocked(ctx, w, []*Signer{s.signer, s.cosigners[0]})
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	metrics.WitnessSealsTotal.WithLabelValues(string(strategy)).Inc()
	if w.Status == StatusSealed {
		span.SetAttributes(traces.BlockHeight(w.BlockHeight))
	}
	out := *w
	return &out, nil
}

func (s *Service) bufferLocked(ctx context.Context, w *Witness) error {
	if err := s.store.SaveWitness(ctx, w); err != nil {
		return fmt.Errorf("save pending witness: %w", err)
	}
	s.buffer = append(s.buffer, w)
	metrics.MerkleBufferDepth.Set(float64(len(s.buffer)))
	if len(s.buffer) >= s.batchSize {
		return s.sealBatchLocked(ctx)
	}
	return nil
}

// Flush seals any buffered MERKLE events as a short batch.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) == 0 {
		return nil
	}
	return s.sealBatchLocked(ctx)
}

// Pending is the number of buffered MERKLE events.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

func (s *Service) sealBatchLocked(ctx context.Context) error {
	leaves := make([]string, len(s.buffer))
	for i, w := range s.buffer {
		leaves[i] = w.EventHash
	}
	tree := NewTree(leaves)

	block, err := s.nextBlock(ctx, tree.Root(), risk.StrategyMerkle, len(leaves))
	if err != nil {
		return err
	}
	sealed := make([]*Witness, len(s.buffer))
	for i, w := range s.buffer {
		c := *w
		c.Proof = tree.Proof(i)
		s.seal(&c, block)
		sealed[i] = &c
	}
	if err := s.appendLocked(ctx, block, sealed); err != nil {
		return err
	}

	clear(s.buffer)
	s.buffer = s.buffer[:0]
	metrics.MerkleBufferDepth.Set(0)
	return nil
}

func (s *Service) signLocked(ctx context.Context, w *Witness, signers []*Signer) error {
	signedAt := s.now().UTC()
	w.SignedPayload = fmt.Sprintf("%s:%s:%s", w.EventHash, signedAt.Format(time.RFC3339Nano), w.Event.ID)
	for _, sg := range signers {
		sig, err := sg.Sign(w.SignedPayload)
		if err != nil {
			return err
		}
		w.Signatures = append(w.Signatures, sig)
	}

	block, err := s.nextBlock(ctx, w.EventHash, w.Strategy, 1)
	if err != nil {
		return err
	}
	s.seal(w, block)
	return s.appendLocked(ctx, block, []*Witness{w})
}

func (s *Service) nextBlock(ctx context.Context, root string, strategy risk.Strategy, count int) (*Block, error) {
	last, err := s.store.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest block: %w", err)
	}
	b := &Block{
		Height:           1,
		Root:             root,
		PrevRoot:         GenesisRoot,
		Strategy:         strategy,
		TransactionCount: count,
		SealedAt:         s.now().UTC(),
	}
	if last != nil {
		b.Height = last.Height + 1
		b.PrevRoot = last.Root
	}
	return b, nil
}

func (s *Service) seal(w *Witness, b *Block) {
	at := b.SealedAt
	w.Status = StatusSealed
	w.BlockHeight = b.Height
	w.MerkleRoot = b.Root
	w.SealedAt = &at
}

func (s *Service) appendLocked(ctx context.Context, b *Block, ws []*Witness) error {
	if err := s.store.AppendBlock(ctx, b, ws); err != nil {
		return fmt.Errorf("append block %d: %w", b.Height, err)
	}
	metrics.AuditBlocksTotal.Inc()
	s.logger.Info("audit block sealed",
		"height", b.Height, "strategy", b.Strategy, "transactions", b.TransactionCount, "root", b.Root)
	for _, n := range s.notifiers {
		n.NotifyBlock(b)
	}
	return nil
}

// Get returns the witness for transactionID.
func (s *Service) Get(ctx context.Context, transactionID string) (*Witness, error) {
	return s.store.GetWitness(ctx, transactionID)
}

// Blocks lists recent blocks, newest first.
func (s *Service) Blocks(ctx context.Context, limit int) ([]*Block, error) {
	return s.store.ListBlocks(ctx, limit)
}

// Verify loads the witness for transactionID and re-checks it: the event
// hash, then the inclusion proof against the stored block root or the
// signatures against the signer set. Pending witnesses never verify.
func (s *Service) Verify(ctx context.Context, transactionID string) (*Witness, bool, error) {
	w, err := s.store.GetWitness(ctx, transactionID)
	if err != nil {
		return nil, false, err
	}
	if w.Status != StatusSealed || w.Event.Hash() != w.EventHash {
		return w, false, nil
	}

	block, err := s.store.GetBlock(ctx, w.BlockHeight)
	if err != nil {
		return w, false, fmt.Errorf("load block %d: %w", w.BlockHeight, err)
	}
	if block.Root != w.MerkleRoot {
		return w, false, nil
	}

	switch w.Strategy {
	case risk.StrategyMerkle:
		return w, VerifyProof(w.EventHash, w.Proof, w.MerkleRoot), nil
	case risk.StrategyTSA:
		return w, s.countSigners(w, []string{s.signer.Address()}) >= 1, nil
	case risk.StrategyMultisig:
		return w, s.countSigners(w, s.Signers()) >= MultisigThreshold, nil
	default:
		return w, false, nil
	}
}

// countSigners returns how many distinct allowed addresses signed the
// witness payload. The payload must commit to the event hash.
func (s *Service) countSigners(w *Witness, allowed []string) int {
	if len(w.SignedPayload) < len(w.EventHash) || w.SignedPayload[:len(w.EventHash)] != w.EventHash {
		return 0
	}
	allow := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allow[a] = true
	}
	seen := make(map[string]bool)
	for _, sig := range w.Signatures {
		addr, err := RecoverAddress(w.SignedPayload, sig.Value)
		if err != nil || !allow[addr] {
			continue
		}
		seen[addr] = true
	}
	return len(seen)
}
