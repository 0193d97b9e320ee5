package witness

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryStore keeps the chain in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	blocks    []*Block
	witnesses map[string]*Witness
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{witnesses: make(map[string]*Witness)}
}

func (s *MemoryStore) LatestBlock(_ context.Context) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return nil, nil
	}
	b := *s.blocks[len(s.blocks)-1]
	return &b, nil
}

func (s *MemoryStore) AppendBlock(_ context.Context, b *Block, ws []*Witness) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := int64(len(s.blocks)) + 1; b.Height != want {
		return fmt.Errorf("block height %d out of sequence, want %d", b.Height, want)
	}
	c := *b
	s.blocks = append(s.blocks, &c)
	for _, w := range ws {
		s.witnesses[w.Event.ID] = copyWitness(w)
	}
	return nil
}

func (s *MemoryStore) SaveWitness(_ context.Context, w *Witness) error {
	s.mu.Lock()
	s.witnesses[w.Event.ID] = copyWitness(w)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetWitness(_ context.Context, transactionID string) (*Witness, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.witnesses[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWitness(w), nil
}

func (s *MemoryStore) GetBlock(_ context.Context, height int64) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if height < 1 || height > int64(len(s.blocks)) {
		return nil, ErrNotFound
	}
	b := *s.blocks[height-1]
	return &b, nil
}

func (s *MemoryStore) ListBlocks(_ context.Context, limit int) ([]*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := max(len(s.blocks)-limit, 0)
	out := make([]*Block, 0, len(s.blocks)-start)
	for i := len(s.blocks) - 1; i >= start; i-- {
		b := *s.blocks[i]
		out = append(out, &b)
	}
	return out, nil
}

func copyWitness(w *Witness) *Witness {
	c := *w
	c.Proof = slices.Clone(w.Proof)
	c.Signatures = slices.Clone(w.Signatures)
	if w.SealedAt != nil {
		t := *w.SealedAt
		c.SealedAt = &t
	}
	return &c
}
