package risk

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/mbd888/sentinel/internal/pagination"
)

// MemoryStore keeps assessments in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]*Record // account -> records
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]*Record)}
}

func (s *MemoryStore) Record(_ context.Context, rec *Record) error {
	c := copyRecord(rec)
	s.mu.Lock()
	s.records[rec.Account] = append(s.records[rec.Account], c)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListByAccount(_ context.Context, account string, before *pagination.Cursor, limit int) ([]*Record, error) {
	s.mu.RLock()
	all := slices.Clone(s.records[account])
	s.mu.RUnlock()

	// Async writes may land out of order.
	slices.SortFunc(all, func(a, b *Record) int {
		if c := b.EvaluatedAt.Compare(a.EvaluatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	var out []*Record
	for _, r := range all {
		if len(out) == limit {
			break
		}
		if before.After(r.EvaluatedAt, r.ID) {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

func copyRecord(r *Record) *Record {
	c := *r
	c.Breakdown = maps.Clone(r.Breakdown)
	c.Reasons = slices.Clone(r.Reasons)
	return &c
}
