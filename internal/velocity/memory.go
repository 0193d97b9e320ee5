package velocity

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/sentinel/internal/syncutil"
)

type userWindow struct {
	times []time.Time
}

// MemoryStore keeps per-user windows in process memory.
type MemoryStore struct {
	windows sync.Map // userID -> *userWindow
	locks   syncutil.KeyedMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) RecordAndCount(ctx context.Context, userID string, now time.Time, window time.Duration) (int, error) {
	unlock, err := s.locks.LockContext(ctx, userID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	v, _ := s.windows.LoadOrStore(userID, &userWindow{})
	w := v.(*userWindow)
	w.times = append(keepAfter(w.times, now.Add(-window)), now)
	return len(w.times), nil
}

// Prune drops expired timestamps and forgets users with an empty window.
// It returns the number of users removed.
func (s *MemoryStore) Prune(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	removed := 0
	s.windows.Range(func(key, value any) bool {
		userID := key.(string)
		unlock := s.locks.Lock(userID)
		w := value.(*userWindow)
		w.times = keepAfter(w.times, cutoff)
		if len(w.times) == 0 {
			s.windows.Delete(userID)
			removed++
		}
		unlock()
		return true
	})
	return removed
}

// Len returns the number of users currently tracked.
func (s *MemoryStore) Len() int {
	n := 0
	s.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// keepAfter filters ts in place, keeping entries strictly after cutoff.
func keepAfter(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
