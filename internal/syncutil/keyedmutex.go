// Package syncutil provides per-key locking for state shared across requests.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// KeyedMutex serializes work per string key using a fixed pool of
// channel-backed locks. Memory stays bounded however many keys are seen;
// keys that hash to the same shard share a lock.
//
// The zero value is ready to use.
type KeyedMutex struct {
	once   sync.Once
	shards [shardCount]chan struct{}
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// Lock blocks until the lock for key is held and returns its release func.
func (m *KeyedMutex) Lock(key string) func() {
	m.init()
	ch := m.shards[shardIndex(key)]
	<-ch
	return func() { ch <- struct{}{} }
}

// LockContext is Lock that gives up when ctx is done. On failure the
// returned func is nil and the error is ctx.Err().
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	ch := m.shards[shardIndex(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
