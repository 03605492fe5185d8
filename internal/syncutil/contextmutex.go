// Package syncutil provides keyed locking for per-member updates.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the lock pool size used by NewContextShardedMutex.
const DefaultShards = 256

// ContextShardedMutex is a fixed pool of channel-based mutexes selected by
// key hash. Memory stays bounded however many keys are seen; keys that share
// a shard serialize. Waiters can give up when their context ends.
type ContextShardedMutex struct {
	shards []chan struct{}
}

// NewContextShardedMutex creates a pool of DefaultShards locks.
func NewContextShardedMutex() *ContextShardedMutex {
	return NewContextShardedMutexN(DefaultShards)
}

// NewContextShardedMutexN creates a pool of n locks (at least one).
func NewContextShardedMutexN(n int) *ContextShardedMutex {
	if n < 1 {
		n = 1
	}
	m := &ContextShardedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// LockContext acquires the lock for key. On success it returns the unlock
// function, which the caller must call exactly once. If ctx ends first it
// returns ctx.Err().
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	ch := m.shards[m.shardIdx(key)]
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SameShard reports whether two keys contend for one lock.
func (m *ContextShardedMutex) SameShard(a, b string) bool {
	return m.shardIdx(a) == m.shardIdx(b)
}

func (m *ContextShardedMutex) shardIdx(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
