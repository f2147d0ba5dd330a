// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package keylock serializes work per key without a global lock.
package keylock

import (
	"hash/fnv"
	"sync"
)

// DefaultShards is the shard count used by New.
const DefaultShards = 64

// ShardedMutex maps keys onto a fixed set of mutexes. Two keys may share a
// shard, so callers must never hold one key's lock while acquiring another.
type ShardedMutex struct {
	shards []sync.Mutex
}

// New creates a ShardedMutex with DefaultShards shards.
func New() *ShardedMutex {
	return NewWithShards(DefaultShards)
}

// NewWithShards creates a ShardedMutex with n shards (minimum 1).
func NewWithShards(n int) *ShardedMutex {
	if n < 1 {
		n = 1
	}
	return &ShardedMutex{shards: make([]sync.Mutex, n)}
}

// Lock acquires the lock for key's shard.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the lock for key's shard.
func (m *ShardedMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

// Do runs fn while holding key's lock.
func (m *ShardedMutex) Do(key string, fn func() error) error {
	m.Lock(key)
	defer m.Unlock(key)
	return fn()
}

func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key)) //nolint:errcheck // hash.Hash.Write never fails
	return int(h.Sum32() % uint32(len(m.shards)))
}
