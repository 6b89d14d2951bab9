package store

import "sync"

const shardCount = 32

// shardedMap is a chat-keyed map split across independently locked shards,
// so that unrelated chats rarely contend. Values must be treated as
// immutable by readers; mutation goes through update.
type shardedMap[V any] struct {
	shards [shardCount]shard[V]
}

type shard[V any] struct {
	mu sync.RWMutex
	m  map[int64]V
}

func (s *shardedMap[V]) shard(key int64) *shard[V] {
	return &s.shards[uint64(key)%shardCount]
}

// view runs fn with the current value under the shard read lock. fn must
// copy anything it keeps.
func (s *shardedMap[V]) view(key int64, fn func(v V, ok bool)) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.m[key]
	fn(v, ok)
}

// update replaces the value for key with the result of fn, atomically with
// respect to every other operation on the same key. When keep is false the
// key is removed.
func (s *shardedMap[V]) update(key int64, fn func(cur V, ok bool) (next V, keep bool)) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.m[key]
	next, keep := fn(cur, ok)
	if !keep {
		delete(sh.m, key)
		return
	}
	if sh.m == nil {
		sh.m = make(map[int64]V)
	}
	sh.m[key] = next
}

func (s *shardedMap[V]) delete(key int64) {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

func (s *shardedMap[V]) len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}
