package kvs

import (
	"sync"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
)

// MemStore is a small in-memory reference implementation of Store, used
// by the transactional layer's own test suite and by cmd/txnbench. The
// real storage engine behind Store is out of scope for this module; this
// type exists only so the transactional protocol has a concrete
// collaborator to drive. Sharded by a simple mutex-per-shard scheme, the
// same style valuelocmap uses for its buckets, generalized from a fixed
// bucket array to a hash-mod-shard-count map.
type MemStore struct {
	cfg        DataConfig
	shards     []memShard
	registered atomic.Int64
}

type memShard struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemStore builds a MemStore with shardCount independent shards. A
// shardCount of 0 or less defaults to 64.
func NewMemStore(cfg DataConfig, shardCount int) *MemStore {
	if shardCount <= 0 {
		shardCount = 64
	}
	ms := &MemStore{cfg: cfg, shards: make([]memShard, shardCount)}
	for i := range ms.shards {
		ms.shards[i].m = make(map[string][]byte)
	}
	return ms
}

func (ms *MemStore) shardFor(key []byte) *memShard {
	return &ms.shards[murmur3.Sum64(key)%uint64(len(ms.shards))]
}

func (ms *MemStore) RegisterThread()   { ms.registered.Add(1) }
func (ms *MemStore) DeregisterThread() { ms.registered.Add(-1) }

func (ms *MemStore) Insert(key, value []byte) error {
	s := ms.shardFor(key)
	s.mu.Lock()
	s.m[string(key)] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

func (ms *MemStore) Update(key, delta []byte) error {
	s := ms.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.m[string(key)]
	oldMsg := Message{Type: MessageUpdate}
	if ok {
		oldMsg.Value = old
	}
	merged, err := ms.cfg.Merge(key, oldMsg, Message{Type: MessageUpdate, Value: delta})
	if err != nil {
		return err
	}
	s.m[string(key)] = merged.Value
	return nil
}

func (ms *MemStore) Delete(key []byte) error {
	s := ms.shardFor(key)
	s.mu.Lock()
	delete(s.m, string(key))
	s.mu.Unlock()
	return nil
}

func (ms *MemStore) Lookup(key []byte) (value []byte, found bool, err error) {
	s := ms.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (ms *MemStore) Close() error { return nil }

// RegisteredThreads returns the current live RegisterThread/DeregisterThread
// balance. Exposed for tests asserting the register/deregister contract.
func (ms *MemStore) RegisteredThreads() int64 { return ms.registered.Load() }
