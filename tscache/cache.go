package tscache

import (
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/spaolacci/murmur3"
)

// config mirrors the teacher's env-var-then-functional-option resolution
// pattern (see valuelocmap.resolveConfig): defaults come from the
// environment if set, functional options override those, and a final
// clamp keeps every field sane.
type config struct {
	logSlots uint
	shards   int
	keepAll  bool
}

func resolveConfig(opts ...func(*config)) *config {
	cfg := &config{}
	if env := os.Getenv("TXNKV_TSCACHE_LOG_SLOTS"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			cfg.logSlots = uint(val)
		}
	}
	if cfg.logSlots == 0 {
		cfg.logSlots = 29
	}
	if env := os.Getenv("TXNKV_TSCACHE_KEEP_ALL_KEYS"); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			cfg.keepAll = val
		}
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.shards = shardCountFor(cfg.logSlots)
	return cfg
}

// OptLogSlots sets the log2 slot-count hint (default 29, matching the
// source's tscache_log_slots default). It only sizes shard count and
// per-shard map preallocation; Go maps still grow past the hint.
func OptLogSlots(n uint) func(*config) {
	return func(cfg *config) { cfg.logSlots = n }
}

// OptKeepAllKeys enables the non-removing cache variant: slots are never
// reclaimed, suitable for benchmark modes but not production, since it
// leaks a slot per distinct key ever referenced.
func OptKeepAllKeys(keep bool) func(*config) {
	return func(cfg *config) { cfg.keepAll = keep }
}

func shardCountFor(logSlots uint) int {
	n := runtime.GOMAXPROCS(0) * 16
	count := 1
	for count < n {
		count <<= 1
	}
	if count < 16 {
		count = 16
	}
	if count > 4096 {
		count = 4096
	}
	// Never shard more finely than the requested total capacity hint.
	if hint := uint(1) << minUint(logSlots, 20); uint(count) > hint {
		count = int(hint)
		if count < 1 {
			count = 1
		}
	}
	return count
}

func minUint(a, b uint) uint {
	if a < b {
		return a
	}
	return b
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*Entry
}

// Cache is the concurrent, keyed, reference-counted timestamp cache shared
// by every transaction against a single DB. Keys are hashed into shards
// with murmur3 (the same hash the teacher's ValuesStore uses for on-disk
// bucket placement); each shard is guarded independently so unrelated keys
// never contend.
type Cache struct {
	shards   []shard
	keepAll  bool
	prealloc int
}

// New constructs a Cache. The removing variant (default) reclaims a slot
// once its refcount returns to zero; OptKeepAllKeys disables that.
func New(opts ...func(*config)) *Cache {
	cfg := resolveConfig(opts...)
	c := &Cache{
		shards:   make([]shard, cfg.shards),
		keepAll:  cfg.keepAll,
		prealloc: int(uint(1)<<cfg.logSlots) / cfg.shards,
	}
	if c.prealloc > 1<<16 {
		c.prealloc = 1 << 16
	}
	for i := range c.shards {
		c.shards[i].m = make(map[string]*Entry, c.prealloc)
	}
	return c
}

func (c *Cache) shardFor(key []byte) *shard {
	h := murmur3.Sum64(key)
	return &c.shards[h%uint64(len(c.shards))]
}

// InsertOrGet returns the slot for key, creating it with word zero and
// refcount 1 if absent, or incrementing the refcount of the existing slot.
// isNew is true only for the single caller (among any number racing on the
// same key) whose call actually created the slot.
func (c *Cache) InsertOrGet(key []byte) (entry *Entry, isNew bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[string(key)]; ok {
		e.refcount++
		return e, false
	}
	e := &Entry{key: append([]byte(nil), key...), refcount: 1}
	s.m[string(key)] = e
	return e, true
}

// Release decrements the refcount on key's slot. In the removing variant,
// a refcount that reaches zero causes the slot to be removed and removed
// is reported true; in the KeepAllKeys variant slots are never removed.
func (c *Cache) Release(key []byte) (removed bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[string(key)]
	if !ok {
		return false
	}
	e.refcount--
	if c.keepAll {
		return false
	}
	if e.refcount <= 0 {
		delete(s.m, string(key))
		return true
	}
	return false
}

// Len returns the number of slots currently installed, summed across all
// shards. Intended for tests and stats reporting, not the hot path.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		c.shards[i].mu.RLock()
		n += len(c.shards[i].m)
		c.shards[i].mu.RUnlock()
	}
	return n
}

// KeepsAllKeys reports whether this Cache was constructed with
// OptKeepAllKeys(true).
func (c *Cache) KeepsAllKeys() bool { return c.keepAll }
