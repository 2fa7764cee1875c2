package tscache

import "sync/atomic"

// Entry is a timestamp cache slot: the word readers and writers CAS
// against, plus a refcount maintained by the owning Cache. An Entry's
// address is stable for as long as any Entry.refcount keeps it alive; the
// Cache never moves or copies an Entry once installed.
type Entry struct {
	key      []byte
	word     atomic.Uint64
	refcount int // guarded by the owning shard's mutex, not atomic
}

// Key returns the owned copy of the key this entry was installed under.
func (e *Entry) Key() []byte { return e.key }

// Load atomically reads the current timestamp word.
func (e *Entry) Load() Word { return Word(e.word.Load()) }

// CAS attempts to replace old with new in a single atomic step, failing if
// another goroutine has since changed the word.
func (e *Entry) CAS(old, new Word) bool {
	return e.word.CompareAndSwap(uint64(old), uint64(new))
}

// TryLock attempts to set the lock bit in a single CAS against the word as
// currently observed. It never spins: a failure (either
// because the bit was already set, or because a concurrent writer raced the
// CAS) is reported immediately so the no-wait commit protocol can back off
// and retry the whole write set instead of waiting.
func (e *Entry) TryLock() bool {
	v := e.Load()
	if v.Locked() {
		return false
	}
	return e.CAS(v, v.WithLock(true))
}

// Unlock clears the lock bit, retrying the CAS against concurrent
// observers (e.g. a read-validation extension) until it succeeds.
func (e *Entry) Unlock() {
	for {
		v := e.Load()
		if e.CAS(v, v.WithLock(false)) {
			return
		}
	}
}

// Store unconditionally replaces the word, retrying against concurrent
// observers. Used by commit apply to install the post-commit word
// {wts: commitTS, delta: 0, lock: false}.
func (e *Entry) Store(w Word) {
	for {
		old := e.Load()
		if e.CAS(old, w) {
			return
		}
	}
}
