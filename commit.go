package txnkv

import (
	"sort"
	"time"

	"github.com/clayne/splinterdb/kvs"
	"github.com/clayne/splinterdb/tscache"
)

// noWaitBackoff is the fixed back-off between no-wait lock-acquisition
// retries, 1 microsecond, the value named in the TicToc paper and used
// verbatim by the source (platform_sleep_ns(1000)).
const noWaitBackoff = 1 * time.Microsecond

// Commit partitions the transaction's entries into read and write sets,
// sorts the write set by key to fix a global lock order, acquires write
// locks with a no-wait policy, derives a commit timestamp, validates
// (and where possible extends) every read, applies writes on success,
// and always tears down the transaction's resources before returning.
//
// Commit returns ErrAborted if validation failed; the transaction is
// fully torn down either way and must not be reused.
func (txn *Txn) Commit() error {
	if txn.done {
		return ErrClosed
	}
	defer txn.teardown()

	readSet, writeSet := txn.partition()

	var commitTS uint64
	for _, r := range readSet {
		wts := r.wts
		if txn.db.cfg.SiloCommitTS {
			wts++
		}
		if wts > commitTS {
			commitTS = wts
		}
	}

	sort.Slice(writeSet, func(i, j int) bool {
		return txn.db.cfg.Data.Compare(writeSet[i].key, writeSet[j].key) < 0
	})

	txn.lockWriteSet(writeSet)
	if txn.lastCommitRetries > 0 {
		txn.db.noWaitRetries.Add(int64(txn.lastCommitRetries))
	}

	for _, w := range writeSet {
		if rts := w.slot.Load().RTS() + 1; rts > commitTS {
			commitTS = rts
		}
	}

	aborted := txn.validateReadSet(readSet, commitTS)

	if aborted {
		for _, w := range writeSet {
			w.slot.Unlock()
		}
		txn.db.aborts.Add(1)
		return ErrAborted
	}

	txn.applyWriteSet(writeSet, commitTS)
	txn.db.commits.Add(1)
	return nil
}

// Abort discards the transaction's buffered writes without touching the
// store. Calling Abort on a transaction with no buffered effects,
// including one that has already been committed or aborted, is a no-op
// that returns nil.
func (txn *Txn) Abort() error {
	if txn.done {
		return nil
	}
	txn.teardown()
	return nil
}

// partition splits entries into read_set (is_read) and write_set (has a
// pending message); an entry may appear in both.
func (txn *Txn) partition() (readSet, writeSet []*rwEntry) {
	readSet = make([]*rwEntry, 0, len(txn.entries))
	writeSet = make([]*rwEntry, 0, len(txn.entries))
	for _, e := range txn.entries {
		if e.isWrite() {
			writeSet = append(writeSet, e)
		}
		if e.isRead {
			readSet = append(readSet, e)
		}
	}
	return readSet, writeSet
}

// lockWriteSet acquires every write lock in sorted order with a no-wait
// policy: on any failure to acquire, release everything acquired so far
// in this attempt, back off, and restart the whole write set from the
// first key. Sorted acquisition order is what gives write-write conflicts
// a total order and rules out deadlock.
func (txn *Txn) lockWriteSet(writeSet []*rwEntry) {
retry:
	for _, w := range writeSet {
		w.ensureSlot(txn.db.tscache)
	}
	for i, w := range writeSet {
		if !w.slot.TryLock() {
			for j := 0; j < i; j++ {
				writeSet[j].slot.Unlock()
			}
			txn.lastCommitRetries++
			time.Sleep(noWaitBackoff)
			goto retry
		}
	}
}

// validateReadSet checks, for every read whose rts is behind commitTS,
// that the underlying version hasn't changed, and either extends rts to
// commitTS or aborts.
func (txn *Txn) validateReadSet(readSet []*rwEntry, commitTS uint64) (aborted bool) {
	for _, r := range readSet {
		if r.rts >= commitTS {
			continue
		}
		for {
			v1 := r.slot.Load()
			wtsChanged := v1.WTS() != r.wts
			rts := v1.RTS()
			lockedByAnother := rts <= commitTS && v1.Locked() && !r.isWrite()
			if wtsChanged || lockedByAnother {
				return true
			}
			if rts > commitTS {
				break
			}
			extended := v1.ExtendTo(commitTS)
			if r.slot.CAS(v1, extended) {
				break
			}
			// CAS lost the race against a concurrent extension/unlock;
			// reload and retry the same check.
		}
	}
	return false
}

// applyWriteSet dispatches every buffered message to the store and then
// installs the post-commit word {wts: commitTS, delta: 0, lock: false}.
// A store failure here is treated as fatal: by the time we reach apply,
// validation has already succeeded, so a write failing can only mean the
// underlying KVS has broken its own contract.
func (txn *Txn) applyWriteSet(writeSet []*rwEntry, commitTS uint64) {
	store := txn.db.cfg.Store
	for _, w := range writeSet {
		var err error
		switch w.msg.Type {
		case kvs.MessageInsert:
			err = store.Insert(w.key, w.msg.Value)
		case kvs.MessageUpdate:
			err = store.Update(w.key, w.msg.Value)
		case kvs.MessageDelete:
			err = store.Delete(w.key)
		}
		if err != nil {
			fatalf("store write failed during commit apply for key %x: %v", w.key, err)
		}
		w.slot.Store(tscache.Committed(commitTS))
	}
}
