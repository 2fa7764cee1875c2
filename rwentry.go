package txnkv

import (
	"github.com/clayne/splinterdb/kvs"
	"github.com/clayne/splinterdb/tscache"
)

// rwEntry is a transaction's per-key bookkeeping record. At most one
// rwEntry exists per distinct user key within a single transaction; an
// entry can be both a read and a write.
type rwEntry struct {
	key    []byte // owned copy, independent of caller's buffer
	msg    kvs.Message
	hasMsg bool

	wts uint64
	rts uint64

	slot *tscache.Entry

	isRead bool

	// needToKeepKey mirrors the source's rw_entry.need_to_keep_key. In the
	// C implementation it tracks whether the cache took ownership of the
	// key buffer (avoiding a double free across the entry/cache boundary).
	// Go's GC makes that bookkeeping moot, but the field is kept for
	// parity with the source's shape; it is never set true in this port
	// because tscache.Cache always copies its own key rather than
	// borrowing the entry's.
	needToKeepKey bool

	needToDecreaseRefcount bool
}

func (e *rwEntry) isWrite() bool { return e.hasMsg }

// ensureSlot installs this entry's timestamp-cache slot if it isn't
// already installed, reporting whether this call was the one that
// created it.
func (e *rwEntry) ensureSlot(cache *tscache.Cache) bool {
	if e.slot != nil {
		return false
	}
	slot, isNew := cache.InsertOrGet(e.key)
	e.slot = slot
	e.needToDecreaseRefcount = true
	return isNew
}

// sample copies the slot's current (wts, rts) into the entry, used by
// both the lookup protocol and UPDATE/DELETE sampling.
func (e *rwEntry) sample(v tscache.Word) {
	e.wts = v.WTS()
	e.rts = v.RTS()
}

// setMessage applies the write-buffering merge rules:
// INSERT and DELETE are definitive and overwrite any prior pending
// message outright; UPDATE is non-definitive and is folded onto a prior
// pending message via DataConfig.Merge, unless there is no prior message
// yet, in which case it is recorded as-is. Merging on top of a pending
// DELETE is a programming error the source treats as fatal; so does this
// port. It happens when a transaction calls Update for a key after
// calling Delete for the same key.
func (e *rwEntry) setMessage(data kvs.DataConfig, msg kvs.Message) error {
	if !e.hasMsg {
		e.msg = msg
		e.hasMsg = true
		return nil
	}
	if msg.Definitive() {
		e.msg = msg
		return nil
	}
	if e.msg.Type == kvs.MessageDelete {
		fatalf("merge on top of a pending DELETE for key %x", e.key)
	}
	merged, err := data.Merge(e.key, e.msg, msg)
	if err != nil {
		return err
	}
	e.msg = merged
	return nil
}

// release returns this entry's timestamp-cache refcount, if it held one.
func (e *rwEntry) release(cache *tscache.Cache) {
	if !e.needToDecreaseRefcount {
		return
	}
	cache.Release(e.key)
	e.needToDecreaseRefcount = false
}
