package txnkv

import "github.com/clayne/splinterdb/kvs"

// Insert buffers an INSERT for key/value. Like Update and Delete, it
// never touches the underlying store directly; see localWrite.
func (txn *Txn) Insert(key, value []byte) error {
	return txn.localWrite(key, kvs.Message{Type: kvs.MessageInsert, Value: value})
}

// Update buffers an UPDATE, a non-definitive delta that will be folded
// onto whatever INSERT/UPDATE this transaction already has pending for
// key, or applied on top of the store's current value at commit if this
// transaction has no prior pending write for key.
func (txn *Txn) Update(key, delta []byte) error {
	return txn.localWrite(key, kvs.Message{Type: kvs.MessageUpdate, Value: delta})
}

// Delete buffers a DELETE.
func (txn *Txn) Delete(key []byte) error {
	return txn.localWrite(key, kvs.Message{Type: kvs.MessageDelete})
}

// localWrite buffers a write without touching the KVS. UPDATE and
// DELETE additionally install the timestamp-cache slot and sample
// (wts, rts) immediately, because they depend on (and must validate
// against) the key's current value; INSERT does not need sampling here
// since its validation happens entirely through the write-set
// lock/apply path at commit.
func (txn *Txn) localWrite(key []byte, msg kvs.Message) error {
	if txn.done {
		return ErrClosed
	}
	entry, err := txn.entryFor(key, false)
	if err != nil {
		return err
	}

	if msg.Type == kvs.MessageUpdate || msg.Type == kvs.MessageDelete {
		entry.ensureSlot(txn.db.tscache)
		entry.sample(entry.slot.Load())
	}

	return entry.setMessage(txn.db.cfg.Data, msg)
}
