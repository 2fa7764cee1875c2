package kvs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MergeFunc composes a non-definitive UPDATE's delta onto a prior pending
// message's value. It is never called with old.Type == MessageDelete;
// BytesDataConfig enforces that invariant before calling it.
type MergeFunc func(key []byte, old Message, delta []byte) (Message, error)

// BytesDataConfig is a DataConfig built from a plain byte comparator and a
// pluggable merge function, covering the common case where keys sort
// bytewise and UPDATE deltas are domain-specific (counters, CRDT deltas,
// etc). KeySize is fixed at construction, matching the source's
// compile-time KEY_SIZE.
type BytesDataConfig struct {
	keySize int
	merge   MergeFunc
}

// NewBytesDataConfig builds a DataConfig with bytewise key comparison and
// the given merge function for UPDATE composition.
func NewBytesDataConfig(keySize int, merge MergeFunc) *BytesDataConfig {
	if merge == nil {
		merge = ConcatMerge
	}
	return &BytesDataConfig{keySize: keySize, merge: merge}
}

func (c *BytesDataConfig) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (c *BytesDataConfig) KeySize() int            { return c.keySize }

func (c *BytesDataConfig) Merge(key []byte, old, update Message) (Message, error) {
	if old.Type == MessageDelete {
		return Message{}, fmt.Errorf("kvs: merge on top of a pending DELETE for key %x is a programming error", key)
	}
	if update.Type != MessageUpdate {
		return Message{}, fmt.Errorf("kvs: Merge called with non-UPDATE message type %s", update.Type)
	}
	return c.merge(key, old, update.Value)
}

// ConcatMerge appends the new delta after the old value. A reasonable
// default for log/CRDT-style payloads where the underlying store itself
// knows how to fold a chain of appended deltas.
func ConcatMerge(_ []byte, old Message, delta []byte) (Message, error) {
	merged := make([]byte, 0, len(old.Value)+len(delta))
	merged = append(merged, old.Value...)
	merged = append(merged, delta...)
	return Message{Type: old.Type, Value: merged}, nil
}

// Int64AddMerge treats both the pending value and the delta as
// little-endian int64 counters and merges by addition, the shape needed
// by a counter key under concurrent `update(key, +1)` transactions. If
// old has no pending value yet (a first UPDATE on top of nothing), the
// delta becomes the merged value directly.
func Int64AddMerge(_ []byte, old Message, delta []byte) (Message, error) {
	if len(delta) != 8 {
		return Message{}, fmt.Errorf("kvs: Int64AddMerge requires an 8-byte delta, got %d", len(delta))
	}
	if len(old.Value) == 0 {
		return Message{Type: MessageUpdate, Value: append([]byte(nil), delta...)}, nil
	}
	if len(old.Value) != 8 {
		return Message{}, fmt.Errorf("kvs: Int64AddMerge requires an 8-byte prior value, got %d", len(old.Value))
	}
	sum := int64(binary.LittleEndian.Uint64(old.Value)) + int64(binary.LittleEndian.Uint64(delta))
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(sum))
	return Message{Type: MessageUpdate, Value: buf}, nil
}

// EncodeInt64 and DecodeInt64 are small helpers for tests and callers
// working with the Int64AddMerge counter convention.
func EncodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf
}

func DecodeInt64(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}
