package txnkv

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clayne/splinterdb/kvs"
	"github.com/clayne/splinterdb/tscache"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	data := kvs.NewBytesDataConfig(16, kvs.Int64AddMerge)
	store := kvs.NewMemStore(data, 8)
	db, err := Open(Config{Store: store, Data: data})
	require.NoError(t, err)
	db.RegisterThread()
	t.Cleanup(func() {
		db.DeregisterThread()
		require.NoError(t, db.Close())
	})
	return db
}

func TestInsertThenLookupAcrossTransactions(t *testing.T) {
	db := newTestDB(t)

	txn1, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, txn1.Insert([]byte("a"), []byte("1")))
	require.NoError(t, txn1.Commit())

	txn2, err := db.Begin()
	require.NoError(t, err)
	v, found, err := txn2.Lookup([]byte("a"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", string(v))
	require.NoError(t, txn2.Commit())
}

func TestReadThenConcurrentWriteAborts(t *testing.T) {
	db := newTestDB(t)

	setup, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, setup.Insert([]byte("a"), kvs.EncodeInt64(0)))
	require.NoError(t, setup.Insert([]byte("b"), []byte("0")))
	require.NoError(t, setup.Commit())

	t1, err := db.Begin()
	require.NoError(t, err)
	_, _, err = t1.Lookup([]byte("a"))
	require.NoError(t, err)

	t2, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, t2.Update([]byte("a"), kvs.EncodeInt64(1)))
	require.NoError(t, t2.Commit())

	require.NoError(t, t1.Insert([]byte("b"), []byte("1")))
	err = t1.Commit()
	assert.ErrorIs(t, err, ErrAborted)
}

// TestConcurrentCounterUpdateConverges drives two concurrent
// update(a, +1) transactions against a freshly inserted counter. Since
// neither transaction reads "a" (UPDATE samples its slot but is never
// placed in the read set), the no-wait write lock is the only point of
// contention: whichever transaction loses the race for the slot retries
// internally until the winner's commit releases it, then applies its
// own merge on top of the now-updated store value. Both therefore
// commit, serialized by the lock, and the counter converges to 2.
func TestConcurrentCounterUpdateConverges(t *testing.T) {
	data := kvs.NewBytesDataConfig(16, kvs.Int64AddMerge)
	store := kvs.NewMemStore(data, 8)
	db, err := Open(Config{Store: store, Data: data})
	require.NoError(t, err)
	db.RegisterThread()
	defer db.DeregisterThread()
	defer db.Close()

	setup, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, setup.Insert([]byte("a"), kvs.EncodeInt64(0)))
	require.NoError(t, setup.Commit())

	run := func() error {
		txn, err := db.Begin()
		if err != nil {
			return err
		}
		if err := txn.Update([]byte("a"), kvs.EncodeInt64(1)); err != nil {
			return err
		}
		return txn.Commit()
	}

	results := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i := range results {
		i := i
		go func() {
			defer wg.Done()
			results[i] = run()
		}()
	}
	wg.Wait()

	for _, r := range results {
		assert.NoError(t, r)
	}

	check, err := db.Begin()
	require.NoError(t, err)
	v, found, err := check.Lookup([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), kvs.DecodeInt64(v))
	require.NoError(t, check.Commit())
}

func TestWriteSetLocksInSortedOrderRegardlessOfIssueOrder(t *testing.T) {
	db := newTestDB(t)

	setup, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, setup.Insert([]byte("a"), []byte("0")))
	require.NoError(t, setup.Insert([]byte("b"), []byte("0")))
	require.NoError(t, setup.Insert([]byte("c"), []byte("0")))
	require.NoError(t, setup.Commit())

	t1, err := db.Begin()
	require.NoError(t, err)
	// Issue writes out of key order; sorted the way Commit sorts it before
	// calling lockWriteSet, the write set is locked in order {a, b, c}.
	require.NoError(t, t1.Insert([]byte("b"), []byte("2")))
	require.NoError(t, t1.Insert([]byte("a"), []byte("1")))
	require.NoError(t, t1.Insert([]byte("c"), []byte("3")))

	_, writeSet := t1.partition()
	sort.Slice(writeSet, func(i, j int) bool {
		return db.cfg.Data.Compare(writeSet[i].key, writeSet[j].key) < 0
	})
	t1.lockWriteSet(writeSet)
	require.Len(t, writeSet, 3)
	assert.Equal(t, "a", string(writeSet[0].key))
	assert.Equal(t, "b", string(writeSet[1].key))
	assert.Equal(t, "c", string(writeSet[2].key))
	for _, w := range writeSet {
		w.slot.Unlock()
	}

	// A concurrent holder of "b"'s lock forces a no-wait retry: b's lock
	// is released only after t2 has already restarted at least once.
	contender, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, contender.Update([]byte("b"), []byte("held")))
	_, contenderWriteSet := contender.partition()
	contender.lockWriteSet(contenderWriteSet)

	t2, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, t2.Insert([]byte("b"), []byte("4")))
	_, t2WriteSet := t2.partition()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t2.lockWriteSet(t2WriteSet)
	}()
	time.Sleep(5 * time.Millisecond)
	for _, w := range contenderWriteSet {
		w.slot.Unlock()
	}
	wg.Wait()

	assert.Greater(t, t2.lastCommitRetries, 0)
	for _, w := range t2WriteSet {
		w.slot.Unlock()
	}
	t2.teardown()
	contender.teardown()
	t1.teardown()
}

func TestReadOwnWritesDoesNotTouchStore(t *testing.T) {
	data := kvs.NewBytesDataConfig(16, kvs.ConcatMerge)
	store := kvs.NewMemStore(data, 8)
	db, err := Open(Config{Store: store, Data: data})
	require.NoError(t, err)
	db.RegisterThread()
	defer db.DeregisterThread()
	defer db.Close()

	txn, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Insert([]byte("k"), []byte("v1")))

	v, found, err := txn.Lookup([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", string(v))

	_, found, err = store.Lookup([]byte("k"))
	require.NoError(t, err)
	assert.False(t, found, "commit has not run yet; the store must be untouched")

	require.NoError(t, txn.Commit())
	v, found, err = store.Lookup([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", string(v))
}

func TestTeardownReleasesAllTimestampCacheRefcounts(t *testing.T) {
	db := newTestDB(t)
	before := db.tscache.Len()

	txn, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Insert([]byte("a"), []byte("1")))
	require.NoError(t, txn.Insert([]byte("b"), []byte("2")))
	_, _, err = txn.Lookup([]byte("c"))
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	assert.Equal(t, before, db.tscache.Len())
}

func TestAbortOnZeroEffectTransactionIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	txn, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Abort())
	require.NoError(t, txn.Abort())
}

func TestCommitAfterDoneReturnsErrClosed(t *testing.T) {
	db := newTestDB(t)

	txn, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Abort())
	assert.ErrorIs(t, txn.Commit(), ErrClosed)
}

func TestReadValidationExtendsRTSAcrossDeltaBoundary(t *testing.T) {
	db := newTestDB(t)

	const W = uint64(1_000_000)
	const commitTS = W + 40000

	slot, _ := db.tscache.InsertOrGet([]byte("a"))
	slot.Store(tscache.NewWord(W, 0, false))

	txn, err := db.Begin()
	require.NoError(t, err)
	entry := &rwEntry{key: []byte("a"), isRead: true, slot: slot, wts: W, rts: W}
	txn.entries = []*rwEntry{entry}

	aborted := txn.validateReadSet([]*rwEntry{entry}, commitTS)
	require.False(t, aborted)
	assert.Equal(t, commitTS, slot.Load().RTS())

	db.tscache.Release([]byte("a"))
}

func TestBeginWithoutRegisteredThreadFails(t *testing.T) {
	data := kvs.NewBytesDataConfig(16, kvs.ConcatMerge)
	store := kvs.NewMemStore(data, 8)
	db, err := Open(Config{Store: store, Data: data})
	require.NoError(t, err)
	defer func() {
		db.RegisterThread()
		db.DeregisterThread()
		db.Close()
	}()

	_, err = db.Begin()
	assert.ErrorIs(t, err, ErrNotRegistered)
}
