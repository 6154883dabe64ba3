package hash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdnguyen/minirel/internal/bufferpool"
	"github.com/tdnguyen/minirel/internal/storage"
)

func newTestIndex(t *testing.T, capacity int) (*Index, *bufferpool.Pool) {
	t.Helper()

	dm, err := storage.NewMemDiskManager()
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	bp := bufferpool.NewPool(dm, capacity)
	idx, err := Open(bp, "testindex")
	require.NoError(t, err)
	return idx, bp
}

func requireNoPins(t *testing.T, bp *bufferpool.Pool) {
	t.Helper()
	require.Equal(t, bp.NumFrames(), bp.NumUnpinned(), "leaked pin")
}

func collect(t *testing.T, idx *Index, key Key) map[storage.RID]bool {
	t.Helper()

	scan, err := idx.OpenScan(key)
	require.NoError(t, err)
	out := map[storage.RID]bool{}
	for {
		rid, ok, err := scan.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.False(t, out[rid], "rid %v yielded twice", rid)
		out[rid] = true
	}
	require.NoError(t, scan.Close())
	return out
}

func TestInsertScan_CollidingKeys(t *testing.T) {
	idx, bp := newTestIndex(t, 8)

	// 5 and 133 share bucket 5 under the identity hash.
	require.Equal(t, Bucket(IntKey(5)), Bucket(IntKey(133)))

	r1 := storage.RID{PageID: 100, Slot: 1}
	r2 := storage.RID{PageID: 100, Slot: 2}
	r3 := storage.RID{PageID: 101, Slot: 1}

	require.NoError(t, idx.Insert(IntKey(5), r1))
	require.NoError(t, idx.Insert(IntKey(5), r2))
	require.NoError(t, idx.Insert(IntKey(133), r3))
	requireNoPins(t, bp)

	assert.Equal(t, map[storage.RID]bool{r1: true, r2: true}, collect(t, idx, IntKey(5)))
	assert.Equal(t, map[storage.RID]bool{r3: true}, collect(t, idx, IntKey(133)))
	requireNoPins(t, bp)

	require.NoError(t, idx.Delete(IntKey(5), r1))
	assert.Equal(t, map[storage.RID]bool{r2: true}, collect(t, idx, IntKey(5)))
	assert.Equal(t, map[storage.RID]bool{r3: true}, collect(t, idx, IntKey(133)))
	requireNoPins(t, bp)
}

func TestScan_OtherKeysSeeNothing(t *testing.T) {
	idx, bp := newTestIndex(t, 8)

	for s := uint16(1); s <= 20; s++ {
		require.NoError(t, idx.Insert(IntKey(9), storage.RID{PageID: 7, Slot: s}))
	}

	assert.Empty(t, collect(t, idx, IntKey(10)))
	// Same bucket, different key.
	assert.Empty(t, collect(t, idx, IntKey(9+128)))
	assert.Len(t, collect(t, idx, IntKey(9)), 20)
	requireNoPins(t, bp)
}

func TestDelete_AbsentEntry(t *testing.T) {
	idx, bp := newTestIndex(t, 8)

	// Empty bucket.
	err := idx.Delete(IntKey(3), storage.RID{PageID: 1, Slot: 1})
	assert.ErrorIs(t, err, ErrEntryNotFound)

	// Occupied bucket, missing rid.
	require.NoError(t, idx.Insert(IntKey(3), storage.RID{PageID: 1, Slot: 1}))
	err = idx.Delete(IntKey(3), storage.RID{PageID: 1, Slot: 2})
	assert.ErrorIs(t, err, ErrEntryNotFound)
	requireNoPins(t, bp)
}

func TestInsert_EntryTooLarge(t *testing.T) {
	idx, bp := newTestIndex(t, 8)

	huge := StringKey(strings.Repeat("k", MaxEntrySize))
	err := idx.Insert(huge, storage.RID{PageID: 1, Slot: 1})
	assert.ErrorIs(t, err, ErrEntryTooLarge)
	requireNoPins(t, bp)
}

func TestOverflow_GrowsAndReclaims(t *testing.T) {
	idx, bp := newTestIndex(t, 8)
	baseline := bp.Disk().AllocCount() // directory pages only

	// 200 distinct keys, every one landing in bucket 0.
	type pair struct {
		k   IntKey
		rid storage.RID
	}
	var pairs []pair
	for i := range 200 {
		p := pair{k: IntKey(i * NumBuckets), rid: storage.RID{PageID: storage.PageID(i + 10), Slot: 1}}
		pairs = append(pairs, p)
		require.NoError(t, idx.Insert(p.k, p.rid))
	}
	requireNoPins(t, bp)

	// The chain outgrew the primary page.
	grown := bp.Disk().AllocCount()
	require.Greater(t, grown, baseline+2)

	// Every entry is findable while the chain is long.
	assert.Equal(t, map[storage.RID]bool{pairs[150].rid: true}, collect(t, idx, pairs[150].k))

	for _, p := range pairs {
		require.NoError(t, idx.Delete(p.k, p.rid))
	}
	requireNoPins(t, bp)

	// Overflow pages reclaimed; the primary page is retained empty.
	assert.Equal(t, baseline+1, bp.Disk().AllocCount())
	assert.Empty(t, collect(t, idx, pairs[0].k))
}

func TestSummary_Format(t *testing.T) {
	idx, bp := newTestIndex(t, 8)

	require.NoError(t, idx.Insert(IntKey(5), storage.RID{PageID: 1, Slot: 1}))
	require.NoError(t, idx.Insert(IntKey(5), storage.RID{PageID: 1, Slot: 2}))
	require.NoError(t, idx.Insert(IntKey(0), storage.RID{PageID: 2, Slot: 1}))

	var sb strings.Builder
	require.NoError(t, idx.Summary(&sb))
	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	require.Len(t, lines, NumBuckets)

	assert.Equal(t, "0000000 : 1", lines[0])
	assert.Equal(t, "0000101 : 2", lines[5])
	assert.Equal(t, "0000001 : null", lines[1])
	requireNoPins(t, bp)
}

func TestMixedKeyTypes(t *testing.T) {
	idx, bp := newTestIndex(t, 8)

	rs := storage.RID{PageID: 1, Slot: 1}
	rf := storage.RID{PageID: 1, Slot: 2}
	require.NoError(t, idx.Insert(StringKey("ha noi"), rs))
	require.NoError(t, idx.Insert(FloatKey(2.5), rf))

	assert.Equal(t, map[storage.RID]bool{rs: true}, collect(t, idx, StringKey("ha noi")))
	assert.Equal(t, map[storage.RID]bool{rf: true}, collect(t, idx, FloatKey(2.5)))
	assert.Empty(t, collect(t, idx, StringKey("saigon")))

	require.NoError(t, idx.Delete(FloatKey(2.5), rf))
	assert.Empty(t, collect(t, idx, FloatKey(2.5)))
	requireNoPins(t, bp)
}

func TestOpen_ReusesRegistryEntry(t *testing.T) {
	idx, bp := newTestIndex(t, 8)

	rid := storage.RID{PageID: 4, Slot: 4}
	require.NoError(t, idx.Insert(IntKey(77), rid))

	idx2, err := Open(bp, "testindex")
	require.NoError(t, err)
	assert.Equal(t, idx.HeadID(), idx2.HeadID())
	assert.Equal(t, map[storage.RID]bool{rid: true}, collect(t, idx2, IntKey(77)))
}

func TestTempIndex_DroppedOnClose(t *testing.T) {
	_, bp := newTestIndex(t, 8)
	baseline := bp.Disk().AllocCount()

	tmp, err := Open(bp, "")
	require.NoError(t, err)
	require.NoError(t, tmp.Insert(IntKey(1), storage.RID{PageID: 1, Slot: 1}))

	require.NoError(t, tmp.Close())
	assert.Equal(t, baseline, bp.Disk().AllocCount())

	err = tmp.Insert(IntKey(2), storage.RID{PageID: 1, Slot: 2})
	assert.ErrorIs(t, err, ErrIndexClosed)
	require.NoError(t, tmp.Close())
}

func TestDrop_RemovesEverything(t *testing.T) {
	idx, bp := newTestIndex(t, 8)

	for i := range 100 {
		require.NoError(t, idx.Insert(IntKey(i), storage.RID{PageID: storage.PageID(i), Slot: 1}))
	}
	require.NoError(t, idx.Drop())
	requireNoPins(t, bp)

	assert.Equal(t, 0, bp.Disk().AllocCount())
	_, ok := bp.Disk().GetFileEntry("testindex")
	assert.False(t, ok)
}
