package heap

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdnguyen/minirel/internal/bufferpool"
	"github.com/tdnguyen/minirel/internal/storage"
)

// newTestHeap creates a memory-backed pool and an empty named heap
// file on it.
func newTestHeap(t *testing.T, capacity int) (*File, *bufferpool.Pool) {
	t.Helper()

	dm, err := storage.NewMemDiskManager()
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	bp := bufferpool.NewPool(dm, capacity)
	f, err := Open(bp, "testheap")
	require.NoError(t, err)
	return f, bp
}

// requireNoPins asserts pin conservation: nothing stays pinned after a
// completed top-level operation.
func requireNoPins(t *testing.T, bp *bufferpool.Pool) {
	t.Helper()
	require.Equal(t, bp.NumFrames(), bp.NumUnpinned(), "leaked pin")
}

// checkDirAccuracy walks the directory and verifies every entry's
// record count and free count against the data page itself.
func checkDirAccuracy(t *testing.T, f *File, bp *bufferpool.Pool) {
	t.Helper()

	cur := f.HeadID()
	for cur.Valid() {
		pg, err := bp.PinPage(cur, bufferpool.PinDiskIO)
		require.NoError(t, err)
		dp := asDirPage(pg)

		for i := 0; i < dp.count(); i++ {
			pid, recs, free := dp.entry(i)
			dpg, err := bp.PinPage(pid, bufferpool.PinDiskIO)
			require.NoError(t, err)
			hf := storage.AsHFPage(dpg)

			live := 0
			for s := 1; s <= hf.SlotCount(); s++ {
				if _, err := hf.SelectRecord(uint16(s)); err == nil {
					live++
				}
			}
			assert.Equal(t, recs, live, "record count for page %d", pid)
			assert.Equal(t, free, hf.FreeSpace(), "free count for page %d", pid)
			require.NoError(t, bp.UnpinPage(pid, bufferpool.UnpinClean))
		}

		next := dp.NextPage()
		require.NoError(t, bp.UnpinPage(cur, bufferpool.UnpinClean))
		cur = next
	}
}

func TestInsertSelect_RoundTrip(t *testing.T) {
	f, bp := newTestHeap(t, 8)

	recs := make(map[storage.RID][]byte)
	for i := range 40 {
		rec := fmt.Appendf(nil, "row-%04d-%s", i, bytes.Repeat([]byte{'x'}, i))
		rid, err := f.Insert(rec)
		require.NoError(t, err)
		recs[rid] = rec
		requireNoPins(t, bp)
	}

	for rid, want := range recs {
		got, err := f.Select(rid)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	n, err := f.Count()
	require.NoError(t, err)
	assert.Equal(t, len(recs), n)
	checkDirAccuracy(t, f, bp)
}

func TestInsert_RecordTooLarge(t *testing.T) {
	f, bp := newTestHeap(t, 4)

	_, err := f.Insert(bytes.Repeat([]byte{1}, storage.MaxRecordSize+1))
	assert.ErrorIs(t, err, ErrRecordTooLarge)

	// Under the size cap but unable to share a page with its slot entry.
	_, err = f.Insert(bytes.Repeat([]byte{1}, storage.MaxRecordSize-1))
	assert.ErrorIs(t, err, storage.ErrNoSpace)
	requireNoPins(t, bp)
}

func TestUpdate_EqualLengthOnly(t *testing.T) {
	f, bp := newTestHeap(t, 4)

	rid, err := f.Insert([]byte("original!!"))
	require.NoError(t, err)

	require.NoError(t, f.Update(rid, []byte("replaced!!")))
	got, err := f.Select(rid)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced!!"), got)

	assert.ErrorIs(t, f.Update(rid, []byte("short")), storage.ErrBadUpdate)
	requireNoPins(t, bp)
	checkDirAccuracy(t, f, bp)
}

func TestDelete_BadRID(t *testing.T) {
	f, bp := newTestHeap(t, 4)

	rid, err := f.Insert([]byte("only"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.Delete(storage.RID{PageID: rid.PageID, Slot: 9}), storage.ErrBadSlot)

	// A directory page is not addressable as a data page.
	_, err = f.Select(storage.RID{PageID: f.HeadID(), Slot: 1})
	assert.ErrorIs(t, err, storage.ErrBadSlot)
	requireNoPins(t, bp)
}

func TestInsertDelete_ReclaimsDataPages(t *testing.T) {
	f, bp := newTestHeap(t, 3)
	baseline := bp.Disk().AllocCount() // head dir page only

	// One tiny record, one medium, one that fills a page alone.
	a, err := f.Insert([]byte("A"))
	require.NoError(t, err)
	b, err := f.Insert(bytes.Repeat([]byte{'B'}, 500))
	require.NoError(t, err)
	c, err := f.Insert(bytes.Repeat([]byte{'C'}, 1000))
	require.NoError(t, err)
	requireNoPins(t, bp)

	// A and B share the first data page; C needs its own.
	assert.Equal(t, a.PageID, b.PageID)
	assert.NotEqual(t, a.PageID, c.PageID)
	assert.Equal(t, baseline+2, bp.Disk().AllocCount())

	n, err := f.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, pair := range []struct {
		rid  storage.RID
		want []byte
	}{
		{a, []byte("A")},
		{b, bytes.Repeat([]byte{'B'}, 500)},
		{c, bytes.Repeat([]byte{'C'}, 1000)},
	} {
		got, err := f.Select(pair.rid)
		require.NoError(t, err)
		assert.Equal(t, pair.want, got)
	}
	checkDirAccuracy(t, f, bp)

	require.NoError(t, f.Delete(a))
	require.NoError(t, f.Delete(b))
	require.NoError(t, f.Delete(c))
	requireNoPins(t, bp)

	n, err = f.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Both data pages reclaimed; the head directory page remains.
	assert.Equal(t, baseline, bp.Disk().AllocCount())
}

func TestRIDStability_UnderDelete(t *testing.T) {
	f, bp := newTestHeap(t, 4)

	r1, err := f.Insert([]byte("one-1111"))
	require.NoError(t, err)
	r2, err := f.Insert([]byte("two-2222"))
	require.NoError(t, err)
	r3, err := f.Insert([]byte("three-33"))
	require.NoError(t, err)
	require.Equal(t, r1.PageID, r3.PageID)

	require.NoError(t, f.Delete(r2))

	got, err := f.Select(r1)
	require.NoError(t, err)
	assert.Equal(t, []byte("one-1111"), got)
	got, err = f.Select(r3)
	require.NoError(t, err)
	assert.Equal(t, []byte("three-33"), got)

	_, err = f.Select(r2)
	assert.ErrorIs(t, err, storage.ErrBadSlot)
	requireNoPins(t, bp)
}

func TestDirectory_GrowsAndShrinks(t *testing.T) {
	f, bp := newTestHeap(t, 16)
	baseline := bp.Disk().AllocCount()

	// Page-filling records force one data page each; more than
	// maxDirEntries of them force a second directory page.
	rec := bytes.Repeat([]byte{'D'}, 1000)
	rids := make([]storage.RID, 0, maxDirEntries+1)
	for range maxDirEntries + 1 {
		rid, err := f.Insert(rec)
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	requireNoPins(t, bp)

	// head dir + second dir + one data page per record.
	assert.Equal(t, baseline+1+maxDirEntries+1, bp.Disk().AllocCount())

	// A second directory page now follows the head.
	pg, err := bp.PinPage(f.HeadID(), bufferpool.PinDiskIO)
	require.NoError(t, err)
	secondDir := asDirPage(pg).NextPage()
	require.NoError(t, bp.UnpinPage(f.HeadID(), bufferpool.UnpinClean))
	require.True(t, secondDir.Valid())

	checkDirAccuracy(t, f, bp)

	for _, rid := range rids {
		require.NoError(t, f.Delete(rid))
	}
	requireNoPins(t, bp)

	// All data pages and the second directory page are gone.
	assert.Equal(t, baseline, bp.Disk().AllocCount())
	pg, err = bp.PinPage(f.HeadID(), bufferpool.PinDiskIO)
	require.NoError(t, err)
	hd := asDirPage(pg)
	assert.Equal(t, 0, hd.count())
	assert.False(t, hd.NextPage().Valid())
	require.NoError(t, bp.UnpinPage(f.HeadID(), bufferpool.UnpinClean))
}

func TestOpen_ReusesRegistryEntry(t *testing.T) {
	f, bp := newTestHeap(t, 4)

	rid, err := f.Insert([]byte("persists"))
	require.NoError(t, err)

	f2, err := Open(bp, "testheap")
	require.NoError(t, err)
	assert.Equal(t, f.HeadID(), f2.HeadID())

	got, err := f2.Select(rid)
	require.NoError(t, err)
	assert.Equal(t, []byte("persists"), got)
}

func TestTempFile_DroppedOnClose(t *testing.T) {
	_, bp := newTestHeap(t, 4)
	baseline := bp.Disk().AllocCount()

	tmp, err := Open(bp, "")
	require.NoError(t, err)
	_, err = tmp.Insert([]byte("scratch"))
	require.NoError(t, err)

	require.NoError(t, tmp.Close())
	assert.Equal(t, baseline, bp.Disk().AllocCount())

	_, err = tmp.Insert([]byte("after close"))
	assert.ErrorIs(t, err, ErrFileClosed)
	require.NoError(t, tmp.Close())
}

func TestDrop_RemovesEverything(t *testing.T) {
	f, bp := newTestHeap(t, 8)
	baseline := bp.Disk().AllocCount() - 1 // before the head dir page

	for i := range 30 {
		_, err := f.Insert(fmt.Appendf(nil, "drop-%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, f.Drop())
	requireNoPins(t, bp)

	assert.Equal(t, baseline, bp.Disk().AllocCount())
	_, ok := bp.Disk().GetFileEntry("testheap")
	assert.False(t, ok)
}
