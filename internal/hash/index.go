package hash

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/tdnguyen/minirel/internal/bufferpool"
	"github.com/tdnguyen/minirel/internal/storage"
)

var (
	logDebugPrefix = "hash: "

	// ErrIndexClosed is returned for operations on a closed index.
	ErrIndexClosed = errors.New("hash: index is closed")
)

// Depth is the number of hash bits; the bucket count is fixed at
// 2^Depth for the life of an index.
const (
	Depth      = 7
	NumBuckets = 1 << Depth
)

// Index is a static hash index from search keys to RIDs. The directory
// is a flat array of bucket head pages spread over chained directory
// pages; each bucket is a singly linked chain of sorted pages.
type Index struct {
	bp     *bufferpool.Pool
	headID storage.PageID
	name   string
	temp   bool

	closed atomic.Bool
}

// Open opens the named index, creating its directory if the registry
// has no entry. An empty name creates a temporary index dropped on
// Close.
func Open(bp *bufferpool.Pool, name string) (*Index, error) {
	idx := &Index{bp: bp, name: name, temp: name == ""}

	if name != "" {
		if id, ok := bp.Disk().GetFileEntry(name); ok {
			idx.headID = id
			return idx, nil
		}
	}

	// Create enough chained directory pages for every bucket slot.
	prev := storage.InvalidPageID
	for covered := 0; covered < NumBuckets; covered += slotsPerDirPage {
		id, pg, err := bp.NewPage(1)
		if err != nil {
			return nil, err
		}
		dp := asHashDirPage(pg)
		dp.init(id)
		dp.SetPrevPage(prev)
		if err := bp.UnpinPage(id, bufferpool.UnpinDirty); err != nil {
			return nil, err
		}

		if prev.Valid() {
			ppg, err := bp.PinPage(prev, bufferpool.PinDiskIO)
			if err != nil {
				return nil, err
			}
			storage.AsHFPage(ppg).SetNextPage(id)
			if err := bp.UnpinPage(prev, bufferpool.UnpinDirty); err != nil {
				return nil, err
			}
		} else {
			idx.headID = id
		}
		prev = id
	}

	if name != "" {
		if err := bp.Disk().AddFileEntry(name, idx.headID); err != nil {
			return nil, err
		}
	}
	slog.Debug(logDebugPrefix+"created index", "name", name, "headID", idx.headID)
	return idx, nil
}

// HeadID returns the first directory page id.
func (x *Index) HeadID() storage.PageID { return x.headID }

// Bucket returns the bucket number key hashes to.
func Bucket(key Key) int {
	return int(key.Hash() % NumBuckets)
}

// resolveSlot walks the directory chain to the page holding bucket's
// slot and returns it pinned.
func (x *Index) resolveSlot(bucket int) (storage.PageID, hashDirPage, int, error) {
	cur := x.headID
	for skip := bucket / slotsPerDirPage; skip > 0; skip-- {
		pg, err := x.bp.PinPage(cur, bufferpool.PinDiskIO)
		if err != nil {
			return storage.InvalidPageID, hashDirPage{}, 0, err
		}
		next := asHashDirPage(pg).NextPage()
		if err := x.bp.UnpinPage(cur, bufferpool.UnpinClean); err != nil {
			return storage.InvalidPageID, hashDirPage{}, 0, err
		}
		cur = next
	}
	pg, err := x.bp.PinPage(cur, bufferpool.PinDiskIO)
	if err != nil {
		return storage.InvalidPageID, hashDirPage{}, 0, err
	}
	return cur, asHashDirPage(pg), bucket % slotsPerDirPage, nil
}

// Insert adds one (key, rid) entry to key's bucket, creating the
// primary page for an empty bucket and growing the overflow chain when
// the existing pages are full.
func (x *Index) Insert(key Key, rid storage.RID) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	entry := DataEntry{Key: key, RID: rid}
	if len(entry.encode()) > MaxEntrySize {
		return fmt.Errorf("%w: key %s", ErrEntryTooLarge, key)
	}

	dirID, dp, slotIdx, err := x.resolveSlot(Bucket(key))
	if err != nil {
		return err
	}
	primary := dp.slot(slotIdx)

	if !primary.Valid() {
		id, pg, err := x.bp.NewPage(1)
		if err != nil {
			_ = x.bp.UnpinPage(dirID, bufferpool.UnpinClean)
			return err
		}
		sp := asSortedPage(pg)
		sp.init(id)
		if err := sp.insertEntry(entry); err != nil {
			_ = x.bp.UnpinPage(id, bufferpool.UnpinClean)
			_ = x.bp.UnpinPage(dirID, bufferpool.UnpinClean)
			return err
		}
		if err := x.bp.UnpinPage(id, bufferpool.UnpinDirty); err != nil {
			_ = x.bp.UnpinPage(dirID, bufferpool.UnpinClean)
			return err
		}
		dp.setSlot(slotIdx, id)
		slog.Debug(logDebugPrefix+"created primary bucket page", "bucket", Bucket(key), "pageID", id)
		return x.bp.UnpinPage(dirID, bufferpool.UnpinDirty)
	}

	if err := x.bp.UnpinPage(dirID, bufferpool.UnpinClean); err != nil {
		return err
	}
	return x.insertToChain(primary, entry)
}

// insertToChain tries each page of the bucket chain in order and links
// a fresh overflow page at the tail when all are full. A page is
// unpinned dirty only when it was itself modified or a new overflow was
// linked from it.
func (x *Index) insertToChain(pageID storage.PageID, entry DataEntry) error {
	pg, err := x.bp.PinPage(pageID, bufferpool.PinDiskIO)
	if err != nil {
		return err
	}
	sp := asSortedPage(pg)

	err = sp.insertEntry(entry)
	if err == nil {
		return x.bp.UnpinPage(pageID, bufferpool.UnpinDirty)
	}
	if !errors.Is(err, storage.ErrNoSpace) {
		_ = x.bp.UnpinPage(pageID, bufferpool.UnpinClean)
		return err
	}

	next := sp.NextPage()
	if next.Valid() {
		if err := x.bp.UnpinPage(pageID, bufferpool.UnpinClean); err != nil {
			return err
		}
		return x.insertToChain(next, entry)
	}

	// Tail of the chain: add an overflow page.
	nid, npg, err := x.bp.NewPage(1)
	if err != nil {
		_ = x.bp.UnpinPage(pageID, bufferpool.UnpinClean)
		return err
	}
	nsp := asSortedPage(npg)
	nsp.init(nid)
	if err := nsp.insertEntry(entry); err != nil {
		_ = x.bp.UnpinPage(nid, bufferpool.UnpinClean)
		_ = x.bp.UnpinPage(pageID, bufferpool.UnpinClean)
		return err
	}
	if err := x.bp.UnpinPage(nid, bufferpool.UnpinDirty); err != nil {
		_ = x.bp.UnpinPage(pageID, bufferpool.UnpinClean)
		return err
	}
	sp.SetNextPage(nid)
	slog.Debug(logDebugPrefix+"added overflow page", "pageID", nid, "after", pageID)
	return x.bp.UnpinPage(pageID, bufferpool.UnpinDirty)
}

// Delete removes the (key, rid) entry from key's bucket chain. An
// overflow page left with no entries is spliced out and freed; the
// primary page is always retained.
func (x *Index) Delete(key Key, rid storage.RID) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	entry := DataEntry{Key: key, RID: rid}

	dirID, dp, slotIdx, err := x.resolveSlot(Bucket(key))
	if err != nil {
		return err
	}
	primary := dp.slot(slotIdx)
	if err := x.bp.UnpinPage(dirID, bufferpool.UnpinClean); err != nil {
		return err
	}
	if !primary.Valid() {
		return fmt.Errorf("%w: key %s", ErrEntryNotFound, key)
	}

	prev := storage.InvalidPageID
	cur := primary
	for cur.Valid() {
		pg, err := x.bp.PinPage(cur, bufferpool.PinDiskIO)
		if err != nil {
			return err
		}
		sp := asSortedPage(pg)

		delErr := sp.deleteEntry(entry)
		if delErr == nil {
			if cur != primary && sp.entryCount() == 0 {
				next := sp.NextPage()
				if err := x.bp.UnpinPage(cur, bufferpool.UnpinClean); err != nil {
					return err
				}
				if err := x.bp.FreePage(cur); err != nil {
					return err
				}
				ppg, err := x.bp.PinPage(prev, bufferpool.PinDiskIO)
				if err != nil {
					return err
				}
				storage.AsHFPage(ppg).SetNextPage(next)
				slog.Debug(logDebugPrefix+"reclaimed overflow page", "pageID", cur, "after", prev)
				return x.bp.UnpinPage(prev, bufferpool.UnpinDirty)
			}
			return x.bp.UnpinPage(cur, bufferpool.UnpinDirty)
		}
		if !errors.Is(delErr, ErrEntryNotFound) {
			_ = x.bp.UnpinPage(cur, bufferpool.UnpinClean)
			return delErr
		}

		next := sp.NextPage()
		if err := x.bp.UnpinPage(cur, bufferpool.UnpinClean); err != nil {
			return err
		}
		prev = cur
		cur = next
	}
	return fmt.Errorf("%w: key %s", ErrEntryNotFound, key)
}

// Summary writes one line per bucket: the bucket number in binary and
// either "null" or the entry count over the whole chain.
func (x *Index) Summary(w io.Writer) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}

	bucket := 0
	cur := x.headID
	for cur.Valid() && bucket < NumBuckets {
		pg, err := x.bp.PinPage(cur, bufferpool.PinDiskIO)
		if err != nil {
			return err
		}
		dp := asHashDirPage(pg)
		for i := 0; i < slotsPerDirPage && bucket < NumBuckets; i, bucket = i+1, bucket+1 {
			head := dp.slot(i)
			if !head.Valid() {
				fmt.Fprintf(w, "%0*b : null\n", Depth, bucket)
				continue
			}
			total := 0
			for p := head; p.Valid(); {
				bpg, err := x.bp.PinPage(p, bufferpool.PinDiskIO)
				if err != nil {
					_ = x.bp.UnpinPage(cur, bufferpool.UnpinClean)
					return err
				}
				sp := asSortedPage(bpg)
				total += sp.entryCount()
				next := sp.NextPage()
				if err := x.bp.UnpinPage(p, bufferpool.UnpinClean); err != nil {
					_ = x.bp.UnpinPage(cur, bufferpool.UnpinClean)
					return err
				}
				p = next
			}
			fmt.Fprintf(w, "%0*b : %d\n", Depth, bucket, total)
		}
		next := dp.NextPage()
		if err := x.bp.UnpinPage(cur, bufferpool.UnpinClean); err != nil {
			return err
		}
		cur = next
	}
	return nil
}

// Drop frees every bucket chain and directory page and forgets the
// registry entry.
func (x *Index) Drop() error {
	if x.closed.Swap(true) {
		return ErrIndexClosed
	}

	cur := x.headID
	for cur.Valid() {
		pg, err := x.bp.PinPage(cur, bufferpool.PinDiskIO)
		if err != nil {
			return err
		}
		dp := asHashDirPage(pg)
		heads := make([]storage.PageID, 0, slotsPerDirPage)
		for i := 0; i < slotsPerDirPage; i++ {
			if id := dp.slot(i); id.Valid() {
				heads = append(heads, id)
			}
		}
		next := dp.NextPage()
		if err := x.bp.UnpinPage(cur, bufferpool.UnpinClean); err != nil {
			return err
		}

		for _, head := range heads {
			for p := head; p.Valid(); {
				bpg, err := x.bp.PinPage(p, bufferpool.PinDiskIO)
				if err != nil {
					return err
				}
				n := asSortedPage(bpg).NextPage()
				if err := x.bp.UnpinPage(p, bufferpool.UnpinClean); err != nil {
					return err
				}
				if err := x.bp.FreePage(p); err != nil {
					return err
				}
				p = n
			}
		}
		if err := x.bp.FreePage(cur); err != nil {
			return err
		}
		cur = next
	}

	if x.name != "" {
		return x.bp.Disk().DeleteFileEntry(x.name)
	}
	return nil
}

// Close drops a temporary index and flushes a named one. Idempotent.
func (x *Index) Close() error {
	if x == nil {
		return nil
	}
	if x.temp {
		err := x.Drop()
		if errors.Is(err, ErrIndexClosed) {
			return nil
		}
		if err != nil {
			slog.Warn(logDebugPrefix+"dropping temp index failed", "headID", x.headID, "err", err)
		}
		return err
	}
	if x.closed.Swap(true) {
		return nil
	}
	return x.bp.FlushAll()
}

func (x *Index) ensureOpen() error {
	if x == nil || x.closed.Load() {
		return ErrIndexClosed
	}
	return nil
}
