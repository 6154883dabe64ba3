package heap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tdnguyen/minirel/internal/bufferpool"
	"github.com/tdnguyen/minirel/internal/storage"
)

var (
	logDebugPrefix = "heap: "

	// ErrRecordTooLarge is returned for records over MaxRecordSize.
	ErrRecordTooLarge = errors.New("heap: record too large")

	// ErrFileClosed is returned for operations on a closed heap file.
	ErrFileClosed = errors.New("heap: file is closed")

	// errNoDirEntry signals directory corruption: a data page with no
	// directory entry pointing at it.
	errNoDirEntry = errors.New("heap: no directory entry for data page")
)

// File is an unordered heap of variable-length records. Data pages are
// tracked by a doubly linked list of directory pages starting at the
// head page; each directory entry carries the data page's live record
// count and free byte count, used for first-fit placement.
type File struct {
	bp     *bufferpool.Pool
	headID storage.PageID
	name   string
	temp   bool

	closed atomic.Bool
}

// Open opens the named heap file, creating it if the registry has no
// entry. An empty name creates a temporary file which is dropped on
// Close.
func Open(bp *bufferpool.Pool, name string) (*File, error) {
	f := &File{bp: bp, name: name, temp: name == ""}

	if name != "" {
		if id, ok := bp.Disk().GetFileEntry(name); ok {
			f.headID = id
			return f, nil
		}
	}

	id, pg, err := bp.NewPage(1)
	if err != nil {
		return nil, err
	}
	asDirPage(pg).init(id)
	if err := bp.UnpinPage(id, bufferpool.UnpinDirty); err != nil {
		return nil, err
	}
	f.headID = id

	if name != "" {
		if err := bp.Disk().AddFileEntry(name, id); err != nil {
			return nil, err
		}
	}
	slog.Debug(logDebugPrefix+"created heap file", "name", name, "headID", id)
	return f, nil
}

// HeadID returns the first directory page id.
func (f *File) HeadID() storage.PageID { return f.headID }

// Insert places rec on the first data page with enough room, creating
// a data page (and directory page, if all are full) when none fits.
func (f *File) Insert(rec []byte) (storage.RID, error) {
	if err := f.ensureOpen(); err != nil {
		return storage.RID{}, err
	}
	if len(rec) > storage.MaxRecordSize {
		return storage.RID{}, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(rec))
	}

	need := len(rec) + storage.SlotSize
	if need > storage.PageSize-storage.HeaderSize {
		// Record plus slot entry can never share one page.
		return storage.RID{}, fmt.Errorf("%w: %d bytes", storage.ErrNoSpace, len(rec))
	}
	dirID, entryIdx, dataID, found, err := f.availPage(need)
	if err != nil {
		return storage.RID{}, err
	}
	if !found {
		dirID, entryIdx, dataID, err = f.insertPage()
		if err != nil {
			return storage.RID{}, err
		}
	}

	pg, err := f.bp.PinPage(dataID, bufferpool.PinDiskIO)
	if err != nil {
		return storage.RID{}, err
	}
	hf := storage.AsHFPage(pg)
	slotNo, err := hf.InsertRecord(rec)
	if err != nil {
		_ = f.bp.UnpinPage(dataID, bufferpool.UnpinClean)
		return storage.RID{}, err
	}
	newFree := hf.FreeSpace()
	if err := f.bp.UnpinPage(dataID, bufferpool.UnpinDirty); err != nil {
		return storage.RID{}, err
	}

	// The chosen entry is known; bump its counters in place.
	dpg, err := f.bp.PinPage(dirID, bufferpool.PinDiskIO)
	if err != nil {
		return storage.RID{}, err
	}
	dp := asDirPage(dpg)
	pid, recs, _ := dp.entry(entryIdx)
	if pid != dataID {
		_ = f.bp.UnpinPage(dirID, bufferpool.UnpinClean)
		return storage.RID{}, errNoDirEntry
	}
	dp.setEntry(entryIdx, dataID, recs+1, newFree)
	if err := f.bp.UnpinPage(dirID, bufferpool.UnpinDirty); err != nil {
		return storage.RID{}, err
	}

	return storage.RID{PageID: dataID, Slot: slotNo}, nil
}

// Select returns a copy of the record bytes.
func (f *File) Select(rid storage.RID) ([]byte, error) {
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}

	pg, err := f.bp.PinPage(rid.PageID, bufferpool.PinDiskIO)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.bp.UnpinPage(rid.PageID, bufferpool.UnpinClean) }()

	hf := storage.AsHFPage(pg)
	if hf.Type() != storage.TypeDataPage {
		return nil, storage.ErrBadSlot
	}
	rec, err := hf.SelectRecord(rid.Slot)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), rec...), nil
}

// Update overwrites a record in place; the replacement must keep the
// original length, so no directory bookkeeping changes.
func (f *File) Update(rid storage.RID, rec []byte) error {
	if err := f.ensureOpen(); err != nil {
		return err
	}

	pg, err := f.bp.PinPage(rid.PageID, bufferpool.PinDiskIO)
	if err != nil {
		return err
	}
	hf := storage.AsHFPage(pg)
	if hf.Type() != storage.TypeDataPage {
		_ = f.bp.UnpinPage(rid.PageID, bufferpool.UnpinClean)
		return storage.ErrBadSlot
	}
	if err := hf.UpdateRecord(rid.Slot, rec); err != nil {
		_ = f.bp.UnpinPage(rid.PageID, bufferpool.UnpinClean)
		return err
	}
	return f.bp.UnpinPage(rid.PageID, bufferpool.UnpinDirty)
}

// Delete removes a record and updates the directory; data pages with no
// records left are reclaimed, as are directory pages they empty out.
func (f *File) Delete(rid storage.RID) error {
	if err := f.ensureOpen(); err != nil {
		return err
	}

	pg, err := f.bp.PinPage(rid.PageID, bufferpool.PinDiskIO)
	if err != nil {
		return err
	}
	hf := storage.AsHFPage(pg)
	if hf.Type() != storage.TypeDataPage {
		_ = f.bp.UnpinPage(rid.PageID, bufferpool.UnpinClean)
		return storage.ErrBadSlot
	}
	if err := hf.DeleteRecord(rid.Slot); err != nil {
		_ = f.bp.UnpinPage(rid.PageID, bufferpool.UnpinClean)
		return err
	}
	newFree := hf.FreeSpace()
	if err := f.bp.UnpinPage(rid.PageID, bufferpool.UnpinDirty); err != nil {
		return err
	}

	return f.updateDirEntry(rid.PageID, -1, newFree)
}

// Count sums the live record counts over all directory entries.
func (f *File) Count() (int, error) {
	if err := f.ensureOpen(); err != nil {
		return 0, err
	}

	total := 0
	cur := f.headID
	for cur.Valid() {
		pg, err := f.bp.PinPage(cur, bufferpool.PinDiskIO)
		if err != nil {
			return 0, err
		}
		dp := asDirPage(pg)
		for i := 0; i < dp.count(); i++ {
			_, recs, _ := dp.entry(i)
			total += recs
		}
		next := dp.NextPage()
		if err := f.bp.UnpinPage(cur, bufferpool.UnpinClean); err != nil {
			return 0, err
		}
		cur = next
	}
	return total, nil
}

// Drop frees every data and directory page and forgets the registry
// entry. The file is unusable afterwards.
func (f *File) Drop() error {
	if f.closed.Swap(true) {
		return ErrFileClosed
	}

	cur := f.headID
	for cur.Valid() {
		pg, err := f.bp.PinPage(cur, bufferpool.PinDiskIO)
		if err != nil {
			return err
		}
		dp := asDirPage(pg)
		dataIDs := make([]storage.PageID, 0, dp.count())
		for i := 0; i < dp.count(); i++ {
			pid, _, _ := dp.entry(i)
			dataIDs = append(dataIDs, pid)
		}
		next := dp.NextPage()
		if err := f.bp.UnpinPage(cur, bufferpool.UnpinClean); err != nil {
			return err
		}
		for _, pid := range dataIDs {
			if err := f.bp.FreePage(pid); err != nil {
				return err
			}
		}
		if err := f.bp.FreePage(cur); err != nil {
			return err
		}
		cur = next
	}

	if f.name != "" {
		return f.bp.Disk().DeleteFileEntry(f.name)
	}
	return nil
}

// Close drops a temporary file and flushes a named one. Idempotent.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	if f.temp {
		err := f.Drop()
		if errors.Is(err, ErrFileClosed) {
			return nil
		}
		if err != nil {
			slog.Warn(logDebugPrefix+"dropping temp file failed", "headID", f.headID, "err", err)
		}
		return err
	}
	if f.closed.Swap(true) {
		return nil
	}
	return f.bp.FlushAll()
}

func (f *File) ensureOpen() error {
	if f == nil || f.closed.Load() {
		return ErrFileClosed
	}
	return nil
}

// availPage walks the directory in linked order and returns the first
// entry whose free count fits need bytes.
func (f *File) availPage(need int) (dirID storage.PageID, entryIdx int, dataID storage.PageID, found bool, err error) {
	cur := f.headID
	for cur.Valid() {
		pg, err := f.bp.PinPage(cur, bufferpool.PinDiskIO)
		if err != nil {
			return storage.InvalidPageID, 0, storage.InvalidPageID, false, err
		}
		dp := asDirPage(pg)
		for i := 0; i < dp.count(); i++ {
			pid, _, free := dp.entry(i)
			if free >= need {
				if err := f.bp.UnpinPage(cur, bufferpool.UnpinClean); err != nil {
					return storage.InvalidPageID, 0, storage.InvalidPageID, false, err
				}
				return cur, i, pid, true, nil
			}
		}
		next := dp.NextPage()
		if err := f.bp.UnpinPage(cur, bufferpool.UnpinClean); err != nil {
			return storage.InvalidPageID, 0, storage.InvalidPageID, false, err
		}
		cur = next
	}
	return storage.InvalidPageID, 0, storage.InvalidPageID, false, nil
}

// insertPage creates a fresh data page and registers it in the first
// directory page with room, appending a new directory page at the tail
// of the list when all are full.
func (f *File) insertPage() (dirID storage.PageID, entryIdx int, dataID storage.PageID, err error) {
	cur := f.headID
	var dp dirPage
	for {
		pg, err := f.bp.PinPage(cur, bufferpool.PinDiskIO)
		if err != nil {
			return storage.InvalidPageID, 0, storage.InvalidPageID, err
		}
		dp = asDirPage(pg)
		if dp.count() < maxDirEntries {
			dirID = cur
			break
		}
		next := dp.NextPage()
		if !next.Valid() {
			// Every directory page is full: splice a new one at the tail.
			nid, npg, err := f.bp.NewPage(1)
			if err != nil {
				_ = f.bp.UnpinPage(cur, bufferpool.UnpinClean)
				return storage.InvalidPageID, 0, storage.InvalidPageID, err
			}
			ndp := asDirPage(npg)
			ndp.init(nid)
			ndp.SetPrevPage(cur)
			dp.SetNextPage(nid)
			if err := f.bp.UnpinPage(cur, bufferpool.UnpinDirty); err != nil {
				return storage.InvalidPageID, 0, storage.InvalidPageID, err
			}
			slog.Debug(logDebugPrefix+"added directory page", "name", f.name, "pageID", nid)
			dp = ndp
			dirID = nid
			break
		}
		if err := f.bp.UnpinPage(cur, bufferpool.UnpinClean); err != nil {
			return storage.InvalidPageID, 0, storage.InvalidPageID, err
		}
		cur = next
	}

	// dp stays pinned while the data page is created.
	id, pg, err := f.bp.NewPage(1)
	if err != nil {
		_ = f.bp.UnpinPage(dirID, bufferpool.UnpinClean)
		return storage.InvalidPageID, 0, storage.InvalidPageID, err
	}
	hf := storage.AsHFPage(pg)
	hf.Init(id, storage.TypeDataPage)
	freeSpace := hf.FreeSpace()
	if err := f.bp.UnpinPage(id, bufferpool.UnpinDirty); err != nil {
		_ = f.bp.UnpinPage(dirID, bufferpool.UnpinClean)
		return storage.InvalidPageID, 0, storage.InvalidPageID, err
	}

	entryIdx = dp.count()
	dp.setEntry(entryIdx, id, 0, freeSpace)
	dp.setCount(entryIdx + 1)
	if err := f.bp.UnpinPage(dirID, bufferpool.UnpinDirty); err != nil {
		return storage.InvalidPageID, 0, storage.InvalidPageID, err
	}

	slog.Debug(logDebugPrefix+"added data page", "name", f.name, "pageID", id)
	return dirID, entryIdx, id, nil
}

// updateDirEntry applies a record-count delta and the new free count to
// the entry for dataID; a count hitting zero reclaims the data page.
func (f *File) updateDirEntry(dataID storage.PageID, deltaRec, newFree int) error {
	cur := f.headID
	for cur.Valid() {
		pg, err := f.bp.PinPage(cur, bufferpool.PinDiskIO)
		if err != nil {
			return err
		}
		dp := asDirPage(pg)
		i := dp.findEntry(dataID)
		if i < 0 {
			next := dp.NextPage()
			if err := f.bp.UnpinPage(cur, bufferpool.UnpinClean); err != nil {
				return err
			}
			cur = next
			continue
		}

		_, recs, _ := dp.entry(i)
		recs += deltaRec
		if recs >= 1 {
			dp.setEntry(i, dataID, recs, newFree)
			return f.bp.UnpinPage(cur, bufferpool.UnpinDirty)
		}
		return f.deletePage(dataID, cur, dp, i)
	}
	return errNoDirEntry
}

// deletePage reclaims an empty data page and, when its directory page
// runs out of entries, splices that page out of the list too. The head
// directory page is never reclaimed. dp arrives pinned and is released
// on every path.
func (f *File) deletePage(dataID, dirID storage.PageID, dp dirPage, entryIdx int) error {
	if err := f.bp.FreePage(dataID); err != nil {
		_ = f.bp.UnpinPage(dirID, bufferpool.UnpinClean)
		return err
	}
	dp.removeEntry(entryIdx)

	if dp.count() > 0 || dirID == f.headID {
		return f.bp.UnpinPage(dirID, bufferpool.UnpinDirty)
	}

	prev := dp.PrevPage()
	next := dp.NextPage()
	if prev.Valid() {
		ppg, err := f.bp.PinPage(prev, bufferpool.PinDiskIO)
		if err != nil {
			_ = f.bp.UnpinPage(dirID, bufferpool.UnpinClean)
			return err
		}
		storage.AsHFPage(ppg).SetNextPage(next)
		if err := f.bp.UnpinPage(prev, bufferpool.UnpinDirty); err != nil {
			_ = f.bp.UnpinPage(dirID, bufferpool.UnpinClean)
			return err
		}
	}
	if next.Valid() {
		npg, err := f.bp.PinPage(next, bufferpool.PinDiskIO)
		if err != nil {
			_ = f.bp.UnpinPage(dirID, bufferpool.UnpinClean)
			return err
		}
		storage.AsHFPage(npg).SetPrevPage(prev)
		if err := f.bp.UnpinPage(next, bufferpool.UnpinDirty); err != nil {
			_ = f.bp.UnpinPage(dirID, bufferpool.UnpinClean)
			return err
		}
	}

	if err := f.bp.UnpinPage(dirID, bufferpool.UnpinClean); err != nil {
		return err
	}
	slog.Debug(logDebugPrefix+"reclaimed directory page", "name", f.name, "pageID", dirID)
	return f.bp.FreePage(dirID)
}
