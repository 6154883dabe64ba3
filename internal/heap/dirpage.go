package heap

import (
	"github.com/tdnguyen/minirel/internal/alias/bx"
	"github.com/tdnguyen/minirel/internal/storage"
)

// A directory page lists data pages with their live record count and
// free byte count. Entries form a dense array in the data area; the
// slot-count header field doubles as the entry count.
//
//	offset size field
//	0      4    data_page_id
//	4      2    record_count
//	6      2    free_count
const dirEntrySize = 8

// maxDirEntries entries fit in one directory page.
const maxDirEntries = (storage.PageSize - storage.HeaderSize) / dirEntrySize

type dirPage struct {
	storage.HFPage
}

func asDirPage(p *storage.Page) dirPage {
	return dirPage{HFPage: storage.AsHFPage(p)}
}

func (d dirPage) init(id storage.PageID) {
	d.Init(id, storage.TypeDirPage)
}

func (d dirPage) count() int {
	return d.SlotCount()
}

func (d dirPage) setCount(n int) {
	d.SetSlotCount(n)
	d.SetFreeSpace(storage.PageSize - storage.HeaderSize - n*dirEntrySize)
}

func entryOff(i int) int {
	return storage.HeaderSize + i*dirEntrySize
}

func (d dirPage) entry(i int) (pageID storage.PageID, recCount, freeCount int) {
	o := entryOff(i)
	return storage.PageID(bx.I32At(d.Buf, o)),
		int(bx.U16At(d.Buf, o+4)),
		int(bx.U16At(d.Buf, o+6))
}

func (d dirPage) setEntry(i int, pageID storage.PageID, recCount, freeCount int) {
	o := entryOff(i)
	bx.PutI32At(d.Buf, o, int32(pageID))
	bx.PutU16At(d.Buf, o+4, uint16(recCount))
	bx.PutU16At(d.Buf, o+6, uint16(freeCount))
}

// findEntry returns the index of the entry referencing pageID, or -1.
func (d dirPage) findEntry(pageID storage.PageID) int {
	for i := 0; i < d.count(); i++ {
		if p, _, _ := d.entry(i); p == pageID {
			return i
		}
	}
	return -1
}

// removeEntry shifts the remaining entries down over index i.
func (d dirPage) removeEntry(i int) {
	n := d.count()
	copy(d.Buf[entryOff(i):entryOff(n-1)], d.Buf[entryOff(i+1):entryOff(n)])
	for b := entryOff(n - 1); b < entryOff(n); b++ {
		d.Buf[b] = 0
	}
	d.setCount(n - 1)
}
