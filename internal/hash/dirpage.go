package hash

import (
	"github.com/tdnguyen/minirel/internal/alias/bx"
	"github.com/tdnguyen/minirel/internal/storage"
)

// A hash directory page holds a flat array of bucket head page ids.
// InvalidPageID marks an empty bucket. Directory pages chain through
// next_page when the bucket count outgrows one page.
const slotsPerDirPage = (storage.PageSize - storage.HeaderSize) / 4

type hashDirPage struct {
	storage.HFPage
}

func asHashDirPage(p *storage.Page) hashDirPage {
	return hashDirPage{HFPage: storage.AsHFPage(p)}
}

func (d hashDirPage) init(id storage.PageID) {
	d.Init(id, storage.TypeHashDirPage)
	for i := 0; i < slotsPerDirPage; i++ {
		d.setSlot(i, storage.InvalidPageID)
	}
}

func (d hashDirPage) slot(i int) storage.PageID {
	return storage.PageID(bx.I32At(d.Buf, storage.HeaderSize+i*4))
}

func (d hashDirPage) setSlot(i int, id storage.PageID) {
	bx.PutI32At(d.Buf, storage.HeaderSize+i*4, int32(id))
}
