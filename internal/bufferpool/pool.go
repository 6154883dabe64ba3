package bufferpool

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/tdnguyen/minirel/internal/storage"
)

var (
	logDebugPrefix  = "bufferpool: "
	DefaultCapacity = 128

	// ErrNoFreeFrame is returned when no unpinned frame is available for replacement.
	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")

	// ErrPagePinned is returned when trying to free a pinned page.
	ErrPagePinned = errors.New("bufferpool: page is pinned")

	// ErrNotPinned is returned when unpinning a page that is not resident or not pinned.
	ErrNotPinned = errors.New("bufferpool: page is not pinned")

	// ErrAlreadyPinned is returned for a memcpy-mode pin of a page somebody still holds.
	ErrAlreadyPinned = errors.New("bufferpool: page is already pinned")
)

// PinMode tells PinPage how to fill a frame on a miss.
type PinMode int

const (
	// PinDiskIO reads the page from disk into the frame.
	PinDiskIO PinMode = iota

	// PinMemcpy hands the caller a blank frame to initialize through
	// the returned page; pinning an already-pinned page this way is an
	// error.
	PinMemcpy

	// PinNoop leaves the frame contents unspecified; the caller
	// overwrites them entirely.
	PinNoop
)

// Unpin dirty flags, for readability at call sites.
const (
	UnpinDirty = true
	UnpinClean = false
)

// Frame holds a single page and its metadata inside the buffer pool.
// The ref bit lives in the Replacer.
type Frame struct {
	PageID storage.PageID
	Page   *storage.Page
	Dirty  bool
	Pin    int32
}

// Pool is a fixed-size buffer pool over one DiskManager. Victim frames
// are chosen by CLOCK replacement; a pinned frame is never evicted, and
// a dirty victim is written back before its frame is reused.
type Pool struct {
	dm *storage.DiskManager

	mu        sync.Mutex
	frames    []*Frame
	pageTable map[storage.PageID]int
	free      []int
	replacer  Replacer
	capacity  int
}

// NewPool creates a buffer pool with the given number of frames.
// If capacity <= 0, a small default capacity is used.
func NewPool(dm *storage.DiskManager, capacity int) *Pool {
	if capacity <= 0 {
		capacity = 16
	}
	p := &Pool{
		dm:        dm,
		frames:    make([]*Frame, capacity),
		pageTable: make(map[storage.PageID]int),
		free:      make([]int, 0, capacity),
		replacer:  newClockAdapter(capacity),
		capacity:  capacity,
	}
	for i := range p.frames {
		p.frames[i] = &Frame{PageID: storage.InvalidPageID, Page: storage.NewPage()}
		p.free = append(p.free, i)
	}
	return p
}

// Disk exposes the disk manager for file-registry operations; page I/O
// stays behind the pool.
func (p *Pool) Disk() *storage.DiskManager { return p.dm }

// PinPage makes a page resident, pins it and returns the frame's page.
// The returned page aliases the frame buffer and stays valid until the
// matching UnpinPage.
func (p *Pool) PinPage(pageID storage.PageID, mode PinMode) (*storage.Page, error) {
	if !pageID.Valid() {
		return nil, storage.ErrBadPageID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// 1) Page already resident.
	if idx, ok := p.pageTable[pageID]; ok {
		f := p.frames[idx]
		if mode == PinMemcpy && f.Pin > 0 {
			return nil, ErrAlreadyPinned
		}
		f.Pin++
		p.replacer.RecordAccess(idx)
		if f.Pin == 1 {
			p.replacer.SetEvictable(idx, false)
		}
		return f.Page, nil
	}

	// 2) Choose a frame: free list first, then CLOCK.
	var idx int
	if len(p.free) > 0 {
		// FIFO so frame order follows first-use order, like the hand.
		idx = p.free[0]
		p.free = p.free[1:]
	} else {
		victim, ok := p.replacer.Evict()
		if !ok {
			slog.Debug(logDebugPrefix + "no victim frame (all pinned)")
			return nil, ErrNoFreeFrame
		}
		idx = victim
		f := p.frames[idx]
		if f.Dirty {
			slog.Debug(logDebugPrefix+"flushing dirty victim", "pageID", f.PageID, "frameIdx", idx)
			if err := p.dm.WritePage(f.PageID, f.Page.Buf); err != nil {
				// Put the victim back so the pool stays consistent.
				p.replacer.RecordAccess(idx)
				p.replacer.SetEvictable(idx, true)
				return nil, err
			}
			f.Dirty = false
		}
		delete(p.pageTable, f.PageID)
	}

	// 3) Fill the frame according to mode.
	f := p.frames[idx]
	f.PageID = pageID
	f.Pin = 1
	f.Dirty = false

	switch mode {
	case PinDiskIO:
		if err := p.dm.ReadPage(pageID, f.Page.Buf); err != nil {
			f.PageID = storage.InvalidPageID
			f.Pin = 0
			p.free = append(p.free, idx)
			return nil, err
		}
	default:
		// Memcpy and noop callers overwrite the frame through the
		// returned page; start from zeroes.
		for i := range f.Page.Buf {
			f.Page.Buf[i] = 0
		}
	}

	p.pageTable[pageID] = idx
	p.replacer.RecordAccess(idx)
	return f.Page, nil
}

// UnpinPage drops one pin and ORs the dirty flag into the frame. Dirty
// pages are written back on eviction or FlushAll, not here.
func (p *Pool) UnpinPage(pageID storage.PageID, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[pageID]
	if !ok {
		return ErrNotPinned
	}
	f := p.frames[idx]
	if f.Pin == 0 {
		return ErrNotPinned
	}

	f.Pin--
	if dirty {
		f.Dirty = true
	}
	p.replacer.RecordAccess(idx)
	if f.Pin == 0 {
		p.replacer.SetEvictable(idx, true)
	}
	return nil
}

// NewPage allocates a run of pages on disk and pins the first one in
// memcpy mode. If every frame is pinned the allocated run is not
// returned to the disk; callers see ErrNoFreeFrame and the pages leak.
func (p *Pool) NewPage(run int) (storage.PageID, *storage.Page, error) {
	id, err := p.dm.AllocatePage(run)
	if err != nil {
		return storage.InvalidPageID, nil, err
	}
	pg, err := p.PinPage(id, PinMemcpy)
	if err != nil {
		return storage.InvalidPageID, nil, err
	}
	return id, pg, nil
}

// FreePage evicts the page without flushing and deallocates it on disk.
func (p *Pool) FreePage(pageID storage.PageID) error {
	p.mu.Lock()
	if idx, ok := p.pageTable[pageID]; ok {
		f := p.frames[idx]
		if f.Pin > 0 {
			p.mu.Unlock()
			return ErrPagePinned
		}
		delete(p.pageTable, pageID)
		p.replacer.Remove(idx)
		f.PageID = storage.InvalidPageID
		f.Dirty = false
		p.free = append(p.free, idx)
	}
	p.mu.Unlock()

	return p.dm.DeallocatePage(pageID)
}

// FlushAll writes every dirty resident page and clears its dirty bit.
// Nothing is unpinned or unmapped.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for pageID, idx := range p.pageTable {
		f := p.frames[idx]
		if !f.Dirty {
			continue
		}
		slog.Debug(logDebugPrefix+"flushing frame", "pageID", pageID, "frameIdx", idx)
		if err := p.dm.WritePage(pageID, f.Page.Buf); err != nil {
			return err
		}
		f.Dirty = false
	}
	return nil
}

// NumFrames is the pool capacity.
func (p *Pool) NumFrames() int { return p.capacity }

// NumUnpinned counts frames with pin count zero, free frames included.
func (p *Pool) NumUnpinned() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	for _, idx := range p.pageTable {
		if p.frames[idx].Pin == 0 {
			n++
		}
	}
	return n
}
