package storage

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dsnet/golib/memfile"

	"github.com/tdnguyen/minirel/internal/alias/bx"
)

// Disk header, page 0:
//
//	offset size field
//	0      4    magic
//	4      4    page_count
//	8      4    free_head  (-1 = none)
//	12     2    entry_count
//	14     n    entries: nameLen(2) + name + head_page(4), repeated
//
// Deallocated pages form an on-disk chain: the first 4 bytes of a free
// page hold the next free page id.
const (
	headerMagic uint32 = 0x4D524442 // "MRDB"

	offMagic      = 0
	offPageCount  = 4
	offFreeHead   = 8
	offEntryCount = 12
	offEntries    = 14
)

// Store is the backing byte store for a database. *os.File satisfies
// it for on-disk databases, memfile.File for in-memory ones.
type Store interface {
	io.ReaderAt
	io.WriterAt
}

// DiskManager owns block-level I/O, page allocation and the named-file
// registry. The buffer pool is its only caller for page I/O.
type DiskManager struct {
	store     Store
	pageCount int32
	freeHead  PageID
	entries   map[string]PageID
	allocated int
}

// NewDiskManager opens or creates a database file at path.
func NewDiskManager(path string) (*DiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0664)
	if err != nil {
		return nil, fmt.Errorf("open database file: %w", err)
	}
	dm, err := openStore(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return dm, nil
}

// NewMemDiskManager creates a database backed by process memory. Used
// for temporary databases and tests; contents are lost on Close.
func NewMemDiskManager() (*DiskManager, error) {
	return openStore(memfile.New(nil))
}

func openStore(s Store) (*DiskManager, error) {
	dm := &DiskManager{
		store:    s,
		freeHead: InvalidPageID,
		entries:  make(map[string]PageID),
	}

	buf := make([]byte, PageSize)
	if err := dm.readRaw(0, buf); err != nil {
		return nil, err
	}

	magic := bx.U32At(buf, offMagic)
	if magic == 0 {
		// Fresh store: page 0 becomes the header page.
		dm.pageCount = 1
		return dm, dm.writeHeader()
	}
	if magic != headerMagic {
		return nil, ErrBadHeader
	}

	dm.pageCount = bx.I32At(buf, offPageCount)
	dm.freeHead = PageID(bx.I32At(buf, offFreeHead))

	n := int(bx.U16At(buf, offEntryCount))
	pos := offEntries
	for i := 0; i < n; i++ {
		if pos+2 > PageSize {
			return nil, ErrBadHeader
		}
		nameLen := int(bx.U16At(buf, pos))
		pos += 2
		if pos+nameLen+4 > PageSize {
			return nil, ErrBadHeader
		}
		name := string(buf[pos : pos+nameLen])
		pos += nameLen
		dm.entries[name] = PageID(bx.I32At(buf, pos))
		pos += 4
	}
	return dm, nil
}

func (dm *DiskManager) writeHeader() error {
	buf := make([]byte, PageSize)
	bx.PutU32At(buf, offMagic, headerMagic)
	bx.PutI32At(buf, offPageCount, dm.pageCount)
	bx.PutI32At(buf, offFreeHead, int32(dm.freeHead))
	bx.PutU16At(buf, offEntryCount, uint16(len(dm.entries)))

	names := make([]string, 0, len(dm.entries))
	for name := range dm.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	pos := offEntries
	for _, name := range names {
		bx.PutU16At(buf, pos, uint16(len(name)))
		pos += 2
		copy(buf[pos:], name)
		pos += len(name)
		bx.PutI32At(buf, pos, int32(dm.entries[name]))
		pos += 4
	}
	return dm.writeRaw(0, buf)
}

// readRaw reads one page, zero-filling past EOF so lazily allocated
// tail pages read back as blank.
func (dm *DiskManager) readRaw(id PageID, dst []byte) error {
	n, err := dm.store.ReadAt(dst, int64(id)*PageSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read page %d: %w", id, err)
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func (dm *DiskManager) writeRaw(id PageID, src []byte) error {
	n, err := dm.store.WriteAt(src, int64(id)*PageSize)
	if err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	if n != len(src) {
		return io.ErrShortWrite
	}
	return nil
}

func (dm *DiskManager) checkPageID(id PageID) error {
	if id <= 0 || int32(id) >= dm.pageCount {
		return fmt.Errorf("%w: %d", ErrBadPageID, id)
	}
	return nil
}

// ReadPage reads exactly one page (PageSize bytes) into dst.
func (dm *DiskManager) ReadPage(id PageID, dst []byte) error {
	if len(dst) != PageSize {
		return fmt.Errorf("dst must be exactly %d bytes", PageSize)
	}
	if err := dm.checkPageID(id); err != nil {
		return err
	}
	return dm.readRaw(id, dst)
}

// WritePage writes exactly one page (PageSize bytes) from src.
func (dm *DiskManager) WritePage(id PageID, src []byte) error {
	if len(src) != PageSize {
		return fmt.Errorf("src must be exactly %d bytes", PageSize)
	}
	if err := dm.checkPageID(id); err != nil {
		return err
	}
	return dm.writeRaw(id, src)
}

// AllocatePage reserves a contiguous run of pages and returns the first
// id. Single-page requests reuse the free chain; runs always extend the
// tail so they stay contiguous.
func (dm *DiskManager) AllocatePage(run int) (PageID, error) {
	if run < 1 {
		return InvalidPageID, ErrBadRunSize
	}

	if run == 1 && dm.freeHead.Valid() {
		id := dm.freeHead
		var next [4]byte
		if err := dm.readRaw(id, next[:]); err != nil {
			return InvalidPageID, err
		}
		dm.freeHead = PageID(bx.I32(next[:]))
		dm.allocated++
		return id, dm.writeHeader()
	}

	id := PageID(dm.pageCount)
	dm.pageCount += int32(run)
	dm.allocated += run
	return id, dm.writeHeader()
}

// DeallocatePage releases one page onto the free chain.
func (dm *DiskManager) DeallocatePage(id PageID) error {
	if err := dm.checkPageID(id); err != nil {
		return err
	}
	buf := make([]byte, PageSize)
	bx.PutI32At(buf, 0, int32(dm.freeHead))
	if err := dm.writeRaw(id, buf); err != nil {
		return err
	}
	dm.freeHead = id
	dm.allocated--
	return dm.writeHeader()
}

// GetFileEntry looks up the head page of a named file.
func (dm *DiskManager) GetFileEntry(name string) (PageID, bool) {
	id, ok := dm.entries[name]
	return id, ok
}

// AddFileEntry registers name -> head page.
func (dm *DiskManager) AddFileEntry(name string, id PageID) error {
	if _, ok := dm.entries[name]; ok {
		return fmt.Errorf("%w: %q", ErrDupFileEntry, name)
	}
	size := offEntries
	for n := range dm.entries {
		size += 2 + len(n) + 4
	}
	if size+2+len(name)+4 > PageSize {
		return ErrRegistryFull
	}
	dm.entries[name] = id
	return dm.writeHeader()
}

// DeleteFileEntry removes a registry entry.
func (dm *DiskManager) DeleteFileEntry(name string) error {
	if _, ok := dm.entries[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNoFileEntry, name)
	}
	delete(dm.entries, name)
	return dm.writeHeader()
}

// NumPages is the high-water page count, header page included.
func (dm *DiskManager) NumPages() int { return int(dm.pageCount) }

// AllocCount is the net number of pages allocated since open
// (allocations minus deallocations). Tests use it to verify page
// reclamation.
func (dm *DiskManager) AllocCount() int { return dm.allocated }

func (dm *DiskManager) Close() error {
	if c, ok := dm.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
