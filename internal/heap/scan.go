package heap

import (
	"errors"

	"github.com/tdnguyen/minirel/internal/bufferpool"
	"github.com/tdnguyen/minirel/internal/storage"
)

// ErrScanClosed is returned by Next after Close.
var ErrScanClosed = errors.New("heap: scan is closed")

// Scan is a forward iterator over every record of a heap file. It pins
// at most one directory page and one data page at a time. Deleting the
// record under the cursor is allowed; records inserted behind the
// cursor's directory position are not revisited.
type Scan struct {
	f *File

	dirID      storage.PageID
	dp         dirPage
	entryIdx   int
	dirPinned  bool
	dataID     storage.PageID
	hp         storage.HFPage
	slotNo     uint16
	dataPinned bool

	done   bool
	closed bool
}

// NewScan positions a scan before the first record.
func (f *File) NewScan() (*Scan, error) {
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	pg, err := f.bp.PinPage(f.headID, bufferpool.PinDiskIO)
	if err != nil {
		return nil, err
	}
	return &Scan{
		f:         f,
		dirID:     f.headID,
		dp:        asDirPage(pg),
		entryIdx:  -1,
		dirPinned: true,
	}, nil
}

// Next yields the next record. ok is false once the scan is exhausted;
// pins are released at that point.
func (s *Scan) Next() (rid storage.RID, rec []byte, ok bool, err error) {
	if s.closed {
		return storage.RID{}, nil, false, ErrScanClosed
	}
	if s.done {
		return storage.RID{}, nil, false, nil
	}

	for {
		if !s.dataPinned {
			advanced, err := s.advanceEntry()
			if err != nil {
				return storage.RID{}, nil, false, err
			}
			if !advanced {
				s.done = true
				return storage.RID{}, nil, false, nil
			}
		}

		for int(s.slotNo) < s.hp.SlotCount() {
			s.slotNo++
			raw, err := s.hp.SelectRecord(s.slotNo)
			if errors.Is(err, storage.ErrBadSlot) {
				// Empty slot.
				continue
			}
			if err != nil {
				return storage.RID{}, nil, false, err
			}
			out := append([]byte(nil), raw...)
			return storage.RID{PageID: s.dataID, Slot: s.slotNo}, out, true, nil
		}

		if err := s.f.bp.UnpinPage(s.dataID, bufferpool.UnpinClean); err != nil {
			return storage.RID{}, nil, false, err
		}
		s.dataPinned = false
	}
}

// advanceEntry moves to the next directory entry, crossing to the next
// directory page when entries run out, and pins its data page.
func (s *Scan) advanceEntry() (bool, error) {
	s.entryIdx++
	for s.entryIdx >= s.dp.count() {
		next := s.dp.NextPage()
		if err := s.f.bp.UnpinPage(s.dirID, bufferpool.UnpinClean); err != nil {
			return false, err
		}
		s.dirPinned = false
		if !next.Valid() {
			return false, nil
		}
		pg, err := s.f.bp.PinPage(next, bufferpool.PinDiskIO)
		if err != nil {
			return false, err
		}
		s.dirID = next
		s.dp = asDirPage(pg)
		s.dirPinned = true
		s.entryIdx = 0
	}

	dataID, _, _ := s.dp.entry(s.entryIdx)
	pg, err := s.f.bp.PinPage(dataID, bufferpool.PinDiskIO)
	if err != nil {
		return false, err
	}
	s.dataID = dataID
	s.hp = storage.AsHFPage(pg)
	s.slotNo = 0
	s.dataPinned = true
	return true, nil
}

// Close releases any page the scan still pins. Idempotent.
func (s *Scan) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var first error
	if s.dataPinned {
		if err := s.f.bp.UnpinPage(s.dataID, bufferpool.UnpinClean); err != nil {
			first = err
		}
		s.dataPinned = false
	}
	if s.dirPinned {
		if err := s.f.bp.UnpinPage(s.dirID, bufferpool.UnpinClean); err != nil && first == nil {
			first = err
		}
		s.dirPinned = false
	}
	return first
}
