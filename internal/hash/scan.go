package hash

import (
	"errors"

	"github.com/tdnguyen/minirel/internal/bufferpool"
	"github.com/tdnguyen/minirel/internal/storage"
)

// ErrScanClosed is returned by Next after Close.
var ErrScanClosed = errors.New("hash: scan is closed")

// Scan iterates the RIDs of every entry matching one key. The current
// bucket page stays pinned between Next calls; at most one page is
// pinned at a time.
type Scan struct {
	x   *Index
	key Key

	cur     storage.PageID
	sp      sortedPage
	pinned  bool
	fromIdx int

	done   bool
	closed bool
}

// OpenScan positions an equality scan at the primary page of key's
// bucket. An empty bucket yields an immediately exhausted scan.
func (x *Index) OpenScan(key Key) (*Scan, error) {
	if err := x.ensureOpen(); err != nil {
		return nil, err
	}

	dirID, dp, slotIdx, err := x.resolveSlot(Bucket(key))
	if err != nil {
		return nil, err
	}
	primary := dp.slot(slotIdx)
	if err := x.bp.UnpinPage(dirID, bufferpool.UnpinClean); err != nil {
		return nil, err
	}

	s := &Scan{x: x, key: key, cur: primary, fromIdx: -1}
	if !primary.Valid() {
		s.done = true
	}
	return s, nil
}

// Next returns the next matching RID; ok is false once the chain is
// exhausted, at which point no page remains pinned.
func (s *Scan) Next() (rid storage.RID, ok bool, err error) {
	if s.closed {
		return storage.RID{}, false, ErrScanClosed
	}

	for !s.done {
		if !s.pinned {
			if !s.cur.Valid() {
				s.done = true
				break
			}
			pg, err := s.x.bp.PinPage(s.cur, bufferpool.PinDiskIO)
			if err != nil {
				return storage.RID{}, false, err
			}
			s.sp = asSortedPage(pg)
			s.pinned = true
			s.fromIdx = -1
		}

		idx, err := s.sp.nextEntry(s.key, s.fromIdx)
		if err != nil {
			return storage.RID{}, false, err
		}
		if idx >= 0 {
			entry, err := s.sp.entryAt(idx)
			if err != nil {
				return storage.RID{}, false, err
			}
			s.fromIdx = idx
			return entry.RID, true, nil
		}

		// Overflow pages may hold matches anywhere in the chain.
		next := s.sp.NextPage()
		if err := s.x.bp.UnpinPage(s.cur, bufferpool.UnpinClean); err != nil {
			return storage.RID{}, false, err
		}
		s.pinned = false
		s.cur = next
	}
	return storage.RID{}, false, nil
}

// Close releases the currently pinned bucket page, if any. Idempotent.
func (s *Scan) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pinned {
		s.pinned = false
		return s.x.bp.UnpinPage(s.cur, bufferpool.UnpinClean)
	}
	return nil
}
