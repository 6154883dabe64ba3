package hash

import (
	"github.com/tdnguyen/minirel/internal/storage"
)

// sortedPage keeps DataEntries in key order. Slot index order is the
// key order; the slot directory never has holes (deletes close them),
// so record insertion always appends the tail slot, which is then
// rotated into place.
type sortedPage struct {
	storage.HFPage
}

func asSortedPage(p *storage.Page) sortedPage {
	return sortedPage{HFPage: storage.AsHFPage(p)}
}

func (s sortedPage) init(id storage.PageID) {
	s.Init(id, storage.TypeBucketPage)
}

func (s sortedPage) entryCount() int {
	return s.SlotCount()
}

// entryAt decodes the entry at slot index i (0-based).
func (s sortedPage) entryAt(i int) (DataEntry, error) {
	raw, err := s.SelectRecord(uint16(i + 1))
	if err != nil {
		return DataEntry{}, err
	}
	return decodeEntry(raw)
}

// insertEntry places e at its sorted position, shifting later slots
// right. storage.ErrNoSpace propagates when the page is full.
func (s sortedPage) insertEntry(e DataEntry) error {
	enc := e.encode()

	pos := 0
	for pos < s.entryCount() {
		cur, err := s.entryAt(pos)
		if err != nil {
			return err
		}
		if cur.Key.Compare(e.Key) > 0 {
			break
		}
		pos++
	}

	slotNo, err := s.InsertRecord(enc)
	if err != nil {
		return err
	}

	// The record landed in the tail slot; rotate it down to pos.
	idx := int(slotNo) - 1
	savedOff, savedLen := s.Slot(idx)
	for j := idx; j > pos; j-- {
		o, l := s.Slot(j - 1)
		s.PutSlot(j, o, l)
	}
	s.PutSlot(pos, savedOff, savedLen)
	return nil
}

// deleteEntry removes the entry matching e on full (key, rid) equality
// and shifts later slots left. ErrEntryNotFound when no slot matches.
func (s sortedPage) deleteEntry(e DataEntry) error {
	cnt := s.entryCount()
	for i := 0; i < cnt; i++ {
		cur, err := s.entryAt(i)
		if err != nil {
			return err
		}
		if !sameEntry(cur, e) {
			continue
		}

		if err := s.DeleteRecord(uint16(i + 1)); err != nil {
			return err
		}
		if i < cnt-1 {
			// DeleteRecord leaves an empty slot mid-directory; close it.
			for j := i; j < cnt-1; j++ {
				o, l := s.Slot(j + 1)
				s.PutSlot(j, o, l)
			}
			s.PutSlot(cnt-1, 0, 0)
			s.SetSlotCount(cnt - 1)
			s.SetFreeSpace(s.FreeSpace() + storage.SlotSize)
		}
		return nil
	}
	return ErrEntryNotFound
}

// nextEntry returns the first slot index greater than fromIdx whose key
// equals key, or -1 when this page has no further match. Matches are
// contiguous, so the scan stops early once keys pass the target.
func (s sortedPage) nextEntry(key Key, fromIdx int) (int, error) {
	for i := fromIdx + 1; i < s.entryCount(); i++ {
		cur, err := s.entryAt(i)
		if err != nil {
			return -1, err
		}
		c := cur.Key.Compare(key)
		if c == 0 {
			return i, nil
		}
		if c > 0 && cur.Key.tag() == key.tag() {
			break
		}
	}
	return -1, nil
}
