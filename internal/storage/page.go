package storage

import (
	"fmt"
	"strings"

	"github.com/tdnguyen/minirel/internal/alias/bx"
)

// +------------------+ 0
// | prev_page  (4)   |
// | next_page  (4)   |
// | cur_page   (4)   |
// | free_space (2)   |
// | slot_count (2)   |
// | type       (2)   |
// | reserved   (2)   |
// +------------------+ 20
// | slot directory   | (grows down, 4 bytes per slot)
// +------------------+ <-- lower
// |   free space     |
// +------------------+ <-- upper (derived)
// |  record heap     | (grows up from the page tail)
// +------------------+ PageSize (1024)
const (
	OffPrevPage  = 0
	OffNextPage  = 4
	OffCurPage   = 8
	OffFreeSpace = 12
	OffSlotCount = 14
	OffPageType  = 16
)

// Page is a raw fixed-size buffer. Typed views (HFPage, directory and
// bucket views) interpret the same bytes; there is no page hierarchy.
type Page struct {
	Buf []byte
}

func NewPage() *Page {
	return &Page{Buf: make([]byte, PageSize)}
}

// HFPage is the slotted-page view shared by every page kind.
type HFPage struct {
	*Page
}

func AsHFPage(p *Page) HFPage {
	return HFPage{Page: p}
}

// Init zeroes the buffer and writes a fresh header. free_space starts
// at the whole data area; the slot directory is empty.
func (h HFPage) Init(id PageID, t PageType) {
	for i := range h.Buf {
		h.Buf[i] = 0
	}
	bx.PutI32At(h.Buf, OffPrevPage, int32(InvalidPageID))
	bx.PutI32At(h.Buf, OffNextPage, int32(InvalidPageID))
	bx.PutI32At(h.Buf, OffCurPage, int32(id))
	bx.PutU16At(h.Buf, OffFreeSpace, uint16(PageSize-HeaderSize))
	bx.PutU16At(h.Buf, OffSlotCount, 0)
	bx.PutU16At(h.Buf, OffPageType, uint16(t))
}

// ---- header accessors ----

func (h HFPage) PrevPage() PageID      { return PageID(bx.I32At(h.Buf, OffPrevPage)) }
func (h HFPage) SetPrevPage(id PageID) { bx.PutI32At(h.Buf, OffPrevPage, int32(id)) }

func (h HFPage) NextPage() PageID      { return PageID(bx.I32At(h.Buf, OffNextPage)) }
func (h HFPage) SetNextPage(id PageID) { bx.PutI32At(h.Buf, OffNextPage, int32(id)) }

func (h HFPage) CurPage() PageID      { return PageID(bx.I32At(h.Buf, OffCurPage)) }
func (h HFPage) SetCurPage(id PageID) { bx.PutI32At(h.Buf, OffCurPage, int32(id)) }

func (h HFPage) Type() PageType     { return PageType(bx.U16At(h.Buf, OffPageType)) }
func (h HFPage) SetType(t PageType) { bx.PutU16At(h.Buf, OffPageType, uint16(t)) }

// FreeSpace is authoritative: the raw gap between the slot directory
// and the record heap. A record of length L fits iff L+SlotSize <=
// FreeSpace; the conservative check is applied even when an empty slot
// is reused.
func (h HFPage) FreeSpace() int     { return int(bx.U16At(h.Buf, OffFreeSpace)) }
func (h HFPage) SetFreeSpace(n int) { bx.PutU16At(h.Buf, OffFreeSpace, uint16(n)) }

func (h HFPage) SlotCount() int     { return int(bx.U16At(h.Buf, OffSlotCount)) }
func (h HFPage) SetSlotCount(n int) { bx.PutU16At(h.Buf, OffSlotCount, uint16(n)) }

// ---- slot directory ----

func slotOff(i int) int {
	return HeaderSize + i*SlotSize
}

// Slot returns the (offset, length) pair of slot index i (0-based).
// length == EmptySlot means the slot is unused.
func (h HFPage) Slot(i int) (offset, length int) {
	o := slotOff(i)
	return int(bx.U16At(h.Buf, o)), int(bx.U16At(h.Buf, o+2))
}

func (h HFPage) PutSlot(i, offset, length int) {
	o := slotOff(i)
	bx.PutU16At(h.Buf, o, uint16(offset))
	bx.PutU16At(h.Buf, o+2, uint16(length))
}

// usedPtr is the start of the record heap, derived from the header
// fields instead of stored.
func (h HFPage) usedPtr() int {
	return HeaderSize + h.SlotCount()*SlotSize + h.FreeSpace()
}

// slotIndex validates a user-visible slot number (1-based) and returns
// the 0-based directory index.
func (h HFPage) slotIndex(slotNo uint16) (int, error) {
	if slotNo == EmptySlot || int(slotNo) > h.SlotCount() {
		return 0, ErrBadSlot
	}
	i := int(slotNo) - 1
	if _, length := h.Slot(i); length == int(EmptySlot) {
		return 0, ErrBadSlot
	}
	return i, nil
}

// InsertRecord places rec contiguously in the record heap and returns
// its slot number (>= 1). The lowest empty slot is reused before the
// directory grows.
func (h HFPage) InsertRecord(rec []byte) (uint16, error) {
	if len(rec) == 0 {
		return EmptySlot, ErrEmptyRecord
	}
	free := h.FreeSpace()
	if len(rec)+SlotSize > free {
		return EmptySlot, ErrNoSpace
	}

	cnt := h.SlotCount()
	idx := -1
	for i := 0; i < cnt; i++ {
		if _, length := h.Slot(i); length == int(EmptySlot) {
			idx = i
			break
		}
	}

	newUsed := h.usedPtr() - len(rec)
	copy(h.Buf[newUsed:], rec)

	if idx == -1 {
		idx = cnt
		h.SetSlotCount(cnt + 1)
		free -= SlotSize
	}
	h.PutSlot(idx, newUsed, len(rec))
	h.SetFreeSpace(free - len(rec))

	return uint16(idx + 1), nil
}

// SelectRecord returns the record bytes in place; callers that outlive
// the pin must copy.
func (h HFPage) SelectRecord(slotNo uint16) ([]byte, error) {
	i, err := h.slotIndex(slotNo)
	if err != nil {
		return nil, err
	}
	offset, length := h.Slot(i)
	return h.Buf[offset : offset+length], nil
}

// UpdateRecord overwrites a record in place. The replacement must have
// the same length; free space does not change.
func (h HFPage) UpdateRecord(slotNo uint16, rec []byte) error {
	i, err := h.slotIndex(slotNo)
	if err != nil {
		return err
	}
	offset, length := h.Slot(i)
	if len(rec) != length {
		return ErrBadUpdate
	}
	copy(h.Buf[offset:offset+length], rec)
	return nil
}

// DeleteRecord empties the slot and compacts the record heap so live
// records stay contiguous. Trailing empty slots are trimmed, returning
// their directory bytes to the free pool.
func (h HFPage) DeleteRecord(slotNo uint16) error {
	i, err := h.slotIndex(slotNo)
	if err != nil {
		return err
	}
	offset, length := h.Slot(i)
	used := h.usedPtr()

	// Close the hole: shift [used, offset) right by length.
	copy(h.Buf[used+length:offset+length], h.Buf[used:offset])

	cnt := h.SlotCount()
	for j := 0; j < cnt; j++ {
		o, l := h.Slot(j)
		if l != int(EmptySlot) && o < offset {
			h.PutSlot(j, o+length, l)
		}
	}
	h.PutSlot(i, 0, int(EmptySlot))
	free := h.FreeSpace() + length

	for cnt > 0 {
		if _, l := h.Slot(cnt - 1); l != int(EmptySlot) {
			break
		}
		h.PutSlot(cnt-1, 0, 0)
		cnt--
		free += SlotSize
	}
	h.SetSlotCount(cnt)
	h.SetFreeSpace(free)
	return nil
}

// DebugString renders the header and slot directory for manual tests.
func (h HFPage) DebugString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "page %d type=%d prev=%d next=%d free=%d slots=%d\n",
		h.CurPage(), h.Type(), h.PrevPage(), h.NextPage(), h.FreeSpace(), h.SlotCount())
	for i := 0; i < h.SlotCount(); i++ {
		o, l := h.Slot(i)
		fmt.Fprintf(&sb, "  slot %d: off=%d len=%d\n", i+1, o, l)
	}
	return sb.String()
}
