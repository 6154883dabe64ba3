package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDataPage(t *testing.T) HFPage {
	t.Helper()

	h := AsHFPage(NewPage())
	h.Init(7, TypeDataPage)

	require.Equal(t, PageID(7), h.CurPage())
	require.Equal(t, InvalidPageID, h.PrevPage())
	require.Equal(t, InvalidPageID, h.NextPage())
	require.Equal(t, TypeDataPage, h.Type())
	require.Equal(t, PageSize-HeaderSize, h.FreeSpace())
	require.Equal(t, 0, h.SlotCount())
	return h
}

func TestInsertSelect_RoundTrip(t *testing.T) {
	h := newDataPage(t)

	recA := []byte("alpha record")
	recB := []byte("bravo")

	slotA, err := h.InsertRecord(recA)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), slotA)
	assert.Equal(t, PageSize-HeaderSize-len(recA)-SlotSize, h.FreeSpace())

	slotB, err := h.InsertRecord(recB)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), slotB)

	gotA, err := h.SelectRecord(slotA)
	require.NoError(t, err)
	assert.Equal(t, recA, gotA)

	gotB, err := h.SelectRecord(slotB)
	require.NoError(t, err)
	assert.Equal(t, recB, gotB)
}

func TestSelect_BadSlots(t *testing.T) {
	h := newDataPage(t)
	_, err := h.InsertRecord([]byte("x"))
	require.NoError(t, err)

	_, err = h.SelectRecord(EmptySlot)
	assert.ErrorIs(t, err, ErrBadSlot)

	_, err = h.SelectRecord(2)
	assert.ErrorIs(t, err, ErrBadSlot)
}

func TestInsert_NoSpace(t *testing.T) {
	h := newDataPage(t)

	// Largest record that fits alongside its slot entry.
	big := bytes.Repeat([]byte{0xAB}, PageSize-HeaderSize-SlotSize)
	slot, err := h.InsertRecord(big)
	require.NoError(t, err)
	assert.Equal(t, 0, h.FreeSpace())

	_, err = h.InsertRecord([]byte("y"))
	assert.ErrorIs(t, err, ErrNoSpace)

	got, err := h.SelectRecord(slot)
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func TestInsert_EmptyRecord(t *testing.T) {
	h := newDataPage(t)
	_, err := h.InsertRecord(nil)
	assert.ErrorIs(t, err, ErrEmptyRecord)
}

func TestUpdate_InPlaceAndLengthRule(t *testing.T) {
	h := newDataPage(t)

	slot, err := h.InsertRecord([]byte("hello world"))
	require.NoError(t, err)
	freeBefore := h.FreeSpace()

	require.NoError(t, h.UpdateRecord(slot, []byte("HELLO WORLD")))
	got, err := h.SelectRecord(slot)
	require.NoError(t, err)
	assert.Equal(t, []byte("HELLO WORLD"), got)
	assert.Equal(t, freeBefore, h.FreeSpace())

	err = h.UpdateRecord(slot, []byte("too short"))
	assert.ErrorIs(t, err, ErrBadUpdate)

	err = h.UpdateRecord(99, []byte("HELLO WORLD"))
	assert.ErrorIs(t, err, ErrBadSlot)
}

func TestDelete_CompactsAndKeepsOtherSlots(t *testing.T) {
	h := newDataPage(t)

	recs := [][]byte{
		[]byte("first-record"),
		[]byte("second-record-longer"),
		[]byte("third"),
	}
	slots := make([]uint16, len(recs))
	for i, r := range recs {
		s, err := h.InsertRecord(r)
		require.NoError(t, err)
		slots[i] = s
	}

	freeBefore := h.FreeSpace()
	require.NoError(t, h.DeleteRecord(slots[1]))

	// Reclaimed the record bytes but not the mid-directory slot entry.
	assert.Equal(t, freeBefore+len(recs[1]), h.FreeSpace())
	assert.Equal(t, 3, h.SlotCount())

	// Surviving slot numbers still resolve to their records.
	got, err := h.SelectRecord(slots[0])
	require.NoError(t, err)
	assert.Equal(t, recs[0], got)
	got, err = h.SelectRecord(slots[2])
	require.NoError(t, err)
	assert.Equal(t, recs[2], got)

	_, err = h.SelectRecord(slots[1])
	assert.ErrorIs(t, err, ErrBadSlot)

	// Double delete is an error.
	assert.ErrorIs(t, h.DeleteRecord(slots[1]), ErrBadSlot)
}

func TestDelete_TrimsTrailingSlots(t *testing.T) {
	h := newDataPage(t)

	s1, err := h.InsertRecord(bytes.Repeat([]byte{1}, 10))
	require.NoError(t, err)
	s2, err := h.InsertRecord(bytes.Repeat([]byte{2}, 20))
	require.NoError(t, err)

	require.NoError(t, h.DeleteRecord(s2))
	assert.Equal(t, 1, h.SlotCount())

	require.NoError(t, h.DeleteRecord(s1))
	assert.Equal(t, 0, h.SlotCount())
	assert.Equal(t, PageSize-HeaderSize, h.FreeSpace())
}

func TestInsert_ReusesLowestEmptySlot(t *testing.T) {
	h := newDataPage(t)

	s1, err := h.InsertRecord([]byte("aaaa"))
	require.NoError(t, err)
	_, err = h.InsertRecord([]byte("bbbb"))
	require.NoError(t, err)
	_, err = h.InsertRecord([]byte("cccc"))
	require.NoError(t, err)

	require.NoError(t, h.DeleteRecord(s1))

	s4, err := h.InsertRecord([]byte("dddd"))
	require.NoError(t, err)
	assert.Equal(t, s1, s4)
	assert.Equal(t, 3, h.SlotCount())

	got, err := h.SelectRecord(s4)
	require.NoError(t, err)
	assert.Equal(t, []byte("dddd"), got)
}

func TestPageLinks(t *testing.T) {
	h := newDataPage(t)

	h.SetPrevPage(3)
	h.SetNextPage(9)
	assert.Equal(t, PageID(3), h.PrevPage())
	assert.Equal(t, PageID(9), h.NextPage())

	h.SetNextPage(InvalidPageID)
	assert.False(t, h.NextPage().Valid())
	require.NotEmpty(t, h.DebugString())
}
