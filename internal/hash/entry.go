package hash

import (
	"errors"
	"fmt"

	"github.com/tdnguyen/minirel/internal/alias/bx"
	"github.com/tdnguyen/minirel/internal/storage"
)

var (
	// ErrEntryTooLarge is returned for an index entry over MaxEntrySize.
	ErrEntryTooLarge = errors.New("hash: entry too large")

	// ErrEntryNotFound is returned when deleting an absent (key, rid)
	// pair. A scan for an absent key is not an error; it yields nothing.
	ErrEntryNotFound = errors.New("hash: entry not found")

	errBadEntry = errors.New("hash: corrupted entry bytes")
)

// MaxEntrySize bounds one serialized DataEntry so a bucket page always
// holds several entries.
const MaxEntrySize = (storage.PageSize - storage.HeaderSize) / 4

// DataEntry is one (key, rid) index entry.
//
//	offset size field
//	0      1    key tag
//	1      2    key length
//	3      n    key payload
//	3+n    4    rid.page
//	7+n    2    rid.slot
type DataEntry struct {
	Key Key
	RID storage.RID
}

func (e DataEntry) encode() []byte {
	key := e.Key.payload()
	out := make([]byte, 1+2+len(key)+6)
	out[0] = e.Key.tag()
	bx.PutU16At(out, 1, uint16(len(key)))
	copy(out[3:], key)
	bx.PutI32At(out, 3+len(key), int32(e.RID.PageID))
	bx.PutU16At(out, 7+len(key), e.RID.Slot)
	return out
}

func decodeEntry(raw []byte) (DataEntry, error) {
	if len(raw) < 3 {
		return DataEntry{}, errBadEntry
	}
	keyLen := int(bx.U16At(raw, 1))
	if len(raw) != 1+2+keyLen+6 {
		return DataEntry{}, errBadEntry
	}
	payload := raw[3 : 3+keyLen]

	var key Key
	switch raw[0] {
	case keyTagInt:
		if keyLen != 4 {
			return DataEntry{}, errBadEntry
		}
		key = IntKey(bx.I32(payload))
	case keyTagFloat:
		if keyLen != 8 {
			return DataEntry{}, errBadEntry
		}
		key = FloatKey(floatFromBits(bx.U64(payload)))
	case keyTagString:
		key = StringKey(payload)
	default:
		return DataEntry{}, fmt.Errorf("%w: unknown key tag %d", errBadEntry, raw[0])
	}

	return DataEntry{
		Key: key,
		RID: storage.RID{
			PageID: storage.PageID(bx.I32At(raw, 3+keyLen)),
			Slot:   bx.U16At(raw, 7+keyLen),
		},
	}, nil
}

// sameEntry is full equality on (key, rid).
func sameEntry(a, b DataEntry) bool {
	return a.Key.tag() == b.Key.tag() && a.Key.Compare(b.Key) == 0 && a.RID == b.RID
}
