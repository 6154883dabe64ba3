package hash

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/tdnguyen/minirel/internal/alias/bx"
)

// Key tags, also the cross-type ordering rank.
const (
	keyTagInt    = byte(1)
	keyTagFloat  = byte(2)
	keyTagString = byte(3)
)

// Key is an immutable typed search key. Hash is stable across runs;
// the index uses its low-order bits to pick a bucket.
type Key interface {
	Hash() uint32
	Compare(other Key) int
	String() string

	tag() byte
	payload() []byte
}

type IntKey int32

// Hash is the identity so bucket collisions follow k mod 2^depth.
func (k IntKey) Hash() uint32 { return uint32(k) }

func (k IntKey) Compare(other Key) int {
	o, ok := other.(IntKey)
	if !ok {
		return int(k.tag()) - int(other.tag())
	}
	switch {
	case k < o:
		return -1
	case k > o:
		return 1
	}
	return 0
}

func (k IntKey) String() string { return fmt.Sprintf("%d", int32(k)) }
func (k IntKey) tag() byte      { return keyTagInt }

func (k IntKey) payload() []byte {
	var b [4]byte
	bx.PutI32(b[:], int32(k))
	return b[:]
}

type FloatKey float64

func (k FloatKey) Hash() uint32 {
	bits := math.Float64bits(float64(k))
	return uint32(bits ^ bits>>32)
}

func (k FloatKey) Compare(other Key) int {
	o, ok := other.(FloatKey)
	if !ok {
		return int(k.tag()) - int(other.tag())
	}
	switch {
	case k < o:
		return -1
	case k > o:
		return 1
	}
	return 0
}

func (k FloatKey) String() string { return fmt.Sprintf("%g", float64(k)) }
func (k FloatKey) tag() byte      { return keyTagFloat }

func (k FloatKey) payload() []byte {
	var b [8]byte
	bx.PutU64(b[:], math.Float64bits(float64(k)))
	return b[:]
}

type StringKey string

func (k StringKey) Hash() uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return h.Sum32()
}

func (k StringKey) Compare(other Key) int {
	o, ok := other.(StringKey)
	if !ok {
		return int(k.tag()) - int(other.tag())
	}
	switch {
	case k < o:
		return -1
	case k > o:
		return 1
	}
	return 0
}

func (k StringKey) String() string { return string(k) }
func (k StringKey) tag() byte      { return keyTagString }
func (k StringKey) payload() []byte {
	return []byte(k)
}

func floatFromBits(bits uint64) float64 { return math.Float64frombits(bits) }
