package words

import (
	"encoding/binary"
	"math"
)

// WordSize is the width of one stored word in bytes.
const WordSize = 8

// Tombstone marks a deleted slot. It is never a storable value.
const Tombstone uint64 = math.MaxUint64

// Encode returns the on-disk form of v.
func Encode(v uint64) [WordSize]byte {
	var b [WordSize]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b
}

// Decode reads one word from the first WordSize bytes of b.
func Decode(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

func encodeAll(values []uint64) []byte {
	buf := make([]byte, len(values)*WordSize)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*WordSize:], v)
	}
	return buf
}

func checkStorable(values ...uint64) error {
	for _, v := range values {
		if v == Tombstone {
			return ErrReservedValueNotAllowed
		}
	}
	return nil
}

// dropTombstones filters deleted slots out of a multi-word read in place.
func dropTombstones(values []uint64) []uint64 {
	out := values[:0]
	for _, v := range values {
		if v != Tombstone {
			out = append(out, v)
		}
	}
	return out
}

func repeat(v uint64, n uint64) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
