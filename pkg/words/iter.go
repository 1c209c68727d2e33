package words

import "iter"

// At returns the word at index, or Tombstone if it cannot be read. This is
// lossy: out of bounds, deleted and I/O failures are indistinguishable.
// Prefer Store.Get wherever the error matters.
func At(s Store, index uint64) uint64 {
	v, err := s.Get(index)
	if err != nil {
		return Tombstone
	}
	return v
}

// All yields (index, word) pairs from the start of the window. The sequence
// ends at the first word that cannot be read, deleted slots included.
func All(s Store) iter.Seq2[uint64, uint64] {
	return func(yield func(uint64, uint64) bool) {
		for i := uint64(0); ; i++ {
			v, err := s.Get(i)
			if err != nil {
				return
			}
			if !yield(i, v) {
				return
			}
		}
	}
}

// Backward yields (index, word) pairs from the end of the window, with the
// same early termination as All.
func Backward(s Store) iter.Seq2[uint64, uint64] {
	return func(yield func(uint64, uint64) bool) {
		for i := s.Size(); i > 0; i-- {
			v, err := s.Get(i - 1)
			if err != nil {
				return
			}
			if !yield(i-1, v) {
				return
			}
		}
	}
}
