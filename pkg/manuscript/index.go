package manuscript

import (
	"cmp"
	"fmt"
	"iter"

	"parchment/pkg/words"
)

// entryWords is the number of words one IndexEntry occupies on disk.
const entryWords = 2

// IndexEntry locates one page inside the payload region of the pages store.
// Offset and Length are in words.
type IndexEntry struct {
	Number uint64 `json:"number"`
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// Compare orders entries by length, then number, then offset, so that a
// sorted collection of free entries is ordered by size.
func (e IndexEntry) Compare(o IndexEntry) int {
	if c := cmp.Compare(e.Length, o.Length); c != 0 {
		return c
	}
	if c := cmp.Compare(e.Number, o.Number); c != 0 {
		return c
	}
	return cmp.Compare(e.Offset, o.Offset)
}

func (e IndexEntry) Less(o IndexEntry) bool {
	return e.Compare(o) < 0
}

func (e IndexEntry) End() uint64 {
	return e.Offset + e.Length
}

func (e IndexEntry) String() string {
	return fmt.Sprintf("#%d [%d, %d)", e.Number, e.Offset, e.End())
}

// Index is the page directory: word pair 2n, 2n+1 holds the offset and
// length of page n.
type Index struct {
	store words.Store
}

func NewIndex(store words.Store) *Index {
	return &Index{store: store}
}

// Len returns the number of entries.
func (ix *Index) Len() uint64 {
	return ix.store.Size() / entryWords
}

// Get returns the entry for page number. Numbers past the end fail with
// words.ErrOutOfBounds.
func (ix *Index) Get(number uint64) (IndexEntry, error) {
	if err := ix.checkNumber(number); err != nil {
		return IndexEntry{}, err
	}
	offset, err := ix.store.Get(number * entryWords)
	if err != nil {
		return IndexEntry{}, fmt.Errorf("index entry %d: %w", number, err)
	}
	length, err := ix.store.Get(number*entryWords + 1)
	if err != nil {
		return IndexEntry{}, fmt.Errorf("index entry %d: %w", number, err)
	}
	return IndexEntry{Number: number, Offset: offset, Length: length}, nil
}

// Set overwrites the entry at e.Number.
func (ix *Index) Set(e IndexEntry) error {
	if err := ix.checkNumber(e.Number); err != nil {
		return err
	}
	if err := ix.store.SetRange(e.Number*entryWords, []uint64{e.Offset, e.Length}); err != nil {
		return fmt.Errorf("index entry %d: %w", e.Number, err)
	}
	return nil
}

// checkNumber rejects numbers past the end before they are scaled to word
// indexes, where they could wrap around.
func (ix *Index) checkNumber(number uint64) error {
	if n := ix.Len(); number >= n {
		return fmt.Errorf("index entry %d: %w: index holds %d entries", number, words.ErrOutOfBounds, n)
	}
	return nil
}

// Append adds e at the end of the index and returns the number it was
// stored under. e.Number is ignored.
func (ix *Index) Append(e IndexEntry) (uint64, error) {
	number := ix.Len()
	if err := ix.store.Append(e.Offset, e.Length); err != nil {
		return 0, fmt.Errorf("append index entry: %w", err)
	}
	return number, nil
}

// AppendPage appends the entry describing p.
func (ix *Index) AppendPage(p Page) (uint64, error) {
	return ix.Append(p.Entry())
}

// Last returns the entry with the highest number.
func (ix *Index) Last() (IndexEntry, bool) {
	n := ix.Len()
	if n == 0 {
		return IndexEntry{}, false
	}
	e, err := ix.Get(n - 1)
	if err != nil {
		return IndexEntry{}, false
	}
	return e, true
}

// At returns the entry at position i, or a zero-length entry numbered i when
// it cannot be read. The fallback is lossy; use Get when the error matters.
func (ix *Index) At(i uint64) IndexEntry {
	e, err := ix.Get(i)
	if err != nil {
		return IndexEntry{Number: i}
	}
	return e
}

// All yields entries in ascending number order, ending at the first entry
// that cannot be read.
func (ix *Index) All() iter.Seq2[uint64, IndexEntry] {
	return func(yield func(uint64, IndexEntry) bool) {
		for i := uint64(0); i < ix.Len(); i++ {
			e, err := ix.Get(i)
			if err != nil || !yield(i, e) {
				return
			}
		}
	}
}

// Backward yields entries in descending number order with the same early
// termination as All.
func (ix *Index) Backward() iter.Seq2[uint64, IndexEntry] {
	return func(yield func(uint64, IndexEntry) bool) {
		for i := ix.Len(); i > 0; i-- {
			e, err := ix.Get(i - 1)
			if err != nil || !yield(i-1, e) {
				return
			}
		}
	}
}
