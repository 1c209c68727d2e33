package manuscript

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zhangyunhao116/skipset"

	"parchment/pkg/words"
)

// RecyclingBin tracks deleted pages. The tombstone set answers whether an
// offset is dead; the catalogue keeps the deleted entries ordered by size
// for slot reuse, which is not wired into allocation.
//
// Every recycled entry is appended to a record log with the index format,
// and the bin is rebuilt from that log on open. Entries loaded from the log
// are numbered by their position in it, not by their original page number.
type RecyclingBin struct {
	mu         sync.Mutex
	records    *Index
	tombstones *skipset.FuncSet[uint64]
	catalogue  *skipset.FuncSet[IndexEntry]
	log        *slog.Logger
}

func openRecyclingBin(records *Index, log *slog.Logger) (*RecyclingBin, error) {
	b := &RecyclingBin{
		records: records,
		tombstones: skipset.NewFunc[uint64](func(a, c uint64) bool {
			return a < c
		}),
		catalogue: skipset.NewFunc[IndexEntry](func(a, c IndexEntry) bool {
			return a.Less(c)
		}),
		log: log,
	}

	n := records.Len()
	for i := uint64(0); i < n; i++ {
		e, err := records.Get(i)
		if err != nil {
			return nil, fmt.Errorf("load recycling record %d: %w", i, err)
		}
		b.tombstones.Add(e.Offset)
		b.catalogue.Add(e)
	}
	if n > 0 {
		log.Debug("recycling bin loaded", "entries", n)
	}
	return b, nil
}

// Contains reports whether the page starting at offset has been recycled.
func (b *RecyclingBin) Contains(offset uint64) bool {
	return b.tombstones.Contains(offset)
}

// Recycle tombstones p. Recycling an already recycled offset is a no-op.
func (b *RecyclingBin) Recycle(p Page) error {
	return b.recycle(p.Entry())
}

func (b *RecyclingBin) recycle(e IndexEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tombstones.Contains(e.Offset) {
		return nil
	}
	n, err := b.records.Append(e)
	if err != nil {
		return fmt.Errorf("recycle %s: %w", e, err)
	}
	page := e.Number
	// catalogue entries are numbered by log position, as on reload
	e.Number = n
	b.tombstones.Add(e.Offset)
	b.catalogue.Add(e)

	b.log.Debug("page recycled", "page", page, "record", n, "offset", e.Offset, "length", e.Length)
	return nil
}

// Len returns the number of recycled entries.
func (b *RecyclingBin) Len() int {
	return b.catalogue.Len()
}

// Entries returns the recycled entries ordered by length, number and offset.
func (b *RecyclingBin) Entries() []IndexEntry {
	out := make([]IndexEntry, 0, b.catalogue.Len())
	b.catalogue.Range(func(e IndexEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// BestFit returns the smallest recycled entry able to hold length words.
func (b *RecyclingBin) BestFit(length uint64) (IndexEntry, bool) {
	var hit IndexEntry
	var found bool
	b.catalogue.Range(func(e IndexEntry) bool {
		if e.Length >= length {
			hit, found = e, true
			return false
		}
		return true
	})
	return hit, found
}

// Reuse would place np into a recycled slot. Allocation is append-only, so
// it always fails.
func (b *RecyclingBin) Reuse(np NewPage) (Page, error) {
	return Page{}, fmt.Errorf("reuse of %d words: %w", np.Len(), words.ErrNotImplemented)
}
