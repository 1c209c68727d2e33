package manuscript

import "fmt"

// Page is an immutable handle to one allocated range of the pages store.
// Two handles are equal when they name the same range of the same
// manuscript, whatever their number. The zero Page is the placeholder
// returned by lossy positional access.
type Page struct {
	m      *Manuscript
	number uint64
	offset uint64
	length uint64
}

func (p Page) Number() uint64 { return p.number }
func (p Page) Offset() uint64 { return p.offset }
func (p Page) Length() uint64 { return p.length }
func (p Page) End() uint64    { return p.offset + p.length }

// IsPlaceholder reports whether p is not backed by a manuscript.
func (p Page) IsPlaceholder() bool { return p.m == nil }

// Entry returns the index record describing p.
func (p Page) Entry() IndexEntry {
	return IndexEntry{Number: p.number, Offset: p.offset, Length: p.length}
}

func (p Page) Equal(o Page) bool {
	return p.source() == o.source() && p.offset == o.offset && p.length == o.length
}

// Overlaps reports whether p and o share at least one word. Empty ranges
// overlap nothing.
func (p Page) Overlaps(o Page) bool {
	return p.offset < o.End() && o.offset < p.End()
}

// Values reads the page's words. It fails with ErrPageDeleted once the page
// has been recycled.
func (p Page) Values() ([]uint64, error) {
	if p.m == nil {
		return nil, fmt.Errorf("%w: placeholder page %d", ErrInvalidPage, p.number)
	}
	return p.m.read(p)
}

func (p Page) String() string {
	return p.Entry().String()
}

func (p Page) source() string {
	if p.m == nil {
		return ""
	}
	return p.m.pages.Path()
}

// NewPage is a sequence of words not yet written to a manuscript.
type NewPage struct {
	Values []uint64 `json:"values"`
}

func (np NewPage) Len() uint64 {
	return uint64(len(np.Values))
}
