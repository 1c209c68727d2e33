package manuscript

import (
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"parchment/pkg/metrics"
	"parchment/pkg/words"
)

var backends = []words.Backend{words.BackendMapped, words.BackendStreamed}

func openTestManuscript(t *testing.T, dir string, opts ...Option) *Manuscript {
	t.Helper()
	m, err := Open(dir, opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func appendValues(t *testing.T, m *Manuscript, values ...uint64) Page {
	t.Helper()
	p, err := m.Append(NewPage{Values: values})
	if err != nil {
		t.Fatalf("Append(%v) failed: %v", values, err)
	}
	return p
}

func TestManuscript_FirstAppend(t *testing.T) {
	for _, b := range backends {
		t.Run(string(b), func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "book")
			m := openTestManuscript(t, dir, WithBackend(b))

			for _, name := range Files {
				if !words.Exists(filepath.Join(dir, name)) {
					t.Fatalf("expected %s to be created", name)
				}
			}
			if m.Header() != localByteOrder() {
				t.Fatalf("expected header %d, got %d", localByteOrder(), m.Header())
			}

			p := appendValues(t, m, 5)
			if p.Number() != 0 || p.Offset() != 0 || p.Length() != 1 {
				t.Fatalf("unexpected first page %v", p)
			}

			e, err := m.Entry(0)
			if err != nil {
				t.Fatalf("Entry failed: %v", err)
			}
			if e != (IndexEntry{Number: 0, Offset: 0, Length: 1}) {
				t.Fatalf("expected entry (0, 0, 1), got %v", e)
			}

			m.Evict(0)
			got, err := m.Get(0)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !got.Equal(p) {
				t.Fatalf("expected %v to equal %v", got, p)
			}

			values, err := got.Values()
			if err != nil {
				t.Fatalf("Values failed: %v", err)
			}
			if !slices.Equal(values, []uint64{5}) {
				t.Fatalf("expected [5], got %v", values)
			}
		})
	}
}

func TestManuscript_PageNumbersAreMonotonic(t *testing.T) {
	m := openTestManuscript(t, t.TempDir())

	lengths := []int{3, 1, 4, 1, 5}
	var next uint64
	for i, n := range lengths {
		values := make([]uint64, n)
		for j := range values {
			values[j] = uint64(i*10 + j)
		}
		p := appendValues(t, m, values...)

		if p.Number() != uint64(i) {
			t.Fatalf("expected page number %d, got %d", i, p.Number())
		}
		if p.Offset() != next {
			t.Fatalf("page %d: expected offset %d, got %d", i, next, p.Offset())
		}
		next = p.End()
	}

	if m.Len() != uint64(len(lengths)) {
		t.Fatalf("expected %d pages, got %d", len(lengths), m.Len())
	}

	p, err := m.Get(2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	values, err := p.Values()
	if err != nil {
		t.Fatalf("Values failed: %v", err)
	}
	if !slices.Equal(values, []uint64{20, 21, 22, 23}) {
		t.Fatalf("unexpected page 2 contents %v", values)
	}
}

func TestManuscript_AppendRejects(t *testing.T) {
	m := openTestManuscript(t, t.TempDir())

	if _, err := m.Append(NewPage{}); !errors.Is(err, ErrEmptyPage) {
		t.Fatalf("expected ErrEmptyPage, got %v", err)
	}
	if _, err := m.Append(NewPage{Values: []uint64{1, words.Tombstone}}); !errors.Is(err, words.ErrReservedValueNotAllowed) {
		t.Fatalf("expected ErrReservedValueNotAllowed, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("rejected appends must not register pages, got %d", m.Len())
	}
}

func TestManuscript_Delete(t *testing.T) {
	for _, b := range backends {
		t.Run(string(b), func(t *testing.T) {
			m := openTestManuscript(t, t.TempDir(), WithBackend(b))
			first := appendValues(t, m, 1, 2)
			second := appendValues(t, m, 3)

			if err := m.Delete(first); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if err := m.Delete(first); err != nil {
				t.Fatalf("second Delete failed: %v", err)
			}

			if !m.Bin().Contains(first.Offset()) {
				t.Fatal("expected offset to be tombstoned")
			}
			if m.Bin().Len() != 1 {
				t.Fatalf("expected one recycled entry, got %d", m.Bin().Len())
			}

			if _, err := m.Get(0); !errors.Is(err, ErrPageDeleted) {
				t.Fatalf("expected ErrPageDeleted, got %v", err)
			}
			if _, err := first.Values(); !errors.Is(err, ErrPageDeleted) {
				t.Fatalf("expected ErrPageDeleted from a stale handle, got %v", err)
			}
			if _, err := m.Get(1); err != nil {
				t.Fatalf("deleting page 0 must not affect page 1: %v", err)
			}

			// deleted ranges are never reused
			third := appendValues(t, m, 4)
			if third.Offset() != second.End() {
				t.Fatalf("expected append at %d, got %d", second.End(), third.Offset())
			}
		})
	}
}

func TestManuscript_DeleteForeignPage(t *testing.T) {
	a := openTestManuscript(t, t.TempDir())
	b := openTestManuscript(t, t.TempDir())
	p := appendValues(t, a, 1)

	if err := b.Delete(p); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage, got %v", err)
	}
	if err := a.Delete(Page{}); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage for a placeholder, got %v", err)
	}
}

func TestManuscript_OverlapConflict(t *testing.T) {
	m := openTestManuscript(t, t.TempDir())
	appendValues(t, m, 1, 2, 3)
	appendValues(t, m, 4, 5)

	for n := range uint64(2) {
		if _, err := m.Get(n); err != nil {
			t.Fatalf("Get(%d) failed: %v", n, err)
		}
	}

	t.Run("LaterPage", func(t *testing.T) {
		// page 1 now claims [2, 4), which overlaps cached page 0
		if err := m.SetEntry(IndexEntry{Number: 1, Offset: 2, Length: 2}); err != nil {
			t.Fatalf("SetEntry failed: %v", err)
		}
		m.Evict(1)

		if _, err := m.Get(1); !errors.Is(err, ErrPageConflict) {
			t.Fatalf("expected ErrPageConflict, got %v", err)
		}
		if err := m.SetEntry(IndexEntry{Number: 1, Offset: 3, Length: 2}); err != nil {
			t.Fatalf("SetEntry failed: %v", err)
		}
		if _, err := m.Get(1); err != nil {
			t.Fatalf("restored entry must resolve: %v", err)
		}
	})

	t.Run("EarlierPage", func(t *testing.T) {
		// page 0 now claims [1, 5), which overlaps cached page 1
		if err := m.SetEntry(IndexEntry{Number: 0, Offset: 1, Length: 4}); err != nil {
			t.Fatalf("SetEntry failed: %v", err)
		}
		m.Evict(0)

		if _, err := m.Get(0); !errors.Is(err, ErrPageConflict) {
			t.Fatalf("expected ErrPageConflict, got %v", err)
		}
	})
}

func TestManuscript_InvalidAndMissingPages(t *testing.T) {
	m := openTestManuscript(t, t.TempDir())
	appendValues(t, m, 1, 2)

	if _, err := m.Get(5); !errors.Is(err, words.ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}

	if err := m.SetEntry(IndexEntry{Number: 0, Offset: 1, Length: 10}); err != nil {
		t.Fatalf("SetEntry failed: %v", err)
	}
	m.Evict(0)
	if _, err := m.Get(0); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage, got %v", err)
	}

	if err := m.SetEntry(IndexEntry{Number: 0, Offset: 0, Length: 0}); err != nil {
		t.Fatalf("SetEntry failed: %v", err)
	}
	if _, err := m.Get(0); !errors.Is(err, ErrPageDeleted) {
		t.Fatalf("expected ErrPageDeleted for a zero-length entry, got %v", err)
	}
}

func TestManuscript_HugeNumbersDoNotAliasFirstPage(t *testing.T) {
	for _, b := range backends {
		t.Run(string(b), func(t *testing.T) {
			m := openTestManuscript(t, t.TempDir(), WithBackend(b))
			appendValues(t, m, 5, 6)
			m.Evict(0)

			if p, err := m.Get(1 << 63); !errors.Is(err, words.ErrOutOfBounds) {
				t.Fatalf("expected ErrOutOfBounds, got %v (%v)", err, p)
			}
			if err := m.SetEntry(IndexEntry{Number: 1 << 63, Offset: 0, Length: 1}); !errors.Is(err, words.ErrOutOfBounds) {
				t.Fatalf("expected ErrOutOfBounds from SetEntry, got %v", err)
			}

			p, err := m.Get(0)
			if err != nil {
				t.Fatalf("Get(0) failed: %v", err)
			}
			values, err := p.Values()
			if err != nil {
				t.Fatalf("Values failed: %v", err)
			}
			if !slices.Equal(values, []uint64{5, 6}) {
				t.Fatalf("expected [5 6], got %v", values)
			}
		})
	}
}

func TestManuscript_PositionalAccess(t *testing.T) {
	m := openTestManuscript(t, t.TempDir())
	pages := []Page{
		appendValues(t, m, 1),
		appendValues(t, m, 2),
		appendValues(t, m, 3),
	}

	if p := m.At(1); !p.Equal(pages[1]) {
		t.Fatalf("expected %v, got %v", pages[1], p)
	}
	if p := m.At(10); !p.IsPlaceholder() || p.Number() != 10 {
		t.Fatalf("expected placeholder for page 10, got %v", p)
	}

	var backward []uint64
	for n := range m.Backward() {
		backward = append(backward, n)
	}
	if !slices.Equal(backward, []uint64{2, 1, 0}) {
		t.Fatalf("unexpected backward order %v", backward)
	}

	if err := m.Delete(pages[1]); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if p := m.At(1); !p.IsPlaceholder() {
		t.Fatalf("expected placeholder for a deleted page, got %v", p)
	}

	var forward []uint64
	for n := range m.Pages() {
		forward = append(forward, n)
	}
	if !slices.Equal(forward, []uint64{0}) {
		t.Fatalf("iteration must stop at the deleted page, got %v", forward)
	}

	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	var deleted []bool
	for _, e := range entries {
		deleted = append(deleted, e.Deleted)
	}
	if !slices.Equal(deleted, []bool{false, true, false}) {
		t.Fatalf("unexpected deleted flags %v", deleted)
	}
}

func TestManuscript_Reopen(t *testing.T) {
	for _, b := range backends {
		t.Run(string(b), func(t *testing.T) {
			dir := t.TempDir()

			m, err := Open(dir, WithBackend(b))
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			appendValues(t, m, 10, 11)
			doomed := appendValues(t, m, 12)
			appendValues(t, m, 13, 14, 15)
			if err := m.Delete(doomed); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if err := m.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			m = openTestManuscript(t, dir, WithBackend(b))
			if m.Len() != 3 {
				t.Fatalf("expected 3 pages after reopen, got %d", m.Len())
			}
			if _, err := m.Get(1); !errors.Is(err, ErrPageDeleted) {
				t.Fatalf("expected deletion to survive reopen, got %v", err)
			}
			if m.Bin().Len() != 1 {
				t.Fatalf("expected one recycled entry, got %d", m.Bin().Len())
			}

			p, err := m.Get(2)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			values, err := p.Values()
			if err != nil {
				t.Fatalf("Values failed: %v", err)
			}
			if !slices.Equal(values, []uint64{13, 14, 15}) {
				t.Fatalf("unexpected contents %v", values)
			}

			next := appendValues(t, m, 16)
			if next.Number() != 3 || next.Offset() != 6 {
				t.Fatalf("expected page 3 at offset 6, got %v", next)
			}
		})
	}
}

func TestManuscript_RecycledStableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	appendValues(t, m, 1, 2)
	second := appendValues(t, m, 3)
	if err := m.Delete(second); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	want := []IndexEntry{{Number: 0, Offset: 2, Length: 1}}
	if got := m.Recycled(); !slices.Equal(got, want) {
		t.Fatalf("expected %v before reopen, got %v", want, got)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := openTestManuscript(t, dir)
	if got := reopened.Recycled(); !slices.Equal(got, want) {
		t.Fatalf("expected %v after reopen, got %v", want, got)
	}
}

func TestManuscript_IndexOutOfSync(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	appendValues(t, m, 1)
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// payload written without an index entry
	pages, err := words.Open(words.BackendStreamed, filepath.Join(dir, PagesFile), words.Whole())
	if err != nil {
		t.Fatalf("words.Open failed: %v", err)
	}
	if err := pages.Append(99); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := pages.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	m = openTestManuscript(t, dir)
	if _, err := m.Append(NewPage{Values: []uint64{2}}); !errors.Is(err, ErrIndexOutOfSync) {
		t.Fatalf("expected ErrIndexOutOfSync, got %v", err)
	}
	if _, err := m.Get(0); err != nil {
		t.Fatalf("existing page must stay readable: %v", err)
	}
}

func TestManuscript_CacheCapacity(t *testing.T) {
	m := openTestManuscript(t, t.TempDir(), WithCacheCapacity(2))
	for i := range uint64(4) {
		appendValues(t, m, i)
	}
	if m.Cached() != 2 {
		t.Fatalf("expected 2 cached pages, got %d", m.Cached())
	}
	for n := range uint64(4) {
		if _, err := m.Get(n); err != nil {
			t.Fatalf("Get(%d) failed after eviction: %v", n, err)
		}
	}
}

func TestManuscript_ConcurrentAppends(t *testing.T) {
	m := openTestManuscript(t, t.TempDir())

	const writers, perWriter = 6, 10
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				if _, err := m.Append(NewPage{Values: []uint64{uint64(w), uint64(i)}}); err != nil {
					t.Errorf("Append failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if m.Len() != writers*perWriter {
		t.Fatalf("expected %d pages, got %d", writers*perWriter, m.Len())
	}
	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	for i, e := range entries {
		if e.Offset != uint64(i)*2 || e.Length != 2 {
			t.Fatalf("entry %d is not contiguous: %v", i, e.IndexEntry)
		}
	}
}

func TestManuscript_Metrics(t *testing.T) {
	reg := metrics.NewRegistry()
	m := openTestManuscript(t, t.TempDir(), WithMetrics(reg))

	p := appendValues(t, m, 1, 2, 3)
	if err := m.Delete(p); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, _ = m.Get(0)

	if v, _ := reg.Value("parchment_manuscript_ops_total", map[string]string{"op": "append", "result": "ok"}); v != 1 {
		t.Fatalf("expected one successful append, got %v", v)
	}
	if v, _ := reg.Value("parchment_manuscript_ops_total", map[string]string{"op": "get", "result": "deleted"}); v != 1 {
		t.Fatalf("expected one deleted get, got %v", v)
	}
	if v, _ := reg.Value("parchment_pages", nil); v != 1 {
		t.Fatalf("expected pages gauge 1, got %v", v)
	}
}

func TestManuscript_FreezeAndClose(t *testing.T) {
	dir := t.TempDir()
	m := openTestManuscript(t, dir)
	appendValues(t, m, 1)

	var frozen string
	if err := m.Freeze(func(d string) error {
		frozen = d
		return nil
	}); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}
	if frozen != dir {
		t.Fatalf("expected %s, got %s", dir, frozen)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := m.Get(0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := m.Freeze(func(string) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Freeze, got %v", err)
	}
}
