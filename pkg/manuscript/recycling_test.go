package manuscript

import (
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"

	"parchment/pkg/words"
)

func openTestBin(t *testing.T, path string) (*RecyclingBin, words.Store) {
	t.Helper()
	s, err := words.OpenOrCreate(words.BackendStreamed, path)
	if err != nil {
		t.Fatalf("OpenOrCreate failed: %v", err)
	}
	bin, err := openRecyclingBin(NewIndex(s), slog.Default())
	if err != nil {
		t.Fatalf("openRecyclingBin failed: %v", err)
	}
	return bin, s
}

func TestRecyclingBin_RecycleIsIdempotent(t *testing.T) {
	bin, s := openTestBin(t, filepath.Join(t.TempDir(), RecyclingFile))
	defer s.Close()

	p := Page{number: 4, offset: 10, length: 3}
	if err := bin.Recycle(p); err != nil {
		t.Fatalf("Recycle failed: %v", err)
	}
	if err := bin.Recycle(p); err != nil {
		t.Fatalf("second Recycle failed: %v", err)
	}

	if !bin.Contains(10) {
		t.Fatal("expected offset 10 to be tombstoned")
	}
	if bin.Contains(11) {
		t.Fatal("only the start offset is tombstoned")
	}
	if bin.Len() != 1 {
		t.Fatalf("expected one catalogue entry, got %d", bin.Len())
	}
	if s.Size() != entryWords {
		t.Fatalf("expected one record on disk, got %d words", s.Size())
	}
}

func TestRecyclingBin_CatalogueOrder(t *testing.T) {
	bin, s := openTestBin(t, filepath.Join(t.TempDir(), RecyclingFile))
	defer s.Close()

	for _, p := range []Page{
		{number: 0, offset: 0, length: 5},
		{number: 1, offset: 5, length: 1},
		{number: 2, offset: 6, length: 3},
		{number: 3, offset: 9, length: 3},
	} {
		if err := bin.Recycle(p); err != nil {
			t.Fatalf("Recycle failed: %v", err)
		}
	}

	var lengths []uint64
	for _, e := range bin.Entries() {
		lengths = append(lengths, e.Length)
	}
	if !slices.Equal(lengths, []uint64{1, 3, 3, 5}) {
		t.Fatalf("expected entries ordered by length, got %v", lengths)
	}

	fit, ok := bin.BestFit(2)
	if !ok || fit != (IndexEntry{Number: 2, Offset: 6, Length: 3}) {
		t.Fatalf("unexpected best fit %v (%v)", fit, ok)
	}
	if _, ok := bin.BestFit(6); ok {
		t.Fatal("no entry can hold 6 words")
	}

	if _, err := bin.Reuse(NewPage{Values: []uint64{1}}); !errors.Is(err, words.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}

func TestRecyclingBin_ReloadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), RecyclingFile)

	bin, s := openTestBin(t, path)
	if err := bin.Recycle(Page{number: 7, offset: 2, length: 4}); err != nil {
		t.Fatalf("Recycle failed: %v", err)
	}
	if err := bin.Recycle(Page{number: 9, offset: 8, length: 1}); err != nil {
		t.Fatalf("Recycle failed: %v", err)
	}
	// numbers of catalogue entries are their log positions
	want := []IndexEntry{{Number: 1, Offset: 8, Length: 1}, {Number: 0, Offset: 2, Length: 4}}
	if got := bin.Entries(); !slices.Equal(got, want) {
		t.Fatalf("expected %v before reload, got %v", want, got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reloaded, s := openTestBin(t, path)
	defer s.Close()

	if !reloaded.Contains(2) || !reloaded.Contains(8) {
		t.Fatal("tombstones must survive a reload")
	}
	if got := reloaded.Entries(); !slices.Equal(got, want) {
		t.Fatalf("expected %v after reload, got %v", want, got)
	}
}
