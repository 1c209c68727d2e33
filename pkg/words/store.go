// Package words stores a file as a dense, zero-based array of 64-bit words.
//
// Two backends implement Store: Mapped maps a window of the file into memory
// and flushes every write synchronously, Streamed reads and writes through
// positional file I/O. Neither is safe for concurrent use; wrap a store in
// Serialized to funnel every operation on one file through a single owner.
//
// The value Tombstone (math.MaxUint64) marks a deleted slot and can never be
// stored. Multi-word reads skip deleted slots, single-word reads report them
// with ErrReservedValueEncountered.
//
// There is no cross-process locking. Two processes opening the same file is
// the caller's responsibility.
package words

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Store is a window of 64-bit words over a file.
type Store interface {
	// Get returns the word at index.
	Get(index uint64) (uint64, error)
	// GetRange returns count words starting at index, skipping deleted slots.
	GetRange(index, count uint64) ([]uint64, error)
	Set(index, value uint64) error
	SetRange(index uint64, values []uint64) error
	// Append grows the file by len(values) words at end of file.
	Append(values ...uint64) error
	// Grow appends count zero words.
	Grow(count uint64) error
	Delete(index uint64) error
	DeleteRange(index, count uint64) error
	// Compact is not implemented; deleted slots are never reclaimed.
	Compact() error
	// Size returns the window length in words.
	Size() uint64
	Contains(index uint64) bool
	// FileSize returns the size of the backing file in bytes.
	FileSize() int64
	Path() string
	Close() error
}

// Backend selects a Store implementation.
type Backend string

const (
	BackendMapped   Backend = "mapped"
	BackendStreamed Backend = "streamed"
)

// ParseBackend accepts "mapped" or "streamed" in any case.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendMapped, BackendStreamed:
		return b, nil
	case "":
		return BackendMapped, nil
	default:
		return "", fmt.Errorf("words: unknown backend %q", s)
	}
}

// Window selects the words of a file a store exposes. A nil Count extends the
// window to the end of the file.
type Window struct {
	Offset uint64
	Count  *uint64
}

// Whole is the window covering the entire file.
func Whole() Window { return Window{} }

// From is the window starting at offset and running to the end of the file.
func From(offset uint64) Window { return Window{Offset: offset} }

// Span is the window of count words starting at offset.
func Span(offset, count uint64) Window { return Window{Offset: offset, Count: &count} }

func (w Window) String() string {
	if w.Count == nil {
		return fmt.Sprintf("[%d, eof)", w.Offset)
	}
	return fmt.Sprintf("[%d, %d)", w.Offset, w.Offset+*w.Count)
}

// resolve validates the window against a file of fileWords words and returns
// its concrete length.
func (w Window) resolve(fileWords uint64) (uint64, error) {
	if w.Offset > fileWords {
		return 0, fmt.Errorf("%w: offset %d beyond %d words", ErrInvalidOffset, w.Offset, fileWords)
	}
	if w.Count == nil {
		return fileWords - w.Offset, nil
	}
	if *w.Count > fileWords-w.Offset {
		return 0, fmt.Errorf("%w: window %s exceeds %d words", ErrInvalidSize, w, fileWords)
	}
	return *w.Count, nil
}

type options struct {
	log         *slog.Logger
	waitTimeout time.Duration
}

// Option configures a store.
type Option func(*options)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithWaitTimeout bounds how long a Serialized call waits for the file owner
// to accept it. Zero waits indefinitely.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.waitTimeout = d
	}
}

func buildOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open opens a window over an existing file with the given backend.
func Open(b Backend, path string, w Window, opts ...Option) (Store, error) {
	switch b {
	case BackendStreamed:
		s, err := OpenStreamed(path, w, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMapped, "":
		m, err := OpenMapped(path, w, opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("words: unknown backend %q", b)
	}
}

// Create writes a new file holding the single word seed and opens it.
func Create(b Backend, path string, seed uint64, opts ...Option) (Store, error) {
	if err := createSeeded(path, seed); err != nil {
		return nil, err
	}
	return Open(b, path, Whole(), opts...)
}

// OpenOrCreate opens the whole of path, creating an empty file if needed.
func OpenOrCreate(b Backend, path string, opts ...Option) (Store, error) {
	if !Exists(path) {
		if err := touch(path); err != nil {
			return nil, err
		}
	}
	return Open(b, path, Whole(), opts...)
}

// GetOrCreate opens the window [offset, offset+count) when the file already
// covers it. Otherwise offset must equal the current end of file and the file
// is grown by count zero words.
func GetOrCreate(b Backend, path string, offset, count uint64, opts ...Option) (Store, error) {
	if count == 0 {
		return nil, fmt.Errorf("%w: zero-length window", ErrInvalidSize)
	}
	if !Exists(path) {
		if err := touch(path); err != nil {
			return nil, err
		}
	}

	fileWords, err := FileWords(path)
	if err != nil {
		return nil, err
	}
	if fileWords >= offset+count {
		return Open(b, path, Span(offset, count), opts...)
	}
	if offset != fileWords {
		return nil, fmt.Errorf("%w: %d is not end of file (%d words)", ErrInvalidOffset, offset, fileWords)
	}

	s, err := Open(b, path, From(offset), opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Grow(count); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// checkRange validates [index, index+count) against a window of size words.
func checkRange(index, count, size uint64) error {
	if index >= size || count > size-index {
		return fmt.Errorf("%w: [%d, %d) outside %d words", ErrOutOfBounds, index, index+count, size)
	}
	return nil
}
