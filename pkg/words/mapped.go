//go:build unix

package words

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// Mapped is a Store backed by a shared memory mapping of a file window.
//
// Every write is followed by a synchronous msync of the mapping, so a Set does
// not return before the data reached the backing file. Growth remaps the
// window and is only allowed while the window ends at end of file.
type Mapped struct {
	path   string
	file   *os.File
	offset uint64
	count  uint64

	// mapping is the page-aligned region returned by mmap, window the slice
	// of it that covers [offset, offset+count).
	mapping []byte
	window  []byte

	closed bool
	log    *slog.Logger
}

var _ Store = (*Mapped)(nil)

// mmap is swapped out in tests.
var (
	unixMmap = unix.Mmap
	mmap     = unixMmap
)

// OpenMapped maps the window w of an existing file. An empty window is
// allowed and leaves the store unmapped until it grows.
func OpenMapped(path string, w Window, opts ...Option) (*Mapped, error) {
	o := buildOptions(opts)

	file, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileDoesNotExist, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	m := &Mapped{
		path:   path,
		file:   file,
		offset: w.Offset,
		log:    o.log,
	}

	fileWords, err := m.fileWords()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	count, err := w.resolve(fileWords)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := m.remap(count); err != nil {
		_ = file.Close()
		return nil, err
	}

	m.log.Debug("mapped window opened", "path", path, "window", w.String(), "words", count)
	return m, nil
}

func (m *Mapped) fileWords() (uint64, error) {
	info, err := m.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", m.path, err)
	}
	if info.Size()%WordSize != 0 {
		return 0, fmt.Errorf("%w: %s is %d bytes", ErrMisaligned, m.path, info.Size())
	}
	return uint64(info.Size() / WordSize), nil
}

// remap drops the current mapping and maps count words from m.offset. When
// mmap fails the window keeps its size with no mapping, and the next access
// retries.
func (m *Mapped) remap(count uint64) error {
	if err := m.unmap(); err != nil {
		return err
	}
	m.count = count
	if count == 0 {
		return nil
	}

	pageSize := uint64(unix.Getpagesize())
	start := m.offset * WordSize
	aligned := start &^ (pageSize - 1)
	delta := start - aligned
	length := delta + count*WordSize

	data, err := mmap(int(m.file.Fd()), int64(aligned), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to mmap %s: %w", m.path, err)
	}

	m.mapping = data
	m.window = data[delta : delta+count*WordSize]
	return nil
}

func (m *Mapped) unmap() error {
	if m.mapping == nil {
		return nil
	}
	err := unix.Munmap(m.mapping)
	m.mapping = nil
	m.window = nil
	if err != nil {
		return fmt.Errorf("failed to munmap %s: %w", m.path, err)
	}
	return nil
}

func (m *Mapped) flush() error {
	if err := unix.Msync(m.mapping, unix.MS_SYNC); err != nil {
		return fmt.Errorf("failed to msync %s: %w", m.path, err)
	}
	return nil
}

// ready checks that the store is usable for accesses to [index, index+count).
func (m *Mapped) ready(index, count uint64) error {
	if m.closed {
		return ErrClosed
	}
	if m.window == nil {
		if m.count == 0 {
			return fmt.Errorf("%w: %w", ErrNoBackingStore, ErrOutOfBounds)
		}
		if err := m.remap(m.count); err != nil {
			return fmt.Errorf("%w: %w", ErrNoBackingStore, err)
		}
	}
	return checkRange(index, count, m.count)
}

func (m *Mapped) load(index uint64) uint64 {
	return Decode(m.window[index*WordSize:])
}

func (m *Mapped) store(index, value uint64) {
	b := Encode(value)
	copy(m.window[index*WordSize:], b[:])
}

func (m *Mapped) Get(index uint64) (uint64, error) {
	if err := m.ready(index, 1); err != nil {
		return 0, err
	}
	v := m.load(index)
	if v == Tombstone {
		return 0, fmt.Errorf("%w at %d", ErrReservedValueEncountered, index)
	}
	return v, nil
}

func (m *Mapped) GetRange(index, count uint64) ([]uint64, error) {
	if count == 0 {
		return []uint64{}, nil
	}
	if err := m.ready(index, count); err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		out[i] = m.load(index + uint64(i))
	}
	return dropTombstones(out), nil
}

func (m *Mapped) Set(index, value uint64) error {
	if err := checkStorable(value); err != nil {
		return err
	}
	return m.write(index, []uint64{value})
}

func (m *Mapped) SetRange(index uint64, values []uint64) error {
	if len(values) == 0 {
		return nil
	}
	if err := checkStorable(values...); err != nil {
		return err
	}
	return m.write(index, values)
}

func (m *Mapped) Delete(index uint64) error {
	return m.write(index, []uint64{Tombstone})
}

func (m *Mapped) DeleteRange(index, count uint64) error {
	if count == 0 {
		return nil
	}
	return m.write(index, repeat(Tombstone, count))
}

func (m *Mapped) write(index uint64, values []uint64) error {
	if err := m.ready(index, uint64(len(values))); err != nil {
		return err
	}
	for i, v := range values {
		m.store(index+uint64(i), v)
	}
	return m.flush()
}

func (m *Mapped) Append(values ...uint64) error {
	if len(values) == 0 {
		return nil
	}
	if err := checkStorable(values...); err != nil {
		return err
	}
	return m.extend(encodeAll(values))
}

func (m *Mapped) Grow(count uint64) error {
	if count == 0 {
		return nil
	}
	return m.extend(make([]byte, count*WordSize))
}

// extend writes buf at end of file and remaps the window up to the new end.
func (m *Mapped) extend(buf []byte) error {
	if m.closed {
		return ErrClosed
	}

	fileWords, err := m.fileWords()
	if err != nil {
		return err
	}
	if m.offset+m.count != fileWords {
		return fmt.Errorf("%w: window ends at word %d, file has %d", ErrCannotAppend, m.offset+m.count, fileWords)
	}

	if _, err := m.file.WriteAt(buf, int64(fileWords*WordSize)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", m.path, err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", m.path, err)
	}

	// The words are durable at this point; a failed remap is retried by the
	// next access instead of failing the append.
	grown := m.count + uint64(len(buf))/WordSize
	if err := m.remap(grown); err != nil {
		m.log.Warn("remap after growth failed", "path", m.path, "words", grown, "error", err)
		return nil
	}
	m.log.Debug("mapped window grown", "path", m.path, "offset", m.offset, "words", grown)
	return nil
}

func (m *Mapped) Compact() error {
	return ErrNotImplemented
}

func (m *Mapped) Size() uint64 {
	return m.count
}

func (m *Mapped) Contains(index uint64) bool {
	return index < m.count
}

func (m *Mapped) FileSize() int64 {
	if m.closed {
		return 0
	}
	info, err := m.file.Stat()
	if err != nil {
		return int64((m.offset + m.count) * WordSize)
	}
	return info.Size()
}

func (m *Mapped) Path() string {
	return m.path
}

// Close unmaps the window and closes the file. It is safe to call twice.
func (m *Mapped) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	unmapErr := m.unmap()
	closeErr := m.file.Close()
	if unmapErr != nil {
		return unmapErr
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", m.path, closeErr)
	}
	return nil
}
