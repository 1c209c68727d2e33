package words

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Streamed is a Store that reads and writes through positional file I/O.
//
// Writes rely on the filesystem for durability; unlike Mapped there is no
// sync after Set. Appends are always allowed: an unbounded window follows
// the end of file, a bounded one keeps its length.
type Streamed struct {
	path    string
	file    *os.File
	offset  uint64
	count   uint64
	bounded bool

	closed bool
	log    *slog.Logger
}

var _ Store = (*Streamed)(nil)

// OpenStreamed opens the window w of path. A missing file is created empty,
// leaving the window at zero words until data is appended.
func OpenStreamed(path string, w Window, opts ...Option) (*Streamed, error) {
	o := buildOptions(opts)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	s := &Streamed{
		path:    path,
		file:    file,
		offset:  w.Offset,
		bounded: w.Count != nil,
		log:     o.log,
	}

	fileWords, err := s.fileWords()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	count, err := w.resolve(fileWords)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	s.count = count

	s.log.Debug("streamed window opened", "path", path, "window", w.String(), "words", count)
	return s, nil
}

func (s *Streamed) fileWords() (uint64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", s.path, err)
	}
	if info.Size()%WordSize != 0 {
		return 0, fmt.Errorf("%w: %s is %d bytes", ErrMisaligned, s.path, info.Size())
	}
	return uint64(info.Size() / WordSize), nil
}

func (s *Streamed) size() uint64 {
	if s.bounded {
		return s.count
	}
	fileWords, err := s.fileWords()
	if err != nil || fileWords < s.offset {
		return 0
	}
	return fileWords - s.offset
}

func (s *Streamed) ready(index, count uint64) error {
	if s.closed {
		return ErrClosed
	}
	return checkRange(index, count, s.size())
}

func (s *Streamed) read(index, count uint64) ([]uint64, error) {
	buf := make([]byte, count*WordSize)
	if _, err := s.file.ReadAt(buf, int64((s.offset+index)*WordSize)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short read at %d", ErrOutOfBounds, index)
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	out := make([]uint64, count)
	for i := range out {
		out[i] = Decode(buf[i*WordSize:])
	}
	return out, nil
}

func (s *Streamed) write(index uint64, values []uint64) error {
	if err := s.ready(index, uint64(len(values))); err != nil {
		return err
	}
	if _, err := s.file.WriteAt(encodeAll(values), int64((s.offset+index)*WordSize)); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}

func (s *Streamed) Get(index uint64) (uint64, error) {
	if err := s.ready(index, 1); err != nil {
		return 0, err
	}
	values, err := s.read(index, 1)
	if err != nil {
		return 0, err
	}
	if values[0] == Tombstone {
		return 0, fmt.Errorf("%w at %d", ErrReservedValueEncountered, index)
	}
	return values[0], nil
}

func (s *Streamed) GetRange(index, count uint64) ([]uint64, error) {
	if count == 0 {
		return []uint64{}, nil
	}
	if err := s.ready(index, count); err != nil {
		return nil, err
	}
	values, err := s.read(index, count)
	if err != nil {
		return nil, err
	}
	return dropTombstones(values), nil
}

func (s *Streamed) Set(index, value uint64) error {
	if err := checkStorable(value); err != nil {
		return err
	}
	return s.write(index, []uint64{value})
}

func (s *Streamed) SetRange(index uint64, values []uint64) error {
	if len(values) == 0 {
		return nil
	}
	if err := checkStorable(values...); err != nil {
		return err
	}
	return s.write(index, values)
}

func (s *Streamed) Delete(index uint64) error {
	return s.write(index, []uint64{Tombstone})
}

func (s *Streamed) DeleteRange(index, count uint64) error {
	if count == 0 {
		return nil
	}
	return s.write(index, repeat(Tombstone, count))
}

func (s *Streamed) Append(values ...uint64) error {
	if len(values) == 0 {
		return nil
	}
	if err := checkStorable(values...); err != nil {
		return err
	}
	return s.extend(encodeAll(values))
}

func (s *Streamed) Grow(count uint64) error {
	if count == 0 {
		return nil
	}
	return s.extend(make([]byte, count*WordSize))
}

func (s *Streamed) extend(buf []byte) error {
	if s.closed {
		return ErrClosed
	}
	fileWords, err := s.fileWords()
	if err != nil {
		return err
	}
	if _, err := s.file.WriteAt(buf, int64(fileWords*WordSize)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	return nil
}

func (s *Streamed) Compact() error {
	return ErrNotImplemented
}

func (s *Streamed) Size() uint64 {
	if s.closed {
		return 0
	}
	return s.size()
}

func (s *Streamed) Contains(index uint64) bool {
	return index < s.Size()
}

func (s *Streamed) FileSize() int64 {
	if s.closed {
		return 0
	}
	info, err := s.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *Streamed) Path() string {
	return s.path
}

// Close syncs and closes the file. Writes are not synced individually.
func (s *Streamed) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("failed to sync %s: %w", s.path, err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}
	return nil
}
