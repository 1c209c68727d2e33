package words

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Exists reports whether path names an existing file or directory.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CreateDir creates path and any missing parents.
func CreateDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// FileSize returns the size of path in bytes.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrFileDoesNotExist
		}
		return 0, err
	}
	return info.Size(), nil
}

// FileWords returns the size of path in words, failing if it is not word aligned.
func FileWords(path string) (uint64, error) {
	size, err := FileSize(path)
	if err != nil {
		return 0, err
	}
	if size%WordSize != 0 {
		return 0, fmt.Errorf("%w: %s is %d bytes", ErrMisaligned, path, size)
	}
	return uint64(size / WordSize), nil
}

// createSeeded writes a new file holding exactly one word.
func createSeeded(path string, seed uint64) error {
	if Exists(path) {
		return ErrFileExists
	}
	if err := checkStorable(seed); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrFileExists
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	b := Encode(seed)
	if _, err := f.Write(b[:]); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to write seed word: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return f.Close()
}

// touch creates an empty file at path when none exists.
func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f.Close()
}
