package words

import "errors"

var (
	ErrFileDoesNotExist = errors.New("words: file does not exist")
	ErrFileExists       = errors.New("words: file exists")
	ErrOutOfBounds      = errors.New("words: index out of bounds")
	ErrMisaligned       = errors.New("words: file size is not a multiple of 8 bytes")
	ErrInvalidOffset    = errors.New("words: invalid offset")
	ErrInvalidSize      = errors.New("words: invalid size")
	ErrCannotAppend     = errors.New("words: window does not reach end of file")
	ErrNoBackingStore   = errors.New("words: no mapping established")
	ErrNotImplemented   = errors.New("words: not implemented")
	ErrClosed           = errors.New("words: store closed")

	// ErrReservedValueNotAllowed is returned when a caller tries to store Tombstone.
	ErrReservedValueNotAllowed = errors.New("words: reserved value not allowed")
	// ErrReservedValueEncountered is returned by single-word reads of a deleted slot.
	ErrReservedValueEncountered = errors.New("words: reserved value encountered")
)
