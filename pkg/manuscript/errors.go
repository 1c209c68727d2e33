package manuscript

import "errors"

var (
	// ErrPageConflict is returned when a resolved page overlaps a live cached page.
	ErrPageConflict = errors.New("manuscript: page overlaps a live page")
	// ErrPageDeleted is returned for tombstoned or zero-length pages.
	ErrPageDeleted = errors.New("manuscript: page deleted")
	// ErrInvalidPage is returned when a page range ends past the pages store.
	ErrInvalidPage = errors.New("manuscript: page range outside pages store")

	ErrEmptyPage               = errors.New("manuscript: page has no words")
	ErrIndexOutOfSync          = errors.New("manuscript: index does not match pages store")
	ErrCouldNotCreateDirectory = errors.New("manuscript: could not create directory")
	ErrClosed                  = errors.New("manuscript: closed")
)
