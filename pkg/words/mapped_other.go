//go:build !unix

package words

import "fmt"

// OpenMapped is unavailable without mmap support; use BackendStreamed.
func OpenMapped(path string, w Window, opts ...Option) (Store, error) {
	return nil, fmt.Errorf("%w: mapped backend needs mmap, use %q for %s", ErrNotImplemented, BackendStreamed, path)
}
