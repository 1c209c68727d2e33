package words

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"parchment/pkg/listener"
)

// request is one unit of work executed by a file owner.
type request struct {
	run  func()
	done chan struct{}
}

// owner serializes every operation on one file through a single goroutine.
type owner struct {
	path string
	in   chan request
	jobs *listener.Listener[request]
	refs int
}

var owners = struct {
	mu sync.Mutex
	m  map[string]*owner
}{m: make(map[string]*owner)}

func ownerKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// acquireOwner returns the owner of path, starting it on first use.
func acquireOwner(path string, log *slog.Logger) *owner {
	key := ownerKey(path)

	owners.mu.Lock()
	defer owners.mu.Unlock()

	if o, ok := owners.m[key]; ok {
		o.refs++
		return o
	}

	o := &owner{path: key, in: make(chan request), refs: 1}
	o.jobs = listener.New(o.in, func(r request) error {
		defer close(r.done)
		r.run()
		return nil
	}).WithLogger(log)
	o.jobs.Start(context.Background())
	owners.m[key] = o

	log.Debug("file owner started", "path", key)
	return o
}

func (o *owner) release() {
	owners.mu.Lock()
	o.refs--
	last := o.refs == 0
	if last {
		delete(owners.m, o.path)
	}
	owners.mu.Unlock()

	if last {
		o.jobs.Stop()
	}
}

// Serialized wraps a Store so that all access to its file, from any number
// of goroutines and any number of Serialized values over the same path,
// runs one operation at a time in submission order. Calls block until their
// operation has run.
type Serialized struct {
	store   Store
	owner   *owner
	timeout time.Duration
	closed  atomic.Bool
}

var _ Store = (*Serialized)(nil)

// Serialize takes ownership of s. Closing the returned store closes s.
func Serialize(s Store, opts ...Option) *Serialized {
	o := buildOptions(opts)
	return &Serialized{
		store:   s,
		owner:   acquireOwner(s.Path(), o.log),
		timeout: o.waitTimeout,
	}
}

// OpenSerialized opens a window with the given backend and serializes it.
func OpenSerialized(b Backend, path string, w Window, opts ...Option) (*Serialized, error) {
	s, err := Open(b, path, w, opts...)
	if err != nil {
		return nil, err
	}
	return Serialize(s, opts...), nil
}

// CreateSerialized creates a seeded file and serializes the resulting store.
func CreateSerialized(b Backend, path string, seed uint64, opts ...Option) (*Serialized, error) {
	s, err := Create(b, path, seed, opts...)
	if err != nil {
		return nil, err
	}
	return Serialize(s, opts...), nil
}

// Do runs fn with exclusive access to the file. fn must only use the Store
// it is given; calling back into a Serialized over the same file deadlocks.
func (s *Serialized) Do(ctx context.Context, fn func(Store) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.submit(ctx, fn, s.timeout)
}

func (s *Serialized) submit(ctx context.Context, fn func(Store) error, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var err error
	req := request{
		run:  func() { err = fn(s.store) },
		done: make(chan struct{}),
	}

	select {
	case s.owner.in <- req:
	case <-ctx.Done():
		return fmt.Errorf("words: waiting for owner of %s: %w", s.owner.path, ctx.Err())
	case <-s.owner.jobs.Done():
		return ErrClosed
	}

	<-req.done
	return err
}

func (s *Serialized) do(fn func(Store) error) error {
	return s.Do(context.Background(), fn)
}

func (s *Serialized) Get(index uint64) (v uint64, err error) {
	err = s.do(func(st Store) error {
		v, err = st.Get(index)
		return err
	})
	return v, err
}

func (s *Serialized) GetRange(index, count uint64) (values []uint64, err error) {
	err = s.do(func(st Store) error {
		values, err = st.GetRange(index, count)
		return err
	})
	return values, err
}

func (s *Serialized) Set(index, value uint64) error {
	return s.do(func(st Store) error { return st.Set(index, value) })
}

func (s *Serialized) SetRange(index uint64, values []uint64) error {
	return s.do(func(st Store) error { return st.SetRange(index, values) })
}

func (s *Serialized) Append(values ...uint64) error {
	return s.do(func(st Store) error { return st.Append(values...) })
}

func (s *Serialized) Grow(count uint64) error {
	return s.do(func(st Store) error { return st.Grow(count) })
}

func (s *Serialized) Delete(index uint64) error {
	return s.do(func(st Store) error { return st.Delete(index) })
}

func (s *Serialized) DeleteRange(index, count uint64) error {
	return s.do(func(st Store) error { return st.DeleteRange(index, count) })
}

func (s *Serialized) Compact() error {
	return s.do(func(st Store) error { return st.Compact() })
}

// query runs an error-free read on the owner. It ignores the wait timeout,
// so a busy owner delays the answer instead of turning it into zero.
func (s *Serialized) query(fn func(Store)) {
	if s.closed.Load() {
		return
	}
	_ = s.submit(context.Background(), func(st Store) error {
		fn(st)
		return nil
	}, 0)
}

// Size returns zero once the store is closed.
func (s *Serialized) Size() uint64 {
	var n uint64
	s.query(func(st Store) { n = st.Size() })
	return n
}

func (s *Serialized) Contains(index uint64) bool {
	return index < s.Size()
}

func (s *Serialized) FileSize() int64 {
	var n int64
	s.query(func(st Store) { n = st.FileSize() })
	return n
}

func (s *Serialized) Path() string {
	return s.store.Path()
}

// Close closes the wrapped store on its owner and releases the owner.
func (s *Serialized) Close() error {
	if s.closed.Load() {
		return nil
	}
	err := s.submit(context.Background(), func(st Store) error { return st.Close() }, 0)
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.owner.release()
	return err
}
