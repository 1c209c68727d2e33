// Package manuscript stores variable-length pages of words on top of three
// word files kept in one directory:
//
//	index.parchment      (offset, length) pair per page number
//	pages.parchment      header word followed by the page payloads
//	recycling.parchment  (offset, length) pair per deleted page
//
// Offsets and lengths are in words and relative to the payload, which starts
// at word 1 of pages.parchment. Pages are only ever appended; deleted ranges
// are tombstoned and never reused.
package manuscript

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"parchment/pkg/metrics"
	"parchment/pkg/words"
)

const (
	IndexFile     = "index.parchment"
	PagesFile     = "pages.parchment"
	RecyclingFile = "recycling.parchment"
)

// Files lists the files making up a manuscript directory.
var Files = []string{IndexFile, PagesFile, RecyclingFile}

// Header values written to word 0 of a new pages file.
const (
	HeaderLittleEndian uint64 = 1
	HeaderBigEndian    uint64 = 2
)

func localByteOrder() uint64 {
	var marker [2]byte
	binary.NativeEndian.PutUint16(marker[:], 1)
	if marker[0] == 1 {
		return HeaderLittleEndian
	}
	return HeaderBigEndian
}

type options struct {
	backend       words.Backend
	cacheCapacity int
	waitTimeout   time.Duration
	log           *slog.Logger
	metrics       metrics.Collector
}

type Option func(*options)

// WithBackend selects the word store backend. Mapped is the default.
func WithBackend(b words.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithCacheCapacity bounds the number of cached pages.
func WithCacheCapacity(n int) Option {
	return func(o *options) { o.cacheCapacity = n }
}

// WithWaitTimeout bounds how long an operation waits for a file owner.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) { o.waitTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(c metrics.Collector) Option {
	return func(o *options) {
		if c != nil {
			o.metrics = c
		}
	}
}

// Manuscript is a page store. All methods are safe for concurrent use.
type Manuscript struct {
	dir    string
	header uint64

	// mu orders manuscript-level operations, each of which touches
	// several stores.
	mu     sync.Mutex
	pages  *words.Serialized
	index  *Index
	bin    *RecyclingBin
	cache  *pageCache
	closed bool

	stores  []*words.Serialized
	log     *slog.Logger
	metrics metrics.Collector
}

// Open opens the manuscript in dir, creating the directory and its files
// when missing.
func Open(dir string, opts ...Option) (*Manuscript, error) {
	o := options{
		backend: words.BackendMapped,
		log:     slog.Default(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if !words.Exists(dir) {
		if err := words.CreateDir(dir); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCouldNotCreateDirectory, err)
		}
	}

	wopts := []words.Option{words.WithLogger(o.log), words.WithWaitTimeout(o.waitTimeout)}
	pagesPath := filepath.Join(dir, PagesFile)

	header, err := readHeader(o.backend, pagesPath, wopts)
	if err != nil {
		return nil, err
	}

	m := &Manuscript{
		dir:     dir,
		header:  header,
		cache:   newPageCache(o.cacheCapacity),
		log:     o.log.With("manuscript", dir),
		metrics: o.metrics,
	}

	m.pages, err = words.OpenSerialized(o.backend, pagesPath, words.From(1), wopts...)
	if err != nil {
		return nil, fmt.Errorf("open pages: %w", err)
	}
	m.stores = append(m.stores, m.pages)

	indexStore, err := m.openRecords(o.backend, filepath.Join(dir, IndexFile), wopts)
	if err != nil {
		m.closeStores()
		return nil, fmt.Errorf("open index: %w", err)
	}
	m.index = NewIndex(indexStore)

	recyclingStore, err := m.openRecords(o.backend, filepath.Join(dir, RecyclingFile), wopts)
	if err != nil {
		m.closeStores()
		return nil, fmt.Errorf("open recycling: %w", err)
	}
	m.bin, err = openRecyclingBin(NewIndex(recyclingStore), m.log)
	if err != nil {
		m.closeStores()
		return nil, err
	}

	if next, err := m.nextOffset(); err == nil && next != m.pages.Size() {
		m.log.Warn("index and pages store disagree, appends will fail",
			"index_end", next, "payload_words", m.pages.Size())
	}

	m.metrics.SetGauge("parchment_pages", nil, float64(m.index.Len()))
	m.log.Info("manuscript opened", "pages", m.index.Len(), "recycled", m.bin.Len(), "backend", string(o.backend))
	return m, nil
}

// readHeader returns word 0 of the pages file, writing the local byte-order
// marker when the file does not exist yet.
func readHeader(b words.Backend, path string, wopts []words.Option) (uint64, error) {
	var (
		s   words.Store
		err error
	)
	if words.Exists(path) {
		s, err = words.Open(b, path, words.Span(0, 1), wopts...)
	} else {
		s, err = words.Create(b, path, localByteOrder(), wopts...)
	}
	if err != nil {
		return 0, fmt.Errorf("open pages header: %w", err)
	}
	defer s.Close()

	header, err := s.Get(0)
	if err != nil {
		return 0, fmt.Errorf("read pages header: %w", err)
	}
	return header, nil
}

func (m *Manuscript) openRecords(b words.Backend, path string, wopts []words.Option) (*words.Serialized, error) {
	s, err := words.OpenOrCreate(b, path, wopts...)
	if err != nil {
		return nil, err
	}
	if s.Size()%entryWords != 0 {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %s holds %d words", ErrIndexOutOfSync, path, s.Size())
	}
	ser := words.Serialize(s, wopts...)
	m.stores = append(m.stores, ser)
	return ser, nil
}

func (m *Manuscript) closeStores() error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.stores = nil
	return errors.Join(errs...)
}

// Dir returns the manuscript directory.
func (m *Manuscript) Dir() string { return m.dir }

// Header returns the byte-order marker stored in word 0 of the pages file.
func (m *Manuscript) Header() uint64 { return m.header }

// Bin returns the recycling bin.
func (m *Manuscript) Bin() *RecyclingBin { return m.bin }

// Recycled returns the recycled entries ordered by size.
func (m *Manuscript) Recycled() []IndexEntry { return m.bin.Entries() }

// Len returns the number of index entries, deleted pages included.
func (m *Manuscript) Len() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	return m.index.Len()
}

// Get returns page number. A cached page is returned as long as it has not
// been recycled; otherwise the index is consulted and the resolved range
// must not overlap any other live cached page.
func (m *Manuscript) Get(number uint64) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.get(number)
	m.observe("get", err)
	return p, err
}

func (m *Manuscript) get(number uint64) (Page, error) {
	if m.closed {
		return Page{}, ErrClosed
	}

	if p, ok := m.cache.get(number); ok {
		if m.bin.Contains(p.offset) {
			return Page{}, fmt.Errorf("%w: page %d", ErrPageDeleted, number)
		}
		return p, nil
	}

	e, err := m.index.Get(number)
	if err != nil {
		return Page{}, err
	}
	if e.Length == 0 || m.bin.Contains(e.Offset) {
		return Page{}, fmt.Errorf("%w: page %d", ErrPageDeleted, number)
	}

	p, err := m.page(e)
	if err != nil {
		return Page{}, err
	}

	live := func(c Page) bool { return !m.bin.Contains(c.offset) }
	if other, ok := m.cache.overlapping(p, live); ok {
		return Page{}, fmt.Errorf("%w: %s overlaps %s", ErrPageConflict, p, other)
	}

	m.cache.put(p)
	return p, nil
}

// page builds a handle for e, checking its range against the pages store.
func (m *Manuscript) page(e IndexEntry) (Page, error) {
	if size := m.pages.Size(); e.End() > size || e.End() < e.Offset {
		return Page{}, fmt.Errorf("%w: %s, payload holds %d words", ErrInvalidPage, e, size)
	}
	return Page{m: m, number: e.Number, offset: e.Offset, length: e.Length}, nil
}

func (m *Manuscript) nextOffset() (uint64, error) {
	n := m.index.Len()
	if n == 0 {
		return 0, nil
	}
	last, err := m.index.Get(n - 1)
	if err != nil {
		return 0, err
	}
	return last.End(), nil
}

// Append writes np after the last page and registers it under the next page
// number.
func (m *Manuscript) Append(np NewPage) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.append(np)
	m.observe("append", err)
	if err == nil {
		m.metrics.SetGauge("parchment_pages", nil, float64(m.index.Len()))
		m.metrics.ObserveHistogram("parchment_page_words", nil, float64(p.length))
	}
	return p, err
}

func (m *Manuscript) append(np NewPage) (Page, error) {
	if m.closed {
		return Page{}, ErrClosed
	}
	if np.Len() == 0 {
		return Page{}, ErrEmptyPage
	}
	for _, v := range np.Values {
		if v == words.Tombstone {
			return Page{}, words.ErrReservedValueNotAllowed
		}
	}

	offset, err := m.nextOffset()
	if err != nil {
		return Page{}, err
	}
	if size := m.pages.Size(); size != offset {
		return Page{}, fmt.Errorf("%w: next page at %d, payload holds %d words", ErrIndexOutOfSync, offset, size)
	}

	if err := m.pages.Append(np.Values...); err != nil {
		return Page{}, fmt.Errorf("write page: %w", err)
	}

	p := Page{m: m, offset: offset, length: np.Len()}
	number, err := m.index.AppendPage(p)
	if err != nil {
		m.log.Error("page written but not indexed", "offset", offset, "length", p.length, "error", err)
		return Page{}, err
	}
	p.number = number

	m.cache.put(p)
	m.log.Debug("page appended", "number", number, "offset", offset, "length", p.length)
	return p, nil
}

// Delete evicts p from the cache and recycles its range. Deleting a page
// twice is a no-op.
func (m *Manuscript) Delete(p Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.delete(p)
	m.observe("delete", err)
	return err
}

func (m *Manuscript) delete(p Page) error {
	if m.closed {
		return ErrClosed
	}
	if p.m != m {
		return fmt.Errorf("%w: page %d does not belong to %s", ErrInvalidPage, p.number, m.dir)
	}

	m.cache.remove(p.number)
	return m.bin.Recycle(p)
}

// SetEntry rewrites the index entry e.Number. Cached pages are left as
// they are.
func (m *Manuscript) SetEntry(e IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return m.index.Set(e)
}

// Entry returns the raw index entry for number without any tombstone or
// overlap checks.
func (m *Manuscript) Entry(number uint64) (IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return IndexEntry{}, ErrClosed
	}
	return m.index.Get(number)
}

// EntryStatus is an index entry together with its recycling state.
type EntryStatus struct {
	IndexEntry
	Deleted bool `json:"deleted"`
}

// Entries lists every index entry in number order.
func (m *Manuscript) Entries() ([]EntryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	n := m.index.Len()
	out := make([]EntryStatus, 0, n)
	for i := uint64(0); i < n; i++ {
		e, err := m.index.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, EntryStatus{
			IndexEntry: e,
			Deleted:    e.Length == 0 || m.bin.Contains(e.Offset),
		})
	}
	return out, nil
}

// Evict drops number from the page cache.
func (m *Manuscript) Evict(number uint64) bool {
	return m.cache.remove(number)
}

// Cached returns the number of pages in the cache.
func (m *Manuscript) Cached() int {
	return m.cache.len()
}

// At returns page i, or a placeholder page when it cannot be resolved. The
// fallback hides deleted pages and I/O errors alike; use Get when the
// error matters.
func (m *Manuscript) At(i uint64) Page {
	p, err := m.Get(i)
	if err != nil {
		return Page{number: i}
	}
	return p
}

// Pages yields pages in ascending number order, ending at the first page
// that cannot be resolved, a deleted one included.
func (m *Manuscript) Pages() iter.Seq2[uint64, Page] {
	return func(yield func(uint64, Page) bool) {
		for i := uint64(0); i < m.Len(); i++ {
			p, err := m.Get(i)
			if err != nil || !yield(i, p) {
				return
			}
		}
	}
}

// Backward yields pages in descending number order with the same early
// termination as Pages.
func (m *Manuscript) Backward() iter.Seq2[uint64, Page] {
	return func(yield func(uint64, Page) bool) {
		for i := m.Len(); i > 0; i-- {
			p, err := m.Get(i - 1)
			if err != nil || !yield(i-1, p) {
				return
			}
		}
	}
}

func (m *Manuscript) read(p Page) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.bin.Contains(p.offset) {
		return nil, fmt.Errorf("%w: page %d", ErrPageDeleted, p.number)
	}
	values, err := m.pages.GetRange(p.offset, p.length)
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", p.number, err)
	}
	return values, nil
}

// Freeze runs fn with the manuscript directory while no other operation on
// the manuscript can run.
func (m *Manuscript) Freeze(fn func(dir string) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return fn(m.dir)
}

// Close releases every store. It is safe to call more than once.
func (m *Manuscript) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.cache.clear()

	err := m.closeStores()
	if err != nil {
		m.log.Warn("failed to close manuscript stores", "error", err)
	}
	m.log.Info("manuscript closed")
	return err
}

func (m *Manuscript) observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrPageDeleted):
		result = "deleted"
	case errors.Is(err, ErrPageConflict):
		result = "conflict"
	default:
		result = "error"
	}
	m.metrics.IncCounter("parchment_manuscript_ops_total", map[string]string{"op": op, "result": result}, 1)
}

// ParseNumber parses a decimal page number.
func ParseNumber(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid page number %q: %w", s, err)
	}
	return n, nil
}
