package bufferpool

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tuannm99/pagecache/internal/storage"
	"github.com/tuannm99/pagecache/pkg/clockx"
)

var (
	DefaultCapacity = 128
	DefaultPageSize = storage.PageSize
)

// Manager caches fixed-size pages of many files in a fixed set of frames
// and evicts with the clock algorithm.
//
// A Manager is not safe for concurrent use; see Locked.
type Manager struct {
	pageSize int
	arena    []byte      // capacity * pageSize, frame i at [i*pageSize, (i+1)*pageSize)
	descs    []frameDesc // len == capacity
	index    *keyIndex
	clock    *clockx.Clock

	log     *zap.Logger
	metrics *Metrics
	closed  bool
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithPageSize sets the frame size. Every file used with the pool must have
// this page size.
func WithPageSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

func NewManager(capacity int, opts ...Option) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	m := &Manager{
		pageSize: DefaultPageSize,
		descs:    make([]frameDesc, capacity),
		index:    newKeyIndex(capacity),
		clock:    clockx.New(capacity),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	m.arena = make([]byte, capacity*m.pageSize)
	m.log.Info("bufferpool initialized",
		zap.Int("capacity", capacity),
		zap.Int("page_size", m.pageSize))
	return m
}

func (m *Manager) Capacity() int { return len(m.descs) }
func (m *Manager) PageSize() int { return m.pageSize }

func (m *Manager) frame(idx int) []byte {
	lo := idx * m.pageSize
	hi := lo + m.pageSize
	return m.arena[lo:hi:hi]
}

func (m *Manager) checkFile(op string, f File, pageID uint32) error {
	if m.closed {
		return ErrClosed
	}
	if f.PageSize() != m.pageSize {
		return pageErr(op, f, pageID, -1,
			fmt.Errorf("%w: %d != %d", ErrPageSizeMismatch, f.PageSize(), m.pageSize))
	}
	return nil
}

// allocFrame returns a free frame, evicting the clock's victim if needed.
func (m *Manager) allocFrame() (int, error) {
	idx, victim, ok := m.clock.Next(clockFrames(m.descs))
	if !ok {
		return -1, fmt.Errorf("%w: %d frames", ErrBufferExceeded, len(m.descs))
	}
	if !victim {
		return idx, nil
	}

	d := &m.descs[idx]
	tag := d.tag()
	// Drop the mapping before the frame changes identity.
	m.index.remove(tag)

	if d.dirty {
		if err := d.file.WritePage(d.pageID, m.frame(idx)); err != nil {
			// Keep the victim resident and dirty.
			if ierr := m.index.insert(tag, idx); ierr != nil {
				err = multierr.Append(err, ierr)
			}
			return -1, pageErr("evict", d.file, d.pageID, idx, err)
		}
		m.metrics.WriteBacks.Inc()
	}

	m.log.Debug("bufferpool evict",
		zap.String("file", d.file.Name()),
		zap.Uint32("page", d.pageID),
		zap.Int("frame", idx),
		zap.Bool("dirty", d.dirty))

	d.clear()
	m.metrics.Evictions.Inc()
	m.metrics.Occupied.Dec()
	return idx, nil
}

// install maps (f, pageID) to the free frame idx with one pin.
func (m *Manager) install(f File, pageID uint32, idx int) (*PageHandle, error) {
	if err := m.index.insert(tagOf(f, pageID), idx); err != nil {
		m.log.Error("bufferpool index insert", zap.Error(err))
		return nil, pageErr("install", f, pageID, idx, err)
	}
	d := &m.descs[idx]
	d.set(f, pageID)
	m.metrics.Occupied.Inc()
	m.metrics.Pinned.Inc()
	return m.handle(idx), nil
}

// Fetch pins page pageID of f and returns a handle to its frame, reading the
// page from f on a miss.
func (m *Manager) Fetch(f File, pageID uint32) (*PageHandle, error) {
	if err := m.checkFile("fetch", f, pageID); err != nil {
		return nil, err
	}

	// 1) HIT
	if idx, ok := m.index.lookup(tagOf(f, pageID)); ok {
		d := &m.descs[idx]
		if !d.holds(f, pageID) {
			m.log.Error("bufferpool index points at foreign frame",
				zap.String("file", f.Name()), zap.Uint32("page", pageID), zap.Int("frame", idx))
			return nil, pageErr("fetch", f, pageID, idx, ErrBadBuffer)
		}
		d.referenced = true
		if d.pinCount == 0 {
			m.metrics.Pinned.Inc()
		}
		d.pinCount++
		m.metrics.Hits.Inc()
		return m.handle(idx), nil
	}

	// 2) MISS
	m.metrics.Misses.Inc()
	idx, err := m.allocFrame()
	if err != nil {
		return nil, err
	}
	if err := f.ReadPage(pageID, m.frame(idx)); err != nil {
		// The frame stays free.
		return nil, pageErr("fetch", f, pageID, idx, err)
	}
	m.metrics.Reads.Inc()
	return m.install(f, pageID, idx)
}

// Unpin releases one pin of page pageID of f. A page that is not resident is
// ignored.
func (m *Manager) Unpin(f File, pageID uint32, dirty bool) error {
	if m.closed {
		return ErrClosed
	}
	idx, ok := m.index.lookup(tagOf(f, pageID))
	if !ok {
		return nil
	}
	d := &m.descs[idx]
	if d.pinCount == 0 {
		return pageErr("unpin", f, pageID, idx, ErrPageNotPinned)
	}

	d.pinCount--
	if d.pinCount == 0 {
		d.referenced = true
		m.metrics.Pinned.Dec()
	}
	if dirty {
		d.dirty = true
	}
	return nil
}

// AllocPage allocates a new page in f and returns it pinned.
func (m *Manager) AllocPage(f File) (uint32, *PageHandle, error) {
	if err := m.checkFile("alloc", f, 0); err != nil {
		return 0, nil, err
	}

	// Take the frame first so a full pool does not grow the file.
	idx, err := m.allocFrame()
	if err != nil {
		return 0, nil, err
	}
	pageID, err := f.AllocatePage(m.frame(idx))
	if err != nil {
		return 0, nil, pageErr("alloc", f, 0, idx, err)
	}
	h, err := m.install(f, pageID, idx)
	if err != nil {
		return 0, nil, err
	}
	m.metrics.Allocs.Inc()
	return pageID, h, nil
}

// DisposePage drops page pageID of f from the pool and deletes it from f.
// Cached contents are discarded, even if dirty.
func (m *Manager) DisposePage(f File, pageID uint32) error {
	if m.closed {
		return ErrClosed
	}
	if idx, ok := m.index.lookup(tagOf(f, pageID)); ok {
		d := &m.descs[idx]
		if d.pinCount != 0 {
			return pageErr("dispose", d.file, d.pageID, idx, ErrPagePinned)
		}
		m.index.remove(d.tag())
		d.clear()
		m.metrics.Occupied.Dec()
	}

	// The frame is already gone; a failed delete leaves the page on disk only.
	if err := f.DeletePage(pageID); err != nil {
		return pageErr("dispose", f, pageID, -1, err)
	}
	m.metrics.Disposals.Inc()
	return nil
}

// FlushFile writes back every dirty page of f and drops all of f's pages
// from the pool. If any page of f is pinned nothing is flushed.
func (m *Manager) FlushFile(f File) error {
	if m.closed {
		return ErrClosed
	}

	// First pass: every frame of f must be evictable.
	for i := range m.descs {
		d := &m.descs[i]
		if !sameFile(d.file, f) {
			continue
		}
		if d.pinCount > 0 {
			return pageErr("flush", d.file, d.pageID, i, ErrPagePinned)
		}
		if !d.occupied {
			m.log.Error("bufferpool frame owned by file but not occupied",
				zap.String("file", f.Name()), zap.Int("frame", i))
			return pageErr("flush", d.file, d.pageID, i,
				fmt.Errorf("%w: dirty=%t valid=false ref=%t", ErrBadBuffer, d.dirty, d.referenced))
		}
	}

	// Second pass: write back. A failure leaves every frame as it was.
	for i := range m.descs {
		d := &m.descs[i]
		if !sameFile(d.file, f) || !d.dirty {
			continue
		}
		if err := d.file.WritePage(d.pageID, m.frame(i)); err != nil {
			return pageErr("flush", d.file, d.pageID, i, err)
		}
		m.metrics.WriteBacks.Inc()
	}

	// Third pass: drop the file's frames.
	flushed := 0
	for i := range m.descs {
		d := &m.descs[i]
		if !sameFile(d.file, f) {
			continue
		}
		m.index.remove(d.tag())
		d.clear()
		m.metrics.Occupied.Dec()
		flushed++
	}

	m.log.Debug("bufferpool flush file",
		zap.String("file", f.Name()),
		zap.Int("frames", flushed))
	return nil
}

// Close writes back every dirty resident page regardless of pins and
// releases the pool. Later calls return ErrClosed; Close itself runs once.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}

	var err error
	for i := range m.descs {
		d := &m.descs[i]
		if !d.occupied || !d.dirty {
			continue
		}
		if werr := d.file.WritePage(d.pageID, m.frame(i)); werr != nil {
			err = multierr.Append(err, pageErr("close", d.file, d.pageID, i, werr))
			continue
		}
		d.dirty = false
		m.metrics.WriteBacks.Inc()
	}

	m.closed = true
	m.arena = nil
	m.descs = nil
	m.index = nil
	m.metrics.Occupied.Set(0)
	m.metrics.Pinned.Set(0)

	if err != nil {
		m.log.Error("bufferpool close", zap.Error(err))
	} else {
		m.log.Info("bufferpool closed")
	}
	return err
}
