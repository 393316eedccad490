package bufferpool

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/pagecache/internal/storage"
)

const testPageSize = 64

var (
	_ File = (*storage.MemFile)(nil)
	_ File = (*storage.PageFile)(nil)
)

// newTestPool creates a pool and an in-memory file with the same page size.
func newTestPool(t *testing.T, capacity int) (*Manager, *storage.MemFile) {
	t.Helper()

	mf := storage.NewMemFile("testtable", testPageSize)
	pool := NewManager(capacity, WithPageSize(testPageSize))
	t.Cleanup(func() { _ = pool.Close() })
	return pool, mf
}

// seedPages allocates n pages directly in the file, bypassing the pool.
func seedPages(t *testing.T, mf *storage.MemFile, n int) []uint32 {
	t.Helper()

	buf := make([]byte, testPageSize)
	ids := make([]uint32, 0, n)
	for range n {
		id, err := mf.AllocatePage(buf)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func frameOf(t *testing.T, pool *Manager, f File, pageID uint32) int {
	t.Helper()

	idx, ok := pool.index.lookup(tagOf(f, pageID))
	require.True(t, ok, "page %d not resident", pageID)
	return idx
}

func mustData(t *testing.T, h *PageHandle) []byte {
	t.Helper()

	data, err := h.Data()
	require.NoError(t, err)
	return data
}

func TestManager_Fetch_LoadsAndPins(t *testing.T) {
	pool, mf := newTestPool(t, 4)
	ids := seedPages(t, mf, 1)

	h1, err := pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	require.Equal(t, ids[0], h1.PageID())
	require.Equal(t, 1, mf.Stats().Reads)

	idx := frameOf(t, pool, mf, ids[0])
	d := pool.descs[idx]
	require.True(t, d.occupied)
	require.Equal(t, int32(1), d.pinCount)
	require.True(t, d.referenced)
	require.False(t, d.dirty)
	require.Equal(t, ids[0], storage.PageIDOf(mustData(t, h1)))

	// A hit pins again and performs no I/O.
	h2, err := pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	require.Equal(t, h1.Frame(), h2.Frame())
	require.Equal(t, int32(2), pool.descs[idx].pinCount)
	require.Equal(t, 1, mf.Stats().Reads)
}

func TestManager_Fetch_HitReturnsLatestContent(t *testing.T) {
	pool, mf := newTestPool(t, 2)
	ids := seedPages(t, mf, 1)

	h, err := pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	mustData(t, h)[storage.PayloadOffset] = 42
	require.NoError(t, h.Release(true))

	h, err = pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	require.Equal(t, byte(42), mustData(t, h)[storage.PayloadOffset])
	require.Equal(t, 1, mf.Stats().Reads)
	require.Empty(t, mf.Writes())
}

func TestManager_Fetch_ReadErrorLeavesFrameFree(t *testing.T) {
	pool, mf := newTestPool(t, 2)
	ids := seedPages(t, mf, 1)

	_, err := pool.Fetch(mf, 999)
	require.ErrorIs(t, err, storage.ErrPageNotFound)

	boom := errors.New("disk on fire")
	mf.FailReads(boom)
	_, err = pool.Fetch(mf, ids[0])
	require.ErrorIs(t, err, boom)

	require.Equal(t, 0, pool.Stats().Occupied)
	require.Zero(t, pool.index.len())
	require.NoError(t, pool.CheckConsistency())
}

func TestManager_Fetch_PageSizeMismatch(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	other := storage.NewMemFile("big", 2*testPageSize)

	_, err := pool.Fetch(other, 1)
	require.ErrorIs(t, err, ErrPageSizeMismatch)

	_, _, err = pool.AllocPage(other)
	require.ErrorIs(t, err, ErrPageSizeMismatch)
	require.Equal(t, 0, other.Stats().Allocs)
}

func TestManager_Unpin(t *testing.T) {
	pool, mf := newTestPool(t, 2)
	ids := seedPages(t, mf, 2)

	// Not resident: no-op.
	require.NoError(t, pool.Unpin(mf, ids[1], true))

	_, err := pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	_, err = pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	idx := frameOf(t, pool, mf, ids[0])

	pool.descs[idx].referenced = false
	require.NoError(t, pool.Unpin(mf, ids[0], true))
	require.Equal(t, int32(1), pool.descs[idx].pinCount)
	require.False(t, pool.descs[idx].referenced, "ref bit is set only when the last pin goes")
	require.True(t, pool.descs[idx].dirty)

	// Dirty is sticky.
	require.NoError(t, pool.Unpin(mf, ids[0], false))
	require.Equal(t, int32(0), pool.descs[idx].pinCount)
	require.True(t, pool.descs[idx].referenced)
	require.True(t, pool.descs[idx].dirty)

	err = pool.Unpin(mf, ids[0], false)
	require.ErrorIs(t, err, ErrPageNotPinned)

	var pe *PageError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "unpin", pe.Op)
	require.Equal(t, "testtable", pe.File)
	require.Equal(t, ids[0], pe.PageID)
	require.Equal(t, idx, pe.Frame)
	require.Equal(t, int32(0), pool.descs[idx].pinCount)
}

func TestManager_CapacityExceeded(t *testing.T) {
	const n = 3
	pool, mf := newTestPool(t, n)
	ids := seedPages(t, mf, n+1)

	for _, id := range ids[:n] {
		_, err := pool.Fetch(mf, id)
		require.NoError(t, err)
	}

	before := pool.Snapshot()
	_, err := pool.Fetch(mf, ids[n])
	require.ErrorIs(t, err, ErrBufferExceeded)
	require.Equal(t, before, pool.Snapshot())

	_, _, err = pool.AllocPage(mf)
	require.ErrorIs(t, err, ErrBufferExceeded)
	require.Equal(t, n+1, mf.Stats().Allocs, "a rejected AllocPage must not grow the file")

	require.NoError(t, pool.Unpin(mf, ids[1], false))
	h, err := pool.Fetch(mf, ids[n])
	require.NoError(t, err)
	require.Equal(t, frameOf(t, pool, mf, ids[n]), h.Frame())

	_, ok := pool.index.lookup(tagOf(mf, ids[1]))
	require.False(t, ok)
	require.NoError(t, pool.CheckConsistency())
}

func TestManager_ClockScenario(t *testing.T) {
	pool, mf := newTestPool(t, 3)

	a, ha, err := pool.AllocPage(mf)
	require.NoError(t, err)
	b, hb, err := pool.AllocPage(mf)
	require.NoError(t, err)
	c, _, err := pool.AllocPage(mf)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, []int{ha.Frame(), hb.Frame(), frameOf(t, pool, mf, c)})

	copy(mustData(t, hb)[storage.PayloadOffset:], "bee")
	require.NoError(t, pool.Unpin(mf, a, false))
	require.NoError(t, pool.Unpin(mf, b, true))

	// Sweep from frame 0: A and B lose their ref bits, C is pinned, then A
	// is the first unreferenced frame.
	d, hd, err := pool.AllocPage(mf)
	require.NoError(t, err)
	require.Equal(t, 0, hd.Frame())
	require.Empty(t, mf.Writes(), "A was clean")
	_, ok := pool.index.lookup(tagOf(mf, a))
	require.False(t, ok)
	require.False(t, ha.Valid())

	// The next sweep starts at frame 1 and takes B, writing it back first.
	e, he, err := pool.AllocPage(mf)
	require.NoError(t, err)
	require.Equal(t, 1, he.Frame())

	w := mf.Writes()
	require.Len(t, w, 1)
	require.Equal(t, b, w[0].PageID)
	require.True(t, bytes.HasPrefix(w[0].Data[storage.PayloadOffset:], []byte("bee")))
	require.Equal(t, e, storage.PageIDOf(mustData(t, he)))

	require.Equal(t, d, storage.PageIDOf(mustData(t, hd)))
	require.NoError(t, pool.CheckConsistency())
}

func TestManager_EvictDirtyFrame(t *testing.T) {
	pool, mf := newTestPool(t, 1)
	ids := seedPages(t, mf, 2)

	h0, err := pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	mustData(t, h0)[10] = 42
	require.NoError(t, h0.Release(true))

	idx := frameOf(t, pool, mf, ids[0])
	require.True(t, pool.descs[idx].dirty)

	// Request page 1, forcing eviction of page 0.
	h1, err := pool.Fetch(mf, ids[1])
	require.NoError(t, err)
	require.Equal(t, ids[1], h1.PageID())

	last, ok := mf.LastWrite(ids[0])
	require.True(t, ok)
	require.Equal(t, byte(42), last[10])
	require.False(t, pool.descs[idx].dirty)
}

func TestManager_EvictWriteFailureKeepsVictim(t *testing.T) {
	pool, mf := newTestPool(t, 1)
	ids := seedPages(t, mf, 2)

	h, err := pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	require.NoError(t, h.Release(true))

	boom := errors.New("write failed")
	mf.FailWrites(boom)
	_, err = pool.Fetch(mf, ids[1])
	require.ErrorIs(t, err, boom)

	idx := frameOf(t, pool, mf, ids[0])
	require.True(t, pool.descs[idx].occupied)
	require.True(t, pool.descs[idx].dirty)
	require.NoError(t, pool.CheckConsistency())

	mf.FailWrites(nil)
	_, err = pool.Fetch(mf, ids[1])
	require.NoError(t, err)
	_, ok := mf.LastWrite(ids[0])
	require.True(t, ok)
}

func TestManager_DisposePage(t *testing.T) {
	pool, mf := newTestPool(t, 2)
	ids := seedPages(t, mf, 2)

	h, err := pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	idx := h.Frame()

	err = pool.DisposePage(mf, ids[0])
	require.ErrorIs(t, err, ErrPagePinned)
	var pe *PageError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, idx, pe.Frame)
	require.True(t, mf.Contains(ids[0]))
	require.Equal(t, int32(1), pool.descs[idx].pinCount)

	// Dirty contents of a disposed page are dropped, not written.
	require.NoError(t, h.Release(true))
	require.NoError(t, pool.DisposePage(mf, ids[0]))
	require.False(t, mf.Contains(ids[0]))
	require.Empty(t, mf.Writes())
	require.False(t, pool.descs[idx].occupied)
	_, ok := pool.index.lookup(tagOf(mf, ids[0]))
	require.False(t, ok)
	require.False(t, h.Valid())

	// A page that was never cached can be disposed.
	require.NoError(t, pool.DisposePage(mf, ids[1]))
	require.False(t, mf.Contains(ids[1]))

	require.ErrorIs(t, pool.DisposePage(mf, ids[1]), storage.ErrPageNotFound)
	require.NoError(t, pool.CheckConsistency())
}

type failDelete struct{ *storage.MemFile }

func (failDelete) DeletePage(uint32) error { return errors.New("delete failed") }

func TestManager_DisposePage_DeleteFailureDropsFrame(t *testing.T) {
	pool, mf := newTestPool(t, 2)
	ids := seedPages(t, mf, 1)
	fd := failDelete{mf}

	h, err := pool.Fetch(fd, ids[0])
	require.NoError(t, err)
	require.NoError(t, h.Release(true))

	require.ErrorContains(t, pool.DisposePage(fd, ids[0]), "delete failed")
	require.Equal(t, 0, pool.Stats().Occupied)
	require.True(t, mf.Contains(ids[0]))
	require.Empty(t, mf.Writes())
	require.NoError(t, pool.CheckConsistency())
}

func TestManager_FlushFile(t *testing.T) {
	pool, mf := newTestPool(t, 4)
	other := storage.NewMemFile("other", testPageSize)
	ids := seedPages(t, mf, 2)
	oids := seedPages(t, other, 1)

	for i, id := range ids {
		h, err := pool.Fetch(mf, id)
		require.NoError(t, err)
		mustData(t, h)[20] = byte(i + 1)
		require.NoError(t, h.Release(i == 0))
	}
	oh, err := pool.Fetch(other, oids[0])
	require.NoError(t, err)

	require.NoError(t, pool.FlushFile(mf))

	// Only the dirty page is written.
	w := mf.Writes()
	require.Len(t, w, 1)
	require.Equal(t, ids[0], w[0].PageID)
	require.Equal(t, byte(1), w[0].Data[20])

	for _, fi := range pool.Snapshot() {
		require.NotEqual(t, "testtable", fi.File)
	}
	require.True(t, oh.Valid())
	require.Equal(t, 1, pool.Stats().Occupied)
	require.NoError(t, pool.CheckConsistency())
}

func TestManager_FlushFile_PinnedChangesNothing(t *testing.T) {
	pool, mf := newTestPool(t, 4)
	ids := seedPages(t, mf, 3)

	for _, id := range ids[:2] {
		h, err := pool.Fetch(mf, id)
		require.NoError(t, err)
		require.NoError(t, h.Release(true))
	}
	_, err := pool.Fetch(mf, ids[2])
	require.NoError(t, err)

	before := pool.Snapshot()
	err = pool.FlushFile(mf)
	require.ErrorIs(t, err, ErrPagePinned)
	require.Equal(t, before, pool.Snapshot())
	require.Empty(t, mf.Writes())
}

// failNthWrite fails the n-th WritePage call and passes every other call
// through.
type failNthWrite struct {
	*storage.MemFile
	n     int
	calls int
}

func (f *failNthWrite) WritePage(pageID uint32, src []byte) error {
	f.calls++
	if f.calls == f.n {
		return errors.New("disk full")
	}
	return f.MemFile.WritePage(pageID, src)
}

func TestManager_FlushFile_WriteFailureChangesNothing(t *testing.T) {
	pool, mf := newTestPool(t, 4)
	ids := seedPages(t, mf, 2)
	ff := &failNthWrite{MemFile: mf, n: 2}

	for _, id := range ids {
		h, err := pool.Fetch(ff, id)
		require.NoError(t, err)
		require.NoError(t, h.Release(true))
	}

	before := pool.Snapshot()
	err := pool.FlushFile(ff)
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, before, pool.Snapshot())
	require.Equal(t, 2, pool.Stats().Dirty)
	require.NoError(t, pool.CheckConsistency())

	// Retrying after the failure flushes both pages.
	require.NoError(t, pool.FlushFile(ff))
	require.Equal(t, 0, pool.Stats().Occupied)
	require.Len(t, mf.Writes(), 3)
}

func TestManager_FlushFile_BadBufferState(t *testing.T) {
	pool, mf := newTestPool(t, 2)

	// A frame that names the file without holding a page.
	pool.descs[1].file = mf
	err := pool.FlushFile(mf)
	require.ErrorIs(t, err, ErrBadBuffer)
	require.ErrorIs(t, pool.CheckConsistency(), ErrBadBuffer)
}

func TestManager_Fetch_BadBufferState(t *testing.T) {
	pool, mf := newTestPool(t, 2)
	ids := seedPages(t, mf, 2)

	h, err := pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	pool.descs[h.Frame()].pageID = ids[1]

	_, err = pool.Fetch(mf, ids[0])
	require.ErrorIs(t, err, ErrBadBuffer)
}

func TestManager_Close_WritesBackDirty(t *testing.T) {
	mf := storage.NewMemFile("testtable", testPageSize)
	pool := NewManager(3, WithPageSize(testPageSize))
	ids := seedPages(t, mf, 3)

	h0, err := pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	mustData(t, h0)[5] = 1
	require.NoError(t, h0.Release(true))

	// Pinned and dirty pages are written too.
	h1, err := pool.Fetch(mf, ids[1])
	require.NoError(t, err)
	mustData(t, h1)[5] = 2
	_, err = pool.Fetch(mf, ids[1])
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(mf, ids[1], true))

	h2, err := pool.Fetch(mf, ids[2])
	require.NoError(t, err)
	require.NoError(t, h2.Release(false))

	require.NoError(t, pool.Close())

	w0, ok := mf.LastWrite(ids[0])
	require.True(t, ok)
	require.Equal(t, byte(1), w0[5])
	w1, ok := mf.LastWrite(ids[1])
	require.True(t, ok)
	require.Equal(t, byte(2), w1[5])
	_, ok = mf.LastWrite(ids[2])
	require.False(t, ok)

	require.NoError(t, pool.Close())
	_, err = pool.Fetch(mf, ids[0])
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, pool.Unpin(mf, ids[0], false), ErrClosed)
	require.ErrorIs(t, pool.FlushFile(mf), ErrClosed)
	require.ErrorIs(t, pool.DisposePage(mf, ids[0]), ErrClosed)
	require.ErrorIs(t, h1.Release(false), ErrClosed)
	_, err = h1.Data()
	require.ErrorIs(t, err, ErrStaleHandle)
}

func TestManager_Close_ReportsAllWriteErrors(t *testing.T) {
	mf := storage.NewMemFile("testtable", testPageSize)
	pool := NewManager(2, WithPageSize(testPageSize))
	ids := seedPages(t, mf, 2)

	for _, id := range ids {
		h, err := pool.Fetch(mf, id)
		require.NoError(t, err)
		require.NoError(t, h.Release(true))
	}

	boom := errors.New("write failed")
	mf.FailWrites(boom)
	err := pool.Close()
	require.ErrorIs(t, err, boom)

	var pe *PageError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "close", pe.Op)
}

func TestNewManager_Defaults(t *testing.T) {
	pool := NewManager(0)
	require.Equal(t, DefaultCapacity, pool.Capacity())
	require.Equal(t, DefaultPageSize, pool.PageSize())
	require.Len(t, pool.arena, DefaultCapacity*DefaultPageSize)
	require.Equal(t, pool.Capacity()-1, pool.clock.Hand())
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := NewMetrics(reg)
	mf := storage.NewMemFile("testtable", testPageSize)
	pool := NewManager(1, WithPageSize(testPageSize), WithMetrics(mt))
	ids := seedPages(t, mf, 2)

	h, err := pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	_, err = pool.Fetch(mf, ids[0])
	require.NoError(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(mt.Pinned))
	require.NoError(t, pool.Unpin(mf, ids[0], false))
	require.NoError(t, h.Release(true))
	require.Equal(t, 0.0, testutil.ToFloat64(mt.Pinned))

	_, err = pool.Fetch(mf, ids[1])
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(mt.Hits))
	require.Equal(t, 2.0, testutil.ToFloat64(mt.Misses))
	require.Equal(t, 2.0, testutil.ToFloat64(mt.Reads))
	require.Equal(t, 1.0, testutil.ToFloat64(mt.Evictions))
	require.Equal(t, 1.0, testutil.ToFloat64(mt.WriteBacks))
	require.Equal(t, 1.0, testutil.ToFloat64(mt.Occupied))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 9, n)
}

func TestManager_Dump(t *testing.T) {
	pool, mf := newTestPool(t, 2)
	ids := seedPages(t, mf, 1)

	_, err := pool.Fetch(mf, ids[0])
	require.NoError(t, err)

	out := pool.DumpString()
	require.Contains(t, out, "frame=0 valid=true file=testtable page=1 pin=1 dirty=false ref=true")
	require.Contains(t, out, "frame=1 valid=false")
	require.Contains(t, out, "valid frames: 1/2")

	require.Equal(t, Stats{Capacity: 2, Occupied: 1, Pinned: 1}, pool.Stats())
}
