package bufferpool

// PageHandle is a pinned reference to a resident page. It stays usable until
// it is released or the frame changes identity.
type PageHandle struct {
	m          *Manager
	frame      int
	generation uint64
	file       File
	pageID     uint32
	released   bool
}

func (m *Manager) handle(idx int) *PageHandle {
	d := &m.descs[idx]
	return &PageHandle{
		m:          m,
		frame:      idx,
		generation: d.generation,
		file:       d.file,
		pageID:     d.pageID,
	}
}

func (h *PageHandle) PageID() uint32 { return h.pageID }
func (h *PageHandle) File() File     { return h.file }
func (h *PageHandle) Frame() int     { return h.frame }

// Valid reports whether Data would succeed. Manager.Unpin does not know about
// handles: a pin dropped through it instead of Release leaves the handle
// valid while any other pin on the page is outstanding.
func (h *PageHandle) Valid() bool {
	if h.released || h.m.closed {
		return false
	}
	d := &h.m.descs[h.frame]
	return d.generation == h.generation && d.holds(h.file, h.pageID) && d.pinCount > 0
}

// Data returns the frame's bytes. Writes through it modify the cached page;
// release with dirty=true to have them written back.
func (h *PageHandle) Data() ([]byte, error) {
	if !h.Valid() {
		return nil, pageErr("data", h.file, h.pageID, h.frame, ErrStaleHandle)
	}
	return h.m.frame(h.frame), nil
}

// Release drops the pin this handle holds. A handle can be released once.
func (h *PageHandle) Release(dirty bool) error {
	if h.released {
		return pageErr("release", h.file, h.pageID, h.frame, ErrStaleHandle)
	}
	h.released = true
	if h.m.closed {
		return ErrClosed
	}
	d := &h.m.descs[h.frame]
	if d.generation != h.generation {
		return pageErr("release", h.file, h.pageID, h.frame, ErrStaleHandle)
	}
	return h.m.Unpin(h.file, h.pageID, dirty)
}
