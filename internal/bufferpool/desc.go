package bufferpool

// frameDesc is the bookkeeping for one frame.
// !occupied implies pinCount == 0, !dirty and file == nil.
type frameDesc struct {
	file       File
	pageID     uint32
	pinCount   int32
	occupied   bool
	referenced bool
	dirty      bool

	// generation changes every time the frame is cleared, so handles
	// taken before can tell the frame no longer holds their page.
	generation uint64
}

// set installs (f, pageID) with the caller's pin.
func (d *frameDesc) set(f File, pageID uint32) {
	d.file = f
	d.pageID = pageID
	d.pinCount = 1
	d.occupied = true
	d.referenced = true
	d.dirty = false
}

func (d *frameDesc) clear() {
	*d = frameDesc{generation: d.generation + 1}
}

func (d *frameDesc) tag() PageTag {
	return PageTag{FileID: d.file.ID(), PageID: d.pageID}
}

func (d *frameDesc) holds(f File, pageID uint32) bool {
	return d.occupied && sameFile(d.file, f) && d.pageID == pageID
}
