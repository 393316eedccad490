package bufferpool

import (
	"bytes"
	"fmt"
	"io"
)

// FrameInfo is a read-only copy of one frame descriptor.
type FrameInfo struct {
	Frame      int
	Occupied   bool
	File       string
	PageID     uint32
	PinCount   int32
	Dirty      bool
	Referenced bool
}

// Stats summarizes the pool.
type Stats struct {
	Capacity int
	Occupied int
	Pinned   int
	Dirty    int
}

// Snapshot returns the state of every frame in frame order.
func (m *Manager) Snapshot() []FrameInfo {
	out := make([]FrameInfo, len(m.descs))
	for i := range m.descs {
		d := &m.descs[i]
		fi := FrameInfo{
			Frame:      i,
			Occupied:   d.occupied,
			PageID:     d.pageID,
			PinCount:   d.pinCount,
			Dirty:      d.dirty,
			Referenced: d.referenced,
		}
		if d.file != nil {
			fi.File = d.file.Name()
		}
		out[i] = fi
	}
	return out
}

func (m *Manager) Stats() Stats {
	s := Stats{Capacity: len(m.descs)}
	for i := range m.descs {
		d := &m.descs[i]
		if !d.occupied {
			continue
		}
		s.Occupied++
		if d.pinCount > 0 {
			s.Pinned++
		}
		if d.dirty {
			s.Dirty++
		}
	}
	return s
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Fprintf(format string, a ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, a...)
}

// Dump writes one line per frame followed by the number of occupied frames.
func (m *Manager) Dump(w io.Writer) error {
	ew := &errWriter{w: w}
	occupied := 0
	for _, fi := range m.Snapshot() {
		if !fi.Occupied {
			ew.Fprintf("frame=%d valid=false\n", fi.Frame)
			continue
		}
		occupied++
		ew.Fprintf("frame=%d valid=true file=%s page=%d pin=%d dirty=%t ref=%t\n",
			fi.Frame, fi.File, fi.PageID, fi.PinCount, fi.Dirty, fi.Referenced)
	}
	ew.Fprintf("valid frames: %d/%d\n", occupied, len(m.descs))
	return ew.err
}

func (m *Manager) DumpString() string {
	var b bytes.Buffer
	if err := m.Dump(&b); err != nil {
		_, _ = b.WriteString("\n<dump write error: " + err.Error() + ">\n")
	}
	return b.String()
}

// CheckConsistency verifies that the key index and the descriptor table
// describe the same set of resident pages.
func (m *Manager) CheckConsistency() error {
	if m.closed {
		return ErrClosed
	}

	owner := make(map[int]PageTag, m.index.len())
	for tag, idx := range m.index.entries {
		if idx < 0 || idx >= len(m.descs) {
			return fmt.Errorf("%w: page %d maps to frame %d out of range", ErrBadBuffer, tag.PageID, idx)
		}
		if prev, dup := owner[idx]; dup {
			return fmt.Errorf("%w: frame %d claimed by pages %d and %d", ErrBadBuffer, idx, prev.PageID, tag.PageID)
		}
		owner[idx] = tag

		d := &m.descs[idx]
		if !d.occupied || d.file == nil || d.file.ID() != tag.FileID || d.pageID != tag.PageID {
			return fmt.Errorf("%w: index entry for page %d disagrees with frame %d", ErrBadBuffer, tag.PageID, idx)
		}
	}

	for i := range m.descs {
		d := &m.descs[i]
		if d.occupied {
			if _, ok := owner[i]; !ok {
				return fmt.Errorf("%w: frame %d occupied but not indexed", ErrBadBuffer, i)
			}
			continue
		}
		if d.pinCount != 0 || d.dirty || d.file != nil {
			return fmt.Errorf("%w: free frame %d has pin=%d dirty=%t", ErrBadBuffer, i, d.pinCount, d.dirty)
		}
	}
	return nil
}
