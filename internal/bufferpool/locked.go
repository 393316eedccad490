package bufferpool

import (
	"io"
	"sync"
)

// Locked serializes every call to a Manager behind one mutex. Handles
// returned by it read frame memory without the lock; the pin they hold
// keeps the frame in place.
type Locked struct {
	mu sync.Mutex
	m  *Manager
}

func NewLocked(m *Manager) *Locked {
	return &Locked{m: m}
}

func (l *Locked) Fetch(f File, pageID uint32) (*PageHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m.Fetch(f, pageID)
}

func (l *Locked) Unpin(f File, pageID uint32, dirty bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m.Unpin(f, pageID, dirty)
}

// Release drops h's pin under the lock.
func (l *Locked) Release(h *PageHandle, dirty bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return h.Release(dirty)
}

func (l *Locked) AllocPage(f File) (uint32, *PageHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m.AllocPage(f)
}

func (l *Locked) DisposePage(f File, pageID uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m.DisposePage(f, pageID)
}

func (l *Locked) FlushFile(f File) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m.FlushFile(f)
}

func (l *Locked) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m.Stats()
}

func (l *Locked) Dump(w io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m.Dump(w)
}

func (l *Locked) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m.Close()
}
