package storage

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// IOStats counts the calls a MemFile served.
type IOStats struct {
	Reads   int
	Writes  int
	Allocs  int
	Deletes int
}

// WriteRecord is one successful WritePage call.
type WriteRecord struct {
	PageID uint32
	Data   []byte
}

// MemFile is an in-memory page store. It records every call so callers can
// assert exactly which I/O a cache performed.
type MemFile struct {
	id       uuid.UUID
	name     string
	pageSize int

	pages map[uint32][]byte
	next  uint32

	stats    IOStats
	writes   []WriteRecord
	readErr  error
	writeErr error
}

// NewMemFile returns an empty store. Page ids start at 1 like PageFile.
func NewMemFile(name string, pageSize int) *MemFile {
	if pageSize <= 0 {
		pageSize = PageSize
	}
	return &MemFile{
		id:       uuid.New(),
		name:     name,
		pageSize: pageSize,
		pages:    make(map[uint32][]byte),
		next:     1,
	}
}

func (m *MemFile) ID() uuid.UUID  { return m.id }
func (m *MemFile) Name() string   { return m.name }
func (m *MemFile) PageSize() int  { return m.pageSize }
func (m *MemFile) String() string { return m.name }

func (m *MemFile) Stats() IOStats { return m.stats }

// Writes returns the write log in call order.
func (m *MemFile) Writes() []WriteRecord { return slices.Clone(m.writes) }

// LastWrite returns the bytes of the latest write of pageID.
func (m *MemFile) LastWrite(pageID uint32) ([]byte, bool) {
	for i := len(m.writes) - 1; i >= 0; i-- {
		if m.writes[i].PageID == pageID {
			return m.writes[i].Data, true
		}
	}
	return nil, false
}

// Contains reports whether pageID is allocated.
func (m *MemFile) Contains(pageID uint32) bool {
	_, ok := m.pages[pageID]
	return ok
}

// FailReads makes every later ReadPage return err; nil restores reads.
func (m *MemFile) FailReads(err error) { m.readErr = err }

// FailWrites makes every later WritePage return err; nil restores writes.
func (m *MemFile) FailWrites(err error) { m.writeErr = err }

func (m *MemFile) lookup(pageID uint32, buf []byte) ([]byte, error) {
	if len(buf) != m.pageSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongSize, len(buf), m.pageSize)
	}
	p, ok := m.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %d", m.name, ErrPageNotFound, pageID)
	}
	return p, nil
}

func (m *MemFile) ReadPage(pageID uint32, dst []byte) error {
	p, err := m.lookup(pageID, dst)
	if err != nil {
		return err
	}
	if m.readErr != nil {
		return m.readErr
	}
	m.stats.Reads++
	copy(dst, p)
	return nil
}

func (m *MemFile) WritePage(pageID uint32, src []byte) error {
	p, err := m.lookup(pageID, src)
	if err != nil {
		return err
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.stats.Writes++
	copy(p, src)
	m.writes = append(m.writes, WriteRecord{PageID: pageID, Data: slices.Clone(src)})
	return nil
}

func (m *MemFile) AllocatePage(dst []byte) (uint32, error) {
	if len(dst) != m.pageSize {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrWrongSize, len(dst), m.pageSize)
	}
	pageID := m.next
	m.next++

	p := make([]byte, m.pageSize)
	InitPage(p, pageID)
	m.pages[pageID] = p
	copy(dst, p)
	m.stats.Allocs++
	return pageID, nil
}

func (m *MemFile) DeletePage(pageID uint32) error {
	if _, ok := m.pages[pageID]; !ok {
		return fmt.Errorf("%s: %w: %d", m.name, ErrPageNotFound, pageID)
	}
	delete(m.pages, pageID)
	m.stats.Deletes++
	return nil
}
