package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

type FileSet interface {
	OpenSegment(segNo int32) (*os.File, error)
}

var _ FileSet = (*LocalFileSet)(nil)

// LocalFileSet represents a local directory + base file name.
// Segments are stored as: Base, Base.1, Base.2, ...
type LocalFileSet struct {
	Dir  string
	Base string
}

func (lfs LocalFileSet) OpenSegment(segNo int32) (*os.File, error) {
	path := filepath.Join(lfs.Dir, SegFileName(lfs.Base, segNo))
	if err := os.MkdirAll(lfs.Dir, FileMode0755); err != nil {
		return nil, err
	}
	// RDWR | CREATE (no truncate)
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
}

func (lfs LocalFileSet) Path() string {
	return filepath.Join(lfs.Dir, lfs.Base)
}

// Header page layout (page 0).
const (
	headerPageID uint32 = 0

	offMagic    = 0
	offPageSize = 4
	offNumPages = 8
	offFreeHead = 12
)

var (
	fileMagic = []byte("PCF1")
	freeMagic = []byte("FREE")
)

// PageFile is a page store over segment files. Page 0 holds the header;
// data pages are 1..numPages-1. Deleted pages form a singly linked free
// list whose head is kept in the header.
type PageFile struct {
	id       uuid.UUID
	fs       FileSet
	name     string
	pageSize int

	numPages uint32 // including the header page
	freeHead uint32 // headerPageID == empty
	free     map[uint32]struct{}
}

// OpenPageFile opens or creates the page file described by lfs. Every call
// returns a file with a fresh identity, even for the same path.
func OpenPageFile(lfs LocalFileSet, pageSize int) (*PageFile, error) {
	return openPageFile(lfs, lfs.Path(), pageSize)
}

func openPageFile(fs FileSet, name string, pageSize int) (*PageFile, error) {
	if pageSize == 0 {
		pageSize = PageSize
	}
	if pageSize < MinPageSize {
		return nil, fmt.Errorf("%w: %d", ErrBadPageSize, pageSize)
	}

	pf := &PageFile{
		id:       uuid.New(),
		fs:       fs,
		name:     name,
		pageSize: pageSize,
		free:     make(map[uint32]struct{}),
	}

	hdr := make([]byte, pageSize)
	if err := pf.readRaw(headerPageID, hdr); err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	// All-zero header: brand new file.
	if bytes.Equal(hdr[offMagic:offMagic+4], make([]byte, 4)) {
		pf.numPages = 1
		if err := pf.writeHeader(); err != nil {
			return nil, fmt.Errorf("init %s: %w", name, err)
		}
		return pf, nil
	}

	if !bytes.Equal(hdr[offMagic:offMagic+4], fileMagic) {
		return nil, fmt.Errorf("open %s: %w: magic %q", name, ErrBadHeader, hdr[offMagic:offMagic+4])
	}
	if got := int(binary.LittleEndian.Uint32(hdr[offPageSize:])); got != pageSize {
		return nil, fmt.Errorf("open %s: %w: page size %d, want %d", name, ErrBadHeader, got, pageSize)
	}
	pf.numPages = binary.LittleEndian.Uint32(hdr[offNumPages:])
	pf.freeHead = binary.LittleEndian.Uint32(hdr[offFreeHead:])
	if pf.numPages == 0 {
		return nil, fmt.Errorf("open %s: %w: zero page count", name, ErrBadHeader)
	}

	if err := pf.loadFreeList(); err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return pf, nil
}

func (pf *PageFile) loadFreeList() error {
	buf := make([]byte, pf.pageSize)
	for next := pf.freeHead; next != headerPageID; {
		if next >= pf.numPages {
			return fmt.Errorf("%w: free page %d out of range", ErrBadHeader, next)
		}
		if _, dup := pf.free[next]; dup {
			return fmt.Errorf("%w: free list cycle at page %d", ErrBadHeader, next)
		}
		if err := pf.readRaw(next, buf); err != nil {
			return err
		}
		if !bytes.Equal(buf[:4], freeMagic) {
			return fmt.Errorf("%w: page %d on free list is live", ErrBadHeader, next)
		}
		pf.free[next] = struct{}{}
		next = binary.LittleEndian.Uint32(buf[4:])
	}
	return nil
}

func (pf *PageFile) ID() uuid.UUID  { return pf.id }
func (pf *PageFile) Name() string   { return pf.name }
func (pf *PageFile) PageSize() int  { return pf.pageSize }
func (pf *PageFile) String() string { return pf.name }

// NumPages returns the number of live data pages.
func (pf *PageFile) NumPages() uint32 {
	return pf.numPages - 1 - uint32(len(pf.free))
}

func (pf *PageFile) pagesPerSegment() int32 {
	// 1 GiB / 8 KiB = 131072 pages per segment with the default page size
	return int32(SegmentSize / pf.pageSize)
}

func (pf *PageFile) locate(pageID uint32) (segNo int32, offset int64) {
	pps := uint32(pf.pagesPerSegment())
	segNo = int32(pageID / pps)
	offset = int64(pageID%pps) * int64(pf.pageSize)
	return segNo, offset
}

// readRaw reads exactly one page into dst. Bytes past the end of the
// segment read as zero.
func (pf *PageFile) readRaw(pageID uint32, dst []byte) (err error) {
	segNo, off := pf.locate(pageID)
	f, err := pf.fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	n, err := f.ReadAt(dst, off)
	if err != nil && err != io.EOF {
		return err
	}
	clear(dst[n:])
	return nil
}

func (pf *PageFile) writeRaw(pageID uint32, src []byte) (err error) {
	segNo, off := pf.locate(pageID)
	f, err := pf.fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	n, err := f.WriteAt(src, off)
	if err != nil {
		return err
	}
	if n != len(src) {
		return io.ErrShortWrite
	}
	return nil
}

func (pf *PageFile) writeHeader() error {
	hdr := make([]byte, pf.pageSize)
	copy(hdr[offMagic:], fileMagic)
	binary.LittleEndian.PutUint32(hdr[offPageSize:], uint32(pf.pageSize))
	binary.LittleEndian.PutUint32(hdr[offNumPages:], pf.numPages)
	binary.LittleEndian.PutUint32(hdr[offFreeHead:], pf.freeHead)
	return pf.writeRaw(headerPageID, hdr)
}

func (pf *PageFile) checkLive(pageID uint32) error {
	if pageID == headerPageID || pageID >= pf.numPages {
		return fmt.Errorf("%s: %w: %d", pf.name, ErrInvalidPage, pageID)
	}
	if _, ok := pf.free[pageID]; ok {
		return fmt.Errorf("%s: %w: %d", pf.name, ErrPageNotFound, pageID)
	}
	return nil
}

func (pf *PageFile) checkSize(buf []byte) error {
	if len(buf) != pf.pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongSize, len(buf), pf.pageSize)
	}
	return nil
}

// ReadPage reads live page pageID into dst.
func (pf *PageFile) ReadPage(pageID uint32, dst []byte) error {
	if err := pf.checkSize(dst); err != nil {
		return err
	}
	if err := pf.checkLive(pageID); err != nil {
		return err
	}
	return pf.readRaw(pageID, dst)
}

// WritePage overwrites live page pageID with src.
func (pf *PageFile) WritePage(pageID uint32, src []byte) error {
	if err := pf.checkSize(src); err != nil {
		return err
	}
	if err := pf.checkLive(pageID); err != nil {
		return err
	}
	return pf.writeRaw(pageID, src)
}

// AllocatePage reserves a page, reusing the free list first, and fills dst
// with its initial content.
func (pf *PageFile) AllocatePage(dst []byte) (uint32, error) {
	if err := pf.checkSize(dst); err != nil {
		return 0, err
	}

	oldNum, oldHead := pf.numPages, pf.freeHead

	var pageID uint32
	if pf.freeHead != headerPageID {
		pageID = pf.freeHead
		if err := pf.readRaw(pageID, dst); err != nil {
			return 0, err
		}
		pf.freeHead = binary.LittleEndian.Uint32(dst[4:])
	} else {
		pageID = pf.numPages
		pf.numPages++
	}

	InitPage(dst, pageID)
	if err := pf.writeRaw(pageID, dst); err != nil {
		pf.numPages, pf.freeHead = oldNum, oldHead
		return 0, err
	}
	if err := pf.writeHeader(); err != nil {
		pf.numPages, pf.freeHead = oldNum, oldHead
		return 0, err
	}
	delete(pf.free, pageID)
	return pageID, nil
}

// DeletePage pushes pageID onto the free list.
func (pf *PageFile) DeletePage(pageID uint32) error {
	if err := pf.checkLive(pageID); err != nil {
		return err
	}

	buf := make([]byte, pf.pageSize)
	copy(buf, freeMagic)
	binary.LittleEndian.PutUint32(buf[4:], pf.freeHead)
	if err := pf.writeRaw(pageID, buf); err != nil {
		return err
	}

	oldHead := pf.freeHead
	pf.freeHead = pageID
	if err := pf.writeHeader(); err != nil {
		pf.freeHead = oldHead
		return err
	}
	pf.free[pageID] = struct{}{}
	return nil
}

// Remove deletes every segment of the file from disk.
func (pf *PageFile) Remove() error {
	lfs, ok := pf.fs.(LocalFileSet)
	if !ok {
		return fmt.Errorf("remove %s: unsupported file set %T", pf.name, pf.fs)
	}
	return RemoveAllSegments(lfs)
}
