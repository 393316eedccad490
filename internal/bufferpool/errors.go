package bufferpool

import (
	"errors"
	"fmt"
)

var (
	ErrBufferExceeded   = errors.New("bufferpool: no free frame available (all pinned)")
	ErrPageNotPinned    = errors.New("bufferpool: page is not pinned")
	ErrPagePinned       = errors.New("bufferpool: page is pinned")
	ErrBadBuffer        = errors.New("bufferpool: bad buffer state")
	ErrStaleHandle      = errors.New("bufferpool: stale page handle")
	ErrClosed           = errors.New("bufferpool: manager is closed")
	ErrPageSizeMismatch = errors.New("bufferpool: file page size does not match pool")
)

// PageError carries the file, page and frame an operation failed on.
// It unwraps to one of the sentinel errors above.
type PageError struct {
	Op     string
	File   string
	PageID uint32
	Frame  int
	Err    error
}

func (e *PageError) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("%s %s page %d: %v", e.Op, e.File, e.PageID, e.Err)
	}
	return fmt.Sprintf("%s %s page %d (frame %d): %v", e.Op, e.File, e.PageID, e.Frame, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

func pageErr(op string, f File, pageID uint32, frame int, err error) error {
	name := "<nil>"
	if f != nil {
		name = f.Name()
	}
	return &PageError{Op: op, File: name, PageID: pageID, Frame: frame, Err: err}
}
