package storage

import "errors"

const (
	OneGB = 1 << 30 // 1,073,741,824

	SegmentSize = OneGB
	PageSize    = 1 << 13 // 8,192 (8 KiB), default page size
	MinPageSize = 1 << 9  // 512, room for the file header
)

const (
	FileMode0644 = 0o644
	FileMode0755 = 0o755
)

var (
	ErrPageNotFound = errors.New("storage: page not found")
	ErrInvalidPage  = errors.New("storage: invalid page id")
	ErrWrongSize    = errors.New("storage: buffer size != page size")
	ErrBadHeader    = errors.New("storage: bad file header")
	ErrBadPageSize  = errors.New("storage: unsupported page size")
)
