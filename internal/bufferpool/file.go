package bufferpool

import "github.com/google/uuid"

// File is the page store the pool caches. Implementations live in
// internal/storage.
type File interface {
	// ID is the identity used in the key index. Two File values with the
	// same ID are the same file.
	ID() uuid.UUID
	Name() string
	PageSize() int

	ReadPage(pageID uint32, dst []byte) error
	WritePage(pageID uint32, src []byte) error
	// AllocatePage reserves a new page and fills dst with its initial content.
	AllocatePage(dst []byte) (uint32, error)
	DeletePage(pageID uint32) error
}

func sameFile(a, b File) bool {
	return a != nil && b != nil && a.ID() == b.ID()
}
