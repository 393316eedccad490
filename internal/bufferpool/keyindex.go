package bufferpool

import (
	"fmt"

	"github.com/google/uuid"
)

// PageTag uniquely identifies a page across all files in the pool.
type PageTag struct {
	FileID uuid.UUID
	PageID uint32
}

func tagOf(f File, pageID uint32) PageTag {
	return PageTag{FileID: f.ID(), PageID: pageID}
}

// keyIndex maps resident pages to their frame.
type keyIndex struct {
	entries map[PageTag]int
}

func newKeyIndex(capacity int) *keyIndex {
	return &keyIndex{entries: make(map[PageTag]int, capacity)}
}

func (ix *keyIndex) lookup(tag PageTag) (int, bool) {
	idx, ok := ix.entries[tag]
	return idx, ok
}

func (ix *keyIndex) insert(tag PageTag, frame int) error {
	if old, ok := ix.entries[tag]; ok {
		return fmt.Errorf("%w: page %d of file %s already in frame %d", ErrBadBuffer, tag.PageID, tag.FileID, old)
	}
	ix.entries[tag] = frame
	return nil
}

func (ix *keyIndex) remove(tag PageTag) {
	delete(ix.entries, tag)
}

func (ix *keyIndex) len() int { return len(ix.entries) }
