package storage

import "encoding/binary"

// Every page starts with its own id so a page read back from disk can be
// checked against the slot it was written to.
const offPageID = 0

// PageIDOf returns the page id stamped in buf.
func PageIDOf(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf[offPageID:])
}

// InitPage zeroes buf and stamps pageID into it.
func InitPage(buf []byte, pageID uint32) {
	clear(buf)
	binary.LittleEndian.PutUint32(buf[offPageID:], pageID)
}

// PayloadOffset is the first byte after the page id stamp.
const PayloadOffset = 4
