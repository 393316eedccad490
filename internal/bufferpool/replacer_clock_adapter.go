package bufferpool

import "github.com/tuannm99/pagecache/pkg/clockx"

// clockFrames exposes the descriptor table to the clock sweep.
type clockFrames []frameDesc

var _ clockx.Frames = clockFrames(nil)

func (t clockFrames) Occupied(id int) bool   { return t[id].occupied }
func (t clockFrames) Pinned(id int) bool     { return t[id].pinCount > 0 }
func (t clockFrames) Referenced(id int) bool { return t[id].referenced }
func (t clockFrames) ClearReferenced(id int) { t[id].referenced = false }
