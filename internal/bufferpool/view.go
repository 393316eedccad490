package bufferpool

// FileView binds a Manager to one file so callers that only ever touch a
// single relation do not pass it around.
type FileView struct {
	m *Manager
	f File
}

// View returns a file-scoped view backed by m.
func (m *Manager) View(f File) *FileView {
	return &FileView{m: m, f: f}
}

func (v *FileView) File() File { return v.f }

func (v *FileView) Fetch(pageID uint32) (*PageHandle, error) {
	return v.m.Fetch(v.f, pageID)
}

func (v *FileView) Unpin(pageID uint32, dirty bool) error {
	return v.m.Unpin(v.f, pageID, dirty)
}

func (v *FileView) AllocPage() (uint32, *PageHandle, error) {
	return v.m.AllocPage(v.f)
}

func (v *FileView) DisposePage(pageID uint32) error {
	return v.m.DisposePage(v.f, pageID)
}

// Flush writes back and drops every page of THIS file only.
func (v *FileView) Flush() error {
	return v.m.FlushFile(v.f)
}
