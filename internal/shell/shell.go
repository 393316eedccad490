// Package shell interprets line commands against a buffer pool. The
// pagecache binary feeds it from a readline prompt.
package shell

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tuannm99/pagecache/internal/bufferpool"
	"github.com/tuannm99/pagecache/internal/storage"
)

var (
	ErrUsage       = errors.New("shell: usage")
	ErrUnknownFile = errors.New("shell: unknown file")
	ErrUnknownCmd  = errors.New("shell: unknown command")
)

const helpText = `commands:
  open <file>                 open or create a page file
  alloc <file>                allocate a page (stays pinned)
  fetch <file> <page>         pin a page
  unpin <file> <page> [dirty] release one pin
  write <file> <page> <text>  store text in a page
  read <file> <page>          print the text stored in a page
  dispose <file> <page>       delete a page
  flush <file>                write back and drop a file's pages
  files                       list open files
  dump                        print every frame
  stats                       print pool counters
  help                        this text
  quit                        leave
`

type pinKey struct {
	file string
	page uint32
}

// Shell owns a set of named files and the handles pinned from the prompt.
type Shell struct {
	pool     *bufferpool.Manager
	workdir  string
	pageSize int
	log      *zap.Logger

	files map[string]bufferpool.File
	pins  map[pinKey][]*bufferpool.PageHandle
}

// New returns a shell over pool. Files are created under workdir, or kept
// in memory when workdir is empty.
func New(pool *bufferpool.Manager, workdir string, log *zap.Logger) *Shell {
	if log == nil {
		log = zap.NewNop()
	}
	return &Shell{
		pool:     pool,
		workdir:  workdir,
		pageSize: pool.PageSize(),
		log:      log,
		files:    make(map[string]bufferpool.File),
		pins:     make(map[pinKey][]*bufferpool.PageHandle),
	}
}

// Exec runs one command line and writes its output to w. It reports
// whether the shell should stop. Command errors are printed, not returned.
func (s *Shell) Exec(line string, w io.Writer) (quit bool) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}
	if args[0] == "quit" || args[0] == "exit" {
		return true
	}
	if err := s.run(args, w); err != nil {
		s.log.Debug("shell command failed", zap.String("cmd", args[0]), zap.Error(err))
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return false
}

func (s *Shell) run(args []string, w io.Writer) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "help":
		_, err := io.WriteString(w, helpText)
		return err
	case "open":
		return s.open(args, w)
	case "alloc":
		return s.alloc(args, w)
	case "fetch":
		return s.fetch(args, w)
	case "unpin":
		return s.unpin(args, w)
	case "write":
		return s.write(args, w)
	case "read":
		return s.read(args, w)
	case "dispose":
		return s.dispose(args, w)
	case "flush":
		return s.flush(args, w)
	case "files":
		return s.listFiles(w)
	case "dump":
		return s.pool.Dump(w)
	case "stats":
		st := s.pool.Stats()
		_, err := fmt.Fprintf(w, "capacity=%d occupied=%d pinned=%d dirty=%d\n",
			st.Capacity, st.Occupied, st.Pinned, st.Dirty)
		return err
	default:
		return fmt.Errorf("%w %q (try help)", ErrUnknownCmd, cmd)
	}
}

func (s *Shell) file(name string) (bufferpool.File, error) {
	f, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (open it first)", ErrUnknownFile, name)
	}
	return f, nil
}

func (s *Shell) filePage(args []string, n int, usage string) (bufferpool.File, uint32, error) {
	if len(args) < n {
		return nil, 0, fmt.Errorf("%w: %s", ErrUsage, usage)
	}
	f, err := s.file(args[0])
	if err != nil {
		return nil, 0, err
	}
	id, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bad page id %q", ErrUsage, args[1])
	}
	return f, uint32(id), nil
}

func (s *Shell) open(args []string, w io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: open <file>", ErrUsage)
	}
	name := args[0]
	if _, ok := s.files[name]; ok {
		_, err := fmt.Fprintf(w, "%s already open\n", name)
		return err
	}

	var f bufferpool.File
	if s.workdir == "" {
		f = storage.NewMemFile(name, s.pageSize)
	} else {
		pf, err := storage.OpenPageFile(storage.LocalFileSet{Dir: s.workdir, Base: name}, s.pageSize)
		if err != nil {
			return err
		}
		f = pf
	}
	s.files[name] = f
	_, err := fmt.Fprintf(w, "opened %s\n", f.Name())
	return err
}

func (s *Shell) keep(name string, h *bufferpool.PageHandle) {
	k := pinKey{file: name, page: h.PageID()}
	s.pins[k] = append(s.pins[k], h)
}

func (s *Shell) alloc(args []string, w io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: alloc <file>", ErrUsage)
	}
	f, err := s.file(args[0])
	if err != nil {
		return err
	}
	id, h, err := s.pool.AllocPage(f)
	if err != nil {
		return err
	}
	s.keep(args[0], h)
	_, err = fmt.Fprintf(w, "page %d in frame %d\n", id, h.Frame())
	return err
}

func (s *Shell) fetch(args []string, w io.Writer) error {
	f, id, err := s.filePage(args, 2, "fetch <file> <page>")
	if err != nil {
		return err
	}
	h, err := s.pool.Fetch(f, id)
	if err != nil {
		return err
	}
	s.keep(args[0], h)
	_, err = fmt.Fprintf(w, "page %d in frame %d\n", id, h.Frame())
	return err
}

func (s *Shell) unpin(args []string, w io.Writer) error {
	f, id, err := s.filePage(args, 2, "unpin <file> <page> [dirty]")
	if err != nil {
		return err
	}
	dirty := len(args) > 2 && args[2] == "dirty"

	k := pinKey{file: args[0], page: id}
	if hs := s.pins[k]; len(hs) > 0 {
		h := hs[len(hs)-1]
		s.pins[k] = hs[:len(hs)-1]
		if len(s.pins[k]) == 0 {
			delete(s.pins, k)
		}
		err = h.Release(dirty)
	} else {
		err = s.pool.Unpin(f, id, dirty)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "unpinned page %d\n", id)
	return err
}

func (s *Shell) write(args []string, w io.Writer) error {
	f, id, err := s.filePage(args, 3, "write <file> <page> <text>")
	if err != nil {
		return err
	}
	text := strings.Join(args[2:], " ")

	h, err := s.pool.Fetch(f, id)
	if err != nil {
		return err
	}
	data, err := h.Data()
	if err != nil {
		return err
	}
	payload := data[storage.PayloadOffset:]
	if len(text) >= len(payload) {
		_ = h.Release(false)
		return fmt.Errorf("%w: text longer than %d bytes", ErrUsage, len(payload)-1)
	}
	clear(payload)
	copy(payload, text)
	if err := h.Release(true); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "wrote %d bytes to page %d\n", len(text), id)
	return err
}

func (s *Shell) read(args []string, w io.Writer) error {
	f, id, err := s.filePage(args, 2, "read <file> <page>")
	if err != nil {
		return err
	}
	h, err := s.pool.Fetch(f, id)
	if err != nil {
		return err
	}
	data, err := h.Data()
	if err != nil {
		return err
	}
	payload := data[storage.PayloadOffset:]
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	_, err = fmt.Fprintf(w, "%q\n", payload)
	return multierr.Append(err, h.Release(false))
}

func (s *Shell) dispose(args []string, w io.Writer) error {
	f, id, err := s.filePage(args, 2, "dispose <file> <page>")
	if err != nil {
		return err
	}
	if err := s.pool.DisposePage(f, id); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "disposed page %d\n", id)
	return err
}

func (s *Shell) flush(args []string, w io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: flush <file>", ErrUsage)
	}
	f, err := s.file(args[0])
	if err != nil {
		return err
	}
	if err := s.pool.FlushFile(f); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "flushed %s\n", args[0])
	return err
}

func (s *Shell) listFiles(w io.Writer) error {
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", name, s.files[name].ID()); err != nil {
			return err
		}
	}
	return nil
}
