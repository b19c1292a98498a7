package filesystem

import (
	"cmp"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"time"
)

type node struct {
	name     string
	mode     fs.FileMode
	modTime  time.Time
	size     int64
	data     []byte
	reader   io.ReaderAt
	children map[string]*node
}

type treeFS struct {
	mu       *sync.RWMutex
	root     *node
	readOnly bool
}

type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

type treeFile struct {
	tree *treeFS
	node *node
	flag FileFlag
	off  int64
}

type treeDir struct {
	tree *treeFS
	node *node
	read int
}

func NewMemFS() DirFS {
	return &treeFS{mu: new(sync.RWMutex), root: newDirNode("", time.Now())}
}

func newDirNode(name string, modTime time.Time) *node {
	return &node{name: name, mode: fs.ModeDir | 0o755, modTime: modTime, children: make(map[string]*node)}
}

func (n *node) info() *fileInfo {
	size := n.size
	if n.reader == nil {
		size = int64(len(n.data))
	}
	return &fileInfo{name: n.name, size: size, mode: n.mode, modTime: n.modTime}
}

func (n *node) insert(child *node) {
	n.children[strings.ToLower(child.name)] = child
}

func (t *treeFS) Open(name string) (fs.File, error) {
	return Open(t, name)
}

func (t *treeFS) Sub(dir string) (fs.FS, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.lookup(dir)
	if err != nil {
		return nil, err
	} else if !n.mode.IsDir() {
		return nil, ErrNotDirectory
	}
	return &treeFS{mu: t.mu, root: n, readOnly: t.readOnly}, nil
}

func (t *treeFS) Stat(name string) (fs.FileInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	return n.info(), nil
}

func (t *treeFS) OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error) {
	writable := flag&(O_WRONLY|O_RDWR|O_CREATE|O_TRUNC|O_APPEND) != 0
	if writable && t.readOnly {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrReadOnly}
	}
	if writable {
		t.mu.Lock()
		defer t.mu.Unlock()
	} else {
		t.mu.RLock()
		defer t.mu.RUnlock()
	}
	n, err := t.lookup(name)
	switch {
	case err == nil && flag&(O_CREATE|O_EXCL) == O_CREATE|O_EXCL:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	case err == nil:
	case flag&O_CREATE == 0:
		return nil, err
	default:
		dir, base := path.Split(clean(name))
		parent, err := t.lookup(dir)
		if err != nil {
			return nil, err
		} else if !parent.mode.IsDir() {
			return nil, ErrNotDirectory
		}
		n = &node{name: base, mode: perm &^ fs.ModeDir, modTime: time.Now()}
		parent.insert(n)
	}
	if n.mode.IsDir() {
		if writable {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
		}
		return &treeDir{tree: t, node: n}, nil
	}
	f := &treeFile{tree: t, node: n, flag: flag}
	if flag&O_TRUNC != 0 && n.reader == nil {
		n.data = nil
	}
	if flag&O_APPEND != 0 {
		f.off = int64(len(n.data))
	}
	return f, nil
}

func (t *treeFS) ReadDir(name string) ([]fs.DirEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.lookup(name)
	if err != nil {
		return nil, err
	} else if !n.mode.IsDir() {
		return nil, ErrNotDirectory
	}
	return n.entries(), nil
}

func (t *treeFS) Mkdir(name string, perm fs.FileMode) (DirFS, error) {
	if t.readOnly {
		return nil, ErrReadOnly
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.root
	for _, part := range split(name) {
		next, ok := cur.children[strings.ToLower(part)]
		if !ok {
			next = newDirNode(part, time.Now())
			next.mode = fs.ModeDir | perm
			cur.insert(next)
		} else if !next.mode.IsDir() {
			return nil, ErrNotDirectory
		}
		cur = next
	}
	return &treeFS{mu: t.mu, root: cur}, nil
}

func (t *treeFS) lookup(name string) (*node, error) {
	cur := t.root
	for _, part := range split(name) {
		if !cur.mode.IsDir() {
			return nil, &fs.PathError{Op: "lookup", Path: name, Err: ErrNotDirectory}
		}
		next, ok := cur.children[strings.ToLower(part)]
		if !ok {
			return nil, &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrNotExist}
		}
		cur = next
	}
	return cur, nil
}

func (n *node) entries() []fs.DirEntry {
	arr := make([]fs.DirEntry, 0, len(n.children))
	for _, child := range n.children {
		arr = append(arr, fs.FileInfoToDirEntry(child.info()))
	}
	slices.SortFunc(arr, func(a, b fs.DirEntry) int { return cmp.Compare(a.Name(), b.Name()) })
	return arr
}

func (fi *fileInfo) Name() string {
	return fi.name
}

func (fi *fileInfo) Size() int64 {
	return fi.size
}

func (fi *fileInfo) Mode() fs.FileMode {
	return fi.mode
}

func (fi *fileInfo) ModTime() time.Time {
	return fi.modTime
}

func (fi *fileInfo) IsDir() bool {
	return fi.mode.IsDir()
}

func (fi *fileInfo) Sys() any {
	return nil
}

func (f *treeFile) Close() error {
	return nil
}

func (f *treeFile) Stat() (fs.FileInfo, error) {
	f.tree.mu.RLock()
	defer f.tree.mu.RUnlock()
	return f.node.info(), nil
}

func (f *treeFile) Seek(offset int64, whence int) (int64, error) {
	info, _ := f.Stat()
	var off int64
	switch whence {
	case io.SeekStart:
		off = offset
	case io.SeekCurrent:
		off = f.off + offset
	case io.SeekEnd:
		off = info.Size() + offset
	default:
		return 0, fs.ErrInvalid
	}
	if off < 0 {
		return 0, fs.ErrInvalid
	}
	f.off = off
	return off, nil
}

func (f *treeFile) Read(b []byte) (int, error) {
	n, err := f.ReadAt(b, f.off)
	f.off += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (f *treeFile) ReadAt(b []byte, off int64) (int, error) {
	if f.flag&O_WRONLY != 0 {
		return 0, fs.ErrPermission
	}
	if f.node.reader != nil {
		if off >= f.node.size {
			return 0, io.EOF
		}
		n, err := f.node.reader.ReadAt(b[:min(int64(len(b)), f.node.size-off)], off)
		if err == nil && n < len(b) {
			err = io.EOF
		}
		return n, err
	}
	f.tree.mu.RLock()
	defer f.tree.mu.RUnlock()
	if off >= int64(len(f.node.data)) {
		return 0, io.EOF
	}
	n := copy(b, f.node.data[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (f *treeFile) Write(b []byte) (int, error) {
	if f.flag&(O_WRONLY|O_RDWR) == 0 || f.node.reader != nil {
		return 0, fs.ErrPermission
	}
	f.tree.mu.Lock()
	defer f.tree.mu.Unlock()
	data := f.node.data
	if end := f.off + int64(len(b)); end > int64(len(data)) {
		data = append(data, make([]byte, end-int64(len(data)))...)
	}
	n := copy(data[f.off:], b)
	f.node.data = data
	f.node.modTime = time.Now()
	f.off += int64(n)
	return n, nil
}

func (d *treeDir) Close() error {
	return nil
}

func (d *treeDir) Stat() (fs.FileInfo, error) {
	return d.node.info(), nil
}

func (d *treeDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.node.name, Err: fs.ErrInvalid}
}

func (d *treeDir) ReadDir(n int) ([]fs.DirEntry, error) {
	d.tree.mu.RLock()
	all := d.node.entries()
	d.tree.mu.RUnlock()
	rest := all[min(d.read, len(all)):]
	if n <= 0 {
		d.read = len(all)
		return rest, nil
	} else if len(rest) == 0 {
		return nil, io.EOF
	}
	rest = rest[:min(n, len(rest))]
	d.read += len(rest)
	return rest, nil
}

func split(pathname string) []string {
	pathname = clean(pathname)
	if pathname == "" {
		return nil
	}
	return strings.Split(pathname, "/")
}

func clean(pathname string) string {
	pathname = strings.Trim(path.Clean("/"+strings.ReplaceAll(pathname, "\\", "/")), "/")
	return pathname
}
