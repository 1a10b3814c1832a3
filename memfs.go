package adaptive

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// normalizePath normalizes a path for consistent storage/lookup
// It removes leading slashes and cleans the path
func normalizePath(name string) string {
	name = filepath.Clean(name)
	name = strings.TrimPrefix(name, "/")
	name = strings.TrimPrefix(name, string(filepath.Separator))
	if name == "" || name == "." {
		name = "."
	}
	return name
}

// memFS is a simple in-memory filesystem for tests and dry runs
type memFS struct {
	nodes map[string]*memNode
	mu    sync.RWMutex
}

// NewMemFS creates a new in-memory filesystem
func NewMemFS() *memFS {
	return &memFS{
		nodes: make(map[string]*memNode),
	}
}

type memNode struct {
	name    string
	data    []byte
	mode    fs.FileMode
	modTime time.Time
	mu      sync.Mutex
}

// memFile is an open handle with its own position
type memFile struct {
	node   *memNode
	flag   int
	pos    int64
	closed bool
	mu     sync.Mutex
}

// WriteFile stores data under name, replacing any existing file
func (mfs *memFS) WriteFile(name string, data []byte) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	name = normalizePath(name)
	mfs.nodes[name] = &memNode{
		name:    name,
		data:    append([]byte(nil), data...),
		mode:    0644,
		modTime: time.Now(),
	}
}

// ReadFile returns a copy of the named file's contents
func (mfs *memFS) ReadFile(name string) ([]byte, error) {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()

	name = normalizePath(name)
	node, ok := mfs.nodes[name]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	return append([]byte(nil), node.data...), nil
}

// Mkdir records a directory
func (mfs *memFS) Mkdir(name string, perm fs.FileMode) error {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	name = normalizePath(name)
	if _, exists := mfs.nodes[name]; exists {
		return &fs.PathError{Op: "mkdir", Path: name, Err: fs.ErrExist}
	}
	mfs.nodes[name] = &memNode{name: name, mode: fs.ModeDir | perm, modTime: time.Now()}
	return nil
}

func (mfs *memFS) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	name = normalizePath(name)
	node, exists := mfs.nodes[name]

	if !exists {
		if flag&os.O_CREATE == 0 {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		node = &memNode{name: name, mode: perm, modTime: time.Now()}
		mfs.nodes[name] = node
	} else if flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	}

	if node.mode.IsDir() && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, &fs.PathError{Op: "open", Path: name, Err: errors.New("is a directory")}
	}

	if flag&os.O_TRUNC != 0 {
		node.mu.Lock()
		node.data = node.data[:0]
		node.modTime = time.Now()
		node.mu.Unlock()
	}

	handle := &memFile{node: node, flag: flag}
	if flag&os.O_APPEND != 0 {
		handle.pos = int64(len(node.data))
	}
	return handle, nil
}

func (mfs *memFS) Remove(name string) error {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	name = normalizePath(name)
	if _, exists := mfs.nodes[name]; !exists {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	delete(mfs.nodes, name)
	return nil
}

// Rename moves oldpath to newpath, replacing any file already there
func (mfs *memFS) Rename(oldpath, newpath string) error {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	oldpath = normalizePath(oldpath)
	newpath = normalizePath(newpath)

	node, exists := mfs.nodes[oldpath]
	if !exists {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrNotExist}
	}
	if target, ok := mfs.nodes[newpath]; ok && target.mode.IsDir() {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: errors.New("is a directory")}
	}

	node.mu.Lock()
	node.name = newpath
	node.mu.Unlock()
	mfs.nodes[newpath] = node
	delete(mfs.nodes, oldpath)
	return nil
}

func (mfs *memFS) Stat(name string) (fs.FileInfo, error) {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()

	name = normalizePath(name)
	node, exists := mfs.nodes[name]
	if !exists {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return node.info(), nil
}

// ReadDir lists the files directly under name
func (mfs *memFS) ReadDir(name string) ([]fs.DirEntry, error) {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()

	name = normalizePath(name)
	var entries []fs.DirEntry
	for path, node := range mfs.nodes {
		if path != name && filepath.Dir(path) == name {
			entries = append(entries, fs.FileInfoToDirEntry(node.info()))
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}

func (n *memNode) info() fs.FileInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &memFileInfo{
		name:    filepath.Base(n.name),
		size:    int64(len(n.data)),
		mode:    n.mode,
		modTime: n.modTime,
	}
}

func (mf *memFile) Read(p []byte) (n int, err error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	if mf.closed {
		return 0, fs.ErrClosed
	}
	if mf.flag&os.O_WRONLY != 0 {
		return 0, os.ErrPermission
	}

	mf.node.mu.Lock()
	defer mf.node.mu.Unlock()
	if mf.pos >= int64(len(mf.node.data)) {
		return 0, io.EOF
	}
	n = copy(p, mf.node.data[mf.pos:])
	mf.pos += int64(n)
	return n, nil
}

// ReadAt reads len(b) bytes from the File starting at byte offset off
func (mf *memFile) ReadAt(b []byte, off int64) (n int, err error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	if mf.closed {
		return 0, fs.ErrClosed
	}
	if off < 0 {
		return 0, errors.New("negative offset")
	}

	mf.node.mu.Lock()
	defer mf.node.mu.Unlock()
	if off >= int64(len(mf.node.data)) {
		return 0, io.EOF
	}
	n = copy(b, mf.node.data[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// Write writes at the current position, growing the file as needed
func (mf *memFile) Write(p []byte) (n int, err error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	if mf.closed {
		return 0, fs.ErrClosed
	}
	if mf.flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return 0, os.ErrPermission
	}

	mf.node.mu.Lock()
	defer mf.node.mu.Unlock()
	end := mf.pos + int64(len(p))
	if end > int64(len(mf.node.data)) {
		grown := make([]byte, end)
		copy(grown, mf.node.data)
		mf.node.data = grown
	}
	n = copy(mf.node.data[mf.pos:], p)
	mf.pos += int64(n)
	mf.node.modTime = time.Now()
	return n, nil
}

func (mf *memFile) Close() error {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	mf.closed = true
	return nil
}

func (mf *memFile) Seek(offset int64, whence int) (int64, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	if mf.closed {
		return 0, fs.ErrClosed
	}

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = mf.pos + offset
	case io.SeekEnd:
		mf.node.mu.Lock()
		newPos = int64(len(mf.node.data)) + offset
		mf.node.mu.Unlock()
	default:
		return 0, errors.New("invalid whence")
	}

	if newPos < 0 {
		return 0, errors.New("negative position")
	}
	mf.pos = newPos
	return newPos, nil
}

func (mf *memFile) Stat() (fs.FileInfo, error) {
	return mf.node.info(), nil
}

type memFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (fi *memFileInfo) Name() string       { return fi.name }
func (fi *memFileInfo) Size() int64        { return fi.size }
func (fi *memFileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *memFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *memFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *memFileInfo) Sys() interface{}   { return nil }
