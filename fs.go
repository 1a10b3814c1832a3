package adaptive

import (
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/absfs/absfs"
	"github.com/pkg/errors"
)

// FileSystem is the storage the engine reads inputs from and writes
// containers to.
type FileSystem interface {
	OpenFile(name string, flag int, perm fs.FileMode) (File, error)
	Stat(name string) (fs.FileInfo, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
}

// File is an open file on a FileSystem.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Stat() (fs.FileInfo, error)
}

// OSFS returns a FileSystem backed by the host filesystem.
func OSFS() FileSystem {
	return osFS{}
}

type osFS struct{}

func (osFS) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (osFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (osFS) Remove(name string) error { return os.Remove(name) }

func (osFS) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

// FromAbsFS adapts any absfs.Filer so containers can live on it.
func FromAbsFS(filer absfs.Filer) FileSystem {
	return absFS{filer: filer}
}

type absFS struct {
	filer absfs.Filer
}

func (a absFS) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	f, err := a.filer.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (a absFS) Stat(name string) (fs.FileInfo, error) { return a.filer.Stat(name) }

func (a absFS) Remove(name string) error { return a.filer.Remove(name) }

func (a absFS) Rename(oldpath, newpath string) error { return a.filer.Rename(oldpath, newpath) }

func openRead(fsys FileSystem, name string) (File, error) {
	return fsys.OpenFile(name, os.O_RDONLY, 0)
}

func createFile(fsys FileSystem, name string) (File, error) {
	return fsys.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

// createTemp opens a new hidden file next to name. The caller renames it
// over name once the content is complete, or removes it.
func createTemp(fsys FileSystem, name string) (File, string, error) {
	dir, base := filepath.Split(name)
	for range 16 {
		tmp := filepath.Join(dir, "."+base+".tmp"+strconv.FormatUint(rand.Uint64(), 36))
		f, err := fsys.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, tmp, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.Errorf("no free temporary name next to %s", name)
}

// replaceFile installs a finished temp file at name, or removes it when
// the write failed.
func replaceFile(fsys FileSystem, tmp, name string, failed bool) error {
	if failed {
		fsys.Remove(tmp)
		return nil
	}
	if err := fsys.Rename(tmp, name); err != nil {
		fsys.Remove(tmp)
		return err
	}
	return nil
}

// readerAt returns f as an io.ReaderAt, falling back to seek+read for
// files that do not implement it.
func readerAt(f File) io.ReaderAt {
	if ra, ok := f.(io.ReaderAt); ok {
		return ra
	}
	return seekReaderAt{f}
}

type seekReaderAt struct {
	f File
}

func (s seekReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := s.f.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.f, p)
}
