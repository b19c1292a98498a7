package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"
)

type sysDirFS string

func SysDirFS(dir string) DirFS {
	return sysDirFS(dir)
}

func (d sysDirFS) Open(name string) (fs.File, error) {
	return Open(d, name)
}

func (d sysDirFS) Sub(dir string) (fs.FS, error) {
	return d.sub(dir), nil
}

func (d sysDirFS) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(d.join(name))
}

func (d sysDirFS) OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error) {
	return os.OpenFile(d.join(name), int(flag), perm)
}

func (d sysDirFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(d.join(name))
}

func (d sysDirFS) Mkdir(name string, perm fs.FileMode) (DirFS, error) {
	pathname := d.join(name)
	if err := os.MkdirAll(pathname, perm); err != nil {
		return nil, err
	}
	return SysDirFS(pathname), nil
}

func (d sysDirFS) join(name string) string {
	return filepath.Join(string(d), filepath.FromSlash(name))
}

func (d sysDirFS) sub(name string) DirFS {
	return SysDirFS(d.join(name))
}
