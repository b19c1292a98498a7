package filesystem

import (
	"io"
	"io/fs"
	"os"
)

type FileFlag int

const (
	O_RDONLY = FileFlag(os.O_RDONLY)
	O_WRONLY = FileFlag(os.O_WRONLY)
	O_RDWR   = FileFlag(os.O_RDWR)
	O_APPEND = FileFlag(os.O_APPEND)
	O_CREATE = FileFlag(os.O_CREATE)
	O_EXCL   = FileFlag(os.O_EXCL)
	O_TRUNC  = FileFlag(os.O_TRUNC)
)

type FS interface {
	fs.FS
	OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error)
}

type DirFS interface {
	FS
	Stat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	Mkdir(name string, perm fs.FileMode) (DirFS, error)
}

func Open(f FS, name string) (fs.File, error) {
	file, err := f.OpenFile(name, O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	ff, ok := file.(fs.File)
	if !ok {
		file.Close()
		return nil, fs.ErrInvalid
	}
	return ff, nil
}

func ReadAll(f FS, name string) ([]byte, error) {
	file, err := Open(f, name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func WriteAll(f FS, name string, data []byte) error {
	file, err := f.OpenFile(name, O_WRONLY|O_CREATE|O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	w, ok := file.(WriteFile)
	if !ok {
		return ErrReadOnly
	}
	_, err = w.Write(data)
	return err
}
