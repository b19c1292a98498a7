package filesystem

import (
	"io"
	"io/fs"
	"path"
	"strings"
)

type Entry struct {
	device Device
	path   string
	info   fs.FileInfo
}

func (e *Entry) Device() Device {
	return e.device
}

func (e *Entry) Name() string {
	if e.path == "" {
		mount := e.device.MountPath()
		return mount[strings.LastIndexByte(mount, '\\')+1:]
	}
	return path.Base(e.path)
}

func (e *Entry) Path() string {
	return strings.ReplaceAll(e.path, "/", "\\")
}

func (e *Entry) AbsolutePath() string {
	if e.path == "" {
		return e.device.MountPath()
	}
	return e.device.MountPath() + "\\" + e.Path()
}

func (e *Entry) Size() int64 {
	return e.info.Size()
}

func (e *Entry) IsDir() bool {
	return e.info.IsDir()
}

func (e *Entry) Open() (fs.File, error) {
	return Open(e.device.Root(), e.path)
}

func (e *Entry) ReadAll() ([]byte, error) {
	f, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (e *Entry) ResolvePath(name string) (*Entry, error) {
	if !e.IsDir() {
		return nil, ErrNotDirectory
	}
	return lookupEntry(e.device, path.Join(e.path, clean(name)))
}

func (e *Entry) Children() ([]*Entry, error) {
	if !e.IsDir() {
		return nil, ErrNotDirectory
	}
	dirents, err := e.device.Root().ReadDir(e.path)
	if err != nil {
		return nil, err
	}
	children := make([]*Entry, 0, len(dirents))
	for _, dirent := range dirents {
		info, err := dirent.Info()
		if err != nil {
			return nil, err
		}
		children = append(children, &Entry{device: e.device, path: path.Join(e.path, dirent.Name()), info: info})
	}
	return children, nil
}

// lookupEntry walks rel one component at a time, matching names
// case-insensitively when the device is case-sensitive.
func lookupEntry(dev Device, rel string) (*Entry, error) {
	root := dev.Root()
	if root == nil {
		return nil, ErrDeviceNotFound
	}
	cur := ""
	for _, part := range split(rel) {
		next := path.Join(cur, part)
		if info, err := root.Stat(next); err == nil {
			next = path.Join(cur, info.Name())
		} else {
			dirents, derr := root.ReadDir(cur)
			if derr != nil {
				return nil, &fs.PathError{Op: "resolve", Path: rel, Err: fs.ErrNotExist}
			}
			found := false
			for _, dirent := range dirents {
				if strings.EqualFold(dirent.Name(), part) {
					next, found = path.Join(cur, dirent.Name()), true
					break
				}
			}
			if !found {
				return nil, &fs.PathError{Op: "resolve", Path: rel, Err: fs.ErrNotExist}
			}
		}
		cur = next
	}
	info, err := root.Stat(cur)
	if err != nil {
		return nil, err
	}
	return &Entry{device: dev, path: cur, info: info}, nil
}
