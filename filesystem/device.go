package filesystem

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"golang.org/x/exp/mmap"
)

type Device interface {
	io.Closer
	MountPath() string
	Initialize() error
	Root() DirFS
	IsReadOnly() bool
}

type ImageOpener func(r io.ReaderAt, size int64) (DirFS, error)

var (
	discFormats      = map[string]ImageOpener{"xdvdfs": OpenXDVDFS}
	containerFormats = make(map[string]ImageOpener)
)

func RegisterDiscFormat(name string, opener ImageOpener) bool {
	return register(discFormats, name, opener)
}

func RegisterContainerFormat(name string, opener ImageOpener) bool {
	return register(containerFormats, name, opener)
}

func register(formats map[string]ImageOpener, name string, opener ImageOpener) bool {
	if _, ok := formats[name]; ok {
		return false
	}
	formats[name] = opener
	return true
}

type device struct {
	mountPath string
	root      DirFS
	closer    io.Closer
	readOnly  bool
}

func (d *device) MountPath() string {
	return d.mountPath
}

func (d *device) Root() DirFS {
	return d.root
}

func (d *device) IsReadOnly() bool {
	return d.readOnly
}

func (d *device) Close() error {
	if d.closer == nil {
		return nil
	}
	err := d.closer.Close()
	d.closer = nil
	return err
}

type HostPathDevice struct {
	device
	hostPath string
}

func NewHostPathDevice(mountPath, hostPath string, readOnly bool) *HostPathDevice {
	return &HostPathDevice{device: device{mountPath: mountPath, readOnly: readOnly}, hostPath: hostPath}
}

func (d *HostPathDevice) Initialize() error {
	info, err := os.Stat(d.hostPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceInit, err)
	} else if !info.IsDir() {
		return fmt.Errorf("%w: %s: %w", ErrDeviceInit, d.hostPath, ErrNotDirectory)
	}
	d.root = SysDirFS(d.hostPath)
	return nil
}

type imageDevice struct {
	device
	hostPath string
	formats  map[string]ImageOpener
}

type DiscImageDevice struct {
	imageDevice
}

type ContainerDevice struct {
	imageDevice
}

func NewDiscImageDevice(mountPath, hostPath string) *DiscImageDevice {
	return &DiscImageDevice{imageDevice{device{mountPath: mountPath, readOnly: true}, hostPath, discFormats}}
}

func NewContainerDevice(mountPath, hostPath string) *ContainerDevice {
	return &ContainerDevice{imageDevice{device{mountPath: mountPath, readOnly: true}, hostPath, containerFormats}}
}

// Initialize mounts an extracted directory as is, otherwise the first
// registered image format that accepts the file.
func (d *imageDevice) Initialize() error {
	info, err := os.Stat(d.hostPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceInit, err)
	} else if info.IsDir() {
		d.root = SysDirFS(d.hostPath)
		return nil
	}
	file, err := mmap.Open(d.hostPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceInit, err)
	}
	for _, name := range slices.Sorted(maps.Keys(d.formats)) {
		root, err := d.formats[name](file, int64(file.Len()))
		if err != nil {
			continue
		}
		Logger().Sugar().Debugf("mounted %s as %s image at %s", d.hostPath, name, d.mountPath)
		d.root, d.closer = root, file
		return nil
	}
	file.Close()
	return fmt.Errorf("%w: %s: %w", ErrDeviceInit, d.hostPath, ErrFormatUnsupported)
}

type MemoryDevice struct {
	device
}

func NewMemoryDevice(mountPath string, root DirFS) *MemoryDevice {
	if root == nil {
		root = NewMemFS()
	}
	return &MemoryDevice{device{mountPath: mountPath, root: root}}
}

func (d *MemoryDevice) Initialize() error {
	return nil
}
