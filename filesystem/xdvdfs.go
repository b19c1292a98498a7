package filesystem

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/wnxd/microxe/encoding"
)

const (
	xdvdfsSectorSize   = 0x800
	xdvdfsVolumeSector = 0x20
	xdvdfsMagic        = "MICROSOFT*XBOX*MEDIA"
	xdvdfsAttrDir      = 0x10
	xdvdfsMaxDepth     = 64
)

var xdvdfsPartitions = []int64{0, 0x18300000, 0x0FD90000, 0x02080000}

type xdvdfsVolume struct {
	Magic      [20]byte
	RootSector uint32
	RootSize   uint32
	FileTime   uint64
}

type xdvdfsEntry struct {
	Left, Right uint16
	Sector      uint32
	Size        uint32
	Attributes  uint8
	NameLength  uint8
}

func OpenXDVDFS(r io.ReaderAt, size int64) (DirFS, error) {
	for _, base := range xdvdfsPartitions {
		off := base + xdvdfsVolumeSector*xdvdfsSectorSize
		if off+xdvdfsSectorSize > size {
			continue
		}
		var buf [0x24]byte
		if _, err := r.ReadAt(buf[:], off); err != nil {
			return nil, err
		}
		var vol xdvdfsVolume
		if err := encoding.Decode(encoding.NewByteStream(buf[:], binary.LittleEndian), &vol); err != nil {
			return nil, err
		}
		if string(vol.Magic[:]) != xdvdfsMagic {
			continue
		}
		modTime := fileTimeToTime(vol.FileTime)
		root := newDirNode("", modTime)
		img := &xdvdfsImage{r: r, size: size, base: base, modTime: modTime}
		if err := img.readDir(root, vol.RootSector, vol.RootSize, 0); err != nil {
			return nil, err
		}
		Logger().Debug("xdvdfs volume opened")
		return &treeFS{mu: new(sync.RWMutex), root: root, readOnly: true}, nil
	}
	return nil, ErrFormatUnsupported
}

type xdvdfsImage struct {
	r       io.ReaderAt
	size    int64
	base    int64
	modTime time.Time
}

func (img *xdvdfsImage) readDir(dir *node, sector, size uint32, depth int) error {
	if size == 0 {
		return nil
	} else if depth > xdvdfsMaxDepth {
		return fmt.Errorf("xdvdfs: directory nesting too deep: %w", fs.ErrInvalid)
	}
	off := img.base + int64(sector)*xdvdfsSectorSize
	if off+int64(size) > img.size {
		return fmt.Errorf("xdvdfs: directory table out of range: %w", io.ErrUnexpectedEOF)
	}
	table := make([]byte, size)
	if _, err := img.r.ReadAt(table, off); err != nil {
		return err
	}
	visited := make(map[uint32]bool)
	return img.walk(dir, table, 0, visited, depth)
}

func (img *xdvdfsImage) walk(dir *node, table []byte, offset uint32, visited map[uint32]bool, depth int) error {
	if visited[offset] || int(offset)+14 > len(table) {
		return nil
	}
	visited[offset] = true
	var entry xdvdfsEntry
	stream := encoding.NewByteStream(table[offset:], binary.LittleEndian)
	if err := encoding.Decode(stream, &entry); err != nil {
		return err
	}
	if entry.Left == 0xFFFF {
		return nil
	}
	name := make([]byte, entry.NameLength)
	if _, err := stream.Read(name); err != nil {
		return err
	}
	if entry.Left != 0 {
		if err := img.walk(dir, table, uint32(entry.Left)*4, visited, depth); err != nil {
			return err
		}
	}
	child := &node{name: string(name), mode: 0o444, modTime: img.modTime}
	if entry.Attributes&xdvdfsAttrDir != 0 {
		child = newDirNode(child.name, img.modTime)
		child.mode = fs.ModeDir | 0o555
		if err := img.readDir(child, entry.Sector, entry.Size, depth+1); err != nil {
			return err
		}
	} else {
		child.size = int64(entry.Size)
		child.reader = io.NewSectionReader(img.r, img.base+int64(entry.Sector)*xdvdfsSectorSize, int64(entry.Size))
	}
	dir.insert(child)
	if entry.Right != 0 {
		return img.walk(dir, table, uint32(entry.Right)*4, visited, depth)
	}
	return nil
}

func fileTimeToTime(ft uint64) time.Time {
	if ft < fileTimeEpochDelta {
		return time.Time{}
	}
	return time.Unix(0, int64(ft-fileTimeEpochDelta)*100)
}

const fileTimeEpochDelta = 116444736000000000
