package filesystem

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestMemFS(t *testing.T) {
	m := NewMemFS()
	if _, err := m.Mkdir("Media/Sub", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := WriteAll(m, "Media/Sub/File.bin", []byte("data")); err != nil {
		t.Fatal(err)
	}
	data, err := ReadAll(m, "media/SUB/file.BIN")
	if err != nil || string(data) != "data" {
		t.Fatalf("got %q, %v", data, err)
	}
	info, err := m.Stat("media/sub/file.bin")
	if err != nil || info.Name() != "File.bin" || info.Size() != 4 {
		t.Fatalf("got %v, %v", info, err)
	}
	if _, err = m.OpenFile("Media/Sub/File.bin", O_CREATE|O_EXCL|O_WRONLY, 0o644); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("got %v", err)
	}
	if _, err = m.OpenFile("missing/file", O_CREATE|O_WRONLY, 0o644); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("got %v", err)
	}
	entries, err := m.ReadDir("")
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		t.Fatalf("got %v, %v", entries, err)
	}
}

func TestVirtualFileSystemSymlinks(t *testing.T) {
	v := New()
	cdrom := NewMemoryDevice(`\Device\Cdrom0`, nil)
	WriteAll(cdrom.Root(), "default.xex", []byte("xex"))
	content := NewMemoryDevice(`\Device\Content\0`, nil)
	content.Root().Mkdir("disc001", 0o755)
	WriteAll(content.Root(), "disc001/default.xexp", []byte("patch"))
	for _, dev := range []Device{cdrom, content} {
		if err := v.RegisterDevice(dev); err != nil {
			t.Fatal(err)
		}
	}
	if err := v.RegisterDevice(NewMemoryDevice(`\device\cdrom0`, nil)); !errors.Is(err, ErrDeviceExists) {
		t.Fatalf("got %v", err)
	}
	v.RegisterSymbolicLink("game:", `\Device\Cdrom0`)
	v.RegisterSymbolicLink("update:", `\Device\Content\0`)
	if err := v.RegisterSymbolicLink("GAME:", `\Device\Harddisk0`); !errors.Is(err, ErrLinkExists) {
		t.Fatalf("got %v", err)
	}

	entry, err := v.ResolvePath(`GAME:\DEFAULT.XEX`)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Name() != "default.xex" || entry.AbsolutePath() != `\Device\Cdrom0\default.xex` {
		t.Fatalf("got %s %s", entry.Name(), entry.AbsolutePath())
	}
	if data, _ := entry.ReadAll(); string(data) != "xex" {
		t.Fatalf("got %q", data)
	}

	if _, err = v.ResolvePath(`update:\default.xexp`); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("got %v", err)
	}
	if err = v.UpdateSymbolicLink("update:", `\Device\Content\0\disc001`); err != nil {
		t.Fatal(err)
	}
	entry, err = v.ResolvePath(`update:\default.xexp`)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Path() != `disc001\default.xexp` {
		t.Fatalf("got %s", entry.Path())
	}
	entry, err = v.ResolvePath(`\Device\Content\0\DISC001\Default.XexP`)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Name() != "default.xexp" || entry.AbsolutePath() != `\Device\Content\0\disc001\default.xexp` {
		t.Fatalf("got %s %s", entry.Name(), entry.AbsolutePath())
	}
	if target, ok := v.FindSymbolicLink("Update:"); !ok || target != `\Device\Content\0\disc001` {
		t.Fatalf("got %s, %v", target, ok)
	}
	if err = v.UpdateSymbolicLink("cache:", `\Device\Cache`); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("got %v", err)
	}
	if err = v.UnregisterDevice(`\Device\Content\0`); err != nil {
		t.Fatal(err)
	}
	if _, err = v.ResolvePath(`update:\default.xexp`); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("got %v", err)
	}
}

func TestResolveRoot(t *testing.T) {
	v := New()
	v.RegisterDevice(NewMemoryDevice(`\Device\Harddisk0\Partition0`, nil))
	v.RegisterSymbolicLink("d:", `\Device\Harddisk0\Partition0`)
	entry, err := v.ResolvePath("d:")
	if err != nil {
		t.Fatal(err)
	}
	if !entry.IsDir() || entry.Name() != "Partition0" {
		t.Fatalf("got %s", entry.Name())
	}
	if _, err = v.ResolvePath(`\Device\Harddisk0`); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("got %v", err)
	}
}

func TestHostPathDeviceCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "Media"), 0o755)
	os.WriteFile(filepath.Join(dir, "Media", "Title.Bin"), []byte("host"), 0o644)
	dev := NewHostPathDevice(`\Device\Harddisk0\Partition0`, dir, true)
	if err := dev.Initialize(); err != nil {
		t.Fatal(err)
	}
	v := New()
	v.RegisterDevice(dev)
	entry, err := v.ResolvePath(`\Device\Harddisk0\Partition0\media\title.bin`)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Path() != `Media\Title.Bin` || entry.Size() != 4 {
		t.Fatalf("got %s %d", entry.Path(), entry.Size())
	}
	if err = NewHostPathDevice("x", filepath.Join(dir, "missing"), true).Initialize(); !errors.Is(err, ErrDeviceInit) {
		t.Fatalf("got %v", err)
	}
}

func buildXDVDFS(t *testing.T) []byte {
	t.Helper()
	img := make([]byte, 0x25*xdvdfsSectorSize)
	vol := img[xdvdfsVolumeSector*xdvdfsSectorSize:]
	copy(vol, xdvdfsMagic)
	binary.LittleEndian.PutUint32(vol[20:], 0x21)
	binary.LittleEndian.PutUint32(vol[24:], xdvdfsSectorSize)
	entry := func(table []byte, left, right uint16, sector, size uint32, attr uint8, name string) {
		binary.LittleEndian.PutUint16(table[0:], left)
		binary.LittleEndian.PutUint16(table[2:], right)
		binary.LittleEndian.PutUint32(table[4:], sector)
		binary.LittleEndian.PutUint32(table[8:], size)
		table[12] = attr
		table[13] = uint8(len(name))
		copy(table[14:], name)
	}
	root := img[0x21*xdvdfsSectorSize:]
	entry(root, 0, 7, 0x22, 5, 0, "default.xex")
	entry(root[28:], 0, 0, 0x23, xdvdfsSectorSize, xdvdfsAttrDir, "media")
	entry(img[0x23*xdvdfsSectorSize:], 0, 0, 0x24, 3, 0, "a.bin")
	copy(img[0x22*xdvdfsSectorSize:], "hello")
	copy(img[0x24*xdvdfsSectorSize:], "abc")
	return img
}

func TestXDVDFS(t *testing.T) {
	img := buildXDVDFS(t)
	root, err := OpenXDVDFS(bytes.NewReader(img), int64(len(img)))
	if err != nil {
		t.Fatal(err)
	}
	data, err := ReadAll(root, "DEFAULT.XEX")
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, %v", data, err)
	}
	data, err = ReadAll(root, "media/a.bin")
	if err != nil || string(data) != "abc" {
		t.Fatalf("got %q, %v", data, err)
	}
	if err = WriteAll(root, "new.bin", nil); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("got %v", err)
	}
	if _, err = OpenXDVDFS(bytes.NewReader(img[:0x1000]), 0x1000); !errors.Is(err, ErrFormatUnsupported) {
		t.Fatalf("got %v", err)
	}
}

func TestDiscImageDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.iso")
	if err := os.WriteFile(path, buildXDVDFS(t), 0o644); err != nil {
		t.Fatal(err)
	}
	dev := NewDiscImageDevice(`\Device\Cdrom0`, path)
	if err := dev.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	v := New()
	v.RegisterDevice(dev)
	v.RegisterSymbolicLink("game:", `\Device\Cdrom0`)
	entry, err := v.ResolvePath(`game:\media\A.BIN`)
	if err != nil || entry.Size() != 3 {
		t.Fatalf("got %v, %v", entry, err)
	}

	bogus := filepath.Join(t.TempDir(), "bogus")
	os.WriteFile(bogus, []byte("not a container"), 0o644)
	if err = NewContainerDevice(`\Device\Cdrom0`, bogus).Initialize(); !errors.Is(err, ErrFormatUnsupported) {
		t.Fatalf("got %v", err)
	}
}
