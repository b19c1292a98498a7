package loader_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/loader"
	"github.com/wnxd/microxe/loader/xextest"
	"github.com/wnxd/microxe/memory"
)

const titleID = 0x41560817

func TestDetect(t *testing.T) {
	tests := []struct {
		data   []byte
		format loader.Format
		err    error
	}{
		{[]byte("XEX2...."), loader.FormatXEX, nil},
		{[]byte("XEX1...."), loader.FormatXEX, nil},
		{[]byte{0x7F, 'E', 'L', 'F'}, loader.FormatELF, nil},
		{[]byte{'M', 'Z', 0x90, 0}, loader.FormatUnknown, loader.ErrXnaUnsupported},
		{[]byte("PK\x03\x04"), loader.FormatUnknown, loader.ErrFormatUnsupported},
		{[]byte("XE"), loader.FormatUnknown, loader.ErrMalformed},
	}
	for _, tt := range tests {
		format, err := loader.Detect(tt.data)
		if format != tt.format || !errors.Is(err, tt.err) {
			t.Errorf("Detect(%q) = %v, %v, want %v, %v", tt.data, format, err, tt.format, tt.err)
		}
	}
}

func TestVersionString(t *testing.T) {
	tests := []struct {
		v    loader.Version
		want string
	}{
		{loader.MakeVersion(1, 0, 0, 0), "1.0"},
		{loader.MakeVersion(1, 2, 3, 0), "1.2.3"},
		{loader.MakeVersion(1, 2, 3, 4), "1.2.3.4"},
		{loader.MakeVersion(1, 2, 0, 0), "1.2"},
		{loader.MakeVersion(2, 0, 0, 7), "2.0.0.7"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("%#08x: got %q, want %q", uint32(tt.v), got, tt.want)
		}
	}
}

func baseBuilder() *xextest.Builder {
	image := make([]byte, 0x200)
	for i := range image {
		image[i] = byte(i)
	}
	binary.BigEndian.PutUint32(image[0x100:], 0x00000005)
	binary.BigEndian.PutUint32(image[0x110:], 0x01000010)
	return &xextest.Builder{
		Entry:     xextest.DefaultBaseAddr + 0x40,
		StackSize: 0x40000,
		Exec: &loader.ExecutionInfo{
			TitleID:    titleID,
			Version:    loader.MakeVersion(1, 0, 0, 0),
			DiscNumber: 1,
			DiscCount:  1,
		},
		Image: image,
		Imports: []xextest.Import{{
			Name:    "xboxkrnl.exe",
			Records: []uint32{xextest.DefaultBaseAddr + 0x100, xextest.DefaultBaseAddr + 0x110},
		}},
		Resources: []loader.Resource{{Name: "41560817", Address: xextest.DefaultBaseAddr + 0x180, Size: 0x20}},
	}
}

func TestParseXex(t *testing.T) {
	m, err := loader.ParseXex(baseBuilder().Bytes(), false)
	if err != nil {
		t.Fatal(err)
	}
	if m.BaseAddr() != xextest.DefaultBaseAddr || m.EntryAddr() != xextest.DefaultBaseAddr+0x40 || m.StackSize() != 0x40000 {
		t.Fatalf("base %#x entry %#x stack %#x", m.BaseAddr(), m.EntryAddr(), m.StackSize())
	}
	if m.IsDLL() || m.IsPatch() || m.ImageSize() != 0x1000 {
		t.Fatalf("dll %v patch %v size %#x", m.IsDLL(), m.IsPatch(), m.ImageSize())
	}
	exec, ok := m.ExecutionInfo()
	if !ok || exec.TitleID != titleID || exec.Version.String() != "1.0" {
		t.Fatalf("got %+v, %v", exec, ok)
	}
	if data, ok := m.OptHeaderData(loader.XexHeaderExecutionInfo); !ok || len(data) != 24 {
		t.Fatalf("execution info data %d, %v", len(data), ok)
	}
	if h, ok := m.OptHeader(loader.XexHeaderEntryPoint); !ok || h.Kind() != loader.OptValue || h.Value != m.EntryAddr() {
		t.Fatalf("got %+v, %v", h, ok)
	}
	if h, ok := m.OptHeader(loader.XexHeaderImageBaseAddress); !ok || h.Kind() != loader.OptPointer {
		t.Fatalf("got %+v, %v", h, ok)
	}
	if _, ok := m.OptHeader(loader.XexHeaderTLSInfo); ok {
		t.Fatal("unexpected TLS info")
	}
	imports := m.Imports()
	if len(imports) != 1 || imports[0].Name != "xboxkrnl.exe" || len(imports[0].Records) != 2 {
		t.Fatalf("got %+v", imports)
	}
	if res, ok := m.Resource("41560817"); !ok || res.Size != 0x20 {
		t.Fatalf("got %+v, %v", res, ok)
	}
	if !bytes.Equal(m.Image()[:0x10], baseBuilder().Image[:0x10]) {
		t.Fatal("image mismatch")
	}
	regions := m.Regions()
	if len(regions) != 1 || regions[0].Size != 0x10000 || regions[0].Prot != memory.ProtRead|memory.ProtExec {
		t.Fatalf("got %+v", regions)
	}
}

func TestParseXexHeadersOnly(t *testing.T) {
	m, err := loader.ParseXex(baseBuilder().Bytes(), true)
	if err != nil {
		t.Fatal(err)
	} else if m.Image() != nil {
		t.Fatal("image extracted")
	}
	if err = m.Map(memory.New()); !errors.Is(err, loader.ErrNoImage) {
		t.Fatalf("got %v", err)
	}
}

func TestParseXexBasicCompression(t *testing.T) {
	b := baseBuilder()
	b.Compression = loader.XexCompressionBasic
	b.ImageSize = 0x2000
	m, err := loader.ParseXex(b.Bytes(), false)
	if err != nil {
		t.Fatal(err)
	}
	image := m.Image()
	if len(image) != 0x2000 || !bytes.Equal(image[:len(b.Image)], b.Image) {
		t.Fatalf("image length %#x", len(image))
	}
	for _, v := range image[len(b.Image):] {
		if v != 0 {
			t.Fatal("zero fill mismatch")
		}
	}
}

func TestParseXexErrors(t *testing.T) {
	b := baseBuilder()
	b.Encrypted = true
	if _, err := loader.ParseXex(b.Bytes(), false); !errors.Is(err, loader.ErrNotImplemented) {
		t.Fatalf("encrypted: got %v", err)
	}
	if _, err := loader.ParseXex(b.Bytes(), true); err != nil {
		t.Fatalf("encrypted headers: got %v", err)
	}
	data := baseBuilder().Bytes()
	if _, err := loader.ParseXex(data[:0x40], false); !errors.Is(err, loader.ErrMalformed) {
		t.Fatalf("truncated: got %v", err)
	}
	binary.BigEndian.PutUint32(data, 0x58455833)
	if _, err := loader.ParseXex(data, false); !errors.Is(err, loader.ErrFormatUnsupported) {
		t.Fatalf("magic: got %v", err)
	}
}

func TestMapRelocations(t *testing.T) {
	m, err := loader.ParseXex(baseBuilder().Bytes(), false)
	if err != nil {
		t.Fatal(err)
	}
	mem := memory.New()
	if err = m.Map(mem); err != nil {
		t.Fatal(err)
	}
	if v, err := mem.Pointer(m.BaseAddr() + 0x20).ReadUint32(); err != nil || v != 0x20212223 {
		t.Fatalf("got %#x, %v", v, err)
	}
	relocs, err := m.Relocations(mem)
	if err != nil {
		t.Fatal(err)
	} else if len(relocs) != 2 {
		t.Fatalf("got %d relocations", len(relocs))
	}
	if v, ok := relocs[0].(*loader.RelocationVariable); !ok || v.Ordinal != 5 || v.Library != "xboxkrnl.exe" {
		t.Fatalf("got %#v", relocs[0])
	}
	if f, ok := relocs[1].(*loader.RelocationFunction); !ok || f.Ordinal != 0x10 || f.Addr != m.BaseAddr()+0x110 {
		t.Fatalf("got %#v", relocs[1])
	}
	if err = m.Protect(mem); err != nil {
		t.Fatal(err)
	}
	if err = m.Unmap(mem); err != nil {
		t.Fatal(err)
	} else if mem.IsMapped(m.BaseAddr()) {
		t.Fatal("image still mapped")
	}
}

func patchBuilder(source, target loader.Version, deltas ...xextest.Delta) *xextest.Builder {
	return &xextest.Builder{
		ModuleFlags: loader.XexModulePatchDelta,
		Exec:        &loader.ExecutionInfo{TitleID: titleID, Version: target},
		Patch:       &loader.PatchDescriptor{SourceVersion: source, TargetVersion: target},
		Deltas:      deltas,
	}
}

func TestApplyPatch(t *testing.T) {
	base, err := loader.ParseXex(baseBuilder().Bytes(), false)
	if err != nil {
		t.Fatal(err)
	}
	target := loader.MakeVersion(1, 0, 1, 0)
	patch, err := loader.ParseXex(patchBuilder(loader.MakeVersion(1, 0, 0, 0), target,
		xextest.Delta{DeltaBlock: loader.DeltaBlock{NewAddr: 0x00, UncompressedLen: 4, CompressedLen: 0}},
		xextest.Delta{DeltaBlock: loader.DeltaBlock{OldAddr: 0x40, NewAddr: 0x10, UncompressedLen: 4, CompressedLen: 1}},
		xextest.Delta{DeltaBlock: loader.DeltaBlock{NewAddr: 0x20, UncompressedLen: 3, CompressedLen: 3}, Data: []byte{0xAA, 0xBB, 0xCC}},
	).Bytes(), false)
	if err != nil {
		t.Fatal(err)
	} else if !patch.IsPatch() || !patch.IsPatchApplicable(base) {
		t.Fatal("patch not applicable")
	}
	if err = patch.ApplyPatch(base); err != nil {
		t.Fatal(err)
	}
	image := base.Image()
	if !bytes.Equal(image[0x00:0x04], []byte{0, 0, 0, 0}) {
		t.Errorf("zero block: % x", image[0x00:0x04])
	}
	if !bytes.Equal(image[0x10:0x14], []byte{0x40, 0x41, 0x42, 0x43}) {
		t.Errorf("copy block: % x", image[0x10:0x14])
	}
	if !bytes.Equal(image[0x20:0x24], []byte{0xAA, 0xBB, 0xCC, 0x23}) {
		t.Errorf("raw block: % x", image[0x20:0x24])
	}
	exec, _ := base.ExecutionInfo()
	if exec.Version != target {
		t.Fatalf("version %s", exec.Version)
	}
	data, _ := base.OptHeaderData(loader.XexHeaderExecutionInfo)
	var mirrored loader.ExecutionInfo
	if err = encoding.Decode(encoding.NewByteStream(data, binary.BigEndian), &mirrored); err != nil || mirrored.Version != target {
		t.Fatalf("header version %s, %v", mirrored.Version, err)
	}
	if patch.IsPatchApplicable(base) {
		t.Fatal("patch applicable twice")
	}
}

func TestPatchNotApplicable(t *testing.T) {
	base, err := loader.ParseXex(baseBuilder().Bytes(), false)
	if err != nil {
		t.Fatal(err)
	}
	b := patchBuilder(loader.MakeVersion(1, 1, 0, 0), loader.MakeVersion(1, 2, 0, 0))
	patch, err := loader.ParseXex(b.Bytes(), true)
	if err != nil {
		t.Fatal(err)
	} else if patch.IsPatchApplicable(base) {
		t.Fatal("version mismatch applicable")
	}
	if err = patch.ApplyPatch(base); !errors.Is(err, loader.ErrPatchNotApplicable) {
		t.Fatalf("got %v", err)
	}
	b = patchBuilder(loader.MakeVersion(1, 0, 0, 0), loader.MakeVersion(1, 2, 0, 0))
	b.Exec.TitleID = 0x4D5307E6
	if patch, err = loader.ParseXex(b.Bytes(), true); err != nil {
		t.Fatal(err)
	} else if patch.IsPatchApplicable(base) {
		t.Fatal("title mismatch applicable")
	}
	if err = base.ApplyPatch(base); !errors.Is(err, loader.ErrNotPatch) {
		t.Fatalf("got %v", err)
	}
}

func TestApplyPatchOutOfBounds(t *testing.T) {
	base, err := loader.ParseXex(baseBuilder().Bytes(), false)
	if err != nil {
		t.Fatal(err)
	}
	before := bytes.Clone(base.Image())
	patch, err := loader.ParseXex(patchBuilder(loader.MakeVersion(1, 0, 0, 0), loader.MakeVersion(1, 0, 1, 0),
		xextest.Delta{DeltaBlock: loader.DeltaBlock{NewAddr: 0x00, UncompressedLen: 4, CompressedLen: 0}},
		xextest.Delta{DeltaBlock: loader.DeltaBlock{NewAddr: 0xFFF, UncompressedLen: 4, CompressedLen: 0}},
	).Bytes(), false)
	if err != nil {
		t.Fatal(err)
	}
	if err = patch.ApplyPatch(base); !errors.Is(err, loader.ErrMalformed) {
		t.Fatalf("got %v", err)
	}
	if !bytes.Equal(base.Image(), before) {
		t.Fatal("image modified")
	}
	if exec, _ := base.ExecutionInfo(); exec.Version != loader.MakeVersion(1, 0, 0, 0) {
		t.Fatalf("version %s", exec.Version)
	}
}

type elfHeader struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elfProg struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

func buildElf(machine uint16, code []byte) []byte {
	stream := encoding.NewWriteStream(binary.BigEndian)
	hdr := elfHeader{
		Ident:     [16]byte{0x7F, 'E', 'L', 'F', 1, 2, 1},
		Type:      2,
		Machine:   machine,
		Version:   1,
		Entry:     0x82000010,
		Phoff:     52,
		Ehsize:    52,
		Phentsize: 32,
		Phnum:     1,
		Shentsize: 40,
	}
	prog := elfProg{Type: 1, Offset: 84, Vaddr: 0x82000000, Paddr: 0x82000000, Filesz: uint32(len(code)), Memsz: 0x2000, Flags: 5, Align: 0x1000}
	if err := encoding.Encode(stream, &hdr); err != nil {
		panic(err)
	} else if err = encoding.Encode(stream, &prog); err != nil {
		panic(err)
	}
	stream.Write(code)
	return stream.Bytes()
}

func TestParseElf(t *testing.T) {
	code := []byte{0x60, 0x00, 0x00, 0x00, 0x4E, 0x80, 0x00, 0x20}
	m, err := loader.ParseElf(buildElf(20, code))
	if err != nil {
		t.Fatal(err)
	}
	if m.EntryAddr() != 0x82000010 || m.StackSize() != loader.ElfStackSize || m.IsDLL() {
		t.Fatalf("entry %#x stack %#x dll %v", m.EntryAddr(), m.StackSize(), m.IsDLL())
	}
	if m.BaseAddr() != 0x82000000 || m.ImageSize() != 0x2000 {
		t.Fatalf("base %#x size %#x", m.BaseAddr(), m.ImageSize())
	}
	mem := memory.New()
	if err = m.Map(mem); err != nil {
		t.Fatal(err)
	}
	got, err := mem.Pointer(0x82000000).Read(uint32(len(code)))
	if err != nil || !bytes.Equal(got, code) {
		t.Fatalf("got % x, %v", got, err)
	}
	if _, err = loader.ParseElf(buildElf(62, code)); !errors.Is(err, loader.ErrFormatUnsupported) {
		t.Fatalf("got %v", err)
	}
}
