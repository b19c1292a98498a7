package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/internal/align"
	"github.com/wnxd/microxe/memory"
)

const (
	xexHeaderSize    = 0x18
	xexOptHeaderSize = 8
)

type XexModule struct {
	header    XexHeader
	blob      []byte
	opts      []OptHeader
	security  SecurityInfo
	pages     []PageDescriptor
	exec      *ExecutionInfo
	execOff   uint32
	format    FileFormatInfo
	baseAddr  uint32
	entry     uint32
	stack     uint32
	imports   []ImportLibrary
	resources []Resource
	patch     *PatchDescriptor
	image     []byte
	delta     []byte
}

func ParseXex(data []byte, headersOnly bool) (*XexModule, error) {
	m := new(XexModule)
	if err := m.parseHeaders(data); err != nil {
		return nil, err
	} else if headersOnly {
		return m, nil
	} else if err = m.extractImage(data[m.header.HeaderSize:]); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *XexModule) Format() Format {
	return FormatXEX
}

func (m *XexModule) ByteOrder() binary.ByteOrder {
	return binary.BigEndian
}

func (m *XexModule) BaseAddr() uint32 {
	return m.baseAddr
}

func (m *XexModule) ImageSize() uint32 {
	return m.security.ImageSize
}

func (m *XexModule) EntryAddr() uint32 {
	return m.entry
}

func (m *XexModule) StackSize() uint32 {
	return m.stack
}

func (m *XexModule) IsDLL() bool {
	return m.header.ModuleFlags&XexModuleDLL != 0
}

func (m *XexModule) IsPatch() bool {
	return m.header.ModuleFlags&(XexModulePatchFull|XexModulePatchDelta) != 0
}

func (m *XexModule) Header() XexHeader {
	return m.header
}

// HeaderBlob returns the raw header, including any applied version change.
func (m *XexModule) HeaderBlob() []byte {
	return m.blob
}

func (m *XexModule) OptHeaders() []OptHeader {
	return m.opts
}

func (m *XexModule) SecurityInfo() SecurityInfo {
	return m.security
}

func (m *XexModule) PageDescriptors() []PageDescriptor {
	return m.pages
}

func (m *XexModule) FileFormat() FileFormatInfo {
	return m.format
}

func (m *XexModule) ExecutionInfo() (ExecutionInfo, bool) {
	if m.exec == nil {
		return ExecutionInfo{}, false
	}
	return *m.exec, true
}

func (m *XexModule) TitleID() uint32 {
	if m.exec == nil {
		return 0
	}
	return m.exec.TitleID
}

func (m *XexModule) Imports() []ImportLibrary {
	return m.imports
}

func (m *XexModule) Resources() []Resource {
	return m.resources
}

func (m *XexModule) Resource(name string) (Resource, bool) {
	for _, res := range m.resources {
		if res.Name == name {
			return res, true
		}
	}
	return Resource{}, false
}

func (m *XexModule) PatchDescriptor() (PatchDescriptor, bool) {
	if m.patch == nil {
		return PatchDescriptor{}, false
	}
	return *m.patch, true
}

func (m *XexModule) Image() []byte {
	return m.image
}

func (m *XexModule) OptHeader(key uint32) (OptHeader, bool) {
	for _, h := range m.opts {
		if h.Key == key {
			return h, true
		}
	}
	return OptHeader{}, false
}

// OptHeaderOffset returns where the header's data lives inside HeaderBlob.
func (m *XexModule) OptHeaderOffset(key uint32) (uint32, bool) {
	for i, h := range m.opts {
		if h.Key != key {
			continue
		} else if h.Kind() == OptOffset {
			return h.Value, true
		}
		return uint32(xexHeaderSize + i*xexOptHeaderSize + 4), true
	}
	return 0, false
}

func (m *XexModule) OptHeaderData(key uint32) ([]byte, bool) {
	h, ok := m.OptHeader(key)
	if !ok {
		return nil, false
	}
	off, _ := m.OptHeaderOffset(key)
	size, _ := m.optSize(h)
	return m.blob[off : off+size], true
}

func (m *XexModule) Regions() []Region {
	var regions []Region
	pageSize := uint32(0x1000)
	if m.baseAddr < 0x90000000 {
		pageSize = 0x10000
	}
	addr := m.baseAddr
	for _, page := range m.pages {
		size := page.PageCount() * pageSize
		var prot memory.Prot
		switch page.Info() {
		case XexSectionCode:
			prot = memory.ProtRead | memory.ProtExec
		case XexSectionData:
			prot = memory.ProtRead | memory.ProtWrite
		case XexSectionReadOnly:
			prot = memory.ProtRead
		}
		regions = append(regions, m.region(addr, size, prot))
		addr += size
	}
	if len(regions) == 0 && m.security.ImageSize != 0 {
		regions = append(regions, m.region(m.baseAddr, m.security.ImageSize, memory.ProtAll))
	}
	return regions
}

func (m *XexModule) region(addr, size uint32, prot memory.Prot) Region {
	region := Region{Addr: addr, Size: size, Prot: prot}
	if off := int64(addr - m.baseAddr); off < int64(len(m.image)) {
		region.Length = uint32(min(int64(size), int64(len(m.image))-off))
		region.ReaderAt = io.NewSectionReader(bytes.NewReader(m.image), off, int64(region.Length))
	}
	return region
}

func (m *XexModule) Map(mem *memory.Memory) error {
	if m.image == nil {
		return ErrNoImage
	}
	return mapRegions(mem, m.Regions())
}

func (m *XexModule) Protect(mem *memory.Memory) error {
	return protectRegions(mem, m.Regions())
}

func (m *XexModule) Unmap(mem *memory.Memory) error {
	return unmapRegions(mem, m.Regions())
}

// Relocations reads the import records of a mapped image.
func (m *XexModule) Relocations(mem *memory.Memory) ([]Relocation, error) {
	var relocs []Relocation
	for _, lib := range m.imports {
		for _, addr := range lib.Records {
			value, err := mem.Pointer(addr).ReadUint32()
			if err != nil {
				return nil, err
			}
			switch value >> 24 {
			case XexImportVariable:
				relocs = append(relocs, &RelocationVariable{Addr: addr, Ordinal: uint16(value), Library: lib.Name})
			case XexImportThunk:
				relocs = append(relocs, &RelocationFunction{Addr: addr, Ordinal: uint16(value), Library: lib.Name})
			default:
				return nil, fmt.Errorf("%w: import record %#x type %d", ErrMalformed, addr, value>>24)
			}
		}
	}
	return relocs, nil
}

func (m *XexModule) parseHeaders(data []byte) error {
	if len(data) < xexHeaderSize {
		return ErrMalformed
	} else if err := decodeAt(data, 0, &m.header); err != nil {
		return err
	} else if m.header.Magic != MagicXEX2 && m.header.Magic != MagicXEX1 {
		return ErrFormatUnsupported
	}
	tableEnd := uint64(xexHeaderSize) + uint64(m.header.HeaderCount)*xexOptHeaderSize
	if uint64(m.header.HeaderSize) > uint64(len(data)) || tableEnd > uint64(m.header.HeaderSize) {
		return ErrMalformed
	}
	m.blob = slices.Clone(data[:m.header.HeaderSize])
	m.opts = make([]OptHeader, m.header.HeaderCount)
	for i := range m.opts {
		if err := decodeAt(m.blob, uint32(xexHeaderSize+i*xexOptHeaderSize), &m.opts[i]); err != nil {
			return err
		} else if _, err = m.optSize(m.opts[i]); err != nil {
			return err
		}
	}
	if err := m.parseSecurity(); err != nil {
		return err
	}
	m.baseAddr = m.security.LoadAddress
	for _, h := range m.opts {
		var err error
		switch h.Key {
		case XexHeaderEntryPoint:
			m.entry = h.Value
		case XexHeaderImageBaseAddress:
			m.baseAddr = h.Value
		case XexHeaderDefaultStackSize:
			m.stack = h.Value
		case XexHeaderExecutionInfo:
			m.exec, m.execOff = new(ExecutionInfo), h.Value
			err = decodeAt(m.blob, h.Value, m.exec)
		case XexHeaderFileFormatInfo:
			err = decodeAt(m.blob, h.Value, &m.format)
		case XexHeaderDeltaPatchDescriptor:
			m.patch = new(PatchDescriptor)
			err = decodeAt(m.blob, h.Value, m.patch)
		case XexHeaderResourceInfo:
			err = m.parseResources(h)
		case XexHeaderImportLibraries:
			err = m.parseImports(h)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *XexModule) optSize(h OptHeader) (uint32, error) {
	if h.Kind() != OptOffset {
		return 4, nil
	}
	size := (h.Key & 0xFF) * 4
	if h.Key&0xFF == 0xFF {
		if uint64(h.Value)+4 > uint64(len(m.blob)) {
			return 0, fmt.Errorf("%w: optional header %#08x", ErrMalformed, h.Key)
		}
		size = binary.BigEndian.Uint32(m.blob[h.Value:])
	}
	if uint64(h.Value)+uint64(size) > uint64(len(m.blob)) {
		return 0, fmt.Errorf("%w: optional header %#08x", ErrMalformed, h.Key)
	}
	return size, nil
}

func (m *XexModule) parseSecurity() error {
	off := m.header.SecurityOffset
	if uint64(off)+securityInfoSize > uint64(len(m.blob)) {
		return fmt.Errorf("%w: security info", ErrMalformed)
	} else if err := decodeAt(m.blob, off, &m.security); err != nil {
		return err
	}
	count := uint64(m.security.PageDescriptorCount)
	if uint64(off)+securityInfoSize+count*pageDescriptorSize > uint64(len(m.blob)) {
		return fmt.Errorf("%w: page descriptors", ErrMalformed)
	}
	m.pages = make([]PageDescriptor, count)
	for i := range m.pages {
		if err := decodeAt(m.blob, off+securityInfoSize+uint32(i)*pageDescriptorSize, &m.pages[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *XexModule) parseResources(h OptHeader) error {
	size, _ := m.optSize(h)
	if size < 4 {
		return fmt.Errorf("%w: resource info", ErrMalformed)
	}
	count := (size - 4) / 16
	m.resources = make([]Resource, count)
	for i := range m.resources {
		var rec resourceRecord
		if err := decodeAt(m.blob, h.Value+4+uint32(i)*16, &rec); err != nil {
			return err
		}
		m.resources[i] = Resource{Name: trimName(rec.Name[:]), Address: rec.Address, Size: rec.Size}
	}
	return nil
}

func (m *XexModule) parseImports(h OptHeader) error {
	size, _ := m.optSize(h)
	data := m.blob[h.Value : h.Value+size]
	if len(data) < 12 {
		return fmt.Errorf("%w: import libraries", ErrMalformed)
	}
	tableSize := binary.BigEndian.Uint32(data[4:])
	tableCount := binary.BigEndian.Uint32(data[8:])
	if uint64(12)+uint64(tableSize) > uint64(len(data)) {
		return fmt.Errorf("%w: import string table", ErrMalformed)
	}
	var names []string
	table := data[12 : 12+tableSize]
	for off := 0; off < len(table) && uint32(len(names)) < tableCount; {
		name := trimName(table[off:])
		names = append(names, name)
		off += align.Up(len(name)+1, 4)
	}
	for off := 12 + tableSize; off < uint32(len(data)); {
		var hdr importLibraryHeader
		if err := decodeAt(data, off, &hdr); err != nil {
			return err
		}
		end := uint64(off) + uint64(hdr.Size)
		if hdr.Size < importLibraryHeaderSize+uint32(hdr.Count)*4 || end > uint64(len(data)) || int(hdr.NameIndex) >= len(names) {
			return fmt.Errorf("%w: import library at %#x", ErrMalformed, off)
		}
		lib := ImportLibrary{
			Name:       names[hdr.NameIndex],
			ID:         hdr.ID,
			Version:    hdr.Version,
			MinVersion: hdr.MinVersion,
			Records:    make([]uint32, hdr.Count),
		}
		for i := range lib.Records {
			lib.Records[i] = binary.BigEndian.Uint32(data[off+importLibraryHeaderSize+uint32(i)*4:])
		}
		m.imports = append(m.imports, lib)
		off = uint32(end)
	}
	return nil
}

func (m *XexModule) extractImage(data []byte) error {
	if m.IsPatch() || m.format.CompressionType == XexCompressionDelta {
		m.delta = slices.Clone(data)
		return nil
	} else if m.format.EncryptionType != XexEncryptionNone {
		return fmt.Errorf("%w: encrypted image", ErrNotImplemented)
	}
	m.image = make([]byte, m.security.ImageSize)
	switch m.format.CompressionType {
	case XexCompressionNone:
		copy(m.image, data)
	case XexCompressionBasic:
		h, _ := m.OptHeader(XexHeaderFileFormatInfo)
		if m.format.InfoSize < 8 {
			return fmt.Errorf("%w: file format info", ErrMalformed)
		}
		count := (m.format.InfoSize - 8) / 8
		var src, dst uint64
		for i := range count {
			var block BasicBlock
			if err := decodeAt(m.blob, h.Value+8+i*8, &block); err != nil {
				return err
			} else if src+uint64(block.DataSize) > uint64(len(data)) || dst+uint64(block.DataSize)+uint64(block.ZeroSize) > uint64(len(m.image)) {
				return fmt.Errorf("%w: basic compression block %d", ErrMalformed, i)
			}
			copy(m.image[dst:], data[src:src+uint64(block.DataSize)])
			src += uint64(block.DataSize)
			dst += uint64(block.DataSize) + uint64(block.ZeroSize)
		}
	default:
		return fmt.Errorf("%w: compression type %d", ErrNotImplemented, m.format.CompressionType)
	}
	return nil
}

func decodeAt(data []byte, off uint32, val any) error {
	if uint64(off) > uint64(len(data)) {
		return ErrMalformed
	} else if err := encoding.Decode(encoding.NewByteStream(data[off:], binary.BigEndian), val); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}
