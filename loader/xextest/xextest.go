// Package xextest builds XEX images and title update patches for tests.
package xextest

import (
	"encoding/binary"

	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/internal/align"
	"github.com/wnxd/microxe/loader"
)

const DefaultBaseAddr = 0x82000000

type Import struct {
	Name    string
	ID      uint32
	Version loader.Version
	Records []uint32
}

type Delta struct {
	loader.DeltaBlock
	Data []byte
}

type Builder struct {
	Magic       uint32
	ModuleFlags uint32
	BaseAddr    uint32
	Entry       uint32
	StackSize   uint32
	Exec        *loader.ExecutionInfo
	Image       []byte
	ImageSize   uint32
	Compression uint16
	Encrypted   bool
	Imports     []Import
	Resources   []loader.Resource
	Patch       *loader.PatchDescriptor
	Deltas      []Delta
	Pages       []loader.PageDescriptor
}

type importHeader struct {
	Size       uint32
	Digest     [0x14]byte
	ID         uint32
	Version    loader.Version
	MinVersion loader.Version
	NameIndex  uint16
	Count      uint16
}

type resourceRecord struct {
	Name    [8]byte
	Address uint32
	Size    uint32
}

type optHeader struct {
	loader.OptHeader
	data []byte
}

func (b *Builder) Bytes() []byte {
	base := b.BaseAddr
	if base == 0 {
		base = DefaultBaseAddr
	}
	imageSize := b.ImageSize
	if imageSize == 0 {
		imageSize = align.Up(uint32(len(b.Image)), 0x1000)
	}
	pages := b.Pages
	if pages == nil && imageSize != 0 {
		pageSize := uint32(0x1000)
		if base < 0x90000000 {
			pageSize = 0x10000
		}
		pages = []loader.PageDescriptor{{Value: align.Up(imageSize, pageSize)/pageSize<<4 | loader.XexSectionCode}}
	}

	opts := []optHeader{
		{OptHeader: loader.OptHeader{Key: loader.XexHeaderFileFormatInfo}, data: b.fileFormat(imageSize)},
		{OptHeader: loader.OptHeader{Key: loader.XexHeaderImageBaseAddress, Value: base}},
	}
	if b.Exec != nil {
		opts = append(opts, optHeader{OptHeader: loader.OptHeader{Key: loader.XexHeaderExecutionInfo}, data: encode(b.Exec)})
	}
	if b.Entry != 0 {
		opts = append(opts, optHeader{OptHeader: loader.OptHeader{Key: loader.XexHeaderEntryPoint, Value: b.Entry}})
	}
	if b.StackSize != 0 {
		opts = append(opts, optHeader{OptHeader: loader.OptHeader{Key: loader.XexHeaderDefaultStackSize, Value: b.StackSize}})
	}
	if len(b.Imports) != 0 {
		opts = append(opts, optHeader{OptHeader: loader.OptHeader{Key: loader.XexHeaderImportLibraries}, data: b.imports()})
	}
	if len(b.Resources) != 0 {
		opts = append(opts, optHeader{OptHeader: loader.OptHeader{Key: loader.XexHeaderResourceInfo}, data: b.resources()})
	}
	if b.Patch != nil {
		patch := *b.Patch
		if patch.Size == 0 {
			patch.Size = 0x4C
		}
		opts = append(opts, optHeader{OptHeader: loader.OptHeader{Key: loader.XexHeaderDeltaPatchDescriptor}, data: encode(&patch)})
	}

	off := uint32(0x18 + len(opts)*8)
	for i := range opts {
		if opts[i].data != nil {
			opts[i].Value = off
			off += align.Up(uint32(len(opts[i].data)), 4)
		}
	}
	securityOff := off
	headerSize := align.Up(securityOff+0x184+uint32(len(pages))*0x18, 0x10)

	magic := b.Magic
	if magic == 0 {
		magic = loader.MagicXEX2
	}
	out := encoding.NewWriteStream(binary.BigEndian)
	must(encoding.Encode(out, &loader.XexHeader{
		Magic:          magic,
		ModuleFlags:    b.ModuleFlags,
		HeaderSize:     headerSize,
		SecurityOffset: securityOff,
		HeaderCount:    uint32(len(opts)),
	}))
	for i := range opts {
		must(encoding.Encode(out, &opts[i].OptHeader))
	}
	for _, opt := range opts {
		if opt.data != nil {
			must2(out.Write(opt.data))
			must2(out.Write(make([]byte, align.Up(len(opt.data), 4)-len(opt.data))))
		}
	}
	must(encoding.Encode(out, &loader.SecurityInfo{
		HeaderSize:          headerSize,
		ImageSize:           imageSize,
		LoadAddress:         base,
		PageDescriptorCount: uint32(len(pages)),
	}))
	for i := range pages {
		must(encoding.Encode(out, &pages[i]))
	}
	must2(out.Write(make([]byte, int(headerSize)-out.Offset())))
	if b.Patch != nil || b.ModuleFlags&(loader.XexModulePatchFull|loader.XexModulePatchDelta) != 0 {
		for i := range b.Deltas {
			must(encoding.Encode(out, &b.Deltas[i].DeltaBlock))
			must2(out.Write(b.Deltas[i].Data))
		}
		must2(out.Write(make([]byte, 12)))
	} else {
		must2(out.Write(b.Image))
	}
	return out.Bytes()
}

func (b *Builder) fileFormat(imageSize uint32) []byte {
	info := loader.FileFormatInfo{InfoSize: 8, CompressionType: b.Compression}
	if b.Encrypted {
		info.EncryptionType = loader.XexEncryptionNormal
	}
	if b.Patch != nil {
		info.CompressionType = loader.XexCompressionDelta
	}
	if info.CompressionType != loader.XexCompressionBasic {
		return encode(&info)
	}
	info.InfoSize = 16
	data := encode(&info)
	return append(data, encode(&loader.BasicBlock{
		DataSize: uint32(len(b.Image)),
		ZeroSize: imageSize - uint32(len(b.Image)),
	})...)
}

func (b *Builder) imports() []byte {
	var table []byte
	for _, lib := range b.Imports {
		table = append(table, lib.Name...)
		table = append(table, make([]byte, align.Up(len(lib.Name)+1, 4)-len(lib.Name))...)
	}
	var libs []byte
	for i, lib := range b.Imports {
		libs = append(libs, encode(&importHeader{
			Size:       uint32(0x28 + 4*len(lib.Records)),
			ID:         lib.ID,
			Version:    lib.Version,
			MinVersion: lib.Version,
			NameIndex:  uint16(i),
			Count:      uint16(len(lib.Records)),
		})...)
		for _, rec := range lib.Records {
			libs = binary.BigEndian.AppendUint32(libs, rec)
		}
	}
	data := binary.BigEndian.AppendUint32(nil, uint32(12+len(table)+len(libs)))
	data = binary.BigEndian.AppendUint32(data, uint32(len(table)))
	data = binary.BigEndian.AppendUint32(data, uint32(len(b.Imports)))
	data = append(data, table...)
	return append(data, libs...)
}

func (b *Builder) resources() []byte {
	data := binary.BigEndian.AppendUint32(nil, uint32(4+16*len(b.Resources)))
	for _, res := range b.Resources {
		var rec resourceRecord
		copy(rec.Name[:], res.Name)
		rec.Address, rec.Size = res.Address, res.Size
		data = append(data, encode(&rec)...)
	}
	return data
}

func encode(val any) []byte {
	stream := encoding.NewWriteStream(binary.BigEndian)
	must(encoding.Encode(stream, val))
	return stream.Bytes()
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func must2(_ int, err error) {
	must(err)
}
