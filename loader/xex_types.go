package loader

import (
	"fmt"
	"strings"
)

const (
	XexHeaderResourceInfo         = 0x000002FF
	XexHeaderFileFormatInfo       = 0x000003FF
	XexHeaderDeltaPatchDescriptor = 0x000005FF
	XexHeaderBoundingPath         = 0x000080FF
	XexHeaderEntryPoint           = 0x00010100
	XexHeaderImageBaseAddress     = 0x00010201
	XexHeaderImportLibraries      = 0x000103FF
	XexHeaderOriginalPEName       = 0x000183FF
	XexHeaderTLSInfo              = 0x00020104
	XexHeaderDefaultStackSize     = 0x00020200
	XexHeaderSystemFlags          = 0x00030000
	XexHeaderExecutionInfo        = 0x00040006
)

const (
	XexModuleTitle      = 0x01
	XexModuleExportsLib = 0x02
	XexModuleDebugger   = 0x04
	XexModuleDLL        = 0x08
	XexModulePatch      = 0x10
	XexModulePatchFull  = 0x20
	XexModulePatchDelta = 0x40
	XexModuleUserMode   = 0x80
)

const (
	XexEncryptionNone   = 0
	XexEncryptionNormal = 1
)

const (
	XexCompressionNone   = 0
	XexCompressionBasic  = 1
	XexCompressionNormal = 2
	XexCompressionDelta  = 3
)

const (
	XexSectionCode     = 1
	XexSectionData     = 2
	XexSectionReadOnly = 3
)

const (
	XexImportVariable = 0
	XexImportThunk    = 1
)

type Version uint32

func MakeVersion(major, minor uint8, build uint16, qfe uint8) Version {
	return Version(uint32(major&0xF)<<28 | uint32(minor&0xF)<<24 | uint32(build)<<8 | uint32(qfe))
}

func (v Version) Major() uint8  { return uint8(v >> 28) }
func (v Version) Minor() uint8  { return uint8(v>>24) & 0xF }
func (v Version) Build() uint16 { return uint16(v >> 8) }
func (v Version) QFE() uint8    { return uint8(v) }

func (v Version) String() string {
	switch {
	case v.QFE() != 0:
		return fmt.Sprintf("%d.%d.%d.%d", v.Major(), v.Minor(), v.Build(), v.QFE())
	case v.Build() != 0:
		return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Build())
	}
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

type XexHeader struct {
	Magic          uint32
	ModuleFlags    uint32
	HeaderSize     uint32
	Reserved       uint32
	SecurityOffset uint32
	HeaderCount    uint32
}

type OptHeader struct {
	Key   uint32
	Value uint32
}

type OptKind int

const (
	OptValue OptKind = iota
	OptPointer
	OptOffset
)

func (h OptHeader) Kind() OptKind {
	switch h.Key & 0xFF {
	case 0x00:
		return OptValue
	case 0x01:
		return OptPointer
	}
	return OptOffset
}

type ExecutionInfo struct {
	MediaID         uint32
	Version         Version
	BaseVersion     Version
	TitleID         uint32
	Platform        uint8
	ExecutableTable uint8
	DiscNumber      uint8
	DiscCount       uint8
	SavegameID      uint32
}

type SecurityInfo struct {
	HeaderSize          uint32
	ImageSize           uint32
	RSASignature        [0x100]byte
	Unknown             uint32
	ImageFlags          uint32
	LoadAddress         uint32
	SectionDigest       [0x14]byte
	ImportTableCount    uint32
	ImportTableDigest   [0x14]byte
	MediaID             [0x10]byte
	AESKey              [0x10]byte
	ExportTable         uint32
	HeaderDigest        [0x14]byte
	Region              uint32
	AllowedMediaTypes   uint32
	PageDescriptorCount uint32
}

const securityInfoSize = 0x184

type PageDescriptor struct {
	Value  uint32
	Digest [0x14]byte
}

const pageDescriptorSize = 0x18

func (d PageDescriptor) PageCount() uint32 { return d.Value >> 4 }
func (d PageDescriptor) Info() uint32      { return d.Value & 0xF }

type FileFormatInfo struct {
	InfoSize        uint32
	EncryptionType  uint16
	CompressionType uint16
}

type BasicBlock struct {
	DataSize uint32
	ZeroSize uint32
}

type PatchDescriptor struct {
	Size                     uint32
	TargetVersion            Version
	SourceVersion            Version
	DigestSource             [0x14]byte
	ImageKeySource           [0x10]byte
	SizeOfTargetHeaders      uint32
	DeltaHeadersSourceOffset uint32
	DeltaHeadersSourceSize   uint32
	DeltaHeadersTargetOffset uint32
	DeltaImageSourceOffset   uint32
	DeltaImageSourceSize     uint32
	DeltaImageTargetOffset   uint32
}

type DeltaBlock struct {
	OldAddr         uint32
	NewAddr         uint32
	UncompressedLen uint16
	CompressedLen   uint16
}

const deltaBlockSize = 12

type Resource struct {
	Name    string
	Address uint32
	Size    uint32
}

type resourceRecord struct {
	Name    [8]byte
	Address uint32
	Size    uint32
}

type ImportLibrary struct {
	Name       string
	ID         uint32
	Version    Version
	MinVersion Version
	Records    []uint32
}

type importLibraryHeader struct {
	Size       uint32
	Digest     [0x14]byte
	ID         uint32
	Version    Version
	MinVersion Version
	NameIndex  uint16
	Count      uint16
}

const importLibraryHeaderSize = 0x28

func trimName(b []byte) string {
	s, _, _ := strings.Cut(string(b), "\x00")
	return s
}
