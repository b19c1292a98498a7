package loader

import (
	"encoding/binary"

	"github.com/wnxd/microxe/memory"
)

type Format int

const (
	FormatUnknown Format = iota
	FormatXEX
	FormatELF
)

const (
	MagicXEX2 = 0x58455832
	MagicXEX1 = 0x58455831
	MagicELF  = 0x7F454C46
	MagicMZ   = 0x4D5A
)

type Module interface {
	Format() Format
	ByteOrder() binary.ByteOrder
	BaseAddr() uint32
	ImageSize() uint32
	EntryAddr() uint32
	StackSize() uint32
	IsDLL() bool
	Regions() []Region
	Map(mem *memory.Memory) error
	Unmap(mem *memory.Memory) error
}

func Detect(data []byte) (Format, error) {
	if len(data) < 4 {
		return FormatUnknown, ErrMalformed
	}
	switch binary.BigEndian.Uint32(data) {
	case MagicXEX2, MagicXEX1:
		return FormatXEX, nil
	case MagicELF:
		return FormatELF, nil
	}
	if binary.BigEndian.Uint16(data) == MagicMZ {
		return FormatUnknown, ErrXnaUnsupported
	}
	return FormatUnknown, ErrFormatUnsupported
}

func (f Format) String() string {
	switch f {
	case FormatXEX:
		return "xex"
	case FormatELF:
		return "elf"
	}
	return "unknown"
}
