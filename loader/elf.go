package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/wnxd/microxe/memory"
)

const ElfStackSize = 1024 * 1024

type ElfModule struct {
	file    *elf.File
	regions []Region
}

func ParseElf(data []byte) (*ElfModule, error) {
	file, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	} else if file.Machine != elf.EM_PPC && file.Machine != elf.EM_PPC64 {
		return nil, fmt.Errorf("%w: machine %s", ErrFormatUnsupported, file.Machine)
	}
	m := &ElfModule{file: file}
	for _, prog := range file.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		var prot memory.Prot
		if prog.Flags&elf.PF_R != 0 {
			prot |= memory.ProtRead
		}
		if prog.Flags&elf.PF_W != 0 {
			prot |= memory.ProtWrite
		}
		if prog.Flags&elf.PF_X != 0 {
			prot |= memory.ProtExec
		}
		m.regions = append(m.regions, Region{
			Addr:     uint32(prog.Vaddr),
			Size:     uint32(prog.Memsz),
			Length:   uint32(prog.Filesz),
			Prot:     prot,
			ReaderAt: prog.ReaderAt,
		})
	}
	if len(m.regions) == 0 {
		return nil, fmt.Errorf("%w: no loadable segments", ErrMalformed)
	}
	return m, nil
}

func (m *ElfModule) Format() Format {
	return FormatELF
}

func (m *ElfModule) ByteOrder() binary.ByteOrder {
	return m.file.ByteOrder
}

func (m *ElfModule) BaseAddr() uint32 {
	base := m.regions[0].Addr
	for _, region := range m.regions[1:] {
		base = min(base, region.Addr)
	}
	return base
}

func (m *ElfModule) ImageSize() uint32 {
	var end uint32
	for _, region := range m.regions {
		end = max(end, region.Addr+region.Size)
	}
	return end - m.BaseAddr()
}

func (m *ElfModule) EntryAddr() uint32 {
	return uint32(m.file.Entry)
}

func (m *ElfModule) StackSize() uint32 {
	return ElfStackSize
}

func (m *ElfModule) IsDLL() bool {
	return false
}

func (m *ElfModule) Regions() []Region {
	return m.regions
}

func (m *ElfModule) Map(mem *memory.Memory) error {
	if err := mapRegions(mem, m.regions); err != nil {
		return err
	}
	return protectRegions(mem, m.regions)
}

func (m *ElfModule) Unmap(mem *memory.Memory) error {
	return unmapRegions(mem, m.regions)
}
