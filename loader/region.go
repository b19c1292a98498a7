package loader

import (
	"io"

	"github.com/wnxd/microxe/internal/align"
	"github.com/wnxd/microxe/memory"
)

type Region struct {
	Addr, Size uint32
	Length     uint32
	Prot       memory.Prot
	io.ReaderAt
}

func mapRegions(mem *memory.Memory, regions []Region) error {
	for _, region := range regions {
		begin := align.Down(region.Addr, memory.PageSize)
		size := align.Up(region.Addr+region.Size-begin, memory.PageSize)
		if err := mem.Map(begin, size, memory.ProtRead|memory.ProtWrite); err != nil {
			return err
		}
		if region.Length == 0 || region.ReaderAt == nil {
			continue
		}
		data := make([]byte, region.Length)
		if _, err := region.ReadAt(data, 0); err != nil && err != io.EOF {
			return err
		}
		if err := mem.Write(region.Addr, data); err != nil {
			return err
		}
	}
	return nil
}

func protectRegions(mem *memory.Memory, regions []Region) error {
	for _, region := range regions {
		begin := align.Down(region.Addr, memory.PageSize)
		size := align.Up(region.Addr+region.Size-begin, memory.PageSize)
		if err := mem.Protect(begin, size, region.Prot); err != nil {
			return err
		}
	}
	return nil
}

func unmapRegions(mem *memory.Memory, regions []Region) error {
	for _, region := range regions {
		begin := align.Down(region.Addr, memory.PageSize)
		if err := mem.Unmap(begin, align.Up(region.Addr+region.Size-begin, memory.PageSize)); err != nil {
			return err
		}
	}
	return nil
}
