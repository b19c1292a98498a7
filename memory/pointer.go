package memory

import (
	"encoding/binary"
	"slices"
)

type Pointer struct {
	mem  *Memory
	addr uint32
}

func (p Pointer) IsNil() bool {
	return p.addr == 0
}

func (p Pointer) Address() uint32 {
	return p.addr
}

func (p Pointer) Add(offset uint32) Pointer {
	return Pointer{p.mem, p.addr + offset}
}

func (p Pointer) Sub(offset uint32) Pointer {
	return Pointer{p.mem, p.addr - offset}
}

func (p Pointer) Read(size uint32) ([]byte, error) {
	b := make([]byte, size)
	return b, p.mem.Read(p.addr, b)
}

func (p Pointer) Write(data []byte) error {
	return p.mem.Write(p.addr, data)
}

func (p Pointer) ReadUint32() (uint32, error) {
	var b [4]byte
	if err := p.mem.Read(p.addr, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (p Pointer) WriteUint32(v uint32) error {
	return p.mem.Write(p.addr, binary.BigEndian.AppendUint32(nil, v))
}

func (p Pointer) ReadPointer() (Pointer, error) {
	addr, err := p.ReadUint32()
	return Pointer{p.mem, addr}, err
}

func (p Pointer) ReadString() (string, error) {
	var data []byte
	var buf [0x10]byte
	for begin := p.addr; ; {
		n := min(uint32(len(buf)), PageSize-begin%PageSize)
		if err := p.mem.Read(begin, buf[:n]); err != nil {
			return "", err
		}
		if i := slices.Index(buf[:n], 0); i != -1 {
			data = append(data, buf[:i]...)
			break
		}
		data = append(data, buf[:n]...)
		begin += n
	}
	return string(data), nil
}

func (p Pointer) ReadAt(b []byte, off int64) (int, error) {
	return len(b), p.mem.Read(p.addr+uint32(off), b)
}

func (p Pointer) WriteAt(b []byte, off int64) (int, error) {
	return len(b), p.mem.Write(p.addr+uint32(off), b)
}
