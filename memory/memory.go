package memory

import (
	"encoding/binary"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/internal/align"
)

const (
	PageSize = 0x1000

	SystemHeapBase = 0x40000000
	SystemHeapSize = 0x10000000
)

type page struct {
	data [PageSize]byte
	prot Prot
}

type Memory struct {
	mu       sync.RWMutex
	pages    map[uint32]*page
	heapNext uint32
	allocs   map[uint32]uint32
}

type pageRecord struct {
	Addr uint32
	Prot Prot
	Data []byte
}

type allocRecord struct {
	Addr, Size uint32
}

type snapshot struct {
	Pages    []pageRecord
	HeapNext uint32
	Allocs   []allocRecord
}

func New() *Memory {
	return &Memory{
		pages:    make(map[uint32]*page),
		heapNext: SystemHeapBase,
		allocs:   make(map[uint32]uint32),
	}
}

func (m *Memory) ByteOrder() binary.ByteOrder {
	return binary.BigEndian
}

func (m *Memory) Map(addr, size uint32, prot Prot) error {
	if addr%PageSize != 0 || size == 0 {
		return ErrAddressInvalid
	}
	end := uint64(addr) + uint64(align.Up(size, PageSize))
	if end > 1<<32 {
		return ErrAddressInvalid
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for pa := uint64(addr); pa < end; pa += PageSize {
		if p, ok := m.pages[uint32(pa)]; ok {
			p.prot = prot
		} else {
			m.pages[uint32(pa)] = &page{prot: prot}
		}
	}
	return nil
}

func (m *Memory) Unmap(addr, size uint32) error {
	if addr%PageSize != 0 {
		return ErrAddressInvalid
	}
	end := uint64(addr) + uint64(align.Up(size, PageSize))
	m.mu.Lock()
	for pa := uint64(addr); pa < end; pa += PageSize {
		delete(m.pages, uint32(pa))
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Protect(addr, size uint32, prot Prot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pa := range m.span(addr, size) {
		p, ok := m.pages[pa]
		if !ok {
			return ErrUnmapped
		}
		p.prot = prot
	}
	return nil
}

func (m *Memory) IsMapped(addr uint32) bool {
	m.mu.RLock()
	_, ok := m.pages[align.Down(addr, PageSize)]
	m.mu.RUnlock()
	return ok
}

func (m *Memory) Regions() []Region {
	m.mu.RLock()
	addrs := slices.Sorted(maps.Keys(m.pages))
	var regions []Region
	for _, addr := range addrs {
		prot := m.pages[addr].prot
		if n := len(regions) - 1; n >= 0 && regions[n].Addr+regions[n].Size == addr && regions[n].Prot == prot {
			regions[n].Size += PageSize
		} else {
			regions = append(regions, Region{Addr: addr, Size: PageSize, Prot: prot})
		}
	}
	m.mu.RUnlock()
	return regions
}

func (m *Memory) Read(addr uint32, b []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access(addr, b, false)
}

func (m *Memory) Write(addr uint32, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access(addr, b, true)
}

func (m *Memory) Zero(addr, size uint32) error {
	return m.Write(addr, make([]byte, size))
}

func (m *Memory) Pointer(addr uint32) Pointer {
	return Pointer{m, addr}
}

func (m *Memory) SystemHeapAlloc(size, alignment uint32) (uint32, error) {
	if size == 0 {
		return 0, ErrAddressInvalid
	}
	alignment = max(alignment, PageSize)
	m.mu.Lock()
	addr := align.Up(m.heapNext, alignment)
	size = align.Up(size, PageSize)
	if uint64(addr)+uint64(size) > SystemHeapBase+SystemHeapSize {
		m.mu.Unlock()
		return 0, ErrOutOfMemory
	}
	m.heapNext = addr + size
	m.allocs[addr] = size
	for pa := addr; pa < addr+size; pa += PageSize {
		m.pages[pa] = &page{prot: ProtRead | ProtWrite}
	}
	m.mu.Unlock()
	return addr, nil
}

func (m *Memory) SystemHeapFree(addr uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	size, ok := m.allocs[addr]
	if !ok {
		return ErrAddressInvalid
	}
	delete(m.allocs, addr)
	for pa := addr; pa < addr+size; pa += PageSize {
		delete(m.pages, pa)
	}
	return nil
}

func (m *Memory) Save(stream encoding.Stream) error {
	m.mu.RLock()
	var snap snapshot
	for _, addr := range slices.Sorted(maps.Keys(m.pages)) {
		p := m.pages[addr]
		snap.Pages = append(snap.Pages, pageRecord{Addr: addr, Prot: p.prot, Data: slices.Clone(p.data[:])})
	}
	snap.HeapNext = m.heapNext
	for _, addr := range slices.Sorted(maps.Keys(m.allocs)) {
		snap.Allocs = append(snap.Allocs, allocRecord{addr, m.allocs[addr]})
	}
	m.mu.RUnlock()
	return encoding.Encode(stream, &snap)
}

func (m *Memory) Restore(stream encoding.Stream) error {
	var snap snapshot
	if err := encoding.Decode(stream, &snap); err != nil {
		return err
	}
	pages := make(map[uint32]*page, len(snap.Pages))
	for _, rec := range snap.Pages {
		if rec.Addr%PageSize != 0 || len(rec.Data) != PageSize {
			return ErrAddressInvalid
		}
		p := &page{prot: rec.Prot}
		copy(p.data[:], rec.Data)
		pages[rec.Addr] = p
	}
	allocs := make(map[uint32]uint32, len(snap.Allocs))
	for _, rec := range snap.Allocs {
		allocs[rec.Addr] = rec.Size
	}
	m.mu.Lock()
	m.pages, m.heapNext, m.allocs = pages, snap.HeapNext, allocs
	m.mu.Unlock()
	return nil
}

func (m *Memory) span(addr, size uint32) iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		if size == 0 {
			return
		}
		end := uint64(addr) + uint64(size)
		for pa := uint64(align.Down(addr, PageSize)); pa < end; pa += PageSize {
			if !yield(uint32(pa)) {
				return
			}
		}
	}
}

func (m *Memory) access(addr uint32, b []byte, write bool) error {
	if uint64(addr)+uint64(len(b)) > 1<<32 {
		return ErrAddressInvalid
	}
	for pa := range m.span(addr, uint32(len(b))) {
		if _, ok := m.pages[pa]; !ok {
			return ErrUnmapped
		}
	}
	for len(b) > 0 {
		p := m.pages[align.Down(addr, PageSize)]
		off := addr % PageSize
		var n int
		if write {
			n = copy(p.data[off:], b)
		} else {
			n = copy(b, p.data[off:])
		}
		b = b[n:]
		addr += uint32(n)
	}
	return nil
}
