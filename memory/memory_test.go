package memory

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/wnxd/microxe/encoding"
)

func TestReadWriteAcrossPages(t *testing.T) {
	m := New()
	if err := m.Map(0x82000000, 2*PageSize, ProtRead|ProtWrite); err != nil {
		t.Fatal(err)
	}
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	addr := uint32(0x82000000 + PageSize - 4)
	if err := m.Write(addr, data); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(data))
	if err := m.Read(addr, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got % X", got)
	}
}

func TestUnmapped(t *testing.T) {
	m := New()
	if err := m.Map(0x10000, PageSize, ProtRead); err != nil {
		t.Fatal(err)
	}
	if err := m.Read(0x10000+PageSize-2, make([]byte, 4)); !errors.Is(err, ErrUnmapped) {
		t.Fatalf("got %v", err)
	}
	if err := m.Map(0x10001, PageSize, ProtRead); !errors.Is(err, ErrAddressInvalid) {
		t.Fatalf("got %v", err)
	}
	if err := m.Unmap(0x10000, PageSize); err != nil {
		t.Fatal(err)
	}
	if m.IsMapped(0x10000) {
		t.Fatal("page still mapped")
	}
}

func TestRegionsCoalesce(t *testing.T) {
	m := New()
	m.Map(0x1000, 2*PageSize, ProtRead)
	m.Map(0x3000, PageSize, ProtRead)
	m.Map(0x4000, PageSize, ProtAll)
	regions := m.Regions()
	want := []Region{{0x1000, 3 * PageSize, ProtRead}, {0x4000, PageSize, ProtAll}}
	if len(regions) != len(want) {
		t.Fatalf("got %v", regions)
	}
	for i := range want {
		if regions[i] != want[i] {
			t.Fatalf("region %d: got %v, want %v", i, regions[i], want[i])
		}
	}
}

func TestSystemHeap(t *testing.T) {
	m := New()
	a, err := m.SystemHeapAlloc(0x10, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.SystemHeapAlloc(0x2000, 0x10000)
	if err != nil {
		t.Fatal(err)
	}
	if a != SystemHeapBase || b%0x10000 != 0 || b <= a {
		t.Fatalf("a=%08X b=%08X", a, b)
	}
	if err = m.SystemHeapFree(a); err != nil {
		t.Fatal(err)
	}
	if err = m.SystemHeapFree(a); !errors.Is(err, ErrAddressInvalid) {
		t.Fatalf("got %v", err)
	}
	if m.IsMapped(a) || !m.IsMapped(b+PageSize) {
		t.Fatal("unexpected mapping state")
	}
}

func TestPointer(t *testing.T) {
	m := New()
	addr, _ := m.SystemHeapAlloc(PageSize*2, 0)
	p := m.Pointer(addr)
	if err := p.WriteUint32(0x82000100); err != nil {
		t.Fatal(err)
	}
	raw, _ := p.Read(4)
	if !bytes.Equal(raw, []byte{0x82, 0x00, 0x01, 0x00}) {
		t.Fatalf("not big endian: % X", raw)
	}
	name := "xboxkrnl.exe"
	str := p.Add(PageSize - 5)
	if err := str.Write(append([]byte(name), 0)); err != nil {
		t.Fatal(err)
	}
	got, err := str.ReadString()
	if err != nil || got != name {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSaveRestore(t *testing.T) {
	m := New()
	m.Map(0x82000000, PageSize, ProtRead|ProtExec)
	m.Write(0x82000010, []byte("guest"))
	heap, _ := m.SystemHeapAlloc(0x100, 0)
	s := encoding.NewWriteStream(binary.BigEndian)
	if err := m.Save(s); err != nil {
		t.Fatal(err)
	}
	r := New()
	if err := r.Restore(encoding.NewByteStream(s.Bytes(), binary.BigEndian)); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 5)
	if err := r.Read(0x82000010, got); err != nil || string(got) != "guest" {
		t.Fatalf("got %q, %v", got, err)
	}
	if err := r.SystemHeapFree(heap); err != nil {
		t.Fatal(err)
	}
	next, _ := r.SystemHeapAlloc(1, 0)
	if next <= heap {
		t.Fatalf("heap cursor not restored: %08X", next)
	}
}
