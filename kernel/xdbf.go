package kernel

import (
	"encoding/binary"
	"fmt"

	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/memory"
)

const (
	xdbfMagic = 0x58444246 // XDBF
	xstrMagic = 0x58535452 // XSTR

	XdbfSectionMetadata    = 0x0001
	XdbfSectionImage       = 0x0002
	XdbfSectionStringTable = 0x0003

	XdbfIDTitle         = 0x8000
	XdbfLanguageEnglish = 1
)

type xdbfHeader struct {
	Magic      uint32
	Version    uint32
	EntryCount uint32
	EntryUsed  uint32
	FreeCount  uint32
	FreeUsed   uint32
}

type XdbfEntry struct {
	Section uint16
	ID      uint64
	Offset  uint32
	Size    uint32
}

type xstrHeader struct {
	Magic   uint32
	Version uint32
	Size    uint32
	Count   uint16
}

// Xdbf is the title metadata database embedded in an executable's resources.
type Xdbf struct {
	entries []XdbfEntry
	content []byte
}

const (
	xdbfHeaderSize = 24
	xdbfEntrySize  = 18
	xdbfFreeSize   = 8
)

func ParseXdbf(data []byte) (*Xdbf, error) {
	stream := encoding.NewByteStream(data, binary.BigEndian)
	var header xdbfHeader
	if err := encoding.Decode(stream, &header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidXdbf, err)
	} else if header.Magic != xdbfMagic {
		return nil, ErrInvalidXdbf
	}
	base := uint64(xdbfHeaderSize) + uint64(header.EntryCount)*xdbfEntrySize + uint64(header.FreeCount)*xdbfFreeSize
	if header.EntryUsed > header.EntryCount || base > uint64(len(data)) {
		return nil, ErrInvalidXdbf
	}
	db := &Xdbf{entries: make([]XdbfEntry, header.EntryUsed), content: data[base:]}
	for i := range db.entries {
		if err := encoding.Decode(stream, &db.entries[i]); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidXdbf, err)
		}
		if e := db.entries[i]; uint64(e.Offset)+uint64(e.Size) > uint64(len(db.content)) {
			return nil, fmt.Errorf("%w: entry %d overruns file", ErrInvalidXdbf, i)
		}
	}
	return db, nil
}

func (x *Xdbf) Entries() []XdbfEntry {
	return x.entries
}

func (x *Xdbf) Entry(section uint16, id uint64) ([]byte, bool) {
	for _, e := range x.entries {
		if e.Section == section && e.ID == id {
			return x.content[e.Offset : e.Offset+e.Size], true
		}
	}
	return nil, false
}

func (x *Xdbf) LocalizedString(language uint64, id uint16) (string, bool) {
	table, ok := x.Entry(XdbfSectionStringTable, language)
	if !ok {
		return "", false
	}
	stream := encoding.NewByteStream(table, binary.BigEndian)
	var header xstrHeader
	if err := encoding.Decode(stream, &header); err != nil || header.Magic != xstrMagic {
		return "", false
	}
	for range header.Count {
		var rec struct{ ID, Length uint16 }
		if err := encoding.Decode(stream, &rec); err != nil || int(rec.Length) > stream.Len() {
			return "", false
		}
		off := stream.Offset()
		stream.Skip(int(rec.Length))
		if rec.ID == id {
			return string(table[off : off+int(rec.Length)]), true
		}
	}
	return "", false
}

func (x *Xdbf) Title() string {
	title, _ := x.LocalizedString(XdbfLanguageEnglish, XdbfIDTitle)
	return title
}

func (x *Xdbf) Icon() []byte {
	icon, _ := x.Entry(XdbfSectionImage, XdbfIDTitle)
	return icon
}

// ReadXdbf loads the metadata database from the resource named after the
// module's title id.
func ReadXdbf(mem *memory.Memory, module *UserModule) (*Xdbf, error) {
	addr, size, err := module.GetSection(fmt.Sprintf("%08X", module.TitleID()))
	if err != nil {
		return nil, err
	}
	data := make([]byte, size)
	if err = mem.Read(addr, data); err != nil {
		return nil, err
	}
	return ParseXdbf(data)
}
