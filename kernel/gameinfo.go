package kernel

import (
	"encoding/binary"
	"fmt"

	"github.com/wnxd/microxe/encoding"
)

const (
	gameInfoExec = 0x45584543 // EXEC
	gameInfoComm = 0x434F4D4D // COMM
	gameInfoTitl = 0x5449544C // TITL
)

type gameInfoBlock struct {
	Magic uint32
	Size  uint32
}

type GameInfoExec struct {
	VirtualTitleID   uint32
	ModuleName       [0x20]byte
	BuildDescription [0x40]byte
}

type GameInfoComm struct {
	TitleID uint32
}

// GameInfo is the GameInfo.bin descriptor shipped with container-based titles.
type GameInfo struct {
	exec  *GameInfoExec
	comm  *GameInfoComm
	title []byte
}

func ParseGameInfo(data []byte) (*GameInfo, error) {
	stream := encoding.NewByteStream(data, binary.BigEndian)
	info := new(GameInfo)
	for stream.Len() >= 8 {
		var block gameInfoBlock
		if err := encoding.Decode(stream, &block); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidGameInfo, err)
		}
		if int(block.Size) > stream.Len() {
			return nil, fmt.Errorf("%w: block %08X overruns file", ErrInvalidGameInfo, block.Magic)
		}
		body := data[stream.Offset() : stream.Offset()+int(block.Size)]
		stream.Skip(int(block.Size))
		var err error
		switch block.Magic {
		case gameInfoExec:
			info.exec = new(GameInfoExec)
			err = encoding.Decode(encoding.NewByteStream(body, binary.BigEndian), info.exec)
		case gameInfoComm:
			info.comm = new(GameInfoComm)
			err = encoding.Decode(encoding.NewByteStream(body, binary.BigEndian), info.comm)
		case gameInfoTitl:
			info.title = body
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidGameInfo, err)
		}
	}
	if info.exec == nil || info.comm == nil {
		return nil, ErrInvalidGameInfo
	}
	return info, nil
}

func (g *GameInfo) TitleID() uint32 {
	return g.comm.TitleID
}

func (g *GameInfo) VirtualTitleID() uint32 {
	return g.exec.VirtualTitleID
}

func (g *GameInfo) ModuleName() string {
	return cstring(g.exec.ModuleName[:])
}

func (g *GameInfo) BuildDescription() string {
	return cstring(g.exec.BuildDescription[:])
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
