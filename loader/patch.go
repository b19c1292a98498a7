package loader

import (
	"encoding/binary"
	"fmt"
)

type deltaOp struct {
	DeltaBlock
	data []byte
}

// IsPatchApplicable reports whether m patches the exact title and version of base.
func (m *XexModule) IsPatchApplicable(base *XexModule) bool {
	if m.patch == nil || m.exec == nil || base.exec == nil {
		return false
	}
	return m.exec.TitleID == base.exec.TitleID && m.patch.SourceVersion == base.exec.Version
}

func (m *XexModule) ApplyPatch(base *XexModule) error {
	if m.patch == nil {
		return ErrNotPatch
	} else if !m.IsPatchApplicable(base) {
		return ErrPatchNotApplicable
	} else if m.delta == nil || base.image == nil {
		return ErrNoImage
	}
	ops, err := m.deltaOps(uint32(len(base.image)))
	if err != nil {
		return err
	}
	for _, op := range ops {
		dst := base.image[op.NewAddr : op.NewAddr+uint32(op.UncompressedLen)]
		switch op.CompressedLen {
		case 0:
			clear(dst)
		case 1:
			copy(dst, base.image[op.OldAddr:op.OldAddr+uint32(op.UncompressedLen)])
		default:
			copy(dst, op.data)
		}
	}
	base.setVersion(m.patch.TargetVersion)
	return nil
}

func (m *XexModule) deltaOps(size uint32) ([]deltaOp, error) {
	var ops []deltaOp
	for off := uint32(0); uint64(off)+deltaBlockSize <= uint64(len(m.delta)); {
		var op deltaOp
		if err := decodeAt(m.delta, off, &op.DeltaBlock); err != nil {
			return nil, err
		} else if op.DeltaBlock == (DeltaBlock{}) {
			break
		}
		off += deltaBlockSize
		n := uint32(op.UncompressedLen)
		if uint64(op.NewAddr)+uint64(n) > uint64(size) {
			return nil, fmt.Errorf("%w: delta block target %#x+%#x", ErrMalformed, op.NewAddr, n)
		}
		switch op.CompressedLen {
		case 0:
		case 1:
			if uint64(op.OldAddr)+uint64(n) > uint64(size) {
				return nil, fmt.Errorf("%w: delta block source %#x+%#x", ErrMalformed, op.OldAddr, n)
			}
		default:
			if op.CompressedLen != op.UncompressedLen {
				return nil, fmt.Errorf("%w: compressed delta block", ErrNotImplemented)
			} else if uint64(off)+uint64(n) > uint64(len(m.delta)) {
				return nil, fmt.Errorf("%w: delta block data at %#x", ErrMalformed, off)
			}
			op.data = m.delta[off : off+n]
			off += n
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (m *XexModule) setVersion(v Version) {
	if m.exec == nil {
		return
	}
	m.exec.Version = v
	binary.BigEndian.PutUint32(m.blob[m.execOff+4:], uint32(v))
}
