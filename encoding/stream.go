package encoding

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	ErrNotPointer   = errors.New("value is not a non-nil pointer")
	ErrStreamFull   = errors.New("stream full")
	ErrBlockTooLong = errors.New("block length exceeds stream")
)

type Stream interface {
	ByteOrder() binary.ByteOrder
	Offset() int
	Len() int
	Skip(int) error
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	ReadStream() (Stream, error)
	WriteStream(int) (Stream, error)
}

type ByteStream struct {
	data  []byte
	off   int
	order binary.ByteOrder
	fixed bool
}

func NewByteStream(data []byte, order binary.ByteOrder) *ByteStream {
	return &ByteStream{data: data, order: order, fixed: true}
}

func NewWriteStream(order binary.ByteOrder) *ByteStream {
	return &ByteStream{order: order}
}

func (s *ByteStream) ByteOrder() binary.ByteOrder {
	return s.order
}

func (s *ByteStream) Offset() int {
	return s.off
}

func (s *ByteStream) Len() int {
	return len(s.data) - s.off
}

func (s *ByteStream) Bytes() []byte {
	return s.data[:s.off]
}

func (s *ByteStream) Seek(off int) error {
	if off < 0 || off > len(s.data) {
		return io.ErrUnexpectedEOF
	}
	s.off = off
	return nil
}

func (s *ByteStream) Skip(n int) error {
	if err := s.reserve(n); err != nil {
		return err
	}
	s.off += n
	return nil
}

func (s *ByteStream) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	} else if s.off >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(b, s.data[s.off:])
	s.off += n
	if n < len(b) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (s *ByteStream) Write(b []byte) (int, error) {
	if err := s.reserve(len(b)); err != nil {
		return 0, err
	}
	n := copy(s.data[s.off:], b)
	s.off += n
	return n, nil
}

func (s *ByteStream) ReadStream() (Stream, error) {
	n, err := s.ReadUint32()
	if err != nil {
		return nil, err
	} else if int(n) > s.Len() {
		return nil, ErrBlockTooLong
	}
	sub := NewByteStream(s.data[s.off:s.off+int(n)], s.order)
	s.off += int(n)
	return sub, nil
}

// WriteStream writes a length prefix and returns a view over the next n bytes.
// The view must be filled before the parent is written again.
func (s *ByteStream) WriteStream(n int) (Stream, error) {
	if err := s.WriteUint32(uint32(n)); err != nil {
		return nil, err
	}
	if err := s.reserve(n); err != nil {
		return nil, err
	}
	sub := NewByteStream(s.data[s.off:s.off+n], s.order)
	s.off += n
	return sub, nil
}

func (s *ByteStream) ReadUint8() (uint8, error) {
	var b [1]byte
	_, err := s.Read(b[:])
	return b[0], err
}

func (s *ByteStream) WriteUint8(v uint8) error {
	_, err := s.Write([]byte{v})
	return err
}

func (s *ByteStream) ReadUint32() (uint32, error) {
	var b [4]byte
	if _, err := s.Read(b[:]); err != nil {
		return 0, err
	}
	return s.order.Uint32(b[:]), nil
}

func (s *ByteStream) WriteUint32(v uint32) error {
	return writeUint32(s, v)
}

func (s *ByteStream) reserve(n int) error {
	end := s.off + n
	if end <= len(s.data) {
		return nil
	} else if s.fixed {
		return ErrStreamFull
	}
	if end > cap(s.data) {
		grown := make([]byte, end, max(end, 2*cap(s.data)))
		copy(grown, s.data)
		s.data = grown
	} else {
		s.data = s.data[:end]
	}
	return nil
}
