package encoding

import (
	"unsafe"

	"github.com/modern-go/reflect2"
)

func decodeArray(typ reflect2.ArrayType) handler {
	count := typ.Len()
	elem := typ.Elem()
	if isByteKind(elem.Kind()) {
		return func(stream Stream, ptr unsafe.Pointer) error {
			_, err := stream.Read(unsafe.Slice((*byte)(ptr), count))
			return err
		}
	}
	unmarshal := getUnmarshal(elem)
	return func(stream Stream, ptr unsafe.Pointer) error {
		for i := 0; i < count; i++ {
			if err := unmarshal(stream, typ.UnsafeGetIndex(ptr, i)); err != nil {
				return err
			}
		}
		return nil
	}
}

func decodeSlice(typ reflect2.SliceType) handler {
	elem := typ.Elem()
	return func(stream Stream, ptr unsafe.Pointer) error {
		n, err := readUint32(stream)
		if err != nil {
			return err
		} else if n == 0 {
			typ.UnsafeSetNil(ptr)
			return nil
		} else if int(n) > stream.Len() {
			return ErrBlockTooLong
		}
		typ.UnsafeGrow(ptr, int(n))
		if isByteKind(elem.Kind()) {
			_, err = stream.Read(unsafe.Slice((*byte)(typ.UnsafeGetIndex(ptr, 0)), int(n)))
			return err
		}
		unmarshal := getUnmarshal(elem)
		for i := 0; i < int(n); i++ {
			if err = unmarshal(stream, typ.UnsafeGetIndex(ptr, i)); err != nil {
				return err
			}
		}
		return nil
	}
}

func decodeString() handler {
	return func(stream Stream, ptr unsafe.Pointer) error {
		n, err := readUint32(stream)
		if err != nil {
			return err
		} else if int(n) > stream.Len() {
			return ErrBlockTooLong
		}
		buf := make([]byte, n)
		if _, err = stream.Read(buf); err != nil {
			return err
		}
		*(*string)(ptr) = string(buf)
		return nil
	}
}
