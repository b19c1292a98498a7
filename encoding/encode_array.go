package encoding

import (
	"unsafe"

	"github.com/modern-go/reflect2"
)

func encodeArray(typ reflect2.ArrayType) handler {
	count := typ.Len()
	elem := typ.Elem()
	if isByteKind(elem.Kind()) {
		return func(stream Stream, ptr unsafe.Pointer) error {
			_, err := stream.Write(unsafe.Slice((*byte)(ptr), count))
			return err
		}
	}
	marshal := getMarshal(elem)
	return func(stream Stream, ptr unsafe.Pointer) error {
		for i := 0; i < count; i++ {
			if err := marshal(stream, typ.UnsafeGetIndex(ptr, i)); err != nil {
				return err
			}
		}
		return nil
	}
}

func encodeSlice(typ reflect2.SliceType) handler {
	elem := typ.Elem()
	return func(stream Stream, ptr unsafe.Pointer) error {
		n := typ.UnsafeLengthOf(ptr)
		if err := writeUint32(stream, uint32(n)); err != nil {
			return err
		} else if n == 0 {
			return nil
		}
		if isByteKind(elem.Kind()) {
			_, err := stream.Write(unsafe.Slice((*byte)(typ.UnsafeGetIndex(ptr, 0)), n))
			return err
		}
		marshal := getMarshal(elem)
		for i := 0; i < n; i++ {
			if err := marshal(stream, typ.UnsafeGetIndex(ptr, i)); err != nil {
				return err
			}
		}
		return nil
	}
}

func encodeString() handler {
	return func(stream Stream, ptr unsafe.Pointer) error {
		s := *(*string)(ptr)
		if err := writeUint32(stream, uint32(len(s))); err != nil {
			return err
		}
		_, err := stream.Write([]byte(s))
		return err
	}
}
