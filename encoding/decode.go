package encoding

import (
	"encoding/binary"
	"reflect"
	"sync"
	"unsafe"

	"github.com/modern-go/reflect2"
)

var decodeProcess sync.Map

func Decode(stream Stream, val any) error {
	if val == nil {
		return ErrNotPointer
	}
	typ := reflect2.TypeOf(val)
	if typ.Kind() != reflect.Pointer {
		return ErrNotPointer
	}
	ptr := reflect2.PtrOf(val)
	if ptr == nil {
		return ErrNotPointer
	}
	return getUnmarshal(typ.(reflect2.PtrType).Elem())(stream, ptr)
}

func getUnmarshal(typ reflect2.Type) handler {
	if v, ok := decodeProcess.Load(typ.RType()); ok {
		return v.(handler)
	}
	unmarshal := decode(typ)
	decodeProcess.Store(typ.RType(), unmarshal)
	return unmarshal
}

func decode(typ reflect2.Type) handler {
	switch typ.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8, reflect.Int16, reflect.Uint16, reflect.Int32, reflect.Uint32, reflect.Int64, reflect.Uint64, reflect.Float32, reflect.Float64:
		size := int(typ.Type1().Size())
		return func(stream Stream, ptr unsafe.Pointer) error {
			var buf [8]byte
			if _, err := stream.Read(buf[:size]); err != nil {
				return err
			}
			getScalar(stream.ByteOrder(), buf[:size], ptr)
			return nil
		}
	case reflect.Int:
		return func(stream Stream, ptr unsafe.Pointer) error {
			v, err := readUint64(stream)
			if err == nil {
				*(*int)(ptr) = int(int64(v))
			}
			return err
		}
	case reflect.Uint, reflect.Uintptr:
		return func(stream Stream, ptr unsafe.Pointer) error {
			v, err := readUint64(stream)
			if err == nil {
				*(*uintptr)(ptr) = uintptr(v)
			}
			return err
		}
	case reflect.Array:
		return decodeArray(typ.(reflect2.ArrayType))
	case reflect.Pointer:
		return decodePointer(typ.(reflect2.PtrType))
	case reflect.Slice:
		return decodeSlice(typ.(reflect2.SliceType))
	case reflect.String:
		return decodeString()
	case reflect.Struct:
		return decodeStruct(typ.(reflect2.StructType))
	}
	panic("Unsupported Type")
}

func decodePointer(typ reflect2.PtrType) handler {
	elem := typ.Elem()
	return func(stream Stream, ptr unsafe.Pointer) error {
		var present [1]byte
		if _, err := stream.Read(present[:]); err != nil {
			return err
		}
		if present[0] == 0 {
			*(*unsafe.Pointer)(ptr) = nil
			return nil
		}
		p := *(*unsafe.Pointer)(ptr)
		if p == nil {
			p = elem.UnsafeNew()
			*(*unsafe.Pointer)(ptr) = p
		}
		return getUnmarshal(elem)(stream, p)
	}
}

func getScalar(order binary.ByteOrder, b []byte, ptr unsafe.Pointer) {
	switch len(b) {
	case 1:
		*(*byte)(ptr) = b[0]
	case 2:
		*(*uint16)(ptr) = order.Uint16(b)
	case 4:
		*(*uint32)(ptr) = order.Uint32(b)
	case 8:
		*(*uint64)(ptr) = order.Uint64(b)
	}
}

func readUint32(stream Stream) (uint32, error) {
	var b [4]byte
	if _, err := stream.Read(b[:]); err != nil {
		return 0, err
	}
	return stream.ByteOrder().Uint32(b[:]), nil
}

func readUint64(stream Stream) (uint64, error) {
	var b [8]byte
	if _, err := stream.Read(b[:]); err != nil {
		return 0, err
	}
	return stream.ByteOrder().Uint64(b[:]), nil
}
