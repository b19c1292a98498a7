package encoding

import (
	"encoding/binary"
	"reflect"
	"sync"
	"unsafe"

	"github.com/modern-go/reflect2"
)

type handler = func(Stream, unsafe.Pointer) error

var encodeProcess sync.Map

func Encode(stream Stream, val any) error {
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
	return getMarshal(typ.(reflect2.PtrType).Elem())(stream, ptr)
}

func getMarshal(typ reflect2.Type) handler {
	if v, ok := encodeProcess.Load(typ.RType()); ok {
		return v.(handler)
	}
	marshal := encode(typ)
	encodeProcess.Store(typ.RType(), marshal)
	return marshal
}

func encode(typ reflect2.Type) handler {
	switch typ.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8, reflect.Int16, reflect.Uint16, reflect.Int32, reflect.Uint32, reflect.Int64, reflect.Uint64, reflect.Float32, reflect.Float64:
		size := int(typ.Type1().Size())
		return func(stream Stream, ptr unsafe.Pointer) error {
			var buf [8]byte
			putScalar(stream.ByteOrder(), buf[:size], ptr)
			_, err := stream.Write(buf[:size])
			return err
		}
	case reflect.Int:
		return func(stream Stream, ptr unsafe.Pointer) error {
			return writeUint64(stream, uint64(int64(*(*int)(ptr))))
		}
	case reflect.Uint, reflect.Uintptr:
		return func(stream Stream, ptr unsafe.Pointer) error {
			return writeUint64(stream, uint64(*(*uintptr)(ptr)))
		}
	case reflect.Array:
		return encodeArray(typ.(reflect2.ArrayType))
	case reflect.Pointer:
		return encodePointer(typ.(reflect2.PtrType))
	case reflect.Slice:
		return encodeSlice(typ.(reflect2.SliceType))
	case reflect.String:
		return encodeString()
	case reflect.Struct:
		return encodeStruct(typ.(reflect2.StructType))
	}
	panic("Unsupported Type")
}

func encodePointer(typ reflect2.PtrType) handler {
	elem := typ.Elem()
	return func(stream Stream, ptr unsafe.Pointer) error {
		p := *(*unsafe.Pointer)(ptr)
		if p == nil {
			_, err := stream.Write([]byte{0})
			return err
		}
		if _, err := stream.Write([]byte{1}); err != nil {
			return err
		}
		return getMarshal(elem)(stream, p)
	}
}

func putScalar(order binary.ByteOrder, b []byte, ptr unsafe.Pointer) {
	switch len(b) {
	case 1:
		b[0] = *(*byte)(ptr)
	case 2:
		order.PutUint16(b, *(*uint16)(ptr))
	case 4:
		order.PutUint32(b, *(*uint32)(ptr))
	case 8:
		order.PutUint64(b, *(*uint64)(ptr))
	}
}

func writeUint32(stream Stream, v uint32) error {
	var b [4]byte
	stream.ByteOrder().PutUint32(b[:], v)
	_, err := stream.Write(b[:])
	return err
}

func writeUint64(stream Stream, v uint64) error {
	var b [8]byte
	stream.ByteOrder().PutUint64(b[:], v)
	_, err := stream.Write(b[:])
	return err
}

func isByteKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return true
	}
	return false
}
