package encoding

import (
	"iter"
	"unsafe"

	"github.com/modern-go/reflect2"
)

type structData struct {
	handler handler
	offset  uintptr
}

func encodeStruct(typ reflect2.StructType) handler {
	var fields []structData
	for field := range rangeField(typ) {
		fields = append(fields, structData{getMarshal(field.Type()), field.Offset()})
	}
	return func(stream Stream, ptr unsafe.Pointer) error {
		for _, data := range fields {
			if err := data.handler(stream, unsafe.Add(ptr, data.offset)); err != nil {
				return err
			}
		}
		return nil
	}
}

func rangeField(typ reflect2.StructType) iter.Seq[reflect2.StructField] {
	return func(yield func(reflect2.StructField) bool) {
		count := typ.NumField()
		for i := 0; i < count; i++ {
			field := typ.Field(i)
			if field.Tag().Get("encoding") == "ignore" {
				continue
			}
			if !yield(field) {
				break
			}
		}
	}
}
