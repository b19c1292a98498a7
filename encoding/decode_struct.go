package encoding

import (
	"unsafe"

	"github.com/modern-go/reflect2"
)

func decodeStruct(typ reflect2.StructType) handler {
	var fields []structData
	for field := range rangeField(typ) {
		fields = append(fields, structData{getUnmarshal(field.Type()), field.Offset()})
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
