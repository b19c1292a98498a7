package memory

import "errors"

var (
	ErrAddressInvalid = errors.New("address invalid")
	ErrUnmapped       = errors.New("address not mapped")
	ErrAccessDenied   = errors.New("access denied")
	ErrOutOfMemory    = errors.New("out of memory")
)
