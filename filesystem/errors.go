package filesystem

import "errors"

var (
	ErrReadOnly          = errors.New("read-only filesystem")
	ErrDeviceExists      = errors.New("device already registered")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrDeviceInit        = errors.New("device initialization failed")
	ErrLinkExists        = errors.New("symbolic link already registered")
	ErrLinkNotFound      = errors.New("symbolic link not found")
	ErrFormatUnsupported = errors.New("image format unsupported")
	ErrNotDirectory      = errors.New("not a directory")
)
