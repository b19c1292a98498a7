package emulator

import "errors"

var (
	ErrUnsuccessful    = errors.New("unsuccessful")
	ErrNotImplemented  = errors.New("not implemented")
	ErrNoSuchFile      = errors.New("no such file")
	ErrNotFound        = errors.New("not found")
	ErrNoTitle         = errors.New("no title open")
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
	ErrTitleMismatch   = errors.New("snapshot belongs to another title")
	ErrRestoreFailed   = errors.New("restore failed")
	ErrNotSetup        = errors.New("emulator not set up")
)
