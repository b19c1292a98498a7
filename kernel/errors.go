package kernel

import "errors"

var (
	ErrNoSuchFile      = errors.New("no such file")
	ErrNotFound        = errors.New("not found")
	ErrNotImplemented  = errors.New("not implemented")
	ErrUnsuccessful    = errors.New("unsuccessful")
	ErrModuleNotFound  = errors.New("module not found")
	ErrModuleNotReady  = errors.New("module not ready")
	ErrNotExecutable   = errors.New("module is not executable")
	ErrObjectNotFound  = errors.New("object not found")
	ErrThreadStarted   = errors.New("thread already started")
	ErrThreadExited    = errors.New("thread exited")
	ErrInvalidSnapshot = errors.New("invalid kernel snapshot")
	ErrInvalidXdbf     = errors.New("invalid xdbf data")
	ErrInvalidGameInfo = errors.New("invalid game info")
)
