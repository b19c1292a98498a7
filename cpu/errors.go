package cpu

import (
	"errors"
	"fmt"
)

var (
	ErrBackendNotFound  = errors.New("backend not found")
	ErrExportNotFound   = errors.New("export not found")
	ErrLibraryNotFound  = errors.New("library not found")
	ErrModuleExists     = errors.New("module already registered")
	ErrNotVariable      = errors.New("export is not a variable")
	ErrThreadTerminated = errors.New("thread terminated")
)

type ExceptionCode int

const (
	ExceptionIllegalInstruction ExceptionCode = iota
	ExceptionAccessViolation
	ExceptionTrap
)

type Exception struct {
	Code    ExceptionCode
	PC      uint64
	Address uint64
	Thread  Thread
}

func (c ExceptionCode) String() string {
	switch c {
	case ExceptionIllegalInstruction:
		return "illegal instruction"
	case ExceptionAccessViolation:
		return "access violation"
	case ExceptionTrap:
		return "trap"
	}
	return "unknown"
}

func (e *Exception) Error() string {
	if e.Thread == nil {
		return fmt.Sprintf("[%s] pc: %016X, addr: %016X", e.Code, e.PC, e.Address)
	}
	return fmt.Sprintf("[%s] thread: %08X, pc: %016X, addr: %016X", e.Code, e.Thread.ThreadID(), e.PC, e.Address)
}
