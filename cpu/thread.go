package cpu

import "context"

type ThreadContext struct {
	R   [32]uint64
	F   [32]float64
	V   [128][4]uint32
	LR  uint64
	CTR uint64
	CR  uint64
	XER uint64
	PC  uint32
}

type Thread interface {
	ThreadID() uint32
	Context() *ThreadContext
	EntryPoint() uint32
	StartContext() uint32
	// SafePoint parks the calling goroutine while the thread is suspended.
	// Execute must reach one between guest blocks so Pause can complete.
	SafePoint(ctx context.Context) error
}
