package threading

import (
	"context"
	"sync"
)

// Fence is a single-shot signal that can be re-armed. Waiters block until the
// armed generation is signaled; a signaled fence stays open until Arm.
type Fence struct {
	mu sync.Mutex
	ch chan struct{}
}

func NewFence() *Fence {
	ch := make(chan struct{})
	close(ch)
	return &Fence{ch: ch}
}

func (f *Fence) Arm() {
	f.mu.Lock()
	select {
	case <-f.ch:
		f.ch = make(chan struct{})
	default:
	}
	f.mu.Unlock()
}

func (f *Fence) Signal() {
	f.mu.Lock()
	select {
	case <-f.ch:
	default:
		close(f.ch)
	}
	f.mu.Unlock()
}

func (f *Fence) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}

func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.Done():
		return nil
	}
}
