package emulator

import (
	"context"
	"maps"

	"go.uber.org/zap"

	"github.com/wnxd/microxe/kernel"
)

func (e *Emulator) Pause() {
	e.pause(context.Background(), nil)
}

// PauseFrom pauses on behalf of the guest thread bound to ctx, which keeps
// running. Waiting for the other threads ends early when ctx is done.
func (e *Emulator) PauseFrom(ctx context.Context) {
	self, _ := kernel.CurrentThread(ctx)
	e.pause(ctx, self)
}

// pause suspends every running guest thread except self and waits for each
// to park. Subsystems are paused before the thread table is read.
func (e *Emulator) pause(ctx context.Context, self *kernel.XThread) {
	if e.kernel == nil || !e.paused.CompareAndSwap(false, true) {
		return
	}
	e.graphics.Pause()
	if e.audio != nil {
		e.audio.Pause()
	}
	var suspended []*kernel.XThread
	for _, thread := range e.threads() {
		if thread == self || !thread.CanDebuggerSuspend() || !thread.IsRunning() {
			continue
		}
		thread.Suspend()
		suspended = append(suspended, thread)
	}
	for _, thread := range suspended {
		if err := thread.WaitSuspended(ctx); err != nil {
			e.logger.Warn("pause interrupted", zap.Uint32("thread_id", thread.ThreadID()), zap.Error(err))
			break
		}
	}
	e.logger.Info("emulator paused")
}

func (e *Emulator) Resume() {
	if e.kernel == nil || !e.paused.CompareAndSwap(true, false) {
		return
	}
	e.graphics.Resume()
	if e.audio != nil {
		e.audio.Resume()
	}
	e.mu.Lock()
	crashed := maps.Clone(e.crashed)
	e.mu.Unlock()
	for _, thread := range e.threads() {
		if _, ok := crashed[thread]; ok || !thread.CanDebuggerSuspend() || !thread.IsRunning() {
			continue
		}
		thread.Resume()
	}
	e.logger.Info("emulator resumed")
}

func (e *Emulator) threads() []*kernel.XThread {
	lock := e.kernel.GlobalLock()
	lock.Lock()
	defer lock.Unlock()
	return e.kernel.Threads()
}
