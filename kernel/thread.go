package kernel

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wnxd/microxe/cpu"
)

type ThreadParams struct {
	StackSize    uint32
	EntryPoint   uint32
	StartContext uint32
	Suspended    bool
	Main         bool
	GuestThread  bool
}

type XThread struct {
	kernel      *KernelState
	handle      uint32
	id          uint32
	name        string
	main        bool
	suspendable bool
	entry       uint32
	startCtx    uint32
	stackAddr   uint32
	stackSize   uint32
	context     cpu.ThreadContext
	ctx         context.Context
	cancel      context.CancelCauseFunc
	mu          sync.Mutex
	cond        *sync.Cond
	suspend     int
	parked      int
	started     bool
	exit        sync.Once
}

type threadKey struct{}

func WithThread(ctx context.Context, thread *XThread) context.Context {
	return context.WithValue(ctx, threadKey{}, thread)
}

func CurrentThread(ctx context.Context) (*XThread, bool) {
	thread, ok := ctx.Value(threadKey{}).(*XThread)
	return thread, ok
}

func newThread(k *KernelState, handle, id uint32, params ThreadParams) *XThread {
	t := &XThread{
		kernel:      k,
		handle:      handle,
		id:          id,
		main:        params.Main,
		suspendable: params.GuestThread,
		entry:       params.EntryPoint,
		startCtx:    params.StartContext,
		stackSize:   params.StackSize,
	}
	t.cond = sync.NewCond(&t.mu)
	t.ctx, t.cancel = context.WithCancelCause(context.Background())
	if params.Suspended {
		t.suspend = 1
	}
	t.context.PC = params.EntryPoint
	t.context.R[3] = uint64(params.StartContext)
	return t
}

func (t *XThread) Handle() uint32 {
	return t.handle
}

func (t *XThread) ThreadID() uint32 {
	return t.id
}

func (t *XThread) Name() string {
	return t.name
}

func (t *XThread) SetName(name string) {
	t.name = name
}

func (t *XThread) Context() *cpu.ThreadContext {
	return &t.context
}

func (t *XThread) EntryPoint() uint32 {
	return t.entry
}

func (t *XThread) StartContext() uint32 {
	return t.startCtx
}

func (t *XThread) StackAddr() uint32 {
	return t.stackAddr
}

func (t *XThread) IsMain() bool {
	return t.main
}

func (t *XThread) CanDebuggerSuspend() bool {
	return t.suspendable
}

func (t *XThread) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && t.ctx.Err() == nil
}

func (t *XThread) SuspendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspend
}

// Start runs the thread on the processor. A thread created suspended parks at
// its first safe point until resumed.
func (t *XThread) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrThreadStarted
	}
	t.started = true
	t.mu.Unlock()
	go func() {
		err := t.kernel.proc.Execute(WithThread(t.ctx, t), t)
		if err == nil {
			err = ErrThreadExited
		}
		t.Terminate(err)
	}()
	return nil
}

// Suspend raises the suspend count and returns the previous count. The
// thread stops at its next safe point; use WaitSuspended to block until it
// has.
func (t *XThread) Suspend() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.suspend
	t.suspend++
	return prev
}

// WaitSuspended blocks until the thread is parked at a safe point. It returns
// early once the suspension is lifted or the thread is not running.
func (t *XThread) WaitSuspended(ctx context.Context) error {
	stop := context.AfterFunc(ctx, t.wake)
	defer stop()
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.parked == 0 && t.suspend > 0 && t.started && t.ctx.Err() == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.cond.Wait()
	}
	return nil
}

func (t *XThread) IsParked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parked > 0
}

func (t *XThread) Resume() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.suspend
	if t.suspend > 0 {
		t.suspend--
		if t.suspend == 0 {
			t.cond.Broadcast()
		}
	}
	return prev
}

// SafePoint blocks while the thread is suspended.
func (t *XThread) SafePoint(ctx context.Context) error {
	stop := context.AfterFunc(ctx, t.wake)
	defer stop()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.suspend > 0 && t.ctx.Err() == nil && ctx.Err() == nil {
		t.parked++
		t.cond.Broadcast()
		for t.suspend > 0 && t.ctx.Err() == nil && ctx.Err() == nil {
			t.cond.Wait()
		}
		t.parked--
	}
	if t.ctx.Err() != nil {
		return context.Cause(t.ctx)
	}
	return context.Cause(ctx)
}

func (t *XThread) Terminate(cause error) {
	t.mu.Lock()
	t.cancel(cause)
	t.cond.Broadcast()
	t.mu.Unlock()
	t.exit.Do(func() { t.kernel.onThreadExit(t) })
}

func (t *XThread) Done() <-chan struct{} {
	return t.ctx.Done()
}

func (t *XThread) Err() error {
	err := context.Cause(t.ctx)
	if errors.Is(err, ErrThreadExited) {
		err = nil
	}
	return err
}

func (t *XThread) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Done():
		return t.Err()
	}
}

func (t *XThread) wake() {
	t.mu.Lock()
	t.cond.Broadcast()
	t.mu.Unlock()
}

func (t *XThread) record() threadRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return threadRecord{
		Handle:       t.handle,
		ID:           t.id,
		Name:         t.name,
		Main:         t.main,
		Suspendable:  t.suspendable,
		Entry:        t.entry,
		StartContext: t.startCtx,
		StackAddr:    t.stackAddr,
		StackSize:    t.stackSize,
		SuspendCount: uint32(t.suspend),
		Context:      t.context,
	}
}

func (t *XThread) logFields() []zap.Field {
	return []zap.Field{zap.Uint32("thread_id", t.id), zap.Uint32("handle", t.handle), zap.Bool("main", t.main)}
}
