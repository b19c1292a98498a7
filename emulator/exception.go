package emulator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wnxd/microxe/cpu"
	"github.com/wnxd/microxe/kernel"
)

type Triage int

const (
	PassThrough Triage = iota
	ForwardToExternalDebugger
	HandleViaInternalDebugger
	GuestCrash
)

func (t Triage) String() string {
	switch t {
	case PassThrough:
		return "pass through"
	case ForwardToExternalDebugger:
		return "external debugger"
	case HandleViaInternalDebugger:
		return "internal debugger"
	case GuestCrash:
		return "guest crash"
	}
	return "unknown"
}

// Classify decides who owns ex. Debuggers are consulted before the code
// cache range.
func (e *Emulator) Classify(ex *cpu.Exception) Triage {
	internal := e.proc != nil && e.proc.IsDebuggerAttached()
	if !internal && e.exceptions != nil && e.exceptions.IsDebuggerAttached() {
		return ForwardToExternalDebugger
	} else if internal {
		return HandleViaInternalDebugger
	}
	if e.proc == nil || e.proc.Backend() == nil {
		return PassThrough
	}
	if !cpu.InCodeCache(e.proc.Backend().CodeCache(), ex.PC) {
		return PassThrough
	}
	return GuestCrash
}

// ExceptionCallback reports whether ex was handled. A guest crash parks the
// faulting thread and only returns once that thread is terminated.
func (e *Emulator) ExceptionCallback(ex *cpu.Exception) bool {
	switch e.Classify(ex) {
	case ForwardToExternalDebugger, PassThrough:
		return false
	case HandleViaInternalDebugger:
		return e.proc.OnUnhandledException(ex)
	}
	return e.guestCrash(ex)
}

func (e *Emulator) guestCrash(ex *cpu.Exception) bool {
	thread, _ := ex.Thread.(*kernel.XThread)
	e.pause(context.Background(), thread)

	fields := []zap.Field{
		zap.Stringer("code", ex.Code),
		zap.String("host_pc", fmt.Sprintf("%016X", ex.PC)),
		zap.String("address", fmt.Sprintf("%016X", ex.Address)),
	}
	if fn, ok := e.proc.Backend().CodeCache().LookupFunction(ex.PC); ok {
		fields = append(fields,
			zap.String("function", fn.Name()),
			zap.String("guest_pc", fmt.Sprintf("%08X", fn.GuestAddress(ex.PC))))
	}
	if ex.Thread != nil {
		fields = append(fields, zap.Uint32("thread_id", ex.Thread.ThreadID()))
	}
	e.logger.Error("guest crashed", fields...)
	if ex.Thread != nil {
		e.dumpContext(ex.Thread.Context())
	}
	e.notify("Uh-oh!", "The guest has crashed.\n\nmicroxe has now paused itself.\nA crash dump has been written to the log.")

	if thread == nil {
		return false
	}
	e.mu.Lock()
	e.crashed[thread] = struct{}{}
	e.mu.Unlock()
	thread.Suspend()
	if err := thread.SafePoint(context.Background()); err != nil {
		return true
	}
	e.logger.DPanic("resumed past crash suspension", zap.Uint32("thread_id", thread.ThreadID()))
	return true
}

func (e *Emulator) dumpContext(ctx *cpu.ThreadContext) {
	r := make([]string, len(ctx.R))
	for i, v := range ctx.R {
		r[i] = fmt.Sprintf("r%-2d = %016X", i, v)
	}
	e.logger.Error("general registers", zap.Strings("r", r),
		zap.String("pc", fmt.Sprintf("%08X", ctx.PC)),
		zap.String("lr", fmt.Sprintf("%016X", ctx.LR)),
		zap.String("ctr", fmt.Sprintf("%016X", ctx.CTR)),
		zap.String("cr", fmt.Sprintf("%016X", ctx.CR)),
		zap.String("xer", fmt.Sprintf("%016X", ctx.XER)))

	f := make([]string, len(ctx.F))
	for i, v := range ctx.F {
		f[i] = fmt.Sprintf("f%-2d = %g", i, v)
	}
	e.logger.Error("floating point registers", zap.Strings("f", f))

	v := make([]string, len(ctx.V))
	for i, vec := range ctx.V {
		v[i] = fmt.Sprintf("v%-3d = [%08X, %08X, %08X, %08X]", i, vec[0], vec[1], vec[2], vec[3])
	}
	e.logger.Error("vector registers", zap.Strings("v", v))
}
