package kernel

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wnxd/microxe/content"
	"github.com/wnxd/microxe/cpu"
	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/filesystem"
	"github.com/wnxd/microxe/memory"
)

const defaultStackSize = 0x10000

type Options struct {
	Logger       *zap.Logger
	ApplyPatches bool
	ContentRoot  string
	DumpModules  bool
}

type KernelState struct {
	logger       *zap.Logger
	mem          *memory.Memory
	proc         cpu.Processor
	vfs          *filesystem.VirtualFileSystem
	content      content.Manager
	objects      *ObjectTable
	modules      moduleManager
	global       sync.Mutex
	applyPatches bool
	dumpModules  bool
	titleID      atomic.Uint32
	threadID     atomic.Uint32
	executable   atomic.Pointer[UserModule]
	xboxkrnl     *XboxkrnlModule
	xam          *XamModule
}

type moduleRecord struct {
	Handle      uint32
	Path        string
	GuestHeader uint32
	LdrData     uint32
}

type threadRecord struct {
	Handle       uint32
	ID           uint32
	Name         string
	Main         bool
	Suspendable  bool
	Entry        uint32
	StartContext uint32
	StackAddr    uint32
	StackSize    uint32
	SuspendCount uint32
	Context      cpu.ThreadContext
}

type snapshot struct {
	TitleID    uint32
	ThreadID   uint32
	Executable string
	Modules    []moduleRecord
	Threads    []threadRecord
}

func New(proc cpu.Processor, vfs *filesystem.VirtualFileSystem, opts Options) *KernelState {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	k := &KernelState{
		logger:       logger.Named("kernel"),
		mem:          proc.Memory(),
		proc:         proc,
		vfs:          vfs,
		objects:      NewObjectTable(),
		applyPatches: opts.ApplyPatches,
		dumpModules:  opts.DumpModules,
	}
	if opts.ContentRoot != "" {
		k.content = content.NewHostManager(vfs, opts.ContentRoot, k.TitleID)
	}
	return k
}

func (k *KernelState) Logger() *zap.Logger {
	return k.logger
}

func (k *KernelState) Memory() *memory.Memory {
	return k.mem
}

func (k *KernelState) Processor() cpu.Processor {
	return k.proc
}

func (k *KernelState) FileSystem() *filesystem.VirtualFileSystem {
	return k.vfs
}

func (k *KernelState) Objects() *ObjectTable {
	return k.objects
}

func (k *KernelState) ContentManager() content.Manager {
	return k.content
}

func (k *KernelState) SetContentManager(mgr content.Manager) {
	k.content = mgr
}

// GlobalLock guards short critical sections spanning several kernel objects.
func (k *KernelState) GlobalLock() sync.Locker {
	return &k.global
}

func (k *KernelState) TitleID() uint32 {
	return k.titleID.Load()
}

func (k *KernelState) SetTitleID(id uint32) {
	k.titleID.Store(id)
}

func (k *KernelState) LoadKernelModule(name string) (Module, error) {
	if module, err := k.modules.FindModule(name); err == nil {
		return module, nil
	}
	ctor, ok := kernelModuleMap[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	module, err := ctor(k)
	if err != nil {
		return nil, err
	}
	switch m := module.(type) {
	case *XboxkrnlModule:
		k.xboxkrnl = m
	case *XamModule:
		k.xam = m
	}
	if r, ok := module.(interface{ register() }); ok {
		r.register()
	}
	k.objects.Add(module)
	k.modules.Load(module)
	k.logger.Debug("kernel module loaded", zap.String("name", name))
	return module, nil
}

func (k *KernelState) GetModule(name string) (Module, error) {
	return k.modules.FindModule(name)
}

func (k *KernelState) GetModuleByAddr(addr uint32) (*UserModule, error) {
	return k.modules.FindModuleByAddr(addr)
}

func (k *KernelState) Xam() *XamModule {
	return k.xam
}

func (k *KernelState) LoadUserModule(path string) (*UserModule, error) {
	return k.loadUserModule(path, 0)
}

func (k *KernelState) loadUserModule(path string, handle uint32) (*UserModule, error) {
	if entry, err := k.vfs.ResolvePath(path); err == nil {
		for _, module := range k.objects.UserModules() {
			if strings.EqualFold(module.Path(), entry.AbsolutePath()) {
				return module, nil
			}
		}
	}
	module := NewUserModule(k)
	if handle != 0 {
		module.handle = handle
	}
	if err := module.LoadFromFile(path); err != nil {
		module.Unload()
		return nil, err
	}
	k.objects.Add(module)
	k.modules.Load(module)
	if k.dumpModules {
		module.Dump()
	}
	return module, nil
}

func (k *KernelState) UnloadUserModule(module *UserModule) error {
	err := module.Unload()
	k.objects.Release(module.Handle())
	k.modules.Unload(module)
	if k.executable.CompareAndSwap(module, nil) {
		err = multierr.Append(err, k.setExecutableVars(nil))
	}
	return err
}

func (k *KernelState) GetExecutableModule() *UserModule {
	return k.executable.Load()
}

func (k *KernelState) SetExecutableModule(module *UserModule) error {
	k.executable.Store(module)
	return k.setExecutableVars(module)
}

func (k *KernelState) setExecutableVars(module *UserModule) error {
	if k.xboxkrnl == nil {
		return nil
	}
	return k.xboxkrnl.setExecutable(module)
}

// LaunchModule makes module the title executable and starts its main thread.
func (k *KernelState) LaunchModule(module *UserModule) (*XThread, error) {
	if !module.IsExecutable() {
		return nil, fmt.Errorf("%s: %w", module.Name(), ErrNotExecutable)
	}
	if err := k.SetExecutableModule(module); err != nil {
		return nil, err
	}
	k.logger.Info("launching module", zap.String("name", module.Name()))
	thread, err := k.CreateThread(ThreadParams{
		StackSize:   module.StackSize(),
		EntryPoint:  module.EntryPoint(),
		Suspended:   true,
		Main:        true,
		GuestThread: true,
	})
	if err != nil {
		return nil, err
	}
	thread.SetName("Main XThread")
	if err = thread.Start(); err != nil {
		return nil, err
	}
	thread.Resume()
	return thread, nil
}

func (k *KernelState) CreateThread(params ThreadParams) (*XThread, error) {
	if params.StackSize == 0 {
		params.StackSize = defaultStackSize
	}
	stack, err := k.mem.SystemHeapAlloc(params.StackSize, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsuccessful, err)
	}
	thread := newThread(k, k.objects.Allocate(), k.threadID.Add(1), params)
	thread.stackAddr = stack
	thread.context.R[1] = uint64(stack + params.StackSize)
	k.objects.Add(thread)
	k.logger.Debug("thread created", thread.logFields()...)
	return thread, nil
}

func (k *KernelState) Threads() []*XThread {
	return k.objects.Threads()
}

// StartThreads starts every thread that has not been started yet.
func (k *KernelState) StartThreads() {
	for _, thread := range k.objects.Threads() {
		thread.Start()
	}
}

func (k *KernelState) onThreadExit(t *XThread) {
	fields := append(t.logFields(), zap.NamedError("cause", t.Err()))
	k.logger.Debug("thread exited", fields...)
	k.objects.Release(t.handle)
	if t.stackAddr != 0 {
		k.mem.SystemHeapFree(t.stackAddr)
	}
}

// TerminateTitle stops guest threads and unloads user modules without
// waiting for the threads to observe cancellation.
func (k *KernelState) TerminateTitle() {
	k.logger.Info("terminating title", zap.String("title_id", fmt.Sprintf("%08X", k.TitleID())))
	for _, thread := range k.objects.Threads() {
		if thread.CanDebuggerSuspend() {
			thread.Terminate(ErrThreadExited)
		}
	}
	for _, module := range k.objects.UserModules() {
		if err := k.UnloadUserModule(module); err != nil {
			k.logger.Warn("failed to unload module", zap.String("name", module.Name()), zap.Error(err))
		}
	}
	k.SetExecutableModule(nil)
	if k.content != nil {
		if _, ok := k.vfs.FindSymbolicLink(updatePartition + ":"); ok {
			k.content.CloseContent(updatePartition)
		}
	}
	k.SetTitleID(0)
}

func (k *KernelState) Save(stream encoding.Stream) error {
	snap := snapshot{TitleID: k.TitleID(), ThreadID: k.threadID.Load()}
	if exe := k.GetExecutableModule(); exe != nil {
		snap.Executable = exe.Path()
	}
	for _, module := range k.objects.UserModules() {
		snap.Modules = append(snap.Modules, moduleRecord{
			Handle:      module.Handle(),
			Path:        module.Path(),
			GuestHeader: module.guestHeader,
			LdrData:     module.ldrData,
		})
	}
	for _, thread := range k.objects.Threads() {
		snap.Threads = append(snap.Threads, thread.record())
	}
	return encoding.Encode(stream, &snap)
}

// Restore reloads modules and recreates threads without starting them. Guest
// addresses recorded for each module only become valid once memory has been
// restored as well.
func (k *KernelState) Restore(stream encoding.Stream) error {
	var snap snapshot
	if err := encoding.Decode(stream, &snap); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	k.SetTitleID(snap.TitleID)
	k.threadID.Store(snap.ThreadID)
	for _, rec := range snap.Modules {
		module, err := k.loadUserModule(rec.Path, rec.Handle)
		if err != nil {
			return fmt.Errorf("%s: %w", rec.Path, err)
		}
		module.guestHeader, module.ldrData = rec.GuestHeader, rec.LdrData
		if strings.EqualFold(module.Path(), snap.Executable) {
			if err = k.SetExecutableModule(module); err != nil {
				return err
			}
		}
	}
	if snap.Executable != "" && k.GetExecutableModule() == nil {
		return fmt.Errorf("%w: executable %s not restored", ErrInvalidSnapshot, snap.Executable)
	}
	for _, rec := range snap.Threads {
		if _, err := k.objects.Lookup(rec.Handle); err == nil {
			return fmt.Errorf("%w: handle %08X in use", ErrInvalidSnapshot, rec.Handle)
		}
		thread := newThread(k, rec.Handle, rec.ID, ThreadParams{
			StackSize:    rec.StackSize,
			EntryPoint:   rec.Entry,
			StartContext: rec.StartContext,
			Main:         rec.Main,
			GuestThread:  rec.Suspendable,
		})
		thread.name = rec.Name
		thread.stackAddr = rec.StackAddr
		thread.suspend = int(rec.SuspendCount)
		thread.context = rec.Context
		k.objects.Add(thread)
	}
	return nil
}

func (k *KernelState) Close() error {
	var err error
	for _, module := range k.objects.UserModules() {
		err = multierr.Append(err, k.UnloadUserModule(module))
	}
	for _, thread := range k.objects.Threads() {
		thread.Terminate(ErrThreadExited)
	}
	if err != nil && !errors.Is(err, ErrUnsuccessful) {
		k.logger.Warn("kernel shutdown", zap.Error(err))
	}
	return err
}
