package kernel

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wnxd/microxe/cpu"
	"github.com/wnxd/microxe/loader"
)

const (
	statusSuccess  = 0x00000000
	statusNotFound = 0xC0000225
)

type KernelModuleCtor func(k *KernelState) (Module, error)

var kernelModuleMap = make(map[string]KernelModuleCtor)

func RegisterKernelModule(name string, ctor KernelModuleCtor) bool {
	if _, ok := kernelModuleMap[name]; ok {
		return false
	}
	kernelModuleMap[name] = ctor
	return true
}

func KernelModules() []string {
	return slices.Sorted(maps.Keys(kernelModuleMap))
}

func init() {
	RegisterKernelModule("xboxkrnl.exe", newXboxkrnl)
	RegisterKernelModule("xam.xex", newXam)
	RegisterKernelModule("xbdm.xex", newXbdm)
}

const (
	krnlHardwareInfo     = 0x00
	krnlTimeStampBundle  = 0x10
	krnlExecutableModule = 0x30
	krnlLoadedImageName  = 0x40
	krnlDataSize         = 0x140
)

type XboxkrnlModule struct {
	*KernelModule
	data uint32
}

func newXboxkrnl(k *KernelState) (Module, error) {
	data, err := k.mem.SystemHeapAlloc(krnlDataSize, 0)
	if err != nil {
		return nil, err
	}
	m := &XboxkrnlModule{data: data}
	hardware := k.mem.Pointer(data + krnlHardwareInfo)
	if err = hardware.WriteUint32(0x00000020); err != nil {
		return nil, err
	} else if err = hardware.Add(4).Write([]byte{6}); err != nil {
		return nil, err
	}
	m.KernelModule = newKernelModule(k, "xboxkrnl.exe", []*cpu.Export{
		{Ordinal: 0x0001, Name: "DbgBreakPoint", Handler: m.dbgBreakPoint},
		{Ordinal: 0x0003, Name: "DbgPrint", Handler: m.dbgPrint},
		{Ordinal: 0x005E, Name: "KeBugCheck", Handler: m.keBugCheck},
		{Ordinal: 0x005F, Name: "KeBugCheckEx", Handler: m.keBugCheck},
		{Ordinal: 0x0066, Name: "KeGetCurrentProcessType", Handler: m.keGetCurrentProcessType},
		{Ordinal: 0x00AD, Name: "KeTimeStampBundle", Type: cpu.ExportVariable, VariableAddr: data + krnlTimeStampBundle},
		{Ordinal: 0x0156, Name: "XboxHardwareInfo", Type: cpu.ExportVariable, VariableAddr: data + krnlHardwareInfo},
		{Ordinal: 0x0193, Name: "XexExecutableModuleHandle", Type: cpu.ExportVariable, VariableAddr: data + krnlExecutableModule},
		{Ordinal: 0x0194, Name: "XexCheckExecutablePrivilege", Handler: m.xexCheckExecutablePrivilege},
		{Ordinal: 0x0195, Name: "XexGetModuleHandle", Handler: m.xexGetModuleHandle},
		{Ordinal: 0x01AF, Name: "ExLoadedImageName", Type: cpu.ExportVariable, VariableAddr: data + krnlLoadedImageName},
		{Ordinal: 0x0260, Name: "NtTerminateThread"},
	})
	return m, nil
}

func (m *XboxkrnlModule) setExecutable(module *UserModule) error {
	mem := m.kernel.mem
	var ldr uint32
	var path []byte
	if module != nil {
		ldr = module.LdrData()
		path = append([]byte(module.Path()), 0)
	}
	if err := mem.Pointer(m.data + krnlExecutableModule).WriteUint32(ldr); err != nil {
		return err
	}
	name := make([]byte, krnlDataSize-krnlLoadedImageName)
	copy(name[:len(name)-1], path)
	return mem.Write(m.data+krnlLoadedImageName, name)
}

func (m *XboxkrnlModule) dbgBreakPoint(ctx context.Context, thread cpu.Thread) error {
	m.kernel.logger.Debug("break point", zap.Uint32("thread_id", thread.ThreadID()))
	return nil
}

func (m *XboxkrnlModule) dbgPrint(ctx context.Context, thread cpu.Thread) error {
	msg, err := m.kernel.mem.Pointer(uint32(thread.Context().R[3])).ReadString()
	if err != nil {
		return err
	}
	m.kernel.logger.Info("guest", zap.String("message", msg))
	return nil
}

func (m *XboxkrnlModule) keBugCheck(ctx context.Context, thread cpu.Thread) error {
	code := uint32(thread.Context().R[3])
	m.kernel.logger.Error("bug check", zap.Uint32("code", code), zap.Uint32("thread_id", thread.ThreadID()))
	return fmt.Errorf("%w: bug check %08X", ErrUnsuccessful, code)
}

func (m *XboxkrnlModule) keGetCurrentProcessType(ctx context.Context, thread cpu.Thread) error {
	thread.Context().R[3] = 1
	return nil
}

func (m *XboxkrnlModule) xexCheckExecutablePrivilege(ctx context.Context, thread cpu.Thread) error {
	privilege := thread.Context().R[3]
	thread.Context().R[3] = 0
	module := m.kernel.GetExecutableModule()
	if module == nil || privilege >= 32 {
		return nil
	}
	if data, err := module.GetOptHeader(loader.XexHeaderSystemFlags); err == nil {
		flags := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
		thread.Context().R[3] = uint64(flags>>privilege) & 1
	}
	return nil
}

func (m *XboxkrnlModule) xexGetModuleHandle(ctx context.Context, thread cpu.Thread) error {
	regs := thread.Context()
	mem := m.kernel.mem
	var module Module
	if regs.R[3] == 0 {
		if exe := m.kernel.GetExecutableModule(); exe != nil {
			module = exe
		}
	} else {
		name, err := mem.Pointer(uint32(regs.R[3])).ReadString()
		if err != nil {
			return err
		}
		module, _ = m.kernel.GetModule(name)
	}
	if module == nil {
		regs.R[3] = statusNotFound
		return nil
	}
	handle := module.Handle()
	if um, ok := module.(*UserModule); ok {
		handle = um.LdrData()
	}
	if err := mem.Pointer(uint32(regs.R[4])).WriteUint32(handle); err != nil {
		return err
	}
	regs.R[3] = statusSuccess
	return nil
}

type LoaderData struct {
	LaunchDataPresent bool
	LaunchPath        string
	LaunchFlags       uint32
	LaunchData        []byte
}

type XamModule struct {
	*KernelModule
	uiActive atomic.Bool
	mu       sync.Mutex
	loader   LoaderData
}

func newXam(k *KernelState) (Module, error) {
	m := new(XamModule)
	m.KernelModule = newKernelModule(k, "xam.xex", []*cpu.Export{
		{Ordinal: 0x01A2, Name: "XamLoaderGetLaunchDataSize", Handler: m.loaderGetLaunchDataSize},
		{Ordinal: 0x01A4, Name: "XamLoaderLaunchTitle", Handler: m.loaderLaunchTitle},
		{Ordinal: 0x01A5, Name: "XamLoaderTerminateTitle", Handler: m.loaderTerminateTitle},
		{Ordinal: 0x02D2, Name: "XamIsUIActive", Handler: m.isUIActive},
		{Ordinal: 0x02E8, Name: "XamShowMessageBoxUI"},
	})
	return m, nil
}

func (m *XamModule) IsUIActive() bool {
	return m.uiActive.Load()
}

func (m *XamModule) SetUIActive(active bool) {
	m.uiActive.Store(active)
}

func (m *XamModule) LoaderData() LoaderData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loader
}

func (m *XamModule) SetLoaderData(data LoaderData) {
	m.mu.Lock()
	m.loader = data
	m.mu.Unlock()
}

func (m *XamModule) loaderGetLaunchDataSize(ctx context.Context, thread cpu.Thread) error {
	regs := thread.Context()
	data := m.LoaderData()
	if !data.LaunchDataPresent {
		regs.R[3] = statusNotFound
		return nil
	}
	if err := m.kernel.mem.Pointer(uint32(regs.R[3])).WriteUint32(uint32(len(data.LaunchData))); err != nil {
		return err
	}
	regs.R[3] = statusSuccess
	return nil
}

func (m *XamModule) loaderLaunchTitle(ctx context.Context, thread cpu.Thread) error {
	regs := thread.Context()
	var path string
	if regs.R[3] != 0 {
		var err error
		if path, err = m.kernel.mem.Pointer(uint32(regs.R[3])).ReadString(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.loader.LaunchDataPresent = true
	m.loader.LaunchPath = path
	m.loader.LaunchFlags = uint32(regs.R[4])
	m.mu.Unlock()
	m.kernel.logger.Info("title launch requested", zap.String("path", path))
	return m.loaderTerminateTitle(ctx, thread)
}

func (m *XamModule) loaderTerminateTitle(ctx context.Context, thread cpu.Thread) error {
	m.kernel.TerminateTitle()
	return context.Cause(ctx)
}

func (m *XamModule) isUIActive(ctx context.Context, thread cpu.Thread) error {
	if m.IsUIActive() {
		thread.Context().R[3] = 1
	} else {
		thread.Context().R[3] = 0
	}
	return nil
}

type XbdmModule struct {
	*KernelModule
}

func newXbdm(k *KernelState) (Module, error) {
	m := new(XbdmModule)
	stub := func(ctx context.Context, thread cpu.Thread) error {
		thread.Context().R[3] = statusSuccess
		return nil
	}
	m.KernelModule = newKernelModule(k, "xbdm.xex", []*cpu.Export{
		{Ordinal: 0x0001, Name: "DmCloseLoadedModules", Handler: stub},
		{Ordinal: 0x0002, Name: "DmGetXbeInfo", Handler: stub},
		{Ordinal: 0x0003, Name: "DmIsDebuggerPresent", Handler: m.isDebuggerPresent},
		{Ordinal: 0x0004, Name: "DmSendNotificationString", Handler: stub},
		{Ordinal: 0x0005, Name: "DmRegisterCommandProcessorEx", Handler: stub},
		{Ordinal: 0x0006, Name: "DmCaptureStackBackTrace", Handler: stub},
		{Ordinal: 0x0007, Name: "DmWalkLoadedModules", Handler: stub},
		{Ordinal: 0x0008, Name: "DmMapDevkitDrive", Handler: stub},
		{Ordinal: 0x0009, Name: "DmFindPdbSignature", Handler: stub},
	})
	return m, nil
}

func (m *XbdmModule) isDebuggerPresent(ctx context.Context, thread cpu.Thread) error {
	if m.kernel.proc.IsDebuggerAttached() {
		thread.Context().R[3] = 1
	} else {
		thread.Context().R[3] = 0
	}
	return nil
}
