package kernel_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wnxd/microxe/content"
	"github.com/wnxd/microxe/cpu"
	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/filesystem"
	"github.com/wnxd/microxe/kernel"
	"github.com/wnxd/microxe/loader"
	"github.com/wnxd/microxe/loader/xextest"
	"github.com/wnxd/microxe/memory"
)

const titleID = 0x41560817

type fakeProcessor struct {
	mem     *memory.Memory
	exports *cpu.ExportResolver
	mu      sync.Mutex
	modules map[string]cpu.Module
	imports map[uint32]*cpu.Export
	started chan uint32
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		mem:     memory.New(),
		exports: cpu.NewExportResolver(),
		modules: make(map[string]cpu.Module),
		imports: make(map[uint32]*cpu.Export),
		started: make(chan uint32, 8),
	}
}

func (p *fakeProcessor) Close() error                             { return nil }
func (p *fakeProcessor) Memory() *memory.Memory                   { return p.mem }
func (p *fakeProcessor) ExportResolver() *cpu.ExportResolver      { return p.exports }
func (p *fakeProcessor) Backend() cpu.Backend                     { return nil }
func (p *fakeProcessor) Setup(cpu.Backend) error                  { return nil }
func (p *fakeProcessor) IsDebuggerAttached() bool                 { return false }
func (p *fakeProcessor) OnUnhandledException(*cpu.Exception) bool { return false }
func (p *fakeProcessor) Save(encoding.Stream) error               { return nil }
func (p *fakeProcessor) Restore(encoding.Stream) error            { return nil }

func (p *fakeProcessor) AddModule(module cpu.Module) error {
	p.mu.Lock()
	p.modules[module.Name()] = module
	p.mu.Unlock()
	return nil
}

func (p *fakeProcessor) RemoveModule(name string) {
	p.mu.Lock()
	delete(p.modules, name)
	p.mu.Unlock()
}

func (p *fakeProcessor) BindImport(addr uint32, export *cpu.Export) error {
	p.mu.Lock()
	p.imports[addr] = export
	p.mu.Unlock()
	return nil
}

func (p *fakeProcessor) Execute(ctx context.Context, thread cpu.Thread) error {
	if err := thread.SafePoint(ctx); err != nil {
		return err
	}
	p.started <- thread.ThreadID()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := thread.SafePoint(ctx); err != nil {
			return err
		}
	}
}

type fakeContent struct {
	vfs      *filesystem.VirtualFileSystem
	names    []string
	packages map[string]filesystem.DirFS
	next     int
	open     map[string]string
}

func (c *fakeContent) ListContent(deviceID uint32, typ content.ContentType) ([]content.Descriptor, error) {
	var list []content.Descriptor
	for _, name := range c.names {
		list = append(list, content.Descriptor{DeviceID: deviceID, ContentType: typ, FileName: name})
	}
	return list, nil
}

func (c *fakeContent) OpenContent(rootName string, desc content.Descriptor) error {
	if _, ok := c.open[rootName]; ok {
		return content.ErrContentOpen
	}
	root, ok := c.packages[desc.FileName]
	if !ok {
		return content.ErrContentNotFound
	}
	mount := fmt.Sprintf(`\Device\Content\%d`, c.next)
	c.next++
	if err := c.vfs.RegisterDevice(filesystem.NewMemoryDevice(mount, root)); err != nil {
		return err
	} else if err = c.vfs.RegisterSymbolicLink(rootName+":", mount); err != nil {
		return err
	}
	c.open[rootName] = mount
	return nil
}

func (c *fakeContent) CloseContent(rootName string) error {
	mount, ok := c.open[rootName]
	if !ok {
		return content.ErrContentNotOpen
	}
	delete(c.open, rootName)
	c.vfs.UnregisterSymbolicLink(rootName + ":")
	return c.vfs.UnregisterDevice(mount)
}

type testEnv struct {
	k       *kernel.KernelState
	proc    *fakeProcessor
	vfs     *filesystem.VirtualFileSystem
	game    filesystem.DirFS
	content *fakeContent
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{proc: newFakeProcessor(), vfs: filesystem.New()}
	dev := filesystem.NewMemoryDevice(`\Device\Cdrom0`, nil)
	if err := env.vfs.RegisterDevice(dev); err != nil {
		t.Fatal(err)
	}
	env.vfs.RegisterSymbolicLink("game:", `\Device\Cdrom0`)
	env.game = dev.Root()
	env.k = kernel.New(env.proc, env.vfs, kernel.Options{ApplyPatches: true})
	env.content = &fakeContent{vfs: env.vfs, packages: make(map[string]filesystem.DirFS), open: make(map[string]string)}
	env.k.SetContentManager(env.content)
	for _, name := range kernel.KernelModules() {
		if _, err := env.k.LoadKernelModule(name); err != nil {
			t.Fatal(err)
		}
	}
	return env
}

func (env *testEnv) addPackage(name string, files map[string][]byte) {
	root := filesystem.NewMemFS()
	for path, data := range files {
		if i := bytes.LastIndexByte([]byte(path), '/'); i != -1 {
			root.Mkdir(path[:i], 0o755)
		}
		filesystem.WriteAll(root, path, data)
	}
	env.content.names = append(env.content.names, name)
	env.content.packages[name] = root
}

func xdbfImage() []byte {
	title := "Test Title"
	var table bytes.Buffer
	table.Write(encodeBE(&struct {
		Magic, Version, Size uint32
		Count                uint16
	}{0x58535452, 1, uint32(4 + len(title)), 1}))
	table.Write(encodeBE(&struct{ ID, Length uint16 }{kernel.XdbfIDTitle, uint16(len(title))}))
	table.WriteString(title)
	icon := []byte("PNG!")

	var out bytes.Buffer
	out.Write(encodeBE(&struct{ Magic, Version, EntryCount, EntryUsed, FreeCount, FreeUsed uint32 }{0x58444246, 0x10000, 2, 2, 0, 0}))
	out.Write(encodeBE(&kernel.XdbfEntry{Section: kernel.XdbfSectionStringTable, ID: kernel.XdbfLanguageEnglish, Size: uint32(table.Len())}))
	out.Write(encodeBE(&kernel.XdbfEntry{Section: kernel.XdbfSectionImage, ID: kernel.XdbfIDTitle, Offset: uint32(table.Len()), Size: uint32(len(icon))}))
	out.Write(table.Bytes())
	out.Write(icon)
	return out.Bytes()
}

func encodeBE(val any) []byte {
	stream := encoding.NewWriteStream(binary.BigEndian)
	if err := encoding.Encode(stream, val); err != nil {
		panic(err)
	}
	return stream.Bytes()
}

func baseBuilder() *xextest.Builder {
	image := make([]byte, 0x600)
	for i := range image {
		image[i] = byte(i)
	}
	binary.BigEndian.PutUint32(image[0x100:], 0x00000156)
	binary.BigEndian.PutUint32(image[0x110:], 0x01000195)
	binary.BigEndian.PutUint32(image[0x120:], 0x01000FFF)
	xdbf := xdbfImage()
	copy(image[0x400:], xdbf)
	return &xextest.Builder{
		Entry:     xextest.DefaultBaseAddr + 0x40,
		StackSize: 0x20000,
		Exec: &loader.ExecutionInfo{
			TitleID:    titleID,
			Version:    loader.MakeVersion(1, 0, 0, 0),
			DiscNumber: 1,
			DiscCount:  1,
		},
		Image: image,
		Imports: []xextest.Import{{
			Name:    "xboxkrnl.exe",
			Records: []uint32{xextest.DefaultBaseAddr + 0x100, xextest.DefaultBaseAddr + 0x110, xextest.DefaultBaseAddr + 0x120},
		}},
		Resources: []loader.Resource{{Name: "41560817", Address: xextest.DefaultBaseAddr + 0x400, Size: uint32(len(xdbf))}},
	}
}

func patchBytes(source, target loader.Version) []byte {
	b := &xextest.Builder{
		ModuleFlags: loader.XexModulePatchDelta,
		Exec:        &loader.ExecutionInfo{TitleID: titleID, Version: target},
		Patch:       &loader.PatchDescriptor{SourceVersion: source, TargetVersion: target},
		Deltas: []xextest.Delta{{
			DeltaBlock: loader.DeltaBlock{NewAddr: 0x20, UncompressedLen: 2, CompressedLen: 2},
			Data:       []byte{0xAA, 0xBB},
		}},
	}
	return b.Bytes()
}

func (env *testEnv) load(t *testing.T) *kernel.UserModule {
	t.Helper()
	filesystem.WriteAll(env.game, "default.xex", baseBuilder().Bytes())
	module, err := env.k.LoadUserModule(`game:\default.xex`)
	if err != nil {
		t.Fatal(err)
	}
	return module
}

func readBytes(t *testing.T, mem *memory.Memory, addr, size uint32) []byte {
	t.Helper()
	b := make([]byte, size)
	if err := mem.Read(addr, b); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestLoadUserModule(t *testing.T) {
	env := newTestEnv(t)
	module := env.load(t)
	if module.State() != kernel.ModuleReady || !module.IsExecutable() || module.IsDLL() {
		t.Fatalf("state %s executable %v", module.State(), module.IsExecutable())
	}
	if module.Path() != `\Device\Cdrom0\default.xex` || module.Name() != "default.xex" {
		t.Fatalf("path %s name %s", module.Path(), module.Name())
	}
	if env.k.TitleID() != titleID {
		t.Fatalf("title id %08X", env.k.TitleID())
	}
	mem := env.proc.mem
	if !bytes.Equal(readBytes(t, mem, module.GuestHeader(), 4), []byte("XEX2")) {
		t.Fatal("header not mirrored")
	}
	hw, _ := env.proc.exports.GetExportByName("xboxkrnl.exe", "XboxHardwareInfo")
	if v, _ := mem.Pointer(xextest.DefaultBaseAddr + 0x100).ReadUint32(); v != hw.VariableAddr {
		t.Fatalf("variable import %08X, want %08X", v, hw.VariableAddr)
	}
	if v, _ := mem.Pointer(xextest.DefaultBaseAddr + 0x110).ReadUint32(); v != 0x44000002 {
		t.Fatalf("thunk %08X", v)
	}
	if export := env.proc.imports[xextest.DefaultBaseAddr+0x110]; export == nil || export.Name != "XexGetModuleHandle" {
		t.Fatalf("bound %+v", export)
	}
	if export := env.proc.imports[xextest.DefaultBaseAddr+0x120]; export == nil || export.Implemented() {
		t.Fatalf("unknown ordinal bound to %+v", export)
	}
	if base, _ := mem.Pointer(module.LdrData() + 0x1C).ReadUint32(); base != xextest.DefaultBaseAddr {
		t.Fatalf("ldr image base %08X", base)
	}
	if _, ok := env.proc.modules["default.xex"]; !ok {
		t.Fatal("module not registered with processor")
	}
	if module.Patch() != nil {
		t.Fatal("unexpected patch")
	}

	again, err := env.k.LoadUserModule(`GAME:\DEFAULT.XEX`)
	if err != nil || again != module {
		t.Fatalf("reload returned %p, %v", again, err)
	}
	if _, err = env.k.LoadUserModule(`game:\missing.xex`); !errors.Is(err, kernel.ErrNoSuchFile) {
		t.Fatalf("got %v", err)
	}
	if found, err := env.k.GetModule("DEFAULT.XEX"); err != nil || found != kernel.Module(module) {
		t.Fatalf("got %v, %v", found, err)
	}
}

func TestModuleAccessors(t *testing.T) {
	env := newTestEnv(t)
	module := env.load(t)
	data, err := module.GetOptHeader(loader.XexHeaderExecutionInfo)
	if err != nil || len(data) != 24 {
		t.Fatalf("got %d, %v", len(data), err)
	}
	if _, err = module.GetOptHeader(loader.XexHeaderTLSInfo); !errors.Is(err, kernel.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	addr, err := module.GetOptHeaderGuest(loader.XexHeaderExecutionInfo)
	if err != nil || !bytes.Equal(readBytes(t, env.proc.mem, addr, 24), data) {
		t.Fatalf("guest opt header at %08X, %v", addr, err)
	}
	if _, _, err = module.GetSection("FFFFFFFF"); !errors.Is(err, kernel.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	db, err := kernel.ReadXdbf(env.proc.mem, module)
	if err != nil {
		t.Fatal(err)
	}
	if db.Title() != "Test Title" || string(db.Icon()) != "PNG!" {
		t.Fatalf("title %q icon %q", db.Title(), db.Icon())
	}
	module.Dump()
}

func TestUnloadUserModule(t *testing.T) {
	env := newTestEnv(t)
	module := env.load(t)
	if err := env.k.SetExecutableModule(module); err != nil {
		t.Fatal(err)
	}
	header := module.GuestHeader()
	if err := env.k.UnloadUserModule(module); err != nil {
		t.Fatal(err)
	}
	if module.State() != kernel.ModuleUnloaded || env.k.GetExecutableModule() != nil {
		t.Fatal("module still loaded")
	}
	if env.proc.mem.IsMapped(header) || env.proc.mem.IsMapped(xextest.DefaultBaseAddr) {
		t.Fatal("memory still mapped")
	}
	if err := module.Unload(); err != nil {
		t.Fatalf("second unload: %v", err)
	}
	if _, err := env.k.Objects().Lookup(module.Handle()); !errors.Is(err, kernel.ErrObjectNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestTitleUpdateDiscLayout(t *testing.T) {
	env := newTestEnv(t)
	env.addPackage("TU0", map[string][]byte{"readme.txt": []byte("no patch")})
	env.addPackage("TU1", map[string][]byte{"disc001/default.xexp": patchBytes(loader.MakeVersion(1, 0, 0, 0), loader.MakeVersion(1, 0, 1, 0))})
	module := env.load(t)
	if module.Patch() == nil {
		t.Fatal("patch not applied")
	}
	if target, ok := env.vfs.FindSymbolicLink("update:"); !ok || target != `\Device\Content\1\disc001` {
		t.Fatalf("update link %q, %v", target, ok)
	}
	if b := readBytes(t, env.proc.mem, xextest.DefaultBaseAddr+0x20, 3); !bytes.Equal(b, []byte{0xAA, 0xBB, 0x22}) {
		t.Fatalf("patched bytes % x", b)
	}
	if exec, _ := module.ExecutionInfo(); exec.Version != loader.MakeVersion(1, 0, 1, 0) {
		t.Fatalf("version %s", exec.Version)
	}
	env.k.TerminateTitle()
	if _, ok := env.vfs.FindSymbolicLink("update:"); ok {
		t.Fatal("update partition still mounted")
	}
	if env.k.TitleID() != 0 {
		t.Fatalf("title id %08X", env.k.TitleID())
	}
}

func TestTitleUpdateRootLayout(t *testing.T) {
	env := newTestEnv(t)
	env.addPackage("TU1", map[string][]byte{"default.xexp": patchBytes(loader.MakeVersion(1, 0, 0, 0), loader.MakeVersion(1, 1, 0, 0))})
	module := env.load(t)
	if module.Patch() == nil {
		t.Fatal("patch not applied")
	}
	if target, _ := env.vfs.FindSymbolicLink("update:"); target != `\Device\Content\0` {
		t.Fatalf("update link %q", target)
	}
}

func TestTitleUpdateNotApplicable(t *testing.T) {
	env := newTestEnv(t)
	env.addPackage("TU1", map[string][]byte{"disc001/default.xexp": patchBytes(loader.MakeVersion(2, 0, 0, 0), loader.MakeVersion(2, 1, 0, 0))})
	module := env.load(t)
	if module.Patch() != nil {
		t.Fatal("patch applied")
	}
	if _, ok := env.vfs.FindSymbolicLink("update:"); ok {
		t.Fatal("package left mounted")
	}
	if env.content.next != 1 {
		t.Fatalf("opened %d packages", env.content.next)
	}
}

func TestTitleUpdateBesideModule(t *testing.T) {
	tests := []struct {
		source  loader.Version
		patched bool
	}{
		{loader.MakeVersion(1, 0, 0, 0), true},
		{loader.MakeVersion(3, 0, 0, 0), false},
	}
	for _, tt := range tests {
		env := newTestEnv(t)
		filesystem.WriteAll(env.game, "default.xexp", patchBytes(tt.source, loader.MakeVersion(3, 1, 0, 0)))
		module := env.load(t)
		if (module.Patch() != nil) != tt.patched {
			t.Errorf("source %s: patched %v", tt.source, module.Patch() != nil)
		}
	}
}

func TestTitleUpdateFirstApplicable(t *testing.T) {
	env := newTestEnv(t)
	env.addPackage("TU1", map[string][]byte{"default.xexp": patchBytes(loader.MakeVersion(1, 0, 0, 0), loader.MakeVersion(1, 1, 0, 0))})
	env.addPackage("TU2", map[string][]byte{"default.xexp": patchBytes(loader.MakeVersion(1, 0, 0, 0), loader.MakeVersion(1, 2, 0, 0))})
	module := env.load(t)
	if exec, _ := module.ExecutionInfo(); exec.Version != loader.MakeVersion(1, 1, 0, 0) {
		t.Fatalf("version %s", exec.Version)
	}
	if env.content.next != 1 {
		t.Fatalf("opened %d packages", env.content.next)
	}
}

func TestTitleUpdateBesideModuleNotPatch(t *testing.T) {
	env := newTestEnv(t)
	other := baseBuilder()
	other.Image = bytes.Repeat([]byte{0xEE}, 0x600)
	filesystem.WriteAll(env.game, "default.xexp", other.Bytes())
	filesystem.WriteAll(env.game, "default.xex", baseBuilder().Bytes())
	if _, err := env.k.LoadUserModule(`game:\default.xex`); !errors.Is(err, loader.ErrNotPatch) {
		t.Fatalf("got %v", err)
	}
	if _, ok := env.proc.modules["default.xexp"]; ok {
		t.Fatal("rejected patch registered with processor")
	}
}

func TestPendingModuleNotLaunchable(t *testing.T) {
	env := newTestEnv(t)
	module := kernel.NewUserModule(env.k)
	if err := module.LoadFromMemory(baseBuilder().Bytes()); !errors.Is(err, loader.ErrPending) {
		t.Fatalf("got %v", err)
	}
	defer module.Unload()
	if module.State() != kernel.ModulePending || module.EntryPoint() != 0 || module.IsExecutable() {
		t.Fatalf("state %s entry %08X", module.State(), module.EntryPoint())
	}
	if _, err := env.k.LaunchModule(module); !errors.Is(err, kernel.ErrNotExecutable) {
		t.Fatalf("got %v", err)
	}
}

func TestLoadPatchAsModule(t *testing.T) {
	env := newTestEnv(t)
	filesystem.WriteAll(env.game, "default.xexp", patchBytes(loader.MakeVersion(1, 0, 0, 0), loader.MakeVersion(1, 1, 0, 0)))
	module, err := env.k.LoadUserModule(`game:\default.xexp`)
	if err != nil {
		t.Fatal(err)
	}
	if !module.IsPatch() || module.IsExecutable() {
		t.Fatal("patch treated as executable")
	}
	if _, err = env.k.LaunchModule(module); !errors.Is(err, kernel.ErrNotExecutable) {
		t.Fatalf("got %v", err)
	}
}

func waitStarted(t *testing.T, proc *fakeProcessor) uint32 {
	t.Helper()
	select {
	case id := <-proc.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("thread did not start")
	}
	return 0
}

func TestLaunchModule(t *testing.T) {
	env := newTestEnv(t)
	module := env.load(t)
	thread, err := env.k.LaunchModule(module)
	if err != nil {
		t.Fatal(err)
	}
	if id := waitStarted(t, env.proc); id != thread.ThreadID() {
		t.Fatalf("started %d, want %d", id, thread.ThreadID())
	}
	if !thread.IsMain() || !thread.CanDebuggerSuspend() || thread.Name() != "Main XThread" || !thread.IsRunning() {
		t.Fatal("unexpected main thread flags")
	}
	if thread.Context().PC != module.EntryPoint() {
		t.Fatalf("pc %08X", thread.Context().PC)
	}
	if sp := uint32(thread.Context().R[1]); sp != thread.StackAddr()+module.StackSize() {
		t.Fatalf("sp %08X", sp)
	}
	exeVar, _ := env.proc.exports.GetExportByName("xboxkrnl.exe", "XexExecutableModuleHandle")
	if v, _ := env.proc.mem.Pointer(exeVar.VariableAddr).ReadUint32(); v != module.LdrData() {
		t.Fatalf("executable module handle %08X", v)
	}
	if threads := env.k.Threads(); len(threads) != 1 || threads[0] != thread {
		t.Fatalf("threads %v", threads)
	}

	env.k.TerminateTitle()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = thread.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(env.k.Threads()) != 0 || len(env.k.Objects().UserModules()) != 0 {
		t.Fatal("title state not released")
	}
}

func TestThreadSuspendResume(t *testing.T) {
	env := newTestEnv(t)
	thread, err := env.k.CreateThread(kernel.ThreadParams{Suspended: true, GuestThread: true})
	if err != nil {
		t.Fatal(err)
	}
	if err = thread.Start(); err != nil {
		t.Fatal(err)
	}
	if err = thread.Start(); !errors.Is(err, kernel.ErrThreadStarted) {
		t.Fatalf("got %v", err)
	}
	if n := thread.Suspend(); n != 1 {
		t.Fatalf("suspend count %d", n)
	}
	select {
	case <-env.proc.started:
		t.Fatal("suspended thread ran")
	case <-time.After(20 * time.Millisecond):
	}
	thread.Resume()
	if n := thread.Resume(); n != 1 {
		t.Fatalf("previous count %d", n)
	}
	waitStarted(t, env.proc)
	cause := errors.New("killed")
	thread.Terminate(cause)
	<-thread.Done()
	if !errors.Is(thread.Err(), cause) {
		t.Fatalf("got %v", thread.Err())
	}
}

func TestWaitSuspended(t *testing.T) {
	env := newTestEnv(t)
	idle, err := env.k.CreateThread(kernel.ThreadParams{GuestThread: true})
	if err != nil {
		t.Fatal(err)
	}
	idle.Suspend()
	if err = idle.WaitSuspended(context.Background()); err != nil {
		t.Fatalf("unstarted thread: %v", err)
	}

	thread, err := env.k.CreateThread(kernel.ThreadParams{GuestThread: true})
	if err != nil {
		t.Fatal(err)
	}
	if err = thread.Start(); err != nil {
		t.Fatal(err)
	}
	waitStarted(t, env.proc)
	thread.Suspend()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = thread.WaitSuspended(ctx); err != nil {
		t.Fatal(err)
	}
	if !thread.IsParked() {
		t.Fatal("thread not parked")
	}
	thread.Terminate(errors.New("done"))
	<-thread.Done()
}

func TestXamLaunchTitle(t *testing.T) {
	env := newTestEnv(t)
	module := env.load(t)
	main, err := env.k.LaunchModule(module)
	if err != nil {
		t.Fatal(err)
	}
	waitStarted(t, env.proc)

	mem := env.proc.mem
	addr, _ := mem.SystemHeapAlloc(0x100, 0)
	mem.Write(addr, []byte("game:\\next.xex\x00"))
	export, err := env.proc.exports.GetExportByName("xam.xex", "XamLoaderLaunchTitle")
	if err != nil {
		t.Fatal(err)
	}
	caller, err := env.k.CreateThread(kernel.ThreadParams{})
	if err != nil {
		t.Fatal(err)
	}
	caller.Context().R[3] = uint64(addr)
	export.Handler(context.Background(), caller)

	data := env.k.Xam().LoaderData()
	if !data.LaunchDataPresent || data.LaunchPath != `game:\next.xex` {
		t.Fatalf("loader data %+v", data)
	}
	<-main.Done()
	if env.k.GetExecutableModule() != nil {
		t.Fatal("title not terminated")
	}
}

func TestSaveRestore(t *testing.T) {
	env := newTestEnv(t)
	module := env.load(t)
	main, err := env.k.LaunchModule(module)
	if err != nil {
		t.Fatal(err)
	}
	waitStarted(t, env.proc)
	main.Context().R[31] = 0x1234

	stream := encoding.NewWriteStream(binary.BigEndian)
	if err = env.k.Save(stream); err != nil {
		t.Fatal(err)
	}
	env.k.TerminateTitle()
	<-main.Done()

	if err = env.k.Restore(encoding.NewByteStream(stream.Bytes(), binary.BigEndian)); err != nil {
		t.Fatal(err)
	}
	if env.k.TitleID() != titleID {
		t.Fatalf("title id %08X", env.k.TitleID())
	}
	exe := env.k.GetExecutableModule()
	if exe == nil || exe.Handle() != module.Handle() || exe.Path() != module.Path() {
		t.Fatalf("executable %v", exe)
	}
	threads := env.k.Threads()
	if len(threads) != 1 {
		t.Fatalf("threads %v", threads)
	}
	restored := threads[0]
	if restored.Handle() != main.Handle() || restored.ThreadID() != main.ThreadID() || !restored.IsMain() {
		t.Fatal("main thread not restored")
	}
	if restored.IsRunning() || restored.Context().R[31] != 0x1234 {
		t.Fatal("thread state not restored")
	}
	env.k.StartThreads()
	if id := waitStarted(t, env.proc); id != main.ThreadID() {
		t.Fatalf("started %d", id)
	}
	env.k.TerminateTitle()
	<-restored.Done()

	if err = env.k.Restore(encoding.NewByteStream([]byte{1, 2}, binary.BigEndian)); !errors.Is(err, kernel.ErrInvalidSnapshot) {
		t.Fatalf("got %v", err)
	}
}

func TestGameInfo(t *testing.T) {
	var exec kernel.GameInfoExec
	exec.VirtualTitleID = 0x584E07D1
	copy(exec.ModuleName[:], "default.xex")
	execData := encodeBE(&exec)
	var data []byte
	data = append(data, encodeBE(&struct{ Magic, Size uint32 }{0x45584543, uint32(len(execData))})...)
	data = append(data, execData...)
	data = append(data, encodeBE(&struct{ Magic, Size, TitleID uint32 }{0x434F4D4D, 4, titleID})...)

	info, err := kernel.ParseGameInfo(data)
	if err != nil {
		t.Fatal(err)
	}
	if info.ModuleName() != "default.xex" || info.TitleID() != titleID || info.VirtualTitleID() != 0x584E07D1 {
		t.Fatalf("module %q title %08X", info.ModuleName(), info.TitleID())
	}
	if _, err = kernel.ParseGameInfo(data[:8+len(execData)]); !errors.Is(err, kernel.ErrInvalidGameInfo) {
		t.Fatalf("got %v", err)
	}
	if _, err = kernel.ParseGameInfo(data[:12]); !errors.Is(err, kernel.ErrInvalidGameInfo) {
		t.Fatalf("got %v", err)
	}
}

func TestParseXdbfErrors(t *testing.T) {
	data := xdbfImage()
	if _, err := kernel.ParseXdbf(data[:10]); !errors.Is(err, kernel.ErrInvalidXdbf) {
		t.Fatalf("got %v", err)
	}
	bad := bytes.Clone(data)
	bad[0] = 'Y'
	if _, err := kernel.ParseXdbf(bad); !errors.Is(err, kernel.ErrInvalidXdbf) {
		t.Fatalf("got %v", err)
	}
	if _, err := kernel.ParseXdbf(data[:len(data)-2]); !errors.Is(err, kernel.ErrInvalidXdbf) {
		t.Fatalf("got %v", err)
	}
}
