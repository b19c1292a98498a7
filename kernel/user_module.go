package kernel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wnxd/microxe/cpu"
	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/loader"
	"github.com/wnxd/microxe/memory"
)

type ModuleState int

const (
	ModuleUnparsed ModuleState = iota
	ModulePending
	ModuleReady
	ModuleUnloaded
)

func (s ModuleState) String() string {
	switch s {
	case ModuleUnparsed:
		return "unparsed"
	case ModulePending:
		return "pending"
	case ModuleReady:
		return "ready"
	case ModuleUnloaded:
		return "unloaded"
	}
	return "unknown"
}

const (
	thunkSyscall = 0x44000002
	thunkReturn  = 0x4E800020
	thunkNop     = 0x60000000
)

type importStat struct {
	library     string
	version     loader.Version
	total       int
	known       int
	implemented int
}

type ldrDataEntry struct {
	InLoadOrderLinks           [2]uint32
	InMemoryOrderLinks         [2]uint32
	InInitializationOrderLinks [2]uint32
	DllBase                    uint32
	ImageBase                  uint32
	ImageSize                  uint32
	FullDllName                [2]uint32
	BaseDllName                [2]uint32
	Flags                      uint32
	FullImageSize              uint32
	EntryPoint                 uint32
	LoadCount                  uint16
	ModuleIndex                uint16
	DllBaseOriginal            uint32
	Checksum                   uint32
	LoadFlags                  uint32
	TimeDateStamp              uint32
	LoadedImports              uint32
	XexHeaderBase              uint32
	LoadFileName               [2]uint32
}

type UserModule struct {
	kernel      *KernelState
	logger      *zap.Logger
	handle      uint32
	name        string
	path        string
	state       ModuleState
	module      loader.Module
	xex         *loader.XexModule
	patch       *UserModule
	registered  bool
	guestHeader uint32
	headerSize  uint32
	ldrData     uint32
	entry       uint32
	stack       uint32
	dll         bool
	imports     []importStat
}

func NewUserModule(k *KernelState) *UserModule {
	return &UserModule{kernel: k, logger: k.logger.Named("loader"), handle: k.objects.Allocate()}
}

func (m *UserModule) Handle() uint32 {
	return m.handle
}

func (m *UserModule) Name() string {
	return m.name
}

func (m *UserModule) Path() string {
	return m.path
}

func (m *UserModule) State() ModuleState {
	return m.state
}

func (m *UserModule) Module() loader.Module {
	return m.module
}

func (m *UserModule) Xex() *loader.XexModule {
	return m.xex
}

func (m *UserModule) Patch() *UserModule {
	return m.patch
}

func (m *UserModule) IsPatch() bool {
	return m.xex != nil && m.xex.IsPatch()
}

func (m *UserModule) IsDLL() bool {
	return m.dll
}

// IsExecutable reports whether the module completed loading and can be launched.
func (m *UserModule) IsExecutable() bool {
	return m.state == ModuleReady && !m.dll && m.entry != 0 && !m.IsPatch()
}

func (m *UserModule) EntryPoint() uint32 {
	return m.entry
}

func (m *UserModule) EntryAddr() uint32 {
	return m.entry
}

func (m *UserModule) StackSize() uint32 {
	return m.stack
}

func (m *UserModule) GuestHeader() uint32 {
	return m.guestHeader
}

func (m *UserModule) LdrData() uint32 {
	return m.ldrData
}

func (m *UserModule) Region() (uint32, uint32) {
	if m.module == nil {
		return 0, 0
	}
	return m.module.BaseAddr(), m.module.ImageSize()
}

func (m *UserModule) ExecutionInfo() (loader.ExecutionInfo, bool) {
	if m.xex == nil {
		return loader.ExecutionInfo{}, false
	}
	return m.xex.ExecutionInfo()
}

func (m *UserModule) TitleID() uint32 {
	if m.xex == nil {
		return 0
	}
	return m.xex.TitleID()
}

func (m *UserModule) LoadFromFile(path string) error {
	vfs := m.kernel.vfs
	entry, err := vfs.ResolvePath(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, ErrNoSuchFile)
	}
	m.path = entry.AbsolutePath()
	m.name = entry.Name()
	data, err := entry.ReadAll()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
	}
	if err = m.LoadFromMemory(data); !errors.Is(err, loader.ErrPending) {
		return err
	}
	if exec, ok := m.xex.ExecutionInfo(); ok && m.kernel.TitleID() == 0 {
		m.kernel.SetTitleID(exec.TitleID)
	}
	if m.kernel.applyPatches {
		if err = m.applyTitleUpdate(entry.Path()); err != nil {
			return err
		}
	}
	return m.LoadContinue()
}

// LoadFromMemory parses the image and maps it. Executables return
// loader.ErrPending until LoadContinue resolves them.
func (m *UserModule) LoadFromMemory(data []byte) error {
	format, err := loader.Detect(data)
	if err != nil {
		m.logger.Error("unsupported module format", zap.String("name", m.name), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrNotImplemented, err)
	}
	mem := m.kernel.mem
	switch format {
	case loader.FormatXEX:
		xex, err := loader.ParseXex(data, false)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
		}
		m.xex, m.module = xex, xex
		if xex.IsPatch() {
			m.state = ModuleReady
			return nil
		}
		if err = xex.Map(mem); err != nil {
			return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
		} else if err = m.register(); err != nil {
			return err
		}
		m.state = ModulePending
		return loader.ErrPending
	case loader.FormatELF:
		elf, err := loader.ParseElf(data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
		}
		m.module = elf
		if err = elf.Map(mem); err != nil {
			return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
		} else if err = m.register(); err != nil {
			return err
		}
		m.entry, m.stack, m.dll = elf.EntryAddr(), elf.StackSize(), false
		if err = m.writeLdrData(); err != nil {
			return err
		}
		m.state = ModuleReady
		return nil
	}
	return ErrNotImplemented
}

func (m *UserModule) register() error {
	if err := m.kernel.proc.AddModule(m); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
	}
	m.registered = true
	return nil
}

// LoadContinue resolves imports and mirrors the header into guest memory.
func (m *UserModule) LoadContinue() error {
	if m.xex == nil {
		return ErrUnsuccessful
	} else if m.guestHeader != 0 {
		return nil
	} else if m.state != ModulePending {
		return ErrUnsuccessful
	}
	mem := m.kernel.mem
	if err := m.resolveImports(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
	} else if err = m.xex.Protect(mem); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
	}
	blob := m.xex.HeaderBlob()
	addr, err := mem.SystemHeapAlloc(uint32(len(blob)), 0)
	if err != nil {
		return err
	} else if err = mem.Write(addr, blob); err != nil {
		return err
	}
	m.guestHeader, m.headerSize = addr, uint32(len(blob))
	m.entry, m.stack, m.dll = m.xex.EntryAddr(), m.xex.StackSize(), m.xex.IsDLL()
	if err = m.writeLdrData(); err != nil {
		return err
	}
	m.state = ModuleReady
	m.logger.Info("module loaded", zap.String("name", m.name), zap.String("entry", fmt.Sprintf("%08X", m.entry)))
	return nil
}

func (m *UserModule) resolveImports() error {
	mem := m.kernel.mem
	proc := m.kernel.proc
	resolver := proc.ExportResolver()
	relocs, err := m.xex.Relocations(mem)
	if err != nil {
		return err
	}
	stats := make(map[string]*importStat)
	for _, lib := range m.xex.Imports() {
		stat := &importStat{library: lib.Name, version: lib.Version}
		stats[lib.Name] = stat
		m.imports = append(m.imports, *stat)
	}
	for _, rel := range relocs {
		switch rel := rel.(type) {
		case *loader.RelocationVariable:
			stat := stats[rel.Library]
			stat.total++
			value := 0xD000BEEF | uint32(rel.Ordinal&0xFFF)<<16
			export, err := resolver.GetExportByOrdinal(rel.Library, rel.Ordinal)
			if err == nil {
				stat.known++
			}
			if err == nil && export.Type == cpu.ExportVariable && export.VariableAddr != 0 {
				stat.implemented++
				value = export.VariableAddr
			} else {
				m.logger.Warn("unresolved variable import", zap.String("library", rel.Library), zap.Uint16("ordinal", rel.Ordinal))
			}
			if err = mem.Pointer(rel.Addr).WriteUint32(value); err != nil {
				return err
			}
		case *loader.RelocationFunction:
			stat := stats[rel.Library]
			stat.total++
			export, err := resolver.GetExportByOrdinal(rel.Library, rel.Ordinal)
			if err != nil {
				m.logger.Warn("unknown function import", zap.String("library", rel.Library), zap.Uint16("ordinal", rel.Ordinal))
				export = &cpu.Export{Ordinal: rel.Ordinal, Name: fmt.Sprintf("__imp__%s_%04X", rel.Library, rel.Ordinal)}
			} else {
				stat.known++
				if export.Implemented() {
					stat.implemented++
				}
			}
			thunk := binary.BigEndian.AppendUint32(nil, thunkSyscall)
			thunk = binary.BigEndian.AppendUint32(thunk, thunkReturn)
			thunk = binary.BigEndian.AppendUint32(thunk, thunkNop)
			thunk = binary.BigEndian.AppendUint32(thunk, thunkNop)
			if err = mem.Write(rel.Addr, thunk); err != nil {
				return err
			} else if err = proc.BindImport(rel.Addr, export); err != nil {
				return err
			}
		}
	}
	for i := range m.imports {
		m.imports[i] = *stats[m.imports[i].library]
	}
	return nil
}

func (m *UserModule) writeLdrData() error {
	mem := m.kernel.mem
	if m.ldrData == 0 {
		addr, err := mem.SystemHeapAlloc(memory.PageSize, 0)
		if err != nil {
			return err
		}
		m.ldrData = addr
	}
	base, size := m.Region()
	entry := ldrDataEntry{
		ImageBase:     base,
		ImageSize:     size,
		FullImageSize: size,
		EntryPoint:    m.entry,
		LoadCount:     1,
		XexHeaderBase: m.guestHeader,
	}
	stream := encoding.NewWriteStream(mem.ByteOrder())
	if err := encoding.Encode(stream, &entry); err != nil {
		return err
	}
	return mem.Write(m.ldrData, stream.Bytes())
}

func (m *UserModule) Unload() error {
	if m.state == ModuleUnparsed || m.state == ModuleUnloaded {
		return nil
	}
	mem := m.kernel.mem
	if m.registered {
		m.kernel.proc.RemoveModule(m.name)
		m.registered = false
	}
	var err error
	if !m.IsPatch() {
		err = m.module.Unmap(mem)
	}
	if m.guestHeader != 0 {
		mem.SystemHeapFree(m.guestHeader)
		m.guestHeader = 0
	}
	if m.ldrData != 0 {
		mem.SystemHeapFree(m.ldrData)
		m.ldrData = 0
	}
	m.entry = 0
	m.state = ModuleUnloaded
	return err
}

func (m *UserModule) GetOptHeader(key uint32) ([]byte, error) {
	if m.xex == nil {
		return nil, ErrUnsuccessful
	}
	data, ok := m.xex.OptHeaderData(key)
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// GetOptHeaderGuest returns the inline value for value headers and the guest
// address of the data otherwise.
func (m *UserModule) GetOptHeaderGuest(key uint32) (uint32, error) {
	if m.xex == nil {
		return 0, ErrUnsuccessful
	} else if m.guestHeader == 0 {
		return 0, ErrModuleNotReady
	}
	h, ok := m.xex.OptHeader(key)
	if !ok {
		return 0, ErrNotFound
	} else if h.Kind() == loader.OptValue {
		return h.Value, nil
	}
	off, _ := m.xex.OptHeaderOffset(key)
	return m.guestHeader + off, nil
}

func (m *UserModule) GetSection(name string) (uint32, uint32, error) {
	if m.xex == nil {
		return 0, 0, ErrUnsuccessful
	}
	res, ok := m.xex.Resource(name)
	if !ok {
		return 0, 0, ErrNotFound
	}
	return res.Address, res.Size, nil
}

func (m *UserModule) Dump() {
	if m.xex == nil {
		if m.module != nil {
			base, size := m.Region()
			m.logger.Info("module", zap.String("name", m.name), zap.String("format", m.module.Format().String()),
				zap.Uint32("base", base), zap.Uint32("size", size), zap.Uint32("entry", m.entry))
		}
		return
	}
	xex := m.xex
	hdr := xex.Header()
	var flags []string
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{loader.XexModuleTitle, "title"},
		{loader.XexModuleExportsLib, "exports_to_title"},
		{loader.XexModuleDebugger, "system_debugger"},
		{loader.XexModuleDLL, "dll"},
		{loader.XexModulePatch, "patch"},
		{loader.XexModulePatchFull, "patch_full"},
		{loader.XexModulePatchDelta, "patch_delta"},
		{loader.XexModuleUserMode, "user_mode"},
	} {
		if hdr.ModuleFlags&f.bit != 0 {
			flags = append(flags, f.name)
		}
	}
	sec := xex.SecurityInfo()
	m.logger.Info("module",
		zap.String("name", m.name),
		zap.String("path", m.path),
		zap.String("state", m.state.String()),
		zap.Strings("flags", flags),
		zap.String("image_flags", fmt.Sprintf("%08X", sec.ImageFlags)),
		zap.String("load_address", fmt.Sprintf("%08X", sec.LoadAddress)),
		zap.String("image_size", fmt.Sprintf("%08X", sec.ImageSize)),
		zap.String("export_table", fmt.Sprintf("%08X", sec.ExportTable)),
	)
	for _, h := range xex.OptHeaders() {
		fields := []zap.Field{zap.String("key", optHeaderName(h.Key)), zap.String("value", fmt.Sprintf("%08X", h.Value))}
		switch h.Key {
		case loader.XexHeaderExecutionInfo:
			exec, _ := xex.ExecutionInfo()
			fields = append(fields,
				zap.String("title_id", fmt.Sprintf("%08X", exec.TitleID)),
				zap.String("media_id", fmt.Sprintf("%08X", exec.MediaID)),
				zap.Stringer("version", exec.Version),
				zap.Stringer("base_version", exec.BaseVersion),
				zap.String("disc", fmt.Sprintf("%d/%d", exec.DiscNumber, exec.DiscCount)),
			)
		case loader.XexHeaderFileFormatInfo:
			format := xex.FileFormat()
			fields = append(fields, zap.Uint16("encryption", format.EncryptionType), zap.Uint16("compression", format.CompressionType))
		case loader.XexHeaderDeltaPatchDescriptor:
			patch, _ := xex.PatchDescriptor()
			fields = append(fields, zap.Stringer("source_version", patch.SourceVersion), zap.Stringer("target_version", patch.TargetVersion))
		case loader.XexHeaderOriginalPEName, loader.XexHeaderBoundingPath:
			if data, ok := xex.OptHeaderData(h.Key); ok && len(data) > 4 {
				fields = append(fields, zap.String("string", strings.TrimRight(string(data[4:]), "\x00")))
			}
		}
		m.logger.Info("optional header", fields...)
	}
	for _, res := range xex.Resources() {
		m.logger.Info("resource", zap.String("name", res.Name), zap.String("address", fmt.Sprintf("%08X", res.Address)), zap.Uint32("size", res.Size))
	}
	for i, region := range xex.Regions() {
		m.logger.Info("section", zap.Int("index", i), zap.String("type", sectionType(region.Prot)),
			zap.String("address", fmt.Sprintf("%08X", region.Addr)), zap.String("size", fmt.Sprintf("%08X", region.Size)))
	}
	for _, stat := range m.imports {
		m.logger.Info("import library", zap.String("library", stat.library), zap.Stringer("version", stat.version),
			zap.Int("total", stat.total), zap.Int("known", stat.known), zap.Int("implemented", stat.implemented))
	}
}

func optHeaderName(key uint32) string {
	switch key {
	case loader.XexHeaderResourceInfo:
		return "resource_info"
	case loader.XexHeaderFileFormatInfo:
		return "file_format_info"
	case loader.XexHeaderDeltaPatchDescriptor:
		return "delta_patch_descriptor"
	case loader.XexHeaderBoundingPath:
		return "bounding_path"
	case loader.XexHeaderEntryPoint:
		return "entry_point"
	case loader.XexHeaderImageBaseAddress:
		return "image_base_address"
	case loader.XexHeaderImportLibraries:
		return "import_libraries"
	case loader.XexHeaderOriginalPEName:
		return "original_pe_name"
	case loader.XexHeaderTLSInfo:
		return "tls_info"
	case loader.XexHeaderDefaultStackSize:
		return "default_stack_size"
	case loader.XexHeaderSystemFlags:
		return "system_flags"
	case loader.XexHeaderExecutionInfo:
		return "execution_info"
	}
	return fmt.Sprintf("%08X", key)
}

func sectionType(prot memory.Prot) string {
	switch prot {
	case memory.ProtRead | memory.ProtExec:
		return "code"
	case memory.ProtRead | memory.ProtWrite:
		return "data"
	case memory.ProtRead:
		return "readonly"
	}
	return prot.String()
}
