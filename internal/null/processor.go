package null

import (
	"context"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/wnxd/microxe/cpu"
	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/memory"
)

const (
	BackendName = "null"

	codeCacheBase = 0xA0000000
	codeCacheSize = 0x10000000
)

func init() {
	cpu.Register(BackendName, NewBackend)
}

type backend struct {
	cache codeCache
}

func NewBackend(mem *memory.Memory) (cpu.Backend, error) {
	return new(backend), nil
}

func (b *backend) Close() error {
	return nil
}

func (b *backend) Name() string {
	return BackendName
}

func (b *backend) CodeCache() cpu.CodeCache {
	return b.cache
}

type codeCache struct{}

func (codeCache) ExecuteBaseAddress() uint64 {
	return codeCacheBase
}

func (codeCache) TotalSize() uint64 {
	return codeCacheSize
}

func (codeCache) LookupFunction(uint64) (cpu.Function, bool) {
	return nil, false
}

// Processor tracks modules and import bindings but runs no guest code. A
// started thread waits out its suspension and exits.
type Processor struct {
	logger  *zap.Logger
	mem     *memory.Memory
	exports *cpu.ExportResolver
	backend cpu.Backend
	mu      sync.Mutex
	modules map[string]cpu.Module
	imports map[uint32]*cpu.Export
}

type processorState struct {
	Modules []string
	Imports []uint32
}

func NewProcessor(logger *zap.Logger) cpu.Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(mem *memory.Memory, exports *cpu.ExportResolver) (cpu.Processor, error) {
		return &Processor{
			logger:  logger.Named("cpu"),
			mem:     mem,
			exports: exports,
			modules: make(map[string]cpu.Module),
			imports: make(map[uint32]*cpu.Export),
		}, nil
	}
}

func (p *Processor) Close() error {
	if p.backend == nil {
		return nil
	}
	err := p.backend.Close()
	p.backend = nil
	return err
}

func (p *Processor) Memory() *memory.Memory {
	return p.mem
}

func (p *Processor) ExportResolver() *cpu.ExportResolver {
	return p.exports
}

func (p *Processor) Backend() cpu.Backend {
	return p.backend
}

func (p *Processor) Setup(backend cpu.Backend) error {
	p.backend = backend
	return nil
}

func (p *Processor) IsDebuggerAttached() bool {
	return false
}

func (p *Processor) OnUnhandledException(ex *cpu.Exception) bool {
	return false
}

func (p *Processor) AddModule(module cpu.Module) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.modules[module.Name()]; ok {
		return cpu.ErrModuleExists
	}
	p.modules[module.Name()] = module
	base, size := module.Region()
	p.logger.Debug("module added", zap.String("name", module.Name()), zap.Uint32("base", base), zap.Uint32("size", size))
	return nil
}

func (p *Processor) RemoveModule(name string) {
	p.mu.Lock()
	delete(p.modules, name)
	p.mu.Unlock()
}

func (p *Processor) Modules() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.modules))
}

func (p *Processor) BindImport(addr uint32, export *cpu.Export) error {
	p.mu.Lock()
	p.imports[addr] = export
	p.mu.Unlock()
	if !export.Implemented() {
		p.logger.Debug("unimplemented import bound", zap.String("name", export.Name), zap.Uint32("addr", addr))
	}
	return nil
}

func (p *Processor) Execute(ctx context.Context, thread cpu.Thread) error {
	if err := thread.SafePoint(ctx); err != nil {
		return err
	}
	p.logger.Info("thread has no code to run", zap.Uint32("thread_id", thread.ThreadID()), zap.Uint32("entry", thread.EntryPoint()))
	return nil
}

func (p *Processor) Save(stream encoding.Stream) error {
	p.mu.Lock()
	state := processorState{
		Modules: slices.Sorted(maps.Keys(p.modules)),
		Imports: slices.Sorted(maps.Keys(p.imports)),
	}
	p.mu.Unlock()
	return encoding.Encode(stream, &state)
}

// Restore drops the current bindings. Modules and imports are registered
// again when the kernel reloads its modules.
func (p *Processor) Restore(stream encoding.Stream) error {
	var state processorState
	if err := encoding.Decode(stream, &state); err != nil {
		return err
	}
	p.mu.Lock()
	clear(p.modules)
	clear(p.imports)
	p.mu.Unlock()
	p.logger.Debug("processor restored", zap.Strings("modules", state.Modules), zap.Int("imports", len(state.Imports)))
	return nil
}
