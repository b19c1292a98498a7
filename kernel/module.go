package kernel

import (
	"slices"
	"strings"
	"sync"

	"github.com/wnxd/microxe/cpu"
)

type Module interface {
	Object
	Name() string
	Path() string
}

type KernelModule struct {
	kernel  *KernelState
	handle  uint32
	name    string
	path    string
	exports []*cpu.Export
}

func newKernelModule(k *KernelState, name string, exports []*cpu.Export) *KernelModule {
	return &KernelModule{
		kernel:  k,
		handle:  k.objects.Allocate(),
		name:    name,
		path:    `\Device\Harddisk0\SystemPartition\` + name,
		exports: exports,
	}
}

func (m *KernelModule) Handle() uint32 {
	return m.handle
}

func (m *KernelModule) Name() string {
	return m.name
}

func (m *KernelModule) Path() string {
	return m.path
}

func (m *KernelModule) Exports() []*cpu.Export {
	return m.exports
}

func (m *KernelModule) register() {
	m.kernel.proc.ExportResolver().RegisterTable(m.name, m.exports)
}

type moduleManager struct {
	mu     sync.Mutex
	loaded []Module
}

func (mm *moduleManager) Load(module Module) {
	mm.mu.Lock()
	if !slices.Contains(mm.loaded, module) {
		mm.loaded = append(mm.loaded, module)
	}
	mm.mu.Unlock()
}

func (mm *moduleManager) Unload(module Module) {
	mm.mu.Lock()
	mm.loaded = slices.DeleteFunc(mm.loaded, func(m Module) bool { return m == module })
	mm.mu.Unlock()
}

func (mm *moduleManager) Modules() []Module {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return slices.Clone(mm.loaded)
}

// FindModule matches either the module name or its full path.
func (mm *moduleManager) FindModule(name string) (Module, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, module := range mm.loaded {
		if strings.EqualFold(module.Name(), name) || strings.EqualFold(module.Path(), name) {
			return module, nil
		}
	}
	return nil, ErrModuleNotFound
}

func (mm *moduleManager) FindModuleByAddr(addr uint32) (*UserModule, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, module := range mm.loaded {
		um, ok := module.(*UserModule)
		if !ok {
			continue
		}
		begin, size := um.Region()
		if addr >= begin && addr-begin < size {
			return um, nil
		}
	}
	return nil, ErrModuleNotFound
}
