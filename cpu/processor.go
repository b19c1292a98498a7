package cpu

import (
	"context"
	"io"
	"maps"
	"slices"

	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/memory"
)

type Module interface {
	Name() string
	Region() (uint32, uint32)
	EntryAddr() uint32
}

type Function interface {
	Name() string
	GuestAddress(hostPC uint64) uint32
}

type CodeCache interface {
	ExecuteBaseAddress() uint64
	TotalSize() uint64
	LookupFunction(hostPC uint64) (Function, bool)
}

type Backend interface {
	io.Closer
	Name() string
	CodeCache() CodeCache
}

type Processor interface {
	io.Closer
	Memory() *memory.Memory
	ExportResolver() *ExportResolver
	Backend() Backend
	Setup(backend Backend) error
	IsDebuggerAttached() bool
	OnUnhandledException(ex *Exception) bool
	AddModule(module Module) error
	RemoveModule(name string)
	BindImport(addr uint32, export *Export) error
	Execute(ctx context.Context, thread Thread) error
	Save(stream encoding.Stream) error
	Restore(stream encoding.Stream) error
}

type Factory func(mem *memory.Memory, exports *ExportResolver) (Processor, error)

type BackendCtor func(mem *memory.Memory) (Backend, error)

var backendMap = make(map[string]BackendCtor)

func Register(name string, ctor BackendCtor) bool {
	if _, ok := backendMap[name]; ok {
		return false
	}
	backendMap[name] = ctor
	return true
}

func Backends() []string {
	return slices.Sorted(maps.Keys(backendMap))
}

func NewBackend(name string, mem *memory.Memory) (Backend, error) {
	if name == "" || name == "any" {
		names := Backends()
		if len(names) == 0 {
			return nil, ErrBackendNotFound
		}
		name = names[0]
	}
	ctor, ok := backendMap[name]
	if !ok {
		return nil, ErrBackendNotFound
	}
	return ctor(mem)
}

func InCodeCache(cache CodeCache, hostPC uint64) bool {
	base := cache.ExecuteBaseAddress()
	return hostPC >= base && hostPC < base+cache.TotalSize()
}
