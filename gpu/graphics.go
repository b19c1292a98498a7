package gpu

import (
	"github.com/wnxd/microxe/cpu"
	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/ui"
)

type GraphicsSystem interface {
	Setup(proc cpu.Processor, window ui.Window) error
	Shutdown() error
	Pause()
	Resume()
	InitializeShaderStorage(cacheRoot string, titleID uint32, blocking bool) error
	Save(stream encoding.Stream) error
	Restore(stream encoding.Stream) error
}

type Factory func() (GraphicsSystem, error)
