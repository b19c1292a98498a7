package null

import (
	"sync/atomic"

	"github.com/wnxd/microxe/cpu"
	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/gpu"
	"github.com/wnxd/microxe/ui"
)

type Graphics struct {
	window   ui.Window
	paused   atomic.Bool
	titleID  atomic.Uint32
	shutdown atomic.Bool
}

func NewGraphics() (gpu.GraphicsSystem, error) {
	return new(Graphics), nil
}

func (g *Graphics) Setup(proc cpu.Processor, window ui.Window) error {
	g.window = window
	return nil
}

func (g *Graphics) Shutdown() error {
	g.shutdown.Store(true)
	return nil
}

func (g *Graphics) Pause() {
	g.paused.Store(true)
}

func (g *Graphics) Resume() {
	g.paused.Store(false)
}

func (g *Graphics) IsPaused() bool {
	return g.paused.Load()
}

func (g *Graphics) InitializeShaderStorage(cacheRoot string, titleID uint32, blocking bool) error {
	g.titleID.Store(titleID)
	return nil
}

func (g *Graphics) Save(stream encoding.Stream) error {
	id := g.titleID.Load()
	return encoding.Encode(stream, &id)
}

func (g *Graphics) Restore(stream encoding.Stream) error {
	var id uint32
	if err := encoding.Decode(stream, &id); err != nil {
		return err
	}
	g.titleID.Store(id)
	return nil
}
