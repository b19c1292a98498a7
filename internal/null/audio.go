package null

import (
	"sync/atomic"

	"github.com/wnxd/microxe/apu"
	"github.com/wnxd/microxe/cpu"
	"github.com/wnxd/microxe/encoding"
)

type Audio struct {
	paused atomic.Bool
}

func NewAudio(proc cpu.Processor) (apu.AudioSystem, error) {
	return new(Audio), nil
}

func (a *Audio) Setup() error {
	return nil
}

func (a *Audio) Shutdown() error {
	return nil
}

func (a *Audio) Pause() {
	a.paused.Store(true)
}

func (a *Audio) Resume() {
	a.paused.Store(false)
}

func (a *Audio) IsPaused() bool {
	return a.paused.Load()
}

func (a *Audio) Save(stream encoding.Stream) error {
	_, err := stream.WriteStream(0)
	return err
}

func (a *Audio) Restore(stream encoding.Stream) error {
	_, err := stream.ReadStream()
	return err
}
