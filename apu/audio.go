package apu

import (
	"github.com/wnxd/microxe/cpu"
	"github.com/wnxd/microxe/encoding"
)

type AudioSystem interface {
	Setup() error
	Shutdown() error
	Pause()
	Resume()
	Save(stream encoding.Stream) error
	Restore(stream encoding.Stream) error
}

type Factory func(proc cpu.Processor) (AudioSystem, error)
