package emulator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wnxd/microxe/apu"
	"github.com/wnxd/microxe/clock"
	"github.com/wnxd/microxe/config"
	"github.com/wnxd/microxe/cpu"
	"github.com/wnxd/microxe/filesystem"
	"github.com/wnxd/microxe/gpu"
	"github.com/wnxd/microxe/hid"
	"github.com/wnxd/microxe/internal/threading"
	"github.com/wnxd/microxe/kernel"
	"github.com/wnxd/microxe/memory"
	"github.com/wnxd/microxe/ui"
)

var kernelModules = []string{"xboxkrnl.exe", "xam.xex", "xbdm.xex"}

// ExceptionHost delivers host faults raised while guest code runs.
type ExceptionHost interface {
	Install(handler func(ex *cpu.Exception) bool)
	Uninstall()
	IsDebuggerAttached() bool
}

type Options struct {
	Config      *config.Config
	Logger      *zap.Logger
	Processor   cpu.Factory
	Exceptions  ExceptionHost
	Events      Events
	DumpModules bool
}

type Emulator struct {
	logger     *zap.Logger
	cfg        *config.Config
	newProc    cpu.Factory
	exceptions ExceptionHost
	events     Events
	dump       bool

	window   ui.Window
	clock    *clock.Clock
	mem      *memory.Memory
	exports  *cpu.ExportResolver
	proc     cpu.Processor
	audio    apu.AudioSystem
	graphics gpu.GraphicsSystem
	input    *hid.InputSystem
	vfs      *filesystem.VirtualFileSystem
	kernel   *kernel.KernelState

	mu           sync.Mutex
	titleID      uint32
	titleOpen    bool
	titleName    string
	titleVersion string
	mainThread   *kernel.XThread
	crashed      map[*kernel.XThread]struct{}

	paused       atomic.Bool
	restoring    atomic.Bool
	restoreFence *threading.Fence
}

func New(opts Options) *Emulator {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emulator{
		logger:       logger,
		cfg:          cfg,
		newProc:      opts.Processor,
		exceptions:   opts.Exceptions,
		events:       opts.Events,
		dump:         opts.DumpModules,
		crashed:      make(map[*kernel.XThread]struct{}),
		restoreFence: threading.NewFence(),
	}
}

// Setup brings the subsystems up in dependency order. A nil audio factory
// leaves the emulator without audio; every other failure is fatal.
func (e *Emulator) Setup(window ui.Window, audio apu.Factory, graphics gpu.Factory, inputs ...hid.DriverFactory) error {
	e.window = window

	e.clock = clock.New()
	e.clock.SetTimeScalar(e.cfg.TimeScalar)

	e.mem = memory.New()
	e.exports = cpu.NewExportResolver()

	if e.newProc == nil {
		return fmt.Errorf("%w: no processor", ErrNotImplemented)
	}
	backend, err := cpu.NewBackend(e.cfg.CPU, e.mem)
	if err != nil {
		return fmt.Errorf("%w: cpu backend %q: %w", ErrUnsuccessful, e.cfg.CPU, err)
	}
	if e.proc, err = e.newProc(e.mem, e.exports); err != nil {
		backend.Close()
		return fmt.Errorf("%w: processor: %w", ErrUnsuccessful, err)
	} else if err = e.proc.Setup(backend); err != nil {
		err = multierr.Append(err, backend.Close())
		return fmt.Errorf("%w: processor: %w", ErrUnsuccessful, err)
	}

	if audio != nil {
		if e.audio, err = audio(e.proc); err != nil {
			return fmt.Errorf("%w: audio: %w", ErrNotImplemented, err)
		}
	}
	if graphics == nil {
		return fmt.Errorf("%w: no graphics system", ErrNotImplemented)
	} else if e.graphics, err = graphics(); err != nil {
		return fmt.Errorf("%w: graphics: %w", ErrNotImplemented, err)
	}

	e.input = hid.NewInputSystem(window)
	for _, factory := range inputs {
		driver, err := factory(window)
		if err != nil {
			return fmt.Errorf("%w: input driver: %w", ErrNotImplemented, err)
		}
		driver.SetIsActiveCallback(e.inputActive)
		e.input.AddDriver(driver)
	}
	if err = e.input.Setup(); err != nil {
		return fmt.Errorf("%w: input: %w", ErrUnsuccessful, err)
	}

	e.vfs = filesystem.New()
	e.kernel = kernel.New(e.proc, e.vfs, kernel.Options{
		Logger:       e.logger,
		ApplyPatches: e.cfg.ApplyPatches,
		ContentRoot:  e.cfg.ContentRoot,
		DumpModules:  e.dump,
	})

	if err = e.graphics.Setup(e.proc, window); err != nil {
		return fmt.Errorf("%w: graphics: %w", ErrUnsuccessful, err)
	}
	if e.audio != nil {
		if err = e.audio.Setup(); err != nil {
			return fmt.Errorf("%w: audio: %w", ErrUnsuccessful, err)
		}
	}

	for _, name := range kernelModules {
		if _, err = e.kernel.LoadKernelModule(name); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnsuccessful, name, err)
		}
	}

	if e.exceptions != nil {
		e.exceptions.Install(e.ExceptionCallback)
	}
	if window != nil {
		window.Loop().PostSynchronous(func() {
			window.SetTitle("microxe")
		})
	}
	e.logger.Info("emulator ready", zap.String("cpu", backend.Name()))
	return nil
}

func (e *Emulator) inputActive() bool {
	if e.kernel == nil {
		return true
	}
	xam := e.kernel.Xam()
	return xam == nil || !xam.IsUIActive()
}

// Close tears the subsystems down in a fixed order that differs from the
// order they were brought up in.
func (e *Emulator) Close() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"exceptions", func() error {
			if e.exceptions != nil {
				e.exceptions.Uninstall()
			}
			return nil
		}},
		{"graphics shutdown", func() error {
			if e.graphics == nil {
				return nil
			}
			return e.graphics.Shutdown()
		}},
		{"audio shutdown", func() error {
			if e.audio == nil {
				return nil
			}
			return e.audio.Shutdown()
		}},
		{"input", func() error { e.input = nil; return nil }},
		{"graphics", func() error { e.graphics = nil; return nil }},
		{"audio", func() error { e.audio = nil; return nil }},
		{"kernel", func() error {
			if e.kernel == nil {
				return nil
			}
			err := e.kernel.Close()
			e.kernel = nil
			return err
		}},
		{"filesystem", func() error {
			if e.vfs == nil {
				return nil
			}
			err := e.vfs.Close()
			e.vfs = nil
			return err
		}},
		{"processor", func() error {
			if e.proc == nil {
				return nil
			}
			err := e.proc.Close()
			e.proc = nil
			return err
		}},
		{"exports", func() error { e.exports = nil; return nil }},
	}
	var err error
	for _, step := range steps {
		if stepErr := step.fn(); stepErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", step.name, stepErr))
		}
	}
	return err
}

func (e *Emulator) Config() *config.Config {
	return e.cfg
}

func (e *Emulator) Window() ui.Window {
	return e.window
}

func (e *Emulator) Clock() *clock.Clock {
	return e.clock
}

func (e *Emulator) Memory() *memory.Memory {
	return e.mem
}

func (e *Emulator) ExportResolver() *cpu.ExportResolver {
	return e.exports
}

func (e *Emulator) Processor() cpu.Processor {
	return e.proc
}

func (e *Emulator) AudioSystem() apu.AudioSystem {
	return e.audio
}

func (e *Emulator) GraphicsSystem() gpu.GraphicsSystem {
	return e.graphics
}

func (e *Emulator) InputSystem() *hid.InputSystem {
	return e.input
}

func (e *Emulator) FileSystem() *filesystem.VirtualFileSystem {
	return e.vfs
}

func (e *Emulator) Kernel() *kernel.KernelState {
	return e.kernel
}

func (e *Emulator) TitleID() (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.titleID, e.titleOpen
}

func (e *Emulator) TitleName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.titleName
}

func (e *Emulator) TitleVersion() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.titleVersion
}

func (e *Emulator) IsTitleOpen() bool {
	_, ok := e.TitleID()
	return ok
}

func (e *Emulator) IsPaused() bool {
	return e.paused.Load()
}

func (e *Emulator) IsRestoring() bool {
	return e.restoring.Load()
}

func (e *Emulator) MainThread() *kernel.XThread {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mainThread
}

func (e *Emulator) resetTitle() {
	e.mu.Lock()
	e.titleID, e.titleOpen = 0, false
	e.titleName, e.titleVersion = "", ""
	clear(e.crashed)
	e.mu.Unlock()
}
