package emulator

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wnxd/microxe/filesystem"
	"github.com/wnxd/microxe/kernel"
)

const (
	hddMountPath   = `\Device\Harddisk0\Partition0`
	cdromMountPath = `\Device\Cdrom0`

	defaultModule = "default.xex"
	xnaContentID  = "584E07D1"
)

var gameLinks = []string{"game:", "d:"}

// LaunchPath picks a mount strategy from the file extension.
func (e *Emulator) LaunchPath(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case "":
		return e.LaunchContainer(path)
	case ".xex", ".elf", ".exe":
		return e.LaunchExecutable(path)
	default:
		return e.LaunchDiscImage(path)
	}
}

// LaunchExecutable mounts the parent directory of a loose executable so that
// sibling files stay visible to the title.
func (e *Emulator) LaunchExecutable(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoSuchFile, err)
	}
	dev := filesystem.NewHostPathDevice(hddMountPath, filepath.Dir(abs), true)
	if err = e.mount(dev); err != nil {
		e.logger.Error("failed to mount executable directory", zap.String("path", path), zap.Error(err))
		return err
	}
	return e.CompleteLaunch(path, `game:\`+filepath.Base(abs))
}

func (e *Emulator) LaunchDiscImage(path string) error {
	if err := e.mount(filesystem.NewDiscImageDevice(cdromMountPath, path)); err != nil {
		e.logger.Error("failed to mount disc image", zap.String("path", path), zap.Error(err))
		e.notify("Failed to mount disc image", fmt.Sprintf("Unable to mount %s.\n\n%v", path, err))
		return err
	}
	return e.CompleteLaunch(path, e.FindLaunchModule())
}

func (e *Emulator) LaunchContainer(path string) error {
	if err := e.mount(filesystem.NewContainerDevice(cdromMountPath, path)); err != nil {
		e.logger.Error("failed to mount container", zap.String("path", path), zap.Error(err))
		e.notify("Failed to mount package", fmt.Sprintf("Unable to mount %s.\n\n%v", path, err))
		return err
	}
	return e.CompleteLaunch(path, e.FindLaunchModule())
}

func (e *Emulator) mount(dev filesystem.Device) error {
	if e.vfs == nil {
		return ErrNotSetup
	}
	if err := dev.Initialize(); err != nil {
		return fmt.Errorf("%w: %w", ErrNoSuchFile, err)
	}
	e.vfs.UnregisterDevice(dev.MountPath())
	if err := e.vfs.RegisterDevice(dev); err != nil {
		dev.Close()
		return fmt.Errorf("%w: %w", ErrNoSuchFile, err)
	}
	for _, link := range gameLinks {
		err := e.vfs.RegisterSymbolicLink(link, dev.MountPath())
		if errors.Is(err, filesystem.ErrLinkExists) {
			err = e.vfs.UpdateSymbolicLink(link, dev.MountPath())
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoSuchFile, err)
		}
	}
	return nil
}

// FindLaunchModule returns the guest path of the module a container launch
// starts with.
func (e *Emulator) FindLaunchModule() string {
	if e.cfg.LaunchModule != "" {
		return `game:\` + e.cfg.LaunchModule
	}
	module := defaultModule
	if name, ok := e.xnaModule(); ok {
		module = xnaContentID + `\` + name
	}
	return `game:\` + module
}

func (e *Emulator) xnaModule() (string, bool) {
	entry, err := e.vfs.ResolvePath(`game:\GameInfo.bin`)
	if err != nil {
		return "", false
	}
	data, err := entry.ReadAll()
	if err != nil {
		return "", false
	}
	info, err := kernel.ParseGameInfo(data)
	if err != nil {
		e.logger.Debug("ignoring GameInfo.bin", zap.Error(err))
		return "", false
	}
	if _, err = e.vfs.ResolvePath(`game:\` + xnaContentID); err != nil {
		return "", false
	}
	return info.ModuleName(), true
}

// CompleteLaunch loads modulePath and starts its main thread. path is the
// host path the launch originated from and may be empty.
func (e *Emulator) CompleteLaunch(path, modulePath string) error {
	if e.kernel == nil {
		return ErrNotSetup
	}
	e.resetTitle()
	e.setWindowIcon(nil)
	e.logger.Info("launching module", zap.String("path", path), zap.String("module", modulePath))

	module, err := e.kernel.LoadUserModule(modulePath)
	if err != nil {
		e.logger.Error("failed to load user module", zap.String("module", modulePath), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrNotFound, modulePath, err)
	}

	var titleID uint32
	e.mu.Lock()
	if exec, ok := module.ExecutionInfo(); ok {
		titleID = exec.TitleID
		if exec.Version != 0 {
			e.titleVersion = exec.Version.String()
		}
	}
	e.titleID, e.titleOpen = titleID, true
	e.mu.Unlock()

	e.fireShaderStorageInitialization(true)
	if err = e.graphics.InitializeShaderStorage(e.cfg.CacheRoot, titleID, true); err != nil {
		e.logger.Warn("shader storage initialization failed", zap.Error(err))
	}
	e.fireShaderStorageInitialization(false)

	thread, err := e.kernel.LaunchModule(module)
	if err != nil {
		e.logger.Error("failed to launch module", zap.String("module", modulePath), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
	}

	var name string
	if titleID != 0 {
		if ok, err := e.cfg.LoadGameConfig(e.cfg.StorageRoot, titleID); err != nil {
			e.logger.Warn("failed to load game config", zap.Error(err))
		} else if ok {
			e.clock.SetTimeScalar(e.cfg.TimeScalar)
		}
		if db, err := kernel.ReadXdbf(e.mem, module); err == nil {
			name = db.Title()
			e.mu.Lock()
			e.titleName = name
			e.mu.Unlock()
			e.setWindowIcon(db.Icon())
		} else {
			e.logger.Debug("no title metadata", zap.Error(err))
		}
	}
	e.updateWindowTitle()

	e.mu.Lock()
	e.mainThread = thread
	e.mu.Unlock()
	e.logger.Info("title launched",
		zap.String("title_id", fmt.Sprintf("%08X", titleID)),
		zap.String("name", name),
		zap.String("version", e.TitleVersion()))
	e.fireLaunch(titleID, name)
	return nil
}

// TerminateTitle stops the running title and forgets its metadata.
func (e *Emulator) TerminateTitle() error {
	if !e.IsTitleOpen() {
		return ErrNoTitle
	}
	e.kernel.TerminateTitle()
	e.resetTitle()
	e.fireTerminate()
	return nil
}

// TitleRequested reports whether the running title asked the system shell to
// launch another one.
func (e *Emulator) TitleRequested() bool {
	if e.kernel == nil {
		return false
	}
	xam := e.kernel.Xam()
	if xam == nil {
		return false
	}
	data := xam.LoaderData()
	return data.LaunchDataPresent && data.LaunchPath != ""
}

// LaunchNextTitle consumes the pending launch path. Launch data stays
// available to the next title.
func (e *Emulator) LaunchNextTitle() error {
	if !e.TitleRequested() {
		return ErrNotFound
	}
	xam := e.kernel.Xam()
	data := xam.LoaderData()
	next := data.LaunchPath
	data.LaunchPath = ""
	xam.SetLoaderData(data)
	return e.CompleteLaunch("", next)
}

func (e *Emulator) updateWindowTitle() {
	if e.window == nil {
		return
	}
	title := "microxe"
	if name := e.TitleName(); name != "" {
		title += " | " + name
		if version := e.TitleVersion(); version != "" {
			title += " v" + version
		}
	}
	e.window.Loop().Post(func() { e.window.SetTitle(title) })
}

func (e *Emulator) setWindowIcon(icon []byte) {
	if e.window == nil {
		return
	}
	e.window.Loop().PostSynchronous(func() {
		if err := e.window.SetIcon(icon); err != nil {
			e.logger.Debug("failed to set window icon", zap.Error(err))
		}
	})
}

func (e *Emulator) notify(title, message string) {
	if e.window == nil {
		return
	}
	e.window.Loop().PostSynchronous(func() { e.window.ShowMessageBox(title, message) })
}
