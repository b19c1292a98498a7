package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wnxd/microxe/content"
	"github.com/wnxd/microxe/loader"
)

const updatePartition = "update"

// applyTitleUpdate looks for <modulePath>p in the update partition, falling
// back to a patch file beside the module, and applies it to the pending image.
func (m *UserModule) applyTitleUpdate(modulePath string) error {
	vfs := m.kernel.vfs
	m.tryMountUpdatePackage(modulePath)
	fallback := false
	entry, err := vfs.ResolvePath(updatePartition + `:\` + modulePath + "p")
	if err != nil {
		if entry, err = vfs.ResolvePath(m.path + "p"); err != nil {
			return nil
		}
		fallback = true
	}
	patchPath := entry.AbsolutePath()
	data, err := entry.ReadAll()
	if err != nil {
		m.logger.Error("failed to read patch", zap.String("path", patchPath), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
	}
	headers, err := loader.ParseXex(data, true)
	if err != nil {
		m.logger.Error("failed to load patch headers", zap.String("path", patchPath), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
	} else if !headers.IsPatch() {
		m.logger.Error("patch file is not a patch", zap.String("path", patchPath))
		return fmt.Errorf("%w: %w", ErrUnsuccessful, loader.ErrNotPatch)
	} else if fallback && !headers.IsPatchApplicable(m.xex) {
		m.logger.Debug("patch beside module not applicable", zap.String("path", patchPath))
		return nil
	}
	m.logger.Info("loading patch", zap.String("path", patchPath))
	patch := NewUserModule(m.kernel)
	if err = patch.LoadFromFile(patchPath); err != nil {
		patch.Unload()
		m.logger.Error("failed to load patch", zap.String("path", patchPath), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
	}
	if err = patch.xex.ApplyPatch(m.xex); err != nil {
		patch.Unload()
		m.logger.Error("failed to apply patch", zap.String("path", patchPath), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
	} else if err = m.xex.Map(m.kernel.mem); err != nil {
		patch.Unload()
		return fmt.Errorf("%w: %w", ErrUnsuccessful, err)
	}
	exec, _ := m.xex.ExecutionInfo()
	m.logger.Info("patch applied", zap.String("path", patchPath), zap.Stringer("version", exec.Version))
	m.patch = patch
	return nil
}

// tryMountUpdatePackage mounts the first installed title update that carries
// an applicable patch for modulePath at update:.
func (m *UserModule) tryMountUpdatePackage(modulePath string) bool {
	k := m.kernel
	vfs := k.vfs
	if _, ok := vfs.FindSymbolicLink(updatePartition + ":"); ok {
		return false
	}
	mgr := k.ContentManager()
	if mgr == nil {
		return false
	}
	packages, err := mgr.ListContent(0, content.Installer)
	if err != nil {
		m.logger.Warn("failed to list title updates", zap.Error(err))
		return false
	}
	var discNumber uint8
	if exec, ok := m.xex.ExecutionInfo(); ok {
		discNumber = exec.DiscNumber
	}
	if exe := k.GetExecutableModule(); exe != nil {
		if exec, ok := exe.ExecutionInfo(); ok {
			discNumber = exec.DiscNumber
		}
	}
	for _, pkg := range packages {
		m.logger.Debug("checking title update", zap.String("package", pkg.FileName))
		if err = mgr.OpenContent(updatePartition, pkg); err != nil {
			m.logger.Error("failed to open title update", zap.String("package", pkg.FileName), zap.Error(err))
			continue
		}
		root := fmt.Sprintf("disc%03d", discNumber)
		remap := true
		entry, err := vfs.ResolvePath(updatePartition + `:\` + root + `\` + modulePath + "p")
		if err != nil {
			root, remap = "", false
			entry, err = vfs.ResolvePath(updatePartition + `:\` + modulePath + "p")
		}
		if err != nil {
			m.logger.Warn("patch not found in title update", zap.String("package", pkg.FileName), zap.String("module", modulePath))
			mgr.CloseContent(updatePartition)
			continue
		}
		data, err := entry.ReadAll()
		if err != nil {
			m.logger.Error("failed to read patch", zap.String("path", entry.AbsolutePath()), zap.Error(err))
			mgr.CloseContent(updatePartition)
			return false
		}
		patch, err := loader.ParseXex(data, true)
		if err != nil {
			m.logger.Error("failed to load patch headers", zap.String("path", entry.AbsolutePath()), zap.Error(err))
			mgr.CloseContent(updatePartition)
			continue
		} else if !patch.IsPatchApplicable(m.xex) {
			m.logger.Debug("title update not applicable", zap.String("package", pkg.FileName))
			mgr.CloseContent(updatePartition)
			continue
		}
		if remap {
			target, ok := vfs.FindSymbolicLink(updatePartition + ":")
			if !ok {
				err = fmt.Errorf("%s: link missing", updatePartition)
			} else {
				err = vfs.UpdateSymbolicLink(updatePartition+":", target+`\`+root)
			}
			if err != nil {
				m.logger.Error("failed to remap update partition", zap.String("root", root), zap.Error(err))
			}
		}
		m.logger.Info("title update applicable", zap.String("package", pkg.FileName))
		return true
	}
	return false
}
