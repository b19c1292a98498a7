package filesystem

import (
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type VirtualFileSystem struct {
	mu       sync.RWMutex
	devices  []Device
	symlinks map[string]string
}

func New() *VirtualFileSystem {
	return &VirtualFileSystem{symlinks: make(map[string]string)}
}

func (v *VirtualFileSystem) Close() error {
	v.mu.Lock()
	devices := v.devices
	v.devices = nil
	clear(v.symlinks)
	v.mu.Unlock()
	var err error
	for _, dev := range devices {
		err = multierr.Append(err, dev.Close())
	}
	return err
}

func (v *VirtualFileSystem) RegisterDevice(dev Device) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, d := range v.devices {
		if strings.EqualFold(d.MountPath(), dev.MountPath()) {
			return fmt.Errorf("%s: %w", dev.MountPath(), ErrDeviceExists)
		}
	}
	v.devices = append(v.devices, dev)
	Logger().Debug("device registered", zap.String("mount", dev.MountPath()))
	return nil
}

func (v *VirtualFileSystem) UnregisterDevice(mountPath string) error {
	v.mu.Lock()
	i := slices.IndexFunc(v.devices, func(d Device) bool { return strings.EqualFold(d.MountPath(), mountPath) })
	if i == -1 {
		v.mu.Unlock()
		return fmt.Errorf("%s: %w", mountPath, ErrDeviceNotFound)
	}
	dev := v.devices[i]
	v.devices = slices.Delete(v.devices, i, i+1)
	v.mu.Unlock()
	Logger().Debug("device unregistered", zap.String("mount", mountPath))
	return dev.Close()
}

func (v *VirtualFileSystem) RegisterSymbolicLink(path, target string) error {
	key := strings.ToLower(path)
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.symlinks[key]; ok {
		return fmt.Errorf("%s: %w", path, ErrLinkExists)
	}
	v.symlinks[key] = target
	Logger().Debug("symbolic link registered", zap.String("path", path), zap.String("target", target))
	return nil
}

func (v *VirtualFileSystem) UpdateSymbolicLink(path, target string) error {
	key := strings.ToLower(path)
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.symlinks[key]; !ok {
		return fmt.Errorf("%s: %w", path, ErrLinkNotFound)
	}
	v.symlinks[key] = target
	Logger().Debug("symbolic link updated", zap.String("path", path), zap.String("target", target))
	return nil
}

func (v *VirtualFileSystem) UnregisterSymbolicLink(path string) error {
	key := strings.ToLower(path)
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.symlinks[key]; !ok {
		return fmt.Errorf("%s: %w", path, ErrLinkNotFound)
	}
	delete(v.symlinks, key)
	return nil
}

func (v *VirtualFileSystem) FindSymbolicLink(path string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	target, ok := v.symlinks[strings.ToLower(path)]
	return target, ok
}

func (v *VirtualFileSystem) ResolvePath(path string) (*Entry, error) {
	normalized := v.expand(normalize(path))
	v.mu.RLock()
	var dev Device
	var rest string
	for _, d := range v.devices {
		mount := d.MountPath()
		if !hasPathPrefix(normalized, mount) || (dev != nil && len(mount) <= len(dev.MountPath())) {
			continue
		}
		dev, rest = d, strings.TrimPrefix(normalized[len(mount):], "\\")
	}
	v.mu.RUnlock()
	if dev == nil {
		return nil, &fs.PathError{Op: "resolve", Path: path, Err: fs.ErrNotExist}
	}
	entry, err := lookupEntry(dev, strings.ReplaceAll(rest, "\\", "/"))
	if err != nil {
		return nil, &fs.PathError{Op: "resolve", Path: path, Err: fs.ErrNotExist}
	}
	return entry, nil
}

func (v *VirtualFileSystem) expand(path string) string {
	i := strings.IndexByte(path, ':')
	if i == -1 {
		return path
	}
	target, ok := v.FindSymbolicLink(path[:i+1])
	if !ok {
		return path
	}
	return normalize(target + "\\" + path[i+1:])
}

func normalize(path string) string {
	parts := strings.FieldsFunc(strings.ReplaceAll(path, "/", "\\"), func(r rune) bool { return r == '\\' })
	out := parts[:0]
	for _, part := range parts {
		switch part {
		case ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	joined := strings.Join(out, "\\")
	if strings.HasPrefix(path, "\\") || strings.HasPrefix(path, "/") {
		return "\\" + joined
	}
	return joined
}

func hasPathPrefix(path, prefix string) bool {
	if len(path) < len(prefix) || !strings.EqualFold(path[:len(prefix)], prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '\\'
}
