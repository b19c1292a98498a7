package content

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wnxd/microxe/filesystem"
)

type HostManager struct {
	mu      sync.Mutex
	vfs     *filesystem.VirtualFileSystem
	root    string
	titleID func() uint32
	open    map[string]string
	next    int
}

func NewHostManager(vfs *filesystem.VirtualFileSystem, root string, titleID func() uint32) *HostManager {
	return &HostManager{vfs: vfs, root: root, titleID: titleID, open: make(map[string]string)}
}

func (m *HostManager) Root() string {
	return m.root
}

func (m *HostManager) ContentPath(typ ContentType) string {
	return filepath.Join(m.root, fmt.Sprintf("%08X", m.titleID()), fmt.Sprintf("%08X", uint32(typ)))
}

func (m *HostManager) PackagePath(desc Descriptor) string {
	return filepath.Join(m.ContentPath(desc.ContentType), desc.FileName)
}

func (m *HostManager) ListContent(deviceID uint32, typ ContentType) ([]Descriptor, error) {
	dirents, err := os.ReadDir(m.ContentPath(typ))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	list := make([]Descriptor, 0, len(dirents))
	for _, dirent := range dirents {
		list = append(list, Descriptor{
			DeviceID:    deviceID,
			ContentType: typ,
			DisplayName: dirent.Name(),
			FileName:    dirent.Name(),
		})
	}
	return list, nil
}

func (m *HostManager) OpenContent(rootName string, desc Descriptor) error {
	key := strings.ToLower(rootName)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[key]; ok {
		return fmt.Errorf("%s: %w", rootName, ErrContentOpen)
	}
	hostPath := m.PackagePath(desc)
	if _, err := os.Stat(hostPath); err != nil {
		return fmt.Errorf("%s: %w", desc.FileName, ErrContentNotFound)
	}
	mountPath := fmt.Sprintf(`\Device\Content\%d`, m.next)
	dev := filesystem.NewContainerDevice(mountPath, hostPath)
	if err := dev.Initialize(); err != nil {
		return err
	}
	if err := m.vfs.RegisterDevice(dev); err != nil {
		dev.Close()
		return err
	}
	if err := m.vfs.RegisterSymbolicLink(rootName+":", mountPath); err != nil {
		m.vfs.UnregisterDevice(mountPath)
		return err
	}
	m.next++
	m.open[key] = mountPath
	Logger().Debug("content opened", zap.String("root", rootName), zap.String("package", desc.FileName), zap.String("mount", mountPath))
	return nil
}

func (m *HostManager) CloseContent(rootName string) error {
	key := strings.ToLower(rootName)
	m.mu.Lock()
	mountPath, ok := m.open[key]
	delete(m.open, key)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", rootName, ErrContentNotOpen)
	}
	m.vfs.UnregisterSymbolicLink(rootName + ":")
	Logger().Debug("content closed", zap.String("root", rootName))
	return m.vfs.UnregisterDevice(mountPath)
}

func (m *HostManager) IsOpen(rootName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.open[strings.ToLower(rootName)]
	return ok
}
