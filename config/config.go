package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	TimeScalar   float64 `toml:"time_scalar"`
	LaunchModule string  `toml:"launch_module"`
	CPU          string  `toml:"cpu"`
	ApplyPatches bool    `toml:"apply_patches"`
	ContentRoot  string  `toml:"content_root"`
	CacheRoot    string  `toml:"cache_root"`
	StorageRoot  string  `toml:"storage_root"`
}

func Default() *Config {
	return &Config{
		TimeScalar:   1,
		CPU:          "any",
		ApplyPatches: true,
		ContentRoot:  "content",
		CacheRoot:    "cache",
		StorageRoot:  ".",
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := cfg.merge(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func GameConfigPath(root string, titleID uint32) string {
	return filepath.Join(root, "config", fmt.Sprintf("%08X.config.toml", titleID))
}

// LoadGameConfig overlays the per-title overrides stored under root.
func (c *Config) LoadGameConfig(root string, titleID uint32) (bool, error) {
	return c.merge(GameConfigPath(root, titleID))
}

func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) merge(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err = toml.Unmarshal(data, c); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}
