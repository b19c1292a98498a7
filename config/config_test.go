package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if *cfg != *Default() {
		t.Fatalf("got %+v", cfg)
	}
}

func TestLoadOverridesOnlyPresentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "microxe.toml")
	if err := os.WriteFile(path, []byte("cpu = \"null\"\napply_patches = false\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CPU != "null" || cfg.ApplyPatches || cfg.TimeScalar != 1 {
		t.Fatalf("got %+v", cfg)
	}
}

func TestGameConfigOverlay(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	found, err := cfg.LoadGameConfig(root, 0x4D5307E6)
	if err != nil || found {
		t.Fatalf("got %v, %v", found, err)
	}
	game := &Config{TimeScalar: 0.5, CPU: "any", ApplyPatches: true}
	if err = game.Save(GameConfigPath(root, 0x4D5307E6)); err != nil {
		t.Fatal(err)
	}
	if filepath.Base(GameConfigPath(root, 0x4D5307E6)) != "4D5307E6.config.toml" {
		t.Fatal("unexpected game config name")
	}
	found, err = cfg.LoadGameConfig(root, 0x4D5307E6)
	if err != nil || !found {
		t.Fatalf("got %v, %v", found, err)
	}
	if cfg.TimeScalar != 0.5 {
		t.Fatalf("got %v", cfg.TimeScalar)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("time_scalar = \"fast\""), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}
