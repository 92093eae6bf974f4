package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aulsmfs.yaml")
	doc := "volume_path: /var/lib/aulsmfs/data.vol\npage_size: 8192\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VolumePath != "/var/lib/aulsmfs/data.vol" {
		t.Fatalf("volume path not overridden: %q", cfg.VolumePath)
	}
	if cfg.PageSize != 8192 {
		t.Fatalf("page size not overridden: %d", cfg.PageSize)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not overridden: %q", cfg.LogLevel)
	}
	// Fields absent from the file fall back to Default().
	if cfg.AdminListenAddr != Default().AdminListenAddr {
		t.Fatalf("admin listen addr should keep default, got %q", cfg.AdminListenAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
}

func TestValidateRejectsBadPageSize(t *testing.T) {
	cfg := Default()
	cfg.PageSize = 1000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for non-power-of-two page size")
	}
}

func TestValidateRejectsEmptyVolumePath(t *testing.T) {
	cfg := Default()
	cfg.VolumePath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for empty volume path")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error loading a missing config file")
	}
}
