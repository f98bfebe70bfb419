package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moor.yaml")
	if err := os.WriteFile(path, []byte("port: 9999\nretries: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9999 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.Retries != 5 {
		t.Errorf("retries = %d", cfg.Retries)
	}
	if cfg.FgTicks != 30000 {
		t.Errorf("default fg_ticks missing: %d", cfg.FgTicks)
	}
}

func TestLoadClampsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moor.yaml")
	if err := os.WriteFile(path, []byte("retries: 0\nworkers: -2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retries != 1 || cfg.Workers != 1 {
		t.Errorf("clamping failed: retries=%d workers=%d", cfg.Retries, cfg.Workers)
	}
}
