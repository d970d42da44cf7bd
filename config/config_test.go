package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Backend = "quantum"
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected Validate to reject backend %q", cfg.Backend)
	}
}

func TestLoadFileOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	yaml := "backend: software\nsck_line: GPIO2\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := Default()
	if err := LoadFile(&cfg, path); err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if cfg.Backend != BackendSoftware {
		t.Errorf("Backend = %q, want %q", cfg.Backend, BackendSoftware)
	}
	if cfg.SCKLine != "GPIO2" {
		t.Errorf("SCKLine = %q, want GPIO2", cfg.SCKLine)
	}
	// Fields absent from the file are untouched.
	if cfg.SerialDevice != "/dev/ttyGS0" {
		t.Errorf("SerialDevice = %q, want default preserved", cfg.SerialDevice)
	}
}
