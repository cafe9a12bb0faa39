package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsUnknownTrustPreset(t *testing.T) {
	cfg := Default()
	cfg.Trust.Preset = "nonsense"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown trust preset")
	}
}

func TestValidateRejectsBadListenPort(t *testing.T) {
	cfg := Default()
	cfg.P2P.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-range listen port")
	}
}

func TestEnsureCreatesThenLoadsSameConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg1, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (create): %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first Ensure")
	}

	cfg1.Profile.DisplayName = "alice"
	if err := Save(path, cfg1); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cfg2, created2, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (load): %v", err)
	}
	if created2 {
		t.Fatal("expected created=false on second Ensure")
	}
	if cfg2.Profile.DisplayName != "alice" {
		t.Fatalf("DisplayName = %q, want alice", cfg2.Profile.DisplayName)
	}
}
