package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected resolved path %s, got %s", path, resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}
	if cfg.HistoryLimit != 100 {
		t.Fatalf("expected history limit 100, got %d", cfg.HistoryLimit)
	}
	if cfg.Client.Scope != "global" {
		t.Fatalf("expected default scope global, got %q", cfg.Client.Scope)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("addr: \":9000\"\nhistory_limit: 20\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DEPLOYDECK_HISTORY_LIMIT", "50")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("expected addr from file, got %q", cfg.Addr)
	}
	if cfg.HistoryLimit != 50 {
		t.Fatalf("expected env override 50, got %d", cfg.HistoryLimit)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.HistoryLimit = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for zero history limit")
	}

	cfg = Default()
	cfg.LogFormat = "xml"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown log format")
	}

	cfg = Default()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for enabled redis without addr")
	}
}

func TestUpdateFromKeepsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1234", Client: ClientConfig{Scope: "ops"}})

	if cfg.Addr != ":1234" {
		t.Fatalf("expected addr override, got %q", cfg.Addr)
	}
	if cfg.Client.Scope != "ops" {
		t.Fatalf("expected scope override, got %q", cfg.Client.Scope)
	}
	if cfg.DatabasePath != "deploydeck.db" {
		t.Fatalf("expected database path untouched, got %q", cfg.DatabasePath)
	}
}
