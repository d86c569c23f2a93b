package sshbatch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsUsable(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DefaultPort != 22 {
		t.Errorf("expected default port 22, got %d", cfg.DefaultPort)
	}
	tmpl := cfg.TemplateFromConfig()
	if tmpl.ReconnectAttempts != cfg.DefaultReconnectAttempts {
		t.Errorf("template reconnect attempts mismatch: %d vs %d", tmpl.ReconnectAttempts, cfg.DefaultReconnectAttempts)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "default_max_concurrent: 10\naudit_endpoint: https://audit.example.internal/v1/events\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultMaxConcurrent != 10 {
		t.Errorf("expected override to 10, got %d", cfg.DefaultMaxConcurrent)
	}
	if cfg.AuditEndpoint != "https://audit.example.internal/v1/events" {
		t.Errorf("unexpected audit endpoint %q", cfg.AuditEndpoint)
	}
	// Fields absent from the file keep their default.
	if cfg.DefaultPort != 22 {
		t.Errorf("expected untouched field to keep default 22, got %d", cfg.DefaultPort)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
