package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quillstore.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "storage:\n  wopi:\n    allow: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Storage.Wopi.Allow {
		t.Error("wopi.allow not parsed")
	}
	if cfg.Net.ConnectionTimeoutSecs != 30 {
		t.Errorf("timeout default = %d, want 30", cfg.Net.ConnectionTimeoutSecs)
	}
	if cfg.Storage.Wopi.Locking.RefreshSecs != 900 {
		t.Errorf("lock refresh default = %d, want 900", cfg.Storage.Wopi.Locking.RefreshSecs)
	}
	if !cfg.Storage.SSL.AsScheme {
		t.Error("ssl.as_scheme should default to true")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level default = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  anonymize_user_data: true
  anonymization_salt: 82589933
storage:
  filesystem:
    allow: true
  wopi:
    allow: true
    hosts:
      - pattern: storage\.example\.com
        allow: true
      - pattern: evil.example.com
        allow: false
    alias_groups:
      mode: groups
      groups:
        - host: https://real.example.com:9980
          allow: true
          aliases:
            - https://alias.example.com:9980
    locking:
      refresh_secs: 300
  watermark_text: CONFIDENTIAL
net:
  connection_timeout_secs: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Storage.Wopi.Hosts) != 2 {
		t.Fatalf("hosts = %d, want 2", len(cfg.Storage.Wopi.Hosts))
	}
	if cfg.Storage.Wopi.Hosts[1].Allow {
		t.Error("deny entry parsed as allow")
	}
	if cfg.Storage.Wopi.AliasGroups.Mode != "groups" {
		t.Errorf("alias mode = %q", cfg.Storage.Wopi.AliasGroups.Mode)
	}
	if got := cfg.Storage.Wopi.AliasGroups.Groups[0].Aliases[0]; got != "https://alias.example.com:9980" {
		t.Errorf("alias = %q", got)
	}
	if cfg.Storage.Wopi.Locking.RefreshSecs != 300 {
		t.Errorf("lock refresh = %d, want 300", cfg.Storage.Wopi.Locking.RefreshSecs)
	}
	if cfg.Storage.WatermarkText != "CONFIDENTIAL" {
		t.Errorf("watermark = %q", cfg.Storage.WatermarkText)
	}
	if cfg.Logging.AnonymizationSalt != 82589933 {
		t.Errorf("salt = %d", cfg.Logging.AnonymizationSalt)
	}
	if cfg.Net.ConnectionTimeoutSecs != 10 {
		t.Errorf("timeout = %d, want 10", cfg.Net.ConnectionTimeoutSecs)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config without fallback")
	}
}
