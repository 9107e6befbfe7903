package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("ssl mode = %q, want require", cfg.Database.SSLMode)
	}
	if cfg.Keepalive.IntervalSec != 30 {
		t.Errorf("keepalive interval = %d, want 30", cfg.Keepalive.IntervalSec)
	}
	if cfg.Keepalive.TCPIdleSec != 30 || cfg.Keepalive.TCPIntervalSec != 10 || cfg.Keepalive.TCPCount != 5 {
		t.Errorf("tcp keepalive = %d/%d/%d, want 30/10/5",
			cfg.Keepalive.TCPIdleSec, cfg.Keepalive.TCPIntervalSec, cfg.Keepalive.TCPCount)
	}
	if cfg.Server.Name != "crdb-mcp" {
		t.Errorf("server name = %q", cfg.Server.Name)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("ssl mode = %q", cfg.Database.SSLMode)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[database]
ssl_mode = "verify-full"

[keepalive]
interval_sec = 5
tcp_count = 9

[log]
path = "logs/crdb-mcp.log"
level = "debug"

[audit]
enabled = false
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.SSLMode != "verify-full" {
		t.Errorf("ssl mode = %q", cfg.Database.SSLMode)
	}
	if cfg.Keepalive.IntervalSec != 5 {
		t.Errorf("interval = %d", cfg.Keepalive.IntervalSec)
	}
	if cfg.Keepalive.TCPCount != 9 {
		t.Errorf("tcp count = %d", cfg.Keepalive.TCPCount)
	}
	// Unset keys keep their defaults.
	if cfg.Keepalive.TCPIdleSec != 30 {
		t.Errorf("tcp idle = %d, want default 30", cfg.Keepalive.TCPIdleSec)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Path != "logs/crdb-mcp.log" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Audit.Enabled {
		t.Error("audit should be disabled")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[database\nssl_mode"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}
