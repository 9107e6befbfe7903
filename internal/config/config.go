package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Keepalive KeepaliveConfig `toml:"keepalive"`
	Audit     AuditConfig     `toml:"audit"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Name string `toml:"name"`
}

type DatabaseConfig struct {
	// SSLMode is applied to every connection; "require" means encrypted
	// without certificate verification.
	SSLMode         string `toml:"ssl_mode"`
	ApplicationName string `toml:"application_name"`
}

type KeepaliveConfig struct {
	// IntervalSec is the cadence of the background probe loop.
	IntervalSec int `toml:"interval_sec"`

	// TCP-level keepalive tuning passed to the dialer.
	TCPIdleSec     int `toml:"tcp_idle_sec"`
	TCPIntervalSec int `toml:"tcp_interval_sec"`
	TCPCount       int `toml:"tcp_count"`
}

type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type LogConfig struct {
	// Path of the log file; empty logs to stderr. Stdout is never used:
	// it carries the MCP stream.
	Path  string `toml:"path"`
	Level string `toml:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "crdb-mcp",
		},
		Database: DatabaseConfig{
			SSLMode:         "require",
			ApplicationName: "crdb-mcp",
		},
		Keepalive: KeepaliveConfig{
			IntervalSec:    30,
			TCPIdleSec:     30,
			TCPIntervalSec: 10,
			TCPCount:       5,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    "logs/audit.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
