package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ztp.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := LoadWith(context.Background(), "", envconfig.MapLookuper(nil))
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}
	if cfg.Leases.Interval != 5*time.Second {
		t.Errorf("expected 5s lease interval, got %v", cfg.Leases.Interval)
	}
	if cfg.Telemetry.ServiceName != "ztp" {
		t.Errorf("expected telemetry defaults, got service %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := writeFile(t, `
database:
  path: /var/lib/ztp/ztp.db
leases:
  interval: 2s
backup:
  dir: /var/lib/ztp/backups
  max_attempts: 5
telemetry:
  logging:
    level: debug
`)

	cfg, err := LoadWith(context.Background(), path, envconfig.MapLookuper(nil))
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}

	if cfg.Database.Path != "/var/lib/ztp/ztp.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Leases.Interval != 2*time.Second {
		t.Errorf("lease interval = %v", cfg.Leases.Interval)
	}
	if cfg.Leases.Path != "/var/lib/misc/dnsmasq.leases" {
		t.Errorf("unset lease path should keep its default, got %q", cfg.Leases.Path)
	}
	if cfg.Backup.MaxAttempts != 5 {
		t.Errorf("max attempts = %d", cfg.Backup.MaxAttempts)
	}
	if cfg.Backup.BackoffStep != 5*time.Second {
		t.Errorf("backoff step should keep its default, got %v", cfg.Backup.BackoffStep)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Telemetry.Logging.Format != "console" {
		t.Errorf("log format should keep its default, got %q", cfg.Telemetry.Logging.Format)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, `
database:
  path: from-file.db
ssh:
  port: 2222
`)

	env := envconfig.MapLookuper(map[string]string{
		"ZTP_DATABASE_PATH":                 "from-env.db",
		"ZTP_SSH_COMMAND_TIMEOUT":           "90s",
		"ZTP_BACKUP_ARCHIVE_ENABLED":        "true",
		"ZTP_BACKUP_ARCHIVE_HOST":           "archive.example.net",
		"ZTP_BACKUP_ARCHIVE_USER":           "ztp",
		"ZTP_TELEMETRY_LOG_FORMAT":          "json",
		"ZTP_TELEMETRY_EVENTS_NATS_ENABLED": "true",
		"ZTP_TELEMETRY_EVENTS_NATS_URL":     "nats://bus:4222",
		"DATABASE_PATH":                     "unprefixed.db",
	})

	cfg, err := LoadWith(context.Background(), path, env)
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}

	if cfg.Database.Path != "from-env.db" {
		t.Errorf("database path = %q, want from-env.db", cfg.Database.Path)
	}
	if cfg.SSH.Port != 2222 {
		t.Errorf("ssh port from file should survive, got %d", cfg.SSH.Port)
	}
	if cfg.SSH.CommandTimeout != 90*time.Second {
		t.Errorf("command timeout = %v", cfg.SSH.CommandTimeout)
	}
	if !cfg.Backup.Archive.Enabled || cfg.Backup.Archive.Host != "archive.example.net" {
		t.Errorf("archive = %+v", cfg.Backup.Archive)
	}
	if cfg.Telemetry.Logging.Format != "json" {
		t.Errorf("log format = %q", cfg.Telemetry.Logging.Format)
	}
	if !cfg.Telemetry.Events.NATS.Enabled || cfg.Telemetry.Events.NATS.URL != "nats://bus:4222" {
		t.Errorf("nats = %+v", cfg.Telemetry.Events.NATS)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "leases:\n  pth: /tmp/leases\n")

	_, err := LoadWith(context.Background(), path, envconfig.MapLookuper(nil))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadWith(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), envconfig.MapLookuper(nil))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, "")

	cfg, err := LoadWith(context.Background(), path, envconfig.MapLookuper(nil))
	if err != nil {
		t.Fatalf("empty file should load defaults: %v", err)
	}
	if cfg.Jobs.QueueSize != 100 {
		t.Errorf("queue size = %d", cfg.Jobs.QueueSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "Config.Database.Path",
		},
		{
			name:    "zero lease interval",
			mutate:  func(c *Config) { c.Leases.Interval = 0 },
			wantErr: "Config.Leases.Interval",
		},
		{
			name:    "ssh port out of range",
			mutate:  func(c *Config) { c.SSH.Port = 70000 },
			wantErr: "Config.SSH.Port",
		},
		{
			name:    "archive without host",
			mutate:  func(c *Config) { c.Backup.Archive.Enabled = true; c.Backup.Archive.User = "ztp" },
			wantErr: "Config.Backup.Archive.Host",
		},
		{
			name: "strict host keys without known_hosts",
			mutate: func(c *Config) {
				c.SSH.StrictHostKeyChecking = true
			},
			wantErr: "Config.SSH.KnownHostsPath",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Telemetry.Logging.Level = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:   "disabled archive needs nothing",
			mutate: func(c *Config) { c.Backup.Archive.Host = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
