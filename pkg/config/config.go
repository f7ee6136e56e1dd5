// Package config loads the ztp configuration.
//
// Values are layered: Default, then the YAML file, then ZTP_* environment variables.
// The result is checked with validator struct tags and telemetry.Config.Validate.
//
//	database:
//	  path: /var/lib/ztp/ztp.db
//	leases:
//	  path: /var/lib/misc/dnsmasq.leases
//	  interval: 5s
//	backup:
//	  dir: /var/lib/ztp/backups
//	  archive:
//	    enabled: true
//	    host: archive.example.net
//	    user: ztp
//	    remote_dir: /srv/backups
//
// Environment names follow the section path, e.g. ZTP_DATABASE_PATH,
// ZTP_BACKUP_ARCHIVE_PASSWORD or ZTP_TELEMETRY_LOG_LEVEL.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ztpkit/ztpkit/pkg/telemetry"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ZTP_"

// Config is the complete service configuration.
type Config struct {
	Database  DatabaseConfig   `yaml:"database" env:",prefix=DATABASE_"`
	Leases    LeasesConfig     `yaml:"leases" env:",prefix=LEASES_"`
	Jobs      JobsConfig       `yaml:"jobs" env:",prefix=JOBS_"`
	Backup    BackupConfig     `yaml:"backup" env:",prefix=BACKUP_"`
	SSH       SSHConfig        `yaml:"ssh" env:",prefix=SSH_"`
	Policy    PolicyConfig     `yaml:"policy" env:",prefix=POLICY_"`
	Telemetry telemetry.Config `yaml:"telemetry" env:",prefix=TELEMETRY_"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"PATH" validate:"required"`
}

// LeasesConfig locates the dnsmasq lease file.
type LeasesConfig struct {
	Path     string        `yaml:"path" env:"PATH" validate:"required"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL" validate:"gt=0"`

	// Watch adds an fsnotify watch on the file's directory so changes are picked up
	// before the next poll.
	Watch bool `yaml:"watch" env:"WATCH"`
}

type JobsConfig struct {
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE" validate:"gt=0"`
}

// BackupConfig configures the backup pipeline. The delay between a lease sighting
// and the backup is a runtime setting stored in the database, not part of this file.
type BackupConfig struct {
	Dir         string        `yaml:"dir" env:"DIR" validate:"required"`
	QueueSize   int           `yaml:"queue_size" env:"QUEUE_SIZE" validate:"gt=0"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" validate:"gt=0"`
	BackoffStep time.Duration `yaml:"backoff_step" env:"BACKOFF_STEP" validate:"gte=0"`
	Archive     ArchiveConfig `yaml:"archive" env:",prefix=ARCHIVE_"`
}

// ArchiveConfig is an optional SFTP destination that receives a copy of every backup.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Host      string `yaml:"host" env:"HOST" validate:"required_if=Enabled true"`
	Port      int    `yaml:"port" env:"PORT" validate:"min=0,max=65535"`
	User      string `yaml:"user" env:"USER" validate:"required_if=Enabled true"`
	Password  string `yaml:"password" env:"PASSWORD"`
	RemoteDir string `yaml:"remote_dir" env:"REMOTE_DIR"`
}

// SSHConfig configures the device transport.
type SSHConfig struct {
	Port               int           `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT" validate:"gt=0"`
	CommandTimeout     time.Duration `yaml:"command_timeout" env:"COMMAND_TIMEOUT" validate:"gt=0"`
	InteractiveTimeout time.Duration `yaml:"interactive_timeout" env:"INTERACTIVE_TIMEOUT" validate:"gt=0"`

	StrictHostKeyChecking bool   `yaml:"strict_host_key_checking" env:"STRICT_HOST_KEY_CHECKING"`
	KnownHostsPath        string `yaml:"known_hosts_path" env:"KNOWN_HOSTS_PATH" validate:"required_if=StrictHostKeyChecking true"`
}

// PolicyConfig configures the pre-deploy guard.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Dir holds extra .rego modules loaded on top of the built-in policy.
	Dir   string `yaml:"dir" env:"DIR"`
	Watch bool   `yaml:"watch" env:"WATCH"`
}

// Default returns the configuration used when no file or environment overrides it.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "ztp.db"},
		Leases: LeasesConfig{
			Path:     "/var/lib/misc/dnsmasq.leases",
			Interval: 5 * time.Second,
			Watch:    true,
		},
		Jobs: JobsConfig{QueueSize: 100},
		Backup: BackupConfig{
			Dir:         "backups",
			QueueSize:   100,
			MaxAttempts: 3,
			BackoffStep: 5 * time.Second,
			Archive:     ArchiveConfig{Port: 22},
		},
		SSH: SSHConfig{
			Port:               22,
			ConnectTimeout:     10 * time.Second,
			CommandTimeout:     60 * time.Second,
			InteractiveTimeout: 120 * time.Second,
		},
		Policy:    PolicyConfig{Enabled: true},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads path (optional) and applies environment overrides from the process
// environment.
func Load(ctx context.Context, path string) (*Config, error) {
	return LoadWith(ctx, path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source.
func LoadWith(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           cfg,
		Lookuper:         envconfig.PrefixLookuper(EnvPrefix, lookuper),
		DefaultOverwrite: true,
	}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and the telemetry section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
