package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the SSH authentication method.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication, with a keyboard-interactive
	// fallback that answers every prompt with the password.
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses SSH private key authentication.
	AuthMethodKey AuthMethod = "key"
)

// Default timeouts.
const (
	DefaultConnectTimeout     = 10 * time.Second
	DefaultCommandTimeout     = 60 * time.Second
	DefaultInteractiveTimeout = 120 * time.Second
)

// Config contains SSH connection configuration.
type Config struct {
	// Connection details
	Host string
	Port int
	User string

	// Authentication
	AuthMethod           AuthMethod
	Password             string
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// Host key verification. Devices on first boot rarely have a stable key, so
	// checking is off unless explicitly enabled.
	StrictHostKeyChecking bool
	KnownHostsPath        string

	// Timeouts
	ConnectionTimeout  time.Duration
	CommandTimeout     time.Duration
	InteractiveTimeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults for network devices.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodPassword,
		StrictHostKeyChecking: false,
		ConnectionTimeout:     DefaultConnectTimeout,
		CommandTimeout:        DefaultCommandTimeout,
		InteractiveTimeout:    DefaultInteractiveTimeout,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("private key path is required for key authentication")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}

	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from this configuration.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    c.User,
		Timeout: c.ConnectionTimeout,
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		config.Auth = []ssh.AuthMethod{
			ssh.Password(c.Password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		}

	case AuthMethodKey:
		signer, err := c.loadPrivateKey()
		if err != nil {
			return nil, err
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.StrictHostKeyChecking && c.KnownHostsPath != "" {
		hostKeyCallback, err := knownhosts.New(expandHome(c.KnownHostsPath))
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		config.HostKeyCallback = hostKeyCallback
	} else {
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey() // #nosec G106 -- devices on first boot
	}

	return config, nil
}

func (c *Config) loadPrivateKey() (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(expandHome(c.PrivateKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if c.PrivateKeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return signer, nil
}

// Address returns the host:port address string.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
