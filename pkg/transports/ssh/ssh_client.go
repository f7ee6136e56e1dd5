package ssh

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

var errNotConnected = errors.New("not connected")

// SSHClient holds one SSH connection to a device.
type SSHClient struct {
	config *Config
	logger zerolog.Logger

	mu          sync.Mutex
	client      *ssh.Client
	connectedAt time.Time
	lastUsedAt  time.Time
}

// NewSSHClient validates config and returns an unconnected client.
func NewSSHClient(config *Config, logger zerolog.Logger) (*SSHClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &SSHClient{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("host", config.Host).Logger(),
	}, nil
}

// Connect dials and authenticates. ctx bounds both the TCP dial and the SSH
// handshake. Connecting an already live client is a no-op.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		if err := c.keepalive(); err == nil {
			return nil
		}
		c.logger.Warn().Msg("Stale SSH connection, reconnecting")
		_ = c.client.Close()
		c.client = nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	c.logger.Debug().Str("address", address).Msg("Dialing device")

	dialer := net.Dialer{Timeout: clientConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	// x/crypto/ssh has no context-aware handshake
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	cancelled := !stop()
	if err != nil {
		_ = conn.Close()
		if cancelled {
			err = ctx.Err()
		}
		return &TransportError{Op: "connect", Err: err, IsTemporary: true, IsAuthError: isAuthFailure(err)}
	}
	if cancelled {
		_ = sshConn.Close()
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.connectedAt = time.Now()
	c.lastUsedAt = c.connectedAt

	c.logger.Debug().Str("address", address).Msg("SSH connection established")
	return nil
}

// Disconnect closes the connection. It is safe to call on an unconnected client.
func (c *SSHClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *SSHClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// HealthCheck sends an OpenSSH keepalive over the connection.
func (c *SSHClient) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return &TransportError{Op: "healthcheck", Err: errNotConnected}
	}
	return c.keepalive()
}

// keepalive uses a global request because many devices reject arbitrary exec.
// c.mu must be held.
func (c *SSHClient) keepalive() error {
	if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

func (c *SSHClient) GetConnectionInfo() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ConnectionInfo{
		Host:         c.config.Host,
		Port:         c.config.Port,
		User:         c.config.User,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
	}
}

// conn returns the live connection for the executor and file transfer.
func (c *SSHClient) conn() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, &TransportError{Op: "session", Err: errNotConnected}
	}
	c.lastUsedAt = time.Now()
	return c.client, nil
}

// isAuthFailure matches x/crypto/ssh's handshake error text, which is the only
// signal it gives for rejected credentials.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain")
}
