package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ztpkit/ztpkit/pkg/engine"
)

// PingTimeout bounds a liveness probe.
const PingTimeout = 2 * time.Second

// Options configures a Runner. Zero durations fall back to the package defaults.
type Options struct {
	ConnectTimeout        time.Duration
	CommandTimeout        time.Duration
	InteractiveTimeout    time.Duration
	StrictHostKeyChecking bool
	KnownHostsPath        string
}

// Runner opens one SSH connection per call. It implements engine.CommandRunner.
type Runner struct {
	opts   Options
	logger zerolog.Logger
}

var _ engine.CommandRunner = (*Runner)(nil)

// NewRunner creates a runner.
func NewRunner(opts Options, logger zerolog.Logger) *Runner {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.InteractiveTimeout <= 0 {
		opts.InteractiveTimeout = DefaultInteractiveTimeout
	}
	return &Runner{opts: opts, logger: logger}
}

// RunCommand runs command as a one-shot exec under the command timeout and returns
// its stdout.
func (r *Runner) RunCommand(ctx context.Context, target engine.Target, command string) (string, error) {
	client, err := r.connect(ctx, target)
	if err != nil {
		return "", err
	}
	defer client.Disconnect()

	cmdCtx, cancel := context.WithTimeout(ctx, r.opts.CommandTimeout)
	defer cancel()

	stdout, _, err := client.ExecuteCommand(cmdCtx, command)
	if err != nil {
		return stdout, wrapTransport("command failed", "exec", target, err)
	}
	return stdout, nil
}

// RunInteractive sends payload line by line through a PTY shell under the interactive
// timeout. Blank lines are kept, since some device CLIs use them to confirm prompts.
func (r *Runner) RunInteractive(ctx context.Context, target engine.Target, payload string) (string, error) {
	client, err := r.connect(ctx, target)
	if err != nil {
		return "", err
	}
	defer client.Disconnect()

	shellCtx, cancel := context.WithTimeout(ctx, r.opts.InteractiveTimeout)
	defer cancel()

	payload = strings.ReplaceAll(payload, "\r\n", "\n")
	output, err := client.RunShell(shellCtx, strings.Split(strings.TrimRight(payload, "\n"), "\n"))
	if err != nil {
		return output, wrapTransport("interactive session failed", "interactive", target, err)
	}
	return output, nil
}

// Upload copies a local file to remotePath over SFTP.
func (r *Runner) Upload(ctx context.Context, target engine.Target, localPath, remotePath string) (*FileTransferResult, error) {
	client, err := r.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect()

	result, err := client.UploadFile(ctx, localPath, remotePath, 0o640)
	if err != nil {
		return nil, wrapTransport("upload failed", "upload", target, err)
	}
	return result, nil
}

func (r *Runner) connect(ctx context.Context, target engine.Target) (*SSHClient, error) {
	cfg := r.configFor(target)

	client, err := NewSSHClient(cfg, r.logger)
	if err != nil {
		return nil, engine.NewValidationError("invalid ssh target", err).WithResource(target.String())
	}

	connectCtx, cancel := context.WithTimeout(ctx, r.opts.ConnectTimeout)
	defer cancel()

	if err := client.Connect(connectCtx); err != nil {
		return nil, wrapTransport("connect failed", "connect", target, err)
	}

	info := client.GetConnectionInfo()
	r.logger.Debug().
		Str("host", info.Host).
		Int("port", info.Port).
		Str("user", info.User).
		Time("connected_at", info.ConnectedAt).
		Msg("SSH session opened")
	return client, nil
}

func (r *Runner) configFor(target engine.Target) *Config {
	cfg := DefaultConfig(target.Host, target.User)
	if target.Port > 0 {
		cfg.Port = target.Port
	}
	cfg.Password = target.Password
	cfg.ConnectionTimeout = r.opts.ConnectTimeout
	cfg.CommandTimeout = r.opts.CommandTimeout
	cfg.InteractiveTimeout = r.opts.InteractiveTimeout
	cfg.StrictHostKeyChecking = r.opts.StrictHostKeyChecking
	cfg.KnownHostsPath = r.opts.KnownHostsPath
	return cfg
}

func wrapTransport(msg, op string, target engine.Target, err error) error {
	wrapped := engine.NewTransportError(msg, err).
		WithResource(target.String()).
		WithOperation(op)

	var exitErr *ExitStatusError
	if errors.As(err, &exitErr) {
		wrapped = wrapped.WithCode(engine.ErrCodeExitStatus)
	}
	return wrapped
}

// Ping reports whether host accepts TCP connections on port within PingTimeout.
func Ping(ctx context.Context, host string, port int) error {
	if port <= 0 {
		port = 22
	}

	dialer := net.Dialer{Timeout: PingTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return engine.NewTransportError(fmt.Sprintf("%s:%d unreachable", host, port), err).WithOperation("ping")
	}
	return conn.Close()
}
