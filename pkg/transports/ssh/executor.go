package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// ExitCommand is written after an interactive payload to close the device shell.
const ExitCommand = "exit"

// ExecuteCommand runs a command on the remote host as a one-shot exec.
func (c *SSHClient) ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error) {
	startTime := time.Now()

	c.logger.Debug().Str("command", cmd).Msg("executing command")

	sshClient, err := c.conn()
	if err != nil {
		return "", "", err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return "", "", &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	stdout = strings.TrimSpace(stdoutBuf.String())
	stderr = strings.TrimSpace(stderrBuf.String())

	c.logger.Debug().
		Str("command", cmd).
		Int("stdout_len", len(stdout)).
		Int("stderr_len", len(stderr)).
		Dur("duration", time.Since(startTime)).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			return stdout, stderr, &TransportError{
				Op:  "execute",
				Err: &ExitStatusError{Status: exitErr.ExitStatus(), Stderr: stderr},
			}
		}
		return stdout, stderr, &TransportError{
			Op:          "execute",
			Err:         execErr,
			IsTemporary: true,
		}
	}

	return stdout, stderr, nil
}

// ExitStatusError reports a command that ran but exited non-zero.
type ExitStatusError struct {
	Status int
	Stderr string
}

func (e *ExitStatusError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command exited with code %d", e.Status)
	}
	return fmt.Sprintf("command exited with code %d: %s", e.Status, e.Stderr)
}

// StartInteractiveSession requests a PTY and starts a shell. Stderr is merged into
// stdout, as a terminal would show it.
func (c *SSHClient) StartInteractiveSession(ctx context.Context) (stdin io.WriteCloser, stdout io.Reader, cleanup func() error, err error) {
	sshClient, err := c.conn()
	if err != nil {
		return nil, nil, nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, nil, nil, &TransportError{
			Op:          "interactive-session",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}

	fail := func(what string, err error) (io.WriteCloser, io.Reader, func() error, error) {
		_ = session.Close()
		return nil, nil, nil, &TransportError{
			Op:          "interactive-session",
			Err:         fmt.Errorf("failed to %s: %w", what, err),
			IsTemporary: true,
		}
	}

	stdinPipe, err := session.StdinPipe()
	if err != nil {
		return fail("create stdin pipe", err)
	}

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return fail("create stdout pipe", err)
	}

	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return fail("create stderr pipe", err)
	}

	if err := session.RequestPty("xterm", 80, 40, ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}); err != nil {
		return fail("request pseudo-terminal", err)
	}

	if err := session.Shell(); err != nil {
		return fail("start shell", err)
	}

	c.logger.Debug().Msg("interactive session started")

	cleanupFunc := func() error {
		return session.Close()
	}

	return stdinPipe, io.MultiReader(stdoutPipe, stderrPipe), cleanupFunc, nil
}

// RunShell opens an interactive shell, writes each line followed by ExitCommand and
// returns everything the device printed until it closed the session. When ctx ends
// first, the output collected so far is returned with the context error.
func (c *SSHClient) RunShell(ctx context.Context, lines []string) (string, error) {
	stdin, stdout, cleanup, err := c.StartInteractiveSession(ctx)
	if err != nil {
		return "", err
	}
	defer cleanup()

	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	readDone := make(chan error, 1)
	go func() {
		chunk := make([]byte, 4096)
		for {
			n, rerr := stdout.Read(chunk)
			if n > 0 {
				mu.Lock()
				buf.Write(chunk[:n])
				mu.Unlock()
			}
			if rerr != nil {
				if errors.Is(rerr, io.EOF) {
					rerr = nil
				}
				readDone <- rerr
				return
			}
		}
	}()

	payload := make([]string, 0, len(lines)+1)
	payload = append(payload, lines...)
	payload = append(payload, ExitCommand)

	writeDone := make(chan error, 1)
	go func() {
		for _, line := range payload {
			if _, werr := io.WriteString(stdin, line+"\n"); werr != nil {
				writeDone <- werr
				return
			}
		}
		writeDone <- nil
	}()

	output := func() string {
		mu.Lock()
		defer mu.Unlock()
		return buf.String()
	}

	for {
		select {
		case werr := <-writeDone:
			writeDone = nil
			if werr != nil {
				c.logger.Debug().Err(werr).Msg("shell closed before payload was fully written")
			}
		case rerr := <-readDone:
			if rerr != nil {
				return output(), &TransportError{
					Op:          "interactive",
					Err:         rerr,
					IsTemporary: true,
				}
			}
			return output(), nil
		case <-ctx.Done():
			_ = cleanup()
			return output(), &TransportError{
				Op:          "interactive",
				Err:         ctx.Err(),
				IsTemporary: true,
			}
		}
	}
}
