package engine

import (
	"context"
	"fmt"

	"github.com/ztpkit/ztpkit/pkg/telemetry"
)

// Target identifies a device endpoint together with the credentials used to reach it.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
}

// String returns user@host:port without the password.
func (t Target) String() string {
	if t.Port == 0 {
		return fmt.Sprintf("%s@%s", t.User, t.Host)
	}
	return fmt.Sprintf("%s@%s:%d", t.User, t.Host, t.Port)
}

// CommandRunner executes work on a device over SSH.
type CommandRunner interface {
	// RunCommand runs a single command as a one-shot exec and returns its output.
	RunCommand(ctx context.Context, target Target, command string) (string, error)

	// RunInteractive opens a PTY-backed shell, sends payload line by line and returns
	// everything the device printed.
	RunInteractive(ctx context.Context, target Target, payload string) (string, error)
}

// EventSink receives engine notifications (job started/completed/failed, backup results).
type EventSink interface {
	Publish(event telemetry.Event) error
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(telemetry.Event) error { return nil }
