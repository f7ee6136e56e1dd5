// Package ssh provides the SSH transport used to reach network devices: one-shot
// command exec, PTY-backed interactive shells, SFTP upload and a TCP liveness probe.
package ssh

import "time"

// ConnectionInfo describes a client's current connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// FileTransferResult describes a finished upload.
type FileTransferResult struct {
	BytesTransferred int64
	Duration         time.Duration
	RemotePath       string
}

// TransportError is returned by SSHClient. Op names the failed step, e.g. connect,
// execute or upload.
type TransportError struct {
	Op  string
	Err error

	// IsTemporary is set for failures worth retrying, such as refused or timed out
	// connections.
	IsTemporary bool

	// IsAuthError is set when the device rejected the credentials.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return "ssh " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the operation may succeed if retried.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
