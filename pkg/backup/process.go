package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ztpkit/ztpkit/pkg/credentials"
	"github.com/ztpkit/ztpkit/pkg/engine"
	"github.com/ztpkit/ztpkit/pkg/stores"
	"github.com/ztpkit/ztpkit/pkg/telemetry"
)

// FileTimeFormat is the timestamp layout in backup file names.
const FileTimeFormat = "20060102_150405"

// Result describes a finished backup.
type Result struct {
	DeviceID int64  `json:"device_id"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Attempts int    `json:"attempts"`
}

// Run backs up one device synchronously, outside the queue.
func (e *Engine) Run(ctx context.Context, deviceID int64) (*Result, error) {
	return e.backup(ctx, deviceID)
}

func (e *Engine) process(ctx context.Context, deviceID int64) {
	// errors are logged and recorded by backup
	_, _ = e.backup(ctx, deviceID)
}

func (e *Engine) backup(ctx context.Context, deviceID int64) (*Result, error) {
	logger := e.logger.With().Int64("device_id", deviceID).Logger()

	device, err := e.store.GetDevice(ctx, deviceID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load device for backup")
		e.metrics.RecordError(string(engine.ClassOf(err)))
		return nil, err
	}

	ctx, span := e.tracer.StartBackupSpan(ctx, device.ID, device.MAC)
	defer span.End()

	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load settings for backup")
		e.metrics.RecordError(string(engine.ClassOf(err)))
		telemetry.RecordError(span, err)
		return nil, err
	}

	vendor, err := e.vendorOf(ctx, device)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load vendor for backup")
		telemetry.RecordError(span, err)
		return nil, err
	}

	if strings.TrimSpace(device.IP) == "" {
		err := engine.NewValidationError("device has no IP address", nil).WithResource(fmt.Sprintf("device/%d", device.ID))
		e.fail(ctx, device, 0, err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	creds, err := credentials.First(credentials.FromDevice(device), credentials.FromSettings(settings))
	if err != nil {
		e.fail(ctx, device, 0, err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	target := engine.Target{Host: device.IP, Port: e.cfg.SSHPort, User: creds.User, Password: creds.Password}
	command := Command(settings, vendor, deref(device.VendorID))

	config, attempts, err := e.fetch(ctx, target, command)
	if err != nil {
		e.fail(ctx, device, attempts, err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	result, err := e.write(device, config)
	if err != nil {
		e.fail(ctx, device, attempts, err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	result.Attempts = attempts

	// a file with no Backup row is removed so the directory matches the table
	if err := e.store.CreateBackup(ctx, &stores.Backup{DeviceID: device.ID, Filename: result.Filename, Size: result.Size}); err != nil {
		if rerr := os.Remove(result.Path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			logger.Warn().Err(rerr).Str("file", result.Path).Msg("Failed to remove unrecorded backup file")
		}
		e.fail(ctx, device, attempts, err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := e.store.MarkDeviceBackedUp(ctx, device.ID, e.now()); err != nil {
		e.fail(ctx, device, attempts, err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	e.upload(ctx, result)

	telemetry.RecordSuccess(span)
	e.metrics.RecordBackup("success", attempts)
	e.publish(telemetry.NewBackupEvent(device.ID, device.MAC, result.Filename, attempts, nil))
	e.publish(telemetry.NewDeviceStatusEvent("backup", device.ID, device.MAC, string(stores.DeviceStatusOnline)))

	logger.Info().
		Str("file", result.Filename).
		Int64("size", result.Size).
		Int("attempts", attempts).
		Msg("Backup completed")

	return result, nil
}

// fetch runs the backup command, retrying with a pause of attempt × BackoffStep
// after each failure.
func (e *Engine) fetch(ctx context.Context, target engine.Target, command string) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		output, err := e.runner.RunCommand(ctx, target, command)
		if err == nil {
			return output, attempt, nil
		}
		lastErr = err

		e.logger.Warn().Err(err).
			Str("target", target.String()).
			Int("attempt", attempt).
			Int("max_attempts", e.cfg.MaxAttempts).
			Msg("Backup attempt failed")

		if attempt < e.cfg.MaxAttempts {
			if err := e.sleep(ctx, time.Duration(attempt)*e.cfg.BackoffStep); err != nil {
				return "", attempt, err
			}
		}
	}
	return "", e.cfg.MaxAttempts, lastErr
}

// fail marks the device offline with the error.
func (e *Engine) fail(ctx context.Context, device *stores.Device, attempts int, err error) {
	msg := err.Error()
	if uerr := e.store.UpdateDeviceStatus(ctx, device.ID, stores.DeviceStatusOffline, &msg); uerr != nil {
		e.logger.Error().Err(uerr).Int64("device_id", device.ID).Msg("Failed to mark device offline")
	}

	e.metrics.RecordBackup("failure", attempts)
	e.metrics.RecordError(string(engine.ClassOf(err)))
	e.publish(telemetry.NewBackupEvent(device.ID, device.MAC, "", attempts, err))
	e.publish(telemetry.NewDeviceStatusEvent("backup", device.ID, device.MAC, string(stores.DeviceStatusOffline)))

	e.logger.Error().Err(err).
		Int64("device_id", device.ID).
		Int("attempts", attempts).
		Msg("Backup failed")
}

func (e *Engine) write(device *stores.Device, config string) (*Result, error) {
	if err := os.MkdirAll(e.cfg.Dir, 0o750); err != nil {
		return nil, engine.NewStorageError("failed to create backup directory", err).WithResource(e.cfg.Dir)
	}

	filename := Filename(device, e.now())
	full := filepath.Join(e.cfg.Dir, filename)
	if err := os.WriteFile(full, []byte(config), 0o640); err != nil {
		return nil, engine.NewStorageError("failed to write backup", err).WithResource(full)
	}

	return &Result{DeviceID: device.ID, Filename: filename, Path: full, Size: int64(len(config))}, nil
}

// upload copies the backup to the archive. Failures are logged only.
func (e *Engine) upload(ctx context.Context, result *Result) {
	if e.archiver == nil {
		return
	}

	target := engine.Target{Host: e.archive.Host, Port: e.archive.Port, User: e.archive.User, Password: e.archive.Password}
	remote := path.Join(e.archive.RemoteDir, result.Filename)

	transfer, err := e.archiver.Upload(ctx, target, result.Path, remote)
	if err != nil {
		e.logger.Warn().Err(err).Str("remote", remote).Msg("Backup archive upload failed")
		e.metrics.RecordError(string(engine.ClassOf(err)))
		return
	}
	e.logger.Debug().
		Str("remote", transfer.RemotePath).
		Int64("bytes", transfer.BytesTransferred).
		Dur("duration", transfer.Duration).
		Msg("Backup archived")
}

func (e *Engine) vendorOf(ctx context.Context, device *stores.Device) (*stores.Vendor, error) {
	id := deref(device.VendorID)
	if id == "" {
		return nil, nil
	}
	vendor, err := e.store.GetVendor(ctx, id)
	if engine.IsNotFound(err) {
		return nil, nil
	}
	return vendor, err
}

// Command picks the backup command: the per-vendor override in settings, then the
// vendor's own command, then the global default.
func Command(settings *stores.Settings, vendor *stores.Vendor, vendorID string) string {
	if settings == nil {
		settings = stores.DefaultSettings()
	}
	if vendorID != "" {
		if cmd := strings.TrimSpace(settings.VendorBackupCommands[vendorID]); cmd != "" {
			return cmd
		}
	}
	if vendor != nil {
		if cmd := strings.TrimSpace(vendor.BackupCommand); cmd != "" {
			return cmd
		}
	}
	if cmd := strings.TrimSpace(settings.DefaultBackupCommand); cmd != "" {
		return cmd
	}
	return stores.DefaultSettings().DefaultBackupCommand
}

// Filename returns {safe_hostname}_{YYYYMMDD_HHMMSS}.cfg.
func Filename(device *stores.Device, at time.Time) string {
	return fmt.Sprintf("%s_%s.cfg", SafeHostname(device.Hostname, device.MAC), at.Format(FileTimeFormat))
}

// SafeHostname replaces every character outside [A-Za-z0-9._-] with '_'. An empty
// hostname falls back to the MAC.
func SafeHostname(hostname, mac string) string {
	name := strings.TrimSpace(hostname)
	if name == "" {
		name = mac
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
