// Package backup pulls running configurations off newly seen devices and writes them
// to disk.
//
// A lease sighting for a known device arms a per-device timer. Further sightings reset
// it, so a device that renews its lease several times while booting is backed up
// once, after it has settled. When the timer fires the device is queued, and a single
// worker fetches its configuration with a linear backoff between attempts.
package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ztpkit/ztpkit/pkg/engine"
	"github.com/ztpkit/ztpkit/pkg/leases"
	"github.com/ztpkit/ztpkit/pkg/stores"
	"github.com/ztpkit/ztpkit/pkg/telemetry"
	"github.com/ztpkit/ztpkit/pkg/transports/ssh"
)

// Defaults applied by NewEngine.
const (
	DefaultQueueSize   = 100
	DefaultMaxAttempts = 3
	DefaultBackoffStep = 5 * time.Second
	DefaultDelay       = 30 * time.Second
)

// Store is the persistence the backup engine needs.
type Store interface {
	GetDevice(ctx context.Context, id int64) (*stores.Device, error)
	GetDeviceByMAC(ctx context.Context, mac string) (*stores.Device, error)
	GetVendor(ctx context.Context, id string) (*stores.Vendor, error)
	GetSettings(ctx context.Context) (*stores.Settings, error)
	UpdateDeviceStatus(ctx context.Context, id int64, status stores.DeviceStatus, lastError *string) error
	MarkDeviceBackedUp(ctx context.Context, id int64, at time.Time) error
	CreateBackup(ctx context.Context, backup *stores.Backup) error
}

// Archiver copies a written backup to a remote host.
type Archiver interface {
	Upload(ctx context.Context, target engine.Target, localPath, remotePath string) (*ssh.FileTransferResult, error)
}

// ArchiveConfig is the SFTP destination for written backups.
type ArchiveConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	RemoteDir string
}

// Config configures an Engine.
type Config struct {
	// Dir is where backup files are written.
	Dir string

	QueueSize   int
	MaxAttempts int

	// BackoffStep is multiplied by the attempt number to get the pause after a
	// failed attempt.
	BackoffStep time.Duration

	// SSHPort is the port dialed on devices. Zero means the transport default.
	SSHPort int
}

// Engine is the lease-triggered backup pipeline.
type Engine struct {
	cfg      Config
	store    Store
	runner   engine.CommandRunner
	archiver Archiver
	archive  ArchiveConfig
	events   engine.EventSink
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	logger   zerolog.Logger

	queue chan int64
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// delayFor returns how long to wait after a sighting before queueing.
	delayFor func(ctx context.Context) time.Duration

	// pending holds one armed timer per device.
	mu      sync.Mutex
	pending map[int64]*time.Timer

	runMu  sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a backup engine.
func NewEngine(cfg Config, store Store, runner engine.CommandRunner, logger zerolog.Logger) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = DefaultBackoffStep
	}
	if cfg.Dir == "" {
		cfg.Dir = "backups"
	}

	e := &Engine{
		cfg:     cfg,
		store:   store,
		runner:  runner,
		events:  engine.NopSink{},
		tracer:  telemetry.NewNoopTracer(),
		logger:  logger.With().Str("component", "backup-engine").Logger(),
		queue:   make(chan int64, cfg.QueueSize),
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepContext,
		pending: make(map[int64]*time.Timer),
	}
	e.delayFor = e.settingsDelay
	return e
}

// SetArchiver enables uploading every written backup to cfg.RemoteDir.
func (e *Engine) SetArchiver(a Archiver, cfg ArchiveConfig) {
	e.archiver = a
	e.archive = cfg
}

// SetEventSink attaches a sink for backup and device status events.
func (e *Engine) SetEventSink(sink engine.EventSink) {
	if sink == nil {
		sink = engine.NopSink{}
	}
	e.events = sink
}

// SetMetrics attaches a metrics collector.
func (e *Engine) SetMetrics(m *telemetry.Metrics) {
	e.metrics = m
}

// SetTracer attaches a tracer.
func (e *Engine) SetTracer(t *telemetry.Tracer) {
	if t == nil {
		t = telemetry.NewNoopTracer()
	}
	e.tracer = t
}

// HandleLease is a leases.Callback. A lease for an unknown MAC is ignored. A known
// device is moved to provisioning and its backup timer is (re)armed.
func (e *Engine) HandleLease(lease leases.Lease) {
	ctx := e.context()
	logger := e.logger.With().Str("mac", lease.MAC).Logger()

	device, err := e.store.GetDeviceByMAC(ctx, lease.MAC)
	if err != nil {
		if engine.IsNotFound(err) {
			logger.Debug().Msg("Lease for unregistered device, ignoring")
			return
		}
		logger.Error().Err(err).Msg("Failed to look up device for lease")
		e.metrics.RecordError(string(engine.ClassOf(err)))
		return
	}

	if err := e.store.UpdateDeviceStatus(ctx, device.ID, stores.DeviceStatusProvisioning, device.LastError); err != nil {
		logger.Error().Err(err).Int64("device_id", device.ID).Msg("Failed to mark device provisioning")
	} else if device.Status != stores.DeviceStatusProvisioning {
		e.publish(telemetry.NewDeviceStatusEvent("backup", device.ID, device.MAC, string(stores.DeviceStatusProvisioning)))
	}

	delay := e.delayFor(ctx)
	e.schedule(device.ID, delay)

	logger.Info().
		Int64("device_id", device.ID).
		Dur("delay", delay).
		Msg("Backup scheduled")
}

func (e *Engine) settingsDelay(ctx context.Context) time.Duration {
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Dur("delay", DefaultDelay).Msg("Settings unavailable, using default backup delay")
		return DefaultDelay
	}
	return settings.BackupDelay
}

// schedule arms, or re-arms, the device's timer.
func (e *Engine) schedule(deviceID int64, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.pending[deviceID]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		if e.pending[deviceID] == timer {
			delete(e.pending, deviceID)
		}
		e.metrics.SetPendingBackups(len(e.pending))
		e.mu.Unlock()

		if err := e.Enqueue(e.context(), deviceID); err != nil {
			e.logger.Warn().Err(err).Int64("device_id", deviceID).Msg("Failed to queue backup")
		}
	})
	e.pending[deviceID] = timer
	e.metrics.SetPendingBackups(len(e.pending))
}

// Pending returns the number of armed timers.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Enqueue queues a device for backup. It blocks while the queue is full and returns
// ctx.Err() if ctx ends first.
func (e *Engine) Enqueue(ctx context.Context, deviceID int64) error {
	select {
	case e.queue <- deviceID:
		e.metrics.SetBackupQueueDepth(len(e.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the worker.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel != nil {
		return errors.New("backup engine already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(runCtx, e.done)

	e.logger.Info().
		Str("dir", e.cfg.Dir).
		Int("max_attempts", e.cfg.MaxAttempts).
		Bool("archive", e.archiver != nil).
		Msg("Backup engine started")
	return nil
}

// Stop disarms pending timers and stops the worker after the backup in flight, if
// any, finishes.
func (e *Engine) Stop() {
	e.mu.Lock()
	for id, t := range e.pending {
		t.Stop()
		delete(e.pending, id)
	}
	e.metrics.SetPendingBackups(0)
	e.mu.Unlock()

	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.logger.Info().Msg("Backup engine stopped")
}

// context is the engine's run context, or Background before Start.
func (e *Engine) context() context.Context {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.runCtx == nil {
		return context.Background()
	}
	return e.runCtx
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case deviceID := <-e.queue:
			e.metrics.SetBackupQueueDepth(len(e.queue))
			e.process(context.WithoutCancel(ctx), deviceID)
		}
	}
}

func (e *Engine) publish(ev telemetry.Event) {
	if err := e.events.Publish(ev); err != nil {
		e.logger.Warn().Err(err).Str("event", ev.Type).Msg("Failed to publish event")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
