// Package jobs runs queued device jobs one at a time and persists each one's
// queued -> running -> completed|failed transitions.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ztpkit/ztpkit/pkg/engine"
	"github.com/ztpkit/ztpkit/pkg/policy"
	"github.com/ztpkit/ztpkit/pkg/render"
	"github.com/ztpkit/ztpkit/pkg/resolver"
	"github.com/ztpkit/ztpkit/pkg/stores"
	"github.com/ztpkit/ztpkit/pkg/telemetry"
)

// DefaultQueueSize is the work queue capacity used when none is configured.
const DefaultQueueSize = 100

// Store is the persistence the job engine needs.
type Store interface {
	resolver.Catalog

	GetVendor(ctx context.Context, id string) (*stores.Vendor, error)
	GetTemplate(ctx context.Context, id string) (*stores.Template, error)
	GetCredential(ctx context.Context, id int64) (*stores.Credential, error)
	GetSettings(ctx context.Context) (*stores.Settings, error)
	UpdateDeviceStatus(ctx context.Context, id int64, status stores.DeviceStatus, lastError *string) error

	CreateJob(ctx context.Context, job *stores.Job) error
	GetJob(ctx context.Context, id string) (*stores.Job, error)
	MarkJobRunning(ctx context.Context, id string, startedAt time.Time) error
	CompleteJob(ctx context.Context, id string, output string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	ListJobsByStatus(ctx context.Context, statuses ...stores.JobStatus) ([]*stores.Job, error)
}

// Guard checks a rendered configuration before it is deployed.
type Guard interface {
	EvaluateConfig(ctx context.Context, device *stores.Device, config string) (*policy.Result, error)
}

// Config configures an Engine.
type Config struct {
	// QueueSize is the work queue capacity. Zero means DefaultQueueSize.
	QueueSize int

	// SSHPort is the port dialed on devices. Zero means the transport default.
	SSHPort int
}

// JobRequest describes a job to create.
type JobRequest struct {
	Kind         stores.JobKind `validate:"required,oneof=command deploy"`
	DeviceID     int64          `validate:"required,gt=0"`
	Command      string         `validate:"required_if=Kind command"`
	CredentialID *int64
	TriggeredBy  string
}

// Engine is the single-worker job pipeline.
type Engine struct {
	cfg      Config
	store    Store
	runner   engine.CommandRunner
	resolver *resolver.Resolver
	renderer *render.Renderer
	guard    Guard
	events   engine.EventSink
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	validate *validator.Validate
	logger   zerolog.Logger

	queue chan string
	now   func() time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a job engine. Call Start to recover stuck jobs and begin
// processing.
func NewEngine(cfg Config, store Store, runner engine.CommandRunner, logger zerolog.Logger) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		runner:   runner,
		resolver: resolver.New(store),
		renderer: render.New(),
		events:   engine.NopSink{},
		tracer:   telemetry.NewNoopTracer(),
		validate: validator.New(),
		logger:   logger.With().Str("component", "job-engine").Logger(),
		queue:    make(chan string, cfg.QueueSize),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetGuard attaches the pre-deploy policy guard. A nil guard disables the check.
func (e *Engine) SetGuard(g Guard) {
	e.guard = g
}

// SetEventSink attaches a sink for job and policy events.
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

// CreateJob persists a queued job. It does not submit it.
func (e *Engine) CreateJob(ctx context.Context, req JobRequest) (*stores.Job, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, engine.NewValidationError("invalid job request", err)
	}

	job := &stores.Job{
		ID:           uuid.New().String(),
		Kind:         req.Kind,
		DeviceID:     req.DeviceID,
		Command:      req.Command,
		CredentialID: req.CredentialID,
		TriggeredBy:  req.TriggeredBy,
		CreatedAt:    e.now(),
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Int64("device_id", job.DeviceID).
		Msg("Job created")

	return job, nil
}

// Submit enqueues a queued job. It blocks while the queue is full and returns
// ctx.Err() if ctx ends first.
func (e *Engine) Submit(ctx context.Context, jobID string) error {
	select {
	case e.queue <- jobID:
		e.metrics.SetJobQueueDepth(len(e.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover resubmits every job left queued or running by a previous process. It
// returns how many jobs were resubmitted.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	stuck, err := e.store.ListJobsByStatus(ctx, stores.JobStatusQueued, stores.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck jobs: %w", err)
	}

	for i, job := range stuck {
		if err := e.Submit(ctx, job.ID); err != nil {
			return i, err
		}
	}

	if len(stuck) > 0 {
		e.logger.Info().Int("count", len(stuck)).Msg("Recovered stuck jobs")
	}
	return len(stuck), nil
}

// Run executes one job on the calling goroutine, outside the queue, and returns
// its final row. A job that already finished is returned unchanged.
func (e *Engine) Run(ctx context.Context, jobID string) (*stores.Job, error) {
	e.process(ctx, jobID)
	return e.store.GetJob(ctx, jobID)
}

// Start starts the worker and then recovers stuck jobs. The worker runs before
// recovery so that more stuck jobs than the queue holds do not block Start.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	if e.cancel != nil {
		e.runMu.Unlock()
		return errors.New("job engine already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(runCtx, e.done)
	e.runMu.Unlock()

	if _, err := e.Recover(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Job recovery failed")
		return err
	}

	e.logger.Info().Int("queue_size", e.cfg.QueueSize).Msg("Job engine started")
	return nil
}

// Stop stops the worker after the job in flight, if any, finishes. Jobs still in the
// queue stay queued in the store and are recovered on the next Start.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.logger.Info().Msg("Job engine stopped")
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-e.queue:
			e.metrics.SetJobQueueDepth(len(e.queue))
			// a dequeued job runs to completion even if the engine is stopping
			e.process(context.WithoutCancel(ctx), jobID)
		}
	}
}

// process runs one job and persists its outcome. Nothing escapes it.
func (e *Engine) process(ctx context.Context, jobID string) {
	logger := e.logger.With().Str("job_id", jobID).Logger()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		if engine.IsNotFound(err) {
			logger.Debug().Msg("Job no longer exists, skipping")
			return
		}
		logger.Error().Err(err).Msg("Failed to load job")
		e.metrics.RecordError(string(engine.ClassOf(err)))
		return
	}
	if job.Status.IsTerminal() {
		logger.Debug().Str("status", string(job.Status)).Msg("Job already finished, skipping")
		return
	}

	startedAt := e.now()
	if err := e.store.MarkJobRunning(ctx, job.ID, startedAt); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job running")
		e.metrics.RecordError(string(engine.ClassOf(err)))
		return
	}

	ctx, span := e.tracer.StartJobSpan(ctx, job.ID, string(job.Kind), job.DeviceID)
	defer span.End()

	e.publish(telemetry.NewJobEvent(telemetry.EventTypeJobStarted, job.ID, string(job.Kind), job.DeviceID, ""))
	logger.Info().Str("kind", string(job.Kind)).Int64("device_id", job.DeviceID).Msg("Job started")

	output, err := e.execute(ctx, job)
	duration := time.Since(startedAt)

	if err != nil {
		telemetry.RecordError(span, err)
		e.metrics.RecordError(string(engine.ClassOf(err)))
		e.metrics.RecordJob(string(job.Kind), string(stores.JobStatusFailed), duration)

		if ferr := e.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to persist job failure")
		}
		e.publish(telemetry.NewJobEvent(telemetry.EventTypeJobFailed, job.ID, string(job.Kind), job.DeviceID, err.Error()))
		logger.Warn().Err(err).Dur("duration", duration).Msg("Job failed")
		return
	}

	telemetry.RecordSuccess(span)
	e.metrics.RecordJob(string(job.Kind), string(stores.JobStatusCompleted), duration)

	if cerr := e.store.CompleteJob(ctx, job.ID, output); cerr != nil {
		logger.Error().Err(cerr).Msg("Failed to persist job completion")
		return
	}
	e.publish(telemetry.NewJobEvent(telemetry.EventTypeJobCompleted, job.ID, string(job.Kind), job.DeviceID, ""))
	logger.Info().Dur("duration", duration).Msg("Job completed")
}

// execute dispatches on the job's action. A panic becomes an error.
func (e *Engine) execute(ctx context.Context, job *stores.Job) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	action, err := DecodeAction(job)
	if err != nil {
		return "", err
	}

	switch a := action.(type) {
	case CommandAction:
		return e.runCommand(ctx, job, a)
	case DeployAction:
		return e.runDeploy(ctx, job)
	default:
		return "", engine.NewValidationError(fmt.Sprintf("unhandled job kind %q", a.Kind()), nil).
			WithCode(engine.ErrCodeUnknownKind)
	}
}

func (e *Engine) runCommand(ctx context.Context, job *stores.Job, action CommandAction) (string, error) {
	device, err := e.store.GetDevice(ctx, job.DeviceID)
	if err != nil {
		return "", err
	}
	vendor, err := e.vendorOf(ctx, device)
	if err != nil {
		return "", err
	}

	target, err := e.target(ctx, job, device, vendor)
	if err != nil {
		return "", err
	}

	return e.runner.RunCommand(ctx, target, action.Command)
}

func (e *Engine) publish(ev telemetry.Event) {
	if err := e.events.Publish(ev); err != nil {
		e.logger.Warn().Err(err).Str("event", ev.Type).Msg("Failed to publish event")
	}
}
