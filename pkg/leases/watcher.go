package leases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ztpkit/ztpkit/pkg/engine"
	"github.com/ztpkit/ztpkit/pkg/telemetry"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 5 * time.Second

// Callback is invoked once per new or renewed lease. Callbacks run synchronously on
// the polling goroutine in registration order, so a slow callback delays the callbacks
// after it and the next poll.
type Callback func(lease Lease)

// Config configures a Watcher.
type Config struct {
	// Path is the dnsmasq lease file.
	Path string

	// Interval is the polling period. Zero means DefaultInterval.
	Interval time.Duration

	// Watch adds an fsnotify watch on the lease file's directory so that writes
	// trigger an immediate extra poll. The ticker keeps running either way.
	Watch bool
}

// Watcher polls a lease source and reports leases that are unseen or whose expiry
// moved forward.
type Watcher struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  engine.EventSink

	// known maps MAC to the last reported expiry. The lock is never held across a
	// callback.
	mu    sync.RWMutex
	known map[string]int64

	cbMu      sync.RWMutex
	callbacks []Callback

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher for the given lease file.
func NewWatcher(cfg Config, logger zerolog.Logger) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Watcher{
		cfg:    cfg,
		logger: logger.With().Str("component", "lease-watcher").Logger(),
		events: engine.NopSink{},
		known:  make(map[string]int64),
	}
}

// SetMetrics attaches a metrics collector.
func (w *Watcher) SetMetrics(m *telemetry.Metrics) {
	w.metrics = m
}

// SetEventSink attaches a sink for lease.observed events.
func (w *Watcher) SetEventSink(sink engine.EventSink) {
	if sink == nil {
		sink = engine.NopSink{}
	}
	w.events = sink
}

// AddCallback registers a subscriber.
func (w *Watcher) AddCallback(fn Callback) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// ClearKnownState forgets every reported lease, so the next poll reports all of them
// again.
func (w *Watcher) ClearKnownState() {
	w.mu.Lock()
	w.known = make(map[string]int64)
	w.mu.Unlock()

	w.logger.Info().Msg("Known lease state cleared")
}

// Read parses the lease source without touching the known state.
func (w *Watcher) Read() ([]Lease, error) {
	f, err := os.Open(w.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lease file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Poll runs one detection cycle and returns the leases that were reported. A lease
// source that cannot be read counts as zero leases.
func (w *Watcher) Poll(ctx context.Context) []Lease {
	leases, err := w.Read()
	w.metrics.RecordLeasePoll(err)
	if err != nil {
		ev := w.logger.Warn()
		if errors.Is(err, os.ErrNotExist) {
			ev = w.logger.Debug()
		}
		ev.Err(err).Str("path", w.cfg.Path).Msg("Lease source unavailable")
		return nil
	}

	var reported []Lease
	for _, lease := range leases {
		if ctx.Err() != nil {
			break
		}
		if !w.observe(lease) {
			continue
		}

		reported = append(reported, lease)
		w.metrics.RecordLeaseSighting()
		w.logger.Debug().
			Str("mac", lease.MAC).
			Str("ip", lease.IP).
			Int64("expiry", lease.ExpiryTime).
			Msg("Lease observed")

		_ = w.events.Publish(telemetry.NewLeaseEvent(lease.MAC, lease.IP, lease.Hostname, lease.ExpiryTime))
		w.notify(lease)
	}

	return reported
}

// observe records the lease and reports whether it is new or renewed.
func (w *Watcher) observe(lease Lease) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if prev, ok := w.known[lease.MAC]; ok && lease.ExpiryTime <= prev {
		return false
	}
	w.known[lease.MAC] = lease.ExpiryTime
	return true
}

func (w *Watcher) notify(lease Lease) {
	w.cbMu.RLock()
	callbacks := make([]Callback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.cbMu.RUnlock()

	for _, fn := range callbacks {
		w.invoke(fn, lease.Clone())
	}
}

func (w *Watcher) invoke(fn Callback, lease Lease) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Interface("panic", r).
				Str("mac", lease.MAC).
				Msg("Lease callback panicked")
		}
	}()
	fn(lease)
}

// Start begins the background polling loop. It polls once immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if w.cancel != nil {
		return fmt.Errorf("lease watcher already running")
	}

	var fsw *fsnotify.Watcher
	if w.cfg.Watch {
		var err error
		fsw, err = w.newFileWatch()
		if err != nil {
			w.logger.Warn().Err(err).Msg("File watch unavailable, polling only")
			fsw = nil
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(runCtx, fsw, w.done)

	w.logger.Info().
		Str("path", w.cfg.Path).
		Dur("interval", w.cfg.Interval).
		Bool("watch", fsw != nil).
		Msg("Lease watcher started")

	return nil
}

// newFileWatch watches the lease file's directory. dnsmasq may replace the file, so
// the file itself is not watched.
func (w *Watcher) newFileWatch() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.cfg.Path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.cfg.Path), err)
	}
	return fsw, nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if fsw != nil {
		defer fsw.Close()
		fsEvents = fsw.Events
		fsErrors = fsw.Errors
	}

	target := filepath.Clean(w.cfg.Path)

	w.Poll(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.Poll(ctx)

		case event, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if filepath.Clean(event.Name) == target && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.Poll(ctx)
			}

		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// Stop cancels the polling loop and waits for it to exit. An in-flight poll, callbacks
// included, finishes first.
func (w *Watcher) Stop() {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done

	w.cancel = nil
	w.done = nil
	w.logger.Info().Msg("Lease watcher stopped")
}
