package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notification emitted by the lease watcher or one of the engines.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type, e.g. job.completed.
	Type string `json:"type"`

	// Source identifies the emitting component.
	Source string `json:"source"`

	// JobID is the associated job, if any.
	JobID string `json:"job_id,omitempty"`

	// DeviceID is the associated device, if any.
	DeviceID int64 `json:"device_id,omitempty"`

	// MAC is the associated device MAC address, if any.
	MAC string `json:"mac,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeLeaseObserved       = "lease.observed"
	EventTypeJobStarted          = "job.started"
	EventTypeJobCompleted        = "job.completed"
	EventTypeJobFailed           = "job.failed"
	EventTypeBackupSucceeded     = "backup.succeeded"
	EventTypeBackupFailed        = "backup.failed"
	EventTypeDeviceStatusChanged = "device.status_changed"
	EventTypePolicyViolation     = "policy.violation"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, asynchronously when configured.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers. In async mode a full buffer drops the
// event and returns an error.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event %s dropped", event.Type)
		}
	}

	ep.deliverEvent(event)
	return nil
}

// NewJobEvent builds a job lifecycle event. reason is only set for failures.
func NewJobEvent(eventType, jobID, kind string, deviceID int64, reason string) Event {
	ev := Event{
		Type:     eventType,
		Source:   "jobs",
		JobID:    jobID,
		DeviceID: deviceID,
		Level:    EventLevelInfo,
		Data:     map[string]interface{}{"kind": kind},
	}

	switch eventType {
	case EventTypeJobStarted:
		ev.Message = fmt.Sprintf("Job %s started", jobID)
	case EventTypeJobCompleted:
		ev.Message = fmt.Sprintf("Job %s completed", jobID)
	case EventTypeJobFailed:
		ev.Message = fmt.Sprintf("Job %s failed: %s", jobID, reason)
		ev.Level = EventLevelError
		ev.Data["reason"] = reason
	}
	return ev
}

// NewBackupEvent builds a backup outcome event.
func NewBackupEvent(deviceID int64, mac, filename string, attempts int, err error) Event {
	ev := Event{
		Type:     EventTypeBackupSucceeded,
		Source:   "backup",
		DeviceID: deviceID,
		MAC:      mac,
		Level:    EventLevelInfo,
		Message:  fmt.Sprintf("Backup of %s written to %s", mac, filename),
		Data: map[string]interface{}{
			"attempts": attempts,
			"filename": filename,
		},
	}
	if err != nil {
		ev.Type = EventTypeBackupFailed
		ev.Level = EventLevelError
		ev.Message = fmt.Sprintf("Backup of %s failed after %d attempts: %v", mac, attempts, err)
		ev.Data = map[string]interface{}{
			"attempts": attempts,
			"reason":   err.Error(),
		}
	}
	return ev
}

// NewLeaseEvent builds a lease sighting event.
func NewLeaseEvent(mac, ip, hostname string, expiry int64) Event {
	return Event{
		Type:    EventTypeLeaseObserved,
		Source:  "leases",
		MAC:     mac,
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("Lease %s -> %s observed", mac, ip),
		Data: map[string]interface{}{
			"ip":          ip,
			"hostname":    hostname,
			"expiry_time": expiry,
		},
	}
}

// NewDeviceStatusEvent builds a device status transition event.
func NewDeviceStatusEvent(source string, deviceID int64, mac, status string) Event {
	return Event{
		Type:     EventTypeDeviceStatusChanged,
		Source:   source,
		DeviceID: deviceID,
		MAC:      mac,
		Level:    EventLevelInfo,
		Message:  fmt.Sprintf("Device %s is now %s", mac, status),
		Data:     map[string]interface{}{"status": status},
	}
}

// NewPolicyViolationEvent builds an event for a rendered configuration that failed the
// pre-deploy guard. messages are "policy: message" strings.
func NewPolicyViolationEvent(jobID string, deviceID int64, blocking bool, messages []string) Event {
	level := EventLevelWarning
	if blocking {
		level = EventLevelError
	}
	return Event{
		Type:     EventTypePolicyViolation,
		Source:   "jobs",
		JobID:    jobID,
		DeviceID: deviceID,
		Level:    level,
		Message:  fmt.Sprintf("Rendered config for device %d has %d policy violations", deviceID, len(messages)),
		Data: map[string]interface{}{
			"blocking":   blocking,
			"violations": messages,
		},
	}
}

// Subscribe adds a new event subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents batches buffered events and delivers a batch when it is full or when
// the flush interval elapses.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-ep.ctx.Done():
			// Drain what is left before shutting down
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverEvent hands an event to every matching subscriber. Subscribers run
// synchronously in registration order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	entries := make([]subscriberEntry, len(ep.subscribers))
	copy(entries, ep.subscribers)
	ep.mu.RUnlock()

	for _, entry := range entries {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops accepting events and waits for buffered ones to be delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a given level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByDevice creates a filter that only allows events for one device.
func FilterByDevice(deviceID int64) EventFilter {
	return func(event Event) bool {
		return event.DeviceID == deviceID
	}
}
