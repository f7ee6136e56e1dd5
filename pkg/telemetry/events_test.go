package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    16,
		FlushInterval: time.Hour,
		MaxBatchSize:  100,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	}, nil)

	for _, typ := range []string{EventTypeJobStarted, EventTypeJobCompleted, EventTypeBackupFailed} {
		if err := ep.Publish(Event{Type: typ}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != EventTypeJobStarted || got[2] != EventTypeBackupFailed {
		t.Errorf("expected all three events in order, got %v", got)
	}

	if err := ep.Publish(Event{Type: EventTypeJobFailed}); err == nil {
		t.Error("expected publish after shutdown to fail")
	}
}

func TestEventPublisherFlushInterval(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    16,
		FlushInterval: 10 * time.Millisecond,
		MaxBatchSize:  100,
		EnableAsync:   true,
	})
	defer ep.Shutdown(context.Background())

	delivered := make(chan Event, 1)
	ep.Subscribe(func(ev Event) { delivered <- ev }, nil)

	_ = ep.Publish(Event{Type: EventTypeLeaseObserved})

	select {
	case ev := <-delivered:
		if ev.ID == "" || ev.Timestamp.IsZero() {
			t.Errorf("expected id and timestamp to be filled, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("partial batch was not flushed by the interval")
	}
}

func TestEventPublisherDisabled(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: false})

	called := false
	ep.Subscribe(func(Event) { called = true }, nil)

	if err := ep.Publish(Event{Type: EventTypeJobStarted}); err != nil {
		t.Fatalf("expected disabled publish to succeed, got %v", err)
	}
	if called {
		t.Error("disabled publisher delivered an event")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("expected disabled shutdown to succeed, got %v", err)
	}
}

func TestEventFilters(t *testing.T) {
	failed := NewJobEvent(EventTypeJobFailed, "j1", "deploy", 3, "boom")
	started := NewJobEvent(EventTypeJobStarted, "j1", "deploy", 3, "")

	if !FilterByLevel(EventLevelWarning)(failed) {
		t.Error("error event should pass a warning filter")
	}
	if FilterByLevel(EventLevelWarning)(started) {
		t.Error("info event should not pass a warning filter")
	}
	if !FilterByType(EventTypeJobStarted)(started) || FilterByType(EventTypeJobStarted)(failed) {
		t.Error("type filter mismatch")
	}
	if !FilterByDevice(3)(failed) || FilterByDevice(4)(failed) {
		t.Error("device filter mismatch")
	}
	if failed.Data["reason"] != "boom" {
		t.Errorf("expected failure reason in data, got %v", failed.Data)
	}
}

func TestNewBackupEvent(t *testing.T) {
	ok := NewBackupEvent(1, "aa:bb", "sw_1.cfg", 2, nil)
	if ok.Type != EventTypeBackupSucceeded || ok.Data["filename"] != "sw_1.cfg" {
		t.Errorf("unexpected success event: %+v", ok)
	}

	bad := NewBackupEvent(1, "aa:bb", "", 3, errors.New("refused"))
	if bad.Type != EventTypeBackupFailed || bad.Level != EventLevelError || bad.Data["attempts"] != 3 {
		t.Errorf("unexpected failure event: %+v", bad)
	}
}

type fakeNATS struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeNATS) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSBridgeForward(t *testing.T) {
	pub := &fakeNATS{}
	bridge := newNATSBridge(pub, "ztp.", zerolog.Nop())

	ep, _ := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1})
	bridge.Attach(ep)

	if err := ep.Publish(NewBackupEvent(9, "aa:bb:cc:dd:ee:ff", "x.cfg", 1, nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(pub.subjects) != 1 || pub.subjects[0] != "ztp.backup.succeeded" {
		t.Fatalf("unexpected subjects: %v", pub.subjects)
	}

	var decoded Event
	if err := json.Unmarshal(pub.payloads[0], &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.DeviceID != 9 || decoded.MAC != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("unexpected payload: %+v", decoded)
	}

	// A failing server must not break publishing
	pub.err = errors.New("no responders")
	if err := ep.Publish(NewJobEvent(EventTypeJobStarted, "j", "command", 1, "")); err != nil {
		t.Errorf("publish should not surface bridge errors, got %v", err)
	}

	if got := newNATSBridge(pub, "", zerolog.Nop()).Subject("job.failed"); got != "job.failed" {
		t.Errorf("expected bare subject without prefix, got %s", got)
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test", ListenAddress: ":0"})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordJob("deploy", "completed", time.Second)
	m.RecordJob("deploy", "completed", time.Second)
	m.RecordJob("command", "failed", time.Second)
	m.RecordBackup("success", 2)
	m.SetJobQueueDepth(4)
	m.RecordLeasePoll(errors.New("missing"))

	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues("deploy", "completed")); got != 2 {
		t.Errorf("expected 2 completed deploys, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobQueueDepth); got != 4 {
		t.Errorf("expected queue depth 4, got %v", got)
	}
	if got := testutil.ToFloat64(m.leasePolls.WithLabelValues("error")); got != 1 {
		t.Errorf("expected one failed poll, got %v", got)
	}

	disabled, _ := NewMetrics(MetricsConfig{Enabled: false})
	disabled.RecordJob("deploy", "completed", time.Second)
	if err := disabled.StartMetricsServer(context.Background(), zerolog.Nop()); err != nil {
		t.Errorf("disabled metrics server should be a no-op, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"development", func(c *Config) { *c = *DevelopmentConfig() }, false},
		{"missing service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"nats without url", func(c *Config) { c.Events.NATS.Enabled = true; c.Events.NATS.URL = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
