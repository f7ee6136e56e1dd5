package leases

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ztpkit/ztpkit/pkg/telemetry"
)

func writeLeases(t *testing.T, path string, lines ...string) {
	t.Helper()
	var data []byte
	for _, l := range lines {
		data = append(data, l...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write lease file: %v", err)
	}
}

type recorder struct {
	mu     sync.Mutex
	leases []Lease
}

func (r *recorder) callback(l Lease) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leases = append(r.leases, l)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leases)
}

func TestWatcherDedup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.leases")
	writeLeases(t, path, "1700000000 aa:bb:cc:dd:ee:ff 10.0.0.5 sw1")

	w := NewWatcher(Config{Path: path}, zerolog.Nop())
	rec := &recorder{}
	w.AddCallback(rec.callback)

	ctx := context.Background()
	w.Poll(ctx)
	w.Poll(ctx)

	if rec.count() != 1 {
		t.Fatalf("expected one callback for an unchanged lease, got %d", rec.count())
	}

	writeLeases(t, path, "1700000600 aa:bb:cc:dd:ee:ff 10.0.0.5 sw1")
	w.Poll(ctx)
	if rec.count() != 2 {
		t.Fatalf("expected a second callback after renewal, got %d", rec.count())
	}

	// An older expiry is not a renewal
	writeLeases(t, path, "1700000300 aa:bb:cc:dd:ee:ff 10.0.0.5 sw1")
	w.Poll(ctx)
	if rec.count() != 2 {
		t.Errorf("expected no callback for a smaller expiry, got %d", rec.count())
	}
}

func TestWatcherMissingSource(t *testing.T) {
	w := NewWatcher(Config{Path: filepath.Join(t.TempDir(), "absent")}, zerolog.Nop())
	rec := &recorder{}
	w.AddCallback(rec.callback)

	if got := w.Poll(context.Background()); len(got) != 0 {
		t.Errorf("expected zero leases, got %d", len(got))
	}
	if rec.count() != 0 {
		t.Errorf("expected no callbacks, got %d", rec.count())
	}
}

func TestWatcherClearKnownState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.leases")
	writeLeases(t, path,
		"1700000000 aa:bb:cc:dd:ee:01 10.0.0.5 sw1",
		"1700000000 aa:bb:cc:dd:ee:02 10.0.0.6 sw2",
	)

	w := NewWatcher(Config{Path: path}, zerolog.Nop())
	rec := &recorder{}
	w.AddCallback(rec.callback)

	ctx := context.Background()
	w.Poll(ctx)
	w.ClearKnownState()
	w.Poll(ctx)

	if rec.count() != 4 {
		t.Errorf("expected every lease to be reported again after clearing, got %d", rec.count())
	}
}

func TestWatcherCallbackOrderAndIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.leases")
	writeLeases(t, path, "1700000000 aa:bb:cc:dd:ee:01 10.0.0.5 sw1 01:aa")

	w := NewWatcher(Config{Path: path}, zerolog.Nop())

	var order []string
	w.AddCallback(func(l Lease) {
		order = append(order, "first")
		*l.ClientID = "mutated"
		l.Hostname = "mutated"
	})
	w.AddCallback(func(Lease) {
		order = append(order, "panics")
		panic("subscriber bug")
	})
	w.AddCallback(func(l Lease) {
		order = append(order, "third")
		if l.Hostname != "sw1" || *l.ClientID != "01:aa" {
			t.Errorf("callback observed another callback's mutation: %+v", l)
		}
	})

	reported := w.Poll(context.Background())
	if len(reported) != 1 {
		t.Fatalf("expected one reported lease, got %d", len(reported))
	}
	if len(order) != 3 || order[0] != "first" || order[2] != "third" {
		t.Errorf("unexpected callback order: %v", order)
	}
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *sinkRecorder) Publish(ev telemetry.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func TestWatcherStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.leases")
	writeLeases(t, path, "1700000000 aa:bb:cc:dd:ee:01 10.0.0.5 sw1")

	w := NewWatcher(Config{Path: path, Interval: 10 * time.Millisecond, Watch: true}, zerolog.Nop())
	sink := &sinkRecorder{}
	w.SetEventSink(sink)
	rec := &recorder{}
	w.AddCallback(rec.callback)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("expected second start to fail")
	}

	writeLeases(t, path,
		"1700000000 aa:bb:cc:dd:ee:01 10.0.0.5 sw1",
		"1700000000 aa:bb:cc:dd:ee:02 10.0.0.6 sw2",
	)

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	w.Stop()
	w.Stop()

	if rec.count() != 2 {
		t.Fatalf("expected both leases reported once, got %d", rec.count())
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 || sink.events[0].Type != telemetry.EventTypeLeaseObserved {
		t.Errorf("expected two lease events, got %+v", sink.events)
	}
}
