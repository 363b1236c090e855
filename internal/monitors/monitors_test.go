package monitors

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/hopper/internal/perception"
	"github.com/haasonsaas/hopper/pkg/models"
)

// collector subscribes to every bus event and records them.
type collector struct {
	mu     sync.Mutex
	events []models.PerceptionEvent
}

func (c *collector) handle(ctx context.Context, event models.PerceptionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collector) snapshot() []models.PerceptionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.PerceptionEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collector) waitFor(t *testing.T, want int) []models.PerceptionEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", want, len(c.snapshot()))
	return nil
}

func newBusWithCollector(t *testing.T) (*perception.Bus, *collector) {
	t.Helper()
	bus := perception.NewBus(perception.Options{QueueSize: 64, HistorySize: 16})
	col := &collector{}
	bus.SubscribeAll(col.handle)
	bus.Start(context.Background())
	t.Cleanup(bus.Stop)
	return bus, col
}

// fakeSampler returns queued samples in order, repeating the last one.
type fakeSampler struct {
	mu      sync.Mutex
	samples []Sample
}

func (f *fakeSampler) Sample(ctx context.Context) (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.samples[0]
	if len(f.samples) > 1 {
		f.samples = f.samples[1:]
	}
	return s, nil
}

func TestSystemMonitorAlertsOnceUntilCleared(t *testing.T) {
	bus, col := newBusWithCollector(t)
	sampler := &fakeSampler{samples: []Sample{
		{CPUPercent: 95, MemoryPercent: 10, DiskPercent: 10},
		{CPUPercent: 96, MemoryPercent: 10, DiskPercent: 10},
		{CPUPercent: 20, MemoryPercent: 10, DiskPercent: 10},
		{CPUPercent: 95, MemoryPercent: 10, DiskPercent: 10},
	}}
	m := NewSystemMonitor(bus, SystemMonitorOptions{
		CPUThreshold:    90,
		MemoryThreshold: 90,
		DiskThreshold:   90,
		Sampler:         sampler,
	})

	ctx := context.Background()
	m.Check(ctx) // crosses: one alert
	m.Check(ctx) // still crossed: silent
	m.Check(ctx) // recovered: cleared
	m.Check(ctx) // crosses again: re-armed alert

	events := col.waitFor(t, 3)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].EventType != "cpu_high" || events[1].EventType != "cpu_high_cleared" || events[2].EventType != "cpu_high" {
		t.Errorf("unexpected sequence: %s, %s, %s",
			events[0].EventType, events[1].EventType, events[2].EventType)
	}
	if events[0].Source != "system_monitor" {
		t.Errorf("unexpected source %q", events[0].Source)
	}
}

func TestSystemMonitorSevereDiskAlert(t *testing.T) {
	bus, col := newBusWithCollector(t)
	m := NewSystemMonitor(bus, SystemMonitorOptions{
		DiskThreshold: 90,
		Sampler:       &fakeSampler{samples: []Sample{{DiskPercent: 97}}},
	})

	m.Check(context.Background())

	events := col.waitFor(t, 1)
	ev := events[0]
	if ev.EventType != "disk_full" {
		t.Fatalf("unexpected event type %q", ev.EventType)
	}
	if ev.Priority != 8 {
		t.Errorf("severe disk alert priority: got %d, want 8", ev.Priority)
	}
	if !ev.RequiresImmediateResponse {
		t.Error("priority 8 alert must require immediate response")
	}
	if ev.Data["disk_percent"] != 97.0 {
		t.Errorf("unexpected data: %v", ev.Data)
	}
}

func TestSystemMonitorModerateAlertPriority(t *testing.T) {
	bus, col := newBusWithCollector(t)
	m := NewSystemMonitor(bus, SystemMonitorOptions{
		MemoryThreshold: 80,
		Sampler:         &fakeSampler{samples: []Sample{{MemoryPercent: 85}}},
	})

	m.Check(context.Background())

	events := col.waitFor(t, 1)
	if events[0].Priority != 5 {
		t.Errorf("moderate alert priority: got %d, want 5", events[0].Priority)
	}
	if events[0].RequiresImmediateResponse {
		t.Error("moderate alert must not require immediate response")
	}
}

func TestSystemMonitorRejectsBadSchedule(t *testing.T) {
	bus, _ := newBusWithCollector(t)
	m := NewSystemMonitor(bus, SystemMonitorOptions{
		Schedule: "not a schedule",
		Sampler:  &fakeSampler{samples: []Sample{{}}},
	})

	if err := m.Start(context.Background()); err == nil {
		m.Stop()
		t.Fatal("expected error for invalid schedule")
	}
}

func TestWatcherPublishesFileEvents(t *testing.T) {
	bus, col := newBusWithCollector(t)
	dir := t.TempDir()

	w := NewWatcher(bus, WatcherOptions{Paths: []string{dir}})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(w.Stop)

	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	events := col.waitFor(t, 1)
	ev := events[0]
	if ev.Source != "fs_watcher" {
		t.Errorf("unexpected source %q", ev.Source)
	}
	if ev.EventType != "file_created" && ev.EventType != "file_modified" {
		t.Errorf("unexpected event type %q", ev.EventType)
	}
	if ev.Data["path"] != path {
		t.Errorf("unexpected path %v", ev.Data["path"])
	}
}

func TestWatcherRequiresWatchablePath(t *testing.T) {
	bus, _ := newBusWithCollector(t)

	w := NewWatcher(bus, WatcherOptions{Paths: []string{"/does/not/exist"}})
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error when no path can be watched")
	}
}

func TestClassifyOp(t *testing.T) {
	cases := []struct {
		op   fsnotify.Op
		want string
	}{
		{fsnotify.Create, "file_created"},
		{fsnotify.Write, "file_modified"},
		{fsnotify.Remove, "file_deleted"},
		{fsnotify.Rename, "file_renamed"},
		{fsnotify.Chmod, ""},
	}
	for _, tc := range cases {
		if got := classifyOp(tc.op); got != tc.want {
			t.Errorf("classifyOp(%v): got %q, want %q", tc.op, got, tc.want)
		}
	}
}
