package perception

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/hopper/internal/dispatch"
	"github.com/haasonsaas/hopper/pkg/models"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

type dispatchCall struct {
	text   string
	userID string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, text, userID string) (*dispatch.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{text: text, userID: userID})
	return &dispatch.Outcome{}, nil
}

func (d *recordingDispatcher) snapshot() []dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatchCall(nil), d.calls...)
}

func (d *recordingDispatcher) waitForCalls(t *testing.T, n int) []dispatchCall {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		calls := d.snapshot()
		if len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d dispatches, have %d", n, len(d.snapshot()))
	return nil
}

func newAdapterFixture(t *testing.T) (*Bus, *recordingDispatcher, *Adapter) {
	t.Helper()
	bus := NewBus(Options{QueueSize: 16})
	disp := &recordingDispatcher{}
	adapter, err := NewAdapter(AdapterOptions{Bus: bus, Dispatcher: disp})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	bus.Start(context.Background())
	t.Cleanup(func() {
		bus.Stop()
		adapter.Wait()
	})
	return bus, disp, adapter
}

func TestAdapterRoutesTranscriptions(t *testing.T) {
	bus, disp, _ := newAdapterFixture(t)

	ok := bus.Publish(models.PerceptionEvent{
		Source:     "stt",
		EventType:  "transcription",
		Data:       map[string]any{"text": "what's on my calendar"},
		Priority:   5,
		TargetUser: "jonathan",
	})
	if !ok {
		t.Fatal("publish failed")
	}

	calls := disp.waitForCalls(t, 1)
	if calls[0].text != "what's on my calendar" {
		t.Fatalf("dispatched text = %q", calls[0].text)
	}
	if calls[0].userID != "jonathan" {
		t.Fatalf("dispatched user = %q", calls[0].userID)
	}
}

func TestAdapterRoutesImmediateEvents(t *testing.T) {
	bus, disp, _ := newAdapterFixture(t)

	bus.Publish(models.PerceptionEvent{
		Source:                    "system_monitor",
		EventType:                 "disk_full",
		Data:                      map[string]any{"percent": 97.2},
		Priority:                  8,
		RequiresImmediateResponse: true,
	})

	calls := disp.waitForCalls(t, 1)
	if !strings.Contains(calls[0].text, "disk_full") {
		t.Fatalf("dispatched text missing event type: %q", calls[0].text)
	}
	if calls[0].userID != "default" {
		t.Fatalf("dispatched user = %q", calls[0].userID)
	}
}

func TestAdapterIgnoresRoutineEvents(t *testing.T) {
	bus, disp, adapter := newAdapterFixture(t)

	bus.Publish(models.PerceptionEvent{
		Source:    "fs_watcher",
		EventType: "file_modified",
		Priority:  3,
	})
	bus.Publish(models.PerceptionEvent{
		Source:    "stt",
		EventType: "transcription",
		Data:      map[string]any{"text": "hello"},
		Priority:  5,
	})

	disp.waitForCalls(t, 1)
	adapter.Wait()
	if got := len(disp.snapshot()); got != 1 {
		t.Fatalf("expected 1 dispatch, got %d", got)
	}
}

func TestAdapterSkipsEmptyTranscriptions(t *testing.T) {
	bus, disp, adapter := newAdapterFixture(t)

	bus.Publish(models.PerceptionEvent{
		Source:    "stt",
		EventType: "transcription",
		Data:      map[string]any{"text": "   "},
		Priority:  5,
	})
	bus.Publish(models.PerceptionEvent{
		Source:    "stt",
		EventType: "transcription",
		Data:      map[string]any{"text": "real input"},
		Priority:  5,
	})

	disp.waitForCalls(t, 1)
	adapter.Wait()
	calls := disp.snapshot()
	if len(calls) != 1 || calls[0].text != "real input" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestAdapterRequiresBusAndDispatcher(t *testing.T) {
	if _, err := NewAdapter(AdapterOptions{Dispatcher: &recordingDispatcher{}}); err == nil {
		t.Fatal("expected error without bus")
	}
	if _, err := NewAdapter(AdapterOptions{Bus: NewBus(Options{})}); err == nil {
		t.Fatal("expected error without dispatcher")
	}
}
