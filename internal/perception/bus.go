// Package perception implements the event bus that carries inputs from
// monitors, connectors, and sensors to the rest of the system.
//
// The bus is a bounded queue drained by a single consumer goroutine, so
// handlers for the same event never run concurrently with each other.
// Publish never blocks; when the queue is full the event is dropped and
// the caller is told.
package perception

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/pkg/models"
)

// Handler processes a single perception event. Handlers run on the bus
// consumer goroutine and should return quickly; long work belongs in a
// separate goroutine.
type Handler func(ctx context.Context, event models.PerceptionEvent)

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Published  uint64 `json:"published"`
	Dropped    uint64 `json:"dropped"`
	Processed  uint64 `json:"processed"`
	QueueDepth int    `json:"queue_depth"`
	QueueSize  int    `json:"queue_size"`
	Running    bool   `json:"running"`
}

// Options configures a Bus.
type Options struct {
	// QueueSize bounds the pending event queue. Defaults to 1000.
	QueueSize int

	// HistorySize bounds the retained event history. Defaults to 100.
	HistorySize int

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Bus is the bounded perception event bus.
type Bus struct {
	queue chan models.PerceptionEvent

	mu          sync.RWMutex
	byType      map[string][]Handler
	wildcard    []Handler
	history     []models.PerceptionEvent
	historySize int
	historyNext int
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewBus creates a stopped bus. Call Start to begin draining the queue.
func NewBus(opts Options) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 100
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	return &Bus{
		queue:       make(chan models.PerceptionEvent, opts.QueueSize),
		byType:      make(map[string][]Handler),
		history:     make([]models.PerceptionEvent, 0, opts.HistorySize),
		historySize: opts.HistorySize,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Subscribe registers a handler for events of an exact type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[eventType] = append(b.byType[eventType], h)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, h)
}

// Publish enqueues an event without blocking. It returns false if the
// event was invalid or the queue was full, in which case the event is
// dropped.
func (b *Bus) Publish(event models.PerceptionEvent) bool {
	if err := event.Validate(); err != nil {
		b.logger.Warn(context.Background(), "rejected invalid perception event",
			"source", event.Source, "event_type", event.EventType, "error", err)
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.queue <- event:
		b.published.Add(1)
		if b.metrics != nil {
			b.metrics.RecordBusPublish(event.Source, event.EventType)
			b.metrics.SetBusQueueDepth(len(b.queue))
		}
		return true
	default:
		b.dropped.Add(1)
		if b.metrics != nil {
			b.metrics.RecordBusDrop(event.Source)
		}
		b.logger.Warn(context.Background(), "perception queue full, event dropped",
			"source", event.Source, "event_type", event.EventType)
		return false
	}
}

// Start launches the consumer goroutine. Starting a running bus is a no-op.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	go b.consume(ctx, b.done)
	b.logger.Info(ctx, "perception bus started", "queue_size", cap(b.queue))
}

// Stop halts the consumer goroutine and waits for it to exit. Events left
// in the queue are not processed.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	cancel()
	<-done
	b.logger.Info(context.Background(), "perception bus stopped")
}

func (b *Bus) consume(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.queue:
			b.dispatch(ctx, event)
			b.processed.Add(1)
			if b.metrics != nil {
				b.metrics.SetBusQueueDepth(len(b.queue))
			}
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, event models.PerceptionEvent) {
	b.recordHistory(event)

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byType[event.EventType])+len(b.wildcard))
	handlers = append(handlers, b.byType[event.EventType]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ctx, h, event)
	}
}

// invoke runs a handler, isolating panics so one bad handler cannot take
// down the consumer loop.
func (b *Bus) invoke(ctx context.Context, h Handler, event models.PerceptionEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error(ctx, "perception handler panicked",
				"event_type", event.EventType, "source", event.Source, "panic", rec)
			if b.metrics != nil {
				b.metrics.RecordError("bus", "handler_panic")
			}
		}
	}()
	h(ctx, event)
}

func (b *Bus) recordHistory(event models.PerceptionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history) < b.historySize {
		b.history = append(b.history, event)
		return
	}
	// Overwrite oldest entry
	b.history[b.historyNext] = event
	b.historyNext = (b.historyNext + 1) % b.historySize
}

// History returns up to n most recent processed events, oldest first.
// n <= 0 returns the full retained history.
func (b *Bus) History(n int) []models.PerceptionEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ordered := make([]models.PerceptionEvent, 0, len(b.history))
	if len(b.history) < b.historySize {
		ordered = append(ordered, b.history...)
	} else {
		ordered = append(ordered, b.history[b.historyNext:]...)
		ordered = append(ordered, b.history[:b.historyNext]...)
	}

	if n > 0 && n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	return Stats{
		Published:  b.published.Load(),
		Dropped:    b.dropped.Load(),
		Processed:  b.processed.Load(),
		QueueDepth: len(b.queue),
		QueueSize:  cap(b.queue),
		Running:    running,
	}
}
