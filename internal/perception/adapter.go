package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/hopper/internal/dispatch"
	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/pkg/models"
)

// Dispatcher is the slice of the plan dispatcher the adapter needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, text, userID string) (*dispatch.Outcome, error)
}

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	Bus        *Bus
	Dispatcher Dispatcher
	Logger     *observability.Logger
}

// Adapter routes qualifying bus events into the plan dispatcher.
// Transcriptions always route; other events route only when they are
// marked as requiring an immediate response. Dispatches run on their own
// goroutines so bus handlers stay fast.
type Adapter struct {
	bus        *Bus
	dispatcher Dispatcher
	logger     *observability.Logger

	wg sync.WaitGroup
}

// NewAdapter creates an adapter and subscribes it to the bus.
func NewAdapter(opts AdapterOptions) (*Adapter, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("perception adapter requires a bus")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("perception adapter requires a dispatcher")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	a := &Adapter{
		bus:        opts.Bus,
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
	}
	a.bus.Subscribe("transcription", a.handleTranscription)
	a.bus.SubscribeAll(a.handleEvent)
	return a, nil
}

// Wait blocks until all in-flight dispatches finish.
func (a *Adapter) Wait() {
	a.wg.Wait()
}

func (a *Adapter) handleTranscription(ctx context.Context, event models.PerceptionEvent) {
	interaction := models.InteractionFromEvent(&event)
	text, _ := event.Data["text"].(string)
	if strings.TrimSpace(text) == "" {
		a.logger.Warn(ctx, "transcription event without text, skipping",
			"source", event.Source)
		return
	}
	a.route(ctx, text, interaction)
}

func (a *Adapter) handleEvent(ctx context.Context, event models.PerceptionEvent) {
	// Transcriptions are routed by the exact-type handler.
	if event.EventType == "transcription" {
		return
	}
	if !event.RequiresImmediateResponse {
		return
	}
	interaction := models.InteractionFromEvent(&event)
	a.route(ctx, describeEvent(&event), interaction)
}

func (a *Adapter) route(ctx context.Context, text string, interaction *models.Interaction) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		outcome, err := a.dispatcher.Dispatch(context.WithoutCancel(ctx), text, interaction.UserID)
		if err != nil {
			a.logger.Warn(ctx, "event dispatch failed",
				"interaction_type", interaction.Type, "user_id", interaction.UserID, "error", err)
			return
		}
		if outcome.Suspended() {
			a.logger.Info(ctx, "event dispatch awaiting confirmation",
				"interaction_type", interaction.Type, "confirmation_id", outcome.Confirmation.ID)
		}
	}()
}

// describeEvent renders a non-transcription event as planner input.
func describeEvent(event *models.PerceptionEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "System event %q from %q (priority %d) requires a response.",
		event.EventType, event.Source, event.Priority)
	if len(event.Data) > 0 {
		if payload, err := json.Marshal(event.Data); err == nil {
			fmt.Fprintf(&b, " Event data: %s", payload)
		}
	}
	return b.String()
}
