package models

import (
	"fmt"
	"strings"
	"time"
)

// PerceptionEvent is a normalized unit of asynchronous input from any
// producer (monitor, connector, sensor). Producers create events; once
// published the bus owns them and subscribers must treat them as read-only.
type PerceptionEvent struct {
	// Source is the free-form producer id (e.g. "stt", "fs_watcher",
	// "system_monitor").
	Source string `json:"source"`

	// EventType names what happened (e.g. "transcription", "new_email",
	// "cpu_high").
	EventType string `json:"event_type"`

	// Data is an opaque payload; no schema is imposed beyond this shape.
	Data map[string]any `json:"data,omitempty"`

	// Priority ranks the event from 0 (lowest) to 10 (highest).
	Priority int `json:"priority"`

	Timestamp time.Time `json:"timestamp"`

	// RequiresImmediateResponse marks events that should be routed into the
	// planning pipeline without waiting for a user prompt.
	RequiresImmediateResponse bool `json:"requires_immediate_response,omitempty"`

	// TargetUser identifies the user the event concerns, if any.
	TargetUser string `json:"target_user,omitempty"`
}

// Validate checks the event shape.
func (e *PerceptionEvent) Validate() error {
	if strings.TrimSpace(e.Source) == "" {
		return fmt.Errorf("event source is empty")
	}
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("event type is empty")
	}
	if e.Priority < 0 || e.Priority > 10 {
		return fmt.Errorf("event priority %d outside [0,10]", e.Priority)
	}
	return nil
}

// InteractionType classifies where an interaction entered the system.
type InteractionType string

const (
	InteractionVoice     InteractionType = "voice"
	InteractionText      InteractionType = "text"
	InteractionEvent     InteractionType = "event"
	InteractionSensor    InteractionType = "sensor"
	InteractionConnector InteractionType = "connector"
	InteractionSystem    InteractionType = "system"
)

// Interaction is the normalized envelope fed into the dispatcher. Both
// direct user commands and qualifying perception events are converted to
// this shape so the same planning pipeline serves both entry points.
type Interaction struct {
	Type      InteractionType `json:"type"`
	Payload   map[string]any  `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// InteractionFromEvent normalizes a perception event into an interaction
// for the planning pipeline. The interaction type is derived from the
// event's source and type.
func InteractionFromEvent(event *PerceptionEvent) *Interaction {
	var kind InteractionType
	switch {
	case event.Source == "stt" || event.EventType == "transcription":
		kind = InteractionVoice
	case strings.HasSuffix(event.Source, "_connector"):
		kind = InteractionConnector
	case strings.HasPrefix(event.Source, "sensor_"):
		kind = InteractionSensor
	case strings.HasPrefix(event.EventType, "system_"):
		kind = InteractionSystem
	default:
		kind = InteractionEvent
	}

	user := event.TargetUser
	if user == "" {
		user = "default"
	}

	return &Interaction{
		Type:      kind,
		Payload:   event.Data,
		Timestamp: event.Timestamp,
		UserID:    user,
		Metadata: map[string]any{
			"source":                      event.Source,
			"event_type":                  event.EventType,
			"priority":                    event.Priority,
			"requires_immediate_response": event.RequiresImmediateResponse,
		},
	}
}
