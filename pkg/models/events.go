package models

import (
	"time"
)

// Well-known event type strings.
const (
	// Integration
	EventIntegrationInput  = "integration.input"
	EventIntegrationOutput = "integration.output"

	// Scheduler
	EventScheduleFired = "schedule.fired"

	// AI engine
	EventContextAssembled = "context.assembled"
	EventMemoCreated      = "memo.created"
	EventSignalProposed   = "signal.proposed"

	// Risk engine
	EventSignalApproved = "signal.approved"
	EventSignalRejected = "signal.rejected"

	// Delivery
	EventSignalDelivered = "signal.delivered"

	// Position lifecycle
	EventPositionConfirmed = "position.confirmed"
	EventPositionSkipped   = "position.skipped"
	EventPositionUpdated   = "position.updated"

	// Tasks
	EventTaskCreated = "task.created"

	// Learning
	EventMemoryCreated = "memory.created"

	// Alerts
	EventAlertTriggered = "alert.triggered"

	// Simulation
	EventSimulationStarted   = "simulation.started"
	EventSimulationCompleted = "simulation.completed"
)

// Event is the universal message format for inter-component communication.
// Every event is appended to the day's audit log at publish and never mutated.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	Source        string         `json:"source"`
	Payload       map[string]any `json:"payload"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewEvent creates an event with a fresh id and correlation id.
func NewEvent(eventType, source string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:            NewID("evt"),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		CorrelationID: NewCorrelationID(),
		Source:        source,
		Payload:       payload,
	}
}

// Derive creates a new event in the same correlation chain.
func (e Event) Derive(eventType, source string, payload map[string]any) Event {
	ev := NewEvent(eventType, source, payload)
	ev.CorrelationID = e.CorrelationID
	return ev
}

// PayloadString returns a string payload field, or "" if absent.
func (e Event) PayloadString(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
