package models

import "time"

// EventType classifies a dashboard event.
type EventType string

const (
	// EventOpportunityFound is emitted when a strategy scan yields a candidate trade.
	EventOpportunityFound EventType = "OPPORTUNITY_FOUND"
	// EventOrderSubmitted is emitted when an order has been handed to the broker.
	EventOrderSubmitted EventType = "ORDER_SUBMITTED"
	// EventPositionOpened is emitted after a confirmed fill is recorded in the ledger.
	EventPositionOpened EventType = "POSITION_OPENED"
	// EventPositionClosed is emitted when a position reaches its terminal state.
	EventPositionClosed EventType = "POSITION_CLOSED"
	// EventExitTriggered is emitted when an exit predicate fires for an open position.
	EventExitTriggered EventType = "EXIT_TRIGGERED"
	// EventError is emitted for rejected or failed operations.
	EventError EventType = "ERROR"
)

// Event is a structured dashboard event, one per lifecycle transition.
type Event struct {
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(t EventType, payload map[string]any) Event {
	return Event{Type: t, Payload: payload, Timestamp: time.Now().UTC()}
}

// Publisher receives structured events for the live dashboard. Implementations
// must not block the caller.
type Publisher interface {
	Publish(Event)
}

// NopPublisher drops every event. Useful default when no dashboard is wired.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(Event) {}
