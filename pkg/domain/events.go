package domain

import "time"

// EventType defines the category of the event.
type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventPhaseUpdated     EventType = "phase_updated"
	EventSessionCompleted EventType = "session_completed"
	EventSessionFailed    EventType = "session_failed"
	EventSessionCancelled EventType = "session_cancelled"
	EventSessionMigrated  EventType = "session_migrated"
	EventSessionCleaned   EventType = "session_cleaned"
	EventLockConflict     EventType = "lock_conflict"
)

// Event is a fire-and-forget notification about a session lifecycle change.
type Event struct {
	Type       EventType      `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	StrategyID string         `json:"strategy_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	NodeID     string         `json:"node_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewEvent builds an event stamped at now.
func NewEvent(t EventType, sessionID, strategyID, nodeID string, now time.Time, payload map[string]any) Event {
	return Event{
		Type:       t,
		SessionID:  sessionID,
		StrategyID: strategyID,
		Timestamp:  now,
		NodeID:     nodeID,
		Payload:    payload,
	}
}
