package audit

import "time"

// EventType identifies what happened at one step of the command flow.
type EventType string

const (
	EventClassification     EventType = "classification"
	EventTierDecision       EventType = "tier_decision"
	EventValidationDecision EventType = "validation_decision"
	EventConfirmation       EventType = "confirmation"
	EventCancellation       EventType = "cancellation"
	EventExecStart          EventType = "exec_start"
	EventExecResult         EventType = "exec_result"
	EventQueueEnqueue       EventType = "queue_enqueue"
	EventQueueSync          EventType = "queue_sync"
	EventRegistryLoad       EventType = "registry_load"
)

// Event is one audit record. Records are written as JSON lines in
// chronological order.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Command   string         `json:"command,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Config controls the audit trail.
type Config struct {
	// Enabled gates all writes; a disabled trail swallows events.
	Enabled bool
	// Output is "stderr", "stdout", or "file:<path>".
	Output string
	// BufferSize is the async event buffer length.
	BufferSize int
	// FlushInterval forces a periodic flush of buffered events.
	FlushInterval time.Duration
}
