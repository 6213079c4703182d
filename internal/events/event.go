// Package events carries run progress from the pipeline to interested
// subscribers such as the run status tracker.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the type of run event
type Type string

const (
	TypeRunStateChanged  Type = "run.state_changed"
	TypeRecordBuilt      Type = "record.built"
	TypeRecordBuildFail  Type = "record.build_failed"
	TypeRecordDispatched Type = "record.dispatched"
	TypeRunFinished      Type = "run.finished"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRunStateChanged,
		TypeRecordBuilt,
		TypeRecordBuildFail,
		TypeRecordDispatched,
		TypeRunFinished:
		return true
	default:
		return false
	}
}

// Event is something that happened during a run
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	RunID     string                 `json:"run_id"`
	USN       string                 `json:"usn,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an event with a generated ID and the current time
func NewEvent(eventType Type, runID, usn string, payload map[string]interface{}) *Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		RunID:     runID,
		USN:       usn,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int value from the payload
func (e *Event) GetPayloadInt(key string) int {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
