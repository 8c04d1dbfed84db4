package core

import "time"

// EventType identifies a lifecycle event emitted by the core.
type EventType string

const (
	EventResourceCreated         EventType = "resource.created"
	EventResourceCompleted       EventType = "resource.completed"
	EventResourceFailed          EventType = "resource.failed"
	EventResourceDeleted         EventType = "resource.deleted"
	EventResourceQualityComputed EventType = "resource.quality_computed"
)

// Event is the payload delivered to subscribers. Delivery is at-least-once;
// consumers must be idempotent.
type Event struct {
	Type          EventType `json:"type"`
	ResourceID    string    `json:"resource_id"`
	Timestamp     time.Time `json:"timestamp"`
	FieldsChanged []string  `json:"fields_changed,omitempty"`
}
