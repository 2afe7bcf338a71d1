package models

import (
	"encoding/json"
	"time"
)

// EntityType names a synchronised table
type EntityType string

const (
	EntityReport     EntityType = "report"
	EntityElement    EntityType = "element"
	EntityDefect     EntityType = "defect"
	EntityCompliance EntityType = "compliance"
	EntityPhoto      EntityType = "photo"
)

// Priority returns the upload order of an entity type. Parents go first so
// the server never sees a child before its report.
func (e EntityType) Priority() int {
	switch e {
	case EntityReport:
		return 1
	case EntityElement:
		return 2
	case EntityDefect:
		return 3
	case EntityCompliance:
		return 4
	case EntityPhoto:
		return 5
	}
	return 9
}

// IsValidEntityType checks if an entity type is known
func IsValidEntityType(e EntityType) bool {
	return e.Priority() != 9
}

// QueueAction is the mutation recorded in the outbox
type QueueAction string

const (
	ActionCreate QueueAction = "create"
	ActionUpdate QueueAction = "update"
	ActionDelete QueueAction = "delete"
)

// QueueStatus separates live items from ones past the retry ceiling
type QueueStatus string

const (
	QueueQueued QueueStatus = "queued"
	QueueFailed QueueStatus = "failed"
)

// QueueItem is one pending outbound change
type QueueItem struct {
	ID         int64           `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	Action     QueueAction     `json:"action"`
	EntityID   string          `json:"entity_id"`
	ReportID   string          `json:"report_id"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	Priority   int             `json:"priority"`
	Status     QueueStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ConflictInfo is a single divergent field between local and server copies
type ConflictInfo struct {
	EntityType  EntityType `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	Field       string     `json:"field"`
	LocalValue  any        `json:"local_value"`
	ServerValue any        `json:"server_value"`
}

// ConflictRecord is a stored snapshot of a detected divergence
type ConflictRecord struct {
	ReportID        string    `json:"report_id"`
	LocalData       string    `json:"local_data"`
	RemoteData      string    `json:"remote_data"`
	ServerUpdatedAt time.Time `json:"server_updated_at"`
	DetectedAt      time.Time `json:"detected_at"`
}

// SyncCounts summarises sync status across every entity table
type SyncCounts struct {
	Pending     int `json:"pending"`
	Synced      int `json:"synced"`
	Conflict    int `json:"conflict"`
	Error       int `json:"error"`
	Queued      int `json:"queued"`
	QueueFailed int `json:"queue_failed"`
}

// User is the authenticated inspector as reported by the server
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
