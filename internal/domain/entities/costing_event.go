package entities

import "time"

// CostingEventType represents the type of costing event
type CostingEventType string

const (
	CostingEventSnapshotCreated      CostingEventType = "snapshot.created"
	CostingEventSnapshotLocked       CostingEventType = "snapshot.locked"
	CostingEventSnapshotUnlocked     CostingEventType = "snapshot.unlocked"
	CostingEventSnapshotRecalculated CostingEventType = "snapshot.recalculated"
)

// CostingEvent is published after a snapshot changes state
type CostingEvent struct {
	ID         string                 `json:"id"`
	SnapshotID string                 `json:"snapshot_id"`
	Month      string                 `json:"month"`
	EventType  CostingEventType       `json:"event_type"`
	Timestamp  time.Time              `json:"timestamp"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// NewCostingEvent creates a new costing event for the snapshot
func NewCostingEvent(snapshot Snapshot, eventType CostingEventType, payload map[string]interface{}) *CostingEvent {
	return &CostingEvent{
		ID:         NewID(),
		SnapshotID: snapshot.ID,
		Month:      snapshot.Month,
		EventType:  eventType,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}
