// Package models provides data model definitions for Geomark Core.
package models

import "encoding/json"

// ActionType identifies the kind of mutation a pending action replays.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// ActionStatus represents the lifecycle state of a queued action.
type ActionStatus string

const (
	// ActionStatusPending means the action is waiting to be replayed.
	ActionStatusPending ActionStatus = "pending"
	// ActionStatusInProgress means a drain is currently replaying the action.
	ActionStatusInProgress ActionStatus = "in_progress"
	// ActionStatusConflicted means the action failed validation or exhausted
	// its retries and is excluded from automatic drains.
	ActionStatusConflicted ActionStatus = "conflicted"
)

// PendingAction is one queued mutation recorded while the remote API was
// unreachable (or optimistically while online), replayed by the next drain.
type PendingAction struct {
	ID             UUID            `db:"id" json:"id"`
	Type           ActionType      `db:"action_type" json:"type"`
	TargetLocalID  UUID            `db:"target_local_id" json:"target_local_id"`
	TargetServerID int64           `db:"target_server_id" json:"target_server_id,omitempty"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt     int64           `db:"enqueued_at" json:"enqueued_at"`
	AttemptCount   int             `db:"attempt_count" json:"attempt_count"`
	MaxAttempts    int             `db:"max_attempts" json:"max_attempts"`
	LastError      string          `db:"last_error" json:"last_error,omitempty"`
	Status         ActionStatus    `db:"status" json:"status"`
}

// TableName returns the table name for PendingAction.
func (PendingAction) TableName() string {
	return "pending_actions"
}

// ActionPayload is the field snapshot carried by create and update actions.
type ActionPayload struct {
	Title     string  `json:"title"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	ImagePath string  `json:"image_path,omitempty"`
}

// EncodePayload marshals an ActionPayload for queue storage.
func EncodePayload(p *ActionPayload) (json.RawMessage, error) {
	return json.Marshal(p)
}

// DecodePayload unmarshals a queue payload back into an ActionPayload.
func DecodePayload(raw json.RawMessage) (*ActionPayload, error) {
	var p ActionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
