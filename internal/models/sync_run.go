// Package models provides data model definitions for Geomark Core.
package models

import "time"

// SyncStatus represents the orchestrator state during a sync cycle.
// It is transient and re-derived on every cycle, never persisted.
type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncRun summarizes one sync cycle: what was pushed, what was pulled, and
// how the cycle ended.
type SyncRun struct {
	Status    SyncStatus    `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Pushed    int           `json:"pushed"`
	Pulled    int           `json:"pulled"`
	Conflicts int           `json:"conflicts"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}
