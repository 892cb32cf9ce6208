// Package models provides data model definitions for Geomark Core.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// SyncState describes how a local landmark relates to the server copy.
type SyncState string

const (
	// SyncStateClean means the local record matches the last known server state.
	SyncStateClean SyncState = "clean"
	// SyncStateDirty means a local change has not yet been confirmed by the server.
	SyncStateDirty SyncState = "dirty"
	// SyncStateConflicted means a push for this record failed permanently and
	// needs manual resolution.
	SyncStateConflicted SyncState = "conflicted"
)

// Landmark represents a geographic point-of-interest record.
//
// LocalID is the stable identity of the row and never changes. ServerID is
// zero until the remote API assigns one (after a successful create).
type Landmark struct {
	LocalID   UUID      `db:"local_id" json:"local_id"`
	ServerID  int64     `db:"server_id" json:"server_id,omitempty"`
	Title     string    `db:"title" json:"title"`
	Latitude  float64   `db:"latitude" json:"latitude"`
	Longitude float64   `db:"longitude" json:"longitude"`
	ImageURL  string    `db:"image_url" json:"image_url,omitempty"`
	ImagePath string    `db:"image_path" json:"image_path,omitempty"`
	SyncState SyncState `db:"sync_state" json:"sync_state"`
	CreatedAt int64     `db:"created_at" json:"created_at"`
	UpdatedAt int64     `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Landmark.
func (Landmark) TableName() string {
	return "landmarks"
}

// HasServerID reports whether the server has assigned an id to this record.
func (l *Landmark) HasServerID() bool {
	return l.ServerID > 0
}

// Touch updates the UpdatedAt timestamp.
func (l *Landmark) Touch() {
	l.UpdatedAt = time.Now().Unix()
}

// Validate checks the landmark fields against the API constraints.
func (l *Landmark) Validate() error {
	if l.Title == "" {
		return fmt.Errorf("title must not be empty")
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", l.Longitude)
	}
	return nil
}

// CreatedAtTime returns CreatedAt as time.Time.
func (l *Landmark) CreatedAtTime() time.Time {
	return time.Unix(l.CreatedAt, 0)
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (l *Landmark) UpdatedAtTime() time.Time {
	return time.Unix(l.UpdatedAt, 0)
}
