package model

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is a user/device presence state
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "ONLINE"
	StatusAway    PresenceStatus = "AWAY"
	StatusBusy    PresenceStatus = "BUSY"
	StatusDND     PresenceStatus = "DND"
	StatusOffline PresenceStatus = "OFFLINE"
)

// Valid reports whether s is a known presence status
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusDND, StatusOffline:
		return true
	}
	return false
}

// Sticky reports whether the status was explicitly chosen by the user and
// must not be overwritten by the inactivity sweep
func (s PresenceStatus) Sticky() bool {
	return s == StatusBusy || s == StatusDND
}

// Session is one live realtime connection for a (user, device) pair.
// At most one Session exists per (UserID, DeviceID); a new connection for
// the same device replaces the prior entry.
type Session struct {
	UserID       uuid.UUID         `json:"user_id"`
	DeviceID     string            `json:"device_id"`
	SessionID    uuid.UUID         `json:"session_id"`
	ConnectionID uuid.UUID         `json:"connection_id"`
	Status       PresenceStatus    `json:"status"`
	CustomStatus string            `json:"custom_status,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastSeen     time.Time         `json:"last_seen"`
	ConnectedAt  time.Time         `json:"connected_at"`
}

// SessionUpdate carries partial session mutations for Registry.Touch.
// Nil fields are left unchanged.
type SessionUpdate struct {
	Status       *PresenceStatus
	CustomStatus *string
	Metadata     map[string]string
	LastSeen     *time.Time
}

// UserPresence is the durable last-known presence row, written when a
// user's last device disconnects so presence survives session expiry
type UserPresence struct {
	UserID     uuid.UUID      `json:"user_id" gorm:"type:uuid;primaryKey"`
	Status     PresenceStatus `json:"status" gorm:"size:16;not null;default:'OFFLINE'"`
	LastSeenAt time.Time      `json:"last_seen_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (UserPresence) TableName() string { return "user_presences" }
