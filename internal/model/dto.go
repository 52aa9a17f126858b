package model

import (
	"time"

	"github.com/google/uuid"
)

// ErrorResponse is the common REST error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ========== Presence DTOs ==========

type UpdateStatusRequest struct {
	Status       PresenceStatus `json:"status" binding:"required"`
	CustomStatus string         `json:"custom_status" binding:"max=128"`
}

type SubscribeRequest struct {
	UserIDs []uuid.UUID `json:"user_ids" binding:"required,min=1,max=200"`
}

type GetBatchStatusRequest struct {
	UserIDs []uuid.UUID `json:"user_ids" binding:"required,min=1,max=200"`
}

// UserPresenceInfo is a single user's presence as seen by subscribers
type UserPresenceInfo struct {
	UserID       uuid.UUID      `json:"user_id"`
	Status       PresenceStatus `json:"status"`
	CustomStatus string         `json:"custom_status,omitempty"`
	LastSeen     time.Time      `json:"last_seen"`
}

// StatusChangeEvent is the payload of presence:status_change pushes
type StatusChangeEvent struct {
	UserID       uuid.UUID      `json:"user_id"`
	Status       PresenceStatus `json:"status"`
	CustomStatus string         `json:"custom_status,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// BulkPresenceResponse is the reply to presence:get_batch_status; ids with
// no known presence are omitted
type BulkPresenceResponse struct {
	Presences []UserPresenceInfo `json:"presences"`
	Timestamp time.Time          `json:"timestamp"`
}

// ========== Notification DTOs ==========

type CreateNotificationRequest struct {
	UserID      uuid.UUID         `json:"user_id" binding:"required"`
	TenantID    *uuid.UUID        `json:"tenant_id"`
	Title       string            `json:"title" binding:"required,max=255"`
	Body        string            `json:"body" binding:"max=4000"`
	Category    string            `json:"category" binding:"required,max=64"`
	Priority    Priority          `json:"priority"`
	Channels    []Channel         `json:"channels"`
	Metadata    map[string]string `json:"metadata"`
	ScheduledAt *time.Time        `json:"scheduled_at"`
	ExpiresAt   *time.Time        `json:"expires_at"`
}

type MarkReadRequest struct {
	NotificationID uuid.UUID `json:"notification_id" binding:"required"`
}

type ListNotificationsRequest struct {
	Limit      int  `json:"limit" form:"limit"`
	Offset     int  `json:"offset" form:"offset"`
	UnreadOnly bool `json:"unread_only" form:"unread_only"`
}

type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
	Total         int64          `json:"total"`
	UnreadCount   int64          `json:"unread_count"`
}

type UpdatePreferenceRequest struct {
	EnabledChannels []Channel   `json:"enabled_channels"`
	MutedCategories []string    `json:"muted_categories"`
	QuietHours      *QuietHours `json:"quiet_hours"`
	Email           *string     `json:"email" binding:"omitempty,email"`
	PhoneNumber     *string     `json:"phone_number" binding:"omitempty,max=32"`
}

type RegisterPushTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform" binding:"required,oneof=android ios web"`
	DeviceID string `json:"device_id" binding:"max=128"`
}

// ========== Ops DTOs ==========

// QueueStats mirrors the asynq Inspector counters for one queue
type QueueStats struct {
	Queue     string  `json:"queue"`
	Waiting   int     `json:"waiting"`
	Active    int     `json:"active"`
	Scheduled int     `json:"scheduled"`
	Retry     int     `json:"retry"`
	Failed    int     `json:"failed"`
	Completed int     `json:"completed"`
	Processed int     `json:"processed"`
	Paused    bool    `json:"paused"`
	ErrorRate float64 `json:"error_rate"`
}

type RetryFailedRequest struct {
	Count int `json:"count" binding:"omitempty,min=1,max=1000"`
}
